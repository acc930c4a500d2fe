package thole

import (
	"fmt"
	"unsafe"

	"github.com/notargets/gocca"
)

const tholeKernelSource = `
@kernel void tholePairs(const int n,
                        const double *rsq,
                        const double *a,
                        const double *c,
                        const double *fc,
                        double *fpair,
                        double *ecoul) {
	for (int b = 0; b < n; b += 64; @outer) {
		for (int k = b; k < b + 64; ++k; @inner) {
			if (k < n) {
				const double r = sqrt(rsq[k]);
				const double ar = a[k]*r;
				const double ex = exp(-ar);
				const double rinv = 1.0/r;
				const double ff = 1.0 - ex*(1.0 + ar*(1.0 + 0.5*ar)) - fc[k];
				const double fe = 1.0 - ex*(1.0 + 0.5*ar) - fc[k];
				fpair[k] = ff*c[k]*rinv/rsq[k];
				ecoul[k] = fe*c[k]*rinv;
			}
		}
	}
}`

// Accelerator evaluates the damped pair terms of Compute on an OCCA device
type Accelerator struct {
	device *gocca.OCCADevice
	kernel *gocca.OCCAKernel
}

// NewAccelerator compiles the pair kernel for device. The caller keeps
// ownership of device.
func NewAccelerator(device *gocca.OCCADevice) (*Accelerator, error) {
	kernel, err := device.BuildKernelFromString(tholeKernelSource, "tholePairs", nil)
	if err != nil {
		return nil, fmt.Errorf("thole: build kernel on %s: %w", device.Mode(), err)
	}
	return &Accelerator{device: device, kernel: kernel}, nil
}

// Mode names the device backend
func (acc *Accelerator) Mode() string {
	return acc.device.Mode()
}

// Free releases the kernel
func (acc *Accelerator) Free() {
	if acc.kernel != nil {
		acc.kernel.Free()
		acc.kernel = nil
	}
}

// Evaluate fills b.fpair and b.ecoul
func (acc *Accelerator) Evaluate(b *batch) error {
	n := len(b.rsq)
	b.fpair = make([]float64, n)
	b.ecoul = make([]float64, n)
	if n == 0 {
		return nil
	}
	if acc.kernel == nil {
		return fmt.Errorf("accelerator already freed")
	}
	bytes := int64(n * 8)
	upload := func(data []float64) *gocca.OCCAMemory {
		return acc.device.Malloc(bytes, unsafe.Pointer(&data[0]), nil)
	}
	rsq, a, c, fc := upload(b.rsq), upload(b.a), upload(b.c), upload(b.fc)
	fpair := acc.device.Malloc(bytes, nil, nil)
	ecoul := acc.device.Malloc(bytes, nil, nil)
	defer func() {
		for _, m := range []*gocca.OCCAMemory{rsq, a, c, fc, fpair, ecoul} {
			m.Free()
		}
	}()

	if err := acc.kernel.RunWithArgs(int32(n), rsq, a, c, fc, fpair, ecoul); err != nil {
		return err
	}
	acc.device.Finish()
	fpair.CopyTo(unsafe.Pointer(&b.fpair[0]), bytes)
	ecoul.CopyTo(unsafe.Pointer(&b.ecoul[0]), bytes)
	return nil
}
