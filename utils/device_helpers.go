package utils

import (
	"errors"
	"fmt"

	"github.com/notargets/gocca"
	"go.uber.org/zap"
)

// DefaultBackends are tried in order by CreateDevice
var DefaultBackends = []string{
	`{"mode": "OpenMP"}`,
	`{"mode": "CUDA", "device_id": 0}`,
	`{"mode": "Serial"}`,
}

// CreateDevice returns the first OCCA device that can be created from
// backends, or DefaultBackends when none are given
func CreateDevice(logger *zap.Logger, backends ...string) (*gocca.OCCADevice, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(backends) == 0 {
		backends = DefaultBackends
	}
	var errs []error
	for _, props := range backends {
		device, err := gocca.NewDevice(props)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", props, err))
			continue
		}
		logger.Info("created device", zap.String("mode", device.Mode()))
		return device, nil
	}
	return nil, fmt.Errorf("no OCCA device available: %w", errors.Join(errs...))
}
