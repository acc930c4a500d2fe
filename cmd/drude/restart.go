package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/notargets/DrudeKernel/sim"
	"github.com/notargets/DrudeKernel/thole"
)

// CoeffRow is one set type pair of a restart file
type CoeffRow struct {
	I      int     `yaml:"i"`
	J      int     `yaml:"j"`
	Polar  float64 `yaml:"polar"`
	Thole  float64 `yaml:"thole"`
	Cutoff float64 `yaml:"cutoff"`
}

// RestartSummary is the decoded content of a restart file
type RestartSummary struct {
	Damping float64    `yaml:"damping"`
	Cutoff  float64    `yaml:"cutoff"`
	Offset  bool       `yaml:"offset"`
	Mix     string     `yaml:"mix"`
	Pairs   []CoeffRow `yaml:"pairs"`
}

func newRestartCommand(opts *RootOptions) *cobra.Command {
	var ntypes int
	cmd := &cobra.Command{
		Use:   "restart FILE",
		Short: "Print the pair coefficients stored in a restart file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			p, err := sim.ReadRestart(cmd.Context(), f, ntypes, opts.logger)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			sum := summarize(p)
			if opts.Format == "yaml" {
				return writeYAML(cmd.OutOrStdout(), sum)
			}
			printSummary(cmd.OutOrStdout(), sum)
			return nil
		},
	}
	cmd.Flags().IntVarP(&ntypes, "ntypes", "n", 0, "number of atom types the file was written with")
	_ = cmd.MarkFlagRequired("ntypes")
	return cmd
}

func summarize(p *thole.Pair) RestartSummary {
	sum := RestartSummary{
		Damping: p.TholeGlobal,
		Cutoff:  p.CutGlobal,
		Offset:  p.OffsetFlag != 0,
		Mix:     p.MixFlag.String(),
	}
	for i := 1; i <= p.NTypes; i++ {
		for j := i; j <= p.NTypes; j++ {
			if !p.IsSet(i, j) {
				continue
			}
			polar, th, cut := p.Coefficients(i, j)
			sum.Pairs = append(sum.Pairs, CoeffRow{I: i, J: j, Polar: polar, Thole: th, Cutoff: cut})
		}
	}
	return sum
}

func printSummary(w io.Writer, s RestartSummary) {
	fmt.Fprintf(w, "thole %g cutoff %g mix %s offset %t\n", s.Damping, s.Cutoff, s.Mix, s.Offset)
	for _, r := range s.Pairs {
		fmt.Fprintf(w, "%3d %3d %12g %12g %12g\n", r.I, r.J, r.Polar, r.Thole, r.Cutoff)
	}
}
