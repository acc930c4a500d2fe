package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/notargets/DrudeKernel/config"
	"github.com/notargets/DrudeKernel/sim"
)

func newRunCommand(opts *RootOptions) *cobra.Command {
	var deckPath, restartOut string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the dimer lattice described by an input deck",
		RunE: func(cmd *cobra.Command, args []string) error {
			deck, err := config.ReadDeck(deckPath)
			if err != nil {
				return err
			}
			if restartOut == "" {
				restartOut = deck.Run.Restart
			}
			report, err := sim.Run(cmd.Context(), deck, opts.logger, restartOut)
			if err != nil {
				return err
			}
			if opts.Format == "yaml" {
				return writeYAML(cmd.OutOrStdout(), report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVarP(&deckPath, "deck", "d", "", "input deck")
	cmd.Flags().StringVar(&restartOut, "restart-out", "", "write pair coefficients here (overrides [run] restart)")
	_ = cmd.MarkFlagRequired("deck")
	return cmd
}

func printReport(w io.Writer, r *sim.Report) {
	fmt.Fprintf(w, "run %s: %d atoms, %d dimers on %d %s ranks\n",
		r.RunID, r.Atoms, r.Dimers, r.Ranks, r.Transport)
	fmt.Fprintf(w, "slab imbalance %.3f, ring hops %.0f\n", r.Imbalance, r.RingHops)
	fmt.Fprintf(w, "%6s %18s %18s %14s %8s %8s\n", "step", "energy", "pressure-virial", "temp_drude", "ghosts", "pairs")
	for _, s := range r.Steps {
		trace := s.Virial[0] + s.Virial[1] + s.Virial[2]
		fmt.Fprintf(w, "%6d %18.10g %18.10g %14.6g %8d %8d\n",
			s.Step, s.Energy, trace, s.TempDrude, s.Ghosts, s.Pairs)
	}
}
