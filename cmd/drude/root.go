package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// RootOptions holds the global flags
type RootOptions struct {
	LogLevel string
	Verbose  bool
	Format   string

	logger *zap.Logger
}

// NewRootCommand builds the drude command tree
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	cmd := &cobra.Command{
		Use:   "drude",
		Short: "Polarizable core/Drude dimer simulations with Thole screening",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.initLogger()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "shorthand for --log-level=debug")
	pf.StringVarP(&opts.Format, "output", "o", "text", "output format (text, yaml)")

	cmd.AddCommand(newRunCommand(opts), newRestartCommand(opts))
	return cmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

func (o *RootOptions) initLogger() error {
	switch o.Format {
	case "text", "yaml":
	default:
		return fmt.Errorf("unknown output format %q, want text or yaml", o.Format)
	}
	level, err := zapcore.ParseLevel(o.LogLevel)
	if err != nil {
		return err
	}
	if o.Verbose {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	o.logger, err = cfg.Build()
	return err
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
