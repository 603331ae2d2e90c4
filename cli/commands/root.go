// Package commands implements the qctl command tree.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/perclft/sshqpe/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // YAML file; empty uses the defaults
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "qctl",
		Short: "qctl - SSH chain spectroscopy by quantum phase estimation",
		Long: `Estimate the spectrum of an open SSH chain by simulating quantum phase
estimation, and compare it with exact diagonalization.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "YAML config file")

	cmd.AddCommand(NewEstimateCommand(opts))
	cmd.AddCommand(NewSpectrumCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewQASMCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// load reads the config file and installs the process logger. --verbose
// lowers the log level to debug.
func (o *RootOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return cfg, nil, WrapExitError(ExitCommandError, "load config", err)
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return cfg, nil, WrapExitError(ExitCommandError, "build logger", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}
