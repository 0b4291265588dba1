package main

import (
	"github.com/spf13/cobra"

	"github.com/copyleftdev/multistart/internal/config"
	"github.com/copyleftdev/multistart/internal/logging"
)

// app carries what every subcommand shares.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	logLevel string
	logFmt   string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "multistart",
		Short: "Multi-start constrained optimization experiments",
		Long: `multistart solves a two-variable constrained problem from many random
starting points with a randomized local search or an SQP engine and reports
where every run ended.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg

			level := cfg.Logging.Level
			if cmd.Flags().Changed("log-level") {
				level = a.logLevel
			}
			format := cfg.Logging.Format
			if cmd.Flags().Changed("log-format") {
				format = a.logFmt
			}
			a.logger, err = logging.NewLogger(&logging.Config{
				Level:  level,
				Format: format,
				Output: cfg.Logging.Output,
			})
			return err
		},
	}

	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level, overrides LOG_LEVEL")
	root.PersistentFlags().StringVar(&a.logFmt, "log-format", "", "Log format (json, text), overrides LOG_FORMAT")

	root.AddCommand(newRunCmd(a), newProblemsCmd(a))
	return root
}
