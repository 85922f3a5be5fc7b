// Command procprof samples the call stacks and resource usage of a Python
// process tree and exports the recording for the Firefox Profiler.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/danpilch/procprof/pkg/config"
)

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger()

	if err := newRootCmd(cfg, logger).Execute(); err != nil {
		logger.WithError(err).Error("An error occurred")
		os.Exit(1)
	}
}

func newRootCmd(cfg config.Config, logger *logrus.Logger) *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "procprof",
		Short:         "Monitor stacks and resource usage of Python processes",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("log-level") {
				return nil
			}
			lvl, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logger.SetLevel(lvl)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", cfg.LogLevel.String(), "log level (debug, info, warn, error)")

	root.AddCommand(
		newProfileCmd(cfg, logger),
		newExportCmd(logger),
		newSummaryCmd(),
	)
	return root
}
