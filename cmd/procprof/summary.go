package main

import (
	"github.com/spf13/cobra"

	"github.com/danpilch/procprof/pkg/report"
)

func newSummaryCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "summary DIR",
		Short: "Summarize a recorded session per process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			session, err := report.Read(args[0])
			if err != nil {
				return err
			}
			return report.Render(cmd.OutOrStdout(), report.Summarize(session), report.Format(format))
		},
	}
	cmd.Flags().StringVar(&format, "format", string(report.FormatTable), "output format (table, json, tsv)")
	return cmd
}
