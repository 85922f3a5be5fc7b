package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/danpilch/procprof/pkg/export"
)

const (
	exportFxprof = "fxprof"
	exportFolded = "folded"
)

func newExportCmd(logger *logrus.Logger) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export DIR OUTPUT",
		Short: "Export a recorded session for the Firefox Profiler or flame graph tools",
		Example: "  procprof export data profile.json.gz\n" +
			"  procprof export data stacks.folded --format folded",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			dir, out := args[0], args[1]

			switch format {
			case exportFxprof:
				return export.ExportTimeline(dir, out, logger)
			case exportFolded:
				return exportFoldedFile(dir, out, logger)
			default:
				return fmt.Errorf("unknown export format %q", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", exportFxprof, "output format (fxprof, folded)")
	return cmd
}

func exportFoldedFile(dir, out string, logger *logrus.Logger) (err error) {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("cannot create output file %s: %w", out, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	if err := export.ExportFolded(dir, w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	logger.Infof("Wrote folded stacks to %s", out)
	return nil
}
