package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/danpilch/procprof/pkg/config"
	"github.com/danpilch/procprof/pkg/debug"
	"github.com/danpilch/procprof/pkg/report"
	"github.com/danpilch/procprof/pkg/resources"
	"github.com/danpilch/procprof/pkg/spy"
	"github.com/danpilch/procprof/pkg/tracker"
)

type profileFlags struct {
	pid          int
	outputDir    string
	sampleRateMs int
	native       bool
	force        bool
	pprofAddr    string
	timing       bool
}

func newProfileCmd(cfg config.Config, logger *logrus.Logger) *cobra.Command {
	var f profileFlags

	cmd := &cobra.Command{
		Use:   "profile (--pid PID | -- COMMAND [ARGS...]) -o DIR",
		Short: "Profile a Python process and its children",
		Example: strings.Join([]string{
			"  procprof profile --pid 1234 -o data",
			"  procprof profile -o data -- python train.py --epochs 3",
		}, "\n"),
		Args: cobra.ArbitraryArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if f.pid == 0 && len(args) == 0 {
				return errors.New("either --pid or a command is required")
			}
			if f.pid != 0 && len(args) > 0 {
				return errors.New("--pid cannot be combined with a command")
			}
			if f.sampleRateMs <= 0 {
				return fmt.Errorf("--sample-rate must be positive, got %d", f.sampleRateMs)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runProfile(cmd, args, f, cfg, logger)
		},
	}

	cmd.Flags().IntVarP(&f.pid, "pid", "p", 0, "PID of the Python process to monitor")
	cmd.Flags().StringVarP(&f.outputDir, "output-dir", "o", "", "directory receiving the session files")
	cmd.Flags().IntVarP(&f.sampleRateMs, "sample-rate", "s", int(cfg.SampleRate/time.Millisecond), "milliseconds between samples")
	cmd.Flags().BoolVar(&f.native, "native", cfg.Native, "capture native stack traces")
	cmd.Flags().BoolVarP(&f.force, "force", "f", false, "clear previous session files without asking")
	cmd.Flags().StringVar(&f.pprofAddr, "pprof-addr", cfg.PprofAddr, "serve pprof and sampling timings of procprof itself on this address")
	cmd.Flags().BoolVar(&f.timing, "timing", false, "print a timing report of the sampling backends on exit")
	_ = cmd.MarkFlagRequired("output-dir")

	return cmd
}

func runProfile(cmd *cobra.Command, args []string, f profileFlags, cfg config.Config, logger *logrus.Logger) error {
	if err := checkPermissions(); err != nil {
		return err
	}

	stale, err := report.SessionFiles(f.outputDir)
	if err != nil {
		return fmt.Errorf("cannot list data directory: %w", err)
	}
	if len(stale) > 0 && !f.force {
		ok, err := confirmClear(cmd.InOrStdin(), cmd.ErrOrStderr(), stale)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("user cancelled data dir clearing")
		}
	}
	if err := report.Prepare(f.outputDir, stale); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, unix.SIGTERM)
	defer cancel()

	pid := f.pid
	if len(args) > 0 {
		child, err := startTarget(args, logger)
		if err != nil {
			return err
		}
		defer child.stop(logger)
		pid = child.pid()
	}
	logger.WithField("pid", pid).Info("Monitoring process")

	var attacher spy.Attacher = spy.NewPySpy()
	var sampler resources.Sampler = resources.NewSystem(ctx)
	var rec *debug.Recorder
	if f.timing || f.pprofAddr != "" {
		rec = debug.NewRecorder()
		attacher = debug.NewTimedAttacher(attacher, rec)
		sampler = debug.NewTimedSampler(sampler, rec)
	}
	if f.pprofAddr != "" {
		srv, err := debug.StartPprofServer(f.pprofAddr, rec, logger)
		if err != nil {
			return err
		}
		defer srv.Stop()
		logger.Infof("Sampling timings are served at http://%s%s", srv.Addr(), debug.TimingsPath)
	}

	opts := tracker.DefaultOptions()
	opts.PID = pid
	opts.OutputDir = f.outputDir
	opts.SampleRate = time.Duration(f.sampleRateMs) * time.Millisecond
	opts.Native = f.native
	opts.QueueCapacity = cfg.QueueCapacity
	opts.AttachAttempts = cfg.AttachAttempts
	opts.AttachBackoff = cfg.AttachBackoff

	if err := tracker.Run(ctx, opts, attacher, sampler, logger); err != nil {
		return fmt.Errorf("error running tracker: %w", err)
	}
	if ctx.Err() != nil {
		logger.Info("Termination requested, exiting")
	}

	if f.timing {
		debug.TimingReport(cmd.ErrOrStderr(), rec.Timings())
	}
	logger.Infof("Export the profile by running `%s export %s profile.json.gz`", executable(), f.outputDir)
	return nil
}

// confirmClear asks whether the session files of a previous run may be
// removed.
func confirmClear(in io.Reader, out io.Writer, files []string) (bool, error) {
	fmt.Fprintf(out, "The data directory contains %d files from a previous session:\n", len(files))
	for _, f := range files {
		fmt.Fprintf(out, "  %s\n", f)
	}
	fmt.Fprint(out, "Delete them? [y/N] ")

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("cannot read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// target is a command started for profiling. It is reaped as soon as it
// exits so that liveness probes do not see a zombie.
type target struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func startTarget(args []string, logger *logrus.Logger) (*target, error) {
	logger.WithField("command", fmt.Sprintf("%q", args)).Info("Starting process")
	logger.Info("The output of the process will be displayed below, mixed with profiling log messages")

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := configureTarget(cmd, logger); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting target process %q: %w", args, err)
	}

	t := &target{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(t.done)
	}()
	return t, nil
}

func (t *target) pid() int { return t.cmd.Process.Pid }

// stop kills the target if it is still running.
func (t *target) stop(logger *logrus.Logger) {
	select {
	case <-t.done:
		return
	default:
	}
	if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.WithError(err).Warn("Cannot kill target process")
	}
	select {
	case <-t.done:
	case <-time.After(5 * time.Second):
		logger.Warn("Target process did not exit after kill")
	}
}

func executable() string {
	exe, err := os.Executable()
	if err != nil {
		return "procprof"
	}
	return exe
}
