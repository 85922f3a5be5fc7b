// Package tracker records a profiling session: it samples a process tree on a
// fixed cadence and hands every sample to a decoupled file writer.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/procprof/pkg/resources"
	"github.com/danpilch/procprof/pkg/sample"
	"github.com/danpilch/procprof/pkg/spy"
)

// Options configures a tracking session.
type Options struct {
	PID            int
	OutputDir      string
	SampleRate     time.Duration
	Native         bool
	QueueCapacity  int
	AttachAttempts int
	AttachBackoff  time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		SampleRate:     time.Second,
		QueueCapacity:  DefaultQueueCapacity,
		AttachAttempts: 5,
		AttachBackoff:  time.Second,
	}
}

// Tracker runs the ticks of one session.
type Tracker struct {
	tree    *spy.Tree
	sampler resources.Sampler
	writer  *Writer
	logger  *logrus.Logger
	now     func() time.Time

	// lastTime is the query time of the previous tick. Record times never
	// go below it, even when the wall clock is stepped back.
	lastTime int64
}

// New attaches to the root process, retrying while it is not ready, and
// starts the writer.
func New(ctx context.Context, opts Options, attacher spy.Attacher, sampler resources.Sampler, logger *logrus.Logger) (*Tracker, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	tree, err := attachWithRetry(ctx, attacher, opts, logger)
	if err != nil {
		return nil, err
	}

	return &Tracker{
		tree:    tree,
		sampler: sampler,
		writer:  StartWriter(opts.OutputDir, opts.QueueCapacity, logger),
		logger:  logger,
		now:     time.Now,
	}, nil
}

func attachWithRetry(ctx context.Context, attacher spy.Attacher, opts Options, logger *logrus.Logger) (*spy.Tree, error) {
	attempts := opts.AttachAttempts
	if attempts < 1 {
		attempts = 1
	}
	spyOpts := spy.AttachOptions{Native: opts.Native}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		tree, err := spy.NewTree(ctx, attacher, opts.PID, spyOpts, logger)
		if err == nil {
			return tree, nil
		}
		lastErr = err
		logger.WithFields(logrus.Fields{
			"pid":     opts.PID,
			"attempt": attempt,
			"error":   err,
		}).Warn("Cannot attach to process")

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.AttachBackoff):
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

// IsStillTracking reports whether any tracked process is alive.
func (t *Tracker) IsStillTracking() bool {
	return t.tree.AnyLive()
}

// Tick samples every tracked process once. Only a write failure or a
// cancelled context is returned; per-process problems are logged and skipped.
func (t *Tracker) Tick(ctx context.Context) error {
	t.tree.Refresh(ctx)
	if err := t.sampler.Refresh(ctx, t.tree.PIDs()); err != nil {
		t.logger.WithError(err).Warn("Resource refresh failed")
	}

	queryTime := t.queryTime()
	captures := t.tree.CaptureStacks(ctx)

	pids := make([]int, 0, len(captures))
	for pid := range captures {
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	for _, pid := range pids {
		res, ok := t.sampler.ProcessInfo(pid)
		if !ok {
			t.logger.WithField("pid", pid).Debug("Process vanished before its resources were measured")
			continue
		}
		err := t.writer.Submit(ctx, WriteRequest{
			Identity:    sample.ProcessIdentity(uint32(pid)),
			Resources:   res,
			StackTraces: captures[pid],
			Time:        queryTime,
		})
		if err != nil {
			return err
		}
	}

	return t.writer.Submit(ctx, WriteRequest{
		Identity:    sample.GlobalIdentity,
		Resources:   t.sampler.GlobalInfo(),
		StackTraces: []sample.StackTrace{},
		Time:        queryTime,
	})
}

func (t *Tracker) queryTime() int64 {
	now := sample.Millis(t.now())
	if now < t.lastTime {
		t.logger.WithFields(logrus.Fields{"now": now, "previous": t.lastTime}).Debug("Clock went backwards, reusing previous sample time")
		now = t.lastTime
	}
	t.lastTime = now
	return now
}

// Close drains the writer and returns the first write failure.
func (t *Tracker) Close() error {
	err := t.writer.Close()
	for id, n := range t.writer.Counts() {
		t.logger.WithFields(logrus.Fields{"identity": id.String(), "records": n}).Debug("Session file complete")
	}
	return err
}

// Run records a session until every tracked process exited or ctx is done.
// Queued samples are written before Run returns.
func Run(ctx context.Context, opts Options, attacher spy.Attacher, sampler resources.Sampler, logger *logrus.Logger) error {
	t, err := New(ctx, opts, attacher, sampler, logger)
	if err != nil {
		return err
	}
	t.logger.WithField("pid", opts.PID).Info("Tracking started")

	runErr := t.loop(ctx, opts.SampleRate)
	if closeErr := t.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	return runErr
}

func (t *Tracker) loop(ctx context.Context, rate time.Duration) error {
	for t.IsStillTracking() {
		if ctx.Err() != nil {
			t.logger.Info("Termination requested, exiting")
			return nil
		}
		if err := t.Tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				t.logger.Info("Termination requested, exiting")
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			t.logger.Info("Termination requested, exiting")
			return nil
		case <-time.After(rate):
		}
	}
	t.logger.Info("All processes have exited, exiting")
	return nil
}
