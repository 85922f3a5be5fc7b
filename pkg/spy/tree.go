package spy

import (
	"context"
	"errors"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/procprof/pkg/sample"
)

// Tree maintains the set of tracked processes below a root process.
type Tree struct {
	attacher Attacher
	opts     AttachOptions
	handles  map[int]Handle
	logger   *logrus.Logger
}

// NewTree attaches to the root process. Failing to attach the root is fatal
// and returned as an *AttachError.
func NewTree(ctx context.Context, attacher Attacher, root int, opts AttachOptions, logger *logrus.Logger) (*Tree, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	t := &Tree{
		attacher: attacher,
		opts:     opts,
		handles:  make(map[int]Handle),
		logger:   logger,
	}
	if err := t.track(ctx, root); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) track(ctx context.Context, pid int) error {
	h, err := t.attacher.Attach(ctx, pid, t.opts)
	if err != nil {
		var attachErr *AttachError
		if errors.As(err, &attachErr) {
			return err
		}
		return &AttachError{PID: pid, Err: err}
	}
	t.handles[pid] = h
	return nil
}

// PIDs returns the tracked pids in ascending order.
func (t *Tree) PIDs() []int {
	pids := make([]int, 0, len(t.handles))
	for pid := range t.handles {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// AnyLive reports whether at least one tracked process is still alive.
func (t *Tree) AnyLive() bool {
	for _, h := range t.handles {
		if h.IsAlive() {
			return true
		}
	}
	return false
}

// Refresh discovers new children of tracked processes and drops exited ones.
// Children that cannot be attached are logged and left untracked.
func (t *Tree) Refresh(ctx context.Context) {
	var exited []int
	discovered := make(map[int]bool)

	for _, pid := range t.PIDs() {
		h := t.handles[pid]
		if children, err := h.Children(ctx); err == nil {
			for _, child := range children {
				if _, tracked := t.handles[child]; !tracked {
					discovered[child] = true
				}
			}
		} else {
			t.logger.WithFields(logrus.Fields{"pid": pid, "error": err}).Debug("Cannot list child processes")
		}
		if !h.IsAlive() {
			t.logger.WithField("pid", pid).Info("Tracked process exited")
			exited = append(exited, pid)
		}
	}

	for _, pid := range exited {
		delete(t.handles, pid)
	}

	children := make([]int, 0, len(discovered))
	for pid := range discovered {
		children = append(children, pid)
	}
	sort.Ints(children)
	for _, pid := range children {
		if err := t.track(ctx, pid); err != nil {
			t.logger.WithFields(logrus.Fields{"pid": pid, "error": err}).Info("Cannot track child process")
			continue
		}
		t.logger.WithField("pid", pid).Info("Tracking new process")
	}

	t.logger.WithField("count", len(t.handles)).Debug("Tracking processes")
}

// CaptureStacks captures the stacks of every tracked process. A process whose
// capture fails is missing from the result for this tick only.
func (t *Tree) CaptureStacks(ctx context.Context) map[int][]sample.StackTrace {
	all := make(map[int][]sample.StackTrace, len(t.handles))
	for _, pid := range t.PIDs() {
		traces, err := t.handles[pid].CaptureStacks(ctx)
		if err != nil {
			t.logger.WithError(&CaptureError{PID: pid, Err: err}).Debug("Sample error")
			continue
		}
		all[pid] = traces
	}
	return all
}
