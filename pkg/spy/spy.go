// Package spy tracks a tree of Python processes and captures their call stacks.
package spy

import (
	"context"
	"fmt"

	"github.com/danpilch/procprof/pkg/sample"
)

// AttachOptions configures how a process is instrumented.
type AttachOptions struct {
	Native bool // also capture native frames
}

// Attacher instruments processes for stack capture.
type Attacher interface {
	Attach(ctx context.Context, pid int, opts AttachOptions) (Handle, error)
}

// Handle is an instrumented process.
type Handle interface {
	PID() int

	// Children returns the pids of the direct child processes.
	Children(ctx context.Context) ([]int, error)

	IsAlive() bool

	// CaptureStacks returns one stack trace per thread. A failure only
	// affects the current tick.
	CaptureStacks(ctx context.Context) ([]sample.StackTrace, error)
}

// AttachError reports a process that could not be instrumented.
type AttachError struct {
	PID int
	Err error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("cannot attach to process %d: %v", e.PID, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }

// CaptureError reports a failed stack capture for a single tick.
type CaptureError struct {
	PID int
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("cannot capture stacks of process %d: %v", e.PID, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }
