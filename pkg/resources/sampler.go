// Package resources samples CPU, memory and disk usage of processes and of
// the whole system.
package resources

import (
	"context"

	"github.com/danpilch/procprof/pkg/sample"
)

// Sampler queries resource usage once per tick.
type Sampler interface {
	// Refresh takes one snapshot of the given processes and of the system.
	Refresh(ctx context.Context, pids []int) error

	// ProcessInfo returns the snapshot of pid. ok is false when the process
	// vanished before it could be measured; callers skip the process then.
	ProcessInfo(pid int) (res sample.ProcessResources, ok bool)

	// GlobalInfo returns the system-wide snapshot, with CPU normalized so
	// that 100 is one logical core.
	GlobalInfo() sample.ProcessResources
}
