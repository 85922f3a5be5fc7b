// Package spytest provides a deterministic in-memory spy.Attacher for tests.
package spytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/danpilch/procprof/pkg/sample"
	"github.com/danpilch/procprof/pkg/spy"
)

// Process is a scripted process. Fields may be changed between ticks.
type Process struct {
	Children    []int
	Dead        bool
	FailCapture bool
	Stacks      []sample.StackTrace
}

// Attacher attaches to the scripted processes.
type Attacher struct {
	mu        sync.Mutex
	processes map[int]*Process
	failures  map[int]int
	attempts  map[int]int
}

// NewAttacher returns an attacher without processes.
func NewAttacher() *Attacher {
	return &Attacher{
		processes: make(map[int]*Process),
		failures:  make(map[int]int),
		attempts:  make(map[int]int),
	}
}

// Add registers a process and returns it for further scripting.
func (a *Attacher) Add(pid int, p *Process) *Process {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p == nil {
		p = &Process{}
	}
	a.processes[pid] = p
	return p
}

// FailAttach makes the first n attach attempts for pid fail.
func (a *Attacher) FailAttach(pid, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[pid] = n
}

// Attempts returns how often Attach was called for pid.
func (a *Attacher) Attempts(pid int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts[pid]
}

// Process returns the scripted process for pid.
func (a *Attacher) Process(pid int) *Process {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.processes[pid]
}

// Attach implements spy.Attacher.
func (a *Attacher) Attach(_ context.Context, pid int, _ spy.AttachOptions) (spy.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.attempts[pid]++
	if a.attempts[pid] <= a.failures[pid] {
		return nil, &spy.AttachError{PID: pid, Err: fmt.Errorf("not ready")}
	}
	p, ok := a.processes[pid]
	if !ok || p.Dead {
		return nil, &spy.AttachError{PID: pid, Err: fmt.Errorf("no such process")}
	}
	return &handle{attacher: a, pid: pid, proc: p}, nil
}

type handle struct {
	attacher *Attacher
	pid      int
	proc     *Process
}

func (h *handle) PID() int { return h.pid }

func (h *handle) Children(context.Context) ([]int, error) {
	h.attacher.mu.Lock()
	defer h.attacher.mu.Unlock()
	return append([]int(nil), h.proc.Children...), nil
}

func (h *handle) IsAlive() bool {
	h.attacher.mu.Lock()
	defer h.attacher.mu.Unlock()
	return !h.proc.Dead
}

func (h *handle) CaptureStacks(context.Context) ([]sample.StackTrace, error) {
	h.attacher.mu.Lock()
	defer h.attacher.mu.Unlock()
	if h.proc.Dead || h.proc.FailCapture {
		return nil, fmt.Errorf("process %d not sampleable", h.pid)
	}
	return append([]sample.StackTrace(nil), h.proc.Stacks...), nil
}
