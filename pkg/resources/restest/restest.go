// Package restest provides a scripted resources.Sampler for tests.
package restest

import (
	"context"
	"sync"

	"github.com/danpilch/procprof/pkg/sample"
)

// Sampler returns whatever the test configured. Values set between ticks
// become visible on the next Refresh.
type Sampler struct {
	mu        sync.Mutex
	pending   map[int]sample.ProcessResources
	global    sample.ProcessResources
	snapshot  map[int]sample.ProcessResources
	refreshes int
}

// NewSampler returns a sampler without processes.
func NewSampler() *Sampler {
	return &Sampler{
		pending:  make(map[int]sample.ProcessResources),
		snapshot: make(map[int]sample.ProcessResources),
	}
}

// Set configures the resources reported for pid.
func (s *Sampler) Set(pid int, res sample.ProcessResources) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[pid] = res
}

// Remove makes pid vanish from the next snapshot.
func (s *Sampler) Remove(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, pid)
}

// SetGlobal configures the system-wide resources.
func (s *Sampler) SetGlobal(res sample.ProcessResources) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = res
}

// Refreshes returns how often Refresh was called.
func (s *Sampler) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

// Refresh implements resources.Sampler.
func (s *Sampler) Refresh(_ context.Context, pids []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	s.snapshot = make(map[int]sample.ProcessResources, len(pids))
	for _, pid := range pids {
		if res, ok := s.pending[pid]; ok {
			s.snapshot[pid] = res
		}
	}
	return nil
}

// ProcessInfo implements resources.Sampler.
func (s *Sampler) ProcessInfo(pid int) (sample.ProcessResources, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.snapshot[pid]
	return res, ok
}

// GlobalInfo implements resources.Sampler.
func (s *Sampler) GlobalInfo() sample.ProcessResources {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.global
}
