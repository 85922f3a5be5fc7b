package resources

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/danpilch/procprof/pkg/sample"
)

// System samples the local machine through gopsutil.
type System struct {
	procs    map[int]*trackedProcess
	snapshot map[int]sample.ProcessResources
	global   sample.ProcessResources
	numCPU   int
	now      func() time.Time
}

// trackedProcess keeps the previous readings needed for CPU percentages.
type trackedProcess struct {
	proc        *process.Process
	threadTimes map[int32]float64 // cumulative user+system seconds per thread
	lastSeen    time.Time
}

// NewSystem creates a sampler for the local machine.
func NewSystem(ctx context.Context) *System {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}
	return &System{
		procs:    make(map[int]*trackedProcess),
		snapshot: make(map[int]sample.ProcessResources),
		numCPU:   n,
		now:      time.Now,
	}
}

// Refresh measures the given processes and the system. Processes that cannot
// be measured are left out of the snapshot. Only a failed system-wide
// measurement is returned as an error.
func (s *System) Refresh(ctx context.Context, pids []int) error {
	now := s.now()
	snapshot := make(map[int]sample.ProcessResources, len(pids))
	requested := make(map[int]bool, len(pids))

	for _, pid := range pids {
		requested[pid] = true
		tp, ok := s.procs[pid]
		if !ok {
			proc, err := process.NewProcessWithContext(ctx, int32(pid))
			if err != nil {
				continue
			}
			tp = &trackedProcess{proc: proc}
			s.procs[pid] = tp
		}
		res, err := tp.measure(ctx, now)
		if err != nil {
			delete(s.procs, pid)
			continue
		}
		snapshot[pid] = res
	}

	for pid := range s.procs {
		if !requested[pid] {
			delete(s.procs, pid)
		}
	}
	s.snapshot = snapshot

	global, err := s.measureGlobal(ctx)
	if err != nil {
		return fmt.Errorf("cannot measure system resources: %w", err)
	}
	s.global = global
	return nil
}

// ProcessInfo implements Sampler.
func (s *System) ProcessInfo(pid int) (sample.ProcessResources, bool) {
	res, ok := s.snapshot[pid]
	return res, ok
}

// GlobalInfo implements Sampler.
func (s *System) GlobalInfo() sample.ProcessResources {
	return s.global
}

func (tp *trackedProcess) measure(ctx context.Context, now time.Time) (sample.ProcessResources, error) {
	// The first call only primes the CPU reading and reports 0.
	cpuPct, err := tp.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return sample.ProcessResources{}, err
	}
	memInfo, err := tp.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return sample.ProcessResources{}, err
	}

	res := sample.ProcessResources{
		Memory:          memInfo.RSS,
		CPU:             cpuPct,
		ThreadResources: make(map[uint64]sample.ThreadResources),
	}

	// I/O counters need ptrace permissions on other users' processes.
	if io, err := tp.proc.IOCountersWithContext(ctx); err == nil {
		res.DiskReadBytes = io.ReadBytes
		res.DiskWriteBytes = io.WriteBytes
	}

	if threads, err := tp.proc.ThreadsWithContext(ctx); err == nil {
		elapsed := now.Sub(tp.lastSeen).Seconds()
		times := make(map[int32]float64, len(threads))
		for tid, t := range threads {
			total := t.User + t.System
			times[tid] = total

			tr := sample.ThreadResources{Memory: memInfo.RSS}
			if prev, ok := tp.threadTimes[tid]; ok && !tp.lastSeen.IsZero() {
				tr.CPU = threadPercent(prev, total, elapsed)
			}
			res.ThreadResources[uint64(tid)] = tr
		}
		tp.threadTimes = times
	}
	tp.lastSeen = now

	return res, nil
}

// threadPercent converts two cumulative CPU time readings into a percentage
// of one core over the elapsed wall time.
func threadPercent(prev, cur, elapsedSeconds float64) float64 {
	if elapsedSeconds <= 0 || cur < prev {
		return 0
	}
	return (cur - prev) / elapsedSeconds * 100
}

func (s *System) measureGlobal(ctx context.Context) (sample.ProcessResources, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return sample.ProcessResources{}, err
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return sample.ProcessResources{}, err
	}

	res := sample.ProcessResources{
		Memory:          vm.Used,
		ThreadResources: map[uint64]sample.ThreadResources{},
	}
	if len(pcts) > 0 {
		res.CPU = normalizeCPU(pcts[0], s.numCPU)
	}
	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		res.Memory += swap.Used
	}
	if counters, err := disk.IOCountersWithContext(ctx); err == nil {
		for _, c := range counters {
			res.DiskReadBytes += c.ReadBytes
			res.DiskWriteBytes += c.WriteBytes
		}
	}
	return res, nil
}

// normalizeCPU scales a whole-machine percentage so that 100 is one core.
func normalizeCPU(overall float64, numCPU int) float64 {
	return overall * float64(numCPU)
}
