package report

import (
	"time"

	"github.com/danpilch/procprof/pkg/sample"
)

// IdentitySummary condenses the records of one identity.
type IdentitySummary struct {
	Identity   string    `json:"identity"`
	Records    int       `json:"records"`
	Duration   float64   `json:"duration_s"`
	Threads    int       `json:"threads"`
	PeakMemory uint64    `json:"peak_memory"`
	MeanCPU    float64   `json:"mean_cpu"`
	MaxCPU     float64   `json:"max_cpu"`
	DiskBytes  uint64    `json:"disk_bytes"`
	Memory     []float64 `json:"-"`
}

// Summary condenses a whole session.
type Summary struct {
	Start      time.Time         `json:"start"`
	Duration   float64           `json:"duration_s"`
	Records    int               `json:"records"`
	Identities []IdentitySummary `json:"identities"`
}

// Summarize computes per-identity statistics, processes first, Global last.
func Summarize(s Session) Summary {
	var sum Summary
	var first, last int64
	seen := false

	for _, id := range s.Identities() {
		records := s[id]
		if len(records) == 0 {
			continue
		}
		is := summarizeIdentity(id, records)
		sum.Identities = append(sum.Identities, is)
		sum.Records += len(records)

		for _, r := range records {
			if !seen || r.Time < first {
				first = r.Time
			}
			if !seen || r.Time > last {
				last = r.Time
			}
			seen = true
		}
	}

	if seen {
		sum.Start = time.UnixMilli(first)
		sum.Duration = float64(last-first) / 1000
	}
	return sum
}

func summarizeIdentity(id sample.Identity, records []sample.Record) IdentitySummary {
	is := IdentitySummary{
		Identity: id.String(),
		Records:  len(records),
		Duration: float64(records[len(records)-1].Time-records[0].Time) / 1000,
		Memory:   make([]float64, 0, len(records)),
	}

	threads := make(map[uint64]bool)
	var cpuTotal float64
	for _, r := range records {
		for _, st := range r.StackTraces {
			threads[st.ThreadID] = true
		}
		if r.Resources.Memory > is.PeakMemory {
			is.PeakMemory = r.Resources.Memory
		}
		if r.Resources.CPU > is.MaxCPU {
			is.MaxCPU = r.Resources.CPU
		}
		cpuTotal += r.Resources.CPU
		is.Memory = append(is.Memory, float64(r.Resources.Memory))
	}
	is.Threads = len(threads)
	is.MeanCPU = cpuTotal / float64(len(records))

	firstDisk := records[0].Resources.DiskBytes()
	lastDisk := records[len(records)-1].Resources.DiskBytes()
	if lastDisk > firstDisk {
		is.DiskBytes = lastDisk - firstDisk
	}
	return is
}
