package debug

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/danpilch/procprof/pkg/resources"
	"github.com/danpilch/procprof/pkg/sample"
	"github.com/danpilch/procprof/pkg/spy"
)

var (
	debugTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	debugHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	debugDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

const (
	opRefresh = "resources refresh"
	opCapture = "stack capture"
	opAttach  = "attach"
)

// Timing summarizes the observed durations of one operation.
type Timing struct {
	Name  string
	Count int
	P50   time.Duration
	P95   time.Duration
	Max   time.Duration
	Total time.Duration
}

// Recorder collects operation durations. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	order []string
	obs   map[string][]time.Duration
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{obs: make(map[string][]time.Duration)}
}

// Observe records one duration of the named operation.
func (r *Recorder) Observe(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.obs[name]; !ok {
		r.order = append(r.order, name)
	}
	r.obs[name] = append(r.obs[name], d)
}

// Timings returns one summary per operation in order of first observation.
func (r *Recorder) Timings() []Timing {
	r.mu.Lock()
	defer r.mu.Unlock()

	timings := make([]Timing, 0, len(r.order))
	for _, name := range r.order {
		sorted := append([]time.Duration(nil), r.obs[name]...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var total time.Duration
		for _, d := range sorted {
			total += d
		}
		timings = append(timings, Timing{
			Name:  name,
			Count: len(sorted),
			P50:   percentile(sorted, 0.50),
			P95:   percentile(sorted, 0.95),
			Max:   sorted[len(sorted)-1],
			Total: total,
		})
	}
	return timings
}

// TimedSampler wraps a resources.Sampler to record refresh duration.
type TimedSampler struct {
	resources.Sampler
	rec *Recorder
}

// NewTimedSampler wraps a sampler with timing instrumentation.
func NewTimedSampler(s resources.Sampler, rec *Recorder) *TimedSampler {
	return &TimedSampler{Sampler: s, rec: rec}
}

// Refresh runs the wrapped refresh and records its duration.
func (t *TimedSampler) Refresh(ctx context.Context, pids []int) error {
	start := time.Now()
	err := t.Sampler.Refresh(ctx, pids)
	t.rec.Observe(opRefresh, time.Since(start))
	return err
}

// TimedAttacher wraps a spy.Attacher to record attach and capture duration.
type TimedAttacher struct {
	inner spy.Attacher
	rec   *Recorder
}

// NewTimedAttacher wraps an attacher with timing instrumentation.
func NewTimedAttacher(a spy.Attacher, rec *Recorder) *TimedAttacher {
	return &TimedAttacher{inner: a, rec: rec}
}

// Attach runs the wrapped attach and times every capture of the handle.
func (t *TimedAttacher) Attach(ctx context.Context, pid int, opts spy.AttachOptions) (spy.Handle, error) {
	start := time.Now()
	h, err := t.inner.Attach(ctx, pid, opts)
	t.rec.Observe(opAttach, time.Since(start))
	if err != nil {
		return nil, err
	}
	return &timedHandle{Handle: h, rec: t.rec}, nil
}

type timedHandle struct {
	spy.Handle
	rec *Recorder
}

func (h *timedHandle) CaptureStacks(ctx context.Context) ([]sample.StackTrace, error) {
	start := time.Now()
	stacks, err := h.Handle.CaptureStacks(ctx)
	h.rec.Observe(opCapture, time.Since(start))
	return stacks, err
}

// TimingReport prints a styled timing summary.
func TimingReport(w io.Writer, timings []Timing) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, debugTitle.Render("Sampling Timing Report"))
	fmt.Fprintln(w, debugDim.Render(strings.Repeat("═", 72)))
	fmt.Fprintf(w, "  %s %s %s %s %s\n",
		debugHeader.Render("OPERATION          "),
		debugHeader.Render("COUNT "),
		debugHeader.Render("P50         "),
		debugHeader.Render("P95         "),
		debugHeader.Render("MAX         "))
	fmt.Fprintln(w, "  "+debugDim.Render(strings.Repeat("─", 72)))

	var total time.Duration
	for _, t := range timings {
		fmt.Fprintf(w, "  %-20s %-7d %-14v %-14v %v\n", t.Name, t.Count, t.P50, t.P95, t.Max)
		total += t.Total
	}
	fmt.Fprintln(w, "  "+debugDim.Render(strings.Repeat("─", 72)))
	fmt.Fprintf(w, "  %-20s %v\n",
		lipgloss.NewStyle().Bold(true).Render("TOTAL"), total)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
