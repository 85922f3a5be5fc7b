// Package export turns a recorded session into artifacts for external
// viewers: a Firefox Profiler processed profile and folded stacks.
package export

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/procprof/pkg/fxprof"
	"github.com/danpilch/procprof/pkg/report"
	"github.com/danpilch/procprof/pkg/sample"
)

const (
	mainThreadName = "MainThread"
	processName    = "Process"
	product        = "python"
)

// DefaultInterval is used when a session holds no two consecutive records.
const DefaultInterval = time.Second

// ErrEmptySession is returned when a session holds no records at all.
var ErrEmptySession = errors.New("no samples found")

// StartTime returns the earliest record time of the session in milliseconds.
func StartTime(s report.Session) (int64, bool) {
	var start int64
	found := false
	for _, records := range s {
		for _, r := range records {
			if !found || r.Time < start {
				start = r.Time
				found = true
			}
		}
	}
	return start, found
}

// SamplingInterval returns the median of the time deltas between
// consecutive records of each identity. Build falls back to DefaultInterval
// when there is none or it is zero.
func SamplingInterval(s report.Session) (time.Duration, bool) {
	var deltas []int64
	for _, id := range s.Identities() {
		records := s[id]
		for i := 1; i < len(records); i++ {
			deltas = append(deltas, max(records[i].Time-records[i-1].Time, 0))
		}
	}
	if len(deltas) == 0 {
		return 0, false
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
	return time.Duration(deltas[len(deltas)/2]) * time.Millisecond, true
}

type frameKey struct {
	filename string
	line     int
}

// Builder accumulates processes into a profile. Frames are shared across
// all processes of the profile.
type Builder struct {
	profile  *fxprof.Profile
	start    int64
	interval time.Duration
	python   fxprof.CategoryHandle
	native   fxprof.CategoryHandle
	frames   map[frameKey]fxprof.FrameHandle
	logger   *logrus.Logger
}

// NewBuilder returns a builder whose timestamps are relative to start
// (milliseconds since the Unix epoch).
func NewBuilder(start int64, interval time.Duration, logger *logrus.Logger) *Builder {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	profile := fxprof.New(product, time.UnixMilli(start), interval)
	return &Builder{
		profile:  profile,
		start:    start,
		interval: interval,
		python:   profile.AddCategory("Python", fxprof.CategoryBlue),
		native:   profile.AddCategory("Native", fxprof.CategoryGreen),
		frames:   make(map[frameKey]fxprof.FrameHandle),
		logger:   logger,
	}
}

// Build converts every process of the session into one profile. The Global
// identity carries no stacks and is not part of the profile.
func Build(s report.Session, logger *logrus.Logger) (*fxprof.Profile, error) {
	start, ok := StartTime(s)
	if !ok {
		return nil, ErrEmptySession
	}
	interval, ok := SamplingInterval(s)
	if !ok || interval <= 0 {
		interval = DefaultInterval
		if logger != nil {
			logger.WithField("interval", interval).Info("Not enough samples to derive the sampling interval, using default")
		}
	}

	b := NewBuilder(start, interval, logger)
	for _, id := range s.Identities() {
		if id.Global {
			continue
		}
		if err := b.AddProcess(id.PID, s[id]); err != nil {
			return nil, fmt.Errorf("pid %d: %w", id.PID, err)
		}
	}
	return b.Profile(), nil
}

// Profile returns the profile built so far.
func (b *Builder) Profile() *fxprof.Profile { return b.profile }

// AddProcess adds the records of one process. Processes without records or
// without any observed thread are skipped.
func (b *Builder) AddProcess(pid uint32, records []sample.Record) error {
	if len(records) == 0 {
		return nil
	}
	if len(observedThreads(records)) == 0 {
		b.logger.WithField("pid", pid).Warn("No threads found in samples, skipping process")
		return nil
	}

	p, err := b.BeginProcess(pid, records[0].Time)
	if err != nil {
		return err
	}
	if _, err := p.RegisterMainThread(records); err != nil {
		return err
	}
	return p.IngestSamples(records)
}

// Frame returns the frame of a Python stack entry, interning it by file and
// line on first use.
func (b *Builder) Frame(f sample.Frame) fxprof.FrameHandle {
	key := frameKey{filename: f.Filename, line: f.Line}
	if h, ok := b.frames[key]; ok {
		return h
	}
	cat := b.python
	if f.IsEntry {
		cat = b.native
	}
	label := b.profile.InternString(fmt.Sprintf("%s (%s:%d)", f.Name, f.DisplayFilename(), f.Line))
	h := b.profile.AddFrame(label, cat)
	b.frames[key] = h
	return h
}

func (b *Builder) timestamp(millis int64) fxprof.Timestamp {
	return fxprof.TimestampFromMillis(millis - b.start)
}

// cpu converts a CPU percentage into the CPU time spent during one interval.
func (b *Builder) cpu(percent float64) time.Duration {
	return time.Duration(percent / 100 * float64(b.interval))
}

// Process is a process being added to a builder. Its main thread must be
// registered before any sample is ingested.
type Process struct {
	b        *Builder
	pid      uint32
	start    int64
	handle   fxprof.ProcessHandle
	threads  map[uint64]fxprof.ThreadHandle
	main     fxprof.ThreadHandle
	hasMain  bool
	memory   *counter
	io       *counter
	ingested bool
}

// BeginProcess registers a process starting at start (milliseconds since the
// Unix epoch) along with its memory and I/O counters.
func (b *Builder) BeginProcess(pid uint32, start int64) (*Process, error) {
	if start < b.start {
		return nil, fmt.Errorf("process starts at %d before the profile start %d", start, b.start)
	}
	at := b.timestamp(start)
	handle := b.profile.AddProcess(processName, pid, at)

	// names match the tracks the profiler front end knows how to render
	memory := newCounter(b.profile, handle, "malloc", "Memory", "Amount of allocated memory", fxprof.GraphOrange, at)
	io := newCounter(b.profile, handle, "io", "Bandwidth", "I/O read/write in bytes", fxprof.GraphTeal, at)

	return &Process{
		b:       b,
		pid:     pid,
		start:   start,
		handle:  handle,
		threads: make(map[uint64]fxprof.ThreadHandle),
		memory:  memory,
		io:      io,
	}, nil
}

// RegisterMainThread picks the main thread among every thread observed in
// records and registers it first. It returns the chosen thread id.
func (p *Process) RegisterMainThread(records []sample.Record) (uint64, error) {
	if p.hasMain {
		return 0, fmt.Errorf("main thread of pid %d already registered", p.pid)
	}

	threads := observedThreads(records)
	if len(threads) == 0 {
		return 0, fmt.Errorf("no threads found for pid %d", p.pid)
	}

	id, found := threads[0].id, false
	for _, t := range threads {
		if t.hasName(mainThreadName) {
			id, found = t.id, true
			break
		}
	}
	if !found {
		names := make([]string, 0, len(threads))
		for _, t := range threads {
			names = append(names, t.names...)
		}
		p.b.logger.WithFields(logrus.Fields{
			"pid":     p.pid,
			"threads": strings.Join(names, ", "),
			"chosen":  id,
		}).Info("No main thread found in samples, using the lowest thread id")
	}

	p.main = p.b.profile.AddThread(p.handle, id, p.b.timestamp(p.start), true)
	p.b.profile.SetThreadName(p.main, mainThreadName)
	p.threads[id] = p.main
	p.hasMain = true
	return id, nil
}

// IngestSamples adds every stack of records as a thread sample and feeds
// the counters. Records are ingested in time order.
func (p *Process) IngestSamples(records []sample.Record) error {
	if !p.hasMain {
		return fmt.Errorf("main thread of pid %d must be registered before ingesting samples", p.pid)
	}
	if p.ingested {
		return fmt.Errorf("samples of pid %d already ingested", p.pid)
	}
	p.ingested = true

	ordered := make([]sample.Record, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Time < ordered[j].Time })

	profile := p.b.profile
	for _, rec := range ordered {
		if rec.Time < p.start {
			return fmt.Errorf("record %d at %d precedes the process start %d", rec.Index, rec.Time, p.start)
		}
		at := p.b.timestamp(rec.Time)

		for _, st := range rec.StackTraces {
			th, ok := p.threads[st.ThreadID]
			if !ok {
				th = profile.AddThread(p.handle, st.ThreadID, at, false)
				p.threads[st.ThreadID] = th
			}
			// names may be missing from the first records of a thread
			if st.ThreadName != "" {
				profile.SetThreadName(th, st.ThreadName)
			}

			frames := make([]fxprof.FrameHandle, 0, len(st.Frames))
			for i := len(st.Frames) - 1; i >= 0; i-- {
				frames = append(frames, p.b.Frame(st.Frames[i]))
			}
			stack := profile.InternStack(th, frames)

			if err := profile.AddSample(th, at, stack, p.cpuDelta(th, st, rec.Resources), 1); err != nil {
				return err
			}
		}

		p.memory.observe(profile, at, float64(rec.Resources.Memory))
		p.io.observe(profile, at, float64(rec.Resources.DiskBytes()))
	}
	return nil
}

func (p *Process) cpuDelta(th fxprof.ThreadHandle, st sample.StackTrace, res sample.ProcessResources) time.Duration {
	if th == p.main {
		return p.b.cpu(res.CPU)
	}
	if st.OSThreadID == nil {
		return 0
	}
	if tr, ok := res.ThreadResources[*st.OSThreadID]; ok {
		return p.b.cpu(tr.CPU)
	}
	return 0
}

// counter emits value changes relative to the previous reading. The first
// reading sets the reference and is represented by the zero sample added
// at process start.
type counter struct {
	handle fxprof.CounterHandle
	prev   float64
	primed bool
}

func newCounter(profile *fxprof.Profile, proc fxprof.ProcessHandle, name, category, description string, color fxprof.GraphColor, start fxprof.Timestamp) *counter {
	h := profile.AddCounter(proc, name, category, description)
	profile.SetCounterColor(h, color)
	profile.AddCounterSample(h, start, 0, 1)
	return &counter{handle: h}
}

func (c *counter) observe(profile *fxprof.Profile, at fxprof.Timestamp, value float64) {
	if !c.primed {
		c.prev, c.primed = value, true
		return
	}
	profile.AddCounterSample(c.handle, at, value-c.prev, 1)
	c.prev = value
}

type observedThread struct {
	id    uint64
	names []string
}

func (t observedThread) hasName(name string) bool {
	for _, n := range t.names {
		if n == name {
			return true
		}
	}
	return false
}

// observedThreads returns every thread of records sorted by id, with the
// distinct names each was seen under.
func observedThreads(records []sample.Record) []observedThread {
	index := make(map[uint64]int)
	var threads []observedThread
	for _, rec := range records {
		for _, st := range rec.StackTraces {
			i, ok := index[st.ThreadID]
			if !ok {
				i = len(threads)
				index[st.ThreadID] = i
				threads = append(threads, observedThread{id: st.ThreadID})
			}
			name := st.ThreadName
			if name == "" {
				name = "unnamed"
			}
			if !threads[i].hasName(name) {
				threads[i].names = append(threads[i].names, name)
			}
		}
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i].id < threads[j].id })
	return threads
}
