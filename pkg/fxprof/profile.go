// Package fxprof builds profiles in the Firefox Profiler "processed profile"
// format. Handles returned by a Profile are only valid for that Profile.
package fxprof

import (
	"fmt"
	"time"
)

// CategoryColor is a category color understood by the profiler front end.
type CategoryColor string

const (
	CategoryGrey   CategoryColor = "grey"
	CategoryBlue   CategoryColor = "blue"
	CategoryGreen  CategoryColor = "green"
	CategoryOrange CategoryColor = "orange"
	CategoryYellow CategoryColor = "yellow"
	CategoryPurple CategoryColor = "purple"
)

// GraphColor is the color of a counter track.
type GraphColor string

const (
	GraphBlue   GraphColor = "blue"
	GraphGreen  GraphColor = "green"
	GraphGrey   GraphColor = "grey"
	GraphOrange GraphColor = "orange"
	GraphPurple GraphColor = "purple"
	GraphRed    GraphColor = "red"
	GraphTeal   GraphColor = "teal"
	GraphYellow GraphColor = "yellow"
)

type (
	CategoryHandle int
	ProcessHandle  int
	ThreadHandle   int
	CounterHandle  int
	StringHandle   int
	FrameHandle    int
)

// StackHandle identifies an interned stack of one thread. The zero value
// is the empty stack.
type StackHandle struct {
	thread ThreadHandle
	index  int // 1-based, 0 means empty
}

// Empty reports whether the stack has no frames.
func (s StackHandle) Empty() bool { return s.index == 0 }

// Timestamp is a point in time relative to the profile start.
type Timestamp time.Duration

// TimestampFromMillis converts milliseconds since the profile start.
func TimestampFromMillis(ms int64) Timestamp {
	return Timestamp(time.Duration(ms) * time.Millisecond)
}

func (t Timestamp) millis() float64 {
	return float64(time.Duration(t)) / float64(time.Millisecond)
}

// DefaultCategory is always present at index 0.
const DefaultCategory CategoryHandle = 0

type category struct {
	name  string
	color CategoryColor
}

type frameInfo struct {
	label    StringHandle
	category CategoryHandle
}

type process struct {
	name    string
	pid     uint32
	start   Timestamp
	threads []ThreadHandle
}

type sampleRow struct {
	time   Timestamp
	stack  int
	cpu    time.Duration
	weight int
}

type thread struct {
	process ProcessHandle
	tid     uint64
	name    string
	start   Timestamp
	main    bool
	tables  *threadTables
	samples []sampleRow
}

type counterSample struct {
	time   Timestamp
	value  float64
	number int
}

type counter struct {
	process     ProcessHandle
	name        string
	category    string
	description string
	color       GraphColor
	samples     []counterSample
}

// Profile accumulates processes, threads, samples and counters. It is not
// safe for concurrent use.
type Profile struct {
	product   string
	startTime time.Time
	interval  time.Duration

	categories  []category
	strings     []string
	stringIndex map[string]StringHandle
	frames      []frameInfo

	processes []process
	threads   []*thread
	counters  []*counter
}

// New returns an empty profile. startTime is the reference all timestamps
// are relative to, interval the intended sampling interval.
func New(product string, startTime time.Time, interval time.Duration) *Profile {
	return &Profile{
		product:     product,
		startTime:   startTime,
		interval:    interval,
		categories:  []category{{name: "Other", color: CategoryGrey}},
		stringIndex: make(map[string]StringHandle),
	}
}

// Interval returns the sampling interval.
func (p *Profile) Interval() time.Duration { return p.interval }

// AddCategory registers a frame category.
func (p *Profile) AddCategory(name string, color CategoryColor) CategoryHandle {
	p.categories = append(p.categories, category{name: name, color: color})
	return CategoryHandle(len(p.categories) - 1)
}

// InternString returns the handle of s, adding it on first use.
func (p *Profile) InternString(s string) StringHandle {
	if h, ok := p.stringIndex[s]; ok {
		return h
	}
	h := StringHandle(len(p.strings))
	p.strings = append(p.strings, s)
	p.stringIndex[s] = h
	return h
}

// String returns the interned string of h.
func (p *Profile) String(h StringHandle) string {
	return p.strings[h]
}

// AddFrame registers a label frame. Callers intern frames themselves; every
// call creates a distinct frame.
func (p *Profile) AddFrame(label StringHandle, cat CategoryHandle) FrameHandle {
	p.frames = append(p.frames, frameInfo{label: label, category: cat})
	return FrameHandle(len(p.frames) - 1)
}

// FrameLabel returns the label of a frame.
func (p *Profile) FrameLabel(f FrameHandle) string {
	return p.strings[p.frames[f].label]
}

// AddProcess registers a process starting at start.
func (p *Profile) AddProcess(name string, pid uint32, start Timestamp) ProcessHandle {
	p.processes = append(p.processes, process{name: name, pid: pid, start: start})
	return ProcessHandle(len(p.processes) - 1)
}

// AddThread registers a thread of proc. Threads are serialized in
// registration order.
func (p *Profile) AddThread(proc ProcessHandle, tid uint64, start Timestamp, main bool) ThreadHandle {
	h := ThreadHandle(len(p.threads))
	p.threads = append(p.threads, &thread{
		process: proc,
		tid:     tid,
		start:   start,
		main:    main,
		tables:  newThreadTables(),
	})
	p.processes[proc].threads = append(p.processes[proc].threads, h)
	return h
}

// SetThreadName replaces the name of a thread.
func (p *Profile) SetThreadName(th ThreadHandle, name string) {
	p.threads[th].name = name
}

// ThreadName returns the current name of a thread.
func (p *Profile) ThreadName(th ThreadHandle) string {
	return p.threads[th].name
}

// InternStack interns frames, ordered root first, into the stack table of a
// thread.
func (p *Profile) InternStack(th ThreadHandle, frames []FrameHandle) StackHandle {
	t := p.threads[th]
	prefix := -1
	for _, f := range frames {
		prefix = t.tables.internStack(prefix, t.tables.internFrame(p, f))
	}
	return StackHandle{thread: th, index: prefix + 1}
}

// AddSample records a sample of a thread.
func (p *Profile) AddSample(th ThreadHandle, at Timestamp, stack StackHandle, cpuDelta time.Duration, weight int) error {
	if !stack.Empty() && stack.thread != th {
		return fmt.Errorf("stack of thread %d used for thread %d", stack.thread, th)
	}
	t := p.threads[th]
	t.samples = append(t.samples, sampleRow{time: at, stack: stack.index - 1, cpu: cpuDelta, weight: weight})
	return nil
}

// AddCounter registers a counter track of proc.
func (p *Profile) AddCounter(proc ProcessHandle, name, category, description string) CounterHandle {
	p.counters = append(p.counters, &counter{
		process:     proc,
		name:        name,
		category:    category,
		description: description,
		color:       GraphGrey,
	})
	return CounterHandle(len(p.counters) - 1)
}

// SetCounterColor sets the graph color of a counter.
func (p *Profile) SetCounterColor(c CounterHandle, color GraphColor) {
	p.counters[c].color = color
}

// AddCounterSample appends a value change of a counter. Counter values are
// deltas relative to the previous sample.
func (p *Profile) AddCounterSample(c CounterHandle, at Timestamp, value float64, number int) {
	p.counters[c].samples = append(p.counters[c].samples, counterSample{time: at, value: value, number: number})
}

// threadTables holds the per-thread frame, function and stack tables.
// Strings are re-interned per thread because every thread carries its own
// string array.
type threadTables struct {
	strings     []string
	stringIndex map[StringHandle]int

	funcs     []int // name string index
	funcIndex map[int]int

	frames     []threadFrame
	frameIndex map[FrameHandle]int

	stacks     []threadStack
	stackIndex map[threadStack]int
}

type threadFrame struct {
	fn       int
	category CategoryHandle
}

type threadStack struct {
	prefix   int // -1 for a root
	frame    int
	category CategoryHandle
}

func newThreadTables() *threadTables {
	return &threadTables{
		stringIndex: make(map[StringHandle]int),
		funcIndex:   make(map[int]int),
		frameIndex:  make(map[FrameHandle]int),
		stackIndex:  make(map[threadStack]int),
	}
}

func (tt *threadTables) internString(p *Profile, h StringHandle) int {
	if i, ok := tt.stringIndex[h]; ok {
		return i
	}
	i := len(tt.strings)
	tt.strings = append(tt.strings, p.strings[h])
	tt.stringIndex[h] = i
	return i
}

func (tt *threadTables) internFrame(p *Profile, f FrameHandle) int {
	if i, ok := tt.frameIndex[f]; ok {
		return i
	}
	info := p.frames[f]
	name := tt.internString(p, info.label)
	fn, ok := tt.funcIndex[name]
	if !ok {
		fn = len(tt.funcs)
		tt.funcs = append(tt.funcs, name)
		tt.funcIndex[name] = fn
	}
	i := len(tt.frames)
	tt.frames = append(tt.frames, threadFrame{fn: fn, category: info.category})
	tt.frameIndex[f] = i
	return i
}

func (tt *threadTables) internStack(prefix, frame int) int {
	key := threadStack{prefix: prefix, frame: frame, category: tt.frames[frame].category}
	if i, ok := tt.stackIndex[key]; ok {
		return i
	}
	i := len(tt.stacks)
	tt.stacks = append(tt.stacks, key)
	tt.stackIndex[key] = i
	return i
}
