package fxprof

import (
	"fmt"
	"io"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

const (
	formatVersion              = 24
	preprocessedProfileVersion = 44
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MarshalJSON renders the processed profile.
func (p *Profile) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.serialize())
}

// Encode streams the processed profile to w.
func (p *Profile) Encode(w io.Writer) error {
	if err := json.NewEncoder(w).Encode(p.serialize()); err != nil {
		return fmt.Errorf("cannot encode profile: %w", err)
	}
	return nil
}

type jsonProfile struct {
	Meta             jsonMeta      `json:"meta"`
	Libs             []any         `json:"libs"`
	Pages            []any         `json:"pages"`
	ProfilerOverhead []any         `json:"profilerOverhead"`
	Threads          []jsonThread  `json:"threads"`
	Counters         []jsonCounter `json:"counters"`
}

type jsonMeta struct {
	Categories                    []jsonCategory  `json:"categories"`
	Debug                         bool            `json:"debug"`
	Extensions                    jsonExtensions  `json:"extensions"`
	Interval                      float64         `json:"interval"`
	MarkerSchema                  []any           `json:"markerSchema"`
	PausedRanges                  []any           `json:"pausedRanges"`
	PreprocessedProfileVersion    int             `json:"preprocessedProfileVersion"`
	ProcessType                   int             `json:"processType"`
	Product                       string          `json:"product"`
	SampleUnits                   jsonSampleUnits `json:"sampleUnits"`
	StartTime                     float64         `json:"startTime"`
	Symbolicated                  bool            `json:"symbolicated"`
	Version                       int             `json:"version"`
	UsesOnlyOneStackType          bool            `json:"usesOnlyOneStackType"`
	DoesNotUseFrameImplementation bool            `json:"doesNotUseFrameImplementation"`
	SourceCodeIsNotOnSearchfox    bool            `json:"sourceCodeIsNotOnSearchfox"`
}

type jsonCategory struct {
	Name          string        `json:"name"`
	Color         CategoryColor `json:"color"`
	Subcategories []string      `json:"subcategories"`
}

type jsonExtensions struct {
	BaseURL []string `json:"baseURL"`
	ID      []string `json:"id"`
	Length  int      `json:"length"`
	Name    []string `json:"name"`
}

type jsonSampleUnits struct {
	EventDelay     string `json:"eventDelay"`
	ThreadCPUDelta string `json:"threadCPUDelta"`
	Time           string `json:"time"`
}

type jsonThread struct {
	FrameTable          jsonFrameTable    `json:"frameTable"`
	FuncTable           jsonFuncTable     `json:"funcTable"`
	IsMainThread        bool              `json:"isMainThread"`
	Markers             jsonMarkers       `json:"markers"`
	Name                string            `json:"name"`
	NativeSymbols       jsonNativeSymbols `json:"nativeSymbols"`
	PausedRanges        []any             `json:"pausedRanges"`
	PID                 string            `json:"pid"`
	ProcessName         string            `json:"processName"`
	ProcessShutdownTime *float64          `json:"processShutdownTime"`
	ProcessStartupTime  float64           `json:"processStartupTime"`
	ProcessType         string            `json:"processType"`
	RegisterTime        float64           `json:"registerTime"`
	ResourceTable       jsonResourceTable `json:"resourceTable"`
	Samples             jsonSamples       `json:"samples"`
	StackTable          jsonStackTable    `json:"stackTable"`
	StringArray         []string          `json:"stringArray"`
	TID                 string            `json:"tid"`
	UnregisterTime      *float64          `json:"unregisterTime"`
}

type jsonFrameTable struct {
	Length         int    `json:"length"`
	Address        []int  `json:"address"`
	InlineDepth    []int  `json:"inlineDepth"`
	Category       []int  `json:"category"`
	Subcategory    []int  `json:"subcategory"`
	Func           []int  `json:"func"`
	NativeSymbol   []*int `json:"nativeSymbol"`
	InnerWindowID  []*int `json:"innerWindowID"`
	Implementation []*int `json:"implementation"`
	Line           []*int `json:"line"`
	Column         []*int `json:"column"`
}

type jsonFuncTable struct {
	Length        int    `json:"length"`
	Name          []int  `json:"name"`
	IsJS          []bool `json:"isJS"`
	RelevantForJS []bool `json:"relevantForJS"`
	Resource      []int  `json:"resource"`
	FileName      []*int `json:"fileName"`
	LineNumber    []*int `json:"lineNumber"`
	ColumnNumber  []*int `json:"columnNumber"`
}

type jsonMarkers struct {
	Length    int   `json:"length"`
	Category  []int `json:"category"`
	Data      []any `json:"data"`
	EndTime   []any `json:"endTime"`
	Name      []int `json:"name"`
	Phase     []int `json:"phase"`
	StartTime []any `json:"startTime"`
}

type jsonNativeSymbols struct {
	Length       int   `json:"length"`
	Address      []int `json:"address"`
	FunctionSize []int `json:"functionSize"`
	LibIndex     []int `json:"libIndex"`
	Name         []int `json:"name"`
}

type jsonResourceTable struct {
	Length int   `json:"length"`
	Lib    []int `json:"lib"`
	Name   []int `json:"name"`
	Host   []int `json:"host"`
	Type   []int `json:"type"`
}

type jsonSamples struct {
	Length         int       `json:"length"`
	Stack          []*int    `json:"stack"`
	Time           []float64 `json:"time"`
	Weight         []int     `json:"weight"`
	WeightType     string    `json:"weightType"`
	ThreadCPUDelta []int64   `json:"threadCPUDelta"`
}

type jsonStackTable struct {
	Length      int    `json:"length"`
	Prefix      []*int `json:"prefix"`
	Frame       []int  `json:"frame"`
	Category    []int  `json:"category"`
	Subcategory []int  `json:"subcategory"`
}

type jsonCounter struct {
	Category        string            `json:"category"`
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	Color           GraphColor        `json:"color"`
	MainThreadIndex int               `json:"mainThreadIndex"`
	PID             string            `json:"pid"`
	SampleGroups    []jsonSampleGroup `json:"sampleGroups"`
}

type jsonSampleGroup struct {
	ID      int                `json:"id"`
	Samples jsonCounterSamples `json:"samples"`
}

type jsonCounterSamples struct {
	Length int       `json:"length"`
	Count  []float64 `json:"count"`
	Number []int     `json:"number"`
	Time   []float64 `json:"time"`
}

func (p *Profile) serialize() jsonProfile {
	out := jsonProfile{
		Meta:             p.serializeMeta(),
		Libs:             []any{},
		Pages:            []any{},
		ProfilerOverhead: []any{},
		Threads:          make([]jsonThread, 0, len(p.threads)),
		Counters:         make([]jsonCounter, 0, len(p.counters)),
	}
	for _, t := range p.threads {
		out.Threads = append(out.Threads, p.serializeThread(t))
	}
	for _, c := range p.counters {
		out.Counters = append(out.Counters, p.serializeCounter(c))
	}
	return out
}

func (p *Profile) serializeMeta() jsonMeta {
	cats := make([]jsonCategory, 0, len(p.categories))
	for _, c := range p.categories {
		cats = append(cats, jsonCategory{Name: c.name, Color: c.color, Subcategories: []string{"Other"}})
	}
	return jsonMeta{
		Categories:                    cats,
		Extensions:                    jsonExtensions{BaseURL: []string{}, ID: []string{}, Name: []string{}},
		Interval:                      float64(p.interval.Microseconds()) / 1000,
		MarkerSchema:                  []any{},
		PausedRanges:                  []any{},
		PreprocessedProfileVersion:    preprocessedProfileVersion,
		Product:                       p.product,
		SampleUnits:                   jsonSampleUnits{EventDelay: "ms", ThreadCPUDelta: "µs", Time: "ms"},
		StartTime:                     float64(p.startTime.UnixMicro()) / 1000,
		Version:                       formatVersion,
		UsesOnlyOneStackType:          true,
		DoesNotUseFrameImplementation: true,
		SourceCodeIsNotOnSearchfox:    true,
	}
}

func (p *Profile) serializeThread(t *thread) jsonThread {
	proc := p.processes[t.process]
	tt := t.tables

	frames := jsonFrameTable{Length: len(tt.frames)}
	for _, f := range tt.frames {
		frames.Address = append(frames.Address, -1)
		frames.InlineDepth = append(frames.InlineDepth, 0)
		frames.Category = append(frames.Category, int(f.category))
		frames.Subcategory = append(frames.Subcategory, 0)
		frames.Func = append(frames.Func, f.fn)
		frames.NativeSymbol = append(frames.NativeSymbol, nil)
		frames.InnerWindowID = append(frames.InnerWindowID, nil)
		frames.Implementation = append(frames.Implementation, nil)
		frames.Line = append(frames.Line, nil)
		frames.Column = append(frames.Column, nil)
	}

	funcs := jsonFuncTable{Length: len(tt.funcs)}
	for _, name := range tt.funcs {
		funcs.Name = append(funcs.Name, name)
		funcs.IsJS = append(funcs.IsJS, false)
		funcs.RelevantForJS = append(funcs.RelevantForJS, false)
		funcs.Resource = append(funcs.Resource, -1)
		funcs.FileName = append(funcs.FileName, nil)
		funcs.LineNumber = append(funcs.LineNumber, nil)
		funcs.ColumnNumber = append(funcs.ColumnNumber, nil)
	}

	stacks := jsonStackTable{Length: len(tt.stacks)}
	for _, s := range tt.stacks {
		stacks.Prefix = append(stacks.Prefix, nullable(s.prefix))
		stacks.Frame = append(stacks.Frame, s.frame)
		stacks.Category = append(stacks.Category, int(s.category))
		stacks.Subcategory = append(stacks.Subcategory, 0)
	}

	samples := jsonSamples{Length: len(t.samples), WeightType: "samples"}
	for _, s := range t.samples {
		samples.Stack = append(samples.Stack, nullable(s.stack))
		samples.Time = append(samples.Time, s.time.millis())
		samples.Weight = append(samples.Weight, s.weight)
		samples.ThreadCPUDelta = append(samples.ThreadCPUDelta, s.cpu.Microseconds())
	}

	strs := tt.strings
	if strs == nil {
		strs = []string{}
	}

	return jsonThread{
		FrameTable:   emptyFrameTable(frames),
		FuncTable:    emptyFuncTable(funcs),
		IsMainThread: t.main,
		Markers: jsonMarkers{
			Category: []int{}, Data: []any{}, EndTime: []any{},
			Name: []int{}, Phase: []int{}, StartTime: []any{},
		},
		Name: t.name,
		NativeSymbols: jsonNativeSymbols{
			Address: []int{}, FunctionSize: []int{}, LibIndex: []int{}, Name: []int{},
		},
		PausedRanges:       []any{},
		PID:                strconv.FormatUint(uint64(proc.pid), 10),
		ProcessName:        proc.name,
		ProcessStartupTime: proc.start.millis(),
		ProcessType:        "default",
		RegisterTime:       t.start.millis(),
		ResourceTable:      jsonResourceTable{Lib: []int{}, Name: []int{}, Host: []int{}, Type: []int{}},
		Samples:            emptySamples(samples),
		StackTable:         emptyStackTable(stacks),
		StringArray:        strs,
		TID:                strconv.FormatUint(t.tid, 10),
	}
}

func (p *Profile) serializeCounter(c *counter) jsonCounter {
	samples := jsonCounterSamples{
		Length: len(c.samples),
		Count:  make([]float64, 0, len(c.samples)),
		Number: make([]int, 0, len(c.samples)),
		Time:   make([]float64, 0, len(c.samples)),
	}
	for _, s := range c.samples {
		samples.Count = append(samples.Count, s.value)
		samples.Number = append(samples.Number, s.number)
		samples.Time = append(samples.Time, s.time.millis())
	}
	return jsonCounter{
		Category:        c.category,
		Name:            c.name,
		Description:     c.description,
		Color:           c.color,
		MainThreadIndex: p.mainThreadIndex(c.process),
		PID:             strconv.FormatUint(uint64(p.processes[c.process].pid), 10),
		SampleGroups:    []jsonSampleGroup{{ID: 0, Samples: samples}},
	}
}

// mainThreadIndex returns the global index of the main thread of proc,
// falling back to its first thread.
func (p *Profile) mainThreadIndex(proc ProcessHandle) int {
	threads := p.processes[proc].threads
	for _, th := range threads {
		if p.threads[th].main {
			return int(th)
		}
	}
	if len(threads) > 0 {
		return int(threads[0])
	}
	return 0
}

func nullable(i int) *int {
	if i < 0 {
		return nil
	}
	return &i
}

func emptyFrameTable(t jsonFrameTable) jsonFrameTable {
	if t.Length > 0 {
		return t
	}
	return jsonFrameTable{
		Address: []int{}, InlineDepth: []int{}, Category: []int{}, Subcategory: []int{},
		Func: []int{}, NativeSymbol: []*int{}, InnerWindowID: []*int{},
		Implementation: []*int{}, Line: []*int{}, Column: []*int{},
	}
}

func emptyFuncTable(t jsonFuncTable) jsonFuncTable {
	if t.Length > 0 {
		return t
	}
	return jsonFuncTable{
		Name: []int{}, IsJS: []bool{}, RelevantForJS: []bool{}, Resource: []int{},
		FileName: []*int{}, LineNumber: []*int{}, ColumnNumber: []*int{},
	}
}

func emptyStackTable(t jsonStackTable) jsonStackTable {
	if t.Length > 0 {
		return t
	}
	return jsonStackTable{Prefix: []*int{}, Frame: []int{}, Category: []int{}, Subcategory: []int{}}
}

func emptySamples(s jsonSamples) jsonSamples {
	if s.Length > 0 {
		return s
	}
	s.Stack = []*int{}
	s.Time = []float64{}
	s.Weight = []int{}
	s.ThreadCPUDelta = []int64{}
	return s
}
