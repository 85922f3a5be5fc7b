package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	jsoniter "github.com/json-iterator/go"

	"github.com/danpilch/procprof/pkg/sample"
)

func testSession() Session {
	proc := []sample.Record{record(0, 1000, 100), record(1, 2000, 300), record(2, 3500, 200)}
	proc[0].Resources.CPU = 10
	proc[1].Resources.CPU = 40
	proc[2].Resources.CPU = 10
	proc[0].Resources.DiskReadBytes = 1000
	proc[2].Resources.DiskReadBytes = 1500
	proc[2].Resources.DiskWriteBytes = 500
	proc[2].StackTraces = append(proc[2].StackTraces, sample.StackTrace{PID: 10, ThreadID: 2})

	return Session{
		sample.ProcessIdentity(10): proc,
		sample.GlobalIdentity: {
			{Resources: sample.ProcessResources{Memory: 5000, CPU: 100}, Time: 500},
			{Resources: sample.ProcessResources{Memory: 6000, CPU: 300}, Time: 3500},
		},
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize(testSession())

	if got.Start.UnixMilli() != 500 {
		t.Errorf("expected start at 500ms, got %d", got.Start.UnixMilli())
	}
	if got.Duration != 3 {
		t.Errorf("expected 3s session, got %v", got.Duration)
	}
	if got.Records != 5 {
		t.Errorf("expected 5 records, got %d", got.Records)
	}

	want := []IdentitySummary{
		{
			Identity:   "pid 10",
			Records:    3,
			Duration:   2.5,
			Threads:    2,
			PeakMemory: 300,
			MeanCPU:    20,
			MaxCPU:     40,
			DiskBytes:  1000,
		},
		{
			Identity:   "Global",
			Records:    2,
			Duration:   3,
			PeakMemory: 6000,
			MeanCPU:    200,
			MaxCPU:     300,
		},
	}
	opts := cmpopts.IgnoreFields(IdentitySummary{}, "Memory")
	if diff := cmp.Diff(want, got.Identities, opts); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	got := Summarize(Session{})
	if got.Records != 0 || len(got.Identities) != 0 || !got.Start.IsZero() {
		t.Fatalf("expected an empty summary, got %+v", got)
	}
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, Summarize(testSession()), FormatJSON); err != nil {
		t.Fatalf("Render: %v", err)
	}

	var decoded struct {
		Records    int `json:"records"`
		Identities []struct {
			Identity   string `json:"identity"`
			PeakMemory uint64 `json:"peak_memory"`
		} `json:"identities"`
	}
	if err := jsoniter.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if decoded.Records != 5 || len(decoded.Identities) != 2 {
		t.Fatalf("unexpected JSON summary %+v", decoded)
	}
	if decoded.Identities[0].Identity != "pid 10" || decoded.Identities[0].PeakMemory != 300 {
		t.Fatalf("unexpected first identity %+v", decoded.Identities[0])
	}
}

func TestRenderTSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, Summarize(testSession()), FormatTSV); err != nil {
		t.Fatalf("Render: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", lines)
	}
	if !strings.HasPrefix(lines[1], "pid 10\t3\t2.500\t2\t300\t") {
		t.Errorf("unexpected process row %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "Global\t2\t") {
		t.Errorf("unexpected Global row %q", lines[2])
	}
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, Summarize(testSession()), FormatTable); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"pid 10", "Global", "300 B", "5.9 KB"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	if err := Render(&bytes.Buffer{}, Summary{}, "xml"); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}

func TestRenderSparkline(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   string
	}{
		{"empty", nil, ""},
		{"flat", []float64{5, 5, 5}, "▁▁▁"},
		{"ramp", []float64{0, 7}, "▁█"},
		{"dip", []float64{7, 0, 7}, "█▁█"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderSparkline(tt.values); got != tt.want {
				t.Errorf("renderSparkline(%v) = %q, want %q", tt.values, got, tt.want)
			}
		})
	}
}

func TestDownsample(t *testing.T) {
	got := downsample([]float64{1, 3, 5, 7, 9, 11}, 3)
	if diff := cmp.Diff([]float64{2, 6, 10}, got); diff != "" {
		t.Fatalf("downsample mismatch (-want +got):\n%s", diff)
	}
	short := []float64{1, 2}
	if diff := cmp.Diff(short, downsample(short, 3)); diff != "" {
		t.Fatalf("short input should pass through (-want +got):\n%s", diff)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{6000, "5.9 KB"},
		{3 << 20, "3.0 MB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
