package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/procprof/pkg/config"
	"github.com/danpilch/procprof/pkg/sample"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func writeSession(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	var content []byte
	for i, mem := range []uint64{100, 150, 130} {
		line, err := sample.EncodeLine(sample.Record{
			StackTraces: []sample.StackTrace{{
				PID:        10,
				ThreadID:   1,
				ThreadName: "MainThread",
				Frames:     []sample.Frame{{Name: "main", Filename: "main.py", Line: 1}},
			}},
			Resources: sample.ProcessResources{Memory: mem},
			Index:     uint64(i),
			Time:      int64(1000 + 100*i),
		})
		if err != nil {
			t.Fatal(err)
		}
		content = append(content, line...)
	}
	if err := os.WriteFile(filepath.Join(dir, "10.json"), content, 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(config.Default(), quietLogger())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfirmClear(t *testing.T) {
	tests := []struct {
		answer string
		want   bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got, err := confirmClear(strings.NewReader(tt.answer), &out, []string{"data/10.json"})
		if err != nil {
			t.Fatalf("confirmClear(%q): %v", tt.answer, err)
		}
		if got != tt.want {
			t.Errorf("confirmClear(%q) = %v, want %v", tt.answer, got, tt.want)
		}
		if !strings.Contains(out.String(), "data/10.json") {
			t.Errorf("prompt does not list the files: %q", out.String())
		}
	}
}

func TestProfileRequiresTarget(t *testing.T) {
	if _, err := run(t, "profile", "-o", t.TempDir()); err == nil {
		t.Fatal("expected an error without --pid or command")
	}
	if _, err := run(t, "profile", "-o", t.TempDir(), "--pid", "1", "--", "python"); err == nil {
		t.Fatal("expected an error for --pid combined with a command")
	}
	if _, err := run(t, "profile", "--pid", "1"); err == nil {
		t.Fatal("expected an error without --output-dir")
	}
}

func TestSummaryCommand(t *testing.T) {
	dir := writeSession(t)
	out, err := run(t, "summary", dir, "--format", "tsv")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !strings.Contains(out, "pid 10\t3\t0.200\t1\t150\t") {
		t.Fatalf("unexpected summary output:\n%s", out)
	}
}

func TestExportCommand(t *testing.T) {
	dir := writeSession(t)
	outDir := t.TempDir()

	fx := filepath.Join(outDir, "profile.json.gz")
	if _, err := run(t, "export", dir, fx); err != nil {
		t.Fatalf("export: %v", err)
	}
	if info, err := os.Stat(fx); err != nil || info.Size() == 0 {
		t.Fatalf("expected a non-empty profile, got %v", err)
	}

	folded := filepath.Join(outDir, "stacks.folded")
	if _, err := run(t, "export", dir, folded, "--format", "folded"); err != nil {
		t.Fatalf("export folded: %v", err)
	}
	data, err := os.ReadFile(folded)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "pid 10;MainThread;main (main.py:1) 3\n" {
		t.Fatalf("unexpected folded output %q", data)
	}

	if _, err := run(t, "export", dir, fx, "--format", "svg"); err == nil {
		t.Fatal("expected an unknown format to fail")
	}
}
