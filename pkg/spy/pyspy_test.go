package spy

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/danpilch/procprof/pkg/sample"
)

const dumpOutput = `[
  {
    "pid": 4242,
    "thread_id": 139871,
    "thread_name": "MainThread",
    "os_thread_id": 4242,
    "active": true,
    "owns_gil": true,
    "frames": [
      {"name": "inner", "filename": "/app/lib.py", "module": null, "short_filename": "lib.py", "line": 7, "locals": null, "is_entry": false},
      {"name": "<module>", "filename": "/app/main.py", "module": null, "short_filename": "main.py", "line": 3, "locals": null, "is_entry": true}
    ],
    "process_info": {"pid": 4242, "command_line": "python main.py", "parent": null}
  },
  {
    "pid": 4242,
    "thread_id": 139872,
    "thread_name": null,
    "os_thread_id": null,
    "active": false,
    "owns_gil": false,
    "frames": [],
    "process_info": null
  }
]`

func TestParseDump(t *testing.T) {
	traces, err := ParseDump([]byte(dumpOutput))
	if err != nil {
		t.Fatalf("ParseDump: %v", err)
	}

	osTID := uint64(4242)
	want := []sample.StackTrace{
		{
			PID:        4242,
			ThreadID:   139871,
			ThreadName: "MainThread",
			OSThreadID: &osTID,
			Active:     true,
			OwnsGIL:    true,
			Frames: []sample.Frame{
				{Name: "inner", Filename: "/app/lib.py", ShortFilename: "lib.py", Line: 7},
				{Name: "<module>", Filename: "/app/main.py", ShortFilename: "main.py", Line: 3, IsEntry: true},
			},
		},
		{
			PID:      4242,
			ThreadID: 139872,
		},
	}
	if diff := cmp.Diff(want, traces, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("traces mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDumpMalformed(t *testing.T) {
	if _, err := ParseDump([]byte("Error: Failed to find python version")); err == nil {
		t.Fatalf("expected error for non-JSON output")
	}
}

func TestPySpyAttachMissingBinary(t *testing.T) {
	p := &PySpy{Binary: "definitely-not-py-spy-binary"}
	_, err := p.Attach(context.Background(), 1, AttachOptions{})
	var attachErr *AttachError
	if !errors.As(err, &attachErr) {
		t.Fatalf("expected AttachError, got %v", err)
	}
}

func TestProcessAliveRejectsInvalidPID(t *testing.T) {
	if processAlive(0) || processAlive(-5) {
		t.Fatalf("expected non-positive pids to be reported dead")
	}
}
