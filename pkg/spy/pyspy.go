package spy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/danpilch/procprof/pkg/sample"
)

// PySpy attaches to processes through the py-spy command line tool.
type PySpy struct {
	Binary string // defaults to "py-spy" on PATH
}

// NewPySpy returns an attacher that uses py-spy from PATH.
func NewPySpy() *PySpy {
	return &PySpy{Binary: "py-spy"}
}

// Attach checks that py-spy is available and that one dump of the process
// succeeds.
func (p *PySpy) Attach(ctx context.Context, pid int, opts AttachOptions) (Handle, error) {
	binary := p.Binary
	if binary == "" {
		binary = "py-spy"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, &AttachError{PID: pid, Err: fmt.Errorf("py-spy not found: install it with `pip install py-spy`")}
	}
	if !processAlive(pid) {
		return nil, &AttachError{PID: pid, Err: fmt.Errorf("no such process")}
	}

	h := &pySpyHandle{binary: path, pid: pid, native: opts.Native}
	if _, err := h.CaptureStacks(ctx); err != nil {
		return nil, &AttachError{PID: pid, Err: err}
	}
	return h, nil
}

type pySpyHandle struct {
	binary string
	pid    int
	native bool
}

func (h *pySpyHandle) PID() int { return h.pid }

func (h *pySpyHandle) IsAlive() bool { return processAlive(h.pid) }

func (h *pySpyHandle) Children(ctx context.Context) ([]int, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(h.pid))
	if err != nil {
		return nil, err
	}
	children, err := proc.ChildrenWithContext(ctx)
	if err != nil {
		if errors.Is(err, process.ErrorNoChildren) {
			return nil, nil
		}
		return nil, err
	}
	pids := make([]int, 0, len(children))
	for _, c := range children {
		pids = append(pids, int(c.Pid))
	}
	return pids, nil
}

func (h *pySpyHandle) CaptureStacks(ctx context.Context) ([]sample.StackTrace, error) {
	args := []string{"dump", "--json", "--pid", strconv.Itoa(h.pid)}
	if h.native {
		args = append(args, "--native")
	}

	cmd := exec.CommandContext(ctx, h.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("py-spy dump failed: %v (%s)", err, strings.TrimSpace(stderr.String()))
	}

	return ParseDump(stdout.Bytes())
}

// ParseDump decodes the output of `py-spy dump --json`.
func ParseDump(data []byte) ([]sample.StackTrace, error) {
	var traces []sample.StackTrace
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &traces); err != nil {
		return nil, fmt.Errorf("cannot parse py-spy dump: %w", err)
	}
	return traces, nil
}
