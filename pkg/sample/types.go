// Package sample defines the records that make up a recorded profiling session.
package sample

import (
	"fmt"
	"strconv"
	"time"
)

// FileExt is the extension of every per-identity session file.
const FileExt = ".json"

// globalStem is the file stem of the system-wide aggregate bucket.
const globalStem = "global"

// Record is one tick of one identity. Records are appended once and never mutated.
type Record struct {
	StackTraces []StackTrace     `json:"stacktraces"`
	Resources   ProcessResources `json:"resources"`
	Index       uint64           `json:"index"`
	Time        int64            `json:"time"` // milliseconds since the Unix epoch
}

// ThreadResources holds the resource usage of a single OS thread.
type ThreadResources struct {
	CPU            float64 `json:"cpu"`
	Memory         uint64  `json:"memory"`
	DiskReadBytes  uint64  `json:"disk_read_bytes"`
	DiskWriteBytes uint64  `json:"disk_write_bytes"`
}

// ProcessResources holds the resource usage of a process, or of the whole
// system for the Global identity. CPU is a percentage where 100 is one
// logical core, so it may exceed 100.
type ProcessResources struct {
	Memory          uint64                     `json:"memory"`
	CPU             float64                    `json:"cpu"`
	DiskReadBytes   uint64                     `json:"disk_read_bytes"`
	DiskWriteBytes  uint64                     `json:"disk_write_bytes"`
	ThreadResources map[uint64]ThreadResources `json:"thread_resources"`
}

// DiskBytes returns the sum of read and written bytes.
func (r ProcessResources) DiskBytes() uint64 {
	return r.DiskReadBytes + r.DiskWriteBytes
}

// StackTrace is the call stack of one thread at one point in time.
// Frames are ordered innermost first, as delivered by the capture backend.
type StackTrace struct {
	PID        int     `json:"pid"`
	ThreadID   uint64  `json:"thread_id"`
	ThreadName string  `json:"thread_name,omitempty"`
	OSThreadID *uint64 `json:"os_thread_id,omitempty"`
	Active     bool    `json:"active"`
	OwnsGIL    bool    `json:"owns_gil"`
	Frames     []Frame `json:"frames"`
}

// Frame is one call stack entry.
type Frame struct {
	Name          string `json:"name"`
	Filename      string `json:"filename"`
	Module        string `json:"module,omitempty"`
	ShortFilename string `json:"short_filename,omitempty"`
	Line          int    `json:"line"`
	IsEntry       bool   `json:"is_entry"` // native boundary
}

// DisplayFilename returns the short filename, or the full one when the
// backend did not supply a short form.
func (f Frame) DisplayFilename() string {
	if f.ShortFilename != "" {
		return f.ShortFilename
	}
	return f.Filename
}

// Identity names the owner of a session file: a process or the Global bucket.
type Identity struct {
	PID    uint32
	Global bool
}

// GlobalIdentity is the synthetic bucket for system-wide aggregates.
var GlobalIdentity = Identity{Global: true}

// ProcessIdentity returns the identity of a process.
func ProcessIdentity(pid uint32) Identity {
	return Identity{PID: pid}
}

// ParseIdentity parses a session file stem. The stem must be "global" or an
// unsigned 32-bit decimal process id.
func ParseIdentity(stem string) (Identity, error) {
	if stem == globalStem {
		return GlobalIdentity, nil
	}
	pid, err := strconv.ParseUint(stem, 10, 32)
	if err != nil {
		return Identity{}, fmt.Errorf("could not parse pid from %q: %w", stem, err)
	}
	return ProcessIdentity(uint32(pid)), nil
}

// Stem returns the file stem of the identity.
func (i Identity) Stem() string {
	if i.Global {
		return globalStem
	}
	return strconv.FormatUint(uint64(i.PID), 10)
}

// FileName returns the session file name of the identity.
func (i Identity) FileName() string {
	return i.Stem() + FileExt
}

func (i Identity) String() string {
	if i.Global {
		return "Global"
	}
	return "pid " + i.Stem()
}

// Less orders process identities by pid and puts Global last.
func (i Identity) Less(o Identity) bool {
	if i.Global != o.Global {
		return o.Global
	}
	return i.PID < o.PID
}

// Millis converts a wall clock time to the record time unit.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
