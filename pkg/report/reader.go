// Package report loads recorded sessions and summarizes them.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danpilch/procprof/pkg/sample"
)

// Session maps every identity of a session to its records in file order.
type Session map[sample.Identity][]sample.Record

// Identities returns the identities in ascending pid order, Global last.
func (s Session) Identities() []sample.Identity {
	ids := make([]sample.Identity, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// RecordCount returns the number of records across all identities.
func (s Session) RecordCount() int {
	n := 0
	for _, records := range s {
		n += len(records)
	}
	return n
}

// FormatError reports session content that cannot be interpreted.
type FormatError struct {
	Path string
	Line int // 1-based, 0 when the whole file is affected
	Err  error
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Read loads every file of a session directory. Any unreadable file,
// malformed line, unrecognized file name or second file for the same
// identity fails the whole read.
func Read(dir string) (Session, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not open data dir: %w", err)
	}

	session := make(Session)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))

		id, err := sample.ParseIdentity(stem)
		if err != nil {
			return nil, &FormatError{Path: path, Err: err}
		}
		if _, dup := session[id]; dup {
			return nil, &FormatError{Path: path, Err: fmt.Errorf("duplicate identity %s", id)}
		}

		records, err := readFile(path)
		if err != nil {
			return nil, err
		}
		session[id] = records
	}
	return session, nil
}

func readFile(path string) ([]sample.Record, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read file %s: %w", path, err)
	}

	lines := sample.SplitLines(content)
	records := make([]sample.Record, 0, len(lines))
	for i, line := range lines {
		rec, err := sample.DecodeLine(line)
		if err != nil {
			return nil, &FormatError{Path: path, Line: i + 1, Err: err}
		}
		records = append(records, rec)
	}
	return records, nil
}
