package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/danpilch/procprof/pkg/sample"
)

// SessionFiles returns the session files already present in dir, sorted.
// A missing directory has no session files.
func SessionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == sample.FileExt {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Prepare creates dir if needed and removes the given session files from a
// previous run.
func Prepare(dir string, stale []string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create data directory: %w", err)
	}
	for _, f := range stale {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cannot clear data directory: %w", err)
		}
	}
	return nil
}
