package export

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/danpilch/procprof/pkg/fxprof"
	"github.com/danpilch/procprof/pkg/report"
)

// WriteProfile writes the profile as gzip-compressed JSON to path.
func WriteProfile(path string, profile *fxprof.Profile) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create output file %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("cannot write output file %s: %w", path, cerr)
		}
	}()

	return writeCompressed(f, profile)
}

func writeCompressed(w io.Writer, profile *fxprof.Profile) error {
	gz := gzip.NewWriter(w)
	if err := profile.Encode(gz); err != nil {
		gz.Close()
		return err
	}
	// the trailer is only written on Close
	if err := gz.Close(); err != nil {
		return fmt.Errorf("cannot finish gzip stream: %w", err)
	}
	return nil
}

// ExportTimeline reads the session in dir and writes it as a Firefox
// Profiler profile to out.
func ExportTimeline(dir, out string, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	session, err := readSession(dir)
	if err != nil {
		return err
	}

	profile, err := Build(session, logger)
	if err != nil {
		if errors.Is(err, ErrEmptySession) {
			return &report.FormatError{Path: dir, Err: err}
		}
		return fmt.Errorf("cannot build profile: %w", err)
	}

	if err := WriteProfile(out, profile); err != nil {
		return err
	}

	logger.Infof("Wrote Firefox profile to %s. Open it in https://profiler.firefox.com", out)
	return nil
}

// ExportFolded reads the session in dir and writes its stacks in folded
// format to w.
func ExportFolded(dir string, w io.Writer) error {
	session, err := readSession(dir)
	if err != nil {
		return err
	}
	if session.RecordCount() == 0 {
		return &report.FormatError{Path: dir, Err: ErrEmptySession}
	}
	return WriteFolded(w, Fold(session))
}

func readSession(dir string) (report.Session, error) {
	session, err := report.Read(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading report: %w", err)
	}
	return session, nil
}
