package tracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/procprof/pkg/sample"
)

// DefaultQueueCapacity is the number of pending write requests before
// Submit blocks.
const DefaultQueueCapacity = 100

// ErrWriterClosed is returned by Submit after Close.
var ErrWriterClosed = errors.New("writer closed")

// WriteRequest is one record to append to the file of its identity.
type WriteRequest struct {
	Identity    sample.Identity
	Resources   sample.ProcessResources
	StackTraces []sample.StackTrace
	Time        int64
}

// Writer appends records to per-identity files from a single goroutine.
// Index assignment and file handles belong to that goroutine only.
type Writer struct {
	dir    string
	in     chan WriteRequest
	done   chan struct{}
	failed chan struct{}
	err    error // set once, before failed is closed
	counts map[sample.Identity]uint64

	mu     sync.RWMutex
	closed bool

	logger *logrus.Logger
}

// StartWriter starts the writer goroutine for dir.
func StartWriter(dir string, capacity int, logger *logrus.Logger) *Writer {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	w := &Writer{
		dir:    dir,
		in:     make(chan WriteRequest, capacity),
		done:   make(chan struct{}),
		failed: make(chan struct{}),
		logger: logger,
	}
	go w.run()
	return w
}

// Submit queues a request. It blocks while the queue is full, which throttles
// the caller instead of buffering without bound. After a write failure every
// Submit returns that failure.
func (w *Writer) Submit(ctx context.Context, req WriteRequest) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}

	select {
	case <-w.failed:
		return w.err
	default:
	}

	select {
	case w.in <- req:
		return nil
	case <-w.failed:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting requests, waits until every queued request is
// written and returns the first write failure, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.in)
	}
	w.mu.Unlock()

	<-w.done
	return w.err
}

// Counts returns the number of records written per identity. Only valid
// after Close.
func (w *Writer) Counts() map[sample.Identity]uint64 {
	<-w.done
	return w.counts
}

func (w *Writer) run() {
	files := make(map[sample.Identity]*os.File)
	indexes := make(map[sample.Identity]uint64)

	defer func() {
		for id, f := range files {
			if err := f.Close(); err != nil && w.err == nil {
				w.fail(fmt.Errorf("cannot close %s: %w", id.FileName(), err))
			}
		}
		w.counts = indexes
		close(w.done)
	}()

	for req := range w.in {
		if w.err != nil {
			// drain without writing so that Close returns
			continue
		}
		if err := w.write(files, indexes, req); err != nil {
			w.fail(err)
		}
	}
}

func (w *Writer) fail(err error) {
	w.logger.WithError(err).Error("Writing samples failed")
	w.err = err
	close(w.failed)
}

func (w *Writer) write(files map[sample.Identity]*os.File, indexes map[sample.Identity]uint64, req WriteRequest) error {
	f, ok := files[req.Identity]
	if !ok {
		path := filepath.Join(w.dir, req.Identity.FileName())
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("cannot open %s: %w", path, err)
		}
		files[req.Identity] = f
	}

	stacks := req.StackTraces
	if stacks == nil {
		stacks = []sample.StackTrace{}
	}
	res := req.Resources
	if res.ThreadResources == nil {
		res.ThreadResources = map[uint64]sample.ThreadResources{}
	}

	index := indexes[req.Identity]
	line, err := sample.EncodeLine(sample.Record{
		StackTraces: stacks,
		Resources:   res,
		Index:       index,
		Time:        req.Time,
	})
	if err != nil {
		return err
	}

	w.logger.WithFields(logrus.Fields{"file": f.Name(), "index": index}).Trace("Writing stacktraces")
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("cannot append to %s: %w", f.Name(), err)
	}
	indexes[req.Identity] = index + 1
	return nil
}
