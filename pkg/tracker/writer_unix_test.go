//go:build unix

package tracker

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/danpilch/procprof/pkg/sample"
)

// stalledWriter returns a writer whose goroutine is stuck opening a FIFO at
// the file of pid 10, with its queue filled to capacity. Calling the returned
// function opens the read end, which lets the writer continue.
func stalledWriter(t *testing.T, capacity int) (*Writer, func()) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, sample.ProcessIdentity(10).FileName())
	if err := unix.Mkfifo(path, 0644); err != nil {
		t.Fatalf("Mkfifo: %v", err)
	}

	w := StartWriter(dir, capacity, quietLogger())
	submit := func(i int) {
		req := WriteRequest{Identity: sample.ProcessIdentity(10), Time: int64(i)}
		if err := w.Submit(context.Background(), req); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	// The first request is taken by the writer goroutine, which then
	// blocks in open until a reader shows up.
	submit(0)
	deadline := time.Now().Add(5 * time.Second)
	for len(w.in) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("writer goroutine never took the first request")
		}
		time.Sleep(time.Millisecond)
	}
	for i := 1; i <= capacity; i++ {
		submit(i)
	}

	drained := make(chan []byte, 1)
	resume := func() {
		go func() {
			f, err := os.Open(path)
			if err != nil {
				drained <- nil
				return
			}
			defer f.Close()
			data, _ := io.ReadAll(f)
			drained <- data
		}()
	}
	t.Cleanup(func() {
		select {
		case <-drained:
		case <-time.After(5 * time.Second):
		}
	})
	return w, resume
}

func TestSubmitBlocksOnFullQueue(t *testing.T) {
	w, resume := stalledWriter(t, 2)

	result := make(chan error, 1)
	go func() {
		result <- w.Submit(context.Background(), WriteRequest{Identity: sample.ProcessIdentity(10), Time: 3})
	}()

	select {
	case err := <-result:
		t.Fatalf("Submit returned %v while the queue was full", err)
	case <-time.After(100 * time.Millisecond):
	}

	resume()
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Submit after resume: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Submit still blocked after the writer resumed")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := w.Counts()[sample.ProcessIdentity(10)]; n != 4 {
		t.Fatalf("expected 4 records written, got %d", n)
	}
}

func TestSubmitOnFullQueueHonorsCancel(t *testing.T) {
	w, resume := stalledWriter(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- w.Submit(ctx, WriteRequest{Identity: sample.ProcessIdentity(10), Time: 3})
	}()

	select {
	case err := <-result:
		t.Fatalf("Submit returned %v while the queue was full", err)
	case <-time.After(50 * time.Millisecond):
	}
	cancel()

	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Submit ignored the cancelled context")
	}

	resume()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := w.Counts()[sample.ProcessIdentity(10)]; n != 3 {
		t.Fatalf("expected only the 3 queued records, got %d", n)
	}
}
