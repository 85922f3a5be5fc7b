package spy_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/danpilch/procprof/pkg/sample"
	"github.com/danpilch/procprof/pkg/spy"
	"github.com/danpilch/procprof/pkg/spy/spytest"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestNewTreeRootAttachFailure(t *testing.T) {
	attacher := spytest.NewAttacher()

	_, err := spy.NewTree(context.Background(), attacher, 10, spy.AttachOptions{}, quietLogger())
	var attachErr *spy.AttachError
	if !errors.As(err, &attachErr) {
		t.Fatalf("expected AttachError, got %v", err)
	}
	if attachErr.PID != 10 {
		t.Fatalf("expected pid 10 in error, got %d", attachErr.PID)
	}
}

func TestRefreshDiscoversChildren(t *testing.T) {
	attacher := spytest.NewAttacher()
	root := attacher.Add(10, &spytest.Process{})
	attacher.Add(11, &spytest.Process{Children: []int{12}})
	attacher.Add(12, &spytest.Process{})

	tree, err := spy.NewTree(context.Background(), attacher, 10, spy.AttachOptions{}, quietLogger())
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	if diff := cmp.Diff([]int{10}, tree.PIDs()); diff != "" {
		t.Fatalf("pids mismatch (-want +got):\n%s", diff)
	}

	root.Children = []int{11}
	tree.Refresh(context.Background())
	if diff := cmp.Diff([]int{10, 11}, tree.PIDs()); diff != "" {
		t.Fatalf("pids mismatch after first refresh (-want +got):\n%s", diff)
	}

	// grandchildren are found on the next refresh; known children are not re-attached
	tree.Refresh(context.Background())
	if diff := cmp.Diff([]int{10, 11, 12}, tree.PIDs()); diff != "" {
		t.Fatalf("pids mismatch after second refresh (-want +got):\n%s", diff)
	}
	if n := attacher.Attempts(11); n != 1 {
		t.Fatalf("expected child 11 attached once, got %d", n)
	}
}

func TestRefreshChildAttachFailureIsNotFatal(t *testing.T) {
	attacher := spytest.NewAttacher()
	attacher.Add(10, &spytest.Process{Children: []int{11, 12}})
	attacher.Add(12, &spytest.Process{})
	// pid 11 is unknown to the attacher, so attaching it fails

	tree, err := spy.NewTree(context.Background(), attacher, 10, spy.AttachOptions{}, quietLogger())
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	tree.Refresh(context.Background())

	if diff := cmp.Diff([]int{10, 12}, tree.PIDs()); diff != "" {
		t.Fatalf("pids mismatch (-want +got):\n%s", diff)
	}
}

func TestRefreshDropsExitedProcesses(t *testing.T) {
	attacher := spytest.NewAttacher()
	root := attacher.Add(10, &spytest.Process{Children: []int{11}})
	child := attacher.Add(11, &spytest.Process{})

	tree, err := spy.NewTree(context.Background(), attacher, 10, spy.AttachOptions{}, quietLogger())
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	tree.Refresh(context.Background())

	root.Dead = true
	tree.Refresh(context.Background())
	if diff := cmp.Diff([]int{11}, tree.PIDs()); diff != "" {
		t.Fatalf("pids mismatch (-want +got):\n%s", diff)
	}
	if !tree.AnyLive() {
		t.Fatalf("expected child to keep the tree alive")
	}

	child.Dead = true
	if tree.AnyLive() {
		t.Fatalf("expected no live process once every process died")
	}
	tree.Refresh(context.Background())
	if len(tree.PIDs()) != 0 {
		t.Fatalf("expected empty tree, got %v", tree.PIDs())
	}
}

func TestCaptureStacksSkipsFailures(t *testing.T) {
	attacher := spytest.NewAttacher()
	trace := sample.StackTrace{PID: 10, ThreadID: 1, ThreadName: "MainThread"}
	attacher.Add(10, &spytest.Process{Children: []int{11}, Stacks: []sample.StackTrace{trace}})
	failing := attacher.Add(11, &spytest.Process{})

	tree, err := spy.NewTree(context.Background(), attacher, 10, spy.AttachOptions{}, quietLogger())
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	tree.Refresh(context.Background())
	failing.FailCapture = true

	got := tree.CaptureStacks(context.Background())
	want := map[int][]sample.StackTrace{10: {trace}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("captures mismatch (-want +got):\n%s", diff)
	}

	// the failure is per tick only
	failing.FailCapture = false
	got = tree.CaptureStacks(context.Background())
	if _, ok := got[11]; !ok {
		t.Fatalf("expected pid 11 to be captured again on the next tick")
	}
}
