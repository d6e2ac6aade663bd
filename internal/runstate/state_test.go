package runstate

import (
	"errors"
	"sync"
	"testing"
)

func TestRunTransitions(t *testing.T) {
	cases := []struct {
		from, to RunState
		want     bool
	}{
		{RunPending, RunSegmenting, true},
		{RunPending, RunDone, true},
		{RunPending, RunEstimating, false},
		{RunSegmenting, RunEstimating, true},
		{RunSegmenting, RunAssembling, true},
		{RunEstimating, RunPerturbing, true},
		{RunPerturbing, RunEstimating, false},
		{RunAssembling, RunDone, true},
		{RunPerturbing, RunFailed, true},
		{RunDone, RunFailed, false},
		{RunFailed, RunPending, false},
	}
	for _, tc := range cases {
		if got := CanTransitionRun(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestWindowTransitions(t *testing.T) {
	cases := []struct {
		from, to WindowState
		want     bool
	}{
		{WindowPending, WindowEstimating, true},
		{WindowPending, WindowCached, true},
		{WindowPending, WindowCompleted, false},
		{WindowEstimating, WindowPerturbing, true},
		{WindowEstimating, WindowFailed, true},
		{WindowPerturbing, WindowCompleted, true},
		{WindowCompleted, WindowFailed, false},
		{WindowCached, WindowEstimating, false},
	}
	for _, tc := range cases {
		if got := CanTransitionWindow(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker()
	for _, s := range []RunState{RunSegmenting, RunEstimating} {
		if err := tr.Advance(s); err != nil {
			t.Fatalf("Advance(%s): %v", s, err)
		}
	}
	tr.SetWindows(3)
	if err := tr.TransitionWindow(0, WindowPending, WindowCached); err != nil {
		t.Fatalf("cache window 0: %v", err)
	}
	if err := tr.TransitionWindow(1, WindowPending, WindowEstimating); err != nil {
		t.Fatalf("estimate window 1: %v", err)
	}
	if err := tr.TransitionWindow(1, WindowEstimating, WindowPerturbing); err != nil {
		t.Fatalf("perturb window 1: %v", err)
	}
	if tr.Run() != RunPerturbing {
		t.Fatalf("run should follow first perturbing window, got %s", tr.Run())
	}
	if err := tr.TransitionWindow(1, WindowPerturbing, WindowCompleted); err != nil {
		t.Fatalf("complete window 1: %v", err)
	}
	if err := tr.TransitionWindow(2, WindowPending, WindowEstimating); err != nil {
		t.Fatal(err)
	}
	if err := tr.TransitionWindow(2, WindowEstimating, WindowFailed); err != nil {
		t.Fatal(err)
	}

	counts := tr.Counts()
	if counts[WindowCached] != 1 || counts[WindowCompleted] != 1 || counts[WindowFailed] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if failed := tr.Failed(); len(failed) != 1 || failed[0] != 2 {
		t.Fatalf("unexpected failed windows %v", failed)
	}
	if err := tr.Advance(RunAssembling); err != nil {
		t.Fatal(err)
	}
	if err := tr.Advance(RunDone); err != nil {
		t.Fatal(err)
	}
	tr.Fail()
	if tr.Run() != RunDone {
		t.Fatal("Fail must not override a terminal state")
	}
}

func TestTrackerRejectsStaleTransition(t *testing.T) {
	tr := NewTracker()
	tr.SetWindows(1)
	err := tr.TransitionWindow(0, WindowEstimating, WindowPerturbing)
	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if terr.Current != string(WindowPending) {
		t.Fatalf("current state: got %s", terr.Current)
	}
	if err := tr.Advance(RunDone); err != nil {
		t.Fatalf("pending -> done should be allowed: %v", err)
	}
	if err := tr.Advance(RunSegmenting); err == nil {
		t.Fatal("expected transition out of done to fail")
	}
}

func TestTrackerConcurrentWindows(t *testing.T) {
	tr := NewTracker()
	_ = tr.Advance(RunSegmenting)
	_ = tr.Advance(RunEstimating)
	tr.SetWindows(64)
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = tr.TransitionWindow(i, WindowPending, WindowEstimating)
			_ = tr.TransitionWindow(i, WindowEstimating, WindowPerturbing)
			_ = tr.TransitionWindow(i, WindowPerturbing, WindowCompleted)
		}(i)
	}
	wg.Wait()
	if got := tr.Counts()[WindowCompleted]; got != 64 {
		t.Fatalf("completed windows: got %d want 64", got)
	}
}
