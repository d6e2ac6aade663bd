package runstate

import (
	"fmt"
	"sync"
)

// RunState is the lifecycle position of a whole run.
type RunState string

const (
	RunPending    RunState = "pending"
	RunSegmenting RunState = "segmenting"
	RunEstimating RunState = "estimating"
	RunPerturbing RunState = "perturbing"
	RunAssembling RunState = "assembling"
	RunDone       RunState = "done"
	RunFailed     RunState = "failed"
)

// RunStates lists every run state in lifecycle order.
func RunStates() []RunState {
	return []RunState{RunPending, RunSegmenting, RunEstimating, RunPerturbing, RunAssembling, RunDone, RunFailed}
}

// ParseRunState resolves a persisted state name.
func ParseRunState(value string) (RunState, bool) {
	for _, s := range RunStates() {
		if string(s) == value {
			return s, true
		}
	}
	return "", false
}

// Terminal reports whether no further transition is possible.
func (s RunState) Terminal() bool {
	return s == RunDone || s == RunFailed
}

// WindowState is the lifecycle position of one window.
type WindowState string

const (
	WindowPending    WindowState = "pending"
	WindowEstimating WindowState = "estimating"
	WindowPerturbing WindowState = "perturbing"
	WindowCompleted  WindowState = "completed"
	WindowFailed     WindowState = "failed"
	WindowCached     WindowState = "cached"
)

// Terminal reports whether the window is finished.
func (s WindowState) Terminal() bool {
	switch s {
	case WindowCompleted, WindowFailed, WindowCached:
		return true
	}
	return false
}

// CanTransitionRun reports whether a run may move from one state to another.
// A run whose artifact is already cached goes straight from pending to done;
// windows that are all cached skip estimation.
func CanTransitionRun(from, to RunState) bool {
	if to == RunFailed {
		return !from.Terminal()
	}
	switch from {
	case RunPending:
		return to == RunSegmenting || to == RunDone
	case RunSegmenting:
		return to == RunEstimating || to == RunAssembling
	case RunEstimating:
		return to == RunPerturbing || to == RunAssembling
	case RunPerturbing:
		return to == RunAssembling
	case RunAssembling:
		return to == RunDone
	}
	return false
}

// CanTransitionWindow reports whether a window may move between states.
func CanTransitionWindow(from, to WindowState) bool {
	switch from {
	case WindowPending:
		return to == WindowEstimating || to == WindowCached
	case WindowEstimating:
		return to == WindowPerturbing || to == WindowFailed
	case WindowPerturbing:
		return to == WindowCompleted || to == WindowFailed
	}
	return false
}

// TransitionError reports a rejected transition.
type TransitionError struct {
	Subject string
	From    string
	To      string
	Current string
}

func (e *TransitionError) Error() string {
	if e.Current != e.From {
		return fmt.Sprintf("invalid transition for %s: expected %s, got %s", e.Subject, e.From, e.Current)
	}
	return fmt.Sprintf("disallowed transition for %s: %s -> %s", e.Subject, e.From, e.To)
}

// ErrorKind classifies the error for run registry status mapping.
func (e *TransitionError) ErrorKind() string { return "internal" }

// Tracker holds the states of one run and its windows. It is safe for
// concurrent use by pool workers.
type Tracker struct {
	mu      sync.Mutex
	run     RunState
	windows []WindowState
}

// NewTracker returns a tracker in RunPending with no windows.
func NewTracker() *Tracker {
	return &Tracker{run: RunPending}
}

// Run returns the current run state.
func (t *Tracker) Run() RunState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run
}

// Advance moves the run to the given state.
func (t *Tracker) Advance(to RunState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.advanceLocked(to)
}

func (t *Tracker) advanceLocked(to RunState) error {
	if !CanTransitionRun(t.run, to) {
		return &TransitionError{Subject: "run", From: string(t.run), To: string(to), Current: string(t.run)}
	}
	t.run = to
	return nil
}

// Fail moves a non-terminal run to RunFailed. It is a no-op on terminal runs.
func (t *Tracker) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.run.Terminal() {
		t.run = RunFailed
	}
}

// SetWindows resets the window states to n pending windows.
func (t *Tracker) SetWindows(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.windows = make([]WindowState, n)
	for i := range t.windows {
		t.windows[i] = WindowPending
	}
}

// Window returns window index's state.
func (t *Tracker) Window(index int) WindowState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.windows[index]
}

// TransitionWindow moves window index from one state to another, failing when
// the window is not currently in from. The first window to reach perturbing
// advances an estimating run to RunPerturbing.
func (t *Tracker) TransitionWindow(index int, from, to WindowState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.windows) {
		return fmt.Errorf("unknown window %d", index)
	}
	subject := fmt.Sprintf("window %d", index)
	cur := t.windows[index]
	if cur != from {
		return &TransitionError{Subject: subject, From: string(from), To: string(to), Current: string(cur)}
	}
	if !CanTransitionWindow(from, to) {
		return &TransitionError{Subject: subject, From: string(from), To: string(to), Current: string(cur)}
	}
	t.windows[index] = to
	if to == WindowPerturbing && t.run == RunEstimating {
		t.run = RunPerturbing
	}
	return nil
}

// Counts tallies windows by state.
func (t *Tracker) Counts() map[WindowState]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := make(map[WindowState]int)
	for _, s := range t.windows {
		counts[s]++
	}
	return counts
}

// Failed returns the indices of failed windows in ascending order.
func (t *Tracker) Failed() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []int
	for i, s := range t.windows {
		if s == WindowFailed {
			out = append(out, i)
		}
	}
	return out
}
