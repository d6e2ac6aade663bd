package pipeline

import (
	"context"
	"time"

	"fragility/internal/runstate"
)

// Report summarizes one run.
type Report struct {
	RunID         string
	State         runstate.RunState
	CacheHit      bool
	RecordingName string
	RecordingID   string
	ParamsHash    string
	Channels      int
	Windows       int

	WindowsComputed int
	WindowsCached   int
	WindowsFailed   int
	FailedWindows   []int

	StartedAt time.Time
	Duration  time.Duration
}

// RunInfo describes a run when it starts.
type RunInfo struct {
	ID            string
	RecordingName string
	RecordingID   string
	ParamsHash    string
	Params        Params
	Channels      int
	Samples       int
	StartedAt     time.Time
}

// Recorder receives run lifecycle events. Errors are logged and never fail
// the run.
type Recorder interface {
	RunStarted(ctx context.Context, run RunInfo) error
	RunStateChanged(ctx context.Context, runID string, state runstate.RunState) error
	WindowFailed(ctx context.Context, runID string, window int, kind, message string) error
	RunFinished(ctx context.Context, report Report, kind, message string) error
}

// Collector receives finished run reports for metrics export.
type Collector interface {
	ObserveRun(report Report, err error)
}
