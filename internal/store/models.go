package store

import (
	"time"

	"fragility/internal/runstate"
)

// Run is one registry row.
type Run struct {
	ID              string
	RecordingName   string
	RecordingID     string
	ParamsHash      string
	Mode            string
	Radius          float64
	Solver          string
	Channels        int
	Samples         int
	Windows         int
	WindowsComputed int
	WindowsCached   int
	WindowsFailed   int
	CacheHit        bool
	State           runstate.RunState
	ErrorKind       string
	ErrorMessage    string
	ArtifactPath    string
	StartedAt       time.Time
	UpdatedAt       time.Time
	FinishedAt      time.Time
	Duration        time.Duration
}

// Finished reports whether the run reached a terminal state.
func (r *Run) Finished() bool {
	return r != nil && r.State.Terminal()
}

// WindowFailure records why one window of a run failed.
type WindowFailure struct {
	RunID   string
	Window  int
	Kind    string
	Message string
}

// ListOptions filters List results.
type ListOptions struct {
	States      []runstate.RunState
	RecordingID string
	// Limit caps the number of rows; 0 means no limit.
	Limit int
}
