package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fragility/internal/pipeline"
	"fragility/internal/runstate"
)

var _ pipeline.Recorder = (*Store)(nil)

const runColumns = "id, recording_name, recording_id, params_hash, mode, radius, solver, channels, samples, windows, windows_computed, windows_cached, windows_failed, cache_hit, state, error_kind, error_message, artifact_path, started_at, updated_at, finished_at, duration_ms"

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// RunStarted inserts a pending run.
func (s *Store) RunStarted(ctx context.Context, run pipeline.RunInfo) error {
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is required")
	}
	started := run.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := s.exec(ctx, `INSERT INTO runs (
		id, recording_name, recording_id, params_hash, mode, radius, solver,
		channels, samples, state, started_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.RecordingName, run.RecordingID, run.ParamsHash,
		string(run.Params.Mode), run.Params.Radius, string(run.Params.Solver),
		run.Channels, run.Samples, string(runstate.RunPending),
		formatTime(started), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RunStateChanged moves a run to state, rejecting transitions the run state
// machine does not allow.
func (s *Store) RunStateChanged(ctx context.Context, runID string, state runstate.RunState) error {
	return s.transition(ctx, runID, state, nil)
}

// transition checks and applies a state change in one transaction. extra
// runs inside the transaction after the state update.
func (s *Store) transition(ctx context.Context, runID string, to runstate.RunState, extra func(*sql.Tx) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var current string
		if err := tx.QueryRowContext(ctx, "SELECT state FROM runs WHERE id = ?", runID).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
			}
			return fmt.Errorf("read run state: %w", err)
		}
		from := runstate.RunState(current)
		if from != to && !runstate.CanTransitionRun(from, to) {
			return &runstate.TransitionError{Subject: "run " + runID, From: current, To: string(to), Current: current}
		}
		if _, err := tx.ExecContext(ctx, "UPDATE runs SET state = ?, updated_at = ? WHERE id = ?",
			string(to), formatTime(time.Now()), runID); err != nil {
			return fmt.Errorf("update run state: %w", err)
		}
		if extra != nil {
			if err := extra(tx); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// WindowFailed records a failed window.
func (s *Store) WindowFailed(ctx context.Context, runID string, window int, kind, message string) error {
	_, err := s.exec(ctx, `INSERT INTO window_failures (run_id, window_index, kind, message)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, window_index) DO UPDATE SET kind = excluded.kind, message = excluded.message`,
		runID, window, kind, message)
	if err != nil {
		return fmt.Errorf("record window failure: %w", err)
	}
	return nil
}

// RunFinished stores the final report. kind and message are empty for
// successful runs.
func (s *Store) RunFinished(ctx context.Context, report pipeline.Report, kind, message string) error {
	state := report.State
	if state == "" {
		state = runstate.RunFailed
	}
	now := time.Now()
	return s.transition(ctx, report.RunID, state, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE runs SET
			windows = ?, windows_computed = ?, windows_cached = ?, windows_failed = ?,
			cache_hit = ?, error_kind = ?, error_message = ?, finished_at = ?, duration_ms = ?
			WHERE id = ?`,
			report.Windows, report.WindowsComputed, report.WindowsCached, report.WindowsFailed,
			boolToInt(report.CacheHit), nullIfEmpty(kind), nullIfEmpty(message),
			formatTime(now), report.Duration.Milliseconds(), report.RunID,
		)
		if err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
		return nil
	})
}

// SetArtifactPath records where a run's artifact was exported.
func (s *Store) SetArtifactPath(ctx context.Context, runID, path string) error {
	res, err := s.exec(ctx, "UPDATE runs SET artifact_path = ?, updated_at = ? WHERE id = ?",
		path, formatTime(time.Now()), runID)
	if err != nil {
		return fmt.Errorf("set artifact path: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// Get returns the run with id, or a unique run whose ID starts with id.
// It returns nil when nothing matches.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	ctx = ensureContext(ctx)
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("run id is required")
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE id = ? OR id LIKE ? ORDER BY id LIMIT 2", id, escapeLike(id)+"%")
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()
	var found []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		if run.ID == id {
			return run, nil
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	}
	return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Run, error) {
	ctx = ensureContext(ctx)
	var (
		where []string
		args  []any
	)
	if len(opts.States) > 0 {
		placeholders := make([]string, len(opts.States))
		for i, st := range opts.States {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "state IN ("+strings.Join(placeholders, ", ")+")")
	}
	if opts.RecordingID != "" {
		where = append(where, "recording_id = ?")
		args = append(args, opts.RecordingID)
	}
	query := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// WindowFailures returns the failed windows of a run in window order.
func (s *Store) WindowFailures(ctx context.Context, runID string) ([]WindowFailure, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT run_id, window_index, kind, message FROM window_failures WHERE run_id = ? ORDER BY window_index", runID)
	if err != nil {
		return nil, fmt.Errorf("list window failures: %w", err)
	}
	defer rows.Close()
	var out []WindowFailure
	for rows.Next() {
		var f WindowFailure
		if err := rows.Scan(&f.RunID, &f.Window, &f.Kind, &f.Message); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run          Run
		state        string
		cacheHit     int
		errorKind    sql.NullString
		errorMessage sql.NullString
		artifactPath sql.NullString
		startedRaw   sql.NullString
		updatedRaw   sql.NullString
		finishedRaw  sql.NullString
		durationMs   sql.NullInt64
	)
	if err := scanner.Scan(
		&run.ID,
		&run.RecordingName,
		&run.RecordingID,
		&run.ParamsHash,
		&run.Mode,
		&run.Radius,
		&run.Solver,
		&run.Channels,
		&run.Samples,
		&run.Windows,
		&run.WindowsComputed,
		&run.WindowsCached,
		&run.WindowsFailed,
		&cacheHit,
		&state,
		&errorKind,
		&errorMessage,
		&artifactPath,
		&startedRaw,
		&updatedRaw,
		&finishedRaw,
		&durationMs,
	); err != nil {
		return nil, err
	}
	run.State = runstate.RunState(state)
	run.CacheHit = cacheHit != 0
	run.ErrorKind = errorKind.String
	run.ErrorMessage = errorMessage.String
	run.ArtifactPath = artifactPath.String
	run.StartedAt = parseTime(startedRaw)
	run.UpdatedAt = parseTime(updatedRaw)
	run.FinishedAt = parseTime(finishedRaw)
	if durationMs.Valid {
		run.Duration = time.Duration(durationMs.Int64) * time.Millisecond
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func escapeLike(s string) string {
	r := strings.NewReplacer("%", "", "_", "")
	return r.Replace(s)
}
