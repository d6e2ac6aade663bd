package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fragility/internal/runstate"
)

// KindInterrupted marks runs whose process exited before they finished.
const KindInterrupted = "interrupted"

// Stats returns a count of runs grouped by state.
func (s *Store) Stats(ctx context.Context) (map[runstate.RunState]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT state, COUNT(1) FROM runs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[runstate.RunState]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[runstate.RunState(state)] = count
	}
	return stats, rows.Err()
}

// RecoverInterrupted fails every non-terminal run last updated before cutoff.
// Such runs belong to a process that died mid-run; their window cache
// entries are still reused by the next identical run.
func (s *Store) RecoverInterrupted(ctx context.Context, cutoff time.Time) (int64, error) {
	active := make([]string, 0, len(runstate.RunStates()))
	args := []any{string(runstate.RunFailed), KindInterrupted, "process exited before the run finished", formatTime(time.Now())}
	for _, st := range runstate.RunStates() {
		if st.Terminal() {
			continue
		}
		active = append(active, "?")
		args = append(args, string(st))
	}
	args = append(args, formatTime(cutoff))
	res, err := s.exec(ctx, `UPDATE runs SET state = ?, error_kind = ?, error_message = ?, updated_at = ?
		WHERE state IN (`+strings.Join(active, ", ")+`) AND updated_at < ?`, args...)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

// Prune deletes finished runs that ended before cutoff along with their
// window failures.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM runs WHERE state IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		string(runstate.RunDone), string(runstate.RunFailed), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}
