package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RetentionTarget selects files in Dir whose names match Pattern. Paths in
// Keep are never removed, typically the file currently being written.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Keep    []string
}

// PruneResult summarises one PruneLogs pass.
type PruneResult struct {
	Removed int
	Bytes   int64
}

// PruneLogs deletes target files last modified more than retentionDays ago.
// retentionDays <= 0 disables pruning. Failures are logged and skipped.
func PruneLogs(ctx context.Context, logger *slog.Logger, retentionDays int, targets ...RetentionTarget) PruneResult {
	var res PruneResult
	if retentionDays <= 0 {
		return res
	}
	if logger == nil {
		logger = NewNop()
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	for _, target := range targets {
		if target.Dir == "" {
			continue
		}
		pattern := target.Pattern
		if pattern == "" {
			pattern = "*"
		}
		matches, err := filepath.Glob(filepath.Join(target.Dir, pattern))
		if err != nil {
			continue
		}
		keep := make(map[string]bool, len(target.Keep))
		for _, p := range target.Keep {
			keep[filepath.Clean(p)] = true
		}
		for _, path := range matches {
			if keep[filepath.Clean(path)] {
				continue
			}
			info, err := os.Lstat(path)
			if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(path); err != nil {
				WarnWithContext(ctx, logger, "old log not removed", "log_retention_failed",
					String("path", path),
					Error(err),
					String(FieldErrorHint, "check permissions on paths.log_dir"),
					String(FieldImpact, "old log file remains on disk"),
				)
				continue
			}
			res.Removed++
			res.Bytes += info.Size()
			logger.DebugContext(ctx, "log pruned",
				String(FieldEventType, "log_pruned"),
				String("path", path),
			)
		}
	}
	return res
}
