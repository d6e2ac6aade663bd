package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"fragility/internal/logging"
	"fragility/internal/recording"
)

// inboxWatcher hands recordings dropped into dir to handle once they have
// stopped changing for settle. A file is handled again only if its size or
// modification time changes afterwards.
type inboxWatcher struct {
	dir      string
	settle   time.Duration
	existing bool
	logger   *slog.Logger
	handle   func(ctx context.Context, path string) error

	pending map[string]time.Time
	seen    map[string]fileStamp
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// minSettle bounds the quiet period from below; the poll ticker runs at half
// of it and must stay positive.
const minSettle = 10 * time.Millisecond

func newInboxWatcher(dir string, settle time.Duration, logger *slog.Logger, handle func(context.Context, string) error) *inboxWatcher {
	switch {
	case settle <= 0:
		settle = 2 * time.Second
	case settle < minSettle:
		settle = minSettle
	}
	return &inboxWatcher{
		dir:     dir,
		settle:  settle,
		logger:  logging.NewComponentLogger(logger, "watch"),
		handle:  handle,
		pending: make(map[string]time.Time),
		seen:    make(map[string]fileStamp),
	}
}

// Run watches until ctx is cancelled.
func (w *inboxWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "watching for recordings",
		logging.String(logging.FieldEventType, "watch_start"),
		logging.String("watch_dir", w.dir),
		logging.Duration("settle", w.settle),
	)

	if w.existing {
		entries, err := os.ReadDir(w.dir)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, e := range entries {
			if !e.IsDir() {
				w.track(filepath.Join(w.dir, e.Name()), now.Add(-w.settle))
			}
		}
	}

	ticker := time.NewTicker(w.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.track(event.Name, time.Now())

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "watcher error",
				logging.String(logging.FieldEventType, "watch_error"),
				logging.Error(err),
			)

		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

func (w *inboxWatcher) track(path string, at time.Time) {
	if !recording.Supported(path) {
		return
	}
	w.pending[path] = at
}

func (w *inboxWatcher) pollInterval() time.Duration {
	return max(w.settle/2, minSettle/2)
}

// flush handles every pending file that has settled, oldest first.
func (w *inboxWatcher) flush(ctx context.Context, now time.Time) {
	var ready []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.settle {
			ready = append(ready, path)
		}
	}
	sort.Strings(ready)
	for _, path := range ready {
		delete(w.pending, path)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}
		if prev, ok := w.seen[path]; ok && prev == stamp {
			continue
		}
		w.seen[path] = stamp
		if ctx.Err() != nil {
			return
		}
		if err := w.handle(ctx, path); err != nil {
			logging.ErrorWithContext(ctx, w.logger, "recording analysis failed", "watch_run_failed",
				logging.String("recording", filepath.Base(path)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the recording has no artifact"),
				logging.String(logging.FieldErrorHint, "fix the file and save it again to retry"),
			)
		}
	}
}
