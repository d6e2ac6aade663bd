package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"fragility/internal/artifact"
	"fragility/internal/fileutil"
)

const (
	artifactBase   = "artifact"
	lockFileName   = ".lock"
	windowPrefix   = "window-"
	windowSuffix   = ".npz"
	lockRetryDelay = 100 * time.Millisecond
)

// FileCache is the on-disk cache.
type FileCache struct {
	dir string
}

// NewFileCache returns a cache rooted at dir, creating it if needed.
func NewFileCache(dir string) (*FileCache, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("cache: directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: ensure dir: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

// Dir returns the cache root.
func (c *FileCache) Dir() string { return c.dir }

// EntryDir returns the directory holding key's files.
func (c *FileCache) EntryDir(key Key) string {
	return filepath.Join(c.dir, key.Recording[:2], key.Recording, key.Params)
}

// Windows returns the per-window view of the cache.
func (c *FileCache) Windows() WindowCache { return fileWindows{c} }

// Artifacts returns the artifact view of the cache.
func (c *FileCache) Artifacts() ArtifactCache { return fileArtifacts{c} }

// Lock takes the cross-process lock for key, polling until ctx is done.
// The returned function releases it.
func (c *FileCache) Lock(ctx context.Context, key Key) (func() error, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("cache: invalid key %q", key)
	}
	dir := c.EntryDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: ensure entry dir: %w", err)
	}
	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("cache: lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("cache: lock %s: not acquired", key)
	}
	return lock.Unlock, nil
}

func (c *FileCache) windowPath(key Key, index int) string {
	return filepath.Join(c.EntryDir(key), fmt.Sprintf("%s%05d%s", windowPrefix, index, windowSuffix))
}

type fileWindows struct{ c *FileCache }

func (w fileWindows) Get(key Key, index, channels int) (artifact.WindowResult, bool, error) {
	if !key.Valid() {
		return artifact.WindowResult{}, false, fmt.Errorf("cache: invalid key %q", key)
	}
	f, err := os.Open(w.c.windowPath(key, index))
	if errors.Is(err, fs.ErrNotExist) {
		return artifact.WindowResult{}, false, nil
	}
	if err != nil {
		return artifact.WindowResult{}, false, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return artifact.WindowResult{}, false, err
	}
	res, err := artifact.DecodeWindow(f, info.Size(), channels)
	if err != nil {
		return artifact.WindowResult{}, false, &ConsistencyError{Key: key, Reason: fmt.Sprintf("window %d: %v", index, err)}
	}
	if res.Index != index {
		return artifact.WindowResult{}, false, &ConsistencyError{Key: key, Reason: fmt.Sprintf("window file %d holds index %d", index, res.Index)}
	}
	return res, true, nil
}

func (w fileWindows) Put(key Key, res artifact.WindowResult) error {
	if !key.Valid() {
		return fmt.Errorf("cache: invalid key %q", key)
	}
	return fileutil.WriteAtomic(w.c.windowPath(key, res.Index), 0o644, func(out io.Writer) error {
		return artifact.EncodeWindow(out, res)
	})
}

type fileArtifacts struct{ c *FileCache }

func (a fileArtifacts) Get(key Key) (*artifact.Artifact, bool, error) {
	if !key.Valid() {
		return nil, false, fmt.Errorf("cache: invalid key %q", key)
	}
	base := filepath.Join(a.c.EntryDir(key), artifactBase)
	paths := artifact.PathsFor(base)
	if _, err := os.Stat(paths.Sidecar); errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	art, err := artifact.Load(paths.Sidecar)
	if err != nil {
		return nil, false, &ConsistencyError{Key: key, Reason: err.Error()}
	}
	if err := checkArtifact(key, art); err != nil {
		return nil, false, err
	}
	return art, true, nil
}

func (a fileArtifacts) Put(key Key, art *artifact.Artifact) error {
	if !key.Valid() {
		return fmt.Errorf("cache: invalid key %q", key)
	}
	if err := checkArtifact(key, art); err != nil {
		return err
	}
	_, err := artifact.Save(art, filepath.Join(a.c.EntryDir(key), artifactBase))
	return err
}

// Invalidate removes every file under the key except the lock, which may be
// held by the caller.
func (a fileArtifacts) Invalidate(key Key) error {
	if !key.Valid() {
		return fmt.Errorf("cache: invalid key %q", key)
	}
	dir := a.c.EntryDir(key)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == lockFileName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("cache: invalidate %s: %w", key, err)
		}
	}
	return nil
}

// Clear removes every cache entry.
func (c *FileCache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
