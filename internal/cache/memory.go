package cache

import (
	"sync"

	"fragility/internal/artifact"
)

// Memory is an in-process cache for tests and one-shot runs that should
// leave nothing on disk. Entries are copied on the way in and out, so callers
// never share matrices with the cache.
type Memory struct {
	mu        sync.RWMutex
	windows   map[Key]map[int]artifact.WindowResult
	artifacts map[Key]*artifact.Artifact
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		windows:   make(map[Key]map[int]artifact.WindowResult),
		artifacts: make(map[Key]*artifact.Artifact),
	}
}

// Windows returns the per-window view.
func (m *Memory) Windows() WindowCache { return memoryWindows{m} }

// Artifacts returns the artifact view.
func (m *Memory) Artifacts() ArtifactCache { return memoryArtifacts{m} }

// WindowCount returns how many window results are stored under key.
func (m *Memory) WindowCount(key Key) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.windows[key])
}

type memoryWindows struct{ m *Memory }

func (w memoryWindows) Get(key Key, index, channels int) (artifact.WindowResult, bool, error) {
	w.m.mu.RLock()
	defer w.m.mu.RUnlock()
	res, ok := w.m.windows[key][index]
	if !ok {
		return artifact.WindowResult{}, false, nil
	}
	if len(res.Norms) != channels {
		return artifact.WindowResult{}, false, &ConsistencyError{Key: key, Reason: "channel count differs"}
	}
	return artifact.CloneWindow(res), true, nil
}

func (w memoryWindows) Put(key Key, res artifact.WindowResult) error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if w.m.windows[key] == nil {
		w.m.windows[key] = make(map[int]artifact.WindowResult)
	}
	w.m.windows[key][res.Index] = artifact.CloneWindow(res)
	return nil
}

type memoryArtifacts struct{ m *Memory }

func (a memoryArtifacts) Get(key Key) (*artifact.Artifact, bool, error) {
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()
	art, ok := a.m.artifacts[key]
	if !ok {
		return nil, false, nil
	}
	return art.Clone(), true, nil
}

func (a memoryArtifacts) Put(key Key, art *artifact.Artifact) error {
	if err := checkArtifact(key, art); err != nil {
		return err
	}
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	a.m.artifacts[key] = art.Clone()
	return nil
}

func (a memoryArtifacts) Invalidate(key Key) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	delete(a.m.artifacts, key)
	delete(a.m.windows, key)
	return nil
}
