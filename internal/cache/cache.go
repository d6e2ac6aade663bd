package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"fragility/internal/artifact"
)

// Key identifies one (recording, parameter set) entry.
type Key struct {
	Recording string
	Params    string
}

func (k Key) String() string {
	return short(k.Recording) + "/" + short(k.Params)
}

func short(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// Valid reports whether both halves of the key are usable as path segments.
func (k Key) Valid() bool {
	return validSegment(k.Recording) && validSegment(k.Params)
}

func validSegment(s string) bool {
	if len(s) < 2 {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}

// Fingerprint hashes named parameter values into a stable hex digest. Names
// are sorted so insertion order does not matter.
func Fingerprint(fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	h := sha256.New()
	for _, name := range names {
		fmt.Fprintf(h, "%s=%s\n", name, fields[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// WindowCache stores per-window results so interrupted runs resume.
type WindowCache interface {
	// Get returns the result for window index. A ConsistencyError means an
	// entry exists but cannot be trusted and should be recomputed.
	Get(key Key, index, channels int) (artifact.WindowResult, bool, error)
	Put(key Key, res artifact.WindowResult) error
}

// ArtifactCache stores assembled artifacts.
type ArtifactCache interface {
	Get(key Key) (*artifact.Artifact, bool, error)
	Put(key Key, a *artifact.Artifact) error
	// Invalidate drops the artifact and every window entry under key.
	Invalidate(key Key) error
}

// ConsistencyError reports a cache entry that does not match its key.
type ConsistencyError struct {
	Key    Key
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("cache entry %s inconsistent: %s", e.Key, e.Reason)
}

// ErrorKind classifies the error for run registry status mapping.
func (e *ConsistencyError) ErrorKind() string { return "cache" }

func checkArtifact(key Key, a *artifact.Artifact) error {
	var reasons []string
	if a.Metadata.RecordingID != key.Recording {
		reasons = append(reasons, "recording identity differs")
	}
	if a.Metadata.ParamsHash != key.Params {
		reasons = append(reasons, "parameter hash differs")
	}
	if len(a.Metadata.FailedWindows) > 0 {
		reasons = append(reasons, fmt.Sprintf("%d failed windows", len(a.Metadata.FailedWindows)))
	}
	if len(reasons) > 0 {
		return &ConsistencyError{Key: key, Reason: strings.Join(reasons, "; ")}
	}
	return nil
}
