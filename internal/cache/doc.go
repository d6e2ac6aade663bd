// Package cache stores per-window results and assembled artifacts keyed by
// recording identity and parameter fingerprint.
//
// FileCache lays entries out as <dir>/<rr>/<recording>/<params>/ where rr is
// the first two characters of the recording identity. Every file is written
// to a temporary name and renamed, so concurrent writers of different windows
// never need a lock. A per-entry flock guards whole runs across processes.
package cache
