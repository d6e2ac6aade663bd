// Package recording models a multichannel recording and loads it from JSON,
// CSV, or a YAML descriptor that points at one of those.
//
// A Recording is immutable once constructed: New copies its inputs and the
// analysis only reads from it, so workers can share one value without locks.
package recording
