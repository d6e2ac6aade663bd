// Package store persists the run registry in SQLite.
//
// Every pipeline run gets a row keyed by its UUID that follows the run state
// machine from pending to done or failed, plus one row per failed window.
// Store implements pipeline.Recorder so the runner can report lifecycle
// events directly; the CLI reads the same tables for `fragility runs`.
//
// The database lives at paths.registry_path and is opened in WAL mode with a
// busy timeout; writes retry on SQLITE_BUSY so a watcher and an interactive
// run can share it.
package store
