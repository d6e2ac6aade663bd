// Package pipeline runs a fragility analysis end to end.
//
// A Runner segments a recording into windows, estimates a transition matrix
// for every window, solves the per-channel perturbations and assembles the
// results into an artifact in window order. Windows run serially or on a
// bounded worker pool; both paths produce identical output because every
// numeric step depends only on its own window.
//
// Results are cached per window and per artifact under a key derived from
// the recording identity and the parameter fingerprint, so an identical
// second run returns the cached artifact and an interrupted run resumes from
// the windows it already finished. Run and window lifecycles are tracked with
// internal/runstate and reported to an optional Recorder (the run registry)
// and metrics Collector.
package pipeline
