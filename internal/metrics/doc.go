// Package metrics exports batch run counters as a Prometheus textfile for
// node_exporter's textfile collector.
//
// Each finished run re-reads the file under a lock, adds its deltas and
// rewrites it atomically, so counters accumulate across processes and
// invocations of the CLI.
package metrics
