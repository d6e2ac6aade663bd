// Package preflight provides readiness checks for the filesystem paths and
// optional object store that fragility depends on.
//
// "fragility config validate" prints every result, and "fragility run" and
// "fragility watch" refuse to start while a required check fails. Checks for
// disabled features are skipped.
package preflight
