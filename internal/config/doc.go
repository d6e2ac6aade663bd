// Package config loads, normalizes, and validates fragility configuration.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, and honours environment fallbacks for object-storage
// credentials. Analysis parameters are checked against the same parsers the
// numeric packages use, so a config that validates can always be turned into
// run parameters.
package config
