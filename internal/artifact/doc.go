// Package artifact holds the assembled result of one analysis run and its
// on-disk form: a NumPy .npz bundle of float64 arrays plus a JSON sidecar
// describing channels, windows and parameters.
package artifact
