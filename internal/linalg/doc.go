// Package linalg holds the small dense linear-algebra helpers shared by the
// system estimator and the perturbation solver.
package linalg
