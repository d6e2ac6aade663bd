// Package sysid estimates the state-transition matrix of a linear
// time-invariant model x(t+1) = A x(t) from one window of samples.
//
// Each estimation method is a separate Estimator implementation selected by
// Method. All methods are deterministic and run on gonum's pure-Go LAPACK.
package sysid
