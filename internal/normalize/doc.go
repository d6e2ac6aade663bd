// Package normalize converts the C×W perturbation norm matrix into fragility
// scores and ranks channels by their mean fragility.
package normalize
