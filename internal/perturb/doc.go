// Package perturb computes, for each channel of a transition matrix, the
// minimum-norm structured perturbation that moves an eigenvalue of the
// perturbed matrix onto the stability radius.
//
// Column mode perturbs the channel's outgoing influence (A + δ·e_iᵀ) and row
// mode its incoming influence (A + e_i·δᵀ). Perturbations are restricted to the
// real field, so δ satisfies both the real and imaginary parts of the
// eigenvalue constraint.
package perturb
