package linalg

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrFactorization is returned when gonum cannot factorize a matrix.
var ErrFactorization = errors.New("linalg: factorization failed")

// DefaultRcond returns the relative singular-value cutoff used by Pinv for an
// r×c matrix: max(r, c) machine epsilons.
func DefaultRcond(r, c int) float64 {
	return float64(max(r, c)) * epsilon
}

const epsilon = 2.220446049250313e-16

// Pinv returns the Moore-Penrose pseudo-inverse of a using the default cutoff.
func Pinv(a mat.Matrix) (*mat.Dense, error) {
	r, c := a.Dims()
	return PinvCutoff(a, DefaultRcond(r, c))
}

// PinvCutoff returns the pseudo-inverse of a, treating singular values below
// rcond times the largest singular value as zero. The truncation keeps the
// result finite for rank-deficient and near-singular inputs.
func PinvCutoff(a mat.Matrix, rcond float64) (*mat.Dense, error) {
	r, c := a.Dims()
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, ErrFactorization
	}
	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	tol := 0.0
	if len(values) > 0 {
		tol = rcond * values[0]
	}
	k := len(values)
	scaled := mat.NewDense(c, k, nil)
	for j := 0; j < k; j++ {
		inv := 0.0
		if values[j] > tol && values[j] > 0 {
			inv = 1 / values[j]
		}
		for i := 0; i < c; i++ {
			scaled.Set(i, j, v.At(i, j)*inv)
		}
	}
	out := mat.NewDense(c, r, nil)
	out.Mul(scaled, u.T())
	return out, nil
}

// AllFinite reports whether every element of m is neither NaN nor infinite.
func AllFinite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// FiniteSlice reports whether every value in xs is finite.
func FiniteSlice(xs []float64) bool {
	for _, v := range xs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// SpectralRadius returns the largest eigenvalue modulus of the square matrix a.
func SpectralRadius(a mat.Matrix) (float64, error) {
	var eig mat.Eigen
	if ok := eig.Factorize(a, mat.EigenNone); !ok {
		return 0, ErrFactorization
	}
	radius := 0.0
	for _, v := range eig.Values(nil) {
		if m := math.Hypot(real(v), imag(v)); m > radius {
			radius = m
		}
	}
	return radius, nil
}
