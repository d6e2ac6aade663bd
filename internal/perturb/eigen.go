package perturb

import (
	"errors"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// modulusTolerance is the relative tolerance under which two eigenvalue
// moduli are treated as equal.
const modulusTolerance = 1e-9

var errEigen = errors.New("eigendecomposition failed")

// DominantEigenvalue returns the eigenvalue of a with the largest modulus.
// Moduli equal within a relative 1e-9 are ordered by smallest absolute phase,
// then by non-negative imaginary part, so conjugate pairs resolve to the
// upper half-plane member.
func DominantEigenvalue(a mat.Matrix) (complex128, error) {
	var eig mat.Eigen
	if ok := eig.Factorize(a, mat.EigenNone); !ok {
		return 0, errEigen
	}
	values := eig.Values(nil)
	if len(values) == 0 {
		return 0, errEigen
	}
	best := values[0]
	for _, v := range values[1:] {
		if dominates(v, best) {
			best = v
		}
	}
	if cmplx.IsNaN(best) || cmplx.IsInf(best) {
		return 0, errEigen
	}
	return best, nil
}

func dominates(v, cur complex128) bool {
	mv, mc := cmplx.Abs(v), cmplx.Abs(cur)
	tol := modulusTolerance * math.Max(mv, mc)
	switch {
	case mv > mc+tol:
		return true
	case mv < mc-tol:
		return false
	}
	pv, pc := math.Abs(cmplx.Phase(v)), math.Abs(cmplx.Phase(cur))
	switch {
	case pv < pc-modulusTolerance:
		return true
	case pv > pc+modulusTolerance:
		return false
	}
	return imag(v) >= 0 && imag(cur) < 0
}

// Apply returns a copy of a with channel's perturbation from deltas added in
// the layout used by mode.
func Apply(a mat.Matrix, deltas mat.Matrix, mode Mode, channel int) *mat.Dense {
	out := mat.DenseCopyOf(a)
	c, _ := out.Dims()
	for k := 0; k < c; k++ {
		if mode == ModeRow {
			// e_i·δᵀ adds δ to row i; δ is stored in row i.
			out.Set(channel, k, out.At(channel, k)+deltas.At(channel, k))
			continue
		}
		// δ·e_iᵀ adds δ to column i; δ is stored in column i.
		out.Set(k, channel, out.At(k, channel)+deltas.At(k, channel))
	}
	return out
}
