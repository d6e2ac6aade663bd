package perturb

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"

	"fragility/internal/linalg"
)

// Mode selects which side of the transition matrix a channel perturbation acts on.
type Mode string

const (
	ModeColumn Mode = "column"
	ModeRow    Mode = "row"
)

// DefaultRadius is the stability radius used when none is configured.
const DefaultRadius = 1.5

// ParseMode resolves a mode name. An empty name selects ModeColumn.
func ParseMode(name string) (Mode, error) {
	switch Mode(name) {
	case "":
		return ModeColumn, nil
	case ModeColumn, ModeRow:
		return Mode(name), nil
	}
	return "", fmt.Errorf("unknown perturbation mode %q", name)
}

// Result holds the per-channel perturbations of one window.
type Result struct {
	// Norms[i] is the Euclidean norm of channel i's perturbation.
	Norms []float64
	// Deltas holds channel i's perturbation in column i (ModeColumn) or row i
	// (ModeRow).
	Deltas *mat.Dense
	// Dominant is the eigenvalue whose phase defines the target.
	Dominant complex128
	// Target is the eigenvalue location the perturbations produce.
	Target complex128
}

// Strategy computes the perturbations of one window for a single mode.
type Strategy interface {
	Mode() Mode
	Perturb(window int, a mat.Matrix, radius float64) (Result, error)
}

// StrategyFor returns the Strategy implementing mode.
func StrategyFor(mode Mode) (Strategy, error) {
	switch mode {
	case ModeColumn, "":
		return columnStrategy{}, nil
	case ModeRow:
		return rowStrategy{}, nil
	}
	return nil, fmt.Errorf("unknown perturbation mode %q", mode)
}

// Solve runs the strategy for mode on a. It returns the norms and the delta
// matrix laid out as described on Result.
func Solve(window int, a mat.Matrix, mode Mode, radius float64) (Result, error) {
	strategy, err := StrategyFor(mode)
	if err != nil {
		return Result{}, err
	}
	return strategy.Perturb(window, a, radius)
}

// PerturbationComputationError reports a channel whose perturbation could not
// be computed. Channel is -1 when the failure affects the whole window.
type PerturbationComputationError struct {
	Window  int
	Channel int
	Err     error
}

func (e *PerturbationComputationError) Error() string {
	if e.Channel < 0 {
		return fmt.Sprintf("perturb window %d: %v", e.Window, e.Err)
	}
	return fmt.Sprintf("perturb window %d channel %d: %v", e.Window, e.Channel, e.Err)
}

func (e *PerturbationComputationError) Unwrap() error { return e.Err }

// ErrorKind classifies the error for run registry status mapping.
func (e *PerturbationComputationError) ErrorKind() string { return "numerical" }

type columnStrategy struct{}

func (columnStrategy) Mode() Mode { return ModeColumn }

func (columnStrategy) Perturb(window int, a mat.Matrix, radius float64) (Result, error) {
	return solveColumns(window, a, radius)
}

type rowStrategy struct{}

func (rowStrategy) Mode() Mode { return ModeRow }

// Perturb solves the column problem on Aᵀ. A column perturbation δ·e_iᵀ of Aᵀ
// is the row perturbation e_i·δᵀ of A, so the delta matrix is transposed back.
func (rowStrategy) Perturb(window int, a mat.Matrix, radius float64) (Result, error) {
	res, err := solveColumns(window, a.T(), radius)
	if err != nil {
		return Result{}, err
	}
	res.Deltas = mat.DenseCopyOf(res.Deltas.T())
	return res, nil
}

// solveColumns finds, for every channel i, the minimum-norm real δ such that
// A + δ·e_iᵀ has an eigenvalue at target = radius·e^{jθ}.
//
// With b = e_iᵀ(target·I − A)⁻¹ the constraint is b·δ = 1; splitting b into
// real and imaginary parts gives the 2×C system [Re b; Im b]·δ = [1; 0] whose
// minimum-norm solution is its pseudo-inverse applied to [1; 0].
func solveColumns(window int, a mat.Matrix, radius float64) (Result, error) {
	c, cols := a.Dims()
	if c != cols {
		return Result{}, &PerturbationComputationError{Window: window, Channel: -1, Err: fmt.Errorf("transition matrix is %dx%d", c, cols)}
	}
	if radius <= 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
		return Result{}, &PerturbationComputationError{Window: window, Channel: -1, Err: fmt.Errorf("invalid stability radius %g", radius)}
	}
	dominant, err := DominantEigenvalue(a)
	if err != nil {
		return Result{}, &PerturbationComputationError{Window: window, Channel: -1, Err: err}
	}
	target := TargetFor(dominant, radius)

	// Rows of (target·I − A)⁻¹ are the columns of (target·I − Aᵀ)⁻¹, solved
	// once per window through the real embedding [[X, −Y], [Y, X]].
	embedded := embedResolvent(a, target)
	inv, err := linalg.Pinv(embedded)
	if err != nil {
		return Result{}, &PerturbationComputationError{Window: window, Channel: -1, Err: err}
	}

	res := Result{
		Norms:    make([]float64, c),
		Deltas:   mat.NewDense(c, c, nil),
		Dominant: dominant,
		Target:   target,
	}
	constraint := mat.NewDense(2, c, nil)
	for i := 0; i < c; i++ {
		for k := 0; k < c; k++ {
			constraint.Set(0, k, inv.At(k, i))
			constraint.Set(1, k, inv.At(c+k, i))
		}
		pinv, err := linalg.Pinv(constraint)
		if err != nil {
			return Result{}, &PerturbationComputationError{Window: window, Channel: i, Err: err}
		}
		delta := make([]float64, c)
		for k := range delta {
			delta[k] = pinv.At(k, 0)
		}
		if !linalg.FiniteSlice(delta) {
			return Result{}, &PerturbationComputationError{Window: window, Channel: i, Err: fmt.Errorf("non-finite perturbation")}
		}
		res.Deltas.SetCol(i, delta)
		res.Norms[i] = floats2Norm(delta)
	}
	return res, nil
}

// TargetFor returns radius·e^{jθ} where θ is the phase of dominant. Real
// eigenvalues map to a real target so the imaginary constraint stays exactly
// zero.
func TargetFor(dominant complex128, radius float64) complex128 {
	if imag(dominant) == 0 {
		if real(dominant) < 0 {
			return complex(-radius, 0)
		}
		return complex(radius, 0)
	}
	return cmplx.Rect(radius, cmplx.Phase(dominant))
}

// embedResolvent returns the real 2C×2C form of target·I − Aᵀ.
func embedResolvent(a mat.Matrix, target complex128) *mat.Dense {
	c, _ := a.Dims()
	re, im := real(target), imag(target)
	out := mat.NewDense(2*c, 2*c, nil)
	for i := 0; i < c; i++ {
		for j := 0; j < c; j++ {
			x := -a.At(j, i)
			if i == j {
				x += re
			}
			out.Set(i, j, x)
			out.Set(c+i, c+j, x)
		}
		out.Set(i, c+i, -im)
		out.Set(c+i, i, im)
	}
	return out
}

func floats2Norm(xs []float64) float64 {
	return mat.Norm(mat.NewVecDense(len(xs), xs), 2)
}
