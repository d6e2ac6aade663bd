package sysid

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"fragility/internal/linalg"
)

// Method names a least-squares estimator.
type Method string

const (
	// MethodPinv solves through the SVD pseudo-inverse. It never fails on
	// rank-deficient input and returns the minimum-norm solution.
	MethodPinv Method = "pinv"
	// MethodLstsq solves with a QR factorization and falls back to MethodPinv
	// when the system is rank-deficient.
	MethodLstsq Method = "lstsq"
	// MethodRidge adds Tikhonov regularization with strength Options.RidgeAlpha.
	MethodRidge Method = "ridge"
)

// DefaultRidgeAlpha is used when MethodRidge is selected without an alpha.
const DefaultRidgeAlpha = 1e-6

// Methods lists the supported estimators in display order.
func Methods() []Method {
	return []Method{MethodPinv, MethodLstsq, MethodRidge}
}

// ParseMethod resolves a method name. An empty name selects MethodPinv.
func ParseMethod(name string) (Method, error) {
	switch Method(name) {
	case "":
		return MethodPinv, nil
	case MethodPinv, MethodLstsq, MethodRidge:
		return Method(name), nil
	}
	return "", fmt.Errorf("unknown solver method %q", name)
}

// Estimator fits A such that Y ≈ A·X, where X and Y are C×N matrices holding
// consecutive states column by column.
type Estimator interface {
	Method() Method
	Estimate(x, y mat.Matrix) (*mat.Dense, error)
}

// Options tunes estimator construction.
type Options struct {
	RidgeAlpha float64
}

// New returns the Estimator for method.
func New(method Method, opts Options) (Estimator, error) {
	switch method {
	case MethodPinv, "":
		return pinvEstimator{}, nil
	case MethodLstsq:
		return lstsqEstimator{}, nil
	case MethodRidge:
		alpha := opts.RidgeAlpha
		if alpha == 0 {
			alpha = DefaultRidgeAlpha
		}
		if alpha < 0 {
			return nil, fmt.Errorf("ridge alpha must be positive, got %g", alpha)
		}
		return ridgeEstimator{alpha: alpha}, nil
	}
	return nil, fmt.Errorf("unknown solver method %q", method)
}

// EstimationError reports a window whose transition matrix could not be
// estimated.
type EstimationError struct {
	Window int
	Method Method
	Err    error
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("estimate window %d (%s): %v", e.Window, e.Method, e.Err)
}

func (e *EstimationError) Unwrap() error { return e.Err }

// ErrorKind classifies the error for run registry status mapping.
func (e *EstimationError) ErrorKind() string { return "numerical" }

var (
	errNonFiniteInput  = errors.New("window contains non-finite samples")
	errNonFiniteResult = errors.New("transition matrix contains non-finite values")
	errTooShort        = errors.New("window needs at least two samples")
)

// Fit estimates the C×C transition matrix of a C×N window using est. window is
// the index reported in errors.
func Fit(est Estimator, window int, data mat.Matrix) (*mat.Dense, error) {
	channels, samples := data.Dims()
	if samples < 2 {
		return nil, &EstimationError{Window: window, Method: est.Method(), Err: errTooShort}
	}
	if !linalg.AllFinite(data) {
		return nil, &EstimationError{Window: window, Method: est.Method(), Err: errNonFiniteInput}
	}
	x, y := Split(data)
	a, err := est.Estimate(x, y)
	if err != nil {
		return nil, &EstimationError{Window: window, Method: est.Method(), Err: err}
	}
	if r, c := a.Dims(); r != channels || c != channels {
		return nil, &EstimationError{
			Window: window,
			Method: est.Method(),
			Err:    fmt.Errorf("estimator returned %dx%d, want %dx%d", r, c, channels, channels),
		}
	}
	if !linalg.AllFinite(a) {
		return nil, &EstimationError{Window: window, Method: est.Method(), Err: errNonFiniteResult}
	}
	return a, nil
}

// FitRows is Fit for channel-major sample rows restricted to [start, end).
func FitRows(est Estimator, window int, rows [][]float64, start, end int) (*mat.Dense, error) {
	return Fit(est, window, WindowMatrix(rows, start, end))
}

// WindowMatrix copies rows[:, start:end] into a C×(end-start) matrix.
func WindowMatrix(rows [][]float64, start, end int) *mat.Dense {
	n := end - start
	data := make([]float64, 0, len(rows)*n)
	for _, row := range rows {
		data = append(data, row[start:end]...)
	}
	return mat.NewDense(len(rows), n, data)
}

// Split returns X = data[:, 0:N-1] and Y = data[:, 1:N].
func Split(data mat.Matrix) (x, y mat.Matrix) {
	channels, samples := data.Dims()
	dense := mat.DenseCopyOf(data)
	return dense.Slice(0, channels, 0, samples-1), dense.Slice(0, channels, 1, samples)
}

type pinvEstimator struct{}

func (pinvEstimator) Method() Method { return MethodPinv }

func (pinvEstimator) Estimate(x, y mat.Matrix) (*mat.Dense, error) {
	p, err := linalg.Pinv(x)
	if err != nil {
		return nil, err
	}
	channels, _ := y.Dims()
	a := mat.NewDense(channels, channels, nil)
	a.Mul(y, p)
	return a, nil
}

type lstsqEstimator struct{}

func (lstsqEstimator) Method() Method { return MethodLstsq }

// Estimate solves Xᵀ·Aᵀ = Yᵀ with a QR factorization. Systems whose
// condition number exceeds the pseudo-inverse cutoff are rank-deficient in
// working precision and fall back to the pseudo-inverse.
func (lstsqEstimator) Estimate(x, y mat.Matrix) (*mat.Dense, error) {
	channels, samples := x.Dims()
	if samples < channels {
		return pinvEstimator{}.Estimate(x, y)
	}
	var qr mat.QR
	qr.Factorize(mat.DenseCopyOf(x.T()))
	if cond := qr.Cond(); math.IsInf(cond, 0) || math.IsNaN(cond) || cond*linalg.DefaultRcond(samples, channels) >= 1 {
		return pinvEstimator{}.Estimate(x, y)
	}
	var at mat.Dense
	if err := qr.SolveTo(&at, false, y.T()); err != nil {
		var cond mat.Condition
		if errors.As(err, &cond) {
			return pinvEstimator{}.Estimate(x, y)
		}
		return nil, err
	}
	if !linalg.AllFinite(&at) {
		return pinvEstimator{}.Estimate(x, y)
	}
	return mat.DenseCopyOf(at.T()), nil
}

type ridgeEstimator struct {
	alpha float64
}

func (ridgeEstimator) Method() Method { return MethodRidge }

// Estimate computes A = Y·Xᵀ·(X·Xᵀ + αI)⁻¹ through a Cholesky solve.
func (r ridgeEstimator) Estimate(x, y mat.Matrix) (*mat.Dense, error) {
	channels, _ := x.Dims()
	gram := mat.NewSymDense(channels, nil)
	gram.SymOuterK(1, x)
	for i := 0; i < channels; i++ {
		gram.SetSym(i, i, gram.At(i, i)+r.alpha)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return nil, linalg.ErrFactorization
	}
	var rhs mat.Dense
	rhs.Mul(x, y.T())
	var at mat.Dense
	if err := chol.SolveTo(&at, &rhs); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, err
		}
	}
	return mat.DenseCopyOf(at.T()), nil
}
