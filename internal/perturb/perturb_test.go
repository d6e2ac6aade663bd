package perturb

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"gonum.org/v1/gonum/mat"

	"fragility/internal/linalg"
)

func TestSolveDiagonalColumn(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{0.5, 0, 0, 0.2})
	res, err := Solve(0, a, ModeColumn, 1)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}
	if got := res.Deltas.At(0, 0); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("delta[0,0]: got %v want 0.5", got)
	}
	if got := res.Deltas.At(1, 0); math.Abs(got) > 1e-12 {
		t.Fatalf("delta[1,0]: got %v want 0", got)
	}
	if math.Abs(res.Norms[0]-0.5) > 1e-12 {
		t.Fatalf("norm[0]: got %v want 0.5", res.Norms[0])
	}
	if math.Abs(res.Norms[1]-0.8) > 1e-12 {
		t.Fatalf("norm[1]: got %v want 0.8", res.Norms[1])
	}
}

func TestSolveUpperTriangularColumn(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{0.5, 0.1, 0, 0.2})
	res, err := Solve(0, a, ModeColumn, 1)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}
	want0 := []float64{0.4923076923, 0.0615384615}
	for k, w := range want0 {
		if got := res.Deltas.At(k, 0); math.Abs(got-w) > 1e-6 {
			t.Fatalf("channel 0 delta[%d]: got %v want %v", k, got, w)
		}
	}
	want1 := []float64{0, 0.8}
	for k, w := range want1 {
		if got := res.Deltas.At(k, 1); math.Abs(got-w) > 1e-9 {
			t.Fatalf("channel 1 delta[%d]: got %v want %v", k, got, w)
		}
	}
}

// TestPerturbedMatrixReachesRadius checks that every channel's perturbation
// places an eigenvalue on the stability radius.
func TestPerturbedMatrixReachesRadius(t *testing.T) {
	theta := 0.7
	rotation := mat.NewDense(2, 2, []float64{
		0.5 * math.Cos(theta), -0.5 * math.Sin(theta),
		0.5 * math.Sin(theta), 0.5 * math.Cos(theta),
	})
	cases := []struct {
		name   string
		a      *mat.Dense
		mode   Mode
		radius float64
	}{
		{"column-2x2", mat.NewDense(2, 2, []float64{0.5, 0.1, 0, 0.2}), ModeColumn, 1},
		{"row-2x2", mat.NewDense(2, 2, []float64{0.5, 0.1, 0, 0.2}), ModeRow, 1},
		{"column-complex-pair", rotation, ModeColumn, 1},
		{"row-complex-pair", rotation, ModeRow, 1},
		{"column-3x3-radius", mat.NewDense(3, 3, []float64{0.3, 0.2, 0, -0.1, 0.4, 0.1, 0.05, 0, 0.2}), ModeColumn, 1.5},
		{"row-3x3-radius", mat.NewDense(3, 3, []float64{0.3, 0.2, 0, -0.1, 0.4, 0.1, 0.05, 0, 0.2}), ModeRow, 1.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Solve(0, tc.a, tc.mode, tc.radius)
			if err != nil {
				t.Fatalf("Solve returned error: %v", err)
			}
			if math.Abs(cmplx.Abs(res.Target)-tc.radius) > 1e-12 {
				t.Fatalf("target modulus: got %v want %v", cmplx.Abs(res.Target), tc.radius)
			}
			c, _ := tc.a.Dims()
			for ch := 0; ch < c; ch++ {
				perturbed := Apply(tc.a, res.Deltas, tc.mode, ch)
				if !hasEigenvalueNear(t, perturbed, res.Target, 1e-6) {
					t.Fatalf("channel %d: perturbed matrix lacks eigenvalue at %v", ch, res.Target)
				}
				got, err := linalg.SpectralRadius(perturbed)
				if err != nil {
					t.Fatalf("SpectralRadius: %v", err)
				}
				if got < tc.radius-1e-6 {
					t.Fatalf("channel %d: spectral radius %v below %v", ch, got, tc.radius)
				}
			}
		})
	}
}

func hasEigenvalueNear(t *testing.T, a mat.Matrix, target complex128, tol float64) bool {
	t.Helper()
	var eig mat.Eigen
	if ok := eig.Factorize(a, mat.EigenNone); !ok {
		t.Fatal("eigendecomposition failed")
	}
	for _, v := range eig.Values(nil) {
		if cmplx.Abs(v-target) < tol {
			return true
		}
	}
	return false
}

func TestRowModeMirrorsColumnModeOnTranspose(t *testing.T) {
	a := mat.NewDense(3, 3, []float64{0.3, 0.2, 0, -0.1, 0.4, 0.1, 0.05, 0, 0.2})
	row, err := Solve(0, a, ModeRow, 1.5)
	if err != nil {
		t.Fatalf("row Solve: %v", err)
	}
	col, err := Solve(0, a.T(), ModeColumn, 1.5)
	if err != nil {
		t.Fatalf("column Solve: %v", err)
	}
	for i := range row.Norms {
		if row.Norms[i] != col.Norms[i] {
			t.Fatalf("norm %d differs: %v vs %v", i, row.Norms[i], col.Norms[i])
		}
	}
	if !mat.Equal(row.Deltas, col.Deltas.T()) {
		t.Fatal("row deltas are not the transpose of column deltas on Aᵀ")
	}
}

func TestDominantEigenvalueTieBreak(t *testing.T) {
	cases := []struct {
		name string
		a    *mat.Dense
		want complex128
	}{
		// Eigenvalues ±0.5: positive real has the smaller phase.
		{"real-pair", mat.NewDense(2, 2, []float64{-0.5, 0, 0, 0.5}), 0.5},
		// Conjugate pair 0.3 ± 0.4j: upper half-plane wins.
		{"conjugate-pair", mat.NewDense(2, 2, []float64{0.3, -0.4, 0.4, 0.3}), complex(0.3, 0.4)},
		{"strict", mat.NewDense(2, 2, []float64{0.1, 0, 0, -0.9}), -0.9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DominantEigenvalue(tc.a)
			if err != nil {
				t.Fatalf("DominantEigenvalue: %v", err)
			}
			if cmplx.Abs(got-tc.want) > 1e-12 {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestSolveRejectsBadInput(t *testing.T) {
	_, err := Solve(4, mat.NewDense(2, 2, []float64{0.5, 0, 0, 0.2}), ModeColumn, 0)
	var perr *PerturbationComputationError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PerturbationComputationError, got %v", err)
	}
	if perr.Window != 4 || perr.Channel != -1 {
		t.Fatalf("unexpected error location window=%d channel=%d", perr.Window, perr.Channel)
	}
	if _, err := Solve(0, mat.NewDense(2, 2, nil), Mode("diagonal"), 1); err == nil {
		t.Fatal("expected unknown mode error")
	}
}

func TestSolveZeroMatrix(t *testing.T) {
	res, err := Solve(0, mat.NewDense(3, 3, nil), ModeColumn, 1.5)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}
	for i, n := range res.Norms {
		if math.Abs(n-1.5) > 1e-12 {
			t.Fatalf("norm %d: got %v want 1.5", i, n)
		}
	}
}
