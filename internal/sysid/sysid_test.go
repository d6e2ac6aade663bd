package sysid

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// simulate returns a C×n trajectory of x(t+1) = A·x(t).
func simulate(a *mat.Dense, x0 []float64, n int) [][]float64 {
	c := len(x0)
	rows := make([][]float64, c)
	for i := range rows {
		rows[i] = make([]float64, n)
		rows[i][0] = x0[i]
	}
	state := mat.NewVecDense(c, append([]float64(nil), x0...))
	for t := 1; t < n; t++ {
		next := mat.NewVecDense(c, nil)
		next.MulVec(a, state)
		for i := 0; i < c; i++ {
			rows[i][t] = next.AtVec(i)
		}
		state = next
	}
	return rows
}

func TestFitRecoversKnownSystem(t *testing.T) {
	truth := mat.NewDense(2, 2, []float64{0.9, 0.1, -0.2, 0.8})
	rows := simulate(truth, []float64{1, 0.5}, 40)

	cases := []struct {
		method Method
		tol    float64
	}{
		{MethodPinv, 1e-9},
		{MethodLstsq, 1e-9},
		{MethodRidge, 1e-5},
	}
	for _, tc := range cases {
		t.Run(string(tc.method), func(t *testing.T) {
			est, err := New(tc.method, Options{RidgeAlpha: 1e-10})
			if err != nil {
				t.Fatalf("New returned error: %v", err)
			}
			a, err := FitRows(est, 0, rows, 0, 40)
			if err != nil {
				t.Fatalf("FitRows returned error: %v", err)
			}
			if !mat.EqualApprox(a, truth, tc.tol) {
				t.Fatalf("estimated A mismatch:\n%v", mat.Formatted(a))
			}
		})
	}
}

func TestFitRankDeficientWindow(t *testing.T) {
	// Identical channels make X rank one.
	row := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	rows := [][]float64{row, append([]float64(nil), row...)}
	for _, method := range []Method{MethodPinv, MethodLstsq} {
		est, err := New(method, Options{})
		if err != nil {
			t.Fatalf("New(%s) returned error: %v", method, err)
		}
		a, err := FitRows(est, 3, rows, 0, len(row))
		if err != nil {
			t.Fatalf("%s: expected rank-deficient window to succeed, got %v", method, err)
		}
		for i := 0; i < 2; i++ {
			for j := 0; j < 2; j++ {
				if v := a.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("%s: non-finite entry at (%d,%d)", method, i, j)
				}
			}
		}
	}
}

func TestFitNonFiniteInput(t *testing.T) {
	est, _ := New(MethodPinv, Options{})
	rows := [][]float64{{1, 2, math.NaN(), 4}, {0, 1, 0, 1}}
	_, err := FitRows(est, 5, rows, 0, 4)
	var estErr *EstimationError
	if !errors.As(err, &estErr) {
		t.Fatalf("expected EstimationError, got %v", err)
	}
	if estErr.Window != 5 {
		t.Fatalf("window index: got %d want 5", estErr.Window)
	}
	if estErr.ErrorKind() != "numerical" {
		t.Fatalf("unexpected kind %q", estErr.ErrorKind())
	}
}

func TestFitIsDeterministic(t *testing.T) {
	truth := mat.NewDense(3, 3, []float64{0.5, 0.1, 0, 0, 0.4, 0.2, 0.1, 0, 0.3})
	rows := simulate(truth, []float64{1, -1, 0.5}, 25)
	est, _ := New(MethodPinv, Options{})
	first, err := FitRows(est, 0, rows, 0, 25)
	if err != nil {
		t.Fatalf("FitRows returned error: %v", err)
	}
	second, err := FitRows(est, 0, rows, 0, 25)
	if err != nil {
		t.Fatalf("FitRows returned error: %v", err)
	}
	if !mat.Equal(first, second) {
		t.Fatal("repeated fits differ")
	}
}

func TestParseMethod(t *testing.T) {
	if m, err := ParseMethod(""); err != nil || m != MethodPinv {
		t.Fatalf("empty method: got %q, %v", m, err)
	}
	if _, err := ParseMethod("svd"); err == nil {
		t.Fatal("expected unknown method error")
	}
	if _, err := New(MethodRidge, Options{RidgeAlpha: -1}); err == nil {
		t.Fatal("expected negative alpha to be rejected")
	}
}
