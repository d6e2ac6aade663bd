package linalg

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestPinvInvertsFullRankSquare(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{4, 7, 2, 6})
	inv, err := Pinv(a)
	if err != nil {
		t.Fatalf("Pinv returned error: %v", err)
	}
	var prod mat.Dense
	prod.Mul(a, inv)
	if !mat.EqualApprox(&prod, mat.NewDiagDense(2, []float64{1, 1}), 1e-12) {
		t.Fatalf("a*pinv(a) is not identity: %v", mat.Formatted(&prod))
	}
}

func TestPinvRankDeficientReturnsMinimumNorm(t *testing.T) {
	// Two identical columns: rank one.
	a := mat.NewDense(3, 2, []float64{1, 1, 2, 2, 3, 3})
	p, err := Pinv(a)
	if err != nil {
		t.Fatalf("Pinv returned error: %v", err)
	}
	if !AllFinite(p) {
		t.Fatalf("pseudo-inverse contains non-finite values")
	}
	// Penrose condition A*P*A == A.
	var ap, apa mat.Dense
	ap.Mul(a, p)
	apa.Mul(&ap, a)
	if !mat.EqualApprox(&apa, a, 1e-12) {
		t.Fatalf("A*P*A != A: %v", mat.Formatted(&apa))
	}
	// Symmetric split between the collinear columns.
	if math.Abs(p.At(0, 0)-p.At(1, 0)) > 1e-12 {
		t.Fatalf("expected equal weights for collinear columns, got %v", mat.Formatted(p))
	}
}

func TestPinvZeroMatrix(t *testing.T) {
	p, err := Pinv(mat.NewDense(2, 3, nil))
	if err != nil {
		t.Fatalf("Pinv returned error: %v", err)
	}
	r, c := p.Dims()
	if r != 3 || c != 2 {
		t.Fatalf("unexpected dims %dx%d", r, c)
	}
	if mat.Norm(p, 2) != 0 {
		t.Fatalf("expected zero pseudo-inverse")
	}
}

func TestSpectralRadius(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{0, -0.5, 0.5, 0})
	got, err := SpectralRadius(a)
	if err != nil {
		t.Fatalf("SpectralRadius returned error: %v", err)
	}
	if math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("spectral radius: got %v want 0.5", got)
	}
}

func TestAllFinite(t *testing.T) {
	if !AllFinite(mat.NewDense(1, 2, []float64{1, 2})) {
		t.Fatal("expected finite matrix")
	}
	if AllFinite(mat.NewDense(1, 2, []float64{1, math.NaN()})) {
		t.Fatal("expected NaN to be detected")
	}
	if FiniteSlice([]float64{math.Inf(1)}) {
		t.Fatal("expected Inf to be detected")
	}
}
