package normalize

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestRangeRatioBounds(t *testing.T) {
	norms := mat.NewDense(3, 2, []float64{
		1, 4,
		2, 2,
		4, 1,
	})
	got, err := Apply(norms, SchemeRangeRatio, Fail)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	want := mat.NewDense(3, 2, []float64{
		0.75, 0,
		0.5, 0.5,
		0, 0.75,
	})
	if !mat.EqualApprox(got, want, 1e-12) {
		t.Fatalf("unexpected fragility:\n%v", mat.Formatted(got))
	}
	assertInUnitInterval(t, got)
}

func TestMinMaxMapsExtremes(t *testing.T) {
	norms := mat.NewDense(3, 1, []float64{2, 3, 6})
	got, err := Apply(norms, SchemeMinMax, Fail)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if got.At(2, 0) != 0 || got.At(0, 0) != 1 {
		t.Fatalf("extremes not mapped to 0 and 1: %v", mat.Formatted(got))
	}
	if math.Abs(got.At(1, 0)-0.75) > 1e-12 {
		t.Fatalf("middle value: got %v want 0.75", got.At(1, 0))
	}
}

func TestZScorePerChannel(t *testing.T) {
	norms := mat.NewDense(1, 4, []float64{1, 2, 3, 4})
	got, err := Apply(norms, SchemeZScore, Fail)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	std := math.Sqrt(1.25)
	for j, x := range []float64{1, 2, 3, 4} {
		want := (x - 2.5) / std
		if math.Abs(got.At(0, j)-want) > 1e-12 {
			t.Fatalf("window %d: got %v want %v", j, got.At(0, j), want)
		}
	}
}

func TestDegenerateInputs(t *testing.T) {
	cases := []struct {
		name    string
		scheme  Scheme
		norms   *mat.Dense
		window  int
		channel int
	}{
		{"range-ratio-zero-max", SchemeRangeRatio, mat.NewDense(2, 2, []float64{1, 0, 2, 0}), 1, -1},
		{"minmax-flat", SchemeMinMax, mat.NewDense(2, 2, []float64{3, 1, 3, 2}), 0, -1},
		{"zscore-flat-channel", SchemeZScore, mat.NewDense(2, 3, []float64{1, 2, 3, 5, 5, 5}), -1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Apply(tc.norms, tc.scheme, Fail)
			var degenerate *DegenerateWindowError
			if !errors.As(err, &degenerate) {
				t.Fatalf("expected DegenerateWindowError, got %v", err)
			}
			if degenerate.Window != tc.window || degenerate.Channel != tc.channel {
				t.Fatalf("location: got window=%d channel=%d", degenerate.Window, degenerate.Channel)
			}

			got, err := Apply(tc.norms, tc.scheme, PropagateNaN)
			if err != nil {
				t.Fatalf("PropagateNaN returned error: %v", err)
			}
			if tc.window >= 0 && !math.IsNaN(got.At(0, tc.window)) {
				t.Fatalf("expected NaN column %d", tc.window)
			}
			if tc.channel >= 0 && !math.IsNaN(got.At(tc.channel, 0)) {
				t.Fatalf("expected NaN row %d", tc.channel)
			}
		})
	}
}

func TestFailedWindowsPassThrough(t *testing.T) {
	nan := math.NaN()
	norms := mat.NewDense(2, 3, []float64{
		1, nan, 2,
		2, nan, 4,
	})
	got, err := Apply(norms, SchemeRangeRatio, Fail)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if !math.IsNaN(got.At(0, 1)) || !math.IsNaN(got.At(1, 1)) {
		t.Fatal("failed window column should stay NaN")
	}
	if got.At(0, 2) != 0.5 {
		t.Fatalf("finite column: got %v want 0.5", got.At(0, 2))
	}

	z, err := Apply(norms, SchemeZScore, Fail)
	if err != nil {
		t.Fatalf("zscore returned error: %v", err)
	}
	if !math.IsNaN(z.At(0, 1)) || math.IsNaN(z.At(0, 0)) {
		t.Fatalf("zscore NaN handling: %v", mat.Formatted(z))
	}
}

func TestRankOrdersByMeanFragility(t *testing.T) {
	nan := math.NaN()
	fragility := mat.NewDense(4, 3, []float64{
		0.1, 0.2, 0.3,
		0.9, nan, 0.7,
		0.1, 0.1, 0.1,
		nan, nan, nan,
	})
	got := Rank(fragility, []string{"A1", "A2", "B1", "B2"})
	order := []string{"A2", "A1", "B1", "B2"}
	for i, name := range order {
		if got[i].Channel != name {
			t.Fatalf("position %d: got %s want %s", i, got[i].Channel, name)
		}
	}
	if got[0].Windows != 2 || math.Abs(got[0].Mean-0.8) > 1e-12 {
		t.Fatalf("A2 ranking: %+v", got[0])
	}
	if !math.IsNaN(got[3].Mean) {
		t.Fatalf("expected NaN mean for channel without windows")
	}
}

func TestParseScheme(t *testing.T) {
	if s, err := ParseScheme(""); err != nil || s != SchemeRangeRatio {
		t.Fatalf("default scheme: got %q, %v", s, err)
	}
	if _, err := ParseScheme("softmax"); err == nil {
		t.Fatal("expected unknown scheme error")
	}
}

func assertInUnitInterval(t *testing.T, m mat.Matrix) {
	t.Helper()
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); v < 0 || v > 1 {
				t.Fatalf("value %v at (%d,%d) outside [0,1]", v, i, j)
			}
		}
	}
}
