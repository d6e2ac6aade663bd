package normalize

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Scheme names a normalization.
type Scheme string

const (
	// SchemeRangeRatio maps each window column to (max − x)/max.
	SchemeRangeRatio Scheme = "range_ratio"
	// SchemeMinMax maps each window column to (max − x)/(max − min).
	SchemeMinMax Scheme = "minmax"
	// SchemeZScore standardizes each channel across windows.
	SchemeZScore Scheme = "zscore"
)

// ParseScheme resolves a scheme name. An empty name selects SchemeRangeRatio.
func ParseScheme(name string) (Scheme, error) {
	switch Scheme(name) {
	case "":
		return SchemeRangeRatio, nil
	case SchemeRangeRatio, SchemeMinMax, SchemeZScore:
		return Scheme(name), nil
	}
	return "", fmt.Errorf("unknown normalization scheme %q", name)
}

// Policy decides what happens to a degenerate window or channel.
type Policy int

const (
	// Fail returns a DegenerateWindowError.
	Fail Policy = iota
	// PropagateNaN fills the degenerate column (or row for zscore) with NaN.
	PropagateNaN
)

// DegenerateWindowError reports a window column or channel row with no spread
// to normalize against. Window is -1 for per-channel schemes and Channel is -1
// for per-window schemes.
type DegenerateWindowError struct {
	Scheme  Scheme
	Window  int
	Channel int
	Reason  string
}

func (e *DegenerateWindowError) Error() string {
	switch {
	case e.Window >= 0:
		return fmt.Sprintf("normalize %s: window %d: %s", e.Scheme, e.Window, e.Reason)
	default:
		return fmt.Sprintf("normalize %s: channel %d: %s", e.Scheme, e.Channel, e.Reason)
	}
}

// ErrorKind classifies the error for run registry status mapping.
func (e *DegenerateWindowError) ErrorKind() string { return "numerical" }

// Normalizer implements one Scheme.
type Normalizer interface {
	Scheme() Scheme
	Normalize(norms mat.Matrix, policy Policy) (*mat.Dense, error)
}

// For returns the Normalizer implementing scheme.
func For(scheme Scheme) (Normalizer, error) {
	switch scheme {
	case SchemeRangeRatio, "":
		return rangeRatio{}, nil
	case SchemeMinMax:
		return minMax{}, nil
	case SchemeZScore:
		return zScore{}, nil
	}
	return nil, fmt.Errorf("unknown normalization scheme %q", scheme)
}

// Apply normalizes the C×W norm matrix with scheme. Window columns that
// already contain NaN (failed windows) stay NaN.
func Apply(norms mat.Matrix, scheme Scheme, policy Policy) (*mat.Dense, error) {
	n, err := For(scheme)
	if err != nil {
		return nil, err
	}
	return n.Normalize(norms, policy)
}

type rangeRatio struct{}

func (rangeRatio) Scheme() Scheme { return SchemeRangeRatio }

func (rangeRatio) Normalize(norms mat.Matrix, policy Policy) (*mat.Dense, error) {
	return perColumn(norms, policy, SchemeRangeRatio, func(col []float64, lo, hi float64) (bool, string) {
		if hi == 0 {
			return false, "maximum norm is zero"
		}
		for i, x := range col {
			col[i] = (hi - x) / hi
		}
		return true, ""
	})
}

type minMax struct{}

func (minMax) Scheme() Scheme { return SchemeMinMax }

func (minMax) Normalize(norms mat.Matrix, policy Policy) (*mat.Dense, error) {
	return perColumn(norms, policy, SchemeMinMax, func(col []float64, lo, hi float64) (bool, string) {
		span := hi - lo
		if span == 0 {
			return false, "norms have zero range"
		}
		for i, x := range col {
			col[i] = (hi - x) / span
		}
		return true, ""
	})
}

// perColumn applies fn to every window column. fn reports false with a reason
// when the column is degenerate.
func perColumn(norms mat.Matrix, policy Policy, scheme Scheme, fn func(col []float64, lo, hi float64) (bool, string)) (*mat.Dense, error) {
	c, w := norms.Dims()
	out := mat.NewDense(c, w, nil)
	col := make([]float64, c)
	for j := 0; j < w; j++ {
		mat.Col(col, j, norms)
		if hasNaN(col) {
			fillNaN(col)
			out.SetCol(j, col)
			continue
		}
		lo, hi := bounds(col)
		if ok, reason := fn(col, lo, hi); !ok {
			if policy != PropagateNaN {
				return nil, &DegenerateWindowError{Scheme: scheme, Window: j, Channel: -1, Reason: reason}
			}
			fillNaN(col)
		}
		out.SetCol(j, col)
	}
	return out, nil
}

type zScore struct{}

func (zScore) Scheme() Scheme { return SchemeZScore }

// Normalize standardizes each channel with the population standard deviation
// of its finite windows.
func (zScore) Normalize(norms mat.Matrix, policy Policy) (*mat.Dense, error) {
	c, w := norms.Dims()
	out := mat.NewDense(c, w, nil)
	row := make([]float64, w)
	for i := 0; i < c; i++ {
		mat.Row(row, i, norms)
		var sum float64
		var n int
		for _, x := range row {
			if !math.IsNaN(x) {
				sum += x
				n++
			}
		}
		if n == 0 {
			fillNaN(row)
			out.SetRow(i, row)
			continue
		}
		mean := sum / float64(n)
		var ss float64
		for _, x := range row {
			if !math.IsNaN(x) {
				d := x - mean
				ss += d * d
			}
		}
		std := math.Sqrt(ss / float64(n))
		if std == 0 {
			if policy != PropagateNaN {
				return nil, &DegenerateWindowError{Scheme: SchemeZScore, Window: -1, Channel: i, Reason: "norms have zero standard deviation"}
			}
			fillNaN(row)
			out.SetRow(i, row)
			continue
		}
		for j, x := range row {
			row[j] = (x - mean) / std
		}
		out.SetRow(i, row)
	}
	return out, nil
}

func bounds(xs []float64) (lo, hi float64) {
	lo, hi = xs[0], xs[0]
	for _, x := range xs[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return lo, hi
}

func hasNaN(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}

func fillNaN(xs []float64) {
	for i := range xs {
		xs[i] = math.NaN()
	}
}
