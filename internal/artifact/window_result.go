package artifact

import (
	"fmt"
	"io"
	"slices"

	"gonum.org/v1/gonum/mat"
)

const (
	windowArrayIndex      = "window_index"
	windowArrayTransition = "transition"
	windowArrayNorms      = "norms"
	windowArrayVectors    = "vectors"
)

// EncodeWindow writes one successful window result as a bundle.
func EncodeWindow(w io.Writer, res WindowResult) error {
	if res.Failed {
		return fmt.Errorf("window %d: failed results are not persisted", res.Index)
	}
	c, cc := res.Transition.Dims()
	if c != cc || len(res.Norms) != c {
		return fmt.Errorf("window %d: %dx%d transition with %d norms", res.Index, c, cc, len(res.Norms))
	}
	return writeBundle(w, []bundleEntry{
		{windowArrayIndex, []int64{int64(res.Index)}},
		{windowArrayTransition, res.Transition},
		{windowArrayNorms, slices.Clone(res.Norms)},
		{windowArrayVectors, res.Vectors},
	})
}

// DecodeWindow reads a window result written by EncodeWindow. Every array
// must hold exactly c channels.
func DecodeWindow(r io.ReaderAt, size int64, c int) (WindowResult, error) {
	if c <= 0 {
		return WindowResult{}, fmt.Errorf("decode window: %d channels", c)
	}
	b, err := openBundle(r, size)
	if err != nil {
		return WindowResult{}, err
	}
	idx, err := b.index(windowArrayIndex)
	if err != nil {
		return WindowResult{}, err
	}
	res := WindowResult{Index: idx}
	if res.Transition, err = b.dense(windowArrayTransition, c, c); err != nil {
		return WindowResult{}, err
	}
	if res.Vectors, err = b.dense(windowArrayVectors, c, c); err != nil {
		return WindowResult{}, err
	}
	if res.Norms, err = b.vector(windowArrayNorms, c); err != nil {
		return WindowResult{}, err
	}
	return res, nil
}

// CloneWindow returns a deep copy of res.
func CloneWindow(res WindowResult) WindowResult {
	out := res
	out.Norms = slices.Clone(res.Norms)
	if res.Transition != nil {
		out.Transition = mat.DenseCopyOf(res.Transition)
	}
	if res.Vectors != nil {
		out.Vectors = mat.DenseCopyOf(res.Vectors)
	}
	return out
}
