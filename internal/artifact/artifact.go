package artifact

import (
	"fmt"
	"io"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"

	"fragility/internal/normalize"
	"fragility/internal/window"
)

// Array names inside a bundle.
const (
	ArrayNorms       = "perturbation_norms"
	ArrayTransitions = "transition_matrices"
	ArrayVectors     = "perturbation_vectors"
)

// FormatVersion is written to every sidecar.
const FormatVersion = 1

// Metadata is the JSON sidecar of an artifact.
type Metadata struct {
	FormatVersion     int             `json:"format_version"`
	ChannelNames      []string        `json:"channel_names"`
	NumWindows        int             `json:"num_windows"`
	WindowSizeSamples int             `json:"window_size_samples"`
	StepSizeSamples   int             `json:"step_size_samples"`
	StabilityRadius   float64         `json:"stability_radius"`
	PerturbationMode  string          `json:"perturbation_mode"`
	SamplingRate      float64         `json:"sampling_rate"`
	SolverMethod      string          `json:"solver_method"`
	RidgeAlpha        float64         `json:"ridge_alpha,omitempty"`
	Normalization     string          `json:"normalization"`
	Windows           []window.Window `json:"windows"`
	FailedWindows     []int           `json:"failed_windows"`
	RecordingName     string          `json:"recording_name,omitempty"`
	RecordingID       string          `json:"recording_id"`
	ParamsHash        string          `json:"params_hash"`
}

// WindowResult is the outcome of one window: its transition matrix and the
// per-channel perturbations. Failed results carry no matrices.
type WindowResult struct {
	Index      int
	Transition *mat.Dense
	Norms      []float64
	Vectors    *mat.Dense
	Failed     bool
}

// Artifact is the analysis of one recording under one parameter set.
type Artifact struct {
	Metadata Metadata
	// Norms is C×W.
	Norms *mat.Dense
	// Transitions and Vectors hold one C×C matrix per window.
	Transitions []*mat.Dense
	Vectors     []*mat.Dense
}

// NumChannels returns C.
func (a *Artifact) NumChannels() int { return len(a.Metadata.ChannelNames) }

// NumWindows returns W.
func (a *Artifact) NumWindows() int { return len(a.Transitions) }

// Assemble builds an artifact from per-window results ordered by index.
// Failed windows become NaN placeholders and are listed in FailedWindows.
func Assemble(meta Metadata, results []WindowResult) (*Artifact, error) {
	c := len(meta.ChannelNames)
	w := len(results)
	if c == 0 || w == 0 {
		return nil, fmt.Errorf("assemble: %d channels, %d windows", c, w)
	}
	art := &Artifact{
		Metadata:    meta,
		Norms:       mat.NewDense(c, w, nil),
		Transitions: make([]*mat.Dense, w),
		Vectors:     make([]*mat.Dense, w),
	}
	art.Metadata.FormatVersion = FormatVersion
	art.Metadata.NumWindows = w
	art.Metadata.FailedWindows = []int{}
	for j, res := range results {
		if res.Index != j {
			return nil, fmt.Errorf("assemble: result %d carries index %d", j, res.Index)
		}
		if res.Failed {
			art.Metadata.FailedWindows = append(art.Metadata.FailedWindows, j)
			art.Transitions[j] = nanMatrix(c)
			art.Vectors[j] = nanMatrix(c)
			for i := 0; i < c; i++ {
				art.Norms.Set(i, j, math.NaN())
			}
			continue
		}
		if len(res.Norms) != c {
			return nil, fmt.Errorf("assemble: window %d has %d norms, want %d", j, len(res.Norms), c)
		}
		art.Transitions[j] = res.Transition
		art.Vectors[j] = res.Vectors
		art.Norms.SetCol(j, res.Norms)
	}
	return art, art.Validate()
}

func nanMatrix(c int) *mat.Dense {
	data := make([]float64, c*c)
	for i := range data {
		data[i] = math.NaN()
	}
	return mat.NewDense(c, c, data)
}

// ShapeError reports an artifact whose arrays disagree with its metadata.
type ShapeError struct {
	Array  string
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("artifact %s: %s", e.Array, e.Reason)
}

// ErrorKind classifies the error for run registry status mapping.
func (e *ShapeError) ErrorKind() string { return "validation" }

// Validate checks that every array's leading dimension equals the number of
// channels and that window counts agree.
func (a *Artifact) Validate() error {
	c := a.NumChannels()
	if a.Norms == nil {
		return &ShapeError{Array: ArrayNorms, Reason: "missing"}
	}
	rows, w := a.Norms.Dims()
	if rows != c {
		return &ShapeError{Array: ArrayNorms, Reason: fmt.Sprintf("shape[0]=%d, %d channel names", rows, c)}
	}
	if len(a.Transitions) != w || len(a.Vectors) != w {
		return &ShapeError{Array: ArrayTransitions, Reason: fmt.Sprintf("%d transitions and %d vectors for %d windows", len(a.Transitions), len(a.Vectors), w)}
	}
	if a.Metadata.NumWindows != w {
		return &ShapeError{Array: ArrayNorms, Reason: fmt.Sprintf("metadata lists %d windows, norms have %d", a.Metadata.NumWindows, w)}
	}
	for j := 0; j < w; j++ {
		for _, m := range []struct {
			name string
			m    *mat.Dense
		}{{ArrayTransitions, a.Transitions[j]}, {ArrayVectors, a.Vectors[j]}} {
			if m.m == nil {
				return &ShapeError{Array: m.name, Reason: fmt.Sprintf("window %d missing", j)}
			}
			if r, cc := m.m.Dims(); r != c || cc != c {
				return &ShapeError{Array: m.name, Reason: fmt.Sprintf("window %d is %dx%d, want %dx%d", j, r, cc, c, c)}
			}
		}
	}
	return nil
}

// Fragility normalizes the norm matrix with scheme. Failed windows stay NaN.
func (a *Artifact) Fragility(scheme normalize.Scheme, policy normalize.Policy) (*mat.Dense, error) {
	return normalize.Apply(a.Norms, scheme, policy)
}

// Each C×C×W tensor is stored as a C×(C·W) matrix whose element
// [i, j·W+w] is window w's entry [i, j], so reshape(C, C, W) recovers it.
func flatten(mats []*mat.Dense, c int) *mat.Dense {
	w := len(mats)
	out := mat.NewDense(c, c*w, nil)
	for k, m := range mats {
		for i := 0; i < c; i++ {
			for j := 0; j < c; j++ {
				out.Set(i, j*w+k, m.At(i, j))
			}
		}
	}
	return out
}

func unflatten(flat *mat.Dense, c, w int) []*mat.Dense {
	out := make([]*mat.Dense, w)
	for k := range out {
		m := mat.NewDense(c, c, nil)
		for i := 0; i < c; i++ {
			for j := 0; j < c; j++ {
				m.Set(i, j, flat.At(i, j*w+k))
			}
		}
		out[k] = m
	}
	return out
}

func (a *Artifact) encode(w io.Writer) error {
	c := a.NumChannels()
	return writeBundle(w, []bundleEntry{
		{ArrayNorms, a.Norms},
		{ArrayTransitions, flatten(a.Transitions, c)},
		{ArrayVectors, flatten(a.Vectors, c)},
	})
}

// decode rebuilds an artifact from its sidecar and bundle. Array shapes are
// taken from the sidecar and checked against each member header before any
// data is read.
func decode(meta Metadata, r io.ReaderAt, size int64) (*Artifact, error) {
	c, w := len(meta.ChannelNames), meta.NumWindows
	if c == 0 || w <= 0 {
		return nil, &ShapeError{Array: ArrayNorms, Reason: fmt.Sprintf("sidecar lists %d channels and %d windows", c, w)}
	}
	if len(meta.Windows) != w {
		return nil, &ShapeError{Array: ArrayNorms, Reason: fmt.Sprintf("sidecar lists %d window bounds for %d windows", len(meta.Windows), w)}
	}
	b, err := openBundle(r, size)
	if err != nil {
		return nil, err
	}
	art := &Artifact{Metadata: meta}
	if art.Norms, err = b.dense(ArrayNorms, c, w); err != nil {
		return nil, err
	}
	for _, name := range []string{ArrayTransitions, ArrayVectors} {
		flat, err := b.dense(name, c, c*w)
		if err != nil {
			return nil, err
		}
		if name == ArrayTransitions {
			art.Transitions = unflatten(flat, c, w)
		} else {
			art.Vectors = unflatten(flat, c, w)
		}
	}
	return art, art.Validate()
}

// Clone returns a deep copy of a.
func (a *Artifact) Clone() *Artifact {
	out := &Artifact{Metadata: a.Metadata}
	out.Metadata.ChannelNames = slices.Clone(a.Metadata.ChannelNames)
	out.Metadata.Windows = slices.Clone(a.Metadata.Windows)
	out.Metadata.FailedWindows = slices.Clone(a.Metadata.FailedWindows)
	if a.Norms != nil {
		out.Norms = mat.DenseCopyOf(a.Norms)
	}
	out.Transitions = cloneAll(a.Transitions)
	out.Vectors = cloneAll(a.Vectors)
	return out
}

func cloneAll(mats []*mat.Dense) []*mat.Dense {
	if mats == nil {
		return nil
	}
	out := make([]*mat.Dense, len(mats))
	for i, m := range mats {
		if m != nil {
			out[i] = mat.DenseCopyOf(m)
		}
	}
	return out
}
