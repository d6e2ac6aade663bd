package window

import (
	"fmt"
	"math"
)

// Window is a half-open sample range [Start, End).
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of samples covered by the window.
func (w Window) Len() int {
	return w.End - w.Start
}

// InvalidWindowError reports window parameters that cannot segment a recording.
type InvalidWindowError struct {
	Size   int
	Step   int
	Total  int
	Reason string
}

func (e *InvalidWindowError) Error() string {
	return fmt.Sprintf("invalid window: %s (size=%d step=%d total=%d)", e.Reason, e.Size, e.Step, e.Total)
}

// ErrorKind classifies the error for run registry status mapping.
func (e *InvalidWindowError) ErrorKind() string {
	return "configuration"
}

// Count returns the number of windows Segment would produce, or an error for
// invalid parameters.
func Count(size, step, total int) (int, error) {
	if err := check(size, step, total); err != nil {
		return 0, err
	}
	return (total-size)/step + 1, nil
}

// Segment returns the ordered windows of the given size, advancing by step,
// over a recording of total samples.
func Segment(size, step, total int) ([]Window, error) {
	count, err := Count(size, step, total)
	if err != nil {
		return nil, err
	}
	windows := make([]Window, count)
	for i := range windows {
		start := i * step
		windows[i] = Window{Start: start, End: start + size}
	}
	return windows, nil
}

func check(size, step, total int) error {
	switch {
	case size <= 0:
		return &InvalidWindowError{Size: size, Step: step, Total: total, Reason: "window size must be positive"}
	case step <= 0:
		return &InvalidWindowError{Size: size, Step: step, Total: total, Reason: "step size must be positive"}
	case size > total:
		return &InvalidWindowError{Size: size, Step: step, Total: total, Reason: "window size exceeds recording length"}
	}
	return nil
}

// SamplesFromMs converts a duration in milliseconds to a sample count at the
// given sampling rate, rounding to the nearest sample. Any positive duration
// maps to at least one sample.
func SamplesFromMs(ms, rate float64) int {
	if ms <= 0 || rate <= 0 {
		return 0
	}
	samples := int(math.Round(ms * rate / 1000))
	if samples < 1 {
		return 1
	}
	return samples
}
