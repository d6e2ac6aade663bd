package recording

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"golang.org/x/text/cases"
)

// Recording is a channel-major sample matrix with its channel names and
// sampling rate.
type Recording struct {
	name         string
	channels     []string
	samples      [][]float64
	samplingRate float64
}

// ValidationError reports a recording that cannot be analysed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid recording: " + e.Reason
}

// ErrorKind classifies the error for run registry status mapping.
func (e *ValidationError) ErrorKind() string { return "validation" }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// New validates and copies its arguments into a Recording.
func New(name string, channels []string, samples [][]float64, samplingRate float64) (*Recording, error) {
	if len(channels) == 0 {
		return nil, invalid("no channels")
	}
	if len(samples) != len(channels) {
		return nil, invalid("%d channel names for %d sample rows", len(channels), len(samples))
	}
	if !(samplingRate > 0) || math.IsInf(samplingRate, 0) {
		return nil, invalid("sampling rate must be positive, got %g", samplingRate)
	}
	fold := cases.Fold()
	seen := make(map[string]int, len(channels))
	for i, ch := range channels {
		if ch == "" {
			return nil, invalid("channel %d has an empty name", i)
		}
		key := fold.String(ch)
		if prev, ok := seen[key]; ok {
			return nil, invalid("channel %q duplicates channel %d", ch, prev)
		}
		seen[key] = i
	}
	length := len(samples[0])
	if length == 0 {
		return nil, invalid("recording has no samples")
	}
	rows := make([][]float64, len(samples))
	for i, row := range samples {
		if len(row) != length {
			return nil, invalid("channel %q has %d samples, want %d", channels[i], len(row), length)
		}
		for t, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, invalid("channel %q sample %d is not finite", channels[i], t)
			}
		}
		rows[i] = append([]float64(nil), row...)
	}
	return &Recording{
		name:         name,
		channels:     append([]string(nil), channels...),
		samples:      rows,
		samplingRate: samplingRate,
	}, nil
}

// Name returns the recording's display name, which may be empty.
func (r *Recording) Name() string { return r.name }

// Channels returns a copy of the channel names.
func (r *Recording) Channels() []string { return append([]string(nil), r.channels...) }

// NumChannels returns C.
func (r *Recording) NumChannels() int { return len(r.channels) }

// NumSamples returns T.
func (r *Recording) NumSamples() int { return len(r.samples[0]) }

// SamplingRate returns the sampling rate in Hz.
func (r *Recording) SamplingRate() float64 { return r.samplingRate }

// Rows exposes the channel-major sample rows. Callers must not modify them.
func (r *Recording) Rows() [][]float64 { return r.samples }

// Duration returns the recording length.
func (r *Recording) Duration() time.Duration {
	return time.Duration(float64(r.NumSamples()) / r.samplingRate * float64(time.Second))
}

// Identity returns a hex SHA-256 over the channel names, sampling rate and
// sample bits. Two recordings with the same identity produce the same analysis.
func (r *Recording) Identity() string {
	h := sha256.New()
	var buf [8]byte
	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	h.Write([]byte("fragility-recording/v1"))
	writeUint(uint64(len(r.channels)))
	for _, ch := range r.channels {
		writeUint(uint64(len(ch)))
		h.Write([]byte(ch))
	}
	writeUint(math.Float64bits(r.samplingRate))
	writeUint(uint64(r.NumSamples()))
	for _, row := range r.samples {
		for _, v := range row {
			writeUint(math.Float64bits(v))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Recommended acquisition bounds. Recordings outside them are analysed but
// flagged.
const (
	MinRecommendedRate     = 250.0
	MaxRecommendedRate     = 2500.0
	MinRecommendedDuration = 20 * time.Second
	MaxRecommendedChannels = 200
)

// Warnings lists acquisition properties that are allowed but unusual.
func (r *Recording) Warnings() []string {
	var warnings []string
	if r.samplingRate < MinRecommendedRate || r.samplingRate > MaxRecommendedRate {
		warnings = append(warnings, fmt.Sprintf("sampling rate %g Hz outside %g-%g Hz", r.samplingRate, MinRecommendedRate, MaxRecommendedRate))
	}
	if d := r.Duration(); d < MinRecommendedDuration {
		warnings = append(warnings, fmt.Sprintf("recording is %s, shorter than %s", d.Round(time.Millisecond), MinRecommendedDuration))
	}
	if n := r.NumChannels(); n > MaxRecommendedChannels {
		warnings = append(warnings, fmt.Sprintf("%d channels exceeds %d", n, MaxRecommendedChannels))
	}
	return warnings
}

// DropChannels returns a copy without the named channels. Names match
// case-insensitively; unknown names are ignored.
func (r *Recording) DropChannels(names []string) (*Recording, error) {
	if len(names) == 0 {
		return r, nil
	}
	fold := cases.Fold()
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[fold.String(n)] = struct{}{}
	}
	var channels []string
	var rows [][]float64
	for i, ch := range r.channels {
		if _, ok := drop[fold.String(ch)]; ok {
			continue
		}
		channels = append(channels, ch)
		rows = append(rows, r.samples[i])
	}
	return New(r.name, channels, rows, r.samplingRate)
}
