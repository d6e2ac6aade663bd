package testsupport

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"fragility/internal/recording"
)

// SyntheticRecording generates a stable coupled linear system driven by
// seeded noise so that transition matrices are well conditioned and results
// are reproducible. Channels are named CH1..CHn.
func SyntheticRecording(t testing.TB, channels, samples int, rate float64, seed int64) *recording.Recording {
	t.Helper()

	rows := SyntheticSamples(channels, samples, seed)
	names := make([]string, channels)
	for i := range names {
		names[i] = fmt.Sprintf("CH%d", i+1)
	}
	rec, err := recording.New(fmt.Sprintf("synthetic-%d", seed), names, rows, rate)
	if err != nil {
		t.Fatalf("recording.New: %v", err)
	}
	return rec
}

// SyntheticSamples returns channel-major samples of x[t+1] = A·x[t] + noise
// where A has spectral radius below one.
func SyntheticSamples(channels, samples int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	a := make([][]float64, channels)
	for i := range a {
		a[i] = make([]float64, channels)
		a[i][i] = 0.5 + 0.3*math.Sin(float64(i+1))
		if i+1 < channels {
			a[i][i+1] = 0.2
		}
		if i > 0 {
			a[i][i-1] = -0.1
		}
	}
	rows := make([][]float64, channels)
	for i := range rows {
		rows[i] = make([]float64, samples)
		rows[i][0] = rng.NormFloat64()
	}
	for t := 1; t < samples; t++ {
		for i := 0; i < channels; i++ {
			v := rng.NormFloat64() * 0.5
			for j := 0; j < channels; j++ {
				v += a[i][j] * rows[j][t-1]
			}
			rows[i][t] = v
		}
	}
	return rows
}
