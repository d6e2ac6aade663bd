package normalize

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Ranking is one channel's aggregate fragility.
type Ranking struct {
	Channel string  `json:"channel"`
	Index   int     `json:"index"`
	Mean    float64 `json:"mean"`
	Max     float64 `json:"max"`
	Windows int     `json:"windows"`
}

// Rank returns channels ordered by mean fragility over finite windows, most
// fragile first. Ties keep channel order. Channels without any finite window
// sort last with a NaN mean.
func Rank(fragility mat.Matrix, channels []string) []Ranking {
	c, w := fragility.Dims()
	out := make([]Ranking, c)
	for i := 0; i < c; i++ {
		r := Ranking{Index: i, Max: math.NaN()}
		if i < len(channels) {
			r.Channel = channels[i]
		}
		var sum float64
		for j := 0; j < w; j++ {
			v := fragility.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			sum += v
			if r.Windows == 0 || v > r.Max {
				r.Max = v
			}
			r.Windows++
		}
		if r.Windows > 0 {
			r.Mean = sum / float64(r.Windows)
		} else {
			r.Mean = math.NaN()
		}
		out[i] = r
	}
	sort.SliceStable(out, func(a, b int) bool {
		ma, mb := out[a].Mean, out[b].Mean
		if math.IsNaN(ma) {
			return false
		}
		if math.IsNaN(mb) {
			return true
		}
		return ma > mb
	})
	return out
}
