package doa

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// BlockStats summarizes one block after wrap correction
type BlockStats struct {
	Start       int     `json:"start" yaml:"start" msgpack:"start"`
	Samples     int     `json:"samples" yaml:"samples" msgpack:"samples"`
	StartSec    float64 `json:"start_sec" yaml:"start_sec" msgpack:"start_sec"`
	DurationSec float64 `json:"duration_sec" yaml:"duration_sec" msgpack:"duration_sec"`
	MeanDeg     float64 `json:"mean_deg" yaml:"mean_deg" msgpack:"mean_deg"`
	StdDeg      float64 `json:"std_deg" yaml:"std_deg" msgpack:"std_deg"`
	PoleDiffDeg float64 `json:"pole_diff_deg" yaml:"pole_diff_deg" msgpack:"pole_diff_deg"`
	Wrapped     bool    `json:"wrapped" yaml:"wrapped" msgpack:"wrapped"`
}

// Unwrap re-expresses a block straddling 0°/360° as one continuous run.
// When max-min exceeds 180°, every value above the midpoint is shifted down
// by 360°. It returns the corrected copy and whether a shift happened.
func Unwrap(degrees []float64) ([]float64, bool) {
	out := append([]float64(nil), degrees...)
	if len(out) == 0 {
		return out, false
	}

	hi, lo := floats.Max(out), floats.Min(out)
	if hi-lo <= 180 {
		return out, false
	}

	mid := (hi + lo) / 2
	for i, v := range out {
		if v > mid {
			out[i] = v - 360
		}
	}
	return out, true
}

// Summarize computes the statistics of one block. The mean is reported on
// the corrected scale and may be negative for blocks centered near 0°.
func Summarize(b Block, sampleRate int) BlockStats {
	s := BlockStats{
		Start:   b.Start,
		Samples: b.Len(),
	}
	if sampleRate > 0 {
		s.StartSec = float64(b.Start) / float64(sampleRate)
		s.DurationSec = float64(b.Len()) / float64(sampleRate)
	}
	if b.Len() == 0 {
		return s
	}

	deg, wrapped := Unwrap(b.Degrees)
	s.Wrapped = wrapped
	s.PoleDiffDeg = floats.Max(deg) - floats.Min(deg)
	if len(deg) == 1 {
		s.MeanDeg = deg[0]
		return s
	}
	s.MeanDeg, s.StdDeg = stat.PopMeanStdDev(deg, nil)
	return s
}

// SummarizeAll computes statistics for every block in order
func SummarizeAll(blocks []Block, sampleRate int) []BlockStats {
	out := make([]BlockStats, len(blocks))
	for i, b := range blocks {
		out[i] = Summarize(b, sampleRate)
	}
	return out
}
