package doa

import (
	"math"
	"sort"
)

// Angular distances at or beyond this count as outright errors
const errorDiffDeg = 30

// EvalConfig configures accuracy scoring for a fixed-position source
type EvalConfig struct {
	// AngleErrorDeg is the largest deviation from the dominant azimuth that
	// still counts as correct
	AngleErrorDeg float64
	// InvalidAllowance is subtracted from the no-detection count before
	// sensitivity is computed, absorbing lead-in and lead-out silence
	InvalidAllowance int
}

// DefaultEvalConfig returns ±5° accuracy with 500 forgiven misses
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		AngleErrorDeg:    5,
		InvalidAllowance: 500,
	}
}

// Evaluation scores how consistently a stream points at one azimuth
type Evaluation struct {
	DominantAzimuth int     `json:"dominant_azimuth" yaml:"dominant_azimuth" msgpack:"dominant_azimuth"`
	Sector          int     `json:"sector" yaml:"sector" msgpack:"sector"`
	Correct         int     `json:"correct" yaml:"correct" msgpack:"correct"`
	Approximate     int     `json:"approximate" yaml:"approximate" msgpack:"approximate"`
	Errors          int     `json:"errors" yaml:"errors" msgpack:"errors"`
	Invalid         int     `json:"invalid" yaml:"invalid" msgpack:"invalid"`
	Accuracy        float64 `json:"accuracy_pct" yaml:"accuracy_pct" msgpack:"accuracy_pct"`
	Sensitivity     float64 `json:"sensitivity_pct" yaml:"sensitivity_pct" msgpack:"sensitivity_pct"`
	ErrorAzimuths   []int   `json:"error_azimuths,omitempty" yaml:"error_azimuths,omitempty" msgpack:"error_azimuths,omitempty"`
}

// Evaluate bins valid samples by whole degree, takes the most frequent bin
// as the true azimuth and classifies every sample against it. Ties between
// bins go to the smaller azimuth.
func Evaluate(stream Stream, cfg EvalConfig) Evaluation {
	var (
		ev   Evaluation
		hist = make(map[int]int)
	)

	for _, a := range stream.Samples {
		deg, ok := a.Degrees()
		if !ok {
			ev.Invalid++
			continue
		}
		hist[int(math.Round(deg))%360]++
	}
	if len(hist) == 0 {
		return ev
	}

	bins := make([]int, 0, len(hist))
	for bin := range hist {
		bins = append(bins, bin)
	}
	sort.Ints(bins)

	best := -1
	for _, bin := range bins {
		if best < 0 || hist[bin] > hist[best] {
			best = bin
		}
	}
	ev.DominantAzimuth = best
	ev.Sector = MicSector(float64(best))

	for _, bin := range bins {
		count := hist[bin]
		diff := AngleDiff(float64(best), float64(bin))
		switch {
		case diff <= cfg.AngleErrorDeg:
			ev.Correct += count
		case diff >= errorDiffDeg:
			ev.Errors += count
			ev.ErrorAzimuths = append(ev.ErrorAzimuths, bin)
		default:
			ev.Approximate += count
		}
	}

	valid := ev.Correct + ev.Approximate + ev.Errors
	ev.Accuracy = float64(ev.Correct) / float64(valid) * 100

	missed := max(ev.Invalid-cfg.InvalidAllowance, 0)
	ev.Sensitivity = float64(valid) / float64(valid+missed) * 100
	return ev
}

// MicSector maps an azimuth to the 60° sector of a six-microphone array.
// Sector 1 spans 330°-30°; boundaries belong to the lower-numbered sector.
func MicSector(azimuth float64) int {
	az := NormalizeDegrees(azimuth)
	if az <= 30 || az >= 330 {
		return 1
	}
	return int(math.Ceil((az-30)/60)) + 1
}
