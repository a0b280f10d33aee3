package doa

import (
	"math"
	"time"
)

// SegmenterConfig holds the block thresholds, in samples
type SegmenterConfig struct {
	// DivideThreshold is the run of invalid samples that closes a block
	DivideThreshold int
	// MinBlockSize is the valid-sample count a block must exceed to be kept
	MinBlockSize int
}

// Default thresholds for a 16 kHz stream: a 0.5 s gap splits blocks and
// blocks of 0.1 s or less are dropped as noise.
const (
	DefaultDivideGap    = 500 * time.Millisecond
	DefaultMinBlockTime = 100 * time.Millisecond
)

// DefaultSegmenterConfig returns the 16 kHz thresholds (8000 / 1600)
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfigForRate(16000, DefaultDivideGap, DefaultMinBlockTime)
}

// SegmenterConfigForRate expresses time thresholds as sample counts
func SegmenterConfigForRate(rate int, divideGap, minBlock time.Duration) SegmenterConfig {
	return SegmenterConfig{
		DivideThreshold: int(math.Round(divideGap.Seconds() * float64(rate))),
		MinBlockSize:    int(math.Round(minBlock.Seconds() * float64(rate))),
	}
}

// Block is a run of valid azimuths, possibly bridging short gaps
type Block struct {
	// Start and End are the stream indices of the first and last valid sample
	Start   int       `json:"start"`
	End     int       `json:"end"`
	Degrees []float64 `json:"-"`
}

// Len returns the number of valid samples in the block
func (b Block) Len() int {
	return len(b.Degrees)
}

// Segment splits a stream into blocks in a single pass.
//
// Valid samples accumulate into the current candidate. Each invalid sample
// extends the gap counter; once the gap exceeds DivideThreshold, or the
// stream ends on an invalid sample, the candidate closes and is kept only
// if it holds more than MinBlockSize samples. A candidate still open when
// the stream ends on a valid sample is not emitted.
func Segment(stream Stream, cfg SegmenterConfig) []Block {
	var (
		blocks   []Block
		current  Block
		validRun int
		gapRun   int
	)

	last := len(stream.Samples) - 1
	for i, a := range stream.Samples {
		if deg, ok := a.Degrees(); ok {
			if validRun == 0 {
				current.Start = i
			}
			current.Degrees = append(current.Degrees, deg)
			current.End = i
			validRun++
			gapRun = 0
			continue
		}

		gapRun++
		if gapRun > cfg.DivideThreshold || i == last {
			if validRun > cfg.MinBlockSize {
				blocks = append(blocks, current)
			}
			current = Block{}
			validRun = 0
			gapRun = 0
		}
	}
	return blocks
}
