package doa

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-soundcheck/internal/audio"
)

// Status is the outcome of a DOA analysis
type Status string

const (
	StatusOK       Status = "ok"
	StatusTooShort Status = "too_short"
)

// AnalyzerConfig configures DOA analysis
type AnalyzerConfig struct {
	DivideGap   time.Duration
	MinBlock    time.Duration
	MinDuration time.Duration
	Eval        EvalConfig
}

// DefaultAnalyzerConfig returns the standard thresholds
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		DivideGap:   DefaultDivideGap,
		MinBlock:    DefaultMinBlockTime,
		MinDuration: MinStreamDuration,
		Eval:        DefaultEvalConfig(),
	}
}

// Report is the result of analyzing one SSL stream
type Report struct {
	Status       Status       `json:"status" yaml:"status" msgpack:"status"`
	SampleRate   int          `json:"sample_rate" yaml:"sample_rate" msgpack:"sample_rate"`
	DurationSec  float64      `json:"duration_sec" yaml:"duration_sec" msgpack:"duration_sec"`
	ValidSamples int          `json:"valid_samples" yaml:"valid_samples" msgpack:"valid_samples"`
	Blocks       []BlockStats `json:"blocks" yaml:"blocks" msgpack:"blocks"`
	Evaluation   Evaluation   `json:"evaluation" yaml:"evaluation" msgpack:"evaluation"`
}

// Analyzer runs decode, segmentation and statistics over SSL channels
type Analyzer struct {
	cfg    AnalyzerConfig
	logger *slog.Logger
}

// NewAnalyzer creates an analyzer. Zero durations take their defaults.
func NewAnalyzer(cfg AnalyzerConfig, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultAnalyzerConfig()
	if cfg.DivideGap <= 0 {
		cfg.DivideGap = def.DivideGap
	}
	if cfg.MinBlock <= 0 {
		cfg.MinBlock = def.MinBlock
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = def.MinDuration
	}
	return &Analyzer{cfg: cfg, logger: logger}
}

// MinDuration is the shortest stream the analyzer summarizes
func (a *Analyzer) MinDuration() time.Duration {
	return a.cfg.MinDuration
}

// Analyze decodes a mono SSL channel and summarizes it. A capture below the
// minimum duration is reported as StatusTooShort, not as an error.
func (a *Analyzer) Analyze(buf audio.Buffer) (Report, error) {
	stream, err := DecodeMin(buf, a.cfg.MinDuration)
	if errors.Is(err, ErrTooShort) {
		a.logger.Info("ssl stream too short",
			"seconds", buf.Seconds(),
			"min", a.cfg.MinDuration,
		)
		return Report{
			Status:      StatusTooShort,
			SampleRate:  buf.SampleRate,
			DurationSec: buf.Seconds(),
		}, nil
	}
	if err != nil {
		return Report{}, err
	}
	return a.AnalyzeStream(stream), nil
}

// AnalyzeStream segments and summarizes an already decoded stream
func (a *Analyzer) AnalyzeStream(stream Stream) Report {
	seg := SegmenterConfigForRate(stream.SampleRate, a.cfg.DivideGap, a.cfg.MinBlock)
	blocks := Segment(stream, seg)
	stats := SummarizeAll(blocks, stream.SampleRate)

	a.logger.Debug("ssl stream analyzed",
		"samples", len(stream.Samples),
		"sample_rate", stream.SampleRate,
		"blocks", len(blocks),
		"divide_threshold", seg.DivideThreshold,
		"min_block_size", seg.MinBlockSize,
	)

	return Report{
		Status:       StatusOK,
		SampleRate:   stream.SampleRate,
		DurationSec:  stream.Seconds(),
		ValidSamples: stream.ValidCount(),
		Blocks:       stats,
		Evaluation:   Evaluate(stream, a.cfg.Eval),
	}
}
