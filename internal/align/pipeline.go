package align

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-soundcheck/internal/audio"
	"github.com/teslashibe/go-soundcheck/internal/resample"
)

// PipelineConfig configures the alignment pipeline.
type PipelineConfig struct {
	Tolerance time.Duration
	// ScoringRate, when positive, resamples both signals before alignment.
	ScoringRate int
	Engine      resample.Engine
}

// Pipeline runs resampling, alignment and level matching in order and stops
// at the first failure.
type Pipeline struct {
	aligner     *Aligner
	resampler   *resample.Resampler
	scoringRate int
	logger      *slog.Logger
}

// NewPipeline creates a pipeline.
func NewPipeline(cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	rs := resample.New(cfg.Engine, logger)
	return &Pipeline{
		aligner:     NewAligner(cfg.Tolerance, rs, logger),
		resampler:   rs,
		scoringRate: cfg.ScoringRate,
		logger:      logger,
	}
}

// Aligner exposes the pipeline's aligner.
func (p *Pipeline) Aligner() *Aligner {
	return p.aligner
}

// Run aligns and level-matches target against reference.
func (p *Pipeline) Run(reference, target audio.Buffer) (Result, error) {
	if err := reference.RequireMono(); err != nil {
		return Result{}, err
	}
	if err := target.RequireMono(); err != nil {
		return Result{}, err
	}

	// A silent input correlates to an arbitrary lag; report the silence
	// instead of a misleading offset.
	if audio.RMS(reference.Float64()) == 0 {
		return Result{Status: StatusSilentReference}, nil
	}
	if audio.RMS(target.Float64()) == 0 {
		return Result{Status: StatusSilentTarget}, nil
	}

	if p.scoringRate > 0 {
		var err error
		if reference, err = p.resampler.Resample(reference, p.scoringRate); err != nil {
			p.logger.Warn("reference resample failed", "to", p.scoringRate, "error", err)
			return Result{Status: StatusRateMismatchUnresolved}, nil
		}
		if target, err = p.resampler.Resample(target, p.scoringRate); err != nil {
			p.logger.Warn("target resample failed", "to", p.scoringRate, "error", err)
			return Result{Status: StatusRateMismatchUnresolved}, nil
		}
	}

	res, err := p.aligner.Align(reference, target)
	if err != nil {
		return Result{}, err
	}
	if !res.Status.OK() {
		p.logger.Info("alignment failed",
			"status", res.Status.String(),
			"offset_samples", res.OffsetSamples,
		)
		return res, nil
	}

	return Normalize(res)
}
