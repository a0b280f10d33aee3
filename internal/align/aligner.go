package align

import (
	"log/slog"
	"math"
	"time"

	"github.com/teslashibe/go-soundcheck/internal/audio"
	"github.com/teslashibe/go-soundcheck/internal/resample"
	"github.com/teslashibe/go-soundcheck/internal/xcorr"
)

// DefaultTolerance is the maximum leading offset and length shortfall
// accepted between reference and target.
const DefaultTolerance = time.Second

// Result is the outcome of aligning one target against its reference.
// Reference and AlignedTarget are populated only when Status is StatusOK,
// in which case they have equal length and sample rate.
type Result struct {
	Status        Status
	Reference     audio.Buffer
	AlignedTarget audio.Buffer
	// OffsetSamples is positive when the target started late.
	OffsetSamples int
	// Gain is the factor applied to the target by level matching.
	Gain float64
}

// OffsetSeconds converts the offset to seconds at the reference rate.
func (r Result) OffsetSeconds() float64 {
	if r.Reference.SampleRate == 0 {
		return 0
	}
	return float64(r.OffsetSamples) / float64(r.Reference.SampleRate)
}

// Aligner removes the leading offset between a reference and a target
// recording of the same content.
type Aligner struct {
	tolerance time.Duration
	resampler *resample.Resampler
	logger    *slog.Logger
}

// NewAligner creates an aligner. A zero tolerance selects DefaultTolerance
// and a nil resampler selects the polyphase engine.
func NewAligner(tolerance time.Duration, rs *resample.Resampler, logger *slog.Logger) *Aligner {
	if logger == nil {
		logger = slog.Default()
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if rs == nil {
		rs = resample.New(resample.EnginePolyphase, logger)
	}
	return &Aligner{tolerance: tolerance, resampler: rs, logger: logger}
}

// Tolerance returns the configured tolerance.
func (a *Aligner) Tolerance() time.Duration {
	return a.tolerance
}

// toleranceSamples is the tolerance expressed at the given rate.
func (a *Aligner) toleranceSamples(rate int) int {
	return int(math.Round(a.tolerance.Seconds() * float64(rate)))
}

// Align brings target to the reference rate and trims it so that its first
// sample lines up with the reference's. Both buffers must be mono. Failed
// alignments are reported through Result.Status; the error return is
// reserved for malformed input.
func (a *Aligner) Align(reference, target audio.Buffer) (Result, error) {
	if err := reference.RequireMono(); err != nil {
		return Result{}, err
	}
	if err := target.RequireMono(); err != nil {
		return Result{}, err
	}

	rate := reference.SampleRate
	tol := a.toleranceSamples(rate)
	refLen := reference.Frames()

	// Compare durations before spending time on resampling.
	targetAtRef := float64(target.Frames()) * float64(rate) / float64(target.SampleRate)
	if targetAtRef < float64(refLen-tol) {
		a.logger.Debug("target too short",
			"reference_seconds", reference.Seconds(),
			"target_seconds", target.Seconds(),
		)
		return Result{Status: StatusTooShort}, nil
	}

	if target.SampleRate != rate {
		resampled, err := a.resampler.Resample(target, rate)
		if err != nil {
			a.logger.Warn("target resample failed",
				"from", target.SampleRate,
				"to", rate,
				"error", err,
			)
			return Result{Status: StatusRateMismatchUnresolved}, nil
		}
		target = resampled
	}

	ref := reference.Float64()
	tgt := target.Float64()
	offset := xcorr.EstimateOffset(ref, tgt)

	res := Result{OffsetSamples: offset, Gain: 1}
	switch {
	case offset > 0:
		// Target started late. Whether enough of it remains is the tail
		// check's call.
		tgt = tgt[offset:]
	case offset < 0:
		if -offset > tol {
			res.Status = StatusOffsetTooLate
			return res, nil
		}
		ref = ref[-offset:]
	}

	if len(tgt) < len(ref) {
		res.Status = StatusShortTail
		return res, nil
	}
	tgt = tgt[:len(ref)]

	res.Status = StatusOK
	res.Reference = audio.Mono(ref, rate)
	res.AlignedTarget = audio.Mono(tgt, rate)
	return res, nil
}
