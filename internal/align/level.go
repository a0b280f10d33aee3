package align

import (
	"fmt"

	"github.com/teslashibe/go-soundcheck/internal/audio"
)

// Normalize scales the aligned target so its RMS matches the reference.
// Results that are not StatusOK pass through untouched.
func Normalize(res Result) (Result, error) {
	if !res.Status.OK() {
		return res, nil
	}
	if res.Reference.Frames() != res.AlignedTarget.Frames() {
		return Result{}, fmt.Errorf("%w: aligned lengths differ (%d vs %d)",
			audio.ErrMalformed, res.Reference.Frames(), res.AlignedTarget.Frames())
	}

	ref := res.Reference.Float64()
	tgt := res.AlignedTarget.Float64()

	refRMS := audio.RMS(ref)
	if refRMS <= 0 {
		return Result{Status: StatusSilentReference, OffsetSamples: res.OffsetSamples}, nil
	}
	tgtRMS := audio.RMS(tgt)
	if tgtRMS <= 0 {
		return Result{Status: StatusSilentTarget, OffsetSamples: res.OffsetSamples}, nil
	}

	gain := refRMS / tgtRMS
	res.AlignedTarget = audio.Mono(audio.Scale(tgt, gain), res.AlignedTarget.SampleRate)
	res.Gain = gain
	return res, nil
}
