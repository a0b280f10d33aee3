package resample

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Soxr resamples one channel with the go-audio-resampling converter at high
// quality. The output is padded or cut to the polyphase output length so
// both engines produce the same shape.
func Soxr(x []float64, from, to int) ([]float64, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("%w: %d -> %d", ErrInvalidRate, from, to)
	}
	if from == to {
		out := make([]float64, len(x))
		copy(out, x)
		return out, nil
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create soxr resampler: %w", err)
	}

	y, err := rs.Process(x)
	if err != nil {
		return nil, fmt.Errorf("soxr process: %w", err)
	}

	want := OutputLength(len(x), from, to)
	if len(y) >= want {
		return y[:want], nil
	}
	return append(y, make([]float64, want-len(y))...), nil
}
