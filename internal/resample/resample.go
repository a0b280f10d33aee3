// Package resample converts audio buffers between sample rates.
//
// The default engine is a zero-phase polyphase FIR filter so that an
// impulse at t seconds in the input lands at t seconds in the output. When
// the rate ratio would need an impractically long filter the resampler
// falls back to band-limited Fourier-domain interpolation.
package resample

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/teslashibe/go-soundcheck/internal/audio"
)

// Engine selects the resampling algorithm.
type Engine string

const (
	// EnginePolyphase is the zero-phase windowed-sinc polyphase filter.
	EnginePolyphase Engine = "polyphase"
	// EngineSoxr uses the go-audio-resampling high quality converter. Its
	// output is not guaranteed to be zero phase.
	EngineSoxr Engine = "soxr"
)

var (
	// ErrInvalidRate is returned for non-positive sample rates.
	ErrInvalidRate = errors.New("invalid sample rate")
	// ErrFilterTooLong is returned when the rational ratio needs more taps
	// than the polyphase engine allows.
	ErrFilterTooLong = errors.New("polyphase filter too long")
)

// ParseEngine maps a config string to an Engine.
func ParseEngine(s string) (Engine, error) {
	switch Engine(s) {
	case EnginePolyphase, "":
		return EnginePolyphase, nil
	case EngineSoxr:
		return EngineSoxr, nil
	}
	return "", fmt.Errorf("unknown resample engine %q", s)
}

// Resampler converts buffers to a target rate channel by channel.
type Resampler struct {
	engine Engine
	logger *slog.Logger
}

// New creates a resampler using the given engine.
func New(engine Engine, logger *slog.Logger) *Resampler {
	if logger == nil {
		logger = slog.Default()
	}
	if engine == "" {
		engine = EnginePolyphase
	}
	return &Resampler{engine: engine, logger: logger}
}

// Engine reports the configured engine.
func (r *Resampler) Engine() Engine {
	return r.engine
}

// Resample returns buf converted to targetRate. A buffer already at the
// target rate is returned unchanged.
func (r *Resampler) Resample(buf audio.Buffer, targetRate int) (audio.Buffer, error) {
	if err := buf.Validate(); err != nil {
		return audio.Buffer{}, err
	}
	if targetRate <= 0 {
		return audio.Buffer{}, fmt.Errorf("%w: %d", ErrInvalidRate, targetRate)
	}
	if buf.SampleRate == targetRate {
		return buf, nil
	}

	channels := buf.Channels
	frames := buf.Frames()
	var out []float32
	outFrames := -1

	for c := 0; c < channels; c++ {
		x := make([]float64, frames)
		for f := 0; f < frames; f++ {
			x[f] = float64(buf.Samples[f*channels+c])
		}

		y, err := r.channel(x, buf.SampleRate, targetRate)
		if err != nil {
			return audio.Buffer{}, err
		}

		if outFrames < 0 {
			outFrames = len(y)
			out = make([]float32, outFrames*channels)
		}
		for f := 0; f < outFrames && f < len(y); f++ {
			out[f*channels+c] = float32(y[f])
		}
	}

	return audio.Buffer{Samples: out, SampleRate: targetRate, Channels: channels}, nil
}

func (r *Resampler) channel(x []float64, from, to int) ([]float64, error) {
	var (
		y   []float64
		err error
	)
	switch r.engine {
	case EngineSoxr:
		y, err = Soxr(x, from, to)
	default:
		y, err = Polyphase(x, from, to)
	}
	if err == nil {
		return y, nil
	}
	if errors.Is(err, ErrInvalidRate) {
		return nil, err
	}

	r.logger.Warn("resampler falling back to fourier method",
		"engine", r.engine,
		"from", from,
		"to", to,
		"error", err,
	)
	return Fourier(x, FourierLength(len(x), from, to))
}

// OutputLength is the polyphase output length: ceil(n*to/from) in lowest terms.
func OutputLength(n, from, to int) int {
	g := gcd(from, to)
	up, down := to/g, from/g
	return (n*up + down - 1) / down
}

// FourierLength is round(n*to/from).
func FourierLength(n, from, to int) int {
	return int(math.Round(float64(n) * float64(to) / float64(from)))
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
