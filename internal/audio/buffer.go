// Package audio holds the sample buffers that flow through the analysis
// pipeline and the WAV codec used to load and store them.
package audio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// ErrMalformed marks buffers that violate the shape contract. It signals a
// programming error in the caller, not an analysis outcome.
var ErrMalformed = errors.New("malformed audio buffer")

// Buffer is an interleaved block of samples in [-1, 1].
// Buffers are treated as immutable once created: every stage returns a new
// Buffer instead of writing into its input.
type Buffer struct {
	Samples    []float32 `json:"-"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
}

// New creates a buffer and validates its shape.
func New(samples []float32, sampleRate, channels int) (Buffer, error) {
	b := Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}
	if err := b.Validate(); err != nil {
		return Buffer{}, err
	}
	return b, nil
}

// Mono wraps float64 samples as a single-channel buffer.
func Mono(samples []float64, sampleRate int) Buffer {
	out := make([]float32, len(samples))
	for i, v := range samples {
		out[i] = float32(v)
	}
	return Buffer{Samples: out, SampleRate: sampleRate, Channels: 1}
}

// Validate checks rate, channel count, frame alignment and sample values.
func (b Buffer) Validate() error {
	if b.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrMalformed, b.SampleRate)
	}
	if b.Channels <= 0 {
		return fmt.Errorf("%w: channel count %d", ErrMalformed, b.Channels)
	}
	if len(b.Samples)%b.Channels != 0 {
		return fmt.Errorf("%w: %d samples is not a multiple of %d channels",
			ErrMalformed, len(b.Samples), b.Channels)
	}
	for i, v := range b.Samples {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-numeric sample at %d", ErrMalformed, i)
		}
	}
	return nil
}

// RequireMono validates the buffer and rejects multi-channel input.
func (b Buffer) RequireMono() error {
	if err := b.Validate(); err != nil {
		return err
	}
	if b.Channels != 1 {
		return fmt.Errorf("%w: expected mono, got %d channels", ErrMalformed, b.Channels)
	}
	return nil
}

// Frames returns the number of samples per channel.
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Seconds returns the buffer length in seconds.
func (b Buffer) Seconds() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Duration returns the buffer length as a time.Duration.
func (b Buffer) Duration() time.Duration {
	return time.Duration(b.Seconds() * float64(time.Second))
}

// Channel extracts channel i as a mono buffer.
func (b Buffer) Channel(i int) (Buffer, error) {
	if err := b.Validate(); err != nil {
		return Buffer{}, err
	}
	if i < 0 || i >= b.Channels {
		return Buffer{}, fmt.Errorf("%w: channel %d out of range (%d channels)", ErrMalformed, i, b.Channels)
	}
	if b.Channels == 1 {
		return b, nil
	}
	frames := b.Frames()
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		out[f] = b.Samples[f*b.Channels+i]
	}
	return Buffer{Samples: out, SampleRate: b.SampleRate, Channels: 1}, nil
}

// LastChannel extracts the final channel. Capture devices with an SSL
// output put the encoded azimuth there.
func (b Buffer) LastChannel() (Buffer, error) {
	return b.Channel(b.Channels - 1)
}

// Float64 copies the samples into a float64 slice.
func (b Buffer) Float64() []float64 {
	out := make([]float64, len(b.Samples))
	for i, v := range b.Samples {
		out[i] = float64(v)
	}
	return out
}

// Slice returns frames [from, to) without copying.
func (b Buffer) Slice(from, to int) Buffer {
	c := b.Channels
	return Buffer{Samples: b.Samples[from*c : to*c], SampleRate: b.SampleRate, Channels: c}
}

// RMS returns sqrt(mean(x^2)), or 0 for an empty slice.
func RMS(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(x, x) / float64(len(x)))
}

// Scale returns gain*x as a new slice.
func Scale(x []float64, gain float64) []float64 {
	return floats.ScaleTo(make([]float64, len(x)), gain, x)
}
