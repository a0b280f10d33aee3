package doa

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/teslashibe/go-soundcheck/internal/audio"
)

const (
	// DetectionLimit is the largest encoded magnitude that still carries an
	// azimuth. Anything strictly above it is a no-detection marker.
	DetectionLimit = 0.95

	// LegacyInvalid is the sentinel older tooling wrote for no-detection
	// samples. It only appears at export boundaries.
	LegacyInvalid = -50.0

	// MinStreamDuration is the shortest SSL capture worth decoding
	MinStreamDuration = time.Second
)

// ErrTooShort is returned for SSL streams shorter than the minimum duration
var ErrTooShort = errors.New("angle stream too short")

// Angle is one decoded SSL sample: either an azimuth or no detection
type Angle struct {
	deg   float64
	valid bool
}

// Valid wraps an azimuth, normalized into [0, 360)
func Valid(deg float64) Angle {
	return Angle{deg: NormalizeDegrees(deg), valid: true}
}

// Invalid is the no-detection sample
func Invalid() Angle {
	return Angle{}
}

// Degrees returns the azimuth and whether the sample is valid
func (a Angle) Degrees() (float64, bool) {
	return a.deg, a.valid
}

// IsValid reports whether the sample carries an azimuth
func (a Angle) IsValid() bool {
	return a.valid
}

// Legacy returns the azimuth, or LegacyInvalid for no detection
func (a Angle) Legacy() float64 {
	if !a.valid {
		return LegacyInvalid
	}
	return a.deg
}

func (a Angle) String() string {
	if !a.valid {
		return "invalid"
	}
	return fmt.Sprintf("%.2f°", a.deg)
}

// DecodeSample maps one encoded SSL value to an angle. |s| > 0.95 means no
// detection; otherwise the azimuth is (s/0.95*180) mod 360.
func DecodeSample(s float64) Angle {
	if math.Abs(s) > DetectionLimit {
		return Invalid()
	}
	return Valid(s / DetectionLimit * 180)
}

// Stream is a decoded SSL channel
type Stream struct {
	Samples    []Angle
	SampleRate int
}

// Seconds returns the stream length in seconds
func (s Stream) Seconds() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// ValidCount returns the number of samples carrying an azimuth
func (s Stream) ValidCount() int {
	n := 0
	for _, a := range s.Samples {
		if a.valid {
			n++
		}
	}
	return n
}

// Decode decodes a mono SSL channel, rejecting captures under one second
func Decode(buf audio.Buffer) (Stream, error) {
	return DecodeMin(buf, MinStreamDuration)
}

// DecodeMin decodes a mono SSL channel, rejecting captures shorter than
// minDuration
func DecodeMin(buf audio.Buffer, minDuration time.Duration) (Stream, error) {
	if err := buf.RequireMono(); err != nil {
		return Stream{}, err
	}

	minSamples := int(math.Ceil(minDuration.Seconds() * float64(buf.SampleRate)))
	if len(buf.Samples) < minSamples {
		return Stream{}, fmt.Errorf("%w: %d samples at %d Hz", ErrTooShort, len(buf.Samples), buf.SampleRate)
	}

	out := make([]Angle, len(buf.Samples))
	for i, s := range buf.Samples {
		out[i] = DecodeSample(float64(s))
	}
	return Stream{Samples: out, SampleRate: buf.SampleRate}, nil
}
