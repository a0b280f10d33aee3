// Package doa decodes direction-of-arrival streams and summarizes them
package doa

import (
	"context"
	"math"
	"time"
)

// Reading represents a single DOA measurement from hardware
type Reading struct {
	Azimuth   float64   `json:"azimuth"`    // Degrees in [0, 360), array frame
	RawAngle  float64   `json:"raw_angle"`  // Radians as reported by the sensor
	Speaking  bool      `json:"speaking"`   // Voice activity detected
	Timestamp time.Time `json:"timestamp"`  // When this reading was taken
	LatencyMs int64     `json:"latency_ms"` // Read latency
}

// Angle converts the reading into a stream sample. Readings without voice
// activity carry no usable direction.
func (r Reading) Angle() Angle {
	if !r.Speaking {
		return Invalid()
	}
	return Valid(r.Azimuth)
}

// Source provides raw DOA readings from hardware
type Source interface {
	// GetDOA returns the current direction of arrival
	GetDOA(ctx context.Context) (Reading, error)

	// Close releases hardware resources
	Close() error

	// Healthy returns true if the source is operational
	Healthy() bool

	// Name returns the source type name
	Name() string
}

// RadiansToAzimuth converts a sensor angle in radians to degrees in [0, 360)
func RadiansToAzimuth(rad float64) float64 {
	return NormalizeDegrees(rad * 180 / math.Pi)
}

// NormalizeDegrees wraps an angle into [0, 360)
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// AngleDiff returns the absolute angular distance between two azimuths,
// in [0, 180]
func AngleDiff(a, b float64) float64 {
	d := math.Abs(NormalizeDegrees(a) - NormalizeDegrees(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}
