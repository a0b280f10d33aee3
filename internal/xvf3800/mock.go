package xvf3800

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-soundcheck/internal/doa"
)

// MockSource is a stand-in DOA source for development without hardware.
// In sweep mode the azimuth rotates continuously and the speech flag
// toggles on a talk/pause cycle, so captures produce separate blocks and
// cross the 0°/360° boundary.
type MockSource struct {
	mu        sync.Mutex
	azimuth   float64
	speaking  bool
	healthy   bool
	sweep     bool
	degPerSec float64
	talk      time.Duration
	pause     time.Duration
	startTime time.Time
	now       func() time.Time
}

// NewMockSource creates a fixed-direction mock, silent until SetSpeaking
func NewMockSource() *MockSource {
	return &MockSource{
		healthy:   true,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// NewSweepSource creates a mock that rotates at degPerSec, speaking for
// talk and then pausing for pause
func NewSweepSource(degPerSec float64, talk, pause time.Duration) *MockSource {
	m := NewMockSource()
	m.sweep = true
	m.degPerSec = degPerSec
	m.talk = talk
	m.pause = pause
	return m
}

// GetDOA returns the current direction of arrival
func (m *MockSource) GetDOA(ctx context.Context) (doa.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return doa.Reading{}, err
	}

	azimuth := m.azimuth
	speaking := m.speaking
	now := m.now()

	if m.sweep {
		elapsed := now.Sub(m.startTime)
		azimuth = doa.NormalizeDegrees(m.azimuth + m.degPerSec*elapsed.Seconds())
		cycle := m.talk + m.pause
		speaking = cycle <= 0 || elapsed%cycle < m.talk
	}

	return doa.Reading{
		Azimuth:   azimuth,
		RawAngle:  azimuth * math.Pi / 180,
		Speaking:  speaking,
		Timestamp: now,
		LatencyMs: 1,
	}, nil
}

// Close releases resources
func (m *MockSource) Close() error {
	return nil
}

// Healthy returns true if the source is operational
func (m *MockSource) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// Name returns the source type name
func (m *MockSource) Name() string {
	if m.sweep {
		return "mock-sweep"
	}
	return "mock"
}

// SetAzimuth sets the mock direction in degrees (the starting direction in
// sweep mode)
func (m *MockSource) SetAzimuth(deg float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.azimuth = doa.NormalizeDegrees(deg)
}

// SetSpeaking sets the mock speaking state
func (m *MockSource) SetSpeaking(speaking bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speaking = speaking
}

// SetHealthy sets the mock health state
func (m *MockSource) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}
