package doa

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// RecorderConfig configures live DOA capture
type RecorderConfig struct {
	PollInterval time.Duration
	// MaxConsecutiveErrors aborts a capture when the source keeps failing.
	// Zero disables the limit.
	MaxConsecutiveErrors int
}

// DefaultRecorderConfig polls at 20 Hz
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		PollInterval:         50 * time.Millisecond,
		MaxConsecutiveErrors: 20,
	}
}

// ErrSourceFailing is returned when the source errors too many times in a row
var ErrSourceFailing = errors.New("doa source failing")

// ErrBusy is returned when a capture is already running
var ErrBusy = errors.New("capture already in progress")

// Recorder polls a Source into an angle stream at a fixed rate.
// Failed polls are recorded as no-detection samples so the stream keeps
// its timing.
type Recorder struct {
	source Source
	cfg    RecorderConfig
	logger *slog.Logger

	busy sync.Mutex

	mu             sync.RWMutex
	latest         Reading
	pollCount      int64
	pollErrorCount int64
	totalLatencyMs int64

	// Subscribers for real-time updates
	subsMu sync.RWMutex
	subs   map[chan Reading]struct{}
}

// NewRecorder creates a new recorder
func NewRecorder(source Source, cfg RecorderConfig, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultRecorderConfig().PollInterval
	}

	return &Recorder{
		source: source,
		cfg:    cfg,
		logger: logger,
		subs:   make(map[chan Reading]struct{}),
	}
}

// SampleRate is the stream rate implied by the poll interval
func (r *Recorder) SampleRate() int {
	rate := int(time.Second / r.cfg.PollInterval)
	return max(rate, 1)
}

// Source returns the underlying source
func (r *Recorder) Source() Source {
	return r.source
}

// Record polls for the given duration and returns the captured stream.
// Only one capture runs at a time. Cancelling ctx returns what was captured
// so far along with ctx.Err().
func (r *Recorder) Record(ctx context.Context, duration time.Duration) (Stream, error) {
	if !r.busy.TryLock() {
		return Stream{}, ErrBusy
	}
	defer r.busy.Unlock()

	want := int(duration / r.cfg.PollInterval)
	stream := Stream{
		Samples:    make([]Angle, 0, want),
		SampleRate: r.SampleRate(),
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.logger.Info("capture started",
		"poll_interval", r.cfg.PollInterval,
		"duration", duration,
		"source", r.source.Name(),
	)

	consecutive := 0
	for len(stream.Samples) < want {
		select {
		case <-ctx.Done():
			r.logger.Info("capture cancelled", "samples", len(stream.Samples))
			return stream, ctx.Err()
		case <-ticker.C:
			reading, err := r.poll(ctx)
			if err != nil {
				consecutive++
				stream.Samples = append(stream.Samples, Invalid())
				if r.cfg.MaxConsecutiveErrors > 0 && consecutive >= r.cfg.MaxConsecutiveErrors {
					return stream, errors.Join(ErrSourceFailing, err)
				}
				continue
			}
			consecutive = 0
			stream.Samples = append(stream.Samples, reading.Angle())
		}
	}

	r.logger.Info("capture finished",
		"samples", len(stream.Samples),
		"valid", stream.ValidCount(),
	)
	return stream, nil
}

func (r *Recorder) poll(ctx context.Context) (Reading, error) {
	start := time.Now()

	reading, err := r.source.GetDOA(ctx)
	if err != nil {
		r.mu.Lock()
		r.pollErrorCount++
		r.mu.Unlock()
		r.logger.Debug("poll failed", "error", err)
		return Reading{}, err
	}

	latencyMs := time.Since(start).Milliseconds()
	reading.LatencyMs = latencyMs

	r.mu.Lock()
	r.pollCount++
	r.totalLatencyMs += latencyMs
	r.latest = reading
	r.mu.Unlock()

	r.notifySubscribers(reading)
	return reading, nil
}

func (r *Recorder) notifySubscribers(reading Reading) {
	r.subsMu.RLock()
	defer r.subsMu.RUnlock()

	for ch := range r.subs {
		select {
		case ch <- reading:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe returns a channel that receives readings during captures
func (r *Recorder) Subscribe() chan Reading {
	ch := make(chan Reading, 16)

	r.subsMu.Lock()
	r.subs[ch] = struct{}{}
	r.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber
func (r *Recorder) Unsubscribe(ch chan Reading) {
	r.subsMu.Lock()
	if _, exists := r.subs[ch]; exists {
		delete(r.subs, ch)
		close(ch)
	}
	r.subsMu.Unlock()
}

// Latest returns the most recent successful reading
func (r *Recorder) Latest() Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Stats returns recorder statistics
func (r *Recorder) Stats() RecorderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	avgLatency := float64(0)
	if r.pollCount > 0 {
		avgLatency = float64(r.totalLatencyMs) / float64(r.pollCount)
	}

	r.subsMu.RLock()
	subs := len(r.subs)
	r.subsMu.RUnlock()

	return RecorderStats{
		PollCount:       r.pollCount,
		ErrorCount:      r.pollErrorCount,
		AvgLatencyMs:    avgLatency,
		SubscriberCount: subs,
		SourceHealthy:   r.source.Healthy(),
		LastAzimuth:     r.latest.Azimuth,
	}
}

// RecorderStats contains recorder statistics
type RecorderStats struct {
	PollCount       int64   `json:"poll_count"`
	ErrorCount      int64   `json:"error_count"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	SubscriberCount int     `json:"subscriber_count"`
	SourceHealthy   bool    `json:"source_healthy"`
	LastAzimuth     float64 `json:"last_azimuth"`
}

// Close releases subscribers and the source
func (r *Recorder) Close() error {
	r.subsMu.Lock()
	for ch := range r.subs {
		close(ch)
	}
	r.subs = make(map[chan Reading]struct{})
	r.subsMu.Unlock()

	return r.source.Close()
}
