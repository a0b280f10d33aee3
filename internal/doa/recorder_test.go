package doa

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockSource is a test mock for DOA Source
type MockSource struct {
	mu       sync.Mutex
	azimuth  float64
	speaking bool
	healthy  bool
	err      error
	calls    int
}

func NewMockSource() *MockSource {
	return &MockSource{
		healthy: true,
	}
}

func (m *MockSource) GetDOA(ctx context.Context) (Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++

	if m.err != nil {
		return Reading{}, m.err
	}

	return Reading{
		Azimuth:   m.azimuth,
		Speaking:  m.speaking,
		Timestamp: time.Now(),
	}, nil
}

func (m *MockSource) Close() error { return nil }

func (m *MockSource) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

func (m *MockSource) Name() string { return "mock" }

func (m *MockSource) Set(azimuth float64, speaking bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.azimuth = azimuth
	m.speaking = speaking
}

func (m *MockSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockSource) GetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestRecorder_Record(t *testing.T) {
	source := NewMockSource()
	source.Set(120, true)

	rec := NewRecorder(source, RecorderConfig{PollInterval: 5 * time.Millisecond}, nil)
	stream, err := rec.Record(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if len(stream.Samples) != 20 {
		t.Errorf("len(Samples) = %d, want 20", len(stream.Samples))
	}
	if stream.SampleRate != 200 {
		t.Errorf("SampleRate = %d, want 200", stream.SampleRate)
	}
	for i, a := range stream.Samples {
		if deg, ok := a.Degrees(); !ok || deg != 120 {
			t.Fatalf("sample %d = %v, want 120°", i, a)
		}
	}

	stats := rec.Stats()
	if stats.PollCount != 20 {
		t.Errorf("PollCount = %d, want 20", stats.PollCount)
	}
	if rec.Latest().Azimuth != 120 {
		t.Errorf("Latest().Azimuth = %f, want 120", rec.Latest().Azimuth)
	}
}

func TestRecorder_SilenceIsInvalid(t *testing.T) {
	source := NewMockSource()
	source.Set(45, false)

	rec := NewRecorder(source, RecorderConfig{PollInterval: 5 * time.Millisecond}, nil)
	stream, err := rec.Record(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if stream.ValidCount() != 0 {
		t.Errorf("ValidCount() = %d, want 0", stream.ValidCount())
	}
}

func TestRecorder_SourceFailing(t *testing.T) {
	source := NewMockSource()
	source.SetError(errors.New("usb gone"))

	rec := NewRecorder(source, RecorderConfig{
		PollInterval:         2 * time.Millisecond,
		MaxConsecutiveErrors: 3,
	}, nil)

	stream, err := rec.Record(context.Background(), time.Second)
	if !errors.Is(err, ErrSourceFailing) {
		t.Fatalf("Record() error = %v, want ErrSourceFailing", err)
	}
	if len(stream.Samples) != 3 {
		t.Errorf("len(Samples) = %d, want 3", len(stream.Samples))
	}
	if rec.Stats().ErrorCount != 3 {
		t.Errorf("ErrorCount = %d, want 3", rec.Stats().ErrorCount)
	}
}

func TestRecorder_Cancel(t *testing.T) {
	source := NewMockSource()
	source.Set(10, true)

	rec := NewRecorder(source, RecorderConfig{PollInterval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	stream, err := rec.Record(ctx, 10*time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Record() error = %v, want deadline exceeded", err)
	}
	if len(stream.Samples) == 0 || len(stream.Samples) > 10 {
		t.Errorf("len(Samples) = %d, want a partial capture", len(stream.Samples))
	}
}

func TestRecorder_Busy(t *testing.T) {
	source := NewMockSource()
	rec := NewRecorder(source, RecorderConfig{PollInterval: 5 * time.Millisecond}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Record(context.Background(), 100*time.Millisecond)
	}()

	// Wait for the first capture to take the lock
	deadline := time.Now().Add(time.Second)
	for source.GetCalls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := rec.Record(context.Background(), time.Millisecond); !errors.Is(err, ErrBusy) {
		t.Errorf("second Record() error = %v, want ErrBusy", err)
	}
	<-done
}

func TestRecorder_Subscribe(t *testing.T) {
	source := NewMockSource()
	source.Set(200, true)

	rec := NewRecorder(source, RecorderConfig{PollInterval: 5 * time.Millisecond}, nil)
	ch := rec.Subscribe()

	go rec.Record(context.Background(), 50*time.Millisecond)

	select {
	case r := <-ch:
		if r.Azimuth != 200 {
			t.Errorf("Azimuth = %f, want 200", r.Azimuth)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for reading")
	}

	rec.Unsubscribe(ch)
	if rec.Stats().SubscriberCount != 0 {
		t.Error("subscriber not removed")
	}
}
