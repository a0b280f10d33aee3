package xvf3800

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func doaReply(status byte, angle, speaking float32) []byte {
	data := make([]byte, doaReplySize)
	data[0] = status
	binary.LittleEndian.PutUint32(data[1:5], math.Float32bits(angle))
	binary.LittleEndian.PutUint32(data[5:9], math.Float32bits(speaking))
	return data
}

func TestDefaultUSBSourceConfig(t *testing.T) {
	cfg := DefaultUSBSourceConfig()

	if cfg.MaxConsecutiveErrors != 5 {
		t.Errorf("expected MaxConsecutiveErrors 5, got %d", cfg.MaxConsecutiveErrors)
	}
	if cfg.InitialBackoff != 100*time.Millisecond {
		t.Errorf("expected InitialBackoff 100ms, got %v", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 5*time.Second {
		t.Errorf("expected MaxBackoff 5s, got %v", cfg.MaxBackoff)
	}
}

func TestUSBSourceConstants(t *testing.T) {
	if VendorID != 0x38FB {
		t.Errorf("expected VendorID 0x38FB, got 0x%04X", VendorID)
	}
	if ProductID != 0x1001 {
		t.Errorf("expected ProductID 0x1001, got 0x%04X", ProductID)
	}
}

func TestParseDOAReply(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		angle    float64
		speaking bool
		wantErr  bool
	}{
		{"front speaking", doaReply(0, float32(math.Pi/2), 1), math.Pi / 2, true, false},
		{"silent", doaReply(0, 1, 0), 1, false, false},
		{"zero angle", doaReply(0, 0, 1), 0, true, false},
		{"error status", doaReply(3, 1, 1), 0, false, true},
		{"short read", []byte{0, 1, 2, 3}, 0, false, true},
		{"nan angle", doaReply(0, float32(math.NaN()), 1), 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			angle, speaking, err := parseDOAReply(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDOAReply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if math.Abs(angle-tt.angle) > 1e-6 {
				t.Errorf("angle = %f, want %f", angle, tt.angle)
			}
			if speaking != tt.speaking {
				t.Errorf("speaking = %v, want %v", speaking, tt.speaking)
			}
		})
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		cur, limit, want time.Duration
	}{
		{100 * time.Millisecond, 5 * time.Second, 200 * time.Millisecond},
		{3 * time.Second, 5 * time.Second, 5 * time.Second},
		{5 * time.Second, 5 * time.Second, 5 * time.Second},
	}

	for _, tt := range tests {
		if got := nextBackoff(tt.cur, tt.limit); got != tt.want {
			t.Errorf("nextBackoff(%v, %v) = %v, want %v", tt.cur, tt.limit, got, tt.want)
		}
	}
}

// Full integration tests require actual XVF3800 hardware
