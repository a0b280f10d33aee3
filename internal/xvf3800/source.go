package xvf3800

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-soundcheck/internal/doa"
)

// Source kinds accepted in configuration
const (
	KindUSB  = "usb"
	KindMock = "mock"
	KindAuto = "auto"
)

// Options selects and configures a DOA source
type Options struct {
	Kind string
	USB  USBSourceConfig
}

// NewSource creates the DOA source named by opts.Kind. "auto" tries USB and
// falls back to a sweeping mock when no hardware is present.
func NewSource(opts Options, logger *slog.Logger) (doa.Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Kind {
	case KindUSB, "":
		return NewUSBSource(opts.USB, logger)
	case KindMock:
		return NewSweepSource(20, 2*time.Second, time.Second), nil
	case KindAuto:
		return NewSourceWithFallback(opts.USB, logger), nil
	}
	return nil, fmt.Errorf("unknown doa source %q", opts.Kind)
}

// NewSourceWithFallback creates a DOA source with mock fallback
// Use this for development/testing when hardware is unavailable
func NewSourceWithFallback(cfg USBSourceConfig, logger *slog.Logger) doa.Source {
	if logger == nil {
		logger = slog.Default()
	}

	usb, err := NewUSBSource(cfg, logger)
	if err == nil {
		return usb
	}

	logger.Warn("USB source unavailable, using mock DOA source",
		"error", err,
		"hint", "ensure libusb is installed and device is connected",
	)
	return NewSweepSource(20, 2*time.Second, time.Second)
}
