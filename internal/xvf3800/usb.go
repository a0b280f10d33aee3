// Package xvf3800 reads live direction-of-arrival data from an XMOS XVF3800
// microphone array over USB
package xvf3800

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/teslashibe/go-soundcheck/internal/doa"
)

// XVF3800 USB identifiers
const (
	VendorID  = 0x38FB
	ProductID = 0x1001
)

// XVF3800 control parameters
// See: https://www.xmos.com/documentation/XM-014888-PC/html/modules/fwk_xvf/doc/user_guide/AA_control_command_appendix.html
const (
	gpoResID = 20 // GPO_SERVICER_RESID
	doaCmdID = 19 // DOA_VALUE_RADIANS: angle + speech flag

	readFlag     = 0x80
	doaReplySize = 9 // 1 status byte + 2 little-endian float32
)

// ErrClosed is returned after Close
var ErrClosed = errors.New("device closed")

// USBSource reads DOA_VALUE_RADIANS from the XVF3800 with vendor control
// transfers
type USBSource struct {
	logger *slog.Logger

	mu     sync.Mutex
	ctx    *gousb.Context
	dev    *gousb.Device
	closed bool

	// Health tracking
	healthy           bool
	consecutiveErrors int
	maxErrors         int
	lastError         error
	lastErrorTime     time.Time
	reads             int64

	// Reconnection
	initialBackoff   time.Duration
	reconnectBackoff time.Duration
	maxBackoff       time.Duration
}

// USBSourceConfig configures the USB source
type USBSourceConfig struct {
	MaxConsecutiveErrors int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
}

// DefaultUSBSourceConfig returns sensible defaults
func DefaultUSBSourceConfig() USBSourceConfig {
	return USBSourceConfig{
		MaxConsecutiveErrors: 5,
		InitialBackoff:       100 * time.Millisecond,
		MaxBackoff:           5 * time.Second,
	}
}

// NewUSBSource opens the first XVF3800 on the bus
func NewUSBSource(cfg USBSourceConfig, logger *slog.Logger) (*USBSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultUSBSourceConfig()
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = def.MaxConsecutiveErrors
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.InitialBackoff)
	}

	source := &USBSource{
		logger:           logger,
		healthy:          true,
		maxErrors:        cfg.MaxConsecutiveErrors,
		initialBackoff:   cfg.InitialBackoff,
		reconnectBackoff: cfg.InitialBackoff,
		maxBackoff:       cfg.MaxBackoff,
	}

	source.ctx = gousb.NewContext()

	if err := source.openDevice(); err != nil {
		source.ctx.Close()
		return nil, err
	}

	logger.Info("USB DOA source initialized",
		"vendor_id", fmt.Sprintf("0x%04X", VendorID),
		"product_id", fmt.Sprintf("0x%04X", ProductID),
	)

	return source, nil
}

func (u *USBSource) openDevice() error {
	dev, err := u.ctx.OpenDeviceWithVIDPID(VendorID, ProductID)
	if err != nil {
		return fmt.Errorf("failed to open XVF3800: %w", err)
	}

	if dev == nil {
		return fmt.Errorf("XVF3800 not found (VID=0x%04X PID=0x%04X)", VendorID, ProductID)
	}

	// Auto-detach kernel driver if attached
	if err := dev.SetAutoDetach(true); err != nil {
		u.logger.Debug("SetAutoDetach failed (non-fatal)", "error", err)
	}

	u.dev = dev
	u.healthy = true
	u.consecutiveErrors = 0

	return nil
}

// GetDOA returns the current direction of arrival
func (u *USBSource) GetDOA(ctx context.Context) (doa.Reading, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return doa.Reading{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return doa.Reading{}, err
	}

	if u.dev == nil {
		if err := u.reconnect(ctx); err != nil {
			return doa.Reading{}, err
		}
	}

	start := time.Now()
	data := make([]byte, doaReplySize)

	// Request type IN | Vendor | Device, wValue = read flag | cmdid,
	// wIndex = resid
	n, err := u.dev.Control(
		gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice,
		0,
		readFlag|doaCmdID,
		gpoResID,
		data,
	)
	if err != nil {
		u.recordError(err)
		return doa.Reading{}, fmt.Errorf("USB control transfer failed: %w", err)
	}

	rawAngle, speaking, err := parseDOAReply(data[:n])
	if err != nil {
		u.recordError(err)
		return doa.Reading{}, err
	}

	u.recordSuccess()

	return doa.Reading{
		Azimuth:   doa.RadiansToAzimuth(rawAngle),
		RawAngle:  rawAngle,
		Speaking:  speaking,
		Timestamp: time.Now(),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// parseDOAReply decodes a DOA_VALUE_RADIANS reply: a status byte followed by
// the angle in radians and the speech flag, both float32
func parseDOAReply(data []byte) (rawAngle float64, speaking bool, err error) {
	if len(data) < doaReplySize {
		return 0, false, fmt.Errorf("short read: got %d bytes, expected %d", len(data), doaReplySize)
	}
	if data[0] != 0 {
		return 0, false, fmt.Errorf("device returned error status: %d", data[0])
	}

	angleBits := binary.LittleEndian.Uint32(data[1:5])
	speakingBits := binary.LittleEndian.Uint32(data[5:9])

	rawAngle = float64(math.Float32frombits(angleBits))
	if math.IsNaN(rawAngle) || math.IsInf(rawAngle, 0) {
		return 0, false, fmt.Errorf("device returned non-numeric angle")
	}
	return rawAngle, math.Float32frombits(speakingBits) != 0, nil
}

func (u *USBSource) recordError(err error) {
	u.consecutiveErrors++
	u.lastError = err
	u.lastErrorTime = time.Now()

	if u.consecutiveErrors >= u.maxErrors {
		u.healthy = false
		u.logger.Warn("USB source marked unhealthy, will attempt reconnect",
			"consecutive_errors", u.consecutiveErrors,
			"last_error", err,
		)

		// Close device to force reconnect on next call
		if u.dev != nil {
			u.dev.Close()
			u.dev = nil
		}
	}
}

func (u *USBSource) recordSuccess() {
	if u.consecutiveErrors > 0 {
		u.logger.Info("USB source recovered",
			"previous_errors", u.consecutiveErrors,
		)
	}
	u.consecutiveErrors = 0
	u.healthy = true
	u.reads++
	u.reconnectBackoff = u.initialBackoff
}

func (u *USBSource) reconnect(ctx context.Context) error {
	u.logger.Info("attempting USB reconnect", "backoff", u.reconnectBackoff)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(u.reconnectBackoff):
	}

	u.reconnectBackoff = nextBackoff(u.reconnectBackoff, u.maxBackoff)

	if err := u.openDevice(); err != nil {
		u.logger.Warn("USB reconnect failed", "error", err)
		return err
	}

	u.logger.Info("USB reconnect successful")
	return nil
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	cur *= 2
	if cur > limit {
		cur = limit
	}
	return cur
}

// Close releases the USB device
func (u *USBSource) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil
	}

	u.closed = true

	if u.dev != nil {
		u.dev.Close()
		u.dev = nil
	}

	if u.ctx != nil {
		u.ctx.Close()
		u.ctx = nil
	}

	u.logger.Info("USB source closed")

	return nil
}

// Healthy returns true if the source is operational
func (u *USBSource) Healthy() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.healthy
}

// Name returns the source type name
func (u *USBSource) Name() string {
	return "usb"
}

// Stats returns USB source statistics
func (u *USBSource) Stats() USBStats {
	u.mu.Lock()
	defer u.mu.Unlock()

	var lastErr string
	if u.lastError != nil {
		lastErr = u.lastError.Error()
	}

	return USBStats{
		Healthy:           u.healthy,
		Reads:             u.reads,
		ConsecutiveErrors: u.consecutiveErrors,
		LastError:         lastErr,
		LastErrorTime:     u.lastErrorTime,
		DeviceConnected:   u.dev != nil,
	}
}

// USBStats contains USB source statistics
type USBStats struct {
	Healthy           bool      `json:"healthy"`
	Reads             int64     `json:"reads"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastError         string    `json:"last_error,omitempty"`
	LastErrorTime     time.Time `json:"last_error_time,omitempty"`
	DeviceConnected   bool      `json:"device_connected"`
}
