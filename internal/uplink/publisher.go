// Package uplink publishes finished reports to a remote collector over a
// WebSocket connection
package uplink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-soundcheck/internal/analysis"
	"github.com/teslashibe/go-soundcheck/internal/protocol"
)

// ErrQueueFull is returned when the outbox cannot take another message
var ErrQueueFull = errors.New("uplink queue full")

// Config holds publisher configuration
type Config struct {
	URL              string        // collector URL, e.g. ws://collector:8080/ws/soundcheck
	Name             string        // announced in the hello message
	Version          string        // announced in the hello message
	ReconnectBackoff time.Duration // initial reconnect delay
	MaxBackoff       time.Duration
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	// QueueSize bounds messages held while disconnected
	QueueSize int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:8080/ws/soundcheck",
		Name:             "soundcheck",
		ReconnectBackoff: time.Second,
		MaxBackoff:       30 * time.Second,
		PingInterval:     10 * time.Second,
		WriteTimeout:     5 * time.Second,
		QueueSize:        256,
	}
}

// Publisher keeps a connection to the collector and drains an outbox into
// it. Messages published while disconnected wait in the outbox.
type Publisher struct {
	cfg    Config
	logger *slog.Logger

	queue   chan *protocol.Message
	replies chan *protocol.Message

	// pending is the message a failed write left behind; owned by the
	// connection loop
	pending *protocol.Message

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}

	sent       atomic.Uint64
	received   atomic.Uint64
	dropped    atomic.Uint64
	reconnects atomic.Uint64
}

// NewPublisher creates a publisher. Call Connect to start delivering.
func NewPublisher(cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = d.ReconnectBackoff
	}
	if cfg.MaxBackoff < cfg.ReconnectBackoff {
		cfg.MaxBackoff = max(d.MaxBackoff, cfg.ReconnectBackoff)
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = d.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = d.QueueSize
	}
	if cfg.Name == "" {
		cfg.Name = d.Name
	}

	return &Publisher{
		cfg:     cfg,
		logger:  logger.With("component", "uplink"),
		queue:   make(chan *protocol.Message, cfg.QueueSize),
		replies: make(chan *protocol.Message, 1),
	}
}

// Connect starts the connection loop in the background
func (p *Publisher) Connect(ctx context.Context) error {
	if p.cfg.URL == "" {
		return fmt.Errorf("uplink url is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return fmt.Errorf("uplink already connected")
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.connectionLoop(ctx)
	return nil
}

// Publish queues msg for delivery without blocking
func (p *Publisher) Publish(msg *protocol.Message) error {
	select {
	case p.queue <- msg:
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

// PublishReport queues a report under its kind's message type. It matches
// the server's report hook, so failures are logged instead of returned.
func (p *Publisher) PublishReport(rep analysis.Report) {
	msg, err := protocol.NewReportMessage(rep)
	if err == nil {
		err = p.Publish(msg)
	}
	if err != nil {
		p.logger.Warn("report not published", "id", rep.ID, "error", err)
	}
}

// connectionLoop manages the connection with auto-reconnect
func (p *Publisher) connectionLoop(ctx context.Context) {
	defer close(p.done)
	backoff := p.cfg.ReconnectBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := p.dial(ctx)
		if err != nil {
			p.logger.Warn("uplink connection failed",
				"error", err,
				"retry_in", backoff,
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}

			backoff = min(backoff*2, p.cfg.MaxBackoff)
			p.reconnects.Add(1)
			continue
		}

		backoff = p.cfg.ReconnectBackoff
		p.setConnected(true)
		p.session(ctx, conn)
		p.setConnected(false)
		conn.Close()
		if ctx.Err() == nil {
			p.reconnects.Add(1)
		}
	}
}

func (p *Publisher) dial(ctx context.Context) (*websocket.Conn, error) {
	p.logger.Info("connecting to collector", "url", p.cfg.URL)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, p.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	hello, err := protocol.NewMessage(protocol.TypeHello, protocol.HelloData{
		Name:    p.cfg.Name,
		Version: p.cfg.Version,
	})
	if err == nil {
		err = p.write(conn, hello)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}

	p.logger.Info("connected to collector")
	return conn, nil
}

// session is the only writer on conn until it returns
func (p *Publisher) session(ctx context.Context, conn *websocket.Conn) {
	readErr := make(chan error, 1)
	go func() {
		readErr <- p.readLoop(conn)
	}()

	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()

	for {
		if p.pending != nil {
			if err := p.write(conn, p.pending); err != nil {
				p.logger.Warn("send error", "error", err)
				return
			}
			p.pending = nil
		}

		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(p.cfg.WriteTimeout))
			return
		case err := <-readErr:
			p.logger.Warn("read error", "error", err)
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.cfg.WriteTimeout)); err != nil {
				p.logger.Debug("ping failed", "error", err)
				return
			}
		case msg := <-p.replies:
			p.pending = msg
		case msg := <-p.queue:
			p.pending = msg
		}
	}
}

func (p *Publisher) write(conn *websocket.Conn, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	p.sent.Add(1)
	return nil
}

// readLoop answers collector pings until the connection fails
func (p *Publisher) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		p.received.Add(1)

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			p.logger.Warn("parse message error", "error", err)
			continue
		}

		if msg.Type == protocol.TypePing {
			pong, err := protocol.NewMessage(protocol.TypePong, nil)
			if err != nil {
				continue
			}
			select {
			case p.replies <- pong:
			default:
			}
		}
	}
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// Close stops the connection loop. Queued messages are discarded.
func (p *Publisher) Close() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// IsConnected returns connection status
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Stats returns publisher statistics
type Stats struct {
	Connected        bool   `json:"connected"`
	Queued           int    `json:"queued"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	Dropped          uint64 `json:"dropped"`
	Reconnects       uint64 `json:"reconnects"`
}

// GetStats returns publisher statistics
func (p *Publisher) GetStats() Stats {
	return Stats{
		Connected:        p.IsConnected(),
		Queued:           len(p.queue),
		MessagesSent:     p.sent.Load(),
		MessagesReceived: p.received.Load(),
		Dropped:          p.dropped.Load(),
		Reconnects:       p.reconnects.Load(),
	}
}
