package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-soundcheck/internal/doa"
	"github.com/teslashibe/go-soundcheck/internal/protocol"
)

// WSHub manages WebSocket connections and broadcasts reports and live
// readings to every client
type WSHub struct {
	recorder *doa.Recorder
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	// gofiber connections allow one writer at a time
	writeMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSHub creates a new WebSocket hub. recorder may be nil when no live
// capture source is configured.
func NewWSHub(recorder *doa.Recorder, logger *slog.Logger) *WSHub {
	return &WSHub{
		recorder: recorder,
		logger:   logger,
		clients:  make(map[*websocket.Conn]struct{}),
		done:     make(chan struct{}),
	}
}

// Run forwards live readings from the recorder until ctx is cancelled.
// Readings only flow while a capture is in progress.
func (h *WSHub) Run(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	defer close(h.done)

	h.logger.Info("websocket hub started")

	if h.recorder == nil {
		<-ctx.Done()
		h.logger.Info("websocket hub stopped")
		return
	}

	readings := h.recorder.Subscribe()
	defer h.recorder.Unsubscribe(readings)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return
		case r, ok := <-readings:
			if !ok {
				h.logger.Info("websocket hub stopped", "reason", "recorder closed")
				<-ctx.Done()
				return
			}
			msg, err := protocol.NewReadingMessage(r)
			if err != nil {
				h.logger.Warn("websocket marshal error", "error", err)
				continue
			}
			h.Broadcast(msg)
		}
	}
}

// Broadcast sends msg to every connected client
func (h *WSHub) Broadcast(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// Will be cleaned up when connection closes
			h.logger.Debug("websocket write error", "error", err)
		}
	}
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive analysis events",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()

		h.logger.Info("websocket client disconnected",
			"remote_addr", c.RemoteAddr().String(),
			"clients", clientCount,
		)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			// Connection closed
			break
		}
		h.handleCommand(c, data)
	}
}

func (h *WSHub) handleCommand(c *websocket.Conn, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return
	}

	var reply *protocol.Message
	switch msg.Type {
	case protocol.TypePing:
		reply, err = protocol.NewMessage(protocol.TypePong, nil)
	default:
		return
	}
	if err != nil {
		return
	}

	out, err := reply.Bytes()
	if err != nil {
		return
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := c.WriteMessage(websocket.TextMessage, out); err != nil {
		h.logger.Debug("websocket write error", "error", err)
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub
func (h *WSHub) Close() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}

	// Close all client connections
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()
}
