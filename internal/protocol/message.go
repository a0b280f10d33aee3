// Package protocol defines the WebSocket message envelope shared by the
// event stream and the uplink publisher.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-soundcheck/internal/analysis"
	"github.com/teslashibe/go-soundcheck/internal/doa"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Reports, one per analyzed capture
	TypeQuality MessageType = "quality"
	TypeDOA     MessageType = "doa"

	// TypeBatchDone closes a batch with its summary
	TypeBatchDone MessageType = "batch_done"
	// TypeReading carries a single live DOA reading
	TypeReading MessageType = "reading"
	// TypeHello identifies a publisher to the collector
	TypeHello MessageType = "hello"

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// NewReportMessage wraps a report under the type matching its kind
func NewReportMessage(rep analysis.Report) (*Message, error) {
	switch rep.Kind {
	case analysis.KindQuality:
		return NewMessage(TypeQuality, rep)
	case analysis.KindDOA:
		return NewMessage(TypeDOA, rep)
	}
	return nil, fmt.Errorf("unknown report kind %q", rep.Kind)
}

// GetReport extracts a report from a quality or doa message
func (m *Message) GetReport() (*analysis.Report, error) {
	if m.Type != TypeQuality && m.Type != TypeDOA {
		return nil, fmt.Errorf("message type %q carries no report", m.Type)
	}
	var rep analysis.Report
	if err := m.ParseData(&rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// BatchDoneData summarizes a finished batch
type BatchDoneData struct {
	Kind    analysis.Kind    `json:"kind"`
	Summary analysis.Summary `json:"summary"`
	IDs     []string         `json:"ids"`
}

// NewBatchDoneMessage creates a batch_done message for reports
func NewBatchDoneMessage(kind analysis.Kind, reports []analysis.Report) (*Message, error) {
	ids := make([]string, len(reports))
	for i, r := range reports {
		ids[i] = r.ID
	}
	return NewMessage(TypeBatchDone, BatchDoneData{
		Kind:    kind,
		Summary: analysis.Summarize(reports),
		IDs:     ids,
	})
}

// NewReadingMessage creates a live reading message
func NewReadingMessage(r doa.Reading) (*Message, error) {
	return NewMessage(TypeReading, r)
}

// HelloData identifies a publisher
type HelloData struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
