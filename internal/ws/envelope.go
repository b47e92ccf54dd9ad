// Package ws fans agent and preview events out to live websocket observers.
// Delivery is at-most-once: a subscriber that cannot be written to is
// dropped, never retried.
package ws

import (
	"encoding/json"
	"time"
)

// Envelope is the wire frame for every broadcast event.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// NewEnvelope wraps a payload with its event type and a millisecond
// timestamp.
func NewEnvelope(eventType string, data any) Envelope {
	return Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Encode renders the envelope as JSON.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
