package bus

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Topics carried on the bus.
const (
	TopicAlerts     = "alerts:updates"
	TopicDetections = "detections:updates"
)

// Message types. Clients see only these; other lifecycle changes go out
// as TypeAlert carrying the updated alert.
const (
	TypeAlert        = "alert"
	TypeDetection    = "detection"
	TypeAcknowledged = "acknowledged"
	TypeResolved     = "resolved"
)

// ErrMalformed is returned by Subscription.Next for a payload that is not a
// JSON envelope. The subscription stays usable.
var ErrMalformed = errors.New("malformed message")

// Message is the envelope published on every topic.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`

	// raw holds the bytes as received so they can be relayed verbatim.
	raw []byte
}

// NewMessage encodes data into a message of the given type.
func NewMessage(typ string, data any) (Message, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s message: %w", typ, err)
	}
	return Message{Type: typ, Data: b}, nil
}

// Encode returns the wire form of m. A received message encodes to the
// exact bytes it arrived as.
func (m Message) Encode() ([]byte, error) {
	if m.raw != nil {
		return m.raw, nil
	}
	return json.Marshal(m)
}

// Decode parses a wire payload.
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	m.raw = payload
	return m, nil
}
