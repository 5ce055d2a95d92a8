package event

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire shape of a server-pushed event.
type Envelope struct {
	// PluginID addresses the plugin the event is meant for.
	PluginID string `json:"pluginId"`

	// EventType is the routing key for broadcast subscribers.
	EventType string `json:"eventType"`

	// Payload is opaque to the bus.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope, marshaling payload to JSON.
// A nil payload produces an envelope without a payload.
func NewEnvelope(pluginID, eventType string, payload any) (Envelope, error) {
	env := Envelope{PluginID: pluginID, EventType: eventType}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload for %s: %w", eventType, err)
	}
	env.Payload = data
	return env, nil
}

// DecodeEnvelope parses a single JSON envelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("%w: missing eventType", ErrInvalidEvent)
	}
	return env, nil
}

// String returns a short description for logs.
func (e Envelope) String() string {
	return fmt.Sprintf("%s -> %s (%d bytes)", e.EventType, e.PluginID, len(e.Payload))
}
