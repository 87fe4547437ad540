package events

import (
	"time"

	"mcpstudio/internal/api"
)

// Event is one message on the bus. Sequence increases by one per topic, so a
// consumer that reconnects can detect gaps and duplicates.
type Event struct {
	ID        string        `json:"id"`
	Topic     string        `json:"topic"`
	Type      api.EventType `json:"type"`
	Sequence  uint64        `json:"sequence"`
	Timestamp time.Time     `json:"timestamp"`
	Message   string        `json:"message,omitempty"`
	Payload   any           `json:"payload,omitempty"`
}

// Publisher is the narrow interface producers depend on.
type Publisher interface {
	Publish(topic string, eventType api.EventType, payload any) Event
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(topic string, eventType api.EventType, payload any) Event {
	return Event{Topic: topic, Type: eventType, Payload: payload, Timestamp: time.Now()}
}
