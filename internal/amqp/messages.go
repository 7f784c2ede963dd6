package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"serie/internal/services"
)

// ChangeEventMessage is the wire form of a series change event.
type ChangeEventMessage struct {
	services.ChangeEvent
	PublishedAt time.Time `json:"published_at"`
}

// NewChangeEventMessage wraps ev for publishing.
func NewChangeEventMessage(ev services.ChangeEvent) *ChangeEventMessage {
	return &ChangeEventMessage{
		ChangeEvent: ev,
		PublishedAt: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ChangeEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeEventMessageFromJSON decodes a message and rejects unknown change kinds.
func ChangeEventMessageFromJSON(data []byte) (*ChangeEventMessage, error) {
	var msg ChangeEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Kind {
	case services.ChangeAdd, services.ChangeUpdate, services.ChangeDelete:
	default:
		return nil, fmt.Errorf("unknown change kind %q", msg.Kind)
	}
	return &msg, nil
}
