package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// ChangeMessage announces one local mutation. Consumers fetch state from the
// stores; the message only names what changed.
type ChangeMessage struct {
	Entity    string    `json:"entity"`
	Op        string    `json:"op"`
	ID        int64     `json:"id,omitempty"`
	Parent    int64     `json:"parent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewChangeMessage(entity, op string, id, parent int64) *ChangeMessage {
	return &ChangeMessage{
		Entity:    entity,
		Op:        op,
		ID:        id,
		Parent:    parent,
		Timestamp: time.Now(),
	}
}

func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Entity == "" {
		return nil, errors.New("change message without entity")
	}
	return &msg, nil
}
