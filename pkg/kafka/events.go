package kafka

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is the envelope sibling services publish on the POS topics. The
// bridge turns these into realtime emits; Data stays schemaless at this
// boundary because producers version their own payloads.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// ParseEvent decodes an event envelope, preferring the tenant header over
// the payload field when both are present.
func ParseEvent(value []byte, headers map[string]string) (Event, error) {
	var event Event
	if err := json.Unmarshal(value, &event); err != nil {
		return Event{}, fmt.Errorf("failed to decode event envelope: %w", err)
	}
	if v, ok := headers["tenant_id"]; ok && v != "" {
		event.TenantID = v
	}
	if event.Type == "" {
		return Event{}, fmt.Errorf("event missing type")
	}
	return event, nil
}

// EventHandler interface for handling Kafka events
type EventHandler interface {
	HandleEvent(event Event) error
}
