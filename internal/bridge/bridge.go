// Package bridge feeds externally-produced POS events into the realtime
// dispatcher. Sibling services (payment back office, batch jobs) publish on
// Kafka; the bridge maps each event onto the dispatcher's targeting rules so
// connected stations see them exactly like locally-emitted ones.
package bridge

import (
	"context"
	"encoding/json"

	"barpos/internal/realtime"
	"barpos/pkg/kafka"
	"barpos/pkg/logging"
)

// Emitter is the dispatcher surface the bridge uses.
type Emitter interface {
	Emit(name realtime.EventName, payload interface{}, opts realtime.EmitOptions) int
	EmitCritical(name realtime.EventName, payload interface{}, opts realtime.EmitOptions) int
}

// Bridge routes Kafka POS events into the realtime layer.
type Bridge struct {
	emitter Emitter
	logger  logging.Logger
}

// New creates a bridge around a dispatcher.
func New(emitter Emitter, logger logging.Logger) *Bridge {
	return &Bridge{emitter: emitter, logger: logger}
}

// Attach registers the bridge on the consumer for the given topics.
func (b *Bridge) Attach(consumer *kafka.Consumer, topics []string) {
	for _, topic := range topics {
		consumer.AddHandler(topic, b.HandleMessage)
	}
}

// HandleMessage decodes one Kafka record and emits it. Events without a
// tenant are dropped: every realtime channel is tenant-scoped and an
// unscoped emit could leak across venues.
func (b *Bridge) HandleMessage(_ context.Context, msg kafka.Message) error {
	event, err := kafka.ParseEvent(msg.Value, msg.Headers)
	if err != nil {
		b.logger.WithError(err).WithField("topic", msg.Topic).Warn("Skipping undecodable event")
		return nil
	}
	b.HandleEvent(event)
	return nil
}

// HandleEvent maps one decoded event onto the dispatcher.
func (b *Bridge) HandleEvent(event kafka.Event) {
	name := realtime.EventName(event.Type)
	if _, known := realtime.ChannelForEvent(name); !known {
		b.logger.WithField("event_type", event.Type).Debug("Dropping event outside the taxonomy")
		return
	}
	if event.TenantID == "" {
		b.logger.WithField("event_type", event.Type).Warn("Dropping event without tenant_id")
		return
	}

	payload := json.RawMessage(nil)
	if event.Data != nil {
		if raw, err := json.Marshal(event.Data); err == nil {
			payload = raw
		}
	}

	opts := realtime.EmitOptions{
		TenantID:       event.TenantID,
		UserID:         event.UserID,
		QueueIfOffline: true,
	}
	if realtime.IsCritical(name) {
		b.emitter.EmitCritical(name, payload, opts)
	} else {
		b.emitter.Emit(name, payload, opts)
	}

	b.logger.WithFields(logging.Fields{
		"event_type": event.Type,
		"source":     event.Source,
		"tenant_id":  event.TenantID,
	}).Debug("Bridged Kafka event to realtime dispatch")
}
