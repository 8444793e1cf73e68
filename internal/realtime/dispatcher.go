package realtime

import (
	"encoding/json"
	"time"

	"barpos/pkg/logging"
)

// criticalRedeliveryDelays is the fixed re-emit ladder for critical events.
// It papers over consumers reconnecting right after an emit; duplicates are
// expected and handlers must tolerate them.
var criticalRedeliveryDelays = []time.Duration{
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
}

// EmitOptions carries the targeting metadata for one emission.
type EmitOptions struct {
	TenantID       string
	UserID         string
	Broadcast      bool
	QueueIfOffline bool
}

// DispatcherMetrics is the subset of service metrics the dispatcher feeds.
type DispatcherMetrics interface {
	EventPublished(name, channel string)
	EventDropped(name, reason string)
	EventQueued(name string)
}

// Dispatcher fans typed events out to every matching live connection.
type Dispatcher struct {
	registry *Registry
	offline  *OfflineQueue
	logger   logging.Logger
	metrics  DispatcherMetrics
}

// NewDispatcher wires a dispatcher to a registry. metrics may be nil.
func NewDispatcher(registry *Registry, offline *OfflineQueue, logger logging.Logger, metrics DispatcherMetrics) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		offline:  offline,
		logger:   logger,
		metrics:  metrics,
	}
}

// Emit serializes the event and delivers it per the targeting rules: a
// UserID restricts delivery to that user's connections within the tenant;
// Broadcast reaches every tenant connection; otherwise delivery follows the
// channel implied by the event name. Returns the number of connections
// written to.
func (d *Dispatcher) Emit(name EventName, payload interface{}, opts EmitOptions) int {
	raw, err := json.Marshal(payload)
	if err != nil {
		d.logger.WithError(err).WithField("event", name).Error("Failed to marshal event payload")
		return 0
	}
	data, err := json.Marshal(Envelope{EventName: name, Payload: raw})
	if err != nil {
		d.logger.WithError(err).WithField("event", name).Error("Failed to marshal event envelope")
		return 0
	}

	targets, channel := d.resolve(name, opts)
	if len(targets) == 0 {
		if opts.QueueIfOffline {
			d.offline.Push(opts.TenantID, name, data, opts.UserID, opts.Broadcast)
			if d.metrics != nil {
				d.metrics.EventQueued(string(name))
			}
			d.logger.WithFields(logging.Fields{
				"event":     name,
				"tenant_id": opts.TenantID,
				"user_id":   opts.UserID,
			}).Debug("No live recipients, event queued")
		} else if d.metrics != nil {
			d.metrics.EventDropped(string(name), "no_recipients")
		}
		return 0
	}

	delivered := d.deliver(name, data, targets)
	if d.metrics != nil && delivered > 0 {
		d.metrics.EventPublished(string(name), string(channel))
	}
	return delivered
}

// EmitCritical emits immediately and re-emits on the fixed delay ladder.
// Consumers see the same logical event up to six times; no dedup id is
// attached and handlers are expected to be idempotent.
func (d *Dispatcher) EmitCritical(name EventName, payload interface{}, opts EmitOptions) int {
	delivered := d.Emit(name, payload, opts)
	for _, delay := range criticalRedeliveryDelays {
		time.AfterFunc(delay, func() {
			// Redelivery never queues: the initial emit already did if asked.
			retryOpts := opts
			retryOpts.QueueIfOffline = false
			d.Emit(name, payload, retryOpts)
		})
	}
	return delivered
}

// FlushTenant delivers queued events for a tenant in FIFO order, resolving
// each entry against the targeting it was emitted with. Events whose target
// is still offline are requeued; events that can never resolve a target are
// dropped so they do not cycle through the queue forever.
func (d *Dispatcher) FlushTenant(tenantID string) int {
	queued := d.offline.Drain(tenantID)
	if len(queued) == 0 {
		return 0
	}

	flushed := 0
	for _, ev := range queued {
		var targets []*Connection
		resolvable := true
		switch {
		case ev.userID != "":
			targets = d.registry.UserClients(tenantID, ev.userID)
		case ev.broadcast:
			targets = d.registry.TenantClients(tenantID)
		default:
			ch, ok := ChannelForEvent(ev.name)
			if !ok {
				resolvable = false
				break
			}
			targets = d.registry.ChannelClients(tenantID, ch)
		}
		if !resolvable {
			if d.metrics != nil {
				d.metrics.EventDropped(string(ev.name), "unroutable")
			}
			d.logger.WithFields(logging.Fields{
				"event":     ev.name,
				"tenant_id": tenantID,
			}).Warn("Dropping queued event with no routable target")
			continue
		}
		if len(targets) == 0 {
			d.offline.Push(tenantID, ev.name, ev.data, ev.userID, ev.broadcast)
			continue
		}
		flushed += d.deliver(ev.name, ev.data, targets)
	}

	if flushed > 0 {
		d.logger.WithFields(logging.Fields{
			"tenant_id": tenantID,
			"delivered": flushed,
		}).Debug("Flushed offline queue")
	}
	return flushed
}

// resolve picks the target connections for an emission.
func (d *Dispatcher) resolve(name EventName, opts EmitOptions) ([]*Connection, Channel) {
	if opts.UserID != "" {
		return d.registry.UserClients(opts.TenantID, opts.UserID), ""
	}
	if opts.Broadcast {
		return d.registry.TenantClients(opts.TenantID), ""
	}
	ch, ok := ChannelForEvent(name)
	if !ok {
		// Unknown channel: no-op, not an error.
		return nil, ""
	}
	return d.registry.ChannelClients(opts.TenantID, ch), ch
}

// deliver writes the encoded event to each target. A write failure is
// isolated to that connection: it is logged, the connection is removed
// asynchronously, and delivery to the remaining targets continues.
func (d *Dispatcher) deliver(name EventName, data []byte, targets []*Connection) int {
	delivered := 0
	for _, conn := range targets {
		if err := conn.Write(data); err != nil {
			d.logger.WithError(err).WithFields(logging.Fields{
				"event":         name,
				"connection_id": conn.ID,
				"tenant_id":     conn.TenantID,
			}).Warn("Write failed, evicting connection")
			go d.registry.RemoveClient(conn.ID)
			continue
		}
		delivered++
	}
	return delivered
}
