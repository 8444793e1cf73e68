package realtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func newTestDispatcher(t *testing.T, cfg RegistryConfig) (*Dispatcher, *Registry) {
	t.Helper()
	registry := NewRegistry(cfg, testLogger())
	return NewDispatcher(registry, NewOfflineQueue(8), testLogger(), nil), registry
}

func addSubscribed(t *testing.T, r *Registry, userID, tenantID string, station Station) (*Connection, *fakeStream) {
	t.Helper()
	conn, stream := newTestConn(userID, tenantID, station)
	if !r.AddClient(conn) {
		t.Fatalf("failed to add connection for %s", userID)
	}
	r.Subscribe(conn.ID, ChannelsForStation(station)...)
	return conn, stream
}

func decodeEnvelope(t *testing.T, data []byte) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("invalid envelope: %v", err)
	}
	return env
}

func TestDispatcher_ChannelScoping(t *testing.T) {
	d, r := newTestDispatcher(t, DefaultRegistryConfig())

	_, kitchenStream := addSubscribed(t, r, "cook", "t1", StationKitchen)
	_, waiterStream := addSubscribed(t, r, "waiter", "t1", StationWaiter)
	_, cashierStream := addSubscribed(t, r, "cashier", "t1", StationCashier)

	delivered := d.Emit(EventOrderNew, OrderPayload{OrderID: "o1", Status: "placed"}, EmitOptions{TenantID: "t1"})
	if delivered != 3 {
		t.Fatalf("order event should reach all orders subscribers, got %d", delivered)
	}

	// debt:created routes to the cashier channel only.
	delivered = d.Emit(EventDebtCreated, DebtPayload{DebtID: "d1"}, EmitOptions{TenantID: "t1"})
	if delivered != 1 {
		t.Fatalf("debt event should reach the cashier only, got %d", delivered)
	}
	if kitchenStream.count() != 1 || waiterStream.count() != 1 {
		t.Fatal("debt event leaked outside the cashier channel")
	}
	if cashierStream.count() != 2 {
		t.Fatalf("cashier should have order + debt, got %d", cashierStream.count())
	}

	env := decodeEnvelope(t, cashierStream.last())
	if env.EventName != EventDebtCreated {
		t.Fatalf("unexpected event name %q", env.EventName)
	}
}

func TestDispatcher_TenantIsolation(t *testing.T) {
	d, r := newTestDispatcher(t, DefaultRegistryConfig())

	_, aStream := addSubscribed(t, r, "u1", "tenant-a", StationWaiter)
	_, bStream := addSubscribed(t, r, "u2", "tenant-b", StationWaiter)

	delivered := d.Emit(EventOrderNew, OrderPayload{OrderID: "o1"}, EmitOptions{TenantID: "tenant-a"})
	if delivered != 1 {
		t.Fatalf("expected delivery to tenant-a only, got %d", delivered)
	}
	if aStream.count() != 1 {
		t.Fatalf("tenant-a missed its event, got %d", aStream.count())
	}
	if bStream.count() != 0 {
		t.Fatal("event crossed the tenant boundary")
	}
}

func TestDispatcher_Broadcast(t *testing.T) {
	d, r := newTestDispatcher(t, DefaultRegistryConfig())

	_, s1 := addSubscribed(t, r, "u1", "t1", StationWaiter)
	_, s2 := addSubscribed(t, r, "u2", "t1", StationSupervisor)
	_, other := addSubscribed(t, r, "u3", "t2", StationWaiter)

	delivered := d.Emit(EventNotificationNew, NotificationPayload{Title: "86 the oysters"}, EmitOptions{
		TenantID:  "t1",
		Broadcast: true,
	})
	if delivered != 2 {
		t.Fatalf("broadcast should reach every tenant connection, got %d", delivered)
	}
	if s1.count() != 1 || s2.count() != 1 {
		t.Fatal("broadcast missed a tenant connection")
	}
	if other.count() != 0 {
		t.Fatal("broadcast crossed the tenant boundary")
	}
}

func TestDispatcher_TargetedUser(t *testing.T) {
	d, r := newTestDispatcher(t, DefaultRegistryConfig())

	// Two devices for the same user, one colleague.
	c1, s1 := addSubscribed(t, r, "alice", "t1", StationWaiter)
	c2, s2 := addSubscribed(t, r, "alice", "t1", StationWaiter)
	if c1.ID == c2.ID {
		t.Fatal("connections must have distinct ids")
	}
	_, s3 := addSubscribed(t, r, "bob", "t1", StationWaiter)

	delivered := d.Emit(EventNotificationNew, NotificationPayload{Title: "table 12 asking for you"}, EmitOptions{
		TenantID: "t1",
		UserID:   "alice",
	})
	if delivered != 2 {
		t.Fatalf("user target should reach both devices, got %d", delivered)
	}
	if s1.count() != 1 || s2.count() != 1 {
		t.Fatal("targeted event missed one of the user's devices")
	}
	if s3.count() != 0 {
		t.Fatal("targeted event leaked to another user")
	}
}

func TestDispatcher_SlowConsumerIsolated(t *testing.T) {
	d, r := newTestDispatcher(t, DefaultRegistryConfig())

	_, broken := addSubscribed(t, r, "u1", "t1", StationWaiter)
	broken.failWith = errors.New("write: broken pipe")
	_, healthy := addSubscribed(t, r, "u2", "t1", StationWaiter)

	delivered := d.Emit(EventOrderNew, OrderPayload{OrderID: "o1"}, EmitOptions{TenantID: "t1"})
	if delivered != 1 {
		t.Fatalf("healthy connection should still be served, got %d", delivered)
	}
	if healthy.count() != 1 {
		t.Fatal("a failing peer must not block delivery to others")
	}

	// Eviction of the broken connection happens asynchronously.
	deadline := time.After(time.Second)
	for r.Count() != 1 {
		select {
		case <-deadline:
			t.Fatalf("broken connection was not evicted, count=%d", r.Count())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDispatcher_UnknownEventIsNoop(t *testing.T) {
	d, r := newTestDispatcher(t, DefaultRegistryConfig())
	_, stream := addSubscribed(t, r, "u1", "t1", StationWaiter)

	delivered := d.Emit(EventName("ghost:event"), nil, EmitOptions{TenantID: "t1"})
	if delivered != 0 || stream.count() != 0 {
		t.Fatal("events without a channel mapping must be dropped silently")
	}
}

func TestDispatcher_OfflineQueueFlush(t *testing.T) {
	d, r := newTestDispatcher(t, DefaultRegistryConfig())

	// Nobody connected: the event is queued, not lost.
	delivered := d.Emit(EventDebtCreated, DebtPayload{DebtID: "d1"}, EmitOptions{
		TenantID:       "t1",
		QueueIfOffline: true,
	})
	if delivered != 0 {
		t.Fatalf("expected no delivery with empty registry, got %d", delivered)
	}
	if d.offline.Len("t1") != 1 {
		t.Fatalf("expected 1 queued event, got %d", d.offline.Len("t1"))
	}

	_, stream := addSubscribed(t, r, "cashier", "t1", StationCashier)
	flushed := d.FlushTenant("t1")
	if flushed != 1 {
		t.Fatalf("expected 1 flushed event, got %d", flushed)
	}
	if stream.count() != 1 {
		t.Fatal("queued event never reached the reconnected client")
	}
	if d.offline.Len("t1") != 0 {
		t.Fatal("queue should be empty after flush")
	}

	env := decodeEnvelope(t, stream.last())
	if env.EventName != EventDebtCreated {
		t.Fatalf("unexpected flushed event %q", env.EventName)
	}
}

func TestDispatcher_FlushRequeuesUnreachable(t *testing.T) {
	d, r := newTestDispatcher(t, DefaultRegistryConfig())

	// A user-targeted event for alice, but only bob reconnects.
	d.Emit(EventNotificationNew, NotificationPayload{Title: "shift change"}, EmitOptions{
		TenantID:       "t1",
		UserID:         "alice",
		QueueIfOffline: true,
	})
	_, bobStream := addSubscribed(t, r, "bob", "t1", StationWaiter)

	if flushed := d.FlushTenant("t1"); flushed != 0 {
		t.Fatalf("expected 0 flushed, got %d", flushed)
	}
	if bobStream.count() != 0 {
		t.Fatal("alice's event must not be delivered to bob")
	}
	if d.offline.Len("t1") != 1 {
		t.Fatal("undeliverable event should be requeued")
	}
}

func TestDispatcher_FlushDeliversQueuedBroadcast(t *testing.T) {
	d, r := newTestDispatcher(t, DefaultRegistryConfig())

	// A broadcast outside the event taxonomy, queued while the tenant is
	// fully offline. It must reach every tenant connection on flush.
	d.Emit(EventName("system:maintenance"), nil, EmitOptions{
		TenantID:       "t1",
		Broadcast:      true,
		QueueIfOffline: true,
	})
	if d.offline.Len("t1") != 1 {
		t.Fatalf("expected 1 queued event, got %d", d.offline.Len("t1"))
	}

	_, waiterStream := addSubscribed(t, r, "waiter", "t1", StationWaiter)
	_, cookStream := addSubscribed(t, r, "cook", "t1", StationKitchen)

	if flushed := d.FlushTenant("t1"); flushed != 2 {
		t.Fatalf("expected broadcast to reach both connections, got %d", flushed)
	}
	if waiterStream.count() != 1 || cookStream.count() != 1 {
		t.Fatal("queued broadcast missed a tenant connection")
	}
	if d.offline.Len("t1") != 0 {
		t.Fatal("queue should be empty after flush")
	}
}

func TestDispatcher_FlushDropsUnroutable(t *testing.T) {
	d, r := newTestDispatcher(t, DefaultRegistryConfig())

	// No user target, no broadcast, no channel mapping: nothing can ever
	// deliver this. It must be dropped on flush, not requeued forever.
	d.offline.Push("t1", EventName("ghost:event"), []byte(`{}`), "", false)
	_, stream := addSubscribed(t, r, "waiter", "t1", StationWaiter)

	if flushed := d.FlushTenant("t1"); flushed != 0 {
		t.Fatalf("expected 0 flushed, got %d", flushed)
	}
	if stream.count() != 0 {
		t.Fatal("unroutable event must not be delivered")
	}
	if d.offline.Len("t1") != 0 {
		t.Fatal("unroutable event must be dropped, not requeued")
	}
}

func TestDispatcher_EmitCritical(t *testing.T) {
	d, r := newTestDispatcher(t, DefaultRegistryConfig())
	_, stream := addSubscribed(t, r, "cashier", "t1", StationCashier)

	d.EmitCritical(EventDebtCreated, DebtPayload{DebtID: "d1"}, EmitOptions{TenantID: "t1"})

	// Immediate emit plus the first two ladder steps (100ms, 250ms).
	deadline := time.After(2 * time.Second)
	for stream.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 deliveries, got %d", stream.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestOfflineQueue_EvictsOldest(t *testing.T) {
	q := NewOfflineQueue(2)
	q.Push("t1", EventDebtCreated, []byte(`1`), "", false)
	q.Push("t1", EventDebtCreated, []byte(`2`), "", false)
	q.Push("t1", EventDebtCreated, []byte(`3`), "", false)

	events := q.Drain("t1")
	if len(events) != 2 {
		t.Fatalf("expected 2 events after eviction, got %d", len(events))
	}
	if string(events[0].data) != `2` || string(events[1].data) != `3` {
		t.Fatalf("expected FIFO with oldest evicted, got %s %s", events[0].data, events[1].data)
	}
}

func TestIsCritical(t *testing.T) {
	if !IsCritical(EventDebtCreated) || !IsCritical(EventBatchPaymentCompleted) {
		t.Fatal("debt and batch payment completion are critical")
	}
	if IsCritical(EventOrderNew) {
		t.Fatal("order creation is not critical")
	}
}
