package bridge

import (
	"context"
	"testing"

	"barpos/internal/realtime"
	"barpos/pkg/kafka"
	"barpos/pkg/logging"

	"github.com/sirupsen/logrus"
)

type recordedEmit struct {
	name     realtime.EventName
	opts     realtime.EmitOptions
	critical bool
}

type fakeEmitter struct {
	emits []recordedEmit
}

func (f *fakeEmitter) Emit(name realtime.EventName, _ interface{}, opts realtime.EmitOptions) int {
	f.emits = append(f.emits, recordedEmit{name: name, opts: opts})
	return 1
}

func (f *fakeEmitter) EmitCritical(name realtime.EventName, _ interface{}, opts realtime.EmitOptions) int {
	f.emits = append(f.emits, recordedEmit{name: name, opts: opts, critical: true})
	return 1
}

func newTestBridge() (*Bridge, *fakeEmitter) {
	logger := logging.NewLogger()
	logger.SetLevel(logrus.PanicLevel)
	emitter := &fakeEmitter{}
	return New(emitter, logger), emitter
}

func TestHandleMessage_RoutesEvent(t *testing.T) {
	b, emitter := newTestBridge()

	err := b.HandleMessage(context.Background(), kafka.Message{
		Topic: "pos.events",
		Value: []byte(`{"type":"order:ready","tenant_id":"t1","data":{"orderId":"o1"}}`),
	})
	if err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	if len(emitter.emits) != 1 {
		t.Fatalf("expected 1 emit, got %d", len(emitter.emits))
	}
	emit := emitter.emits[0]
	if emit.name != realtime.EventOrderReady || emit.opts.TenantID != "t1" {
		t.Fatalf("unexpected emit %+v", emit)
	}
	if emit.critical {
		t.Fatal("order:ready is not critical")
	}
	if !emit.opts.QueueIfOffline {
		t.Fatal("bridged events must queue when recipients are offline")
	}
}

func TestHandleMessage_TenantHeaderWins(t *testing.T) {
	b, emitter := newTestBridge()

	err := b.HandleMessage(context.Background(), kafka.Message{
		Value:   []byte(`{"type":"order:ready","tenant_id":"payload-tenant"}`),
		Headers: map[string]string{"tenant_id": "header-tenant"},
	})
	if err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	if emitter.emits[0].opts.TenantID != "header-tenant" {
		t.Fatalf("expected header tenant, got %s", emitter.emits[0].opts.TenantID)
	}
}

func TestHandleEvent_CriticalUsesRedelivery(t *testing.T) {
	b, emitter := newTestBridge()

	b.HandleEvent(kafka.Event{Type: "batch:payment:completed", TenantID: "t1"})
	if len(emitter.emits) != 1 || !emitter.emits[0].critical {
		t.Fatalf("expected a critical emit, got %+v", emitter.emits)
	}
}

func TestHandleEvent_DropsWithoutTenant(t *testing.T) {
	b, emitter := newTestBridge()

	b.HandleEvent(kafka.Event{Type: "order:ready"})
	if len(emitter.emits) != 0 {
		t.Fatal("events without tenant must be dropped")
	}
}

func TestHandleEvent_DropsUnknownType(t *testing.T) {
	b, emitter := newTestBridge()

	b.HandleEvent(kafka.Event{Type: "stream-lifecycle", TenantID: "t1"})
	if len(emitter.emits) != 0 {
		t.Fatal("events outside the taxonomy must be dropped")
	}
}

func TestHandleMessage_SkipsGarbage(t *testing.T) {
	b, emitter := newTestBridge()

	// Undecodable records are skipped, not retried forever.
	if err := b.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")}); err != nil {
		t.Fatalf("expected nil error for garbage record, got %v", err)
	}
	if len(emitter.emits) != 0 {
		t.Fatal("garbage must not emit")
	}
}
