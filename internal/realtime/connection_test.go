package realtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestConnection_Heartbeat(t *testing.T) {
	conn, stream := newTestConn("u1", "t1", StationWaiter)
	conn.StartHeartbeat(10 * time.Millisecond)
	defer conn.Stop()

	deadline := time.After(time.Second)
	for stream.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 2 heartbeats, got %d", stream.count())
		case <-time.After(5 * time.Millisecond):
		}
	}

	var frame HeartbeatFrame
	if err := json.Unmarshal(stream.last(), &frame); err != nil {
		t.Fatalf("invalid heartbeat frame: %v", err)
	}
	if frame.Type != EventHeartbeat {
		t.Fatalf("unexpected frame type %q", frame.Type)
	}
	if frame.Timestamp <= 0 {
		t.Fatal("heartbeat timestamp must be epoch milliseconds")
	}
}

func TestConnection_HeartbeatStopsOnWriteFailure(t *testing.T) {
	conn, stream := newTestConn("u1", "t1", StationWaiter)
	stream.failWith = errors.New("client gone")
	conn.StartHeartbeat(5 * time.Millisecond)
	defer conn.Stop()

	time.Sleep(50 * time.Millisecond)
	if stream.count() != 0 {
		t.Fatal("no frames should land after the stream starts failing")
	}
}

func TestConnection_StopIsIdempotent(t *testing.T) {
	conn, stream := newTestConn("u1", "t1", StationWaiter)
	conn.StartHeartbeat(time.Hour)

	conn.Stop()
	conn.Stop() // must not panic on a closed channel

	stream.mu.Lock()
	closed := stream.closed
	stream.mu.Unlock()
	if !closed {
		t.Fatal("stop must close the underlying stream")
	}
}

func TestConnection_WriteTouchesActivity(t *testing.T) {
	conn, _ := newTestConn("u1", "t1", StationWaiter)
	before := conn.LastActivity()
	time.Sleep(2 * time.Millisecond)
	if err := conn.Write([]byte(`{}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !conn.LastActivity().After(before) {
		t.Fatal("successful write must refresh last activity")
	}
}
