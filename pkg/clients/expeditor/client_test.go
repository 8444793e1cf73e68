package expeditor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"barpos/pkg/logging"
)

func quietLogger() logging.Logger {
	logger := logging.NewLogger()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamServer is a scriptable stand-in for the event stream endpoint.
type streamServer struct {
	*httptest.Server
	mu       sync.Mutex
	conns    []*websocket.Conn
	upgrades int32
}

func newStreamServer(t *testing.T) *streamServer {
	t.Helper()
	s := &streamServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&s.upgrades, 1)
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		// Keep the socket open; frames are pushed by tests.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *streamServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *streamServer) send(t *testing.T, v interface{}) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		t.Fatal("no client connected")
	}
	if err := s.conns[len(s.conns)-1].WriteJSON(v); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
}

func (s *streamServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func (s *streamServer) upgradeCount() int {
	return int(atomic.LoadInt32(&s.upgrades))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func newTestClient(server *streamServer, cfg Config) *Client {
	cfg.URL = server.wsURL()
	if cfg.Token == "" {
		cfg.Token = "valid"
	}
	cfg.Logger = quietLogger()
	return NewClient(cfg)
}

func TestClient_ConnectAndDispatch(t *testing.T) {
	server := newStreamServer(t)
	client := newTestClient(server, Config{Station: "kitchen"})
	defer client.Close()

	var got atomic.Value
	unsubscribe := client.Subscribe("order:ready", func(payload json.RawMessage) {
		got.Store(string(payload))
	})
	defer unsubscribe()

	client.Connect()
	waitFor(t, time.Second, func() bool { return client.State().Connected }, "client never connected")

	server.send(t, map[string]interface{}{
		"eventName": "order:ready",
		"payload":   map[string]string{"orderId": "o1"},
	})
	waitFor(t, time.Second, func() bool { return got.Load() != nil }, "handler never fired")
	if !strings.Contains(got.Load().(string), "o1") {
		t.Fatalf("unexpected payload %v", got.Load())
	}
}

func TestClient_SingleInFlightConnect(t *testing.T) {
	server := newStreamServer(t)
	client := newTestClient(server, Config{})
	defer client.Close()

	for i := 0; i < 10; i++ {
		client.Connect()
	}
	waitFor(t, time.Second, func() bool { return client.State().Connected }, "client never connected")
	// Give any duplicate dials time to land.
	time.Sleep(100 * time.Millisecond)
	if n := server.upgradeCount(); n != 1 {
		t.Fatalf("expected exactly 1 transport, got %d", n)
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	server := newStreamServer(t)
	client := newTestClient(server, Config{BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond})
	defer client.Close()

	client.Connect()
	waitFor(t, time.Second, func() bool { return client.State().Connected }, "client never connected")

	server.dropAll()
	waitFor(t, 2*time.Second, func() bool { return server.upgradeCount() >= 2 && client.State().Connected },
		"client never reconnected")
	if client.State().ReconnectAttempts != 0 {
		t.Fatalf("attempt counter should reset on success, got %d", client.State().ReconnectAttempts)
	}
}

func TestClient_WatchdogForcesReconnect(t *testing.T) {
	server := newStreamServer(t)
	client := newTestClient(server, Config{
		WatchdogInterval: 20 * time.Millisecond,
		StaleThreshold:   60 * time.Millisecond,
	})
	defer client.Close()

	client.Connect()
	waitFor(t, time.Second, func() bool { return client.State().Connected }, "client never connected")

	// No frames arrive; the watchdog must declare the stream dead and
	// reconnect without waiting out the backoff ladder.
	waitFor(t, 2*time.Second, func() bool { return server.upgradeCount() >= 2 },
		"watchdog never forced a reconnect")
}

func TestClient_HeartbeatKeepsWatchdogQuiet(t *testing.T) {
	server := newStreamServer(t)
	client := newTestClient(server, Config{
		WatchdogInterval: 20 * time.Millisecond,
		StaleThreshold:   80 * time.Millisecond,
	})
	defer client.Close()

	client.Connect()
	waitFor(t, time.Second, func() bool { return client.State().Connected }, "client never connected")

	for i := 0; i < 10; i++ {
		server.send(t, map[string]interface{}{
			"type":      "system:heartbeat",
			"timestamp": time.Now().UnixMilli(),
		})
		time.Sleep(25 * time.Millisecond)
	}
	if n := server.upgradeCount(); n != 1 {
		t.Fatalf("watchdog fired despite heartbeats, %d transports", n)
	}
	state := client.State()
	if state.Quality == "offline" {
		t.Fatal("client should still be connected")
	}
}

func TestClient_503StopsReconnecting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{
		URL:       "ws" + strings.TrimPrefix(server.URL, "http"),
		Token:     "valid",
		Logger:    quietLogger(),
		BaseDelay: 5 * time.Millisecond,
	})
	defer client.Close()

	client.Connect()
	waitFor(t, time.Second, func() bool { return client.State().LastError != "" }, "dial never failed")
	time.Sleep(100 * time.Millisecond)

	state := client.State()
	if state.Connected || state.Connecting {
		t.Fatal("client must stay down after 503")
	}
	if state.ReconnectAttempts != 0 {
		t.Fatalf("503 must not schedule retries, got %d attempts", state.ReconnectAttempts)
	}
}

func TestClient_NoCredentialNoAttempt(t *testing.T) {
	server := newStreamServer(t)
	client := NewClient(Config{URL: server.wsURL(), Logger: quietLogger()})
	defer client.Close()

	client.Connect()
	time.Sleep(50 * time.Millisecond)
	state := client.State()
	if state.Connected || state.Connecting {
		t.Fatal("client must not dial without a credential")
	}
	if state.LastError == "" {
		t.Fatal("missing credential must surface as an error state")
	}
	if server.upgradeCount() != 0 {
		t.Fatal("no transport should be opened")
	}
}

func TestClient_UnsubscribePrunes(t *testing.T) {
	server := newStreamServer(t)
	client := newTestClient(server, Config{})
	defer client.Close()

	var calls int32
	unsubscribe := client.Subscribe("order:ready", func(json.RawMessage) {
		atomic.AddInt32(&calls, 1)
	})
	unsubscribe()
	unsubscribe() // double unsubscribe is a no-op

	client.mu.Lock()
	_, exists := client.handlers["order:ready"]
	client.mu.Unlock()
	if exists {
		t.Fatal("empty handler set must be pruned")
	}

	client.dispatch("order:ready", nil)
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("unsubscribed handler must not run")
	}
}

func TestClient_PanickingHandlerIsolated(t *testing.T) {
	server := newStreamServer(t)
	client := newTestClient(server, Config{})
	defer client.Close()

	var survived int32
	client.Subscribe("order:ready", func(json.RawMessage) { panic("bad handler") })
	client.Subscribe("order:ready", func(json.RawMessage) { atomic.AddInt32(&survived, 1) })

	client.dispatch("order:ready", nil)
	if atomic.LoadInt32(&survived) != 1 {
		t.Fatal("panic in one handler must not stop the others")
	}
}

func TestClient_SetVisibleReconnects(t *testing.T) {
	server := newStreamServer(t)
	client := newTestClient(server, Config{BaseDelay: time.Hour, MaxDelay: time.Hour})
	defer client.Close()

	client.Connect()
	waitFor(t, time.Second, func() bool { return client.State().Connected }, "client never connected")

	// Drop the transport; the next reconnect timer is an hour out.
	server.dropAll()
	waitFor(t, time.Second, func() bool { return !client.State().Connected }, "drop never observed")

	client.SetVisible(true)
	waitFor(t, time.Second, func() bool { return client.State().Connected },
		"visibility return should reconnect immediately")
}

func TestClient_CloseClearsHandlers(t *testing.T) {
	server := newStreamServer(t)
	client := newTestClient(server, Config{})

	client.Subscribe("order:ready", func(json.RawMessage) {})
	client.Connect()
	waitFor(t, time.Second, func() bool { return client.State().Connected }, "client never connected")

	client.Close()
	client.mu.Lock()
	remaining := len(client.handlers)
	client.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("handlers must be cleared on close, got %d", remaining)
	}
	time.Sleep(50 * time.Millisecond)
	if client.State().Connected {
		t.Fatal("client must stay closed")
	}
}
