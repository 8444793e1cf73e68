// Package expeditor provides the consumer-side engine for the realtime
// event stream: one logical connection, handler registration by event name,
// and reconnection with capped exponential backoff that never gives up
// while a credential is present.
package expeditor

import (
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"barpos/pkg/logging"
)

// Handler consumes one event payload. Handlers run on the read loop; they
// must not block for long.
type Handler func(payload json.RawMessage)

// State is the observable connection snapshot exposed to UI layers.
type State struct {
	Connected         bool   `json:"connected"`
	Connecting        bool   `json:"connecting"`
	LastError         string `json:"lastError,omitempty"`
	ReconnectAttempts int    `json:"reconnectAttempts"`
	Quality           string `json:"quality"`
	LatencyMS         int64  `json:"latency"`
}

// Config configures a Client.
type Config struct {
	// URL is the ws:// or wss:// stream endpoint.
	URL string
	// Token is the session credential, sent as a query parameter.
	Token    string
	Station  string
	ClientID string
	Logger   logging.Logger

	BaseDelay    time.Duration
	MaxDelay     time.Duration
	GrowthFactor float64
	JitterFrac   float64

	WatchdogInterval time.Duration
	StaleThreshold   time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.GrowthFactor <= 1 {
		c.GrowthFactor = defaultGrowthFactor
	}
	if c.JitterFrac < 0 {
		c.JitterFrac = defaultJitterFrac
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = 2 * time.Second
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 6 * time.Second
	}
}

var errNoCredential = errors.New("expeditor: no credential configured")

// Client is the reconnection engine. All methods are non-blocking; the
// transport work happens on internal goroutines.
type Client struct {
	cfg    Config
	logger logging.Logger
	rng    *rand.Rand

	mu             sync.Mutex
	conn           *websocket.Conn
	connected      bool
	connecting     bool
	closed         bool
	disabled       bool // server signaled 503: stop auto-reconnect
	lastErr        error
	attempts       int
	latency        time.Duration
	lastMessage    time.Time
	reconnectTimer *time.Timer
	watchdogStop   chan struct{}
	forceReconnect bool

	handlers  map[string]map[int]Handler
	handlerID int
}

// NewClient builds a client. Call Connect to open the stream.
func NewClient(cfg Config) *Client {
	cfg.applyDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Client{
		cfg:      cfg,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		handlers: make(map[string]map[int]Handler),
	}
}

// Connect opens the stream if no transport is open or pending. Calling it
// repeatedly is safe: at most one connection attempt runs at a time.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed || c.disabled || c.connected || c.connecting {
		c.mu.Unlock()
		return
	}
	if c.cfg.Token == "" {
		c.lastErr = errNoCredential
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.mu.Unlock()

	go c.dial()
}

func (c *Client) dial() {
	conn, resp, err := websocket.DefaultDialer.Dial(c.streamURL(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	c.connecting = false
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.lastErr = err
		if resp != nil && resp.StatusCode == http.StatusServiceUnavailable {
			// Capacity/disabled signal: stay down until told otherwise.
			c.disabled = true
			c.mu.Unlock()
			c.logger.Warn("Stream unavailable (503), auto-reconnect stopped")
			return
		}
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	c.conn = conn
	c.connected = true
	c.lastErr = nil
	c.attempts = 0
	c.lastMessage = time.Now()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	stop := make(chan struct{})
	c.watchdogStop = stop
	c.mu.Unlock()

	c.logger.WithField("url", c.cfg.URL).Info("Stream connected")

	go c.watchdog(conn, stop)
	go c.readLoop(conn)
}

func (c *Client) streamURL() string {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return c.cfg.URL
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	if c.cfg.Station != "" {
		q.Set("station", c.cfg.Station)
	}
	if c.cfg.ClientID != "" {
		q.Set("clientId", c.cfg.ClientID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// readLoop consumes frames until the transport dies.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		c.handleFrame(payload)
	}
}

// frame is the superset shape of everything the server sends: heartbeats
// and meta frames carry type, dispatched events carry eventName.
type frame struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	EventName string          `json:"eventName"`
	Payload   json.RawMessage `json:"payload"`
}

func (c *Client) handleFrame(payload []byte) {
	now := time.Now()
	c.mu.Lock()
	c.lastMessage = now
	c.mu.Unlock()

	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		c.logger.WithError(err).Debug("Ignoring undecodable frame")
		return
	}

	switch {
	case f.Type == "system:heartbeat":
		if f.Timestamp > 0 {
			c.mu.Lock()
			c.latency = now.Sub(time.UnixMilli(f.Timestamp))
			if c.latency < 0 {
				c.latency = 0
			}
			c.mu.Unlock()
		}
	case f.EventName != "":
		c.dispatch(f.EventName, f.Payload)
	case f.Type != "":
		// Meta frames (connection:status) are dispatched under their type
		// so UIs can subscribe to them like any event.
		c.dispatch(f.Type, payload)
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer transport already replaced this one.
		c.mu.Unlock()
		return
	}
	conn.Close()
	c.conn = nil
	c.connected = false
	if c.watchdogStop != nil {
		close(c.watchdogStop)
		c.watchdogStop = nil
	}
	if c.closed || c.disabled {
		c.mu.Unlock()
		return
	}
	c.lastErr = err
	forced := c.forceReconnect
	c.forceReconnect = false
	if forced {
		// Stale-connection closure is a confident failure signal: skip the
		// backoff and retry at once.
		c.mu.Unlock()
		c.logger.Warn("Stream stale, reconnecting immediately")
		c.Connect()
		return
	}
	c.scheduleReconnectLocked()
	c.mu.Unlock()
	c.logger.WithError(err).Warn("Stream disconnected, reconnect scheduled")
}

// scheduleReconnectLocked arms exactly one reconnect timer. Callers hold mu.
func (c *Client) scheduleReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	delay := backoffDelay(c.attempts, c.cfg.BaseDelay, c.cfg.GrowthFactor, c.cfg.MaxDelay, c.cfg.JitterFrac, c.rng)
	c.attempts++
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()
		c.Connect()
	})
}

// watchdog force-closes the transport when no frame has arrived within the
// stale threshold, then triggers an immediate reconnect.
func (c *Client) watchdog(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := c.connected && time.Since(c.lastMessage) > c.cfg.StaleThreshold
			if stale {
				c.forceReconnect = true
			}
			c.mu.Unlock()
			if stale {
				// The read loop observes the close error and reconnects.
				conn.Close()
				return
			}
		}
	}
}

// Subscribe registers a handler for an event name and returns its
// unsubscribe function. Empty handler sets are pruned.
func (c *Client) Subscribe(eventName string, handler Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.handlers[eventName]
	if set == nil {
		set = make(map[int]Handler)
		c.handlers[eventName] = set
	}
	c.handlerID++
	id := c.handlerID
	set[id] = handler

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if set, ok := c.handlers[eventName]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(c.handlers, eventName)
			}
		}
	}
}

// dispatch invokes every handler for an event. A panicking handler is
// isolated; the others still run.
func (c *Client) dispatch(eventName string, payload json.RawMessage) {
	c.mu.Lock()
	set := c.handlers[eventName]
	snapshot := make([]Handler, 0, len(set))
	for _, h := range set {
		snapshot = append(snapshot, h)
	}
	c.mu.Unlock()

	for _, h := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.WithField("event", eventName).Errorf("Handler panicked: %v", r)
				}
			}()
			h(payload)
		}()
	}
}

// State returns the current connection snapshot.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		Connected:         c.connected,
		Connecting:        c.connecting,
		ReconnectAttempts: c.attempts,
		LatencyMS:         c.latency.Milliseconds(),
		Quality:           qualityFor(c.connected, c.latency),
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func qualityFor(connected bool, latency time.Duration) string {
	switch {
	case !connected:
		return "offline"
	case latency < 150*time.Millisecond:
		return "excellent"
	case latency < 500*time.Millisecond:
		return "good"
	default:
		return "poor"
	}
}

// SetVisible tells the engine whether the consuming display is visible.
// Hidden displays stay connected; a display becoming visible triggers an
// opportunistic reconnect if the stream is down.
func (c *Client) SetVisible(visible bool) {
	if !visible {
		return
	}
	c.mu.Lock()
	down := !c.connected && !c.connecting && !c.closed && !c.disabled
	c.mu.Unlock()
	if down {
		c.Connect()
	}
}

// SetToken replaces the credential and lifts a 503-disabled state.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.cfg.Token = token
	c.disabled = false
	c.mu.Unlock()
}

// Close shuts the engine down: transport closed, timers cancelled, handlers
// cleared. The client cannot be reused afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.watchdogStop != nil {
		close(c.watchdogStop)
		c.watchdogStop = nil
	}
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.handlers = make(map[string]map[int]Handler)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}
