package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"barpos/internal/realtime"
	"barpos/pkg/auth"
	"barpos/pkg/logging"
)

var errStreamClosed = errors.New("stream closed")

// sseStream adapts an HTTP response to the StreamWriter contract. Frames are
// written in text/event-stream format and flushed immediately.
type sseStream struct {
	w       gin.ResponseWriter
	mu      sync.Mutex
	closed  bool
	closedC chan struct{}
}

func newSSEStream(w gin.ResponseWriter) *sseStream {
	return &sseStream{w: w, closedC: make(chan struct{})}
}

func (s *sseStream) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

// Close releases the handler goroutine; the HTTP layer owns the socket.
func (s *sseStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closedC)
	}
	return nil
}

// wsStream adapts a WebSocket connection to the StreamWriter contract.
type wsStream struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsStream) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// authenticateStream resolves the stream credential to a principal. Unlike
// API routes, streams are authenticated inline: EventSource cannot carry an
// Authorization header, so the cookie and query fallbacks matter here.
func (h *ExpeditorHandlers) authenticateStream(c *gin.Context) (*auth.Principal, bool) {
	credential := auth.ExtractCredential(c, h.cfg.CookieName)
	if credential == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return nil, false
	}
	principal, err := h.verifier.Verify(credential)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session credential"})
		return nil, false
	}
	return principal, true
}

// stationFor picks the station for a new connection: an explicit station
// query parameter wins if it names a known station, otherwise the
// principal's role decides.
func stationFor(c *gin.Context, role string) realtime.Station {
	if q := c.Query("station"); q != "" {
		if station, ok := realtime.ParseStation(q); ok {
			return station
		}
	}
	station, _ := realtime.ParseStation(role)
	return station
}

// HandleSSE serves the primary event stream.
func (h *ExpeditorHandlers) HandleSSE(c *gin.Context) {
	principal, ok := h.authenticateStream(c)
	if !ok {
		if h.metrics != nil {
			h.metrics.ConnectionRejected("sse", "unauthorized")
		}
		return
	}

	station := stationFor(c, principal.Role)
	stream := newSSEStream(c.Writer)
	conn := realtime.NewConnection(principal.UserID, principal.TenantID, station, stream, h.logger)
	if clientID := c.Query("clientId"); clientID != "" {
		conn.Metadata["client_id"] = clientID
	}

	if !h.registry.AddClient(conn) {
		if h.metrics != nil {
			h.metrics.ConnectionRejected("sse", "capacity")
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection capacity reached"})
		return
	}
	if h.metrics != nil {
		h.metrics.ConnectionOpened("sse", string(station))
	}

	// Removal is the single cleanup path: it stops the heartbeat and closes
	// the stream. A second removal (dispatcher eviction racing the request
	// context) is a no-op.
	defer func() {
		h.registry.RemoveClient(conn.ID)
		if h.metrics != nil {
			h.metrics.ConnectionClosed("sse", string(station))
		}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	h.registry.Subscribe(conn.ID, realtime.ChannelsForStation(station)...)

	status := realtime.ConnectionStatusFrame{
		Type:    realtime.EventConnectionStatus,
		Status:  "connected",
		Quality: "excellent",
	}
	if err := conn.WriteJSON(status); err != nil {
		h.logger.WithError(err).WithField("connection_id", conn.ID).Warn("Failed to write initial status frame")
		return
	}

	conn.StartHeartbeat(h.cfg.HeartbeatInterval)

	flushTimer := time.AfterFunc(h.cfg.FlushDelay, func() {
		h.dispatcher.FlushTenant(principal.TenantID)
	})
	defer flushTimer.Stop()

	select {
	case <-c.Request.Context().Done():
	case <-stream.closedC:
	}
}

// streamCommand is the client-to-server control message on the WebSocket
// transport.
type streamCommand struct {
	Action   string   `json:"action"` // subscribe or unsubscribe
	Channels []string `json:"channels"`
}

// HandleWebSocket serves the WebSocket variant of the event stream. Same
// registry, same dispatch path; the socket additionally accepts
// subscribe/unsubscribe commands.
func (h *ExpeditorHandlers) HandleWebSocket(c *gin.Context) {
	principal, ok := h.authenticateStream(c)
	if !ok {
		if h.metrics != nil {
			h.metrics.ConnectionRejected("ws", "unauthorized")
		}
		return
	}

	station := stationFor(c, principal.Role)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	stream := &wsStream{conn: ws}
	conn := realtime.NewConnection(principal.UserID, principal.TenantID, station, stream, h.logger)

	if !h.registry.AddClient(conn) {
		if h.metrics != nil {
			h.metrics.ConnectionRejected("ws", "capacity")
		}
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection capacity reached"),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}
	if h.metrics != nil {
		h.metrics.ConnectionOpened("ws", string(station))
	}

	h.registry.Subscribe(conn.ID, realtime.ChannelsForStation(station)...)

	status := realtime.ConnectionStatusFrame{
		Type:    realtime.EventConnectionStatus,
		Status:  "connected",
		Quality: "excellent",
	}
	if err := conn.WriteJSON(status); err != nil {
		h.registry.RemoveClient(conn.ID)
		return
	}

	conn.StartHeartbeat(h.cfg.HeartbeatInterval)

	time.AfterFunc(h.cfg.FlushDelay, func() {
		h.dispatcher.FlushTenant(principal.TenantID)
	})

	// Read loop: handles control messages and detects the peer going away.
	go func() {
		defer func() {
			h.registry.RemoveClient(conn.ID)
			if h.metrics != nil {
				h.metrics.ConnectionClosed("ws", string(station))
			}
		}()
		for {
			_, payload, err := ws.ReadMessage()
			if err != nil {
				return
			}
			conn.Touch()
			var cmd streamCommand
			if err := json.Unmarshal(payload, &cmd); err != nil {
				continue
			}
			channels := make([]realtime.Channel, 0, len(cmd.Channels))
			for _, ch := range cmd.Channels {
				channels = append(channels, realtime.Channel(ch))
			}
			switch cmd.Action {
			case "subscribe":
				h.registry.Subscribe(conn.ID, channels...)
			case "unsubscribe":
				h.registry.Unsubscribe(conn.ID, channels...)
			default:
				h.logger.WithFields(logging.Fields{
					"connection_id": conn.ID,
					"action":        cmd.Action,
				}).Debug("Ignoring unknown stream command")
			}
		}
	}()
}
