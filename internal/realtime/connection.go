package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"barpos/pkg/logging"

	"github.com/google/uuid"
)

// StreamWriter is the writable half of a live connection. Implementations
// wrap an SSE response or a WebSocket; WriteMessage must be safe for use by
// the single dispatch path plus the connection's own heartbeat task.
type StreamWriter interface {
	WriteMessage(data []byte) error
	Close() error
}

// Connection is one live streaming session. The stream handle is owned by
// the handler that created it until the registry removes the connection.
type Connection struct {
	ID       string
	UserID   string
	TenantID string
	Station  Station
	Metadata map[string]string

	stream StreamWriter

	mu           sync.Mutex
	channels     map[Channel]struct{}
	lastActivity time.Time
	connectedAt  time.Time

	heartbeatOnce sync.Once
	stopOnce      sync.Once
	stopHeartbeat chan struct{}

	logger logging.Logger
}

// NewConnection builds a connection with a fresh id and no subscriptions.
func NewConnection(userID, tenantID string, station Station, stream StreamWriter, logger logging.Logger) *Connection {
	now := time.Now()
	return &Connection{
		ID:            uuid.New().String(),
		UserID:        userID,
		TenantID:      tenantID,
		Station:       station,
		Metadata:      make(map[string]string),
		stream:        stream,
		channels:      make(map[Channel]struct{}),
		lastActivity:  now,
		connectedAt:   now,
		stopHeartbeat: make(chan struct{}),
		logger:        logger,
	}
}

// Write serializes nothing; it pushes already-encoded bytes to the stream
// and refreshes the activity clock on success.
func (c *Connection) Write(data []byte) error {
	if err := c.stream.WriteMessage(data); err != nil {
		return err
	}
	c.Touch()
	return nil
}

// WriteJSON encodes v and writes it to the stream.
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Write(data)
}

// Touch updates the last-activity timestamp.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the last-activity timestamp.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the registration timestamp.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// Channels returns a snapshot of the subscribed channel set.
func (c *Connection) Channels() []Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Channel, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

func (c *Connection) addChannel(ch Channel) {
	c.mu.Lock()
	c.channels[ch] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) removeChannel(ch Channel) {
	c.mu.Lock()
	delete(c.channels, ch)
	c.mu.Unlock()
}

func (c *Connection) subscribedTo(ch Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[ch]
	return ok
}

// StartHeartbeat emits heartbeat frames on the given interval until the
// connection is stopped or a write fails. A failed write only stops the
// loop; removal is left to the transport's close signal so cleanup runs
// exactly once.
func (c *Connection) StartHeartbeat(interval time.Duration) {
	c.heartbeatOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-c.stopHeartbeat:
					return
				case <-ticker.C:
					frame, err := json.Marshal(NewHeartbeatFrame(time.Now()))
					if err != nil {
						return
					}
					if err := c.Write(frame); err != nil {
						c.logger.WithFields(logging.Fields{
							"connection_id": c.ID,
							"tenant_id":     c.TenantID,
						}).Debug("Heartbeat write failed, stopping heartbeat loop")
						return
					}
				}
			}
		}()
	})
}

// Stop cancels the heartbeat task and closes the stream. Safe to call more
// than once; only the first call has effect.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopHeartbeat)
		_ = c.stream.Close()
	})
}
