package realtime

import (
	"sync"
	"time"
)

// queuedEvent is one buffered emission awaiting a live recipient. The
// original targeting is kept so a flush resolves the same audience the
// emit would have.
type queuedEvent struct {
	name      EventName
	data      []byte
	userID    string
	broadcast bool
	queuedAt  time.Time
}

// OfflineQueue buffers events whose recipients had no live connection at
// emission time. Per-tenant FIFO, bounded, in memory only: a process restart
// loses queued events.
type OfflineQueue struct {
	mu       sync.Mutex
	byTenant map[string][]queuedEvent
	maxSize  int
}

// NewOfflineQueue creates a queue holding at most maxSize events per tenant.
func NewOfflineQueue(maxSize int) *OfflineQueue {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &OfflineQueue{
		byTenant: make(map[string][]queuedEvent),
		maxSize:  maxSize,
	}
}

// Push appends an event for a tenant, evicting the oldest entry when full.
func (q *OfflineQueue) Push(tenantID string, name EventName, data []byte, userID string, broadcast bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.byTenant[tenantID]
	if len(queue) >= q.maxSize {
		queue = queue[1:]
	}
	queue = append(queue, queuedEvent{
		name:      name,
		data:      data,
		userID:    userID,
		broadcast: broadcast,
		queuedAt:  time.Now(),
	})
	q.byTenant[tenantID] = queue
}

// Drain removes and returns all queued events for a tenant in FIFO order.
func (q *OfflineQueue) Drain(tenantID string) []queuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.byTenant[tenantID]
	delete(q.byTenant, tenantID)
	return queue
}

// Len returns the queued event count for a tenant.
func (q *OfflineQueue) Len(tenantID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byTenant[tenantID])
}
