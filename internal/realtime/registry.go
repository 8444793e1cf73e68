package realtime

import (
	"sync"

	"barpos/pkg/logging"
)

// RegistryConfig bounds the registry. MaxConnections is the global ceiling;
// MaxTenantConnections bounds a single tenant when non-zero.
type RegistryConfig struct {
	MaxConnections       int
	MaxTenantConnections int
}

// DefaultRegistryConfig returns the deployment defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		MaxConnections:       1000,
		MaxTenantConnections: 0,
	}
}

// Registry tracks every live streaming connection. All three indexes mutate
// under one mutex so a reader never observes a connection present in one
// index and missing from another.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]*Connection
	byTenant  map[string]map[string]*Connection
	byChannel map[Channel]map[string]*Connection

	cfg    RegistryConfig
	logger logging.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(cfg RegistryConfig, logger logging.Logger) *Registry {
	return &Registry{
		byID:      make(map[string]*Connection),
		byTenant:  make(map[string]map[string]*Connection),
		byChannel: make(map[Channel]map[string]*Connection),
		cfg:       cfg,
		logger:    logger,
	}
}

// AddClient registers a connection. It returns false, without mutating any
// index, when the global or per-tenant ceiling is reached.
func (r *Registry) AddClient(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.MaxConnections > 0 && len(r.byID) >= r.cfg.MaxConnections {
		r.logger.WithFields(logging.Fields{
			"connection_id": conn.ID,
			"tenant_id":     conn.TenantID,
			"limit":         r.cfg.MaxConnections,
		}).Warn("Connection rejected, global capacity reached")
		return false
	}
	if r.cfg.MaxTenantConnections > 0 && len(r.byTenant[conn.TenantID]) >= r.cfg.MaxTenantConnections {
		r.logger.WithFields(logging.Fields{
			"connection_id": conn.ID,
			"tenant_id":     conn.TenantID,
			"limit":         r.cfg.MaxTenantConnections,
		}).Warn("Connection rejected, tenant capacity reached")
		return false
	}

	r.byID[conn.ID] = conn
	tenant := r.byTenant[conn.TenantID]
	if tenant == nil {
		tenant = make(map[string]*Connection)
		r.byTenant[conn.TenantID] = tenant
	}
	tenant[conn.ID] = conn

	r.logger.WithFields(logging.Fields{
		"connection_id": conn.ID,
		"tenant_id":     conn.TenantID,
		"user_id":       conn.UserID,
		"station":       conn.Station,
		"client_count":  len(r.byID),
	}).Info("Client connected")
	return true
}

// RemoveClient deletes a connection from every index and stops it. Removing
// an unknown id is a no-op.
func (r *Registry) RemoveClient(connectionID string) {
	r.mu.Lock()
	conn, ok := r.byID[connectionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byID, connectionID)
	if tenant, ok := r.byTenant[conn.TenantID]; ok {
		delete(tenant, connectionID)
		if len(tenant) == 0 {
			delete(r.byTenant, conn.TenantID)
		}
	}
	for ch, members := range r.byChannel {
		if _, ok := members[connectionID]; ok {
			delete(members, connectionID)
			if len(members) == 0 {
				delete(r.byChannel, ch)
			}
		}
	}
	remaining := len(r.byID)
	r.mu.Unlock()

	// Stop outside the lock: closing the stream can block on the transport.
	conn.Stop()

	r.logger.WithFields(logging.Fields{
		"connection_id": connectionID,
		"tenant_id":     conn.TenantID,
		"client_count":  remaining,
	}).Info("Client disconnected")
}

// Subscribe adds the connection to the given channels. Unknown connection
// ids and duplicate subscriptions are no-ops.
func (r *Registry) Subscribe(connectionID string, channels ...Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.byID[connectionID]
	if !ok {
		return
	}
	for _, ch := range channels {
		if !KnownChannel(ch) {
			continue
		}
		members := r.byChannel[ch]
		if members == nil {
			members = make(map[string]*Connection)
			r.byChannel[ch] = members
		}
		members[connectionID] = conn
		conn.addChannel(ch)
	}
}

// Unsubscribe removes the connection from the given channels.
func (r *Registry) Unsubscribe(connectionID string, channels ...Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.byID[connectionID]
	if !ok {
		return
	}
	for _, ch := range channels {
		if members, ok := r.byChannel[ch]; ok {
			delete(members, connectionID)
			if len(members) == 0 {
				delete(r.byChannel, ch)
			}
		}
		conn.removeChannel(ch)
	}
}

// TenantClients returns a snapshot of the tenant's live connections.
func (r *Registry) TenantClients(tenantID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenant := r.byTenant[tenantID]
	out := make([]*Connection, 0, len(tenant))
	for _, conn := range tenant {
		out = append(out, conn)
	}
	return out
}

// ChannelClients returns a snapshot of a tenant's connections subscribed to
// the channel.
func (r *Registry) ChannelClients(tenantID string, ch Channel) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0)
	for _, conn := range r.byChannel[ch] {
		if conn.TenantID == tenantID {
			out = append(out, conn)
		}
	}
	return out
}

// UserClients returns a snapshot of a user's connections within a tenant.
func (r *Registry) UserClients(tenantID, userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0)
	for _, conn := range r.byTenant[tenantID] {
		if conn.UserID == userID {
			out = append(out, conn)
		}
	}
	return out
}

// Count returns the live connection count.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Stats returns aggregate registry statistics.
func (r *Registry) Stats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channelStats := make(map[string]int)
	for ch, members := range r.byChannel {
		channelStats[string(ch)] = len(members)
	}
	tenantStats := make(map[string]int)
	for tenantID, members := range r.byTenant {
		tenantStats[tenantID] = len(members)
	}

	return map[string]interface{}{
		"total_clients":         len(r.byID),
		"channel_subscriptions": channelStats,
		"tenant_clients":        tenantStats,
		"max_connections":       r.cfg.MaxConnections,
	}
}
