package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"barpos/internal/metrics"
	"barpos/internal/policy"
	"barpos/internal/realtime"
	"barpos/internal/store"
	"barpos/pkg/auth"
	"barpos/pkg/ctxkeys"
	"barpos/pkg/kafka"
	"barpos/pkg/logging"
	"barpos/pkg/middleware"
	"barpos/pkg/models"
	"barpos/pkg/version"
)

// Config carries the tunables the handlers need.
type Config struct {
	CookieName        string
	HeartbeatInterval time.Duration
	// FlushDelay is how long after registration the tenant's offline queue
	// is flushed, giving the client time to finish its subscription setup.
	FlushDelay time.Duration
	// ServiceToken guards the internal event-ingest endpoint. Empty
	// disables the endpoint.
	ServiceToken string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CookieName:        auth.DefaultSessionCookie,
		HeartbeatInterval: 2 * time.Second,
		FlushDelay:        500 * time.Millisecond,
	}
}

// EventSink accepts externally-produced events for realtime dispatch.
type EventSink interface {
	HandleEvent(event kafka.Event)
}

// ExpeditorHandlers contains the HTTP handlers for the service
type ExpeditorHandlers struct {
	registry   *realtime.Registry
	dispatcher *realtime.Dispatcher
	store      store.Store
	policy     policy.Checker
	verifier   auth.Verifier
	events     EventSink
	metrics    *metrics.Metrics
	logger     logging.Logger
	cfg        Config
	startTime  time.Time
}

// NewExpeditorHandlers creates a new handlers instance. metrics and events
// may be nil.
func NewExpeditorHandlers(
	registry *realtime.Registry,
	dispatcher *realtime.Dispatcher,
	st store.Store,
	checker policy.Checker,
	verifier auth.Verifier,
	events EventSink,
	serviceMetrics *metrics.Metrics,
	logger logging.Logger,
	cfg Config,
) *ExpeditorHandlers {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 2 * time.Second
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = 500 * time.Millisecond
	}
	return &ExpeditorHandlers{
		registry:   registry,
		dispatcher: dispatcher,
		store:      st,
		policy:     checker,
		verifier:   verifier,
		events:     events,
		metrics:    serviceMetrics,
		logger:     logger,
		cfg:        cfg,
		startTime:  time.Now(),
	}
}

// RegisterRoutes wires every endpoint onto the router.
func (h *ExpeditorHandlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/events", h.HandleSSE)
	router.GET("/ws", h.HandleWebSocket)

	api := router.Group("/api")
	api.Use(auth.SessionAuthMiddleware(h.verifier, h.cfg.CookieName))
	{
		api.GET("/orders", h.ListOrders)
		api.POST("/orders", h.CreateOrder)
		api.GET("/orders/:id", h.GetOrder)
		api.PUT("/orders/:id/status", h.UpdateOrderStatus)
		api.POST("/orders/:id/cancellation", h.RequestCancellation)
		api.PUT("/orders/:id/cancellation", h.ResolveCancellation)

		api.POST("/orders/:id/payments", h.PayOrder)

		api.GET("/debts", h.ListDebts)
		api.POST("/debts/:id/settle", h.SettleDebt)

		api.GET("/tables", h.ListTables)
		api.PUT("/tables/:id", h.UpdateTable)

		api.GET("/products", h.ListProducts)
		api.POST("/products", h.CreateProduct)
		api.PUT("/products/:id", h.UpdateProduct)

		api.GET("/stats", auth.RequireRole("supervisor"), h.HandleStats)
	}

	// Sibling services without a Kafka path publish events over HTTP.
	if h.cfg.ServiceToken != "" && h.events != nil {
		internal := router.Group("/internal")
		internal.Use(auth.ServiceAuthMiddleware(h.cfg.ServiceToken))
		internal.POST("/events", h.HandleInternalEvent)
	}

	router.NoRoute(h.HandleNotFound)
}

// HandleInternalEvent accepts one event envelope from a trusted service and
// feeds it to the dispatcher.
func (h *ExpeditorHandlers) HandleInternalEvent(c *gin.Context) {
	var event kafka.Event
	if err := c.ShouldBindJSON(&event); err != nil || event.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event envelope"})
		return
	}
	middleware.GetContextLogger(c, h.logger).WithField("event_type", event.Type).Debug("Accepted internal event")
	h.events.HandleEvent(event)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// HandleStats reports registry occupancy. Supervisor only.
func (h *ExpeditorHandlers) HandleStats(c *gin.Context) {
	stats := h.registry.Stats()
	stats["uptime"] = time.Since(h.startTime).String()
	stats["build"] = version.GetInfo()
	c.JSON(http.StatusOK, stats)
}

// HandleNotFound provides a custom 404 handler
func (h *ExpeditorHandlers) HandleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, models.ErrorResponse{
		Error:   "not_found",
		Service: "expeditor",
		Message: "Endpoint not found",
	})
}

// principal pulls the authenticated identity out of the Gin context.
func principalFrom(c *gin.Context) (userID, tenantID, role string) {
	return c.GetString(string(ctxkeys.KeyUserID)),
		c.GetString(string(ctxkeys.KeyTenantID)),
		c.GetString(string(ctxkeys.KeyRole))
}

// deny writes the standard 403 for a failed policy check.
func (h *ExpeditorHandlers) deny(c *gin.Context, role string, action policy.Action) bool {
	if h.policy.Allow(role, action) {
		return false
	}
	c.JSON(http.StatusForbidden, models.ErrorResponse{
		Error:   "forbidden",
		Service: "expeditor",
		Message: "role " + role + " may not perform " + string(action),
	})
	return true
}
