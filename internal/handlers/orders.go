package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"barpos/internal/policy"
	"barpos/internal/realtime"
	"barpos/internal/store"
	"barpos/pkg/models"
)

// statusEvents maps a new order status to the event announcing it.
var statusEvents = map[string]realtime.EventName{
	models.OrderStatusPreparing: realtime.EventOrderStatusChange,
	models.OrderStatusReady:     realtime.EventOrderReady,
	models.OrderStatusDelivered: realtime.EventOrderDelivered,
	models.OrderStatusCancelled: realtime.EventOrderCancelled,
}

// CreateOrder places a new order and announces it on the orders channel.
func (h *ExpeditorHandlers) CreateOrder(c *gin.Context) {
	userID, tenantID, role := principalFrom(c)
	if h.deny(c, role, policy.ActionOrderCreate) {
		return
	}

	var order models.Order
	if err := c.ShouldBindJSON(&order); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order payload"})
		return
	}
	order.TenantID = tenantID
	if order.WaiterID == "" {
		order.WaiterID = userID
	}
	order.Status = models.OrderStatusPlaced

	if err := h.store.CreateOrder(c.Request.Context(), &order); err != nil {
		h.logger.WithError(err).Error("Failed to create order")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
		return
	}

	h.dispatcher.Emit(realtime.EventOrderNew, realtime.OrderPayload{
		OrderID:  order.ID,
		TableID:  order.TableID,
		Status:   order.Status,
		WaiterID: order.WaiterID,
	}, realtime.EmitOptions{TenantID: tenantID, QueueIfOffline: true})

	c.JSON(http.StatusCreated, order)
}

// GetOrder returns one order with its items.
func (h *ExpeditorHandlers) GetOrder(c *gin.Context) {
	_, tenantID, _ := principalFrom(c)
	order, err := h.store.GetOrder(c.Request.Context(), tenantID, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to fetch order")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch order"})
		return
	}
	c.JSON(http.StatusOK, order)
}

// ListOrders returns tenant orders, filtered by ?status=a,b when present.
func (h *ExpeditorHandlers) ListOrders(c *gin.Context) {
	_, tenantID, _ := principalFrom(c)
	var statuses []string
	if raw, ok := c.GetQueryArray("status"); ok {
		statuses = raw
	}
	orders, err := h.store.ListOrders(c.Request.Context(), tenantID, statuses)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list orders")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateOrderStatus moves an order along the lifecycle and emits the
// matching event.
func (h *ExpeditorHandlers) UpdateOrderStatus(c *gin.Context) {
	_, tenantID, role := principalFrom(c)
	if h.deny(c, role, policy.ActionOrderSetStatus) {
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}

	order, err := h.store.GetOrder(c.Request.Context(), tenantID, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to fetch order")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch order"})
		return
	}

	if err := policy.CheckTransition(order.Status, req.Status); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.UpdateOrderStatus(c.Request.Context(), tenantID, order.ID, req.Status); err != nil {
		h.logger.WithError(err).Error("Failed to update order status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update order"})
		return
	}

	event, ok := statusEvents[req.Status]
	if !ok {
		event = realtime.EventOrderUpdate
	}
	h.dispatcher.Emit(event, realtime.OrderPayload{
		OrderID:  order.ID,
		TableID:  order.TableID,
		Status:   req.Status,
		WaiterID: order.WaiterID,
	}, realtime.EmitOptions{TenantID: tenantID, QueueIfOffline: true})

	c.JSON(http.StatusOK, gin.H{"id": order.ID, "status": req.Status})
}

// RequestCancellation asks for an order to be cancelled. The order moves to
// cancellation_requested and the kitchen/bar decide via ResolveCancellation.
func (h *ExpeditorHandlers) RequestCancellation(c *gin.Context) {
	userID, tenantID, role := principalFrom(c)
	if h.deny(c, role, policy.ActionOrderCancel) {
		return
	}

	order, err := h.store.GetOrder(c.Request.Context(), tenantID, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch order"})
		return
	}

	if err := policy.CheckTransition(order.Status, models.OrderStatusCancellationRequested); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.UpdateOrderStatus(c.Request.Context(), tenantID, order.ID, models.OrderStatusCancellationRequested); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update order"})
		return
	}

	h.dispatcher.Emit(realtime.EventOrderCancellationRequest, realtime.OrderPayload{
		OrderID:  order.ID,
		TableID:  order.TableID,
		Status:   models.OrderStatusCancellationRequested,
		WaiterID: userID,
	}, realtime.EmitOptions{TenantID: tenantID, QueueIfOffline: true})

	c.JSON(http.StatusOK, gin.H{"id": order.ID, "status": models.OrderStatusCancellationRequested})
}

type cancellationDecision struct {
	Approve bool `json:"approve"`
	// RestoreStatus is the status an order returns to on rejection.
	RestoreStatus string `json:"restore_status"`
	Reason        string `json:"reason"`
}

// ResolveCancellation approves or rejects a pending cancellation request.
func (h *ExpeditorHandlers) ResolveCancellation(c *gin.Context) {
	_, tenantID, role := principalFrom(c)
	if h.deny(c, role, policy.ActionCancellationReply) {
		return
	}

	var decision cancellationDecision
	if err := c.ShouldBindJSON(&decision); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid decision payload"})
		return
	}

	order, err := h.store.GetOrder(c.Request.Context(), tenantID, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch order"})
		return
	}
	if order.Status != models.OrderStatusCancellationRequested {
		c.JSON(http.StatusConflict, gin.H{"error": "no pending cancellation request"})
		return
	}

	target := decision.RestoreStatus
	event := realtime.EventOrderCancellationRejected
	if decision.Approve {
		target = models.OrderStatusCancelled
		event = realtime.EventOrderCancelled
	}
	if err := policy.CheckTransition(order.Status, target); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.UpdateOrderStatus(c.Request.Context(), tenantID, order.ID, target); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update order"})
		return
	}

	h.dispatcher.Emit(event, realtime.OrderPayload{
		OrderID:  order.ID,
		TableID:  order.TableID,
		Status:   target,
		WaiterID: order.WaiterID,
		Reason:   decision.Reason,
	}, realtime.EmitOptions{TenantID: tenantID, QueueIfOffline: true})

	c.JSON(http.StatusOK, gin.H{"id": order.ID, "status": target})
}
