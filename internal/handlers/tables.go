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

// ListTables returns the tenant floor plan.
func (h *ExpeditorHandlers) ListTables(c *gin.Context) {
	_, tenantID, _ := principalFrom(c)
	tables, err := h.store.ListTables(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list tables")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tables"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tables": tables, "count": len(tables)})
}

type tableRequest struct {
	Status   string `json:"status" binding:"required"`
	WaiterID string `json:"waiter_id"`
	OrderID  string `json:"order_id"`
}

// UpdateTable changes table status or assignment and announces it on the
// waiter channel.
func (h *ExpeditorHandlers) UpdateTable(c *gin.Context) {
	_, tenantID, role := principalFrom(c)
	if h.deny(c, role, policy.ActionTableUpdate) {
		return
	}

	var req tableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	switch req.Status {
	case models.TableStatusFree, models.TableStatusOccupied, models.TableStatusReserved:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown table status"})
		return
	}

	table := models.Table{
		ID:       c.Param("id"),
		TenantID: tenantID,
		Status:   req.Status,
		WaiterID: req.WaiterID,
		OrderID:  req.OrderID,
	}
	err := h.store.UpdateTable(c.Request.Context(), &table)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "table not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to update table")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update table"})
		return
	}

	h.dispatcher.Emit(realtime.EventTableUpdated, realtime.TablePayload{
		TableID:  table.ID,
		Status:   table.Status,
		WaiterID: table.WaiterID,
		OrderID:  table.OrderID,
	}, realtime.EmitOptions{TenantID: tenantID, QueueIfOffline: true})

	c.JSON(http.StatusOK, table)
}
