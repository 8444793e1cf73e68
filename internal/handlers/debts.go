package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"barpos/internal/policy"
	"barpos/internal/realtime"
	"barpos/internal/store"
)

// ListDebts returns tenant debts, filtered by ?customer= when present.
func (h *ExpeditorHandlers) ListDebts(c *gin.Context) {
	_, tenantID, _ := principalFrom(c)
	debts, err := h.store.ListDebts(c.Request.Context(), tenantID, c.Query("customer"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list debts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list debts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"debts": debts, "count": len(debts)})
}

// SettleDebt marks a debt as paid and announces it.
func (h *ExpeditorHandlers) SettleDebt(c *gin.Context) {
	_, tenantID, role := principalFrom(c)
	if h.deny(c, role, policy.ActionDebtSettle) {
		return
	}

	debt, err := h.store.SettleDebt(c.Request.Context(), tenantID, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "debt not found or already settled"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to settle debt")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to settle debt"})
		return
	}

	h.dispatcher.Emit(realtime.EventDebtPaid, realtime.DebtPayload{
		DebtID:     debt.ID,
		OrderID:    debt.OrderID,
		CustomerID: debt.CustomerID,
		Amount:     debt.Amount.String(),
	}, realtime.EmitOptions{TenantID: tenantID, QueueIfOffline: true})

	c.JSON(http.StatusOK, debt)
}
