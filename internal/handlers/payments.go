package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"barpos/internal/policy"
	"barpos/internal/realtime"
	"barpos/internal/store"
	"barpos/pkg/models"
)

type paymentRequest struct {
	Amount string `json:"amount" binding:"required"`
	Method string `json:"method" binding:"required"`
	// CustomerID identifies who carries the remainder when the payment does
	// not cover the order.
	CustomerID string `json:"customer_id"`
}

// PayOrder records a payment against an order. A remainder below the order
// total becomes a debt for the named customer, created in the same
// transaction as the payment. The debt event is in the critical re-emit
// class.
func (h *ExpeditorHandlers) PayOrder(c *gin.Context) {
	userID, tenantID, role := principalFrom(c)
	if h.deny(c, role, policy.ActionPaymentCreate) {
		return
	}

	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount and method are required"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
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

	outstanding := order.Outstanding()
	if amount.GreaterThan(outstanding) {
		c.JSON(http.StatusConflict, gin.H{"error": "amount exceeds outstanding balance"})
		return
	}

	payment := models.Payment{
		TenantID:  tenantID,
		OrderID:   order.ID,
		CashierID: userID,
		Amount:    amount,
		Method:    req.Method,
	}
	remainder := outstanding.Sub(amount)
	var debt *models.Debt
	if remainder.GreaterThan(decimal.Zero) && req.CustomerID != "" {
		debt = &models.Debt{
			TenantID:   tenantID,
			OrderID:    order.ID,
			CustomerID: req.CustomerID,
			Amount:     remainder,
		}
	}

	err = h.store.InTx(c.Request.Context(), func(tx store.Store) error {
		if err := tx.CreatePayment(c.Request.Context(), &payment); err != nil {
			return err
		}
		if err := tx.AddOrderPayment(c.Request.Context(), tenantID, order.ID, amount.String()); err != nil {
			return err
		}
		if debt != nil {
			return tx.CreateDebt(c.Request.Context(), debt)
		}
		return nil
	})
	if err != nil {
		h.logger.WithError(err).Error("Payment transaction failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record payment"})
		return
	}

	if debt != nil {
		h.dispatcher.EmitCritical(realtime.EventDebtCreated, realtime.DebtPayload{
			DebtID:     debt.ID,
			OrderID:    order.ID,
			CustomerID: debt.CustomerID,
			Amount:     debt.Amount.String(),
		}, realtime.EmitOptions{TenantID: tenantID, QueueIfOffline: true})
	}

	c.JSON(http.StatusCreated, gin.H{"payment": payment, "debt": debt})
}
