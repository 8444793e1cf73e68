package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"barpos/internal/policy"
	"barpos/internal/store"
	"barpos/pkg/models"
)

// ListProducts returns the active catalog.
func (h *ExpeditorHandlers) ListProducts(c *gin.Context) {
	_, tenantID, _ := principalFrom(c)
	products, err := h.store.ListProducts(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list products")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list products"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

// CreateProduct adds a catalog entry. Supervisor only.
func (h *ExpeditorHandlers) CreateProduct(c *gin.Context) {
	_, tenantID, role := principalFrom(c)
	if h.deny(c, role, policy.ActionProductWrite) {
		return
	}

	var product models.Product
	if err := c.ShouldBindJSON(&product); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product payload"})
		return
	}
	product.TenantID = tenantID
	if err := h.store.CreateProduct(c.Request.Context(), &product); err != nil {
		h.logger.WithError(err).Error("Failed to create product")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create product"})
		return
	}
	c.JSON(http.StatusCreated, product)
}

// UpdateProduct rewrites a catalog entry. Supervisor only.
func (h *ExpeditorHandlers) UpdateProduct(c *gin.Context) {
	_, tenantID, role := principalFrom(c)
	if h.deny(c, role, policy.ActionProductWrite) {
		return
	}

	var product models.Product
	if err := c.ShouldBindJSON(&product); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product payload"})
		return
	}
	product.ID = c.Param("id")
	product.TenantID = tenantID
	err := h.store.UpdateProduct(c.Request.Context(), &product)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to update product")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update product"})
		return
	}
	c.JSON(http.StatusOK, product)
}
