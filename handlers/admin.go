package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"payment-svc/ledger"
	"payment-svc/middleware"
	"payment-svc/models"
)

// AdminHandler covers the manual overrides: completing a payment confirmed
// out of band and voiding an order that never went through. Both sit behind
// the admin JWT middleware.
type AdminHandler struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

func NewAdminHandler(led *ledger.Ledger, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{ledger: led, logger: logger}
}

func (h *AdminHandler) CompleteOrder(c *gin.Context) {
	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req models.CompleteOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.ledger.MarkCompletedManually(c.Request.Context(), orderID, req.PaymentID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case errors.Is(err, ledger.ErrInvalidState), errors.Is(err, ledger.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Error("Failed to complete order manually",
			zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
			zap.Int("order_id", orderID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	default:
		h.logger.Info("Order completed by admin",
			zap.Int("order_id", orderID),
			zap.String("method", req.Method),
			zap.String("status_message", req.StatusMessage),
		)
		c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
	}
}

func (h *AdminHandler) VoidOrder(c *gin.Context) {
	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req models.VoidOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.ledger.VoidOrder(c.Request.Context(), orderID, req.Reason)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case errors.Is(err, ledger.ErrInvalidState), errors.Is(err, ledger.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Error("Failed to void order",
			zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
			zap.Int("order_id", orderID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	default:
		h.logger.Info("Order voided by admin",
			zap.Int("order_id", orderID),
			zap.String("reason", req.Reason),
		)
		c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
	}
}
