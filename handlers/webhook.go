package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"payment-svc/middleware"
	"payment-svc/models"
	"payment-svc/reconcile"
)

type WebhookHandler struct {
	coordinator *reconcile.Coordinator
	logger      *zap.Logger
}

func NewWebhookHandler(co *reconcile.Coordinator, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{coordinator: co, logger: logger}
}

// HandleNotify receives PayHere's form-encoded server-to-server callback.
// Anything the coordinator resolves, including a soft no-op, is acknowledged
// with 200 so the gateway stops retrying.
func (h *WebhookHandler) HandleNotify(c *gin.Context) {
	n := models.CheckoutNotification{
		MerchantID:      c.PostForm("merchant_id"),
		OrderID:         c.PostForm("order_id"),
		PaymentID:       c.PostForm("payment_id"),
		PayhereAmount:   c.PostForm("payhere_amount"),
		PayhereCurrency: c.PostForm("payhere_currency"),
		StatusCode:      c.PostForm("status_code"),
		MD5Sig:          c.PostForm("md5sig"),
		Custom1:         c.PostForm("custom_1"),
		Custom2:         c.PostForm("custom_2"),
		StatusMessage:   c.PostForm("status_message"),
		Method:          c.PostForm("method"),
	}

	order, err := h.coordinator.ProcessNotification(c.Request.Context(), n)
	switch {
	case errors.Is(err, reconcile.ErrMalformedEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required notification fields"})
	case errors.Is(err, reconcile.ErrSignatureInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
	case errors.Is(err, reconcile.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case err != nil:
		h.logger.Error("Webhook processing failed",
			zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
			zap.String("external_order_id", n.OrderID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "status": order.Status})
	}
}
