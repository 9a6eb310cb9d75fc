package handlers

import (
	"errors"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"payment-svc/cache"
	"payment-svc/gateway"
	"payment-svc/ledger"
	"payment-svc/middleware"
	"payment-svc/models"
)

type DonationHandler struct {
	ledger   *ledger.Ledger
	gateway  *gateway.Adapter
	currency string
	rdb      *redis.Client
	logger   *zap.Logger
}

func NewDonationHandler(led *ledger.Ledger, gw *gateway.Adapter, currency string, rdb *redis.Client, logger *zap.Logger) *DonationHandler {
	return &DonationHandler{
		ledger:   led,
		gateway:  gw,
		currency: currency,
		rdb:      rdb,
		logger:   logger,
	}
}

// CreateDonation opens a new PENDING order and hands back the signed checkout
// fields the browser posts to the gateway.
func (h *DonationHandler) CreateDonation(c *gin.Context) {
	ctx, span := otel.Tracer("payment-service").Start(c.Request.Context(), "CreateDonation")
	defer span.End()

	var req models.CreateDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amountCents := int64(math.Round(req.Amount * 100))
	if amountCents <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Amount must be positive"})
		return
	}

	span.SetAttributes(attribute.Int64("amount_cents", amountCents))

	order, err := h.ledger.CreateOrder(ctx, ledger.CreateOrderParams{
		AmountCents: amountCents,
		Currency:    h.currency,
		DonorName:   req.DonorName,
		DonorEmail:  req.DonorEmail,
		IsAnonymous: req.IsAnonymous,
		Message:     req.Message,
		SessionID:   req.SessionID,
	})
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create donation order",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	itemDesc := "Donation"
	if order.SessionID > 0 {
		itemDesc = "Therapy session payment"
	}
	paymentData := h.gateway.BuildCheckoutParams(order, itemDesc)

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"donation": gin.H{
			"id":       order.ID,
			"orderId":  order.ExternalOrderID,
			"amount":   gateway.FormatAmount(order.AmountCents),
			"currency": order.Currency,
		},
		"paymentData": paymentData,
	})
}

// GetDonation returns the order's current state, read through the Redis cache
// while the donor's status page polls during checkout.
func (h *DonationHandler) GetDonation(c *gin.Context) {
	ctx, span := otel.Tracer("payment-service").Start(c.Request.Context(), "GetDonation")
	defer span.End()

	externalID := c.Param("orderId")

	if h.rdb != nil {
		if order, ok := cache.GetOrder(ctx, h.rdb, externalID); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			c.JSON(http.StatusOK, orderStatusBody(order))
			return
		}
	}

	order, err := h.ledger.GetOrderByExternalID(ctx, externalID)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to get order",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if h.rdb != nil {
		if err := cache.SetOrder(ctx, h.rdb, order); err != nil {
			h.logger.Warn("Failed to cache order", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, orderStatusBody(order))
}

func orderStatusBody(order models.Order) gin.H {
	return gin.H{
		"success": true,
		"donation": gin.H{
			"id":        order.ID,
			"orderId":   order.ExternalOrderID,
			"amount":    gateway.FormatAmount(order.AmountCents),
			"currency":  order.Currency,
			"status":    order.Status,
			"paymentId": order.ExternalPaymentID,
		},
	}
}
