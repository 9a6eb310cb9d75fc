package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"payment-svc/gateway"
	"payment-svc/middleware"
	"payment-svc/models"
	"payment-svc/refund"
)

type RefundHandler struct {
	db     *sql.DB
	policy refund.Policy
	logger *zap.Logger
}

func NewRefundHandler(db *sql.DB, policy refund.Policy, logger *zap.Logger) *RefundHandler {
	return &RefundHandler{db: db, policy: policy, logger: logger}
}

// QuoteRefund computes what cancelling a paid session right now would return
// to the payer. Pure quote; nothing is persisted.
func (h *RefundHandler) QuoteRefund(c *gin.Context) {
	var req models.RefundQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		scheduledAt time.Time
		amountCents int64
	)
	err := h.db.QueryRowContext(c.Request.Context(),
		`SELECT s.scheduled_at, o.amount_cents
		FROM sessions s
		JOIN orders o ON o.session_id = s.id AND o.status = $2
		WHERE s.id = $1
		ORDER BY o.id
		LIMIT 1`,
		req.SessionID, models.OrderStatusCompleted,
	).Scan(&scheduledAt, &amountCents)

	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No paid session found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to look up session for refund quote",
			zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
			zap.Int("session_id", req.SessionID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	decision := h.policy.Calculate(scheduledAt, amountCents, time.Now())
	middleware.RecordRefundQuote(decision.Eligible)

	c.JSON(http.StatusOK, gin.H{
		"refund": gin.H{
			"originalAmount":     gateway.FormatAmount(decision.OriginalAmountCents),
			"refundAmount":       gateway.FormatAmount(decision.RefundAmountCents),
			"refundPercentage":   decision.RefundPercentage,
			"hoursBeforeSession": fmt.Sprintf("%.1f", decision.HoursBeforeSession),
			"canRefund":          decision.Eligible,
		},
		"refundPolicy": h.policy.Describe(),
	})
}
