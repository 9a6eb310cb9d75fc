package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"payment-svc/cache"
	"payment-svc/circuitbreaker"
	"payment-svc/gateway"
	"payment-svc/kafka"
	"payment-svc/ledger"
	"payment-svc/middleware"
	"payment-svc/models"
)

var (
	ErrMalformedEvent   = errors.New("malformed notification")
	ErrSignatureInvalid = errors.New("notification signature invalid")
	ErrOrderNotFound    = errors.New("no order for notification")
)

// statusFromCode maps PayHere's status_code field to a ledger status. Unknown
// codes map to FAILED so a new or garbled code can never settle a payment.
func statusFromCode(code string) models.OrderStatus {
	switch code {
	case "2":
		return models.OrderStatusCompleted
	case "0":
		return models.OrderStatusPending
	case "-1":
		return models.OrderStatusCancelled
	case "-2":
		return models.OrderStatusFailed
	case "-3":
		return models.OrderStatusRefunded
	default:
		return models.OrderStatusFailed
	}
}

// Coordinator drives an inbound gateway notification end to end: verify,
// look up, apply, notify. Applying is at-most-once; duplicate and
// out-of-order deliveries are acknowledged without touching the ledger.
type Coordinator struct {
	ledger   *ledger.Ledger
	gateway  *gateway.Adapter
	producer sarama.SyncProducer
	topic    string
	breaker  *circuitbreaker.CircuitBreaker
	rdb      *redis.Client
	logger   *zap.Logger
}

func New(led *ledger.Ledger, gw *gateway.Adapter, producer sarama.SyncProducer, topic string, breaker *circuitbreaker.CircuitBreaker, rdb *redis.Client, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		ledger:   led,
		gateway:  gw,
		producer: producer,
		topic:    topic,
		breaker:  breaker,
		rdb:      rdb,
		logger:   logger,
	}
}

// ProcessNotification applies one webhook delivery against the ledger.
//
// Shape and signature failures reject the delivery before any lookup. An
// order the graph will not move (duplicate or out-of-order delivery) is a
// soft no-op: the gateway gets its acknowledgment, the anomaly is logged, and
// the ledger stays untouched. Payer notification on completion is
// fire-and-forget and never affects the outcome.
func (co *Coordinator) ProcessNotification(ctx context.Context, n models.CheckoutNotification) (models.Order, error) {
	ctx, span := otel.Tracer("payment-service").Start(ctx, "ProcessNotification")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.external_id", n.OrderID),
		attribute.String("webhook.status_code", n.StatusCode),
	)

	if n.MerchantID == "" || n.OrderID == "" || n.PayhereAmount == "" ||
		n.PayhereCurrency == "" || n.StatusCode == "" || n.MD5Sig == "" {
		middleware.RecordWebhookProcessed("malformed")
		return models.Order{}, ErrMalformedEvent
	}

	if !co.gateway.VerifyNotification(n) {
		// Security-relevant: either a forgery attempt or a misconfigured
		// merchant secret.
		co.logger.Warn("Webhook signature verification failed",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("external_order_id", n.OrderID),
			zap.String("merchant_id", n.MerchantID),
		)
		middleware.RecordWebhookProcessed("signature_invalid")
		return models.Order{}, ErrSignatureInvalid
	}

	order, err := co.ledger.GetOrderByExternalID(ctx, n.OrderID)
	if errors.Is(err, ledger.ErrNotFound) {
		middleware.RecordWebhookProcessed("order_not_found")
		return models.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, n.OrderID)
	}
	if err != nil {
		return models.Order{}, err
	}

	target := statusFromCode(n.StatusCode)
	span.SetAttributes(attribute.String("order.target_status", string(target)))

	updated, committed, err := co.ledger.ApplyStatus(ctx, order.ID, target, n.PaymentID)
	if errors.Is(err, ledger.ErrInvalidTransition) || errors.Is(err, ledger.ErrInvalidState) {
		// Gateways redeliver and reorder; acknowledging keeps them from
		// retrying forever.
		co.logger.Warn("Webhook transition not applicable, acknowledging as no-op",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("external_order_id", n.OrderID),
			zap.String("current_status", string(order.Status)),
			zap.String("target_status", string(target)),
			zap.Error(err),
		)
		middleware.RecordWebhookProcessed("soft_noop")
		return order, nil
	}
	if err != nil {
		middleware.RecordWebhookProcessed("error")
		return models.Order{}, err
	}

	if co.rdb != nil {
		if err := cache.DeleteOrder(ctx, co.rdb, updated.ExternalOrderID); err != nil {
			co.logger.Warn("Failed to invalidate order cache", zap.Error(err))
		}
	}

	// Only the delivery whose UPDATE actually committed the completion owns
	// the payer notification; a delivery that lost the race to an identical
	// one resolves as a duplicate and stays silent.
	if committed && updated.Status == models.OrderStatusCompleted {
		middleware.RecordPaymentCompleted()
		go co.notifyPayer(updated, n)
	}

	middleware.RecordWebhookProcessed("applied")
	return updated, nil
}

// notifyPayer publishes the completion event for the notification service.
// Best effort: failures are logged and swallowed, never rolled back into the
// webhook response.
func (co *Coordinator) notifyPayer(order models.Order, n models.CheckoutNotification) {
	if co.producer == nil {
		return
	}

	ctx := context.Background()
	event := models.OrderEvent{
		OrderID:         order.ID,
		ExternalOrderID: order.ExternalOrderID,
		AmountCents:     order.AmountCents,
		Currency:        order.Currency,
		Status:          order.Status,
		DonorEmail:      order.DonorEmail,
		EventType:       "payment_completed",
		PaymentID:       n.PaymentID,
	}

	err := co.breaker.Execute(ctx, func() error {
		return kafka.PublishOrderEvent(ctx, co.producer, co.topic, event, co.logger)
	})
	if err != nil {
		co.logger.Error("Failed to publish payer notification",
			zap.String("external_order_id", order.ExternalOrderID),
			zap.Error(err),
		)
	}
}
