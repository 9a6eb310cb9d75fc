package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"payment-svc/config"
	"payment-svc/ledger"
)

func InitConsumer(cfg config.Kafka, logger *zap.Logger) (sarama.Consumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumer([]string{cfg.Broker}, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	logger.Info("Kafka consumer initialized", zap.String("broker", cfg.Broker))
	return consumer, nil
}

// StartConsumer consumes session lifecycle events until ctx is cancelled.
// When a therapy session is cancelled before its payment went through, the
// pending order attached to it is voided so the donor is never charged for a
// session that will not happen.
func StartConsumer(ctx context.Context, consumer sarama.Consumer, topic string, led *ledger.Ledger, logger *zap.Logger) error {
	partitionConsumer, err := consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("failed to consume partition: %w", err)
	}
	defer partitionConsumer.Close()

	logger.Info("Kafka consumer started", zap.String("topic", topic))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Kafka consumer stopping", zap.String("topic", topic))
			return nil
		case message := <-partitionConsumer.Messages():
			if err := handleSessionEvent(message, led, logger); err != nil {
				logger.Error("Failed to handle session event", zap.Error(err))
			}
		case err := <-partitionConsumer.Errors():
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}
}

func handleSessionEvent(message *sarama.ConsumerMessage, led *ledger.Ledger, logger *zap.Logger) error {
	// Extract trace context from Kafka message headers
	var propagator propagation.TextMapPropagator = otel.GetTextMapPropagator()
	carrier := saramaHeaderCarrierConsumer(message.Headers)
	ctx := propagator.Extract(context.Background(), carrier)

	var tracer trace.Tracer = otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "HandleSessionEvent")
	defer span.End()

	var event map[string]interface{}
	if err := json.Unmarshal(message.Value, &event); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	eventType, ok := event["event_type"].(string)
	if !ok || eventType != "session_cancelled" {
		return nil
	}

	span.SetAttributes(attribute.String("event.type", eventType))

	sessionID, ok := event["session_id"].(float64)
	if !ok {
		return fmt.Errorf("invalid session_id in event")
	}
	span.SetAttributes(attribute.Int("session.id", int(sessionID)))

	order, err := led.GetPendingOrderBySession(ctx, int(sessionID))
	if errors.Is(err, ledger.ErrNotFound) {
		logger.Debug("No pending order for cancelled session", zap.Int("session_id", int(sessionID)))
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	if _, err := led.VoidOrder(ctx, order.ID, "session cancelled"); err != nil {
		if errors.Is(err, ledger.ErrInvalidState) {
			// Payment raced ahead of the cancellation; leave it for a refund.
			logger.Warn("Order no longer voidable",
				zap.Int("order_id", order.ID),
				zap.Int("session_id", int(sessionID)),
				zap.Error(err),
			)
			return nil
		}
		span.RecordError(err)
		return err
	}

	logger.Info("Voided order for cancelled session",
		zap.Int("order_id", order.ID),
		zap.Int("session_id", int(sessionID)),
	)
	return nil
}

// saramaHeaderCarrierConsumer implements the TextMapCarrier interface for Kafka headers (for consumer)
type saramaHeaderCarrierConsumer []*sarama.RecordHeader

func (c saramaHeaderCarrierConsumer) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c saramaHeaderCarrierConsumer) Set(key, value string) {
	// Not needed for extraction
}

func (c saramaHeaderCarrierConsumer) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
