package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"minishop/notification-service/middleware"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func InitConsumer(broker string, logger *zap.Logger) (sarama.Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	config.Consumer.Retry.Backoff = 1 * time.Second

	consumer, err := sarama.NewConsumer([]string{broker}, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	logger.Info("Kafka consumer initialized")
	return consumer, nil
}

func StartConsumer(consumer sarama.Consumer, topic string, logger *zap.Logger) error {
	partitionConsumer, err := consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("failed to consume partition: %w", err)
	}
	defer partitionConsumer.Close()

	logger.Info("Kafka consumer started", zap.String("topic", topic))

	for {
		select {
		case message := <-partitionConsumer.Messages():
			if err := handleMessageWithRetry(message, logger, 3); err != nil {
				logger.Error("Failed to handle message after retries", zap.Error(err))
			}
		case err := <-partitionConsumer.Errors():
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}
}

func handleMessageWithRetry(message *sarama.ConsumerMessage, logger *zap.Logger, maxRetries int) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := handleMessage(message, logger)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxRetries {
			backoff := time.Duration(attempt) * time.Second
			logger.Warn("Retrying message handling",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			time.Sleep(backoff)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

func handleMessage(message *sarama.ConsumerMessage, logger *zap.Logger) error {
	// Extract trace context from Kafka message headers
	carrier := consumerHeaderCarrier(message.Headers)
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), carrier)

	ctx, span := otel.Tracer("notification-service").Start(ctx, "ProcessNotification")
	defer span.End()

	var event map[string]interface{}
	if err := json.Unmarshal(message.Value, &event); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	eventType, ok := event["event_type"].(string)
	if !ok {
		return fmt.Errorf("missing event_type in event")
	}

	span.SetAttributes(attribute.String("event.type", eventType))

	switch eventType {
	case "order_created":
		notify(ctx, event, eventType, "Order Received",
			fmt.Sprintf("Your order #%.0f has been placed. We'll let you know once payment goes through.", event["order_id"]), logger)
	case "order_confirmed":
		notify(ctx, event, eventType, "Order Confirmed",
			fmt.Sprintf("Your order #%.0f is confirmed!", event["order_id"]), logger)
	case "order_failed":
		notify(ctx, event, eventType, "Order Failed",
			fmt.Sprintf("Payment for order #%.0f did not go through. Please try again.", event["order_id"]), logger)
	case "payment_success":
		notify(ctx, event, eventType, "Payment Successful",
			fmt.Sprintf("Payment for order #%.0f was successful! Transaction ID: %v", event["order_id"], event["transaction_id"]), logger)
	case "payment_failed":
		notify(ctx, event, eventType, "Payment Failed",
			fmt.Sprintf("Payment for order #%.0f failed. Please try again or contact support.", event["order_id"]), logger)
	case "payment_refunded":
		notify(ctx, event, eventType, "Payment Refunded",
			fmt.Sprintf("Your payment for order #%.0f has been refunded.", event["order_id"]), logger)
	default:
		logger.Debug("Unknown event type", zap.String("event_type", eventType))
	}

	return nil
}

func notify(ctx context.Context, event map[string]interface{}, eventType, subject, body string, logger *zap.Logger) {
	middleware.RecordNotificationSent(eventType)

	orderID, _ := event["order_id"].(float64)
	userID, _ := event["user_id"].(float64)

	logger.Info("Notification sent",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("event_type", eventType),
		zap.Float64("order_id", orderID),
		zap.Float64("user_id", userID),
	)

	// Simulate email sending
	fmt.Printf("[EMAIL] To: user_%.0f@example.com\n", userID)
	fmt.Printf("[EMAIL] Subject: %s\n", subject)
	fmt.Printf("[EMAIL] Body: %s\n\n", body)
}

// consumerHeaderCarrier implements the TextMapCarrier interface over consumed
// Kafka record headers.
type consumerHeaderCarrier []*sarama.RecordHeader

func (c consumerHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c consumerHeaderCarrier) Set(key, value string) {
	// Not needed for extraction
}

func (c consumerHeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
