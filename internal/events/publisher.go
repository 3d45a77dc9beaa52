// Package events publishes screening alerts for downstream case management
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Alert is the payload emitted when a verification requires human review
type Alert struct {
	ID           uuid.UUID `json:"id"`
	EntityName   string    `json:"entity_name"`
	Country      string    `json:"country"`
	Status       string    `json:"status"`
	RiskScore    float64   `json:"risk_score"`
	MatchCount   int       `json:"match_count"`
	Degraded     bool      `json:"degraded"`
	OccurredAt   time.Time `json:"occurred_at"`
	Verification uuid.UUID `json:"verification_id"`
}

// Publisher delivers alerts to an external destination
type Publisher interface {
	Publish(ctx context.Context, alert Alert) error
	Close() error
}

// KafkaPublisher implements Publisher for Apache Kafka
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.SugaredLogger
}

// NewKafkaPublisher creates a publisher writing to the given alert topic
func NewKafkaPublisher(brokers []string, topic string, logger *zap.SugaredLogger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.CRC32Balancer{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		},
		logger: logger,
	}
}

// Publish writes one alert message, keyed by verification id for partitioning
func (k *KafkaPublisher) Publish(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(alert.Verification.String()),
		Value: payload,
		Time:  alert.OccurredAt,
		Headers: []kafka.Header{
			{Key: "alert-status", Value: []byte(alert.Status)},
			{Key: "timestamp", Value: []byte(alert.OccurredAt.Format(time.RFC3339))},
		},
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	k.logger.Infow("alert published",
		"verification_id", alert.Verification,
		"entity", alert.EntityName,
		"status", alert.Status,
	)
	return nil
}

// Close flushes and releases the underlying writer
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// NopPublisher discards alerts. Used when the alert topic is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Alert) error { return nil }
func (NopPublisher) Close() error                         { return nil }
