// Package events publishes payment lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types.
const (
	TypePaymentInitiated = "payment.initiated"
	TypePaymentVerified  = "payment.verified"
)

const (
	publishAttempts = 3
	writeTimeout    = 5 * time.Second
)

// PaymentEvent is the message value published for every lifecycle change.
type PaymentEvent struct {
	Type             string    `json:"type"`
	PaymentID        string    `json:"payment_id"`
	GatewayOrderID   string    `json:"gateway_order_id"`
	GatewayPaymentID string    `json:"gateway_payment_id,omitempty"`
	UserID           string    `json:"user_id"`
	CourseID         string    `json:"course_id"`
	AmountMinor      int64     `json:"amount_minor"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	Method           string    `json:"method,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes events to one topic, keyed by gateway order id so events of an
// order stay in one partition.
type Producer struct {
	writer  messageWriter
	topic   string
	backoff time.Duration
	logger  *zap.Logger
}

// NewProducer creates a synchronous Kafka producer. It returns nil when brokers is empty;
// a nil *Producer drops every event.
func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	if len(brokers) == 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	logger.Info("kafka producer ready", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return &Producer{writer: w, topic: topic, backoff: time.Second, logger: logger}
}

// Publish writes one event, retrying with exponential backoff (1s, 2s).
func (p *Producer) Publish(ctx context.Context, ev PaymentEvent) error {
	if p == nil {
		return nil
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.GatewayOrderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}

	var lastErr error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := p.writer.WriteMessages(wctx, msg)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		p.logger.Warn("kafka publish attempt failed",
			zap.Int("attempt", attempt+1), zap.String("type", ev.Type), zap.Error(err))
		if attempt < publishAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff << attempt):
			}
		}
	}
	return fmt.Errorf("publish %s after %d attempts: %w", ev.Type, publishAttempts, lastErr)
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
