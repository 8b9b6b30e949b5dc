package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"troffee-auction-engine/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of kafka.Writer the producers use
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter returns a writer for topic. Messages are keyed by auction ID so
// every event of an auction lands on the same partition, in order.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// NewAsyncWriter returns a writer whose WriteMessages does not wait for broker
// acks. Delivery failures are logged from the completion callback.
func NewAsyncWriter(brokers []string, topic string, logger zerolog.Logger) *kafka.Writer {
	w := NewWriter(brokers, topic)
	w.Async = true
	w.Completion = completionLogger(logger.With().Str("component", "kafka_writer").Str("topic", topic).Logger())
	return w
}

func completionLogger(logger zerolog.Logger) func(messages []kafka.Message, err error) {
	return func(messages []kafka.Message, err error) {
		if err == nil {
			return
		}
		event := logger.Error().Err(err).Int("messages", len(messages))
		if len(messages) > 0 {
			event = event.Str("key", string(messages[0].Key))
		}
		event.Msg("Failed to deliver messages")
	}
}

func writeJSON(ctx context.Context, w MessageWriter, key string, eventType string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Time:    time.Now().UTC(),
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(eventType)}},
	})
}

// EventPublisher publishes lifecycle events to downstream consumers
type EventPublisher struct {
	writer MessageWriter
	logger zerolog.Logger
}

var _ outbound.EventPublisher = (*EventPublisher)(nil)

func NewEventPublisher(writer MessageWriter, logger zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		writer: writer,
		logger: logger.With().Str("component", "kafka_event_publisher").Logger(),
	}
}

func (p *EventPublisher) Publish(ctx context.Context, auctionID uuid.UUID, event outbound.Event) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	event.AuctionID = auctionID

	if err := writeJSON(ctx, p.writer, auctionID.String(), string(event.Type), event); err != nil {
		p.logger.Error().Err(err).Str("auction_id", auctionID.String()).Str("event_type", string(event.Type)).Msg("Failed to publish event")
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *EventPublisher) Close() error {
	return p.writer.Close()
}

// NotificationDispatcher hands notifications to the notification service
type NotificationDispatcher struct {
	writer MessageWriter
	logger zerolog.Logger
}

var _ outbound.Notifier = (*NotificationDispatcher)(nil)

func NewNotificationDispatcher(writer MessageWriter, logger zerolog.Logger) *NotificationDispatcher {
	return &NotificationDispatcher{
		writer: writer,
		logger: logger.With().Str("component", "kafka_notification_dispatcher").Logger(),
	}
}

func (d *NotificationDispatcher) Notify(ctx context.Context, n outbound.Notification) error {
	key := n.Auction.AuctionID.String()
	if err := writeJSON(ctx, d.writer, key, string(n.Kind), n); err != nil {
		d.logger.Error().Err(err).Str("auction_id", key).Str("recipient", n.Recipient.String()).Msg("Failed to dispatch notification")
		return fmt.Errorf("failed to dispatch %s notification: %w", n.Kind, err)
	}
	return nil
}

func (d *NotificationDispatcher) Close() error {
	return d.writer.Close()
}
