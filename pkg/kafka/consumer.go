// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. Each partition of a topic is consumed by its own
// reader so that callers control the starting offset and see messages in
// partition order.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/config"
)

// Message is a consumed record with its partition coordinates.
type Message struct {
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
}

// MessageHandler is a callback invoked for each Kafka message.
type MessageHandler func(ctx context.Context, msg Message) error

// Consumer reads one partition of a topic, starting at a caller-chosen
// offset, and dispatches every message to a MessageHandler.
type Consumer struct {
	reader    *kafka.Reader
	logger    *slog.Logger
	handler   MessageHandler
	partition int
}

// NewConsumer creates a Consumer for partition of topic. A negative offset
// starts at the oldest retained message.
func NewConsumer(cfg config.KafkaConfig, topic string, partition int, offset int64, handler MessageHandler) (*Consumer, error) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   cfg.Brokers,
		Topic:     topic,
		Partition: partition,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	if offset < 0 {
		offset = kafka.FirstOffset
	}
	if err := r.SetOffset(offset); err != nil {
		r.Close()
		return nil, fmt.Errorf("seeking partition %d to offset %d: %w", partition, offset, err)
	}
	return &Consumer{
		reader:    r,
		logger:    slog.Default().With("component", "kafka-consumer", "topic", topic, "partition", partition),
		handler:   handler,
		partition: partition,
	}, nil
}

// Start enters the consume loop until ctx is cancelled. Handler errors are
// logged and the message is skipped.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", "offset", c.reader.Offset())
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return nil
		default:
		}

		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		err = c.handler(ctx, Message{
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
		})
		if err != nil {
			c.logger.Error("failed to process message",
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
