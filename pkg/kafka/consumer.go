// Package kafka wraps segmentio/kafka-go for the segment's event topics:
// a consumer loop that commits only handled messages and a JSON producer.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/resilience"
)

// MessageHandler processes one message. A nil return commits the message.
// An error is retried on the same message; when the retries run out the
// consumer stops with the message uncommitted, so the group redelivers it.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// messageReader is the part of *kafka.Reader the consumer loop uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader  messageReader
	topic   string
	handler MessageHandler
	// Retry paces repeated attempts at a failing message.
	Retry resilience.RetryConfig
	// OnResult, when set, is told the outcome of every handled message.
	OnResult func(topic string, err error)
	logger   *slog.Logger
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	c := newConsumer(r, topic, handler)
	c.Retry.MaxAttempts = cfg.HandlerAttempts
	return c
}

func newConsumer(r messageReader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		topic:   topic,
		handler: handler,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

func (c *Consumer) Topic() string { return c.topic }

// Start fetches and handles messages until ctx is cancelled, then closes
// the reader. It returns an error when a message still fails after every
// retry; nothing past that message is committed.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("closing reader", "error", err)
		}
	}()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		err = resilience.Retry(ctx, "handle "+c.topic, c.Retry, func() error {
			return c.handler(ctx, msg.Key, msg.Value)
		})
		if c.OnResult != nil {
			c.OnResult(c.topic, err)
		}
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping mid-message", "offset", msg.Offset, "reason", ctx.Err())
				return nil
			}
			c.logger.Error("giving up on message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			return fmt.Errorf("%s partition %d offset %d: %w", c.topic, msg.Partition, msg.Offset, err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
