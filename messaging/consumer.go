package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/godamri/helix-activity/pkg/contextx"
)

// Message is a consumed record with its coordinates.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

// ID is unique per record within a cluster and stable across redeliveries.
func (m Message) ID() string {
	return fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
}

// HandlerFunc processes one message.
// Return an error to retry; return nil to commit (success or poison pill).
type HandlerFunc func(ctx context.Context, msg Message) error

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	// MaxRetries of 0 retries forever.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// ConsumerConfigFor derives a consumer for topic from the shared Kafka config.
func ConsumerConfigFor(cfg Config, topic string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          topic,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

type Consumer struct {
	client  *kgo.Client
	logger  *slog.Logger
	cfg     ConsumerConfig
	handler HandlerFunc
}

func NewConsumer(cfg ConsumerConfig, logger *slog.Logger, handler HandlerFunc) (*Consumer, error) {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		// Offsets are committed per record after the handler succeeds: at-least-once.
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create consumer: %w", err)
	}

	return &Consumer{
		client:  client,
		logger:  logger.With("component", "kafka_consumer", "topic", cfg.Topic),
		cfg:     cfg,
		handler: handler,
	}, nil
}

// Start runs the poll loop until ctx is done or the client is closed.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting consumer", "group", c.cfg.GroupID)

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}

		fetches.EachError(func(_ string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("Kafka fetch error", "partition", partition, "error", err)
		})

		iter := fetches.RecordIter()
		for !iter.Done() {
			rec := iter.Next()
			msg := messageFrom(rec)

			if err := c.processWithRetry(ctx, msg); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				// Committed anyway so one bad record cannot wedge the partition.
				c.logger.Error("Message dropped after max retries", "error", err, "message_id", msg.ID())
			}

			if err := c.client.CommitRecords(ctx, rec); err != nil {
				c.logger.Error("Failed to commit offset", "error", err, "message_id", msg.ID())
			}
		}
	}
}

func (c *Consumer) processWithRetry(ctx context.Context, msg Message) error {
	handlerCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Headers))
	handlerCtx = contextx.WithEntryPoint(handlerCtx, "consumer")

	attempt := 0
	backoff := c.cfg.InitialBackoff

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.handler(handlerCtx, msg)
		if err == nil {
			return nil
		}

		attempt++
		if c.cfg.MaxRetries > 0 && attempt >= c.cfg.MaxRetries {
			return fmt.Errorf("max retries exceeded: %w", err)
		}

		c.logger.Warn("Transient processing failure, retrying",
			"attempt", attempt,
			"error", err,
			"next_retry_in", backoff,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
		}
	}
}

func (c *Consumer) Topic() string { return c.cfg.Topic }

func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

func messageFrom(r *kgo.Record) Message {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   headers,
	}
}
