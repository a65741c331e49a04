package messaging

import (
	"context"
	"log/slog"
	"sync"
)

// Runnable is a long-running consumer loop.
type Runnable interface {
	Start(ctx context.Context) error
	Topic() string
	Close() error
}

// ConsumerManager owns the lifecycle of several consumers.
type ConsumerManager struct {
	logger    *slog.Logger
	consumers []Runnable
	wg        sync.WaitGroup
}

func NewConsumerManager(logger *slog.Logger) *ConsumerManager {
	return &ConsumerManager{
		logger: logger.With("component", "consumer_manager"),
	}
}

func (m *ConsumerManager) Register(c Runnable) {
	m.consumers = append(m.consumers, c)
}

// Start runs every registered consumer on its own goroutine.
func (m *ConsumerManager) Start(ctx context.Context) {
	for _, c := range m.consumers {
		m.wg.Add(1)
		go func(consumer Runnable) {
			defer m.wg.Done()
			if err := consumer.Start(ctx); err != nil {
				m.logger.Error("Consumer stopped with error", "topic", consumer.Topic(), "error", err)
			}
		}(c)
	}
}

// Close stops all consumers and waits for in-flight messages.
func (m *ConsumerManager) Close() error {
	m.logger.Info("Stopping all consumers")
	for _, c := range m.consumers {
		if err := c.Close(); err != nil {
			m.logger.Error("Failed to close consumer", "topic", c.Topic(), "error", err)
		}
	}
	m.wg.Wait()
	m.logger.Info("All consumers stopped")
	return nil
}
