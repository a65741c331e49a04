package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/godamri/helix-activity/eventbus"
)

// RelayConfig describes how bus events of type T are forwarded to a topic.
type RelayConfig[T any] struct {
	Topic string
	Key   func(T) string
	// Enabled is consulted per event; nil means always on.
	Enabled func(context.Context) bool
}

// Relay returns a bus handler that publishes each payload as JSON. Errors surface to
// the bus, which logs and counts them.
func Relay[T any](pub Publisher, cfg RelayConfig[T]) eventbus.Handler[T] {
	return func(ctx context.Context, payload T) error {
		if cfg.Enabled != nil && !cfg.Enabled(ctx) {
			return nil
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("relay %s: encode: %w", cfg.Topic, err)
		}
		var key string
		if cfg.Key != nil {
			key = cfg.Key(payload)
		}
		return pub.Publish(ctx, cfg.Topic, key, raw)
	}
}
