// Package eventbus is a single-process publish/subscribe channel for typed lifecycle
// events. Publishing never blocks on, or fails because of, subscriber execution.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godamri/helix-activity/pkg/contextx"
)

var ErrClosed = errors.New("eventbus: bus is closed")

type Config struct {
	// BufferSize is the number of envelopes queued ahead of the dispatcher.
	BufferSize int `yaml:"buffer_size" envconfig:"BUS_BUFFER_SIZE" validate:"gte=1"`

	// BlockOnFull makes Publish wait for buffer space until the caller's context is
	// done. The default drops the event and logs, so a stalled subscriber can never
	// hold up order processing.
	BlockOnFull bool `yaml:"block_on_full" envconfig:"BUS_BLOCK_ON_FULL"`

	// HandlerTimeout bounds a single subscriber invocation.
	HandlerTimeout time.Duration `yaml:"handler_timeout" envconfig:"BUS_HANDLER_TIMEOUT" validate:"gt=0"`
}

func (c *Config) SetDefaults() {
	c.BufferSize = 1024
	c.BlockOnFull = false
	c.HandlerTimeout = 5 * time.Second
}

// Handler receives a typed payload. A returned error is logged by the bus and never
// reaches the publisher or other subscribers.
type Handler[T any] func(ctx context.Context, payload T) error

// Topic binds an event name to its payload type at compile time.
type Topic[T any] struct {
	name string
}

func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

func (t Topic[T]) Name() string { return t.name }

type subscriber struct {
	name string
	fn   func(ctx context.Context, payload any) error
}

type envelope struct {
	ctx     context.Context
	topic   string
	payload any
}

type Bus struct {
	cfg    Config
	logger *slog.Logger

	subMu sync.RWMutex
	subs  map[string][]subscriber

	// sendMu guards the queue against a concurrent Close.
	sendMu    sync.RWMutex
	closed    bool
	queue     chan envelope
	wg        sync.WaitGroup
	closeOnce sync.Once

	dropCount   uint64
	lastDropLog time.Time
	dropMu      sync.Mutex
}

func New(cfg Config, logger *slog.Logger) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bus{
		cfg:         cfg,
		logger:      logger.With("component", "eventbus"),
		subs:        make(map[string][]subscriber),
		queue:       make(chan envelope, cfg.BufferSize),
		lastDropLog: time.Now().Add(-time.Minute),
	}

	b.wg.Add(1)
	go b.run()

	return b
}

// Subscribe registers h for topic. Subscribers are invoked in registration order.
// name identifies the subscriber in logs and metrics.
func Subscribe[T any](b *Bus, topic Topic[T], name string, h Handler[T]) {
	fn := func(ctx context.Context, payload any) error {
		typed, ok := payload.(T)
		if !ok {
			return fmt.Errorf("eventbus: payload %T does not match topic %q", payload, topic.name)
		}
		return h(ctx, typed)
	}

	b.subMu.Lock()
	b.subs[topic.name] = append(b.subs[topic.name], subscriber{name: name, fn: fn})
	b.subMu.Unlock()
}

// Publish hands payload to the dispatcher and returns immediately. The handlers' context
// keeps ctx's values but not its cancellation, so a finished request does not abort
// the audit write it triggered.
//
// Errors are limited to ErrClosed and, in BlockOnFull mode, ctx.Err(). A dropped
// event in the default mode is logged, not returned.
func Publish[T any](ctx context.Context, b *Bus, topic Topic[T], payload T) error {
	return b.enqueue(ctx, envelope{
		ctx:     context.WithoutCancel(ctx),
		topic:   topic.name,
		payload: payload,
	})
}

func (b *Bus) enqueue(ctx context.Context, env envelope) error {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	if b.cfg.BlockOnFull {
		select {
		case b.queue <- env:
			publishedTotal.WithLabelValues(env.topic).Inc()
			return nil
		case <-ctx.Done():
			b.handleDrop(env.topic + "_ctx_cancelled")
			return ctx.Err()
		}
	}

	select {
	case b.queue <- env:
		publishedTotal.WithLabelValues(env.topic).Inc()
	default:
		b.handleDrop(env.topic)
	}
	return nil
}

func (b *Bus) handleDrop(topic string) {
	droppedTotal.WithLabelValues(topic).Inc()
	currentDrops := atomic.AddUint64(&b.dropCount, 1)

	b.dropMu.Lock()
	defer b.dropMu.Unlock()

	if time.Since(b.lastDropLog) < 5*time.Second {
		return
	}

	b.logger.Warn("event bus buffer full, events dropped",
		"strategy", "drop_on_full",
		"total_dropped", currentDrops,
		"sample_topic", topic,
	)
	atomic.StoreUint64(&b.dropCount, 0)
	b.lastDropLog = time.Now()
}

func (b *Bus) run() {
	defer b.wg.Done()
	for env := range b.queue {
		b.dispatch(env)
	}
}

func (b *Bus) dispatch(env envelope) {
	b.subMu.RLock()
	subs := append([]subscriber(nil), b.subs[env.topic]...)
	b.subMu.RUnlock()

	for _, s := range subs {
		b.invoke(env, s)
	}
}

// invoke runs one subscriber inside its own error boundary.
func (b *Bus) invoke(env envelope, s subscriber) {
	ctx, cancel := context.WithTimeout(env.ctx, b.cfg.HandlerTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			handlerFailuresTotal.WithLabelValues(env.topic, s.name).Inc()
			b.logger.ErrorContext(ctx, "event handler panicked",
				"topic", env.topic,
				"subscriber", s.name,
				"origin", contextx.GetEntryPoint(ctx),
				"panic", fmt.Sprintf("%v", rec),
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := s.fn(ctx, env.payload); err != nil {
		handlerFailuresTotal.WithLabelValues(env.topic, s.name).Inc()
		b.logger.WarnContext(ctx, "event handler failed",
			"topic", env.topic,
			"subscriber", s.name,
			"origin", contextx.GetEntryPoint(ctx),
			"error", err,
		)
	}
}

// Close stops intake and waits until every queued envelope has been dispatched.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.sendMu.Lock()
		b.closed = true
		close(b.queue)
		b.sendMu.Unlock()
	})
	b.wg.Wait()
	return nil
}
