package eventbus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusEvent struct {
	OrderID string
	Status  string
}

var testTopic = NewTopic[statusEvent]("orderStatusChanged")

func newTestBus(cfg Config) *Bus {
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBus_DeliversToAllSubscribersInRegistrationOrder(t *testing.T) {
	bus := newTestBus(Config{BufferSize: 8, HandlerTimeout: time.Second})

	var mu sync.Mutex
	var calls []string
	record := func(name string) Handler[statusEvent] {
		return func(_ context.Context, ev statusEvent) error {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name+":"+ev.OrderID)
			return nil
		}
	}

	Subscribe(bus, testTopic, "first", record("first"))
	Subscribe(bus, testTopic, "second", record("second"))
	Subscribe(bus, testTopic, "third", record("third"))

	require.NoError(t, Publish(context.Background(), bus, testTopic, statusEvent{OrderID: "o1"}))
	require.NoError(t, bus.Close())

	assert.Equal(t, []string{"first:o1", "second:o1", "third:o1"}, calls)
}

func TestBus_FailingSubscriberIsIsolated(t *testing.T) {
	bus := newTestBus(Config{BufferSize: 8, HandlerTimeout: time.Second})

	var delivered []string
	Subscribe(bus, testTopic, "erroring", func(context.Context, statusEvent) error {
		return errors.New("store unreachable")
	})
	Subscribe(bus, testTopic, "panicking", func(context.Context, statusEvent) error {
		panic("boom")
	})
	Subscribe(bus, testTopic, "healthy", func(_ context.Context, ev statusEvent) error {
		delivered = append(delivered, ev.OrderID)
		return nil
	})

	err := Publish(context.Background(), bus, testTopic, statusEvent{OrderID: "o1"})
	require.NoError(t, err, "publisher must never observe subscriber failures")

	err = Publish(context.Background(), bus, testTopic, statusEvent{OrderID: "o2"})
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	assert.Equal(t, []string{"o1", "o2"}, delivered)
}

func TestBus_PublishDoesNotWaitForSubscribers(t *testing.T) {
	bus := newTestBus(Config{BufferSize: 8, HandlerTimeout: time.Second})

	release := make(chan struct{})
	Subscribe(bus, testTopic, "slow", func(context.Context, statusEvent) error {
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() {
		done <- Publish(context.Background(), bus, testTopic, statusEvent{OrderID: "o1"})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	close(release)
	require.NoError(t, bus.Close())
}

func TestBus_HandlerContextSurvivesPublisherCancellation(t *testing.T) {
	bus := newTestBus(Config{BufferSize: 8, HandlerTimeout: time.Second})

	type ctxKey struct{}
	seen := make(chan error, 1)
	var value any
	Subscribe(bus, testTopic, "ctx", func(ctx context.Context, _ statusEvent) error {
		value = ctx.Value(ctxKey{})
		seen <- ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "trace"))
	require.NoError(t, Publish(ctx, bus, testTopic, statusEvent{OrderID: "o1"}))
	cancel()

	require.NoError(t, bus.Close())
	assert.NoError(t, <-seen)
	assert.Equal(t, "trace", value)
}

func TestBus_HandlerTimeoutIsApplied(t *testing.T) {
	bus := newTestBus(Config{BufferSize: 8, HandlerTimeout: 20 * time.Millisecond})

	var got error
	Subscribe(bus, testTopic, "stuck", func(ctx context.Context, _ statusEvent) error {
		<-ctx.Done()
		got = ctx.Err()
		return got
	})

	require.NoError(t, Publish(context.Background(), bus, testTopic, statusEvent{OrderID: "o1"}))
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, got, context.DeadlineExceeded)
}

func TestBus_DropsWhenBufferFull(t *testing.T) {
	bus := newTestBus(Config{BufferSize: 1, HandlerTimeout: time.Second})

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var count int
	Subscribe(bus, testTopic, "blocking", func(context.Context, statusEvent) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		count++
		return nil
	})

	require.NoError(t, Publish(context.Background(), bus, testTopic, statusEvent{OrderID: "in-flight"}))
	<-started

	// One slot in the buffer, the rest are dropped without error.
	for range 5 {
		require.NoError(t, Publish(context.Background(), bus, testTopic, statusEvent{OrderID: "queued"}))
	}

	close(release)
	require.NoError(t, bus.Close())
	assert.Equal(t, 2, count)
}

func TestBus_BlockOnFullRespectsContext(t *testing.T) {
	bus := newTestBus(Config{BufferSize: 1, BlockOnFull: true, HandlerTimeout: time.Second})

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	Subscribe(bus, testTopic, "blocking", func(context.Context, statusEvent) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	require.NoError(t, Publish(context.Background(), bus, testTopic, statusEvent{OrderID: "in-flight"}))
	<-started
	require.NoError(t, Publish(context.Background(), bus, testTopic, statusEvent{OrderID: "buffered"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := Publish(ctx, bus, testTopic, statusEvent{OrderID: "blocked"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, bus.Close())
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := newTestBus(Config{BufferSize: 1, HandlerTimeout: time.Second})
	require.NoError(t, bus.Close())

	err := Publish(context.Background(), bus, testTopic, statusEvent{OrderID: "late"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, bus.Close(), "Close is idempotent")
}

func TestBus_TopicsAreIndependent(t *testing.T) {
	bus := newTestBus(Config{BufferSize: 8, HandlerTimeout: time.Second})
	other := NewTopic[string]("userPromoted")

	var orders, users int
	Subscribe(bus, testTopic, "orders", func(context.Context, statusEvent) error { orders++; return nil })
	Subscribe(bus, other, "users", func(context.Context, string) error { users++; return nil })

	require.NoError(t, Publish(context.Background(), bus, other, "u1"))
	require.NoError(t, bus.Close())

	assert.Equal(t, 0, orders)
	assert.Equal(t, 1, users)
	assert.Equal(t, "userPromoted", other.Name())
}
