package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingPublisher struct {
	mu    sync.Mutex
	calls []published
	err   error
}

type published struct {
	topic, key string
	payload    []byte
}

func (p *recordingPublisher) Publish(_ context.Context, topic, key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, published{topic, key, payload})
	return p.err
}

type shipment struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

func TestRelay_PublishesJSONWithKey(t *testing.T) {
	pub := &recordingPublisher{}
	h := Relay(pub, RelayConfig[shipment]{
		Topic: "orders.status_changed",
		Key:   func(s shipment) string { return s.OrderID },
	})

	require.NoError(t, h(context.Background(), shipment{OrderID: "o1", Status: "shipped"}))
	require.Len(t, pub.calls, 1)
	assert.Equal(t, "orders.status_changed", pub.calls[0].topic)
	assert.Equal(t, "o1", pub.calls[0].key)

	var got shipment
	require.NoError(t, json.Unmarshal(pub.calls[0].payload, &got))
	assert.Equal(t, "shipped", got.Status)
}

func TestRelay_DisabledSkipsPublish(t *testing.T) {
	pub := &recordingPublisher{}
	h := Relay(pub, RelayConfig[shipment]{
		Topic:   "orders.status_changed",
		Enabled: func(context.Context) bool { return false },
	})

	require.NoError(t, h(context.Background(), shipment{OrderID: "o1"}))
	assert.Empty(t, pub.calls)
}

func TestRelay_PublishErrorIsReturned(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("not leader")}
	h := Relay(pub, RelayConfig[shipment]{Topic: "t"})
	assert.Error(t, h(context.Background(), shipment{}))
}

func TestMessageID(t *testing.T) {
	m := Message{Topic: "admin.audit.actions", Partition: 3, Offset: 1042}
	assert.Equal(t, "admin.audit.actions/3/1042", m.ID())
}

func newTestConsumer(maxRetries int, h HandlerFunc) *Consumer {
	return &Consumer{
		logger:  discard,
		handler: h,
		cfg: ConsumerConfig{
			Topic:          "t",
			MaxRetries:     maxRetries,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     4 * time.Millisecond,
		},
	}
}

func TestProcessWithRetry_RetriesUntilSuccess(t *testing.T) {
	attempts := 0
	c := newTestConsumer(5, func(context.Context, Message) error {
		attempts++
		if attempts < 3 {
			return errors.New("store unavailable")
		}
		return nil
	})

	require.NoError(t, c.processWithRetry(context.Background(), Message{}))
	assert.Equal(t, 3, attempts)
}

func TestProcessWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	boom := errors.New("store unavailable")
	c := newTestConsumer(2, func(context.Context, Message) error {
		attempts++
		return boom
	})

	err := c.processWithRetry(context.Background(), Message{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, attempts)
}

func TestProcessWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := newTestConsumer(0, func(context.Context, Message) error {
		cancel()
		return errors.New("transient")
	})

	err := c.processWithRetry(ctx, Message{})
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeRunnable struct {
	started chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func (f *fakeRunnable) Start(ctx context.Context) error {
	close(f.started)
	select {
	case <-ctx.Done():
	case <-f.closed:
	}
	return nil
}

func (f *fakeRunnable) Topic() string { return "fake" }

func (f *fakeRunnable) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func TestConsumerManager_StartAndClose(t *testing.T) {
	m := NewConsumerManager(discard)
	a := &fakeRunnable{started: make(chan struct{}), closed: make(chan struct{})}
	b := &fakeRunnable{started: make(chan struct{}), closed: make(chan struct{})}
	m.Register(a)
	m.Register(b)

	m.Start(context.Background())
	<-a.started
	<-b.started

	done := make(chan struct{})
	go func() {
		_ = m.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manager did not stop consumers")
	}
}
