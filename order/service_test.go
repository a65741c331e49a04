package order

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godamri/helix-activity/eventbus"
)

func newTestService(t *testing.T, seed ...Order) (*StatusService, *eventbus.Bus, *[]StatusChanged) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.New(eventbus.Config{BufferSize: 16, HandlerTimeout: time.Second}, logger)

	var events []StatusChanged
	eventbus.Subscribe(bus, StatusChangedTopic, "capture", func(_ context.Context, ev StatusChanged) error {
		events = append(events, ev)
		return nil
	})

	svc := NewStatusService(NewMemoryRepository(seed...), bus, logger)
	svc.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return svc, bus, &events
}

func sampleOrder() Order {
	return Order{
		ID:          "o1",
		UserID:      "u1",
		UserEmail:   "u1@example.com",
		Status:      StatusPending,
		TotalAmount: 42.5,
		Items:       []Item{{ProductID: "p1", Quantity: 2, UnitPrice: 21.25}},
		CreatedAt:   time.UnixMilli(1_000),
	}
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusPaid, true},
		{StatusPending, StatusShipped, false},
		{StatusPaid, StatusProcessing, true},
		{StatusShipped, StatusDelivered, true},
		{StatusDelivered, StatusRefunded, true},
		{StatusCancelled, StatusPaid, false},
		{StatusRefunded, StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestChangeStatus_PublishesOneEvent(t *testing.T) {
	svc, bus, events := newTestService(t, sampleOrder())

	updated, err := svc.ChangeStatus(context.Background(), "o1", StatusPaid, Actor{ID: "admin-1", Email: "ops@example.com", IsAdmin: true})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, updated.Status)

	require.NoError(t, bus.Close())
	require.Len(t, *events, 1)

	ev := (*events)[0]
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, StatusPending, ev.PreviousStatus)
	assert.Equal(t, StatusPaid, ev.NewStatus)
	assert.Equal(t, "admin-1", ev.ActorID)
	assert.Equal(t, "ops@example.com", ev.ActorEmail)
	assert.True(t, ev.IsAdmin)
	assert.Equal(t, StatusPaid, ev.Order.Status)
}

func TestChangeStatus_OwnerLeavesActorEmpty(t *testing.T) {
	svc, bus, events := newTestService(t, sampleOrder())

	_, err := svc.ChangeStatus(context.Background(), "o1", StatusCancelled, Actor{ID: "u1"})
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	require.Len(t, *events, 1)
	assert.Empty(t, (*events)[0].ActorID)
	assert.False(t, (*events)[0].IsAdmin)
}

func TestChangeStatus_NoopPublishesNothing(t *testing.T) {
	svc, bus, events := newTestService(t, sampleOrder())

	o, err := svc.ChangeStatus(context.Background(), "o1", StatusPending, Actor{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status)

	require.NoError(t, bus.Close())
	assert.Empty(t, *events)
}

func TestChangeStatus_Errors(t *testing.T) {
	svc, bus, events := newTestService(t, sampleOrder())

	_, err := svc.ChangeStatus(context.Background(), "missing", StatusPaid, Actor{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.ChangeStatus(context.Background(), "o1", StatusDelivered, Actor{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.ChangeStatus(context.Background(), "o1", Status("lost"), Actor{})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.ChangeStatus(context.Background(), "o1", StatusPaid, Actor{ID: "someone-else"})
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, bus.Close())
	assert.Empty(t, *events)
}

func TestChangeStatus_ClosedBusDoesNotFailChange(t *testing.T) {
	svc, bus, _ := newTestService(t, sampleOrder())
	require.NoError(t, bus.Close())

	updated, err := svc.ChangeStatus(context.Background(), "o1", StatusPaid, Actor{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, updated.Status)
}

func TestMemoryRepository_ListOrdering(t *testing.T) {
	repo := NewMemoryRepository(
		Order{ID: "a", UserID: "u1", CreatedAt: time.UnixMilli(10)},
		Order{ID: "b", UserID: "u2", CreatedAt: time.UnixMilli(30)},
		Order{ID: "c", UserID: "u1", CreatedAt: time.UnixMilli(20)},
	)

	recent, err := repo.ListRecent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].ID)
	assert.Equal(t, "c", recent[1].ID)

	mine, err := repo.ListByUser(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "c", mine[0].ID)
	assert.Equal(t, "a", mine[1].ID)
}
