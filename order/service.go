package order

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/godamri/helix-activity/eventbus"
)

// Actor is the principal requesting a change.
type Actor struct {
	ID      string
	Email   string
	IsAdmin bool
}

type StatusService struct {
	repo   Repository
	bus    *eventbus.Bus
	logger *slog.Logger
	now    func() time.Time
}

func NewStatusService(repo Repository, bus *eventbus.Bus, logger *slog.Logger) *StatusService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusService{
		repo:   repo,
		bus:    bus,
		logger: logger.With("component", "order_status"),
		now:    time.Now,
	}
}

// ChangeStatus moves an order to next and publishes StatusChanged. Setting the current
// status again is a no-op and publishes nothing. The publish outcome never fails the
// change: the order is already persisted by then. Only admins may change orders they
// do not own.
func (s *StatusService) ChangeStatus(ctx context.Context, id string, next Status, actor Actor) (*Order, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !actor.IsAdmin && actor.ID != "" && actor.ID != current.UserID {
		return nil, ErrForbidden
	}
	if current.Status == next {
		return current, nil
	}
	if !current.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
	}

	at := s.now().UTC()
	updated, err := s.repo.UpdateStatus(ctx, id, current.Status, next, at)
	if err != nil {
		return nil, err
	}

	ev := StatusChanged{
		EventID:        uuid.NewString(),
		Order:          *updated,
		PreviousStatus: current.Status,
		NewStatus:      next,
		IsAdmin:        actor.IsAdmin,
		OccurredAt:     at,
	}
	if actor.ID != "" && actor.ID != updated.UserID {
		ev.ActorID = actor.ID
		ev.ActorEmail = actor.Email
	}

	if err := eventbus.Publish(ctx, s.bus, StatusChangedTopic, ev); err != nil {
		s.logger.WarnContext(ctx, "order status event not published",
			"order_id", id,
			"event_id", ev.EventID,
			"error", err,
		)
	}

	s.logger.InfoContext(ctx, "order status changed",
		"order_id", id,
		"from", current.Status,
		"to", next,
		"admin", actor.IsAdmin,
	)
	return updated, nil
}
