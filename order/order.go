// Package order owns the order state machine and publishes a lifecycle event for every
// observed status transition.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/godamri/helix-activity/eventbus"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusPaid, StatusCancelled},
	StatusPaid:       {StatusProcessing, StatusCancelled, StatusRefunded},
	StatusProcessing: {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:    {StatusDelivered, StatusRefunded},
	StatusDelivered:  {StatusRefunded},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

var (
	ErrNotFound          = errors.New("order: not found")
	ErrInvalidTransition = errors.New("order: invalid status transition")
	ErrInvalidStatus     = errors.New("order: unknown status")
	// ErrForbidden means a non-admin actor tried to change someone else's order.
	ErrForbidden = errors.New("order: not permitted")
	// ErrConcurrentUpdate means the stored status no longer matches the one the
	// transition was validated against.
	ErrConcurrentUpdate = errors.New("order: status changed concurrently")
)

type Item struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

type Order struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	UserEmail   string    `json:"userEmail,omitempty"`
	Status      Status    `json:"status"`
	TotalAmount float64   `json:"totalAmount"`
	Items       []Item    `json:"items"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// StatusChanged is published once per observed transition. Empty ActorID means the
// order owner made the change.
type StatusChanged struct {
	EventID        string    `json:"eventId"`
	Order          Order     `json:"order"`
	PreviousStatus Status    `json:"previousStatus"`
	NewStatus      Status    `json:"newStatus"`
	ActorID        string    `json:"actorId,omitempty"`
	ActorEmail     string    `json:"actorEmail,omitempty"`
	IsAdmin        bool      `json:"isAdmin,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

var StatusChangedTopic = eventbus.NewTopic[StatusChanged]("orderStatusChanged")

// Repository is the order persistence contract. UpdateStatus must only succeed when the
// stored status still equals from.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (*Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	ListRecent(ctx context.Context, limit int) ([]Order, error)
}
