package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godamri/helix-activity/eventbus"
	"github.com/godamri/helix-activity/order"
	"github.com/godamri/helix-activity/user"
)

// Listener turns order lifecycle events into audit entries. It is a best-effort
// observer: nothing it does can fail the status change that produced the event.
type Listener struct {
	store  Store
	users  user.Directory
	logger *slog.Logger
}

func NewListener(store Store, users user.Directory, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		store:  store,
		users:  users,
		logger: logger.With("component", "audit_listener"),
	}
}

// Register subscribes the listener to order status transitions.
func (l *Listener) Register(bus *eventbus.Bus) {
	eventbus.Subscribe(bus, order.StatusChangedTopic, "audit", l.OnStatusChanged)
}

// OnStatusChanged always returns nil; failures are logged here.
func (l *Listener) OnStatusChanged(ctx context.Context, ev order.StatusChanged) error {
	in := l.entryFor(ctx, ev)
	if _, err := l.store.Append(ctx, in); err != nil {
		listenerFailuresTotal.Inc()
		l.logger.ErrorContext(ctx, "failed to record order status change",
			"order_id", ev.Order.ID,
			"event_id", ev.EventID,
			"error", err,
		)
	}
	return nil
}

func (l *Listener) entryFor(ctx context.Context, ev order.StatusChanged) EntryInput {
	actorID, actorEmail := ev.ActorID, ev.ActorEmail
	if actorID == "" {
		actorID = ev.Order.UserID
		if actorEmail == "" {
			actorEmail = ev.Order.UserEmail
		}
	} else if actorEmail == "" {
		actorEmail = l.lookupEmail(ctx, actorID)
	}

	summary := fmt.Sprintf("Order %s status changed from %s to %s", ev.Order.ID, ev.PreviousStatus, ev.NewStatus)
	if ev.IsAdmin {
		summary += " (admin)"
	}

	in := EntryInput{
		Action:     ActionOrderStatusChange,
		Summary:    summary,
		ActorID:    actorID,
		ActorEmail: actorEmail,
		TargetID:   ev.Order.ID,
		TargetType: TargetTypeOrder,
		Metadata: map[string]any{
			"previousStatus": string(ev.PreviousStatus),
			"newStatus":      string(ev.NewStatus),
			"orderId":        ev.Order.ID,
			"totalAmount":    ev.Order.TotalAmount,
			"itemCount":      len(ev.Order.Items),
		},
	}
	if ev.EventID != "" {
		in.Metadata["eventId"] = ev.EventID
		in.IdempotencyKey = ActionOrderStatusChange + ":" + ev.EventID
	}
	return in
}

// lookupEmail never fails; a miss or an error leaves the email blank.
func (l *Listener) lookupEmail(ctx context.Context, id string) string {
	if l.users == nil {
		return ""
	}
	u, err := l.users.FindByID(ctx, id)
	if err != nil {
		l.logger.WarnContext(ctx, "actor email lookup failed", "actor_id", id, "error", err)
		return ""
	}
	if u == nil {
		return ""
	}
	return u.Email
}
