package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/godamri/helix-activity/messaging"
)

// Ingestor appends administrative actions published by other services. Each record
// is keyed by its topic/partition/offset so redelivery does not duplicate entries.
type Ingestor struct {
	store  Store
	logger *slog.Logger
}

func NewIngestor(store Store, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: store, logger: logger.With("component", "audit_ingestor")}
}

// Handle returns an error only for storage failures, which the consumer retries.
// Undecodable or invalid records are logged and skipped.
func (i *Ingestor) Handle(ctx context.Context, msg messaging.Message) error {
	var in EntryInput
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		ingestedTotal.WithLabelValues("poison").Inc()
		i.logger.WarnContext(ctx, "skipping undecodable audit message", "message_id", msg.ID(), "error", err)
		return nil
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = "kafka:" + msg.ID()
	}

	_, err := i.store.Append(ctx, in)
	switch {
	case err == nil:
		ingestedTotal.WithLabelValues("stored").Inc()
		return nil
	case errors.Is(err, ErrInvalidInput):
		ingestedTotal.WithLabelValues("poison").Inc()
		i.logger.WarnContext(ctx, "skipping invalid audit message", "message_id", msg.ID(), "error", err)
		return nil
	default:
		ingestedTotal.WithLabelValues("retry").Inc()
		return err
	}
}
