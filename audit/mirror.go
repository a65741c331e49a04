package audit

import (
	"context"
	"log/slog"
)

// Sink receives a copy of every stored entry.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
	Close() error
}

// MirroredStore forwards successful appends to a Sink. The primary store stays
// authoritative; sink errors are logged and never returned.
type MirroredStore struct {
	Store
	sink   Sink
	logger *slog.Logger
}

func NewMirroredStore(primary Store, sink Sink, logger *slog.Logger) *MirroredStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MirroredStore{
		Store:  primary,
		sink:   sink,
		logger: logger.With("component", "audit_mirror"),
	}
}

func (m *MirroredStore) Append(ctx context.Context, in EntryInput) (Entry, error) {
	entry, err := m.Store.Append(ctx, in)
	if err != nil {
		return entry, err
	}
	if err := m.sink.Write(ctx, entry); err != nil {
		m.logger.WarnContext(ctx, "audit mirror write failed", "error", err, "entry_id", entry.ID)
	}
	return entry, nil
}

func (m *MirroredStore) Close() error {
	return m.sink.Close()
}
