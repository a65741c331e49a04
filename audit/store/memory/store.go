// Package memory is an in-process audit.Store. Entries are kept in append order, which
// is also CreatedAt order because the store clock is strictly increasing.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/godamri/helix-activity/audit"
)

type Store struct {
	mu          sync.RWMutex
	entries     []audit.Entry
	idempotency map[string]int
	clock       *audit.Clock
}

type Option func(*Store)

func WithClock(c *audit.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func New(opts ...Option) *Store {
	s := &Store{
		idempotency: make(map[string]int),
		clock:       audit.NewClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Append(ctx context.Context, in audit.EntryInput) (audit.Entry, error) {
	if err := ctx.Err(); err != nil {
		return audit.Entry{}, &audit.StorageError{Op: "append", Err: err}
	}
	if err := in.Validate(); err != nil {
		return audit.Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if in.IdempotencyKey != "" {
		if idx, ok := s.idempotency[in.IdempotencyKey]; ok {
			return s.entries[idx], nil
		}
	}

	entry := audit.Entry{
		ID:         uuid.NewString(),
		Action:     in.Action,
		Summary:    in.Summary,
		ActorID:    in.ActorID,
		ActorEmail: in.ActorEmail,
		TargetID:   in.TargetID,
		TargetType: in.TargetType,
		Metadata:   copyMetadata(in.Metadata),
		CreatedAt:  s.clock.Next(),
	}
	s.entries = append(s.entries, entry)
	if in.IdempotencyKey != "" {
		s.idempotency[in.IdempotencyKey] = len(s.entries) - 1
	}
	return entry, nil
}

func (s *Store) Query(ctx context.Context, f audit.Filter) (audit.Page, error) {
	if err := ctx.Err(); err != nil {
		return audit.Page{}, &audit.StorageError{Op: "query", Err: err}
	}
	limit := audit.ClampLimit(f.Limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]audit.Entry, 0, limit+1)
	for i := len(s.entries) - 1; i >= 0 && len(out) <= limit; i-- {
		e := s.entries[i]
		if f.After != nil && e.CreatedAt >= *f.After {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		e.Metadata = copyMetadata(e.Metadata)
		out = append(out, e)
	}
	return audit.BuildPage(out, limit), nil
}

// Len reports the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
