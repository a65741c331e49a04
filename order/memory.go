package order

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps orders in process, for local runs and tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]Order
}

func NewMemoryRepository(seed ...Order) *MemoryRepository {
	r := &MemoryRepository{orders: make(map[string]Order, len(seed))}
	for _, o := range seed {
		r.orders[o.ID] = o
	}
	return r
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id string, from, to Status, at time.Time) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status != from {
		return nil, ErrConcurrentUpdate
	}
	o.Status = to
	o.UpdatedAt = at
	r.orders[id] = o
	return &o, nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID string, limit int) ([]Order, error) {
	return r.list(limit, func(o Order) bool { return o.UserID == userID }), nil
}

func (r *MemoryRepository) ListRecent(_ context.Context, limit int) ([]Order, error) {
	return r.list(limit, func(Order) bool { return true }), nil
}

func (r *MemoryRepository) list(limit int, keep func(Order) bool) []Order {
	r.mu.RLock()
	out := make([]Order, 0, len(r.orders))
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
