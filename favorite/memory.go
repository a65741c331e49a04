package favorite

import (
	"context"
	"sort"
	"sync"
)

type MemoryProvider struct {
	mu    sync.RWMutex
	items []Favorite
}

func NewMemoryProvider(seed ...Favorite) *MemoryProvider {
	return &MemoryProvider{items: append([]Favorite(nil), seed...)}
}

func (p *MemoryProvider) Add(f Favorite) {
	p.mu.Lock()
	p.items = append(p.items, f)
	p.mu.Unlock()
}

func (p *MemoryProvider) List(_ context.Context, userID string) ([]Favorite, error) {
	p.mu.RLock()
	var out []Favorite
	for _, f := range p.items {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	p.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > MaxPerUser {
		out = out[:MaxPerUser]
	}
	return out, nil
}
