package user

import (
	"context"
	"sync"
)

type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryDirectory(seed ...User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User, len(seed))}
	for _, u := range seed {
		d.users[u.ID] = u
	}
	return d
}

func (d *MemoryDirectory) FindByID(_ context.Context, id string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}
