package repository

import (
	"context"
	"sync"
)

// MemoryTaskRegistry is a process-local registry, used when Redis is down
// or not configured.
type MemoryTaskRegistry struct {
	mu   sync.Mutex
	tags map[string]struct{}
}

func NewMemoryTaskRegistry() *MemoryTaskRegistry {
	return &MemoryTaskRegistry{tags: make(map[string]struct{})}
}

func (r *MemoryTaskRegistry) Register(_ context.Context, tag string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tags[tag]; ok {
		return false, nil
	}
	r.tags[tag] = struct{}{}
	return true, nil
}

func (r *MemoryTaskRegistry) Unregister(_ context.Context, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tags, tag)
	return nil
}

func (r *MemoryTaskRegistry) IsRegistered(_ context.Context, tag string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tags[tag]
	return ok, nil
}
