package storage

import (
	"context"
	"sync"
)

// MemoryRepository is a process-local KV.
type MemoryRepository struct {
	mu      sync.RWMutex
	data    map[string][]byte
	saveErr error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{data: make(map[string][]byte)}
}

func (r *MemoryRepository) Load(_ context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (r *MemoryRepository) Save(_ context.Context, key string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.data[key] = append([]byte(nil), data...)
	return nil
}

func (r *MemoryRepository) Close() error { return nil }

// FailSaves makes every following Save return err; nil restores normal saves.
func (r *MemoryRepository) FailSaves(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveErr = err
}
