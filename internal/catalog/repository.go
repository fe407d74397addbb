package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"wms/pkg/platform/sentinel"
)

// Lifecycle is notified after each committed mutation. *hook.Hook
// implements it.
type Lifecycle interface {
	OnCreate(ctx context.Context, entity any)
	OnUpdate(ctx context.Context, entity any)
	OnRemove(ctx context.Context, entity any)
}

// Entity is a catalog record with a numeric key.
type Entity interface {
	Key() int64
	SetKey(key int64)
}

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = fmt.Errorf("catalog record %w", sentinel.ErrNotFound)

// Repository stores entities in memory and reports every mutation to the
// lifecycle hook. The hook runs after the change is applied, outside the
// lock, and cannot fail it.
type Repository[T Entity] struct {
	mu        sync.RWMutex
	items     map[int64]T
	lifecycle Lifecycle
}

// NewRepository creates an empty repository. lifecycle may be nil.
func NewRepository[T Entity](lifecycle Lifecycle) *Repository[T] {
	return &Repository[T]{items: make(map[int64]T), lifecycle: lifecycle}
}

// ErrInvalidKey is returned for keys below 1.
var ErrInvalidKey = errors.New("catalog record key must be positive")

// Save inserts or replaces entity and reports a create or an update. created
// is true when no record existed under the key.
func (r *Repository[T]) Save(ctx context.Context, entity T) (created bool, err error) {
	if entity.Key() <= 0 {
		return false, ErrInvalidKey
	}
	r.mu.Lock()
	_, existed := r.items[entity.Key()]
	r.items[entity.Key()] = entity
	r.mu.Unlock()

	if r.lifecycle == nil {
		return !existed, nil
	}
	if existed {
		r.lifecycle.OnUpdate(ctx, entity)
	} else {
		r.lifecycle.OnCreate(ctx, entity)
	}
	return !existed, nil
}

// Get returns the entity stored under key.
func (r *Repository[T]) Get(_ context.Context, key int64) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entity, ok := r.items[key]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return entity, nil
}

// Delete removes the entity stored under key and reports its last state.
func (r *Repository[T]) Delete(ctx context.Context, key int64) error {
	r.mu.Lock()
	entity, ok := r.items[key]
	delete(r.items, key)
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	if r.lifecycle != nil {
		r.lifecycle.OnRemove(ctx, entity)
	}
	return nil
}
