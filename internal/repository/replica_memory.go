package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"auction-lifecycle/internal/biddingerrors"
	"auction-lifecycle/internal/models"
)

// MemoryReplica is an in-memory ReplicaStore
type MemoryReplica struct {
	mu         sync.RWMutex
	items      map[string]models.ReplicaItem // key: auctionID -> value: replica row
	tombstones map[string]time.Time          // key: auctionID -> value: deletion time
}

// NewMemoryReplica creates an empty replica store
func NewMemoryReplica() *MemoryReplica {
	return &MemoryReplica{
		items:      make(map[string]models.ReplicaItem),
		tombstones: make(map[string]time.Time),
	}
}

func (r *MemoryReplica) Get(ctx context.Context, id string) (models.ReplicaItem, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.ReplicaItem{}, false, fmt.Errorf("get replica %s: %v: %w", id, err, biddingerrors.ErrTransient)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		return models.ReplicaItem{}, false, nil
	}
	return item.Clone(), true, nil
}

func (r *MemoryReplica) Put(ctx context.Context, item models.ReplicaItem) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("put replica %s: %v: %w", item.ID, err, biddingerrors.ErrTransient)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[item.ID] = item.Clone()
	return nil
}

func (r *MemoryReplica) Delete(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete replica %s: %v: %w", id, err, biddingerrors.ErrTransient)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, id)
	if _, ok := r.tombstones[id]; !ok {
		r.tombstones[id] = at.UTC()
	}
	return nil
}

func (r *MemoryReplica) IsTombstoned(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.tombstones[id]
	return ok, nil
}

func (r *MemoryReplica) Search(ctx context.Context, params models.SearchParams) (models.SearchResult, error) {
	p := params.Normalized()
	now := searchNow(p)

	r.mu.RLock()
	matched := make([]models.ReplicaItem, 0, len(r.items))
	for _, item := range r.items {
		if matches(item, p, now) {
			matched = append(matched, item.Clone())
		}
	}
	r.mu.RUnlock()

	sortItems(matched, p.OrderBy)
	return paginate(matched, p), nil
}
