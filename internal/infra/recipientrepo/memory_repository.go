package recipientrepo

import (
	"context"
	"sort"
	"sync"

	"github.com/yanqian/weathercards/internal/domain/recipient"
)

// MemoryRepository provides an in-memory recipient store for tests/dev.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]recipient.Recipient
}

// NewMemoryRepository constructs a new in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]recipient.Recipient)}
}

// List returns recipients ordered by UpdatedAt desc, then ID.
func (r *MemoryRepository) List(_ context.Context) ([]recipient.Recipient, error) {
	r.mu.RLock()
	out := make([]recipient.Recipient, 0, len(r.items))
	for _, rec := range r.items {
		out = append(out, clone(rec))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get fetches by ID.
func (r *MemoryRepository) Get(_ context.Context, id string) (recipient.Recipient, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.items[id]
	return clone(rec), ok, nil
}

// Save inserts or replaces the recipient.
func (r *MemoryRepository) Save(_ context.Context, rec recipient.Recipient) (recipient.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[rec.ID] = clone(rec)
	return rec, nil
}

// Delete removes the recipient, reporting whether it existed.
func (r *MemoryRepository) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[id]
	delete(r.items, id)
	return ok, nil
}

func clone(rec recipient.Recipient) recipient.Recipient {
	if rec.Avatar != nil {
		rec.Avatar = append([]byte(nil), rec.Avatar...)
	}
	return rec
}

var _ recipient.Repository = (*MemoryRepository)(nil)
