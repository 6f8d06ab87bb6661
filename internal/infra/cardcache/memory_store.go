package cardcache

import (
	"context"
	"sync"
	"time"

	"github.com/yanqian/weathercards/internal/domain/cards"
)

const purgeEvery = 64

type entry struct {
	group    cards.Group
	storedAt time.Time
}

// MemoryStore keeps card groups in process memory. Entries older than the
// retention window are purged opportunistically on writes.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[cards.Key]entry
	retention time.Duration
	writes    int
	now       func() time.Time
}

// NewMemoryStore constructs a store with the given retention window.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:   make(map[cards.Key]entry),
		retention: retention,
		now:       time.Now,
	}
}

// Lookup implements cards.Cache.
func (s *MemoryStore) Lookup(_ context.Context, key cards.Key) (cards.Group, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || s.expired(e) {
		return cards.Group{}, false, nil
	}
	return e.group.Clone(), true, nil
}

// Store implements cards.Cache; the previous entry for key is replaced.
func (s *MemoryStore) Store(_ context.Context, key cards.Key, group cards.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{group: group.Clone(), storedAt: s.now()}
	s.writes++
	if s.writes%purgeEvery == 0 {
		s.purgeLocked()
	}
	return nil
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	return len(s.entries)
}

func (s *MemoryStore) purgeLocked() {
	for k, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, k)
		}
	}
}

func (s *MemoryStore) expired(e entry) bool {
	if s.retention <= 0 {
		return false
	}
	return s.now().Sub(e.storedAt) > s.retention
}

var _ cards.Cache = (*MemoryStore)(nil)
