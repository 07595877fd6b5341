package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/sandro988/Weather-API/internal/models"
)

// ErrUnavailable wraps backend failures so callers can classify them without
// knowing which backend is configured.
var ErrUnavailable = errors.New("cache store unavailable")

// Store is keyed city-name persistence for the last-fetched weather record.
// Get returns (zero, false, nil) when no entry exists; Put overwrites
// unconditionally. Entries carry no backend expiry: freshness is decided by
// the caller, and stale entries stay readable until overwritten.
type Store interface {
	Get(ctx context.Context, city string) (models.CacheEntry, bool, error)
	Put(ctx context.Context, entry models.CacheEntry) error
}

// InMemoryStore implements Store with a mutex-guarded map. Used for dev and
// tests; entries survive until overwritten, same as the remote backends.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]models.CacheEntry
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string]models.CacheEntry),
	}
}

func (s *InMemoryStore) Get(ctx context.Context, city string) (models.CacheEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.data[city]
	if !ok {
		return models.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (s *InMemoryStore) Put(ctx context.Context, entry models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[entry.City] = entry
	return nil
}
