package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shubhsaxena/cinesearch/internal/models"
	"github.com/shubhsaxena/cinesearch/internal/observability"
)

const backendMemory = "memory"

// MemoryCache is a process-local ResultCache. A zero TTL keeps entries until
// Clear is called.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*models.CacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*models.CacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (mc *MemoryCache) Get(_ context.Context, query string) (*models.CacheEntry, error) {
	mc.mu.RLock()
	entry, ok := mc.entries[query]
	mc.mu.RUnlock()

	if !ok || mc.expired(entry) {
		observability.CacheMisses.WithLabelValues(backendMemory).Inc()
		return nil, nil
	}

	observability.CacheHits.WithLabelValues(backendMemory).Inc()
	return entry.Clone(), nil
}

func (mc *MemoryCache) Set(_ context.Context, entry *models.CacheEntry) error {
	if entry == nil || entry.Query == "" {
		return errors.New("cache set: entry without query")
	}

	stored := entry.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = mc.now()
	}

	mc.mu.Lock()
	mc.entries[stored.Query] = stored
	mc.mu.Unlock()
	return nil
}

func (mc *MemoryCache) Clear(_ context.Context) error {
	mc.mu.Lock()
	mc.entries = make(map[string]*models.CacheEntry)
	mc.mu.Unlock()
	return nil
}

func (mc *MemoryCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.entries)
}

func (mc *MemoryCache) expired(entry *models.CacheEntry) bool {
	if mc.ttl <= 0 {
		return false
	}
	return mc.now().Sub(entry.CreatedAt) >= mc.ttl
}
