package cache

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/shubhsaxena/cinesearch/internal/models"
)

// ResultCache stores resolved result lists keyed by normalized query.
// Get returns (nil, nil) on a miss. Implementations must be safe for
// concurrent use and must not hand out slices that alias stored state.
type ResultCache interface {
	Get(ctx context.Context, query string) (*models.CacheEntry, error)
	Set(ctx context.Context, entry *models.CacheEntry) error
	Clear(ctx context.Context) error
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:8])
}
