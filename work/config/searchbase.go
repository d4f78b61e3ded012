package config

import (
	"context"
	"sync"
	"time"

	"streamgate/work/logger"
)

// FetchFunc produces the current base URL of the upstream listing site, which
// rotates domains often enough that a static value goes stale within days.
type FetchFunc func(ctx context.Context) (string, error)

// SearchBase holds the upstream listing site's base URL with a bounded
// lifetime, refreshing it through the supplied fetch func once the TTL
// elapses. It replaces an ambient cached variable with an explicit object
// constructed once and passed to whatever needs it.
type SearchBase struct {
	mu        sync.Mutex
	value     string
	fetchedAt time.Time
	ttl       time.Duration
	fetch     FetchFunc
}

// NewSearchBase creates a SearchBase seeded with initial. A nil fetch func
// pins the value forever, which is the right behavior for deployments that
// configure the base URL statically.
func NewSearchBase(initial string, ttl time.Duration, fetch FetchFunc) *SearchBase {
	return &SearchBase{
		value: initial,
		ttl:   ttl,
		fetch: fetch,
	}
}

// Get returns the current base URL, refreshing it first when the cached value
// is older than the TTL. A failed refresh keeps serving the previous value;
// a stale base URL still works more often than no base URL at all.
func (sb *SearchBase) Get(ctx context.Context) string {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.fetch == nil || (sb.value != "" && time.Since(sb.fetchedAt) < sb.ttl) {
		return sb.value
	}

	fresh, err := sb.fetch(ctx)
	if err != nil {
		logger.Warn("{config/searchbase - Get} Refresh failed, keeping previous value: %v", err)
		return sb.value
	}

	sb.value = fresh
	sb.fetchedAt = time.Now()
	logger.Debug("{config/searchbase - Get} Refreshed search base URL")
	return sb.value
}
