package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"streamgate/work/logger"
	"streamgate/work/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ComputeFunc produces the value for a cache key on a miss. It is arbitrary
// and usually expensive: a scrape, an upstream fetch, a provider API call.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Cache is a get-or-compute-with-TTL store shared by every upstream-calling
// component. It is backed by Redis when a shared store is configured and
// reachable, degrading to a bounded in-process ristretto cache otherwise.
// Entries are replaced, never merged, on recompute after expiry.
//
// Concurrent misses for the same key share a single in-flight computation via
// singleflight, so a burst of players requesting the same manifest costs one
// upstream fetch.
type Cache struct {
	remote  *redis.Client
	local   *ristretto.Cache[string, []byte]
	group   singleflight.Group
	enabled bool
}

// New constructs the cache. redisURL may be empty to force the in-process
// backend; a configured but unreachable Redis also degrades to in-process
// with a warning rather than failing startup.
func New(redisURL string, enabled bool) *Cache {
	c := &Cache{enabled: enabled}

	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Warn("{cache - New} Invalid Redis URL, using in-process cache: %v", err)
		} else {
			client := redis.NewClient(opts)
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := client.Ping(ctx).Err(); err != nil {
				logger.Warn("{cache - New} Redis unreachable, using in-process cache: %v", err)
				client.Close()
			} else {
				logger.Info("{cache - New} Shared Redis cache store initialized")
				c.remote = client
			}
		}
	}

	if c.remote == nil {
		local, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
			NumCounters: 10000,
			MaxCost:     64 << 20,
			BufferItems: 64,
		})
		if err != nil {
			// only reachable with a broken config literal
			panic(err)
		}
		c.local = local
		logger.Info("{cache - New} In-process cache initialized")
	}

	return c
}

// Fetch returns the cached value for key when a live entry exists, otherwise
// invokes compute, stores its result with the given TTL, and returns it.
// Compute failures propagate to the caller and nothing is cached. Concurrent
// callers missing on the same key share one compute invocation.
func (c *Cache) Fetch(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error) {
	if !c.enabled {
		return compute(ctx)
	}

	if value, ok := c.get(ctx, key); ok {
		metrics.CacheLookups.WithLabelValues(c.backend(), "hit").Inc()
		return value, nil
	}
	metrics.CacheLookups.WithLabelValues(c.backend(), "miss").Inc()

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// a concurrent flight may have stored the value while this caller
		// was queued behind it
		if value, ok := c.get(ctx, key); ok {
			return value, nil
		}

		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		c.set(ctx, key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}

// FetchJSON is Fetch for structured values: on a hit the stored JSON is
// unmarshaled into dest, on a miss compute's result is marshaled, stored,
// and unmarshaled back into dest so both paths yield identical shapes.
func (c *Cache) FetchJSON(ctx context.Context, key string, ttl time.Duration, dest interface{}, compute func(ctx context.Context) (interface{}, error)) error {
	data, err := c.Fetch(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	})
	if err != nil {
		return err
	}

	return json.Unmarshal(data, dest)
}

// get looks up key in the active backend. Backend errors count as misses;
// a flaky shared store must never take the pipeline down.
func (c *Cache) get(ctx context.Context, key string) ([]byte, bool) {
	if c.remote != nil {
		value, err := c.remote.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil, false
		}
		if err != nil {
			logger.Warn("{cache - get} Redis get failed for key %s: %v", key, err)
			return nil, false
		}
		return value, true
	}

	value, found := c.local.Get(key)
	return value, found
}

// set stores the value in the active backend. The in-process backend flushes
// its write buffers before returning so a fetch-after-store always hits.
func (c *Cache) set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c.remote != nil {
		if err := c.remote.Set(ctx, key, value, ttl).Err(); err != nil {
			logger.Warn("{cache - set} Redis set failed for key %s: %v", key, err)
		}
		return
	}

	c.local.SetWithTTL(key, value, int64(len(value))+1, ttl)
	c.local.Wait()
}

// backend names the active backend for metrics labels.
func (c *Cache) backend() string {
	if c.remote != nil {
		return "redis"
	}
	return "memory"
}

// Close releases backend resources.
func (c *Cache) Close() {
	if c.remote != nil {
		c.remote.Close()
	}
	if c.local != nil {
		c.local.Close()
	}
}
