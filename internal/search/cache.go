package search

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores search results keyed by (provider, normalized query) so a
// recurring query inside one task tree never re-hits the network.
type Cache interface {
	Get(ctx context.Context, key string) ([]Result, bool)
	Set(ctx context.Context, key string, results []Result, ttl time.Duration)
}

// CacheKey builds the canonical cache key for a provider/query pair.
func CacheKey(provider, query string) string {
	return provider + "|" + NormalizeQuery(query)
}

// LocalCache is an in-process LRU with TTL, the default backend. Lifetime is
// bounded by the owning process; nothing is persisted.
type LocalCache struct {
	mu   sync.Mutex
	cap  int
	list *list.List               // front = most recent
	m    map[string]*list.Element // key -> element
}

type cacheEntry struct {
	key     string
	results []Result
	exp     time.Time
}

// NewLocalCache creates a cache bounded to capacity entries.
func NewLocalCache(capacity int) *LocalCache {
	if capacity <= 0 {
		capacity = 512
	}
	return &LocalCache{cap: capacity, list: list.New(), m: make(map[string]*list.Element, capacity)}
}

func (c *LocalCache) Get(_ context.Context, key string) ([]Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		ent := el.Value.(cacheEntry)
		if ent.exp.After(time.Now()) {
			c.list.MoveToFront(el)
			return ent.results, true
		}
		c.list.Remove(el)
		delete(c.m, key)
	}
	return nil, false
}

func (c *LocalCache) Set(_ context.Context, key string, results []Result, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		el.Value = cacheEntry{key: key, results: results, exp: time.Now().Add(ttl)}
		c.list.MoveToFront(el)
		return
	}
	el := c.list.PushFront(cacheEntry{key: key, results: results, exp: time.Now().Add(ttl)})
	c.m[key] = el
	if c.list.Len() > c.cap {
		oldest := c.list.Back()
		if oldest != nil {
			ent := oldest.Value.(cacheEntry)
			delete(c.m, ent.key)
			c.list.Remove(oldest)
		}
	}
}

// RedisCache shares the result cache across processes, useful when several
// researchd instances sit behind one load balancer.
type RedisCache struct {
	cli    redis.UniversalClient
	prefix string
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(cli redis.UniversalClient) *RedisCache {
	return &RedisCache{cli: cli, prefix: "search:"}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]Result, bool) {
	data, err := r.cli.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var results []Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, false
	}
	return results, true
}

func (r *RedisCache) Set(ctx context.Context, key string, results []Result, ttl time.Duration) {
	data, err := json.Marshal(results)
	if err != nil {
		return
	}
	// Cache writes are best-effort; a miss later just re-queries.
	_ = r.cli.Set(ctx, r.prefix+key, data, ttl).Err()
}
