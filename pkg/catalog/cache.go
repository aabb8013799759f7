package catalog

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/medialib/curator/pkg/models"
)

// Cache defaults.
const (
	DefaultCacheSize  = 1024
	DefaultEntityTTL  = 5 * time.Minute
	DefaultListingTTL = time.Hour
)

type cacheEntry struct {
	value   any
	expires time.Time
}

// EntityCache is an LRU cache with per-entry TTL in front of the Catalog
// entity queries. Expired entries are deleted on lookup and count as a
// miss. Safe for concurrent use.
type EntityCache struct {
	mu         sync.Mutex
	lru        *lru.Cache[string, cacheEntry]
	entityTTL  time.Duration
	listingTTL time.Duration
}

// NewEntityCache creates a cache with the given capacity. Zero or
// negative arguments fall back to the defaults.
func NewEntityCache(size int, entityTTL, listingTTL time.Duration) (*EntityCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if entityTTL <= 0 {
		entityTTL = DefaultEntityTTL
	}
	if listingTTL <= 0 {
		listingTTL = DefaultListingTTL
	}
	inner, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &EntityCache{
		lru:        inner,
		entityTTL:  entityTTL,
		listingTTL: listingTTL,
	}, nil
}

// Get returns the cached value for key, or (nil, false) on a miss.
// Slice values are returned as copies so callers cannot mutate the
// cache's internal state.
func (c *EntityCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		c.lru.Remove(key)
		return nil, false
	}
	return copyValue(entry.value), true
}

// Set stores a value with the entity TTL.
func (c *EntityCache) Set(key string, value any) {
	c.set(key, value, c.entityTTL)
}

// SetListing stores a value with the longer listing TTL, used for the
// all-entities queries.
func (c *EntityCache) SetListing(key string, value any) {
	c.set(key, value, c.listingTTL)
}

func (c *EntityCache) set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, cacheEntry{value: value, expires: time.Now().Add(ttl)})
}

// Invalidate removes every entry whose key begins with prefix. Called
// whenever the client mutates the corresponding entity set.
func (c *EntityCache) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

// Purge empties the cache.
func (c *EntityCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of live entries, expired ones included until
// their next lookup.
func (c *EntityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// copyValue shallow-copies the container types the cache holds so the
// caller's slice is detached from the cached one.
func copyValue(v any) any {
	switch typed := v.(type) {
	case []*models.Performer:
		out := make([]*models.Performer, len(typed))
		copy(out, typed)
		return out
	case []*models.Tag:
		out := make([]*models.Tag, len(typed))
		copy(out, typed)
		return out
	case []*models.Studio:
		out := make([]*models.Studio, len(typed))
		copy(out, typed)
		return out
	case []*models.Scene:
		out := make([]*models.Scene, len(typed))
		copy(out, typed)
		return out
	}
	return v
}
