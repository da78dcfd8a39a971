// Package memory implements the pool cache in process memory with the same
// expiry semantics as the Redis implementation. Used in tests and for
// redis-less deployments; entries do not survive restarts.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hexlane/dexarb/internal/domain"
)

type entry struct {
	value     []byte
	writtenAt time.Time
}

// Cache implements domain.PoolCache. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]map[string]entry // namespace -> key -> entry
	ttls    domain.CacheTTLs
	now     func() time.Time
}

// New creates an empty in-memory cache.
func New(ttls domain.CacheTTLs) *Cache {
	return &Cache{
		entries: make(map[string]map[string]entry),
		ttls:    ttls,
		now:     time.Now,
	}
}

// SetClock replaces the time source. Tests use this to step entries across
// their TTL without sleeping.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Put stores value under (namespace, key). Last write wins.
func (c *Cache) Put(_ context.Context, namespace, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, ok := c.entries[namespace]
	if !ok {
		ns = make(map[string]entry)
		c.entries[namespace] = ns
	}
	v := make([]byte, len(value))
	copy(v, value)
	ns[key] = entry{value: v, writtenAt: c.now()}
	return nil
}

// Get returns the stored value. Absent entries are domain.ErrCacheMiss;
// entries whose age has reached the namespace TTL are domain.ErrStalePool,
// which also matches ErrCacheMiss.
func (c *Cache) Get(_ context.Context, namespace, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[namespace][key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	if c.now().Sub(e.writtenAt) >= c.ttls.For(namespace) {
		return nil, domain.ErrStalePool
	}
	v := make([]byte, len(e.value))
	copy(v, e.value)
	return v, nil
}

// Keys lists the unexpired keys in a namespace.
func (c *Cache) Keys(_ context.Context, namespace string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ttl := c.ttls.For(namespace)
	now := c.now()

	var keys []string
	for k, e := range c.entries[namespace] {
		if now.Sub(e.writtenAt) < ttl {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Status reports per-namespace entry counts, the oldest unexpired entry age,
// and its freshness (1 - age/ttl clamped to [0,1]).
func (c *Cache) Status(_ context.Context) ([]domain.CacheStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	out := make([]domain.CacheStatus, 0, len(domain.Namespaces()))
	for _, ns := range domain.Namespaces() {
		ttl := c.ttls.For(ns)
		st := domain.CacheStatus{Namespace: ns, Freshness: 1}

		for _, e := range c.entries[ns] {
			age := now.Sub(e.writtenAt)
			if age >= ttl {
				continue
			}
			st.Count++
			if age > st.OldestAge {
				st.OldestAge = age
			}
		}

		if st.Count > 0 {
			f := 1 - float64(st.OldestAge)/float64(ttl)
			if f < 0 {
				f = 0
			}
			st.Freshness = f
		}
		out = append(out, st)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.PoolCache = (*Cache)(nil)
