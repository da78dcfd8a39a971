package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hexlane/dexarb/internal/domain"
)

const keyPrefix = "dexarb:"

// PoolCache implements domain.PoolCache on Redis. Each entry is a hash at
// "dexarb:{namespace}:{key}" with fields "value" and "written_at" (Unix
// nanoseconds); the namespace TTL is applied on every write so Redis evicts
// on its own, and written_at is still checked on read in case the configured
// TTL shrank since the write.
type PoolCache struct {
	rdb  *redis.Client
	ttls domain.CacheTTLs
}

// NewPoolCache creates a PoolCache backed by the given Client.
func NewPoolCache(c *Client, ttls domain.CacheTTLs) *PoolCache {
	return &PoolCache{rdb: c.rdb, ttls: ttls}
}

func entryKey(namespace, key string) string {
	return keyPrefix + namespace + ":" + key
}

// Put stores value under (namespace, key), stamping the write time and
// refreshing the namespace TTL. Concurrent writers are last-write-wins.
func (pc *PoolCache) Put(ctx context.Context, namespace, key string, value []byte) error {
	k := entryKey(namespace, key)
	fields := map[string]any{
		"value":      value,
		"written_at": strconv.FormatInt(time.Now().UnixNano(), 10),
	}

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, k, fields)
	pipe.Expire(ctx, k, pc.ttls.For(namespace))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Get returns the stored value, or domain.ErrCacheMiss when the entry is
// absent or its age has reached the namespace TTL.
func (pc *PoolCache) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	vals, err := pc.rdb.HGetAll(ctx, entryKey(namespace, key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get %s/%s: %w", namespace, key, err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrCacheMiss
	}

	writtenAt, err := parseWrittenAt(vals)
	if err != nil {
		return nil, fmt.Errorf("redis: get %s/%s: %w", namespace, key, err)
	}
	if time.Since(writtenAt) >= pc.ttls.For(namespace) {
		return nil, domain.ErrCacheMiss
	}

	v, ok := vals["value"]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return []byte(v), nil
}

// Keys lists the keys currently live in a namespace.
func (pc *PoolCache) Keys(ctx context.Context, namespace string) ([]string, error) {
	pattern := keyPrefix + namespace + ":*"
	prefix := keyPrefix + namespace + ":"

	var keys []string
	iter := pc.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan %s: %w", namespace, err)
	}
	return keys, nil
}

// Status reports per-namespace entry counts, the oldest entry age, and the
// freshness of that oldest entry (1 - age/ttl clamped to [0,1]).
func (pc *PoolCache) Status(ctx context.Context) ([]domain.CacheStatus, error) {
	now := time.Now()
	out := make([]domain.CacheStatus, 0, len(domain.Namespaces()))

	for _, ns := range domain.Namespaces() {
		ttl := pc.ttls.For(ns)
		st := domain.CacheStatus{Namespace: ns, Freshness: 1}

		iter := pc.rdb.Scan(ctx, 0, keyPrefix+ns+":*", 0).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("redis: status scan %s: %w", ns, err)
		}

		if len(keys) > 0 {
			pipe := pc.rdb.Pipeline()
			cmds := make([]*redis.StringCmd, len(keys))
			for i, k := range keys {
				cmds[i] = pipe.HGet(ctx, k, "written_at")
			}
			_, _ = pipe.Exec(ctx) // per-key misses handled below

			for _, cmd := range cmds {
				raw, err := cmd.Result()
				if err != nil {
					continue
				}
				nanos, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					continue
				}
				age := now.Sub(time.Unix(0, nanos))
				if age >= ttl {
					continue // expired entry awaiting eviction
				}
				st.Count++
				if age > st.OldestAge {
					st.OldestAge = age
				}
			}
		}

		if st.Count > 0 {
			st.Freshness = clampFreshness(st.OldestAge, ttl)
		}
		out = append(out, st)
	}
	return out, nil
}

func parseWrittenAt(vals map[string]string) (time.Time, error) {
	raw, ok := vals["written_at"]
	if !ok {
		return time.Time{}, fmt.Errorf("missing written_at field")
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse written_at: %w", err)
	}
	return time.Unix(0, nanos), nil
}

func clampFreshness(age, ttl time.Duration) float64 {
	if ttl <= 0 {
		return 0
	}
	f := 1 - float64(age)/float64(ttl)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Compile-time interface check.
var _ domain.PoolCache = (*PoolCache)(nil)
