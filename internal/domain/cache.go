package domain

import (
	"context"
	"time"
)

// Cache namespaces. Each namespace carries its own TTL.
const (
	NamespacePairPrice = "pair_price"
	NamespaceTVL       = "tvl"
	NamespaceGeneral   = "general"
)

// CacheTTLs carries the per-namespace expiration durations.
type CacheTTLs struct {
	PairPrice time.Duration
	TVL       time.Duration
	General   time.Duration
}

// For returns the TTL for a namespace; unknown namespaces use the general
// TTL.
func (t CacheTTLs) For(namespace string) time.Duration {
	switch namespace {
	case NamespacePairPrice:
		return t.PairPrice
	case NamespaceTVL:
		return t.TVL
	default:
		return t.General
	}
}

// Namespaces lists every known cache namespace.
func Namespaces() []string {
	return []string{NamespacePairPrice, NamespaceTVL, NamespaceGeneral}
}

// CacheStatus summarizes one namespace for monitoring. Freshness is
// 1 - age/ttl clamped to [0,1]; an entry with age >= ttl reads as a miss.
type CacheStatus struct {
	Namespace string        `json:"namespace"`
	Count     int           `json:"count"`
	OldestAge time.Duration `json:"oldest_age"`
	Freshness float64       `json:"freshness"`
}

// PoolCache is the namespaced store shared by the fetcher (writer) and
// everything downstream (readers). Get returns an error matching
// ErrCacheMiss for absent or expired entries; implementations that can tell
// the two apart report expiry as ErrStalePool. Concurrent writers are
// last-write-wins.
type PoolCache interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	Keys(ctx context.Context, namespace string) ([]string, error)
	Status(ctx context.Context) ([]CacheStatus, error)
}
