package querycache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/querycache/codec"
	gen "github.com/unkn0wn-root/querycache/genstore"
	pr "github.com/unkn0wn-root/querycache/provider"
)

type SetCostFunc func(key string, raw []byte) int64

// FetchFunc loads the authoritative value for a key. ctx is canceled when Cancel is
// called for the key while the load is running.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Entry is a cached value together with its generation and speculative tag.
type Entry[V any] struct {
	Value       V
	Gen         uint64
	Speculative bool
}

// Cache is the keyed query cache used by the optimistic mutation layer.
// V is the caller's value type. Serialization is handled by a pluggable Codec[V].
type Cache[V any] interface {
	Enabled() bool
	Close(context.Context) error

	// Reads
	Get(ctx context.Context, key string) (v V, ok bool, err error)
	Peek(ctx context.Context, key string) (e Entry[V], ok bool, err error)
	Fetch(ctx context.Context, key string, fn FetchFunc[V]) (V, error)

	// Writes. Every successful write bumps the key generation.
	SetWithGen(ctx context.Context, key string, value V, observedGen uint64, ttl time.Duration) (ok bool, err error)
	SetSpeculative(ctx context.Context, key string, value V) (gen uint64, err error)
	Restore(ctx context.Context, key string, prev Entry[V], observedGen uint64) (gen uint64, ok bool, err error)

	// Lifecycle
	Invalidate(ctx context.Context, key string) error
	Cancel(key string) bool

	// Generation snapshots (for CAS)
	SnapshotGen(key string) uint64
}

// Options tune the behavior of the cache.
// Namespace, Provider and Codec are required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string // logical namespace to avoid collisions. e.g. "gathering", "challenges"
	Provider  pr.Provider
	Codec     c.Codec[V]

	Logger          Logger        // if nil, NopLogger is used
	Hooks           Hooks         // if nil, NopHooks is used
	DefaultTTL      time.Duration // 0 => 10m
	CleanupInterval time.Duration // 0 => 1h
	GenRetention    time.Duration // 0 => 30d
	Disabled        bool          // default false (enabled)
	ComputeSetCost  SetCostFunc   // default 1
	GenStore        gen.GenStore  // nil => LocalGenStore (in-process, owned by the cache)
	CloseProvider   bool          // Close also closes Provider; leave false when it is shared
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
