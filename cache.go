package querycache

import (
	"context"
	"fmt"
	"sync"
	"time"

	c "github.com/unkn0wn-root/querycache/codec"
	gen "github.com/unkn0wn-root/querycache/genstore"
	"github.com/unkn0wn-root/querycache/internal/wire"
	pr "github.com/unkn0wn-root/querycache/provider"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTTL          = 10 * time.Minute
	defaultGenRetention = 30 * 24 * time.Hour
	defaultSweep        = time.Hour
)

type cache[V any] struct {
	ns             string
	provider       pr.Provider
	codec          c.Codec[V]
	log            Logger
	hooks          Hooks
	enabled        bool
	defaultTTL     time.Duration
	computeSetCost SetCostFunc
	gen            gen.GenStore
	ownGen         bool
	closeProvider  bool

	// fetch coalescing + cancellation, keyed by storage key
	group    singleflight.Group
	flightMu sync.Mutex
	inflight map[string]*flight
	flightID uint64
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("querycache: provider is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("querycache: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("querycache: namespace is required")
	}

	qc := &cache[V]{
		ns:            opts.Namespace,
		provider:      opts.Provider,
		codec:         opts.Codec,
		enabled:       !opts.Disabled,
		closeProvider: opts.CloseProvider,
		inflight:      make(map[string]*flight),
	}

	// defaults
	qc.log = coalesce[Logger](opts.Logger, NopLogger{})
	qc.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	qc.defaultTTL = coalesce[time.Duration](opts.DefaultTTL, defaultTTL)

	if opts.ComputeSetCost != nil {
		qc.computeSetCost = opts.ComputeSetCost
	} else {
		qc.computeSetCost = func(string, []byte) int64 { return 1 }
	}

	if opts.GenStore != nil {
		qc.gen = opts.GenStore
	} else {
		// default to in-process generations with periodic cleanup
		qc.gen = gen.NewLocalGenStore(
			coalesce[time.Duration](opts.CleanupInterval, defaultSweep),
			coalesce[time.Duration](opts.GenRetention, defaultGenRetention),
		)
		qc.ownGen = true
	}

	return qc, nil
}

func (qc *cache[V]) Enabled() bool { return qc.enabled }

func (qc *cache[V]) Close(ctx context.Context) error {
	qc.flightMu.Lock()
	for _, f := range qc.inflight {
		f.cancel()
	}
	qc.flightMu.Unlock()

	if qc.ownGen {
		_ = qc.gen.Close(ctx)
	}
	if qc.closeProvider {
		return qc.provider.Close(ctx)
	}
	return nil
}

func (qc *cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	e, ok, err := qc.Peek(ctx, key)
	return e.Value, ok, err
}

func (qc *cache[V]) Peek(ctx context.Context, key string) (Entry[V], bool, error) {
	var zero Entry[V]
	if !qc.enabled {
		return zero, false, nil
	}
	k := qc.singleKey(key)
	raw, ok, err := qc.provider.Get(ctx, k)
	if err != nil || !ok {
		return zero, false, err
	}
	we, err := wire.DecodeSingle(raw)
	if err != nil {
		qc.selfHeal(ctx, k, "corrupt")
		return zero, false, nil
	}
	cur, err := qc.snapshotGen(ctx, k)
	if err != nil {
		return zero, false, nil
	}
	if we.Gen != cur {
		qc.selfHeal(ctx, k, "gen_mismatch")
		return zero, false, nil
	}
	v, err := qc.codec.Decode(we.Payload)
	if err != nil {
		qc.selfHeal(ctx, k, "value_decode")
		return zero, false, nil
	}
	return Entry[V]{Value: v, Gen: we.Gen, Speculative: we.Speculative()}, true, nil
}

// SetWithGen writes an authoritative value iff the key generation still equals observedGen.
// ok=false means a newer write won and the value was dropped.
func (qc *cache[V]) SetWithGen(ctx context.Context, key string, value V, observedGen uint64, ttl time.Duration) (bool, error) {
	if !qc.enabled {
		return false, nil
	}
	_, ok, err := qc.casWrite(ctx, qc.singleKey(key), value, 0, observedGen, ttl)
	return ok, err
}

// SetSpeculative unconditionally replaces the value with an optimistic one and returns the
// generation it was written under. Pass that generation to Restore on failure.
func (qc *cache[V]) SetSpeculative(ctx context.Context, key string, value V) (uint64, error) {
	if !qc.enabled {
		return 0, nil
	}
	k := qc.singleKey(key)
	payload, err := qc.codec.Encode(value)
	if err != nil {
		return 0, err
	}
	g, err := qc.gen.Bump(ctx, k)
	if err != nil {
		qc.hooks.GenBumpError(k, err)
		return 0, fmt.Errorf("querycache: bump %q: %w", key, err)
	}
	if err := qc.put(ctx, k, g, wire.FlagSpeculative, payload, qc.defaultTTL); err != nil {
		return 0, err
	}
	qc.log.Debug("speculative write", Fields{"ns": qc.ns, "key": key, "gen": g})
	return g, nil
}

// Restore puts prev back iff no write happened since the one that produced observedGen,
// and returns the generation prev now lives under. The speculative tag of prev is preserved.
func (qc *cache[V]) Restore(ctx context.Context, key string, prev Entry[V], observedGen uint64) (uint64, bool, error) {
	if !qc.enabled {
		return 0, false, nil
	}
	var flags byte
	if prev.Speculative {
		flags = wire.FlagSpeculative
	}
	g, ok, err := qc.casWrite(ctx, qc.singleKey(key), prev.Value, flags, observedGen, qc.defaultTTL)
	if !ok || err != nil {
		return 0, false, err
	}
	return g, true, nil
}

func (qc *cache[V]) Invalidate(ctx context.Context, key string) error {
	if !qc.enabled {
		return nil
	}
	k := qc.singleKey(key)
	newGen, bumpErr := qc.gen.Bump(ctx, k)
	delErr := qc.provider.Del(ctx, k)
	switch {
	case bumpErr != nil && delErr != nil:
		qc.hooks.InvalidateOutage(key, bumpErr, delErr)
		return &InvalidateError{Key: key, BumpErr: bumpErr, DelErr: delErr}
	case bumpErr != nil:
		// entry is gone but an in-flight fetch may still land under the old gen
		qc.hooks.GenBumpError(k, bumpErr)
		return &InvalidateError{Key: key, BumpErr: bumpErr}
	case delErr != nil:
		// gen moved, so the leftover entry fails validation on read
		qc.log.Warn("invalidate: delete failed", Fields{"key": key, "err": delErr})
	}
	qc.log.Debug("invalidated key (bumped gen + cleared entry)", Fields{"ns": qc.ns, "key": key, "newGen": newGen})
	return nil
}

func (qc *cache[V]) SnapshotGen(key string) uint64 {
	g, _ := qc.snapshotGen(context.Background(), qc.singleKey(key))
	return g
}

func (qc *cache[V]) casWrite(ctx context.Context, k string, value V, flags byte, observedGen uint64, ttl time.Duration) (uint64, bool, error) {
	payload, err := qc.codec.Encode(value)
	if err != nil {
		return 0, false, err
	}
	g, ok, err := qc.gen.CompareAndBump(ctx, k, observedGen)
	if err != nil {
		qc.hooks.GenBumpError(k, err)
		return 0, false, err
	}
	if !ok {
		// generation moved; skip stale write
		qc.hooks.StaleWriteDropped(k, observedGen)
		qc.log.Debug("CAS write skipped (gen mismatch)", Fields{"key": k, "obs": observedGen, "cur": g})
		return g, false, nil
	}
	if ttl == 0 {
		ttl = qc.defaultTTL
	}
	return g, true, qc.put(ctx, k, g, flags, payload, ttl)
}

func (qc *cache[V]) put(ctx context.Context, k string, g uint64, flags byte, payload []byte, ttl time.Duration) error {
	raw := wire.EncodeSingle(g, flags, payload)
	ok, err := qc.provider.Set(ctx, k, raw, qc.computeSetCost(k, raw), ttl)
	if err != nil {
		return err
	}
	if !ok {
		qc.hooks.ProviderSetRejected(k)
		qc.log.Debug("Set rejected by provider (pressure)", Fields{"key": k})
	}
	return nil
}

func (qc *cache[V]) selfHeal(ctx context.Context, k, reason string) {
	_ = qc.provider.Del(ctx, k)
	qc.hooks.SelfHealSingle(k, reason)
}

func (qc *cache[V]) snapshotGen(ctx context.Context, storageKey string) (uint64, error) {
	g, err := qc.gen.Snapshot(ctx, storageKey)
	if err != nil {
		qc.hooks.GenSnapshotError(storageKey, err)
		qc.log.Warn("gen snapshot error", Fields{"key": storageKey, "err": err})
		return 0, err
	}
	return g, nil
}

func (qc *cache[V]) singleKey(userKey string) string {
	// isolate by namespace
	return "single:" + qc.ns + ":" + userKey
}
