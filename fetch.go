package querycache

import (
	"context"
	"errors"
	"sync/atomic"
)

type flight struct {
	id       uint64
	cancel   context.CancelFunc
	canceled atomic.Bool
}

// Fetch returns the cached value for key or loads it with fn. Concurrent fetches of one
// key share a single load. The loaded value is stored with a CAS on the generation seen
// before the load started, so a write that happened meanwhile (speculative update,
// invalidation) always wins over the late result. When Cancel aborts the shared load,
// waiters serve the entry that replaced it or start a new load.
func (qc *cache[V]) Fetch(ctx context.Context, key string, fn FetchFunc[V]) (V, error) {
	var zero V
	if !qc.enabled {
		return fn(ctx)
	}
	k := qc.singleKey(key)
	for {
		v, ok, err := qc.Get(ctx, key)
		if err != nil {
			qc.log.Warn("fetch: cache read failed; loading", Fields{"ns": qc.ns, "key": key, "err": err})
		} else if ok {
			return v, nil
		}

		ch := qc.group.DoChan(k, func() (any, error) {
			return qc.load(ctx, key, k, fn)
		})
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case r := <-ch:
			if errors.Is(r.Err, ErrFetchCanceled) {
				qc.log.Debug("fetch: load canceled; retrying", Fields{"ns": qc.ns, "key": key})
				continue
			}
			if r.Err != nil {
				return zero, r.Err
			}
			v, _ := r.Val.(V)
			return v, nil
		}
	}
}

// Cancel aborts the in-flight load for key, if any. The canceled load never writes to
// the cache; its waiters retry. Reports whether a load was running.
func (qc *cache[V]) Cancel(key string) bool {
	k := qc.singleKey(key)
	qc.flightMu.Lock()
	f, ok := qc.inflight[k]
	qc.flightMu.Unlock()
	if !ok {
		return false
	}
	f.canceled.Store(true)
	f.cancel()
	qc.group.Forget(k)
	qc.log.Debug("canceled in-flight fetch", Fields{"ns": qc.ns, "key": key})
	return true
}

func (qc *cache[V]) load(ctx context.Context, key, k string, fn FetchFunc[V]) (V, error) {
	var zero V
	// the load is shared by every waiter; only Cancel may abort it
	detached := context.WithoutCancel(ctx)

	obs, genErr := qc.snapshotGen(detached, k)

	lctx, cancel := context.WithCancel(detached)
	f := qc.track(k, cancel)
	defer qc.untrack(k, f)

	v, err := fn(lctx)
	if f.canceled.Load() {
		qc.hooks.FetchCanceled(k)
		return zero, ErrFetchCanceled
	}
	if err != nil {
		return zero, err
	}
	if genErr != nil {
		// unknown generation: serve the value but do not cache it
		return v, nil
	}

	_, stored, err := qc.casWrite(detached, k, v, 0, obs, 0)
	if err != nil {
		qc.log.Warn("fetch: store failed", Fields{"ns": qc.ns, "key": key, "err": err})
		return v, nil
	}
	if !stored {
		if cur, hit, _ := qc.Get(detached, key); hit {
			return cur, nil
		}
	}
	return v, nil
}

func (qc *cache[V]) track(k string, cancel context.CancelFunc) *flight {
	qc.flightMu.Lock()
	defer qc.flightMu.Unlock()
	qc.flightID++
	f := &flight{id: qc.flightID, cancel: cancel}
	qc.inflight[k] = f
	return f
}

func (qc *cache[V]) untrack(k string, f *flight) {
	f.cancel()
	qc.flightMu.Lock()
	if cur, ok := qc.inflight[k]; ok && cur.id == f.id {
		delete(qc.inflight, k)
	}
	qc.flightMu.Unlock()
}
