// Package querycache implements a provider-agnostic keyed query cache built for
// optimistic updates. Every key carries a generation; every write bumps it, and
// reads only return an entry whose stored generation is still current.
//
// Components:
//   - Provider: byte store with TTL (e.g. Ristretto, BigCache, Redis, memory).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - GenStore: generation counter per key. Local (in-process) by default,
//     optional Redis implementation when several processes share a provider.
//
// Keys:
//
//	single:<ns>:<key>
//
// Lifecycle of a key: populated by Fetch, overwritten speculatively by SetSpeculative,
// restored by Restore on failure, invalidated on success. Entries are never evicted by
// the cache itself; providers may drop them on TTL or pressure.
//
// Optimistic pattern:
//
//	c.Cancel(k)                          // stop an in-flight read from landing
//	prev, ok, _ := c.Peek(ctx, k)        // snapshot
//	gen, _ := c.SetSpeculative(ctx, k, next)
//	if err := callServer(); err != nil {
//		if ok {
//			_, _, _ = c.Restore(ctx, k, prev, gen) // no-op if a newer write landed
//		}
//	} else {
//		_ = c.Invalidate(ctx, k)
//	}
package querycache
