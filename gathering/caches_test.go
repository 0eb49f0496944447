package gathering

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gen "github.com/unkn0wn-root/querycache/genstore"
	pr "github.com/unkn0wn-root/querycache/provider"
	"github.com/unkn0wn-root/querycache/provider/bigcache"
	"github.com/unkn0wn-root/querycache/provider/memory"
	rp "github.com/unkn0wn-root/querycache/provider/redis"
	"github.com/unkn0wn-root/querycache/provider/ristretto"
)

func TestNewCachesValidation(t *testing.T) {
	_, err := NewCaches(CacheOptions{})
	require.Error(t, err)

	_, err = NewCaches(CacheOptions{Provider: memory.New(), Codec: "xml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gathering: gathering cache")
}

func TestCachesShareInjectedGenStore(t *testing.T) {
	gs := gen.NewLocalGenStore(0, 0)
	defer gs.Close(context.Background())

	caches, err := NewCaches(CacheOptions{Provider: memory.New(), GenStore: gs})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = caches.Gathering.SetSpeculative(ctx, GatheringKey(1), sampleGathering(1))
	require.NoError(t, err)
	require.NoError(t, caches.Close(ctx))

	// Caches did not own the store, so it is still usable
	_, err = gs.Bump(ctx, "k")
	require.NoError(t, err)
}

// roundTrip runs one failed and one successful update over the given backend.
func roundTrip(t *testing.T, o CacheOptions) {
	t.Helper()
	caches, err := NewCaches(o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = caches.Close(context.Background()) })

	api := newFakeAPI()
	api.seedGathering(sampleGathering(7))
	q := NewQueries(api, caches, nil)
	m := NewMutations(api, caches, MutationsOptions{})
	ctx := context.Background()

	_, err = q.Gathering(ctx, 7)
	require.NoError(t, err)

	api.setHook(func(op string, _ int) error {
		if op == "UpdateGathering" {
			return errBoom
		}
		return nil
	})
	_, err = m.UpdateGathering(ctx, 7, GatheringUpdate{Title: ptr("x")})
	require.ErrorIs(t, err, errBoom)

	e, ok, err := caches.Gathering.Peek(ctx, GatheringKey(7))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Morning run", e.Value.Title)
	assert.False(t, e.Speculative)

	api.setHook(nil)
	_, err = m.UpdateGathering(ctx, 7, GatheringUpdate{Title: ptr("Evening run")})
	require.NoError(t, err)

	g, err := q.Gathering(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Evening run", g.Title)
	assert.Equal(t, 2, api.count("FetchGathering"))
}

func TestCachesOverProviders(t *testing.T) {
	ctx := context.Background()

	newRistretto := func(t *testing.T) pr.Provider {
		p, err := ristretto.New(ristretto.Config{NumCounters: 1e4, MaxCost: 1 << 20, BufferItems: 64})
		require.NoError(t, err)
		return p
	}
	newBigcache := func(t *testing.T) pr.Provider {
		p, err := bigcache.New(ctx, bigcache.Config{LifeWindow: time.Minute})
		require.NoError(t, err)
		return p
	}

	for _, tc := range []struct {
		name     string
		codec    string
		provider func(t *testing.T) pr.Provider
	}{
		{"ristretto/json", "json", newRistretto},
		{"bigcache/cbor", "cbor", newBigcache},
		{"memory/msgpack", "msgpack", func(*testing.T) pr.Provider { return memory.New() }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := tc.provider(t)
			t.Cleanup(func() { _ = p.Close(ctx) })
			roundTrip(t, CacheOptions{Provider: p, Codec: tc.codec, MaxDecode: 1 << 20})
		})
	}
}

func TestCachesOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p, err := rp.New(rp.Config{Client: client})
	require.NoError(t, err)

	roundTrip(t, CacheOptions{
		Provider:  p,
		GenStore:  gen.NewRedisGenStore(client, "gathering-test"),
		Codec:     "msgpack",
		Namespace: "app",
	})

	keys := mr.Keys()
	assert.Contains(t, keys, "gen:gathering-test:single:app.gathering:gathering:7")
}
