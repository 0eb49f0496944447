package gathering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/codec"
	gen "github.com/unkn0wn-root/querycache/genstore"
	pr "github.com/unkn0wn-root/querycache/provider"
)

// CacheOptions configure the per-entity caches. Provider is required.
type CacheOptions struct {
	Provider pr.Provider
	// GenStore is shared by every entity cache. nil => one LocalGenStore owned by Caches.
	GenStore  gen.GenStore
	Codec     string // "json" (default), "msgpack", "cbor"
	MaxDecode int    // 0 => unlimited
	TTL       time.Duration
	Namespace string // prefix for every entity namespace; "" => "gathering"
	Logger    querycache.Logger
	Hooks     querycache.Hooks
	Disabled  bool
}

// Caches groups one typed cache per entity. All of them share a provider and a GenStore.
type Caches struct {
	Gathering  querycache.Cache[Gathering]
	Status     querycache.Cache[GatheringStatus]
	Challenges querycache.Cache[ChallengePages]
	Guestbooks querycache.Cache[GuestbookPage]
	Calendar   querycache.Cache[Calendar]

	gen    gen.GenStore
	ownGen bool
}

func NewCaches(o CacheOptions) (*Caches, error) {
	if o.Provider == nil {
		return nil, errors.New("gathering: cache provider is required")
	}
	if o.Namespace == "" {
		o.Namespace = "gathering"
	}
	cs := &Caches{gen: o.GenStore}
	if cs.gen == nil {
		cs.gen = gen.NewLocalGenStore(time.Hour, 30*24*time.Hour)
		cs.ownGen = true
	}

	var err error
	if cs.Gathering, err = newEntityCache[Gathering](o, cs.gen, "gathering"); err != nil {
		return nil, err
	}
	if cs.Status, err = newEntityCache[GatheringStatus](o, cs.gen, "status"); err != nil {
		return nil, err
	}
	if cs.Challenges, err = newEntityCache[ChallengePages](o, cs.gen, "challenges"); err != nil {
		return nil, err
	}
	if cs.Guestbooks, err = newEntityCache[GuestbookPage](o, cs.gen, "guestbooks"); err != nil {
		return nil, err
	}
	if cs.Calendar, err = newEntityCache[Calendar](o, cs.gen, "calendar"); err != nil {
		return nil, err
	}
	return cs, nil
}

func newEntityCache[V any](o CacheOptions, g gen.GenStore, name string) (querycache.Cache[V], error) {
	cd, err := codec.ByName[V](o.Codec, o.MaxDecode)
	if err != nil {
		return nil, fmt.Errorf("gathering: %s cache: %w", name, err)
	}
	qc, err := querycache.New[V](querycache.Options[V]{
		Namespace:  o.Namespace + "." + name,
		Provider:   o.Provider,
		Codec:      cd,
		Logger:     o.Logger,
		Hooks:      o.Hooks,
		DefaultTTL: o.TTL,
		GenStore:   g,
		Disabled:   o.Disabled,
	})
	if err != nil {
		return nil, fmt.Errorf("gathering: %s cache: %w", name, err)
	}
	return qc, nil
}

// Close stops in-flight loads and releases the GenStore if Caches created it.
// The provider is left open; its owner closes it.
func (cs *Caches) Close(ctx context.Context) error {
	var errs []error
	for _, c := range []interface{ Close(context.Context) error }{
		cs.Gathering, cs.Status, cs.Challenges, cs.Guestbooks, cs.Calendar,
	} {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if cs.ownGen {
		if err := cs.gen.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
