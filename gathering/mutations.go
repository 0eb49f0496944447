package gathering

import (
	"context"
	"fmt"
	"sync"

	"github.com/unkn0wn-root/querycache"
)

// ErrorFunc receives every failed mutation after its rollback ran.
type ErrorFunc func(op string, err error)

// Mutations runs the optimistic write paths: cancel in-flight reads, snapshot, apply a
// speculative value, call the API, then invalidate on success or roll back on failure.
//
// Cache steps of all mutations are serialized; API calls run concurrently. Per key the
// controller tracks pending mutations and keeps a taint flag so a rollback never restores
// a snapshot that holds another mutation's failed speculative value. Overlapping failed
// mutations pass snapshots and generations to each other so the key ends at the value it
// had before the first of them.
type Mutations struct {
	api     API
	caches  *Caches
	log     querycache.Logger
	onError ErrorFunc

	mu      sync.Mutex
	pending map[string]*keyState
}

type keyState struct {
	members []participant
	tainted bool
}

type MutationsOptions struct {
	Logger  querycache.Logger
	OnError ErrorFunc
}

func NewMutations(api API, caches *Caches, opts MutationsOptions) *Mutations {
	m := &Mutations{
		api:     api,
		caches:  caches,
		log:     opts.Logger,
		onError: opts.OnError,
		pending: make(map[string]*keyState),
	}
	if m.log == nil {
		m.log = querycache.NopLogger{}
	}
	return m
}

// participant is one cache key touched by a mutation.
type participant interface {
	key() string
	cancel()
	restore(ctx context.Context) (restored bool, err error)
	invalidate(ctx context.Context) error
	// handOff lets a pending mutation on the same key take over what this one leaves
	// behind after its restore attempt.
	handOff(to participant, restored bool) bool
}

type staged[V any] struct {
	c       querycache.Cache[V]
	k       string
	apply   func(V) (V, bool)
	prev    querycache.Entry[V]
	gen     uint64
	applied bool
	// generation prev was restored under
	restoredGen uint64
}

func (s *staged[V]) key() string { return s.k }
func (s *staged[V]) cancel()     { s.c.Cancel(s.k) }

func (s *staged[V]) snapshotAndApply(ctx context.Context) error {
	if s.apply == nil {
		return nil
	}
	prev, ok, err := s.c.Peek(ctx, s.k)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	next, changed := s.apply(prev.Value)
	if !changed {
		return nil
	}
	g, err := s.c.SetSpeculative(ctx, s.k, next)
	if err != nil {
		return err
	}
	s.prev, s.gen, s.applied = prev, g, true
	return nil
}

func (s *staged[V]) restore(ctx context.Context) (bool, error) {
	if !s.applied {
		return true, nil
	}
	g, ok, err := s.c.Restore(ctx, s.k, s.prev, s.gen)
	if ok {
		s.restoredGen = g
	}
	return ok, err
}

func (s *staged[V]) handOff(to participant, restored bool) bool {
	o, ok := to.(*staged[V])
	if !ok || !s.applied || !o.applied {
		return false
	}
	switch {
	case restored && s.prev.Speculative && o.gen == s.prev.Gen:
		// s put o's speculative value back under a new generation
		o.gen = s.restoredGen
		return true
	case !restored && o.prev.Gen == s.gen:
		// o snapshotted s's speculative value; s's own snapshot is the older truth
		o.prev = s.prev
		return true
	}
	return false
}

func (s *staged[V]) invalidate(ctx context.Context) error { return s.c.Invalidate(ctx, s.k) }

func optimistic[V any](c querycache.Cache[V], key string, apply func(V) (V, bool)) *staged[V] {
	return &staged[V]{c: c, k: key, apply: apply}
}

// touch is a key that is only canceled and invalidated.
func touch[V any](c querycache.Cache[V], key string) *staged[V] {
	return &staged[V]{c: c, k: key}
}

type applier interface {
	snapshotAndApply(ctx context.Context) error
}

// begin cancels in-flight loads, snapshots and applies. A cache failure here only costs
// the speculative value; the mutation itself still runs.
func (m *Mutations) begin(ctx context.Context, op string, ps ...participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ps {
		p.cancel()
		st := m.pending[p.key()]
		if st == nil {
			st = &keyState{}
			m.pending[p.key()] = st
		}
		st.members = append(st.members, p)
		if a, ok := p.(applier); ok {
			if err := a.snapshotAndApply(ctx); err != nil {
				m.log.Warn("optimistic apply failed", querycache.Fields{"op": op, "key": p.key(), "err": err})
			}
		}
	}
}

// settle reconciles every participant once the API call returned.
func (m *Mutations) settle(ctx context.Context, op string, apiErr error, ps ...participant) {
	// rollback must run even when the caller's context is what failed the call
	ctx = context.WithoutCancel(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ps {
		k := p.key()
		st := m.pending[k]
		last := len(st.members) == 1

		switch {
		case apiErr == nil || st.tainted:
			if !last {
				st.tainted = true
				break
			}
			m.invalidate(ctx, op, p)
		default:
			restored, err := p.restore(ctx)
			if err != nil {
				m.log.Warn("rollback failed", querycache.Fields{"op": op, "key": k, "err": err})
				m.invalidate(ctx, op, p)
				break
			}
			handed := m.handOff(st, p, restored)
			if restored {
				break
			}
			m.log.Debug("rollback superseded", querycache.Fields{"op": op, "key": k, "last": last, "handed": handed})
			switch {
			case last:
				m.invalidate(ctx, op, p)
			case !handed:
				st.tainted = true
			}
		}

		st.members = remove(st.members, p)
		if len(st.members) == 0 {
			delete(m.pending, k)
		}
	}
}

func (m *Mutations) handOff(st *keyState, p participant, restored bool) bool {
	for _, o := range st.members {
		if o != p && p.handOff(o, restored) {
			return true
		}
	}
	return false
}

func remove(ps []participant, p participant) []participant {
	for i, q := range ps {
		if q == p {
			return append(ps[:i:i], ps[i+1:]...)
		}
	}
	return ps
}

func (m *Mutations) invalidate(ctx context.Context, op string, p participant) {
	if err := p.invalidate(ctx); err != nil {
		m.log.Error("invalidate failed", querycache.Fields{"op": op, "key": p.key(), "err": err})
	}
}

func (m *Mutations) fail(op string, err error) error {
	m.log.Error("mutation failed", querycache.Fields{"op": op, "err": err})
	wrapped := fmt.Errorf("gathering: %s: %w", op, err)
	if m.onError != nil {
		m.onError(op, wrapped)
	}
	return wrapped
}

// UpdateGathering merges u into the cached gathering (and status, when TotalCount is set)
// ahead of the server call.
func (m *Mutations) UpdateGathering(ctx context.Context, id int, u GatheringUpdate) (Gathering, error) {
	op := fmt.Sprintf("update gathering %d", id)
	if err := u.Validate(); err != nil {
		return Gathering{}, m.fail(op, err)
	}

	ps := []participant{
		optimistic(m.caches.Gathering, GatheringKey(id), func(g Gathering) (Gathering, bool) {
			return u.ApplyTo(g), true
		}),
		optimistic(m.caches.Status, StatusKey(id), u.ApplyToStatus),
	}
	m.begin(ctx, op, ps...)
	g, err := m.api.UpdateGathering(ctx, id, u)
	m.settle(ctx, op, err, ps...)
	if err != nil {
		return Gathering{}, m.fail(op, err)
	}
	m.log.Info("gathering updated", querycache.Fields{"id": id})
	return g, nil
}

// CreateChallenge shows a placeholder at the head of the first in-progress page until
// the server's list is refetched.
func (m *Mutations) CreateChallenge(ctx context.Context, gatheringID int, c ChallengeCreate) (Challenge, error) {
	op := fmt.Sprintf("create challenge in gathering %d", gatheringID)
	if err := c.Validate(); err != nil {
		return Challenge{}, m.fail(op, err)
	}

	placeholder := c.Placeholder()
	ps := []participant{
		optimistic(m.caches.Challenges, ChallengesKey(gatheringID, StatusInProgress), func(p ChallengePages) (ChallengePages, bool) {
			return p.PrependToFirst(placeholder)
		}),
		touch(m.caches.Calendar, CalendarKey(gatheringID)),
	}
	m.begin(ctx, op, ps...)
	created, err := m.api.CreateChallenge(ctx, gatheringID, c)
	m.settle(ctx, op, err, ps...)
	if err != nil {
		return Challenge{}, m.fail(op, err)
	}
	m.log.Info("challenge created", querycache.Fields{"gatheringId": gatheringID, "challengeId": created.ChallengeID})
	return created, nil
}

func (m *Mutations) DeleteGathering(ctx context.Context, id int) error {
	op := fmt.Sprintf("delete gathering %d", id)
	ps := []participant{touch(m.caches.Gathering, GatheringKey(id))}
	m.begin(ctx, op, ps...)
	err := m.api.DeleteGathering(ctx, id)
	m.settle(ctx, op, err, ps...)
	if err != nil {
		return m.fail(op, err)
	}
	m.log.Info("gathering deleted", querycache.Fields{"id": id})
	return nil
}

// DeleteChallenge removes a challenge. inProgress selects the bucket that lists it.
func (m *Mutations) DeleteChallenge(ctx context.Context, gatheringID, challengeID int, inProgress bool) error {
	op := fmt.Sprintf("delete challenge %d", challengeID)
	ps := []participant{
		touch(m.caches.Challenges, ChallengesKey(gatheringID, StatusFor(inProgress))),
		touch(m.caches.Calendar, CalendarKey(gatheringID)),
	}
	m.begin(ctx, op, ps...)
	err := m.api.DeleteChallenge(ctx, challengeID)
	m.settle(ctx, op, err, ps...)
	if err != nil {
		return m.fail(op, err)
	}
	m.log.Info("challenge deleted", querycache.Fields{"gatheringId": gatheringID, "challengeId": challengeID})
	return nil
}

func (m *Mutations) VerifyChallenge(ctx context.Context, gatheringID, challengeID int, imageURL string) error {
	op := fmt.Sprintf("verify challenge %d", challengeID)
	if err := (VerificationRequest{ImageURL: imageURL}).Validate(); err != nil {
		return m.fail(op, err)
	}
	ps := []participant{touch(m.caches.Challenges, ChallengesKey(gatheringID, StatusInProgress))}
	m.begin(ctx, op, ps...)
	err := m.api.VerifyChallenge(ctx, challengeID, imageURL)
	m.settle(ctx, op, err, ps...)
	if err != nil {
		return m.fail(op, err)
	}
	m.log.Info("challenge verified", querycache.Fields{"gatheringId": gatheringID, "challengeId": challengeID})
	return nil
}
