package gathering

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/unkn0wn-root/querycache/provider/memory"
)

var (
	errBoom     = errors.New("boom")
	errNotFound = errors.New("not found")
)

// fakeAPI is an in-memory server. before, when set, runs ahead of every call with the
// per-operation call index and can block or fail it.
type fakeAPI struct {
	mu         sync.Mutex
	gatherings map[int]Gathering
	statuses   map[int]GatheringStatus
	challenges map[int]map[ChallengeStatus][]Challenge
	guestbooks map[int][]Guestbook
	calls      map[string]int
	nextID     int

	before func(op string, call int) error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		gatherings: make(map[int]Gathering),
		statuses:   make(map[int]GatheringStatus),
		challenges: make(map[int]map[ChallengeStatus][]Challenge),
		guestbooks: make(map[int][]Guestbook),
		calls:      make(map[string]int),
		nextID:     1000,
	}
}

func (f *fakeAPI) enter(op string) error {
	f.mu.Lock()
	n := f.calls[op]
	f.calls[op] = n + 1
	hook := f.before
	f.mu.Unlock()
	if hook != nil {
		return hook(op, n)
	}
	return nil
}

func (f *fakeAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAPI) setHook(h func(op string, call int) error) {
	f.mu.Lock()
	f.before = h
	f.mu.Unlock()
}

func (f *fakeAPI) seedGathering(g Gathering) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gatherings[g.GatheringID] = g
	f.statuses[g.GatheringID] = GatheringStatus{
		GatheringID:      g.GatheringID,
		MinCount:         g.MinCount,
		TotalCount:       g.TotalCount,
		ParticipantCount: g.ParticipantCount,
	}
}

func (f *fakeAPI) seedChallenges(gatheringID int, status ChallengeStatus, n int) []Challenge {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.challenges[gatheringID] == nil {
		f.challenges[gatheringID] = make(map[ChallengeStatus][]Challenge)
	}
	out := make([]Challenge, 0, n)
	for i := 0; i < n; i++ {
		f.nextID++
		out = append(out, Challenge{
			ChallengeID:      f.nextID,
			GatheringID:      gatheringID,
			Title:            "challenge",
			ParticipantCount: 3,
			StartDate:        time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
			EndDate:          time.Date(2024, 11, 30, 0, 0, 0, 0, time.UTC),
		})
	}
	f.challenges[gatheringID][status] = append(f.challenges[gatheringID][status], out...)
	return out
}

func (f *fakeAPI) FetchGathering(_ context.Context, id int) (Gathering, error) {
	if err := f.enter("FetchGathering"); err != nil {
		return Gathering{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gatherings[id]
	if !ok {
		return Gathering{}, errNotFound
	}
	return g, nil
}

func (f *fakeAPI) FetchGatheringStatus(_ context.Context, id int) (GatheringStatus, error) {
	if err := f.enter("FetchGatheringStatus"); err != nil {
		return GatheringStatus{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statuses[id]
	if !ok {
		return GatheringStatus{}, errNotFound
	}
	return s, nil
}

func (f *fakeAPI) FetchChallenges(_ context.Context, id, page, pageSize int, status ChallengeStatus) (ChallengePage, error) {
	if err := f.enter("FetchChallenges"); err != nil {
		return ChallengePage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.challenges[id][status]
	lo := min(page*pageSize, len(all))
	hi := min(lo+pageSize, len(all))
	content := append([]Challenge{}, all[lo:hi]...)
	return ChallengePage{Content: content, HasNext: hi < len(all)}, nil
}

func (f *fakeAPI) FetchAllChallenges(_ context.Context, id int) ([]Challenge, error) {
	if err := f.enter("FetchAllChallenges"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Challenge
	out = append(out, f.challenges[id][StatusInProgress]...)
	out = append(out, f.challenges[id][StatusClosed]...)
	return out, nil
}

func (f *fakeAPI) FetchGuestbooks(_ context.Context, id, page, pageSize int) (GuestbookPage, error) {
	if err := f.enter("FetchGuestbooks"); err != nil {
		return GuestbookPage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.guestbooks[id]
	lo := min(page*pageSize, len(all))
	hi := min(lo+pageSize, len(all))
	return GuestbookPage{
		Content:    append([]Guestbook{}, all[lo:hi]...),
		HasNext:    hi < len(all),
		TotalCount: len(all),
	}, nil
}

func (f *fakeAPI) UpdateGathering(_ context.Context, id int, u GatheringUpdate) (Gathering, error) {
	if err := f.enter("UpdateGathering"); err != nil {
		return Gathering{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gatherings[id]
	if !ok {
		return Gathering{}, errNotFound
	}
	g = u.ApplyTo(g)
	f.gatherings[id] = g
	f.statuses[id], _ = u.ApplyToStatus(f.statuses[id])
	return g, nil
}

func (f *fakeAPI) DeleteGathering(_ context.Context, id int) error {
	if err := f.enter("DeleteGathering"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.gatherings[id]; !ok {
		return errNotFound
	}
	delete(f.gatherings, id)
	delete(f.statuses, id)
	return nil
}

func (f *fakeAPI) CreateChallenge(_ context.Context, gatheringID int, c ChallengeCreate) (Challenge, error) {
	if err := f.enter("CreateChallenge"); err != nil {
		return Challenge{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ch := c.Placeholder()
	ch.ChallengeID = f.nextID
	ch.GatheringID = gatheringID
	ch.ParticipantCount = 1
	ch.ParticipantStatus = true
	if f.challenges[gatheringID] == nil {
		f.challenges[gatheringID] = make(map[ChallengeStatus][]Challenge)
	}
	f.challenges[gatheringID][StatusInProgress] = append([]Challenge{ch}, f.challenges[gatheringID][StatusInProgress]...)
	return ch, nil
}

func (f *fakeAPI) DeleteChallenge(_ context.Context, challengeID int) error {
	if err := f.enter("DeleteChallenge"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, buckets := range f.challenges {
		for st, list := range buckets {
			for i, c := range list {
				if c.ChallengeID == challengeID {
					buckets[st] = append(list[:i:i], list[i+1:]...)
					return nil
				}
			}
		}
	}
	return errNotFound
}

func (f *fakeAPI) VerifyChallenge(_ context.Context, challengeID int, _ string) error {
	if err := f.enter("VerifyChallenge"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, buckets := range f.challenges {
		for _, list := range buckets {
			for i := range list {
				if list[i].ChallengeID == challengeID {
					list[i].ParticipantStatus = true
					list[i].VerificationStatus = true
					list[i].SuccessParticipantCount++
					return nil
				}
			}
		}
	}
	return errNotFound
}

type harness struct {
	api    *fakeAPI
	caches *Caches
	q      *Queries
	m      *Mutations
	errs   []error
	errMu  sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	caches, err := NewCaches(CacheOptions{Provider: memory.New()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = caches.Close(context.Background()) })

	h := &harness{api: newFakeAPI(), caches: caches}
	h.q = NewQueries(h.api, caches, nil)
	h.m = NewMutations(h.api, caches, MutationsOptions{
		OnError: func(_ string, err error) {
			h.errMu.Lock()
			h.errs = append(h.errs, err)
			h.errMu.Unlock()
		},
	})
	return h
}

func (h *harness) reported() []error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return append([]error(nil), h.errs...)
}

func sampleGathering(id int) Gathering {
	return Gathering{
		GatheringID:      id,
		Title:            "Morning run",
		Description:      "5k along the river",
		MainType:         "exercise",
		SubType:          "running",
		MainLocation:     "Seoul",
		SubLocation:      "Mapo",
		StartDate:        time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
		EndDate:          time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		MinCount:         3,
		TotalCount:       10,
		ParticipantCount: 4,
		CaptainStatus:    true,
		Tags:             []string{"run"},
	}
}

func ptr[T any](v T) *T { return &v }
