package gathering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unkn0wn-root/querycache"
)

// blocker parks calls of one operation until released with a result.
type blocker struct {
	op      string
	entered chan int
	release []chan error
}

func newBlocker(op string, calls int) *blocker {
	b := &blocker{op: op, entered: make(chan int, calls), release: make([]chan error, calls)}
	for i := range b.release {
		b.release[i] = make(chan error, 1)
	}
	return b
}

func (b *blocker) hook(op string, call int) error {
	if op != b.op || call >= len(b.release) {
		return nil
	}
	b.entered <- call
	return <-b.release[call]
}

func (b *blocker) waitEntered(t *testing.T) int {
	t.Helper()
	select {
	case n := <-b.entered:
		return n
	case <-time.After(2 * time.Second):
		t.Fatalf("%s was not called", b.op)
		return -1
	}
}

func warmGathering(t *testing.T, h *harness, id int) (Gathering, GatheringStatus) {
	t.Helper()
	ctx := context.Background()
	g, err := h.q.Gathering(ctx, id)
	require.NoError(t, err)
	s, err := h.q.Status(ctx, id)
	require.NoError(t, err)
	return g, s
}

func peek[V any](t *testing.T, c querycache.Cache[V], key string) (querycache.Entry[V], bool) {
	t.Helper()
	e, ok, err := c.Peek(context.Background(), key)
	require.NoError(t, err)
	return e, ok
}

func TestUpdateGatheringAppliesThenInvalidates(t *testing.T) {
	h := newHarness(t)
	h.api.seedGathering(sampleGathering(7))
	warmGathering(t, h, 7)

	var during querycache.Entry[Gathering]
	var duringStatus querycache.Entry[GatheringStatus]
	h.api.setHook(func(op string, _ int) error {
		if op == "UpdateGathering" {
			during, _ = peek(t, h.caches.Gathering, GatheringKey(7))
			duringStatus, _ = peek(t, h.caches.Status, StatusKey(7))
		}
		return nil
	})

	got, err := h.m.UpdateGathering(context.Background(), 7, GatheringUpdate{
		Title:      ptr("Evening run"),
		TotalCount: ptr(20),
	})
	require.NoError(t, err)
	assert.Equal(t, "Evening run", got.Title)

	assert.True(t, during.Speculative)
	assert.Equal(t, "Evening run", during.Value.Title)
	assert.Equal(t, "Seoul", during.Value.MainLocation, "unset fields keep the cached value")
	assert.True(t, duringStatus.Speculative)
	assert.Equal(t, 20, duringStatus.Value.TotalCount)

	_, ok := peek(t, h.caches.Gathering, GatheringKey(7))
	assert.False(t, ok, "commit invalidates gathering")
	_, ok = peek(t, h.caches.Status, StatusKey(7))
	assert.False(t, ok, "commit invalidates status")

	g, s := warmGathering(t, h, 7)
	server, _ := h.api.FetchGathering(context.Background(), 7)
	assert.Equal(t, server, g)
	assert.Equal(t, 20, s.TotalCount)
	assert.Empty(t, h.reported())
}

func TestUpdateGatheringFailureRestoresSnapshot(t *testing.T) {
	h := newHarness(t)
	h.api.seedGathering(sampleGathering(7))
	before, beforeStatus := warmGathering(t, h, 7)

	h.api.setHook(func(op string, _ int) error {
		if op == "UpdateGathering" {
			return errBoom
		}
		return nil
	})
	_, err := h.m.UpdateGathering(context.Background(), 7, GatheringUpdate{Title: ptr("x"), TotalCount: ptr(99)})
	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "gathering: update gathering 7")

	e, ok := peek(t, h.caches.Gathering, GatheringKey(7))
	require.True(t, ok)
	assert.False(t, e.Speculative)
	assert.Equal(t, before, e.Value)

	es, ok := peek(t, h.caches.Status, StatusKey(7))
	require.True(t, ok)
	assert.Equal(t, beforeStatus, es.Value)

	require.Len(t, h.reported(), 1)
	assert.ErrorIs(t, h.reported()[0], errBoom)
	assert.Equal(t, 1, h.api.count("FetchGathering"), "rollback must not refetch")
}

func TestUpdateGatheringWithoutTotalCountLeavesStatus(t *testing.T) {
	h := newHarness(t)
	h.api.seedGathering(sampleGathering(7))
	warmGathering(t, h, 7)

	var statusDuring querycache.Entry[GatheringStatus]
	h.api.setHook(func(op string, _ int) error {
		if op == "UpdateGathering" {
			statusDuring, _ = peek(t, h.caches.Status, StatusKey(7))
		}
		return nil
	})
	_, err := h.m.UpdateGathering(context.Background(), 7, GatheringUpdate{Description: ptr("new")})
	require.NoError(t, err)
	assert.False(t, statusDuring.Speculative)
}

func TestUpdateGatheringColdCache(t *testing.T) {
	h := newHarness(t)
	h.api.seedGathering(sampleGathering(7))
	h.api.setHook(func(op string, _ int) error {
		if op == "UpdateGathering" {
			return errBoom
		}
		return nil
	})

	_, err := h.m.UpdateGathering(context.Background(), 7, GatheringUpdate{Title: ptr("x")})
	require.Error(t, err)
	_, ok := peek(t, h.caches.Gathering, GatheringKey(7))
	assert.False(t, ok, "nothing to apply or roll back")

	h.api.setHook(nil)
	_, err = h.m.UpdateGathering(context.Background(), 7, GatheringUpdate{Title: ptr("y")})
	require.NoError(t, err)
	g, err := h.q.Gathering(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "y", g.Title)
}

func TestUpdateGatheringRejectsInvalidPatch(t *testing.T) {
	h := newHarness(t)
	_, err := h.m.UpdateGathering(context.Background(), 7, GatheringUpdate{Title: ptr(""), TotalCount: ptr(0)})
	require.Error(t, err)

	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)
	assert.Equal(t, 0, h.api.count("UpdateGathering"))
	assert.Len(t, h.reported(), 1)
}

func TestConcurrentUpdateLateRollbackKeepsNewerValue(t *testing.T) {
	h := newHarness(t)
	h.api.seedGathering(sampleGathering(7))
	warmGathering(t, h, 7)

	b := newBlocker("UpdateGathering", 2)
	h.api.setHook(b.hook)

	first := make(chan error, 1)
	go func() {
		_, err := h.m.UpdateGathering(context.Background(), 7, GatheringUpdate{Title: ptr("one")})
		first <- err
	}()
	b.waitEntered(t)

	second := make(chan error, 1)
	go func() {
		_, err := h.m.UpdateGathering(context.Background(), 7, GatheringUpdate{Title: ptr("two")})
		second <- err
	}()
	b.waitEntered(t)

	b.release[0] <- errBoom
	require.ErrorIs(t, <-first, errBoom)

	e, ok := peek(t, h.caches.Gathering, GatheringKey(7))
	require.True(t, ok)
	assert.True(t, e.Speculative)
	assert.Equal(t, "two", e.Value.Title, "late rollback must not clobber the newer speculative value")

	b.release[1] <- nil
	require.NoError(t, <-second)

	g, err := h.q.Gathering(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "two", g.Title)
}

func TestConcurrentUpdatesBothFailRestoreFirstSnapshot(t *testing.T) {
	for _, order := range []struct {
		name  string
		first int
	}{
		{"older fails first", 0},
		{"newer fails first", 1},
	} {
		t.Run(order.name, func(t *testing.T) {
			h := newHarness(t)
			h.api.seedGathering(sampleGathering(7))
			warmGathering(t, h, 7)

			b := newBlocker("UpdateGathering", 2)
			h.api.setHook(b.hook)

			done := make([]chan error, 2)
			for i, title := range []string{"one", "two"} {
				done[i] = make(chan error, 1)
				go func(i int, title string) {
					_, err := h.m.UpdateGathering(context.Background(), 7, GatheringUpdate{Title: ptr(title)})
					done[i] <- err
				}(i, title)
				b.waitEntered(t)
			}

			b.release[order.first] <- errBoom
			require.ErrorIs(t, <-done[order.first], errBoom)
			b.release[1-order.first] <- errBoom
			require.ErrorIs(t, <-done[1-order.first], errBoom)

			e, ok := peek(t, h.caches.Gathering, GatheringKey(7))
			require.True(t, ok, "snapshot taken before both mutations is restored")
			assert.Equal(t, sampleGathering(7), e.Value)
			assert.False(t, e.Speculative)

			g, err := h.q.Gathering(context.Background(), 7)
			require.NoError(t, err)
			assert.Equal(t, "Morning run", g.Title)
			assert.Equal(t, 1, h.api.count("FetchGathering"), "served from the restored entry")
		})
	}
}

func TestMutationCancelsInFlightFetch(t *testing.T) {
	h := newHarness(t)
	h.api.seedGathering(sampleGathering(7))

	b := newBlocker("FetchGathering", 1)
	h.api.setHook(b.hook)

	type read struct {
		g   Gathering
		err error
	}
	fetched := make(chan read, 1)
	go func() {
		g, err := h.q.Gathering(context.Background(), 7)
		fetched <- read{g, err}
	}()
	b.waitEntered(t)

	_, err := h.m.UpdateGathering(context.Background(), 7, GatheringUpdate{Title: ptr("new")})
	require.NoError(t, err)

	// the stale read completes after the write; it must not land and the reader reloads
	b.release[0] <- nil
	r := <-fetched
	require.NoError(t, r.err)
	assert.Equal(t, "new", r.g.Title)
	assert.Equal(t, 2, h.api.count("FetchGathering"))

	e, ok := peek(t, h.caches.Gathering, GatheringKey(7))
	require.True(t, ok)
	assert.Equal(t, "new", e.Value.Title)
	assert.False(t, e.Speculative)
}

func TestCreateChallengePrependsPlaceholder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seeded := h.api.seedChallenges(7, StatusInProgress, 2)

	_, err := h.q.Challenges(ctx, 7, StatusInProgress)
	require.NoError(t, err)

	req := ChallengeCreate{
		Title:          "Plank",
		Description:    "1 minute a day",
		MaxPeopleCount: 5,
		StartDate:      time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 12, 7, 0, 0, 0, 0, time.UTC),
	}
	var during querycache.Entry[ChallengePages]
	h.api.setHook(func(op string, _ int) error {
		if op == "CreateChallenge" {
			during, _ = peek(t, h.caches.Challenges, ChallengesKey(7, StatusInProgress))
		}
		return nil
	})

	created, err := h.m.CreateChallenge(ctx, 7, req)
	require.NoError(t, err)
	assert.NotZero(t, created.ChallengeID)

	require.True(t, during.Speculative)
	require.Len(t, during.Value.Pages, 1)
	content := during.Value.Pages[0].Content
	require.Len(t, content, 3)
	assert.Equal(t, req.Placeholder(), content[0])
	assert.Zero(t, content[0].ChallengeID)
	assert.Zero(t, content[0].ParticipantCount)
	assert.Equal(t, seeded, content[1:])

	_, ok := peek(t, h.caches.Challenges, ChallengesKey(7, StatusInProgress))
	assert.False(t, ok, "commit invalidates the bucket")

	pages, err := h.q.Challenges(ctx, 7, StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, created.ChallengeID, pages.Pages[0].Content[0].ChallengeID)
}

func TestCreateChallengeTouchesFirstPageOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.seedChallenges(7, StatusInProgress, 12)
	h.api.seedChallenges(7, StatusClosed, 1)

	_, err := h.q.Challenges(ctx, 7, StatusInProgress)
	require.NoError(t, err)
	before, err := h.q.FetchNextChallenges(ctx, 7, StatusInProgress)
	require.NoError(t, err)
	require.Len(t, before.Pages, 2)
	closedBefore, err := h.q.Challenges(ctx, 7, StatusClosed)
	require.NoError(t, err)

	var during ChallengePages
	h.api.setHook(func(op string, _ int) error {
		if op == "CreateChallenge" {
			e, _ := peek(t, h.caches.Challenges, ChallengesKey(7, StatusInProgress))
			during = e.Value
			return errBoom
		}
		return nil
	})

	_, err = h.m.CreateChallenge(ctx, 7, ChallengeCreate{
		Title:     "Squats",
		StartDate: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, errBoom)

	require.Len(t, during.Pages, 2)
	assert.Len(t, during.Pages[0].Content, 11)
	assert.True(t, during.Pages[0].HasNext, "first page keeps its pagination flag")
	assert.Equal(t, before.Pages[1], during.Pages[1])
	assert.Equal(t, before.PageParams, during.PageParams)

	after, ok := peek(t, h.caches.Challenges, ChallengesKey(7, StatusInProgress))
	require.True(t, ok)
	assert.Equal(t, before, after.Value, "failure restores the snapshot")

	closedAfter, ok := peek(t, h.caches.Challenges, ChallengesKey(7, StatusClosed))
	require.True(t, ok)
	assert.Equal(t, closedBefore, closedAfter.Value)
}

func TestCreateChallengeColdBucket(t *testing.T) {
	h := newHarness(t)
	_, err := h.m.CreateChallenge(context.Background(), 7, ChallengeCreate{
		Title:     "Squats",
		StartDate: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, ok := peek(t, h.caches.Challenges, ChallengesKey(7, StatusInProgress))
	assert.False(t, ok)
}

func TestCreateChallengeValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.m.CreateChallenge(context.Background(), 7, ChallengeCreate{
		Title:     "Backwards",
		StartDate: time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.Equal(t, 0, h.api.count("CreateChallenge"))
}

func TestCreateChallengeInvalidatesCalendar(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.seedChallenges(7, StatusInProgress, 1)
	cal, err := h.q.Calendar(ctx, 7)
	require.NoError(t, err)
	require.Len(t, cal.Events, 1)

	_, err = h.m.CreateChallenge(ctx, 7, ChallengeCreate{
		Title:     "Squats",
		StartDate: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	cal, err = h.q.Calendar(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, cal.Events, 2)
}

func TestDeleteGathering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.seedGathering(sampleGathering(7))
	warmGathering(t, h, 7)

	require.NoError(t, h.m.DeleteGathering(ctx, 7))
	_, ok := peek(t, h.caches.Gathering, GatheringKey(7))
	assert.False(t, ok)

	_, err := h.q.Gathering(ctx, 7)
	assert.ErrorIs(t, err, errNotFound)
}

func TestDeleteGatheringFailureKeepsCache(t *testing.T) {
	h := newHarness(t)
	h.api.seedGathering(sampleGathering(7))
	before, _ := warmGathering(t, h, 7)
	h.api.setHook(func(op string, _ int) error {
		if op == "DeleteGathering" {
			return errBoom
		}
		return nil
	})

	err := h.m.DeleteGathering(context.Background(), 7)
	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "gathering: delete gathering 7")
	e, ok := peek(t, h.caches.Gathering, GatheringKey(7))
	require.True(t, ok)
	assert.Equal(t, before, e.Value)
}

func TestDeleteChallengeInvalidatesSelectedBucket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.seedChallenges(7, StatusInProgress, 2)
	closed := h.api.seedChallenges(7, StatusClosed, 2)

	_, err := h.q.Challenges(ctx, 7, StatusInProgress)
	require.NoError(t, err)
	_, err = h.q.Challenges(ctx, 7, StatusClosed)
	require.NoError(t, err)

	require.NoError(t, h.m.DeleteChallenge(ctx, 7, closed[0].ChallengeID, false))

	_, ok := peek(t, h.caches.Challenges, ChallengesKey(7, StatusClosed))
	assert.False(t, ok)
	_, ok = peek(t, h.caches.Challenges, ChallengesKey(7, StatusInProgress))
	assert.True(t, ok)

	pages, err := h.q.Challenges(ctx, 7, StatusClosed)
	require.NoError(t, err)
	assert.Equal(t, closed[1:], pages.All())
}

func TestVerifyChallenge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seeded := h.api.seedChallenges(7, StatusInProgress, 1)
	_, err := h.q.Challenges(ctx, 7, StatusInProgress)
	require.NoError(t, err)

	require.NoError(t, h.m.VerifyChallenge(ctx, 7, seeded[0].ChallengeID, "https://img.example.com/proof.png"))

	pages, err := h.q.Challenges(ctx, 7, StatusInProgress)
	require.NoError(t, err)
	require.Len(t, pages.All(), 1)
	assert.True(t, pages.All()[0].VerificationStatus)
	assert.Equal(t, 2, h.api.count("FetchChallenges"))
}

func TestVerifyChallengeFailureAndValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seeded := h.api.seedChallenges(7, StatusInProgress, 1)
	before, err := h.q.Challenges(ctx, 7, StatusInProgress)
	require.NoError(t, err)

	err = h.m.VerifyChallenge(ctx, 7, seeded[0].ChallengeID, "not a url")
	require.Error(t, err)
	assert.Equal(t, 0, h.api.count("VerifyChallenge"))

	h.api.setHook(func(op string, _ int) error {
		if op == "VerifyChallenge" {
			return errBoom
		}
		return nil
	})
	err = h.m.VerifyChallenge(ctx, 7, seeded[0].ChallengeID, "https://img.example.com/proof.png")
	require.ErrorIs(t, err, errBoom)

	e, ok := peek(t, h.caches.Challenges, ChallengesKey(7, StatusInProgress))
	require.True(t, ok)
	assert.Equal(t, before, e.Value)
	assert.Len(t, h.reported(), 2)
}

func TestSettleRunsAfterCallerContextCanceled(t *testing.T) {
	h := newHarness(t)
	h.api.seedGathering(sampleGathering(7))
	before, _ := warmGathering(t, h, 7)

	ctx, cancel := context.WithCancel(context.Background())
	h.api.setHook(func(op string, _ int) error {
		if op == "UpdateGathering" {
			cancel()
			return ctx.Err()
		}
		return nil
	})
	_, err := h.m.UpdateGathering(ctx, 7, GatheringUpdate{Title: ptr("x")})
	require.True(t, errors.Is(err, context.Canceled))

	e, ok := peek(t, h.caches.Gathering, GatheringKey(7))
	require.True(t, ok)
	assert.Equal(t, before, e.Value)
	assert.Empty(t, h.m.pending)
}
