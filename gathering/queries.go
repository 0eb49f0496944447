package gathering

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/unkn0wn-root/querycache"
)

// ErrNoNextPage is returned by FetchNextChallenges when the last loaded page reported
// no more data.
var ErrNoNextPage = errors.New("gathering: no next page")

// CalendarColor is the background color of every calendar event.
const CalendarColor = "#FF2140"

// Queries are the cached read paths.
type Queries struct {
	api    API
	caches *Caches
	log    querycache.Logger
}

func NewQueries(api API, caches *Caches, log querycache.Logger) *Queries {
	if log == nil {
		log = querycache.NopLogger{}
	}
	return &Queries{api: api, caches: caches, log: log}
}

func (q *Queries) Gathering(ctx context.Context, id int) (Gathering, error) {
	g, err := q.caches.Gathering.Fetch(ctx, GatheringKey(id), func(ctx context.Context) (Gathering, error) {
		return q.api.FetchGathering(ctx, id)
	})
	if err != nil {
		return Gathering{}, fmt.Errorf("gathering: fetch gathering %d: %w", id, err)
	}
	return g, nil
}

func (q *Queries) Status(ctx context.Context, id int) (GatheringStatus, error) {
	s, err := q.caches.Status.Fetch(ctx, StatusKey(id), func(ctx context.Context) (GatheringStatus, error) {
		return q.api.FetchGatheringStatus(ctx, id)
	})
	if err != nil {
		return GatheringStatus{}, fmt.Errorf("gathering: fetch status %d: %w", id, err)
	}
	return s, nil
}

// Guestbooks returns one page of guestbook entries. Every page is its own cache entry.
func (q *Queries) Guestbooks(ctx context.Context, id, page int) (GuestbookPage, error) {
	p, err := q.caches.Guestbooks.Fetch(ctx, GuestbooksKey(id, page), func(ctx context.Context) (GuestbookPage, error) {
		return q.api.FetchGuestbooks(ctx, id, page, GuestbookPageSize)
	})
	if err != nil {
		return GuestbookPage{}, fmt.Errorf("gathering: fetch guestbooks %d page %d: %w", id, page, err)
	}
	return p, nil
}

// Challenges returns the loaded pages of a challenge bucket, fetching page 0 on a miss.
func (q *Queries) Challenges(ctx context.Context, id int, status ChallengeStatus) (ChallengePages, error) {
	p, err := q.caches.Challenges.Fetch(ctx, ChallengesKey(id, status), func(ctx context.Context) (ChallengePages, error) {
		first, err := q.api.FetchChallenges(ctx, id, 0, ChallengePageSize, status)
		if err != nil {
			return ChallengePages{}, err
		}
		return ChallengePages{}.WithPage(0, first), nil
	})
	if err != nil {
		return ChallengePages{}, fmt.Errorf("gathering: fetch challenges %d %s: %w", id, status, err)
	}
	return p, nil
}

// FetchNextChallenges loads the next page of a bucket and appends it to the cached pages.
// When the last page has no successor the pages are returned unchanged with ErrNoNextPage.
// If a mutation touched the bucket while the page was loading, the page is dropped and
// the current cached pages are returned. While a mutation holds a speculative value the
// merged pages are returned without being cached, leaving the mutation's rollback intact.
func (q *Queries) FetchNextChallenges(ctx context.Context, id int, status ChallengeStatus) (ChallengePages, error) {
	key := ChallengesKey(id, status)
	if _, err := q.Challenges(ctx, id, status); err != nil {
		return ChallengePages{}, err
	}
	cur, ok, err := q.caches.Challenges.Peek(ctx, key)
	if err != nil {
		return ChallengePages{}, fmt.Errorf("gathering: read challenges %d %s: %w", id, status, err)
	}
	if !ok {
		// evicted between the two reads; start over from page 0
		return q.Challenges(ctx, id, status)
	}

	next, more := cur.Value.NextPageParam()
	if !more {
		return cur.Value, ErrNoNextPage
	}
	page, err := q.api.FetchChallenges(ctx, id, next, ChallengePageSize, status)
	if err != nil {
		return cur.Value, fmt.Errorf("gathering: fetch challenges %d %s page %d: %w", id, status, next, err)
	}

	merged := cur.Value.WithPage(next, page)
	if cur.Speculative {
		q.log.Debug("next challenge page not cached during mutation", querycache.Fields{"key": key, "page": next})
		return merged, nil
	}
	stored, err := q.caches.Challenges.SetWithGen(ctx, key, merged, cur.Gen, 0)
	if err != nil {
		q.log.Warn("store next challenge page failed", querycache.Fields{"key": key, "page": next, "err": err})
		return merged, nil
	}
	if !stored {
		q.log.Debug("next challenge page superseded", querycache.Fields{"key": key, "page": next})
		if latest, hit, _ := q.caches.Challenges.Get(ctx, key); hit {
			return latest, nil
		}
	}
	return merged, nil
}

// Calendar maps every challenge of a gathering to a calendar event.
func (q *Queries) Calendar(ctx context.Context, id int) (Calendar, error) {
	c, err := q.caches.Calendar.Fetch(ctx, CalendarKey(id), func(ctx context.Context) (Calendar, error) {
		all, err := q.api.FetchAllChallenges(ctx, id)
		if err != nil {
			return Calendar{}, err
		}
		return NewCalendar(all), nil
	})
	if err != nil {
		return Calendar{}, fmt.Errorf("gathering: fetch calendar %d: %w", id, err)
	}
	return c, nil
}

func NewCalendar(all []Challenge) Calendar {
	events := make([]CalendarEvent, 0, len(all))
	for _, c := range all {
		events = append(events, CalendarEvent{
			ID:              strconv.Itoa(c.GatheringID),
			Start:           c.StartDate,
			End:             c.EndDate,
			Title:           c.Title,
			BackgroundColor: CalendarColor,
		})
	}
	return Calendar{Challenges: all, Events: events}
}
