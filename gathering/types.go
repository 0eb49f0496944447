package gathering

import "time"

// ChallengeStatus is the progress bucket a challenge list is keyed by.
type ChallengeStatus string

const (
	StatusInProgress ChallengeStatus = "IN_PROGRESS"
	StatusClosed     ChallengeStatus = "CLOSED"
)

// StatusFor maps the caller-side "in progress" flag to a bucket.
func StatusFor(inProgress bool) ChallengeStatus {
	if inProgress {
		return StatusInProgress
	}
	return StatusClosed
}

type Gathering struct {
	GatheringID       int       `json:"gatheringId"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	MainType          string    `json:"mainType"`
	SubType           string    `json:"subType"`
	ImageURL          string    `json:"imageUrl"`
	MainLocation      string    `json:"mainLocation"`
	SubLocation       string    `json:"subLocation"`
	StartDate         time.Time `json:"startDate"`
	EndDate           time.Time `json:"endDate"`
	MinCount          int       `json:"minCount"`
	TotalCount        int       `json:"totalCount"`
	ParticipantCount  int       `json:"participantCount"`
	CaptainStatus     bool      `json:"captainStatus"`
	ParticipantStatus bool      `json:"participantStatus"`
	Tags              []string  `json:"tags,omitempty"`
}

// GatheringStatus is the participation aggregate shown next to a gathering.
type GatheringStatus struct {
	GatheringID      int     `json:"gatheringId"`
	MinCount         int     `json:"minCount"`
	TotalCount       int     `json:"totalCount"`
	ParticipantCount int     `json:"participantCount"`
	AverageRating    float64 `json:"averageRating"`
	GuestbookCount   int     `json:"guestbookCount"`
}

type Challenge struct {
	ChallengeID             int       `json:"challengeId"`
	GatheringID             int       `json:"gatheringId"`
	Title                   string    `json:"title"`
	Description             string    `json:"description"`
	ImageURL                string    `json:"imageUrl"`
	MaxPeopleCount          int       `json:"maxPeopleCount"`
	StartDate               time.Time `json:"startDate"`
	EndDate                 time.Time `json:"endDate"`
	ParticipantCount        int       `json:"participantCount"`
	SuccessParticipantCount int       `json:"successParticipantCount"`
	ParticipantStatus       bool      `json:"participantStatus"`
	VerificationStatus      bool      `json:"verificationStatus"`
}

// ChallengePage is one server page of a challenge bucket.
type ChallengePage struct {
	Content []Challenge `json:"content"`
	HasNext bool        `json:"hasNext"`
}

// ChallengePages is the cached, incrementally loaded challenge bucket.
// PageParams[i] is the page number that produced Pages[i].
type ChallengePages struct {
	Pages      []ChallengePage `json:"pages"`
	PageParams []int           `json:"pageParams"`
}

// NextPageParam returns the page to request next. ok is false when the last loaded
// page reported no more data, or nothing is loaded yet.
func (p ChallengePages) NextPageParam() (int, bool) {
	if len(p.Pages) == 0 || !p.Pages[len(p.Pages)-1].HasNext {
		return 0, false
	}
	return len(p.Pages), true
}

// WithPage returns a copy with page appended.
func (p ChallengePages) WithPage(param int, page ChallengePage) ChallengePages {
	out := ChallengePages{
		Pages:      make([]ChallengePage, 0, len(p.Pages)+1),
		PageParams: make([]int, 0, len(p.PageParams)+1),
	}
	out.Pages = append(append(out.Pages, p.Pages...), page)
	out.PageParams = append(append(out.PageParams, p.PageParams...), param)
	return out
}

// PrependToFirst returns a copy with c inserted at the head of the first page.
// Later pages and the first page's HasNext are kept as they are. Reports false
// (and returns p unchanged) when no page is loaded.
func (p ChallengePages) PrependToFirst(c Challenge) (ChallengePages, bool) {
	if len(p.Pages) == 0 {
		return p, false
	}
	pages := make([]ChallengePage, len(p.Pages))
	copy(pages, p.Pages)

	first := pages[0]
	content := make([]Challenge, 0, len(first.Content)+1)
	content = append(append(content, c), first.Content...)
	pages[0] = ChallengePage{Content: content, HasNext: first.HasNext}

	params := make([]int, len(p.PageParams))
	copy(params, p.PageParams)
	return ChallengePages{Pages: pages, PageParams: params}, true
}

// All flattens the loaded pages in order.
func (p ChallengePages) All() []Challenge {
	var out []Challenge
	for _, pg := range p.Pages {
		out = append(out, pg.Content...)
	}
	return out
}

type Guestbook struct {
	GuestbookID int       `json:"guestbookId"`
	GatheringID int       `json:"gatheringId"`
	Content     string    `json:"content"`
	Rating      int       `json:"rating"`
	CreatedAt   time.Time `json:"createdAt"`
}

type GuestbookPage struct {
	Content    []Guestbook `json:"content"`
	HasNext    bool        `json:"hasNext"`
	TotalCount int         `json:"totalCount"`
}

// CalendarEvent is a challenge projected onto a calendar.
type CalendarEvent struct {
	ID              string    `json:"id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Title           string    `json:"title"`
	BackgroundColor string    `json:"backgroundColor"`
}

type Calendar struct {
	Challenges []Challenge      `json:"challenges"`
	Events     []CalendarEvent `json:"events"`
}
