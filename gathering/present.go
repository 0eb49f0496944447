package gathering

import (
	"fmt"
	"strings"
	"time"
)

// Fallback images for records without a usable image URL.
const (
	DefaultImageURL          = "/assets/image/default_img.png"
	DefaultChallengeImageURL = "https://fitmon-bucket.s3.amazonaws.com/gatherings/06389c8f-340c-4864-86fb-7d9a88a632d5_default.png"
)

// ParticipationStatus is the viewer's standing in a challenge.
type ParticipationStatus int

const (
	NotJoined ParticipationStatus = iota
	Participating
	Completed
)

func (s ParticipationStatus) Label() string {
	switch s {
	case Completed:
		return "참여완료"
	case Participating:
		return "참여중"
	default:
		return "미참여"
	}
}

func (s ParticipationStatus) String() string {
	switch s {
	case Completed:
		return "completed"
	case Participating:
		return "participating"
	default:
		return "not_joined"
	}
}

// StatusOf resolves the participation status shown for c inside g.
// Members only ever see challenges they joined, so for them anything
// unfinished counts as participating.
func StatusOf(g Gathering, c Challenge) ParticipationStatus {
	if c.VerificationStatus && c.ParticipantStatus {
		return Completed
	}
	if !g.CaptainStatus || c.ParticipantStatus {
		return Participating
	}
	return NotJoined
}

// VisibleChallenges filters in-progress challenges for the viewer:
// captains see all of them, members only the ones they joined.
func VisibleChallenges(g Gathering, inProgress []Challenge) []Challenge {
	if g.CaptainStatus {
		return inProgress
	}
	out := make([]Challenge, 0, len(inProgress))
	for _, c := range inProgress {
		if c.ParticipantStatus {
			out = append(out, c)
		}
	}
	return out
}

// ImageOrDefault treats an empty URL and the literal "null" as missing.
func ImageOrDefault(url, fallback string) string {
	if url == "" || url == "null" {
		return fallback
	}
	return url
}

func DetailLink(gatheringID int) string { return fmt.Sprintf("/detail/%d", gatheringID) }

// DatePart renders the calendar date as YYYY.MM.DD. The zero time renders as "".
func DatePart(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006.01.02")
}

// DateRange renders "start ~ end".
func DateRange(start, end time.Time) string {
	return DatePart(start) + " ~ " + DatePart(end)
}

// LocationLine renders "<head> | <main> <sub>". head is usually the title or sub type.
func LocationLine(head, main, sub string) string {
	return strings.TrimSpace(head + " | " + strings.TrimSpace(main+" "+sub))
}

func ParticipantsLine(participants, total int) string {
	return fmt.Sprintf("%d/%d", participants, total)
}

// GuestbookCard is a guestbook entry prepared for display. The gathering may be unknown,
// in which case the location is empty and the image falls back to the default.
type GuestbookCard struct {
	Link     string
	ImageURL string
	Title    string
	Location string
	Date     string
	Rating   int
	Content  string
}

func NewGuestbookCard(gb Guestbook, g *Gathering) GuestbookCard {
	card := GuestbookCard{
		Link:     DetailLink(gb.GatheringID),
		ImageURL: DefaultImageURL,
		Date:     DatePart(gb.CreatedAt),
		Rating:   gb.Rating,
		Content:  gb.Content,
	}
	if g == nil {
		return card
	}
	if gb.GatheringID == 0 {
		card.Link = DetailLink(g.GatheringID)
	}
	card.ImageURL = ImageOrDefault(g.ImageURL, DefaultImageURL)
	card.Title = g.Title
	card.Location = LocationLine(g.Title, g.MainLocation, g.SubLocation)
	return card
}

// GuestbookCandidate is a gathering the viewer can still write a guestbook for.
type GuestbookCandidate struct {
	GatheringID  int
	Link         string
	ImageURL     string
	Title        string
	Location     string
	Dates        string
	Participants string
}

func GuestbookCandidates(gs []Gathering) []GuestbookCandidate {
	out := make([]GuestbookCandidate, 0, len(gs))
	for _, g := range gs {
		out = append(out, GuestbookCandidate{
			GatheringID:  g.GatheringID,
			Link:         DetailLink(g.GatheringID),
			ImageURL:     ImageOrDefault(g.ImageURL, DefaultImageURL),
			Title:        g.Title,
			Location:     LocationLine(g.SubType, g.MainLocation, g.SubLocation),
			Dates:        DateRange(g.StartDate, g.EndDate),
			Participants: ParticipantsLine(g.ParticipantCount, g.TotalCount),
		})
	}
	return out
}

// ChallengeCard is a challenge prepared for the gathering page.
type ChallengeCard struct {
	Challenge Challenge
	ImageURL  string
	Status    ParticipationStatus
	Dates     string
}

// ChallengeCards applies VisibleChallenges and resolves display fields. Cards show the
// gathering's period, not the challenge's.
func ChallengeCards(g Gathering, inProgress []Challenge) []ChallengeCard {
	visible := VisibleChallenges(g, inProgress)
	out := make([]ChallengeCard, 0, len(visible))
	for _, c := range visible {
		out = append(out, ChallengeCard{
			Challenge: c,
			ImageURL:  ImageOrDefault(c.ImageURL, DefaultChallengeImageURL),
			Status:    StatusOf(g, c),
			Dates:     DateRange(g.StartDate, g.EndDate),
		})
	}
	return out
}
