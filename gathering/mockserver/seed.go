package mockserver

import (
	"strconv"
	"time"

	"github.com/unkn0wn-root/querycache/gathering"
)

// SeedDemo loads a small data set: gathering 1 with 12 in-progress challenges,
// 2 closed ones and 6 guestbook entries.
func SeedDemo(s *Server) {
	start := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	g := s.SeedGathering(gathering.Gathering{
		GatheringID:       1,
		Title:             "Han river morning run",
		Description:       "Easy 5k every weekday morning",
		MainType:          "exercise",
		SubType:           "running",
		MainLocation:      "Seoul",
		SubLocation:       "Mapo-gu",
		StartDate:         start,
		EndDate:           start.AddDate(0, 2, 0),
		MinCount:          3,
		TotalCount:        10,
		ParticipantCount:  4,
		CaptainStatus:     true,
		ParticipantStatus: true,
		Tags:              []string{"run", "morning"},
	})
	for i := 0; i < 12; i++ {
		s.SeedChallenge(gathering.Challenge{
			GatheringID:       g.GatheringID,
			Title:             "Daily 5k #" + strconv.Itoa(i+1),
			StartDate:         start.AddDate(0, 0, i),
			EndDate:           start.AddDate(0, 0, i+7),
			MaxPeopleCount:    10,
			ParticipantCount:  2,
			ParticipantStatus: i%2 == 0,
		}, gathering.StatusInProgress)
	}
	for i := 0; i < 2; i++ {
		s.SeedChallenge(gathering.Challenge{
			GatheringID: g.GatheringID,
			Title:       "Warm-up week #" + strconv.Itoa(i+1),
			StartDate:   start.AddDate(0, 0, -14+i*7),
			EndDate:     start.AddDate(0, 0, -7+i*7),
		}, gathering.StatusClosed)
	}
	for i := 0; i < 6; i++ {
		s.SeedGuestbook(gathering.Guestbook{
			GatheringID: g.GatheringID,
			Content:     "Great pace, friendly people",
			Rating:      3 + i%3,
			CreatedAt:   start.AddDate(0, 0, i),
		})
	}
}
