package gathering

import "context"

// Page sizes used by the read queries.
const (
	ChallengePageSize = 10
	GuestbookPageSize = 4
)

// API is the REST boundary. gathering/rest.Client is the production implementation.
type API interface {
	FetchGathering(ctx context.Context, id int) (Gathering, error)
	FetchGatheringStatus(ctx context.Context, id int) (GatheringStatus, error)
	FetchChallenges(ctx context.Context, id, page, pageSize int, status ChallengeStatus) (ChallengePage, error)
	FetchAllChallenges(ctx context.Context, id int) ([]Challenge, error)
	FetchGuestbooks(ctx context.Context, id, page, pageSize int) (GuestbookPage, error)

	UpdateGathering(ctx context.Context, id int, u GatheringUpdate) (Gathering, error)
	DeleteGathering(ctx context.Context, id int) error
	CreateChallenge(ctx context.Context, gatheringID int, c ChallengeCreate) (Challenge, error)
	DeleteChallenge(ctx context.Context, challengeID int) error
	VerifyChallenge(ctx context.Context, challengeID int, imageURL string) error
}
