package gathering

import "github.com/unkn0wn-root/querycache/internal/util"

// Query keys. They are stable across processes so a shared provider sees the same entries.

func GatheringKey(id int) string { return util.JoinKey("gathering", id) }

func StatusKey(id int) string { return util.JoinKey("gatheringStatus", id) }

func ChallengesKey(id int, status ChallengeStatus) string {
	return util.JoinKey("gatheringChallenges", id, string(status))
}

func GuestbooksKey(id, page int) string { return util.JoinKey("gatheringGuestbooks", id, page) }

func CalendarKey(id int) string { return util.JoinKey("gatheringCalendar", id) }
