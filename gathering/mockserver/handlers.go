package mockserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/unkn0wn-root/querycache/gathering"
)

func (s *Server) routes(api *gin.RouterGroup) {
	g := api.Group("/gatherings/:id")
	g.GET("", s.guard("getGathering", s.getGathering))
	g.PUT("", s.guard("updateGathering", s.updateGathering))
	g.DELETE("", s.guard("deleteGathering", s.deleteGathering))
	g.GET("/status", s.guard("getStatus", s.getStatus))
	g.GET("/challenges", s.guard("listChallenges", s.listChallenges))
	g.GET("/challenges/all", s.guard("allChallenges", s.allChallenges))
	g.POST("/challenges", s.guard("createChallenge", s.createChallenge))
	g.GET("/guestbooks", s.guard("listGuestbooks", s.listGuestbooks))

	ch := api.Group("/challenges/:id")
	ch.DELETE("", s.guard("deleteChallenge", s.deleteChallenge))
	ch.POST("/verification", s.guard("verifyChallenge", s.verifyChallenge))
}

// guard parses :id, applies injected failures and runs h under the state lock.
func (s *Server) guard(op string, h func(c *gin.Context, id int)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			abort(c, http.StatusBadRequest, "BAD_REQUEST", "invalid id")
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if status, ok := s.takeFailure(op); ok {
			abort(c, status, "INJECTED", op+" failed")
			return
		}
		h(c, id)
	}
}

func pageQuery(c *gin.Context, defSize int) (page, size int, err error) {
	page, err = strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		return 0, 0, errors.New("invalid page")
	}
	size, err = strconv.Atoi(c.DefaultQuery("pageSize", strconv.Itoa(defSize)))
	if err != nil || size <= 0 || size > 100 {
		return 0, 0, errors.New("invalid pageSize")
	}
	return page, size, nil
}

func window(n, page, size int) (lo, hi int) {
	lo = min(page*size, n)
	hi = min(lo+size, n)
	return lo, hi
}

func (s *Server) getGathering(c *gin.Context, id int) {
	g, ok := s.gatherings[id]
	if !ok {
		notFound(c, "gathering")
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) updateGathering(c *gin.Context, id int) {
	g, ok := s.gatherings[id]
	if !ok {
		notFound(c, "gathering")
		return
	}
	var u gathering.GatheringUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		badRequest(c, err)
		return
	}
	if err := u.Validate(); err != nil {
		badRequest(c, err)
		return
	}
	if u.TotalCount != nil && *u.TotalCount < g.ParticipantCount {
		abort(c, http.StatusConflict, "TOTAL_COUNT_TOO_SMALL", "totalCount is below the participant count")
		return
	}
	g = u.ApplyTo(g)
	s.gatherings[id] = g
	c.JSON(http.StatusOK, g)
}

func (s *Server) deleteGathering(c *gin.Context, id int) {
	if _, ok := s.gatherings[id]; !ok {
		notFound(c, "gathering")
		return
	}
	delete(s.gatherings, id)
	delete(s.challenges, id)
	delete(s.guestbooks, id)
	delete(s.ratings, id)
	c.Status(http.StatusNoContent)
}

func (s *Server) getStatus(c *gin.Context, id int) {
	g, ok := s.gatherings[id]
	if !ok {
		notFound(c, "gathering")
		return
	}
	c.JSON(http.StatusOK, gathering.GatheringStatus{
		GatheringID:      id,
		MinCount:         g.MinCount,
		TotalCount:       g.TotalCount,
		ParticipantCount: g.ParticipantCount,
		AverageRating:    s.ratings[id],
		GuestbookCount:   len(s.guestbooks[id]),
	})
}

func (s *Server) bucket(id int, status gathering.ChallengeStatus) []gathering.Challenge {
	var out []gathering.Challenge
	for _, r := range s.challenges[id] {
		if status == "" || r.status == status {
			out = append(out, r.c)
		}
	}
	return out
}

func (s *Server) listChallenges(c *gin.Context, id int) {
	page, size, err := pageQuery(c, gathering.ChallengePageSize)
	if err != nil {
		badRequest(c, err)
		return
	}
	status := gathering.ChallengeStatus(c.DefaultQuery("status", string(gathering.StatusInProgress)))
	if status != gathering.StatusInProgress && status != gathering.StatusClosed {
		abort(c, http.StatusBadRequest, "BAD_REQUEST", "invalid status")
		return
	}
	all := s.bucket(id, status)
	lo, hi := window(len(all), page, size)
	content := make([]gathering.Challenge, 0, hi-lo)
	content = append(content, all[lo:hi]...)
	c.JSON(http.StatusOK, gathering.ChallengePage{Content: content, HasNext: hi < len(all)})
}

func (s *Server) allChallenges(c *gin.Context, id int) {
	all := s.bucket(id, "")
	if all == nil {
		all = []gathering.Challenge{}
	}
	c.JSON(http.StatusOK, all)
}

func (s *Server) createChallenge(c *gin.Context, id int) {
	if _, ok := s.gatherings[id]; !ok {
		notFound(c, "gathering")
		return
	}
	var req gathering.ChallengeCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, err)
		return
	}
	ch := req.Placeholder()
	ch.ChallengeID = s.id()
	ch.GatheringID = id
	ch.ParticipantCount = 1
	ch.ParticipantStatus = true
	s.challenges[id] = append([]*challengeRecord{{c: ch, status: gathering.StatusInProgress}}, s.challenges[id]...)
	c.JSON(http.StatusCreated, ch)
}

func (s *Server) deleteChallenge(c *gin.Context, id int) {
	for gid, recs := range s.challenges {
		for i, r := range recs {
			if r.c.ChallengeID == id {
				s.challenges[gid] = append(recs[:i:i], recs[i+1:]...)
				c.Status(http.StatusNoContent)
				return
			}
		}
	}
	notFound(c, "challenge")
}

func (s *Server) verifyChallenge(c *gin.Context, id int) {
	var req gathering.VerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, err)
		return
	}
	for _, recs := range s.challenges {
		for _, r := range recs {
			if r.c.ChallengeID != id {
				continue
			}
			if r.status != gathering.StatusInProgress {
				abort(c, http.StatusConflict, "CHALLENGE_CLOSED", "challenge is closed")
				return
			}
			if r.c.VerificationStatus {
				abort(c, http.StatusConflict, "ALREADY_VERIFIED", "challenge already verified today")
				return
			}
			if !r.c.ParticipantStatus {
				r.c.ParticipantStatus = true
				r.c.ParticipantCount++
			}
			r.c.VerificationStatus = true
			r.c.SuccessParticipantCount++
			c.Status(http.StatusNoContent)
			return
		}
	}
	notFound(c, "challenge")
}

func (s *Server) listGuestbooks(c *gin.Context, id int) {
	page, size, err := pageQuery(c, gathering.GuestbookPageSize)
	if err != nil {
		badRequest(c, err)
		return
	}
	all := s.guestbooks[id]
	lo, hi := window(len(all), page, size)
	content := make([]gathering.Guestbook, 0, hi-lo)
	content = append(content, all[lo:hi]...)
	c.JSON(http.StatusOK, gathering.GuestbookPage{Content: content, HasNext: hi < len(all), TotalCount: len(all)})
}
