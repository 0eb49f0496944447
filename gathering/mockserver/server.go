// Package mockserver is an in-memory implementation of the gathering REST API.
// It backs the rest client tests and `gatherctl serve-mock`.
package mockserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/querycache/gathering"
)

type Options struct {
	Logger  *zap.Logger   // nil => no request log
	Latency time.Duration // added to every request
	Gzip    bool
}

type challengeRecord struct {
	c      gathering.Challenge
	status gathering.ChallengeStatus
}

// Server holds the API state. All methods are safe for concurrent use.
type Server struct {
	opts   Options
	engine *gin.Engine

	mu         sync.Mutex
	gatherings map[int]gathering.Gathering
	ratings    map[int]float64
	challenges map[int][]*challengeRecord // newest first
	guestbooks map[int][]gathering.Guestbook
	failures   map[string][]int
	nextID     int
}

func New(opts Options) *Server {
	s := &Server{
		opts:       opts,
		gatherings: make(map[int]gathering.Gathering),
		ratings:    make(map[int]float64),
		challenges: make(map[int][]*challengeRecord),
		guestbooks: make(map[int][]gathering.Guestbook),
		failures:   make(map[string][]int),
		nextID:     1,
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.logRequests())
	if opts.Gzip {
		r.Use(gzip.Gzip(gzip.DefaultCompression))
	}
	if opts.Latency > 0 {
		r.Use(func(c *gin.Context) {
			time.Sleep(opts.Latency)
			c.Next()
		})
	}
	s.routes(r.Group("/api/v1"))
	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// FailNext makes the next call of op answer with status. Ops are the handler names:
// getGathering, updateGathering, deleteGathering, getStatus, listChallenges,
// allChallenges, createChallenge, deleteChallenge, verifyChallenge, listGuestbooks.
func (s *Server) FailNext(op string, status int) {
	s.mu.Lock()
	s.failures[op] = append(s.failures[op], status)
	s.mu.Unlock()
}

func (s *Server) SeedGathering(g gathering.Gathering) gathering.Gathering {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.GatheringID == 0 {
		g.GatheringID = s.id()
	} else if g.GatheringID >= s.nextID {
		s.nextID = g.GatheringID + 1
	}
	s.gatherings[g.GatheringID] = g
	return g
}

// SeedChallenge stores c in the given bucket. Seeded challenges list after existing ones.
func (s *Server) SeedChallenge(c gathering.Challenge, status gathering.ChallengeStatus) gathering.Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ChallengeID == 0 {
		c.ChallengeID = s.id()
	} else if c.ChallengeID >= s.nextID {
		s.nextID = c.ChallengeID + 1
	}
	s.challenges[c.GatheringID] = append(s.challenges[c.GatheringID], &challengeRecord{c: c, status: status})
	return c
}

func (s *Server) SeedGuestbook(gb gathering.Guestbook) gathering.Guestbook {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gb.GuestbookID == 0 {
		gb.GuestbookID = s.id()
	}
	s.guestbooks[gb.GatheringID] = append(s.guestbooks[gb.GatheringID], gb)
	s.recomputeRating(gb.GatheringID)
	return gb
}

// Gathering returns the stored gathering, for assertions.
func (s *Server) Gathering(id int) (gathering.Gathering, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gatherings[id]
	return g, ok
}

func (s *Server) id() int {
	id := s.nextID
	s.nextID++
	return id
}

func (s *Server) recomputeRating(gatheringID int) {
	gbs := s.guestbooks[gatheringID]
	if len(gbs) == 0 {
		delete(s.ratings, gatheringID)
		return
	}
	var sum int
	for _, gb := range gbs {
		sum += gb.Rating
	}
	s.ratings[gatheringID] = float64(sum) / float64(len(gbs))
}

// takeFailure pops the injected status for op. Caller holds s.mu.
func (s *Server) takeFailure(op string) (int, bool) {
	q := s.failures[op]
	if len(q) == 0 {
		return 0, false
	}
	s.failures[op] = q[1:]
	return q[0], true
}
