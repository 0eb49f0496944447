// Package rest implements gathering.API over the platform's HTTP API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/gathering"
)

const (
	apiPrefix       = "/api/v1"
	requestIDHeader = "X-Request-Id"
	maxErrorBody    = 64 << 10
)

// ErrNotFound matches any *APIError with status 404.
var ErrNotFound = errors.New("rest: not found")

// APIError is a non-2xx response. Code and Message come from the {"code","message"} body
// when the server sent one.
type APIError struct {
	Status    int    `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rest: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("rest: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

type Options struct {
	BaseURL    string
	HTTPClient *http.Client // nil => client with Timeout
	Timeout    time.Duration
	Token      string     // sent as a Bearer token when set
	RateLimit  rate.Limit // requests per second; 0 => unlimited
	Burst      int
	Logger     querycache.Logger
}

// Client is safe for concurrent use.
type Client struct {
	base    *url.URL
	hc      *http.Client
	token   string
	limiter *rate.Limiter
	log     querycache.Logger
}

var _ gathering.API = (*Client)(nil)

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("rest: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("rest: parse base url: %w", err)
	}
	c := &Client{base: base, hc: opts.HTTPClient, token: opts.Token, log: opts.Logger}
	if c.hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		c.hc = &http.Client{Timeout: timeout}
	}
	if c.log == nil {
		c.log = querycache.NopLogger{}
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	return c, nil
}

func (c *Client) FetchGathering(ctx context.Context, id int) (gathering.Gathering, error) {
	var g gathering.Gathering
	err := c.do(ctx, http.MethodGet, gatheringPath(id), nil, nil, &g)
	return g, err
}

func (c *Client) FetchGatheringStatus(ctx context.Context, id int) (gathering.GatheringStatus, error) {
	var s gathering.GatheringStatus
	err := c.do(ctx, http.MethodGet, gatheringPath(id)+"/status", nil, nil, &s)
	return s, err
}

func (c *Client) FetchChallenges(ctx context.Context, id, page, pageSize int, status gathering.ChallengeStatus) (gathering.ChallengePage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("status", string(status))
	var p gathering.ChallengePage
	err := c.do(ctx, http.MethodGet, gatheringPath(id)+"/challenges", q, nil, &p)
	return p, err
}

func (c *Client) FetchAllChallenges(ctx context.Context, id int) ([]gathering.Challenge, error) {
	var all []gathering.Challenge
	err := c.do(ctx, http.MethodGet, gatheringPath(id)+"/challenges/all", nil, nil, &all)
	return all, err
}

func (c *Client) FetchGuestbooks(ctx context.Context, id, page, pageSize int) (gathering.GuestbookPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	var p gathering.GuestbookPage
	err := c.do(ctx, http.MethodGet, gatheringPath(id)+"/guestbooks", q, nil, &p)
	return p, err
}

func (c *Client) UpdateGathering(ctx context.Context, id int, u gathering.GatheringUpdate) (gathering.Gathering, error) {
	var g gathering.Gathering
	err := c.do(ctx, http.MethodPut, gatheringPath(id), nil, u, &g)
	return g, err
}

func (c *Client) DeleteGathering(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodDelete, gatheringPath(id), nil, nil, nil)
}

func (c *Client) CreateChallenge(ctx context.Context, gatheringID int, req gathering.ChallengeCreate) (gathering.Challenge, error) {
	var ch gathering.Challenge
	err := c.do(ctx, http.MethodPost, gatheringPath(gatheringID)+"/challenges", nil, req, &ch)
	return ch, err
}

func (c *Client) DeleteChallenge(ctx context.Context, challengeID int) error {
	return c.do(ctx, http.MethodDelete, challengePath(challengeID), nil, nil, nil)
}

func (c *Client) VerifyChallenge(ctx context.Context, challengeID int, imageURL string) error {
	body := gathering.VerificationRequest{ImageURL: imageURL}
	return c.do(ctx, http.MethodPost, challengePath(challengeID)+"/verification", nil, body, nil)
}

func gatheringPath(id int) string { return apiPrefix + "/gatherings/" + strconv.Itoa(id) }

func challengePath(id int) string { return apiPrefix + "/challenges/" + strconv.Itoa(id) }

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rest: %s %s: %w", method, path, err)
		}
	}

	u := *c.base
	u.Path = c.base.Path + path
	if q != nil {
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("rest: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("rest: %s %s: %w", method, path, err)
	}
	reqID := uuid.NewString()
	req.Header.Set(requestIDHeader, reqID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("rest: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.log.Debug("api request", querycache.Fields{
		"method":    method,
		"path":      path,
		"status":    resp.StatusCode,
		"requestId": reqID,
		"took":      time.Since(start),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, RequestID: reqID}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, apiErr)
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest: decode %s %s: %w", method, path, err)
	}
	return nil
}
