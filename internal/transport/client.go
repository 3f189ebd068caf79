package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/signalcache/internal/models"
)

// Config tunes the REST client for the signal API.
type Config struct {
	BaseURL   string
	AuthToken string
	UserAgent string
	Timeout   time.Duration
	RPS       float64
	Burst     int

	// Breaker opens after this many consecutive upstream failures and
	// half-opens after the cooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client fetches list pages, detail records and the analytics aggregate,
// and issues the remote saved toggle. Every call passes a client-side
// rate limiter and a circuit breaker; 4xx responses are application
// errors and do not trip the breaker.
type Client struct {
	baseURL   string
	authToken string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "signalcache/1.0 (signal API client)"
	}

	settings := gobreaker.Settings{
		Name:    "signal-api",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state change")
		},
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		authToken: cfg.AuthToken,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker:   gobreaker.NewCircuitBreaker(settings),
	}
}

type apiResponse struct {
	status int
	body   []byte
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values) (apiResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return apiResponse{}, fmt.Errorf("rate limit wait: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, u, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		if c.authToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.authToken)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("upstream %d: %s", resp.StatusCode, string(body))
		}
		return apiResponse{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		return apiResponse{}, err
	}
	return result.(apiResponse), nil
}

// FetchList retrieves one page of signals for the query.
func (c *Client) FetchList(ctx context.Context, q models.ListQuery) (models.ListResult, error) {
	query := url.Values{}
	query.Set("market", q.Market)
	query.Set("min_score", strconv.FormatFloat(q.MinScore, 'g', -1, 64))
	if q.Strength != "" {
		query.Set("strength", string(q.Strength))
	}
	if q.SavedBy != "" {
		query.Set("saved_by", q.SavedBy)
	}
	query.Set("include_expired", strconv.FormatBool(q.IncludeExpired))
	query.Set("sort", q.SortBy)
	query.Set("desc", strconv.FormatBool(q.SortDesc))
	query.Set("page", strconv.Itoa(q.Page))
	query.Set("size", strconv.Itoa(q.PageSize))

	resp, err := c.do(ctx, http.MethodGet, "/v1/signals", query)
	if err != nil {
		return models.ListResult{}, fmt.Errorf("fetch list: %w", err)
	}
	if resp.status != http.StatusOK {
		return models.ListResult{}, fmt.Errorf("fetch list: unexpected status %d", resp.status)
	}

	var lr models.ListResult
	if err := json.Unmarshal(resp.body, &lr); err != nil {
		return models.ListResult{}, fmt.Errorf("fetch list: decode: %w", err)
	}
	return lr, nil
}

// FetchDetail retrieves one signal by identity. A 404 is reported as
// absent, not as an error.
func (c *Client) FetchDetail(ctx context.Context, id string) (models.Signal, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/signals/"+url.PathEscape(id), nil)
	if err != nil {
		return models.Signal{}, false, fmt.Errorf("fetch detail %s: %w", id, err)
	}
	if resp.status == http.StatusNotFound {
		return models.Signal{}, false, nil
	}
	if resp.status != http.StatusOK {
		return models.Signal{}, false, fmt.Errorf("fetch detail %s: unexpected status %d", id, resp.status)
	}

	var sig models.Signal
	if err := json.Unmarshal(resp.body, &sig); err != nil {
		return models.Signal{}, false, fmt.Errorf("fetch detail %s: decode: %w", id, err)
	}
	return sig, true, nil
}

// FetchAggregate retrieves the analytics summary.
func (c *Client) FetchAggregate(ctx context.Context) (models.Aggregate, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/analytics/summary", nil)
	if err != nil {
		return models.Aggregate{}, fmt.Errorf("fetch aggregate: %w", err)
	}
	if resp.status != http.StatusOK {
		return models.Aggregate{}, fmt.Errorf("fetch aggregate: unexpected status %d", resp.status)
	}

	var agg models.Aggregate
	if err := json.Unmarshal(resp.body, &agg); err != nil {
		return models.Aggregate{}, fmt.Errorf("fetch aggregate: decode: %w", err)
	}
	return agg, nil
}

// MutateSaved toggles the acting user's saved state server-side and
// returns the authoritative new state. Called at most once per
// optimistic apply; retries are the caller's choice.
func (c *Client) MutateSaved(ctx context.Context, id string) (bool, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/signals/"+url.PathEscape(id)+"/saved", nil)
	if err != nil {
		return false, fmt.Errorf("mutate saved %s: %w", id, err)
	}
	if resp.status != http.StatusOK {
		return false, fmt.Errorf("mutate saved %s: unexpected status %d", id, resp.status)
	}

	var out struct {
		Saved bool `json:"saved"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return false, fmt.Errorf("mutate saved %s: decode: %w", id, err)
	}
	return out.Saved, nil
}
