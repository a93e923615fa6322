// Package osu implements the user directory on top of the osu! API v1.
// It resolves chat handles to stable user ids and fetches the statistics
// the recommendation engine works with.
package osu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	apperrors "github.com/edgard/recbot/internal/errors"
)

const serviceName = "osu! API"

// User is a directory entry: a stable id and the currently known name.
type User struct {
	ID   int
	Name string
}

// Stats is the snapshot of a user's activity used for recommendations.
type Stats struct {
	UserID    int
	PlayCount int
	Rank      int
	PP        float64
	Accuracy  float64
}

// Defaults for the zero values of Config.
const (
	DefaultTimeout         = 10 * time.Second
	DefaultAttempts        = 3
	DefaultRetryDelay      = 200 * time.Millisecond
	DefaultBreakerFailures = 5
	DefaultBreakerCooldown = 30 * time.Second
)

// Config holds the client settings.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int

	// Attempts is the number of tries for a request that failed with a
	// transient error (transport failure, 5xx, 429).
	Attempts   int
	RetryDelay time.Duration

	// After BreakerFailures consecutive transient failures, requests fail
	// immediately for BreakerCooldown.
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Client talks to the osu! API. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	attempts   uint
	retryDelay time.Duration
	log        *slog.Logger
}

// statusError is a non-200 answer of the API.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// isTransient reports whether repeating the request may help.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return apperrors.IsRetryable(err)
}

// NewClient creates a directory client.
func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("osu API key is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("invalid osu API base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = DefaultBreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = DefaultBreakerCooldown
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "osu_client")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        serviceName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerFailures)
		},
		IsSuccessful: func(err error) bool {
			return !isTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		http:       &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		breaker:    breaker,
		attempts:   uint(cfg.Attempts),
		retryDelay: cfg.RetryDelay,
		log:        log,
	}, nil
}

type apiUser struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	PlayCount string `json:"playcount"`
	PPRank    string `json:"pp_rank"`
	PPRaw     string `json:"pp_raw"`
	Accuracy  string `json:"accuracy"`
}

// ResolveHandle looks a user up by name. It returns a ResolutionError if
// the directory does not know the name.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (*User, error) {
	u, err := c.getUser(ctx, handle, "string")
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperrors.NewResolutionError(handle)
	}
	return u.user()
}

// GetUser looks a user up by id. It returns nil, nil if the id is unknown.
func (c *Client) GetUser(ctx context.Context, id int) (*User, error) {
	u, err := c.getUser(ctx, strconv.Itoa(id), "id")
	if err != nil || u == nil {
		return nil, err
	}
	return u.user()
}

// FetchStats returns the current statistics of a user.
func (c *Client) FetchStats(ctx context.Context, id int) (*Stats, error) {
	u, err := c.getUser(ctx, strconv.Itoa(id), "id")
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperrors.NewResolutionError(strconv.Itoa(id))
	}
	return u.stats()
}

// getUser fetches one user. It returns nil, nil if the API knows no such
// user.
func (c *Client) getUser(ctx context.Context, key, keyType string) (*apiUser, error) {
	var users []apiUser
	if err := c.get(ctx, "get_user", url.Values{"u": {key}, "type": {keyType}}, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// get calls an API endpoint and decodes its JSON answer into out,
// retrying transient failures behind the circuit breaker.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	err := retry.Do(
		func() error {
			_, err := c.breaker.Execute(func() (interface{}, error) {
				return nil, c.fetch(ctx, endpoint, params, out)
			})
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			c.log.DebugContext(ctx, "Retrying osu API request",
				"endpoint", endpoint, "attempt", n+1, "max_attempts", c.attempts, "error", err)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return apperrors.NewCommunicationError(serviceName, err)
		}
		return err
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, endpoint string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("k", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.NewCommunicationError(serviceName, err)
	}
	defer resp.Body.Close()

	c.log.DebugContext(ctx, "osu API request finished",
		"endpoint", endpoint, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.NewCommunicationError(serviceName,
			&statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewCommunicationError(serviceName, fmt.Errorf("%w: %w", apperrors.ErrMalformedResponse, err))
	}
	return nil
}

func (u *apiUser) user() (*User, error) {
	id, err := strconv.Atoi(u.UserID)
	if err != nil {
		return nil, apperrors.NewCommunicationError(serviceName, fmt.Errorf("%w: invalid user_id %q", apperrors.ErrMalformedResponse, u.UserID))
	}
	return &User{ID: id, Name: u.Username}, nil
}

func (u *apiUser) stats() (*Stats, error) {
	base, err := u.user()
	if err != nil {
		return nil, err
	}
	return &Stats{
		UserID:    base.ID,
		PlayCount: atoiOrZero(u.PlayCount),
		Rank:      atoiOrZero(u.PPRank),
		PP:        atofOrZero(u.PPRaw),
		Accuracy:  atofOrZero(u.Accuracy),
	}, nil
}

// The API sends null for users without ranked plays.
func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func atofOrZero(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// NormalizeName maps a directory name and its chat handle to the same key:
// chat handles replace spaces with underscores and case is not significant.
func NormalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}
