// Package auth issues and caches the short-lived bearer tokens the cloud
// speech endpoints require. Azure's STS endpoint exchanges a subscription key
// for a JWT valid for ten minutes; the cached token is reused until it is
// within the refresh margin of expiry, then re-fetched under a mutex so
// concurrent callers trigger at most one refresh.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	issueTokenEndpointFmt = "https://%s.api.cognitive.microsoft.com/sts/v1.0/issueToken"

	// tokenLifetime is how long Azure STS tokens stay valid.
	tokenLifetime = 10 * time.Minute

	// refreshMargin is how early a cached token is considered stale. Tokens
	// within this margin of expiry are refreshed before use.
	refreshMargin = 30 * time.Second

	defaultTimeout = 10 * time.Second
)

// Option is a functional option for configuring a TokenSource.
type Option func(*TokenSource)

// WithEndpoint overrides the STS endpoint URL. Used in tests.
func WithEndpoint(url string) Option {
	return func(ts *TokenSource) { ts.endpoint = url }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(ts *TokenSource) { ts.now = now }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(ts *TokenSource) { ts.httpClient.Timeout = d }
}

// TokenSource exchanges a subscription key for cached bearer tokens. Safe for
// concurrent use.
type TokenSource struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenSource creates a TokenSource for the given region and key.
func NewTokenSource(region, apiKey string, opts ...Option) (*TokenSource, error) {
	if region == "" {
		return nil, errors.New("auth: region must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("auth: apiKey must not be empty")
	}
	ts := &TokenSource{
		endpoint:   fmt.Sprintf(issueTokenEndpointFmt, region),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		now:        time.Now,
	}
	for _, o := range opts {
		o(ts)
	}
	return ts, nil
}

// Token returns a valid bearer token, refreshing when the cached one is
// within the refresh margin of expiry.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Before(ts.expires.Add(-refreshMargin)) {
		return ts.token, nil
	}

	token, err := ts.fetch(ctx)
	if err != nil {
		return "", err
	}
	ts.token = token
	ts.expires = ts.now().Add(tokenLifetime)
	return token, nil
}

// Invalidate discards the cached token so the next Token call re-fetches.
// Called when a provider rejects the token before its expected expiry.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = ""
	ts.expires = time.Time{}
}

func (ts *TokenSource) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("auth: build token request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", ts.apiKey)

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: issue token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth: issue token: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("auth: read token: %w", err)
	}
	if len(body) == 0 {
		return "", errors.New("auth: empty token response")
	}
	return string(body), nil
}
