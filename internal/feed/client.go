package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/ksred/sdrflow/internal/types"
	"github.com/rs/zerolog/log"
)

// FetchError carries the upstream status or cause of a failed fetch. It is
// recoverable: the orchestrator logs it and retries on the next cycle.
type FetchError struct {
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("feed fetch failed: %v", e.Cause)
	}
	return fmt.Sprintf("feed fetch failed: upstream status %d", e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Cause }

func (e *FetchError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client fetches raw trade reports from the upstream swap data repository.
// It performs no deduplication; the full payload for the window is returned
// each call.
type Client struct {
	baseURL    string
	httpClient *http.Client

	maxRetries   int
	retryBackoff time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry count and initial backoff.
func WithRetries(max int, backoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a feed client for the given upstream URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries:   3,
		retryBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns all raw trade reports disseminated inside the window.
// Window bounds must satisfy windowStart <= windowEnd. Network, HTTP and
// parse failures all surface as *FetchError with zero reports.
func (c *Client) Fetch(ctx context.Context, windowStart, windowEnd time.Time) ([]types.RawTradeReport, error) {
	if windowStart.After(windowEnd) {
		return nil, &FetchError{Cause: fmt.Errorf("window start %s after end %s", windowStart, windowEnd)}
	}

	logger := log.With().Str("component", "feed_client").Logger()

	query := url.Values{}
	query.Set("startDate", windowStart.UTC().Format(time.RFC3339))
	query.Set("endDate", windowEnd.UTC().Format(time.RFC3339))

	body, err := c.getWithRetry(ctx, query)
	if err != nil {
		return nil, err
	}

	var payload tradeListPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &FetchError{Cause: fmt.Errorf("decode payload: %w", err)}
	}

	reports := make([]types.RawTradeReport, 0, len(payload.TradeList))
	for _, raw := range payload.TradeList {
		report, err := raw.toReport()
		if err != nil {
			logger.Warn().
				Str("dissemination_id", raw.DisseminationIdentifier).
				Err(err).
				Msg("skipping malformed upstream record")
			continue
		}
		reports = append(reports, report)
	}

	logger.Debug().
		Int("reports", len(reports)).
		Time("window_start", windowStart).
		Time("window_end", windowEnd).
		Msg("fetched trade reports")

	return reports, nil
}

// getWithRetry performs the GET with exponential backoff and jitter on
// retryable upstream failures.
func (c *Client) getWithRetry(ctx context.Context, query url.Values) ([]byte, error) {
	var lastErr *FetchError
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			jitter := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-ctx.Done():
				return nil, &FetchError{Cause: ctx.Err()}
			case <-time.After(jitter):
			}
			backoff *= 2
		}

		body, err := c.get(ctx, query)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !err.retryable() {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) get(ctx context.Context, query url.Values) ([]byte, *FetchError) {
	fullURL := c.baseURL
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, &FetchError{Cause: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Cause: err}
	}

	if resp.StatusCode >= 400 {
		return nil, &FetchError{StatusCode: resp.StatusCode}
	}

	return body, nil
}
