package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/glarus-data/instrument-cli/internal/resilience"
)

// HTTPOptions configures the HTTP catalog client.
type HTTPOptions struct {
	// BaseURL is the catalog API root; searches go to BaseURL + "/search".
	BaseURL string

	// Token is sent as a bearer token when non-empty.
	Token string

	UserAgent string
	Timeout   time.Duration

	// Retry controls per-request retry behavior. Zero value means the
	// fixed-backoff profile (3 attempts, 5s apart).
	Retry resilience.RetryConfig
}

// HTTPCatalog implements Catalog against the provider's JSON search API.
type HTTPCatalog struct {
	client *http.Client
	opts   HTTPOptions
}

// NewHTTPCatalog creates a catalog client with the given options.
func NewHTTPCatalog(opts HTTPOptions) *HTTPCatalog {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "instrument-cli/1.0"
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.FixedRetryConfig(3, 5*time.Second)
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPCatalog{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts: opts,
	}
}

type searchRequest struct {
	Query  string `json:"query"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// ProbeCount asks for the hit count only (limit 0).
func (c *HTTPCatalog) ProbeCount(ctx context.Context, query string) (int, error) {
	page, err := c.search(ctx, searchRequest{Query: query, Offset: 0, Limit: 0})
	if err != nil {
		return 0, eris.Wrapf(err, "fetcher: probe %q", query)
	}
	return page.TotalHits, nil
}

// FetchPage returns one result window.
func (c *HTTPCatalog) FetchPage(ctx context.Context, query string, offset, limit int) (*Page, error) {
	page, err := c.search(ctx, searchRequest{Query: query, Offset: offset, Limit: limit})
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: page %q offset %d", query, offset)
	}
	return page, nil
}

// FetchByISIN looks up a single product by its ISIN. Returns ErrNoResult
// when the catalog has no match.
func (c *HTTPCatalog) FetchByISIN(ctx context.Context, isin string) (json.RawMessage, error) {
	page, err := c.search(ctx, searchRequest{Query: isin, Offset: 0, Limit: 1})
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: lookup %s", isin)
	}
	if len(page.Items) == 0 {
		return nil, eris.Wrapf(ErrNoResult, "isin %s", isin)
	}
	return page.Items[0], nil
}

func (c *HTTPCatalog) search(ctx context.Context, req searchRequest) (*Page, error) {
	cfg := c.opts.Retry
	cfg.OnRetry = resilience.RetryLogger("catalog", "search")

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Page, error) {
		return c.searchOnce(ctx, req)
	})
}

func (c *HTTPCatalog) searchOnce(ctx context.Context, sr searchRequest) (*Page, error) {
	body, err := json.Marshal(sr)
	if err != nil {
		return nil, eris.Wrap(err, "marshal search request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "create search request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and connection errors are transient by taxonomy.
		return nil, resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := statusError(resp.StatusCode); err != nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		zap.L().Warn("catalog search failed",
			zap.String("query", sr.Query),
			zap.Int("offset", sr.Offset),
			zap.Int("status", resp.StatusCode),
		)
		return nil, err
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, eris.Wrap(err, "decode search response")
	}
	return &page, nil
}

// statusError maps an HTTP status to the error taxonomy: nil for 2xx,
// AuthError for 401/403, RateLimitError for 429, TransientError for the
// retryable 5xx family, a plain error otherwise.
func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return resilience.NewAuthError(eris.Errorf("http %d", code), code)
	case code == http.StatusTooManyRequests:
		return resilience.NewRateLimitError(eris.Errorf("http %d", code), code)
	case resilience.IsTransientHTTPStatus(code):
		return resilience.NewTransientError(eris.Errorf("http %d", code), code)
	default:
		return eris.Errorf("http %d", code)
	}
}
