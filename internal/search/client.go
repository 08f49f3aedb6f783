// Package search defines the paginated search backend interface and its HTTP
// implementation.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Pagination carries the cursor for one search call. PageAfterValue is the
// opaque continuation token from the previous response; empty on the first
// call.
type Pagination struct {
	PageSize       int64  `json:"page_size"`
	PageAfterValue string `json:"page_after_value,omitempty"`
}

// Request is the input for one paginated search call.
type Request struct {
	RequesterID string         `json:"-"`
	Owner       string         `json:"owner"`
	Query       map[string]any `json:"query"`
	Required    map[string]any `json:"required,omitempty"`
	Pagination  Pagination     `json:"pagination"`
}

// Response is one page of results. NextPageAfterValue is nil when no more
// results are available.
type Response struct {
	Records            []map[string]any
	NextPageAfterValue *string
	TotalAvailable     int64
}

// Client is the single operation the pipeline needs from the search backend.
type Client interface {
	Search(ctx context.Context, req *Request) (*Response, error)
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

// ClientConfig configures the HTTP search client.
type ClientConfig struct {
	// BaseURL of the search API, e.g. "http://localhost:8000/api/v1".
	BaseURL string

	// Timeout for individual requests (default: 5m; pages can be large).
	Timeout time.Duration

	// RateLimit requests per second (default: 10).
	RateLimit float64

	// RateBurst maximum burst size (default: 5).
	RateBurst int

	// Transport allows injecting a custom HTTP transport (for tests/stubs).
	Transport http.RoundTripper
}

// HTTPClient is a rate-limited search backend client.
type HTTPClient struct {
	config      *ClientConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewHTTPClient creates a search client with the given configuration.
func NewHTTPClient(config *ClientConfig) *HTTPClient {
	if config == nil {
		config = &ClientConfig{}
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10.0
	}
	if config.RateBurst == 0 {
		config.RateBurst = 5
	}

	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: config.Transport,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
	}
}

// searchResponse is the backend's wire format.
type searchResponse struct {
	Data       []map[string]any `json:"data"`
	Pagination struct {
		Total              int64   `json:"total"`
		NextPageAfterValue *string `json:"next_page_after_value"`
	} `json:"pagination"`
}

// Search runs one paginated query against the backend.
func (c *HTTPClient) Search(ctx context.Context, req *Request) (*Response, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/entries/query"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.RequesterID != "" {
		httpReq.Header.Set("X-Requester-Id", req.RequesterID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	return &Response{
		Records:            decoded.Data,
		NextPageAfterValue: decoded.Pagination.NextPageAfterValue,
		TotalAvailable:     decoded.Pagination.Total,
	}, nil
}
