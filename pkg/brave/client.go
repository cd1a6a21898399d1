// Package brave provides a client for the Brave Search web search API.
package brave

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bankruptcy-monitor/internal/resilience"
)

// Client defines the Brave Search operations.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest is one web search.
type SearchRequest struct {
	Query string
	// Count caps the number of results (Brave allows up to 20).
	Count int
	// ExtraSnippets asks for up to five additional excerpts per result.
	ExtraSnippets bool
	Country       string
}

// SearchResponse is the parsed Brave web search response.
type SearchResponse struct {
	Web struct {
		Results []Result `json:"results"`
	} `json:"web"`
}

// Results is a shortcut for Web.Results.
func (r *SearchResponse) Results() []Result {
	if r == nil {
		return nil
	}
	return r.Web.Results
}

// Result represents a single web result.
type Result struct {
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	Description   string   `json:"description"`
	ExtraSnippets []string `json:"extra_snippets,omitempty"`
}

// Option configures the Brave client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a new Brave Search client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.search.brave.com/res/v1",
		http:    &http.Client{Timeout: 10 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.Query == "" {
		return nil, eris.New("brave: empty query")
	}
	params := url.Values{}
	params.Set("q", req.Query)
	if req.Count > 0 {
		params.Set("count", strconv.Itoa(min(req.Count, 20)))
	}
	if req.ExtraSnippets {
		params.Set("extra_snippets", "true")
	}
	if req.Country != "" {
		params.Set("country", req.Country)
	}
	reqURL := c.baseURL + "/web/search?" + params.Encode()

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "brave: create request")
		}
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set("X-Subscription-Token", c.apiKey)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "brave: read response body")
		}
		if resp.StatusCode != http.StatusOK {
			return nil, resilience.StatusError("brave", resp.StatusCode, body)
		}
		return body, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "brave: search")
	}

	var out SearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "brave: unmarshal response")
	}
	return &out, nil
}
