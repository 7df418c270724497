// Package search implements the web search collaborator used by the search
// tool. Results are bounded and ordered; failures are returned to the caller
// without retries or caching.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/m4xw311/askhuman/errors"
)

// Result is a single search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Searcher runs one query and returns at most its configured number of results.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Options configures a TavilyClient.
type Options struct {
	APIKey     string
	BaseURL    string
	MaxResults int
	Timeout    time.Duration
	// BreakerThreshold is the number of consecutive failures after which calls
	// fail fast until the breaker timeout elapses. Zero disables the breaker.
	BreakerThreshold int
	HTTPClient       *http.Client
}

// TavilyClient queries the Tavily search API.
type TavilyClient struct {
	apiKey     string
	baseURL    string
	maxResults int
	httpClient *http.Client
	breaker    circuitbreaker.CircuitBreaker[[]Result]
	guarded    bool
}

// NewTavilyClient creates a TavilyClient. The API key comes from opts or, if
// empty, from the TAVILY_API_KEY environment variable; without one it fails.
func NewTavilyClient(opts Options) (*TavilyClient, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("TAVILY_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("TAVILY_API_KEY environment variable not set")
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.tavily.com"
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 2
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &TavilyClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		maxResults: maxResults,
		httpClient: httpClient,
	}
	if opts.BreakerThreshold > 0 {
		threshold := uint32(opts.BreakerThreshold) // #nosec G115 -- checked positive above
		c.guarded = true
		c.breaker = circuitbreaker.New[[]Result](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		})
	}
	return c, nil
}

type tavilyRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// Search sends query to Tavily and returns up to MaxResults results in the
// order the service ranked them.
func (c *TavilyClient) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("search query must not be empty")
	}
	if !c.guarded {
		return c.search(ctx, query)
	}
	return c.breaker.Execute(ctx, func(ctx context.Context) ([]Result, error) {
		return c.search(ctx, query)
	})
}

func (c *TavilyClient) search(ctx context.Context, query string) ([]Result, error) {
	body, err := json.Marshal(tavilyRequest{Query: query, MaxResults: c.maxResults})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode search request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build search request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "search request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read search response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("search API returned %s: %s", resp.Status, truncate(string(data), 200))
	}

	var out tavilyResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrapf(err, "failed to decode search response")
	}
	if len(out.Results) > c.maxResults {
		out.Results = out.Results[:c.maxResults]
	}
	return out.Results, nil
}

// Format renders results as the text payload of a tool result.
func Format(results []Result) (string, error) {
	if results == nil {
		results = []Result{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return "", errors.Wrapf(err, "failed to encode search results")
	}
	return string(data), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
