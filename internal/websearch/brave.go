// Package websearch implements the web_search built-in tool's external
// collaborator: a thin REST client for the Brave Search API.
//
// Unlike the three chat providers, Brave Search has no official Go SDK in
// the ecosystem, so this client talks to its JSON REST endpoint directly
// with net/http, the same way the gateway's own web_fetch tool does (see
// internal/tools/web.go). It satisfies tools.WebSearcher without either
// package importing the other.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/torbobase/torbo-base/internal/tools"
)

const defaultBaseURL = "https://api.search.brave.com/res/v1/web/search"

const requestTimeout = 10 * time.Second

// Client is a tools.WebSearcher backed by the Brave Search API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New returns a Client authenticated with apiKey. An empty apiKey is
// accepted so the gateway still starts without web search configured; Search
// then fails with a clear error on first use instead of at startup.
func New(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// WithBaseURL overrides the API endpoint, for pointing the client at a test
// server instead of the real Brave Search API.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = url
	return c
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search implements tools.WebSearcher.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]tools.SearchResult, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("websearch: no Brave Search API key configured")
	}
	if topK <= 0 {
		topK = 5
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", topK))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("websearch: brave search returned status %d", resp.StatusCode)
	}

	var parsed braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("websearch: decode response: %w", err)
	}

	out := make([]tools.SearchResult, 0, len(parsed.Web.Results))
	for i, r := range parsed.Web.Results {
		if i >= topK {
			break
		}
		out = append(out, tools.SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return out, nil
}
