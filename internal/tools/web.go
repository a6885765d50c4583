package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/torbobase/torbo-base/internal/access"
	"github.com/torbobase/torbo-base/internal/llm"
)

const webFetchTimeout = 30 * time.Second
const maxFetchBytes = 1 << 20

// WebSearcher is the external collaborator contract for web_search: a
// search provider the gateway calls out to and summarizes results from.
type WebSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)
}

// SearchResult is one hit from a WebSearcher.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

type webSearchTool struct {
	searcher WebSearcher
}

// NewWebSearchTool returns the web_search tool backed by searcher.
func NewWebSearchTool(searcher WebSearcher) Tool { return &webSearchTool{searcher: searcher} }

func (t *webSearchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Type: "function", Function: llm.FunctionDef{
		Name:        "web_search",
		Description: "Search the web and return a short list of results.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string"},
			},
			"required": []string{"query"},
		},
	}}
}

func (t *webSearchTool) Capability() access.Capability {
	return access.Capability{ToolName: "web_search", Category: access.CategorySearch, MinimumLevel: access.Chat}
}

func (t *webSearchTool) Execute(ctx context.Context, call CallContext, args map[string]interface{}) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("invalid arguments")
	}
	results, err := t.searcher.Search(ctx, query, 5)
	if err != nil {
		return "", fmt.Errorf("web_search: %w", err)
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "- %s (%s): %s\n", r.Title, r.URL, r.Snippet)
	}
	return b.String(), nil
}

// webFetchTool implements the web_fetch built-in: fetch a URL's body,
// rejecting requests that target internal/loopback/metadata addresses.
type webFetchTool struct {
	client *http.Client
}

// NewWebFetchTool returns the web_fetch tool.
func NewWebFetchTool() Tool {
	return &webFetchTool{client: &http.Client{Timeout: webFetchTimeout}}
}

func (t *webFetchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Type: "function", Function: llm.FunctionDef{
		Name:        "web_fetch",
		Description: "Fetch the text contents of a URL.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{"type": "string"},
			},
			"required": []string{"url"},
		},
	}}
}

func (t *webFetchTool) Capability() access.Capability {
	return access.Capability{ToolName: "web_fetch", Category: access.CategoryNetwork, MinimumLevel: access.Read}
}

func (t *webFetchTool) Execute(ctx context.Context, call CallContext, args map[string]interface{}) (string, error) {
	raw, _ := args["url"].(string)
	if raw == "" {
		return "", fmt.Errorf("invalid arguments")
	}

	if deny := CheckSSRF(raw); deny != "" {
		return deny, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", raw, err)
	}
	defer resp.Body.Close()

	// Re-check the resolved address: a DNS answer could point at an internal
	// address even though the hostname looked external.
	if resp.Request != nil && resp.Request.URL != nil {
		if deny := checkResolvedAddr(resp.Request.URL.Hostname()); deny != "" {
			return deny, nil
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(body), nil
}

// CheckSSRF rejects file://, gopher://, RFC1918/link-local literals,
// localhost, 0.0.0.0, ::1, and the cloud-metadata hostname, operating on the
// parsed hostname alone (no DNS resolution).
func CheckSSRF(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "Error: invalid URL"
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "BLOCKED: refusing to fetch a non-HTTP(S) URL"
	}

	host := u.Hostname()
	if deny := checkHostnameSSRF(host); deny != "" {
		return deny
	}
	return ""
}

func checkHostnameSSRF(host string) string {
	lower := strings.ToLower(host)
	if lower == "localhost" || lower == "metadata.google.internal" {
		return "BLOCKED: refusing to fetch an internal address"
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return ""
	}
	if isDisallowedIP(ip) {
		return "BLOCKED: refusing to fetch an internal address"
	}
	return ""
}

func checkResolvedAddr(host string) string {
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return ""
		}
		ip = ips[0]
	}
	if isDisallowedIP(ip) {
		return "BLOCKED: refusing to fetch an internal address"
	}
	return ""
}

func isDisallowedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero) || ip.Equal(net.IPv6loopback) {
		return true
	}
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil && block.Contains(ip) {
			return true
		}
	}
	return false
}
