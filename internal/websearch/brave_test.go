package websearch_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/torbobase/torbo-base/internal/websearch"
)

func TestSearch_SendsTokenAndParsesResults(t *testing.T) {
	var gotToken, gotQuery, gotCount string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Subscription-Token")
		gotQuery = r.URL.Query().Get("q")
		gotCount = r.URL.Query().Get("count")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"web": map[string]interface{}{
				"results": []map[string]string{
					{"title": "Go", "url": "https://go.dev", "description": "The Go programming language"},
					{"title": "Extra", "url": "https://example.com", "description": "should be truncated by topK"},
				},
			},
		})
	}))
	defer server.Close()

	client := websearch.New("secret-token").WithBaseURL(server.URL)
	results, err := client.Search(context.Background(), "golang", 1)
	if err != nil {
		t.Fatalf("Search returned unexpected error: %v", err)
	}
	if gotToken != "secret-token" {
		t.Fatalf("expected the subscription token header to be forwarded, got %q", gotToken)
	}
	if gotQuery != "golang" {
		t.Fatalf("expected query param %q, got %q", "golang", gotQuery)
	}
	if gotCount != "1" {
		t.Fatalf("expected count param %q, got %q", "1", gotCount)
	}
	if len(results) != 1 {
		t.Fatalf("expected topK to truncate results to 1, got %d", len(results))
	}
	if results[0].Title != "Go" || results[0].URL != "https://go.dev" {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
}

func TestSearch_FailsWithoutAPIKey(t *testing.T) {
	client := websearch.New("")
	_, err := client.Search(context.Background(), "golang", 5)
	if err == nil {
		t.Fatal("expected an error when no API key is configured")
	}
}

func TestSearch_PropagatesNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := websearch.New("secret-token").WithBaseURL(server.URL)
	_, err := client.Search(context.Background(), "golang", 5)
	if err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}
