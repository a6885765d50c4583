package audit_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/torbobase/torbo-base/internal/access"
	"github.com/torbobase/torbo-base/internal/audit"
)

func TestAppendAndFlush_WritesLDJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.ldjson")
	ring := audit.New(path, nil)

	ring.Append(audit.Entry{
		Timestamp:     time.Now().UTC(),
		TraceID:       "t_1",
		ClientIP:      "127.0.0.1",
		Method:        "POST",
		Path:          "/v1/chat/completions",
		RequiredLevel: access.Chat,
		Granted:       true,
	})

	if err := ring.Flush(); err != nil {
		t.Fatalf("Flush returned unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected ldjson file to exist after flush: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected the flushed ldjson file to be non-empty")
	}
}

func TestPage_ReturnsNewestFirst(t *testing.T) {
	ring := audit.New("", nil)

	for i, path := range []string{"/a", "/b", "/c"} {
		ring.Append(audit.Entry{
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
			Path:      path,
			Granted:   true,
		})
	}
	if err := ring.Flush(); err != nil {
		t.Fatalf("Flush returned unexpected error: %v", err)
	}

	page, err := ring.Page(context.Background(), audit.Query{Limit: 10})
	if err != nil {
		t.Fatalf("Page returned unexpected error: %v", err)
	}
	if len(page) != 3 || page[0].Path != "/c" {
		t.Fatalf("expected newest-first ordering starting with /c, got %+v", page)
	}
}

func TestPage_FiltersByGrantedAndPath(t *testing.T) {
	ring := audit.New("", nil)
	ring.Append(audit.Entry{Path: "/v1/chat/completions", Granted: true})
	ring.Append(audit.Entry{Path: "/v1/chat/completions", Granted: false})
	ring.Append(audit.Entry{Path: "/v1/audit/log", Granted: true})
	if err := ring.Flush(); err != nil {
		t.Fatalf("Flush returned unexpected error: %v", err)
	}

	page, err := ring.Page(context.Background(), audit.Query{Limit: 10, GrantedOnly: true, PathFilter: "chat"})
	if err != nil {
		t.Fatalf("Page returned unexpected error: %v", err)
	}
	if len(page) != 1 || page[0].Path != "/v1/chat/completions" || !page[0].Granted {
		t.Fatalf("expected exactly one granted chat-completions entry, got %+v", page)
	}
}
