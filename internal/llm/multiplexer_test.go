package llm

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	name      string
	err       error
	completed int
}

func (f *fakeProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	f.completed++
	if f.err != nil {
		return nil, f.err
	}
	return &CompletionResponse{Message: Message{Role: RoleAssistant, Content: f.name}, FinishReason: "stop"}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req CompletionRequest, onChunk func(StreamChunk) error) error {
	if f.err != nil {
		return f.err
	}
	return onChunk(StreamChunk{Done: true})
}

func TestMultiplexer_PinnedModelRoutesDirectly(t *testing.T) {
	local := &fakeProvider{name: "local"}
	openai := &fakeProvider{name: "openai"}
	mux := NewMultiplexer(map[string]Provider{ProviderLocal: local, ProviderOpenAI: openai}, nil)

	resp, err := mux.Complete(context.Background(), CompletionRequest{Model: "openai:gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Content != "openai" {
		t.Fatalf("expected the pinned provider to be used, got %q", resp.Message.Content)
	}
	if local.completed != 0 {
		t.Fatal("expected local provider to be skipped for a pinned openai model")
	}
}

func TestMultiplexer_FallsOverOnError(t *testing.T) {
	local := &fakeProvider{name: "local", err: errors.New("daemon not running")}
	openai := &fakeProvider{name: "openai"}
	mux := NewMultiplexer(map[string]Provider{ProviderLocal: local, ProviderOpenAI: openai}, nil)
	mux.retryCfg.MaxAttempts = 1

	resp, err := mux.Complete(context.Background(), CompletionRequest{Model: "some-model"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Content != "openai" {
		t.Fatalf("expected fallback to openai, got %q", resp.Message.Content)
	}
}

func TestMultiplexer_AllProvidersFail(t *testing.T) {
	local := &fakeProvider{name: "local", err: errors.New("down")}
	mux := NewMultiplexer(map[string]Provider{ProviderLocal: local}, nil)
	mux.retryCfg.MaxAttempts = 1

	if _, err := mux.Complete(context.Background(), CompletionRequest{Model: "some-model"}); err == nil {
		t.Fatal("expected an error when every provider fails")
	}
}

func TestResolveModel(t *testing.T) {
	cases := []struct {
		model        string
		wantProvider string
		wantBare     string
		wantPinned   bool
	}{
		{"openai:gpt-4o", ProviderOpenAI, "gpt-4o", true},
		{"anthropic:claude-3-5-sonnet", ProviderAnthropic, "claude-3-5-sonnet", true},
		{"gpt-4o", "", "gpt-4o", false},
		{"not-a-provider:model", "", "not-a-provider:model", false},
	}
	for _, tc := range cases {
		provider, bare, pinned := ResolveModel(tc.model)
		if provider != tc.wantProvider || bare != tc.wantBare || pinned != tc.wantPinned {
			t.Errorf("ResolveModel(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.model, provider, bare, pinned, tc.wantProvider, tc.wantBare, tc.wantPinned)
		}
	}
}

func TestIsKnownProvider(t *testing.T) {
	for _, p := range []string{ProviderLocal, ProviderOpenAI, ProviderAnthropic, ProviderGemini} {
		if !IsKnownProvider(p) {
			t.Errorf("expected %q to be a known provider", p)
		}
	}
	if IsKnownProvider("not-a-provider") {
		t.Error("expected an unrecognized name to not be a known provider")
	}
}

func TestMultiplexer_StreamDeliversDoneChunk(t *testing.T) {
	local := &fakeProvider{name: "local"}
	mux := NewMultiplexer(map[string]Provider{ProviderLocal: local}, nil)

	var gotDone bool
	err := mux.Stream(context.Background(), CompletionRequest{Model: "local:x"}, func(c StreamChunk) error {
		if c.Done {
			gotDone = true
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !gotDone {
		t.Fatal("expected a final Done chunk")
	}
}
