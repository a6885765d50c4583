package toolloop_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/torbobase/torbo-base/internal/access"
	"github.com/torbobase/torbo-base/internal/llm"
	"github.com/torbobase/torbo-base/internal/toolloop"
	"github.com/torbobase/torbo-base/internal/tools"
)

// echoTool is a minimal Tool used to exercise the loop's dispatch path
// without depending on any of the built-in tools' external collaborators.
type echoTool struct{}

func (echoTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Type: "function", Function: llm.FunctionDef{
		Name: "echo",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"text": map[string]interface{}{"type": "string"}},
		},
	}}
}

func (echoTool) Capability() access.Capability {
	return access.Capability{ToolName: "echo", Category: access.CategoryScripting, MinimumLevel: access.Chat}
}

func (echoTool) Execute(ctx context.Context, call tools.CallContext, args map[string]interface{}) (string, error) {
	return "echoed:" + args["text"].(string), nil
}

// scriptedProvider answers Complete/Stream from a fixed sequence of
// responses, one per round, so tests can exercise multi-round behavior
// deterministically.
type scriptedProvider struct {
	responses    []*llm.CompletionResponse
	calls        int
	lastMessages []llm.Message
}

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.lastMessages = req.Messages
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req llm.CompletionRequest, onChunk func(llm.StreamChunk) error) error {
	resp := p.responses[p.calls]
	p.calls++
	if len(resp.Message.ToolCalls) == 0 {
		return onChunk(llm.StreamChunk{ContentDelta: resp.Message.Content, Done: true, FinishReason: resp.FinishReason, Usage: &resp.Usage})
	}
	for i, tc := range resp.Message.ToolCalls {
		if err := onChunk(llm.StreamChunk{ToolCallDeltas: []llm.ToolCallDelta{
			{Index: i, ID: tc.ID, Name: tc.Function.Name, ArgumentsDelta: tc.Function.Arguments},
		}}); err != nil {
			return err
		}
	}
	return onChunk(llm.StreamChunk{Done: true, FinishReason: resp.FinishReason})
}

func TestRun_ReturnsImmediatelyWithNoToolCalls(t *testing.T) {
	reg, executor, evaluator, _ := newFixtureParts(t)
	provider := &scriptedProvider{responses: []*llm.CompletionResponse{
		{Message: llm.Message{Role: llm.RoleAssistant, Content: "hi"}, FinishReason: "stop"},
	}}
	loop := toolloop.New(provider, reg, executor, evaluator, nil)

	outcome, err := loop.Run(context.Background(), "primary", llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
	if outcome.Truncated {
		t.Fatal("expected a single-round completion to not be truncated")
	}
	if outcome.Response.Message.Content != "hi" {
		t.Fatalf("expected the final response content to pass through unchanged, got %q", outcome.Response.Message.Content)
	}
	if provider.calls != 1 {
		t.Fatalf("expected exactly one provider round trip, got %d", provider.calls)
	}
}

func TestRun_DispatchesToolCallsAndContinues(t *testing.T) {
	reg, executor, evaluator, _ := newFixtureParts(t)
	args, _ := json.Marshal(map[string]string{"text": "ping"})
	provider := &scriptedProvider{responses: []*llm.CompletionResponse{
		{
			Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
				{ID: "call_1", Type: "function", Function: llm.FunctionCall{Name: "echo", Arguments: string(args)}},
			}},
			FinishReason: "tool_calls",
		},
		{Message: llm.Message{Role: llm.RoleAssistant, Content: "done"}, FinishReason: "stop"},
	}}
	loop := toolloop.New(provider, reg, executor, evaluator, nil)

	outcome, err := loop.Run(context.Background(), "primary", llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "say ping"}},
	})
	if err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
	if outcome.Response.Message.Content != "done" {
		t.Fatalf("expected the loop to resume after dispatching the tool call, got %q", outcome.Response.Message.Content)
	}
	if provider.calls != 2 {
		t.Fatalf("expected two provider round trips (tool call + follow-up), got %d", provider.calls)
	}
}

func TestRun_TruncatesAfterMaxRounds(t *testing.T) {
	reg, executor, evaluator, _ := newFixtureParts(t)
	args, _ := json.Marshal(map[string]string{"text": "loop"})
	always := llm.CompletionResponse{
		Message: llm.Message{Role: llm.RoleAssistant, Content: "still working on it", ToolCalls: []llm.ToolCall{
			{ID: "call_x", Type: "function", Function: llm.FunctionCall{Name: "echo", Arguments: string(args)}},
		}},
		FinishReason: "tool_calls",
	}
	responses := make([]*llm.CompletionResponse, 0, toolloop.MaxRounds)
	for i := 0; i < toolloop.MaxRounds; i++ {
		r := always
		responses = append(responses, &r)
	}
	provider := &scriptedProvider{responses: responses}
	loop := toolloop.New(provider, reg, executor, evaluator, nil)

	outcome, err := loop.Run(context.Background(), "primary", llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "loop forever"}},
	})
	if err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
	if !outcome.Truncated {
		t.Fatal("expected the loop to report truncation after exhausting the round budget")
	}
	if outcome.Response.Message.Content != "still working on it" {
		t.Fatalf("expected the final round's assistant text to survive truncation, got %q", outcome.Response.Message.Content)
	}
	if len(outcome.Response.Message.ToolCalls) != 0 {
		t.Fatal("expected the truncated response to carry no pending tool calls")
	}
	if provider.calls != toolloop.MaxRounds {
		t.Fatalf("expected exactly MaxRounds provider calls, got %d", provider.calls)
	}
}

func TestDispatch_ExternalToolNameGetsExplanatoryResult(t *testing.T) {
	reg, executor, evaluator, _ := newFixtureParts(t)
	provider := &scriptedProvider{responses: []*llm.CompletionResponse{
		{
			Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
				{ID: "call_1", Type: "function", Function: llm.FunctionCall{Name: "mcp_weather", Arguments: "{}"}},
			}},
			FinishReason: "tool_calls",
		},
		{Message: llm.Message{Role: llm.RoleAssistant, Content: "done"}, FinishReason: "stop"},
	}}
	loop := toolloop.New(provider, reg, executor, evaluator, nil)

	_, err := loop.Run(context.Background(), "primary", llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "what's the weather"}},
	})
	if err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
	var toolResult string
	for _, m := range provider.lastMessages {
		if m.Role == llm.RoleTool && m.ToolCallID == "call_1" {
			toolResult = m.Content
		}
	}
	if !strings.Contains(toolResult, "external tool") || strings.Contains(toolResult, "unknown tool") {
		t.Fatalf("expected an explanatory external-tool result, got %q", toolResult)
	}
}

func newFixtureParts(t *testing.T) (*tools.Registry, *tools.Executor, *access.Evaluator, *access.Store) {
	t.Helper()
	agents := access.NewStore()
	agents.Replace(map[string]*access.Agent{
		"primary": {ID: "primary", AccessLevel: access.Chat},
	}, access.Full)

	caps := access.NewRegistry()
	evaluator := access.NewEvaluator(agents, caps)

	reg := tools.NewRegistry()
	reg.Register(echoTool{}, caps)

	executor, err := tools.NewExecutor(reg, evaluator)
	if err != nil {
		t.Fatalf("NewExecutor returned unexpected error: %v", err)
	}
	return reg, executor, evaluator, agents
}
