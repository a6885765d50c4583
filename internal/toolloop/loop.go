// Package toolloop drives the bounded agentic tool-calling round trip: send
// messages and tool definitions to a provider, execute any requested tool
// calls through the executor, append the results, and go around again until
// the model stops asking for tools or the round budget is exhausted.
package toolloop

import (
	"context"
	"log/slog"

	"github.com/torbobase/torbo-base/internal/access"
	"github.com/torbobase/torbo-base/internal/llm"
	"github.com/torbobase/torbo-base/internal/tools"
)

// MaxRounds bounds how many model/tool round trips a single request may
// take before the loop gives up and returns whatever it has, flagged as
// truncated.
const MaxRounds = 8

// externalToolPrefix marks a tool name as routed to an MCP server rather
// than the built-in catalogue. External tool dispatch is not wired in this
// build (see DESIGN.md); calls to such names get a tool-result explaining
// that, rather than an "unknown tool" error, so the model can route around
// it instead of assuming the name itself was wrong.
const externalToolPrefix = "mcp_"

// Loop wires a provider, the tool registry/executor, and the access
// evaluator together into the bounded tool-calling round trip.
type Loop struct {
	provider  llm.Provider
	registry  *tools.Registry
	executor  *tools.Executor
	evaluator *access.Evaluator
	logger    *slog.Logger
}

// New returns a Loop. provider is typically an *llm.Multiplexer.
func New(provider llm.Provider, registry *tools.Registry, executor *tools.Executor, evaluator *access.Evaluator, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{provider: provider, registry: registry, executor: executor, evaluator: evaluator, logger: logger}
}

// Outcome is the result of a tool loop run.
type Outcome struct {
	Response  *llm.CompletionResponse
	Truncated bool
}

// Run drives the non-streaming round trip for agentID, starting from req,
// until the model returns a response with no tool calls or MaxRounds is
// reached.
func (l *Loop) Run(ctx context.Context, agentID string, req llm.CompletionRequest) (Outcome, error) {
	req.Tools = l.registry.Definitions(l.evaluator, agentID)
	messages := append([]llm.Message(nil), req.Messages...)

	var last *llm.CompletionResponse
	for round := 0; round < MaxRounds; round++ {
		req.Messages = messages
		resp, err := l.provider.Complete(ctx, req)
		if err != nil {
			return Outcome{}, err
		}

		if len(resp.Message.ToolCalls) == 0 {
			return Outcome{Response: resp}, nil
		}

		last = resp
		messages = append(messages, resp.Message)
		for _, call := range resp.Message.ToolCalls {
			result := l.dispatch(ctx, agentID, call)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
				Name:       call.Function.Name,
			})
		}
	}

	// Budget exhausted: hand back whatever assistant text the final round
	// produced (with its pending tool calls stripped) rather than losing it.
	l.logger.WarnContext(ctx, "toolloop: round budget exhausted", "agent", agentID, "rounds", MaxRounds)
	return Outcome{
		Response: &llm.CompletionResponse{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: last.Message.Content},
			FinishReason: "length",
			Usage:        last.Usage,
		},
		Truncated: true,
	}, nil
}

// dispatch resolves a single tool call to a result string, handling
// external (mcp_-prefixed) tool names with a distinct message from a
// genuinely unknown name before handing everything else to the executor.
func (l *Loop) dispatch(ctx context.Context, agentID string, call llm.ToolCall) string {
	name := call.Function.Name

	if len(name) >= len(externalToolPrefix) && name[:len(externalToolPrefix)] == externalToolPrefix {
		return "Error: external tool execution is not configured on this gateway"
	}

	callCtx := tools.CallContext{AgentID: agentID, VIP: l.evaluator.IsVIP(agentID)}
	result := l.executor.Dispatch(ctx, callCtx, call)
	return result.Content
}

// StreamChunk is forwarded to a Stream caller's onChunk callback. It mirrors
// llm.StreamChunk but adds Truncated for the final chunk of a round-budget
// exhausted response.
type StreamChunk struct {
	llm.StreamChunk
	Truncated bool
}

// Stream drives the streaming round trip. Content deltas are forwarded to
// onChunk as they arrive. Tool-call deltas are accumulated internally
// (providers stream a call's id/name/arguments across several chunks, keyed
// by ToolCallDelta.Index) and never forwarded to onChunk: a round that ends
// in tool calls executes them and starts another round invisibly to the
// caller, so onChunk only ever sees assistant-visible content and the
// terminal Done chunk of the whole request, not of each internal round.
func (l *Loop) Stream(ctx context.Context, agentID string, req llm.CompletionRequest, onChunk func(StreamChunk) error) error {
	req.Tools = l.registry.Definitions(l.evaluator, agentID)
	req.Stream = true
	messages := append([]llm.Message(nil), req.Messages...)

	var lastUsage *llm.TokenUsage
	for round := 0; round < MaxRounds; round++ {
		req.Messages = messages

		acc := newToolCallAccumulator()
		var finishReason string
		var usage *llm.TokenUsage

		err := l.provider.Stream(ctx, req, func(c llm.StreamChunk) error {
			if c.ContentDelta != "" {
				if err := onChunk(StreamChunk{StreamChunk: llm.StreamChunk{ContentDelta: c.ContentDelta}}); err != nil {
					return err
				}
			}
			if len(c.ToolCallDeltas) > 0 {
				acc.absorb(c.ToolCallDeltas)
			}
			if c.Done {
				finishReason = c.FinishReason
				usage = c.Usage
			}
			return nil
		})
		if err != nil {
			return err
		}

		calls := acc.finish()
		if len(calls) == 0 {
			return onChunk(StreamChunk{StreamChunk: llm.StreamChunk{Done: true, FinishReason: finishReason, Usage: usage}})
		}
		lastUsage = usage

		assistantMsg := llm.Message{Role: llm.RoleAssistant, ToolCalls: calls}
		messages = append(messages, assistantMsg)
		for _, call := range calls {
			result := l.dispatch(ctx, agentID, call)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
				Name:       call.Function.Name,
			})
		}
	}

	// The final round's content deltas were already forwarded live; only the
	// terminal marker (and that round's usage) remains to be delivered.
	l.logger.WarnContext(ctx, "toolloop: round budget exhausted mid-stream", "agent", agentID, "rounds", MaxRounds)
	return onChunk(StreamChunk{
		StreamChunk: llm.StreamChunk{Done: true, FinishReason: "length", Usage: lastUsage},
		Truncated:   true,
	})
}

// toolCallAccumulator folds per-chunk ToolCallDelta fragments into completed
// ToolCalls, keyed by Index since a provider may interleave fragments of
// several concurrent tool calls within one round.
type toolCallAccumulator struct {
	order   []int
	byIndex map[int]*llm.ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*llm.ToolCall)}
}

func (a *toolCallAccumulator) absorb(deltas []llm.ToolCallDelta) {
	for _, d := range deltas {
		call, ok := a.byIndex[d.Index]
		if !ok {
			call = &llm.ToolCall{Type: "function"}
			a.byIndex[d.Index] = call
			a.order = append(a.order, d.Index)
		}
		if d.ID != "" {
			call.ID = d.ID
		}
		if d.Name != "" {
			call.Function.Name = d.Name
		}
		call.Function.Arguments += d.ArgumentsDelta
	}
}

func (a *toolCallAccumulator) finish() []llm.ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		out = append(out, *a.byIndex[idx])
	}
	return out
}
