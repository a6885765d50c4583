// Package tools implements the built-in tool catalogue and the dispatch
// executor that runs a tool call under access-level, path-scope, and
// SSRF/shell-classifier predicates.
//
// Tool call routing in the conversation loop checks this registry first. If
// the tool name starts with "mcp_" it is an external-tool reference the
// catalogue deliberately leaves unhandled (see DESIGN.md); any other unknown
// name produces an "unknown tool" tool-result so the model can recover.
package tools

import (
	"context"

	"github.com/torbobase/torbo-base/internal/access"
	"github.com/torbobase/torbo-base/internal/llm"
)

// CallContext carries the per-call information the executor needs beyond the
// raw arguments: which agent is calling, and whether that agent currently
// qualifies for the VIP bypass.
type CallContext struct {
	AgentID string
	VIP     bool
}

// Tool is the interface every built-in tool must implement.
type Tool interface {
	// Definition returns the LLM-facing tool definition: name, description,
	// and JSON Schema parameter shape. Included in every CompletionRequest's
	// Tools slice for agents whose level and category toggles permit it.
	Definition() llm.ToolDefinition

	// Capability returns the static category/minimum-level metadata used by
	// the access-control evaluator.
	Capability() access.Capability

	// Execute runs the tool with JSON-decoded arguments and returns a result
	// string for the model, or an error. ToolError conditions (bad
	// arguments, timeout, sandbox failure) should be returned as a non-nil
	// error; the executor converts them into a "Error: ..." tool-result
	// rather than failing the request.
	Execute(ctx context.Context, call CallContext, args map[string]interface{}) (string, error)
}

// Registry holds all registered built-in tools and provides name-based
// lookup. Not safe for concurrent Register calls; populate at startup.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry returns an empty Registry ready for tool registration.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t to the registry and its capability to caps. Panics on
// duplicate tool names, a programming error in catalogue construction.
func (r *Registry) Register(t Tool, caps *access.Registry) {
	name := t.Definition().Function.Name
	if _, dup := r.tools[name]; dup {
		panic("tools: duplicate tool registration: " + name)
	}
	r.tools[name] = t
	caps.Register(t.Capability())
}

// IsBuiltin reports whether name is handled by this registry.
func (r *Registry) IsBuiltin(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Get returns the Tool registered under name, or nil when not found.
func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// Definitions returns LLM tool definitions for the subset of registered
// tools visible to agentID, per the evaluator's ToolVisible check.
func (r *Registry) Definitions(evaluator *access.Evaluator, agentID string) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for name, t := range r.tools {
		if evaluator.ToolVisible(agentID, name) {
			defs = append(defs, t.Definition())
		}
	}
	return defs
}
