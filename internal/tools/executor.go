package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/torbobase/torbo-base/internal/access"
	"github.com/torbobase/torbo-base/internal/llm"
)

// Executor dispatches tool calls by name, re-checking access at call time
// (defense in depth: the model only ever sees a pre-filtered tool list, but
// a forced tool call could still name something the agent lost access to
// between listing and dispatch) and validating arguments against the tool's
// JSON Schema before calling Execute.
type Executor struct {
	registry  *Registry
	evaluator *access.Evaluator
	schemas   map[string]*jsonschema.Schema
}

// NewExecutor returns an Executor over registry, compiling a JSON Schema
// validator for every tool definition's Parameters. A schema that fails to
// marshal or compile makes NewExecutor return an error; a tool with nil
// Parameters gets no validator and runs with argument shape unchecked.
func NewExecutor(registry *Registry, evaluator *access.Evaluator) (*Executor, error) {
	compiler := jsonschema.NewCompiler()
	schemas := make(map[string]*jsonschema.Schema)

	for name, t := range registry.tools {
		def := t.Definition()
		if def.Function.Parameters == nil {
			continue
		}
		raw, err := json.Marshal(def.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tools: marshal schema for %q: %w", name, err)
		}
		schemaURL := "mem://" + name + ".json"
		if err := compiler.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("tools: add schema resource for %q: %w", name, err)
		}
		schema, err := compiler.Compile(schemaURL)
		if err != nil {
			return nil, fmt.Errorf("tools: compile schema for %q: %w", name, err)
		}
		schemas[name] = schema
	}

	return &Executor{registry: registry, evaluator: evaluator, schemas: schemas}, nil
}

// ToolResult is the {tool_call_id, content} pair appended to conversation
// history after a call is dispatched, successfully or not.
type ToolResult struct {
	ToolCallID string
	Content    string
}

// Dispatch runs a single tool call under access-control and argument
// validation. It never returns an error: every failure (bad arguments,
// access denial, sandbox failure, context cancellation) becomes a
// tool-result whose content begins with "Error:" or "BLOCKED:" so the model
// can self-correct.
func (e *Executor) Dispatch(ctx context.Context, call CallContext, tc llm.ToolCall) ToolResult {
	name := tc.Function.Name

	t := e.registry.Get(name)
	if t == nil {
		return ToolResult{
			ToolCallID: tc.ID,
			Content:    fmt.Sprintf("Error: unknown tool %q", name),
		}
	}

	// Defense in depth: re-check access even though the model was only shown
	// a pre-filtered tool list.
	result := e.evaluator.EvaluateTool(call.AgentID, name)
	if result.Decision == access.DecisionDeny {
		return ToolResult{
			ToolCallID: tc.ID,
			Content:    "BLOCKED: " + result.Violation.Message,
		}
	}

	var args map[string]interface{}
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return ToolResult{ToolCallID: tc.ID, Content: "Error: invalid arguments"}
		}
	} else {
		args = map[string]interface{}{}
	}

	if schema, ok := e.schemas[name]; ok {
		if err := schema.Validate(args); err != nil {
			return ToolResult{ToolCallID: tc.ID, Content: fmt.Sprintf("Error: invalid arguments: %v", err)}
		}
	}

	content, err := t.Execute(ctx, call, args)
	if err != nil {
		if ctx.Err() != nil {
			return ToolResult{ToolCallID: tc.ID, Content: "Error: " + ctx.Err().Error()}
		}
		return ToolResult{ToolCallID: tc.ID, Content: "Error: " + err.Error()}
	}
	return ToolResult{ToolCallID: tc.ID, Content: content}
}
