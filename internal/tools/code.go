package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/torbobase/torbo-base/internal/access"
	"github.com/torbobase/torbo-base/internal/llm"
	"github.com/torbobase/torbo-base/internal/sandbox"
)

const maxCodeOutputChars = 20_000

// codeSandbox is the collaborator interface run_code depends on, satisfied
// by both sandbox.DockerSandbox and sandbox.InProcessSandbox so the tool
// itself doesn't care which backend is wired at startup.
type codeSandbox interface {
	Execute(ctx context.Context, code, language string, cfg sandbox.Config) (sandbox.Result, error)
}

// runCodeTool implements the run_code built-in: executes a short script in
// an isolated environment and returns its captured output.
type runCodeTool struct {
	sandbox codeSandbox
}

// NewRunCodeTool returns the run_code tool backed by sb, typically a
// sandbox.DockerSandbox with sandbox.InProcessSandbox as a startup-time
// fallback when no Docker daemon is reachable.
func NewRunCodeTool(sb codeSandbox) Tool {
	return &runCodeTool{sandbox: sb}
}

func (t *runCodeTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Type: "function", Function: llm.FunctionDef{
		Name:        "run_code",
		Description: "Execute a short script in an isolated sandbox and return its stdout/stderr/exit code.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"code":     map[string]interface{}{"type": "string"},
				"language": map[string]interface{}{"type": "string", "enum": []string{"python", "javascript", "bash"}},
			},
			"required": []string{"code", "language"},
		},
	}}
}

func (t *runCodeTool) Capability() access.Capability {
	return access.Capability{ToolName: "run_code", Category: access.CategoryExecution, MinimumLevel: access.Exec}
}

func (t *runCodeTool) Execute(ctx context.Context, call CallContext, args map[string]interface{}) (string, error) {
	code, _ := args["code"].(string)
	language, _ := args["language"].(string)
	if code == "" || language == "" {
		return "", fmt.Errorf("invalid arguments")
	}

	result, err := t.sandbox.Execute(ctx, code, language, sandbox.Config{})
	if err != nil {
		return "", fmt.Errorf("sandbox execution failed: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d\n", result.ExitCode)
	if result.Stdout != "" {
		b.WriteString("--- stdout ---\n")
		b.WriteString(truncateCode(result.Stdout))
		b.WriteString("\n")
	}
	if result.Stderr != "" {
		b.WriteString("--- stderr ---\n")
		b.WriteString(truncateCode(result.Stderr))
		b.WriteString("\n")
	}
	return b.String(), nil
}

func truncateCode(s string) string {
	if len(s) <= maxCodeOutputChars {
		return s
	}
	return s[:maxCodeOutputChars]
}
