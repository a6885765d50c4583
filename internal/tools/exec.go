package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/torbobase/torbo-base/internal/access"
	"github.com/torbobase/torbo-base/internal/llm"
	"github.com/torbobase/torbo-base/internal/pathscope"
)

const (
	defaultCommandTimeout = 30 * time.Second
	maxCommandTimeout     = 300 * time.Second
	maxOutputChars        = 50_000
	killGracePeriod       = 2 * time.Second
)

// runCommandTool implements the run_command built-in: arbitrary shell
// execution, gated by the shell classifier: blocked commands are always
// refused, and destructive ones are refused unless the caller has the VIP
// bypass.
type runCommandTool struct {
	shell string // e.g. "/bin/sh"
}

// NewRunCommandTool returns the run_command tool, executing commands through
// shell (typically "/bin/sh" or the platform default).
func NewRunCommandTool(shell string) Tool {
	if shell == "" {
		shell = "/bin/sh"
	}
	return &runCommandTool{shell: shell}
}

func (t *runCommandTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Type: "function", Function: llm.FunctionDef{
		Name:        "run_command",
		Description: "Run a shell command and return its captured stdout and stderr.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command":     map[string]interface{}{"type": "string"},
				"workingDir":  map[string]interface{}{"type": "string"},
				"timeoutSecs": map[string]interface{}{"type": "number"},
			},
			"required": []string{"command"},
		},
	}}
}

func (t *runCommandTool) Capability() access.Capability {
	return access.Capability{ToolName: "run_command", Category: access.CategoryExecution, MinimumLevel: access.Exec}
}

func (t *runCommandTool) Execute(ctx context.Context, call CallContext, args map[string]interface{}) (string, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return "", fmt.Errorf("invalid arguments")
	}

	class := pathscope.Classify(command)
	switch class {
	case pathscope.ClassBlocked:
		return "BLOCKED: command matches a catastrophic pattern", nil
	case pathscope.ClassDestructive:
		if !call.VIP {
			return "BLOCKED: destructive command requires FULL access with VIP bypass", nil
		}
	}

	timeout := defaultCommandTimeout
	if secs, ok := args["timeoutSecs"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	if timeout > maxCommandTimeout {
		timeout = maxCommandTimeout
	}

	workDir := ""
	if wd, ok := args["workingDir"].(string); ok {
		workDir = wd
	}
	if workDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			workDir = home
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.shell, "-c", command)
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		output := truncate(out.String())
		if err == nil {
			return output, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// A failing command's stdout/stderr is exactly what the model
			// needs to self-correct, so it rides in the tool-result content
			// rather than being collapsed into a bare exit-status error.
			return fmt.Sprintf("Error: %v\n%s", err, output), nil
		}
		return output, err
	case <-runCtx.Done():
		terminateProcessGroup(cmd)
		select {
		case <-done:
		case <-time.After(killGracePeriod):
			killProcessGroup(cmd)
			<-done
		}
		return truncate(out.String()), fmt.Errorf("command timed out after %s", timeout)
	}
}

func terminateProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

func truncate(s string) string {
	if len(s) <= maxOutputChars {
		return s
	}
	return s[:maxOutputChars]
}
