package sandbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/torbobase/torbo-base/internal/sandbox"
)

// DockerSandbox requires a reachable daemon, so these tests exercise
// InProcessSandbox only; it is the fallback path any test environment
// without Docker will actually hit.

func TestInProcessSandbox_RunsBashAndCapturesOutput(t *testing.T) {
	sb := &sandbox.InProcessSandbox{}
	result, err := sb.Execute(context.Background(), "echo hello", "bash", sandbox.Config{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", result.ExitCode)
	}
	if result.Stdout != "hello\n" {
		t.Fatalf("expected stdout %q, got %q", "hello\n", result.Stdout)
	}
}

func TestInProcessSandbox_NonZeroExitIsNotAnError(t *testing.T) {
	sb := &sandbox.InProcessSandbox{}
	result, err := sb.Execute(context.Background(), "exit 3", "bash", sandbox.Config{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
}

func TestInProcessSandbox_CapturesStderr(t *testing.T) {
	sb := &sandbox.InProcessSandbox{}
	result, err := sb.Execute(context.Background(), "echo oops 1>&2", "bash", sandbox.Config{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if result.Stderr != "oops\n" {
		t.Fatalf("expected stderr %q, got %q", "oops\n", result.Stderr)
	}
}

func TestInProcessSandbox_TimesOutLongRunningCode(t *testing.T) {
	sb := &sandbox.InProcessSandbox{}
	result, err := sb.Execute(context.Background(), "sleep 5", "bash", sandbox.Config{Timeout: 50 * time.Millisecond})
	// exec.CommandContext kills the process on deadline; Wait still reports it
	// as a normal (if non-zero) exit rather than surfacing a Go error.
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if result.ExitCode == 0 {
		t.Fatal("expected a non-zero exit code for code killed by the timeout")
	}
}

func TestInProcessSandbox_RejectsUnsupportedLanguage(t *testing.T) {
	sb := &sandbox.InProcessSandbox{}
	_, err := sb.Execute(context.Background(), "puts 1", "ruby", sandbox.Config{})
	if err == nil {
		t.Fatal("expected an error for an unsupported language")
	}
}
