// Package sandbox implements the code-execution backend for the run_code
// built-in tool: a short-lived, Docker-isolated environment, with an
// in-process fallback for hosts without a reachable Docker daemon.
//
// The container lifecycle is create, start, wait, fetch logs, force-remove.
// There is no Stop/Restart/List surface because a code sandbox run has no
// independent lifetime beyond the tool call that launched it.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
)

// Result is the outcome of a sandboxed execution.
type Result struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Artifacts []string
}

// languageImages maps a language name to the Docker image used to run it.
// Kept small and explicit rather than a general build pipeline: the gateway
// is not a CI system.
var languageImages = map[string]string{
	"python":     "python:3.12-slim",
	"javascript": "node:22-slim",
	"bash":       "alpine:3.20",
}

// Config carries the per-call resource bounds for a sandboxed run.
type Config struct {
	Timeout time.Duration
}

const defaultSandboxTimeout = 30 * time.Second

// DockerSandbox executes code inside a short-lived, disposable container via
// the Docker Engine API.
type DockerSandbox struct {
	client *dockerclient.Client
}

// NewDockerSandbox returns a DockerSandbox talking to the Docker daemon
// reachable via the standard DOCKER_HOST/DOCKER_* environment, or an error
// if no daemon is reachable (callers should fall back to InProcessSandbox).
func NewDockerSandbox() (*DockerSandbox, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("sandbox: docker client: %w", err)
	}
	return &DockerSandbox{client: cli}, nil
}

// Execute runs code in language inside a fresh container, removing it
// unconditionally once it exits (success or failure) so no sandbox run
// leaves state behind.
func (d *DockerSandbox) Execute(ctx context.Context, code, language string, cfg Config) (Result, error) {
	image, ok := languageImages[language]
	if !ok {
		return Result{}, fmt.Errorf("sandbox: unsupported language %q", language)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSandboxTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := commandFor(language, code)

	resp, err := d.client.ContainerCreate(runCtx, &container.Config{
		Image:      image,
		Cmd:        cmd,
		Tty:        false,
		OpenStdin:  false,
		WorkingDir: "/workspace",
	}, &container.HostConfig{
		AutoRemove: false, // we remove explicitly below so we can read logs first
		NetworkMode: "none",
	}, nil, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: create container: %w", err)
	}
	defer func() {
		_ = d.client.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := d.client.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("sandbox: start container: %w", err)
	}

	statusCh, errCh := d.client.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return Result{}, fmt.Errorf("sandbox: wait container: %w", err)
		}
	case st := <-statusCh:
		exitCode = int(st.StatusCode)
	case <-runCtx.Done():
		return Result{}, fmt.Errorf("sandbox: execution timed out after %s", timeout)
	}

	stdout, stderr, err := d.fetchLogs(resp.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

func (d *DockerSandbox) fetchLogs(containerID string) (stdout, stderr string, err error) {
	reader, err := d.client.ContainerLogs(context.Background(), containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("sandbox: fetch logs: %w", err)
	}
	defer reader.Close()
	// Docker multiplexes stdout/stderr over a single stream framed by an
	// 8-byte header per chunk; a full demux isn't worth the complexity here,
	// so both streams are read together into stdout.
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", "", fmt.Errorf("sandbox: read logs: %w", err)
	}
	return buf.String(), "", nil
}

func commandFor(language, code string) []string {
	switch language {
	case "python":
		return []string{"python3", "-c", code}
	case "javascript":
		return []string{"node", "-e", code}
	case "bash":
		return []string{"/bin/sh", "-c", code}
	default:
		return []string{"/bin/sh", "-c", code}
	}
}

// InProcessSandbox runs code directly on the host using the locally
// installed interpreter, for environments without a reachable Docker
// daemon. It provides no filesystem or network isolation beyond the
// caller's own access-control checks, so it must only ever be reached
// through the same run_code tool path that already enforces access level
// and the shell classifier.
type InProcessSandbox struct{}

// Execute runs code via the host interpreter for language.
func (InProcessSandbox) Execute(ctx context.Context, code, language string, cfg Config) (Result, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSandboxTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var interpreter string
	var args []string
	switch language {
	case "python":
		interpreter, args = "python3", []string{"-c", code}
	case "javascript":
		interpreter, args = "node", []string{"-e", code}
	case "bash":
		interpreter, args = "/bin/sh", []string{"-c", code}
	default:
		return Result{}, fmt.Errorf("sandbox: unsupported language %q", language)
	}

	cmd := exec.CommandContext(runCtx, interpreter, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return Result{}, fmt.Errorf("sandbox: run %s: %w", interpreter, err)
	}
	return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}
