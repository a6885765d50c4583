package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/torbobase/torbo-base/internal/access"
	"github.com/torbobase/torbo-base/internal/llm"
	"github.com/torbobase/torbo-base/internal/pathscope"
)

const maxReadBytes = 1 << 20 // 1 MiB, generous for a single tool-result

// readFileTool implements the read_file built-in.
type readFileTool struct {
	agents *access.Store
}

// NewReadFileTool returns the read_file tool, scoped to agents for
// per-agent directory-scope lookups at execution time.
func NewReadFileTool(agents *access.Store) Tool { return &readFileTool{agents: agents} }

func (t *readFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Type: "function", Function: llm.FunctionDef{
		Name:        "read_file",
		Description: "Read the contents of a text file on the local filesystem.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			},
			"required": []string{"path"},
		},
	}}
}

func (t *readFileTool) Capability() access.Capability {
	return access.Capability{ToolName: "read_file", Category: access.CategoryFiles, MinimumLevel: access.Read}
}

func (t *readFileTool) Execute(ctx context.Context, call CallContext, args map[string]interface{}) (string, error) {
	raw, _ := args["path"].(string)
	if raw == "" {
		return "", fmt.Errorf("invalid arguments")
	}

	agent := t.agents.Get(call.AgentID)
	var scopes []string
	if agent != nil {
		scopes = agent.DirectoryScopes
	}

	resolved, deny, err := pathscope.CheckRead(raw, scopes)
	if err != nil {
		return "", err
	}
	if deny != "" {
		return deny, nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", raw, err)
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
	}
	return string(data), nil
}

// writeFileTool implements the write_file built-in.
type writeFileTool struct {
	agents    *access.Store
	evaluator *access.Evaluator
	backupDir string
}

// NewWriteFileTool returns the write_file tool. backupDir is the root under
// which pre-existing files are backed up before being overwritten
// (conventionally ~/.torbo-backup).
func NewWriteFileTool(agents *access.Store, evaluator *access.Evaluator, backupDir string) Tool {
	return &writeFileTool{agents: agents, evaluator: evaluator, backupDir: backupDir}
}

func (t *writeFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Type: "function", Function: llm.FunctionDef{
		Name:        "write_file",
		Description: "Write (overwrite or create) a text file on the local filesystem.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path":    map[string]interface{}{"type": "string"},
				"content": map[string]interface{}{"type": "string"},
			},
			"required": []string{"path", "content"},
		},
	}}
}

func (t *writeFileTool) Capability() access.Capability {
	return access.Capability{ToolName: "write_file", Category: access.CategoryFiles, MinimumLevel: access.Write}
}

func (t *writeFileTool) Execute(ctx context.Context, call CallContext, args map[string]interface{}) (string, error) {
	raw, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if raw == "" {
		return "", fmt.Errorf("invalid arguments")
	}

	agent := t.agents.Get(call.AgentID)
	var scopes []string
	if agent != nil {
		scopes = agent.DirectoryScopes
	}

	resolved, deny, err := pathscope.CheckWrite(raw, scopes, call.VIP)
	if err != nil {
		return "", err
	}
	if deny != "" {
		return deny, nil
	}

	if err := t.backup(resolved); err != nil {
		return "", fmt.Errorf("backup before write: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", raw, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), raw), nil
}

// backup copies any pre-existing file at resolved into
// backupDir/<ISO-timestamp>_<basename> before it is overwritten. A missing
// file is not an error: there is nothing to back up for a fresh create.
func (t *writeFileTool) backup(resolved string) error {
	data, err := os.ReadFile(resolved)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(t.backupDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102T150405Z"), filepath.Base(resolved))
	return os.WriteFile(filepath.Join(t.backupDir, name), data, 0o600)
}

// listDirectoryTool implements the list_directory built-in.
type listDirectoryTool struct {
	agents *access.Store
}

// NewListDirectoryTool returns the list_directory tool.
func NewListDirectoryTool(agents *access.Store) Tool { return &listDirectoryTool{agents: agents} }

func (t *listDirectoryTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Type: "function", Function: llm.FunctionDef{
		Name:        "list_directory",
		Description: "List the entries of a directory on the local filesystem.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			},
			"required": []string{"path"},
		},
	}}
}

func (t *listDirectoryTool) Capability() access.Capability {
	return access.Capability{ToolName: "list_directory", Category: access.CategoryFiles, MinimumLevel: access.Read}
}

func (t *listDirectoryTool) Execute(ctx context.Context, call CallContext, args map[string]interface{}) (string, error) {
	raw, _ := args["path"].(string)
	if raw == "" {
		return "", fmt.Errorf("invalid arguments")
	}

	agent := t.agents.Get(call.AgentID)
	var scopes []string
	if agent != nil {
		scopes = agent.DirectoryScopes
	}

	resolved, deny, err := pathscope.CheckRead(raw, scopes)
	if err != nil {
		return "", err
	}
	if deny != "" {
		return deny, nil
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", raw, err)
	}
	out := ""
	for _, e := range entries {
		kind := "file"
		if e.IsDir() {
			kind = "dir"
		}
		out += fmt.Sprintf("%s\t%s\n", kind, e.Name())
	}
	return out, nil
}
