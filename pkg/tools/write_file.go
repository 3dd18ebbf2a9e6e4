package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"aide/pkg/proto"
)

// WriteFileTool writes file contents within the session workspace.
type WriteFileTool struct {
	workDir  string
	readOnly bool
}

// NewWriteFileTool creates a write_file tool rooted at workDir.
func NewWriteFileTool(workDir string, readOnly bool) *WriteFileTool {
	return &WriteFileTool{workDir: workDir, readOnly: readOnly}
}

// Name returns the tool name.
func (t *WriteFileTool) Name() string { return ToolWriteFile }

// Definition returns the tool definition for the LLM.
func (t *WriteFileTool) Definition() proto.ToolDefinition {
	return proto.ToolDefinition{
		Name:        ToolWriteFile,
		Description: "Write content to a file in the workspace, creating parent directories as needed. Overwrites existing files.",
		InputSchema: proto.InputSchema{
			Type: "object",
			Properties: map[string]proto.Property{
				"path": {
					Type:        "string",
					Description: "Relative path to file within workspace",
				},
				"content": {
					Type:        "string",
					Description: "Full content to write",
				},
			},
			Required: []string{"path", "content"},
		},
	}
}

// Exec executes the tool with the given arguments.
func (t *WriteFileTool) Exec(_ context.Context, args map[string]any) (string, error) {
	if t.readOnly {
		return "", fmt.Errorf("workspace is read-only")
	}
	path, ok := stringArg(args, "path")
	if !ok {
		return "", fmt.Errorf("path is required and must be a string")
	}
	content, ok := args["content"].(string)
	if !ok {
		return "", fmt.Errorf("content is required and must be a string")
	}

	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	full := filepath.Join(t.workDir, clean)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), clean), nil
}
