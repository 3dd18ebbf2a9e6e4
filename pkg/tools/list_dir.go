package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"aide/pkg/proto"
)

// ListDirTool lists directory entries within the session workspace.
type ListDirTool struct {
	workDir string
}

// NewListDirTool creates a list_dir tool rooted at workDir.
func NewListDirTool(workDir string) *ListDirTool {
	return &ListDirTool{workDir: workDir}
}

// Name returns the tool name.
func (t *ListDirTool) Name() string { return ToolListDir }

// Definition returns the tool definition for the LLM.
func (t *ListDirTool) Definition() proto.ToolDefinition {
	return proto.ToolDefinition{
		Name:        ToolListDir,
		Description: "List files and directories at a path within the workspace. Directories are suffixed with '/'.",
		InputSchema: proto.InputSchema{
			Type: "object",
			Properties: map[string]proto.Property{
				"path": {
					Type:        "string",
					Description: "Relative directory path within workspace. Defaults to '.'.",
				},
			},
		},
	}
}

// Exec executes the tool with the given arguments.
func (t *ListDirTool) Exec(_ context.Context, args map[string]any) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		path = "."
	}

	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}

	entries, err := os.ReadDir(filepath.Join(t.workDir, clean))
	if err != nil {
		return "", fmt.Errorf("list %s: %w", path, err)
	}

	var out strings.Builder
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		out.WriteString(name)
		out.WriteByte('\n')
	}
	if out.Len() == 0 {
		return "(empty directory)", nil
	}
	return out.String(), nil
}
