package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"aide/pkg/proto"
)

const (
	defaultReadLines = 2000 // default number of lines to read
	maxLineLength    = 2000 // truncate lines longer than this
	defaultReadBytes = 1048576
)

// ReadFileTool reads file contents from the session workspace.
type ReadFileTool struct {
	workDir      string
	maxSizeBytes int64 // safety cap on total output bytes
}

// NewReadFileTool creates a read_file tool rooted at workDir.
func NewReadFileTool(workDir string, maxSizeBytes int64) *ReadFileTool {
	if maxSizeBytes <= 0 {
		maxSizeBytes = defaultReadBytes
	}
	return &ReadFileTool{workDir: workDir, maxSizeBytes: maxSizeBytes}
}

// Name returns the tool name.
func (t *ReadFileTool) Name() string { return ToolReadFile }

// Definition returns the tool definition for the LLM.
func (t *ReadFileTool) Definition() proto.ToolDefinition {
	return proto.ToolDefinition{
		Name:        ToolReadFile,
		Description: "Read contents of a file from the workspace. Output uses numbered lines. For large files, use offset and limit to read specific sections.",
		InputSchema: proto.InputSchema{
			Type: "object",
			Properties: map[string]proto.Property{
				"path": {
					Type:        "string",
					Description: "Relative path to file within workspace",
				},
				"offset": {
					Type:        "integer",
					Description: "Line number to start reading from (1-based). Defaults to 1.",
				},
				"limit": {
					Type:        "integer",
					Description: "Number of lines to read. Defaults to 2000.",
				},
			},
			Required: []string{"path"},
		},
	}
}

// Exec executes the tool with the given arguments.
func (t *ReadFileTool) Exec(ctx context.Context, args map[string]any) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return "", fmt.Errorf("path is required and must be a string")
	}
	offset := intArgOrDefault(args, "offset", 1)
	limit := intArgOrDefault(args, "limit", defaultReadLines)

	full, err := t.resolve(path)
	if err != nil {
		return "", err
	}

	file, err := os.Open(full)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	var out strings.Builder
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	written := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		lineNo++
		if lineNo < offset {
			continue
		}
		if written >= limit || int64(out.Len()) > t.maxSizeBytes {
			break
		}
		line := scanner.Text()
		if len(line) > maxLineLength {
			line = line[:maxLineLength] + "..."
		}
		fmt.Fprintf(&out, "%6d\t%s\n", lineNo, line)
		written++
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if written == 0 {
		return fmt.Sprintf("(no lines in range, file has %d lines)", lineNo), nil
	}
	return out.String(), nil
}

// resolve cleans the path and confines it to the workspace root.
func (t *ReadFileTool) resolve(path string) (string, error) {
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return filepath.Join(t.workDir, clean), nil
}
