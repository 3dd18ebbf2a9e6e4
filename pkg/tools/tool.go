// Package tools provides the tool registry and built-in tool
// implementations dispatched by the Tool-Call Actor.
package tools

import (
	"context"

	"aide/pkg/proto"
)

// Canonical tool names.
const (
	ToolListDir   = "list_dir"
	ToolReadFile  = "read_file"
	ToolWriteFile = "write_file"
	ToolShell     = "shell"
)

// Tool is one executable capability exposed to the language model.
// Exec must honor ctx cancellation with best-effort cooperative abort.
type Tool interface {
	Name() string
	Definition() proto.ToolDefinition
	Exec(ctx context.Context, args map[string]any) (string, error)
}

// stringArg extracts a required string argument.
func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok && v != ""
}

// intArgOrDefault extracts an integer argument, returning defaultVal if
// missing or invalid. Handles float64 (from JSON unmarshal), int and int64.
func intArgOrDefault(args map[string]any, key string, defaultVal int) int {
	v, exists := args[key]
	if !exists {
		return defaultVal
	}
	var n int
	switch val := v.(type) {
	case float64:
		n = int(val)
	case int:
		n = val
	case int64:
		n = int(val)
	default:
		return defaultVal
	}
	if n < 1 {
		return defaultVal
	}
	return n
}
