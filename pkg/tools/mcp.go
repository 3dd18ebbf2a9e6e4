package tools

import (
	"context"
	"fmt"

	"aide/pkg/proto"
)

// MCPCaller invokes a tool on a connected MCP server. Implemented by the
// MCP Server Manager; kept narrow so this package does not depend on the
// MCP transport.
type MCPCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// MCPTool adapts one discovered MCP server tool to the Tool interface.
type MCPTool struct {
	def    proto.ToolDefinition
	caller MCPCaller
}

// NewMCPTool wraps a discovered tool definition and the caller that can
// execute it.
func NewMCPTool(def proto.ToolDefinition, caller MCPCaller) *MCPTool {
	return &MCPTool{def: def, caller: caller}
}

// Name returns the tool name as advertised by the server.
func (t *MCPTool) Name() string { return t.def.Name }

// Definition returns the tool definition for the LLM.
func (t *MCPTool) Definition() proto.ToolDefinition { return t.def }

// Exec forwards the call to the MCP server.
func (t *MCPTool) Exec(ctx context.Context, args map[string]any) (string, error) {
	out, err := t.caller.CallTool(ctx, t.def.Name, args)
	if err != nil {
		return "", fmt.Errorf("mcp tool %q: %w", t.def.Name, err)
	}
	return out, nil
}

// SetDynamic replaces the provider's dynamic tool set. Dynamic tools are
// discovered at runtime (MCP servers) and bypass the static registry and
// allowlist. A builtin with the same name shadows a dynamic tool.
func (p *Provider) SetDynamic(dynamic []Tool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.dynamic = make(map[string]Tool, len(dynamic))
	for _, tool := range dynamic {
		p.dynamic[tool.Name()] = tool
	}
}
