// Package mcp implements the MCP Server Manager actor: it starts the
// configured MCP servers over stdio, discovers their tools, and exposes
// them to the session's tool provider.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"aide/pkg/actor"
	"aide/pkg/logx"
	"aide/pkg/proto"
	"aide/pkg/tools"
	"aide/pkg/version"
)

// ServerConfig declares one stdio MCP server to launch.
type ServerConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
	Env     []string `yaml:"env,omitempty"`
	WorkDir string   `yaml:"work_dir,omitempty"`
}

// serverSession is one connected server plus the mapping from advertised
// (prefixed) tool names back to the server-local names.
type serverSession struct {
	name    string
	session *sdk.ClientSession
	raw     map[string]string
}

// CallTool implements tools.MCPCaller for the tools of one server.
func (s *serverSession) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	rawName, ok := s.raw[name]
	if !ok {
		return "", fmt.Errorf("server %s does not provide %q", s.name, name)
	}

	res, err := s.session.CallTool(ctx, &sdk.CallToolParams{Name: rawName, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("call %s on %s: %w", rawName, s.name, err)
	}

	text := ""
	for _, content := range res.Content {
		if tc, ok := content.(*sdk.TextContent); ok {
			text += tc.Text
		}
	}
	if res.IsError {
		return "", fmt.Errorf("call %s on %s: %s", rawName, s.name, text)
	}
	return text, nil
}

// Manager is the MCP Server Manager actor. Start failure is fatal to
// session bring-up and reported once in the response, never retried here.
type Manager struct {
	dir      *actor.Directory
	provider *tools.Provider
	servers  []ServerConfig
	logger   *logx.Logger

	sessions []*serverSession
	started  bool

	// transportFor builds the transport for one server; overridable in
	// tests (in-memory transport instead of a child process).
	transportFor func(cfg ServerConfig) (sdk.Transport, error)
}

// NewManager creates the manager for the configured servers.
func NewManager(dir *actor.Directory, provider *tools.Provider, servers []ServerConfig) *Manager {
	return &Manager{
		dir:          dir,
		provider:     provider,
		servers:      servers,
		logger:       logx.NewLogger("mcp"),
		transportFor: commandTransport,
	}
}

func commandTransport(cfg ServerConfig) (sdk.Transport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("server %s has no command", cfg.Name)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = append(os.Environ(), cfg.Env...)
	return &sdk.CommandTransport{Command: cmd}, nil
}

// Receive implements actor.Behavior.
func (m *Manager) Receive(ctx context.Context, msg proto.Message) error {
	switch req := msg.(type) {
	case proto.StartServersRequest:
		m.handleStart(ctx, req)
	case proto.RefreshToolsRequest:
		m.handleRefresh(ctx, req)
	default:
		m.logger.Warn("unexpected message kind %s, dropping", msg.Kind())
	}
	return nil
}

// OnStop closes all live sessions (terminating the server processes).
func (m *Manager) OnStop(context.Context) {
	for _, s := range m.sessions {
		if err := s.session.Close(); err != nil {
			m.logger.Warn("closing %s: %v", s.name, err)
		}
	}
	m.sessions = nil
}

func (m *Manager) handleStart(ctx context.Context, req proto.StartServersRequest) {
	resp := proto.StartServersResponse{RequestID: req.RequestID}
	if m.started {
		resp.Err = "mcp servers already started"
		m.respond(ctx, req.ReplyTo, resp)
		return
	}

	for _, cfg := range m.servers {
		session, err := m.connect(ctx, cfg)
		if err != nil {
			m.closeAll()
			resp.Err = fmt.Sprintf("start %s: %v", cfg.Name, err)
			m.respond(ctx, req.ReplyTo, resp)
			return
		}
		m.sessions = append(m.sessions, session)
	}
	m.started = true

	defs, err := m.publishTools(ctx)
	if err != nil {
		m.closeAll()
		m.started = false
		resp.Err = err.Error()
		m.respond(ctx, req.ReplyTo, resp)
		return
	}

	m.logger.Info("started %d servers, %d tools discovered", len(m.sessions), len(defs))
	resp.Tools = defs
	m.respond(ctx, req.ReplyTo, resp)
}

func (m *Manager) handleRefresh(ctx context.Context, req proto.RefreshToolsRequest) {
	resp := proto.RefreshToolsResponse{RequestID: req.RequestID}
	if !m.started {
		resp.Err = "mcp servers not started"
		m.respond(ctx, req.ReplyTo, resp)
		return
	}

	defs, err := m.publishTools(ctx)
	if err != nil {
		resp.Err = err.Error()
		m.respond(ctx, req.ReplyTo, resp)
		return
	}

	m.logger.Info("refreshed %d tools", len(defs))
	resp.Tools = defs
	m.respond(ctx, req.ReplyTo, resp)
}

func (m *Manager) connect(ctx context.Context, cfg ServerConfig) (*serverSession, error) {
	transport, err := m.transportFor(cfg)
	if err != nil {
		return nil, err
	}
	client := sdk.NewClient(&sdk.Implementation{Name: "aide", Version: version.Version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &serverSession{name: cfg.Name, session: session, raw: make(map[string]string)}, nil
}

// publishTools discovers every server's tools, installs them as the
// provider's dynamic set, and returns the definitions.
func (m *Manager) publishTools(ctx context.Context) ([]proto.ToolDefinition, error) {
	var defs []proto.ToolDefinition
	var wrapped []tools.Tool

	for _, s := range m.sessions {
		listed, err := s.session.ListTools(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("list tools on %s: %w", s.name, err)
		}
		s.raw = make(map[string]string, len(listed.Tools))
		for _, tool := range listed.Tools {
			def, err := convertTool(s.name, tool)
			if err != nil {
				return nil, fmt.Errorf("tool %s on %s: %w", tool.Name, s.name, err)
			}
			s.raw[def.Name] = tool.Name
			defs = append(defs, def)
			wrapped = append(wrapped, tools.NewMCPTool(def, s))
		}
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	m.provider.SetDynamic(wrapped)
	return defs, nil
}

// convertTool maps an SDK tool to the internal definition, advertised as
// mcp_<server>_<tool> so names never collide across servers or builtins.
func convertTool(serverName string, tool *sdk.Tool) (proto.ToolDefinition, error) {
	def := proto.ToolDefinition{
		Name:        fmt.Sprintf("mcp_%s_%s", serverName, tool.Name),
		Description: tool.Description,
	}
	if tool.InputSchema != nil {
		// Round-trip through JSON: the SDK schema type is structurally a
		// superset of ours.
		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return def, fmt.Errorf("marshal input schema: %w", err)
		}
		if err := json.Unmarshal(raw, &def.InputSchema); err != nil {
			return def, fmt.Errorf("convert input schema: %w", err)
		}
	}
	if def.InputSchema.Type == "" {
		def.InputSchema.Type = "object"
	}
	return def, nil
}

func (m *Manager) closeAll() {
	for _, s := range m.sessions {
		_ = s.session.Close()
	}
	m.sessions = nil
}

func (m *Manager) respond(ctx context.Context, replyTo string, resp proto.Message) {
	if err := m.dir.Send(ctx, replyTo, resp); err != nil {
		m.logger.Error("response %s not delivered to %s: %v", resp.Kind(), replyTo, err)
	}
}
