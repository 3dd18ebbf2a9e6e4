package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/pkg/proto"
)

type stubTool struct {
	name   string
	output string
}

func (s *stubTool) Name() string { return s.name }

func (s *stubTool) Definition() proto.ToolDefinition {
	return proto.ToolDefinition{Name: s.name, InputSchema: proto.InputSchema{Type: "object"}}
}

func (s *stubTool) Exec(_ context.Context, _ map[string]any) (string, error) {
	return s.output, nil
}

func TestRegisterBuiltins(t *testing.T) {
	resetForTest()
	RegisterBuiltins()

	assert.Equal(t, []string{ToolListDir, ToolReadFile, ToolShell, ToolWriteFile}, Registered())
}

func TestRegisterAfterSealPanics(t *testing.T) {
	resetForTest()
	Seal()
	defer resetForTest()

	assert.Panics(t, func() {
		Register("late", func(Context) (Tool, error) { return &stubTool{name: "late"}, nil })
	})
}

func TestProviderAllowlist(t *testing.T) {
	resetForTest()
	RegisterBuiltins()
	defer resetForTest()

	p := NewProvider(Context{WorkDir: t.TempDir()}, []string{ToolReadFile})

	_, err := p.Get(ToolReadFile)
	require.NoError(t, err)

	_, err = p.Get(ToolShell)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestProviderUnknownTool(t *testing.T) {
	resetForTest()
	RegisterBuiltins()
	defer resetForTest()

	p := NewProvider(Context{WorkDir: t.TempDir()}, nil)

	_, err := p.Get("no_such_tool")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestProviderCachesInstances(t *testing.T) {
	resetForTest()
	created := 0
	Register("counted", func(Context) (Tool, error) {
		created++
		return &stubTool{name: "counted"}, nil
	})
	defer resetForTest()

	p := NewProvider(Context{}, nil)
	for range 3 {
		_, err := p.Get("counted")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, created)
}

func TestProviderDynamicTools(t *testing.T) {
	resetForTest()
	RegisterBuiltins()
	defer resetForTest()

	p := NewProvider(Context{WorkDir: t.TempDir()}, []string{ToolReadFile})
	p.SetDynamic([]Tool{&stubTool{name: "web_search", output: "result"}})

	// Dynamic tools resolve even though they are not on the allowlist.
	tool, err := p.Get("web_search")
	require.NoError(t, err)
	out, err := tool.Exec(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "result", out)

	schemas := p.Schemas()
	var names []string
	for _, def := range schemas {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{ToolReadFile, "web_search"}, names)

	// Replacing the dynamic set drops the old entries.
	p.SetDynamic(nil)
	_, err = p.Get("web_search")
	require.Error(t, err)
}

func TestReadFileTool(t *testing.T) {
	dir := t.TempDir()
	content := "alpha\nbeta\ngamma\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(content), 0o644))

	tool := NewReadFileTool(dir, 0)

	out, err := tool.Exec(context.Background(), map[string]any{"path": "notes.txt"})
	require.NoError(t, err)
	assert.Contains(t, out, "1\talpha")
	assert.Contains(t, out, "3\tgamma")

	out, err = tool.Exec(context.Background(), map[string]any{
		"path": "notes.txt", "offset": float64(2), "limit": float64(1),
	})
	require.NoError(t, err)
	assert.Contains(t, out, "beta")
	assert.NotContains(t, out, "alpha")
	assert.NotContains(t, out, "gamma")

	_, err = tool.Exec(context.Background(), map[string]any{"path": "../escape.txt"})
	require.Error(t, err)

	_, err = tool.Exec(context.Background(), map[string]any{"path": "/etc/passwd"})
	require.Error(t, err)
}

func TestReadFileToolTruncatesLongLines(t *testing.T) {
	dir := t.TempDir()
	long := strings.Repeat("x", 3000)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "long.txt"), []byte(long+"\n"), 0o644))

	tool := NewReadFileTool(dir, 0)
	out, err := tool.Exec(context.Background(), map[string]any{"path": "long.txt"})
	require.NoError(t, err)
	assert.Contains(t, out, "...")
	assert.Less(t, len(out), 2100)
}

func TestWriteFileTool(t *testing.T) {
	dir := t.TempDir()
	tool := NewWriteFileTool(dir, false)

	out, err := tool.Exec(context.Background(), map[string]any{
		"path": "sub/new.txt", "content": "hello",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "5 bytes")

	data, err := os.ReadFile(filepath.Join(dir, "sub", "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = tool.Exec(context.Background(), map[string]any{
		"path": "../outside.txt", "content": "x",
	})
	require.Error(t, err)
}

func TestWriteFileToolReadOnly(t *testing.T) {
	tool := NewWriteFileTool(t.TempDir(), true)
	_, err := tool.Exec(context.Background(), map[string]any{
		"path": "a.txt", "content": "x",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
}

func TestListDirTool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644))

	tool := NewListDirTool(dir)
	out, err := tool.Exec(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, out, "pkg/")
	assert.Contains(t, out, "go.mod")

	out, err = tool.Exec(context.Background(), map[string]any{"path": "pkg"})
	require.NoError(t, err)
	assert.Equal(t, "(empty directory)", out)
}

func TestShellTool(t *testing.T) {
	dir := t.TempDir()
	tool := NewShellTool(dir, false)

	out, err := tool.Exec(context.Background(), map[string]any{"command": "echo hi; echo err >&2"})
	require.NoError(t, err)
	assert.Contains(t, out, "exit code: 0")
	assert.Contains(t, out, "hi")
	assert.Contains(t, out, "err")

	out, err = tool.Exec(context.Background(), map[string]any{"command": "exit 3"})
	require.NoError(t, err)
	assert.Contains(t, out, "exit code: 3")

	out, err = tool.Exec(context.Background(), map[string]any{"command": "pwd"})
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Contains(t, out, resolved)
}

func TestShellToolCancellation(t *testing.T) {
	tool := NewShellTool(t.TempDir(), false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := tool.Exec(ctx, map[string]any{"command": "sleep 30"})
		done <- err
	}()
	cancel()
	err := <-done
	require.Error(t, err)
}

func TestShellToolReadOnly(t *testing.T) {
	tool := NewShellTool(t.TempDir(), true)
	_, err := tool.Exec(context.Background(), map[string]any{"command": "true"})
	require.Error(t, err)
}

func TestMCPToolAdapter(t *testing.T) {
	def := proto.ToolDefinition{
		Name:        "remote_fetch",
		Description: "fetch a document",
		InputSchema: proto.InputSchema{Type: "object"},
	}
	caller := mcpCallerFunc(func(_ context.Context, name string, args map[string]any) (string, error) {
		if name != "remote_fetch" {
			return "", fmt.Errorf("unexpected tool %q", name)
		}
		return fmt.Sprintf("fetched %v", args["url"]), nil
	})

	tool := NewMCPTool(def, caller)
	assert.Equal(t, "remote_fetch", tool.Name())
	assert.Equal(t, def, tool.Definition())

	out, err := tool.Exec(context.Background(), map[string]any{"url": "a://b"})
	require.NoError(t, err)
	assert.Equal(t, "fetched a://b", out)
}

type mcpCallerFunc func(ctx context.Context, name string, args map[string]any) (string, error)

func (f mcpCallerFunc) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	return f(ctx, name, args)
}
