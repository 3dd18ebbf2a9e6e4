package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"aide/pkg/proto"
)

const defaultShellTimeout = 120 * time.Second

// ShellTool runs a shell command in the workspace. Cancellation of the
// call context kills the process group.
type ShellTool struct {
	workDir  string
	readOnly bool
}

// NewShellTool creates a shell tool rooted at workDir.
func NewShellTool(workDir string, readOnly bool) *ShellTool {
	return &ShellTool{workDir: workDir, readOnly: readOnly}
}

// Name returns the tool name.
func (t *ShellTool) Name() string { return ToolShell }

// Definition returns the tool definition for the LLM.
func (t *ShellTool) Definition() proto.ToolDefinition {
	return proto.ToolDefinition{
		Name:        ToolShell,
		Description: "Run a shell command in the workspace and return its combined output and exit code.",
		InputSchema: proto.InputSchema{
			Type: "object",
			Properties: map[string]proto.Property{
				"command": {
					Type:        "string",
					Description: "Command line passed to `sh -c`",
				},
				"timeout_seconds": {
					Type:        "integer",
					Description: "Maximum run time in seconds. Defaults to 120.",
				},
			},
			Required: []string{"command"},
		},
	}
}

// Exec executes the tool with the given arguments.
func (t *ShellTool) Exec(ctx context.Context, args map[string]any) (string, error) {
	if t.readOnly {
		return "", fmt.Errorf("shell disabled: workspace is read-only")
	}
	command, ok := stringArg(args, "command")
	if !ok {
		return "", fmt.Errorf("command is required and must be a string")
	}

	timeout := defaultShellTimeout
	if secs := intArgOrDefault(args, "timeout_seconds", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = t.workDir
	// Kill the whole process group on cancellation so children cannot
	// hold the output pipe open past the timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			return "", fmt.Errorf("command timed out after %s", timeout)
		case errors.Is(execCtx.Err(), context.Canceled):
			return "", execCtx.Err()
		default:
			return "", fmt.Errorf("run command: %w", err)
		}
	}

	return fmt.Sprintf("exit code: %d\n%s", exitCode, output.String()), nil
}
