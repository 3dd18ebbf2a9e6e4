package toolcall

import (
	"encoding/json"
	"fmt"
	"regexp"

	"aide/pkg/proto"
	"aide/pkg/tools"
)

const (
	toolDeniedOutput  = "Tool execution denied."
	shellDeniedOutput = "Shell command execution denied."
)

// Gate decides which tool calls need a human yes/no before execution.
// Tool patterns match the tool name; shell patterns match the command
// argument of the shell tool.
type Gate struct {
	toolPatterns  []*regexp.Regexp
	shellPatterns []*regexp.Regexp
}

// NewGate compiles the configured confirmation patterns. Both lists may
// be empty; a nil Gate disables gating entirely.
func NewGate(toolPatterns, shellPatterns []string) (*Gate, error) {
	g := &Gate{}
	for _, pat := range toolPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("confirm tool pattern %q: %w", pat, err)
		}
		g.toolPatterns = append(g.toolPatterns, re)
	}
	for _, pat := range shellPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("confirm shell pattern %q: %w", pat, err)
		}
		g.shellPatterns = append(g.shellPatterns, re)
	}
	return g, nil
}

// check returns the question to put to the human and the output to use
// when execution is denied. ok is false when the call needs no
// confirmation.
func (g *Gate) check(call proto.ToolCall) (question, denied string, ok bool) {
	if g == nil {
		return "", "", false
	}

	if call.Name == tools.ToolShell {
		if command, isStr := call.Arguments["command"].(string); isStr {
			for _, re := range g.shellPatterns {
				if re.MatchString(command) {
					q := fmt.Sprintf("Execute shell command `%s`?", command)
					return q, shellDeniedOutput, true
				}
			}
		}
	}

	for _, re := range g.toolPatterns {
		if re.MatchString(call.Name) {
			q := fmt.Sprintf("Execute tool `%s` with arguments `%s`?", call.Name, formatArgs(call.Arguments))
			return q, toolDeniedOutput, true
		}
	}
	return "", "", false
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}
