// Package proto defines the typed message contracts exchanged between actors.
// Messages are pure data: a Kind discriminator plus copyable payload fields.
// Anything that expects a reply carries a RequestID and the URI to reply to.
package proto

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates message types on the wire between actors.
type Kind string

const (
	// Domain messages produced by the User Actor.

	KindUserText        Kind = "USER_TEXT"
	KindSessionExit     Kind = "SESSION_EXIT"
	KindClearHistory    Kind = "CLEAR_HISTORY"
	KindCompaction      Kind = "COMPACTION"
	KindImageAttach     Kind = "IMAGE_ATTACH"
	KindUserInputFailed Kind = "USER_INPUT_FAILED"

	// Handoff and human-interaction messages.

	KindAgentYielded    Kind = "AGENT_YIELDED"
	KindAsk             Kind = "ASK"
	KindAskResponse     Kind = "ASK_RESPONSE"
	KindConfirm         Kind = "CONFIRM"
	KindConfirmResponse Kind = "CONFIRM_RESPONSE"
	KindStatusUpdate    Kind = "STATUS_UPDATE"
	KindAssistantOutput Kind = "ASSISTANT_OUTPUT"
	KindAssistantChunk  Kind = "ASSISTANT_CHUNK"

	// Completion request/response pair (Agent Actor <-> LLM Actor).

	KindCompleteStep         Kind = "COMPLETE_STEP"
	KindCompleteStepResponse Kind = "COMPLETE_STEP_RESPONSE"

	// Tool execution messages (Agent Actor <-> Tool-Call Actor).

	KindExecuteTools         Kind = "EXECUTE_TOOLS"
	KindExecuteToolsResponse Kind = "EXECUTE_TOOLS_RESPONSE"
	KindCancelTools          Kind = "CANCEL_TOOLS"

	// Lifecycle/resource messages (History Manager, MCP Server Manager).

	KindSaveHistory          Kind = "SAVE_HISTORY"
	KindSaveHistoryResponse  Kind = "SAVE_HISTORY_RESPONSE"
	KindStartServers         Kind = "START_SERVERS"
	KindStartServersResponse Kind = "START_SERVERS_RESPONSE"
	KindRefreshTools         Kind = "REFRESH_TOOLS"
	KindRefreshToolsResponse Kind = "REFRESH_TOOLS_RESPONSE"
)

// String returns the string representation of Kind.
func (k Kind) String() string { return string(k) }

// Message is the contract every cross-actor payload implements.
// Implementations carry only copyable data or read-only snapshots;
// never live references two goroutines could mutate.
type Message interface {
	Kind() Kind
}

// Correlated is implemented by messages taking part in a request/response
// pair. The correlation id links a response back to its request.
type Correlated interface {
	Message
	CorrelationID() string
}

// NewRequestID returns a fresh correlation id, unique per outstanding request.
func NewRequestID() string {
	return uuid.NewString()
}

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one entry of the conversation history. Histories cross actor
// boundaries only as deep-copied snapshots (see CloneTurns).
type Turn struct {
	Timestamp  time.Time      `json:"timestamp"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Images     []string       `json:"images,omitempty"`       // data URLs attached to a user turn
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`   // assistant turns only
	ToolCallID string         `json:"tool_call_id,omitempty"` // tool turns only
	ToolName   string         `json:"tool_name,omitempty"`    // tool turns only
}

// ToolCall is one tool invocation requested by an assistant turn.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Clone returns a deep copy of the tool call.
func (tc ToolCall) Clone() ToolCall {
	clone := ToolCall{ID: tc.ID, Name: tc.Name}
	if tc.Arguments != nil {
		clone.Arguments = make(map[string]any, len(tc.Arguments))
		for k, v := range tc.Arguments {
			clone.Arguments[k] = v
		}
	}
	return clone
}

// CloneTurns deep-copies a history snapshot so the receiver can never
// observe or cause mutation of the sender's live structure.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i := range turns {
		t := turns[i]
		if t.Images != nil {
			t.Images = append([]string(nil), t.Images...)
		}
		if t.ToolCalls != nil {
			calls := make([]ToolCall, len(t.ToolCalls))
			for j := range t.ToolCalls {
				calls[j] = t.ToolCalls[j].Clone()
			}
			t.ToolCalls = calls
		}
		out[i] = t
	}
	return out
}

// Usage reports token consumption and cost of one completion.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Tokens returns the total token count of the completion.
func (u Usage) Tokens() int { return u.PromptTokens + u.CompletionTokens }

// Add accumulates another usage into this one.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		CostUSD:          u.CostUSD + other.CostUSD,
	}
}

// ToolStatus classifies the outcome of one tool call.
type ToolStatus string

const (
	ToolStatusSuccess   ToolStatus = "success"
	ToolStatusFailure   ToolStatus = "failure"
	ToolStatusCancelled ToolStatus = "cancelled"
)

// ToolDefinition describes a tool to the language model.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// InputSchema is a JSON-schema-shaped description of tool arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes one tool argument.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
}

// StatusLevel classifies StatusUpdate messages for rendering.
type StatusLevel string

const (
	StatusInfo    StatusLevel = "info"
	StatusSuccess StatusLevel = "success"
	StatusWarn    StatusLevel = "warn"
	StatusError   StatusLevel = "error"
)

// CompletionErrKind classifies completer failures carried across the
// actor boundary. Errors never cross as live error values; they cross as
// copyable classification + text.
type CompletionErrKind string

const (
	CompletionErrNone      CompletionErrKind = ""
	CompletionErrAuth      CompletionErrKind = "auth"
	CompletionErrRateLimit CompletionErrKind = "rate_limit"
	CompletionErrBadPrompt CompletionErrKind = "bad_prompt"
	CompletionErrTransient CompletionErrKind = "transient"
	CompletionErrEmpty     CompletionErrKind = "empty_response"
	CompletionErrUnknown   CompletionErrKind = "unknown"
)

// Validate checks the structural invariants common to correlated messages.
func validateCorrelated(kind Kind, requestID, replyTo string) error {
	if requestID == "" {
		return fmt.Errorf("%s: request id is required", kind)
	}
	if replyTo == "" {
		return fmt.Errorf("%s: reply-to URI is required", kind)
	}
	return nil
}
