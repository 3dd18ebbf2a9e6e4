// Package history owns the conversation turn sequence. The Agent Actor
// is the single writer; everything else sees deep-copied snapshots. The
// Manager actor persists snapshots through a Store collaborator.
package history

import (
	"time"

	"aide/pkg/proto"
)

// History is the ordered turn sequence of one session. Not safe for
// concurrent use; it lives inside exactly one actor.
type History struct {
	systemPrompt string
	turns        []proto.Turn
}

// New creates a history seeded with the system prompt (kept across Clear
// and compaction).
func New(systemPrompt string) *History {
	h := &History{systemPrompt: systemPrompt}
	h.reset()
	return h
}

func (h *History) reset() {
	h.turns = h.turns[:0]
	if h.systemPrompt != "" {
		h.turns = append(h.turns, proto.Turn{
			Timestamp: time.Now().UTC(),
			Role:      proto.RoleSystem,
			Content:   h.systemPrompt,
		})
	}
}

// AppendUser records one user turn with any staged image attachments.
func (h *History) AppendUser(text string, images []string) {
	h.turns = append(h.turns, proto.Turn{
		Timestamp: time.Now().UTC(),
		Role:      proto.RoleUser,
		Content:   text,
		Images:    append([]string(nil), images...),
	})
}

// AppendAssistant records one assistant turn (text and/or tool calls).
func (h *History) AppendAssistant(text string, calls []proto.ToolCall) {
	var cloned []proto.ToolCall
	if calls != nil {
		cloned = make([]proto.ToolCall, len(calls))
		for i, call := range calls {
			cloned[i] = call.Clone()
		}
	}
	h.turns = append(h.turns, proto.Turn{
		Timestamp: time.Now().UTC(),
		Role:      proto.RoleAssistant,
		Content:   text,
		ToolCalls: cloned,
	})
}

// AppendToolResult records the outcome of one tool call.
func (h *History) AppendToolResult(result proto.ToolCallResult) {
	h.turns = append(h.turns, proto.Turn{
		Timestamp:  time.Now().UTC(),
		Role:       proto.RoleTool,
		Content:    result.Output,
		ToolCallID: result.ToolCallID,
		ToolName:   result.Name,
	})
}

// Snapshot returns a deep copy safe to hand across actor boundaries.
func (h *History) Snapshot() []proto.Turn {
	return proto.CloneTurns(h.turns)
}

// Clear drops everything but the system prompt.
func (h *History) Clear() {
	h.reset()
}

// ReplaceWithSummary swaps the accumulated turns for a single assistant
// summary turn, keeping the system prompt.
func (h *History) ReplaceWithSummary(summary string) {
	h.reset()
	h.turns = append(h.turns, proto.Turn{
		Timestamp: time.Now().UTC(),
		Role:      proto.RoleAssistant,
		Content:   summary,
	})
}

// Len returns the number of turns, system prompt included.
func (h *History) Len() int { return len(h.turns) }
