// Package anthropic provides the Anthropic Claude completer.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"aide/pkg/llm"
	"aide/pkg/llm/llmerrors"
	"aide/pkg/proto"
)

// Client wraps the Anthropic API client to implement llm.Completer.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates a raw Claude completer; middleware is applied at a higher
// level.
func New(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// ModelName returns the model identifier.
func (c *Client) ModelName() string { return string(c.model) }

// Complete implements llm.Completer.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	systemPrompt, alternating, err := ensureAlternation(in.Turns)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt,
			fmt.Sprintf("message alternation error: %v", err))
	}

	messages := make([]anthropic.MessageParam, 0, len(alternating))
	for i := range alternating {
		turn := &alternating[i]
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(turn.Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(turn.Content)},
		})
	}

	maxTokens := in.MaxTokens
	if info, ok := llm.KnownModels[string(c.model)]; ok && info.MaxOutputTokens > 0 && maxTokens > info.MaxOutputTokens {
		maxTokens = info.MaxOutputTokens
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt, Type: "text"}}
	}
	if len(in.Tools) > 0 {
		params.Tools = convertTools(in.Tools)
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfAuto: &anthropic.ToolChoiceAutoParam{},
		}
	}

	if in.Progress != nil {
		return c.completeStreaming(ctx, in.Progress, params)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	return c.parseMessage(resp)
}

// completeStreaming consumes the event stream, forwarding text deltas to
// the progress sink while accumulating the full message.
func (c *Client) completeStreaming(ctx context.Context, progress llm.Progress, params anthropic.MessageNewParams) (llm.CompletionResponse, error) {
	stream := c.client.Messages.NewStreaming(ctx, params)
	var message anthropic.Message
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown,
				err, "failed to accumulate stream event")
		}
		if deltaEvent, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := deltaEvent.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				progress.Chunk(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	return c.parseMessage(&message)
}

// parseMessage maps one API message to the completion response.
func (c *Client) parseMessage(resp *anthropic.Message) (llm.CompletionResponse, error) {
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
			"received empty or nil response from Claude API")
	}

	var text string
	var toolCalls []proto.ToolCall
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			text += block.AsText().Text
		case "tool_use":
			toolUse := block.AsToolUse()
			var args map[string]any
			if err := json.Unmarshal(toolUse.Input, &args); err != nil {
				return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown,
					err, "failed to parse tool input")
			}
			toolCalls = append(toolCalls, proto.ToolCall{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: args,
			})
		}
	}

	promptTokens := int(resp.Usage.InputTokens)
	completionTokens := int(resp.Usage.OutputTokens)
	return llm.CompletionResponse{
		Text:       text,
		ToolCalls:  toolCalls,
		StopReason: string(resp.StopReason),
		Usage: proto.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			CostUSD:          llm.CalculateCost(string(c.model), promptTokens, completionTokens),
		},
	}, nil
}

// convertTools maps tool definitions to the Anthropic tool format.
func convertTools(defs []proto.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for i := range defs {
		def := &defs[i]

		var properties any
		if len(def.InputSchema.Properties) > 0 {
			props := make(map[string]any, len(def.InputSchema.Properties))
			for name, prop := range def.InputSchema.Properties {
				propMap := map[string]any{"type": prop.Type}
				if prop.Description != "" {
					propMap["description"] = prop.Description
				}
				if len(prop.Enum) > 0 {
					propMap["enum"] = prop.Enum
				}
				props[name] = propMap
			}
			properties = props
		}

		schema := anthropic.ToolInputSchemaParam{
			Type:       "object",
			Properties: properties,
			Required:   def.InputSchema.Required,
		}
		tools = append(tools, anthropic.ToolUnionParamOfTool(schema, def.Name))
	}
	return tools
}

// ensureAlternation prepares turns for the Anthropic API: system turns
// are extracted to the system parameter, tool results and other
// non-assistant turns merge into user messages, and the sequence must
// alternate user/assistant ending on user.
func ensureAlternation(turns []proto.Turn) (systemPrompt string, alternating []proto.Turn, err error) {
	if len(turns) == 0 {
		return "", nil, fmt.Errorf("turn list cannot be empty")
	}

	var systemParts []string
	var rest []proto.Turn
	for i := range turns {
		turn := &turns[i]
		if turn.Role == proto.RoleSystem {
			systemParts = append(systemParts, turn.Content)
		} else {
			rest = append(rest, *turn)
		}
	}
	systemPrompt = strings.Join(systemParts, "\n\n")

	if len(rest) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system turn")
	}

	var merged []proto.Turn
	var userParts []string
	flush := func() {
		if len(userParts) > 0 {
			merged = append(merged, proto.Turn{
				Role:    proto.RoleUser,
				Content: strings.Join(userParts, "\n\n"),
			})
			userParts = nil
		}
	}

	for i := range rest {
		turn := &rest[i]
		if turn.Role == proto.RoleAssistant {
			flush()
			merged = append(merged, proto.Turn{
				Role:    proto.RoleAssistant,
				Content: renderAssistant(turn),
			})
			continue
		}
		userParts = append(userParts, renderAsUser(turn))
	}
	flush()

	for i := range merged {
		if i > 0 && merged[i].Role == merged[i-1].Role {
			return "", nil, fmt.Errorf("alternation violation at index %d: consecutive %s turns", i, merged[i].Role)
		}
	}
	if merged[0].Role != proto.RoleUser {
		return "", nil, fmt.Errorf("first turn must be user role, got: %s", merged[0].Role)
	}
	if merged[len(merged)-1].Role != proto.RoleUser {
		return "", nil, fmt.Errorf("last turn must be user role, got: %s", merged[len(merged)-1].Role)
	}

	return systemPrompt, merged, nil
}

// renderAssistant flattens an assistant turn, inlining prior tool calls
// as text so the API sees a consistent transcript.
func renderAssistant(turn *proto.Turn) string {
	if len(turn.ToolCalls) == 0 {
		return turn.Content
	}
	parts := []string{}
	if turn.Content != "" {
		parts = append(parts, turn.Content)
	}
	for i := range turn.ToolCalls {
		call := &turn.ToolCalls[i]
		args, _ := json.Marshal(call.Arguments)
		parts = append(parts, fmt.Sprintf("[tool call %s: %s(%s)]", call.ID, call.Name, args))
	}
	return strings.Join(parts, "\n")
}

// renderAsUser flattens a user or tool turn into user text.
func renderAsUser(turn *proto.Turn) string {
	if turn.Role == proto.RoleTool {
		return fmt.Sprintf("[tool result %s (%s)]\n%s", turn.ToolCallID, turn.ToolName, turn.Content)
	}
	content := turn.Content
	for _, img := range turn.Images {
		content += fmt.Sprintf("\n[image attached: %s]", img)
	}
	return content
}
