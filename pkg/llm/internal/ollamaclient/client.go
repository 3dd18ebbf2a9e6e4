// Package ollamaclient provides the local Ollama completer.
package ollamaclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"aide/pkg/llm"
	"aide/pkg/llm/llmerrors"
	"aide/pkg/proto"
)

// Client wraps the Ollama API client to implement llm.Completer.
type Client struct {
	client *api.Client
	model  string
}

// New creates an Ollama completer. host should be the server URL, e.g.
// "http://localhost:11434"; an unparseable host falls back to localhost.
func New(host, model string) *Client {
	parsed, err := url.Parse(host)
	if err != nil || host == "" {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &Client{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

// ModelName returns the model identifier.
func (c *Client) ModelName() string { return c.model }

// Complete implements llm.Completer.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := convertTurns(in.Turns)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt,
			fmt.Sprintf("turn conversion error: %v", err))
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}
	if len(in.Tools) > 0 {
		req.Tools = convertTools(in.Tools)
	}

	var response api.ChatResponse
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}

	result := llm.CompletionResponse{
		Text:       response.Message.Content,
		StopReason: stopReason(&response),
		Usage: proto.Usage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
		},
	}
	if len(response.Message.ToolCalls) > 0 {
		result.ToolCalls = convertToolCalls(response.Message.ToolCalls)
	}
	if result.Text == "" && len(result.ToolCalls) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
			"empty response from Ollama")
	}
	return result, nil
}

// convertTurns maps turns to the Ollama message format. Tool results map
// directly to role "tool" messages.
func convertTurns(turns []proto.Turn) ([]api.Message, error) {
	if len(turns) == 0 {
		return nil, fmt.Errorf("turn list cannot be empty")
	}

	result := make([]api.Message, 0, len(turns))
	for i := range turns {
		turn := &turns[i]

		msg := api.Message{
			Role:    string(turn.Role),
			Content: turn.Content,
		}
		if turn.Role == proto.RoleTool {
			msg.ToolCallID = turn.ToolCallID
		}
		for _, img := range turn.Images {
			msg.Content += fmt.Sprintf("\n[image attached: %s]", img)
		}
		if len(turn.ToolCalls) > 0 {
			msg.ToolCalls = make([]api.ToolCall, len(turn.ToolCalls))
			for j := range turn.ToolCalls {
				call := &turn.ToolCalls[j]
				msg.ToolCalls[j] = api.ToolCall{
					ID: call.ID,
					Function: api.ToolCallFunction{
						Name:      call.Name,
						Arguments: api.ToolCallFunctionArguments(call.Arguments),
					},
				}
			}
		}
		result = append(result, msg)
	}
	return result, nil
}

func convertTools(defs []proto.ToolDefinition) api.Tools {
	tools := make(api.Tools, len(defs))
	for i := range defs {
		def := &defs[i]

		properties := make(map[string]api.ToolProperty, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			prop := def.InputSchema.Properties[name]
			properties[name] = convertProperty(&prop)
		}

		tools[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       def.InputSchema.Type,
					Properties: properties,
					Required:   def.InputSchema.Required,
				},
			},
		}
	}
	return tools
}

func convertProperty(prop *proto.Property) api.ToolProperty {
	out := api.ToolProperty{
		Type:        api.PropertyType{prop.Type},
		Description: prop.Description,
	}
	if len(prop.Enum) > 0 {
		enumVals := make([]any, len(prop.Enum))
		for i, v := range prop.Enum {
			enumVals[i] = v
		}
		out.Enum = enumVals
	}
	if prop.Items != nil {
		out.Items = convertProperty(prop.Items)
	}
	return out
}

func convertToolCalls(calls []api.ToolCall) []proto.ToolCall {
	result := make([]proto.ToolCall, len(calls))
	for i := range calls {
		call := &calls[i]
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		result[i] = proto.ToolCall{
			ID:        id,
			Name:      call.Function.Name,
			Arguments: map[string]any(call.Function.Arguments),
		}
	}
	return result
}

func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}
