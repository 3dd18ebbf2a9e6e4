// Package openai provides the OpenAI completer using the official Go
// package's Responses API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"aide/pkg/llm"
	"aide/pkg/llm/llmerrors"
	"aide/pkg/proto"
)

// Client wraps the official OpenAI Go client to implement llm.Completer.
type Client struct {
	client openai.Client
	model  string
}

// New creates a raw OpenAI completer; middleware is applied at a higher
// level.
func New(apiKey, model string) *Client {
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// ModelName returns the model identifier.
func (c *Client) ModelName() string { return c.model }

// Complete implements llm.Completer.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	input := renderTranscript(in.Turns)

	maxTokens := in.MaxTokens
	if info, ok := llm.KnownModels[c.model]; ok && info.MaxOutputTokens > 0 && maxTokens > info.MaxOutputTokens {
		maxTokens = info.MaxOutputTokens
	}

	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}
	if len(in.Tools) > 0 {
		params.Tools = convertTools(in.Tools)
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
			"empty response from OpenAI Responses API")
	}

	var toolCalls []proto.ToolCall
	for i := range resp.Output {
		item := &resp.Output[i]
		if item.Type != "function_call" {
			continue
		}
		funcItem := item.AsFunctionCall()
		var args map[string]any
		if funcItem.Arguments != "" {
			if err := json.Unmarshal([]byte(funcItem.Arguments), &args); err != nil {
				continue
			}
		}
		toolCalls = append(toolCalls, proto.ToolCall{
			ID:        funcItem.ID,
			Name:      funcItem.Name,
			Arguments: args,
		})
	}

	text := resp.OutputText()
	if text == "" && len(toolCalls) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
			"no text or tool calls in OpenAI response")
	}

	promptTokens := int(resp.Usage.InputTokens)
	completionTokens := int(resp.Usage.OutputTokens)
	return llm.CompletionResponse{
		Text:      text,
		ToolCalls: toolCalls,
		Usage: proto.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			CostUSD:          llm.CalculateCost(c.model, promptTokens, completionTokens),
		},
	}, nil
}

// renderTranscript flattens turns into a single input string for the
// Responses API.
func renderTranscript(turns []proto.Turn) string {
	var b strings.Builder
	for i := range turns {
		turn := &turns[i]
		switch turn.Role {
		case proto.RoleSystem:
			fmt.Fprintf(&b, "System: %s\n\n", turn.Content)
		case proto.RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n\n", turn.Content)
			for j := range turn.ToolCalls {
				call := &turn.ToolCalls[j]
				args, _ := json.Marshal(call.Arguments)
				fmt.Fprintf(&b, "Assistant called %s(%s)\n\n", call.Name, args)
			}
		case proto.RoleTool:
			fmt.Fprintf(&b, "Tool result (%s): %s\n\n", turn.ToolName, turn.Content)
		default:
			b.WriteString(turn.Content)
			for _, img := range turn.Images {
				fmt.Fprintf(&b, "\n[image attached: %s]", img)
			}
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

// convertPropertyToSchema recursively converts a Property to the OpenAI
// schema format.
func convertPropertyToSchema(prop *proto.Property) map[string]any {
	schema := map[string]any{
		"type":        prop.Type,
		"description": prop.Description,
	}
	if len(prop.Enum) > 0 {
		schema["enum"] = prop.Enum
	}
	if prop.Type == "array" && prop.Items != nil {
		schema["items"] = convertPropertyToSchema(prop.Items)
	}
	if prop.Type == "object" && prop.Properties != nil {
		properties := make(map[string]any)
		for name, child := range prop.Properties {
			if child != nil {
				properties[name] = convertPropertyToSchema(child)
			}
		}
		schema["properties"] = properties
	}
	return schema
}

func convertTools(defs []proto.ToolDefinition) []responses.ToolUnionParam {
	tools := make([]responses.ToolUnionParam, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := make(map[string]any)
		for name, prop := range def.InputSchema.Properties {
			properties[name] = convertPropertyToSchema(&prop)
		}

		tools[i] = responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters: openai.FunctionParameters(map[string]any{
					"type":       "object",
					"properties": properties,
					"required":   def.InputSchema.Required,
				}),
			},
		}
	}
	return tools
}
