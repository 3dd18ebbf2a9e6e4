// Package gemini provides the Google Gemini completer.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"aide/pkg/llm"
	"aide/pkg/llm/llmerrors"
	"aide/pkg/proto"
)

// Client wraps the Google GenAI client to implement llm.Completer.
// Client creation requires a context, so it happens on first use.
type Client struct {
	client *genai.Client
	apiKey string
	model  string
}

// New creates a raw Gemini completer; middleware is applied at a higher
// level.
func New(apiKey, model string) *Client {
	return &Client{apiKey: apiKey, model: model}
}

// ModelName returns the model identifier.
func (c *Client) ModelName() string { return c.model }

// Complete implements llm.Completer.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if c.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient,
				err, "failed to create Gemini client")
		}
		c.client = client
	}

	contents, systemInstruction, err := convertTurns(in.Turns)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt,
			fmt.Sprintf("turn conversion error: %v", err))
	}

	temperature := in.Temperature
	//nolint:gosec // MaxTokens validated at a higher layer
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(in.MaxTokens),
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}
	if len(in.Tools) > 0 {
		config.Tools = []*genai.Tool{
			{FunctionDeclarations: convertTools(in.Tools)},
		}
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	if result == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
			"empty response from Gemini API")
	}

	response := llm.CompletionResponse{
		Text:       result.Text(),
		StopReason: "end_turn",
	}
	if functionCalls := result.FunctionCalls(); len(functionCalls) > 0 {
		response.ToolCalls = convertFunctionCalls(functionCalls)
	}
	if response.Text == "" && len(response.ToolCalls) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
			"no text or tool calls in Gemini response")
	}

	if result.UsageMetadata != nil {
		promptTokens := int(result.UsageMetadata.PromptTokenCount)
		completionTokens := int(result.UsageMetadata.CandidatesTokenCount)
		response.Usage = proto.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			CostUSD:          llm.CalculateCost(c.model, promptTokens, completionTokens),
		}
	}
	return response, nil
}

// convertTurns maps turns to the Gemini Content format. System turns
// collapse into the system instruction; tool results become function
// responses keyed by tool name since Gemini does not track call ids.
func convertTurns(turns []proto.Turn) (contents []*genai.Content, systemInstruction string, err error) {
	if len(turns) == 0 {
		return nil, "", fmt.Errorf("turn list cannot be empty")
	}

	for i := range turns {
		turn := &turns[i]

		switch turn.Role {
		case proto.RoleSystem:
			if systemInstruction != "" {
				systemInstruction += "\n\n"
			}
			systemInstruction += turn.Content
			continue
		case proto.RoleTool:
			if turn.ToolName == "" {
				continue
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     turn.ToolName,
						Response: map[string]any{"content": turn.Content},
					},
				}},
			})
			continue
		}

		role := "user"
		if turn.Role == proto.RoleAssistant {
			// Gemini uses "model" instead of "assistant".
			role = "model"
		}

		var parts []*genai.Part
		content := turn.Content
		for _, img := range turn.Images {
			content += fmt.Sprintf("\n[image attached: %s]", img)
		}
		if content != "" {
			parts = append(parts, &genai.Part{Text: content})
		}
		for j := range turn.ToolCalls {
			call := &turn.ToolCalls[j]
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Arguments,
				},
			})
		}
		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}

	return contents, systemInstruction, nil
}

func convertTools(defs []proto.ToolDefinition) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, len(defs))
	for i := range defs {
		def := &defs[i]

		properties := make(map[string]*genai.Schema)
		for name := range def.InputSchema.Properties {
			prop := def.InputSchema.Properties[name]
			properties[name] = convertSchema(&prop)
		}

		declarations[i] = &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   def.InputSchema.Required,
			},
		}
	}
	return declarations
}

func convertSchema(prop *proto.Property) *genai.Schema {
	schema := &genai.Schema{Description: prop.Description}

	switch prop.Type {
	case "string":
		schema.Type = genai.TypeString
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if prop.Items != nil {
			schema.Items = convertSchema(prop.Items)
		}
	case "object":
		schema.Type = genai.TypeObject
		if prop.Properties != nil {
			properties := make(map[string]*genai.Schema)
			for name, child := range prop.Properties {
				if child != nil {
					properties[name] = convertSchema(child)
				}
			}
			schema.Properties = properties
		}
	default:
		schema.Type = genai.TypeString
	}

	if len(prop.Enum) > 0 {
		schema.Enum = prop.Enum
	}
	return schema
}

// convertFunctionCalls maps Gemini function calls back to tool calls,
// falling back to the function name when Gemini omits the id.
func convertFunctionCalls(calls []*genai.FunctionCall) []proto.ToolCall {
	toolCalls := make([]proto.ToolCall, len(calls))
	for i, call := range calls {
		id := call.ID
		if id == "" {
			id = call.Name
		}
		toolCalls[i] = proto.ToolCall{
			ID:        id,
			Name:      call.Name,
			Arguments: call.Args,
		}
	}
	return toolCalls
}
