// Package llm defines the Completer abstraction over language model
// providers, the middleware chain wrapped around it, and the LLM Actor
// that serves completion requests over the message protocol.
package llm

import (
	"context"

	"aide/pkg/proto"
)

const (
	// DefaultMaxTokens caps completion output when the config is silent.
	DefaultMaxTokens = 4096

	// TemperatureDefault balances exploration and focus for coding work.
	TemperatureDefault = 0.3
)

// Progress receives streamed completion output and surrounding status
// lines. Providers that support streaming emit text deltas through Chunk;
// middleware surfaces retry and rate-limit notices through Status. May be
// nil on a request, and implementations are called from the completer
// goroutine.
type Progress interface {
	Chunk(text string)
	Status(level proto.StatusLevel, text string)
}

// CompletionRequest asks for one assistant step over a history snapshot.
// Turns must be a copy; completers never see live history.
type CompletionRequest struct {
	Turns       []proto.Turn
	Tools       []proto.ToolDefinition
	MaxTokens   int
	Temperature float32
	Progress    Progress // optional streamed output sink
}

// CompletionResponse is one assistant message: text and/or tool calls,
// plus the provider-reported usage.
type CompletionResponse struct {
	Text       string
	ToolCalls  []proto.ToolCall
	Usage      proto.Usage
	StopReason string
}

// Completer generates one completion per call. Implementations classify
// failures as *llmerrors.Error so middleware can decide on retries.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// ModelName identifies the underlying model for limits and metrics.
	ModelName() string
}

// NewCompletionRequest creates a request with default values.
func NewCompletionRequest(turns []proto.Turn) CompletionRequest {
	return CompletionRequest{
		Turns:       turns,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}
