package llm

import (
	"context"
	"time"

	"aide/pkg/llm/llmerrors"
	"aide/pkg/proto"
)

// Metrics receives completion outcomes. Satisfied by the session metrics
// recorder.
type Metrics interface {
	CompletionObserved(model string, usage proto.Usage, errType string, elapsed time.Duration)
}

// MetricsMiddleware records latency, token usage and error types for
// every completion.
func MetricsMiddleware(recorder Metrics) Middleware {
	return func(next Completer) Completer {
		return WrapCompleter(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				elapsed := time.Since(start)

				errType := ""
				if err != nil {
					errType = llmerrors.TypeOf(err).String()
				}
				if recorder != nil {
					recorder.CompletionObserved(next.ModelName(), resp.Usage, errType, elapsed)
				}
				return resp, err
			},
			next.ModelName,
		)
	}
}
