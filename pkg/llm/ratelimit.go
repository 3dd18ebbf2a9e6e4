package llm

import (
	"context"

	"aide/pkg/limiter"
	"aide/pkg/llm/llmerrors"
	"aide/pkg/proto"
)

// TokenEstimator approximates the prompt token count of a request for
// rate limit reservations before the provider reports real usage.
type TokenEstimator interface {
	EstimateTurns(turns []proto.Turn) int
}

// RateLimitMiddleware reserves estimated tokens before each completion
// and charges reported cost against the daily budget afterwards. Limit
// hits surface as classified rate-limit errors for the retry layer.
func RateLimitMiddleware(lim *limiter.Limiter, estimator TokenEstimator) Middleware {
	return func(next Completer) Completer {
		return WrapCompleter(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				model := next.ModelName()

				tokens := req.MaxTokens
				if estimator != nil {
					tokens += estimator.EstimateTurns(req.Turns)
				}
				if err := lim.Reserve(model, tokens); err != nil {
					return CompletionResponse{}, llmerrors.NewErrorWithCause(
						llmerrors.ErrorTypeRateLimit, err, "local rate limit")
				}

				resp, err := next.Complete(ctx, req)
				if err != nil {
					return CompletionResponse{}, err
				}

				// A budget crossed here blocks the next Reserve, not this
				// completed request.
				_ = lim.RecordSpend(model, resp.Usage.CostUSD)
				return resp, nil
			},
			next.ModelName,
		)
	}
}
