package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"aide/pkg/llm/llmerrors"
	"aide/pkg/proto"
)

// RetryMiddleware retries failed completions with per-error-type
// exponential backoff. Non-retryable errors (auth, bad prompt) pass
// through immediately; a retryable error that survives its budget is
// promoted to service-unavailable.
func RetryMiddleware() Middleware {
	return retryMiddleware(time.Sleep)
}

// retryMiddleware takes the sleep function so tests can run instantly.
func retryMiddleware(sleep func(time.Duration)) Middleware {
	return func(next Completer) Completer {
		return WrapCompleter(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				var lastErr *llmerrors.Error
				attempt := 0

				for {
					resp, err := next.Complete(ctx, req)
					if err == nil {
						return resp, nil
					}
					if errors.Is(err, context.Canceled) {
						return CompletionResponse{}, fmt.Errorf("retry cancelled: %w", err)
					}
					if ctx.Err() != nil {
						return CompletionResponse{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
					}

					lastErr = llmerrors.Classify(err)
					if !lastErr.IsRetryable() {
						return CompletionResponse{}, lastErr
					}

					cfg := lastErr.GetRetryConfig()
					attempt++
					if attempt > cfg.MaxRetries {
						return CompletionResponse{}, llmerrors.NewServiceUnavailableError(lastErr, attempt)
					}

					delay := backoffDelay(cfg, attempt)
					if req.Progress != nil {
						req.Progress.Status(proto.StatusWarn, fmt.Sprintf(
							"completion failed (%s), retrying in %s (attempt %d/%d)",
							lastErr.Type, delay.Round(time.Millisecond), attempt, cfg.MaxRetries))
					}
					sleep(delay)
					if ctx.Err() != nil {
						return CompletionResponse{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
					}
				}
			},
			next.ModelName,
		)
	}
}

// backoffDelay computes the delay before the given attempt (1-based),
// with optional jitter in [0.5, 1.5).
func backoffDelay(cfg llmerrors.RetryConfig, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if ceiling := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && delay > ceiling {
		delay = ceiling
	}
	if cfg.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}
