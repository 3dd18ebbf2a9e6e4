package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/pkg/limiter"
	"aide/pkg/llm/llmerrors"
	"aide/pkg/proto"
)

type scriptedCompleter struct {
	calls     int
	responses []func() (CompletionResponse, error)
}

func (s *scriptedCompleter) Complete(context.Context, CompletionRequest) (CompletionResponse, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx]()
}

func (s *scriptedCompleter) ModelName() string { return "test-model" }

func ok(text string) func() (CompletionResponse, error) {
	return func() (CompletionResponse, error) {
		return CompletionResponse{Text: text, Usage: proto.Usage{PromptTokens: 10, CompletionTokens: 5, CostUSD: 0.01}}, nil
	}
}

func fail(errType llmerrors.ErrorType) func() (CompletionResponse, error) {
	return func() (CompletionResponse, error) {
		return CompletionResponse{}, llmerrors.NewError(errType, "scripted failure")
	}
}

func instantRetry() Middleware {
	return retryMiddleware(func(time.Duration) {})
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	base := &scriptedCompleter{responses: []func() (CompletionResponse, error){
		fail(llmerrors.ErrorTypeTransient),
		fail(llmerrors.ErrorTypeTransient),
		ok("recovered"),
	}}

	completer := Chain(base, instantRetry())
	resp, err := completer.Complete(context.Background(), NewCompletionRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)
	assert.Equal(t, 3, base.calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	base := &scriptedCompleter{responses: []func() (CompletionResponse, error){
		fail(llmerrors.ErrorTypeAuth),
	}}

	completer := Chain(base, instantRetry())
	_, err := completer.Complete(context.Background(), NewCompletionRequest(nil))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAuth))
	assert.Equal(t, 1, base.calls)
}

func TestRetryExhaustionBecomesServiceUnavailable(t *testing.T) {
	base := &scriptedCompleter{responses: []func() (CompletionResponse, error){
		fail(llmerrors.ErrorTypeTransient),
	}}

	completer := Chain(base, instantRetry())
	_, err := completer.Complete(context.Background(), NewCompletionRequest(nil))
	require.Error(t, err)
	assert.True(t, llmerrors.IsServiceUnavailable(err))
	assert.Equal(t, llmerrors.DefaultTransientRetries+1, base.calls)
}

// collectedProgress records streamed chunks and status lines.
type collectedProgress struct {
	chunks   []string
	statuses []string
}

func (p *collectedProgress) Chunk(text string) { p.chunks = append(p.chunks, text) }

func (p *collectedProgress) Status(_ proto.StatusLevel, text string) {
	p.statuses = append(p.statuses, text)
}

func TestRetrySurfacesStatusLines(t *testing.T) {
	base := &scriptedCompleter{responses: []func() (CompletionResponse, error){
		fail(llmerrors.ErrorTypeTransient),
		fail(llmerrors.ErrorTypeTransient),
		ok("recovered"),
	}}

	progress := &collectedProgress{}
	req := NewCompletionRequest(nil)
	req.Progress = progress

	completer := Chain(base, instantRetry())
	resp, err := completer.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)

	require.Len(t, progress.statuses, 2)
	assert.Contains(t, progress.statuses[0], "retrying")
	assert.Contains(t, progress.statuses[0], "transient")
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	base := &scriptedCompleter{responses: []func() (CompletionResponse, error){
		func() (CompletionResponse, error) {
			cancel()
			return CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeTransient, "flaky")
		},
	}}

	completer := Chain(base, instantRetry())
	_, err := completer.Complete(ctx, NewCompletionRequest(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, base.calls)
}

func TestBackoffDelayCapped(t *testing.T) {
	cfg := llmerrors.RetryConfig{
		InitialDelay:  time.Second,
		MaxDelay:      4 * time.Second,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, time.Second, backoffDelay(cfg, 1))
	assert.Equal(t, 2*time.Second, backoffDelay(cfg, 2))
	assert.Equal(t, 4*time.Second, backoffDelay(cfg, 3))
	assert.Equal(t, 4*time.Second, backoffDelay(cfg, 10))
}

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Completer) Completer {
			return WrapCompleter(
				func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
					order = append(order, name)
					return next.Complete(ctx, req)
				},
				next.ModelName,
			)
		}
	}

	base := &scriptedCompleter{responses: []func() (CompletionResponse, error){ok("done")}}
	completer := Chain(base, tag("outer"), tag("inner"))

	_, err := completer.Complete(context.Background(), NewCompletionRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
	assert.Equal(t, "test-model", completer.ModelName())
}

func TestRateLimitMiddleware(t *testing.T) {
	lim := limiter.New([]limiter.ModelLimit{
		{Name: "test-model", MaxTokensPerMinute: 10000, DailyBudgetUSD: 1.0},
	})
	defer lim.Close()

	base := &scriptedCompleter{responses: []func() (CompletionResponse, error){ok("done")}}
	completer := Chain(base, RateLimitMiddleware(lim, nil))

	req := NewCompletionRequest(nil)
	req.MaxTokens = 4000

	_, err := completer.Complete(context.Background(), req)
	require.NoError(t, err)
	_, err = completer.Complete(context.Background(), req)
	require.NoError(t, err)

	// Bucket is down to 2000; the third request cannot reserve.
	_, err = completer.Complete(context.Background(), req)
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeRateLimit))
	assert.Equal(t, 2, base.calls)
}
