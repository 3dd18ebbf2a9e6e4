// Package factory builds middleware-wrapped completers from session
// configuration.
package factory

import (
	"fmt"

	"aide/pkg/limiter"
	"aide/pkg/llm"
	"aide/pkg/llm/internal/anthropic"
	"aide/pkg/llm/internal/gemini"
	"aide/pkg/llm/internal/ollamaclient"
	"aide/pkg/llm/internal/openai"
)

// Options selects the provider and the middleware applied around it.
type Options struct {
	Provider string // empty infers from the model name
	Model    string
	APIKey   string
	Host     string // Ollama server URL

	Limiter   *limiter.Limiter  // nil disables local rate limiting
	Estimator llm.TokenEstimator
	Metrics   llm.Metrics // nil disables metrics
}

// New creates a ready-to-use completer: raw provider client wrapped in
// rate limiting, retry and metrics middleware (outermost first).
func New(opts Options) (llm.Completer, error) {
	base, err := newRaw(opts)
	if err != nil {
		return nil, err
	}

	middlewares := []llm.Middleware{}
	if opts.Metrics != nil {
		middlewares = append(middlewares, llm.MetricsMiddleware(opts.Metrics))
	}
	middlewares = append(middlewares, llm.RetryMiddleware())
	if opts.Limiter != nil {
		middlewares = append(middlewares, llm.RateLimitMiddleware(opts.Limiter, opts.Estimator))
	}

	return llm.Chain(base, middlewares...), nil
}

func newRaw(opts Options) (llm.Completer, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	provider := opts.Provider
	if provider == "" {
		provider = llm.InferProvider(opts.Model)
	}

	switch provider {
	case llm.ProviderAnthropic:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("anthropic: API key is required")
		}
		return anthropic.New(opts.APIKey, opts.Model), nil
	case llm.ProviderOpenAI:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai: API key is required")
		}
		return openai.New(opts.APIKey, opts.Model), nil
	case llm.ProviderGoogle:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("google: API key is required")
		}
		return gemini.New(opts.APIKey, opts.Model), nil
	case llm.ProviderOllama:
		return ollamaclient.New(opts.Host, opts.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider %q for model %q", provider, opts.Model)
	}
}
