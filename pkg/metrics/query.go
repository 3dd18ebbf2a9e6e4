// Package metrics records session instrumentation and queries it back
// from Prometheus for end-of-session reporting.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// SessionMetrics is the aggregated token and cost usage of one session.
type SessionMetrics struct {
	SessionID        string  `json:"session_id"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// QueryService reads session aggregates back from a Prometheus server
// that scrapes the recorder's endpoint.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a query service against the given Prometheus URL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

// GetSessionMetrics aggregates token and cost usage across all models
// used by one session.
func (q *QueryService) GetSessionMetrics(ctx context.Context, sessionID string) (*SessionMetrics, error) {
	m := &SessionMetrics{SessionID: sessionID}

	prompt, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{session_id=%q, type="prompt"})`, sessionID))
	if err != nil {
		return nil, fmt.Errorf("query prompt tokens: %w", err)
	}
	m.PromptTokens = int64(prompt)

	completion, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{session_id=%q, type="completion"})`, sessionID))
	if err != nil {
		return nil, fmt.Errorf("query completion tokens: %w", err)
	}
	m.CompletionTokens = int64(completion)
	m.TotalTokens = m.PromptTokens + m.CompletionTokens

	cost, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_costs_total{session_id=%q})`, sessionID))
	if err != nil {
		return nil, fmt.Errorf("query total cost: %w", err)
	}
	m.TotalCost = cost

	return m, nil
}

// GetSessionMetricsByModel breaks the session aggregate down per model.
func (q *QueryService) GetSessionMetricsByModel(ctx context.Context, sessionID string) (map[string]*SessionMetrics, error) {
	modelsResult, _, err := q.queryAPI.Query(ctx,
		fmt.Sprintf(`group by (model) (llm_tokens_total{session_id=%q})`, sessionID), time.Now())
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}

	var models []string
	if vector, ok := modelsResult.(model.Vector); ok {
		for _, sample := range vector {
			if name, ok := sample.Metric["model"]; ok {
				models = append(models, string(name))
			}
		}
	}

	result := make(map[string]*SessionMetrics, len(models))
	for _, name := range models {
		m := &SessionMetrics{SessionID: sessionID}

		prompt, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{session_id=%q, model=%q, type="prompt"})`, sessionID, name))
		if err != nil {
			return nil, fmt.Errorf("query prompt tokens for model %s: %w", name, err)
		}
		m.PromptTokens = int64(prompt)

		completion, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{session_id=%q, model=%q, type="completion"})`, sessionID, name))
		if err != nil {
			return nil, fmt.Errorf("query completion tokens for model %s: %w", name, err)
		}
		m.CompletionTokens = int64(completion)
		m.TotalTokens = m.PromptTokens + m.CompletionTokens

		cost, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_costs_total{session_id=%q, model=%q})`, sessionID, name))
		if err != nil {
			return nil, fmt.Errorf("query cost for model %s: %w", name, err)
		}
		m.TotalCost = cost

		result[name] = m
	}

	return result, nil
}

// GetToolExecutions returns per-tool execution counts for one session.
func (q *QueryService) GetToolExecutions(ctx context.Context, sessionID string) (map[string]int64, error) {
	result, _, err := q.queryAPI.Query(ctx,
		fmt.Sprintf(`sum by (tool) (tool_executions_total{session_id=%q})`, sessionID), time.Now())
	if err != nil {
		return nil, fmt.Errorf("query tool executions: %w", err)
	}

	counts := make(map[string]int64)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if tool, ok := sample.Metric["tool"]; ok {
				counts[string(tool)] = int64(sample.Value)
			}
		}
	}
	return counts, nil
}
