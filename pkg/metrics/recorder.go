package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aide/pkg/actor"
	"aide/pkg/proto"
)

// Recorder owns the session's Prometheus registry and the instruments
// fed by the LLM and Tool-Call actors. All series carry the session id
// as a constant label so a shared Prometheus can tell sessions apart.
type Recorder struct {
	registry *prometheus.Registry

	completions  *prometheus.CounterVec
	tokens       *prometheus.CounterVec
	costs        *prometheus.CounterVec
	completion   *prometheus.HistogramVec
	toolRuns     *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	mailboxDepth *prometheus.GaugeVec
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder(sessionID string) *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(prometheus.WrapRegistererWith(
		prometheus.Labels{"session_id": sessionID}, registry))

	return &Recorder{
		registry: registry,
		completions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_completions_total",
			Help: "Completion requests by model and error type.",
		}, []string{"model", "error_type"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Tokens consumed by model and type (prompt or completion).",
		}, []string{"model", "type"}),
		costs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_costs_total",
			Help: "Estimated completion cost in USD by model.",
		}, []string{"model"}),
		completion: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_completion_duration_seconds",
			Help:    "Completion latency by model.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model"}),
		toolRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tool_executions_total",
			Help: "Tool executions by tool name and status.",
		}, []string{"tool", "status"}),
		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tool_execution_duration_seconds",
			Help:    "Tool execution latency by tool name.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"tool"}),
		mailboxDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "actor_mailbox_depth",
			Help: "Messages waiting in each actor's mailbox.",
		}, []string{"actor"}),
	}
}

// CompletionObserved implements llm.Metrics.
func (r *Recorder) CompletionObserved(model string, usage proto.Usage, errType string, elapsed time.Duration) {
	if errType == "" {
		errType = "none"
	}
	r.completions.WithLabelValues(model, errType).Inc()
	r.tokens.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
	r.tokens.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
	r.costs.WithLabelValues(model).Add(usage.CostUSD)
	r.completion.WithLabelValues(model).Observe(elapsed.Seconds())
}

// ToolExecuted implements toolcall.Metrics.
func (r *Recorder) ToolExecuted(name string, status proto.ToolStatus, elapsed time.Duration) {
	r.toolRuns.WithLabelValues(name, string(status)).Inc()
	r.toolDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// ObserveMailbox records one actor's current mailbox depth.
func (r *Recorder) ObserveMailbox(uri string, depth int) {
	r.mailboxDepth.WithLabelValues(uri).Set(float64(depth))
}

// WatchMailboxes samples mailbox depths until ctx is cancelled.
func (r *Recorder) WatchMailboxes(ctx context.Context, interval time.Duration, handles ...*actor.Handle) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, h := range handles {
				r.ObserveMailbox(h.URI(), h.MailboxDepth())
			}
		}
	}
}

// Handler exposes the session registry in Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
