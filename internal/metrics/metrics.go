// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "partners_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by route",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partners_webhook_events_total",
			Help: "Inbound CRM webhook events by type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	AgentTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partners_agent_turns_total",
			Help: "Onboarding agent turns by resulting state and outcome",
		},
		[]string{"state", "outcome"},
	)

	AgentToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partners_agent_tool_calls_total",
			Help: "Onboarding agent tool invocations",
		},
		[]string{"tool", "success"},
	)

	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "partners_agent_llm_duration_seconds",
			Help:    "Latency of LLM completions",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	DocumentsSigned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partners_documents_signed_total",
			Help: "Documents signed, by type and by where the signature came from",
		},
		[]string{"document_type", "source"},
	)
)

// Signature sources.
const (
	SourcePortal  = "portal"
	SourceWebhook = "webhook"
)

// ToolCall records one tool invocation.
func ToolCall(tool string, success bool) {
	AgentToolCalls.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
}

// ObserveLLM records the latency of one completion.
func ObserveLLM(provider string, started time.Time) {
	LLMDuration.WithLabelValues(provider).Observe(time.Since(started).Seconds())
}

// Middleware observes request durations labelled with the chi route
// pattern, so path parameters do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
