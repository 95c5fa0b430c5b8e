// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/m-mizutani/lakeagent/pkg/trace"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lakeagent_build_info",
			Help: "Build information of lakeagent",
		},
		[]string{"version"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeagent_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lakeagent_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeagent_runs_total",
			Help: "Agent runs by final state",
		},
		[]string{"state"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lakeagent_run_duration_seconds",
			Help:    "Wall time of agent runs",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		},
	)

	ToolInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeagent_tool_invocations_total",
			Help: "Tool invocations by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	ModelTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakeagent_model_tokens_total",
			Help: "Tokens consumed by model calls",
		},
		[]string{"model", "direction"},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// ObserveRun records the final state and duration of one agent run.
func ObserveRun(state string, d time.Duration) {
	RunsTotal.WithLabelValues(state).Inc()
	RunDuration.Observe(d.Seconds())
}

// TraceHandler counts tool calls and model tokens from trace events.
type TraceHandler struct {
	trace.Nop
}

func (TraceHandler) ToolFinished(_ context.Context, payload any) {
	r, ok := payload.(trace.ToolResult)
	if !ok {
		return
	}
	outcome := "ok"
	if r.IsError {
		outcome = "error"
	}
	ToolInvocationsTotal.WithLabelValues(r.Tool, outcome).Inc()
}

func (TraceHandler) ModelFinished(_ context.Context, payload any) {
	r, ok := payload.(trace.ModelReply)
	if !ok {
		return
	}
	ModelTokensTotal.WithLabelValues(r.Model, "input").Add(float64(r.InputTokens))
	ModelTokensTotal.WithLabelValues(r.Model, "output").Add(float64(r.OutputTokens))
}

var _ trace.Handler = TraceHandler{}
