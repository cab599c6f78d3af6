// Package metrics exposes the library's Prometheus collectors: request
// outcomes, token/cost accounting, stream flow-controller counters, and
// circuit-breaker states.
package metrics

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/exllm/exllm/internal/resilience"
	"github.com/exllm/exllm/internal/streaming"
	"github.com/exllm/exllm/pkg/pipeline"
)

// Set bundles the collectors registered against one registry.
type Set struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	durationMs   *prometheus.HistogramVec
	inputTokens  *prometheus.CounterVec
	outputTokens *prometheus.CounterVec
	costUSD      *prometheus.CounterVec

	streamChunksReceived  *prometheus.CounterVec
	streamChunksDelivered *prometheus.CounterVec
	streamChunksDropped   *prometheus.CounterVec
	streamBytesReceived   *prometheus.CounterVec
	streamBackpressure    *prometheus.CounterVec

	breakerState *prometheus.GaugeVec
}

// NewSet creates and registers the collector set. A nil registry uses a
// fresh private one (tests); callers wanting the default global registry
// pass prometheus.DefaultRegisterer's registry explicitly.
func NewSet(reg *prometheus.Registry) *Set {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	s := &Set{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exllm_requests_total",
			Help: "Finished requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		durationMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exllm_request_duration_ms",
			Help:    "Request wall time in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"provider"}),
		inputTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exllm_input_tokens_total",
			Help: "Prompt tokens by provider and model.",
		}, []string{"provider", "model"}),
		outputTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exllm_output_tokens_total",
			Help: "Completion tokens by provider and model.",
		}, []string{"provider", "model"}),
		costUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exllm_cost_usd_total",
			Help: "Tracked spend in USD by provider and model.",
		}, []string{"provider", "model"}),
		streamChunksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exllm_stream_chunks_received_total",
			Help: "Chunks the producer pushed into the flow controller.",
		}, []string{"provider"}),
		streamChunksDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exllm_stream_chunks_delivered_total",
			Help: "Chunks delivered to stream callbacks.",
		}, []string{"provider"}),
		streamChunksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exllm_stream_chunks_dropped_total",
			Help: "Chunks dropped by the overflow strategy.",
		}, []string{"provider"}),
		streamBytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exllm_stream_bytes_received_total",
			Help: "Raw stream payload bytes received.",
		}, []string{"provider"}),
		streamBackpressure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exllm_stream_backpressure_events_total",
			Help: "Times the buffer crossed the backpressure threshold.",
		}, []string{"provider"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exllm_circuit_breaker_state",
			Help: "Breaker state per provider: 0 closed, 1 open, 2 half-open.",
		}, []string{"provider"}),
	}
	reg.MustRegister(
		s.requests, s.durationMs, s.inputTokens, s.outputTokens, s.costUSD,
		s.streamChunksReceived, s.streamChunksDelivered, s.streamChunksDropped,
		s.streamBytesReceived, s.streamBackpressure, s.breakerState,
	)
	return s
}

// Registry returns the backing registry for /metrics exposition.
func (s *Set) Registry() *prometheus.Registry { return s.registry }

// OnRequestEnd implements the observability sink contract.
func (s *Set) OnRequestEnd(ctx context.Context, req *pipeline.Request) {
	outcome := "completed"
	if req.State != pipeline.StateCompleted && req.State != pipeline.StateStreaming {
		outcome = "error"
		if len(req.Errors) > 0 {
			outcome = string(req.Errors[0].Kind)
		}
	}
	s.requests.WithLabelValues(req.Provider, outcome).Inc()
	if ms, ok := req.Metadata["duration_ms"].(int64); ok {
		s.durationMs.WithLabelValues(req.Provider).Observe(float64(ms))
	}
	if req.Result != nil {
		model := strings.ToLower(req.Result.Model)
		s.inputTokens.WithLabelValues(req.Provider, model).Add(float64(req.Result.Usage.InputTokens))
		s.outputTokens.WithLabelValues(req.Provider, model).Add(float64(req.Result.Usage.OutputTokens))
		if req.Result.Cost != nil {
			s.costUSD.WithLabelValues(req.Provider, model).Add(req.Result.Cost.Total)
		}
	}
}

// Close implements the observability sink contract.
func (s *Set) Close() error { return nil }

// RecordStreamMetrics folds a finished stream's flow-controller snapshot
// into the counters.
func (s *Set) RecordStreamMetrics(provider string, m streaming.FlowMetrics) {
	s.streamChunksReceived.WithLabelValues(provider).Add(float64(m.ChunksReceived))
	s.streamChunksDelivered.WithLabelValues(provider).Add(float64(m.ChunksDelivered))
	s.streamChunksDropped.WithLabelValues(provider).Add(float64(m.ChunksDropped))
	s.streamBytesReceived.WithLabelValues(provider).Add(float64(m.BytesReceived))
	s.streamBackpressure.WithLabelValues(provider).Add(float64(m.BackpressureEvents))
}

// RecordBreakerState updates the breaker gauge; wire it to the
// resilience manager's state-change hook.
func (s *Set) RecordBreakerState(provider string, state resilience.CircuitState) {
	s.breakerState.WithLabelValues(provider).Set(float64(state))
}
