// Package observability holds the post-pipeline sinks: consumers of
// finished requests that export traces, metrics, logs, archives, and
// cost records. Sinks observe; they never influence pipeline behavior.
package observability

import (
	"context"

	"github.com/exllm/exllm/pkg/pipeline"
)

// Sink receives every finished request after the pipeline returns.
// Implementations must tolerate concurrent calls and must not block the
// caller for long; slow exports belong on the sink's own goroutines.
type Sink interface {
	OnRequestEnd(ctx context.Context, req *pipeline.Request)
	Close() error
}

// usageOf extracts token usage from a finished request, zero when absent.
func usageOf(req *pipeline.Request) (input, output, total int) {
	if req.Result == nil {
		return 0, 0, 0
	}
	u := req.Result.Usage
	return u.InputTokens, u.OutputTokens, u.TotalTokens
}

// costOf extracts the tracked USD cost, zero when absent.
func costOf(req *pipeline.Request) float64 {
	if req.Result == nil || req.Result.Cost == nil {
		return 0
	}
	return req.Result.Cost.Total
}

// durationMsOf extracts the recorded wall time.
func durationMsOf(req *pipeline.Request) int64 {
	if ms, ok := req.Metadata["duration_ms"].(int64); ok {
		return ms
	}
	return 0
}

// outcomeOf labels the request's terminal state for metrics.
func outcomeOf(req *pipeline.Request) string {
	switch {
	case req.State == pipeline.StateCompleted:
		return "completed"
	case req.State == pipeline.StateStreaming:
		return "streaming"
	case len(req.Errors) > 0:
		return string(req.Errors[0].Kind)
	default:
		return string(req.State)
	}
}
