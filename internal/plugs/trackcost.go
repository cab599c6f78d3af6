package plugs

import (
	"github.com/exllm/exllm/internal/pricing"
	"github.com/exllm/exllm/pkg/pipeline"
)

// TrackCost computes the call's cost from result usage and the model
// price table, recording it on the result and in metadata.cost_cents.
// Requests with no result or an unpriced model pass through unchanged.
type TrackCost struct {
	Calculator *pricing.Calculator
}

func (TrackCost) Name() string { return "TrackCost" }

func (TrackCost) Init(opts map[string]any) (any, error) { return nil, nil }

func (t TrackCost) Call(req *pipeline.Request, _ any) *pipeline.Request {
	if t.Calculator == nil || req.Result == nil {
		return req
	}
	cost, ok := t.Calculator.Calculate(req.Result.Model,
		req.Result.Usage.InputTokens, req.Result.Usage.OutputTokens)
	if !ok {
		return req
	}

	n := req.Clone()
	n.Result = &pipeline.NormalizedResponse{}
	*n.Result = *req.Result
	n.Result.Cost = &pipeline.Cost{
		Input:    cost.Input,
		Output:   cost.Output,
		Total:    cost.Total,
		Currency: cost.Currency,
	}
	n.Metadata["cost_cents"] = cost.Total * 100
	return n
}
