package plugs

import (
	"github.com/exllm/exllm/pkg/errors"
	"github.com/exllm/exllm/pkg/pipeline"
	"github.com/exllm/exllm/pkg/registry"
)

// PrepareRequest is the provider-prepare plug: it builds the wire
// request from messages + merged config and hands it to the provider
// adapter, which produces the provider-formatted HTTP request.
type PrepareRequest struct {
	Registry *registry.Registry
	Stream   bool
}

func (p PrepareRequest) Name() string { return "PrepareRequest" }

func (p PrepareRequest) Init(opts map[string]any) (any, error) { return nil, nil }

func (p PrepareRequest) Call(req *pipeline.Request, _ any) *pipeline.Request {
	entry, ok := p.Registry.Get(req.Provider)
	if !ok {
		return pipeline.HaltWithError(req, p.Name(), errors.KindUnsupportedProvider,
			"provider disappeared from registry", nil)
	}

	wire, err := BuildWireRequest(req, p.Stream)
	if err != nil {
		return pipeline.HaltWithError(req, p.Name(), errors.KindInvalidRequest, err.Error(), nil)
	}

	httpReq, err := entry.Adapter.BuildRequest(req.Context(), wire)
	if err != nil {
		return pipeline.HaltWithError(req, p.Name(), errors.KindInvalidRequest, err.Error(), nil)
	}
	if base, ok := req.Config[OptBaseURL].(string); ok && base != "" && base != entry.Adapter.DefaultBaseURL() {
		// Adapters build against their default base; a per-request
		// override replaces scheme, host and base path in place.
		if err := rewriteBaseURL(httpReq, base, entry.Adapter.DefaultBaseURL()); err != nil {
			return pipeline.HaltWithError(req, p.Name(), errors.KindInvalidRequest, err.Error(), nil)
		}
	}
	if org, ok := req.Config[OptOrganization].(string); ok && org != "" {
		httpReq.Header.Set("OpenAI-Organization", org)
	}

	n := req.Clone()
	n.ProviderRequest = httpReq
	n.Private[privWireRequest] = wire
	return n
}
