package plugs

import (
	"fmt"

	"github.com/exllm/exllm/pkg/errors"
	"github.com/exllm/exllm/pkg/pipeline"
	"github.com/exllm/exllm/pkg/registry"
)

// ValidateProvider halts the pipeline with unsupported_provider when the
// request names a provider the registry does not know.
type ValidateProvider struct {
	Registry *registry.Registry
}

func (v ValidateProvider) Name() string { return "ValidateProvider" }

func (v ValidateProvider) Init(opts map[string]any) (any, error) { return nil, nil }

func (v ValidateProvider) Call(req *pipeline.Request, _ any) *pipeline.Request {
	if req.Provider == "" || !v.Registry.Has(req.Provider) {
		return pipeline.HaltWithError(req, v.Name(), errors.KindUnsupportedProvider,
			fmt.Sprintf("provider %q is not registered", req.Provider), nil)
	}
	return req
}
