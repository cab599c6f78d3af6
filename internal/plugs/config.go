package plugs

import (
	"github.com/exllm/exllm/pkg/errors"
	"github.com/exllm/exllm/pkg/pipeline"
	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/pkg/registry"
)

// FetchConfig merges the configuration layers into Request.Config:
// library defaults, then the registered provider's config, then the
// caller's per-request options. It halts with missing_api_key when the
// provider's auth scheme requires a credential and none is resolvable.
type FetchConfig struct {
	Registry *registry.Registry
	// Defaults is the app-level option layer (from the config file /
	// client options), applied below per-request options.
	Defaults map[string]any
}

func (f FetchConfig) Name() string { return "FetchConfig" }

func (f FetchConfig) Init(opts map[string]any) (any, error) { return nil, nil }

func (f FetchConfig) Call(req *pipeline.Request, _ any) *pipeline.Request {
	entry, ok := f.Registry.Get(req.Provider)
	if !ok {
		// ValidateProvider runs first; reaching here without an entry is
		// a pipeline assembly error.
		return pipeline.HaltWithError(req, f.Name(), errors.KindUnsupportedProvider,
			"provider disappeared from registry", nil)
	}

	n := req.Clone()
	merged := make(map[string]any, len(f.Defaults)+len(req.Options)+4)
	for k, v := range f.Defaults {
		merged[k] = v
	}
	if entry.Config.BaseURL != "" {
		merged[OptBaseURL] = entry.Config.BaseURL
	} else if _, ok := merged[OptBaseURL]; !ok {
		merged[OptBaseURL] = entry.Adapter.DefaultBaseURL()
	}
	if entry.DefaultModel != "" {
		if _, ok := merged[OptModel]; !ok {
			merged[OptModel] = entry.DefaultModel
		}
	}
	if entry.Config.APIKey != "" {
		if _, ok := merged[OptAPIKey]; !ok {
			merged[OptAPIKey] = entry.Config.APIKey
		}
	}
	for k, v := range req.Options {
		merged[k] = v
	}
	n.Config = merged

	if authRequired(entry.Adapter.Auth()) && entry.Config.TokenSource == nil {
		key, _ := merged[OptAPIKey].(string)
		if key == "" {
			return pipeline.HaltWithError(n, f.Name(), errors.KindMissingAPIKey,
				"no API key configured for provider "+req.Provider, nil)
		}
	}
	return n
}

func authRequired(scheme provider.AuthScheme) bool {
	switch scheme {
	case provider.AuthNone, provider.AuthCustom, provider.AuthSigV4:
		// SigV4 and custom schemes resolve credentials inside the
		// adapter; their absence surfaces as an adapter error instead.
		return false
	}
	return true
}
