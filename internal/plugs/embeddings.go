package plugs

import (
	"io"

	"github.com/exllm/exllm/pkg/errors"
	"github.com/exllm/exllm/pkg/pipeline"
	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/pkg/registry"
	"github.com/exllm/exllm/pkg/types"
)

// Private keys for the embeddings and model-listing operations.
const (
	PrivEmbeddingInputs   = "embedding_inputs"
	PrivEmbeddingResponse = "embedding_response"
	PrivModelList         = "model_list"
)

// ExecuteEmbeddings prepares, posts, and parses an embedding request for
// providers implementing the Embedder extension. Inputs are read from
// Private[PrivEmbeddingInputs]; the parsed response lands in
// Private[PrivEmbeddingResponse].
type ExecuteEmbeddings struct {
	Registry *registry.Registry
}

func (ExecuteEmbeddings) Name() string { return "ExecuteEmbeddings" }

func (ExecuteEmbeddings) Init(opts map[string]any) (any, error) { return nil, nil }

func (e ExecuteEmbeddings) Call(req *pipeline.Request, _ any) *pipeline.Request {
	entry, ok := e.Registry.Get(req.Provider)
	if !ok {
		return pipeline.HaltWithError(req, e.Name(), errors.KindUnsupportedProvider,
			"provider disappeared from registry", nil)
	}
	embedder, ok := entry.Adapter.(provider.Embedder)
	if !ok {
		return pipeline.HaltWithError(req, e.Name(), errors.KindInvalidRequest,
			"provider "+req.Provider+" does not support embeddings", nil)
	}

	inputs, _ := req.Private[PrivEmbeddingInputs].([]string)
	if len(inputs) == 0 {
		return pipeline.HaltWithError(req, e.Name(), errors.KindInvalidRequest,
			"no embedding inputs", nil)
	}
	model, _ := req.Config[OptModel].(string)
	wire := &types.EmbeddingRequest{Model: model, Input: types.NewEmbeddingInputFromStrings(inputs)}
	if u, ok := req.Config[OptUser].(string); ok {
		wire.User = u
	}

	httpReq, err := embedder.BuildEmbeddingRequest(req.Context(), wire)
	if err != nil {
		return pipeline.HaltWithError(req, e.Name(), errors.KindInvalidRequest, err.Error(), nil)
	}
	if base, ok := req.Config[OptBaseURL].(string); ok && base != "" && base != entry.Adapter.DefaultBaseURL() {
		if err := rewriteBaseURL(httpReq, base, entry.Adapter.DefaultBaseURL()); err != nil {
			return pipeline.HaltWithError(req, e.Name(), errors.KindInvalidRequest, err.Error(), nil)
		}
	}

	resp, err := req.HTTPClient.Do(httpReq)
	if err != nil {
		return pipeline.HaltWithError(req, e.Name(), transportErrorKind(req.Context(), err), err.Error(), nil)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		return ExecuteRequest{Registry: e.Registry}.haltForStatus(req, resp, body)
	}
	defer resp.Body.Close()

	parsed, err := embedder.ParseEmbeddingResponse(resp)
	if err != nil {
		return pipeline.HaltWithError(req, e.Name(), errors.KindServerError,
			"parse embedding response: "+err.Error(), nil)
	}

	n := req.Clone()
	n.Private[PrivEmbeddingResponse] = parsed
	n.State = pipeline.StateCompleted
	n.Metadata["tokens"] = map[string]int{
		"input":  parsed.Usage.PromptTokens,
		"output": 0,
		"total":  parsed.Usage.TotalTokens,
	}
	return n
}

// ExecuteListModels fetches and parses the provider's model catalog for
// providers implementing the ModelLister extension. The parsed list
// lands in Private[PrivModelList].
type ExecuteListModels struct {
	Registry *registry.Registry
}

func (ExecuteListModels) Name() string { return "ExecuteListModels" }

func (ExecuteListModels) Init(opts map[string]any) (any, error) { return nil, nil }

func (e ExecuteListModels) Call(req *pipeline.Request, _ any) *pipeline.Request {
	entry, ok := e.Registry.Get(req.Provider)
	if !ok {
		return pipeline.HaltWithError(req, e.Name(), errors.KindUnsupportedProvider,
			"provider disappeared from registry", nil)
	}
	lister, ok := entry.Adapter.(provider.ModelLister)
	if !ok {
		return pipeline.HaltWithError(req, e.Name(), errors.KindInvalidRequest,
			"provider "+req.Provider+" does not support model listing", nil)
	}

	httpReq, err := lister.BuildListModelsRequest(req.Context())
	if err != nil {
		return pipeline.HaltWithError(req, e.Name(), errors.KindInvalidRequest, err.Error(), nil)
	}
	resp, err := req.HTTPClient.Do(httpReq)
	if err != nil {
		return pipeline.HaltWithError(req, e.Name(), transportErrorKind(req.Context(), err), err.Error(), nil)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		return ExecuteRequest{Registry: e.Registry}.haltForStatus(req, resp, body)
	}
	defer resp.Body.Close()

	models, err := lister.ParseListModelsResponse(resp)
	if err != nil {
		return pipeline.HaltWithError(req, e.Name(), errors.KindServerError,
			"parse model list: "+err.Error(), nil)
	}

	n := req.Clone()
	n.Private[PrivModelList] = models
	n.State = pipeline.StateCompleted
	return n
}
