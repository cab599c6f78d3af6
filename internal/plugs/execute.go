package plugs

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/exllm/exllm/pkg/errors"
	"github.com/exllm/exllm/pkg/pipeline"
	"github.com/exllm/exllm/pkg/registry"
)

// ExecuteRequest posts the prepared provider request over the attached
// HTTP client and stores the raw response. Non-2xx statuses are mapped
// through the provider's error table into the pipeline taxonomy.
type ExecuteRequest struct {
	Registry *registry.Registry
}

func (ExecuteRequest) Name() string { return "ExecuteRequest" }

func (ExecuteRequest) Init(opts map[string]any) (any, error) { return nil, nil }

func (e ExecuteRequest) Call(req *pipeline.Request, _ any) *pipeline.Request {
	if req.HTTPClient == nil || req.ProviderRequest == nil {
		return pipeline.HaltWithError(req, e.Name(), errors.KindException,
			"pipeline misassembled: no http client or provider request", nil)
	}

	n := req.Clone()
	n.State = pipeline.StateExecuting

	resp, err := n.HTTPClient.Do(n.ProviderRequest.WithContext(n.Context()))
	if err != nil {
		return pipeline.HaltWithError(n, e.Name(), transportErrorKind(n.Context(), err), err.Error(), nil)
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		return e.haltForStatus(n, resp, body)
	}

	n.Response = resp
	return n
}

// haltForStatus maps an error response through the provider's mapping
// table, falling back to status-code classification for unknown shapes.
func (e ExecuteRequest) haltForStatus(req *pipeline.Request, resp *http.Response, body []byte) *pipeline.Request {
	kind := errors.KindFromStatusCode(resp.StatusCode)
	message := http.StatusText(resp.StatusCode)
	var details any = string(body)

	if entry, ok := e.Registry.Get(req.Provider); ok {
		if mapped := entry.Adapter.MapError(resp.StatusCode, body); mapped != nil {
			if llmErr, ok := mapped.(*errors.LLMError); ok {
				kind = errors.KindFromLLMError(llmErr)
				message = llmErr.Message
			} else {
				message = mapped.Error()
			}
		}
	}

	n := pipeline.HaltWithError(req, e.Name(), kind, message, details)
	if kind == errors.KindRateLimited {
		if ra := retryAfterMs(resp); ra > 0 {
			n.Errors[len(n.Errors)-1].Details = map[string]any{
				"body":           string(body),
				"retry_after_ms": ra,
			}
		}
	}
	return n
}

func retryAfterMs(resp *http.Response) int64 {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	var secs int64
	for _, ch := range v {
		if ch < '0' || ch > '9' {
			return 0
		}
		secs = secs*10 + int64(ch-'0')
	}
	return secs * 1000
}

// transportErrorKind distinguishes cancellation and timeout from other
// network failures.
func transportErrorKind(ctx context.Context, err error) errors.Kind {
	switch ctx.Err() {
	case context.Canceled:
		return errors.KindCancelled
	case context.DeadlineExceeded:
		return errors.KindTimeout
	}
	var timeoutErr interface{ Timeout() bool }
	if stderrors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return errors.KindTimeout
	}
	var pe *errors.PipelineError
	if stderrors.As(err, &pe) {
		return pe.Kind
	}
	return errors.KindNetworkError
}
