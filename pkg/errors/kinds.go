package errors

import "net/http"

// Kind is the pipeline-level error taxonomy. It is coarser than Type
// (which mirrors HTTP/provider error categories) and is what Request.Errors
// entries and the Plug contract's halt_with_error helper key off of.
type Kind string

const (
	KindUnsupportedProvider  Kind = "unsupported_provider"
	KindMissingAPIKey        Kind = "missing_api_key"
	KindInvalidRequest       Kind = "invalid_request"
	KindAuthenticationFailed Kind = "authentication_failed"
	KindRateLimited          Kind = "rate_limited"
	KindQuotaExceeded        Kind = "quota_exceeded"
	KindContextLengthExceed  Kind = "context_length_exceeded"
	KindContentFilter        Kind = "content_filter"
	KindServerError          Kind = "server_error"
	KindTimeout              Kind = "timeout"
	KindNetworkError         Kind = "network_error"
	KindStreamInterrupted    Kind = "stream_interrupted"
	KindCircuitOpen          Kind = "circuit_open"
	KindBulkheadFull         Kind = "bulkhead_full"
	KindCancelled            Kind = "cancelled"
	KindException            Kind = "exception"
)

// PipelineError is the error value surfaced to callers after local
// recovery (retry, stream recovery, bulkhead queueing) is exhausted.
// It carries {kind, message, plug, provider, details, retry_after_ms?}
// per the error handling design.
type PipelineError struct {
	Kind         Kind
	Message      string
	Plug         string
	Provider     string
	Details      any
	RetryAfterMs int64
}

func (e *PipelineError) Error() string {
	if e.Plug != "" {
		return string(e.Kind) + ": " + e.Message + " (plug=" + e.Plug + ")"
	}
	return string(e.Kind) + ": " + e.Message
}

// NewPipelineError builds a PipelineError for the given kind.
func NewPipelineError(kind Kind, plug, provider, message string) *PipelineError {
	return &PipelineError{Kind: kind, Plug: plug, Provider: provider, Message: message}
}

// KindFromLLMError classifies a provider-mapped LLMError into a pipeline Kind.
// Unknown shapes fall to KindServerError with the raw error preserved by the caller.
func KindFromLLMError(err *LLMError) Kind {
	switch err.Type {
	case TypeAuthentication:
		return KindAuthenticationFailed
	case TypeRateLimit:
		return KindRateLimited
	case TypeInvalidRequest:
		return KindInvalidRequest
	case TypeNotFound:
		return KindInvalidRequest
	case TypeTimeout:
		return KindTimeout
	case TypeServiceUnavailable:
		return KindServerError
	case TypeContextLength:
		return KindContextLengthExceed
	case TypeContentPolicy:
		return KindContentFilter
	default:
		if err.StatusCode >= 500 {
			return KindServerError
		}
		return KindException
	}
}

// KindFromStatusCode maps a raw HTTP status code to a pipeline Kind when no
// provider-specific mapping table recognized the body shape.
func KindFromStatusCode(status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuthenticationFailed
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	case http.StatusBadRequest:
		return KindInvalidRequest
	default:
		if status >= 500 {
			return KindServerError
		}
		return KindInvalidRequest
	}
}
