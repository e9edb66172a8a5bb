// Package errors defines the closed tagged error set of spec §7 and its HTTP
// status mapping, following the teacher's runtime/agent/model.ProviderError
// tagged-error idiom: a small struct carrying a Kind, contextual fields, and
// an Unwrap chain, rather than ad hoc sentinel errors or panics.
package errors

import (
	"fmt"
	"net/http"
)

// Kind is the closed set of error categories from spec §7.
type Kind string

const (
	KindInvalidRequest            Kind = "invalid_request"
	KindInputValidation            Kind = "input_validation"
	KindInvalidMessage             Kind = "invalid_message"
	KindInvalidTool                Kind = "invalid_tool"
	KindJSONSchemaValidation       Kind = "json_schema_validation"
	KindUnsupportedContentBlockType Kind = "unsupported_content_block_type"
	KindDuplicateTool               Kind = "duplicate_tool"
	KindMissingFileExtension        Kind = "missing_file_extension"

	KindUnknownFunction Kind = "unknown_function"
	KindUnknownVariant  Kind = "unknown_variant"
	KindUnknownModel    Kind = "unknown_model"
	KindUnknownTool     Kind = "unknown_tool"
	KindUnknownMetric   Kind = "unknown_metric"
	KindBatchNotFound   Kind = "batch_not_found"
	KindInferenceNotFound Kind = "inference_not_found"
	KindRouteNotFound   Kind = "route_not_found"

	KindInferenceTimeout     Kind = "inference_timeout"
	KindModelTimeout         Kind = "model_timeout"
	KindModelProviderTimeout Kind = "model_provider_timeout"
	KindVariantTimeout       Kind = "variant_timeout"

	KindInferenceClient Kind = "inference_client" // passthrough status

	KindAllVariantsFailed      Kind = "all_variants_failed"
	KindModelProvidersExhausted Kind = "model_providers_exhausted"
	KindConfig          Kind = "config"
	KindSerialization   Kind = "serialization"
	KindClickHouseQuery Kind = "clickhouse_query"
	KindInference       Kind = "inference"
	KindInternalError   Kind = "internal_error"
	KindInferenceServer Kind = "inference_server"
	KindStreamError     Kind = "stream_error"
)

var statusByKind = map[Kind]int{
	KindInvalidRequest:              http.StatusBadRequest,
	KindInputValidation:             http.StatusBadRequest,
	KindInvalidMessage:              http.StatusBadRequest,
	KindInvalidTool:                 http.StatusBadRequest,
	KindJSONSchemaValidation:        http.StatusBadRequest,
	KindUnsupportedContentBlockType: http.StatusBadRequest,
	KindDuplicateTool:               http.StatusBadRequest,
	KindMissingFileExtension:        http.StatusBadRequest,

	KindUnknownFunction:   http.StatusNotFound,
	KindUnknownVariant:    http.StatusNotFound,
	KindUnknownModel:      http.StatusNotFound,
	KindUnknownTool:       http.StatusNotFound,
	KindUnknownMetric:     http.StatusNotFound,
	KindBatchNotFound:     http.StatusNotFound,
	KindInferenceNotFound: http.StatusNotFound,
	KindRouteNotFound:     http.StatusNotFound,

	KindInferenceTimeout:     http.StatusRequestTimeout,
	KindModelTimeout:         http.StatusRequestTimeout,
	KindModelProviderTimeout: http.StatusRequestTimeout,
	KindVariantTimeout:       http.StatusRequestTimeout,

	KindAllVariantsFailed:       http.StatusInternalServerError,
	KindModelProvidersExhausted: http.StatusInternalServerError,
	KindConfig:                  http.StatusInternalServerError,
	KindSerialization:           http.StatusInternalServerError,
	KindClickHouseQuery:         http.StatusInternalServerError,
	KindInference:               http.StatusInternalServerError,
	KindInternalError:           http.StatusInternalServerError,
	KindInferenceServer:         http.StatusInternalServerError,
	KindStreamError:             http.StatusInternalServerError,
}

// Error is the gateway's tagged error type. It carries enough structure for
// both HTTP serialization and for collecting per-provider/per-variant
// failures (spec "Propagation policy").
type Error struct {
	Kind Kind
	Msg  string

	// Path is a dotted config path for config-time errors (e.g.
	// "functions.X.variants.Y.weight").
	Path string

	// ClientStatus overrides the taxonomy's default status for
	// KindInferenceClient, which passes through the upstream provider's HTTP
	// status verbatim.
	ClientStatus int

	// RawRequest/RawResponse are attached only when the process-wide verbose
	// errors flag is set (spec §4.1 "Errors").
	RawRequest  string
	RawResponse string

	cause error
}

// New constructs an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), cause: cause}
}

// WithPath attaches a dotted config path and returns the receiver for
// chaining.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Path, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the HTTP status code this error maps to.
func (e *Error) HTTPStatus() int {
	if e.Kind == KindInferenceClient && e.ClientStatus != 0 {
		return e.ClientStatus
	}
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Body returns the JSON-serializable error body for the HTTP surface
// (spec §6: `{"error": "<message>"}`).
func (e *Error) Body() map[string]any {
	body := map[string]any{"error": e.Error()}
	if e.RawRequest != "" {
		body["raw_request"] = e.RawRequest
	}
	if e.RawResponse != "" {
		body["raw_response"] = e.RawResponse
	}
	return body
}
