package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coreseekdev/emx-llm/internal/provider"
	"github.com/coreseekdev/emx-llm/internal/resolver"
)

// openAIErrorBody is the OpenAI-native error shape required by spec §4.8.
type openAIErrorBody struct {
	Error openAIErrorDetail `json:"error"`
}

type openAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// anthropicErrorBody is the Anthropic-native error shape required by
// spec §4.8.
type anthropicErrorBody struct {
	Error anthropicErrorDetail `json:"error"`
}

type anthropicErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func writeOpenAIError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(openAIErrorBody{Error: openAIErrorDetail{Message: message, Type: errType}})
}

func writeAnthropicError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(anthropicErrorBody{Error: anthropicErrorDetail{Type: "error", Message: message}})
}

// statusForResolveError maps the resolver/router error taxonomy of spec
// §7 to an HTTP status, per the table in spec §4.8.
func statusForResolveError(err error) (status int, errType string) {
	var invalidRef *resolver.InvalidReferenceError
	var notConfigured *resolver.ModelNotConfiguredError
	var ambiguous *resolver.AmbiguousReferenceError
	var wrongSurface *resolver.WrongSurfaceError
	var cfgErr *resolver.ConfigError

	switch {
	case errors.As(err, &invalidRef):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.As(err, &notConfigured):
		return http.StatusNotFound, "invalid_request_error"
	case errors.As(err, &ambiguous):
		return http.StatusConflict, "invalid_request_error"
	case errors.As(err, &wrongSurface):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest, "invalid_request_error"
	default:
		return http.StatusBadGateway, "api_error"
	}
}

// writeResolveError writes a resolve/route failure in the given surface's
// native error shape, picking the status per statusForResolveError.
func writeResolveError(w http.ResponseWriter, surface provider.Kind, err error) {
	status, errType := statusForResolveError(err)
	if surface == provider.AnthropicDialect {
		writeAnthropicError(w, status, err.Error())
		return
	}
	writeOpenAIError(w, status, errType, err.Error())
}

// writeUpstreamError writes an upstream/transport failure as a 502 in the
// given surface's native error shape (spec §4.8's "Upstream failure" row).
func writeUpstreamError(w http.ResponseWriter, surface provider.Kind, err error) {
	if surface == provider.AnthropicDialect {
		writeAnthropicError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeOpenAIError(w, http.StatusBadGateway, "api_error", err.Error())
}
