// Package provider defines the types and capability interface shared by
// every upstream dialect adapter (internal/provider/openai,
// internal/provider/anthropic). The rest of the gateway — router, server,
// client factory — only ever talks to the Client interface, never to a
// concrete adapter, so it doesn't need to know which wire dialect is
// actually in play.
package provider

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/coreseekdev/emx-llm/internal/message"
)

// Kind enumerates the two wire dialects a provider can speak. It
// determines wire format only — an OpenAI-dialect endpoint may serve any
// model the upstream accepts.
type Kind int

const (
	OpenAIDialect Kind = iota
	AnthropicDialect
)

// String renders the kind the way config files and debug output spell it.
func (k Kind) String() string {
	switch k {
	case OpenAIDialect:
		return "openai"
	case AnthropicDialect:
		return "anthropic"
	default:
		return "unknown"
	}
}

// Built-in defaults applied when no layer of the configuration tree (or
// legacy env fallback) supplies a value.
const (
	DefaultMaxTokens      = 4096
	DefaultRequestTimeout = 120 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultOpenAIBaseURL  = "https://api.openai.com/v1"
	DefaultAnthropicURL   = "https://api.anthropic.com"
	AnthropicAPIVersion   = "2023-06-01"
)

// Endpoint describes how to reach one upstream provider: its dialect,
// address, credential, and per-call defaults. BaseURL must be non-empty
// after defaulting; APIKey must be non-empty by the time an adapter
// issues an upstream call.
type Endpoint struct {
	Kind           Kind
	BaseURL        string
	APIKey         string
	MaxTokens      int
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
}

// ResolvedModel is the product of resolving a caller's model reference
// against the configuration tree. Every field is populated by the time
// resolution succeeds; resolution either produces a fully populated
// ResolvedModel or returns an error.
type ResolvedModel struct {
	Kind            Kind
	BaseURL         string
	APIKey          string
	UpstreamModelID string
	MaxTokens       int
	Timeout         time.Duration
}

// Endpoint projects the fields of a ResolvedModel an HTTP client needs.
func (r ResolvedModel) Endpoint() Endpoint {
	return Endpoint{
		Kind:           r.Kind,
		BaseURL:        r.BaseURL,
		APIKey:         r.APIKey,
		MaxTokens:      r.MaxTokens,
		RequestTimeout: r.Timeout,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// RawResponse is an upstream HTTP response forwarded without being parsed.
// Body must be closed by the caller once fully drained or abandoned.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Client is the capability interface every dialect adapter satisfies.
// Request/response shapes are deliberately NOT shared between dialects —
// each adapter owns its own wire schema internally and only exposes these
// operations plus its static configuration.
type Client interface {
	// Kind identifies which dialect this client speaks.
	Kind() Kind

	// Chat performs one unary call and returns the generated text plus
	// token usage.
	Chat(ctx context.Context, messages []message.Message, modelID string) (string, message.Usage, error)

	// ChatStream performs one streaming call and returns a channel of
	// unified StreamEvents, delivered in upstream order. The channel is
	// closed when the stream ends. Streaming calls are never retried, so a
	// truncated upstream stream surfaces as a closed channel with no
	// terminal done event — callers must treat that as incomplete.
	ChatStream(ctx context.Context, messages []message.Message, modelID string) (<-chan message.StreamEvent, error)

	// ChatRaw performs a unary call and returns the upstream response
	// unparsed, for byte-exact gateway passthrough.
	ChatRaw(ctx context.Context, messages []message.Message, modelID string) (*RawResponse, error)

	// ChatStreamRaw performs a streaming call and returns the upstream
	// response unparsed.
	ChatStreamRaw(ctx context.Context, messages []message.Message, modelID string) (*RawResponse, error)

	// BaseURL returns the configured upstream address.
	BaseURL() string

	// MaxTokens returns the default max_tokens this client sends when the
	// caller's request doesn't specify one.
	MaxTokens() int
}
