// Package client is the single integration seam between a resolved model
// and a concrete upstream adapter: callers outside the gateway (the CLI,
// embedders of this module) go through New rather than constructing an
// openai.Client or anthropic.Client directly, so adding a third dialect
// never requires touching call sites.
package client

import (
	"fmt"

	"github.com/coreseekdev/emx-llm/internal/provider"
	"github.com/coreseekdev/emx-llm/internal/provider/anthropic"
	"github.com/coreseekdev/emx-llm/internal/provider/openai"
)

// New builds the provider.Client for a resolved model's dialect.
func New(rm provider.ResolvedModel) (provider.Client, error) {
	ep := rm.Endpoint()
	switch rm.Kind {
	case provider.OpenAIDialect:
		return openai.New(ep), nil
	case provider.AnthropicDialect:
		return anthropic.New(ep), nil
	default:
		return nil, fmt.Errorf("client: unknown provider kind %v", rm.Kind)
	}
}
