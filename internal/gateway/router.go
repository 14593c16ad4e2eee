package gateway

import (
	"github.com/coreseekdev/emx-llm/internal/config"
	"github.com/coreseekdev/emx-llm/internal/provider"
	"github.com/coreseekdev/emx-llm/internal/resolver"
)

// ResolveForSurface implements spec §4.7: resolve the reference, then
// reject it if the resolved dialect does not match the HTTP surface it
// arrived on. No upstream call is made on a surface mismatch.
func ResolveForSurface(tree config.Tree, rawRef string, surface provider.Kind) (provider.ResolvedModel, error) {
	ref, err := resolver.ParseReference(rawRef)
	if err != nil {
		return provider.ResolvedModel{}, err
	}

	rm, err := resolver.Resolve(tree, ref)
	if err != nil {
		return provider.ResolvedModel{}, err
	}

	if rm.Kind != surface {
		return provider.ResolvedModel{}, &resolver.WrongSurfaceError{
			Reference:    rawRef,
			ResolvedKind: rm.Kind.String(),
			Surface:      surface.String(),
		}
	}
	return rm, nil
}
