// Package resolver implements the model-reference parser and the
// hierarchical resolver of spec §4.2/§4.3: turning a caller-supplied
// dotted name into a fully populated provider.ResolvedModel by walking
// the configuration tree built by internal/config.
package resolver

import (
	"sort"
	"strings"

	"github.com/coreseekdev/emx-llm/internal/provider"
)

// Reference is a parsed caller token. It is purely syntactic — binding it
// to an endpoint is the resolver's job, not the parser's.
type Reference struct {
	FullPath     string
	ExplicitKind *provider.Kind
	LeafName     string
}

// aliasKind maps a recognized first-segment alias to its provider.Kind.
// openai/anthropic are the dialect names themselves; claude is the one
// additional dialect alias spec §4.2 names explicitly. No other alias is
// recognized — see DESIGN.md's Open Question (iv).
func aliasKind(segment string) (provider.Kind, bool) {
	switch segment {
	case "openai":
		return provider.OpenAIDialect, true
	case "anthropic", "claude":
		return provider.AnthropicDialect, true
	default:
		return 0, false
	}
}

// ParseReference parses a raw model reference per spec §4.2: trim,
// lowercase, split on '.'. The first segment is an explicit kind iff it
// matches a recognized alias. LeafName is always the final segment.
func ParseReference(raw string) (Reference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Reference{}, &InvalidReferenceError{Input: raw}
	}

	full := strings.ToLower(trimmed)
	segments := strings.Split(full, ".")
	leaf := segments[len(segments)-1]

	ref := Reference{FullPath: full, LeafName: leaf}
	if kind, ok := aliasKind(segments[0]); ok {
		k := kind
		ref.ExplicitKind = &k
	}
	return ref, nil
}

// segments splits the reference's full path back into its dotted parts.
func (r Reference) segments() []string {
	return strings.Split(r.FullPath, ".")
}

// sortedCopy returns a lexicographically sorted copy of paths, used to
// build a deterministic AmbiguousReferenceError (invariant #2).
func sortedCopy(paths []string) []string {
	out := append([]string(nil), paths...)
	sort.Strings(out)
	return out
}
