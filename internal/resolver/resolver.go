package resolver

import (
	"strings"
	"time"

	"dario.cat/mergo"

	"github.com/coreseekdev/emx-llm/internal/config"
	"github.com/coreseekdev/emx-llm/internal/provider"
)

// providerRoot returns the llm.provider node, the root that every walk in
// this file is relative to.
func providerRoot(tree config.Tree) (config.Tree, bool) {
	llm, ok := tree.Child("llm")
	if !ok {
		return nil, false
	}
	return llm.Child("provider")
}

// nodeAtExact returns the node at exactly this path if every segment
// exists as a table, else ok=false.
func nodeAtExact(root config.Tree, segments []string) (config.Tree, bool) {
	node := root
	for _, seg := range segments {
		child, ok := node.Child(seg)
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}

// attrs is the set of inheritable attributes the resolver assembles while
// walking from an anchor node toward the root.
type attrs struct {
	Type        string
	APIBase     string
	APIKey      string
	MaxTokens   int
	TimeoutSecs int
}

// inheritAttrs resolves each inheritable attribute by reading the anchor
// node first, then walking parents (segments[:len-1], segments[:len-2],
// ..., the root itself) taking the first defined value for each attribute
// independently, per spec §4.3 step 4.
func inheritAttrs(root config.Tree, segments []string) attrs {
	var a attrs
	nodes := make([]config.Tree, 0, len(segments)+1)

	node := root
	nodes = append(nodes, node)
	for _, seg := range segments {
		child, ok := node.Child(seg)
		if !ok {
			break
		}
		nodes = append(nodes, child)
		node = child
	}

	// Walk from the deepest reached node back toward the root, filling in
	// whichever attributes are still unset.
	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		if a.Type == "" {
			if v, ok := n.String("type"); ok {
				a.Type = v
			}
		}
		if a.APIBase == "" {
			if v, ok := n.String("api_base"); ok {
				a.APIBase = v
			}
		}
		if a.APIKey == "" {
			if v, ok := n.String("api_key"); ok {
				a.APIKey = v
			}
		}
		if a.MaxTokens == 0 {
			if v, ok := n.Int("max_tokens"); ok {
				a.MaxTokens = v
			}
		}
		if a.TimeoutSecs == 0 {
			if v, ok := n.Int("timeout_secs"); ok {
				a.TimeoutSecs = v
			}
		}
	}
	return a
}

// findAnchor implements spec §4.3 steps 1-3 for a qualified (explicit
// kind) reference: search for the deepest path carrying `model`, walking
// up one segment at a time; fall back to a provider-only anchor at the
// first segment.
func findAnchor(root config.Tree, segments []string) (anchorSegments []string, node config.Tree, hasModel bool) {
	for l := len(segments); l >= 1; l-- {
		if n, ok := nodeAtExact(root, segments[:l]); ok && n.HasAttr("model") {
			return segments[:l], n, true
		}
	}
	// Step 3: provider-only fallback at the first segment.
	first := segments[:1]
	n, _ := nodeAtExact(root, first)
	if n == nil {
		n = config.Tree{}
	}
	return first, n, false
}

func kindFromString(s string) (provider.Kind, bool) {
	switch s {
	case "openai":
		return provider.OpenAIDialect, true
	case "anthropic":
		return provider.AnthropicDialect, true
	default:
		return 0, false
	}
}

// defaultBaseURL returns the built-in address for a dialect when no
// layer of configuration supplies one.
func defaultBaseURL(kind provider.Kind) string {
	if kind == provider.AnthropicDialect {
		return provider.DefaultAnthropicURL
	}
	return provider.DefaultOpenAIBaseURL
}

// legacyFallbackFor projects the flat legacy env vars relevant to one
// dialect into the same attrs shape used during tree inheritance, so
// mergo can fill whichever fields the tree walk left empty.
func legacyFallbackFor(kind provider.Kind, fb config.LegacyEnvFallback) attrs {
	if kind == provider.AnthropicDialect {
		return attrs{APIKey: fb.AnthropicAuthTok, APIBase: fb.AnthropicBaseURL}
	}
	return attrs{APIKey: fb.OpenAIAPIKey, APIBase: fb.OpenAIAPIBase}
}

// resolveAt builds a ResolvedModel from an anchor's attribute set,
// applying legacy env fallbacks and built-in defaults. explicitKind, when
// non-nil, takes precedence over any `type` found in the tree.
func resolveAt(anchorSegments []string, node config.Tree, root config.Tree, explicitKind *provider.Kind, upstreamModelID string) (provider.ResolvedModel, error) {
	a := inheritAttrs(root, anchorSegments)

	var kind provider.Kind
	if explicitKind != nil {
		kind = *explicitKind
	} else {
		k, ok := kindFromString(a.Type)
		if !ok {
			return provider.ResolvedModel{}, &ConfigError{Reason: "missing or unknown `type` for " + strings.Join(anchorSegments, ".")}
		}
		kind = k
	}

	fallback := legacyFallbackFor(kind, config.ReadLegacyEnvFallback())
	if err := mergo.Merge(&a, fallback); err != nil {
		return provider.ResolvedModel{}, &ConfigError{Reason: "merging legacy env fallback: " + err.Error()}
	}

	if a.APIKey == "" {
		return provider.ResolvedModel{}, &ConfigError{Reason: "missing api_key for " + strings.Join(anchorSegments, ".") + " (no tree value and no legacy env fallback)"}
	}

	baseURL := a.APIBase
	if baseURL == "" {
		baseURL = defaultBaseURL(kind)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	maxTokens := a.MaxTokens
	if maxTokens == 0 {
		maxTokens = provider.DefaultMaxTokens
	}

	timeout := provider.DefaultRequestTimeout
	if a.TimeoutSecs > 0 {
		timeout = time.Duration(a.TimeoutSecs) * time.Second
	}

	modelID := upstreamModelID
	if m, ok := node.String("model"); ok && m != "" {
		modelID = m
	}

	return provider.ResolvedModel{
		Kind:            kind,
		BaseURL:         baseURL,
		APIKey:          a.APIKey,
		UpstreamModelID: modelID,
		MaxTokens:       maxTokens,
		Timeout:         timeout,
	}, nil
}

// Resolve implements spec §4.3: resolve(reference) -> ResolvedModel | error.
func Resolve(tree config.Tree, ref Reference) (provider.ResolvedModel, error) {
	root, ok := providerRoot(tree)
	if !ok {
		root = config.Tree{}
	}
	segments := ref.segments()

	if ref.ExplicitKind != nil {
		anchorSegments, node, _ := findAnchor(root, segments)
		return resolveAt(anchorSegments, node, root, ref.ExplicitKind, ref.LeafName)
	}

	// Short-name path: enumerate every model node whose leaf name matches.
	matches := findModelNodesByLeaf(root, ref.LeafName)
	switch len(matches) {
	case 0:
		return provider.ResolvedModel{}, &ModelNotConfiguredError{Reference: ref.FullPath}
	case 1:
		m := matches[0]
		return resolveAt(m.segments, m.node, root, nil, ref.LeafName)
	default:
		paths := make([]string, len(matches))
		for i, m := range matches {
			paths[i] = strings.Join(m.segments, ".")
		}
		return provider.ResolvedModel{}, &AmbiguousReferenceError{Reference: ref.FullPath, Candidates: sortedCopy(paths)}
	}
}

type modelMatch struct {
	segments []string
	node     config.Tree
}

// findModelNodesByLeaf walks the whole tree under root and returns every
// node carrying `model` whose leaf (its own node name) equals leaf.
func findModelNodesByLeaf(root config.Tree, leaf string) []modelMatch {
	var out []modelMatch
	var walk func(node config.Tree, path []string)
	walk = func(node config.Tree, path []string) {
		for _, name := range node.ChildNames() {
			child, _ := node.Child(name)
			childPath := append(append([]string(nil), path...), name)
			if name == leaf && child.HasAttr("model") {
				out = append(out, modelMatch{segments: childPath, node: child})
			}
			walk(child, childPath)
		}
	}
	walk(root, nil)
	return out
}

// ModelSummary is one entry returned by ListModels.
type ModelSummary struct {
	Path  string
	Model provider.ResolvedModel
}

// ListModels walks the tree and returns every (dotted path,
// ResolvedModel) pair for nodes carrying `model` whose inherited `type`
// is a known kind, per spec §4.3. When no api_key can be resolved for a
// node, its summary carries only Kind and UpstreamModelID.
func ListModels(tree config.Tree) []ModelSummary {
	root, ok := providerRoot(tree)
	if !ok {
		return nil
	}

	var out []ModelSummary
	var walk func(node config.Tree, path []string)
	walk = func(node config.Tree, path []string) {
		for _, name := range node.ChildNames() {
			child, _ := node.Child(name)
			childPath := append(append([]string(nil), path...), name)
			if child.HasAttr("model") {
				a := inheritAttrs(root, childPath)
				if kind, ok := kindFromString(a.Type); ok {
					rm, err := resolveAt(childPath, child, root, &kind, name)
					if err != nil {
						rm = provider.ResolvedModel{Kind: kind, UpstreamModelID: name}
						if m, ok := child.String("model"); ok && m != "" {
							rm.UpstreamModelID = m
						}
					}
					out = append(out, ModelSummary{Path: strings.Join(childPath, "."), Model: rm})
				}
			}
			walk(child, childPath)
		}
	}
	walk(root, nil)
	return out
}

// ProviderSummary is one entry returned by ListProviders.
type ProviderSummary struct {
	Name string
	Kind provider.Kind
}

// ListProviders returns (name, kind) for each immediate child of
// llm.provider that carries its own `type` attribute, per spec §4.3.
func ListProviders(tree config.Tree) []ProviderSummary {
	root, ok := providerRoot(tree)
	if !ok {
		return nil
	}
	var out []ProviderSummary
	for _, name := range root.ChildNames() {
		child, _ := root.Child(name)
		if t, ok := child.String("type"); ok {
			if kind, ok := kindFromString(t); ok {
				out = append(out, ProviderSummary{Name: name, Kind: kind})
			}
		}
	}
	return out
}
