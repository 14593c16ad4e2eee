package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreseekdev/emx-llm/internal/config"
	"github.com/coreseekdev/emx-llm/internal/provider"
)

func treeFromTOML(t *testing.T, toml string) config.Tree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(toml), 0644))
	tree, err := config.Load(config.LoadOptions{LocalConfigPath: path, SkipDotEnv: true})
	require.NoError(t, err)
	return tree
}

func TestResolve_HierarchicalInheritance(t *testing.T) {
	// S4: a nested model node inherits api_key/api_base from an ancestor
	// that does not itself carry `model`.
	tree := treeFromTOML(t, `
[llm.provider.work]
type = "openai"
api_key = "sk-work-key"
api_base = "https://work.example.com/v1"

[llm.provider.work.team.gpt-x]
model = "gpt-4-turbo"
`)

	ref, err := ParseReference("work.team.gpt-x")
	require.NoError(t, err)

	rm, err := Resolve(tree, ref)
	require.NoError(t, err)
	assert.Equal(t, provider.OpenAIDialect, rm.Kind)
	assert.Equal(t, "sk-work-key", rm.APIKey)
	assert.Equal(t, "https://work.example.com/v1", rm.BaseURL)
	assert.Equal(t, "gpt-4-turbo", rm.UpstreamModelID)
}

func TestResolve_InheritanceStopsAtNearestOverride(t *testing.T) {
	// Invariant #3: a closer ancestor's attribute wins over a farther one.
	tree := treeFromTOML(t, `
[llm.provider.work]
type = "openai"
api_key = "sk-far"

[llm.provider.work.team]
api_key = "sk-near"

[llm.provider.work.team.gpt-x]
model = "gpt-4-turbo"
`)

	ref, err := ParseReference("work.team.gpt-x")
	require.NoError(t, err)

	rm, err := Resolve(tree, ref)
	require.NoError(t, err)
	assert.Equal(t, "sk-near", rm.APIKey)
}

func TestResolve_WalksUpOnAnchorMiss(t *testing.T) {
	// Step 2: requesting a path one level deeper than any `model` node
	// still resolves by walking up to the nearest ancestor carrying one.
	tree := treeFromTOML(t, `
[llm.provider.openai.gpt-x]
model = "gpt-4-turbo"
type = "openai"
api_key = "sk-work"
`)

	ref, err := ParseReference("openai.gpt-x.extra")
	require.NoError(t, err)

	rm, err := Resolve(tree, ref)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4-turbo", rm.UpstreamModelID)
}

func TestResolve_ExplicitKindOverridesTreeType(t *testing.T) {
	tree := treeFromTOML(t, `
[llm.provider.anthropic.claude-x]
model = "claude-3-opus"
api_key = "sk-ant"
`)

	ref, err := ParseReference("anthropic.claude-x")
	require.NoError(t, err)
	require.NotNil(t, ref.ExplicitKind)

	rm, err := Resolve(tree, ref)
	require.NoError(t, err)
	assert.Equal(t, provider.AnthropicDialect, rm.Kind)
}

func TestResolve_ShortNameAmbiguityIsSortedAndComplete(t *testing.T) {
	// S3 + invariant #2: a short name matching two model nodes returns every
	// candidate, sorted.
	tree := treeFromTOML(t, `
[llm.provider.work.gpt-x]
model = "gpt-4-turbo"
type = "openai"
api_key = "sk-work"

[llm.provider.personal.gpt-x]
model = "gpt-4-turbo"
type = "openai"
api_key = "sk-personal"
`)

	ref, err := ParseReference("gpt-x")
	require.NoError(t, err)
	require.Nil(t, ref.ExplicitKind)

	_, err = Resolve(tree, ref)
	require.Error(t, err)

	var ambiguous *AmbiguousReferenceError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, []string{"personal.gpt-x", "work.gpt-x"}, ambiguous.Candidates)
}

func TestResolve_ShortNameUniqueMatchResolves(t *testing.T) {
	tree := treeFromTOML(t, `
[llm.provider.work.gpt-x]
model = "gpt-4-turbo"
type = "openai"
api_key = "sk-work"
`)

	ref, err := ParseReference("gpt-x")
	require.NoError(t, err)

	rm, err := Resolve(tree, ref)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4-turbo", rm.UpstreamModelID)
}

func TestResolve_UnknownShortNameIsNotConfigured(t *testing.T) {
	tree := treeFromTOML(t, `
[llm.provider.work.gpt-x]
model = "gpt-4-turbo"
type = "openai"
`)

	ref, err := ParseReference("nonexistent")
	require.NoError(t, err)

	_, err = Resolve(tree, ref)
	var notConfigured *ModelNotConfiguredError
	require.ErrorAs(t, err, &notConfigured)
}

func TestResolve_LegacyEnvFallbackFillsMissingAPIKey(t *testing.T) {
	tree := treeFromTOML(t, `
[llm.provider.openai.gpt-x]
model = "gpt-4-turbo"
`)
	t.Setenv("OPENAI_API_KEY", "sk-legacy-env")

	ref, err := ParseReference("openai.gpt-x")
	require.NoError(t, err)

	rm, err := Resolve(tree, ref)
	require.NoError(t, err)
	assert.Equal(t, "sk-legacy-env", rm.APIKey)
}

func TestResolve_LegacyEnvFallbackNeverOverridesTreeValue(t *testing.T) {
	tree := treeFromTOML(t, `
[llm.provider.openai]
api_key = "sk-from-tree"

[llm.provider.openai.gpt-x]
model = "gpt-4-turbo"
`)
	t.Setenv("OPENAI_API_KEY", "sk-legacy-env")

	ref, err := ParseReference("openai.gpt-x")
	require.NoError(t, err)

	rm, err := Resolve(tree, ref)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-tree", rm.APIKey)
}

func TestResolve_MissingAPIKeyWithNoFallbackIsConfigError(t *testing.T) {
	// spec.md: ConfigError for "missing api_key with no env fallback"; the
	// ProviderEndpoint invariant requires api_key non-empty at call time.
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_API_BASE", "")

	tree := treeFromTOML(t, `
[llm.provider.work.gpt-x]
model = "gpt-4-turbo"
type = "openai"
`)

	ref, err := ParseReference("work.gpt-x")
	require.NoError(t, err)

	_, err = Resolve(tree, ref)
	var configErr *ConfigError
	require.ErrorAs(t, err, &configErr)
}

func TestResolve_IsDeterministic(t *testing.T) {
	// Invariant #1: resolving the same reference against the same tree
	// twice gives identical results.
	tree := treeFromTOML(t, `
[llm.provider.work]
type = "openai"
api_key = "sk-work-key"

[llm.provider.work.team.gpt-x]
model = "gpt-4-turbo"
`)

	ref, err := ParseReference("work.team.gpt-x")
	require.NoError(t, err)

	first, err := Resolve(tree, ref)
	require.NoError(t, err)
	second, err := Resolve(tree, ref)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestListModels_EnumeratesEveryModelNode(t *testing.T) {
	tree := treeFromTOML(t, `
[llm.provider.work]
type = "openai"
api_key = "sk-work"

[llm.provider.work.gpt-x]
model = "gpt-4-turbo"

[llm.provider.anthropic.claude-x]
type = "anthropic"
api_key = "sk-ant"
model = "claude-3-opus"
`)

	models := ListModels(tree)
	paths := make([]string, len(models))
	for i, m := range models {
		paths[i] = m.Path
	}
	assert.ElementsMatch(t, []string{"work.gpt-x", "anthropic.claude-x"}, paths)
}

func TestListProviders_EnumeratesTopLevelProvidersOnly(t *testing.T) {
	tree := treeFromTOML(t, `
[llm.provider.work]
type = "openai"

[llm.provider.anthropic]
type = "anthropic"
`)

	providers := ListProviders(tree)
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name
	}
	assert.ElementsMatch(t, []string{"work", "anthropic"}, names)
}
