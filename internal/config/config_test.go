package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_LocalFileLayer(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	tomlContent := `
[llm.provider.openai]
api_base = "https://example.com/v1"
api_key = "sk-localfile"

[llm.provider.openai.gpt-x]
model = "gpt-x"
`
	require.NoError(t, os.WriteFile(configPath, []byte(tomlContent), 0644))

	tree, err := Load(LoadOptions{LocalConfigPath: configPath, SkipDotEnv: true})
	require.NoError(t, err)

	provider, ok := tree.Child("llm")
	require.True(t, ok)
	provider, ok = provider.Child("provider")
	require.True(t, ok)

	openai, ok := provider.Child("openai")
	require.True(t, ok)
	base, _ := openai.String("api_base")
	assert.Equal(t, "https://example.com/v1", base)

	model, ok := openai.Child("gpt-x")
	require.True(t, ok)
	modelID, _ := model.String("model")
	assert.Equal(t, "gpt-x", modelID)
}

func TestLoad_EnvLayerOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	tomlContent := `
[llm.provider.openai]
api_key = "sk-from-file"
`
	require.NoError(t, os.WriteFile(configPath, []byte(tomlContent), 0644))

	t.Setenv("EMX_LLM_LLM__PROVIDER__OPENAI__API_KEY", "sk-from-env")

	tree, err := Load(LoadOptions{LocalConfigPath: configPath, SkipDotEnv: true})
	require.NoError(t, err)

	provider, _ := tree.Child("llm")
	provider, _ = provider.Child("provider")
	openai, ok := provider.Child("openai")
	require.True(t, ok)
	key, _ := openai.String("api_key")
	assert.Equal(t, "sk-from-env", key)
}

func TestLoad_ExplicitOverridesWinOverEverything(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`[llm.provider.openai]
api_key = "sk-from-file"
`), 0644))

	t.Setenv("EMX_LLM_LLM__PROVIDER__OPENAI__API_KEY", "sk-from-env")

	tree, err := Load(LoadOptions{
		LocalConfigPath: configPath,
		SkipDotEnv:      true,
		Overrides: map[string]interface{}{
			"llm.provider.openai.api_key": "sk-from-override",
		},
	})
	require.NoError(t, err)

	provider, _ := tree.Child("llm")
	provider, _ = provider.Child("provider")
	openai, _ := provider.Child("openai")
	key, _ := openai.String("api_key")
	assert.Equal(t, "sk-from-override", key)
}

func TestLoad_BuiltinDefaults(t *testing.T) {
	tree, err := Load(LoadOptions{LocalConfigPath: filepath.Join(t.TempDir(), "missing.toml"), SkipDotEnv: true})
	require.NoError(t, err)

	provider, _ := tree.Child("llm")
	provider, _ = provider.Child("provider")
	typ, ok := provider.String("type")
	require.True(t, ok)
	assert.Equal(t, "openai", typ)

	maxTokens, ok := provider.Int("max_tokens")
	require.True(t, ok)
	assert.Equal(t, 4096, maxTokens)
}

func TestRedactKey(t *testing.T) {
	assert.Equal(t, "(empty)", RedactKey(""))
	assert.Equal(t, "***", RedactKey("short"))
	assert.Equal(t, "sk-12345***", RedactKey("sk-12345-rest-of-the-key"))
}
