// Package config loads the gateway's layered configuration tree. It
// mirrors the teacher's single-file koanf+env loader, generalized to a
// five-source layered tree over TOML instead of YAML (spec §4.1/§6).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix recognized for structured environment overrides.
const EnvPrefix = "EMX_LLM_"

// builtinDefaults seeds the bottom of the precedence chain: source 1 of
// spec §4.1. Every other source layers on top of this.
func builtinDefaults() map[string]interface{} {
	return map[string]interface{}{
		"llm.provider.type":         "openai",
		"llm.provider.max_tokens":   4096,
		"llm.provider.timeout_secs": 120,
	}
}

// LoadOptions controls where each layer is read from. Tests populate
// Overrides directly and point the file paths at a temp directory. An
// empty path selects that layer's default location; a path whose file
// does not exist skips that layer.
type LoadOptions struct {
	// GlobalConfigPath defaults to $HOME/.emx/config.toml when empty.
	GlobalConfigPath string
	// LocalConfigPath defaults to ./config.toml when empty.
	LocalConfigPath string
	// Overrides is source 5: an explicit caller-supplied mapping (used
	// by the CLI and by tests), applied with the highest precedence.
	Overrides map[string]interface{}
	// SkipDotEnv disables loading a .env file into the process
	// environment before the env-var layer is read.
	SkipDotEnv bool
}

// DefaultGlobalConfigPath returns $HOME/.emx/config.toml, or "" if $HOME
// cannot be determined.
func DefaultGlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".emx", "config.toml")
}

// Load builds the layered configuration tree per spec §4.1: built-in
// defaults, global file, local file, structured environment variables,
// then explicit overrides, each layer merging deeply on top of the last.
func Load(opts LoadOptions) (Tree, error) {
	if !opts.SkipDotEnv {
		_ = godotenv.Load()
	}

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(builtinDefaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading built-in defaults: %w", err)
	}

	globalPath := opts.GlobalConfigPath
	if globalPath == "" {
		globalPath = DefaultGlobalConfigPath()
	}
	if globalPath != "" {
		if err := loadTOMLIfExists(k, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config %s: %w", globalPath, err)
		}
	}

	localPath := opts.LocalConfigPath
	if localPath == "" {
		localPath = "config.toml"
	}
	if err := loadTOMLIfExists(k, localPath); err != nil {
		return nil, fmt.Errorf("loading local config %s: %w", localPath, err)
	}

	transform := func(s string) string {
		trimmed := strings.TrimPrefix(s, EnvPrefix)
		trimmed = strings.ReplaceAll(trimmed, "__", ".")
		return strings.ToLower(trimmed)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", transform), nil); err != nil {
		return nil, fmt.Errorf("loading %s env vars: %w", EnvPrefix, err)
	}

	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("loading explicit overrides: %w", err)
		}
	}

	return Tree(k.Raw()), nil
}

func loadTOMLIfExists(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return k.Load(file.Provider(path), toml.Parser())
}

// LegacyEnvFallback holds the flat environment variables consulted when a
// resolved path is missing api_key or api_base (spec §4.1 "legacy
// fallbacks").
type LegacyEnvFallback struct {
	OpenAIAPIKey     string
	OpenAIAPIBase    string
	AnthropicAuthTok string
	AnthropicBaseURL string
}

// ReadLegacyEnvFallback reads the four well-known flat environment
// variables. It never errors — a missing variable is simply an empty
// string, handled by the resolver's fallback chain.
func ReadLegacyEnvFallback() LegacyEnvFallback {
	return LegacyEnvFallback{
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIAPIBase:    os.Getenv("OPENAI_API_BASE"),
		AnthropicAuthTok: os.Getenv("ANTHROPIC_AUTH_TOKEN"),
		AnthropicBaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
	}
}
