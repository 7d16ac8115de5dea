// Package config implements CaretForge's configuration loading: CLI flags
// override environment variables, which override the config file, which
// falls back to built-in defaults, loaded from a platform-dependent path,
// plus the secret-display redaction rule.
//
// Grounded on dcode's internal/config/config.go: viper's own
// precedence order (SetDefault < config file < AutomaticEnv < explicit
// Set) is adopted directly, trimmed from dcode's ~40-field
// opencode-parity schema (keybinds, TUI, MCP, commands, skills, watcher,
// formatter, LSP...) down to exactly three fields: defaultProvider,
// providers, telemetry.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// ProviderConfig is one schema-validated entry in the providers map. It
// carries exactly what a provider adapter (internal/provider) needs to
// construct itself: which of the four wire variants to speak, where to
// reach it, and how to authenticate.
type ProviderConfig struct {
	Variant string `mapstructure:"variant" json:"variant"` // "openai" | "anthropic" | "responses" | "asyncrun"
	BaseURL string `mapstructure:"baseUrl" json:"baseUrl,omitempty"`
	APIKey string `mapstructure:"apiKey" json:"apiKey,omitempty"`
	APIVersion string `mapstructure:"apiVersion" json:"apiVersion,omitempty"`
	DefaultModel string `mapstructure:"defaultModel" json:"defaultModel,omitempty"`
	TokenCmd []string `mapstructure:"tokenCmd" json:"tokenCmd,omitempty"` // variant asyncrun only
}

// Config is CaretForge's entire on-disk/loaded configuration: a JSON
// object with a defaultProvider string, a providers map keyed by
// provider name (each schema-validated), and a telemetry boolean.
type Config struct {
	DefaultProvider string `mapstructure:"defaultProvider" json:"defaultProvider"`
	Providers map[string]ProviderConfig `mapstructure:"providers" json:"providers"`
	Telemetry bool `mapstructure:"telemetry" json:"telemetry"`
}

// configDirName is the platform-independent leaf under the
// platform-dependent config root: caretforge/config.json.
const configDirName = "caretforge"
const configFileBaseName = "config"

// configDir resolves the platform-dependent config directory:
// XDG_CONFIG_HOME or ~/.config on Unix, %APPDATA% on Windows.
func configDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, configDirName)
		}
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return configDirName
	}
	return filepath.Join(home, ".config", configDirName)
}

// ConfigFilePath returns the resolved path of the config file (used by
// `config init`/`config show`).
func ConfigFilePath() string {
	return filepath.Join(configDir(), configFileBaseName+".json")
}

// envAliases maps well-known provider API-key environment variables onto
// their provider name, mirroring dcode's BindEnv calls — trimmed to the
// set of variables a caretforge provider adapter can actually use, rather
// than dcode's 20-vendor list.
var envAliases = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai": "OPENAI_API_KEY",
	"azure": "AZURE_OPENAI_API_KEY",
}

// Load resolves configuration with the following precedence: CLI flags
// (bound onto v by the caller, or applied by the caller after Load
// returns) > environment variables > config
// file > defaults. v is exposed so cmd/caretforge's cobra root can bind
// persistent flags onto the same viper instance before Unmarshal.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	v.SetDefault("defaultProvider", "anthropic")
	v.SetDefault("telemetry", false)

	v.SetConfigName(configFileBaseName)
	v.SetConfigType("json")
	v.AddConfigPath(configDir())
	_ = v.ReadInConfig() // absent config file is not an error; defaults apply

	v.SetEnvPrefix("CARETFORGE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}

	// Environment-variable API-key override: applied after the config
	// file is unmarshalled, so an env var set for a provider always wins
	// over whatever apiKey that provider has on disk, matching env >
	// file precedence (cmd/caretforge applies --provider/--model on top
	// of this after Load returns).
	for name, envVar := range envAliases {
		key := os.Getenv(envVar)
		if key == "" {
			continue
		}
		pc := cfg.Providers[name]
		pc.APIKey = key
		if pc.Variant == "" {
			pc.Variant = name
		}
		cfg.Providers[name] = pc
	}

	return &cfg, nil
}

// Save writes the config as indented JSON to its platform-dependent path,
// creating the parent directory as needed (`config init`).
func (c *Config) Save() error {
	path := ConfigFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", " ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// WithSecretsRedacted returns a copy of the config with every provider's
// APIKey passed through Redact, for `config show` without --json's raw
// secret leakage and for `config init`'s confirmation printout.
func (c *Config) WithSecretsRedacted() *Config {
	out := &Config{
		DefaultProvider: c.DefaultProvider,
		Telemetry: c.Telemetry,
		Providers: make(map[string]ProviderConfig, len(c.Providers)),
	}
	for name, pc := range c.Providers {
		pc.APIKey = Redact(pc.APIKey)
		out.Providers[name] = pc
	}
	return out
}
