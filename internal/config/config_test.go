package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadAppliesDefaultsWithNoConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultProvider != "anthropic" {
		t.Errorf("expected default provider %q, got %q", "anthropic", cfg.DefaultProvider)
	}
	if cfg.Telemetry {
		t.Error("expected telemetry to default to false")
	}
}

func TestLoadEnvVarFillsMissingAPIKey(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env-key")

	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	pc, ok := cfg.Providers["anthropic"]
	if !ok || pc.APIKey != "sk-ant-env-key" {
		t.Fatalf("expected env var to fill anthropic's apiKey, got %+v", pc)
	}
}

func TestLoadEnvVarTakesPrecedenceOverConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env-key")

	confDir := filepath.Join(dir, "caretforge")
	if err := os.MkdirAll(confDir, 0755); err != nil {
		t.Fatal(err)
	}
	body := `{"defaultProvider":"anthropic","providers":{"anthropic":{"variant":"anthropic","apiKey":"sk-ant-file-key"}}}`
	if err := os.WriteFile(filepath.Join(confDir, "config.json"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Providers["anthropic"].APIKey; got != "sk-ant-env-key" {
		t.Fatalf("expected env var's apiKey to win over the config file, got %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := &Config{
		DefaultProvider: "openai",
		Providers: map[string]ProviderConfig{
			"openai": {Variant: "openai", APIKey: "sk-test-key", DefaultModel: "gpt-4o"},
		},
	}
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(ConfigFilePath())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var got Config
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.DefaultProvider != cfg.DefaultProvider {
		t.Errorf("DefaultProvider: want %q, got %q", cfg.DefaultProvider, got.DefaultProvider)
	}
	if got.Providers["openai"].APIKey != "sk-test-key" {
		t.Errorf("APIKey round-trip failed: got %+v", got.Providers["openai"])
	}
}

func TestWithSecretsRedacted(t *testing.T) {
	cfg := &Config{
		DefaultProvider: "openai",
		Providers: map[string]ProviderConfig{
			"openai": {Variant: "openai", APIKey: "sk-test-1234567890"},
		},
	}
	redacted := cfg.WithSecretsRedacted()
	if redacted.Providers["openai"].APIKey == cfg.Providers["openai"].APIKey {
		t.Error("expected WithSecretsRedacted to mask the api key")
	}
	if redacted.Providers["openai"].APIKey != "sk-t****90" {
		t.Errorf("unexpected redaction: %q", redacted.Providers["openai"].APIKey)
	}
}

func TestValidateRejectsUnknownVariant(t *testing.T) {
	cfg := &Config{
		DefaultProvider: "x",
		Providers:       map[string]ProviderConfig{"x": {Variant: "not-a-variant", APIKey: "k"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject an unknown variant")
	}
}

func TestValidateAsyncRunDoesNotRequireAPIKey(t *testing.T) {
	cfg := &Config{
		DefaultProvider: "azure-run",
		Providers:       map[string]ProviderConfig{"azure-run": {Variant: "asyncrun"}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected asyncrun variant to validate without an apiKey, got %v", err)
	}
}

func TestResolveProviderMissingKeyIsFatal(t *testing.T) {
	cfg := &Config{Providers: map[string]ProviderConfig{"openai": {Variant: "openai"}}}
	if _, err := cfg.ResolveProvider("openai"); err == nil {
		t.Fatal("expected ResolveProvider to fail for a provider with no apiKey")
	}
	if _, err := cfg.ResolveProvider("missing"); err == nil {
		t.Fatal("expected ResolveProvider to fail for an unknown provider name")
	}
}

func TestRedact(t *testing.T) {
	cases := map[string]string{
		"short":               "******",
		"sk-ant-0123456789ab": "sk-a****ab",
	}
	for in, want := range cases {
		if got := Redact(in); got != want {
			t.Errorf("Redact(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsSecretKey(t *testing.T) {
	for _, k := range []string{"apiKey", "API_SECRET", "password", "authToken", "credential", "providerKey"} {
		if !IsSecretKey(k) {
			t.Errorf("expected %q to be classified as a secret key", k)
		}
	}
	if IsSecretKey("defaultProvider") {
		t.Error("defaultProvider should not be classified as a secret key")
	}
}
