package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// isolate points every lookup at a scratch directory so the developer's own
// config and dotenv files do not leak into tests.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	for _, fd := range fieldDefs {
		t.Setenv(fd.EnvVar, "")
	}
	t.Setenv(EnvConfigPath, "")
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultsAreValid(t *testing.T) {
	isolate(t)
	cfg, err := Load(Options{SkipDotEnv: true})
	if err != nil {
		t.Fatalf("defaults should load: %v", err)
	}
	if cfg.MCP.URL != "http://openldr-mcp-server:6060/stream" {
		t.Fatalf("unexpected mcp url %q", cfg.MCP.URL)
	}
	if cfg.Generation.MaxToolCalls != 3 || cfg.Generation.MaxNewTokens != 512 || cfg.Generation.Temperature != 0.7 {
		t.Fatalf("unexpected generation defaults %#v", cfg.Generation)
	}
	if strings.Join(cfg.CORSOrigins, ",") != "http://localhost,http://localhost:3000" {
		t.Fatalf("unexpected cors defaults %v", cfg.CORSOrigins)
	}
}

func TestPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "labagent.toml")
	writeFile(t, path, `
listen = "0.0.0.0:9999"

[mcp]
url = "http://file:6060/stream"

[generation]
max_tool_calls = 5
`)
	t.Setenv(EnvMCPURL, "http://env:6060/stream")

	listen := "127.0.0.1:8888"
	cfg, err := Load(Options{Path: path, SkipDotEnv: true, Overrides: &Overrides{Listen: &listen}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8888" {
		t.Errorf("flag should win, got %q", cfg.Listen)
	}
	if cfg.MCP.URL != "http://env:6060/stream" {
		t.Errorf("env should win over file, got %q", cfg.MCP.URL)
	}
	if cfg.Generation.MaxToolCalls != 5 {
		t.Errorf("file should win over defaults, got %d", cfg.Generation.MaxToolCalls)
	}
	if cfg.Generation.MaxNewTokens != DefaultMaxNewTokens {
		t.Errorf("unset file fields keep defaults, got %d", cfg.Generation.MaxNewTokens)
	}
}

func TestLoadYAMLByExtension(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "labagent.yaml")
	writeFile(t, path, "models:\n  default: Qwen/Qwen2.5-0.5B-Instruct\ncors_origins:\n  - https://lab.example\n")

	cfg, err := Load(Options{Path: path, SkipDotEnv: true})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Models.Default != "Qwen/Qwen2.5-0.5B-Instruct" {
		t.Fatalf("unexpected default model %q", cfg.Models.Default)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "https://lab.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	dir := isolate(t)

	bad := filepath.Join(dir, "bad.toml")
	writeFile(t, bad, "listen = [")
	if _, err := Load(Options{Path: bad, SkipDotEnv: true}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("malformed toml should be invalid, got %v", err)
	}

	if _, err := Load(Options{Path: filepath.Join(dir, "missing.toml"), SkipDotEnv: true}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("missing explicit file should be invalid, got %v", err)
	}

	t.Setenv(EnvMaxToolCalls, "-1")
	if _, err := Load(Options{SkipDotEnv: true}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("negative tool bound should be invalid, got %v", err)
	}
}

func TestEnvListsAndBools(t *testing.T) {
	isolate(t)
	t.Setenv(EnvCORSOrigins, " http://a , ,http://b ")
	t.Setenv(EnvVerbose, "1")
	t.Setenv(EnvTemperature, "0.2")
	t.Setenv(EnvRateLimitRPS, "0")

	cfg, err := Load(Options{SkipDotEnv: true})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.Join(cfg.CORSOrigins, "|") != "http://a|http://b" {
		t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
	if !cfg.Verbose || cfg.Generation.Temperature != 0.2 || cfg.RateLimit.RPS != 0 || cfg.RateLimit.Burst != DefaultRateBurst {
		t.Fatalf("unexpected cfg %#v", cfg)
	}
}

func TestDotEnvDoesNotOverrideExplicitEnv(t *testing.T) {
	dir := isolate(t)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	writeFile(t, filepath.Join(dir, ".env"), EnvDefaultModel+"=from-dotenv\n"+EnvAppName+"=dotenv-name\n")
	writeFile(t, filepath.Join(dir, ".env.local"), EnvAppName+"=local-name\n")
	t.Setenv(EnvDefaultModel, "from-shell")
	// t.Setenv restores the variable afterwards, so dotenv writes are undone.
	t.Setenv(EnvAppName, "")
	if err := os.Unsetenv(EnvAppName); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Models.Default != "from-shell" {
		t.Fatalf("explicit env must win, got %q", cfg.Models.Default)
	}
	if cfg.App.Name != "local-name" {
		t.Fatalf(".env.local must win over .env, got %q", cfg.App.Name)
	}

	fields := EffectiveFields(cfg, "")
	sources := map[string]FieldSource{}
	for _, f := range fields {
		sources[f.Key] = f.Source
	}
	if sources["app.name"] != SourceDotEnvLocal {
		t.Fatalf("unexpected source %q", sources["app.name"])
	}
	if sources["listen"] != SourceDefault {
		t.Fatalf("unexpected source %q", sources["listen"])
	}
}

func TestSaveRoundTripsWithoutSecrets(t *testing.T) {
	dir := isolate(t)
	cfg := Default()
	cfg.Models.Default = "org/model"
	cfg.Engine.APIKey = "sk-secret"

	for _, name := range []string{"out.toml", "out.yaml"} {
		path := filepath.Join(dir, name)
		if err := Save(cfg, path); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
		raw, _ := os.ReadFile(path)
		if strings.Contains(string(raw), "sk-secret") {
			t.Fatalf("%s leaked a secret:\n%s", name, raw)
		}
		back, err := Load(Options{Path: path, SkipDotEnv: true})
		if err != nil {
			t.Fatalf("reload %s: %v", name, err)
		}
		if back.Models.Default != "org/model" {
			t.Fatalf("%s did not round trip: %#v", name, back.Models)
		}
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Engine.APIKey = "sk-secret"
	red := Redacted(cfg)
	if red.Engine.APIKey != "<from env "+EnvEngineAPIKey+">" || red.Models.HubToken != "" {
		t.Fatalf("unexpected redaction %#v", red.Engine)
	}
	if cfg.Engine.APIKey != "sk-secret" {
		t.Fatalf("Redacted must not modify its argument")
	}
}

func TestValidateFieldRejectsUnknownKey(t *testing.T) {
	if err := ValidateField("nope", "x"); err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if err := ValidateField("mcp.url", "ftp://x"); err == nil {
		t.Fatalf("expected error for non-http url")
	}
	if err := ValidateField("generation.temperature", "0.7"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
