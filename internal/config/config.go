package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"labagent/internal/protocol"
)

const (
	DefaultAppName      = "labagent"
	DefaultAppVersion   = "0.1.0"
	DefaultEngineURL    = "http://127.0.0.1:8080/v1"
	DefaultHubURL       = "https://huggingface.co"
	DefaultMaxNewTokens = 512
	DefaultTemperature  = 0.7
	DefaultMaxToolCalls = 3
	DefaultRateLimitRPS = 1
	DefaultRateBurst    = 5

	configDirName = "labagent"
)

// DefaultCORSOrigins are the browser origins allowed to call the HTTP API.
var DefaultCORSOrigins = []string{"http://localhost", "http://localhost:3000"}

type Config struct {
	App         AppConfig        `toml:"app" yaml:"app"`
	Listen      string           `toml:"listen" yaml:"listen"`
	MCP         MCPConfig        `toml:"mcp" yaml:"mcp"`
	Models      ModelsConfig     `toml:"models" yaml:"models"`
	Engine      EngineConfig     `toml:"engine" yaml:"engine"`
	Generation  GenerationConfig `toml:"generation" yaml:"generation"`
	RateLimit   RateLimitConfig  `toml:"rate_limit" yaml:"rate_limit"`
	CORSOrigins []string         `toml:"cors_origins" yaml:"cors_origins"`
	Verbose     bool             `toml:"verbose" yaml:"verbose"`
}

type AppConfig struct {
	Name    string `toml:"name" yaml:"name"`
	Version string `toml:"version" yaml:"version"`
}

type MCPConfig struct {
	URL string `toml:"url" yaml:"url"`
}

type ModelsConfig struct {
	Dir      string `toml:"dir" yaml:"dir"`
	HubURL   string `toml:"hub_url" yaml:"hub_url"`
	HubToken string `toml:"hub_token,omitempty" yaml:"hub_token,omitempty"`
	Default  string `toml:"default" yaml:"default"`
}

type EngineConfig struct {
	BaseURL string `toml:"base_url" yaml:"base_url"`
	APIKey  string `toml:"api_key,omitempty" yaml:"api_key,omitempty"`
}

type GenerationConfig struct {
	MaxNewTokens int     `toml:"max_new_tokens" yaml:"max_new_tokens"`
	Temperature  float64 `toml:"temperature" yaml:"temperature"`
	MaxToolCalls int     `toml:"max_tool_calls" yaml:"max_tool_calls"`
}

// RateLimitConfig throttles generation requests per client address.
// RPS 0 disables the limit. Loopback clients are never limited.
type RateLimitConfig struct {
	RPS   float64 `toml:"rps" yaml:"rps"`
	Burst int     `toml:"burst" yaml:"burst"`
}

func Default() Config {
	return Config{
		App: AppConfig{
			Name:    DefaultAppName,
			Version: DefaultAppVersion,
		},
		Listen: protocol.DefaultListenAddr,
		MCP: MCPConfig{
			URL: protocol.DefaultMCPURL,
		},
		Models: ModelsConfig{
			Dir:    defaultModelsDir(),
			HubURL: DefaultHubURL,
		},
		Engine: EngineConfig{
			BaseURL: DefaultEngineURL,
		},
		Generation: GenerationConfig{
			MaxNewTokens: DefaultMaxNewTokens,
			Temperature:  DefaultTemperature,
			MaxToolCalls: DefaultMaxToolCalls,
		},
		RateLimit: RateLimitConfig{
			RPS:   DefaultRateLimitRPS,
			Burst: DefaultRateBurst,
		},
		CORSOrigins: append([]string(nil), DefaultCORSOrigins...),
	}
}

func defaultModelsDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return "models"
	}
	return filepath.Join(base, configDirName, "models")
}

// RegistryPath is the sqlite file recording downloaded models.
func (c Config) RegistryPath() string {
	return filepath.Join(c.Models.Dir, "registry.sqlite")
}

// ConfigPath returns the default user config file, config.toml under the
// user config directory.
func ConfigPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, configDirName, "config.toml"), nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Save writes cfg to path, as YAML when the extension says so and TOML
// otherwise. Secrets are never written.
func Save(cfg Config, path string) error {
	if strings.TrimSpace(path) == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	cfg.Models.HubToken = ""
	cfg.Engine.APIKey = ""

	var data []byte
	if isYAML(path) {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		data = out
	} else {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		data = buf.Bytes()
	}
	return os.WriteFile(path, data, 0o644)
}

// Redacted returns a copy safe to print: secrets are replaced by a marker
// naming where they come from.
func Redacted(cfg Config) Config {
	cfg.Models.HubToken = redactSecret(cfg.Models.HubToken, EnvHubToken)
	cfg.Engine.APIKey = redactSecret(cfg.Engine.APIKey, EnvEngineAPIKey)
	return cfg
}

func redactSecret(value, envName string) string {
	if value == "" {
		return ""
	}
	return "<from env " + envName + ">"
}
