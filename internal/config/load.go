package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvListen       = "LABAGENT_LISTEN"
	EnvMCPURL       = "LABAGENT_MCP_URL"
	EnvModelsDir    = "LABAGENT_MODELS_DIR"
	EnvHubURL       = "LABAGENT_HUB_URL"
	EnvHubToken     = "HF_TOKEN"
	EnvDefaultModel = "LABAGENT_DEFAULT_MODEL"
	EnvEngineURL    = "LABAGENT_ENGINE_URL"
	EnvEngineAPIKey = "LABAGENT_ENGINE_API_KEY"
	EnvMaxNewTokens = "LABAGENT_MAX_NEW_TOKENS"
	EnvTemperature  = "LABAGENT_TEMPERATURE"
	EnvMaxToolCalls = "LABAGENT_MAX_TOOL_CALLS"
	EnvRateLimitRPS = "LABAGENT_RATE_LIMIT_RPS"
	EnvRateBurst    = "LABAGENT_RATE_LIMIT_BURST"
	EnvCORSOrigins  = "LABAGENT_CORS_ORIGINS"
	EnvVerbose      = "LABAGENT_VERBOSE"
	EnvAppName      = "LABAGENT_APP_NAME"
	EnvAppVersion   = "LABAGENT_APP_VERSION"
	EnvConfigPath   = "LABAGENT_CONFIG"
)

// ErrInvalid prefixes every error Load returns for bad input, so the CLI can
// map it to its exit code.
var ErrInvalid = errors.New("CONFIG_INVALID")

type Options struct {
	// Path is the config file. Empty means $LABAGENT_CONFIG, then the user
	// config directory.
	Path string
	// Overrides apply last (flags > env > file > defaults).
	Overrides *Overrides
	// SkipDotEnv leaves .env and .env.local alone.
	SkipDotEnv   bool
	SkipValidate bool
}

// Overrides holds CLI flag values. Only non-nil fields are applied.
type Overrides struct {
	Listen       *string
	MCPURL       *string
	ModelsDir    *string
	EngineURL    *string
	DefaultModel *string
	MaxToolCalls *int
	Verbose      *bool
}

// Load builds config with precedence: defaults → config file → .env/.env.local
// → env vars → overrides. Explicit env always wins over dotenv files.
func Load(opts Options) (Config, error) {
	if !opts.SkipDotEnv {
		if err := loadDotEnvPrecedence(); err != nil {
			return Config{}, fmt.Errorf("%w: failed loading dotenv files: %v", ErrInvalid, err)
		}
	}

	cfg := Default()
	path, explicit := resolvePath(opts.Path)
	if err := mergeFile(&cfg, path, explicit); err != nil {
		return Config{}, err
	}
	if err := mergeEnv(&cfg); err != nil {
		return Config{}, err
	}
	if opts.Overrides != nil {
		applyOverrides(&cfg, opts.Overrides)
	}

	if !opts.SkipValidate {
		if err := Validate(cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func resolvePath(path string) (string, bool) {
	if strings.TrimSpace(path) != "" {
		return path, true
	}
	if v := strings.TrimSpace(os.Getenv(EnvConfigPath)); v != "" {
		return v, true
	}
	p, err := ConfigPath()
	if err != nil {
		return "", false
	}
	if _, err := os.Stat(p); err != nil {
		alt := strings.TrimSuffix(p, ".toml") + ".yaml"
		if _, altErr := os.Stat(alt); altErr == nil {
			return alt, false
		}
	}
	return p, false
}

// mergeFile decodes path over cfg. A missing default file is not an error; a
// missing explicit one is.
func mergeFile(cfg *Config, path string, explicit bool) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("%w: cannot read config file %s: %v", ErrInvalid, path, err)
	}
	if isYAML(path) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("%w: malformed YAML in %s: %v", ErrInvalid, path, err)
		}
		return nil
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return fmt.Errorf("%w: malformed TOML in %s: %v", ErrInvalid, path, err)
	}
	return nil
}

func mergeEnv(cfg *Config) error {
	for _, fd := range fieldDefs {
		v, ok := os.LookupEnv(fd.EnvVar)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := ValidateField(fd.Key, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, fd.EnvVar, err)
		}
		ApplyField(cfg, fd.Key, strings.TrimSpace(v))
	}
	return nil
}

func applyOverrides(cfg *Config, o *Overrides) {
	if o.Listen != nil {
		cfg.Listen = *o.Listen
	}
	if o.MCPURL != nil {
		cfg.MCP.URL = *o.MCPURL
	}
	if o.ModelsDir != nil {
		cfg.Models.Dir = *o.ModelsDir
	}
	if o.EngineURL != nil {
		cfg.Engine.BaseURL = *o.EngineURL
	}
	if o.DefaultModel != nil {
		cfg.Models.Default = *o.DefaultModel
	}
	if o.MaxToolCalls != nil {
		cfg.Generation.MaxToolCalls = *o.MaxToolCalls
	}
	if o.Verbose != nil {
		cfg.Verbose = *o.Verbose
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
