package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// FieldSource indicates where a config value originates.
type FieldSource string

const (
	SourceDefault     FieldSource = "default"
	SourceConfigFile  FieldSource = "config file"
	SourceDotEnv      FieldSource = ".env"
	SourceDotEnvLocal FieldSource = ".env.local"
	SourceEnv         FieldSource = "env"
)

// FieldInfo describes a single configurable field and its provenance.
type FieldInfo struct {
	Key       string
	Value     string
	Source    FieldSource
	EnvVar    string
	Sensitive bool
}

type fieldDef struct {
	Key       string
	EnvVar    string
	Sensitive bool
}

var fieldDefs = []fieldDef{
	{Key: "app.name", EnvVar: EnvAppName},
	{Key: "app.version", EnvVar: EnvAppVersion},
	{Key: "listen", EnvVar: EnvListen},
	{Key: "mcp.url", EnvVar: EnvMCPURL},
	{Key: "models.dir", EnvVar: EnvModelsDir},
	{Key: "models.hub_url", EnvVar: EnvHubURL},
	{Key: "models.hub_token", EnvVar: EnvHubToken, Sensitive: true},
	{Key: "models.default", EnvVar: EnvDefaultModel},
	{Key: "engine.base_url", EnvVar: EnvEngineURL},
	{Key: "engine.api_key", EnvVar: EnvEngineAPIKey, Sensitive: true},
	{Key: "generation.max_new_tokens", EnvVar: EnvMaxNewTokens},
	{Key: "generation.temperature", EnvVar: EnvTemperature},
	{Key: "generation.max_tool_calls", EnvVar: EnvMaxToolCalls},
	{Key: "rate_limit.rps", EnvVar: EnvRateLimitRPS},
	{Key: "rate_limit.burst", EnvVar: EnvRateBurst},
	{Key: "cors_origins", EnvVar: EnvCORSOrigins},
	{Key: "verbose", EnvVar: EnvVerbose},
}

// Keys lists every configurable field in display order.
func Keys() []string {
	out := make([]string, 0, len(fieldDefs))
	for _, fd := range fieldDefs {
		out = append(out, fd.Key)
	}
	return out
}

// EnvVarForField returns the environment variable mapped to a field key.
func EnvVarForField(key string) string {
	for _, fd := range fieldDefs {
		if fd.Key == key {
			return fd.EnvVar
		}
	}
	return ""
}

// FieldValue extracts a config field value by key name.
func FieldValue(cfg Config, key string) string {
	switch key {
	case "app.name":
		return cfg.App.Name
	case "app.version":
		return cfg.App.Version
	case "listen":
		return cfg.Listen
	case "mcp.url":
		return cfg.MCP.URL
	case "models.dir":
		return cfg.Models.Dir
	case "models.hub_url":
		return cfg.Models.HubURL
	case "models.hub_token":
		return cfg.Models.HubToken
	case "models.default":
		return cfg.Models.Default
	case "engine.base_url":
		return cfg.Engine.BaseURL
	case "engine.api_key":
		return cfg.Engine.APIKey
	case "generation.max_new_tokens":
		return strconv.Itoa(cfg.Generation.MaxNewTokens)
	case "generation.temperature":
		return strconv.FormatFloat(cfg.Generation.Temperature, 'g', -1, 64)
	case "generation.max_tool_calls":
		return strconv.Itoa(cfg.Generation.MaxToolCalls)
	case "rate_limit.rps":
		return strconv.FormatFloat(cfg.RateLimit.RPS, 'g', -1, 64)
	case "rate_limit.burst":
		return strconv.Itoa(cfg.RateLimit.Burst)
	case "cors_origins":
		return strings.Join(cfg.CORSOrigins, ",")
	case "verbose":
		return strconv.FormatBool(cfg.Verbose)
	default:
		return ""
	}
}

// ApplyField sets a field by key name. Values are expected to have passed
// ValidateField.
func ApplyField(cfg *Config, key, value string) {
	switch key {
	case "app.name":
		cfg.App.Name = value
	case "app.version":
		cfg.App.Version = value
	case "listen":
		cfg.Listen = value
	case "mcp.url":
		cfg.MCP.URL = value
	case "models.dir":
		cfg.Models.Dir = value
	case "models.hub_url":
		cfg.Models.HubURL = value
	case "models.hub_token":
		cfg.Models.HubToken = value
	case "models.default":
		cfg.Models.Default = value
	case "engine.base_url":
		cfg.Engine.BaseURL = value
	case "engine.api_key":
		cfg.Engine.APIKey = value
	case "generation.max_new_tokens":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.Generation.MaxNewTokens = n
		}
	case "generation.temperature":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			cfg.Generation.Temperature = f
		}
	case "generation.max_tool_calls":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.Generation.MaxToolCalls = n
		}
	case "rate_limit.rps":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			cfg.RateLimit.RPS = f
		}
	case "rate_limit.burst":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.RateLimit.Burst = n
		}
	case "cors_origins":
		cfg.CORSOrigins = splitList(value)
	case "verbose":
		cfg.Verbose = parseBool(value)
	}
}

// ValidateField checks whether value is valid for the given field key.
func ValidateField(key, value string) error {
	switch key {
	case "listen":
		if _, _, err := net.SplitHostPort(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("listen must be host:port (e.g. %q): %w", "0.0.0.0:8000", err)
		}
	case "mcp.url", "models.hub_url", "engine.base_url":
		u, err := url.Parse(strings.TrimSpace(value))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an http(s) URL, got %q", key, value)
		}
	case "models.dir", "app.name", "app.version":
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
	case "generation.max_new_tokens":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer, got %q", key, value)
		}
	case "generation.max_tool_calls", "rate_limit.burst":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative integer, got %q", key, value)
		}
	case "generation.temperature":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 || f > 2 {
			return fmt.Errorf("%s must be a number between 0 and 2, got %q", key, value)
		}
	case "rate_limit.rps":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("%s must be a non-negative number, got %q", key, value)
		}
	case "verbose":
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("verbose must be \"true\" or \"false\", got %q", value)
		}
	case "models.hub_token", "engine.api_key":
		if value != "" && strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must not be whitespace-only", key)
		}
	case "models.default", "cors_origins":
	default:
		return errors.New("unknown config key " + strconv.Quote(key))
	}
	return nil
}

// DefaultValueForField returns the default value for a field key.
func DefaultValueForField(key string) string {
	return FieldValue(Default(), key)
}

// EffectiveFields reports each field's value and which layer supplied it,
// checked in precedence order: env → .env.local → .env → config file →
// default. path is the config file Load used; empty means the default one.
func EffectiveFields(cfg Config, path string) []FieldInfo {
	dotEnvLocal := readDotFile(".env.local")
	dotEnv := readDotFile(".env")

	def := Default()
	fileCfg := def
	p, explicit := resolvePath(path)
	if err := mergeFile(&fileCfg, p, explicit); err != nil {
		// A malformed file should not break the status view.
		fileCfg = def
	}

	result := make([]FieldInfo, 0, len(fieldDefs))
	for _, fd := range fieldDefs {
		fi := FieldInfo{
			Key:       fd.Key,
			Value:     FieldValue(cfg, fd.Key),
			EnvVar:    fd.EnvVar,
			Sensitive: fd.Sensitive,
		}

		if v, ok := os.LookupEnv(fd.EnvVar); ok && strings.TrimSpace(v) != "" {
			if _, inLocal := dotEnvLocal[fd.EnvVar]; inLocal {
				fi.Source = SourceDotEnvLocal
			} else if _, inDot := dotEnv[fd.EnvVar]; inDot {
				fi.Source = SourceDotEnv
			} else {
				fi.Source = SourceEnv
			}
		} else if FieldValue(fileCfg, fd.Key) != FieldValue(def, fd.Key) {
			fi.Source = SourceConfigFile
		} else {
			fi.Source = SourceDefault
		}
		result = append(result, fi)
	}
	return result
}
