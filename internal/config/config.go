// Package config loads the library's layered configuration: a YAML file
// with ${ENV_VAR} expansion supplies providers and app-level defaults;
// conventional environment variables fill credentials the file omits.
// The merged result is the "app config" layer FetchConfig folds below
// per-call options.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/exllm/exllm/internal/secret"
	"github.com/exllm/exllm/pkg/provider"
)

// Config is the file shape.
type Config struct {
	Providers []ProviderEntry `yaml:"providers"`
	Defaults  map[string]any  `yaml:"defaults"`

	Cache    CacheEntry    `yaml:"cache"`
	Recovery RecoveryEntry `yaml:"stream_recovery"`
}

// ProviderEntry configures one provider in the file.
type ProviderEntry struct {
	Name         string            `yaml:"name"`
	Type         string            `yaml:"type"`
	APIKey       string            `yaml:"api_key"`
	BaseURL      string            `yaml:"base_url"`
	DefaultModel string            `yaml:"default_model"`
	TimeoutSec   int               `yaml:"timeout_seconds"`
	Headers      map[string]string `yaml:"headers"`
}

// CacheEntry selects and sizes the response cache.
type CacheEntry struct {
	Backend string `yaml:"backend"` // memory, local, redis, disk
	TTLMs   int    `yaml:"ttl_ms"`
	Dir     string `yaml:"dir"`  // disk backend
	Addr    string `yaml:"addr"` // redis backend
}

// RecoveryEntry holds stream-recovery defaults.
type RecoveryEntry struct {
	Enabled     bool   `yaml:"enabled"`
	Strategy    string `yaml:"strategy"`
	MaxAttempts int    `yaml:"max_attempts"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with their environment values;
// unset variables expand to the empty string.
func expandEnv(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads, expands, and parses the YAML file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- user-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(expandEnv(raw), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	seen := map[string]bool{}
	for i, p := range c.Providers {
		if p.Type == "" {
			return fmt.Errorf("provider %d: type is required", i)
		}
		name := p.Name
		if name == "" {
			name = p.Type
		}
		if seen[name] {
			return fmt.Errorf("provider %q appears twice", name)
		}
		seen[name] = true
	}
	return nil
}

// ProviderConfigs converts the file entries into registration configs,
// filling missing API keys and base URLs from the conventional
// environment variables.
func (c *Config) ProviderConfigs() []provider.Config {
	out := make([]provider.Config, 0, len(c.Providers))
	for _, p := range c.Providers {
		pc := provider.Config{
			Name:         p.Name,
			Type:         p.Type,
			APIKey:       p.APIKey,
			BaseURL:      p.BaseURL,
			DefaultModel: p.DefaultModel,
			Headers:      p.Headers,
		}
		if pc.Name == "" {
			pc.Name = pc.Type
		}
		if pc.APIKey == "" {
			if key, ok := secret.APIKeyFromEnv(p.Type); ok {
				pc.APIKey = key
			}
		}
		if pc.BaseURL == "" {
			if base, ok := secret.BaseURLFromEnv(p.Type); ok {
				pc.BaseURL = base
			}
		}
		// Local inference servers legitimately live on loopback.
		if p.Type == "ollama" || p.Type == "lmstudio" {
			pc.AllowPrivateBaseURL = true
		}
		if p.TimeoutSec > 0 {
			pc.Timeout = time.Duration(p.TimeoutSec) * time.Second
		}
		out = append(out, pc)
	}
	return out
}
