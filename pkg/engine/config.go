package engine

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/germanamz/msgprep/pkg/convert"
	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration.
type Config struct {
	Providers       []ProviderConfig `yaml:"providers"`
	Cache           CacheConfig      `yaml:"cache"`
	DefaultProvider string           `yaml:"default_provider"`
}

// CacheConfig controls cache anchor placement.
type CacheConfig struct {
	// Enabled toggles anchors for Prepare callers that follow the config.
	// Unset means enabled.
	Enabled *bool `yaml:"enabled"`
	// Providers receive the cache marker. Unset selects the default triad;
	// an explicit empty list places anchors that no provider honors.
	Providers []string `yaml:"providers"`
	// MinTextLen is the shortest text part, in runes, that can be anchored.
	MinTextLen int `yaml:"min_text_len"`
	// Tags select the messages whose predecessor is anchored.
	Tags []string `yaml:"tags"`
}

// IncludeCache reports whether anchors are placed by default.
func (c CacheConfig) IncludeCache() bool {
	return c.Enabled == nil || *c.Enabled
}

// Annotator builds the convert.Annotator described by c.
func (c CacheConfig) Annotator() convert.Annotator {
	return convert.Annotator{
		Providers:  c.Providers,
		MinTextLen: c.MinTextLen,
		Tags:       c.Tags,
	}
}

// RateLimitConfig controls per-provider rate limiting.
type RateLimitConfig struct {
	InputTPM   int    `yaml:"input_tpm"`   // Input tokens per minute (0 = no limit).
	OutputTPM  int    `yaml:"output_tpm"`  // Output tokens per minute (0 = no limit).
	RPM        int    `yaml:"rpm"`         // Requests per minute (0 = no limit).
	MaxRetries int    `yaml:"max_retries"` // Max retries on 429 (default 3).
	BaseDelay  string `yaml:"base_delay"`  // Initial backoff delay as a duration string (e.g. "1s", "500ms").
}

func (r RateLimitConfig) enabled() bool {
	return r.InputTPM > 0 || r.OutputTPM > 0 || r.RPM > 0 || r.MaxRetries > 0 || r.BaseDelay != ""
}

// ProviderConfig describes an LLM provider instance.
type ProviderConfig struct {
	Name        string          `yaml:"name"`
	Kind        string          `yaml:"kind"`
	BaseURL     string          `yaml:"base_url"`
	APIKey      string          `yaml:"api_key"` //nolint:gosec // configuration field, not a hardcoded secret
	Model       string          `yaml:"model"`
	MaxTokens   int             `yaml:"max_tokens"`
	Temperature float64         `yaml:"temperature"`
	Cache       *bool           `yaml:"cache"`   // Overrides cache.enabled for this provider.
	Timeout     string          `yaml:"timeout"` // Per-request deadline as a duration string (empty = none).
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// LoadConfig reads a YAML file and returns a Config.
// Environment variables referenced as ${VAR} or $VAR in the YAML are expanded
// before parsing. This allows API keys and other secrets to be kept in
// environment variables (e.g. loaded from a .env file) rather than committed
// in the config.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("engine: load config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig expands environment variables in data and parses it as YAML.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	names := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return errors.New("engine: config: provider name is required")
		}
		if p.Kind == "" {
			return fmt.Errorf("engine: config: provider %q: kind is required", p.Name)
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("engine: config: duplicate provider name %q", p.Name)
		}
		names[p.Name] = struct{}{}

		if p.MaxTokens < 0 {
			return fmt.Errorf("engine: config: provider %q: max_tokens must not be negative", p.Name)
		}
		if p.Timeout != "" {
			if _, err := time.ParseDuration(p.Timeout); err != nil {
				return fmt.Errorf("engine: config: provider %q: invalid timeout %q: %w", p.Name, p.Timeout, err)
			}
		}
		if p.RateLimit.BaseDelay != "" {
			if _, err := time.ParseDuration(p.RateLimit.BaseDelay); err != nil {
				return fmt.Errorf("engine: config: provider %q: invalid base_delay %q: %w", p.Name, p.RateLimit.BaseDelay, err)
			}
		}
	}

	if c.DefaultProvider != "" {
		if _, ok := names[c.DefaultProvider]; !ok {
			return fmt.Errorf("engine: config: default_provider %q not found in providers", c.DefaultProvider)
		}
	}

	if c.Cache.MinTextLen < 0 {
		return errors.New("engine: config: cache: min_text_len must not be negative")
	}
	for _, p := range c.Cache.Providers {
		if p == "" {
			return errors.New("engine: config: cache: provider names must not be empty")
		}
	}
	for _, t := range c.Cache.Tags {
		if t == "" {
			return errors.New("engine: config: cache: tags must not be empty")
		}
	}

	return nil
}
