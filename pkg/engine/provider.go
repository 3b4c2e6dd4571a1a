package engine

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/germanamz/msgprep/pkg/history/provideropts"
	"github.com/germanamz/msgprep/pkg/modeladapter"
	"github.com/germanamz/msgprep/pkg/providers/anthropic"
	"github.com/germanamz/msgprep/pkg/providers/codebuff"
	"github.com/germanamz/msgprep/pkg/providers/openrouter"
)

// ProviderFactory creates a Completer from a ProviderConfig.
type ProviderFactory func(cfg ProviderConfig) (modeladapter.Completer, error)

var (
	factoryMu   sync.RWMutex
	factories   = map[string]ProviderFactory{}
	defaultsReg sync.Once
)

func ensureDefaults() {
	defaultsReg.Do(func() {
		factoryMu.Lock()
		defer factoryMu.Unlock()

		factories[provideropts.Anthropic] = newAnthropic
		factories[provideropts.OpenRouter] = newOpenRouter
		factories[provideropts.Codebuff] = newCodebuff
	})
}

// RegisterProvider registers a custom provider factory under the given kind.
// It can be called before New to extend the engine with additional providers.
func RegisterProvider(kind string, factory ProviderFactory) {
	ensureDefaults()

	factoryMu.Lock()
	defer factoryMu.Unlock()

	factories[kind] = factory
}

// getFactory returns the factory for the given kind.
func getFactory(kind string) (ProviderFactory, bool) {
	ensureDefaults()

	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factories[kind]
	return f, ok
}

// configure applies the model settings shared by every built-in adapter.
func configure(a *modeladapter.ModelAdapter, cfg ProviderConfig) {
	if cfg.MaxTokens > 0 {
		a.MaxTokens = cfg.MaxTokens
	}
	a.Temperature = cfg.Temperature
}

func newAnthropic(cfg ProviderConfig) (modeladapter.Completer, error) {
	a := anthropic.New(cfg.BaseURL, cfg.APIKey, cfg.Model)
	configure(&a.ModelAdapter, cfg)

	return a, nil
}

func newOpenRouter(cfg ProviderConfig) (modeladapter.Completer, error) {
	a := openrouter.New(cfg.BaseURL, cfg.APIKey, cfg.Model)
	configure(&a.ModelAdapter, cfg)

	return a, nil
}

func newCodebuff(cfg ProviderConfig) (modeladapter.Completer, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("codebuff: base_url is required")
	}

	a := codebuff.New(cfg.BaseURL, cfg.APIKey, cfg.Model)
	configure(&a.ModelAdapter, cfg)

	return a, nil
}

// buildCompleter creates a Completer from a ProviderConfig using the registered
// factory for its Kind. If rate limiting is configured, the completer is wrapped
// with a RateLimitedCompleter.
func buildCompleter(cfg ProviderConfig) (modeladapter.Completer, error) {
	factory, ok := getFactory(cfg.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}

	c, err := factory(cfg)
	if err != nil {
		return nil, err
	}

	rl := cfg.RateLimit
	if !rl.enabled() {
		return c, nil
	}

	var baseDelay time.Duration
	if rl.BaseDelay != "" {
		baseDelay, err = time.ParseDuration(rl.BaseDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid base_delay %q: %w", rl.BaseDelay, err)
		}
	}

	return modeladapter.NewRateLimitedCompleter(c, modeladapter.RateLimitOpts{
		InputTPM:   rl.InputTPM,
		OutputTPM:  rl.OutputTPM,
		RPM:        rl.RPM,
		MaxRetries: rl.MaxRetries,
		BaseDelay:  baseDelay,
		CacheKey:   rateLimitCacheKey(cfg.Kind),
	}), nil
}

// rateLimitCacheKey returns the provider-options key whose cache anchors kind
// honors, or "" for kinds that do not read markers.
func rateLimitCacheKey(kind string) string {
	if slices.Contains(provideropts.DefaultCacheProviders, kind) {
		return kind
	}
	return ""
}
