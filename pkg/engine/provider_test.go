package engine

import (
	"testing"

	"github.com/germanamz/msgprep/pkg/modeladapter"
	"github.com/germanamz/msgprep/pkg/providers/anthropic"
	"github.com/germanamz/msgprep/pkg/providers/codebuff"
	"github.com/germanamz/msgprep/pkg/providers/openrouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCompleter_BuiltinKinds(t *testing.T) {
	c, err := buildCompleter(ProviderConfig{Kind: "anthropic", APIKey: "k", Model: "claude", MaxTokens: 1024, Temperature: 0.2})
	require.NoError(t, err)
	a, ok := c.(*anthropic.Adapter)
	require.True(t, ok)
	assert.Equal(t, "claude", a.Name)
	assert.Equal(t, 1024, a.MaxTokens)
	assert.InDelta(t, 0.2, a.Temperature, 1e-9)
	assert.Equal(t, anthropic.DefaultBaseURL, a.BaseURL)

	c, err = buildCompleter(ProviderConfig{Kind: "openrouter", Model: "x/y"})
	require.NoError(t, err)
	assert.IsType(t, &openrouter.Adapter{}, c)

	c, err = buildCompleter(ProviderConfig{Kind: "codebuff", BaseURL: "http://localhost:4242"})
	require.NoError(t, err)
	assert.IsType(t, &codebuff.Adapter{}, c)
}

func TestBuildCompleter_KeepsAdapterMaxTokensWhenUnset(t *testing.T) {
	c, err := buildCompleter(ProviderConfig{Kind: "anthropic", Model: "claude"})
	require.NoError(t, err)

	a := c.(*anthropic.Adapter)
	assert.Positive(t, a.MaxTokens)
}

func TestBuildCompleter_CodebuffRequiresBaseURL(t *testing.T) {
	_, err := buildCompleter(ProviderConfig{Kind: "codebuff"})
	assert.ErrorContains(t, err, "base_url is required")
}

func TestBuildCompleter_UnknownKind(t *testing.T) {
	_, err := buildCompleter(ProviderConfig{Kind: "carrier-pigeon"})
	assert.ErrorContains(t, err, `unknown provider kind "carrier-pigeon"`)
}

func TestBuildCompleter_RateLimited(t *testing.T) {
	c, err := buildCompleter(ProviderConfig{
		Kind:      "anthropic",
		Model:     "claude",
		MaxTokens: 512,
		RateLimit: RateLimitConfig{InputTPM: 1000, BaseDelay: "250ms"},
	})
	require.NoError(t, err)

	rl, ok := c.(*modeladapter.RateLimitedCompleter)
	require.True(t, ok)
	assert.Equal(t, 512, rl.ModelMaxTokens(), "usage reporting forwards to the adapter")
}

func TestRateLimitCacheKey(t *testing.T) {
	assert.Equal(t, "anthropic", rateLimitCacheKey("anthropic"))
	assert.Equal(t, "openrouter", rateLimitCacheKey("openrouter"))
	assert.Equal(t, "codebuff", rateLimitCacheKey("codebuff"))
	assert.Empty(t, rateLimitCacheKey("custom"))
}

func TestBuildCompleter_InvalidBaseDelay(t *testing.T) {
	_, err := buildCompleter(ProviderConfig{
		Kind:      "anthropic",
		RateLimit: RateLimitConfig{RPM: 10, BaseDelay: "soon"},
	})
	assert.ErrorContains(t, err, `invalid base_delay "soon"`)
}

func TestRegisterProvider_Overrides(t *testing.T) {
	mc := &mockCompleter{reply: "custom"}
	RegisterProvider("custom", func(cfg ProviderConfig) (modeladapter.Completer, error) {
		mc.Name = cfg.Model
		return mc, nil
	})

	c, err := buildCompleter(ProviderConfig{Kind: "custom", Model: "m1"})
	require.NoError(t, err)
	assert.Same(t, mc, c)
	assert.Equal(t, "m1", mc.Name)
}
