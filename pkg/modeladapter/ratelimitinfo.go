package modeladapter

import (
	"net/http"
	"strconv"
	"time"
)

// RateLimitInfo holds rate limit state parsed from provider response headers.
type RateLimitInfo struct {
	RemainingRequests int
	RemainingTokens   int
	RequestsReset     time.Time
	TokensReset       time.Time
}

// RateLimitInfoReporter provides the most recently observed rate limit info
// from a provider's response headers.
type RateLimitInfoReporter interface {
	LastRateLimitInfo() *RateLimitInfo
}

// RateLimitHeaderParser extracts rate limit info from HTTP response headers.
// It receives the current time so callers can control the clock in tests.
type RateLimitHeaderParser func(h http.Header, now time.Time) *RateLimitInfo

// rateLimitHeaders names the four headers a provider reports.
type rateLimitHeaders struct {
	requestsRemaining string
	tokensRemaining   string
	requestsReset     string
	tokensReset       string
}

func (n rateLimitHeaders) parse(h http.Header, now time.Time) *RateLimitInfo {
	reqRemaining := h.Get(n.requestsRemaining)
	tokRemaining := h.Get(n.tokensRemaining)

	if reqRemaining == "" && tokRemaining == "" {
		return nil
	}

	info := &RateLimitInfo{}
	if v, err := strconv.Atoi(reqRemaining); err == nil {
		info.RemainingRequests = v
	}
	if v, err := strconv.Atoi(tokRemaining); err == nil {
		info.RemainingTokens = v
	}
	info.RequestsReset = parseResetTime(h.Get(n.requestsReset), now)
	info.TokensReset = parseResetTime(h.Get(n.tokensReset), now)

	return info
}

var anthropicHeaders = rateLimitHeaders{
	requestsRemaining: "anthropic-ratelimit-requests-remaining",
	tokensRemaining:   "anthropic-ratelimit-tokens-remaining",
	requestsReset:     "anthropic-ratelimit-requests-reset",
	tokensReset:       "anthropic-ratelimit-tokens-reset",
}

var openAIHeaders = rateLimitHeaders{
	requestsRemaining: "x-ratelimit-remaining-requests",
	tokensRemaining:   "x-ratelimit-remaining-tokens",
	requestsReset:     "x-ratelimit-reset-requests",
	tokensReset:       "x-ratelimit-reset-tokens",
}

// ParseAnthropicRateLimitHeaders parses Anthropic-specific rate limit headers.
// Headers: anthropic-ratelimit-{requests,tokens}-{remaining,reset}.
func ParseAnthropicRateLimitHeaders(h http.Header, now time.Time) *RateLimitInfo {
	return anthropicHeaders.parse(h, now)
}

// ParseOpenRouterRateLimitHeaders parses OpenRouter rate limit headers.
// OpenRouter reports a request budget as x-ratelimit-remaining with a reset
// in Unix milliseconds; upstream OpenAI-style
// x-ratelimit-{remaining,reset}-{requests,tokens} headers are honored too.
func ParseOpenRouterRateLimitHeaders(h http.Header, now time.Time) *RateLimitInfo {
	if info := openAIHeaders.parse(h, now); info != nil {
		return info
	}

	remaining := h.Get("x-ratelimit-remaining")
	if remaining == "" {
		return nil
	}

	info := &RateLimitInfo{}
	if v, err := strconv.Atoi(remaining); err == nil {
		info.RemainingRequests = v
	}
	if ms, err := strconv.ParseInt(h.Get("x-ratelimit-reset"), 10, 64); err == nil {
		info.RequestsReset = time.UnixMilli(ms)
	}

	return info
}

// parseResetTime tries RFC3339 first, then a Go duration string (e.g. "6s", "1m30s")
// relative to now.
func parseResetTime(val string, now time.Time) time.Time {
	if val == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, val); err == nil {
		return t
	}
	if d, err := time.ParseDuration(val); err == nil {
		return now.Add(d)
	}
	return time.Time{}
}
