// Package modeladapter defines the boundary between a prepared message history
// and an LLM provider.
//
// It contains:
//   - [Completer] interface and embeddable [ModelAdapter] base struct with HTTP and WebSocket helpers, auth, and custom headers
//   - [RateLimitedCompleter], proactive TPM/RPM throttling with 429 retry
//   - [TokenEstimator], rough request and cached-prefix sizing
//   - [github.com/germanamz/msgprep/pkg/modeladapter/usage], a thread-safe token usage tracker with cache counters
//
// This package contains no provider-specific code. Concrete adapters live in
// separate packages that import modeladapter.
package modeladapter
