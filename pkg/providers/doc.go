// Package providers groups the concrete [github.com/germanamz/msgprep/pkg/modeladapter.Completer]
// implementations. Each one translates a prepared history, cache anchors
// included, into its provider's wire format:
//   - [github.com/germanamz/msgprep/pkg/providers/anthropic], Anthropic Messages API via the official SDK
//   - [github.com/germanamz/msgprep/pkg/providers/openrouter], OpenRouter chat completions over HTTP
//   - [github.com/germanamz/msgprep/pkg/providers/codebuff], Codebuff backend over a WebSocket
package providers
