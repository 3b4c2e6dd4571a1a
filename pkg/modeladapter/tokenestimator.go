package modeladapter

import (
	"github.com/germanamz/msgprep/pkg/history/content"
	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/history/provideropts"
)

// perMessageOverhead is the estimated token overhead for each message (role,
// structure delimiters, etc.).
const perMessageOverhead = 4

// perFileTokens is a flat estimate for an image or document part. Providers
// bill media by dimensions or pages, not by payload length.
const perFileTokens = 1500

// TokenEstimator estimates token counts for message histories. It uses a
// character-to-token heuristic (approximately 1 token per 4 characters for
// English text). The zero value is ready to use.
type TokenEstimator struct{}

// charsToTokens converts a character count to an estimated token count using the
// 1-token-per-4-characters heuristic.
func charsToTokens(chars int) int {
	return (chars + 3) / 4 // round up
}

// EstimateMessages estimates the total input tokens for a message history.
func (e *TokenEstimator) EstimateMessages(msgs []message.Message) int {
	tokens := 0
	for _, m := range msgs {
		tokens += e.EstimateMessage(m)
	}

	return tokens
}

// EstimateMessage estimates the input tokens of a single message including
// its structural overhead.
func (e *TokenEstimator) EstimateMessage(m message.Message) int {
	tokens := perMessageOverhead

	switch {
	case m.Result != nil:
		tokens += charsToTokens(len(m.Result.ToolName) + len(m.Result.ToolCallID))
		for _, o := range m.Result.Output {
			switch v := o.(type) {
			case content.JSONOutput:
				tokens += charsToTokens(len(v.Value))
			case content.MediaOutput:
				tokens += perFileTokens
			}
		}
	case m.IsStringContent():
		tokens += charsToTokens(len(m.Content))
	default:
		for _, p := range m.Parts {
			tokens += partTokens(p)
		}
	}

	return tokens
}

func partTokens(p content.Part) int {
	switch v := p.(type) {
	case content.Text:
		return charsToTokens(len(v.Text))
	case content.File:
		return perFileTokens
	case content.ToolCall:
		return charsToTokens(len(v.ID) + len(v.Name) + len(v.Input))
	}

	return 0
}

// EstimateCachedPrefix estimates the tokens of the longest prefix of msgs that
// ends at a location carrying the provider's cache-control marker. This is the
// part of the request a provider can serve from its prompt cache on the next
// call. It returns zero when nothing is marked.
func (e *TokenEstimator) EstimateCachedPrefix(msgs []message.Message, provider string) int {
	running, prefix := 0, 0

	for _, m := range msgs {
		if m.IsStringContent() || m.Result != nil {
			running += e.EstimateMessage(m)
			if marked(m.ProviderOptions, provider) {
				prefix = running
			}
			continue
		}

		running += perMessageOverhead
		for _, p := range m.Parts {
			running += partTokens(p)
			if marked(p.Options(), provider) {
				prefix = running
			}
		}
		if marked(m.ProviderOptions, provider) {
			prefix = running
		}
	}

	return prefix
}

func marked(o provideropts.Options, provider string) bool {
	return o.HasCacheControl(provider)
}
