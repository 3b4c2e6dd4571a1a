package usage

import "sync"

// TokenCount holds the token counts reported for a single LLM call.
//
// InputTokens counts prompt tokens that were neither read from nor written to
// the provider's prompt cache. Providers that report a combined prompt total
// subtract the cached share before recording.
type TokenCount struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int // Prompt tokens served from the cache.
	CacheWriteTokens int // Prompt tokens written to the cache.
}

// Total returns the sum of all prompt and output tokens.
func (tc TokenCount) Total() int {
	return tc.PromptTokens() + tc.OutputTokens
}

// PromptTokens returns every prompt token, cached or not.
func (tc TokenCount) PromptTokens() int {
	return tc.InputTokens + tc.CacheReadTokens + tc.CacheWriteTokens
}

// CacheHitRatio returns the share of prompt tokens served from the cache, in
// [0,1]. It is zero when no prompt tokens were recorded.
func (tc TokenCount) CacheHitRatio() float64 {
	p := tc.PromptTokens()
	if p == 0 {
		return 0
	}

	return float64(tc.CacheReadTokens) / float64(p)
}

func (tc TokenCount) add(o TokenCount) TokenCount {
	return TokenCount{
		InputTokens:      tc.InputTokens + o.InputTokens,
		OutputTokens:     tc.OutputTokens + o.OutputTokens,
		CacheReadTokens:  tc.CacheReadTokens + o.CacheReadTokens,
		CacheWriteTokens: tc.CacheWriteTokens + o.CacheWriteTokens,
	}
}

// Tracker accumulates token usage across multiple LLM calls.
// It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	entries []TokenCount
}

// Add records a token count entry.
func (t *Tracker) Add(tc TokenCount) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, tc)
}

// Last returns the most recent token count entry.
// The bool is false when the tracker has no entries.
func (t *Tracker) Last() (TokenCount, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) == 0 {
		return TokenCount{}, false
	}

	return t.entries[len(t.entries)-1], true
}

// Total returns the aggregate token count across all entries.
func (t *Tracker) Total() TokenCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total TokenCount
	for _, e := range t.entries {
		total = total.add(e)
	}

	return total
}

// Count returns the number of recorded entries.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// Reset clears all recorded entries.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = nil
}
