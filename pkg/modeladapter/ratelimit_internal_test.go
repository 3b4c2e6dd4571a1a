package modeladapter

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/germanamz/msgprep/pkg/history/content"
	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/history/provideropts"
	"github.com/germanamz/msgprep/pkg/modeladapter/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainCompleter struct {
	err error
}

func (p plainCompleter) Complete(context.Context, []message.Message) (message.Message, error) {
	if p.err != nil {
		return message.Message{}, p.err
	}
	return message.NewAssistant("ok"), nil
}

// anchoredHistory is one user message whose 400-char first part carries an
// anthropic cache marker, followed by a short uncached tail.
func anchoredHistory() []message.Message {
	head := content.Text{
		Text:            strings.Repeat("a", 400),
		ProviderOptions: provideropts.WithCacheControl(nil, []string{"anthropic"}),
	}
	return []message.Message{message.NewUserParts(head, content.Text{Text: "tail"})}
}

func TestBilledTokens(t *testing.T) {
	tests := []struct {
		name       string
		before     usage.TokenCount
		after      usage.TokenCount
		wantInput  int
		wantOutput int
	}{
		{
			name:       "plain input and output",
			after:      usage.TokenCount{InputTokens: 120, OutputTokens: 30},
			wantInput:  120,
			wantOutput: 30,
		},
		{
			name:      "cache reads are free",
			after:     usage.TokenCount{InputTokens: 8, CacheReadTokens: 5000},
			wantInput: 8,
		},
		{
			name:      "cache writes are billed",
			after:     usage.TokenCount{InputTokens: 8, CacheWriteTokens: 900},
			wantInput: 908,
		},
		{
			name:       "delta against a running total",
			before:     usage.TokenCount{InputTokens: 100, OutputTokens: 10, CacheReadTokens: 50, CacheWriteTokens: 40},
			after:      usage.TokenCount{InputTokens: 130, OutputTokens: 25, CacheReadTokens: 950, CacheWriteTokens: 40},
			wantInput:  30,
			wantOutput: 15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, out := billedTokens(tt.before, tt.after)
			assert.Equal(t, tt.wantInput, in)
			assert.Equal(t, tt.wantOutput, out)
		})
	}
}

func TestEstimate_SubtractsCachedPrefix(t *testing.T) {
	msgs := anchoredHistory()

	// 4 overhead + 100 for the anchored part + 1 for "tail".
	plain := NewRateLimitedCompleter(plainCompleter{}, RateLimitOpts{})
	assert.Equal(t, cost{input: 105}, plain.estimate(msgs))

	cached := NewRateLimitedCompleter(plainCompleter{}, RateLimitOpts{CacheKey: "anthropic"})
	assert.Equal(t, cost{input: 1, cacheRead: 104}, cached.estimate(msgs))

	other := NewRateLimitedCompleter(plainCompleter{}, RateLimitOpts{CacheKey: "openrouter"})
	assert.Equal(t, cost{input: 105}, other.estimate(msgs), "anchors for another provider are not cache reads")
}

func TestPrune_DropsExpiredAndReleasesBackingArray(t *testing.T) {
	now := time.Now()
	r := &RateLimitedCompleter{nowFunc: func() time.Time { return now }}

	const n = 1000
	for i := range n {
		r.window = append(r.window, &spend{at: now.Add(-2 * time.Minute).Add(time.Duration(i) * time.Millisecond), input: 10})
	}
	r.window = append(r.window, &spend{at: now, input: 7, output: 3})

	capBefore := cap(r.window)
	r.prune(now)

	require.Len(t, r.window, 1)
	assert.Less(t, cap(r.window), capBefore)

	in, out := r.totals()
	assert.Equal(t, 7, in)
	assert.Equal(t, 3, out)
}

func TestComplete_KeepsEstimateWithoutUsageReporter(t *testing.T) {
	now := time.Now()
	r := NewRateLimitedCompleter(plainCompleter{}, RateLimitOpts{CacheKey: "anthropic"})
	r.SetNowFunc(func() time.Time { return now })

	_, err := r.Complete(context.Background(), anchoredHistory())
	require.NoError(t, err)

	require.Len(t, r.window, 1)
	assert.Equal(t, 1, r.window[0].input)
	assert.Equal(t, 104, r.window[0].cacheRead)
}

func TestComplete_ReleasesReservationOn429(t *testing.T) {
	now := time.Now()
	r := NewRateLimitedCompleter(plainCompleter{err: &RateLimitError{Body: "busy"}}, RateLimitOpts{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
	})
	r.SetNowFunc(func() time.Time { return now })
	r.SetSleepFunc(func(context.Context, time.Duration) error { return nil })

	_, err := r.Complete(context.Background(), anchoredHistory())
	require.Error(t, err)
	assert.Empty(t, r.window, "rejected attempts are not billed")
}

func TestFits(t *testing.T) {
	now := time.Now()
	r := &RateLimitedCompleter{inputTPM: 100}

	_, ok := r.fits(now, cost{input: 500})
	assert.True(t, ok, "an empty window admits an oversized request")

	r.window = []*spend{{at: now.Add(-30 * time.Second), input: 60}}

	_, ok = r.fits(now, cost{input: 40})
	assert.True(t, ok)

	wait, ok := r.fits(now, cost{input: 41})
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, wait)

	_, ok = r.fits(now, cost{input: 1, cacheRead: 10_000})
	assert.True(t, ok, "expected cache reads do not count against input TPM")
}
