package modeladapter

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/modeladapter/usage"
)

var _ Completer = (*RateLimitedCompleter)(nil)

// minWait is the shortest pause between capacity checks.
const minWait = 10 * time.Millisecond

// cost is the expected input of one request, split by how the provider bills
// it against input TPM.
type cost struct {
	input     int // Uncached prompt tokens, billed.
	cacheRead int // Tokens up to the last cache anchor, expected to be read from cache.
}

// spend is one admitted request in the sliding one-minute window. While the
// request is in flight it holds the estimate; once the request completes it
// holds the billed usage.
type spend struct {
	at        time.Time
	input     int
	output    int
	cacheRead int
}

// RateLimitedCompleter wraps a Completer with proactive TPM/RPM throttling
// and reactive 429 retry with exponential backoff and jitter.
//
// Before each attempt the prepared history is priced with a TokenEstimator:
// tokens up to the last cache anchor for CacheKey are expected cache reads,
// which providers do not bill against input TPM, and only the remainder is
// reserved. The reservation is replaced by the reported usage when the call
// succeeds and released when the provider answers 429.
type RateLimitedCompleter struct {
	inner     Completer
	estimator TokenEstimator
	cacheKey  string

	mu     sync.Mutex
	window []*spend

	// callMu serializes calls so usage deltas are attributed to one request.
	callMu sync.Mutex

	inputTPM        int
	outputTPM       int
	rpm             int
	maxRetries      int
	baseDelay       time.Duration
	fallbackTracker usage.Tracker

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
	randFunc  func() float64
}

// RateLimitOpts configures the RateLimitedCompleter.
type RateLimitOpts struct {
	InputTPM   int           // Input tokens per minute (0 = no limit).
	OutputTPM  int           // Output tokens per minute (0 = no limit).
	RPM        int           // Requests per minute (0 = no limit).
	MaxRetries int           // Max retries on 429 (default 3).
	BaseDelay  time.Duration // Initial backoff delay (default 1s).
	// CacheKey is the provider-options key whose cache anchors the wrapped
	// provider honors. Empty means every prompt token is reserved.
	CacheKey string
}

// NewRateLimitedCompleter wraps a Completer with rate limiting.
func NewRateLimitedCompleter(inner Completer, opts RateLimitOpts) *RateLimitedCompleter {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}

	return &RateLimitedCompleter{
		inner:      inner,
		cacheKey:   opts.CacheKey,
		inputTPM:   opts.InputTPM,
		outputTPM:  opts.OutputTPM,
		rpm:        opts.RPM,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		nowFunc:    time.Now,
		sleepFunc:  contextSleep,
		randFunc:   rand.Float64,
	}
}

// SetNowFunc overrides the time source (for testing).
func (r *RateLimitedCompleter) SetNowFunc(fn func() time.Time) { r.nowFunc = fn }

// SetSleepFunc overrides the sleep function (for testing).
func (r *RateLimitedCompleter) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	r.sleepFunc = fn
}

// SetRandFunc overrides the random number generator (for testing).
func (r *RateLimitedCompleter) SetRandFunc(fn func() float64) { r.randFunc = fn }

func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Complete implements Completer. msgs are passed to the inner completer
// unchanged.
func (r *RateLimitedCompleter) Complete(ctx context.Context, msgs []message.Message) (message.Message, error) {
	c := r.estimate(msgs)

	var lastErr error
	for attempt := range r.maxRetries + 1 {
		s, err := r.admit(ctx, c)
		if err != nil {
			return message.Message{}, err
		}

		msg, err := r.call(ctx, msgs, s)
		if err == nil {
			if err := r.pauseForServerLimits(ctx); err != nil {
				return message.Message{}, err
			}
			return msg, nil
		}

		var rle *RateLimitError
		if !errors.As(err, &rle) {
			return message.Message{}, err
		}

		// Rejected requests are not billed.
		r.release(s)
		lastErr = err

		if attempt == r.maxRetries {
			break
		}
		if err := r.sleepFunc(ctx, r.backoff(attempt, rle.RetryAfter)); err != nil {
			return message.Message{}, err
		}
	}

	return message.Message{}, fmt.Errorf("rate limit: giving up after %d retries: %w", r.maxRetries, lastErr)
}

// estimate prices msgs before sending.
func (r *RateLimitedCompleter) estimate(msgs []message.Message) cost {
	total := r.estimator.EstimateMessages(msgs)
	if r.cacheKey == "" {
		return cost{input: total}
	}

	cached := min(r.estimator.EstimateCachedPrefix(msgs, r.cacheKey), total)
	return cost{input: total - cached, cacheRead: cached}
}

// admit blocks until c fits into the window, then reserves it.
func (r *RateLimitedCompleter) admit(ctx context.Context, c cost) (*spend, error) {
	for {
		r.mu.Lock()
		now := r.nowFunc()
		r.prune(now)

		wait, ok := r.fits(now, c)
		if ok {
			s := &spend{at: now, input: c.input, cacheRead: c.cacheRead}
			r.window = append(r.window, s)
			r.mu.Unlock()
			return s, nil
		}
		r.mu.Unlock()

		if err := r.sleepFunc(ctx, max(wait, minWait)); err != nil {
			return nil, err
		}
	}
}

// fits reports whether c can be admitted now, or how long until the oldest
// entry leaves the window. A request larger than the whole input budget is
// admitted once the window holds no billed input. Must be called with mu held.
func (r *RateLimitedCompleter) fits(now time.Time, c cost) (time.Duration, bool) {
	input, output := r.totals()

	full := (r.inputTPM > 0 && input > 0 && input+c.input > r.inputTPM) ||
		(r.outputTPM > 0 && output >= r.outputTPM) ||
		(r.rpm > 0 && len(r.window) >= r.rpm)
	if !full || len(r.window) == 0 {
		return 0, true
	}

	return r.window[0].at.Add(time.Minute).Sub(now), false
}

// totals sums billed input and output in the window. Must be called with mu
// held.
func (r *RateLimitedCompleter) totals() (input, output int) {
	for _, s := range r.window {
		input += s.input
		output += s.output
	}
	return input, output
}

// prune drops entries older than one minute, copying the survivors so the
// old backing array can be collected. Must be called with mu held.
func (r *RateLimitedCompleter) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(r.window) && !r.window[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		r.window = slices.Clone(r.window[i:])
	}
}

// call runs one attempt and settles s with the usage the inner completer
// reports. Without a UsageReporter the estimate stays in place.
func (r *RateLimitedCompleter) call(ctx context.Context, msgs []message.Message, s *spend) (message.Message, error) {
	r.callMu.Lock()
	defer r.callMu.Unlock()

	ur, reports := r.inner.(UsageReporter)

	var before usage.TokenCount
	if reports {
		before = ur.UsageTracker().Total()
	}

	msg, err := r.inner.Complete(ctx, msgs)
	if err != nil || !reports {
		return msg, err
	}

	after := ur.UsageTracker().Total()
	input, output := billedTokens(before, after)

	r.mu.Lock()
	s.input = input
	s.output = output
	s.cacheRead = after.CacheReadTokens - before.CacheReadTokens
	r.mu.Unlock()

	return msg, nil
}

// release removes s from the window.
func (r *RateLimitedCompleter) release(s *spend) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.window = slices.DeleteFunc(r.window, func(e *spend) bool { return e == s })
}

// WindowUsage returns the tokens and requests counted in the last minute.
// InputTokens includes the estimates of requests still in flight.
func (r *RateLimitedCompleter) WindowUsage() (usage.TokenCount, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.nowFunc())

	var tc usage.TokenCount
	for _, s := range r.window {
		tc.InputTokens += s.input
		tc.OutputTokens += s.output
		tc.CacheReadTokens += s.cacheRead
	}
	return tc, len(r.window)
}

// billedTokens returns the input and output tokens consumed between two tracker
// totals. Cache reads do not count against input TPM limits; cache writes do.
func billedTokens(before, after usage.TokenCount) (inputTokens, outputTokens int) {
	inputTokens = (after.InputTokens + after.CacheWriteTokens) - (before.InputTokens + before.CacheWriteTokens)
	outputTokens = after.OutputTokens - before.OutputTokens
	return inputTokens, outputTokens
}

// backoff returns baseDelay doubled per attempt, or retryAfter when larger,
// scaled by a random factor in [0.75, 1.25).
func (r *RateLimitedCompleter) backoff(attempt int, retryAfter time.Duration) time.Duration {
	d := max(r.baseDelay<<attempt, retryAfter)
	return time.Duration(float64(d) * (0.75 + r.randFunc()*0.5)) //nolint:mnd // ±25% jitter
}

// pauseForServerLimits sleeps until the provider's reset time when the last
// response reported that requests or tokens are about to run out.
func (r *RateLimitedCompleter) pauseForServerLimits(ctx context.Context) error {
	reporter, ok := r.inner.(RateLimitInfoReporter)
	if !ok {
		return nil
	}

	info := reporter.LastRateLimitInfo()
	if info == nil {
		return nil
	}

	now := r.nowFunc()
	until := exhaustedUntil(now, info.RemainingRequests, info.RequestsReset)
	if t := exhaustedUntil(now, info.RemainingTokens, info.TokensReset); t.After(until) {
		until = t
	}
	if until.IsZero() {
		return nil
	}

	return r.sleepFunc(ctx, until.Sub(now))
}

// exhaustedUntil returns reset when remaining is at most one and reset lies
// ahead of now, and the zero time otherwise.
func exhaustedUntil(now time.Time, remaining int, reset time.Time) time.Time {
	if remaining > 1 || !reset.After(now) {
		return time.Time{}
	}
	return reset
}

// UsageTracker forwards to the inner completer if it implements UsageReporter.
func (r *RateLimitedCompleter) UsageTracker() *usage.Tracker {
	if ur, ok := r.inner.(UsageReporter); ok {
		return ur.UsageTracker()
	}
	return &r.fallbackTracker
}

// ModelMaxTokens forwards to the inner completer if it implements UsageReporter.
func (r *RateLimitedCompleter) ModelMaxTokens() int {
	if ur, ok := r.inner.(UsageReporter); ok {
		return ur.ModelMaxTokens()
	}
	return 0
}
