package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/germanamz/msgprep/pkg/convert"
	"github.com/germanamz/msgprep/pkg/history/chat"
	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/modeladapter"
	"github.com/germanamz/msgprep/pkg/modeladapter/usage"
	"github.com/germanamz/msgprep/pkg/requestctx"
)

// ErrUnknownProvider is returned when a request names a provider that is not
// configured.
var ErrUnknownProvider = errors.New("engine: unknown provider")

// PrepareStats summarizes one Prepare call.
type PrepareStats struct {
	MessagesIn     int
	MessagesOut    int
	Anchors        int
	Tokens         int // Estimated input tokens of the prepared history.
	CachedTokens   int // Estimated tokens up to the last anchor.
	CacheRequested bool
}

// provider is a configured completer with its resolved settings.
type provider struct {
	name      string
	cfg       ProviderConfig
	completer modeladapter.Completer // Wrapped with middleware.
	usage     modeladapter.UsageReporter
	cache     bool
}

// Engine is the composition root: it owns the configured providers, the cache
// annotator, logging and the event bus, and runs the preparation pipeline in
// front of every provider call.
type Engine struct {
	cfg       Config
	log       *slog.Logger
	events    *EventBus
	annotator convert.Annotator
	estimator modeladapter.TokenEstimator
	providers map[string]*provider
	order     []string
	seq       atomic.Uint64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithEventBus sets the event bus. The default is a new, private bus.
func WithEventBus(b *EventBus) Option {
	return func(e *Engine) { e.events = b }
}

// New creates an Engine from the given configuration. It validates the config
// and builds a completer for every provider.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		log:       slog.Default(),
		events:    NewEventBus(),
		annotator: cfg.Cache.Annotator(),
		providers: make(map[string]*provider, len(cfg.Providers)),
	}
	for _, o := range opts {
		o(e)
	}

	for _, pc := range cfg.Providers {
		p, err := e.buildProvider(pc)
		if err != nil {
			return nil, fmt.Errorf("engine: provider %q: %w", pc.Name, err)
		}
		e.providers[pc.Name] = p
		e.order = append(e.order, pc.Name)
	}

	return e, nil
}

func (e *Engine) buildProvider(pc ProviderConfig) (*provider, error) {
	c, err := buildCompleter(pc)
	if err != nil {
		return nil, err
	}

	var timeout time.Duration
	if pc.Timeout != "" {
		timeout, err = time.ParseDuration(pc.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", pc.Timeout, err)
		}
	}

	p := &provider{
		name:  pc.Name,
		cfg:   pc,
		cache: e.cfg.Cache.IncludeCache(),
		completer: modeladapter.Chain(c,
			modeladapter.Recovery(),
			modeladapter.Logger(e.log, pc.Name),
			modeladapter.Timeout(timeout),
		),
	}
	if pc.Cache != nil {
		p.cache = *pc.Cache
	}
	if ur, ok := c.(modeladapter.UsageReporter); ok {
		p.usage = ur
	}

	return p, nil
}

// Events returns the engine's event bus.
func (e *Engine) Events() *EventBus { return e.events }

// Annotator returns the cache annotator built from the configuration.
func (e *Engine) Annotator() convert.Annotator { return e.annotator }

// Providers returns the configured provider names, sorted.
func (e *Engine) Providers() []string {
	names := append([]string(nil), e.order...)
	sort.Strings(names)
	return names
}

// Usage returns the accumulated token usage of the named provider. The bool
// is false when the provider is unknown or does not report usage.
func (e *Engine) Usage(name string) (usage.TokenCount, bool) {
	p, ok := e.providers[name]
	if !ok || p.usage == nil {
		return usage.TokenCount{}, false
	}
	return p.usage.UsageTracker().Total(), true
}

// Prepare runs the preparation pipeline over msgs: normalization,
// aggregation and, when includeCache is set, cache anchor placement with the
// configured annotator. msgs is not modified.
func (e *Engine) Prepare(msgs []message.Message, includeCache bool) ([]message.Message, error) {
	out, _, err := e.prepare(context.Background(), "", msgs, includeCache)
	return out, err
}

// PrepareDefault is Prepare with the cache setting from the configuration.
func (e *Engine) PrepareDefault(msgs []message.Message) ([]message.Message, error) {
	return e.Prepare(msgs, e.cfg.Cache.IncludeCache())
}

func (e *Engine) prepare(ctx context.Context, providerName string, msgs []message.Message, includeCache bool) ([]message.Message, PrepareStats, error) {
	out, err := convert.Convert(msgs, convert.Options{
		IncludeCacheControl: includeCache,
		Annotator:           e.annotator,
	})
	if err != nil {
		e.publish(ctx, EventError, providerName, err)
		return nil, PrepareStats{}, fmt.Errorf("engine: prepare: %w", err)
	}

	stats := PrepareStats{
		MessagesIn:     len(msgs),
		MessagesOut:    len(out),
		Anchors:        e.annotator.CountAnchors(out),
		Tokens:         e.estimator.EstimateMessages(out),
		CacheRequested: includeCache,
	}
	for _, key := range e.cacheKeys() {
		stats.CachedTokens = max(stats.CachedTokens, e.estimator.EstimateCachedPrefix(out, key))
	}

	e.log.InfoContext(ctx, "prepared history",
		"provider", providerName,
		"request_id", requestctx.RequestIDFromContext(ctx),
		"messages_in", stats.MessagesIn,
		"messages_out", stats.MessagesOut,
		"anchors", stats.Anchors,
		"tokens", stats.Tokens,
		"cached_tokens", stats.CachedTokens,
	)
	e.publish(ctx, EventPrepared, providerName, stats)

	return out, stats, nil
}

// cacheKeys returns the provider-option keys the annotator marks.
func (e *Engine) cacheKeys() []string {
	if e.annotator.Providers != nil {
		return e.annotator.Providers
	}
	return convert.DefaultAnnotator().Providers
}

// DefaultProvider returns the provider used when a request names none:
// default_provider, or the first configured provider. It is empty when no
// providers are configured.
func (e *Engine) DefaultProvider() string {
	if e.cfg.DefaultProvider != "" {
		return e.cfg.DefaultProvider
	}
	if len(e.order) > 0 {
		return e.order[0]
	}
	return ""
}

// resolve picks the named provider, or the default one when name is empty.
func (e *Engine) resolve(name string) (*provider, error) {
	if name == "" {
		name = e.DefaultProvider()
	}

	p, ok := e.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Send prepares msgs with the provider's cache setting and sends the result
// to the named provider. An empty name selects the default provider. Requests
// without a request ID in ctx get one of the form "<provider>-<n>".
func (e *Engine) Send(ctx context.Context, providerName string, msgs []message.Message) (message.Message, error) {
	p, err := e.resolve(providerName)
	if err != nil {
		return message.Message{}, err
	}

	if requestctx.RequestIDFromContext(ctx) == "" {
		ctx = requestctx.WithRequestID(ctx, fmt.Sprintf("%s-%d", p.name, e.seq.Add(1)))
	}

	prepared, _, err := e.prepare(ctx, p.name, msgs, p.cache)
	if err != nil {
		return message.Message{}, err
	}

	reply, err := p.completer.Complete(ctx, prepared)
	if err != nil {
		e.publish(ctx, EventError, p.name, err)
		return message.Message{}, fmt.Errorf("engine: provider %q: %w", p.name, err)
	}

	if p.usage != nil {
		if last, ok := p.usage.UsageTracker().Last(); ok {
			e.log.DebugContext(ctx, "usage",
				"provider", p.name,
				"request_id", requestctx.RequestIDFromContext(ctx),
				"input_tokens", last.InputTokens,
				"output_tokens", last.OutputTokens,
				"cache_read_tokens", last.CacheReadTokens,
				"cache_write_tokens", last.CacheWriteTokens,
				"cache_hit_ratio", last.CacheHitRatio(),
			)
		}
	}

	e.publish(ctx, EventReply, p.name, reply)

	return reply, nil
}

// SendChat sends the chat's log to the named provider and appends the reply
// to the chat.
func (e *Engine) SendChat(ctx context.Context, providerName string, c *chat.Chat) (message.Message, error) {
	reply, err := e.Send(ctx, providerName, c.Messages())
	if err != nil {
		return message.Message{}, err
	}

	c.Append(reply)

	return reply, nil
}

func (e *Engine) publish(ctx context.Context, kind EventKind, providerName string, data any) {
	e.events.Publish(Event{
		Kind:      kind,
		Provider:  providerName,
		RequestID: requestctx.RequestIDFromContext(ctx),
		Timestamp: time.Now(),
		Data:      data,
	})
}
