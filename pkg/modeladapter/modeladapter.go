package modeladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/modeladapter/usage"
)

// RateLimitError is returned when the API responds with HTTP 429 (Too Many Requests).
// It carries an optional RetryAfter duration parsed from the Retry-After header.
type RateLimitError struct {
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Body)
	}
	return fmt.Sprintf("rate limited: %s", e.Body)
}

// ParseRetryAfter parses the Retry-After header value as either seconds (integer)
// or an HTTP-date (RFC 7231). Returns zero if unparseable or if the date is in the past.
func ParseRetryAfter(val string) time.Duration {
	if val == "" {
		return 0
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(val); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}

// Completer sends a prepared message history to an LLM and returns the
// assistant's reply. The history is sent as given: cache anchors already
// placed in provider options are translated to the provider's wire format,
// nothing is normalized or merged again.
type Completer interface {
	Complete(ctx context.Context, msgs []message.Message) (message.Message, error)
}

// ErrUnprepared is returned by completers that receive a message the
// preparation pipeline would have rewritten, such as a tool message.
var ErrUnprepared = errors.New("unprepared message")

// UsageReporter provides token usage information from a completer.
// Completers that embed ModelAdapter implement this interface automatically.
type UsageReporter interface {
	UsageTracker() *usage.Tracker
	ModelMaxTokens() int
}

// Auth holds authentication settings for an LLM provider API.
type Auth struct {
	Key    string // API key value.
	Header string // Header name (default: "Authorization").
	Scheme string // Scheme prefix (default: "Bearer" when Header is "Authorization").
}

// apply sets the auth header on h. It is a no-op without a key.
func (a Auth) apply(h http.Header) {
	if a.Key == "" {
		return
	}

	header := a.Header
	if header == "" {
		header = "Authorization"
	}

	scheme := a.Scheme
	if scheme == "" && header == "Authorization" {
		scheme = "Bearer"
	}

	value := a.Key
	if scheme != "" {
		value = scheme + " " + value
	}

	h.Set(header, value)
}

// ModelAdapter holds shared state for LLM provider implementations. Embed it in
// concrete provider structs to get HTTP and WebSocket helpers, auth, custom
// headers, and usage tracking.
type ModelAdapter struct {
	Name         string                // Model identifier (e.g. "claude-sonnet-4-5").
	Temperature  float64               // Sampling temperature.
	MaxTokens    int                   // Maximum tokens in the response.
	Auth         Auth                  // Authentication settings.
	BaseURL      string                // API base URL (no trailing slash).
	Client       *http.Client          // HTTP client; falls back to a cached default.
	Headers      map[string]string     // Extra headers applied to every request.
	Usage        usage.Tracker         // Token usage tracker.
	HeaderParser RateLimitHeaderParser // Optional parser for rate limit response headers.

	rateLimitInfo atomic.Pointer[RateLimitInfo]
	clientOnce    sync.Once
	defaultClient *http.Client
}

// New creates a ModelAdapter with the given settings.
// A nil client falls back to a default client at call time.
func New(baseURL string, auth Auth, client *http.Client) ModelAdapter {
	return ModelAdapter{
		Auth:    auth,
		BaseURL: baseURL,
		Client:  client,
	}
}

// UsageTracker returns the adapter's token usage tracker.
func (a *ModelAdapter) UsageTracker() *usage.Tracker { return &a.Usage }

// ModelMaxTokens returns the maximum tokens the model will generate per response.
func (a *ModelAdapter) ModelMaxTokens() int { return a.MaxTokens }

// LastRateLimitInfo returns the most recently observed rate limit info, or nil.
func (a *ModelAdapter) LastRateLimitInfo() *RateLimitInfo { return a.rateLimitInfo.Load() }

// ObserveHeaders runs the HeaderParser over a response's headers and stores
// the result. Providers that do not go through PostJSON (SDK clients) call it
// from their transport hooks.
func (a *ModelAdapter) ObserveHeaders(h http.Header) {
	if a.HeaderParser == nil {
		return
	}
	if info := a.HeaderParser(h, time.Now()); info != nil {
		a.rateLimitInfo.Store(info)
	}
}

// HTTPClient returns the configured client or a cached default client with a 10-minute timeout.
func (a *ModelAdapter) HTTPClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}

	a.clientOnce.Do(func() {
		a.defaultClient = &http.Client{Timeout: 10 * time.Minute}
	})

	return a.defaultClient
}

// NewRequest builds an *http.Request with the base URL, auth, and custom
// headers already applied.
func (a *ModelAdapter) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return nil, err
	}

	a.applyHeaders(req.Header)

	return req, nil
}

func (a *ModelAdapter) applyHeaders(h http.Header) {
	a.Auth.apply(h)
	for k, v := range a.Headers {
		h.Set(k, v)
	}
}

// Do sends the request using the configured HTTP client.
func (a *ModelAdapter) Do(req *http.Request) (*http.Response, error) {
	return a.HTTPClient().Do(req) //nolint:gosec // URL is built from trusted BaseURL config, not user input.
}

// PostJSON marshals payload as JSON, sends a POST to the given path,
// checks for a 2xx status, and unmarshals the response body into dest.
// If dest is nil the response body is discarded after the status check.
func (a *ModelAdapter) PostJSON(ctx context.Context, path string, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := a.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := CheckStatus(resp); err != nil {
		return err
	}

	a.ObserveHeaders(resp.Header)

	if dest == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// CheckStatus turns a non-2xx response into an error, reading the body for
// context. HTTP 429 becomes a *RateLimitError.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       string(respBody),
		}
	}

	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
}

// wsURL converts the BaseURL to a WebSocket URL and appends the path.
// https becomes wss, http becomes ws. URLs that already use ws/wss are
// left unchanged.
func (a *ModelAdapter) wsURL(path string) string {
	u := a.BaseURL + path

	if rest, ok := strings.CutPrefix(u, "https://"); ok {
		return "wss://" + rest
	}
	if rest, ok := strings.CutPrefix(u, "http://"); ok {
		return "ws://" + rest
	}

	return u
}

// DialWS establishes a WebSocket connection to the given path with auth and
// custom headers applied. It returns the connection and the HTTP response
// from the handshake.
func (a *ModelAdapter) DialWS(ctx context.Context, path string) (*websocket.Conn, *http.Response, error) {
	h := make(http.Header)
	a.applyHeaders(h)

	conn, resp, err := websocket.Dial(ctx, a.wsURL(path), &websocket.DialOptions{
		HTTPClient: a.HTTPClient(),
		HTTPHeader: h,
	})
	if err != nil {
		return nil, resp, fmt.Errorf("dial websocket: %w", err)
	}

	if resp != nil {
		a.ObserveHeaders(resp.Header)
	}

	return conn, resp, nil
}
