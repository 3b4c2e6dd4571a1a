// Package codebuff provides a Completer that streams a prepared history to a
// Codebuff backend over a WebSocket.
//
// One connection carries one exchange. The client writes a single prompt
// frame:
//
//	{"type":"prompt","model":"...","maxTokens":4096,"messages":[...]}
//
// where messages use the history JSON encoding, cache anchors included under
// the "codebuff" provider key. The server answers with any number of progress
// frames, which are ignored, followed by exactly one terminal frame:
//
//	{"type":"response","message":{...},"usage":{...}}
//	{"type":"error","message":"...","retryAfterMs":0}
package codebuff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/history/role"
	"github.com/germanamz/msgprep/pkg/modeladapter"
	"github.com/germanamz/msgprep/pkg/modeladapter/usage"
)

// DefaultPath is the WebSocket endpoint appended to the base URL.
const DefaultPath = "/ws"

// Frame types.
const (
	FramePrompt   = "prompt"
	FrameResponse = "response"
	FrameError    = "error"
)

// ErrServer wraps error frames sent by the backend.
var ErrServer = errors.New("server error")

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter implements modeladapter.Completer over the Codebuff WebSocket API.
type Adapter struct {
	modeladapter.ModelAdapter

	// Path is the WebSocket endpoint; DefaultPath when empty.
	Path string
}

// New creates an Adapter for the backend at baseURL (http, https, ws or wss).
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{Path: DefaultPath}
	a.BaseURL = baseURL
	a.Auth = modeladapter.Auth{Key: apiKey}
	a.Name = model
	a.MaxTokens = 4096

	return a
}

// PromptFrame is the single frame a client sends per exchange.
type PromptFrame struct {
	Type        string            `json:"type"`
	Model       string            `json:"model"`
	MaxTokens   int               `json:"maxTokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	Messages    []message.Message `json:"messages"`
}

// ServerFrame is any frame the backend sends.
type ServerFrame struct {
	Type         string          `json:"type"`
	Message      json.RawMessage `json:"message,omitempty"`
	Usage        *UsageFrame     `json:"usage,omitempty"`
	RetryAfterMs int64           `json:"retryAfterMs,omitempty"`
}

// UsageFrame reports token usage for an exchange.
type UsageFrame struct {
	InputTokens      int `json:"inputTokens"`
	OutputTokens     int `json:"outputTokens"`
	CacheReadTokens  int `json:"cacheReadTokens"`
	CacheWriteTokens int `json:"cacheWriteTokens"`
}

// Complete sends a prepared history and waits for the terminal frame.
func (a *Adapter) Complete(ctx context.Context, msgs []message.Message) (message.Message, error) {
	for i, m := range msgs {
		if m.Role == role.Tool || !m.Role.Valid() {
			return message.Message{}, fmt.Errorf("codebuff: message %d: %w: role %q", i, modeladapter.ErrUnprepared, m.Role)
		}
	}

	path := a.Path
	if path == "" {
		path = DefaultPath
	}

	conn, _, err := a.DialWS(ctx, path)
	if err != nil {
		return message.Message{}, fmt.Errorf("codebuff: %w", err)
	}
	defer func() { _ = conn.CloseNow() }()

	prompt := PromptFrame{
		Type:        FramePrompt,
		Model:       a.Name,
		MaxTokens:   a.MaxTokens,
		Temperature: a.Temperature,
		Messages:    msgs,
	}
	if err := wsjson.Write(ctx, conn, prompt); err != nil {
		return message.Message{}, fmt.Errorf("codebuff: write prompt: %w", err)
	}

	reply, err := a.await(ctx, conn)
	if err != nil {
		return message.Message{}, fmt.Errorf("codebuff: %w", err)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")

	return reply, nil
}

// await reads frames until a response or error frame arrives.
func (a *Adapter) await(ctx context.Context, conn *websocket.Conn) (message.Message, error) {
	for {
		var f ServerFrame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return message.Message{}, fmt.Errorf("read frame: %w", err)
		}

		switch f.Type {
		case FrameResponse:
			var reply message.Message
			if err := json.Unmarshal(f.Message, &reply); err != nil {
				return message.Message{}, fmt.Errorf("decode reply: %w", err)
			}
			if f.Usage != nil {
				a.Usage.Add(usage.TokenCount{
					InputTokens:      f.Usage.InputTokens,
					OutputTokens:     f.Usage.OutputTokens,
					CacheReadTokens:  f.Usage.CacheReadTokens,
					CacheWriteTokens: f.Usage.CacheWriteTokens,
				})
			}
			return reply, nil
		case FrameError:
			return message.Message{}, frameError(f)
		}
	}
}

func frameError(f ServerFrame) error {
	var text string
	if err := json.Unmarshal(f.Message, &text); err != nil {
		text = string(f.Message)
	}

	if f.RetryAfterMs > 0 {
		return &modeladapter.RateLimitError{
			RetryAfter: time.Duration(f.RetryAfterMs) * time.Millisecond,
			Body:       text,
		}
	}

	return fmt.Errorf("%w: %s", ErrServer, text)
}
