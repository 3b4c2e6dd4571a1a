// Package anthropic provides a Completer implementation for the Anthropic
// Messages API built on the official SDK. Cache anchors placed under the
// "anthropic" provider key become cache_control breakpoints on the blocks
// that carry them.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/germanamz/msgprep/pkg/history/content"
	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/history/provideropts"
	"github.com/germanamz/msgprep/pkg/history/role"
	"github.com/germanamz/msgprep/pkg/modeladapter"
	"github.com/germanamz/msgprep/pkg/modeladapter/usage"
	"github.com/germanamz/msgprep/pkg/toolcall"
)

// DefaultBaseURL is the public Anthropic API endpoint.
const DefaultBaseURL = "https://api.anthropic.com"

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter implements modeladapter.Completer for the Anthropic Messages API.
type Adapter struct {
	modeladapter.ModelAdapter

	// CacheKey is the provider-options key whose cache marker is honored.
	CacheKey string
}

// New creates an Adapter configured for the Anthropic API.
// An empty baseURL selects DefaultBaseURL.
func New(baseURL, apiKey, model string) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	a := &Adapter{CacheKey: provideropts.Anthropic}
	a.BaseURL = baseURL
	a.Auth = modeladapter.Auth{Key: apiKey, Header: "x-api-key"}
	a.Name = model
	a.MaxTokens = 4096
	a.HeaderParser = modeladapter.ParseAnthropicRateLimitHeaders

	return a
}

// client builds an SDK client from the adapter's current settings. Retries
// are left to modeladapter.RateLimitedCompleter.
func (a *Adapter) client() sdk.Client {
	opts := []option.RequestOption{
		option.WithBaseURL(a.BaseURL),
		option.WithAPIKey(a.Auth.Key),
		option.WithHTTPClient(a.HTTPClient()),
		option.WithMaxRetries(0),
		option.WithMiddleware(func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
			resp, err := next(req)
			if resp != nil {
				a.ObserveHeaders(resp.Header)
			}
			return resp, err
		}),
	}
	for k, v := range a.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}

	return sdk.NewClient(opts...)
}

// Complete sends a prepared history to the Anthropic Messages API and returns
// the assistant's reply.
func (a *Adapter) Complete(ctx context.Context, msgs []message.Message) (message.Message, error) {
	params, err := a.buildParams(msgs)
	if err != nil {
		return message.Message{}, fmt.Errorf("anthropic: %w", err)
	}

	c := a.client()
	resp, err := c.Messages.New(ctx, params)
	if err != nil {
		return message.Message{}, fmt.Errorf("anthropic: %w", translateError(err))
	}

	a.Usage.Add(usage.TokenCount{
		InputTokens:      int(resp.Usage.InputTokens),
		OutputTokens:     int(resp.Usage.OutputTokens),
		CacheReadTokens:  int(resp.Usage.CacheReadInputTokens),
		CacheWriteTokens: int(resp.Usage.CacheCreationInputTokens),
	})

	return parseResponse(resp), nil
}

func translateError(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		return err
	}

	rle := &modeladapter.RateLimitError{Body: apiErr.Error()}
	if apiErr.Response != nil {
		rle.RetryAfter = modeladapter.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
	}

	return rle
}

// --- conversion helpers ---

func (a *Adapter) buildParams(msgs []message.Message) (sdk.MessageNewParams, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(a.Name),
		MaxTokens: int64(a.MaxTokens),
	}

	if a.Temperature != 0 {
		params.Temperature = sdk.Float(a.Temperature)
	}

	for i, m := range msgs {
		switch m.Role {
		case role.System:
			block := sdk.TextBlockParam{Text: m.Content}
			if a.marked(m.ProviderOptions) {
				block.CacheControl = sdk.NewCacheControlEphemeralParam()
			}
			params.System = append(params.System, block)
		case role.User, role.Assistant:
			blocks, err := a.blocks(m)
			if err != nil {
				return params, fmt.Errorf("message %d: %w", i, err)
			}
			params.Messages = appendMessage(params.Messages, m.Role, blocks)
		default:
			return params, fmt.Errorf("message %d: %w: role %q", i, modeladapter.ErrUnprepared, m.Role)
		}
	}

	return params, nil
}

// appendMessage adds blocks under r, merging into the previous message when
// it has the same role.
func appendMessage(msgs []sdk.MessageParam, r role.Role, blocks []sdk.ContentBlockParamUnion) []sdk.MessageParam {
	apiRole := sdk.MessageParamRoleUser
	if r == role.Assistant {
		apiRole = sdk.MessageParamRoleAssistant
	}

	if n := len(msgs); n > 0 && msgs[n-1].Role == apiRole {
		msgs[n-1].Content = append(msgs[n-1].Content, blocks...)
		return msgs
	}

	return append(msgs, sdk.MessageParam{Role: apiRole, Content: blocks})
}

func (a *Adapter) blocks(m message.Message) ([]sdk.ContentBlockParamUnion, error) {
	if m.IsStringContent() {
		b := sdk.NewTextBlock(m.Content)
		if a.marked(m.ProviderOptions) {
			b.OfText.CacheControl = sdk.NewCacheControlEphemeralParam()
		}
		return []sdk.ContentBlockParamUnion{b}, nil
	}

	out := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
	for _, p := range m.Parts {
		b, err := a.block(p)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}

	return out, nil
}

func (a *Adapter) block(p content.Part) (sdk.ContentBlockParamUnion, error) {
	var cc sdk.CacheControlEphemeralParam
	if a.marked(p.Options()) {
		cc = sdk.NewCacheControlEphemeralParam()
	}

	switch v := p.(type) {
	case content.Text:
		return sdk.ContentBlockParamUnion{OfText: &sdk.TextBlockParam{Text: v.Text, CacheControl: cc}}, nil
	case content.ToolCall:
		text := toolcall.Render(v.Name, v.Input, false)
		return sdk.ContentBlockParamUnion{OfText: &sdk.TextBlockParam{Text: text, CacheControl: cc}}, nil
	case content.File:
		switch {
		case strings.HasPrefix(v.MediaType, "image/"):
			b := sdk.NewImageBlockBase64(v.MediaType, v.Data)
			b.OfImage.CacheControl = cc
			return b, nil
		case v.MediaType == "application/pdf":
			return sdk.ContentBlockParamUnion{OfDocument: &sdk.DocumentBlockParam{
				Source:       sdk.DocumentBlockParamSourceUnion{OfBase64: &sdk.Base64PDFSourceParam{Data: v.Data}},
				CacheControl: cc,
			}}, nil
		}
		return sdk.ContentBlockParamUnion{}, fmt.Errorf("unsupported media type %q", v.MediaType)
	}

	return sdk.ContentBlockParamUnion{}, fmt.Errorf("unsupported part %q", p.PartKind())
}

func (a *Adapter) marked(o provideropts.Options) bool {
	return o.HasCacheControl(a.CacheKey)
}

func parseResponse(resp *sdk.Message) message.Message {
	parts := make([]content.Part, 0, len(resp.Content))

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			parts = append(parts, content.Text{Text: block.Text})
		case "tool_use":
			parts = append(parts, content.ToolCall{ID: block.ID, Name: block.Name, Input: block.Input})
		}
	}

	return message.NewAssistantParts(parts...)
}
