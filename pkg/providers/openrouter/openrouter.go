// Package openrouter provides a Completer implementation for the OpenRouter
// chat completions API. Cache anchors placed under the "openrouter" provider
// key become cache_control fields on the content parts that carry them.
package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/germanamz/msgprep/pkg/history/content"
	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/history/provideropts"
	"github.com/germanamz/msgprep/pkg/history/role"
	"github.com/germanamz/msgprep/pkg/modeladapter"
	"github.com/germanamz/msgprep/pkg/modeladapter/usage"
	"github.com/germanamz/msgprep/pkg/toolcall"
)

// DefaultBaseURL is the public OpenRouter API endpoint.
const DefaultBaseURL = "https://openrouter.ai/api"

const completionsPath = "/v1/chat/completions"

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter implements modeladapter.Completer for the OpenRouter API.
type Adapter struct {
	modeladapter.ModelAdapter

	// CacheKey is the provider-options key whose cache marker is honored.
	CacheKey string
}

// New creates an Adapter configured for the OpenRouter API.
// An empty baseURL selects DefaultBaseURL.
func New(baseURL, apiKey, model string) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	a := &Adapter{CacheKey: provideropts.OpenRouter}
	a.BaseURL = baseURL
	a.Auth = modeladapter.Auth{Key: apiKey}
	a.Name = model
	a.MaxTokens = 4096
	a.HeaderParser = modeladapter.ParseOpenRouterRateLimitHeaders

	return a
}

// Complete sends a prepared history to OpenRouter and returns the
// assistant's reply.
func (a *Adapter) Complete(ctx context.Context, msgs []message.Message) (message.Message, error) {
	req, err := a.buildRequest(msgs)
	if err != nil {
		return message.Message{}, fmt.Errorf("openrouter: %w", err)
	}

	var resp apiResponse
	if err := a.PostJSON(ctx, completionsPath, req, &resp); err != nil {
		return message.Message{}, fmt.Errorf("openrouter: %w", err)
	}

	// prompt_tokens includes the cached share.
	cached := resp.Usage.PromptTokensDetails.CachedTokens
	a.Usage.Add(usage.TokenCount{
		InputTokens:     resp.Usage.PromptTokens - cached,
		OutputTokens:    resp.Usage.CompletionTokens,
		CacheReadTokens: cached,
	})

	if len(resp.Choices) == 0 {
		return message.Message{}, errors.New("openrouter: empty choices in response")
	}

	return parseChoice(resp.Choices[0]), nil
}

// --- request types ---

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Usage       apiUsageOpt  `json:"usage"`
}

type apiUsageOpt struct {
	Include bool `json:"include"`
}

// apiMessage content is either a string or a []apiPart.
type apiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type apiPart struct {
	Type         string           `json:"type"`
	Text         string           `json:"text,omitempty"`
	ImageURL     *apiImageURL     `json:"image_url,omitempty"`
	File         *apiFile         `json:"file,omitempty"`
	CacheControl *apiCacheControl `json:"cache_control,omitempty"`
}

type apiImageURL struct {
	URL string `json:"url"`
}

type apiFile struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type apiCacheControl struct {
	Type string `json:"type"`
}

// --- response types ---

type apiResponse struct {
	Choices []apiChoice `json:"choices"`
	Usage   apiUsage    `json:"usage"`
}

type apiChoice struct {
	Message      apiRespMessage `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type apiRespMessage struct {
	Role      string        `json:"role"`
	Content   *string       `json:"content"`
	ToolCalls []apiToolCall `json:"tool_calls,omitempty"`
}

type apiToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type apiUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	PromptTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(msgs []message.Message) (apiRequest, error) {
	req := apiRequest{
		Model:     a.Name,
		MaxTokens: a.MaxTokens,
		Messages:  make([]apiMessage, 0, len(msgs)),
		Usage:     apiUsageOpt{Include: true},
	}

	if a.Temperature != 0 {
		t := a.Temperature
		req.Temperature = &t
	}

	for i, m := range msgs {
		if m.Role != role.System && m.Role != role.User && m.Role != role.Assistant {
			return req, fmt.Errorf("message %d: %w: role %q", i, modeladapter.ErrUnprepared, m.Role)
		}

		c, err := a.messageContent(m)
		if err != nil {
			return req, fmt.Errorf("message %d: %w", i, err)
		}
		req.Messages = append(req.Messages, apiMessage{Role: m.Role.String(), Content: c})
	}

	return req, nil
}

// messageContent returns a plain string for unmarked string content and a
// part list otherwise, since cache_control only exists on parts.
func (a *Adapter) messageContent(m message.Message) (any, error) {
	if m.IsStringContent() {
		if !a.marked(m.ProviderOptions) {
			return m.Content, nil
		}
		return []apiPart{{Type: "text", Text: m.Content, CacheControl: ephemeral()}}, nil
	}

	parts := make([]apiPart, 0, len(m.Parts))
	for _, p := range m.Parts {
		ap, err := toPart(p)
		if err != nil {
			return nil, err
		}
		if a.marked(p.Options()) {
			ap.CacheControl = ephemeral()
		}
		parts = append(parts, ap)
	}

	return parts, nil
}

func toPart(p content.Part) (apiPart, error) {
	switch v := p.(type) {
	case content.Text:
		return apiPart{Type: "text", Text: v.Text}, nil
	case content.ToolCall:
		return apiPart{Type: "text", Text: toolcall.Render(v.Name, v.Input, false)}, nil
	case content.File:
		url := "data:" + v.MediaType + ";base64," + v.Data
		if strings.HasPrefix(v.MediaType, "image/") {
			return apiPart{Type: "image_url", ImageURL: &apiImageURL{URL: url}}, nil
		}
		return apiPart{Type: "file", File: &apiFile{Filename: filename(v.MediaType), FileData: url}}, nil
	}

	return apiPart{}, fmt.Errorf("unsupported part %q", p.PartKind())
}

// filename derives a placeholder name from a media type; OpenRouter uses the
// extension to pick a parser.
func filename(mediaType string) string {
	_, sub, ok := strings.Cut(mediaType, "/")
	if !ok || sub == "" {
		return "attachment"
	}
	return "attachment." + sub
}

func ephemeral() *apiCacheControl {
	return &apiCacheControl{Type: provideropts.Ephemeral}
}

func (a *Adapter) marked(o provideropts.Options) bool {
	return o.HasCacheControl(a.CacheKey)
}

func parseChoice(choice apiChoice) message.Message {
	var parts []content.Part

	if choice.Message.Content != nil && *choice.Message.Content != "" {
		parts = append(parts, content.Text{Text: *choice.Message.Content})
	}

	for _, tc := range choice.Message.ToolCalls {
		parts = append(parts, content.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: arguments(tc.Function.Arguments),
		})
	}

	return message.NewAssistantParts(parts...)
}

// arguments returns the tool-call argument string as raw JSON, quoting it
// when the model produced something that is not valid JSON.
func arguments(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}

	b, _ := json.Marshal(s)
	return b
}
