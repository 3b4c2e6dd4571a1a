package openrouter_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/germanamz/msgprep/pkg/convert"
	"github.com/germanamz/msgprep/pkg/history/content"
	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/history/role"
	"github.com/germanamz/msgprep/pkg/modeladapter"
	"github.com/germanamz/msgprep/pkg/providers/openrouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *openrouter.Adapter {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a := openrouter.New(srv.URL, "test-key", "anthropic/claude-sonnet-4.5")
	a.Client = srv.Client()

	return a
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func readBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}

	return req
}

func textReply(text string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": text}, "finish_reason": "stop"},
		},
		"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1},
	}
}

func prepare(t *testing.T, msgs ...message.Message) []message.Message {
	t.Helper()

	out, err := convert.Convert(msgs, convert.DefaultOptions())
	require.NoError(t, err)

	return out
}

func TestComplete_SimpleText(t *testing.T) {
	adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		req := readBody(t, r)
		assert.Equal(t, "anthropic/claude-sonnet-4.5", req["model"])
		assert.Equal(t, map[string]any{"include": true}, req["usage"])

		msgs, ok := req["messages"].([]any)
		require.True(t, ok)
		require.Len(t, msgs, 2)

		first := msgs[0].(map[string]any)
		assert.Equal(t, "system", first["role"])
		assert.Equal(t, "You are helpful.", first["content"])

		writeJSON(t, w, map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "Hello there!"}, "finish_reason": "stop"},
			},
			"usage": map[string]any{
				"prompt_tokens":         120,
				"completion_tokens":     5,
				"prompt_tokens_details": map[string]any{"cached_tokens": 100},
			},
		})
	})

	msg, err := adapter.Complete(context.Background(), prepare(t,
		message.NewSystem("You are helpful."),
		message.NewUser("Hi"),
	))
	require.NoError(t, err)

	assert.Equal(t, role.Assistant, msg.Role)
	assert.Equal(t, "Hello there!", msg.TextContent())

	last, ok := adapter.Usage.Last()
	require.True(t, ok)
	assert.Equal(t, 20, last.InputTokens)
	assert.Equal(t, 100, last.CacheReadTokens)
	assert.Equal(t, 5, last.OutputTokens)
}

func TestComplete_CacheControlOnParts(t *testing.T) {
	adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := readBody(t, r)
		msgs := req["messages"].([]any)
		require.Len(t, msgs, 2)

		// An anchored system prompt is sent as a single marked text part.
		system := msgs[0].(map[string]any)["content"].([]any)
		require.Len(t, system, 1)
		assert.Equal(t, map[string]any{"type": "ephemeral"}, system[0].(map[string]any)["cache_control"])

		parts := msgs[1].(map[string]any)["content"].([]any)
		require.Len(t, parts, 2)
		assert.NotContains(t, parts[0].(map[string]any), "cache_control")
		assert.Equal(t, "ontinue", parts[1].(map[string]any)["text"])
		assert.Equal(t, map[string]any{"type": "ephemeral"}, parts[1].(map[string]any)["cache_control"])

		writeJSON(t, w, textReply("ok"))
	})

	user := message.NewUser("continue")
	user.Tags = []string{message.TagStepPrompt}

	_, err := adapter.Complete(context.Background(), prepare(t, message.NewSystem("rules"), user))
	require.NoError(t, err)
}

func TestComplete_Files(t *testing.T) {
	adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := readBody(t, r)
		parts := req["messages"].([]any)[0].(map[string]any)["content"].([]any)
		require.Len(t, parts, 2)

		img := parts[0].(map[string]any)
		assert.Equal(t, "image_url", img["type"])
		assert.Equal(t, map[string]any{"url": "data:image/jpeg;base64,aW1n"}, img["image_url"])

		file := parts[1].(map[string]any)
		assert.Equal(t, "file", file["type"])
		assert.Equal(t, map[string]any{
			"filename":  "attachment.pdf",
			"file_data": "data:application/pdf;base64,cGRm",
		}, file["file"])

		writeJSON(t, w, textReply("ok"))
	})

	_, err := adapter.Complete(context.Background(), []message.Message{message.NewUserParts(
		content.File{Data: "aW1n", MediaType: "image/jpeg"},
		content.File{Data: "cGRm", MediaType: "application/pdf"},
	)})
	require.NoError(t, err)
}

func TestComplete_ToolCallReply(t *testing.T) {
	adapter := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":    "assistant",
					"content": nil,
					"tool_calls": []map[string]any{
						{"id": "call_1", "type": "function", "function": map[string]any{"name": "read", "arguments": `{"path":"a.go"}`}},
						{"id": "call_2", "type": "function", "function": map[string]any{"name": "noop", "arguments": ""}},
					},
				},
				"finish_reason": "tool_calls",
			}},
		})
	})

	msg, err := adapter.Complete(context.Background(), prepare(t, message.NewUser("go")))
	require.NoError(t, err)

	require.Len(t, msg.Parts, 2)
	first := msg.Parts[0].(content.ToolCall)
	assert.Equal(t, "read", first.Name)
	assert.JSONEq(t, `{"path":"a.go"}`, string(first.Input))
	assert.JSONEq(t, `{}`, string(msg.Parts[1].(content.ToolCall).Input))
}

func TestComplete_EmptyChoices(t *testing.T) {
	adapter := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"choices": []any{}})
	})

	_, err := adapter.Complete(context.Background(), prepare(t, message.NewUser("Hi")))
	assert.EqualError(t, err, "openrouter: empty choices in response")
}

func TestComplete_RejectsToolMessage(t *testing.T) {
	adapter := newTestServer(t, func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("request should not be sent")
	})

	_, err := adapter.Complete(context.Background(), []message.Message{
		message.NewTool(content.ToolResult{ToolName: "read", ToolCallID: "c1"}),
	})
	assert.ErrorIs(t, err, modeladapter.ErrUnprepared)
}

func TestComplete_RateLimited(t *testing.T) {
	adapter := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	})

	_, err := adapter.Complete(context.Background(), prepare(t, message.NewUser("Hi")))

	var rle *modeladapter.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Contains(t, rle.Body, "slow down")
}

func TestComplete_HTTPError(t *testing.T) {
	adapter := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})

	_, err := adapter.Complete(context.Background(), prepare(t, message.NewUser("Hi")))
	assert.ErrorContains(t, err, "openrouter: unexpected status 500: boom")
}
