package convert

import (
	"encoding/json"
	"testing"

	"github.com/germanamz/msgprep/pkg/history/content"
	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/history/provideropts"
	"github.com/germanamz/msgprep/pkg/history/role"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noCache() Options {
	opts := DefaultOptions()
	opts.IncludeCacheControl = false
	return opts
}

func tagged(m message.Message, tags ...string) message.Message {
	m.Tags = tags
	return m
}

func text(s string) content.Text { return content.Text{Text: s} }

func marker() provideropts.Options {
	return provideropts.WithCacheControl(nil, provideropts.DefaultCacheProviders)
}

func cached(s string) content.Text {
	return content.Text{Text: s, ProviderOptions: marker()}
}

func TestConvert_BasicMessages(t *testing.T) {
	tests := []struct {
		name string
		in   []message.Message
		want []message.Message
	}{
		{
			name: "system",
			in:   []message.Message{message.NewSystem("You are a helpful assistant")},
			want: []message.Message{message.NewSystem("You are a helpful assistant")},
		},
		{
			name: "user string",
			in:   []message.Message{message.NewUser("Hello")},
			want: []message.Message{message.NewUserParts(text("Hello"))},
		},
		{
			name: "assistant string",
			in:   []message.Message{message.NewAssistant("Hi there")},
			want: []message.Message{message.NewAssistantParts(text("Hi there"))},
		},
		{
			name: "user parts",
			in:   []message.Message{message.NewUserParts(text("First part"), text("Second part"))},
			want: []message.Message{message.NewUserParts(text("First part"), text("Second part"))},
		},
		{
			name: "empty log",
			in:   nil,
			want: []message.Message{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.in, noCache())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvert_ToolJSONOutput(t *testing.T) {
	in := []message.Message{message.NewTool(content.ToolResult{
		ToolName:   "test_tool",
		ToolCallID: "call_123",
		Output:     []content.ToolOutput{content.JSONOutput{Value: json.RawMessage(`{"result":"success"}`)}},
	})}

	got, err := Convert(in, noCache())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, role.User, got[0].Role)
	require.Len(t, got[0].Parts, 1)

	want := "<tool_result>\n" +
		"{\n" +
		"  \"toolName\": \"test_tool\",\n" +
		"  \"toolCallId\": \"call_123\",\n" +
		"  \"output\": {\n" +
		"    \"result\": \"success\"\n" +
		"  }\n" +
		"}\n" +
		"</tool_result>"
	assert.Equal(t, want, got[0].Parts[0].(content.Text).Text)
}

func TestConvert_ToolMediaOutput(t *testing.T) {
	in := []message.Message{message.NewTool(content.ToolResult{
		ToolName:   "test_tool",
		ToolCallID: "call_123",
		Output:     []content.ToolOutput{content.MediaOutput{Data: "base64data", MediaType: "image/png"}},
	})}

	got, err := Convert(in, noCache())
	require.NoError(t, err)
	assert.Equal(t, []message.Message{
		message.NewUserParts(content.File{Data: "base64data", MediaType: "image/png"}),
	}, got)
}

func TestConvert_MultipleToolOutputsAggregate(t *testing.T) {
	in := []message.Message{message.NewTool(content.ToolResult{
		ToolName:   "test_tool",
		ToolCallID: "call_123",
		Output: []content.ToolOutput{
			content.JSONOutput{Value: json.RawMessage(`{"result1":"success"}`)},
			content.JSONOutput{Value: json.RawMessage(`{"result2":"also success"}`)},
		},
	})}

	got, err := Convert(in, noCache())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, role.User, got[0].Role)
	assert.Len(t, got[0].Parts, 2)
}

func TestConvert_InvalidToolOutput(t *testing.T) {
	in := []message.Message{
		message.NewUser("hi"),
		message.NewTool(content.ToolResult{
			ToolName: "t",
			Output:   []content.ToolOutput{content.UnknownOutput{Type: "error-text"}},
		}),
	}

	_, err := Convert(in, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidToolOutput)
	assert.Contains(t, err.Error(), "message 1")
}

func TestConvert_InvalidRole(t *testing.T) {
	_, err := Convert([]message.Message{{Role: role.Role("developer"), Content: "x"}}, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidMessageRole)
}

func TestConvert_ToolCallRenderedAsText(t *testing.T) {
	in := []message.Message{message.NewAssistantParts(content.ToolCall{
		ID:    "call_123",
		Name:  "test_tool",
		Input: json.RawMessage(`{"param":"value"}`),
	})}

	got, err := Convert(in, noCache())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, role.Assistant, got[0].Role)

	part, ok := got[0].Parts[0].(content.Text)
	require.True(t, ok)
	assert.Contains(t, part.Text, "test_tool")
	assert.Contains(t, part.Text, "value")
}

func TestConvert_CustomToolCallRenderer(t *testing.T) {
	opts := noCache()
	opts.RenderToolCall = func(name string, input json.RawMessage, _ bool) string {
		return name + string(input)
	}

	got, err := Convert([]message.Message{message.NewAssistantParts(content.ToolCall{
		Name:  "ls",
		Input: json.RawMessage(`{"dir":"."}`),
	})}, opts)
	require.NoError(t, err)
	assert.Equal(t, `ls{"dir":"."}`, got[0].Parts[0].(content.Text).Text)
}

func TestConvert_PreservesMetadata(t *testing.T) {
	in := message.NewUser("Test")
	in.Tags = []string{"custom_tag"}
	in.TimeToLive = message.AgentStep
	in.ProviderOptions = provideropts.Options{"anthropic": {"someOption": "value"}}

	got, err := Convert([]message.Message{in}, noCache())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"custom_tag"}, got[0].Tags)
	assert.Equal(t, message.AgentStep, got[0].TimeToLive)
	assert.Equal(t, "value", got[0].ProviderOptions["anthropic"]["someOption"])
}

func TestConvert_ToolMessageCopiesMetadata(t *testing.T) {
	in := message.NewTool(content.ToolResult{
		ToolName: "t",
		Output:   []content.ToolOutput{content.JSONOutput{Value: json.RawMessage(`1`)}},
	})
	in.Tags = []string{"tool"}
	in.TimeToLive = message.UserPrompt
	in.ProviderOptions = provideropts.Options{"openrouter": {"k": "v"}}

	got, err := Convert([]message.Message{in}, noCache())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"tool"}, got[0].Tags)
	assert.Equal(t, message.UserPrompt, got[0].TimeToLive)
	assert.Equal(t, in.ProviderOptions, got[0].ProviderOptions)
}

func TestConvert_DoesNotMutateInput(t *testing.T) {
	in := []message.Message{
		message.NewSystem("Original"),
		message.NewUser("User message"),
		message.NewUserParts(text("Long enough text"), text("X")),
		tagged(message.NewUser("Next"), message.TagUserPrompt),
	}
	snapshot := message.CloneAll(in)

	_, err := Convert(in, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, snapshot, in)
}

func TestConvert_NoCacheControlWhenDisabled(t *testing.T) {
	in := []message.Message{
		message.NewSystem("System message"),
		tagged(message.NewUser("User message"), message.TagUserPrompt),
	}

	got, err := Convert(in, noCache())
	require.NoError(t, err)
	assert.Nil(t, got[0].ProviderOptions)
	assert.Equal(t, 0, DefaultAnnotator().CountAnchors(got))
}
