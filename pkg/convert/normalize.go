package convert

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/germanamz/msgprep/pkg/history/content"
	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/history/role"
	"github.com/germanamz/msgprep/pkg/toolcall"
)

const (
	toolResultOpen  = "<tool_result>\n"
	toolResultClose = "\n</tool_result>"
)

// Normalize rewrites m into provider-ready form. System messages pass
// through; user and assistant string content becomes a single text part;
// tool-call parts become text rendered by render (toolcall.Render when nil);
// a tool message fans out into one user message per output. The result is a
// deep copy of m.
func Normalize(m message.Message, render toolcall.Renderer) ([]message.Message, error) {
	if render == nil {
		render = toolcall.Render
	}

	switch m.Role {
	case role.System:
		out := m.Clone()
		out.Parts = nil
		out.Result = nil
		return []message.Message{out}, nil

	case role.User, role.Assistant:
		out := m.Clone()
		out.Result = nil
		if m.IsStringContent() {
			out.Parts = []content.Part{content.Text{Text: m.Content}}
			out.Content = ""
			return []message.Message{out}, nil
		}
		out.Content = ""
		for i, p := range out.Parts {
			if tc, ok := p.(content.ToolCall); ok {
				out.Parts[i] = content.Text{
					Text:            render(tc.Name, tc.Input, false),
					ProviderOptions: tc.ProviderOptions,
				}
			}
		}
		return []message.Message{out}, nil

	case role.Tool:
		return expandToolResult(m)

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMessageRole, m.Role)
	}
}

// expandToolResult produces one user message per tool output, each carrying
// the tool message's tags, lifetime and provider options.
func expandToolResult(m message.Message) ([]message.Message, error) {
	if m.Result == nil {
		return []message.Message{}, nil
	}

	out := make([]message.Message, 0, len(m.Result.Output))
	for _, o := range m.Result.Output {
		var part content.Part

		switch v := o.(type) {
		case content.JSONOutput:
			text, err := toolResultText(m.Result.ToolName, m.Result.ToolCallID, v.Value)
			if err != nil {
				return nil, err
			}
			part = content.Text{Text: text}
		case content.MediaOutput:
			part = content.File{Data: v.Data, MediaType: v.MediaType}
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidToolOutput, o.OutputKind())
		}

		out = append(out, message.Message{
			Role:            role.User,
			Parts:           []content.Part{part},
			Tags:            append([]string(nil), m.Tags...),
			TimeToLive:      m.TimeToLive,
			ProviderOptions: m.ProviderOptions.Clone(),
		})
	}

	return out, nil
}

type toolResultBody struct {
	ToolName   string          `json:"toolName"`
	ToolCallID string          `json:"toolCallId"`
	Output     json.RawMessage `json:"output"`
}

// toolResultText renders a JSON tool output as a <tool_result> block holding
// the pretty-printed result record.
func toolResultText(name, callID string, value json.RawMessage) (string, error) {
	if len(bytes.TrimSpace(value)) == 0 {
		value = json.RawMessage("null")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(toolResultBody{ToolName: name, ToolCallID: callID, Output: value}); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToolOutput, err)
	}

	return toolResultOpen + string(bytes.TrimRight(buf.Bytes(), "\n")) + toolResultClose, nil
}
