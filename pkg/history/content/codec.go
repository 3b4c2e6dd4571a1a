package content

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/germanamz/msgprep/pkg/history/provideropts"
)

// ErrUnknownPartType is returned when decoding a part whose type is not one
// of text, file or tool-call.
var ErrUnknownPartType = errors.New("content: unknown part type")

// partJSON is the wire shape shared by every part kind.
type partJSON struct {
	Type            string               `json:"type"`
	Text            *string              `json:"text,omitempty"`
	Data            string               `json:"data,omitempty"`
	MediaType       string               `json:"mediaType,omitempty"`
	ToolCallID      string               `json:"toolCallId,omitempty"`
	ToolName        string               `json:"toolName,omitempty"`
	Input           json.RawMessage      `json:"input,omitempty"`
	ProviderOptions provideropts.Options `json:"providerOptions,omitempty"`
}

func (t Text) MarshalJSON() ([]byte, error) {
	text := t.Text
	return json.Marshal(partJSON{Type: KindText, Text: &text, ProviderOptions: t.ProviderOptions})
}

func (f File) MarshalJSON() ([]byte, error) {
	return json.Marshal(partJSON{
		Type:            KindFile,
		Data:            f.Data,
		MediaType:       f.MediaType,
		ProviderOptions: f.ProviderOptions,
	})
}

func (tc ToolCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(partJSON{
		Type:            KindToolCall,
		ToolCallID:      tc.ID,
		ToolName:        tc.Name,
		Input:           tc.Input,
		ProviderOptions: tc.ProviderOptions,
	})
}

// DecodePart decodes a single JSON-encoded part.
func DecodePart(data []byte) (Part, error) {
	var w partJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("content: decode part: %w", err)
	}

	switch w.Type {
	case KindText:
		t := Text{ProviderOptions: w.ProviderOptions}
		if w.Text != nil {
			t.Text = *w.Text
		}
		return t, nil
	case KindFile:
		return File{Data: w.Data, MediaType: w.MediaType, ProviderOptions: w.ProviderOptions}, nil
	case KindToolCall:
		return ToolCall{
			ID:              w.ToolCallID,
			Name:            w.ToolName,
			Input:           w.Input,
			ProviderOptions: w.ProviderOptions,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPartType, w.Type)
	}
}

// DecodeParts decodes a JSON array of parts. An empty array yields an empty,
// non-nil slice.
func DecodeParts(data []byte) ([]Part, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("content: decode parts: %w", err)
	}

	parts := make([]Part, 0, len(raws))
	for i, raw := range raws {
		p, err := DecodePart(raw)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		parts = append(parts, p)
	}

	return parts, nil
}

type outputJSON struct {
	Type      string          `json:"type"`
	Value     json.RawMessage `json:"value,omitempty"`
	Data      string          `json:"data,omitempty"`
	MediaType string          `json:"mediaType,omitempty"`
}

type toolResultJSON struct {
	Type       string            `json:"type"`
	ToolName   string            `json:"toolName"`
	ToolCallID string            `json:"toolCallId"`
	Output     []json.RawMessage `json:"output"`
}

func (o JSONOutput) MarshalJSON() ([]byte, error) {
	v := o.Value
	if len(v) == 0 {
		v = json.RawMessage("null")
	}
	return json.Marshal(outputJSON{Type: OutputJSON, Value: v})
}

func (o MediaOutput) MarshalJSON() ([]byte, error) {
	return json.Marshal(outputJSON{Type: OutputMedia, Data: o.Data, MediaType: o.MediaType})
}

func (o UnknownOutput) MarshalJSON() ([]byte, error) {
	if len(o.Raw) > 0 {
		return o.Raw, nil
	}
	return json.Marshal(outputJSON{Type: o.Type})
}

// MarshalJSON encodes the result in its tool-result wire form.
func (r ToolResult) MarshalJSON() ([]byte, error) {
	w := toolResultJSON{
		Type:       "tool-result",
		ToolName:   r.ToolName,
		ToolCallID: r.ToolCallID,
		Output:     make([]json.RawMessage, 0, len(r.Output)),
	}

	for _, o := range r.Output {
		raw, err := json.Marshal(o)
		if err != nil {
			return nil, err
		}
		w.Output = append(w.Output, raw)
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes a tool result. Outputs of an unrecognized kind are
// kept as UnknownOutput rather than rejected.
func (r *ToolResult) UnmarshalJSON(data []byte) error {
	var w toolResultJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("content: decode tool result: %w", err)
	}

	r.ToolName = w.ToolName
	r.ToolCallID = w.ToolCallID
	r.Output = make([]ToolOutput, 0, len(w.Output))

	for i, raw := range w.Output {
		var o outputJSON
		if err := json.Unmarshal(raw, &o); err != nil {
			return fmt.Errorf("content: decode tool output %d: %w", i, err)
		}

		switch o.Type {
		case OutputJSON:
			r.Output = append(r.Output, JSONOutput{Value: o.Value})
		case OutputMedia:
			r.Output = append(r.Output, MediaOutput{Data: o.Data, MediaType: o.MediaType})
		default:
			r.Output = append(r.Output, UnknownOutput{Type: o.Type, Raw: raw})
		}
	}

	return nil
}
