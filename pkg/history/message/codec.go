package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/germanamz/msgprep/pkg/history/content"
	"github.com/germanamz/msgprep/pkg/history/provideropts"
	"github.com/germanamz/msgprep/pkg/history/role"
)

// ErrContentShape is returned when a message's content does not have the
// shape its role requires: a string for system messages and a tool-result
// object for tool messages.
var ErrContentShape = errors.New("message: content shape does not match role")

type messageJSON struct {
	Role            role.Role            `json:"role"`
	Content         json.RawMessage      `json:"content"`
	Tags            []string             `json:"tags,omitempty"`
	TimeToLive      TTL                  `json:"timeToLive,omitempty"`
	ProviderOptions provideropts.Options `json:"providerOptions,omitempty"`
}

// MarshalJSON encodes the message with content as a string, a part array, or
// a tool-result object, following the role.
func (m Message) MarshalJSON() ([]byte, error) {
	var (
		body []byte
		err  error
	)

	switch {
	case m.Role == role.Tool:
		body, err = json.Marshal(m.Result)
	case m.IsStringContent():
		body, err = json.Marshal(m.Content)
	default:
		body, err = json.Marshal(m.Parts)
	}
	if err != nil {
		return nil, fmt.Errorf("message: encode content: %w", err)
	}

	return json.Marshal(messageJSON{
		Role:            m.Role,
		Content:         body,
		Tags:            m.Tags,
		TimeToLive:      m.TimeToLive,
		ProviderOptions: m.ProviderOptions,
	})
}

// UnmarshalJSON decodes a message. The shape of content decides which field
// is populated: a string fills Content, an array fills Parts, and an object
// fills Result. System content must be a string and tool content a
// tool-result object; anything else fails with ErrContentShape.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("message: decode: %w", err)
	}

	*m = Message{
		Role:            w.Role,
		Tags:            w.Tags,
		TimeToLive:      w.TimeToLive,
		ProviderOptions: w.ProviderOptions,
	}

	body := bytes.TrimSpace(w.Content)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil
	}

	if err := checkShape(w.Role, body[0]); err != nil {
		return err
	}

	switch body[0] {
	case '"':
		if err := json.Unmarshal(body, &m.Content); err != nil {
			return fmt.Errorf("message: decode content: %w", err)
		}
	case '[':
		parts, err := content.DecodeParts(body)
		if err != nil {
			return fmt.Errorf("message: %w", err)
		}
		m.Parts = parts
	case '{':
		var r content.ToolResult
		if err := json.Unmarshal(body, &r); err != nil {
			return fmt.Errorf("message: %w", err)
		}
		m.Result = &r
	default:
		return fmt.Errorf("message: unsupported content %s", body)
	}

	return nil
}

func checkShape(r role.Role, first byte) error {
	switch {
	case r == role.System && first != '"':
		return fmt.Errorf("%w: system content must be a string", ErrContentShape)
	case r == role.Tool && first != '{':
		return fmt.Errorf("%w: tool content must be a tool-result object", ErrContentShape)
	}
	return nil
}

// DecodeLog decodes a JSON array of messages.
func DecodeLog(data []byte) ([]Message, error) {
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
