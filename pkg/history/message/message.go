// Package message defines the Message type of an agent conversation log.
package message

import (
	"slices"
	"strings"

	"github.com/germanamz/msgprep/pkg/history/content"
	"github.com/germanamz/msgprep/pkg/history/provideropts"
	"github.com/germanamz/msgprep/pkg/history/role"
)

// TTL scopes how long a message stays in the log during an agent run.
type TTL string

const (
	// Persistent messages never expire.
	Persistent TTL = ""
	// AgentStep messages expire at the end of the current agent step.
	AgentStep TTL = "agentStep"
	// UserPrompt messages expire once the current user prompt is answered.
	UserPrompt TTL = "userPrompt"
)

// Semantic tags that mark prompt-assembly stages.
const (
	TagUserPrompt         = "USER_PROMPT"
	TagInstructionsPrompt = "INSTRUCTIONS_PROMPT"
	TagStepPrompt         = "STEP_PROMPT"
)

// Message is a single entry of a conversation log.
//
// Which content field is meaningful depends on the role:
//   - system: Content holds the text.
//   - user, assistant: Parts holds the content when non-nil; otherwise the
//     message has bare string content in Content.
//   - tool: Result holds the tool result.
type Message struct {
	Role            role.Role
	Content         string
	Parts           []content.Part
	Result          *content.ToolResult
	Tags            []string
	TimeToLive      TTL
	ProviderOptions provideropts.Options
}

// NewSystem creates a system message.
func NewSystem(text string) Message {
	return Message{Role: role.System, Content: text}
}

// NewUser creates a user message with string content.
func NewUser(text string) Message {
	return Message{Role: role.User, Content: text}
}

// NewUserParts creates a user message with array content.
func NewUserParts(parts ...content.Part) Message {
	if parts == nil {
		parts = []content.Part{}
	}
	return Message{Role: role.User, Parts: parts}
}

// NewAssistant creates an assistant message with string content.
func NewAssistant(text string) Message {
	return Message{Role: role.Assistant, Content: text}
}

// NewAssistantParts creates an assistant message with array content.
func NewAssistantParts(parts ...content.Part) Message {
	if parts == nil {
		parts = []content.Part{}
	}
	return Message{Role: role.Assistant, Parts: parts}
}

// NewTool creates a tool message carrying r.
func NewTool(r content.ToolResult) Message {
	return Message{Role: role.Tool, Result: &r}
}

// IsStringContent reports whether the message content is a bare string
// rather than a part sequence.
func (m Message) IsStringContent() bool {
	switch m.Role {
	case role.Tool:
		return false
	case role.System:
		return true
	default:
		return m.Parts == nil
	}
}

// HasTag reports whether the message carries tag.
func (m Message) HasTag(tag string) bool {
	return slices.Contains(m.Tags, tag)
}

// TextContent returns the textual content of the message. String content is
// returned as-is; part content is joined with newlines, non-text parts
// contributing an empty line.
func (m Message) TextContent() string {
	if m.IsStringContent() {
		return m.Content
	}

	texts := make([]string, len(m.Parts))
	for i, p := range m.Parts {
		if t, ok := p.(content.Text); ok {
			texts[i] = t.Text
		}
	}

	return strings.Join(texts, "\n")
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	out.Parts = content.CloneParts(m.Parts)
	out.Tags = slices.Clone(m.Tags)
	out.ProviderOptions = m.ProviderOptions.Clone()

	if m.Result != nil {
		r := m.Result.Clone()
		out.Result = &r
	}

	return out
}

// CloneAll deep-copies a message slice.
func CloneAll(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}

	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}

	return out
}

// Expire returns the messages that survive the end of the given scope.
// Ending an agent step drops AgentStep messages; ending a user prompt drops
// both AgentStep and UserPrompt messages. Persistent messages always survive.
func Expire(msgs []Message, endOf TTL) []Message {
	out := make([]Message, 0, len(msgs))

	for _, m := range msgs {
		if expires(m.TimeToLive, endOf) {
			continue
		}
		out = append(out, m)
	}

	return out
}

func expires(ttl, endOf TTL) bool {
	switch endOf {
	case AgentStep:
		return ttl == AgentStep
	case UserPrompt:
		return ttl == AgentStep || ttl == UserPrompt
	default:
		return false
	}
}
