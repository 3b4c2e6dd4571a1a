// Package content defines the content parts of conversation messages and the
// tool-result records carried by tool messages.
//
// The set of parts is closed: Text, File and ToolCall are the only
// implementations of Part, so type switches over a Part are exhaustive.
package content

import (
	"bytes"
	"encoding/json"

	"github.com/germanamz/msgprep/pkg/history/provideropts"
)

// Part kinds as they appear on the wire.
const (
	KindText     = "text"
	KindFile     = "file"
	KindToolCall = "tool-call"
)

// Part is a piece of content within a message.
type Part interface {
	// PartKind returns the wire name of the part type.
	PartKind() string
	// Options returns the provider options attached to the part.
	Options() provideropts.Options
	// WithOptions returns a copy of the part carrying opts.
	WithOptions(opts provideropts.Options) Part

	sealed()
}

// Text is a plain text content part.
type Text struct {
	Text            string
	ProviderOptions provideropts.Options
}

func (t Text) PartKind() string { return KindText }
func (t Text) Options() provideropts.Options { return t.ProviderOptions }
func (t Text) WithOptions(o provideropts.Options) Part {
	t.ProviderOptions = o
	return t
}
func (Text) sealed() {}

// File is a binary attachment (image, document) embedded in the message.
// Data holds the payload as it is sent to providers, typically base64.
type File struct {
	Data            string
	MediaType       string
	ProviderOptions provideropts.Options
}

func (f File) PartKind() string { return KindFile }
func (f File) Options() provideropts.Options { return f.ProviderOptions }
func (f File) WithOptions(o provideropts.Options) Part {
	f.ProviderOptions = o
	return f
}
func (File) sealed() {}

// ToolCall is an assistant's request to invoke a tool. Input holds the raw
// JSON arguments.
type ToolCall struct {
	ID              string
	Name            string
	Input           json.RawMessage
	ProviderOptions provideropts.Options
}

func (tc ToolCall) PartKind() string { return KindToolCall }
func (tc ToolCall) Options() provideropts.Options { return tc.ProviderOptions }
func (tc ToolCall) WithOptions(o provideropts.Options) Part {
	tc.ProviderOptions = o
	return tc
}
func (ToolCall) sealed() {}

// Clone returns a deep copy of p.
func Clone(p Part) Part {
	switch v := p.(type) {
	case Text:
		v.ProviderOptions = v.ProviderOptions.Clone()
		return v
	case File:
		v.ProviderOptions = v.ProviderOptions.Clone()
		return v
	case ToolCall:
		v.Input = bytes.Clone(v.Input)
		v.ProviderOptions = v.ProviderOptions.Clone()
		return v
	default:
		return p
	}
}

// CloneParts deep-copies a part slice. A nil slice stays nil.
func CloneParts(parts []Part) []Part {
	if parts == nil {
		return nil
	}

	out := make([]Part, len(parts))
	for i, p := range parts {
		out[i] = Clone(p)
	}

	return out
}
