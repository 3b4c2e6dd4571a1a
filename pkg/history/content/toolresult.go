package content

import (
	"bytes"
	"encoding/json"
)

// Tool output kinds as they appear on the wire.
const (
	OutputJSON  = "json"
	OutputMedia = "media"
)

// ToolResult is the record carried by a tool message: the outputs a tool
// produced for one call.
type ToolResult struct {
	ToolName   string
	ToolCallID string
	Output     []ToolOutput
}

// Clone returns a deep copy of r.
func (r ToolResult) Clone() ToolResult {
	out := r
	if r.Output != nil {
		out.Output = make([]ToolOutput, len(r.Output))
		for i, o := range r.Output {
			out.Output[i] = cloneOutput(o)
		}
	}
	return out
}

// ToolOutput is one output of a tool result.
type ToolOutput interface {
	// OutputKind returns the wire name of the output type.
	OutputKind() string

	sealedOutput()
}

// JSONOutput is a structured tool output.
type JSONOutput struct {
	Value json.RawMessage
}

func (JSONOutput) OutputKind() string { return OutputJSON }
func (JSONOutput) sealedOutput() {}

// MediaOutput is a binary tool output such as a screenshot.
type MediaOutput struct {
	Data      string
	MediaType string
}

func (MediaOutput) OutputKind() string { return OutputMedia }
func (MediaOutput) sealedOutput() {}

// UnknownOutput preserves an output whose kind is not recognized, so callers
// further down the pipeline can reject it explicitly.
type UnknownOutput struct {
	Type string
	Raw  json.RawMessage
}

func (u UnknownOutput) OutputKind() string { return u.Type }
func (UnknownOutput) sealedOutput() {}

func cloneOutput(o ToolOutput) ToolOutput {
	switch v := o.(type) {
	case JSONOutput:
		v.Value = bytes.Clone(v.Value)
		return v
	case UnknownOutput:
		v.Raw = bytes.Clone(v.Raw)
		return v
	default:
		return o
	}
}
