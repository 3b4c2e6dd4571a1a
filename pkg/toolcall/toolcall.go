// Package toolcall renders tool invocations as text blocks that can be placed
// inside assistant messages, and parses them back.
//
// A rendered call looks like:
//
//	<codebuff_tool_call>
//	{
//	  "cb_tool_name": "read_files",
//	  "paths": [
//	    "main.go"
//	  ]
//	}
//	</codebuff_tool_call>
//
// Argument keys are emitted in sorted order so identical calls always render
// identically.
package toolcall

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	StartTag = "<codebuff_tool_call>\n"
	EndTag   = "\n</codebuff_tool_call>"

	// NameParam carries the tool name inside the rendered object.
	NameParam = "cb_tool_name"
	// EndsAgentStepParam marks calls after which the agent step ends.
	EndsAgentStepParam = "cb_easp"
	// InputParam wraps input that is not a JSON object.
	InputParam = "input"
)

// ErrMalformed is returned by Parse for text that is not a rendered call.
var ErrMalformed = errors.New("toolcall: malformed tool call")

// Renderer renders a tool invocation as text.
type Renderer func(name string, input json.RawMessage, endsAgentStep bool) string

// Call is a parsed tool invocation.
type Call struct {
	Name          string
	Input         json.RawMessage
	EndsAgentStep bool
}

// Render returns the text form of a call to name with the given JSON input.
// Object inputs are flattened next to the tool name; any other input is
// placed under the "input" key. Reserved keys inside the input are dropped.
func Render(name string, input json.RawMessage, endsAgentStep bool) string {
	fields := map[string]json.RawMessage{}

	trimmed := bytes.TrimSpace(input)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
	case trimmed[0] == '{':
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			fields = map[string]json.RawMessage{InputParam: quote(string(trimmed))}
		}
	default:
		if json.Valid(trimmed) {
			fields[InputParam] = trimmed
		} else {
			fields[InputParam] = quote(string(trimmed))
		}
	}

	delete(fields, NameParam)
	delete(fields, EndsAgentStepParam)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString(StartTag)
	b.WriteString("{\n")
	writeField(&b, NameParam, quote(name), len(keys) > 0 || endsAgentStep)
	for i, k := range keys {
		writeField(&b, k, fields[k], i < len(keys)-1 || endsAgentStep)
	}
	if endsAgentStep {
		writeField(&b, EndsAgentStepParam, json.RawMessage("true"), false)
	}
	b.WriteString("}")
	b.WriteString(EndTag)

	return b.String()
}

func writeField(b *strings.Builder, key string, value json.RawMessage, more bool) {
	var indented bytes.Buffer
	if err := json.Indent(&indented, canonical(value), "  ", "  "); err != nil {
		indented.Reset()
		indented.Write(quote(string(value)))
	}

	b.WriteString("  ")
	b.Write(quote(key))
	b.WriteString(": ")
	b.Write(indented.Bytes())
	if more {
		b.WriteString(",")
	}
	b.WriteString("\n")
}

// canonical re-encodes v with object keys sorted at every depth. Numbers keep
// their literal form.
func canonical(v json.RawMessage) json.RawMessage {
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()

	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return v
	}

	out, err := encode(decoded)
	if err != nil {
		return v
	}

	return out
}

func quote(s string) json.RawMessage {
	data, _ := encode(s)
	return data
}

// encode marshals v without HTML escaping so code in tool arguments stays
// readable.
func encode(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Parse recovers a call from its rendered form. The returned input is a
// compact JSON object without the reserved keys.
func Parse(s string) (Call, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, strings.TrimSpace(StartTag)) || !strings.HasSuffix(s, strings.TrimSpace(EndTag)) {
		return Call{}, ErrMalformed
	}

	body := strings.TrimSuffix(strings.TrimPrefix(s, strings.TrimSpace(StartTag)), strings.TrimSpace(EndTag))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return Call{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var call Call
	if err := json.Unmarshal(fields[NameParam], &call.Name); err != nil || call.Name == "" {
		return Call{}, fmt.Errorf("%w: missing %s", ErrMalformed, NameParam)
	}
	delete(fields, NameParam)

	if raw, ok := fields[EndsAgentStepParam]; ok {
		_ = json.Unmarshal(raw, &call.EndsAgentStep)
		delete(fields, EndsAgentStepParam)
	}

	input, err := json.Marshal(fields)
	if err != nil {
		return Call{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	call.Input = input

	return call, nil
}
