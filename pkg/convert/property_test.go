package convert

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/germanamz/msgprep/pkg/history/content"
	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/history/provideropts"
	"github.com/germanamz/msgprep/pkg/history/role"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const propertyRuns = 300

// genLog builds a random conversation log. Some messages and text parts
// arrive already carrying cache markers.
func genLog(r *rand.Rand) []message.Message {
	tags := [][]string{nil, {message.TagUserPrompt}, {message.TagInstructionsPrompt}, {message.TagStepPrompt}, {"custom"}}
	ttls := []message.TTL{message.Persistent, message.AgentStep, message.UserPrompt}
	opts := []provideropts.Options{
		nil,
		{"anthropic": {"beta": "x"}},
		provideropts.WithCacheControl(nil, provideropts.DefaultCacheProviders),
		provideropts.WithCacheControl(provideropts.Options{"anthropic": {"beta": "x"}}, []string{"anthropic"}),
	}

	genText := func() string {
		n := r.IntN(6)
		b := make([]byte, n)
		for i := range b {
			b[i] = byte('a' + r.IntN(26))
		}
		return string(b)
	}

	genParts := func(allowCalls bool) []content.Part {
		parts := make([]content.Part, r.IntN(4))
		for i := range parts {
			switch k := r.IntN(4); {
			case k == 0:
				parts[i] = content.File{Data: genText(), MediaType: "image/png"}
			case k == 1 && allowCalls:
				parts[i] = content.ToolCall{ID: genText(), Name: "tool", Input: json.RawMessage(fmt.Sprintf(`{"n":%d}`, r.IntN(9)))}
			default:
				parts[i] = content.Text{Text: genText(), ProviderOptions: opts[r.IntN(len(opts))].Clone()}
			}
		}
		return parts
	}

	msgs := make([]message.Message, r.IntN(9))
	for i := range msgs {
		var m message.Message
		switch r.IntN(6) {
		case 0:
			m = message.NewSystem(genText())
		case 1:
			m = message.NewUser(genText())
		case 2:
			m = message.NewUserParts(genParts(false)...)
		case 3:
			m = message.NewAssistant(genText())
		case 4:
			m = message.NewAssistantParts(genParts(true)...)
		default:
			out := make([]content.ToolOutput, r.IntN(3))
			for j := range out {
				if r.IntN(2) == 0 {
					out[j] = content.JSONOutput{Value: json.RawMessage(fmt.Sprintf(`{"ok":%t}`, r.IntN(2) == 0))}
				} else {
					out[j] = content.MediaOutput{Data: genText(), MediaType: "image/jpeg"}
				}
			}
			m = message.NewTool(content.ToolResult{ToolName: "tool", ToolCallID: genText(), Output: out})
		}
		m.Tags = tags[r.IntN(len(tags))]
		m.TimeToLive = ttls[r.IntN(len(ttls))]
		m.ProviderOptions = opts[r.IntN(len(opts))].Clone()
		msgs[i] = m
	}

	return msgs
}

func forEachLog(t *testing.T, fn func(t *testing.T, in []message.Message)) {
	t.Helper()

	r := rand.New(rand.NewPCG(1, 2))
	for i := range propertyRuns {
		in := genLog(r)
		t.Run(fmt.Sprintf("run%d", i), func(t *testing.T) { fn(t, in) })
	}
}

func TestProperty_Pure(t *testing.T) {
	forEachLog(t, func(t *testing.T, in []message.Message) {
		snapshot := message.CloneAll(in)

		_, err := Convert(in, DefaultOptions())
		require.NoError(t, err)

		assert.Equal(t, snapshot, in)
	})
}

func TestProperty_BoundedAnchors(t *testing.T) {
	forEachLog(t, func(t *testing.T, in []message.Message) {
		got, err := Convert(in, DefaultOptions())
		require.NoError(t, err)

		n := DefaultAnnotator().CountAnchors(got)
		assert.LessOrEqual(t, n, 4)
		if len(got) > 0 && len(got[len(got)-1].Parts) > 0 {
			assert.GreaterOrEqual(t, n, 1, "the last message is always anchored")
		}
	})
}

func TestProperty_AggregationIsMaximalAndIdempotent(t *testing.T) {
	forEachLog(t, func(t *testing.T, in []message.Message) {
		got, err := Convert(in, noCache())
		require.NoError(t, err)

		for i := 1; i < len(got); i++ {
			assert.False(t, Mergeable(got[i-1], got[i]), "adjacent messages %d and %d should have merged", i-1, i)
		}
		assert.Equal(t, got, Aggregate(got))

		for _, m := range got {
			assert.NotEqual(t, role.Tool, m.Role)
			if m.Role != role.System {
				assert.NotNil(t, m.Parts)
			}
		}
	})
}

func TestProperty_AnnotationOnlyAddsMarkers(t *testing.T) {
	forEachLog(t, func(t *testing.T, in []message.Message) {
		plain, err := Convert(in, noCache())
		require.NoError(t, err)
		annotated, err := Convert(in, DefaultOptions())
		require.NoError(t, err)

		a := DefaultAnnotator()
		plain = a.StripCacheControl(plain)
		stripped := a.StripCacheControl(annotated)

		require.Len(t, stripped, len(plain))
		for i := range plain {
			assert.Equal(t, plain[i].Role, stripped[i].Role)
			assert.Equal(t, joinTexts(plain[i]), joinTexts(stripped[i]))
			assert.True(t, provideropts.Equal(plain[i].ProviderOptions, stripped[i].ProviderOptions))
		}
	})
}
