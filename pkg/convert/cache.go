package convert

import (
	"unicode/utf8"

	"github.com/germanamz/msgprep/pkg/history/content"
	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/history/provideropts"
)

// DefaultMinTextLen is the shortest text part, in runes, that can hold a
// cache anchor. Shorter trailing text parts are skipped.
const DefaultMinTextLen = 2

// DefaultAnchorTags are the tags whose last occurrence anchors the message
// right before it, in the order they are applied.
var DefaultAnchorTags = []string{
	message.TagUserPrompt,
	message.TagInstructionsPrompt,
	message.TagStepPrompt,
}

// Annotator places cache anchors on an aggregated message sequence.
//
// The message preceding the last occurrence of each tag in Tags is anchored,
// unless that occurrence is the first message, and the final message is
// always anchored. This yields at most len(Tags)+1 anchors.
//
// Zero fields fall back to their defaults; set an empty non-nil slice to
// disable Tags or Providers explicitly.
type Annotator struct {
	// Providers receive the cache marker at every anchor.
	Providers []string
	// MinTextLen is the shortest text part, in runes, that can be anchored.
	MinTextLen int
	// Tags select the messages whose predecessor is anchored.
	Tags []string
}

// DefaultAnnotator returns an Annotator with the default providers,
// threshold and tags.
func DefaultAnnotator() Annotator {
	return Annotator{}.withDefaults()
}

func (a Annotator) withDefaults() Annotator {
	if a.Providers == nil {
		a.Providers = provideropts.DefaultCacheProviders
	}
	if a.MinTextLen <= 0 {
		a.MinTextLen = DefaultMinTextLen
	}
	if a.Tags == nil {
		a.Tags = DefaultAnchorTags
	}
	return a
}

// Annotate returns a copy of msgs with cache anchors placed. msgs is not
// modified.
func (a Annotator) Annotate(msgs []message.Message) []message.Message {
	return a.annotate(message.CloneAll(msgs))
}

// annotate places anchors in place. Markers already present for a.Providers
// are removed first so only the anchors chosen here remain. Callers must own
// msgs.
func (a Annotator) annotate(msgs []message.Message) []message.Message {
	if len(msgs) == 0 {
		return msgs
	}

	a = a.withDefaults()
	a.strip(msgs)

	for _, tag := range a.Tags {
		idx := lastIndexWithTag(msgs, tag)
		if idx <= 0 {
			continue
		}
		a.anchor(&msgs[idx-1])
	}

	a.anchor(&msgs[len(msgs)-1])

	return msgs
}

func lastIndexWithTag(msgs []message.Message, tag string) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].HasTag(tag) {
			return i
		}
	}
	return -1
}

// anchor marks the cacheable end of m. String content is marked on the
// message itself. Part content is marked on its last part, walking back past
// text parts shorter than MinTextLen; the chosen text part is split so the
// marker covers everything after its first rune. When every part is a short
// text the last part is marked whole.
func (a Annotator) anchor(m *message.Message) {
	if m.IsStringContent() {
		if !a.marked(m.ProviderOptions) {
			m.ProviderOptions = provideropts.WithCacheControl(m.ProviderOptions, a.Providers)
		}
		return
	}

	if len(m.Parts) == 0 {
		return
	}

	idx, short := a.anchorIndex(m.Parts)
	target := m.Parts[idx]
	if a.marked(target.Options()) {
		return
	}

	text, isText := target.(content.Text)
	if !isText || short || utf8.RuneCountInString(text.Text) < 2 {
		m.Parts[idx] = target.WithOptions(provideropts.WithCacheControl(target.Options(), a.Providers))
		return
	}

	_, size := utf8.DecodeRuneInString(text.Text)
	prefix := content.Text{
		Text:            text.Text[:size],
		ProviderOptions: text.ProviderOptions.Clone(),
	}
	suffix := content.Text{
		Text:            text.Text[size:],
		ProviderOptions: provideropts.WithCacheControl(text.ProviderOptions, a.Providers),
	}

	parts := make([]content.Part, 0, len(m.Parts)+1)
	parts = append(parts, m.Parts[:idx]...)
	parts = append(parts, prefix, suffix)
	parts = append(parts, m.Parts[idx+1:]...)
	m.Parts = parts
}

// anchorIndex picks the part that receives the anchor: the last non-text
// part or sufficiently long text part. If every part is a short text, the
// last part is used and short is true.
func (a Annotator) anchorIndex(parts []content.Part) (idx int, short bool) {
	for i := len(parts) - 1; i >= 0; i-- {
		t, ok := parts[i].(content.Text)
		if !ok {
			return i, false
		}
		if utf8.RuneCountInString(t.Text) >= a.MinTextLen {
			return i, false
		}
	}
	return len(parts) - 1, true
}

// marked reports whether opts already carry the marker for every provider.
func (a Annotator) marked(opts provideropts.Options) bool {
	if len(a.Providers) == 0 {
		return true
	}
	for _, p := range a.Providers {
		if !opts.HasCacheControl(p) {
			return false
		}
	}
	return true
}

// CountAnchors returns the number of locations in msgs, messages or parts,
// that carry a cache marker for any of the annotator's providers.
func (a Annotator) CountAnchors(msgs []message.Message) int {
	a = a.withDefaults()

	n := 0
	for _, m := range msgs {
		if a.anyMarked(m.ProviderOptions) {
			n++
		}
		for _, p := range m.Parts {
			if a.anyMarked(p.Options()) {
				n++
			}
		}
	}
	return n
}

func (a Annotator) anyMarked(opts provideropts.Options) bool {
	for _, p := range a.Providers {
		if opts.HasCacheControl(p) {
			return true
		}
	}
	return false
}

// StripCacheControl returns a copy of msgs with every cache marker for the
// annotator's providers removed from messages and parts. Split text parts are
// not rejoined.
func (a Annotator) StripCacheControl(msgs []message.Message) []message.Message {
	a = a.withDefaults()

	out := message.CloneAll(msgs)
	a.strip(out)
	return out
}

// strip removes the markers for a.Providers from msgs in place.
func (a Annotator) strip(msgs []message.Message) {
	for i := range msgs {
		msgs[i].ProviderOptions = provideropts.WithoutCacheControl(msgs[i].ProviderOptions, a.Providers)
		for j, p := range msgs[i].Parts {
			msgs[i].Parts[j] = p.WithOptions(provideropts.WithoutCacheControl(p.Options(), a.Providers))
		}
	}
}
