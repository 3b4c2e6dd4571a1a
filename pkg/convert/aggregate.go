package convert

import (
	"slices"

	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/history/provideropts"
	"github.com/germanamz/msgprep/pkg/history/role"
)

const systemSeparator = "\n\n"

// Aggregate merges adjacent mergeable messages in a single left-to-right
// pass. System contents are joined with a blank line; user and assistant part
// sequences are concatenated in order. Aggregating an aggregated sequence
// returns an equal sequence.
func Aggregate(msgs []message.Message) []message.Message {
	return fold(message.CloneAll(msgs))
}

// fold aggregates msgs, reusing their storage. Callers must own msgs.
func fold(msgs []message.Message) []message.Message {
	out := make([]message.Message, 0, len(msgs))

	for _, m := range msgs {
		if n := len(out); n > 0 && Mergeable(out[n-1], m) {
			merge(&out[n-1], m)
			continue
		}
		out = append(out, m)
	}

	return out
}

// Mergeable reports whether b may be folded into a directly preceding a.
// Both must share a role that survives normalization, the same lifetime,
// equal provider options and equal tags. User and assistant messages must
// both carry part content.
func Mergeable(a, b message.Message) bool {
	if a.Role != b.Role || !a.Role.Mergeable() {
		return false
	}
	if a.TimeToLive != b.TimeToLive {
		return false
	}
	if !provideropts.Equal(a.ProviderOptions, b.ProviderOptions) {
		return false
	}
	if !tagsEqual(a.Tags, b.Tags) {
		return false
	}
	if a.Role != role.System && (a.IsStringContent() || b.IsStringContent()) {
		return false
	}
	return true
}

func merge(dst *message.Message, src message.Message) {
	if dst.Role == role.System {
		dst.Content += systemSeparator + src.Content
		return
	}
	dst.Parts = append(dst.Parts, src.Parts...)
}

// tagsEqual compares tag lists element-wise; nil and empty are equal.
func tagsEqual(a, b []string) bool {
	return slices.Equal(a, b)
}
