package convert

import (
	"fmt"

	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/toolcall"
)

// Options configures Convert.
type Options struct {
	// IncludeCacheControl enables cache anchor placement.
	IncludeCacheControl bool
	// Annotator places the anchors. The zero value uses the defaults.
	Annotator Annotator
	// RenderToolCall renders assistant tool calls as text. Nil selects
	// toolcall.Render.
	RenderToolCall toolcall.Renderer
}

// DefaultOptions returns Options with cache anchors enabled and default
// annotator settings.
func DefaultOptions() Options {
	return Options{
		IncludeCacheControl: true,
		Annotator:           DefaultAnnotator(),
		RenderToolCall:      toolcall.Render,
	}
}

// Convert normalizes, aggregates and, when enabled, cache-annotates msgs.
// The result is a new slice; msgs is left untouched. The only failures are
// ErrInvalidMessageRole and ErrInvalidToolOutput.
func Convert(msgs []message.Message, opts Options) ([]message.Message, error) {
	flat := make([]message.Message, 0, len(msgs))

	for i, m := range msgs {
		normalized, err := Normalize(m, opts.RenderToolCall)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		flat = append(flat, normalized...)
	}

	aggregated := fold(flat)
	if !opts.IncludeCacheControl {
		return aggregated, nil
	}

	return opts.Annotator.annotate(aggregated), nil
}
