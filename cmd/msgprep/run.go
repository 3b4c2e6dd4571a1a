package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/germanamz/msgprep/pkg/engine"
	"github.com/germanamz/msgprep/pkg/history/message"
)

// defaultConfigPath is loaded when -config is not given and the file exists.
const defaultConfigPath = "msgprep.yaml"

type options struct {
	configPath string
	inPath     string
	provider   string
	send       bool
	noCache    bool
	diff       bool
	inspect    bool
	verbose    bool
	color      bool // stdout is a terminal
}

func run(ctx context.Context, opts options, stdin io.Reader, stdout, stderr io.Writer) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.noCache {
		disableCache(&cfg)
	}

	eng, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	if opts.verbose {
		sub := eng.Events().Subscribe(eventBuffer, engine.EventPrepared)
		defer reportPrepared(eng.Events(), sub, stderr)
	}

	raw, err := readInput(opts.inPath, stdin)
	if err != nil {
		return err
	}
	msgs, err := message.DecodeLog(raw)
	if err != nil {
		return fmt.Errorf("decode %s: %w", inputName(opts.inPath), err)
	}

	if opts.send || opts.provider != "" {
		return send(ctx, eng, opts, msgs, stdout, stderr)
	}

	prepared, err := eng.PrepareDefault(msgs)
	if err != nil {
		return err
	}

	switch {
	case opts.inspect:
		_, err = fmt.Fprintln(stdout, renderTable(eng.Annotator(), prepared, terminalWidth()))
		return err
	case opts.diff:
		d, err := unifiedDiff(msgs, prepared, inputName(opts.inPath))
		if err != nil {
			return err
		}
		_, err = io.WriteString(stdout, d)
		return err
	default:
		return writeJSON(stdout, prepared)
	}
}

func send(ctx context.Context, eng *engine.Engine, opts options, msgs []message.Message, stdout, stderr io.Writer) error {
	provider := opts.provider
	reply, err := eng.Send(ctx, provider, msgs)
	if err != nil {
		return err
	}

	text := reply.TextContent()
	if opts.color {
		initMarkdownRenderer(terminalWidth())
		text = renderMarkdown(text)
	}
	if _, err := fmt.Fprintln(stdout, text); err != nil {
		return err
	}

	if provider == "" {
		provider = eng.DefaultProvider()
	}
	if total, ok := eng.Usage(provider); ok {
		_, _ = fmt.Fprintln(stderr, dimStyle.Render(fmtUsage(total)))
	}

	return nil
}

// eventBuffer bounds the prepared events a single invocation can report.
const eventBuffer = 16

// reportPrepared closes sub and prints one summary line per prepared event
// still buffered in it.
func reportPrepared(bus *engine.EventBus, sub *engine.Subscription, w io.Writer) {
	bus.Unsubscribe(sub)

	for ev := range sub.C {
		if stats, ok := ev.Stats(); ok {
			_, _ = fmt.Fprintln(w, dimStyle.Render(fmtPrepared(ev, stats)))
		}
	}
}

func fmtPrepared(ev engine.Event, s engine.PrepareStats) string {
	line := fmt.Sprintf("prepared: %d -> %d messages, %d anchors, ~%s tokens (~%s cached)",
		s.MessagesIn, s.MessagesOut, s.Anchors, fmtTokens(s.Tokens), fmtTokens(s.CachedTokens))
	if ev.Provider != "" {
		line += fmt.Sprintf(" [%s %s]", ev.Provider, ev.RequestID)
	}
	return line
}

func loadConfig(path string) (engine.Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			return engine.Config{}, nil
		}
		path = defaultConfigPath
	}
	return engine.LoadConfig(path)
}

// disableCache turns off cache anchors globally and for every provider.
func disableCache(cfg *engine.Config) {
	off := false
	cfg.Cache.Enabled = &off
	for i := range cfg.Providers {
		cfg.Providers[i].Cache = &off
	}
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

func inputName(path string) string {
	if path == "" || path == "-" {
		return "stdin"
	}
	return path
}

func writeJSON(w io.Writer, msgs []message.Message) error {
	data, err := marshalLog(msgs)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func marshalLog(msgs []message.Message) ([]byte, error) {
	if msgs == nil {
		msgs = []message.Message{}
	}
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode log: %w", err)
	}
	return append(data, '\n'), nil
}
