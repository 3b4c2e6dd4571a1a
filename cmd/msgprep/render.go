package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/germanamz/msgprep/pkg/convert"
	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/modeladapter/usage"
	"github.com/joho/godotenv"
	"github.com/mattn/go-runewidth"
	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/term"
)

const defaultWidth = 100

// Fixed column widths of the inspect table; the preview takes the rest.
const (
	colIndex   = 3
	colRole    = 9
	colTags    = 22
	colTTL     = 10
	colParts   = 5
	colAnchors = 7
	minPreview = 20
)

// mdRenderer renders markdown to terminal-formatted output.
var mdRenderer *glamour.TermRenderer

func initMarkdownRenderer(width int) {
	if width <= 0 {
		width = defaultWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return
	}
	mdRenderer = r
}

// renderMarkdown converts markdown text to terminal-formatted output.
func renderMarkdown(text string) string {
	if mdRenderer == nil {
		return text
	}
	out, err := mdRenderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec
}

// terminalWidth returns the width of stdout, or defaultWidth when stdout is
// not a terminal.
func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd())) //nolint:gosec
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

// cell truncates s to w display columns and pads it to exactly w.
func cell(s string, w int) string {
	return runewidth.FillRight(runewidth.Truncate(s, w, "…"), w)
}

// oneLine collapses whitespace runs, including newlines, into single spaces.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// renderTable renders one row per prepared message with its cache anchors.
func renderTable(a convert.Annotator, msgs []message.Message, width int) string {
	preview := max(width-colIndex-colRole-colTags-colTTL-colParts-colAnchors-6, minPreview)

	row := func(cols ...string) string {
		widths := []int{colIndex, colRole, colTags, colTTL, colParts, colAnchors, preview}
		cells := make([]string, len(cols))
		for i, c := range cols {
			cells[i] = cell(c, widths[i])
		}
		return strings.Join(cells, " ")
	}

	lines := []string{headerStyle.Render(row("#", "ROLE", "TAGS", "TTL", "PARTS", "ANCHORS", "PREVIEW"))}

	total := 0
	for i, m := range msgs {
		n := a.CountAnchors([]message.Message{m})
		total += n

		parts := "str"
		if !m.IsStringContent() {
			parts = strconv.Itoa(len(m.Parts))
		}
		anchors := ""
		if n > 0 {
			anchors = "◆ " + strconv.Itoa(n)
		}

		line := row(
			strconv.Itoa(i),
			string(m.Role),
			strings.Join(m.Tags, ","),
			string(m.TimeToLive),
			parts,
			anchors,
			oneLine(m.TextContent()),
		)
		if n > 0 {
			line = anchorStyle.Render(line)
		} else if st, ok := roleStyles[string(m.Role)]; ok {
			line = st.Render(line)
		}
		lines = append(lines, line)
	}

	lines = append(lines, dimStyle.Render(fmt.Sprintf("%d messages, %d cache anchors", len(msgs), total)))

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// unifiedDiff returns a unified diff between the JSON encodings of the input
// log and the prepared log.
func unifiedDiff(in, out []message.Message, name string) (string, error) {
	a, err := marshalLog(in)
	if err != nil {
		return "", err
	}
	b, err := marshalLog(out)
	if err != nil {
		return "", err
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: name,
		ToFile:   name + " (prepared)",
		Context:  3,
	}

	result, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("diff: %w", err)
	}
	if result == "" {
		return "no changes\n", nil
	}

	return result, nil
}

// fmtTokens formats a token count for display, using k/M suffixes.
func fmtTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return strconv.Itoa(n)
	}
}

func fmtUsage(tc usage.TokenCount) string {
	return fmt.Sprintf("tokens: %s in, %s out, %s cache read, %s cache write (%.0f%% cached)",
		fmtTokens(tc.InputTokens),
		fmtTokens(tc.OutputTokens),
		fmtTokens(tc.CacheReadTokens),
		fmtTokens(tc.CacheWriteTokens),
		tc.CacheHitRatio()*100,
	)
}
