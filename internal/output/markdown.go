// Package output renders AI answer text for the chat transcript:
// markdown with syntax highlighting, wrapped to the caller's terminal
// width, degrading to the raw answer whenever rendering can't improve
// on it.
package output

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

const (
	defaultMarkdownWidth = 80
	minMarkdownWidth     = 20
)

// TerminalWidth returns the current terminal width, or fallback when it
// can't be determined (e.g. stdout isn't a TTY).
func TerminalWidth(fallback int) int {
	if fallback <= 0 {
		fallback = defaultMarkdownWidth
	}

	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}

	if cols := os.Getenv("COLUMNS"); cols != "" {
		if parsed, err := strconv.Atoi(cols); err == nil && parsed > 0 {
			return parsed
		}
	}

	return fallback
}

// RenderAnswer renders an AI answer for the chat transcript, falling
// back to the raw text when rendering fails or produces nothing (a
// non-TTY stdout, for instance). An answer is never lost to a styling
// problem.
func RenderAnswer(text string) string {
	rendered, err := RenderMarkdown(text)
	if err != nil || strings.TrimSpace(rendered) == "" {
		return text
	}
	return rendered
}

// RenderMarkdown renders text as markdown using Glamour, auto-sized to
// the current terminal width.
func RenderMarkdown(text string) (string, error) {
	return RenderMarkdownWithWidth(text, TerminalWidth(defaultMarkdownWidth))
}

// RenderMarkdownWithWidth renders text as markdown wrapped to width.
func RenderMarkdownWithWidth(text string, width int) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if width < minMarkdownWidth {
		width = minMarkdownWidth
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}

	rendered, err := renderer.Render(text)
	if err != nil {
		return "", err
	}

	return strings.TrimRight(rendered, "\n"), nil
}
