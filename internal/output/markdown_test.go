package output

import (
	"strings"
	"testing"
)

func TestRenderAnswerNeverLosesText(t *testing.T) {
	answer := "use `ls -la` to list files"
	got := RenderAnswer(answer)
	if strings.TrimSpace(got) == "" {
		t.Fatalf("RenderAnswer(%q) returned blank output", answer)
	}
}

func TestRenderAnswerEmptyInput(t *testing.T) {
	if got := RenderAnswer(""); got != "" {
		t.Errorf("RenderAnswer(\"\") = %q, want empty", got)
	}
}

func TestRenderMarkdownWithWidthBlankInput(t *testing.T) {
	got, err := RenderMarkdownWithWidth("   \n", 40)
	if err != nil {
		t.Fatalf("RenderMarkdownWithWidth: %v", err)
	}
	if got != "" {
		t.Errorf("blank input should render to empty, got %q", got)
	}
}

func TestTerminalWidthFallback(t *testing.T) {
	t.Setenv("COLUMNS", "")
	if got := TerminalWidth(72); got <= 0 {
		t.Errorf("TerminalWidth = %d, want positive", got)
	}
}
