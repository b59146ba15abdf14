package patternplanner

import (
	"fmt"
	"regexp"
	"strings"
)

// Builtins returns the default probe patterns shipped with mcp-terminal.
// RequestController registers these (plus any caller-supplied patterns)
// on a fresh Registry at startup.
func Builtins() []*Pattern {
	return []*Pattern{gitStatusPattern(), goModPattern(), directoryListingPattern()}
}

// gitStatusPattern enriches questions about repository state with the
// current branch and working-tree status, so the AI doesn't have to ask
// the user to paste `git status` output.
func gitStatusPattern() *Pattern {
	return &Pattern{
		Name:    "git-status",
		Matcher: regexp.MustCompile(`(?i)\b(git|branch|commit|uncommitted|diff)\b`),
		Sequence: []Step{
			{ID: "branch", Command: "git rev-parse --abbrev-ref HEAD", ExtractKey: "branch"},
			{ID: "status", Command: "git status --short", ExtractKey: "status", Optional: true},
		},
		Aggregator: func(ctx map[string]any) any {
			branch, _ := ctx["branch"].(string)
			status, _ := ctx["status"].(string)
			return fmt.Sprintf("Current branch: %s\nWorking tree status:\n%s", strings.TrimSpace(branch), strings.TrimSpace(status))
		},
	}
}

// goModPattern enriches questions about dependencies/build with the
// module path and its direct requirements.
func goModPattern() *Pattern {
	return &Pattern{
		Name:    "go-mod",
		Matcher: regexp.MustCompile(`(?i)\b(go\.mod|module|dependency|dependencies|package)\b`),
		Sequence: []Step{
			{ID: "modpath", Command: "go list -m", ExtractKey: "module"},
			{
				ID: "requires",
				Dynamic: func(ctx map[string]any) []string {
					if _, ok := ctx["module"]; !ok {
						return nil
					}
					return []string{"go list -m all"}
				},
				Parse: func(output string) any {
					return strings.Split(strings.TrimSpace(output), "\n")
				},
				ExtractKey: "requires",
				Optional:   true,
			},
		},
		Aggregator: func(ctx map[string]any) any {
			module, _ := ctx["module"].(string)
			requires, _ := ctx["requires"].([]string)
			return fmt.Sprintf("Module: %s\nDirect requirements:\n%s", strings.TrimSpace(module), strings.Join(requires, "\n"))
		},
	}
}

// directoryListingPattern enriches questions about "what's here" / "list
// files" with a shallow directory listing.
func directoryListingPattern() *Pattern {
	return &Pattern{
		Name:    "directory-listing",
		Matcher: regexp.MustCompile(`(?i)\b(list files|what.?s (in|here)|ls\b|directory|folder)\b`),
		Sequence: []Step{
			{ID: "entries", Command: "ls -la", ExtractKey: "entries"},
		},
		Aggregator: func(ctx map[string]any) any {
			entries, _ := ctx["entries"].(string)
			return "Directory contents:\n" + strings.TrimSpace(entries)
		},
	}
}
