package cmd

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mcpterminal/assistant/internal/errs"
	"github.com/spf13/cobra"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil-like generic error", errors.New("boom"), exitFatalInit},
		{"user interrupt", errUserInterrupt, exitUserCancel},
		{"wrapped user interrupt", fmt.Errorf("exit: %w", errUserInterrupt), exitUserCancel},
		{"schema missing", errs.New(errs.KindSchemaMissing, "tables absent"), exitSchemaMiss},
		{"other taxonomy kind", errs.New(errs.KindBadInput, "empty command"), exitFatalInit},
	}

	for _, tt := range tests {
		if got := exitCodeFor(tt.err); got != tt.want {
			t.Errorf("%s: exitCodeFor() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestFlagErrorFuncSuggestsCloseMatch(t *testing.T) {
	c := &cobra.Command{Use: "history"}
	c.Flags().Int("limit", 10, "")
	c.Flags().String("search", "", "")
	c.Flags().String("scope", "", "")

	err := flagErrorFunc(c, errors.New("unknown flag: --limt"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "Did you mean") {
		t.Fatalf("expected a suggestion hint, got: %v", err)
	}
	if !strings.Contains(err.Error(), "--limit") {
		t.Fatalf("expected --limit to be suggested, got: %v", err)
	}
}

func TestFlagErrorFuncPassesThroughUnrelatedErrors(t *testing.T) {
	c := &cobra.Command{Use: "history"}
	c.Flags().Int("limit", 10, "")

	original := errors.New("some other parse failure")
	err := flagErrorFunc(c, original)
	if err != original {
		t.Fatalf("expected passthrough of non-unknown-flag errors, got: %v", err)
	}
}

func TestFlagErrorFuncNoSuggestionForFarMatch(t *testing.T) {
	c := &cobra.Command{Use: "history"}
	c.Flags().Int("limit", 10, "")

	err := flagErrorFunc(c, errors.New("unknown flag: --zzzzzzzzzzzzzzzzzzz"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if strings.Contains(err.Error(), "Did you mean") {
		t.Fatalf("expected no suggestion for a far-off flag name, got: %v", err)
	}
}

// TestLeafCommandsInheritFlagErrorFunc guards against the wiring
// regressing into a per-child SetFlagErrorFunc loop in root.go's init():
// such a loop only reaches top-level commands and whichever of them
// were already registered when it ran, silently missing leaf commands
// like "user create" and anything added by a later-sorted file's own
// init(). Every leaf in the real tree must resolve, via cobra's
// parent-walk, back to the one FlagErrorFunc installed on rootCmd.
func TestLeafCommandsInheritFlagErrorFunc(t *testing.T) {
	leaves := []*cobra.Command{
		chatCmd, historyCmd, userCmd, machineCmd, syncCmd, doctorCmd,
		userCreateCmd, userListCmd, userStatsCmd, userDeleteCmd, userReactivateCmd,
		machineInfoCmd,
	}
	for _, c := range leaves {
		if c.FlagErrorFunc() == nil {
			t.Errorf("%s: expected an inherited FlagErrorFunc, got nil", c.CommandPath())
		}
	}
}
