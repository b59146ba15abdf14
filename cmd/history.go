package cmd

import (
	"context"
	"fmt"

	"github.com/mcpterminal/assistant/internal/appctx"
	"github.com/mcpterminal/assistant/internal/models"
	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historySearch string
	historyScope  string
	historyUser   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List or search recorded questions and answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory(cmd)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum rows to return")
	historyCmd.Flags().StringVar(&historySearch, "search", "", "filter rows whose command or response contains this text")
	historyCmd.Flags().StringVar(&historyScope, "scope", "", "global|user|machine|hybrid (default: configured history_mode)")
	historyCmd.Flags().StringVar(&historyUser, "user", "", "username to scope the read to")
}

func runHistory(cmd *cobra.Command) error {
	scope, err := parseScopeFlag(historyScope)
	if err != nil {
		return err
	}

	ctx := context.Background()
	app, err := appctx.New(ctx, appctx.Options{Username: historyUser, Scope: scope})
	if err != nil {
		return err
	}
	defer app.Close()

	filter := models.HistoryFilter{Scope: scope}
	if app.User != nil {
		filter.UserID = &app.User.ID
	}
	filter.MachineID = &app.Machine.MachineID

	var entries []models.HistoryEntry
	if historySearch != "" {
		entries, err = app.HistoryView.Search(ctx, historySearch, scope, historyLimit, 0)
	} else {
		entries, err = app.HistoryView.Get(ctx, filter, historyLimit, 0)
	}
	if err != nil {
		return err
	}

	printHistory(cmd, entries)
	return nil
}

func printHistory(cmd *cobra.Command, entries []models.HistoryEntry) {
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "(no history)")
		return
	}
	for _, e := range entries {
		response := "(pending)"
		if e.Response != nil {
			response = *e.Response
		}
		fmt.Fprintf(out, "[%s] %s %s\n  Q: %s\n  A: %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.RequestID, e.Status, e.Command, response)
	}
}

func parseScopeFlag(s string) (models.Scope, error) {
	if s == "" {
		return "", nil
	}
	scope := models.Scope(s)
	switch scope {
	case models.ScopeGlobal, models.ScopeUser, models.ScopeMachine, models.ScopeHybrid:
		return scope, nil
	default:
		return "", fmt.Errorf("invalid --scope %q: must be one of global, user, machine, hybrid", s)
	}
}
