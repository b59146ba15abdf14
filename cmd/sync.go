package cmd

import (
	"context"
	"fmt"

	"github.com/mcpterminal/assistant/internal/appctx"
	"github.com/spf13/cobra"
)

// syncPendingSample caps how many sync_queue rows sync reads just to
// report a count; it never needs the full queue in memory.
const syncPendingSample = 10000

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Force an immediate upload/download reconciliation pass",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd)
	},
}

func runSync(cmd *cobra.Command) error {
	ctx := context.Background()
	app, err := appctx.New(ctx, appctx.Options{})
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	if app.Sync == nil {
		fmt.Fprintln(out, "no Remote store configured; nothing to sync")
		return nil
	}

	before, err := app.Local.GetPendingSync(ctx, syncPendingSample)
	if err != nil {
		return fmt.Errorf("read sync queue: %w", err)
	}
	fmt.Fprintf(out, "pending before sync: %d\n", len(before))

	app.Sync.ForceSync(ctx)

	after, err := app.Local.GetPendingSync(ctx, syncPendingSample)
	if err != nil {
		return fmt.Errorf("read sync queue: %w", err)
	}
	fmt.Fprintf(out, "pending after sync:  %d\n", len(after))

	if last, ok, err := app.Local.GetSyncMetadata(ctx); err == nil && ok {
		fmt.Fprintf(out, "last_sync_time:      %s\n", last.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
