package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mcpterminal/assistant/internal/localstore"
	"github.com/mcpterminal/assistant/internal/patternplanner"
	"github.com/mcpterminal/assistant/internal/remotestore"
	"github.com/mcpterminal/assistant/internal/syncconfig"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks against the local and remote stores",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runDoctor(cmd)
		return nil
	},
}

// runDoctor prints one dot-padded OK/FAIL/WARN/SKIP line per check and
// never returns an error itself: a failed check is reported, not fatal,
// since diagnosing a broken setup is exactly the point of the command.
func runDoctor(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	ctx := context.Background()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(out, "Home directory ......... FAIL (%v)\n", err)
		return
	}
	fmt.Fprintf(out, "Home directory ......... OK (%s)\n", homeDir)

	local, err := localstore.Open(homeDir)
	localOK := err == nil
	if localOK {
		defer local.Close()
		fmt.Fprintf(out, "Local database ......... OK (%s)\n", localstore.DBPath(homeDir))
	} else {
		fmt.Fprintf(out, "Local database ......... FAIL (%v)\n", err)
	}

	if !localOK {
		fmt.Fprintf(out, "Pending sync queue ..... SKIP\n")
		fmt.Fprintf(out, "Last sync time ......... SKIP\n")
	} else {
		pending, err := local.GetPendingSync(ctx, syncPendingSample)
		if err != nil {
			fmt.Fprintf(out, "Pending sync queue ..... FAIL (%v)\n", err)
		} else {
			fmt.Fprintf(out, "Pending sync queue ..... %d\n", len(pending))
		}

		if last, ok, err := local.GetSyncMetadata(ctx); err != nil {
			fmt.Fprintf(out, "Last sync time ......... FAIL (%v)\n", err)
		} else if !ok {
			fmt.Fprintf(out, "Last sync time ......... WARN (never synced)\n")
		} else {
			fmt.Fprintf(out, "Last sync time ......... OK (%s)\n", last.Format(time.RFC3339))
		}
	}

	reg := patternplanner.NewRegistry()
	for _, p := range patternplanner.Builtins() {
		reg.Register(p)
	}
	fmt.Fprintf(out, "Probe patterns ......... OK (%d registered)\n", len(reg.Patterns()))

	remoteURL := syncconfig.GetRemoteURL(homeDir)
	if remoteURL == "" {
		fmt.Fprintf(out, "Remote store ........... SKIP (not configured; local-only mode)\n")
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	remote, err := remotestore.Open(probeCtx, remoteURL, syncconfig.GetRemoteToken(homeDir))
	if err != nil {
		fmt.Fprintf(out, "Remote store ........... FAIL (%v)\n", err)
		return
	}
	defer remote.Close()
	fmt.Fprintf(out, "Remote store ........... OK (reachable, schema present)\n")

	if err := remote.Ping(ctx); err != nil {
		fmt.Fprintf(out, "Remote ping ............ FAIL (%v)\n", err)
	} else {
		fmt.Fprintf(out, "Remote ping ............ OK\n")
	}
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
