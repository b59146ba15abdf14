package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/mcpterminal/assistant/internal/remotestore"
	"github.com/mcpterminal/assistant/internal/syncconfig"
	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Admin operations on the User table",
}

var userCreateName, userCreateEmail string

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a new active user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdminRemote(cmd, func(ctx context.Context, remote *remotestore.Store) error {
			u, err := remote.CreateUser(ctx, args[0], userCreateName, userCreateEmail)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %q (id=%d)\n", u.Username, u.ID)
			return nil
		})
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdminRemote(cmd, func(ctx context.Context, remote *remotestore.Store) error {
			users, err := remote.ListUsers(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, u := range users {
				status := "active"
				if !u.Active {
					status = "inactive"
				}
				fmt.Fprintf(out, "%-20s %-8s %s <%s>\n", u.Username, status, u.Name, u.Email)
			}
			return nil
		})
	},
}

var userStatsCmd = &cobra.Command{
	Use:   "stats <username>",
	Short: "Show per-status history counts for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdminRemote(cmd, func(ctx context.Context, remote *remotestore.Store) error {
			stats, err := remote.Stats(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "username:   %s\n", stats.Username)
			fmt.Fprintf(out, "total:      %d\n", stats.Total)
			fmt.Fprintf(out, "pending:    %d\n", stats.Pending)
			fmt.Fprintf(out, "processing: %d\n", stats.Processing)
			fmt.Fprintf(out, "completed:  %d\n", stats.Completed)
			fmt.Fprintf(out, "cancelled:  %d\n", stats.Cancelled)
			fmt.Fprintf(out, "error:      %d\n", stats.Errored)
			return nil
		})
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Deactivate a user (soft delete)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdminRemote(cmd, func(ctx context.Context, remote *remotestore.Store) error {
			if err := remote.DeactivateUser(ctx, args[0]); err != nil {
				if err == pgx.ErrNoRows {
					return fmt.Errorf("no such user: %s", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s\n", args[0])
			return nil
		})
	},
}

var userReactivateCmd = &cobra.Command{
	Use:   "reactivate <username>",
	Short: "Reactivate a previously deactivated user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdminRemote(cmd, func(ctx context.Context, remote *remotestore.Store) error {
			if err := remote.ReactivateUser(ctx, args[0]); err != nil {
				if err == pgx.ErrNoRows {
					return fmt.Errorf("no such user: %s", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reactivated %s\n", args[0])
			return nil
		})
	},
}

func init() {
	userCreateCmd.Flags().StringVar(&userCreateName, "name", "", "display name")
	userCreateCmd.Flags().StringVar(&userCreateEmail, "email", "", "email address")
	userCmd.AddCommand(userCreateCmd, userListCmd, userStatsCmd, userDeleteCmd, userReactivateCmd)
}

// withAdminRemote opens a direct RemoteStore connection for an admin
// subcommand (no LocalStore, no Machine/User identity resolution — these
// operate on the User table itself) and closes it once fn returns.
func withAdminRemote(cmd *cobra.Command, fn func(ctx context.Context, remote *remotestore.Store) error) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}

	url := syncconfig.GetRemoteURL(homeDir)
	if url == "" {
		return fmt.Errorf("no Remote store configured: set %s or run first-run setup", syncconfig.EnvRemoteDBURL)
	}

	ctx := context.Background()
	remote, err := remotestore.Open(ctx, url, syncconfig.GetRemoteToken(homeDir))
	if err != nil {
		return err
	}
	defer remote.Close()

	return fn(ctx, remote)
}
