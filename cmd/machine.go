package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mcpterminal/assistant/internal/identity"
	"github.com/mcpterminal/assistant/internal/localstore"
	"github.com/spf13/cobra"
)

var machineCmd = &cobra.Command{
	Use:   "machine",
	Short: "Inspect this machine's identity record",
}

var machineInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the local Machine record",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMachineInfo(cmd)
	},
}

func init() {
	machineCmd.AddCommand(machineInfoCmd)
}

func runMachineInfo(cmd *cobra.Command) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}

	local, err := localstore.Open(homeDir)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer local.Close()

	ctx := context.Background()
	if _, err := identity.RegisterMachine(ctx, local, homeDir); err != nil {
		return err
	}

	machineID, err := identity.MachineID(homeDir)
	if err != nil {
		return err
	}
	m, err := local.GetMachine(ctx, machineID)
	if err != nil {
		return fmt.Errorf("read machine record: %w", err)
	}
	if m == nil {
		return fmt.Errorf("no machine record found for %s", machineID)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "machine_id:     %s\n", m.MachineID)
	fmt.Fprintf(out, "hostname:       %s\n", m.Hostname)
	fmt.Fprintf(out, "ip:             %s\n", m.IP)
	fmt.Fprintf(out, "os_info:        %s\n", m.OSInfo)
	fmt.Fprintf(out, "first_seen:     %s\n", m.FirstSeen.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "last_seen:      %s\n", m.LastSeen.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "total_commands: %d\n", m.TotalCommands)
	return nil
}
