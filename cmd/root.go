// Package cmd implements mcp-terminal's CLI surface using cobra: chat,
// history, user, machine, sync, and doctor. Execute owns error
// formatting and process exit codes itself rather than relying on
// cobra's default stderr dump.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mcpterminal/assistant/internal/errs"
	"github.com/mcpterminal/assistant/internal/suggest"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Process exit codes.
const (
	exitOK         = 0
	exitFatalInit  = 1
	exitSchemaMiss = 2
	exitUserCancel = 130
)

var versionStr string

// SetVersion sets the version string reported by `--version`.
func SetVersion(v string) {
	versionStr = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "mcp-terminal",
	Short: "A terminal AI assistant with durable, syncable history",
	Long: `mcp-terminal is a terminal AI assistant that records every question and
answer to a local embedded store, replicates it to a shared remote store,
and reconciles the two under intermittent connectivity.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// errUserInterrupt is returned by chat's RunE when the session ends via
// the double-Ctrl-C exit gesture, mapped to exit code 130.
var errUserInterrupt = errors.New("interrupted")

// initLogFile redirects slog to a file if MCP_LOG_FILE is set. Useful
// for debugging sync errors while the Bubble Tea chat UI owns the
// terminal.
func initLogFile() *os.File {
	path := os.Getenv("MCP_LOG_FILE")
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return f
}

// Execute runs the root command and exits with the code matching the
// error that surfaced, if any.
func Execute() {
	if f := initLogFile(); f != nil {
		defer f.Close()
	}

	err := rootCmd.Execute()
	if err == nil {
		os.Exit(exitOK)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitCodeFor(err))
}

func exitCodeFor(err error) int {
	if errors.Is(err, errUserInterrupt) {
		return exitUserCancel
	}
	var appErr *errs.Error
	if errors.As(err, &appErr) && appErr.Kind == errs.KindSchemaMissing {
		return exitSchemaMiss
	}
	return exitFatalInit
}

// flagErrorFunc intercepts cobra's "unknown flag: --xxx" parse error and
// appends a "did you mean" hint built from the command's own flag set.
func flagErrorFunc(c *cobra.Command, err error) error {
	const marker = "unknown flag: --"
	msg := err.Error()
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return err
	}
	unknown := msg[idx+len(marker):]

	var valid []string
	c.Flags().VisitAll(func(f *pflag.Flag) {
		valid = append(valid, "--"+f.Name)
		if f.Shorthand != "" {
			valid = append(valid, "-"+f.Shorthand)
		}
	})

	suggestions := suggest.Flag(unknown, valid)
	if len(suggestions) == 0 {
		return err
	}
	return fmt.Errorf("%s\n  Did you mean: %s", err, strings.Join(suggestions, ", "))
}

// flagErrorFunc is set once on rootCmd rather than on each child: cobra's
// Command.FlagErrorFunc walks up to the nearest ancestor that has one set,
// so every subcommand and sub-subcommand added by any file's init()
// inherits it regardless of init() order across the package.
func init() {
	rootCmd.AddCommand(chatCmd, historyCmd, userCmd, machineCmd)
	rootCmd.SetFlagErrorFunc(flagErrorFunc)
}
