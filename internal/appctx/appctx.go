// Package appctx assembles the process-wide App context: LocalStore,
// RemoteStore, EventBus, RequestController, SyncEngine and HistoryView,
// created once at startup and threaded through cmd/ explicitly rather
// than held as ambient package globals.
package appctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mcpterminal/assistant/internal/config"
	"github.com/mcpterminal/assistant/internal/errs"
	"github.com/mcpterminal/assistant/internal/eventbus"
	"github.com/mcpterminal/assistant/internal/historyview"
	"github.com/mcpterminal/assistant/internal/identity"
	"github.com/mcpterminal/assistant/internal/localstore"
	"github.com/mcpterminal/assistant/internal/models"
	"github.com/mcpterminal/assistant/internal/patternplanner"
	"github.com/mcpterminal/assistant/internal/remotestore"
	"github.com/mcpterminal/assistant/internal/requestctl"
	"github.com/mcpterminal/assistant/internal/shell"
	"github.com/mcpterminal/assistant/internal/syncconfig"
	"github.com/mcpterminal/assistant/internal/syncengine"
)

// eventBusBuffer bounds each EventBus subscriber's channel; sized well
// above the handful of concurrent UI/sync listeners mcp-terminal has.
const eventBusBuffer = 64

// App is the single process-wide handle every cmd/ subcommand receives.
// Remote, Sync and User are nil/zero in local-only mode, which is a
// supported, not a degraded, configuration.
type App struct {
	HomeDir string
	Debug   bool

	Local       *localstore.DB
	Remote      *remotestore.Store
	Bus         *eventbus.Bus
	Controller  *requestctl.Controller
	Sync        *syncengine.Engine
	HistoryView *historyview.View

	Machine models.Machine
	User    *models.User

	// syncRemote is set only when REMOTE_DB_SYNC_URL names a dedicated
	// sync endpoint distinct from the primary connection.
	syncRemote *remotestore.Store
	syncCancel context.CancelFunc
}

// Options narrows what New needs from command-line flags, layered over
// syncconfig's env/config-file resolution.
type Options struct {
	Username string // from `chat --user`; "" means no user scope
	Scope    models.Scope
}

// New wires the full App: resolves identity, opens LocalStore (always)
// and RemoteStore (when configured), starts SyncEngine in the
// background when Remote is reachable, and builds the RequestController
// and HistoryView on top. Any RemoteStore error short of a missing
// schema is non-fatal here; the App still starts, local-only.
func New(ctx context.Context, opts Options) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	app := &App{
		HomeDir: homeDir,
		Debug:   syncconfig.GetDebug(),
		Bus:     eventbus.New(eventBusBuffer),
	}

	local, err := localstore.Open(homeDir)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	app.Local = local

	machine, err := identity.RegisterMachine(ctx, local, homeDir)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("register machine: %w", err)
	}
	app.Machine = machine

	// One-shot backfill of the pre-SQLite history.json file; the rows it
	// produces ride the normal sync_queue upload path. A failed backfill
	// never blocks startup.
	if n, err := local.ImportLegacyHistory(ctx, machine.MachineID); err != nil {
		slog.Warn("backfill legacy history", "err", err)
	} else if n > 0 {
		slog.Info("backfilled legacy history", "count", n)
	}

	// Record the fingerprint in turso-config.json once, so admin tooling
	// inspecting the config can correlate it with the machines table
	// without re-deriving it.
	if cfg, err := config.Load(homeDir); err == nil && cfg.URL != "" && cfg.MachineID == "" {
		if err := config.SetMachineID(homeDir, machine.MachineID); err != nil {
			slog.Warn("record machine id in config", "err", err)
		}
	}

	username := opts.Username
	if override := syncconfig.GetUserOverride(); override != "" {
		username = override
	}

	remoteURL := syncconfig.GetRemoteURL(homeDir)
	remoteToken := syncconfig.GetRemoteToken(homeDir)
	if remoteURL != "" {
		remote, err := remotestore.Open(ctx, remoteURL, remoteToken)
		if err != nil {
			if isFatalStartup(err) {
				local.Close()
				return nil, err
			}
			slog.Warn("remote store unreachable at startup, continuing local-only", "error", err)
		} else {
			app.Remote = remote
		}
	}

	if username != "" {
		if app.Remote == nil {
			local.Close()
			return nil, errs.New(errs.KindUserNotFound, "a username was given but no Remote store is configured")
		}
		u, err := identity.ResolveUser(ctx, app.Remote, username)
		if err != nil {
			app.Remote.Close()
			local.Close()
			return nil, err
		}
		app.User = &u
	}

	machineID := machine.MachineID
	cfg := requestctl.Config{
		Scope:     resolveScope(opts.Scope, homeDir),
		MachineID: &machineID,
		Patterns:  patternplanner.NewRegistry(),
		Shell:     shell.Exec{},
	}
	for _, p := range patternplanner.Builtins() {
		cfg.Patterns.Register(p)
	}
	if app.User != nil {
		cfg.UserID = &app.User.ID
	}

	// requestctl/historyview take RemoteStore as an interface; a nil
	// *remotestore.Store assigned straight into it would produce a
	// non-nil interface wrapping a nil pointer, so these stay untyped
	// nil (the interfaces' own "== nil" checks) unless Remote is set.
	var rsForCtl requestctl.RemoteStore
	var rsForHistory historyview.RemoteStore
	if app.Remote != nil {
		rsForCtl = app.Remote
		rsForHistory = app.Remote
	}

	// ai stays nil here; cmd/chat.go supplies a concrete
	// aiprovider.Provider before the first Ask.
	app.Controller = requestctl.New(local, rsForCtl, nil, app.Bus, cfg)
	app.HistoryView = historyview.New(local, rsForHistory)

	if app.Remote != nil {
		// A dedicated sync endpoint keeps bulk upload/download traffic
		// off the interactive connection when the deployment provides
		// one; otherwise the engine shares the primary handle.
		var syncStore syncengine.RemoteStore = app.Remote
		if syncURL := syncconfig.GetSyncURL(homeDir); syncURL != "" && syncURL != remoteURL {
			if s, err := remotestore.Open(ctx, syncURL, remoteToken); err != nil {
				slog.Warn("sync endpoint unreachable, sync engine using primary connection", "error", err)
			} else {
				app.syncRemote = s
				syncStore = s
			}
		}

		syncCfg := syncengine.Config{
			Interval: syncconfig.GetSyncInterval(homeDir),
			HasUser:  app.User != nil,
		}
		app.Sync = syncengine.New(local, syncStore, app.Bus, syncCfg)
		syncCtx, cancel := context.WithCancel(context.Background())
		app.syncCancel = cancel
		go app.Sync.Run(syncCtx)
	}

	return app, nil
}

// Close stops SyncEngine and releases both store handles. Safe to call
// once, typically deferred immediately after New succeeds.
func (a *App) Close() {
	if a.syncCancel != nil {
		a.syncCancel()
		a.Sync.Stop()
	}
	if a.syncRemote != nil {
		a.syncRemote.Close()
	}
	if a.Remote != nil {
		a.Remote.Close()
	}
	if a.Local != nil {
		a.Local.Close()
	}
}

func resolveScope(flagScope models.Scope, homeDir string) models.Scope {
	if flagScope != "" {
		return flagScope
	}
	return syncconfig.GetHistoryMode(homeDir)
}

// isFatalStartup reports whether err carries a Kind whose policy is to
// abort session startup rather than fall back to local-only mode — a
// missing schema means the administrator never ran the migration, not a
// transient network hiccup worth retrying.
func isFatalStartup(err error) bool {
	var appErr *errs.Error
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Kind.Fatal()
}
