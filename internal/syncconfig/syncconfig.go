// Package syncconfig resolves the handful of settings mcp-terminal reads
// from more than one source, applying an
// env-overrides-file-overrides-default precedence chain at each one.
package syncconfig

import (
	"os"
	"strings"
	"time"

	"github.com/mcpterminal/assistant/internal/config"
	"github.com/mcpterminal/assistant/internal/models"
	"github.com/mcpterminal/assistant/internal/syncengine"
)

// Environment variables recognized across commands.
const (
	EnvRemoteDBURL     = "REMOTE_DB_URL"
	EnvRemoteDBToken   = "REMOTE_DB_TOKEN"
	EnvRemoteDBSyncURL = "REMOTE_DB_SYNC_URL"
	EnvUserOverride    = "USER_OVERRIDE"
	EnvDebug           = "DEBUG"
)

const defaultHistoryMode = models.ScopeUser

// GetRemoteURL returns the Postgres connection string.
// Priority: REMOTE_DB_URL env > turso-config.json url > "".
func GetRemoteURL(homeDir string) string {
	if v := os.Getenv(EnvRemoteDBURL); v != "" {
		return v
	}
	cfg, err := config.Load(homeDir)
	if err == nil {
		return cfg.URL
	}
	return ""
}

// GetRemoteToken returns the Remote auth token.
// Priority: REMOTE_DB_TOKEN env > turso-config.json token > "".
func GetRemoteToken(homeDir string) string {
	if v := os.Getenv(EnvRemoteDBToken); v != "" {
		return v
	}
	cfg, err := config.Load(homeDir)
	if err == nil {
		return cfg.Token
	}
	return ""
}

// GetSyncURL returns the optional push/pull sync endpoint, distinct from
// the primary Remote connection used for direct reads/writes.
// Priority: REMOTE_DB_SYNC_URL env > turso-config.json sync_url > "".
func GetSyncURL(homeDir string) string {
	if v := os.Getenv(EnvRemoteDBSyncURL); v != "" {
		return v
	}
	cfg, err := config.Load(homeDir)
	if err == nil {
		return cfg.SyncURL
	}
	return ""
}

// GetUserOverride returns USER_OVERRIDE, which takes precedence over
// `chat --user` and any previously resolved identity for this process.
func GetUserOverride() string {
	return os.Getenv(EnvUserOverride)
}

// GetDebug reports whether DEBUG=1 is set, enabling verbose logging.
func GetDebug() bool {
	return os.Getenv(EnvDebug) == "1"
}

// GetSyncInterval returns the configured SyncEngine tick cadence.
// Priority: turso-config.json sync_interval > syncengine.DefaultInterval.
// There is deliberately no environment variable for this setting.
func GetSyncInterval(homeDir string) time.Duration {
	cfg, err := config.Load(homeDir)
	if err == nil && cfg.SyncInterval != "" {
		if d, err := time.ParseDuration(cfg.SyncInterval); err == nil && d > 0 {
			return d
		}
	}
	return syncengine.DefaultInterval
}

// GetHistoryMode returns the default Scope used when a CLI invocation
// doesn't specify --scope explicitly.
// Priority: turso-config.json history_mode > "user".
func GetHistoryMode(homeDir string) models.Scope {
	cfg, err := config.Load(homeDir)
	if err == nil && cfg.HistoryMode != "" {
		if s := models.Scope(strings.ToLower(cfg.HistoryMode)); isValidScope(s) {
			return s
		}
	}
	return defaultHistoryMode
}

func isValidScope(s models.Scope) bool {
	switch s {
	case models.ScopeGlobal, models.ScopeUser, models.ScopeMachine, models.ScopeHybrid:
		return true
	default:
		return false
	}
}
