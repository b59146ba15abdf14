// Package models defines the core data types shared across mcp-terminal's
// stores, controller, and sync engine: users, machines, history entries,
// and the bookkeeping rows that drive offline sync and conflict logging.
package models

import "time"

// Status is the lifecycle state of a HistoryEntry. Transitions form a DAG:
// Pending -> Processing -> {Completed, Cancelled, Error}, and Pending ->
// Cancelled directly. Backward transitions are never valid.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusError      Status = "error"
)

// IsTerminal reports whether the status is one a HistoryEntry cannot leave.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusError:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// Scope selects which Remote history table(s) a write or read targets.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeUser    Scope = "user"
	ScopeMachine Scope = "machine"
	ScopeHybrid  Scope = "hybrid"
)

// SyncStatus tracks whether a LocalStore row has been uploaded to Remote.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// Limits on persisted field sizes, enforced at the LocalStore/RemoteStore
// boundary.
const (
	MaxCommandBytes  = 10 * 1024
	MaxResponseBytes = 100 * 1024
	TruncatedMarker  = "…[truncated]"
	CancelledText    = "[Cancelled by user]"
)

// User is keyed externally by Username; mutated only by admin operations.
type User struct {
	ID       int64
	Username string
	Name     string
	Email    string
	Active   bool
}

// Machine is the local fingerprint record, auto-registered on first run.
type Machine struct {
	MachineID     string
	Hostname      string
	IP            string
	OSInfo        string
	FirstSeen     time.Time
	LastSeen      time.Time
	TotalCommands int64
}

// HistoryEntry is the central entity, logically identical across the
// Local and Remote stores (minus the local-only sync bookkeeping fields).
type HistoryEntry struct {
	ID              string
	RequestID       string
	Command         string
	Response        *string
	Status          Status
	UserID          *int64
	MachineID       *string
	SessionID       string
	Timestamp       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	TokensUsed      *int64
	ExecutionTimeMS *int64

	// Local-only bookkeeping; zero-valued when sourced from RemoteStore.
	SyncStatus SyncStatus
	LastSynced *time.Time
}

// TruncateCommand truncates a command to MaxCommandBytes, appending the
// truncation marker when it overflows.
func TruncateCommand(s string) string {
	return truncate(s, MaxCommandBytes)
}

// TruncateResponse truncates a response to MaxResponseBytes, appending the
// truncation marker when it overflows.
func TruncateResponse(s string) string {
	return truncate(s, MaxResponseBytes)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - len(TruncatedMarker)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + TruncatedMarker
}

// SyncQueueItem is a local-only FIFO-by-priority record of a pending
// upload to RemoteStore.
type SyncQueueItem struct {
	ID         int64
	Op         string // "insert" | "update"
	Table      string
	RecordID   string
	Payload    []byte // JSON-encoded HistoryEntry
	Priority   int
	RetryCount int
	LastError  string
	CreatedAt  time.Time
}

// MaxSyncErrorChars bounds how much of a sync failure message is retained.
const MaxSyncErrorChars = 500

// ConflictLogEntry records a (local, remote) pair that shared a
// command_uuid but disagreed, and how the conflict was resolved.
type ConflictLogEntry struct {
	CommandUUID string
	LocalData   []byte // JSON snapshot
	RemoteData  []byte // JSON snapshot
	Resolution  string // "kept_remote" | "kept_local" | "merged" | "manual_skip"
	ResolvedAt  time.Time
}

// TursoConfig is the on-disk shape of <home>/.mcp-terminal/turso-config.json.
type TursoConfig struct {
	URL           string    `json:"url"`
	Token         string    `json:"token"`
	SyncURL       string    `json:"sync_url"`
	SyncInterval  string    `json:"sync_interval"`
	HistoryMode   string    `json:"history_mode"`
	MachineID     string    `json:"machine_id"`
	IsAdminConfig bool      `json:"is_admin_config"`
	CreatedAt     time.Time `json:"created_at"`
}

// HistoryFilter narrows a HistoryView/Store read.
type HistoryFilter struct {
	UserID    *int64
	MachineID *string
	Scope     Scope
	Query     string
	Since     *time.Time
}
