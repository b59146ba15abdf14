package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcpterminal/assistant/internal/models"
)

// legacyImportedKey marks the one-shot history.json backfill as done in
// schema_info, so the file is read at most once per database lifetime.
const legacyImportedKey = "legacy_history_imported"

// legacyHistoryPath returns the pre-sync history file earlier releases
// wrote before the SQLite cache existed. Migration source only; the file
// itself is never rewritten or deleted.
func legacyHistoryPath(homeDir string) string {
	return filepath.Join(homeDir, ".mcp-terminal", "history.json")
}

// legacyEntry is the on-disk shape of one history.json record. Older
// files carry only command/response/timestamp; session_id is optional.
type legacyEntry struct {
	Command   string `json:"command"`
	Response  string `json:"response"`
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"session_id"`
}

// ImportLegacyHistory performs the one-shot backfill of history.json into
// history_cache. Each usable record becomes a completed row with
// sync_status 'pending' plus a sync_queue insert op, so the normal upload
// pipeline carries the legacy history to Remote. Runs at most once: a
// schema_info marker is written whether or not the file existed, and
// every subsequent call returns (0, nil) immediately.
func (db *DB) ImportLegacyHistory(ctx context.Context, machineID string) (int, error) {
	var done string
	if err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM schema_info WHERE key = ?`, legacyImportedKey).Scan(&done); err == nil {
		return 0, nil
	}

	raw, err := os.ReadFile(legacyHistoryPath(db.homeDir))
	if os.IsNotExist(err) {
		return 0, db.markLegacyImported(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("read legacy history: %w", err)
	}

	var legacy []legacyEntry
	if err := json.Unmarshal(raw, &legacy); err != nil {
		// A corrupt file is not worth refusing to start over; mark the
		// backfill done so it is not re-attempted every launch.
		if markErr := db.markLegacyImported(ctx); markErr != nil {
			return 0, markErr
		}
		return 0, fmt.Errorf("parse legacy history: %w", err)
	}

	imported := 0
	err = db.withWriteLock(func() error {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, le := range legacy {
			if le.Command == "" {
				continue
			}
			n, err := importLegacyEntry(ctx, tx, le, machineID)
			if err != nil {
				return err
			}
			imported += n
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO schema_info (key, value) VALUES (?, '1')`, legacyImportedKey); err != nil {
			return fmt.Errorf("mark legacy imported: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return imported, err
	}
	return imported, nil
}

// importLegacyEntry inserts a single legacy record, synthesizing the
// identifiers the legacy format predates: a request_id derived from the
// record's own timestamp and a fresh command_uuid. Returns how many rows
// were actually written (0 when the request_id already exists).
func importLegacyEntry(ctx context.Context, tx *sql.Tx, le legacyEntry, machineID string) (int, error) {
	id, err := generateID()
	if err != nil {
		return 0, fmt.Errorf("generate id: %w", err)
	}
	commandUUID := generateCommandUUID()

	ts := time.Unix(le.Timestamp, 0).UTC()
	if le.Timestamp == 0 {
		ts = time.Now().UTC()
	}
	requestID := fmt.Sprintf("req_%d_%s", ts.UnixMilli(), id[:9])

	command := models.TruncateCommand(le.Command)
	var response *string
	status := models.StatusCompleted
	if le.Response != "" {
		r := models.TruncateResponse(le.Response)
		response = &r
	}

	sessionID := le.SessionID
	if sessionID == "" {
		sessionID = "legacy"
	}

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO history_cache
			(id, request_id, command, response, status, user_id, machine_id,
			 session_id, timestamp, updated_at, completed_at, sync_status, command_uuid)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?, 'pending', ?)`,
		id, requestID, command, response, string(status),
		machineID, sessionID, ts, ts, ts, commandUUID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert legacy row: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return 0, nil
	}

	mid := machineID
	entry := models.HistoryEntry{
		ID: id, RequestID: requestID, Command: command, Response: response,
		Status: status, MachineID: &mid, SessionID: sessionID,
		Timestamp: ts, UpdatedAt: ts, CompletedAt: &ts,
	}
	if err := enqueueSync(ctx, tx, "insert", commandUUID, entry); err != nil {
		return 0, err
	}
	return 1, nil
}

func (db *DB) markLegacyImported(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO schema_info (key, value) VALUES (?, '1')`, legacyImportedKey)
	return err
}
