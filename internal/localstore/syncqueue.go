package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mcpterminal/assistant/internal/models"
)

// MaxRetries bounds how many times SyncEngine will retry an upload before
// a sync_queue item is considered permanently failed.
const MaxRetries = 5

// GetPendingSync returns up to limit queued items, ordered FIFO within
// priority class, skipping items that have exhausted their retries.
func (db *DB) GetPendingSync(ctx context.Context, limit int) ([]models.SyncQueueItem, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, op, "table", record_id, payload, priority, retry_count, last_error, created_at
		FROM sync_queue
		WHERE retry_count < ?
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`, MaxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync_queue: %w", err)
	}
	defer rows.Close()

	var out []models.SyncQueueItem
	for rows.Next() {
		var it models.SyncQueueItem
		var lastErr sql.NullString
		if err := rows.Scan(&it.ID, &it.Op, &it.Table, &it.RecordID, &it.Payload, &it.Priority, &it.RetryCount, &lastErr, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sync_queue row: %w", err)
		}
		it.LastError = lastErr.String
		out = append(out, it)
	}
	return out, rows.Err()
}

// MarkSynced flags the history_cache rows identified by command_uuid as
// synced, transactionally.
func (db *DB) MarkSynced(ctx context.Context, commandUUIDs []string) error {
	if len(commandUUIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE history_cache SET sync_status = 'synced', last_synced = ? WHERE command_uuid = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, uuid := range commandUUIDs {
		if _, err := stmt.ExecContext(ctx, now, uuid); err != nil {
			return fmt.Errorf("mark synced %s: %w", uuid, err)
		}
	}
	return tx.Commit()
}

// ClearSyncQueue removes the given sync_queue rows transactionally.
func (db *DB) ClearSyncQueue(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM sync_queue WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("clear sync_queue %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// IncrementRetryCount bumps retry_count and records a truncated error
// message for a sync_queue item that failed to upload.
func (db *DB) IncrementRetryCount(ctx context.Context, id int64, uploadErr error) error {
	msg := ""
	if uploadErr != nil {
		msg = uploadErr.Error()
		if len(msg) > models.MaxSyncErrorChars {
			msg = msg[:models.MaxSyncErrorChars]
		}
	}
	_, err := db.conn.ExecContext(ctx,
		`UPDATE sync_queue SET retry_count = retry_count + 1, last_error = ? WHERE id = ?`, msg, id)
	if err != nil {
		return fmt.Errorf("increment retry count %d: %w", id, err)
	}
	return nil
}

// PurgeExhausted deletes sync_queue rows that have exhausted their retries
// and are older than minAge, per SyncEngine's cleanup phase.
func (db *DB) PurgeExhausted(ctx context.Context, minAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-minAge)
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE retry_count >= ? AND created_at < ?`, MaxRetries, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge exhausted sync_queue rows: %w", err)
	}
	return res.RowsAffected()
}

// ImportHistory inserts each entry (with command_uuid set to its
// request_id) or, when a row with that request_id already exists, updates
// it in place, and marks the row synced. Calling ImportHistory(x) twice is
// equivalent to calling it once.
func (db *DB) ImportHistory(ctx context.Context, entries []models.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return db.withWriteLock(func() error {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, e := range entries {
			commandUUID := e.RequestID // remote rows key sync identity by request_id
			if commandUUID == "" {
				continue
			}
			id := e.ID
			if id == "" {
				id, err = generateID()
				if err != nil {
					return err
				}
			}
			res, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO history_cache
					(id, request_id, command, response, status, user_id, machine_id,
					 session_id, timestamp, updated_at, completed_at, sync_status, last_synced, command_uuid)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'synced', ?, ?)`,
				id, e.RequestID, e.Command, e.Response, string(e.Status),
				nullInt64(e.UserID), nullString(e.MachineID), e.SessionID,
				e.Timestamp, e.UpdatedAt, e.CompletedAt, time.Now().UTC(), commandUUID,
			)
			if err != nil {
				return fmt.Errorf("import history %s: %w", e.RequestID, err)
			}
			if rows, _ := res.RowsAffected(); rows == 0 {
				// Already present locally — update in place to the remote
				// winner, preserving idempotence. Keyed by request_id, not
				// command_uuid: a locally-originated row carries its own
				// random command_uuid, and request_id is the identity the
				// two stores actually share.
				if _, err := tx.ExecContext(ctx, `
					UPDATE history_cache
					SET command = ?, response = ?, status = ?, updated_at = ?,
					    completed_at = ?, sync_status = 'synced', last_synced = ?
					WHERE request_id = ?`,
					e.Command, e.Response, string(e.Status), e.UpdatedAt, e.CompletedAt, time.Now().UTC(), e.RequestID,
				); err != nil {
					return fmt.Errorf("update imported history %s: %w", e.RequestID, err)
				}
			}
		}
		return tx.Commit()
	})
}

// GetSyncMetadata returns the current sync watermark, or the zero time
// and false if none has been recorded yet.
func (db *DB) GetSyncMetadata(ctx context.Context) (time.Time, bool, error) {
	var t sql.NullTime
	err := db.conn.QueryRowContext(ctx, `SELECT last_sync_time FROM sync_metadata WHERE id = 1`).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read sync_metadata: %w", err)
	}
	if !t.Valid {
		return time.Time{}, false, nil
	}
	return t.Time, true, nil
}

// SetSyncMetadata advances the sync watermark.
func (db *DB) SetSyncMetadata(ctx context.Context, lastSyncTime time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_metadata (id, last_sync_time) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET last_sync_time = excluded.last_sync_time`, lastSyncTime)
	if err != nil {
		return fmt.Errorf("set sync_metadata: %w", err)
	}
	return nil
}

// LogConflict appends a resolved conflict to the conflict_log.
func (db *DB) LogConflict(ctx context.Context, entry models.ConflictLogEntry) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO conflict_log (command_uuid, local_data, remote_data, resolution, resolved_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.CommandUUID, string(entry.LocalData), string(entry.RemoteData), entry.Resolution, entry.ResolvedAt)
	if err != nil {
		return fmt.Errorf("log conflict: %w", err)
	}
	return nil
}

