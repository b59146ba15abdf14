package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpterminal/assistant/internal/errs"
	"github.com/mcpterminal/assistant/internal/models"
)

// SaveInput is the argument to SaveCommand: the pieces of a HistoryEntry
// known at creation time (before an AI answer exists).
type SaveInput struct {
	RequestID string
	Command   string
	Response  *string
	Status    models.Status
	UserID    *int64
	MachineID *string
	SessionID string
	Timestamp time.Time
}

// SaveCommand inserts a new history_cache row and enqueues a priority-0
// insert sync_queue item. Oversized command/response text is truncated
// with an explicit marker; an empty command fails with errs.KindBadInput
// and nothing is written.
func (db *DB) SaveCommand(ctx context.Context, in SaveInput) (string, error) {
	if in.Command == "" {
		return "", errs.New(errs.KindBadInput, "command must not be empty")
	}

	id, err := generateID()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	commandUUID := generateCommandUUID()
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}
	command := models.TruncateCommand(in.Command)

	var response *string
	if in.Response != nil {
		r := models.TruncateResponse(*in.Response)
		response = &r
	}

	var txErr error
	err = db.withWriteLock(func() error {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO history_cache
				(id, request_id, command, response, status, user_id, machine_id,
				 session_id, timestamp, updated_at, completed_at, sync_status, command_uuid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 'pending', ?)`,
			id, in.RequestID, command, response, string(in.Status),
			nullInt64(in.UserID), nullString(in.MachineID), in.SessionID,
			in.Timestamp, in.Timestamp, commandUUID,
		)
		if err != nil {
			return fmt.Errorf("insert history_cache: %w", err)
		}

		entry := models.HistoryEntry{
			ID: id, RequestID: in.RequestID, Command: command, Response: response,
			Status: in.Status, UserID: in.UserID, MachineID: in.MachineID,
			SessionID: in.SessionID, Timestamp: in.Timestamp, UpdatedAt: in.Timestamp,
		}
		if err := enqueueSync(ctx, tx, "insert", commandUUID, entry); err != nil {
			return err
		}

		txErr = tx.Commit()
		return txErr
	})
	if err != nil {
		return "", err
	}
	return commandUUID, nil
}

// UpdateStatus transitions the row for request_id to status, optionally
// setting response/completed_at/telemetry, and re-queues it for upload.
// Mirrors RemoteStore.UpdateStatusByRequestID so the two stores never
// disagree about a request's terminal status for long.
func (db *DB) UpdateStatus(ctx context.Context, requestID string, status models.Status, response *string, tokensUsed, execTimeMS *int64) error {
	now := time.Now().UTC()
	var completedAt any
	if status.IsTerminal() {
		completedAt = now
	}

	var respVal any
	if response != nil {
		r := models.TruncateResponse(*response)
		respVal = r
	}

	return db.withWriteLock(func() error {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var commandUUID string
		if err := tx.QueryRowContext(ctx, `SELECT command_uuid FROM history_cache WHERE request_id = ?`, requestID).Scan(&commandUUID); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("no local row for request_id %s", requestID)
			}
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE history_cache
			SET status = ?, response = COALESCE(?, response), updated_at = ?,
			    completed_at = COALESCE(?, completed_at), tokens_used = COALESCE(?, tokens_used),
			    execution_time_ms = COALESCE(?, execution_time_ms), sync_status = 'pending'
			WHERE request_id = ?`,
			string(status), respVal, now, completedAt, nullInt64(tokensUsed), nullInt64(execTimeMS), requestID)
		if err != nil {
			return fmt.Errorf("update history_cache: %w", err)
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return fmt.Errorf("no local row for request_id %s", requestID)
		}

		entry, err := scanHistoryByUUID(ctx, tx, commandUUID)
		if err != nil {
			return err
		}
		if err := enqueueSync(ctx, tx, "update", commandUUID, entry); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// GetByRequestID returns the history_cache row for request_id, or nil if
// no local row has been recorded for it yet — used by cmd/chat.go to
// render the answer text once Ask's synchronous call returns, since Ask
// itself only returns the request_id, not the persisted response.
func (db *DB) GetByRequestID(ctx context.Context, requestID string) (*models.HistoryEntry, error) {
	e, err := scanHistory(db.conn.QueryRowContext(ctx, `
		SELECT id, request_id, command, response, status, user_id, machine_id,
		       session_id, timestamp, updated_at, completed_at, tokens_used,
		       execution_time_ms, sync_status, last_synced
		FROM history_cache WHERE request_id = ?`, requestID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// GetHistory returns history_cache rows matching filter, newest-first.
func (db *DB) GetHistory(ctx context.Context, filter models.HistoryFilter, limit, offset int) ([]models.HistoryEntry, error) {
	query := `SELECT id, request_id, command, response, status, user_id, machine_id,
	                 session_id, timestamp, updated_at, completed_at, tokens_used,
	                 execution_time_ms, sync_status, last_synced
	          FROM history_cache WHERE 1=1`
	var args []any
	if filter.UserID != nil {
		query += " AND user_id = ?"
		args = append(args, *filter.UserID)
	}
	if filter.MachineID != nil {
		query += " AND machine_id = ?"
		args = append(args, *filter.MachineID)
	}
	if filter.Query != "" {
		query += " AND (command LIKE ? OR response LIKE ?)"
		like := "%" + filter.Query + "%"
		args = append(args, like, like)
	}
	if filter.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, *filter.Since)
	}
	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		e, err := scanHistoryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes synced rows older than daysToKeep days.
func (db *DB) Cleanup(ctx context.Context, daysToKeep int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep)
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM history_cache WHERE sync_status = 'synced' AND timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup history: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistoryRow(rows *sql.Rows) (models.HistoryEntry, error) {
	return scanHistory(rows)
}

func scanHistory(s rowScanner) (models.HistoryEntry, error) {
	var (
		e                                     models.HistoryEntry
		response, syncStatus                  sql.NullString
		userID                                sql.NullInt64
		machineID                             sql.NullString
		completedAt, lastSynced               sql.NullTime
		tokensUsed, execTimeMS                sql.NullInt64
		status                                string
	)
	if err := s.Scan(&e.ID, &e.RequestID, &e.Command, &response, &status, &userID, &machineID,
		&e.SessionID, &e.Timestamp, &e.UpdatedAt, &completedAt, &tokensUsed, &execTimeMS,
		&syncStatus, &lastSynced); err != nil {
		return e, fmt.Errorf("scan history row: %w", err)
	}
	e.Status = models.Status(status)
	if response.Valid {
		r := response.String
		e.Response = &r
	}
	if userID.Valid {
		u := userID.Int64
		e.UserID = &u
	}
	if machineID.Valid {
		m := machineID.String
		e.MachineID = &m
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	if tokensUsed.Valid {
		t := tokensUsed.Int64
		e.TokensUsed = &t
	}
	if execTimeMS.Valid {
		t := execTimeMS.Int64
		e.ExecutionTimeMS = &t
	}
	if syncStatus.Valid {
		e.SyncStatus = models.SyncStatus(syncStatus.String)
	}
	if lastSynced.Valid {
		t := lastSynced.Time
		e.LastSynced = &t
	}
	return e, nil
}

func scanHistoryByUUID(ctx context.Context, tx *sql.Tx, commandUUID string) (models.HistoryEntry, error) {
	row := tx.QueryRowContext(ctx, `SELECT id, request_id, command, response, status, user_id, machine_id,
	                 session_id, timestamp, updated_at, completed_at, tokens_used,
	                 execution_time_ms, sync_status, last_synced
	          FROM history_cache WHERE command_uuid = ?`, commandUUID)
	return scanHistory(row)
}

func enqueueSync(ctx context.Context, tx *sql.Tx, op, commandUUID string, entry models.HistoryEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal sync payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_queue (op, "table", record_id, payload, priority, retry_count, created_at)
		VALUES (?, 'history_cache', ?, ?, 0, 0, ?)`,
		op, commandUUID, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueue sync item: %w", err)
	}
	return nil
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
