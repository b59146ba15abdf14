// Package remotestore implements the network-backed half of the history
// store: the same logical schema as localstore, fanned out across three
// scope tables (global/user/machine) on a shared PostgreSQL database.
package remotestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcpterminal/assistant/internal/errs"
	"github.com/mcpterminal/assistant/internal/models"
)

const probeTimeout = 5 * time.Second

// Store wraps a single long-lived pgx connection pool: one handle,
// explicit parameter arrays, a SELECT 1 probe at startup.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and verifies the administrator has already
// provisioned the required tables. It never creates schema itself; a
// database missing any required table is a fatal SchemaMissing error.
// A non-empty token overrides the connection password, so REMOTE_DB_TOKEN
// can be supplied separately from a credential-free URL.
func Open(ctx context.Context, databaseURL, token string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if token != "" {
		cfg.ConnConfig.Password = token
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to remote database: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	var one int
	if err := pool.QueryRow(probeCtx, "SELECT 1").Scan(&one); err != nil {
		pool.Close()
		return nil, errs.Wrap(errs.KindNetworkTransient, "remote store unreachable", err)
	}

	s := &Store{pool: pool}
	if err := s.verifySchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping re-probes connectivity, used by the sync engine to decide whether
// to attempt a sync pass.
func (s *Store) Ping(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	var one int
	if err := s.pool.QueryRow(probeCtx, "SELECT 1").Scan(&one); err != nil {
		return errs.Wrap(errs.KindNetworkTransient, "remote store unreachable", err)
	}
	return nil
}

func (s *Store) verifySchema(ctx context.Context) error {
	for _, table := range requiredTables {
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`,
			table,
		).Scan(&exists)
		if err != nil {
			return errs.Wrap(errs.KindNetworkTransient, "verify remote schema", err)
		}
		if !exists {
			return errs.New(errs.KindSchemaMissing, fmt.Sprintf("required table %q is absent; run remotestore.Bootstrap or the administrator's migration", table))
		}
	}
	return nil
}

// Bootstrap creates the required tables if they do not exist. It is not
// called by Open; schema creation is the administrator's responsibility,
// so this exists only for admin tooling that explicitly opts into
// provisioning a fresh database.
func Bootstrap(ctx context.Context, databaseURL string) error {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect to remote database: %w", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create remote schema: %w", err)
	}
	return nil
}

// ScopeMeta carries the ownership/session fields common to every scoped
// insert, mirroring localstore.SaveInput's shape.
type ScopeMeta struct {
	UserID    *int64
	MachineID *string
	SessionID string
	Timestamp time.Time
}

func (s *Store) saveScoped(ctx context.Context, table, requestID, command string, response *string, status models.Status, meta ScopeMeta) (string, error) {
	ts := meta.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	command = models.TruncateCommand(command)
	if response != nil {
		r := models.TruncateResponse(*response)
		response = &r
	}

	// Inserts must tolerate a duplicate request_id: upload is
	// at-least-once, so a retried queue item may race a row that already
	// landed (and possibly already advanced past pending). DO NOTHING
	// plus a lookup keeps the existing row's state intact.
	var id string
	query := fmt.Sprintf(`
		INSERT INTO %s (request_id, command, response, status, user_id, machine_id, session_id, timestamp, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING id::text`, table)
	err := s.pool.QueryRow(ctx, query, requestID, command, response, string(status), meta.UserID, meta.MachineID, meta.SessionID, ts).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		err = s.pool.QueryRow(ctx,
			fmt.Sprintf(`SELECT id::text FROM %s WHERE request_id = $1`, table), requestID).Scan(&id)
	}
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", table, err)
	}
	return id, nil
}

// SaveGlobal writes a history_global row (history mode "global": every
// machine/user shares one visible history).
func (s *Store) SaveGlobal(ctx context.Context, requestID, command string, response *string, status models.Status, meta ScopeMeta) (string, error) {
	return s.saveScoped(ctx, "history_global", requestID, command, response, status, meta)
}

// SaveUser writes a history_user row. history_user carries the mandatory
// UNIQUE(request_id) index that guards against duplicate inserts on retry.
func (s *Store) SaveUser(ctx context.Context, requestID, command string, response *string, status models.Status, meta ScopeMeta) (string, error) {
	return s.saveScoped(ctx, "history_user", requestID, command, response, status, meta)
}

// SaveMachine writes a history_machine row.
func (s *Store) SaveMachine(ctx context.Context, requestID, command string, response *string, status models.Status, meta ScopeMeta) (string, error) {
	return s.saveScoped(ctx, "history_machine", requestID, command, response, status, meta)
}

// UpdateStatusByRequestID updates status/updated_at/completed_at (and,
// when provided, response) across whichever of the three scope tables
// contains request_id. A hybrid-scope request has rows in more than one
// scope table, and each of them is updated; the call is idempotent with
// respect to repeated updates for the same request_id.
func (s *Store) UpdateStatusByRequestID(ctx context.Context, requestID string, status models.Status, response *string, tokensUsed, execTimeMS *int64) error {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"history_global", "history_user", "history_machine"} {
		query := fmt.Sprintf(`
			UPDATE %s SET
				status = $1,
				response = COALESCE($2, response),
				updated_at = $3,
				completed_at = COALESCE($4, completed_at),
				tokens_used = COALESCE($5, tokens_used),
				execution_time_ms = COALESCE($6, execution_time_ms)
			WHERE request_id = $7`, table)
		if _, err := tx.Exec(ctx, query, string(status), respVal, now, completedAt, tokensUsed, execTimeMS, requestID); err != nil {
			return fmt.Errorf("update %s: %w", table, err)
		}
	}
	return tx.Commit(ctx)
}

// GetHistory reads from a single scope, or unions all three over the
// last 7 days when scope == "hybrid".
func (s *Store) GetHistory(ctx context.Context, scope string, limit, offset int) ([]models.HistoryEntry, error) {
	if scope == "hybrid" {
		return s.getHybridHistory(ctx, limit, offset)
	}
	table, err := tableForScope(scope)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id::text, request_id, command, response, status, user_id, machine_id,
		       session_id, timestamp, updated_at, completed_at, tokens_used, execution_time_ms
		FROM %s ORDER BY timestamp DESC LIMIT $1 OFFSET $2`, table), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

const hybridWindow = 7 * 24 * time.Hour

func (s *Store) getHybridHistory(ctx context.Context, limit, offset int) ([]models.HistoryEntry, error) {
	since := time.Now().UTC().Add(-hybridWindow)
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, request_id, command, response, status, user_id, machine_id,
		       session_id, timestamp, updated_at, completed_at, tokens_used, execution_time_ms
		FROM history_global WHERE timestamp >= $1
		UNION ALL
		SELECT id::text, request_id, command, response, status, user_id, machine_id,
		       session_id, timestamp, updated_at, completed_at, tokens_used, execution_time_ms
		FROM history_user WHERE timestamp >= $1
		UNION ALL
		SELECT id::text, request_id, command, response, status, user_id, machine_id,
		       session_id, timestamp, updated_at, completed_at, tokens_used, execution_time_ms
		FROM history_machine WHERE timestamp >= $1
		ORDER BY timestamp DESC LIMIT $2 OFFSET $3`, since, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query hybrid history: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func tableForScope(scope string) (string, error) {
	switch scope {
	case "global":
		return "history_global", nil
	case "user":
		return "history_user", nil
	case "machine":
		return "history_machine", nil
	default:
		return "", errs.New(errs.KindBadInput, fmt.Sprintf("unknown history scope %q", scope))
	}
}

// GetUserByUsername implements identity.UserStore against the remote
// users table.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, name, email, active FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.Active)
	if err != nil {
		return nil, fmt.Errorf("get user %q: %w", username, err)
	}
	return &u, nil
}

// UpsertMachine implements identity.MachineStore against the remote
// machines table.
func (s *Store) UpsertMachine(ctx context.Context, m models.Machine) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO machines (machine_id, hostname, ip, os_info, first_seen, last_seen, total_commands)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		ON CONFLICT (machine_id) DO UPDATE SET
			hostname = excluded.hostname,
			ip = excluded.ip,
			os_info = excluded.os_info,
			last_seen = excluded.last_seen`,
		m.MachineID, m.Hostname, m.IP, m.OSInfo, m.FirstSeen, m.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert machine: %w", err)
	}
	return nil
}
