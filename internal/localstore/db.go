// Package localstore implements the embedded local store: history
// cache, sync queue, conflict log, and machine registry, replicated
// against the remote store by the sync engine. SQLite-backed with WAL
// journaling, a cross-process advisory write lock, and a forward-only
// migrations runner.
package localstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the LocalStore's SQLite connection.
type DB struct {
	conn    *sql.DB
	homeDir string
}

// openConn opens a SQLite connection with safe defaults for multi-process
// access: WAL journaling, a busy timeout for contention, and a pinned
// single open connection (SQLite permits only one writer).
func openConn(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	return conn, nil
}

// Open opens (creating if necessary) the LocalStore database and runs any
// pending migrations.
func Open(homeDir string) (*DB, error) {
	dbPath := DBPath(homeDir)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	conn, err := openConn(dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	db := &DB{conn: conn, homeDir: homeDir}
	if _, err := db.runMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Close flushes the WAL back into the main file and closes the connection.
// The TRUNCATE checkpoint prevents stale -wal/-shm files from confusing
// the next process to open this database.
func (db *DB) Close() error {
	db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

// HomeDir returns the configured mcp-terminal home directory.
func (db *DB) HomeDir() string {
	return db.homeDir
}

// withWriteLock executes fn while holding the cross-process write lock,
// preventing concurrent writers (e.g. a `chat` session and a background
// `sync` invocation) from corrupting the WAL.
func (db *DB) withWriteLock(fn func() error) error {
	locker := newWriteLocker(db.homeDir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}

func (db *DB) runMigrations() (int, error) {
	if _, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_info (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create schema_info: %w", err)
	}

	current := db.schemaVersion()
	if current >= SchemaVersion {
		return 0, nil
	}

	ran := 0
	for _, m := range Migrations {
		if m.Version > current {
			if _, err := db.conn.Exec(m.SQL); err != nil {
				return ran, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
			if err := db.setSchemaVersion(m.Version); err != nil {
				return ran, fmt.Errorf("set version %d: %w", m.Version, err)
			}
			ran++
		}
	}
	if current == 0 {
		if err := db.setSchemaVersion(SchemaVersion); err != nil {
			return ran, err
		}
	}
	return ran, nil
}

func (db *DB) schemaVersion() int {
	var v string
	if err := db.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&v); err != nil {
		return 0
	}
	var n int
	fmt.Sscanf(v, "%d", &n)
	return n
}

func (db *DB) setSchemaVersion(version int) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`, fmt.Sprintf("%d", version))
	return err
}
