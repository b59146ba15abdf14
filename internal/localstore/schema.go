package localstore

// schema is the LocalStore DDL. sync_metadata is a single-row table
// holding the sync watermark.
const schema = `
CREATE TABLE IF NOT EXISTS history_cache (
	id               TEXT PRIMARY KEY,
	request_id       TEXT NOT NULL UNIQUE,
	command          TEXT NOT NULL,
	response         TEXT,
	status           TEXT NOT NULL,
	user_id          INTEGER,
	machine_id       TEXT,
	session_id       TEXT NOT NULL,
	timestamp        DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL,
	completed_at     DATETIME,
	tokens_used      INTEGER,
	execution_time_ms INTEGER,
	sync_status      TEXT NOT NULL DEFAULT 'pending',
	last_synced      DATETIME,
	command_uuid     TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_history_timestamp ON history_cache(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_history_user ON history_cache(user_id);
CREATE INDEX IF NOT EXISTS idx_history_machine ON history_cache(machine_id);
CREATE INDEX IF NOT EXISTS idx_history_sync_status ON history_cache(sync_status);
CREATE INDEX IF NOT EXISTS idx_history_command_uuid ON history_cache(command_uuid);

CREATE TABLE IF NOT EXISTS sync_queue (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	op          TEXT NOT NULL,
	"table"     TEXT NOT NULL,
	record_id   TEXT NOT NULL,
	payload     TEXT NOT NULL,
	priority    INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sync_queue_priority ON sync_queue(priority DESC, created_at ASC);

CREATE TABLE IF NOT EXISTS sync_metadata (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	last_sync_time DATETIME
);

CREATE TABLE IF NOT EXISTS conflict_log (
	command_uuid TEXT NOT NULL,
	local_data   TEXT NOT NULL,
	remote_data  TEXT NOT NULL,
	resolution   TEXT NOT NULL,
	resolved_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS machines (
	machine_id     TEXT PRIMARY KEY,
	hostname       TEXT NOT NULL,
	ip             TEXT,
	os_info        TEXT,
	first_seen     DATETIME NOT NULL,
	last_seen      DATETIME NOT NULL,
	total_commands INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS schema_info (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SchemaVersion is the current LocalStore schema version, bumped whenever
// a migration is appended to Migrations.
const SchemaVersion = 1

// migration is a single forward-only schema change.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the forward-only migration list, applied in order by
// runMigrations.
var Migrations = []migration{
	{
		Version:     1,
		Description: "baseline schema",
		SQL:         schema,
	},
}
