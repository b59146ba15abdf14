package remotestore

// schema is applied with CREATE TABLE IF NOT EXISTS so Bootstrap stays
// rerunnable. In production the administrator runs this (or an
// equivalent) once; Open only verifies the tables exist, it never
// creates them on a foreign database.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         BIGSERIAL PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	active     BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS machines (
	machine_id     TEXT PRIMARY KEY,
	hostname       TEXT NOT NULL,
	ip             TEXT NOT NULL DEFAULT '',
	os_info        TEXT NOT NULL DEFAULT '',
	first_seen     TIMESTAMPTZ NOT NULL,
	last_seen      TIMESTAMPTZ NOT NULL,
	total_commands BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS history_global (
	id               BIGSERIAL PRIMARY KEY,
	request_id       TEXT NOT NULL UNIQUE,
	command          TEXT NOT NULL,
	response         TEXT,
	status           TEXT NOT NULL,
	user_id          BIGINT,
	machine_id       TEXT,
	session_id       TEXT NOT NULL DEFAULT '',
	timestamp        TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ,
	tokens_used      BIGINT,
	execution_time_ms BIGINT
);

CREATE TABLE IF NOT EXISTS history_user (
	id               BIGSERIAL PRIMARY KEY,
	request_id       TEXT NOT NULL,
	command          TEXT NOT NULL,
	response         TEXT,
	status           TEXT NOT NULL,
	user_id          BIGINT,
	machine_id       TEXT,
	session_id       TEXT NOT NULL DEFAULT '',
	timestamp        TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ,
	tokens_used      BIGINT,
	execution_time_ms BIGINT
);

-- Prevents duplicate rows under upload retry.
CREATE UNIQUE INDEX IF NOT EXISTS idx_history_user_request_id ON history_user (request_id);

CREATE TABLE IF NOT EXISTS history_machine (
	id               BIGSERIAL PRIMARY KEY,
	request_id       TEXT NOT NULL UNIQUE,
	command          TEXT NOT NULL,
	response         TEXT,
	status           TEXT NOT NULL,
	user_id          BIGINT,
	machine_id       TEXT,
	session_id       TEXT NOT NULL DEFAULT '',
	timestamp        TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ,
	tokens_used      BIGINT,
	execution_time_ms BIGINT
);

CREATE TABLE IF NOT EXISTS command_cache (
	command_hash TEXT PRIMARY KEY,
	command      TEXT NOT NULL,
	response     TEXT NOT NULL,
	hit_count    BIGINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL,
	last_hit_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	user_id    BIGINT,
	machine_id TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	last_seen  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_global_timestamp ON history_global (timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_history_user_timestamp ON history_user (timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_history_machine_timestamp ON history_machine (timestamp DESC);
`

// requiredTables is checked by verifySchema; schema creation is the
// administrator's responsibility, this module only refuses to proceed
// if a table is missing.
var requiredTables = []string{
	"users", "machines", "history_global", "history_user",
	"history_machine", "command_cache", "sessions",
}
