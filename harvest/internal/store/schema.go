package store

import (
	"context"
	"database/sql"
)

// Schema creates the four harvest collections and the run log. seq columns use AUTOINCREMENT
// so a sequence number is never reused, even after deletes.
const Schema = `
-- Repositories found by forge search, waiting for README intake.
CREATE TABLE IF NOT EXISTS pending_discovery (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT NOT NULL UNIQUE,
    owner         TEXT NOT NULL DEFAULT '',
    repo          TEXT NOT NULL DEFAULT '',
    natural_key   TEXT NOT NULL UNIQUE,
    processed     INTEGER NOT NULL DEFAULT 0,
    claimed_until INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_discovery_queue ON pending_discovery(processed, claimed_until, seq);

-- Catalog records waiting for AI summary and tags.
CREATE TABLE IF NOT EXISTS pending_enrichment (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT NOT NULL UNIQUE,
    server_id       TEXT NOT NULL UNIQUE,
    server_name     TEXT NOT NULL DEFAULT '',
    prepared_readme TEXT NOT NULL DEFAULT '',
    processed       INTEGER NOT NULL DEFAULT 0,
    claimed_until   INTEGER NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_enrichment_queue ON pending_enrichment(processed, claimed_until, seq);

-- The durable catalog.
CREATE TABLE IF NOT EXISTS mcp_servers (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT NOT NULL UNIQUE,
    launch_type   TEXT NOT NULL DEFAULT 'STDIO',
    url           TEXT NOT NULL UNIQUE,
    star_count    INTEGER NOT NULL DEFAULT 0,
    view_count    INTEGER NOT NULL DEFAULT 0,
    is_official   INTEGER NOT NULL DEFAULT 0,
    is_scanned    INTEGER NOT NULL DEFAULT 0,
    security_rank TEXT NOT NULL DEFAULT 'UNRATED'
        CHECK (security_rank IN ('UNRATED','LOW','MODERATE','HIGH','CRITICAL')),
    tags          TEXT NOT NULL DEFAULT '[]',
    name          TEXT NOT NULL DEFAULT '',
    description   TEXT NOT NULL DEFAULT '',
    command       TEXT NOT NULL DEFAULT '',
    args          TEXT NOT NULL DEFAULT '[]',
    env           TEXT,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mcp_servers_stars ON mcp_servers(star_count DESC, seq);

CREATE TABLE IF NOT EXISTS tags (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT NOT NULL UNIQUE,
    tag        TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL
);

-- One row per stage execution, for the admin run history.
CREATE TABLE IF NOT EXISTS run_log (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT NOT NULL UNIQUE,
    stage         TEXT NOT NULL,
    triggered_by  TEXT NOT NULL DEFAULT '',
    transport     TEXT NOT NULL DEFAULT '',
    request_id    TEXT NOT NULL DEFAULT '',
    parameters    TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL CHECK (status IN ('success','error')),
    error_message TEXT NOT NULL DEFAULT '',
    result        TEXT NOT NULL DEFAULT '',
    started_at    INTEGER NOT NULL,
    duration_ms   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_run_log_started ON run_log(started_at DESC);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}
