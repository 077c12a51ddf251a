package store

import (
	"database/sql"
	"fmt"
)

// Schema is the emojimix database. combinations holds the installed mapping
// with at most one row per normalised pair; snapshots gains one row per
// successful replace and its generation only grows.
const Schema = `
CREATE TABLE IF NOT EXISTS combinations (
    id INTEGER PRIMARY KEY,
    base_emoji TEXT NOT NULL DEFAULT '',
    lo_emoji TEXT NOT NULL,
    hi_emoji TEXT NOT NULL,
    left_emoji TEXT NOT NULL,
    right_emoji TEXT NOT NULL,
    image_url TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_combinations_pair
    ON combinations(lo_emoji, hi_emoji);

CREATE TABLE IF NOT EXISTS snapshots (
    generation INTEGER PRIMARY KEY AUTOINCREMENT,
    refresh_id TEXT NOT NULL,
    records INTEGER NOT NULL,
    skipped INTEGER NOT NULL DEFAULT 0,
    source_hash TEXT NOT NULL DEFAULT '',
    installed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS refresh_log (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    stage TEXT NOT NULL DEFAULT '',
    status_code INTEGER NOT NULL DEFAULT 0,
    content_hash TEXT NOT NULL DEFAULT '',
    records INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    started_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refresh_log_started
    ON refresh_log(started_at DESC);
`

// ApplySchema creates the tables on db. Idempotent.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	return nil
}
