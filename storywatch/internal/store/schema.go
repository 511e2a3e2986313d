package store

// SQLiteSchema creates the storywatch tables. Safe to re-run.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS credentials (
    identity    TEXT PRIMARY KEY,
    blob        BLOB NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS seen_items (
    target   TEXT NOT NULL,
    item_id  TEXT NOT NULL,
    seen_at  INTEGER NOT NULL,
    PRIMARY KEY (target, item_id)
);

CREATE TABLE IF NOT EXISTS stats (
    key                TEXT PRIMARY KEY,
    stories_sent       INTEGER NOT NULL DEFAULT 0,
    stories_processed  INTEGER NOT NULL DEFAULT 0,
    last_update        INTEGER NOT NULL DEFAULT 0
);
`

// PostgresSchema is the PostgreSQL equivalent of SQLiteSchema.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS credentials (
		identity    TEXT PRIMARY KEY,
		blob        BYTEA NOT NULL,
		updated_at  BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS seen_items (
		target   TEXT NOT NULL,
		item_id  TEXT NOT NULL,
		seen_at  BIGINT NOT NULL,
		PRIMARY KEY (target, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS stats (
		key                TEXT PRIMARY KEY,
		stories_sent       BIGINT NOT NULL DEFAULT 0,
		stories_processed  BIGINT NOT NULL DEFAULT 0,
		last_update        BIGINT NOT NULL DEFAULT 0
	)`,
}
