package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/storywatch/dbopen"
)

// SQLite is the default Store backend.
type SQLite struct {
	DB *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(SQLiteSchema))
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	return &SQLite{DB: db}, nil
}

// NewSQLite wraps an already-opened database and applies the schema.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(SQLiteSchema); err != nil {
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLite{DB: db}, nil
}

func (s *SQLite) LoadCredential(ctx context.Context, identity string) ([]byte, error) {
	var blob []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT blob FROM credentials WHERE identity = ?`, identity).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load credential: %w", err)
	}
	return blob, nil
}

func (s *SQLite) SaveCredential(ctx context.Context, identity string, blob []byte) error {
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO credentials (identity, blob, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		identity, blob, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save credential: %w", err)
	}
	return nil
}

func (s *SQLite) SeenIDs(ctx context.Context, target string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT item_id FROM seen_items WHERE target = ? ORDER BY seen_at`, target)
	if err != nil {
		return nil, fmt.Errorf("store: seen ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan seen id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLite) AddSeen(ctx context.Context, target, itemID string) (bool, error) {
	res, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO seen_items (target, item_id, seen_at) VALUES (?, ?, ?)
		ON CONFLICT(target, item_id) DO NOTHING`,
		target, itemID, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("store: add seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: add seen: %w", err)
	}
	return n > 0, nil
}

func (s *SQLite) LoadStats(ctx context.Context) (StatsRecord, error) {
	var rec StatsRecord
	var last int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT stories_sent, stories_processed, last_update FROM stats WHERE key = ?`, StatsKey).
		Scan(&rec.StoriesSent, &rec.StoriesProcessed, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return StatsRecord{}, nil
	}
	if err != nil {
		return StatsRecord{}, fmt.Errorf("store: load stats: %w", err)
	}
	rec.LastUpdate = fromMillis(last)
	return rec, nil
}

func (s *SQLite) SaveStats(ctx context.Context, rec StatsRecord) error {
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO stats (key, stories_sent, stories_processed, last_update) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			stories_sent      = MAX(stats.stories_sent, excluded.stories_sent),
			stories_processed = MAX(stats.stories_processed, excluded.stories_processed),
			last_update       = MAX(stats.last_update, excluded.last_update)`,
		StatsKey, rec.StoriesSent, rec.StoriesProcessed, millis(rec.LastUpdate))
	if err != nil {
		return fmt.Errorf("store: save stats: %w", err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.DB.Close()
}
