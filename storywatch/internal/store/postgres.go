package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the PostgreSQL Store backend.
type Postgres struct {
	Pool *pgxpool.Pool
}

// OpenPostgres connects to uri, switching to dbName when it is non-empty, and
// creates the tables.
func OpenPostgres(ctx context.Context, uri, dbName string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(uri)
	if err != nil {
		return nil, fmt.Errorf("store: parse postgres uri: %w", err)
	}
	if dbName != "" {
		cfg.ConnConfig.Database = dbName
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	p := &Postgres{Pool: pool}
	for _, q := range PostgresSchema {
		if _, err := pool.Exec(ctx, q); err != nil {
			pool.Close()
			return nil, fmt.Errorf("store: init postgres schema: %w", err)
		}
	}
	return p, nil
}

func (p *Postgres) LoadCredential(ctx context.Context, identity string) ([]byte, error) {
	var blob []byte
	err := p.Pool.QueryRow(ctx,
		`SELECT blob FROM credentials WHERE identity = $1`, identity).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load credential: %w", err)
	}
	return blob, nil
}

func (p *Postgres) SaveCredential(ctx context.Context, identity string, blob []byte) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO credentials (identity, blob, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (identity) DO UPDATE SET blob = EXCLUDED.blob, updated_at = EXCLUDED.updated_at`,
		identity, blob, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save credential: %w", err)
	}
	return nil
}

func (p *Postgres) SeenIDs(ctx context.Context, target string) ([]string, error) {
	rows, err := p.Pool.Query(ctx,
		`SELECT item_id FROM seen_items WHERE target = $1 ORDER BY seen_at`, target)
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

func (p *Postgres) AddSeen(ctx context.Context, target, itemID string) (bool, error) {
	tag, err := p.Pool.Exec(ctx, `
		INSERT INTO seen_items (target, item_id, seen_at) VALUES ($1, $2, $3)
		ON CONFLICT (target, item_id) DO NOTHING`,
		target, itemID, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("store: add seen: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) LoadStats(ctx context.Context) (StatsRecord, error) {
	var rec StatsRecord
	var last int64
	err := p.Pool.QueryRow(ctx,
		`SELECT stories_sent, stories_processed, last_update FROM stats WHERE key = $1`, StatsKey).
		Scan(&rec.StoriesSent, &rec.StoriesProcessed, &last)
	if errors.Is(err, pgx.ErrNoRows) {
		return StatsRecord{}, nil
	}
	if err != nil {
		return StatsRecord{}, fmt.Errorf("store: load stats: %w", err)
	}
	rec.LastUpdate = fromMillis(last)
	return rec, nil
}

func (p *Postgres) SaveStats(ctx context.Context, rec StatsRecord) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO stats (key, stories_sent, stories_processed, last_update) VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			stories_sent      = GREATEST(stats.stories_sent, EXCLUDED.stories_sent),
			stories_processed = GREATEST(stats.stories_processed, EXCLUDED.stories_processed),
			last_update       = GREATEST(stats.last_update, EXCLUDED.last_update)`,
		StatsKey, rec.StoriesSent, rec.StoriesProcessed, millis(rec.LastUpdate))
	if err != nil {
		return fmt.Errorf("store: save stats: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.Pool.Close()
	return nil
}
