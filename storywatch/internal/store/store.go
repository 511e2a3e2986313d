// Package store persists the three storywatch collections: credential blobs
// keyed by identity, seen item ids keyed by target, and the global stats
// record.
//
// Two backends implement Store: SQLite (default, one file under the data
// directory) and PostgreSQL. Every write is an upsert and no transaction spans
// collections.
package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("store: not found")

// StatsKey is the well-known key of the single stats record.
const StatsKey = "global"

// StatsRecord is the persisted form of the liveness counters.
type StatsRecord struct {
	StoriesSent      int64
	StoriesProcessed int64
	LastUpdate       time.Time // zero when never updated
}

// Store is the storage surface used by the credential store, the seen ledger
// and the stats context.
type Store interface {
	// LoadCredential returns the blob for identity, or ErrNotFound.
	LoadCredential(ctx context.Context, identity string) ([]byte, error)
	// SaveCredential upserts the blob for identity.
	SaveCredential(ctx context.Context, identity string, blob []byte) error

	// SeenIDs returns every item id recorded for target (empty for a new target).
	SeenIDs(ctx context.Context, target string) ([]string, error)
	// AddSeen records itemID for target. It reports whether the id was new.
	AddSeen(ctx context.Context, target, itemID string) (bool, error)

	// LoadStats returns the stats record, zero-valued if none was saved yet.
	LoadStats(ctx context.Context) (StatsRecord, error)
	// SaveStats upserts the stats record. Stored counters never decrease.
	SaveStats(ctx context.Context, rec StatsRecord) error

	Ping(ctx context.Context) error
	Close() error
}

// Open selects a backend from uri. postgres:// and postgresql:// URIs open
// PostgreSQL with dbName as the database. Anything else is SQLite: a path
// ending in .db (or ":memory:") is used as-is, otherwise uri is a directory
// holding <dbName>.db.
func Open(ctx context.Context, uri, dbName string) (Store, error) {
	if IsPostgresURI(uri) {
		return OpenPostgres(ctx, uri, dbName)
	}
	return OpenSQLite(sqlitePath(uri, dbName))
}

// IsPostgresURI reports whether uri selects the PostgreSQL backend.
func IsPostgresURI(uri string) bool {
	return strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://")
}

func sqlitePath(uri, dbName string) string {
	uri = strings.TrimPrefix(uri, "sqlite://")
	if uri == ":memory:" || strings.HasSuffix(uri, ".db") {
		return uri
	}
	if uri == "" {
		uri = "data"
	}
	if dbName == "" {
		dbName = "storywatch"
	}
	return filepath.Join(uri, dbName+".db")
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
