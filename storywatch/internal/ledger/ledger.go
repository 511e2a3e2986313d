// Package ledger tracks, per target, the story item ids that were already
// processed. An id, once marked, stays marked: this is what keeps a story from
// being forwarded twice, across restarts included.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
)

// Set is a target's seen item ids.
type Set map[string]struct{}

// Has reports whether id is in the set.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of ids.
func (s Set) Len() int { return len(s) }

// Backend is the slice of store.Store the ledger needs.
type Backend interface {
	SeenIDs(ctx context.Context, target string) ([]string, error)
	AddSeen(ctx context.Context, target, itemID string) (bool, error)
}

// Ledger reads and extends the seen sets.
type Ledger struct {
	backend Backend
	logger  *slog.Logger
}

// New creates a Ledger.
func New(backend Backend, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{backend: backend, logger: logger}
}

// Seen returns the seen set for target; empty for a target never checked.
func (l *Ledger) Seen(ctx context.Context, target string) (Set, error) {
	ids, err := l.backend.SeenIDs(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("ledger: seen %s: %w", target, err)
	}
	set := make(Set, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// MarkSeen adds itemID to target's set. Repeating the call is harmless; every
// call is logged, with new=false when the id was already there.
func (l *Ledger) MarkSeen(ctx context.Context, target, itemID string) error {
	added, err := l.backend.AddSeen(ctx, target, itemID)
	if err != nil {
		return fmt.Errorf("ledger: mark %s/%s: %w", target, itemID, err)
	}
	l.logger.Info("ledger: marked seen", "target", target, "item_id", itemID, "new", added)
	return nil
}
