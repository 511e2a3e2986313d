package storywatch

import (
	"context"
	"sync"
	"time"

	"github.com/hazyhaar/storywatch/storywatch/internal/store"
)

// Stats holds the liveness counters. One instance is owned by the process
// and injected into the sender, the monitor and the health handler.
type Stats struct {
	mu         sync.Mutex
	started    time.Time
	sent       int64
	processed  int64
	lastUpdate time.Time
	now        func() time.Time
}

// Snapshot is a consistent read of Stats.
type Snapshot struct {
	Started          time.Time
	Uptime           time.Duration
	StoriesSent      int64
	StoriesProcessed int64
	LastUpdate       time.Time // zero before the first completed cycle
}

// NewStats starts the uptime clock.
func NewStats() *Stats {
	return &Stats{started: time.Now(), now: time.Now}
}

// IncSent counts one message accepted by the messaging API.
func (s *Stats) IncSent() {
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
}

// IncProcessed counts one item sent and removed from disk.
func (s *Stats) IncProcessed() {
	s.mu.Lock()
	s.processed++
	s.mu.Unlock()
}

// Touch records the end of a cycle.
func (s *Stats) Touch() {
	s.mu.Lock()
	s.lastUpdate = s.now()
	s.mu.Unlock()
}

// Snapshot returns the current values.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Started:          s.started,
		Uptime:           s.now().Sub(s.started),
		StoriesSent:      s.sent,
		StoriesProcessed: s.processed,
		LastUpdate:       s.lastUpdate,
	}
}

// StatsBackend is the slice of store.Store used to persist the counters.
type StatsBackend interface {
	LoadStats(ctx context.Context) (store.StatsRecord, error)
	SaveStats(ctx context.Context, rec store.StatsRecord) error
}

// Restore raises the counters to the persisted values. Counters never go
// down, so restoring after some increments keeps the larger value.
func (s *Stats) Restore(ctx context.Context, b StatsBackend) error {
	rec, err := b.LoadStats(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = max(s.sent, rec.StoriesSent)
	s.processed = max(s.processed, rec.StoriesProcessed)
	if rec.LastUpdate.After(s.lastUpdate) {
		s.lastUpdate = rec.LastUpdate
	}
	return nil
}

// Persist upserts the current counters.
func (s *Stats) Persist(ctx context.Context, b StatsBackend) error {
	snap := s.Snapshot()
	return b.SaveStats(ctx, store.StatsRecord{
		StoriesSent:      snap.StoriesSent,
		StoriesProcessed: snap.StoriesProcessed,
		LastUpdate:       snap.LastUpdate,
	})
}
