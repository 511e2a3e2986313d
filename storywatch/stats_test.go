package storywatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/storywatch/dbopen"
	"github.com/hazyhaar/storywatch/storywatch/internal/store"
)

func TestStats_ConcurrentIncrements(t *testing.T) {
	s := NewStats()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncSent()
			s.IncProcessed()
			s.Snapshot()
		}()
	}
	wg.Wait()
	snap := s.Snapshot()
	if snap.StoriesSent != 50 || snap.StoriesProcessed != 50 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStats_PersistRestore(t *testing.T) {
	st, err := store.NewSQLite(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	a := NewStats()
	a.IncSent()
	a.IncSent()
	a.IncProcessed()
	a.Touch()
	if err := a.Persist(ctx, st); err != nil {
		t.Fatal(err)
	}

	b := NewStats()
	b.IncSent()
	if err := b.Restore(ctx, st); err != nil {
		t.Fatal(err)
	}
	snap := b.Snapshot()
	if snap.StoriesSent != 2 || snap.StoriesProcessed != 1 {
		t.Errorf("restored = %+v", snap)
	}
	if snap.LastUpdate.IsZero() || snap.LastUpdate.Sub(a.Snapshot().LastUpdate).Abs() > time.Millisecond {
		t.Errorf("last update = %v", snap.LastUpdate)
	}
}

// WHAT: counters never decrease, even when a stale record is restored.
func TestStats_RestoreNeverLowers(t *testing.T) {
	st, err := store.NewSQLite(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	st.SaveStats(ctx, store.StatsRecord{StoriesSent: 1, StoriesProcessed: 1})

	s := NewStats()
	for i := 0; i < 5; i++ {
		s.IncSent()
	}
	if err := s.Restore(ctx, st); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().StoriesSent; got != 5 {
		t.Errorf("sent = %d, want 5", got)
	}
}
