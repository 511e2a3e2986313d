// Package storywatch polls story feeds of a list of target accounts and
// forwards every item not seen before to a Telegram chat.
//
// One Monitor runs cycles sequentially: for each target, list the live items,
// skip the ones in the seen ledger, download and send the others, mark every
// processed id seen. After the last target the session and the counters are
// persisted, then the monitor sleeps for the check interval.
package storywatch

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"time"

	"github.com/hazyhaar/storywatch/idgen"
	"github.com/hazyhaar/storywatch/storywatch/internal/fetch"
	"github.com/hazyhaar/storywatch/storywatch/internal/ledger"
)

// Fetcher lists and downloads story items.
type Fetcher interface {
	Stories(ctx context.Context, target string) iter.Seq2[fetch.Item, error]
	Materialize(ctx context.Context, item fetch.Item) (string, error)
	SaveSession() error
}

// Sender forwards one file and reports whether it was accepted.
type Sender interface {
	Send(ctx context.Context, path, caption string) bool
}

// SeenLedger is the per-target record of processed ids.
type SeenLedger interface {
	Seen(ctx context.Context, target string) (ledger.Set, error)
	MarkSeen(ctx context.Context, target, itemID string) error
}

// SessionSaver pushes the session file back to durable storage.
type SessionSaver interface {
	Save(ctx context.Context) error
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Targets []string
	// Interval between the end of a cycle and the start of the next.
	// Default: 10 minutes.
	Interval time.Duration
}

// Monitor is the cycle orchestrator.
type Monitor struct {
	targets  []string
	interval time.Duration

	fetcher Fetcher
	sender  Sender
	ledger  SeenLedger
	session SessionSaver // optional
	stats   *Stats
	persist StatsBackend // optional

	newID  idgen.Generator
	logger *slog.Logger
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithSessionSaver saves the session at the end of each cycle.
func WithSessionSaver(s SessionSaver) MonitorOption {
	return func(m *Monitor) { m.session = s }
}

// WithStatsBackend persists the counters at the end of each cycle.
func WithStatsBackend(b StatsBackend) MonitorOption {
	return func(m *Monitor) { m.persist = b }
}

// WithIDGenerator sets the cycle id generator. Default: idgen.Cycle.
func WithIDGenerator(gen idgen.Generator) MonitorOption {
	return func(m *Monitor) { m.newID = gen }
}

// WithMonitorLogger sets the logger. Default: slog.Default().
func WithMonitorLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor creates a Monitor. stats may be nil.
func NewMonitor(cfg MonitorConfig, f Fetcher, s Sender, l SeenLedger, stats *Stats, opts ...MonitorOption) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if stats == nil {
		stats = NewStats()
	}
	m := &Monitor{
		targets:  cfg.Targets,
		interval: cfg.Interval,
		fetcher:  f,
		sender:   s,
		ledger:   l,
		stats:    stats,
		newID:    idgen.Cycle,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Targets returns the monitored accounts.
func (m *Monitor) Targets() []string { return m.targets }

// Run repeats cycles until ctx is cancelled. A cycle in progress is never
// interrupted: cancellation is only observed while sleeping.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("monitor: started", "targets", m.targets, "interval", m.interval)
	for {
		m.RunCycle(context.WithoutCancel(ctx))

		m.logger.Debug("monitor: sleeping", "interval", m.interval)
		t := time.NewTimer(m.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			m.logger.Info("monitor: stopped")
			return
		case <-t.C:
		}
	}
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	ID      string
	Checked int // targets whose check completed without error
	Failed  int // targets whose check ended in an error
	Sent    int
	Skipped int
	Dropped int // items marked seen after a failed download
}

// RunCycle checks every target once, then persists session and counters.
func (m *Monitor) RunCycle(ctx context.Context) CycleResult {
	res := CycleResult{ID: m.newID()}
	log := m.logger.With("cycle_id", res.ID)
	start := time.Now()
	log.Info("monitor: cycle started", "targets", len(m.targets))

	for _, target := range m.targets {
		tr, err := m.checkTarget(ctx, log, target)
		res.Sent += tr.sent
		res.Skipped += tr.skipped
		res.Dropped += tr.failed
		if err != nil {
			res.Failed++
			log.Warn("monitor: check failed",
				"target", target, "kind", kindName(err), "error", err)
			continue
		}
		res.Checked++
		if tr.sent > 0 {
			log.Info("monitor: target done", "target", target, "sent", tr.sent, "new", tr.fresh)
		} else {
			log.Info("monitor: no new stories", "target", target)
		}
	}

	m.persistCycle(ctx, log)
	log.Info("monitor: cycle done",
		"checked", res.Checked, "failed", res.Failed, "sent", res.Sent, "skipped", res.Skipped, "dropped", res.Dropped,
		"duration_ms", time.Since(start).Milliseconds())
	return res
}

type targetResult struct {
	failed  int
	fresh   int
	sent    int
	skipped int
}

func (m *Monitor) checkTarget(ctx context.Context, log *slog.Logger, target string) (targetResult, error) {
	var tr targetResult
	seen, err := m.ledger.Seen(ctx, target)
	if err != nil {
		return tr, err
	}

	for item, err := range m.fetcher.Stories(ctx, target) {
		if err != nil {
			return tr, err
		}
		if seen.Has(item.ID) {
			tr.skipped++
			continue
		}
		tr.fresh++
		log.Info("monitor: new story", "target", target, "item_id", item.ID, "media", item.MediaType.String())

		path, err := m.fetcher.Materialize(ctx, item)
		if err != nil {
			if errors.Is(err, fetch.ErrAuthExpired) {
				return tr, err
			}
			tr.failed++
			log.Warn("monitor: download failed, item skipped",
				"target", target, "item_id", item.ID, "kind", kindName(err), "error", err)
			path = ""
		}
		if path != "" && m.deliver(ctx, log, target, item.ID, path) {
			tr.sent++
		}

		// Marked whatever the send outcome: a failing item is tried once.
		if err := m.ledger.MarkSeen(ctx, target, item.ID); err != nil {
			return tr, err
		}
		seen[item.ID] = struct{}{}
	}
	return tr, nil
}

// deliver sends path and removes it on success. A failed send leaves the
// file for the retention sweeper.
func (m *Monitor) deliver(ctx context.Context, log *slog.Logger, target, itemID, path string) bool {
	if !m.sender.Send(ctx, path, Caption(target)) {
		log.Warn("monitor: send failed, file kept", "target", target, "item_id", itemID, "path", path)
		return false
	}
	m.stats.IncProcessed()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("monitor: remove sent file", "path", path, "error", err)
	}
	return true
}

func (m *Monitor) persistCycle(ctx context.Context, log *slog.Logger) {
	if err := m.fetcher.SaveSession(); err != nil {
		log.Warn("monitor: refresh session file", "error", err)
	}
	if m.session != nil {
		if err := m.session.Save(ctx); err != nil {
			log.Warn("monitor: save session", "error", err)
		}
	}
	m.stats.Touch()
	if m.persist != nil {
		if err := m.stats.Persist(ctx, m.persist); err != nil {
			log.Warn("monitor: persist stats", "error", err)
		}
	}
}

// Caption is the message caption of a story from target.
func Caption(target string) string {
	return fmt.Sprintf("Story from @%s", target)
}

func kindName(err error) string {
	if k := fetch.KindOf(err); k != 0 {
		return k.String()
	}
	return "internal"
}
