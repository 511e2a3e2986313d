package storywatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/storywatch/shield"
)

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReport is the /health body.
type HealthReport struct {
	Status           string   `json:"status"`
	UptimeSeconds    float64  `json:"uptime_seconds"`
	Uptime           string   `json:"uptime"`
	StoriesSent      int64    `json:"stories_sent"`
	StoriesProcessed int64    `json:"stories_processed"`
	LastUpdate       *string  `json:"last_update"`
	Monitoring       []string `json:"monitoring"`
	StorageConnected bool     `json:"storage_connected"`
}

// HealthHandler serves GET / (plain OK) and GET /health (JSON report). Every
// other path is a 404. storage and logger may be nil.
func HealthHandler(stats *Stats, targets []string, storage Pinger, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(shield.Headers, shield.HeadToGet, shield.RequestLog(logger))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("OK"))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		rep := healthReport(r.Context(), stats, targets, storage)
		if storage != nil && !rep.StorageConnected {
			logger.Warn("health: storage unreachable", "request_id", shield.RequestID(r.Context()))
		}
		writeJSON(w, http.StatusOK, rep)
	})
	return r
}

func healthReport(ctx context.Context, stats *Stats, targets []string, storage Pinger) HealthReport {
	snap := stats.Snapshot()
	rep := HealthReport{
		Status:           "running",
		UptimeSeconds:    snap.Uptime.Seconds(),
		Uptime:           snap.Uptime.Round(time.Second).String(),
		StoriesSent:      snap.StoriesSent,
		StoriesProcessed: snap.StoriesProcessed,
		Monitoring:       targets,
	}
	if rep.Monitoring == nil {
		rep.Monitoring = []string{}
	}
	if !snap.LastUpdate.IsZero() {
		s := snap.LastUpdate.UTC().Format(time.RFC3339)
		rep.LastUpdate = &s
	}
	if storage != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		rep.StorageConnected = storage.Ping(pctx) == nil
	}
	return rep
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HealthServer wraps h in an http.Server listening on addr.
func HealthServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
