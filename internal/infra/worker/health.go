package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"catchup-pipeline/internal/observability/tracing"
)

// StatsProvider supplies one component's contribution to GET /stats
// (per-feed counters, queue depths, channel health).
type StatsProvider func(ctx context.Context) (map[string]any, error)

// CircuitResetter clears a feed's persisted circuit state, backing
// POST /circuit-breaker/reset/{feed_id}.
type CircuitResetter func(ctx context.Context, feedID string) error

// HealthServer is the operational HTTP surface of a pipeline process:
//   - GET  /health: liveness + uptime + aggregated stats
//   - GET  /health/ready: readiness probe (200 if ready, 503 if not)
//   - GET  /stats: per-feed counters, circuit state, queue depths
//   - POST /circuit-breaker/reset/{feed_id}: clears an open circuit
//
// The server supports graceful shutdown via context cancellation.
type HealthServer struct {
	addr      string
	logger    *slog.Logger
	isReady   *atomic.Bool
	startedAt time.Time
	server    *http.Server

	providers map[string]StatsProvider
	resetter  CircuitResetter
}

// healthResponse is the JSON response format for the /health endpoint.
type healthResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Stats         map[string]any `json:"stats,omitempty"`
}

// NewHealthServer creates the operational server (not started yet).
func NewHealthServer(addr string, logger *slog.Logger) *HealthServer {
	isReady := &atomic.Bool{}
	isReady.Store(false)

	return &HealthServer{
		addr:      addr,
		logger:    logger,
		isReady:   isReady,
		startedAt: time.Now(),
		providers: make(map[string]StatsProvider),
	}
}

// RegisterStats adds a named stats section to /health and /stats.
func (h *HealthServer) RegisterStats(name string, provider StatsProvider) {
	h.providers[name] = provider
}

// SetCircuitResetter installs the handler behind the circuit reset
// endpoint; without one the endpoint answers 404.
func (h *HealthServer) SetCircuitResetter(resetter CircuitResetter) {
	h.resetter = resetter
}

// Start runs the server until ctx is canceled, then shuts down gracefully
// with a 5-second timeout. Returns http.ErrServerClosed on clean shutdown.
func (h *HealthServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/health/ready", h.handleReadiness)
	mux.HandleFunc("/stats", h.handleStats)
	mux.HandleFunc("/circuit-breaker/reset/", h.handleCircuitReset)

	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      tracing.Middleware(mux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		h.logger.Info("ops server starting", slog.String("addr", h.addr))
		if err := h.server.ListenAndServe(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		h.logger.Info("ops server shutting down")
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Error("ops server shutdown failed", slog.Any("error", err))
			return err
		}
		h.logger.Info("ops server stopped")
		return http.ErrServerClosed

	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return err
		}
		h.logger.Error("ops server failed", slog.Any("error", err))
		return err
	}
}

// SetReady sets the readiness state reported by /health/ready.
func (h *HealthServer) SetReady(ready bool) {
	h.isReady.Store(ready)
	h.logger.Info("ops server readiness changed", slog.Bool("ready", ready))
}

// collectStats gathers every registered provider's section. A failing
// provider contributes an error string instead of failing the endpoint.
func (h *HealthServer) collectStats(ctx context.Context) map[string]any {
	if len(h.providers) == 0 {
		return nil
	}
	stats := make(map[string]any, len(h.providers))
	for name, provider := range h.providers {
		section, err := provider(ctx)
		if err != nil {
			stats[name] = map[string]any{"error": err.Error()}
			continue
		}
		stats[name] = section
	}
	return stats
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if !h.isReady.Load() {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := healthResponse{
		Status:        status,
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		Stats:         h.collectStats(r.Context()),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode health response", slog.Any("error", err))
	}
}

func (h *HealthServer) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.isReady.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(`{"status":"not ready"}`))
}

func (h *HealthServer) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h.collectStats(r.Context())); err != nil {
		h.logger.Error("failed to encode stats response", slog.Any("error", err))
	}
}

func (h *HealthServer) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.resetter == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	feedID := strings.TrimPrefix(r.URL.Path, "/circuit-breaker/reset/")
	if feedID == "" || strings.Contains(feedID, "/") {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.resetter(r.Context(), feedID); err != nil {
		h.logger.Error("circuit reset failed",
			slog.String("feed_id", feedID),
			slog.Any("error", err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.logger.Info("circuit breaker reset", slog.String("feed_id", feedID))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"reset"}`))
}
