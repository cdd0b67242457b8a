// Package health serves liveness and readiness probes for sentinel.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/sentinel/pkg/config"
)

// DefaultCheckTimeout bounds each readiness check.
const DefaultCheckTimeout = 3 * time.Second

// Checker is one dependency probed by /health/ready.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Handler serves the /health endpoints.
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
	started  time.Time
}

// NewHandler creates a health handler with no checkers.
func NewHandler() *Handler {
	return &Handler{
		timeout: DefaultCheckTimeout,
		started: time.Now(),
	}
}

// RegisterChecker adds a dependency checker.
func (h *Handler) RegisterChecker(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// HealthResponse is the body of every health endpoint.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds,omitempty"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// Health reports that the process is up, with build and uptime details.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       config.Version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	})
}

// Live is the liveness probe.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "live"})
}

// Ready runs every checker concurrently and answers 503 if any fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	results := make([]error, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
			defer cancel()
			results[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{Status: "ready", Checks: make(map[string]string, len(checkers))}
	status := http.StatusOK
	for i, c := range checkers {
		if err := results[i]; err != nil {
			resp.Checks[c.Name()] = err.Error()
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name()] = "ok"
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
