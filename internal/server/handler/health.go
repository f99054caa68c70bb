package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// HealthHandler serves the health-check and status endpoints.
type HealthHandler struct {
	mode      string
	chains    []string
	startedAt time.Time
	now       func() time.Time
}

// NewHealthHandler creates a HealthHandler for a process running in mode over
// the given chains.
func NewHealthHandler(mode string, chains []string, startedAt time.Time) *HealthHandler {
	return &HealthHandler{mode: mode, chains: chains, startedAt: startedAt, now: time.Now}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// GetStatus responds with the process mode, chains and uptime.
// GET /api/status
func (h *HealthHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	chains := h.chains
	if chains == nil {
		chains = []string{}
	}
	writeJSON(w, http.StatusOK, domain.Status{
		Mode:      h.mode,
		Chains:    chains,
		StartedAt: h.startedAt,
		Uptime:    h.now().Sub(h.startedAt).Truncate(time.Second).String(),
	})
}
