package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// ChainReader defines the read-only projections the chain handler serves.
type ChainReader interface {
	Chains(ctx context.Context) ([]string, error)
	Cycle(ctx context.Context, chain string) (domain.CycleReport, error)
	Opportunities(ctx context.Context, chain string) ([]domain.Opportunity, error)
	Endpoints(ctx context.Context, chain string) ([]domain.Endpoint, error)
	Risk(ctx context.Context, chain string) (domain.RiskState, error)
}

// ChainHandler serves per-chain observability endpoints.
type ChainHandler struct {
	reader ChainReader
	logger *slog.Logger
}

// NewChainHandler creates a ChainHandler.
func NewChainHandler(reader ChainReader, logger *slog.Logger) *ChainHandler {
	return &ChainHandler{reader: reader, logger: logHandler(logger, "chains")}
}

// ListChains returns the configured chain names.
// GET /api/chains
func (h *ChainHandler) ListChains(w http.ResponseWriter, r *http.Request) {
	chains, err := h.reader.Chains(r.Context())
	if err != nil {
		fail(w, r, h.logger, "failed to list chains", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chains": chains})
}

// GetEndpoints returns the endpoint health snapshot of a chain.
// GET /api/chains/{chain}/endpoints
func (h *ChainHandler) GetEndpoints(w http.ResponseWriter, r *http.Request) {
	eps, err := h.reader.Endpoints(r.Context(), pathParam(r, "chain"))
	if err != nil {
		fail(w, r, h.logger, "failed to read endpoints", err)
		return
	}
	if eps == nil {
		eps = []domain.Endpoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": eps})
}

// GetCycle returns the report of the chain's last completed cycle.
// GET /api/chains/{chain}/cycle
func (h *ChainHandler) GetCycle(w http.ResponseWriter, r *http.Request) {
	report, err := h.reader.Cycle(r.Context(), pathParam(r, "chain"))
	if err != nil {
		fail(w, r, h.logger, "failed to read cycle", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetOpportunities returns the ranked opportunities of the last cycle.
// GET /api/chains/{chain}/opportunities?limit=20
func (h *ChainHandler) GetOpportunities(w http.ResponseWriter, r *http.Request) {
	opps, err := h.reader.Opportunities(r.Context(), pathParam(r, "chain"))
	if err != nil {
		fail(w, r, h.logger, "failed to read opportunities", err)
		return
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	if opts := parseListOpts(r); opts.Offset < len(opps) {
		opps = opps[opts.Offset:min(len(opps), opts.Offset+opts.Limit)]
	} else {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": opps})
}

// GetRisk returns the safety gate state of a chain.
// GET /api/chains/{chain}/risk
func (h *ChainHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	st, err := h.reader.Risk(r.Context(), pathParam(r, "chain"))
	if err != nil {
		fail(w, r, h.logger, "failed to read risk state", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
