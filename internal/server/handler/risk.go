package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// RiskController resets a chain's breaker and daily counters.
type RiskController interface {
	ManualReset(ctx context.Context, chain string) (domain.RiskState, error)
}

// OutcomeReporter applies an execution outcome reported by an external
// executor.
type OutcomeReporter interface {
	ReportOutcome(ctx context.Context, out domain.Outcome) (domain.RiskState, error)
}

// RiskHandler serves the write endpoints of the safety gate. Either
// dependency may be nil in processes that do not own a gate, in which case
// the route answers 501.
type RiskHandler struct {
	control  RiskController
	outcomes OutcomeReporter
	logger   *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(control RiskController, outcomes OutcomeReporter, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{control: control, outcomes: outcomes, logger: logHandler(logger, "risk")}
}

// Reset closes the breaker of a chain and clears its counters.
// POST /api/chains/{chain}/risk/reset
func (h *RiskHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if h.control == nil {
		writeError(w, http.StatusNotImplemented, "safety gate not running in this process")
		return
	}
	chain := pathParam(r, "chain")
	st, err := h.control.ManualReset(r.Context(), chain)
	if err != nil {
		fail(w, r, h.logger, "failed to reset risk state", err)
		return
	}
	h.logger.InfoContext(r.Context(), "manual risk reset",
		slog.String("chain", chain),
		slog.String("remote_addr", r.RemoteAddr),
	)
	writeJSON(w, http.StatusOK, st)
}

// outcomeRequest is the body accepted by ReportOutcome.
type outcomeRequest struct {
	OpportunityID  string  `json:"opportunity_id"`
	Success        bool    `json:"success"`
	RealizedProfit float64 `json:"realized_profit"`
	TxHash         string  `json:"tx_hash"`
	Error          string  `json:"error"`
}

// ReportOutcome accepts the outcome of an approval executed asynchronously.
// POST /api/chains/{chain}/outcomes
func (h *RiskHandler) ReportOutcome(w http.ResponseWriter, r *http.Request) {
	if h.outcomes == nil {
		writeError(w, http.StatusNotImplemented, "executor not running in this process")
		return
	}
	var req outcomeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.OpportunityID) == "" {
		writeError(w, http.StatusBadRequest, "opportunity_id is required")
		return
	}

	st, err := h.outcomes.ReportOutcome(r.Context(), domain.Outcome{
		OpportunityID:  req.OpportunityID,
		Chain:          pathParam(r, "chain"),
		Success:        req.Success,
		RealizedProfit: req.RealizedProfit,
		TxHash:         req.TxHash,
		Error:          req.Error,
	})
	if err != nil {
		fail(w, r, h.logger, "failed to record outcome", err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}
