package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// JournalReader is the read side of the decision journal.
type JournalReader interface {
	ListDecisions(ctx context.Context, chain string, opts domain.ListOpts) ([]domain.DecisionRecord, error)
	ListOutcomes(ctx context.Context, chain string, opts domain.ListOpts) ([]domain.Outcome, error)
}

// JournalHandler serves historical gate decisions and outcomes.
type JournalHandler struct {
	journal JournalReader
	logger  *slog.Logger
}

// NewJournalHandler creates a JournalHandler.
func NewJournalHandler(journal JournalReader, logger *slog.Logger) *JournalHandler {
	return &JournalHandler{journal: journal, logger: logHandler(logger, "journal")}
}

// ListDecisions returns journaled gate decisions, newest first.
// GET /api/chains/{chain}/decisions?limit=50&offset=0&since=2026-01-01T00:00:00Z
func (h *JournalHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.journal.ListDecisions(r.Context(), pathParam(r, "chain"), parseListOpts(r))
	if err != nil {
		fail(w, r, h.logger, "failed to list decisions", err)
		return
	}
	if recs == nil {
		recs = []domain.DecisionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": recs})
}

// ListOutcomes returns journaled execution outcomes, newest first.
// GET /api/chains/{chain}/outcomes?limit=50
func (h *JournalHandler) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	outs, err := h.journal.ListOutcomes(r.Context(), pathParam(r, "chain"), parseListOpts(r))
	if err != nil {
		fail(w, r, h.logger, "failed to list outcomes", err)
		return
	}
	if outs == nil {
		outs = []domain.Outcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outs})
}
