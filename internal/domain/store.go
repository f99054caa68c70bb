package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// DecisionRecord is one journaled gate verdict.
type DecisionRecord struct {
	Opportunity Opportunity `json:"opportunity"`
	Decision    Decision    `json:"decision"`
	DecidedAt   time.Time   `json:"decided_at"`
}

// JournalStore is the append-only record of cycles, gate decisions,
// execution outcomes and breaker transitions.
type JournalStore interface {
	RecordCycle(ctx context.Context, report CycleReport) error
	RecordDecision(ctx context.Context, rec DecisionRecord) error
	RecordOutcome(ctx context.Context, out Outcome) error
	RecordBreakerEvent(ctx context.Context, ev BreakerEvent) error
	ListDecisions(ctx context.Context, chain string, opts ListOpts) ([]DecisionRecord, error)
	ListOutcomes(ctx context.Context, chain string, opts ListOpts) ([]Outcome, error)
	// SumRealized returns the realized profit and loss of a chain since t.
	SumRealized(ctx context.Context, chain string, since time.Time) (profit, loss float64, err error)
}
