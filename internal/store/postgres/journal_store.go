package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// JournalStore implements domain.JournalStore. Every record is an insert;
// nothing is updated in place.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a JournalStore.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// RecordCycle stores a cycle report. Reporting the same cycle twice keeps
// the first row.
func (s *JournalStore) RecordCycle(ctx context.Context, r domain.CycleReport) error {
	sets, err := json.Marshal(r.QuoteSets)
	if err != nil {
		return fmt.Errorf("postgres: encode quote sets %s: %w", r.CycleID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO scan_cycles (cycle_id, chain, status, started_at, duration_ms, gas_price_gwei,
			gas_price_estimated, opportunities, approved, rejected, quote_sets, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (cycle_id) DO NOTHING`,
		r.CycleID, r.Chain, string(r.Status), r.StartedAt, r.Duration.Milliseconds(), r.GasPriceGwei,
		r.GasPriceEstimated, r.Opportunities, r.Approved, r.Rejected, sets, r.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert cycle %s: %w", r.CycleID, err)
	}
	return nil
}

// RecordDecision stores one gate verdict together with the full
// opportunity.
func (s *JournalStore) RecordDecision(ctx context.Context, rec domain.DecisionRecord) error {
	opp, err := json.Marshal(rec.Opportunity)
	if err != nil {
		return fmt.Errorf("postgres: encode opportunity %s: %w", rec.Opportunity.ID, err)
	}
	o := rec.Opportunity
	_, err = s.pool.Exec(ctx, `
		INSERT INTO gate_decisions (opportunity_id, chain, cycle_id, kind, net_profit_pct, accepted, reason, opportunity, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.Chain, o.CycleID, string(o.Kind), o.NetProfitPct,
		rec.Decision.Accepted, string(rec.Decision.Reason), opp, rec.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert decision %s: %w", o.ID, err)
	}
	return nil
}

// RecordOutcome stores an execution outcome.
func (s *JournalStore) RecordOutcome(ctx context.Context, out domain.Outcome) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO execution_outcomes (opportunity_id, chain, success, realized_profit, tx_hash, error, reported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		out.OpportunityID, out.Chain, out.Success, out.RealizedProfit, out.TxHash, out.Error, out.ReportedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert outcome %s: %w", out.OpportunityID, err)
	}
	return nil
}

// RecordBreakerEvent stores a breaker transition.
func (s *JournalStore) RecordBreakerEvent(ctx context.Context, ev domain.BreakerEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO breaker_events (chain, from_state, to_state, reason, at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.Chain, string(ev.From), string(ev.To), ev.Reason, ev.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert breaker event %s: %w", ev.Chain, err)
	}
	return nil
}

// ListDecisions returns the decisions of a chain, newest first.
func (s *JournalStore) ListDecisions(ctx context.Context, chain string, opts domain.ListOpts) ([]domain.DecisionRecord, error) {
	where, args := window("chain = $1", []any{chain}, "decided_at", opts)
	limit := page(opts, &args)
	rows, err := s.pool.Query(ctx,
		`SELECT opportunity, accepted, reason, decided_at FROM gate_decisions WHERE `+where+
			` ORDER BY decided_at DESC, id DESC`+limit, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions %s: %w", chain, err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DecisionRecord, error) {
		var (
			rec    domain.DecisionRecord
			raw    []byte
			reason string
		)
		if err := row.Scan(&raw, &rec.Decision.Accepted, &reason, &rec.DecidedAt); err != nil {
			return rec, err
		}
		rec.Decision.Reason = domain.RejectReason(reason)
		if err := json.Unmarshal(raw, &rec.Opportunity); err != nil {
			return rec, fmt.Errorf("decode opportunity: %w", err)
		}
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan decisions %s: %w", chain, err)
	}
	return out, nil
}

// ListOutcomes returns the outcomes of a chain, newest first.
func (s *JournalStore) ListOutcomes(ctx context.Context, chain string, opts domain.ListOpts) ([]domain.Outcome, error) {
	where, args := window("chain = $1", []any{chain}, "reported_at", opts)
	limit := page(opts, &args)
	rows, err := s.pool.Query(ctx,
		`SELECT opportunity_id, chain, success, realized_profit, tx_hash, error, reported_at
		FROM execution_outcomes WHERE `+where+` ORDER BY reported_at DESC, id DESC`+limit, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes %s: %w", chain, err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Outcome, error) {
		var o domain.Outcome
		err := row.Scan(&o.OpportunityID, &o.Chain, &o.Success, &o.RealizedProfit, &o.TxHash, &o.Error, &o.ReportedAt)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan outcomes %s: %w", chain, err)
	}
	return out, nil
}

// SumRealized totals realized profit and loss of a chain since t. Loss is
// returned as a positive number.
func (s *JournalStore) SumRealized(ctx context.Context, chain string, since time.Time) (float64, float64, error) {
	var profit, loss float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(realized_profit) FILTER (WHERE realized_profit > 0), 0),
		       COALESCE(SUM(-realized_profit) FILTER (WHERE realized_profit < 0), 0)
		FROM execution_outcomes WHERE chain = $1 AND reported_at >= $2`,
		chain, since,
	).Scan(&profit, &loss)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: sum realized %s: %w", chain, err)
	}
	return profit, loss, nil
}

// window appends the Since/Until bounds of opts to a WHERE clause.
func window(where string, args []any, col string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(where)
	if opts.Since != nil {
		args = append(args, *opts.Since)
		fmt.Fprintf(&b, " AND %s >= $%d", col, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		fmt.Fprintf(&b, " AND %s < $%d", col, len(args))
	}
	return b.String(), args
}

// page renders LIMIT/OFFSET for opts. The limit defaults to 100.
func page(opts domain.ListOpts, args *[]any) string {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	*args = append(*args, limit)
	clause := fmt.Sprintf(" LIMIT $%d", len(*args))
	if opts.Offset > 0 {
		*args = append(*args, opts.Offset)
		clause += fmt.Sprintf(" OFFSET $%d", len(*args))
	}
	return clause
}

var _ domain.JournalStore = (*JournalStore)(nil)
