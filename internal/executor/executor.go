// Package executor hands approved opportunities to an execution adapter and
// feeds the outcomes back into the safety gate.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// ErrOutcomePending is returned by adapters that accepted an approval and
// will report its outcome later through ReportOutcome.
var ErrOutcomePending = errors.New("outcome pending")

// Adapter performs the on-chain transaction for an approval. The core never
// builds or signs transactions itself.
type Adapter interface {
	Name() string
	Execute(ctx context.Context, a domain.Approval) (domain.Outcome, error)
}

// OutcomeRecorder is the part of the safety gate that consumes outcomes.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, out domain.Outcome) (domain.RiskState, error)
}

// OutcomeHook observes every applied outcome, together with the risk state
// it produced.
type OutcomeHook func(ctx context.Context, out domain.Outcome, st domain.RiskState)

// Config configures an Executor.
type Config struct {
	// Timeout bounds one adapter call.
	Timeout time.Duration
	// DedupTTL is how long approval and outcome ids are remembered.
	DedupTTL        time.Duration
	CleanupInterval time.Duration
	Logger          *slog.Logger
	Now             func() time.Time
}

// Executor reads approvals from a channel and runs them through the
// adapter one at a time.
type Executor struct {
	approvals <-chan domain.Approval
	adapter   Adapter
	gate      OutcomeRecorder
	hooks     []OutcomeHook

	approvalsSeen *Dedup
	outcomesSeen  *Dedup

	timeout         time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

// New creates an Executor.
func New(approvals <-chan domain.Approval, adapter Adapter, gate OutcomeRecorder, cfg Config) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		approvals:       approvals,
		adapter:         adapter,
		gate:            gate,
		approvalsSeen:   NewDedup(cfg.DedupTTL),
		outcomesSeen:    NewDedup(cfg.DedupTTL),
		timeout:         cfg.Timeout,
		cleanupInterval: cfg.CleanupInterval,
		now:             cfg.Now,
		logger:          logger.With(slog.String("component", "executor"), slog.String("adapter", adapter.Name())),
	}
}

// OnOutcome registers a hook. Must be called before Run.
func (e *Executor) OnOutcome(h OutcomeHook) {
	e.hooks = append(e.hooks, h)
}

// Run processes approvals until ctx is cancelled or the channel closes.
// Approvals already buffered at cancellation are drained with a short
// timeout each.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "executor started")
	defer e.logger.Info("executor stopped")

	cleanup := time.NewTicker(e.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()
		case a, ok := <-e.approvals:
			if !ok {
				return nil
			}
			e.process(ctx, a)
		case <-cleanup.C:
			e.approvalsSeen.Cleanup()
			e.outcomesSeen.Cleanup()
		}
	}
}

func (e *Executor) process(ctx context.Context, a domain.Approval) {
	o := a.Opportunity
	log := e.logger.With(
		slog.String("chain", o.Chain),
		slog.String("opportunity_id", o.ID),
		slog.String("kind", string(o.Kind)),
	)
	if e.approvalsSeen.Seen(o.ID) {
		log.DebugContext(ctx, "approval already executed, skipping")
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	out, err := e.adapter.Execute(callCtx, a)
	cancel()

	switch {
	case errors.Is(err, ErrOutcomePending):
		log.InfoContext(ctx, "execution submitted, awaiting outcome")
		return
	case err != nil:
		log.ErrorContext(ctx, "execution failed", slog.String("error", err.Error()))
		out = domain.Outcome{Success: false, Error: err.Error()}
	}
	out.OpportunityID = o.ID
	out.Chain = o.Chain
	if out.ReportedAt.IsZero() {
		out.ReportedAt = e.now()
	}
	if _, err := e.ReportOutcome(ctx, out); err != nil {
		log.WarnContext(ctx, "outcome not applied", slog.String("error", err.Error()))
	}
}

// ReportOutcome applies one outcome to the gate. A second report for the
// same opportunity inside the dedup window is ignored and returns
// domain.ErrAlreadyReported. A report the gate refuses does not count, so
// the caller may retry it.
func (e *Executor) ReportOutcome(ctx context.Context, out domain.Outcome) (domain.RiskState, error) {
	if out.OpportunityID == "" {
		return domain.RiskState{}, fmt.Errorf("executor: report outcome: missing opportunity id")
	}
	if out.ReportedAt.IsZero() {
		out.ReportedAt = e.now()
	}
	if e.outcomesSeen.Seen(out.OpportunityID) {
		return domain.RiskState{}, fmt.Errorf("executor: report outcome %s: %w", out.OpportunityID, domain.ErrAlreadyReported)
	}

	st, err := e.gate.RecordOutcome(ctx, out)
	if err != nil {
		e.outcomesSeen.Forget(out.OpportunityID)
		return domain.RiskState{}, fmt.Errorf("executor: report outcome %s: %w", out.OpportunityID, err)
	}
	e.logger.InfoContext(ctx, "outcome recorded",
		slog.String("chain", out.Chain),
		slog.String("opportunity_id", out.OpportunityID),
		slog.Bool("success", out.Success),
		slog.Float64("realized_profit", out.RealizedProfit),
		slog.Int("consecutive_failures", st.ConsecutiveFailures),
		slog.String("breaker", string(st.Breaker)),
	)
	for _, h := range e.hooks {
		h(ctx, out, st)
	}
	return st, nil
}

func (e *Executor) drain() {
	for {
		select {
		case a, ok := <-e.approvals:
			if !ok {
				return
			}
			e.logger.Warn("draining approval after shutdown", slog.String("opportunity_id", a.Opportunity.ID))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.process(ctx, a)
			cancel()
		default:
			return
		}
	}
}
