package scanner

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Board receives the latest per-chain projections; *monitor.Board
// implements it.
type Board interface {
	RecordCycle(ctx context.Context, report domain.CycleReport, opps []domain.Opportunity) error
	RecordEndpoints(ctx context.Context, chain string, eps []domain.Endpoint) error
	RecordRisk(ctx context.Context, st domain.RiskState) error
}

// Notifier forwards selected events to operators; *notify.Notifier
// implements it.
type Notifier interface {
	Notify(ctx context.Context, ev domain.Event)
}

// Reporter fans scan results out to the board, the journal, the signal bus
// and the notifier. Every sink is optional and a failing sink never
// interrupts scanning.
type Reporter struct {
	board    Board
	journal  domain.JournalStore
	bus      domain.SignalBus
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
}

// ReporterConfig lists the sinks of a Reporter.
type ReporterConfig struct {
	Board    Board
	Journal  domain.JournalStore
	Bus      domain.SignalBus
	Notifier Notifier
	Logger   *slog.Logger
}

// NewReporter creates a Reporter.
func NewReporter(cfg ReporterConfig) *Reporter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		board:    cfg.Board,
		journal:  cfg.Journal,
		bus:      cfg.Bus,
		notifier: cfg.Notifier,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "reporter")),
	}
}

// Cycle records a finished cycle.
func (r *Reporter) Cycle(ctx context.Context, report domain.CycleReport, opps []domain.Opportunity) {
	if r.board != nil {
		r.warn(ctx, "board cycle", report.Chain, r.board.RecordCycle(ctx, report, opps))
	}
	if r.journal != nil {
		r.warn(ctx, "journal cycle", report.Chain, r.journal.RecordCycle(ctx, report))
	}
	r.publish(ctx, domain.ChannelCycles, domain.EventCycleCompleted, report.Chain, report)
}

// Decision journals one gate decision.
func (r *Reporter) Decision(ctx context.Context, o domain.Opportunity, d domain.Decision) {
	if r.journal == nil {
		return
	}
	r.warn(ctx, "journal decision", o.Chain, r.journal.RecordDecision(ctx, domain.DecisionRecord{
		Opportunity: o,
		Decision:    d,
		DecidedAt:   r.now(),
	}))
}

// Approval announces an approved opportunity.
func (r *Reporter) Approval(ctx context.Context, a domain.Approval) {
	r.publish(ctx, domain.ChannelApprovals, domain.EventOpportunityApproved, a.Opportunity.Chain, a)
}

// Unreachable announces that every endpoint of chain is down. It is called
// once per outage, not once per cycle.
func (r *Reporter) Unreachable(ctx context.Context, report domain.CycleReport) {
	r.publish(ctx, domain.ChannelEndpoints, domain.EventChainUnreachable, report.Chain, report)
}

// Outcome records an applied execution outcome and the risk state it left.
func (r *Reporter) Outcome(ctx context.Context, out domain.Outcome, st domain.RiskState) {
	if r.journal != nil {
		r.warn(ctx, "journal outcome", out.Chain, r.journal.RecordOutcome(ctx, out))
	}
	r.Risk(ctx, st)
	r.publish(ctx, domain.ChannelOutcomes, domain.EventOutcomeReported, out.Chain, out)
}

// Breaker records a breaker transition together with the chain's new state.
func (r *Reporter) Breaker(ctx context.Context, ev domain.BreakerEvent, st domain.RiskState) {
	if r.journal != nil {
		r.warn(ctx, "journal breaker", ev.Chain, r.journal.RecordBreakerEvent(ctx, ev))
	}
	r.Risk(ctx, st)
	t := domain.EventBreakerOpen
	if ev.To == domain.BreakerClosed {
		t = domain.EventBreakerClosed
	}
	r.publish(ctx, domain.ChannelBreaker, t, ev.Chain, ev)
}

// Risk updates the board's risk projection.
func (r *Reporter) Risk(ctx context.Context, st domain.RiskState) {
	if r.board != nil {
		r.warn(ctx, "board risk", st.Chain, r.board.RecordRisk(ctx, st))
	}
}

// Endpoints updates the board's endpoint projection and announces the
// transition that caused it, if any.
func (r *Reporter) Endpoints(ctx context.Context, chain string, eps []domain.Endpoint, t *domain.EndpointTransition) {
	if r.board != nil {
		r.warn(ctx, "board endpoints", chain, r.board.RecordEndpoints(ctx, chain, eps))
	}
	if t != nil {
		r.publish(ctx, domain.ChannelEndpoints, domain.EventEndpointState, chain, t)
	}
}

// publish sends an event to the bus and the notifier. The notifier filters
// the event types it forwards.
func (r *Reporter) publish(ctx context.Context, channel string, t domain.EventType, chain string, payload any) {
	ev, err := domain.NewEvent(t, chain, r.now(), payload)
	if err != nil {
		r.warn(ctx, "encode event", chain, err)
		return
	}
	if r.bus != nil {
		raw, err := json.Marshal(ev)
		if err == nil {
			err = r.bus.Publish(ctx, channel, raw)
		}
		r.warn(ctx, "publish "+string(t), chain, err)
	}
	if r.notifier != nil {
		r.notifier.Notify(ctx, ev)
	}
}

func (r *Reporter) warn(ctx context.Context, op, chain string, err error) {
	if err == nil {
		return
	}
	r.logger.WarnContext(ctx, "sink failed",
		slog.String("op", op),
		slog.String("chain", chain),
		slog.String("error", err.Error()),
	)
}
