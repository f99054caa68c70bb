// Package gate holds the per-chain risk state and decides which arbitrage
// candidates may be handed to execution.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Config holds the tunable risk limits shared by every chain. Sizes and
// losses are in native coin units.
type Config struct {
	MinProfitPct   float64
	MaxSlippagePct float64
	// MaxTradeSize bounds Opportunity.InputNative; zero disables it.
	MaxTradeSize     float64
	FailureThreshold int
	// DailyLossCeiling bounds the day's summed negative
	// Outcome.RealizedProfit; zero disables the loss check.
	DailyLossCeiling float64
	// MaxGasPriceGwei of zero disables the gas ceiling.
	MaxGasPriceGwei float64
	// MaxOpportunityAge of zero disables the age check.
	MaxOpportunityAge time.Duration
	// SeenWindow bounds how many evaluated opportunity ids are remembered
	// per chain.
	SeenWindow  int
	EventBuffer int
	Logger      *slog.Logger
	Now         func() time.Time
}

// ChainPolicy is the per-chain part of the gate configuration.
type ChainPolicy struct {
	Name string
	// PrivateRelay asks the executor to submit through a private relay
	// rather than the public mempool.
	PrivateRelay bool
}

// Gate evaluates opportunities against the risk limits and tracks execution
// outcomes. Each chain has its own lock; chains never contend.
type Gate struct {
	cfg    Config
	chains map[string]*chainState
	events chan domain.BreakerEvent
	logger *slog.Logger
	now    func() time.Time
}

type chainState struct {
	mu           sync.Mutex
	state        domain.RiskState
	privateRelay bool
	seen         map[string]struct{}
	seenOrder    []string
}

// New creates a gate with every chain's breaker closed.
func New(cfg Config, chains []ChainPolicy) *Gate {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SeenWindow <= 0 {
		cfg.SeenWindow = 4096
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 32
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gate{
		cfg:    cfg,
		chains: make(map[string]*chainState, len(chains)),
		events: make(chan domain.BreakerEvent, cfg.EventBuffer),
		logger: logger.With(slog.String("component", "safety_gate")),
		now:    cfg.Now,
	}
	started := cfg.Now()
	for _, c := range chains {
		g.chains[c.Name] = &chainState{
			state: domain.RiskState{
				Chain:       c.Name,
				Breaker:     domain.BreakerClosed,
				LastResetAt: started,
			},
			privateRelay: c.PrivateRelay,
			seen:         make(map[string]struct{}),
		}
	}
	return g
}

// Events returns breaker transitions. Events are dropped when the buffer is
// full.
func (g *Gate) Events() <-chan domain.BreakerEvent { return g.events }

// Evaluate runs the risk checks against o. On acceptance the returned
// Approval carries per-leg execution bounds; on rejection it is empty. An
// opportunity id is only ever evaluated once.
func (g *Gate) Evaluate(ctx context.Context, o domain.Opportunity) (domain.Approval, domain.Decision) {
	cs, ok := g.chains[o.Chain]
	if !ok {
		return domain.Approval{}, g.reject(ctx, o, domain.RejectUnknownChain)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, dup := cs.seen[o.ID]; dup {
		return domain.Approval{}, g.reject(ctx, o, domain.RejectAlreadyHandled)
	}
	cs.remember(o.ID, g.cfg.SeenWindow)

	if reason, bad := g.check(cs.state, o); bad {
		return domain.Approval{}, g.reject(ctx, o, reason)
	}

	approval := domain.Approval{
		Opportunity:     o,
		Instructions:    Instructions(o),
		SubmitPrivately: cs.privateRelay,
		ApprovedAt:      g.now(),
	}
	g.logger.InfoContext(ctx, "opportunity approved",
		slog.String("chain", o.Chain),
		slog.String("opportunity_id", o.ID),
		slog.String("kind", string(o.Kind)),
		slog.Float64("net_profit_pct", o.NetProfitPct),
		slog.Bool("private", approval.SubmitPrivately),
	)
	return approval, domain.Decision{Accepted: true}
}

// check returns the first limit o violates. The minimum profit is
// inclusive: a candidate exactly at the minimum passes.
func (g *Gate) check(st domain.RiskState, o domain.Opportunity) (domain.RejectReason, bool) {
	switch {
	case st.Breaker == domain.BreakerOpen:
		return domain.RejectBreakerOpen, true
	case g.cfg.DailyLossCeiling > 0 && st.DailyLoss >= g.cfg.DailyLossCeiling:
		return domain.RejectDailyLoss, true
	case g.cfg.MaxTradeSize > 0 && o.InputNative > g.cfg.MaxTradeSize:
		return domain.RejectTradeTooLarge, true
	case o.NetProfitPct < g.cfg.MinProfitPct:
		return domain.RejectProfitTooLow, true
	case o.SlippagePct > g.cfg.MaxSlippagePct:
		return domain.RejectSlippage, true
	case g.cfg.MaxGasPriceGwei > 0 && o.GasPriceGwei > g.cfg.MaxGasPriceGwei:
		return domain.RejectGasCeiling, true
	case g.cfg.MaxOpportunityAge > 0 && g.now().Sub(o.DiscoveredAt) > g.cfg.MaxOpportunityAge:
		return domain.RejectStale, true
	}
	return "", false
}

func (g *Gate) reject(ctx context.Context, o domain.Opportunity, reason domain.RejectReason) domain.Decision {
	g.logger.InfoContext(ctx, "opportunity rejected",
		slog.String("chain", o.Chain),
		slog.String("opportunity_id", o.ID),
		slog.String("reason", string(reason)),
		slog.Float64("net_profit_pct", o.NetProfitPct),
	)
	return domain.Decision{Accepted: false, Reason: reason}
}

// RecordOutcome applies an execution result to the chain's risk state.
// Success clears the failure run; failure extends it and opens the breaker
// once the run reaches the threshold. Reports for one chain apply in the
// order they acquire the chain lock.
func (g *Gate) RecordOutcome(ctx context.Context, out domain.Outcome) (domain.RiskState, error) {
	cs, ok := g.chains[out.Chain]
	if !ok {
		return domain.RiskState{}, fmt.Errorf("gate: record outcome %q: %w", out.Chain, domain.ErrUnknownChain)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	st := &cs.state
	switch {
	case out.RealizedProfit < 0:
		st.DailyLoss += -out.RealizedProfit
	case out.RealizedProfit > 0:
		st.DailyProfit += out.RealizedProfit
	}

	if out.Success {
		st.ConsecutiveFailures = 0
		return *st, nil
	}

	st.ConsecutiveFailures++
	g.logger.WarnContext(ctx, "execution failed",
		slog.String("chain", out.Chain),
		slog.String("opportunity_id", out.OpportunityID),
		slog.Int("consecutive_failures", st.ConsecutiveFailures),
		slog.String("error", out.Error),
	)
	if st.Breaker == domain.BreakerClosed && st.ConsecutiveFailures >= g.cfg.FailureThreshold {
		now := g.now()
		st.Breaker = domain.BreakerOpen
		st.OpenedAt = &now
		g.emit(domain.BreakerEvent{
			Chain:  out.Chain,
			From:   domain.BreakerClosed,
			To:     domain.BreakerOpen,
			Reason: fmt.Sprintf("%d consecutive failures", st.ConsecutiveFailures),
			At:     now,
		})
		g.logger.ErrorContext(ctx, "breaker opened",
			slog.String("chain", out.Chain),
			slog.Int("consecutive_failures", st.ConsecutiveFailures),
		)
	}
	return *st, nil
}

// ResetDaily starts a new trading day on every chain: cumulative loss and
// profit are cleared and open breakers close.
func (g *Gate) ResetDaily(ctx context.Context) []domain.RiskState {
	out := make([]domain.RiskState, 0, len(g.chains))
	for _, name := range g.Chains() {
		out = append(out, g.reset(ctx, name, "daily_reset"))
	}
	return out
}

// ManualReset closes the breaker of one chain and clears its counters.
func (g *Gate) ManualReset(ctx context.Context, chain string) (domain.RiskState, error) {
	if _, ok := g.chains[chain]; !ok {
		return domain.RiskState{}, fmt.Errorf("gate: manual reset %q: %w", chain, domain.ErrUnknownChain)
	}
	return g.reset(ctx, chain, "manual_reset"), nil
}

func (g *Gate) reset(ctx context.Context, chain, reason string) domain.RiskState {
	cs := g.chains[chain]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := g.now()
	st := &cs.state
	st.ConsecutiveFailures = 0
	st.DailyLoss = 0
	st.DailyProfit = 0
	st.LastResetAt = now
	if st.Breaker == domain.BreakerOpen {
		st.Breaker = domain.BreakerClosed
		st.OpenedAt = nil
		g.emit(domain.BreakerEvent{Chain: chain, From: domain.BreakerOpen, To: domain.BreakerClosed, Reason: reason, At: now})
		g.logger.InfoContext(ctx, "breaker closed",
			slog.String("chain", chain),
			slog.String("reason", reason),
		)
	}
	return *st
}

// Restore seeds the daily totals of a chain, e.g. from the journal after a
// restart. It does not touch the breaker or the failure counter.
func (g *Gate) Restore(chain string, dailyProfit, dailyLoss float64, since time.Time) (domain.RiskState, error) {
	cs, ok := g.chains[chain]
	if !ok {
		return domain.RiskState{}, fmt.Errorf("gate: restore %q: %w", chain, domain.ErrUnknownChain)
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.state.DailyProfit = dailyProfit
	cs.state.DailyLoss = dailyLoss
	cs.state.LastResetAt = since
	return cs.state, nil
}

// State returns a copy of the chain's risk state.
func (g *Gate) State(chain string) (domain.RiskState, error) {
	cs, ok := g.chains[chain]
	if !ok {
		return domain.RiskState{}, fmt.Errorf("gate: state %q: %w", chain, domain.ErrUnknownChain)
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state, nil
}

// Chains returns the configured chain names, sorted.
func (g *Gate) Chains() []string {
	names := make([]string, 0, len(g.chains))
	for n := range g.chains {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (g *Gate) emit(ev domain.BreakerEvent) {
	select {
	case g.events <- ev:
	default:
	}
}

func (cs *chainState) remember(id string, window int) {
	cs.seen[id] = struct{}{}
	cs.seenOrder = append(cs.seenOrder, id)
	if len(cs.seenOrder) > window {
		delete(cs.seen, cs.seenOrder[0])
		cs.seenOrder = cs.seenOrder[1:]
	}
}

// Instructions converts the legs of o into raw per-leg amounts. Each leg
// spends the expected output of the previous one and may not return less
// than its expected output minus the opportunity's slippage buffer.
func Instructions(o domain.Opportunity) []domain.LegInstruction {
	out := make([]domain.LegInstruction, 0, len(o.Legs))
	amount := o.InputAmount
	for _, leg := range o.Legs {
		from, to := leg.From(), leg.To()
		expected := amount * leg.Rate
		out = append(out, domain.LegInstruction{
			Leg:       leg,
			AmountIn:  domain.FromFloat(amount, from.Decimals),
			MinOut:    MinOut(domain.FromFloat(expected, to.Decimals), o.SlippagePct),
			FromToken: from,
			ToToken:   to,
		})
		amount = expected
	}
	return out
}
