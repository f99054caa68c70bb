package scanner

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexarb/internal/aggregator"
	"github.com/alanyoungcy/dexarb/internal/arbitrage"
	"github.com/alanyoungcy/dexarb/internal/chain"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

// GasSource returns the chain's current gas price; *chain.Client
// implements it.
type GasSource interface {
	GasPrice(ctx context.Context, strategy chain.GasStrategy) (*big.Int, error)
}

// Availability reports whether a chain has any usable endpoint;
// *rpcpool.Pool implements it.
type Availability interface {
	Available(chain string) bool
}

// Collector gathers one QuoteSet; *aggregator.Aggregator implements it.
type Collector interface {
	Collect(ctx context.Context, req aggregator.Request) domain.QuoteSet
}

// Detector ranks the candidates of a cycle; *arbitrage.Detector
// implements it.
type Detector interface {
	Detect(ctx context.Context, in arbitrage.Input) []domain.Opportunity
}

// Evaluator is the safety gate; *gate.Gate implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, o domain.Opportunity) (domain.Approval, domain.Decision)
}

// CycleConfig holds the timing of a chain's scan loop.
type CycleConfig struct {
	Interval time.Duration
	// Deadline bounds the gas price lookup and quote collection, which run
	// concurrently.
	Deadline time.Duration
	// LeaseTTL is how long a cycle lease is held when Locks is set.
	LeaseTTL time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// ChainScanner runs the scan cycle of one chain.
type ChainScanner struct {
	plan      Plan
	gas       GasSource
	pool      Availability
	collector Collector
	detector  Detector
	gate      Evaluator
	approvals chan<- domain.Approval
	reporter  *Reporter
	locks     domain.LockManager

	cfg        CycleConfig
	now        func() time.Time
	lastStatus domain.CycleStatus
	logger     *slog.Logger
}

// Deps are the collaborators of a ChainScanner. Locks may be nil.
type Deps struct {
	Gas       GasSource
	Pool      Availability
	Collector Collector
	Detector  Detector
	Gate      Evaluator
	Approvals chan<- domain.Approval
	Reporter  *Reporter
	Locks     domain.LockManager
}

// NewChainScanner creates the scanner of plan.Chain.
func NewChainScanner(plan Plan, deps Deps, cfg CycleConfig) *ChainScanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 2 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = cfg.Interval + cfg.Deadline
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Reporter == nil {
		deps.Reporter = NewReporter(ReporterConfig{Logger: logger})
	}
	return &ChainScanner{
		plan:       plan,
		gas:        deps.Gas,
		pool:       deps.Pool,
		collector:  deps.Collector,
		detector:   deps.Detector,
		gate:       deps.Gate,
		approvals:  deps.Approvals,
		reporter:   deps.Reporter,
		locks:      deps.Locks,
		cfg:        cfg,
		now:        cfg.Now,
		lastStatus: domain.CycleOK,
		logger:     logger.With(slog.String("component", "scanner"), slog.String("chain", plan.Chain)),
	}
}

// Run scans immediately and then on every interval until ctx is cancelled.
func (s *ChainScanner) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scan loop starting",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("pairs", len(s.plan.Collections)),
		slog.Int("triangles", len(s.plan.Triangles)),
	)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunCycle(ctx); err != nil && !errors.Is(err, domain.ErrLockHeld) && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "cycle failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scan loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle performs one scan cycle and returns its report. It returns
// domain.ErrLockHeld when another process holds this chain's lease; every
// other problem is reflected in the report status instead.
func (s *ChainScanner) RunCycle(ctx context.Context) (domain.CycleReport, error) {
	if s.locks != nil {
		release, err := s.locks.Acquire(ctx, "scan:"+s.plan.Chain, s.cfg.LeaseTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			s.logger.DebugContext(ctx, "cycle lease held elsewhere, skipping")
			return domain.CycleReport{}, err
		case err != nil:
			s.logger.WarnContext(ctx, "cycle lease unavailable, scanning without it", slog.String("error", err.Error()))
		default:
			defer release()
		}
	}

	started := s.now()
	report := domain.CycleReport{
		CycleID:   uuid.NewString(),
		Chain:     s.plan.Chain,
		StartedAt: started,
	}

	if !s.pool.Available(s.plan.Chain) {
		report.Status = domain.CycleUnreachable
		report.Error = domain.ErrEndpointUnreachable.Error()
		return s.finish(ctx, report, nil), nil
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()

	cycle := domain.Cycle{
		ID:        report.CycleID,
		Chain:     s.plan.Chain,
		StartedAt: started,
		QuoteSets: make(map[string]domain.QuoteSet, len(s.plan.Collections)),
	}

	// The gas lookup runs beside collection so a hung node costs the cycle
	// its live gas price, not its quotes.
	var (
		gasPrice     *big.Int
		gasEstimated bool
	)
	gasDone := make(chan struct{})
	go func() {
		defer close(gasDone)
		gasPrice, gasEstimated = s.gasPrice(cctx)
	}()

	sets := s.collect(cctx, cycle.ID)
	<-gasDone
	cycle.GasPrice, cycle.GasPriceEstimated = gasPrice, gasEstimated
	report.GasPriceGwei = chain.WeiToGwei(cycle.GasPrice)
	report.GasPriceEstimated = cycle.GasPriceEstimated

	quotes, failures := 0, 0
	for _, set := range sets {
		cycle.QuoteSets[set.Pair.Key()] = set
		report.QuoteSets = append(report.QuoteSets, set.Summary())
		quotes += len(set.Quotes)
		failures += len(set.Failures)
	}

	switch {
	case quotes == 0 && failures > 0 && !s.pool.Available(s.plan.Chain):
		report.Status = domain.CycleUnreachable
		report.Error = domain.ErrEndpointUnreachable.Error()
		return s.finish(ctx, report, nil), nil
	case failures > 0:
		report.Status = domain.CycleDegraded
	default:
		report.Status = domain.CycleOK
	}

	opps := s.detector.Detect(ctx, arbitrage.Input{
		Cycle:        cycle,
		NativePrices: s.plan.NativePrices(),
		Triangles:    s.plan.Triangles,
	})
	report.Opportunities = len(opps)
	for _, o := range opps {
		approval, d := s.gate.Evaluate(ctx, o)
		s.reporter.Decision(ctx, o, d)
		if !d.Accepted {
			report.Rejected++
			continue
		}
		report.Approved++
		s.reporter.Approval(ctx, approval)
		s.handOff(ctx, approval)
	}
	return s.finish(ctx, report, opps), nil
}

// gasPrice returns the live gas price, or the configured default flagged as
// estimated when the query fails.
func (s *ChainScanner) gasPrice(ctx context.Context) (*big.Int, bool) {
	price, err := s.gas.GasPrice(ctx, s.plan.GasStrategy)
	if err == nil && price != nil && price.Sign() > 0 {
		return price, false
	}
	fallback := new(big.Int)
	if s.plan.DefaultGasPrice != nil {
		fallback.Set(s.plan.DefaultGasPrice)
	}
	attrs := []any{slog.Float64("default_gwei", chain.WeiToGwei(fallback))}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.WarnContext(ctx, "gas price unavailable, using default", attrs...)
	return fallback, true
}

// collect gathers every configured pair concurrently. The aggregator
// enforces the deadline, so the group never waits past it.
func (s *ChainScanner) collect(ctx context.Context, cycleID string) []domain.QuoteSet {
	sets := make([]domain.QuoteSet, len(s.plan.Collections))
	deadline := s.cfg.Deadline
	if dl, ok := ctx.Deadline(); ok {
		deadline = time.Until(dl)
	}
	var g errgroup.Group
	for i, c := range s.plan.Collections {
		g.Go(func() error {
			sets[i] = s.collector.Collect(ctx, aggregator.Request{
				CycleID:   cycleID,
				Chain:     s.plan.Chain,
				Pair:      c.Pair,
				Exchanges: c.Exchanges,
				AmountIn:  c.AmountIn,
				Deadline:  deadline,
			})
			return nil
		})
	}
	_ = g.Wait()
	return sets
}

// handOff queues an approval for the executor. The scan loop never blocks on
// a busy executor; the approval is dropped instead.
func (s *ChainScanner) handOff(ctx context.Context, a domain.Approval) {
	if s.approvals == nil {
		return
	}
	select {
	case s.approvals <- a:
	default:
		s.logger.WarnContext(ctx, "approval dropped, executor queue full",
			slog.String("opportunity_id", a.Opportunity.ID),
		)
	}
}

func (s *ChainScanner) finish(ctx context.Context, report domain.CycleReport, opps []domain.Opportunity) domain.CycleReport {
	report.Duration = s.now().Sub(report.StartedAt)
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	s.reporter.Cycle(ctx, report, opps)

	if report.Status == domain.CycleUnreachable && s.lastStatus != domain.CycleUnreachable {
		s.logger.ErrorContext(ctx, "chain unreachable", slog.String("error", report.Error))
		s.reporter.Unreachable(ctx, report)
	} else if report.Status != domain.CycleUnreachable && s.lastStatus == domain.CycleUnreachable {
		s.logger.InfoContext(ctx, "chain reachable again")
	}
	s.lastStatus = report.Status

	s.logger.InfoContext(ctx, "cycle completed",
		slog.String("cycle_id", report.CycleID),
		slog.String("status", string(report.Status)),
		slog.Duration("duration", report.Duration),
		slog.Float64("gas_price_gwei", report.GasPriceGwei),
		slog.Int("opportunities", report.Opportunities),
		slog.Int("approved", report.Approved),
		slog.Int("rejected", report.Rejected),
	)
	return report
}
