package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/rpcpool"
)

// EndpointPool is the part of *rpcpool.Pool the orchestrator drives.
type EndpointPool interface {
	HealthCheck(ctx context.Context, chain string, pinger rpcpool.Pinger) error
	Snapshot(chain string) ([]domain.Endpoint, error)
	Transitions() <-chan domain.EndpointTransition
}

// RiskKeeper is the part of *gate.Gate the orchestrator drives.
type RiskKeeper interface {
	Events() <-chan domain.BreakerEvent
	ResetDaily(ctx context.Context) []domain.RiskState
	State(chain string) (domain.RiskState, error)
}

// OrchestratorConfig configures the background loops.
type OrchestratorConfig struct {
	HealthInterval time.Duration
	// DailyReset is the offset from UTC midnight at which the trading day
	// rolls over.
	DailyReset time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

// Orchestrator runs every chain scanner plus the health-check, event and
// daily reset loops, each in its own goroutine.
type Orchestrator struct {
	scanners []*ChainScanner
	pingers  map[string]rpcpool.Pinger
	pool     EndpointPool
	gate     RiskKeeper
	reporter *Reporter
	cfg      OrchestratorConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. pingers holds the health ping of
// each chain.
func NewOrchestrator(
	scanners []*ChainScanner,
	pingers map[string]rpcpool.Pinger,
	pool EndpointPool,
	gate RiskKeeper,
	reporter *Reporter,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		scanners: scanners,
		pingers:  pingers,
		pool:     pool,
		gate:     gate,
		reporter: reporter,
		cfg:      cfg,
		now:      cfg.Now,
		logger:   logger.With(slog.String("component", "orchestrator")),
	}
}

// Run blocks until ctx is cancelled or a loop fails. Chains are scanned
// independently; a slow chain never delays another.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "orchestrator starting",
		slog.Int("chains", len(o.scanners)),
		slog.Duration("health_interval", o.cfg.HealthInterval),
		slog.Time("next_daily_reset", NextReset(o.now(), o.cfg.DailyReset)),
	)
	o.publishInitial(ctx)

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range o.scanners {
		g.Go(func() error {
			return clean(ctx, s.Run(ctx), "scanner "+s.plan.Chain)
		})
	}
	g.Go(func() error { return clean(ctx, o.healthLoop(ctx), "health check") })
	g.Go(func() error { return clean(ctx, o.pumpTransitions(ctx), "endpoint transitions") })
	g.Go(func() error { return clean(ctx, o.pumpBreaker(ctx), "breaker events") })
	g.Go(func() error { return clean(ctx, o.resetLoop(ctx), "daily reset") })

	if err := g.Wait(); err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("orchestrator stopped cleanly")
	return nil
}

// clean turns the error of a loop stopped by cancellation into nil.
func clean(ctx context.Context, err error, name string) error {
	if ctx.Err() != nil || err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (o *Orchestrator) publishInitial(ctx context.Context) {
	for _, s := range o.scanners {
		chain := s.plan.Chain
		if eps, err := o.pool.Snapshot(chain); err == nil {
			o.reporter.Endpoints(ctx, chain, eps, nil)
		}
		if st, err := o.gate.State(chain); err == nil {
			o.reporter.Risk(ctx, st)
		}
	}
}

func (o *Orchestrator) healthLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.checkAll(ctx)
		}
	}
}

// checkAll pings every chain concurrently and refreshes the board.
func (o *Orchestrator) checkAll(ctx context.Context) {
	var g errgroup.Group
	for chain, pinger := range o.pingers {
		g.Go(func() error {
			if err := o.pool.HealthCheck(ctx, chain, pinger); err != nil {
				o.logger.WarnContext(ctx, "health check failed",
					slog.String("chain", chain),
					slog.String("error", err.Error()),
				)
			}
			eps, err := o.pool.Snapshot(chain)
			if err == nil {
				o.reporter.Endpoints(ctx, chain, eps, nil)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) pumpTransitions(ctx context.Context) error {
	transitions := o.pool.Transitions()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-transitions:
			if !ok {
				return nil
			}
			o.logger.InfoContext(ctx, "endpoint state changed",
				slog.String("chain", t.Chain),
				slog.String("endpoint", t.EndpointID),
				slog.String("from", string(t.From)),
				slog.String("to", string(t.To)),
			)
			eps, err := o.pool.Snapshot(t.Chain)
			if err != nil {
				continue
			}
			o.reporter.Endpoints(ctx, t.Chain, eps, &t)
		}
	}
}

func (o *Orchestrator) pumpBreaker(ctx context.Context) error {
	events := o.gate.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			st, err := o.gate.State(ev.Chain)
			if err != nil {
				continue
			}
			o.reporter.Breaker(ctx, ev, st)
		}
	}
}

func (o *Orchestrator) resetLoop(ctx context.Context) error {
	timer := time.NewTimer(NextReset(o.now(), o.cfg.DailyReset).Sub(o.now()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			states := o.gate.ResetDaily(ctx)
			for _, st := range states {
				o.reporter.Risk(ctx, st)
			}
			next := NextReset(o.now(), o.cfg.DailyReset)
			o.logger.InfoContext(ctx, "daily risk reset",
				slog.Int("chains", len(states)),
				slog.Time("next", next),
			)
			timer.Reset(next.Sub(o.now()))
		}
	}
}

// NextReset returns the first daily boundary strictly after now.
func NextReset(now time.Time, offset time.Duration) time.Time {
	next := DayStart(now, offset).Add(24 * time.Hour)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// DayStart returns the most recent daily boundary at or before now.
func DayStart(now time.Time, offset time.Duration) time.Time {
	start := now.UTC().Truncate(24 * time.Hour).Add(offset)
	if start.After(now) {
		start = start.Add(-24 * time.Hour)
	}
	return start
}
