// Package rpcpool tracks the health of every RPC endpoint configured for each
// chain and selects the best one for a call.
package rpcpool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Pinger actively checks one endpoint, typically with a latest-block query.
type Pinger interface {
	Ping(ctx context.Context, ep domain.Endpoint) error
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc func(ctx context.Context, ep domain.Endpoint) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context, ep domain.Endpoint) error { return f(ctx, ep) }

// Config holds the health-tracking thresholds.
type Config struct {
	// LatencyAlpha is the EMA weight given to the newest latency sample.
	LatencyAlpha float64
	// DegradeAfter consecutive failures demote Healthy to Degraded.
	DegradeAfter int
	// UnreachableAfter further consecutive failures demote Degraded to Unreachable.
	UnreachableAfter int
	// RecoverAfter consecutive successes promote Degraded to Healthy.
	RecoverAfter int
	// PingTimeout bounds a single health-check ping.
	PingTimeout time.Duration
	// EventBuffer is the capacity of the transition channel.
	EventBuffer int
	Logger      *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.LatencyAlpha <= 0 || c.LatencyAlpha > 1 {
		c.LatencyAlpha = 0.3
	}
	if c.DegradeAfter < 1 {
		c.DegradeAfter = 3
	}
	if c.UnreachableAfter < 1 {
		c.UnreachableAfter = 2
	}
	if c.RecoverAfter < 1 {
		c.RecoverAfter = 2
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 3 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// chainPool guards every endpoint of one chain. Updates for different chains
// never contend.
type chainPool struct {
	mu        sync.Mutex
	endpoints []*domain.Endpoint
}

// Pool owns the endpoint descriptors of every chain. The set of chains and
// endpoints is fixed at construction.
type Pool struct {
	cfg    Config
	chains map[string]*chainPool
	events chan domain.EndpointTransition
	now    func() time.Time
	logger *slog.Logger
}

// New builds a pool from per-chain endpoint URLs listed in priority order.
// Every endpoint starts Healthy with no latency samples.
func New(cfg Config, endpoints map[string][]string) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:    cfg,
		chains: make(map[string]*chainPool, len(endpoints)),
		events: make(chan domain.EndpointTransition, cfg.EventBuffer),
		now:    time.Now,
		logger: cfg.Logger.With(slog.String("component", "rpcpool")),
	}
	for chain, urls := range endpoints {
		cp := &chainPool{endpoints: make([]*domain.Endpoint, 0, len(urls))}
		for i, u := range urls {
			cp.endpoints = append(cp.endpoints, &domain.Endpoint{
				ID:       fmt.Sprintf("%s-%d", chain, i),
				Chain:    chain,
				URL:      u,
				Priority: i,
				State:    domain.EndpointHealthy,
			})
		}
		p.chains[chain] = cp
	}
	return p
}

// Chains returns the configured chain names, sorted.
func (p *Pool) Chains() []string {
	names := make([]string, 0, len(p.chains))
	for n := range p.chains {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Transitions returns the stream of endpoint state changes. Sends never
// block the pool; when nobody drains the channel, transitions are dropped.
func (p *Pool) Transitions() <-chan domain.EndpointTransition {
	return p.events
}

func (p *Pool) chain(name string) (*chainPool, error) {
	cp, ok := p.chains[name]
	if !ok {
		return nil, fmt.Errorf("rpcpool: chain %q: %w", name, domain.ErrUnknownChain)
	}
	return cp, nil
}

// Select returns the best endpoint for chain: the lowest-latency Healthy one,
// otherwise the best Degraded one. Endpoints whose ids appear in exclude are
// skipped for this call. ErrNoEndpointAvailable is returned when only
// Unreachable (or excluded) endpoints remain.
func (p *Pool) Select(chain string, exclude ...string) (domain.Endpoint, error) {
	cp, err := p.chain(chain)
	if err != nil {
		return domain.Endpoint{}, err
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	var best *domain.Endpoint
	for _, ep := range cp.endpoints {
		if ep.State == domain.EndpointUnreachable || excluded(ep.ID, exclude) {
			continue
		}
		if best == nil || better(ep, best) {
			best = ep
		}
	}
	if best == nil {
		return domain.Endpoint{}, fmt.Errorf("rpcpool: select %s: %w", chain, domain.ErrNoEndpointAvailable)
	}
	return *best, nil
}

func excluded(id string, exclude []string) bool {
	for _, x := range exclude {
		if x == id {
			return true
		}
	}
	return false
}

func stateRank(s domain.EndpointState) int {
	switch s {
	case domain.EndpointHealthy:
		return 0
	case domain.EndpointDegraded:
		return 1
	default:
		return 2
	}
}

// better orders endpoints by state, then measured before unmeasured, then
// latency, then declared priority.
func better(a, b *domain.Endpoint) bool {
	if ra, rb := stateRank(a.State), stateRank(b.State); ra != rb {
		return ra < rb
	}
	am, bm := a.Samples > 0, b.Samples > 0
	if am != bm {
		return am
	}
	if am && a.Latency != b.Latency {
		return a.Latency < b.Latency
	}
	return a.Priority < b.Priority
}

// Report applies the outcome of a call made through endpoint id.
func (p *Pool) Report(chain, id string, out domain.CallOutcome) error {
	cp, err := p.chain(chain)
	if err != nil {
		return err
	}

	cp.mu.Lock()
	ep := cp.find(id)
	if ep == nil {
		cp.mu.Unlock()
		return fmt.Errorf("rpcpool: report %s/%s: %w", chain, id, domain.ErrNotFound)
	}
	from := ep.State
	p.apply(ep, out)
	to := ep.State
	cp.mu.Unlock()

	if from != to {
		p.emit(domain.EndpointTransition{Chain: chain, EndpointID: id, From: from, To: to, At: p.now()})
	}
	return nil
}

// Failover explicitly marks an endpoint Unreachable, for instance when it
// turns out to serve a different network. Normal probing can recover it.
func (p *Pool) Failover(chain, id, reason string) error {
	cp, err := p.chain(chain)
	if err != nil {
		return err
	}

	cp.mu.Lock()
	ep := cp.find(id)
	if ep == nil {
		cp.mu.Unlock()
		return fmt.Errorf("rpcpool: failover %s/%s: %w", chain, id, domain.ErrNotFound)
	}
	from := ep.State
	ep.State = domain.EndpointUnreachable
	ep.ConsecutiveFailures = 0
	ep.ConsecutiveSuccesses = 0
	ep.LastError = reason
	ep.UpdatedAt = p.now()
	cp.mu.Unlock()

	if from != domain.EndpointUnreachable {
		p.emit(domain.EndpointTransition{Chain: chain, EndpointID: id, From: from, To: domain.EndpointUnreachable, At: p.now()})
	}
	return nil
}

func (cp *chainPool) find(id string) *domain.Endpoint {
	for _, ep := range cp.endpoints {
		if ep.ID == id {
			return ep
		}
	}
	return nil
}

// apply mutates ep under the chain lock. Counters restart after every state
// change, so "two further failures" after a demotion are counted afresh.
func (p *Pool) apply(ep *domain.Endpoint, out domain.CallOutcome) {
	ep.UpdatedAt = p.now()

	if out.Success {
		if ep.Samples == 0 {
			ep.Latency = out.Latency
		} else {
			a := p.cfg.LatencyAlpha
			ep.Latency = time.Duration(a*float64(out.Latency) + (1-a)*float64(ep.Latency))
		}
		ep.Samples++
		ep.ConsecutiveFailures = 0
		ep.ConsecutiveSuccesses++
		ep.LastError = ""

		switch ep.State {
		case domain.EndpointUnreachable:
			ep.State = domain.EndpointDegraded
			ep.ConsecutiveSuccesses = 0
		case domain.EndpointDegraded:
			if ep.ConsecutiveSuccesses >= p.cfg.RecoverAfter {
				ep.State = domain.EndpointHealthy
				ep.ConsecutiveSuccesses = 0
			}
		}
		return
	}

	ep.ConsecutiveSuccesses = 0
	ep.ConsecutiveFailures++
	if out.Err != nil {
		ep.LastError = out.Err.Error()
	}

	switch ep.State {
	case domain.EndpointHealthy:
		if ep.ConsecutiveFailures >= p.cfg.DegradeAfter {
			ep.State = domain.EndpointDegraded
			ep.ConsecutiveFailures = 0
		}
	case domain.EndpointDegraded:
		if ep.ConsecutiveFailures >= p.cfg.UnreachableAfter {
			ep.State = domain.EndpointUnreachable
			ep.ConsecutiveFailures = 0
		}
	}
}

func (p *Pool) emit(t domain.EndpointTransition) {
	p.logger.Info("endpoint state changed",
		slog.String("chain", t.Chain),
		slog.String("endpoint", t.EndpointID),
		slog.String("from", string(t.From)),
		slog.String("to", string(t.To)),
	)
	select {
	case p.events <- t:
	default:
		p.logger.Debug("transition dropped, channel full", slog.String("endpoint", t.EndpointID))
	}
}

// Snapshot returns copies of every endpoint of chain in priority order.
func (p *Pool) Snapshot(chain string) ([]domain.Endpoint, error) {
	cp, err := p.chain(chain)
	if err != nil {
		return nil, err
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	out := make([]domain.Endpoint, len(cp.endpoints))
	for i, ep := range cp.endpoints {
		out[i] = *ep
	}
	return out, nil
}

// Available reports whether chain has at least one endpoint that is not
// Unreachable.
func (p *Pool) Available(chain string) bool {
	_, err := p.Select(chain)
	return err == nil
}

// HealthCheck pings every endpoint of chain concurrently, regardless of
// state, and reports each result. It returns once every ping has finished
// or timed out.
func (p *Pool) HealthCheck(ctx context.Context, chain string, pinger Pinger) error {
	eps, err := p.Snapshot(chain)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, ep := range eps {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, p.cfg.PingTimeout)
			defer cancel()

			start := p.now()
			perr := pinger.Ping(pctx, ep)
			out := domain.CallOutcome{Success: perr == nil, Latency: p.now().Sub(start), Err: perr}
			if perr != nil {
				p.logger.DebugContext(ctx, "ping failed",
					slog.String("endpoint", ep.ID),
					slog.String("error", perr.Error()),
				)
			}
			return p.Report(chain, ep.ID, out)
		})
	}
	return g.Wait()
}
