// Package monitor keeps the latest per-chain view of the scanner: the last
// cycle report, the ranked opportunities it produced, endpoint health and
// risk state. The HTTP server reads from it.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Source is the read side consumed by the HTTP server.
type Source interface {
	Chains(ctx context.Context) ([]string, error)
	Cycle(ctx context.Context, chain string) (domain.CycleReport, error)
	Opportunities(ctx context.Context, chain string) ([]domain.Opportunity, error)
	Endpoints(ctx context.Context, chain string) ([]domain.Endpoint, error)
	Risk(ctx context.Context, chain string) (domain.RiskState, error)
}

var (
	_ Source = (*Board)(nil)
	_ Source = (*CacheView)(nil)
)

type chainView struct {
	cycle     *domain.CycleReport
	opps      []domain.Opportunity
	endpoints []domain.Endpoint
	risk      *domain.RiskState
}

// Board is the in-process view written by the scanner. When a snapshot cache
// is attached every write is mirrored to it so a separate monitor process can
// serve the same data.
type Board struct {
	mu     sync.RWMutex
	chains map[string]*chainView
	cache  domain.SnapshotCache
	logger *slog.Logger
}

// NewBoard creates a Board for the configured chains. cache may be nil.
func NewBoard(chains []string, cache domain.SnapshotCache, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Board{
		chains: make(map[string]*chainView, len(chains)),
		cache:  cache,
		logger: logger.With(slog.String("component", "board")),
	}
	for _, c := range chains {
		b.chains[c] = &chainView{}
	}
	return b
}

func (b *Board) view(chain string) (*chainView, error) {
	v, ok := b.chains[chain]
	if !ok {
		return nil, fmt.Errorf("monitor: chain %q: %w", chain, domain.ErrUnknownChain)
	}
	return v, nil
}

// RecordCycle stores a finished cycle and the opportunities it ranked.
func (b *Board) RecordCycle(ctx context.Context, report domain.CycleReport, opps []domain.Opportunity) error {
	b.mu.Lock()
	v, err := b.view(report.Chain)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	r := report
	v.cycle = &r
	v.opps = append([]domain.Opportunity(nil), opps...)
	b.mu.Unlock()

	if b.cache == nil {
		return nil
	}
	var errs []error
	if err := b.cache.SetCycle(ctx, report); err != nil {
		errs = append(errs, err)
	}
	if err := b.cache.SetOpportunities(ctx, report.Chain, opps); err != nil {
		errs = append(errs, err)
	}
	return b.mirrored(ctx, report.Chain, "cycle", errors.Join(errs...))
}

// RecordEndpoints stores an endpoint health snapshot.
func (b *Board) RecordEndpoints(ctx context.Context, chain string, eps []domain.Endpoint) error {
	b.mu.Lock()
	v, err := b.view(chain)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	v.endpoints = append([]domain.Endpoint(nil), eps...)
	b.mu.Unlock()

	if b.cache == nil {
		return nil
	}
	return b.mirrored(ctx, chain, "endpoints", b.cache.SetEndpoints(ctx, chain, eps))
}

// RecordRisk stores the latest risk state of a chain.
func (b *Board) RecordRisk(ctx context.Context, st domain.RiskState) error {
	b.mu.Lock()
	v, err := b.view(st.Chain)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	s := st
	v.risk = &s
	b.mu.Unlock()

	if b.cache == nil {
		return nil
	}
	return b.mirrored(ctx, st.Chain, "risk", b.cache.SetRisk(ctx, st))
}

// mirrored logs cache write failures. The in-memory view is authoritative, so
// the error is returned only for callers that want to count it.
func (b *Board) mirrored(ctx context.Context, chain, kind string, err error) error {
	if err == nil {
		return nil
	}
	b.logger.WarnContext(ctx, "snapshot mirror failed",
		slog.String("chain", chain),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("monitor: mirror %s for %s: %w", kind, chain, err)
}

// Chains implements Source.
func (b *Board) Chains(context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.chains))
	for c := range b.chains {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// Cycle implements Source. It returns domain.ErrNotFound before the first
// cycle of the chain completes.
func (b *Board) Cycle(_ context.Context, chain string) (domain.CycleReport, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, err := b.view(chain)
	if err != nil {
		return domain.CycleReport{}, err
	}
	if v.cycle == nil {
		return domain.CycleReport{}, fmt.Errorf("monitor: cycle for %s: %w", chain, domain.ErrNotFound)
	}
	return *v.cycle, nil
}

// Opportunities implements Source.
func (b *Board) Opportunities(_ context.Context, chain string) ([]domain.Opportunity, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, err := b.view(chain)
	if err != nil {
		return nil, err
	}
	return append([]domain.Opportunity{}, v.opps...), nil
}

// Endpoints implements Source.
func (b *Board) Endpoints(_ context.Context, chain string) ([]domain.Endpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, err := b.view(chain)
	if err != nil {
		return nil, err
	}
	return append([]domain.Endpoint{}, v.endpoints...), nil
}

// Risk implements Source.
func (b *Board) Risk(_ context.Context, chain string) (domain.RiskState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, err := b.view(chain)
	if err != nil {
		return domain.RiskState{}, err
	}
	if v.risk == nil {
		return domain.RiskState{}, fmt.Errorf("monitor: risk for %s: %w", chain, domain.ErrNotFound)
	}
	return *v.risk, nil
}

// CacheView serves the Source interface straight from the snapshot cache.
// Monitor mode uses it to watch scanners running in other processes.
type CacheView struct {
	chains []string
	cache  domain.SnapshotCache
}

// NewCacheView creates a CacheView over the configured chains.
func NewCacheView(chains []string, cache domain.SnapshotCache) *CacheView {
	sorted := append([]string(nil), chains...)
	sort.Strings(sorted)
	return &CacheView{chains: sorted, cache: cache}
}

func (v *CacheView) known(chain string) error {
	i := sort.SearchStrings(v.chains, chain)
	if i < len(v.chains) && v.chains[i] == chain {
		return nil
	}
	return fmt.Errorf("monitor: chain %q: %w", chain, domain.ErrUnknownChain)
}

// Chains implements Source.
func (v *CacheView) Chains(context.Context) ([]string, error) {
	return append([]string(nil), v.chains...), nil
}

// Cycle implements Source.
func (v *CacheView) Cycle(ctx context.Context, chain string) (domain.CycleReport, error) {
	if err := v.known(chain); err != nil {
		return domain.CycleReport{}, err
	}
	return v.cache.GetCycle(ctx, chain)
}

// Opportunities implements Source. A missing snapshot reads as an empty list.
func (v *CacheView) Opportunities(ctx context.Context, chain string) ([]domain.Opportunity, error) {
	if err := v.known(chain); err != nil {
		return nil, err
	}
	opps, err := v.cache.GetOpportunities(ctx, chain)
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.Opportunity{}, nil
	}
	return opps, err
}

// Endpoints implements Source. A missing snapshot reads as an empty list.
func (v *CacheView) Endpoints(ctx context.Context, chain string) ([]domain.Endpoint, error) {
	if err := v.known(chain); err != nil {
		return nil, err
	}
	eps, err := v.cache.GetEndpoints(ctx, chain)
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.Endpoint{}, nil
	}
	return eps, err
}

// Risk implements Source.
func (v *CacheView) Risk(ctx context.Context, chain string) (domain.RiskState, error) {
	if err := v.known(chain); err != nil {
		return domain.RiskState{}, err
	}
	return v.cache.GetRisk(ctx, chain)
}
