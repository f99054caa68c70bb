package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/aggregator"
	"github.com/alanyoungcy/dexarb/internal/arbitrage"
	"github.com/alanyoungcy/dexarb/internal/chain"
	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/monitor"
	"github.com/alanyoungcy/dexarb/internal/quote"
	"github.com/alanyoungcy/dexarb/internal/rpcpool"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ethConfig() config.ChainConfig {
	return config.ChainConfig{
		Name:                "eth",
		DefaultGasPriceGwei: 30,
		GasStrategy:         "fast",
		Tokens: []config.TokenConfig{
			{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
			{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
			{Symbol: "DAI", Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18},
		},
		Exchanges: []config.ExchangeConfig{{ID: "uni"}, {ID: "sushi"}},
		Pairs: []config.PairConfig{
			{Base: "WETH", Quote: "USDC", AmountIn: 1, NativePrice: 2500},
			{Base: "DAI", Quote: "USDC", AmountIn: 1000, NativePrice: 2500, Exchanges: []string{"uni"}},
		},
		Triangles: []config.TriangleConfig{
			{Tokens: []string{"USDC", "WETH", "DAI"}, AmountIn: 1000, NativePrice: 2500},
		},
	}
}

func TestBuildPlan(t *testing.T) {
	p, err := BuildPlan(ethConfig())
	require.NoError(t, err)

	assert.Equal(t, "eth", p.Chain)
	assert.Equal(t, chain.GasFast, p.GasStrategy)
	assert.Equal(t, 0, p.DefaultGasPrice.Cmp(big.NewInt(30_000_000_000)))

	require.Len(t, p.Collections, 2)
	weth := p.Collections[0]
	assert.Equal(t, "WETH/USDC", weth.Pair.Key())
	assert.Equal(t, []string{"uni", "sushi"}, weth.Exchanges)
	assert.Equal(t, 0, weth.AmountIn.Cmp(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)))
	assert.Equal(t, []string{"uni"}, p.Collections[1].Exchanges)

	require.Len(t, p.Triangles, 1)
	assert.Equal(t, "USDC", p.Triangles[0].Tokens[0].Symbol)
	assert.Equal(t, uint8(6), p.Triangles[0].Tokens[0].Decimals)

	assert.Equal(t, map[string]float64{"WETH/USDC": 2500, "DAI/USDC": 2500}, p.NativePrices())
}

func TestBuildPlan_Errors(t *testing.T) {
	cfg := ethConfig()
	cfg.Pairs = append(cfg.Pairs, config.PairConfig{Base: "WBTC", Quote: "USDC", AmountIn: 1})
	_, err := BuildPlan(cfg)
	assert.ErrorContains(t, err, "unknown token WBTC")

	cfg = ethConfig()
	cfg.GasStrategy = "ludicrous"
	_, err = BuildPlan(cfg)
	assert.Error(t, err)

	cfg = ethConfig()
	cfg.Triangles = []config.TriangleConfig{{Tokens: []string{"USDC", "WETH"}}}
	_, err = BuildPlan(cfg)
	assert.ErrorContains(t, err, "three tokens")
}

func TestNextReset(t *testing.T) {
	at := func(s string) time.Time {
		v, err := time.Parse(time.RFC3339, s)
		require.NoError(t, err)
		return v
	}
	cases := []struct {
		name   string
		now    string
		offset time.Duration
		next   string
		start  string
	}{
		{"midnight later today", "2026-10-14T09:30:00Z", 0, "2026-10-15T00:00:00Z", "2026-10-14T00:00:00Z"},
		{"offset still ahead", "2026-10-14T09:30:00Z", 12 * time.Hour, "2026-10-14T12:00:00Z", "2026-10-13T12:00:00Z"},
		{"offset passed", "2026-10-14T13:00:00Z", 12 * time.Hour, "2026-10-15T12:00:00Z", "2026-10-14T12:00:00Z"},
		{"exactly on boundary", "2026-10-14T12:00:00Z", 12 * time.Hour, "2026-10-15T12:00:00Z", "2026-10-14T12:00:00Z"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now := at(tc.now)
			assert.True(t, NextReset(now, tc.offset).Equal(at(tc.next)))
			assert.True(t, DayStart(now, tc.offset).Equal(at(tc.start)))
		})
	}
}

// --- cycle fakes ---

type fakeGas struct {
	price *big.Int
	err   error
}

func (f fakeGas) GasPrice(context.Context, chain.GasStrategy) (*big.Int, error) {
	return f.price, f.err
}

type fakePool struct{ up atomic.Bool }

func (f *fakePool) Available(string) bool { return f.up.Load() }

func newPool(up bool) *fakePool {
	p := &fakePool{}
	p.up.Store(up)
	return p
}

// fakeCollector answers every pair with its configured quotes and failures.
type fakeCollector struct {
	calls    atomic.Int32
	quotes   []string
	failures []string
}

func (f *fakeCollector) Collect(_ context.Context, req aggregator.Request) domain.QuoteSet {
	f.calls.Add(1)
	set := domain.QuoteSet{
		CycleID:  req.CycleID,
		Chain:    req.Chain,
		Pair:     req.Pair,
		AmountIn: req.AmountIn,
		Quotes:   map[string]domain.Quote{},
		Failures: map[string]domain.QuoteFailure{},
	}
	for _, id := range f.quotes {
		set.Quotes[id] = domain.Quote{Exchange: id, Chain: req.Chain, Pair: req.Pair, AmountIn: req.AmountIn, AmountOut: big.NewInt(1)}
	}
	for _, id := range f.failures {
		set.Failures[id] = domain.QuoteFailure{Exchange: id, Reason: domain.FailureTimeout}
	}
	return set
}

type fakeDetector struct {
	opps []domain.Opportunity
	got  arbitrage.Input
}

func (f *fakeDetector) Detect(_ context.Context, in arbitrage.Input) []domain.Opportunity {
	f.got = in
	return f.opps
}

type MockEvaluator struct {
	mock.Mock
}

func (m *MockEvaluator) Evaluate(ctx context.Context, o domain.Opportunity) (domain.Approval, domain.Decision) {
	args := m.Called(ctx, o)
	return args.Get(0).(domain.Approval), args.Get(1).(domain.Decision)
}

type MockLocks struct {
	mock.Mock
}

func (m *MockLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	args := m.Called(ctx, key, ttl)
	release, _ := args.Get(0).(func())
	return release, args.Error(1)
}

// memBus records every published event.
type memBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *memBus) Publish(_ context.Context, _ string, payload []byte) error {
	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *memBus) count(t domain.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ev := range b.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	scanner   *ChainScanner
	pool      *fakePool
	collector *fakeCollector
	detector  *fakeDetector
	gate      *MockEvaluator
	bus       *memBus
	board     *monitor.Board
	approvals chan domain.Approval
}

func newHarness(t *testing.T, gas fakeGas, locks domain.LockManager) *harness {
	t.Helper()
	plan, err := BuildPlan(ethConfig())
	require.NoError(t, err)

	h := &harness{
		pool:      newPool(true),
		collector: &fakeCollector{quotes: []string{"uni", "sushi"}},
		detector:  &fakeDetector{},
		gate:      new(MockEvaluator),
		bus:       &memBus{},
		board:     monitor.NewBoard([]string{"eth"}, nil, quietLogger()),
		approvals: make(chan domain.Approval, 4),
	}
	reporter := NewReporter(ReporterConfig{Board: h.board, Bus: h.bus, Logger: quietLogger()})
	h.scanner = NewChainScanner(plan, Deps{
		Gas:       gas,
		Pool:      h.pool,
		Collector: h.collector,
		Detector:  h.detector,
		Gate:      h.gate,
		Approvals: h.approvals,
		Reporter:  reporter,
		Locks:     locks,
	}, CycleConfig{Interval: time.Second, Deadline: time.Second, Logger: quietLogger()})
	return h
}

var liveGas = fakeGas{price: big.NewInt(12_000_000_000)}

func opp(id string) domain.Opportunity {
	return domain.Opportunity{ID: id, Chain: "eth", Kind: domain.KindDirect, NetProfitPct: 1}
}

func TestRunCycle_OK(t *testing.T) {
	h := newHarness(t, liveGas, nil)
	h.detector.opps = []domain.Opportunity{opp("a"), opp("b")}
	h.gate.On("Evaluate", mock.Anything, mock.MatchedBy(func(o domain.Opportunity) bool { return o.ID == "a" })).
		Return(domain.Approval{Opportunity: opp("a")}, domain.Decision{Accepted: true}).Once()
	h.gate.On("Evaluate", mock.Anything, mock.MatchedBy(func(o domain.Opportunity) bool { return o.ID == "b" })).
		Return(domain.Approval{}, domain.Decision{Reason: domain.RejectProfitTooLow}).Once()

	report, err := h.scanner.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.CycleOK, report.Status)
	assert.NotEmpty(t, report.CycleID)
	assert.InDelta(t, 12.0, report.GasPriceGwei, 1e-9)
	assert.False(t, report.GasPriceEstimated)
	assert.Len(t, report.QuoteSets, 2)
	assert.Equal(t, 2, report.Opportunities)
	assert.Equal(t, 1, report.Approved)
	assert.Equal(t, 1, report.Rejected)
	h.gate.AssertExpectations(t)

	require.Len(t, h.approvals, 1)
	assert.Equal(t, "a", (<-h.approvals).Opportunity.ID)

	assert.Equal(t, report.CycleID, h.detector.got.Cycle.ID)
	assert.Len(t, h.detector.got.Cycle.QuoteSets, 2)
	assert.Len(t, h.detector.got.Triangles, 1)

	assert.Equal(t, 1, h.bus.count(domain.EventCycleCompleted))
	assert.Equal(t, 1, h.bus.count(domain.EventOpportunityApproved))

	onBoard, err := h.board.Cycle(context.Background(), "eth")
	require.NoError(t, err)
	assert.Equal(t, report.CycleID, onBoard.CycleID)
	opps, err := h.board.Opportunities(context.Background(), "eth")
	require.NoError(t, err)
	assert.Len(t, opps, 2)
}

func TestRunCycle_DegradedOnPartialFailure(t *testing.T) {
	h := newHarness(t, liveGas, nil)
	h.collector.failures = []string{"sushi"}
	h.collector.quotes = []string{"uni"}

	report, err := h.scanner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CycleDegraded, report.Status)
	assert.Equal(t, 0, report.Opportunities)
}

func TestRunCycle_UnreachableAnnouncedOnce(t *testing.T) {
	h := newHarness(t, liveGas, nil)
	h.pool.up.Store(false)

	for range 3 {
		report, err := h.scanner.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, domain.CycleUnreachable, report.Status)
		assert.Equal(t, domain.ErrEndpointUnreachable.Error(), report.Error)
	}
	assert.Equal(t, int32(0), h.collector.calls.Load())
	assert.Equal(t, 3, h.bus.count(domain.EventCycleCompleted))
	assert.Equal(t, 1, h.bus.count(domain.EventChainUnreachable))

	h.pool.up.Store(true)
	report, err := h.scanner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CycleOK, report.Status)

	h.pool.up.Store(false)
	_, err = h.scanner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, h.bus.count(domain.EventChainUnreachable))
}

func TestRunCycle_GasFallbackIsFlagged(t *testing.T) {
	h := newHarness(t, fakeGas{err: errors.New("rpc down")}, nil)
	h.detector.opps = nil

	report, err := h.scanner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, report.GasPriceEstimated)
	assert.InDelta(t, 30.0, report.GasPriceGwei, 1e-9)
	assert.True(t, h.detector.got.Cycle.GasPriceEstimated)
}

// hungGas never answers before its context ends.
type hungGas struct{}

func (hungGas) GasPrice(ctx context.Context, _ chain.GasStrategy) (*big.Int, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type instantSource struct {
	id  string
	out int64
}

func (s instantSource) Exchange() string { return s.id }

func (s instantSource) Quote(_ context.Context, p domain.TokenPair, in *big.Int) (domain.Quote, error) {
	return domain.Quote{Exchange: s.id, Pair: p, AmountIn: in, AmountOut: big.NewInt(s.out), Timestamp: time.Now()}, nil
}

type exchangeSources map[string]quote.Source

func (m exchangeSources) Get(_, exchange string) (quote.Source, error) {
	if src, ok := m[exchange]; ok {
		return src, nil
	}
	return nil, domain.ErrUnknownExchange
}

func TestRunCycle_HungGasKeepsQuotes(t *testing.T) {
	h := newHarness(t, liveGas, nil)
	agg := aggregator.New(exchangeSources{
		"uni":   instantSource{id: "uni", out: 105},
		"sushi": instantSource{id: "sushi", out: 95},
	}, quietLogger())
	h.scanner.gas = hungGas{}
	h.scanner.collector = agg
	h.scanner.cfg.Deadline = 300 * time.Millisecond

	start := time.Now()
	report, err := h.scanner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.True(t, report.GasPriceEstimated)
	assert.InDelta(t, 30.0, report.GasPriceGwei, 1e-9)
	assert.Equal(t, domain.CycleOK, report.Status)
	require.Len(t, report.QuoteSets, 2)
	for _, sum := range report.QuoteSets {
		assert.Zero(t, sum.Failures, sum.Pair)
		assert.Positive(t, sum.Successes, sum.Pair)
	}

	weth := h.detector.got.Cycle.QuoteSets["WETH/USDC"]
	assert.Equal(t, []string{"sushi", "uni"}, weth.Exchanges())
	assert.True(t, h.detector.got.Cycle.GasPriceEstimated)
}

func TestRunCycle_LeaseHeldSkipsCycle(t *testing.T) {
	locks := new(MockLocks)
	locks.On("Acquire", mock.Anything, "scan:eth", mock.Anything).Return(nil, domain.ErrLockHeld).Once()
	h := newHarness(t, liveGas, locks)

	_, err := h.scanner.RunCycle(context.Background())
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Equal(t, int32(0), h.collector.calls.Load())
	locks.AssertExpectations(t)
}

func TestRunCycle_LeaseErrorFailsOpen(t *testing.T) {
	locks := new(MockLocks)
	locks.On("Acquire", mock.Anything, "scan:eth", mock.Anything).Return(nil, errors.New("redis down")).Once()
	h := newHarness(t, liveGas, locks)

	report, err := h.scanner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CycleOK, report.Status)
	assert.Equal(t, int32(2), h.collector.calls.Load())
}

func TestRunCycle_LeaseReleased(t *testing.T) {
	var released atomic.Bool
	locks := new(MockLocks)
	locks.On("Acquire", mock.Anything, "scan:eth", mock.Anything).
		Return(func() { released.Store(true) }, nil).Once()
	h := newHarness(t, liveGas, locks)

	_, err := h.scanner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, released.Load())
}

func TestRunCycle_FullQueueDropsApproval(t *testing.T) {
	h := newHarness(t, liveGas, nil)
	h.scanner.approvals = make(chan domain.Approval)
	h.detector.opps = []domain.Opportunity{opp("a")}
	h.gate.On("Evaluate", mock.Anything, mock.Anything).
		Return(domain.Approval{Opportunity: opp("a")}, domain.Decision{Accepted: true}).Once()

	done := make(chan domain.CycleReport, 1)
	go func() {
		report, _ := h.scanner.RunCycle(context.Background())
		done <- report
	}()
	select {
	case report := <-done:
		assert.Equal(t, 1, report.Approved)
	case <-time.After(2 * time.Second):
		t.Fatal("cycle blocked on a full approval queue")
	}
}

// --- reporter ---

type fakeJournal struct {
	mu        sync.Mutex
	cycles    int
	decisions []domain.DecisionRecord
	outcomes  []domain.Outcome
	breakers  []domain.BreakerEvent
	err       error
}

func (j *fakeJournal) RecordCycle(context.Context, domain.CycleReport) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cycles++
	return j.err
}

func (j *fakeJournal) RecordDecision(_ context.Context, rec domain.DecisionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.decisions = append(j.decisions, rec)
	return j.err
}

func (j *fakeJournal) RecordOutcome(_ context.Context, out domain.Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes = append(j.outcomes, out)
	return j.err
}

func (j *fakeJournal) RecordBreakerEvent(_ context.Context, ev domain.BreakerEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.breakers = append(j.breakers, ev)
	return j.err
}

func (j *fakeJournal) ListDecisions(context.Context, string, domain.ListOpts) ([]domain.DecisionRecord, error) {
	return nil, nil
}

func (j *fakeJournal) ListOutcomes(context.Context, string, domain.ListOpts) ([]domain.Outcome, error) {
	return nil, nil
}

func (j *fakeJournal) SumRealized(context.Context, string, time.Time) (float64, float64, error) {
	return 0, 0, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	types []domain.EventType
}

func (n *recordingNotifier) Notify(_ context.Context, ev domain.Event) {
	n.mu.Lock()
	n.types = append(n.types, ev.Type)
	n.mu.Unlock()
}

func TestReporter_FansOut(t *testing.T) {
	ctx := context.Background()
	journal := &fakeJournal{}
	bus := &memBus{}
	notifier := &recordingNotifier{}
	board := monitor.NewBoard([]string{"eth"}, nil, quietLogger())
	r := NewReporter(ReporterConfig{Board: board, Journal: journal, Bus: bus, Notifier: notifier, Logger: quietLogger()})

	r.Decision(ctx, opp("a"), domain.Decision{Reason: domain.RejectSlippage})
	r.Outcome(ctx, domain.Outcome{OpportunityID: "a", Chain: "eth"},
		domain.RiskState{Chain: "eth", ConsecutiveFailures: 1, Breaker: domain.BreakerClosed})
	r.Breaker(ctx, domain.BreakerEvent{Chain: "eth", From: domain.BreakerClosed, To: domain.BreakerOpen},
		domain.RiskState{Chain: "eth", ConsecutiveFailures: 3, Breaker: domain.BreakerOpen})
	r.Breaker(ctx, domain.BreakerEvent{Chain: "eth", From: domain.BreakerOpen, To: domain.BreakerClosed},
		domain.RiskState{Chain: "eth", Breaker: domain.BreakerClosed})

	require.Len(t, journal.decisions, 1)
	assert.Equal(t, domain.RejectSlippage, journal.decisions[0].Decision.Reason)
	assert.Len(t, journal.outcomes, 1)
	assert.Len(t, journal.breakers, 2)

	assert.Equal(t, 1, bus.count(domain.EventOutcomeReported))
	assert.Equal(t, 1, bus.count(domain.EventBreakerOpen))
	assert.Equal(t, 1, bus.count(domain.EventBreakerClosed))
	assert.Equal(t, []domain.EventType{
		domain.EventOutcomeReported, domain.EventBreakerOpen, domain.EventBreakerClosed,
	}, notifier.types)

	st, err := board.Risk(ctx, "eth")
	require.NoError(t, err)
	assert.Equal(t, domain.BreakerClosed, st.Breaker)
	assert.Equal(t, 0, st.ConsecutiveFailures)
}

func TestReporter_SinkFailureDoesNotStop(t *testing.T) {
	ctx := context.Background()
	journal := &fakeJournal{err: errors.New("db down")}
	bus := &memBus{}
	r := NewReporter(ReporterConfig{Journal: journal, Bus: bus, Logger: quietLogger()})

	r.Cycle(ctx, domain.CycleReport{CycleID: "c1", Chain: "eth", Status: domain.CycleOK}, nil)
	assert.Equal(t, 1, journal.cycles)
	assert.Equal(t, 1, bus.count(domain.EventCycleCompleted))
}

func TestReporter_EndpointTransitionOnlyWhenGiven(t *testing.T) {
	ctx := context.Background()
	bus := &memBus{}
	board := monitor.NewBoard([]string{"eth"}, nil, quietLogger())
	r := NewReporter(ReporterConfig{Board: board, Bus: bus, Logger: quietLogger()})

	eps := []domain.Endpoint{{ID: "e0", Chain: "eth", State: domain.EndpointHealthy}}
	r.Endpoints(ctx, "eth", eps, nil)
	assert.Equal(t, 0, bus.count(domain.EventEndpointState))

	r.Endpoints(ctx, "eth", eps, &domain.EndpointTransition{Chain: "eth", EndpointID: "e0", From: domain.EndpointDegraded, To: domain.EndpointHealthy})
	assert.Equal(t, 1, bus.count(domain.EventEndpointState))

	got, err := board.Endpoints(ctx, "eth")
	require.NoError(t, err)
	assert.Equal(t, eps, got)
}

// --- orchestrator ---

type fakeEndpointPool struct {
	checks      atomic.Int32
	transitions chan domain.EndpointTransition
}

func (p *fakeEndpointPool) HealthCheck(context.Context, string, rpcpool.Pinger) error {
	p.checks.Add(1)
	return nil
}

func (p *fakeEndpointPool) Snapshot(chain string) ([]domain.Endpoint, error) {
	return []domain.Endpoint{{ID: "e0", Chain: chain, State: domain.EndpointHealthy}}, nil
}

func (p *fakeEndpointPool) Transitions() <-chan domain.EndpointTransition { return p.transitions }

type fakeKeeper struct {
	events chan domain.BreakerEvent
	resets atomic.Int32
}

func (k *fakeKeeper) Events() <-chan domain.BreakerEvent { return k.events }

func (k *fakeKeeper) ResetDaily(context.Context) []domain.RiskState {
	k.resets.Add(1)
	return []domain.RiskState{{Chain: "eth", Breaker: domain.BreakerClosed}}
}

func (k *fakeKeeper) State(chain string) (domain.RiskState, error) {
	return domain.RiskState{Chain: chain, Breaker: domain.BreakerOpen}, nil
}

func TestOrchestrator_PumpsEvents(t *testing.T) {
	pool := &fakeEndpointPool{transitions: make(chan domain.EndpointTransition, 1)}
	keeper := &fakeKeeper{events: make(chan domain.BreakerEvent, 1)}
	bus := &memBus{}
	reporter := NewReporter(ReporterConfig{Bus: bus, Logger: quietLogger()})

	ping := rpcpool.PingerFunc(func(context.Context, domain.Endpoint) error { return nil })
	o := NewOrchestrator(nil, map[string]rpcpool.Pinger{"eth": ping}, pool, keeper, reporter, OrchestratorConfig{
		HealthInterval: 10 * time.Millisecond,
		Logger:         quietLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	pool.transitions <- domain.EndpointTransition{Chain: "eth", EndpointID: "e0", From: domain.EndpointHealthy, To: domain.EndpointDegraded}
	keeper.events <- domain.BreakerEvent{Chain: "eth", From: domain.BreakerClosed, To: domain.BreakerOpen}

	assert.Eventually(t, func() bool {
		return bus.count(domain.EventEndpointState) == 1 &&
			bus.count(domain.EventBreakerOpen) == 1 &&
			pool.checks.Load() > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}

func TestOrchestrator_DailyReset(t *testing.T) {
	pool := &fakeEndpointPool{transitions: make(chan domain.EndpointTransition)}
	keeper := &fakeKeeper{events: make(chan domain.BreakerEvent)}
	reporter := NewReporter(ReporterConfig{Logger: quietLogger()})

	// A clock one millisecond before the boundary makes the first reset
	// fire almost immediately.
	var calls atomic.Int32
	boundary := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	now := func() time.Time {
		if calls.Add(1) <= 2 {
			return boundary.Add(-time.Millisecond)
		}
		return boundary.Add(time.Millisecond)
	}
	o := NewOrchestrator(nil, nil, pool, keeper, reporter, OrchestratorConfig{
		HealthInterval: time.Hour,
		Logger:         quietLogger(),
		Now:            now,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	assert.Eventually(t, func() bool { return keeper.resets.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
