package aggregator

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/quote"
)

var pair = domain.TokenPair{
	Base:  domain.Token{Symbol: "WETH", Address: common.HexToAddress("0x01"), Decimals: 18},
	Quote: domain.Token{Symbol: "USDC", Address: common.HexToAddress("0x02"), Decimals: 6},
}

type fakeSource struct {
	id        string
	delay     time.Duration
	hang      bool
	out       int64
	err       error
	staleness time.Duration
	age       time.Duration
}

func (f *fakeSource) Exchange() string { return f.id }

func (f *fakeSource) Quote(ctx context.Context, p domain.TokenPair, in *big.Int) (domain.Quote, error) {
	if f.hang {
		select {} // never answers, ignores cancellation
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return domain.Quote{}, f.err
	}
	return domain.Quote{
		Exchange:  f.id,
		Pair:      p,
		AmountIn:  in,
		AmountOut: big.NewInt(f.out),
		Timestamp: time.Now().Add(-f.age),
		Staleness: f.staleness,
	}, nil
}

type sourceMap map[string]quote.Source

func (m sourceMap) Get(chain, exchange string) (quote.Source, error) {
	s, ok := m[exchange]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", chain, exchange, domain.ErrUnknownExchange)
	}
	return s, nil
}

func request(deadline time.Duration, ids ...string) Request {
	return Request{CycleID: "c1", Chain: "eth", Pair: pair, Exchanges: ids, AmountIn: big.NewInt(100), Deadline: deadline}
}

func TestCollect_DeadlineBoundsSlowExchange(t *testing.T) {
	agg := New(sourceMap{
		"fast":  &fakeSource{id: "fast", out: 105},
		"quick": &fakeSource{id: "quick", delay: 10 * time.Millisecond, out: 95},
		"stuck": &fakeSource{id: "stuck", hang: true},
	}, nil)

	start := time.Now()
	set := agg.Collect(context.Background(), request(2*time.Second, "fast", "quick", "stuck"))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
	assert.Less(t, elapsed, 2*time.Second+250*time.Millisecond)

	require.Len(t, set.Quotes, 2)
	assert.Equal(t, int64(105), set.Quotes["fast"].AmountOut.Int64())
	assert.Equal(t, int64(95), set.Quotes["quick"].AmountOut.Int64())
	require.Contains(t, set.Failures, "stuck")
	assert.Equal(t, domain.FailureTimeout, set.Failures["stuck"].Reason)
	assert.Equal(t, "c1", set.CycleID)
}

func TestCollect_ReturnsEarlyWhenAllAnswer(t *testing.T) {
	agg := New(sourceMap{
		"a": &fakeSource{id: "a", out: 1},
		"b": &fakeSource{id: "b", out: 2},
	}, nil)

	start := time.Now()
	set := agg.Collect(context.Background(), request(time.Minute, "a", "b"))
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, set.Quotes, 2)
	assert.Empty(t, set.Failures)
	assert.Equal(t, []string{"a", "b"}, set.Exchanges())
}

func TestCollect_TagsFailures(t *testing.T) {
	qerr := &domain.QuoteError{Chain: "eth", Exchange: "dry", Reason: domain.FailureNoLiquidity}
	agg := New(sourceMap{
		"ok":    &fakeSource{id: "ok", out: 7},
		"dry":   &fakeSource{id: "dry", err: qerr},
		"old":   &fakeSource{id: "old", out: 7, staleness: time.Second, age: 2 * time.Second},
		"flaky": &fakeSource{id: "flaky", err: fmt.Errorf("wrapped: %w", domain.ErrChainUnavailable)},
	}, nil)

	set := agg.Collect(context.Background(), request(time.Second, "ok", "dry", "old", "flaky", "nowhere", "ok"))

	assert.Len(t, set.Quotes, 1, "duplicates collapse to one quote per exchange")
	assert.Equal(t, domain.FailureNoLiquidity, set.Failures["dry"].Reason)
	assert.Equal(t, domain.FailureStale, set.Failures["old"].Reason)
	assert.Equal(t, domain.FailureChainUnavailable, set.Failures["flaky"].Reason)
	assert.Equal(t, domain.FailureUnknownSource, set.Failures["nowhere"].Reason)

	sum := set.Summary()
	assert.Equal(t, 1, sum.Successes)
	assert.Equal(t, 4, sum.Failures)
	assert.Equal(t, "WETH/USDC", sum.Pair)
}

func TestCollect_NoExchanges(t *testing.T) {
	set := New(sourceMap{}, nil).Collect(context.Background(), request(time.Second))
	assert.Empty(t, set.Quotes)
	assert.Empty(t, set.Failures)
}
