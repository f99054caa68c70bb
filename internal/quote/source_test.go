package quote

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/chain"
	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

type callerFunc func(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)

func (f callerFunc) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) { return f(ctx, msg) }

var (
	weth = domain.Token{Symbol: "WETH", Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Decimals: 18}
	usdc = domain.Token{Symbol: "USDC", Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Decimals: 6}
	pair = domain.TokenPair{Base: weth, Quote: usdc}
)

func oneEther() *big.Int { return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil) }

func v2Router(t *testing.T, out *big.Int) callerFunc {
	return func(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
		m := parsedRouterV2.Methods["getAmountsOut"]
		require.Equal(t, m.ID, msg.Data[:4])
		args, err := m.Inputs.Unpack(msg.Data[4:])
		require.NoError(t, err)
		path := args[1].([]common.Address)
		require.Equal(t, []common.Address{weth.Address, usdc.Address}, path)
		return m.Outputs.Pack([]*big.Int{args[0].(*big.Int), out})
	}
}

func TestUniswapV2_Quote(t *testing.T) {
	router := common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	src := NewUniswapV2("eth", "uniswap_v2", router, v2Router(t, big.NewInt(3_000_000_000)), 3*time.Second)

	q, err := src.Quote(context.Background(), pair, oneEther())
	require.NoError(t, err)
	assert.Equal(t, "uniswap_v2", q.Exchange)
	assert.Equal(t, "eth", q.Chain)
	assert.Equal(t, big.NewInt(3_000_000_000), q.AmountOut)
	assert.InDelta(t, 3000.0, q.Rate(), 1e-9)
	assert.Equal(t, 3*time.Second, q.Staleness)
	assert.True(t, q.FreshAt(time.Now()))
}

func TestUniswapV2_Failures(t *testing.T) {
	router := common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")

	cases := []struct {
		name   string
		caller callerFunc
		amount *big.Int
		reason domain.FailureReason
	}{
		{"zero output", v2Router(t, big.NewInt(0)), oneEther(), domain.FailureNoLiquidity},
		{"zero input", v2Router(t, big.NewInt(1)), big.NewInt(0), domain.FailureInvalidRequest},
		{"garbage", func(context.Context, ethereum.CallMsg) ([]byte, error) { return []byte{0xde, 0xad}, nil }, oneEther(), domain.FailureMalformedResponse},
		{"revert", func(context.Context, ethereum.CallMsg) ([]byte, error) {
			return nil, fmt.Errorf("chain: eth call: %w", chain.ErrExecutionReverted)
		}, oneEther(), domain.FailureNoLiquidity},
		{"timeout", func(context.Context, ethereum.CallMsg) ([]byte, error) {
			return nil, fmt.Errorf("chain: eth call: %w", domain.ErrTimeout)
		}, oneEther(), domain.FailureTimeout},
		{"chain down", func(context.Context, ethereum.CallMsg) ([]byte, error) {
			return nil, fmt.Errorf("chain: eth call: %w", domain.ErrEndpointUnreachable)
		}, oneEther(), domain.FailureEndpointUnreachable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := NewUniswapV2("eth", "sushi", router, tc.caller, time.Second)
			_, err := src.Quote(context.Background(), pair, tc.amount)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrQuoteUnavailable)

			var qe *domain.QuoteError
			require.True(t, errors.As(err, &qe))
			assert.Equal(t, tc.reason, qe.Reason)
			assert.Equal(t, "sushi", qe.Exchange)
		})
	}
}

func TestUniswapV3_Quote(t *testing.T) {
	quoter := common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e")
	caller := callerFunc(func(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
		m := parsedQuoterV2.Methods["quoteExactInputSingle"]
		require.Equal(t, m.ID, msg.Data[:4])
		require.Equal(t, quoter, *msg.To)
		args, err := m.Inputs.Unpack(msg.Data[4:])
		require.NoError(t, err)
		require.Len(t, args, 1)
		return m.Outputs.Pack(big.NewInt(2_990_000_000), big.NewInt(1), uint32(2), big.NewInt(90_000))
	})

	src := NewUniswapV3("eth", "uniswap_v3_005", quoter, 500, caller, time.Second)
	q, err := src.Quote(context.Background(), pair, oneEther())
	require.NoError(t, err)
	assert.InDelta(t, 2990.0, q.Rate(), 1e-9)
}

func TestRegistry_RegisterChain(t *testing.T) {
	ch := config.ChainConfig{
		Name: "eth",
		Exchanges: []config.ExchangeConfig{
			{ID: "uniswap_v2", Kind: "uniswap_v2", Router: "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"},
			{ID: "uniswap_v3", Kind: "uniswap_v3", Quoter: "0x61fFE014bA17989E743c5F6cB21bF9697530B21e", FeeTier: 3000},
		},
	}
	r := NewRegistry()
	require.NoError(t, r.RegisterChain(ch, v2Router(t, big.NewInt(1)), time.Second))

	assert.Equal(t, []string{"uniswap_v2", "uniswap_v3"}, r.Exchanges("eth"))
	s, err := r.Get("eth", "uniswap_v3")
	require.NoError(t, err)
	assert.IsType(t, &UniswapV3{}, s)

	_, err = r.Get("eth", "curve")
	assert.ErrorIs(t, err, domain.ErrUnknownExchange)

	ch.Exchanges = append(ch.Exchanges, config.ExchangeConfig{ID: "x", Kind: "balancer"})
	assert.Error(t, r.RegisterChain(ch, nil, time.Second))
}
