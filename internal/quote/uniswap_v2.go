package quote

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

const routerV2ABI = `[{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"}]`

var parsedRouterV2 = mustParse(routerV2ABI)

func mustParse(def string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("quote: parse abi: %v", err))
	}
	return a
}

// UniswapV2 prices swaps through a Uniswap-V2-style router's getAmountsOut.
// Forks such as SushiSwap, QuickSwap and PancakeSwap share the interface.
type UniswapV2 struct {
	base
	router common.Address
}

// NewUniswapV2 creates a V2 source for router on chainName.
func NewUniswapV2(chainName, exchange string, router common.Address, caller Caller, staleness time.Duration) *UniswapV2 {
	return &UniswapV2{
		base:   base{chain: chainName, exchange: exchange, caller: caller, staleness: staleness, now: time.Now},
		router: router,
	}
}

// Quote calls getAmountsOut(amountIn, [base, quote]).
func (u *UniswapV2) Quote(ctx context.Context, pair domain.TokenPair, amountIn *big.Int) (domain.Quote, error) {
	if err := u.validate(pair, amountIn); err != nil {
		return domain.Quote{}, err
	}

	path := []common.Address{pair.Base.Address, pair.Quote.Address}
	input, err := parsedRouterV2.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return domain.Quote{}, u.fail(domain.FailureInvalidRequest, err)
	}

	router := u.router
	data, err := u.caller.Call(ctx, ethereum.CallMsg{To: &router, Data: input})
	if err != nil {
		return domain.Quote{}, u.callFailed(err)
	}

	out, err := parsedRouterV2.Unpack("getAmountsOut", data)
	if err != nil {
		return domain.Quote{}, u.fail(domain.FailureMalformedResponse, err)
	}
	if len(out) != 1 {
		return domain.Quote{}, u.fail(domain.FailureMalformedResponse, fmt.Errorf("getAmountsOut returned %d values", len(out)))
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) != len(path) {
		return domain.Quote{}, u.fail(domain.FailureMalformedResponse, fmt.Errorf("getAmountsOut: unexpected amounts %v", out[0]))
	}
	return u.stamp(pair, amountIn, amounts[len(amounts)-1])
}
