package quote

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

const quoterV2ABI = `[{"inputs":[{"components":[{"internalType":"address","name":"tokenIn","type":"address"},{"internalType":"address","name":"tokenOut","type":"address"},{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint24","name":"fee","type":"uint24"},{"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],"internalType":"struct IQuoterV2.QuoteExactInputSingleParams","name":"params","type":"tuple"}],"name":"quoteExactInputSingle","outputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"},{"internalType":"uint160","name":"sqrtPriceX96After","type":"uint160"},{"internalType":"uint32","name":"initializedTicksCrossed","type":"uint32"},{"internalType":"uint256","name":"gasEstimate","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}]`

var parsedQuoterV2 = mustParse(quoterV2ABI)

// exactInputSingleParams mirrors IQuoterV2.QuoteExactInputSingleParams.
type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

// UniswapV3 prices swaps against one fee tier through QuoterV2.
type UniswapV3 struct {
	base
	quoter  common.Address
	feeTier uint32
}

// NewUniswapV3 creates a V3 source for the quoter contract and fee tier.
func NewUniswapV3(chainName, exchange string, quoter common.Address, feeTier uint32, caller Caller, staleness time.Duration) *UniswapV3 {
	return &UniswapV3{
		base:    base{chain: chainName, exchange: exchange, caller: caller, staleness: staleness, now: time.Now},
		quoter:  quoter,
		feeTier: feeTier,
	}
}

// Quote calls quoteExactInputSingle with no price limit.
func (u *UniswapV3) Quote(ctx context.Context, pair domain.TokenPair, amountIn *big.Int) (domain.Quote, error) {
	if err := u.validate(pair, amountIn); err != nil {
		return domain.Quote{}, err
	}

	input, err := parsedQuoterV2.Pack("quoteExactInputSingle", exactInputSingleParams{
		TokenIn:           pair.Base.Address,
		TokenOut:          pair.Quote.Address,
		AmountIn:          amountIn,
		Fee:               new(big.Int).SetUint64(uint64(u.feeTier)),
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return domain.Quote{}, u.fail(domain.FailureInvalidRequest, err)
	}

	quoter := u.quoter
	data, err := u.caller.Call(ctx, ethereum.CallMsg{To: &quoter, Data: input})
	if err != nil {
		return domain.Quote{}, u.callFailed(err)
	}

	out, err := parsedQuoterV2.Unpack("quoteExactInputSingle", data)
	if err != nil {
		return domain.Quote{}, u.fail(domain.FailureMalformedResponse, err)
	}
	if len(out) != 4 {
		return domain.Quote{}, u.fail(domain.FailureMalformedResponse, fmt.Errorf("quoteExactInputSingle returned %d values", len(out)))
	}
	amountOut, ok := out[0].(*big.Int)
	if !ok {
		return domain.Quote{}, u.fail(domain.FailureMalformedResponse, fmt.Errorf("quoteExactInputSingle: amountOut is %T", out[0]))
	}
	return u.stamp(pair, amountIn, amountOut)
}
