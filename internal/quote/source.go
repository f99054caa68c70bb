// Package quote adapts exchange pricing contracts to a single capability
// interface so the aggregator can fan out across exchanges by id.
package quote

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"

	"github.com/alanyoungcy/dexarb/internal/chain"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Source prices swaps on one exchange of one chain.
type Source interface {
	// Exchange returns the exchange id the source is registered under.
	Exchange() string
	// Quote prices swapping amountIn of pair.Base into pair.Quote. Failures
	// are *domain.QuoteError values.
	Quote(ctx context.Context, pair domain.TokenPair, amountIn *big.Int) (domain.Quote, error)
}

// Caller issues read-only contract calls; *chain.Client implements it.
type Caller interface {
	Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// base carries what every source implementation shares.
type base struct {
	chain     string
	exchange  string
	caller    Caller
	staleness time.Duration
	now       func() time.Time
}

func (b base) Exchange() string { return b.exchange }

func (b base) fail(reason domain.FailureReason, err error) error {
	return &domain.QuoteError{Chain: b.chain, Exchange: b.exchange, Reason: reason, Err: err}
}

// callFailed translates a chain-client error into a quote failure.
func (b base) callFailed(err error) error {
	if errors.Is(err, chain.ErrExecutionReverted) {
		return b.fail(domain.FailureNoLiquidity, err)
	}
	return b.fail(domain.ReasonOf(err), err)
}

func (b base) validate(pair domain.TokenPair, amountIn *big.Int) error {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return b.fail(domain.FailureInvalidRequest, fmt.Errorf("amount in must be positive"))
	}
	if pair.Base.Address == pair.Quote.Address {
		return b.fail(domain.FailureInvalidRequest, fmt.Errorf("pair %s has identical tokens", pair.Key()))
	}
	return nil
}

func (b base) stamp(pair domain.TokenPair, amountIn, amountOut *big.Int) (domain.Quote, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return domain.Quote{}, b.fail(domain.FailureNoLiquidity, fmt.Errorf("zero output for %s", pair.Key()))
	}
	return domain.Quote{
		Exchange:  b.exchange,
		Chain:     b.chain,
		Pair:      pair,
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: new(big.Int).Set(amountOut),
		Timestamp: b.now(),
		Staleness: b.staleness,
	}, nil
}
