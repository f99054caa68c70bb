// Package arbitrage detects direct and triangular arbitrage paths in the
// quotes collected for one chain during one scan cycle and ranks them by net
// expected profit.
package arbitrage

import (
	"context"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Strategy is one detection technique.
type Strategy interface {
	Name() string
	// Detect returns zero or more candidates for the cycle. Candidates are
	// priced net of gas and slippage; their gross profit clears
	// Params.MinProfitPct.
	Detect(ctx context.Context, in Input) ([]domain.Opportunity, error)
}

// Params is the profit model shared by every strategy.
type Params struct {
	MinProfitPct      float64
	SlippageBufferPct float64
	GasUnitsPerLeg    uint64
	// StalenessWindow is the widest allowed spread between the timestamps
	// of the quotes used in one path.
	StalenessWindow time.Duration
}

// Triangle is a configured token triple (A,B,C), traded A->B->C->A.
type Triangle struct {
	Tokens   [3]domain.Token
	AmountIn float64
	// NativePrice is the native coin priced in Tokens[0].
	NativePrice float64
}

// Input is everything a strategy needs for one cycle.
type Input struct {
	Cycle domain.Cycle
	// NativePrices maps a pair key to the native coin priced in the pair's
	// quote token.
	NativePrices map[string]float64
	Triangles    []Triangle
}
