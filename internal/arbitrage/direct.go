package arbitrage

import (
	"context"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Direct finds two-leg paths inside one QuoteSet: buy the base token where
// it is cheap and sell it where it is dear.
type Direct struct {
	params Params
}

// NewDirect creates the direct strategy.
func NewDirect(p Params) *Direct { return &Direct{params: p} }

// Name implements Strategy.
func (d *Direct) Name() string { return "direct" }

// Detect implements Strategy. Every exchange quotes AmountIn of the base
// token; the candidate buys that amount on the exchange with the lower
// output and sells it on the one with the higher output. Amounts are in quote
// token units and percentages are taken against the midpoint of both
// outputs.
func (d *Direct) Detect(ctx context.Context, in Input) ([]domain.Opportunity, error) {
	var out []domain.Opportunity
	for _, key := range sortedKeys(in.Cycle.QuoteSets) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		set := in.Cycle.QuoteSets[key]
		if set.CycleID != in.Cycle.ID {
			continue
		}
		ids := set.Exchanges()
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				if o, ok := d.candidate(in, set, set.Quotes[ids[i]], set.Quotes[ids[j]]); ok {
					out = append(out, o)
				}
			}
		}
	}
	return out, nil
}

func (d *Direct) candidate(in Input, set domain.QuoteSet, x, y domain.Quote) (domain.Opportunity, bool) {
	if !withinWindow(d.params.StalenessWindow, x.Timestamp, y.Timestamp) {
		return domain.Opportunity{}, false
	}
	outX := domain.ToFloat(x.AmountOut, set.Pair.Quote.Decimals)
	outY := domain.ToFloat(y.AmountOut, set.Pair.Quote.Decimals)
	if outX == outY || outX <= 0 || outY <= 0 {
		return domain.Opportunity{}, false
	}
	sell, buy := x, y
	sellOut, buyOut := outX, outY
	if outY > outX {
		sell, buy = y, x
		sellOut, buyOut = outY, outX
	}

	amountIn := domain.ToFloat(set.AmountIn, set.Pair.Base.Decimals)
	mid := (sellOut + buyOut) / 2
	o := domain.Opportunity{
		Kind: domain.KindDirect,
		Legs: []domain.Leg{
			{Exchange: buy.Exchange, Pair: set.Pair, Direction: domain.BuyBase, Rate: amountIn / buyOut, QuotedAt: buy.Timestamp},
			{Exchange: sell.Exchange, Pair: set.Pair, Direction: domain.SellBase, Rate: sellOut / amountIn, QuotedAt: sell.Timestamp},
		},
		InputToken:     set.Pair.Quote,
		InputAmount:    buyOut,
		OutputAmount:   sellOut,
		GrossProfitPct: (sellOut - buyOut) / mid * 100,
	}
	if !d.params.price(&o, in.Cycle, mid, in.NativePrices[set.Pair.Key()]) {
		return domain.Opportunity{}, false
	}
	stamp(&o, in.Cycle)
	return o, true
}
