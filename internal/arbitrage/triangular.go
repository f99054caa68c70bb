package arbitrage

import (
	"context"
	"sort"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Triangular chains three quotes A->B, B->C, C->A across the QuoteSets of one
// cycle and compounds their rates.
type Triangular struct {
	params Params
}

// NewTriangular creates the triangular strategy.
func NewTriangular(p Params) *Triangular { return &Triangular{params: p} }

// Name implements Strategy.
func (t *Triangular) Name() string { return "triangular" }

// Detect implements Strategy.
func (t *Triangular) Detect(ctx context.Context, in Input) ([]domain.Opportunity, error) {
	var out []domain.Opportunity
	for _, tri := range in.Triangles {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if o, ok := t.candidate(in, tri); ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (t *Triangular) candidate(in Input, tri Triangle) (domain.Opportunity, bool) {
	if tri.AmountIn <= 0 {
		return domain.Opportunity{}, false
	}
	legs := make([]domain.Leg, 0, 3)
	stamps := make([]time.Time, 0, 3)
	rate := 1.0
	for k := 0; k < 3; k++ {
		leg, ok := bestLeg(in.Cycle, tri.Tokens[k], tri.Tokens[(k+1)%3])
		if !ok {
			return domain.Opportunity{}, false
		}
		legs = append(legs, leg)
		stamps = append(stamps, leg.QuotedAt)
		rate *= leg.Rate
	}
	if !withinWindow(t.params.StalenessWindow, stamps...) {
		return domain.Opportunity{}, false
	}

	output := tri.AmountIn * rate
	if output <= tri.AmountIn {
		return domain.Opportunity{}, false
	}
	o := domain.Opportunity{
		Kind:           domain.KindTriangular,
		Legs:           legs,
		InputToken:     tri.Tokens[0],
		InputAmount:    tri.AmountIn,
		OutputAmount:   output,
		GrossProfitPct: (output - tri.AmountIn) / tri.AmountIn * 100,
	}
	if !t.params.price(&o, in.Cycle, tri.AmountIn, tri.NativePrice) {
		return domain.Opportunity{}, false
	}
	stamp(&o, in.Cycle)
	return o, true
}

// bestLeg picks the exchange with the best rate for swapping from into to in
// this cycle. A QuoteSet stored as to/from is read as its inverse view.
func bestLeg(cycle domain.Cycle, from, to domain.Token) (domain.Leg, bool) {
	var (
		best  domain.Leg
		found bool
	)
	consider := func(set domain.QuoteSet, dir domain.LegDirection) {
		if set.CycleID != cycle.ID {
			return
		}
		for _, id := range set.Exchanges() {
			q := set.Quotes[id]
			r := q.Rate()
			if r <= 0 {
				continue
			}
			if dir == domain.BuyBase {
				r = 1 / r
			}
			if !found || r > best.Rate {
				best = domain.Leg{Exchange: id, Pair: set.Pair, Direction: dir, Rate: r, QuotedAt: q.Timestamp}
				found = true
			}
		}
	}

	forward := domain.TokenPair{Base: from, Quote: to}.Key()
	inverse := domain.TokenPair{Base: to, Quote: from}.Key()
	if set, ok := cycle.QuoteSets[forward]; ok {
		consider(set, domain.SellBase)
	}
	if set, ok := cycle.QuoteSets[inverse]; ok {
		consider(set, domain.BuyBase)
	}
	return best, found
}

func sortedKeys(m map[string]domain.QuoteSet) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
