package arbitrage

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// opportunityNamespace scopes the name-based ids given to opportunities so
// the same path in the same cycle always gets the same id.
var opportunityNamespace = uuid.MustParse("6c0b2f7e-3f51-4d8e-9a53-1f0d7c2e9b41")

// gasCost returns the cost of a path with legs swaps, in native units.
func (p Params) gasCost(gasPrice *big.Int, legs int) float64 {
	if gasPrice == nil || gasPrice.Sign() <= 0 {
		return 0
	}
	units := new(big.Int).SetUint64(p.GasUnitsPerLeg * uint64(legs))
	wei := new(big.Int).Mul(gasPrice, units)
	return domain.ToFloat(wei, 18)
}

// price fills in the cost fields of o and reports whether its gross profit
// clears the minimum. The net check is left to the safety gate so a
// candidate eaten by costs still gets a logged rejection. basis is the amount
// the percentages are expressed against.
func (p Params) price(o *domain.Opportunity, cycle domain.Cycle, basis, nativePrice float64) bool {
	o.SlippagePct = p.SlippageBufferPct
	o.GasPriceGwei = domain.ToFloat(cycle.GasPrice, 9)
	o.GasPriceEstimated = cycle.GasPriceEstimated
	o.GasCostNative = p.gasCost(cycle.GasPrice, len(o.Legs))
	o.GasCostInput = o.GasCostNative * nativePrice

	haircut := o.OutputAmount * (1 - p.SlippageBufferPct/100)
	o.NetProfit = haircut - o.InputAmount - o.GasCostInput
	if nativePrice > 0 {
		o.InputNative = o.InputAmount / nativePrice
		o.NetProfitNative = o.NetProfit / nativePrice
	}
	if basis <= 0 {
		return false
	}
	o.NetProfitPct = o.NetProfit / basis * 100
	return o.GrossProfitPct >= p.MinProfitPct
}

// stamp assigns the cycle identity of o.
func stamp(o *domain.Opportunity, cycle domain.Cycle) {
	o.Chain = cycle.Chain
	o.CycleID = cycle.ID
	o.DiscoveredAt = cycle.StartedAt
	o.ID = uuid.NewSHA1(opportunityNamespace, []byte(cycle.Chain+"|"+cycle.ID+"|"+o.Signature())).String()
}

// withinWindow reports whether every timestamp lies inside one staleness
// window.
func withinWindow(window time.Duration, ts ...time.Time) bool {
	if len(ts) == 0 {
		return true
	}
	lo, hi := ts[0], ts[0]
	for _, t := range ts[1:] {
		if t.Before(lo) {
			lo = t
		}
		if t.After(hi) {
			hi = t
		}
	}
	return window <= 0 || hi.Sub(lo) <= window
}
