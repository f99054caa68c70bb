package gate

import (
	"math"
	"math/big"
)

// slippageScale is the fixed-point resolution for tolerance percentages
// (1e6 parts per 100%, so 0.0001% is the smallest step).
const slippageScale = 1_000_000

// MinOut returns the least output a leg may accept when the expected output
// is expected and the tolerance is tolerancePct percent. The result is
// rounded down.
func MinOut(expected *big.Int, tolerancePct float64) *big.Int {
	return scale(expected, 1-tolerancePct/100)
}

func scale(v *big.Int, factor float64) *big.Int {
	if v == nil || v.Sign() <= 0 {
		return new(big.Int)
	}
	if factor <= 0 {
		return new(big.Int)
	}
	num := big.NewInt(int64(math.Round(factor * slippageScale)))
	out := new(big.Int).Mul(v, num)
	return out.Quo(out, big.NewInt(slippageScale))
}
