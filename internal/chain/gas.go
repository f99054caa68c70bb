package chain

import (
	"fmt"
	"math/big"
)

// GasStrategy scales the node's suggested gas price.
type GasStrategy string

const (
	GasSlow    GasStrategy = "slow"
	GasMedium  GasStrategy = "medium"
	GasFast    GasStrategy = "fast"
	GasInstant GasStrategy = "instant"
)

// percent returns the multiplier of s in percent. Unknown or empty strategies
// use the suggested price unchanged.
func (s GasStrategy) percent() int64 {
	switch s {
	case GasSlow:
		return 80
	case GasFast:
		return 120
	case GasInstant:
		return 150
	default:
		return 100
	}
}

// Apply scales price by the strategy multiplier.
func (s GasStrategy) Apply(price *big.Int) *big.Int {
	out := new(big.Int).Mul(price, big.NewInt(s.percent()))
	return out.Quo(out, big.NewInt(100))
}

// ParseGasStrategy validates a configured strategy name; "" means medium.
func ParseGasStrategy(s string) (GasStrategy, error) {
	switch GasStrategy(s) {
	case "":
		return GasMedium, nil
	case GasSlow, GasMedium, GasFast, GasInstant:
		return GasStrategy(s), nil
	}
	return "", fmt.Errorf("chain: unknown gas strategy %q", s)
}

var gwei = big.NewInt(1_000_000_000)

// GweiToWei converts a gwei amount to wei, truncating below one wei.
func GweiToWei(v float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(v), new(big.Float).SetInt(gwei))
	out, _ := f.Int(nil)
	return out
}

// WeiToGwei converts wei to gwei.
func WeiToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(wei), new(big.Float).SetInt(gwei))
	v, _ := f.Float64()
	return v
}
