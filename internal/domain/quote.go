package domain

import (
	"math"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Token is a chain-scoped ERC-20 token.
type Token struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
}

// TokenPair is an ordered pair. (A,B) and (B,A) are distinct values but the
// detector reads them as inverse views of the same market.
type TokenPair struct {
	Base  Token `json:"base"`
	Quote Token `json:"quote"`
}

// Key returns a stable identifier such as "WETH/USDC".
func (p TokenPair) Key() string {
	return p.Base.Symbol + "/" + p.Quote.Symbol
}

// Inverse returns the pair with base and quote swapped.
func (p TokenPair) Inverse() TokenPair {
	return TokenPair{Base: p.Quote, Quote: p.Base}
}

// FailureReason tags an exchange that did not contribute a quote to a cycle.
type FailureReason string

const (
	FailureTimeout             FailureReason = "timeout"
	FailureChainUnavailable    FailureReason = "chain_unavailable"
	FailureEndpointUnreachable FailureReason = "endpoint_unreachable"
	FailureMalformedResponse   FailureReason = "malformed_response"
	FailureNoLiquidity         FailureReason = "no_liquidity"
	FailureStale               FailureReason = "stale"
	FailureUnknownSource       FailureReason = "unknown_source"
	FailureInvalidRequest      FailureReason = "invalid_request"
)

// Quote is a priced swap of AmountIn of Pair.Base into AmountOut of
// Pair.Quote, valid for Staleness after Timestamp.
type Quote struct {
	Exchange  string        `json:"exchange"`
	Chain     string        `json:"chain"`
	Pair      TokenPair     `json:"pair"`
	AmountIn  *big.Int      `json:"amount_in"`
	AmountOut *big.Int      `json:"amount_out"`
	Timestamp time.Time     `json:"timestamp"`
	Staleness time.Duration `json:"staleness"`
}

// FreshAt reports whether the quote is still inside its staleness window.
func (q Quote) FreshAt(now time.Time) bool {
	if q.Staleness <= 0 {
		return true
	}
	return now.Sub(q.Timestamp) <= q.Staleness
}

// Rate returns quote-token units received per base-token unit, in human
// (decimal-adjusted) terms.
func (q Quote) Rate() float64 {
	in := ToFloat(q.AmountIn, q.Pair.Base.Decimals)
	if in <= 0 {
		return 0
	}
	return ToFloat(q.AmountOut, q.Pair.Quote.Decimals) / in
}

// QuoteFailure records why an exchange did not produce a usable quote.
type QuoteFailure struct {
	Exchange string        `json:"exchange"`
	Reason   FailureReason `json:"reason"`
	Detail   string        `json:"detail,omitempty"`
}

// QuoteSet is the result of one collection for one pair on one chain in one
// scan cycle. It holds at most one quote per exchange and is not modified
// once returned by the aggregator.
type QuoteSet struct {
	CycleID     string                  `json:"cycle_id"`
	Chain       string                  `json:"chain"`
	Pair        TokenPair               `json:"pair"`
	AmountIn    *big.Int                `json:"amount_in"`
	Quotes      map[string]Quote        `json:"quotes"`
	Failures    map[string]QuoteFailure `json:"failures"`
	CollectedAt time.Time               `json:"collected_at"`
	Latency     time.Duration           `json:"latency"`
}

// Exchanges returns the ids of exchanges that produced a quote, sorted.
func (s QuoteSet) Exchanges() []string {
	ids := make([]string, 0, len(s.Quotes))
	for id := range s.Quotes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summary projects the set into counts for observability.
func (s QuoteSet) Summary() QuoteSetSummary {
	reasons := make(map[string]FailureReason, len(s.Failures))
	for id, f := range s.Failures {
		reasons[id] = f.Reason
	}
	return QuoteSetSummary{
		Pair:      s.Pair.Key(),
		Successes: len(s.Quotes),
		Failures:  len(s.Failures),
		Reasons:   reasons,
		Latency:   s.Latency,
	}
}

// QuoteSetSummary is the read-only projection of a QuoteSet.
type QuoteSetSummary struct {
	Pair      string                   `json:"pair"`
	Successes int                      `json:"successes"`
	Failures  int                      `json:"failures"`
	Reasons   map[string]FailureReason `json:"reasons,omitempty"`
	Latency   time.Duration            `json:"latency"`
}

// ToFloat converts a raw token amount into decimal-adjusted units.
func ToFloat(raw *big.Int, decimals uint8) float64 {
	if raw == nil {
		return 0
	}
	f := new(big.Float).SetInt(raw)
	scale := new(big.Float).SetFloat64(math.Pow10(int(decimals)))
	v, _ := new(big.Float).Quo(f, scale).Float64()
	return v
}

// FromFloat converts decimal-adjusted units into a raw token amount,
// truncating toward zero.
func FromFloat(v float64, decimals uint8) *big.Int {
	f := new(big.Float).SetFloat64(v)
	f.Mul(f, new(big.Float).SetFloat64(math.Pow10(int(decimals))))
	out, _ := f.Int(nil)
	return out
}
