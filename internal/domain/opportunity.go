package domain

import (
	"math/big"
	"strings"
	"time"
)

// OpportunityKind classifies an arbitrage path.
type OpportunityKind string

const (
	KindDirect     OpportunityKind = "direct"
	KindTriangular OpportunityKind = "triangular"
)

// LegDirection says which way a leg swaps through its pair.
type LegDirection string

const (
	// SellBase swaps Pair.Base into Pair.Quote.
	SellBase LegDirection = "sell_base"
	// BuyBase swaps Pair.Quote into Pair.Base.
	BuyBase LegDirection = "buy_base"
)

// Leg is one swap of an arbitrage path.
type Leg struct {
	Exchange  string       `json:"exchange"`
	Pair      TokenPair    `json:"pair"`
	Direction LegDirection `json:"direction"`
	// Rate is output units per input unit for this leg, decimal-adjusted.
	Rate float64 `json:"rate"`
	// QuotedAt is the timestamp of the quote this leg was priced from.
	QuotedAt time.Time `json:"quoted_at"`
}

// From returns the token the leg spends.
func (l Leg) From() Token {
	if l.Direction == BuyBase {
		return l.Pair.Quote
	}
	return l.Pair.Base
}

// To returns the token the leg receives.
func (l Leg) To() Token {
	if l.Direction == BuyBase {
		return l.Pair.Base
	}
	return l.Pair.Quote
}

// Opportunity is an immutable, ranked arbitrage candidate.
//
// InputAmount, OutputAmount, GasCostInput and NetProfit are decimal-adjusted
// units of InputToken. InputNative and NetProfitNative restate the input and
// the net profit in the chain's native coin, so risk limits mean the same
// thing for paths that start in different tokens.
//
// Percentages of a Direct path are taken against the midpoint of its two
// quoted outputs; Triangular percentages are taken against InputAmount.
// Ranking compares these percentages as they are, so a Direct path reads
// slightly lower than the same spread measured on its buy-side cost.
type Opportunity struct {
	ID                string          `json:"id"`
	Kind              OpportunityKind `json:"kind"`
	Chain             string          `json:"chain"`
	CycleID           string          `json:"cycle_id"`
	Legs              []Leg           `json:"legs"`
	InputToken        Token           `json:"input_token"`
	InputAmount       float64         `json:"input_amount"`
	OutputAmount      float64         `json:"output_amount"`
	GrossProfitPct    float64         `json:"gross_profit_pct"`
	SlippagePct       float64         `json:"slippage_pct"`
	GasPriceGwei      float64         `json:"gas_price_gwei"`
	GasPriceEstimated bool            `json:"gas_price_estimated"`
	GasCostNative     float64         `json:"gas_cost_native"`
	GasCostInput      float64         `json:"gas_cost_input"`
	NetProfit         float64         `json:"net_profit"`
	NetProfitPct      float64         `json:"net_profit_pct"`
	InputNative       float64         `json:"input_native"`
	NetProfitNative   float64         `json:"net_profit_native"`
	DiscoveredAt      time.Time       `json:"discovered_at"`
}

// Signature is a stable textual form of the path, used for ordering ties
// and deterministic identifiers.
func (o Opportunity) Signature() string {
	var b strings.Builder
	b.WriteString(string(o.Kind))
	for _, l := range o.Legs {
		b.WriteByte('|')
		b.WriteString(l.Exchange)
		b.WriteByte(':')
		b.WriteString(l.Pair.Key())
		b.WriteByte(':')
		b.WriteString(string(l.Direction))
	}
	return b.String()
}

// Cycle is the input of one detection pass: every QuoteSet collected for a
// chain in a single scan cycle, keyed by pair key.
type Cycle struct {
	ID                string              `json:"id"`
	Chain             string              `json:"chain"`
	StartedAt         time.Time           `json:"started_at"`
	GasPrice          *big.Int            `json:"gas_price"`
	GasPriceEstimated bool                `json:"gas_price_estimated"`
	QuoteSets         map[string]QuoteSet `json:"quote_sets"`
}

// CycleStatus distinguishes an unreachable chain from a quiet one.
type CycleStatus string

const (
	CycleOK          CycleStatus = "ok"
	CycleDegraded    CycleStatus = "degraded"
	CycleUnreachable CycleStatus = "unreachable"
)

// CycleReport is the observable result of one scan cycle.
type CycleReport struct {
	CycleID           string            `json:"cycle_id"`
	Chain             string            `json:"chain"`
	Status            CycleStatus       `json:"status"`
	StartedAt         time.Time         `json:"started_at"`
	Duration          time.Duration     `json:"duration"`
	GasPriceGwei      float64           `json:"gas_price_gwei"`
	GasPriceEstimated bool              `json:"gas_price_estimated"`
	QuoteSets         []QuoteSetSummary `json:"quote_sets"`
	Opportunities     int               `json:"opportunities"`
	Approved          int               `json:"approved"`
	Rejected          int               `json:"rejected"`
	Error             string            `json:"error,omitempty"`
}
