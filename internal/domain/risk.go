package domain

import (
	"math/big"
	"time"
)

// BreakerState is the per-chain trading switch.
type BreakerState string

const (
	BreakerClosed BreakerState = "closed" // trading allowed
	BreakerOpen   BreakerState = "open"   // trading halted
)

// RiskState is the per-chain state owned by the safety gate.
type RiskState struct {
	Chain               string       `json:"chain"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	DailyLoss           float64      `json:"daily_loss"`
	DailyProfit         float64      `json:"daily_profit"`
	Breaker             BreakerState `json:"breaker"`
	OpenedAt            *time.Time   `json:"opened_at,omitempty"`
	LastResetAt         time.Time    `json:"last_reset_at"`
}

// RejectReason explains a gate rejection.
type RejectReason string

const (
	RejectBreakerOpen    RejectReason = "breaker_open"
	RejectDailyLoss      RejectReason = "daily_loss_ceiling"
	RejectTradeTooLarge  RejectReason = "trade_too_large"
	RejectProfitTooLow   RejectReason = "profit_below_minimum"
	RejectSlippage       RejectReason = "slippage_too_high"
	RejectGasCeiling     RejectReason = "gas_price_ceiling"
	RejectStale          RejectReason = "opportunity_stale"
	RejectUnknownChain   RejectReason = "unknown_chain"
	RejectAlreadyHandled RejectReason = "already_evaluated"
)

// Decision is the safety gate's verdict on one opportunity.
type Decision struct {
	Accepted bool         `json:"accepted"`
	Reason   RejectReason `json:"reason,omitempty"`
}

// Err returns nil for an accepted decision and a *RejectError otherwise.
func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	return &RejectError{Reason: d.Reason}
}

// LegInstruction is the execution-side view of one approved leg.
type LegInstruction struct {
	Leg
	AmountIn  *big.Int `json:"amount_in"`
	MinOut    *big.Int `json:"min_out"`
	FromToken Token    `json:"from_token"`
	ToToken   Token    `json:"to_token"`
}

// Approval is what the core hands to the external execution adapter.
type Approval struct {
	Opportunity     Opportunity      `json:"opportunity"`
	Instructions    []LegInstruction `json:"instructions"`
	SubmitPrivately bool             `json:"submit_privately"`
	ApprovedAt      time.Time        `json:"approved_at"`
}

// Outcome is the execution adapter's report on an approval. RealizedProfit
// is in the chain's native coin units and a negative value is a loss.
type Outcome struct {
	OpportunityID  string    `json:"opportunity_id"`
	Chain          string    `json:"chain"`
	Success        bool      `json:"success"`
	RealizedProfit float64   `json:"realized_profit"`
	TxHash         string    `json:"tx_hash,omitempty"`
	Error          string    `json:"error,omitempty"`
	ReportedAt     time.Time `json:"reported_at"`
}

// BreakerEvent is emitted when a chain's breaker changes state.
type BreakerEvent struct {
	Chain  string       `json:"chain"`
	From   BreakerState `json:"from"`
	To     BreakerState `json:"to"`
	Reason string       `json:"reason"`
	At     time.Time    `json:"at"`
}
