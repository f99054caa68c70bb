package domain

import (
	"encoding/json"
	"time"
)

// Bus channels. Every payload is a JSON-encoded Event.
const (
	ChannelCycles    = "dexarb:cycles"
	ChannelApprovals = "dexarb:approvals"
	ChannelOutcomes  = "dexarb:outcomes"
	ChannelBreaker   = "dexarb:breaker"
	ChannelEndpoints = "dexarb:endpoints"
)

// EventType names what happened.
type EventType string

const (
	EventCycleCompleted      EventType = "cycle_completed"
	EventOpportunityApproved EventType = "opportunity_approved"
	EventOutcomeReported     EventType = "outcome_reported"
	EventBreakerOpen         EventType = "breaker_open"
	EventBreakerClosed       EventType = "breaker_closed"
	EventEndpointState       EventType = "endpoint_state"
	EventChainUnreachable    EventType = "chain_unreachable"
)

// Event is the envelope published on the bus and pushed to websocket
// clients.
type Event struct {
	Type    EventType       `json:"type"`
	Chain   string          `json:"chain"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an Event.
func NewEvent(t EventType, chain string, at time.Time, payload any) (Event, error) {
	ev := Event{Type: t, Chain: chain, At: at}
	if payload == nil {
		return ev, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	ev.Payload = raw
	return ev, nil
}

// Status is a summary of the process state served by the health endpoint.
type Status struct {
	Mode      string    `json:"mode"`
	Chains    []string  `json:"chains"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
}
