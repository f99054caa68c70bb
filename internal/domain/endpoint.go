package domain

import "time"

// EndpointState is the health classification of an RPC endpoint.
type EndpointState string

const (
	EndpointHealthy     EndpointState = "healthy"
	EndpointDegraded    EndpointState = "degraded"
	EndpointUnreachable EndpointState = "unreachable"
)

// Endpoint describes one RPC endpoint of a chain. Endpoints are created from
// configuration and never removed at runtime.
type Endpoint struct {
	ID                   string        `json:"id"`
	Chain                string        `json:"chain"`
	URL                  string        `json:"url"`
	Priority             int           `json:"priority"`
	Latency              time.Duration `json:"latency"`
	Samples              int64         `json:"samples"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	State                EndpointState `json:"state"`
	LastError            string        `json:"last_error,omitempty"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// CallOutcome is what a caller reports back to the endpoint pool after using
// an endpoint.
type CallOutcome struct {
	Success bool
	Latency time.Duration
	Err     error
}

// EndpointTransition is emitted whenever an endpoint changes state.
type EndpointTransition struct {
	Chain      string        `json:"chain"`
	EndpointID string        `json:"endpoint_id"`
	From       EndpointState `json:"from"`
	To         EndpointState `json:"to"`
	At         time.Time     `json:"at"`
}

// ChainSession is the cached view of the endpoint a chain client currently
// talks to. EndpointID is a lookup key into the pool, not an owned value.
type ChainSession struct {
	Chain         string    `json:"chain"`
	EndpointID    string    `json:"endpoint_id"`
	ChainID       uint64    `json:"chain_id"`
	NativeSymbol  string    `json:"native_symbol"`
	EstablishedAt time.Time `json:"established_at"`
}
