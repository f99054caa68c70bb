package domain

import (
	"context"
	"time"
)

// SnapshotCache keeps the latest read-only projections per chain so other
// processes can serve them.
type SnapshotCache interface {
	SetCycle(ctx context.Context, report CycleReport) error
	GetCycle(ctx context.Context, chain string) (CycleReport, error)
	SetOpportunities(ctx context.Context, chain string, opps []Opportunity) error
	GetOpportunities(ctx context.Context, chain string) ([]Opportunity, error)
	SetEndpoints(ctx context.Context, chain string, eps []Endpoint) error
	GetEndpoints(ctx context.Context, chain string) ([]Endpoint, error)
	SetRisk(ctx context.Context, st RiskState) error
	GetRisk(ctx context.Context, chain string) (RiskState, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out of events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
