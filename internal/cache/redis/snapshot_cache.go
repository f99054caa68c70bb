package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache. Each projection is stored
// as a JSON string at "snapshot:{chain}:{kind}" and expires after the
// configured TTL so a stopped scanner stops being served.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client. A
// zero ttl keeps snapshots until overwritten.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl}
}

func snapshotKey(chain, kind string) string {
	return "snapshot:" + chain + ":" + kind
}

func (sc *SnapshotCache) put(ctx context.Context, chain, kind string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: encode %s snapshot %s: %w", kind, chain, err)
	}
	if err := sc.rdb.Set(ctx, snapshotKey(chain, kind), raw, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s snapshot %s: %w", kind, chain, err)
	}
	return nil
}

func (sc *SnapshotCache) get(ctx context.Context, chain, kind string, v any) error {
	raw, err := sc.rdb.Get(ctx, snapshotKey(chain, kind)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("redis: get %s snapshot %s: %w", kind, chain, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("redis: decode %s snapshot %s: %w", kind, chain, err)
	}
	return nil
}

// SetCycle stores the latest cycle report of a chain.
func (sc *SnapshotCache) SetCycle(ctx context.Context, report domain.CycleReport) error {
	return sc.put(ctx, report.Chain, "cycle", report)
}

// GetCycle returns the latest cycle report, or domain.ErrNotFound.
func (sc *SnapshotCache) GetCycle(ctx context.Context, chain string) (domain.CycleReport, error) {
	var r domain.CycleReport
	err := sc.get(ctx, chain, "cycle", &r)
	return r, err
}

// SetOpportunities stores the ranked list of the latest cycle.
func (sc *SnapshotCache) SetOpportunities(ctx context.Context, chain string, opps []domain.Opportunity) error {
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	return sc.put(ctx, chain, "opportunities", opps)
}

// GetOpportunities returns the latest ranked list, or domain.ErrNotFound.
func (sc *SnapshotCache) GetOpportunities(ctx context.Context, chain string) ([]domain.Opportunity, error) {
	var opps []domain.Opportunity
	err := sc.get(ctx, chain, "opportunities", &opps)
	return opps, err
}

// SetEndpoints stores the endpoint health snapshot of a chain.
func (sc *SnapshotCache) SetEndpoints(ctx context.Context, chain string, eps []domain.Endpoint) error {
	return sc.put(ctx, chain, "endpoints", eps)
}

// GetEndpoints returns the endpoint snapshot, or domain.ErrNotFound.
func (sc *SnapshotCache) GetEndpoints(ctx context.Context, chain string) ([]domain.Endpoint, error) {
	var eps []domain.Endpoint
	err := sc.get(ctx, chain, "endpoints", &eps)
	return eps, err
}

// SetRisk stores the risk state of a chain.
func (sc *SnapshotCache) SetRisk(ctx context.Context, st domain.RiskState) error {
	return sc.put(ctx, st.Chain, "risk", st)
}

// GetRisk returns the risk state, or domain.ErrNotFound.
func (sc *SnapshotCache) GetRisk(ctx context.Context, chain string) (domain.RiskState, error) {
	var st domain.RiskState
	err := sc.get(ctx, chain, "risk", &st)
	return st, err
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
