package arbitrage

import (
	"context"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Detector runs the selected strategies over one cycle and returns a single
// ranked list.
type Detector struct {
	strategies []Strategy
	logger     *slog.Logger
}

// DetectorConfig configures the detector.
type DetectorConfig struct {
	Strategies []Strategy
	Logger     *slog.Logger
}

// NewDetector creates a detector that runs the given strategies.
func NewDetector(cfg DetectorConfig) *Detector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		strategies: cfg.Strategies,
		logger:     logger.With(slog.String("component", "arb_detector")),
	}
}

// Detect returns every candidate of the cycle in rank order. An empty result
// means no candidate's gross profit cleared the minimum; it is not an error. A
// failing strategy is logged and skipped.
func (d *Detector) Detect(ctx context.Context, in Input) []domain.Opportunity {
	var all []domain.Opportunity
	for _, s := range d.strategies {
		opps, err := s.Detect(ctx, in)
		if err != nil {
			d.logger.WarnContext(ctx, "strategy detect failed",
				slog.String("strategy", s.Name()),
				slog.String("chain", in.Cycle.Chain),
				slog.String("error", err.Error()),
			)
			continue
		}
		all = append(all, opps...)
	}
	Rank(all)
	return all
}

// Rank orders opportunities by net profit percentage descending, then
// absolute net profit descending, then fewer legs, then path signature. The
// order is total, so equal inputs always rank identically.
func Rank(opps []domain.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.NetProfitPct != b.NetProfitPct {
			return a.NetProfitPct > b.NetProfitPct
		}
		if a.NetProfit != b.NetProfit {
			return a.NetProfit > b.NetProfit
		}
		if len(a.Legs) != len(b.Legs) {
			return len(a.Legs) < len(b.Legs)
		}
		return a.Signature() < b.Signature()
	})
}
