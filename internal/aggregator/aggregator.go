// Package aggregator fans quote requests out to every exchange of a chain and
// joins them under a single deadline.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/quote"
)

// Sources resolves an exchange id to its quote source; *quote.Registry
// implements it.
type Sources interface {
	Get(chain, exchange string) (quote.Source, error)
}

// Request describes one collection.
type Request struct {
	CycleID   string
	Chain     string
	Pair      domain.TokenPair
	Exchanges []string
	AmountIn  *big.Int
	Deadline  time.Duration
}

// Aggregator collects QuoteSets.
type Aggregator struct {
	sources Sources
	now     func() time.Time
	logger  *slog.Logger
}

// New creates an aggregator over sources.
func New(sources Sources, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		sources: sources,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "aggregator")),
	}
}

type result struct {
	exchange string
	quote    domain.Quote
	err      error
}

// Collect queries every exchange in req concurrently and returns once all
// have answered or the deadline elapsed. Exchanges still outstanding at the
// deadline are recorded as timeouts; their late answers are discarded. The
// call never fails: every problem ends up in QuoteSet.Failures.
func (a *Aggregator) Collect(ctx context.Context, req Request) domain.QuoteSet {
	start := a.now()
	set := domain.QuoteSet{
		CycleID:  req.CycleID,
		Chain:    req.Chain,
		Pair:     req.Pair,
		AmountIn: req.AmountIn,
		Quotes:   make(map[string]domain.Quote),
		Failures: make(map[string]domain.QuoteFailure),
	}

	ids := dedupe(req.Exchanges)
	if len(ids) == 0 {
		set.CollectedAt = a.now()
		return set
	}

	ctx, cancel := context.WithTimeout(ctx, req.Deadline)
	defer cancel()

	// Buffered to len(ids) so abandoned goroutines can always deliver and exit.
	results := make(chan result, len(ids))
	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		src, err := a.sources.Get(req.Chain, id)
		if err != nil {
			set.Failures[id] = domain.QuoteFailure{Exchange: id, Reason: domain.FailureUnknownSource, Detail: err.Error()}
			continue
		}
		pending[id] = true
		go func() {
			q, err := src.Quote(ctx, req.Pair, req.AmountIn)
			results <- result{exchange: id, quote: q, err: err}
		}()
	}

	for len(pending) > 0 {
		select {
		case r := <-results:
			delete(pending, r.exchange)
			a.accept(&set, r)
		case <-ctx.Done():
			for id := range pending {
				set.Failures[id] = domain.QuoteFailure{Exchange: id, Reason: domain.FailureTimeout, Detail: "deadline exceeded"}
			}
			pending = nil
		}
	}

	set.CollectedAt = a.now()
	set.Latency = set.CollectedAt.Sub(start)

	a.logger.DebugContext(ctx, "quote set collected",
		slog.String("chain", req.Chain),
		slog.String("pair", req.Pair.Key()),
		slog.Int("quotes", len(set.Quotes)),
		slog.Int("failures", len(set.Failures)),
		slog.Duration("latency", set.Latency),
	)
	return set
}

func (a *Aggregator) accept(set *domain.QuoteSet, r result) {
	if r.err != nil {
		reason := domain.ReasonOf(r.err)
		if errors.Is(r.err, context.DeadlineExceeded) {
			reason = domain.FailureTimeout
		}
		set.Failures[r.exchange] = domain.QuoteFailure{Exchange: r.exchange, Reason: reason, Detail: r.err.Error()}
		return
	}
	if !r.quote.FreshAt(a.now()) {
		set.Failures[r.exchange] = domain.QuoteFailure{Exchange: r.exchange, Reason: domain.FailureStale, Detail: "quote older than its staleness window"}
		return
	}
	set.Quotes[r.exchange] = r.quote
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
