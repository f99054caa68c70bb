// Package notify delivers operator alerts for approvals, breaker
// transitions and unreachable chains to Telegram and Discord.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Sender is implemented by each notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Limiter caps alert volume. domain.RateLimiter satisfies it.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Config configures a Notifier.
type Config struct {
	// Events lists the event types to forward; empty forwards the default
	// alert set.
	Events []string
	// Timeout bounds one delivery to all senders.
	Timeout time.Duration
	// Limiter, when set, allows at most MaxPerWindow alerts of one type per
	// Window.
	Limiter      Limiter
	MaxPerWindow int
	Window       time.Duration
	Logger       *slog.Logger
}

// DefaultEvents are forwarded when no explicit list is configured.
var DefaultEvents = []domain.EventType{
	domain.EventOpportunityApproved,
	domain.EventBreakerOpen,
	domain.EventBreakerClosed,
	domain.EventChainUnreachable,
}

// Notifier filters events and dispatches them asynchronously. A slow sender
// never blocks the scan loop.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	cfg     Config
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewNotifier creates a Notifier for the given senders.
func NewNotifier(senders []Sender, cfg Config) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxPerWindow <= 0 {
		cfg.MaxPerWindow = 20
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[domain.EventType]bool)
	for _, e := range cfg.Events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	if len(allowed) == 0 {
		for _, e := range DefaultEvents {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify queues ev for delivery and returns immediately. Events outside the
// configured set, or over the rate limit, are dropped.
func (n *Notifier) Notify(ctx context.Context, ev domain.Event) {
	if !n.Enabled() || !n.events[ev.Type] {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.cfg.Timeout)
		defer cancel()

		if !n.allow(dctx, ev) {
			return
		}
		title, msg := Format(ev)
		if err := n.dispatch(dctx, title, msg); err != nil {
			n.logger.WarnContext(dctx, "notification failed",
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until queued deliveries finish.
func (n *Notifier) Wait() { n.wg.Wait() }

func (n *Notifier) allow(ctx context.Context, ev domain.Event) bool {
	if n.cfg.Limiter == nil {
		return true
	}
	ok, err := n.cfg.Limiter.Allow(ctx, "notify:"+string(ev.Type), n.cfg.MaxPerWindow, n.cfg.Window)
	if err != nil {
		// A limiter error lets the alert through.
		n.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		return true
	}
	if !ok {
		n.logger.DebugContext(ctx, "notification rate limited", slog.String("event", string(ev.Type)))
	}
	return ok
}

// dispatch delivers to every sender; one failing sender does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	return errors.Join(errs...)
}

// Format renders the title and body of an alert.
func Format(ev domain.Event) (string, string) {
	switch ev.Type {
	case domain.EventOpportunityApproved:
		var a domain.Approval
		if json.Unmarshal(ev.Payload, &a) == nil {
			o := a.Opportunity
			paths := make([]string, 0, len(o.Legs))
			for _, l := range o.Legs {
				paths = append(paths, l.Exchange+" "+l.From().Symbol+"->"+l.To().Symbol)
			}
			return fmt.Sprintf("[%s] %s opportunity approved", ev.Chain, o.Kind),
				fmt.Sprintf("net %.4f %s (%.3f%%)\n%s", o.NetProfit, o.InputToken.Symbol, o.NetProfitPct, strings.Join(paths, "\n"))
		}
	case domain.EventBreakerOpen, domain.EventBreakerClosed:
		var b domain.BreakerEvent
		if json.Unmarshal(ev.Payload, &b) == nil {
			return fmt.Sprintf("[%s] breaker %s", ev.Chain, b.To), b.Reason
		}
	case domain.EventChainUnreachable:
		return fmt.Sprintf("[%s] chain unreachable", ev.Chain), "all RPC endpoints failed; scanning paused until one recovers"
	}
	return fmt.Sprintf("[%s] %s", ev.Chain, ev.Type), string(ev.Payload)
}
