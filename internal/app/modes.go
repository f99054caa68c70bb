package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexarb/internal/crypto"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/gate"
	"github.com/alanyoungcy/dexarb/internal/monitor"
	"github.com/alanyoungcy/dexarb/internal/scanner"
	"github.com/alanyoungcy/dexarb/internal/server"
	"github.com/alanyoungcy/dexarb/internal/server/handler"
	"github.com/alanyoungcy/dexarb/internal/server/ws"
)

// ScanMode runs the scanners, the executor and, when enabled, the HTTP API
// over the in-process board.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode",
		slog.Int("chains", len(a.cfg.Chains)),
		slog.Bool("journal", deps.Journal != nil),
		slog.Bool("redis", deps.SignalBus != nil),
		slog.Bool("notifications", deps.Notifier.Enabled()),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Orchestrator.Run(ctx) })
	g.Go(func() error { return deps.Executor.Run(ctx) })

	if a.cfg.Server.Enabled {
		control := riskControl{gate: deps.Gate, reporter: deps.Reporter}
		a.startHTTPServer(ctx, g, deps, deps.Board, control, deps.Executor)
	}

	return g.Wait()
}

// MonitorMode follows another scanner process through Redis: it logs every
// bus event and serves the cached projections.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	if deps.SignalBus == nil || deps.Snapshots == nil {
		return errors.New("monitor mode: redis must be enabled")
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, channel := range ws.Channels {
		msgs, err := deps.SignalBus.Subscribe(ctx, channel)
		if err != nil {
			return fmt.Errorf("monitor mode: subscribe %s: %w", channel, err)
		}
		g.Go(func() error { return a.tail(ctx, channel, msgs) })
	}

	if a.cfg.Server.Enabled {
		view := monitor.NewCacheView(a.cfg.ChainNames(), deps.Snapshots)
		a.startHTTPServer(ctx, g, deps, view, nil, nil)
	}

	return g.Wait()
}

// ServerMode serves the HTTP API alone over the Redis snapshots and the
// journal. Breaker resets and outcome reports answer 501 because no gate
// lives in this process.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	if deps.Snapshots == nil {
		return errors.New("server mode: redis must be enabled")
	}

	g, ctx := errgroup.WithContext(ctx)
	view := monitor.NewCacheView(a.cfg.ChainNames(), deps.Snapshots)
	a.startHTTPServer(ctx, g, deps, view, nil, nil)
	return g.Wait()
}

// tail logs every event of one bus channel until ctx is done.
func (a *App) tail(ctx context.Context, channel string, msgs <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				a.logger.WarnContext(ctx, "monitor: malformed event",
					slog.String("channel", channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			a.logger.InfoContext(ctx, "monitor: event",
				slog.String("channel", channel),
				slog.String("type", string(ev.Type)),
				slog.String("chain", ev.Chain),
				slog.Time("at", ev.At),
			)
		}
	}
}

// startHTTPServer registers the API server and, when a bus is wired, the
// websocket hub in g. control and outcomes may be nil.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	reader handler.ChainReader,
	control handler.RiskController,
	outcomes handler.OutcomeReporter,
) {
	startedAt := time.Now().UTC()
	chains := a.cfg.ChainNames()

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, ws.Config{
			Mode:           a.cfg.Mode,
			Chains:         chains,
			StartedAt:      startedAt,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		}, a.logger)
		g.Go(func() error { return hub.Run(ctx) })
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, chains, startedAt),
		Chains: handler.NewChainHandler(reader, a.logger),
		Risk:   handler.NewRiskHandler(control, outcomes, a.logger),
	}
	if deps.Journal != nil {
		handlers.Journal = handler.NewJournalHandler(deps.Journal, a.logger)
	}

	srvCfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		Limiter:     deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
	}
	if secret := a.cfg.Execution.WebhookSecret; secret != "" {
		srvCfg.OutcomeAuth = &crypto.HMACAuth{Secret: secret}
	}
	srv := server.NewServer(srvCfg, handlers, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// riskControl resets a breaker and refreshes the board so the API reflects
// the cleared counters at once.
type riskControl struct {
	gate     *gate.Gate
	reporter *scanner.Reporter
}

func (r riskControl) ManualReset(ctx context.Context, chain string) (domain.RiskState, error) {
	st, err := r.gate.ManualReset(ctx, chain)
	if err != nil {
		return domain.RiskState{}, err
	}
	r.reporter.Risk(ctx, st)
	return st, nil
}
