package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/dexarb/internal/aggregator"
	"github.com/alanyoungcy/dexarb/internal/arbitrage"
	"github.com/alanyoungcy/dexarb/internal/cache/redis"
	"github.com/alanyoungcy/dexarb/internal/chain"
	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/crypto"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/executor"
	"github.com/alanyoungcy/dexarb/internal/gate"
	"github.com/alanyoungcy/dexarb/internal/monitor"
	"github.com/alanyoungcy/dexarb/internal/notify"
	"github.com/alanyoungcy/dexarb/internal/quote"
	"github.com/alanyoungcy/dexarb/internal/rpcpool"
	"github.com/alanyoungcy/dexarb/internal/scanner"
	"github.com/alanyoungcy/dexarb/internal/store/postgres"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function. Infrastructure fields
// are nil when their backend is disabled; the scan fields are only set in
// scan mode.
type Dependencies struct {
	// Infrastructure
	Journal     domain.JournalStore
	Snapshots   domain.SnapshotCache
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	Notifier    *notify.Notifier

	// Scan pipeline
	Pool         *rpcpool.Pool
	Clients      map[string]*chain.Client
	Board        *monitor.Board
	Reporter     *scanner.Reporter
	Gate         *gate.Gate
	Executor     *executor.Executor
	Orchestrator *scanner.Orchestrator
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- PostgreSQL journal ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Journal = postgres.NewJournalStore(pgClient.Pool())
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Snapshots = redis.NewSnapshotCache(redisClient, cfg.Redis.SnapshotTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			cfg.Notify.Timeout.Duration,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.Timeout.Duration))
	}
	deps.Notifier = notify.NewNotifier(senders, notify.Config{
		Events:       cfg.Notify.Events,
		Timeout:      cfg.Notify.Timeout.Duration,
		Limiter:      deps.RateLimiter,
		MaxPerWindow: cfg.Notify.MaxPerWindow,
		Window:       cfg.Notify.RateWindow.Duration,
		Logger:       logger,
	})
	closers = append(closers, deps.Notifier.Wait)

	if strings.ToLower(cfg.Mode) == "scan" {
		if err := wireScan(ctx, cfg, deps, logger); err != nil {
			return fail(err)
		}
		closers = append(closers, func() {
			for _, c := range deps.Clients {
				c.Close()
			}
		})
	}

	return deps, cleanup, nil
}

// wireScan builds the scan pipeline: endpoint pool, chain clients, quote
// sources, detector, gate, executor and the orchestrator around them.
func wireScan(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	chains := cfg.ChainNames()

	endpoints := make(map[string][]string, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		endpoints[ch.Name] = ch.Endpoints
	}
	deps.Pool = rpcpool.New(rpcpool.Config{
		LatencyAlpha:     cfg.RPC.LatencyAlpha,
		DegradeAfter:     cfg.RPC.DegradeAfter,
		UnreachableAfter: cfg.RPC.UnreachableAfter,
		RecoverAfter:     cfg.RPC.RecoverAfter,
		PingTimeout:      cfg.RPC.CallTimeout.Duration,
		Logger:           logger,
	}, endpoints)

	quotes := quote.NewRegistry()
	deps.Clients = make(map[string]*chain.Client, len(cfg.Chains))
	pingers := make(map[string]rpcpool.Pinger, len(cfg.Chains))
	plans := make([]scanner.Plan, 0, len(cfg.Chains))
	policies := make([]gate.ChainPolicy, 0, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		client := chain.NewClient(chain.Config{
			Chain:        ch.Name,
			ChainID:      ch.ChainID,
			NativeSymbol: ch.NativeSymbol,
			CallTimeout:  cfg.RPC.CallTimeout.Duration,
			MaxRetries:   cfg.RPC.MaxRetries,
			Logger:       logger,
		}, deps.Pool, chain.DialEth)
		deps.Clients[ch.Name] = client
		pingers[ch.Name] = client.Pinger()

		if err := quotes.RegisterChain(ch, client, cfg.Detector.StalenessWindow.Duration); err != nil {
			return fmt.Errorf("wire: quote sources %s: %w", ch.Name, err)
		}
		plan, err := scanner.BuildPlan(ch)
		if err != nil {
			return fmt.Errorf("wire: %w", err)
		}
		plans = append(plans, plan)
		policies = append(policies, gate.ChainPolicy{Name: ch.Name, PrivateRelay: ch.PrivateRelay})
	}

	strategies, err := arbitrage.DefaultRegistry(arbitrage.Params{
		MinProfitPct:      cfg.Detector.MinProfitPct,
		SlippageBufferPct: cfg.Detector.SlippageBufferPct,
		GasUnitsPerLeg:    cfg.Detector.GasUnitsPerLeg,
		StalenessWindow:   cfg.Detector.StalenessWindow.Duration,
	}).Select(cfg.Detector.Strategies)
	if err != nil {
		return fmt.Errorf("wire: detector strategies: %w", err)
	}
	detector := arbitrage.NewDetector(arbitrage.DetectorConfig{Strategies: strategies, Logger: logger})

	deps.Gate = gate.New(gate.Config{
		MinProfitPct:      cfg.Risk.MinProfitPct,
		MaxSlippagePct:    cfg.Risk.MaxSlippagePct,
		MaxTradeSize:      cfg.Risk.MaxTradeSize,
		FailureThreshold:  cfg.Risk.FailureThreshold,
		DailyLossCeiling:  cfg.Risk.DailyLossCeiling,
		MaxGasPriceGwei:   cfg.Risk.MaxGasPriceGwei,
		MaxOpportunityAge: cfg.Risk.MaxOpportunityAge.Duration,
		Logger:            logger,
	}, policies)

	resetOffset, err := config.ParseDailyReset(cfg.Risk.DailyResetUTC)
	if err != nil {
		return fmt.Errorf("wire: %w", err)
	}
	if deps.Journal != nil {
		restoreRisk(ctx, deps.Gate, deps.Journal, chains, scanner.DayStart(time.Now(), resetOffset), logger)
	}

	deps.Board = monitor.NewBoard(chains, deps.Snapshots, logger)
	deps.Reporter = scanner.NewReporter(scanner.ReporterConfig{
		Board:    deps.Board,
		Journal:  deps.Journal,
		Bus:      deps.SignalBus,
		Notifier: deps.Notifier,
		Logger:   logger,
	})

	adapter, err := newAdapter(cfg.Execution, logger)
	if err != nil {
		return err
	}
	approvals := make(chan domain.Approval, cfg.Scan.ApprovalBuffer)
	deps.Executor = executor.New(approvals, adapter, deps.Gate, executor.Config{
		Timeout: cfg.Execution.Timeout.Duration,
		Logger:  logger,
	})
	deps.Executor.OnOutcome(deps.Reporter.Outcome)

	agg := aggregator.New(quotes, logger)
	scanners := make([]*scanner.ChainScanner, 0, len(plans))
	for _, plan := range plans {
		scanners = append(scanners, scanner.NewChainScanner(plan, scanner.Deps{
			Gas:       deps.Clients[plan.Chain],
			Pool:      deps.Pool,
			Collector: agg,
			Detector:  detector,
			Gate:      deps.Gate,
			Approvals: approvals,
			Reporter:  deps.Reporter,
			Locks:     deps.LockManager,
		}, scanner.CycleConfig{
			Interval: cfg.Scan.CycleInterval.Duration,
			Deadline: cfg.Scan.CycleDeadline.Duration,
			Logger:   logger,
		}))
	}

	deps.Orchestrator = scanner.NewOrchestrator(scanners, pingers, deps.Pool, deps.Gate, deps.Reporter, scanner.OrchestratorConfig{
		HealthInterval: cfg.Scan.HealthCheckInterval.Duration,
		DailyReset:     resetOffset,
		Logger:         logger,
	})
	return nil
}

func newAdapter(cfg config.ExecutionConfig, logger *slog.Logger) (executor.Adapter, error) {
	switch strings.ToLower(cfg.Adapter) {
	case "", "dry_run":
		return executor.NewDryRunAdapter(logger), nil
	case "webhook":
		adapter := executor.NewWebhookAdapter(cfg.WebhookURL, cfg.Timeout.Duration)
		if cfg.WebhookSecret != "" {
			adapter.WithSigner(&crypto.HMACAuth{Secret: cfg.WebhookSecret})
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("wire: unknown execution adapter %q", cfg.Adapter)
	}
}

// restoreRisk seeds today's realized totals from the journal so a restart
// does not forget losses already taken. A journal error leaves the chain at
// zero.
func restoreRisk(ctx context.Context, g *gate.Gate, journal domain.JournalStore, chains []string, since time.Time, logger *slog.Logger) {
	for _, name := range chains {
		profit, loss, err := journal.SumRealized(ctx, name, since)
		if err != nil {
			logger.WarnContext(ctx, "wire: restore daily totals failed",
				slog.String("chain", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if _, err := g.Restore(name, profit, loss, since); err != nil {
			continue
		}
		if profit != 0 || loss != 0 {
			logger.InfoContext(ctx, "wire: restored daily totals",
				slog.String("chain", name),
				slog.Float64("daily_profit", profit),
				slog.Float64("daily_loss", loss),
			)
		}
	}
}
