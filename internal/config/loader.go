package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEXARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEXARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). RPC URLs usually embed provider API keys, so each chain's endpoint
// list can be injected with DEXARB_CHAIN_<NAME>_ENDPOINTS.
func applyEnvOverrides(cfg *Config) {
	// ── Scan ──
	setDuration(&cfg.Scan.CycleInterval, "DEXARB_SCAN_CYCLE_INTERVAL")
	setDuration(&cfg.Scan.CycleDeadline, "DEXARB_SCAN_CYCLE_DEADLINE")
	setDuration(&cfg.Scan.HealthCheckInterval, "DEXARB_SCAN_HEALTH_CHECK_INTERVAL")
	setInt(&cfg.Scan.ApprovalBuffer, "DEXARB_SCAN_APPROVAL_BUFFER")

	// ── RPC ──
	setDuration(&cfg.RPC.CallTimeout, "DEXARB_RPC_CALL_TIMEOUT")
	setInt(&cfg.RPC.MaxRetries, "DEXARB_RPC_MAX_RETRIES")
	setFloat64(&cfg.RPC.LatencyAlpha, "DEXARB_RPC_LATENCY_ALPHA")

	// ── Detector ──
	setFloat64(&cfg.Detector.MinProfitPct, "DEXARB_DETECTOR_MIN_PROFIT_PCT")
	setFloat64(&cfg.Detector.SlippageBufferPct, "DEXARB_DETECTOR_SLIPPAGE_BUFFER_PCT")
	setUint64(&cfg.Detector.GasUnitsPerLeg, "DEXARB_DETECTOR_GAS_UNITS_PER_LEG")
	setDuration(&cfg.Detector.StalenessWindow, "DEXARB_DETECTOR_STALENESS_WINDOW")
	setStringSlice(&cfg.Detector.Strategies, "DEXARB_DETECTOR_STRATEGIES")

	// ── Risk ──
	setFloat64(&cfg.Risk.MinProfitPct, "DEXARB_RISK_MIN_PROFIT_PCT")
	setFloat64(&cfg.Risk.MaxSlippagePct, "DEXARB_RISK_MAX_SLIPPAGE_PCT")
	setFloat64(&cfg.Risk.MaxTradeSize, "DEXARB_RISK_MAX_TRADE_SIZE")
	setInt(&cfg.Risk.FailureThreshold, "DEXARB_RISK_FAILURE_THRESHOLD")
	setFloat64(&cfg.Risk.DailyLossCeiling, "DEXARB_RISK_DAILY_LOSS_CEILING")
	setStr(&cfg.Risk.DailyResetUTC, "DEXARB_RISK_DAILY_RESET_UTC")
	setFloat64(&cfg.Risk.MaxGasPriceGwei, "DEXARB_RISK_MAX_GAS_PRICE_GWEI")
	setDuration(&cfg.Risk.MaxOpportunityAge, "DEXARB_RISK_MAX_OPPORTUNITY_AGE")

	// ── Chains ──
	for i := range cfg.Chains {
		key := "DEXARB_CHAIN_" + envName(cfg.Chains[i].Name)
		setStringSlice(&cfg.Chains[i].Endpoints, key+"_ENDPOINTS")
		setFloat64(&cfg.Chains[i].DefaultGasPriceGwei, key+"_DEFAULT_GAS_PRICE_GWEI")
		setBool(&cfg.Chains[i].PrivateRelay, key+"_PRIVATE_RELAY")
	}

	// ── Execution ──
	setStr(&cfg.Execution.Adapter, "DEXARB_EXECUTION_ADAPTER")
	setStr(&cfg.Execution.WebhookURL, "DEXARB_EXECUTION_WEBHOOK_URL")
	setStr(&cfg.Execution.WebhookSecret, "DEXARB_EXECUTION_WEBHOOK_SECRET")
	setDuration(&cfg.Execution.Timeout, "DEXARB_EXECUTION_TIMEOUT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DEXARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DEXARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEXARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEXARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEXARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEXARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEXARB_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "DEXARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DEXARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DEXARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEXARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEXARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEXARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEXARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEXARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEXARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEXARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEXARB_POSTGRES_RUN_MIGRATIONS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DEXARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DEXARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DEXARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DEXARB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "DEXARB_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEXARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEXARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEXARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEXARB_NOTIFY_EVENTS")
	setInt(&cfg.Notify.MaxPerWindow, "DEXARB_NOTIFY_MAX_PER_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEXARB_MODE")
	setStr(&cfg.LogLevel, "DEXARB_LOG_LEVEL")
}

// envName upper-cases a chain name and replaces separators with underscores.
func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name))
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
