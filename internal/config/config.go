// Package config defines the top-level configuration for the multi-chain
// arbitrage scanner and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEXARB_* environment variables.
type Config struct {
	Scan      ScanConfig      `toml:"scan"`
	RPC       RPCConfig       `toml:"rpc"`
	Detector  DetectorConfig  `toml:"detector"`
	Risk      RiskConfig      `toml:"risk"`
	Chains    []ChainConfig   `toml:"chains"`
	Execution ExecutionConfig `toml:"execution"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ScanConfig controls the scan loop cadence.
type ScanConfig struct {
	CycleInterval       duration `toml:"cycle_interval"`
	CycleDeadline       duration `toml:"cycle_deadline"`
	HealthCheckInterval duration `toml:"health_check_interval"`
	ApprovalBuffer      int      `toml:"approval_buffer"`
}

// RPCConfig controls endpoint health tracking and call retries.
type RPCConfig struct {
	CallTimeout      duration `toml:"call_timeout"`
	MaxRetries       int      `toml:"max_retries"`
	LatencyAlpha     float64  `toml:"latency_alpha"`
	DegradeAfter     int      `toml:"degrade_after"`
	UnreachableAfter int      `toml:"unreachable_after"`
	RecoverAfter     int      `toml:"recover_after"`
}

// DetectorConfig holds the profit model used to price candidates.
type DetectorConfig struct {
	MinProfitPct      float64  `toml:"min_profit_pct"`
	SlippageBufferPct float64  `toml:"slippage_buffer_pct"`
	GasUnitsPerLeg    uint64   `toml:"gas_units_per_leg"`
	StalenessWindow   duration `toml:"staleness_window"`
	// Strategies lists detector strategies to run; empty means all registered.
	Strategies []string `toml:"strategies"`
}

// RiskConfig holds the safety gate limits.
type RiskConfig struct {
	MinProfitPct   float64 `toml:"min_profit_pct"`
	MaxSlippagePct float64 `toml:"max_slippage_pct"`
	// MaxTradeSize caps a path's input, in native coin units (ETH on
	// Ethereum), converted through the pair's or triangle's native_price.
	MaxTradeSize     float64 `toml:"max_trade_size"`
	FailureThreshold int     `toml:"failure_threshold"`
	// DailyLossCeiling caps the day's realized loss in native coin units;
	// executors report realized_profit in the same unit.
	DailyLossCeiling  float64  `toml:"daily_loss_ceiling"`
	DailyResetUTC     string   `toml:"daily_reset_utc"`
	MaxGasPriceGwei   float64  `toml:"max_gas_price_gwei"`
	MaxOpportunityAge duration `toml:"max_opportunity_age"`
}

// ChainConfig describes one network to scan.
type ChainConfig struct {
	Name                string  `toml:"name"`
	ChainID             uint64  `toml:"chain_id"`
	NativeSymbol        string  `toml:"native_symbol"`
	DefaultGasPriceGwei float64 `toml:"default_gas_price_gwei"`
	GasStrategy         string  `toml:"gas_strategy"`
	PrivateRelay        bool    `toml:"private_relay"`
	// Endpoints are RPC URLs in priority order (first = highest).
	Endpoints []string         `toml:"endpoints"`
	Tokens    []TokenConfig    `toml:"tokens"`
	Exchanges []ExchangeConfig `toml:"exchanges"`
	Pairs     []PairConfig     `toml:"pairs"`
	Triangles []TriangleConfig `toml:"triangles"`
}

// TokenConfig is one ERC-20 token known on a chain.
type TokenConfig struct {
	Symbol   string `toml:"symbol"`
	Address  string `toml:"address"`
	Decimals uint8  `toml:"decimals"`
}

// ExchangeConfig holds the pricing-mechanism parameters of one exchange.
type ExchangeConfig struct {
	ID      string `toml:"id"`
	Kind    string `toml:"kind"`
	Router  string `toml:"router"`
	Quoter  string `toml:"quoter"`
	FeeTier uint32 `toml:"fee_tier"`
}

// PairConfig is a token pair to collect quotes for every cycle.
type PairConfig struct {
	Base     string  `toml:"base"`
	Quote    string  `toml:"quote"`
	AmountIn float64 `toml:"amount_in"`
	// NativePrice is the price of the chain's native coin in Quote units,
	// used to express gas cost in trade terms.
	NativePrice float64 `toml:"native_price"`
	// Exchanges restricts the pair to these exchange ids; empty means all.
	Exchanges []string `toml:"exchanges"`
}

// TriangleConfig is a token triple (A,B,C) for triangular detection.
type TriangleConfig struct {
	Tokens   []string `toml:"tokens"`
	AmountIn float64  `toml:"amount_in"`
	// NativePrice is the price of the native coin in units of Tokens[0].
	NativePrice float64 `toml:"native_price"`
}

// ExecutionConfig selects the execution adapter.
type ExecutionConfig struct {
	Adapter    string `toml:"adapter"`
	WebhookURL string `toml:"webhook_url"`
	// WebhookSecret, when set, signs outgoing approvals and is required on
	// outcome callbacks.
	WebhookSecret string   `toml:"webhook_secret"`
	Timeout       duration `toml:"timeout"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// PostgresConfig holds journal database connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Duration builds a config duration; exposed for tests and programmatic setup.
func Duration(d time.Duration) duration { return duration{d} }

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit caps requests per client per minute when Redis is enabled;
	// zero disables it.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Timeout           duration `toml:"timeout"`
	// MaxPerWindow alerts of one type are sent per RateWindow.
	MaxPerWindow int      `toml:"max_per_window"`
	RateWindow   duration `toml:"rate_window"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Scan: ScanConfig{
			CycleInterval:       duration{5 * time.Second},
			CycleDeadline:       duration{2 * time.Second},
			HealthCheckInterval: duration{30 * time.Second},
			ApprovalBuffer:      64,
		},
		RPC: RPCConfig{
			CallTimeout:      duration{time.Second},
			MaxRetries:       2,
			LatencyAlpha:     0.3,
			DegradeAfter:     3,
			UnreachableAfter: 2,
			RecoverAfter:     2,
		},
		Detector: DetectorConfig{
			MinProfitPct:      0.3,
			SlippageBufferPct: 0.5,
			GasUnitsPerLeg:    150_000,
			StalenessWindow:   duration{3 * time.Second},
		},
		Risk: RiskConfig{
			MinProfitPct:      0.3,
			MaxSlippagePct:    1.0,
			MaxTradeSize:      5,
			FailureThreshold:  3,
			DailyLossCeiling:  0.5,
			DailyResetUTC:     "00:00",
			MaxOpportunityAge: duration{5 * time.Second},
		},
		Execution: ExecutionConfig{
			Adapter: "dry_run",
			Timeout: duration{10 * time.Second},
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			SnapshotTTL: duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dexarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events:  []string{"opportunity_approved", "breaker_open", "breaker_closed", "chain_unreachable"},
			Timeout:      duration{5 * time.Second},
			MaxPerWindow: 20,
			RateWindow:   duration{time.Minute},
		},
		Mode:     "scan",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":    true,
	"monitor": true,
	"server":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validExchangeKinds = map[string]bool{
	"uniswap_v2": true,
	"uniswap_v3": true,
}

var validGasStrategies = map[string]bool{
	"":        true,
	"slow":    true,
	"medium":  true,
	"fast":    true,
	"instant": true,
}

// Chain returns the configuration of the named chain.
func (c *Config) Chain(name string) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChainConfig{}, false
}

// ChainNames returns configured chain names in declaration order.
func (c *Config) ChainNames() []string {
	names := make([]string, 0, len(c.Chains))
	for _, ch := range c.Chains {
		names = append(names, ch.Name)
	}
	return names
}

// Token looks up a token by symbol.
func (c ChainConfig) Token(symbol string) (TokenConfig, bool) {
	for _, t := range c.Tokens {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return TokenConfig{}, false
}

// ExchangeIDs returns the ids of every configured exchange.
func (c ChainConfig) ExchangeIDs() []string {
	ids := make([]string, 0, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		ids = append(ids, ex.ID)
	}
	return ids
}

// ParseDailyReset parses an "HH:MM" UTC time of day into an offset from
// midnight.
func ParseDailyReset(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("config: daily_reset_utc %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Scan
	if c.Scan.CycleInterval.Duration <= 0 {
		errs = append(errs, "scan: cycle_interval must be > 0")
	}
	if c.Scan.CycleDeadline.Duration <= 0 {
		errs = append(errs, "scan: cycle_deadline must be > 0")
	}
	if c.Scan.HealthCheckInterval.Duration <= 0 {
		errs = append(errs, "scan: health_check_interval must be > 0")
	}
	if c.Scan.ApprovalBuffer < 1 {
		errs = append(errs, "scan: approval_buffer must be >= 1")
	}

	// RPC
	if c.RPC.CallTimeout.Duration <= 0 {
		errs = append(errs, "rpc: call_timeout must be > 0")
	}
	if c.RPC.CallTimeout.Duration > 0 && c.Scan.CycleDeadline.Duration > 0 &&
		c.RPC.CallTimeout.Duration >= c.Scan.CycleDeadline.Duration {
		errs = append(errs, fmt.Sprintf("rpc: call_timeout (%s) must be shorter than scan.cycle_deadline (%s)",
			c.RPC.CallTimeout.Duration, c.Scan.CycleDeadline.Duration))
	}
	if c.RPC.MaxRetries < 0 {
		errs = append(errs, "rpc: max_retries must be >= 0")
	}
	if c.RPC.LatencyAlpha <= 0 || c.RPC.LatencyAlpha > 1 {
		errs = append(errs, fmt.Sprintf("rpc: latency_alpha must be in (0, 1], got %g", c.RPC.LatencyAlpha))
	}
	if c.RPC.DegradeAfter < 1 || c.RPC.UnreachableAfter < 1 || c.RPC.RecoverAfter < 1 {
		errs = append(errs, "rpc: degrade_after, unreachable_after and recover_after must be >= 1")
	}

	// Detector
	if c.Detector.MinProfitPct < 0 {
		errs = append(errs, "detector: min_profit_pct must be >= 0")
	}
	if c.Detector.SlippageBufferPct < 0 || c.Detector.SlippageBufferPct >= 100 {
		errs = append(errs, "detector: slippage_buffer_pct must be in [0, 100)")
	}
	if c.Detector.GasUnitsPerLeg == 0 {
		errs = append(errs, "detector: gas_units_per_leg must be > 0")
	}
	if c.Detector.StalenessWindow.Duration <= 0 {
		errs = append(errs, "detector: staleness_window must be > 0")
	}

	// Risk
	if c.Risk.MaxSlippagePct <= 0 {
		errs = append(errs, "risk: max_slippage_pct must be > 0")
	}
	if c.Risk.MaxTradeSize <= 0 {
		errs = append(errs, "risk: max_trade_size must be > 0")
	}
	if c.Risk.FailureThreshold < 1 {
		errs = append(errs, "risk: failure_threshold must be >= 1")
	}
	if c.Risk.DailyLossCeiling < 0 {
		errs = append(errs, "risk: daily_loss_ceiling must be >= 0")
	}
	if _, err := ParseDailyReset(c.Risk.DailyResetUTC); err != nil {
		errs = append(errs, "risk: daily_reset_utc must be HH:MM, got "+c.Risk.DailyResetUTC)
	}
	if c.Risk.MaxGasPriceGwei < 0 {
		errs = append(errs, "risk: max_gas_price_gwei must be >= 0")
	}

	// Chains
	needsChains := c.Mode == "scan" || c.Mode == "monitor"
	if needsChains && len(c.Chains) == 0 {
		errs = append(errs, "chains: at least one [[chains]] entry is required for mode "+c.Mode)
	}
	seen := make(map[string]bool, len(c.Chains))
	for i, ch := range c.Chains {
		errs = append(errs, ch.validate(i, seen)...)
	}

	// Execution
	switch c.Execution.Adapter {
	case "dry_run":
	case "webhook":
		if c.Execution.WebhookURL == "" {
			errs = append(errs, "execution: webhook_url is required for adapter webhook")
		}
	default:
		errs = append(errs, fmt.Sprintf("execution: unknown adapter %q (valid: dry_run, webhook)", c.Execution.Adapter))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Server
	if c.Server.Enabled || c.Mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (ch ChainConfig) validate(i int, seen map[string]bool) []string {
	var errs []string
	p := fmt.Sprintf("chains[%d]", i)
	if ch.Name != "" {
		p = "chains." + ch.Name
	}

	if ch.Name == "" {
		errs = append(errs, p+": name must not be empty")
	} else if seen[ch.Name] {
		errs = append(errs, p+": duplicate chain name")
	}
	seen[ch.Name] = true

	if ch.ChainID == 0 {
		errs = append(errs, p+": chain_id must be > 0")
	}
	if len(ch.Endpoints) == 0 {
		errs = append(errs, p+": at least one endpoint is required")
	}
	if ch.DefaultGasPriceGwei < 0 {
		errs = append(errs, p+": default_gas_price_gwei must be >= 0")
	}
	if !validGasStrategies[ch.GasStrategy] {
		errs = append(errs, fmt.Sprintf("%s: unknown gas_strategy %q (valid: slow, medium, fast, instant)", p, ch.GasStrategy))
	}

	tokens := make(map[string]bool, len(ch.Tokens))
	for _, t := range ch.Tokens {
		if t.Symbol == "" {
			errs = append(errs, p+": token symbol must not be empty")
			continue
		}
		if tokens[t.Symbol] {
			errs = append(errs, p+": duplicate token "+t.Symbol)
		}
		tokens[t.Symbol] = true
		if !common.IsHexAddress(t.Address) {
			errs = append(errs, fmt.Sprintf("%s: token %s address %q is not a hex address", p, t.Symbol, t.Address))
		}
	}

	exchanges := make(map[string]bool, len(ch.Exchanges))
	for _, ex := range ch.Exchanges {
		if ex.ID == "" {
			errs = append(errs, p+": exchange id must not be empty")
			continue
		}
		if exchanges[ex.ID] {
			errs = append(errs, p+": duplicate exchange "+ex.ID)
		}
		exchanges[ex.ID] = true
		if !validExchangeKinds[ex.Kind] {
			errs = append(errs, fmt.Sprintf("%s: exchange %s has unknown kind %q (valid: uniswap_v2, uniswap_v3)", p, ex.ID, ex.Kind))
		}
		switch ex.Kind {
		case "uniswap_v2":
			if !common.IsHexAddress(ex.Router) {
				errs = append(errs, fmt.Sprintf("%s: exchange %s router must be a hex address", p, ex.ID))
			}
		case "uniswap_v3":
			if !common.IsHexAddress(ex.Quoter) {
				errs = append(errs, fmt.Sprintf("%s: exchange %s quoter must be a hex address", p, ex.ID))
			}
			if ex.FeeTier == 0 {
				errs = append(errs, fmt.Sprintf("%s: exchange %s fee_tier must be > 0", p, ex.ID))
			}
		}
	}

	for _, pr := range ch.Pairs {
		name := pr.Base + "/" + pr.Quote
		if !tokens[pr.Base] || !tokens[pr.Quote] {
			errs = append(errs, fmt.Sprintf("%s: pair %s references an unknown token", p, name))
		}
		if pr.Base == pr.Quote {
			errs = append(errs, fmt.Sprintf("%s: pair %s has identical tokens", p, name))
		}
		if pr.AmountIn <= 0 {
			errs = append(errs, fmt.Sprintf("%s: pair %s amount_in must be > 0", p, name))
		}
		if pr.NativePrice <= 0 {
			errs = append(errs, fmt.Sprintf("%s: pair %s native_price must be > 0", p, name))
		}
		for _, id := range pr.Exchanges {
			if !exchanges[id] {
				errs = append(errs, fmt.Sprintf("%s: pair %s references unknown exchange %s", p, name, id))
			}
		}
	}

	for _, tr := range ch.Triangles {
		if len(tr.Tokens) != 3 {
			errs = append(errs, fmt.Sprintf("%s: triangle %v must name exactly three tokens", p, tr.Tokens))
			continue
		}
		for _, sym := range tr.Tokens {
			if !tokens[sym] {
				errs = append(errs, fmt.Sprintf("%s: triangle %v references unknown token %s", p, tr.Tokens, sym))
			}
		}
		if tr.Tokens[0] == tr.Tokens[1] || tr.Tokens[1] == tr.Tokens[2] || tr.Tokens[0] == tr.Tokens[2] {
			errs = append(errs, fmt.Sprintf("%s: triangle %v must use three distinct tokens", p, tr.Tokens))
		}
		if tr.AmountIn <= 0 {
			errs = append(errs, fmt.Sprintf("%s: triangle %v amount_in must be > 0", p, tr.Tokens))
		}
		if tr.NativePrice <= 0 {
			errs = append(errs, fmt.Sprintf("%s: triangle %v native_price must be > 0", p, tr.Tokens))
		}
		for k := 0; k < 3; k++ {
			from, to := tr.Tokens[k], tr.Tokens[(k+1)%3]
			if !ch.hasPair(from, to) {
				errs = append(errs, fmt.Sprintf("%s: triangle %v leg %s->%s has no configured pair", p, tr.Tokens, from, to))
			}
		}
	}
	return errs
}

// hasPair reports whether a pair between a and b is configured in either
// orientation.
func (ch ChainConfig) hasPair(a, b string) bool {
	for _, pr := range ch.Pairs {
		if (pr.Base == a && pr.Quote == b) || (pr.Base == b && pr.Quote == a) {
			return true
		}
	}
	return false
}
