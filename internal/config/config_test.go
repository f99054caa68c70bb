package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "scan"

[scan]
cycle_deadline = "1500ms"

[risk]
failure_threshold = 4

[[chains]]
name = "polygon"
chain_id = 137
native_symbol = "MATIC"
default_gas_price_gwei = 40
endpoints = ["https://polygon-rpc.com", "https://rpc.ankr.com/polygon/secret"]

  [[chains.tokens]]
  symbol = "WETH"
  address = "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"
  decimals = 18

  [[chains.tokens]]
  symbol = "USDC"
  address = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
  decimals = 6

  [[chains.exchanges]]
  id = "quickswap"
  kind = "uniswap_v2"
  router = "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff"

  [[chains.exchanges]]
  id = "uniswap_v3"
  kind = "uniswap_v3"
  quoter = "0x61fFE014bA17989E743c5F6cB21bF9697530B21e"
  fee_tier = 500

  [[chains.pairs]]
  base = "WETH"
  quote = "USDC"
  amount_in = 1
  native_price = 0.7
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestLoad_MergesDefaults(t *testing.T) {
	cfg := validConfig(t)

	assert.Equal(t, 1500*time.Millisecond, cfg.Scan.CycleDeadline.Duration)
	assert.Equal(t, 5*time.Second, cfg.Scan.CycleInterval.Duration, "default kept")
	assert.Equal(t, 4, cfg.Risk.FailureThreshold)
	assert.Equal(t, 2, cfg.RPC.MaxRetries)
	require.Len(t, cfg.Chains, 1)

	ch, ok := cfg.Chain("polygon")
	require.True(t, ok)
	assert.Equal(t, uint64(137), ch.ChainID)
	assert.Equal(t, []string{"quickswap", "uniswap_v3"}, ch.ExchangeIDs())

	tok, ok := ch.Token("USDC")
	require.True(t, ok)
	assert.Equal(t, uint8(6), tok.Decimals)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DEXARB_RISK_MAX_TRADE_SIZE", "250")
	t.Setenv("DEXARB_CHAIN_POLYGON_ENDPOINTS", "https://a.example, https://b.example")
	t.Setenv("DEXARB_SCAN_CYCLE_INTERVAL", "10s")

	cfg := validConfig(t)
	assert.Equal(t, 250.0, cfg.Risk.MaxTradeSize)
	assert.Equal(t, 10*time.Second, cfg.Scan.CycleInterval.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Chains[0].Endpoints)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := validConfig(t)
	cfg.Mode = "trade"
	cfg.RPC.LatencyAlpha = 0
	cfg.Chains[0].Exchanges[1].FeeTier = 0
	cfg.Chains[0].Pairs[0].Quote = "DAI"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "config validation failed")
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, "latency_alpha")
	assert.Contains(t, msg, "fee_tier")
	assert.Contains(t, msg, "unknown token")
}

func TestValidate_CallTimeoutBelowCycleDeadline(t *testing.T) {
	cfg := validConfig(t)
	assert.Equal(t, time.Second, cfg.RPC.CallTimeout.Duration, "default fits inside the deadline")

	cfg.RPC.CallTimeout = Duration(3 * time.Second)
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call_timeout (3s) must be shorter than scan.cycle_deadline (1.5s)")

	cfg.RPC.CallTimeout = Duration(1500 * time.Millisecond)
	assert.Error(t, cfg.Validate(), "equal to the deadline is rejected too")

	cfg.RPC.CallTimeout = Duration(time.Second)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_TriangleNeedsPairs(t *testing.T) {
	cfg := validConfig(t)
	cfg.Chains[0].Tokens = append(cfg.Chains[0].Tokens, TokenConfig{
		Symbol: "WMATIC", Address: "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270", Decimals: 18,
	})
	cfg.Chains[0].Triangles = []TriangleConfig{{Tokens: []string{"WETH", "USDC", "WMATIC"}, AmountIn: 1, NativePrice: 0.0003}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leg USDC->WMATIC has no configured pair")

	cfg.Chains[0].Pairs = append(cfg.Chains[0].Pairs,
		PairConfig{Base: "WMATIC", Quote: "USDC", AmountIn: 100, NativePrice: 0.7},
		PairConfig{Base: "WETH", Quote: "WMATIC", AmountIn: 1, NativePrice: 1},
	)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_SlippageBufferRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	base := validConfig(t)

	properties.Property("slippage buffer outside [0,100) fails", prop.ForAll(
		func(v float64) bool {
			cfg := *base
			cfg.Detector.SlippageBufferPct = v
			return cfg.Validate() != nil
		},
		gen.OneGenOf(gen.Float64Range(-1000, -0.0001), gen.Float64Range(100, 1000)),
	))

	properties.Property("slippage buffer inside [0,100) passes", prop.ForAll(
		func(v float64) bool {
			cfg := *base
			cfg.Detector.SlippageBufferPct = v
			return cfg.Validate() == nil
		},
		gen.Float64Range(0, 99.999),
	))

	properties.TestingRun(t)
}

func TestParseDailyReset(t *testing.T) {
	d, err := ParseDailyReset("13:45")
	require.NoError(t, err)
	assert.Equal(t, 13*time.Hour+45*time.Minute, d)

	_, err = ParseDailyReset("25:00")
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig(t)
	cfg.Server.APIKey = "hunter2"
	cfg.Postgres.Password = "pw"

	out := RedactedConfig(cfg)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, "https://polygon-rpc.com", out.Chains[0].Endpoints[0])
	assert.Equal(t, "https://rpc.ankr.com/***", out.Chains[0].Endpoints[1])

	// the original is untouched
	assert.Equal(t, "hunter2", cfg.Server.APIKey)
	assert.Equal(t, "https://rpc.ankr.com/polygon/secret", cfg.Chains[0].Endpoints[1])
}
