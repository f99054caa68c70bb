// Package chain provides one logical client per blockchain, built over the
// endpoint pool, with per-call timeouts and bounded failover retries.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/rpcpool"
)

// ErrExecutionReverted is returned when a node answered a contract call with
// a revert. The endpoint is healthy; the call itself failed.
var ErrExecutionReverted = errors.New("execution reverted")

// EndpointPool is the part of the endpoint pool the client uses.
type EndpointPool interface {
	Select(chain string, exclude ...string) (domain.Endpoint, error)
	Report(chain, id string, out domain.CallOutcome) error
	Failover(chain, id, reason string) error
}

// Config configures a Client.
type Config struct {
	Chain        string
	ChainID      uint64
	NativeSymbol string
	CallTimeout  time.Duration
	MaxRetries   int
	Logger       *slog.Logger
}

// Client is the handle for one chain.
type Client struct {
	cfg    Config
	pool   EndpointPool
	dial   Dialer
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	backends map[string]Backend
	verified map[string]uint64 // endpoint id -> verified chain id
	session  *domain.ChainSession
}

// NewClient creates a Client for cfg.Chain. dial defaults to DialEth.
func NewClient(cfg Config, pool EndpointPool, dial Dialer) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if dial == nil {
		dial = DialEth
	}
	return &Client{
		cfg:      cfg,
		pool:     pool,
		dial:     dial,
		now:      time.Now,
		logger:   cfg.Logger.With(slog.String("component", "chain"), slog.String("chain", cfg.Chain)),
		backends: make(map[string]Backend),
		verified: make(map[string]uint64),
	}
}

// Name returns the chain name.
func (c *Client) Name() string { return c.cfg.Chain }

// Session returns the current chain session, if one was established.
func (c *Client) Session() (domain.ChainSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return domain.ChainSession{}, false
	}
	return *c.session, true
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.do(ctx, "block_number", func(ctx context.Context, b Backend) error {
		var err error
		n, err = b.BlockNumber(ctx)
		return err
	})
	return n, err
}

// ChainID returns the node-reported chain id, served from the session when
// one exists.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	if s, ok := c.Session(); ok {
		return s.ChainID, nil
	}
	var id uint64
	err := c.do(ctx, "chain_id", func(ctx context.Context, b Backend) error {
		v, err := b.ChainID(ctx)
		if err != nil {
			return err
		}
		id = v.Uint64()
		return nil
	})
	return id, err
}

// GasPrice returns the suggested gas price in wei scaled by strategy.
func (c *Client) GasPrice(ctx context.Context, strategy GasStrategy) (*big.Int, error) {
	var price *big.Int
	err := c.do(ctx, "gas_price", func(ctx context.Context, b Backend) error {
		var err error
		price, err = b.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return strategy.Apply(price), nil
}

// Balance returns the native balance of account at the latest block.
func (c *Client) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	var bal *big.Int
	err := c.do(ctx, "balance", func(ctx context.Context, b Backend) error {
		var err error
		bal, err = b.BalanceAt(ctx, account, nil)
		return err
	})
	return bal, err
}

// Call executes a read-only contract call at the latest block.
func (c *Client) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var out []byte
	err := c.do(ctx, "call", func(ctx context.Context, b Backend) error {
		var err error
		out, err = b.CallContract(ctx, msg, nil)
		return err
	})
	return out, err
}

// Pinger returns the check used by the endpoint pool health check. It bypasses
// selection so every endpoint is pinged directly.
func (c *Client) Pinger() rpcpool.Pinger {
	return rpcpool.PingerFunc(func(ctx context.Context, ep domain.Endpoint) error {
		b, err := c.backend(ctx, ep)
		if err != nil {
			return err
		}
		_, err = b.BlockNumber(ctx)
		return err
	})
}

// do runs fn against the selected endpoint, failing over to a different
// endpoint up to MaxRetries times. Every attempt's outcome is reported to the
// pool.
func (c *Client) do(ctx context.Context, op string, fn func(context.Context, Backend) error) error {
	var (
		tried   []string
		lastErr error
	)
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("chain: %s %s: %w: %w", c.cfg.Chain, op, domain.ErrTimeout, err)
		}
		ep, err := c.pool.Select(c.cfg.Chain, tried...)
		if err != nil {
			if !errors.Is(err, domain.ErrNoEndpointAvailable) {
				return err
			}
			if attempt == 0 {
				return fmt.Errorf("chain: %s %s: %w", c.cfg.Chain, op, domain.ErrEndpointUnreachable)
			}
			break
		}
		tried = append(tried, ep.ID)

		err = c.attempt(ctx, ep, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("chain: %s %s: %w: %w", c.cfg.Chain, op, domain.ErrTimeout, ctx.Err())
		}
		if errors.Is(err, ErrExecutionReverted) {
			return fmt.Errorf("chain: %s %s: %w", c.cfg.Chain, op, err)
		}
		c.logger.DebugContext(ctx, "call failed, failing over",
			slog.String("op", op),
			slog.String("endpoint", ep.ID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
		lastErr = err
	}
	return fmt.Errorf("chain: %s %s: %w: %w", c.cfg.Chain, op, domain.ErrChainUnavailable, lastErr)
}

// attempt performs one call bounded by CallTimeout or the caller's deadline,
// whichever is sooner, and reports its outcome. Only a cancelled caller goes
// unreported; running out of time counts against the endpoint.
func (c *Client) attempt(ctx context.Context, ep domain.Endpoint, fn func(context.Context, Backend) error) error {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	start := c.now()
	b, err := c.backend(cctx, ep)
	if err == nil {
		err = c.ensureSession(cctx, ep, b)
	}
	if errors.Is(err, domain.ErrChainIDMismatch) {
		return err
	}
	if err == nil {
		err = fn(cctx, b)
	}
	latency := c.now().Sub(start)

	var rpcErr rpc.Error
	switch {
	case err == nil:
		c.report(ep, domain.CallOutcome{Success: true, Latency: latency})
		return nil
	case errors.Is(ctx.Err(), context.Canceled):
		return err
	case errors.As(err, &rpcErr) && isRevert(rpcErr):
		c.report(ep, domain.CallOutcome{Success: true, Latency: latency})
		return fmt.Errorf("%w: %w", ErrExecutionReverted, err)
	default:
		c.report(ep, domain.CallOutcome{Latency: latency, Err: err})
		c.forget(ep.ID)
		return err
	}
}

// isRevert reports whether a JSON-RPC error is a contract-level failure
// rather than a node problem such as rate limiting.
func isRevert(err rpc.Error) bool {
	return err.ErrorCode() == 3 || strings.Contains(strings.ToLower(err.Error()), "revert")
}

func (c *Client) report(ep domain.Endpoint, out domain.CallOutcome) {
	if err := c.pool.Report(c.cfg.Chain, ep.ID, out); err != nil {
		c.logger.Warn("report outcome failed", slog.String("endpoint", ep.ID), slog.String("error", err.Error()))
	}
}

// backend returns the cached Backend for ep, dialing on first use.
func (c *Client) backend(ctx context.Context, ep domain.Endpoint) (Backend, error) {
	c.mu.Lock()
	b, ok := c.backends[ep.ID]
	c.mu.Unlock()
	if ok {
		return b, nil
	}

	nb, err := c.dial(ctx, ep.URL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.backends[ep.ID]; ok {
		nb.Close()
		return b, nil
	}
	c.backends[ep.ID] = nb
	return nb, nil
}

// ensureSession rebuilds the chain session when the selected endpoint
// changed, verifying the node serves the configured network.
func (c *Client) ensureSession(ctx context.Context, ep domain.Endpoint, b Backend) error {
	c.mu.Lock()
	current := c.session != nil && c.session.EndpointID == ep.ID
	chainID, verified := c.verified[ep.ID]
	c.mu.Unlock()
	if current {
		return nil
	}

	if !verified {
		id, err := b.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("chain id: %w", err)
		}
		chainID = id.Uint64()
		if c.cfg.ChainID != 0 && chainID != c.cfg.ChainID {
			reason := fmt.Sprintf("chain id %d, want %d", chainID, c.cfg.ChainID)
			c.logger.WarnContext(ctx, "endpoint serves a different network",
				slog.String("endpoint", ep.ID),
				slog.Uint64("got", chainID),
				slog.Uint64("want", c.cfg.ChainID),
			)
			_ = c.pool.Failover(c.cfg.Chain, ep.ID, reason)
			c.forget(ep.ID)
			return fmt.Errorf("%s: %w", reason, domain.ErrChainIDMismatch)
		}
	}

	c.mu.Lock()
	c.verified[ep.ID] = chainID
	c.session = &domain.ChainSession{
		Chain:         c.cfg.Chain,
		EndpointID:    ep.ID,
		ChainID:       chainID,
		NativeSymbol:  c.cfg.NativeSymbol,
		EstablishedAt: c.now(),
	}
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "chain session established",
		slog.String("endpoint", ep.ID),
		slog.Uint64("chain_id", chainID),
	)
	return nil
}

// forget drops the verification of an endpoint so the next session built on
// it checks the chain id again.
func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.verified, id)
	if c.session != nil && c.session.EndpointID == id {
		c.session = nil
	}
	c.mu.Unlock()
}

// Close closes every dialed backend.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, b := range c.backends {
		b.Close()
		delete(c.backends, id)
	}
}
