package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/rpcpool"
)

type fakeBackend struct {
	mu      sync.Mutex
	chainID uint64
	err     error
	hang    bool
	calls   int
	gas     *big.Int
}

func (f *fakeBackend) wait(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	hang, err := f.hang, f.err
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(f.chainID), nil
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	return 1234, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.gas, nil
}

func (f *fakeBackend) BalanceAt(ctx context.Context, _ common.Address, _ *big.Int) (*big.Int, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return big.NewInt(42), nil
}

func (f *fakeBackend) CallContract(ctx context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return []byte{1}, nil
}

func (f *fakeBackend) Close() {}

type revertErr struct{}

func (revertErr) Error() string  { return "execution reverted" }
func (revertErr) ErrorCode() int { return 3 }

func setup(t *testing.T, backends map[string]*fakeBackend, urls ...string) (*Client, *rpcpool.Pool) {
	t.Helper()
	pool := rpcpool.New(rpcpool.Config{}, map[string][]string{"eth": urls})
	dial := func(_ context.Context, url string) (Backend, error) {
		b, ok := backends[url]
		if !ok {
			return nil, errors.New("no such backend")
		}
		return b, nil
	}
	c := NewClient(Config{Chain: "eth", ChainID: 1, NativeSymbol: "ETH", CallTimeout: 50 * time.Millisecond, MaxRetries: 2}, pool, dial)
	return c, pool
}

func endpointState(t *testing.T, pool *rpcpool.Pool, id string) domain.Endpoint {
	t.Helper()
	eps, err := pool.Snapshot("eth")
	require.NoError(t, err)
	for _, ep := range eps {
		if ep.ID == id {
			return ep
		}
	}
	t.Fatalf("no endpoint %s", id)
	return domain.Endpoint{}
}

func TestClient_BlockNumberEstablishesSession(t *testing.T) {
	c, pool := setup(t, map[string]*fakeBackend{"a": {chainID: 1}}, "a")

	n, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), n)

	sess, ok := c.Session()
	require.True(t, ok)
	assert.Equal(t, "eth-0", sess.EndpointID)
	assert.Equal(t, uint64(1), sess.ChainID)
	assert.Equal(t, "ETH", sess.NativeSymbol)

	id, err := c.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, int64(1), endpointState(t, pool, "eth-0").Samples)
}

func TestClient_FailsOverAndReports(t *testing.T) {
	bad := &fakeBackend{chainID: 1, err: errors.New("connection refused")}
	good := &fakeBackend{chainID: 1}
	c, pool := setup(t, map[string]*fakeBackend{"a": bad, "b": good}, "a", "b")

	bal, err := c.Balance(context.Background(), common.Address{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), bal.Int64())

	assert.Equal(t, 1, endpointState(t, pool, "eth-0").ConsecutiveFailures)
	sess, _ := c.Session()
	assert.Equal(t, "eth-1", sess.EndpointID, "session rebuilt on the new endpoint")
}

func TestClient_RetryCeiling(t *testing.T) {
	backends := map[string]*fakeBackend{
		"a": {chainID: 1, hang: true},
		"b": {chainID: 1, hang: true},
		"c": {chainID: 1, hang: true},
		"d": {chainID: 1},
	}
	c, _ := setup(t, backends, "a", "b", "c", "d")

	start := time.Now()
	_, err := c.BlockNumber(context.Background())
	assert.ErrorIs(t, err, domain.ErrChainUnavailable)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, backends["d"].calls, "three attempts only: one call plus two retries")
}

func TestClient_AllEndpointsUnreachable(t *testing.T) {
	c, pool := setup(t, map[string]*fakeBackend{"a": {chainID: 1}}, "a")
	require.NoError(t, pool.Failover("eth", "eth-0", "down"))

	_, err := c.GasPrice(context.Background(), GasMedium)
	assert.ErrorIs(t, err, domain.ErrEndpointUnreachable)
}

func TestClient_ChainIDMismatchFailsOver(t *testing.T) {
	wrong := &fakeBackend{chainID: 137}
	right := &fakeBackend{chainID: 1}
	c, pool := setup(t, map[string]*fakeBackend{"a": wrong, "b": right}, "a", "b")

	_, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.EndpointUnreachable, endpointState(t, pool, "eth-0").State)
	sess, _ := c.Session()
	assert.Equal(t, "eth-1", sess.EndpointID)
}

func TestClient_RevertIsNotAnEndpointFailure(t *testing.T) {
	b := &fakeBackend{chainID: 1}
	c, pool := setup(t, map[string]*fakeBackend{"a": b, "b": {chainID: 1}}, "a", "b")
	_, err := c.BlockNumber(context.Background())
	require.NoError(t, err)

	b.mu.Lock()
	b.err = revertErr{}
	b.mu.Unlock()

	_, err = c.Call(context.Background(), ethereum.CallMsg{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutionReverted)
	assert.Zero(t, endpointState(t, pool, "eth-0").ConsecutiveFailures)
}

func TestClient_CallerCancellation(t *testing.T) {
	c, pool := setup(t, map[string]*fakeBackend{"a": {chainID: 1, hang: true}}, "a")
	c.cfg.CallTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := c.BlockNumber(ctx)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, endpointState(t, pool, "eth-0").ConsecutiveFailures, "a cancelled caller is not the endpoint's fault")
}

func TestClient_CallerDeadlineCountsAgainstEndpoint(t *testing.T) {
	c, pool := setup(t, map[string]*fakeBackend{
		"a": {chainID: 1, hang: true},
		"b": {chainID: 1, gas: big.NewInt(7)},
	}, "a", "b")
	c.cfg.CallTimeout = 3 * time.Second

	gas := func() (*big.Int, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		return c.GasPrice(ctx, GasMedium)
	}

	_, err := gas()
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, 1, endpointState(t, pool, "eth-0").ConsecutiveFailures)

	for range 2 {
		_, err = gas()
		assert.ErrorIs(t, err, domain.ErrTimeout)
	}
	assert.Equal(t, domain.EndpointDegraded, endpointState(t, pool, "eth-0").State)

	p, err := gas()
	require.NoError(t, err, "the healthy endpoint takes over")
	assert.Equal(t, int64(7), p.Int64())
	assert.Equal(t, domain.EndpointHealthy, endpointState(t, pool, "eth-1").State)
}

func TestClient_GasStrategy(t *testing.T) {
	c, _ := setup(t, map[string]*fakeBackend{"a": {chainID: 1, gas: big.NewInt(100)}}, "a")

	for strategy, want := range map[GasStrategy]int64{GasSlow: 80, GasMedium: 100, GasFast: 120, GasInstant: 150} {
		p, err := c.GasPrice(context.Background(), strategy)
		require.NoError(t, err)
		assert.Equal(t, want, p.Int64(), string(strategy))
	}
}

func TestGweiConversions(t *testing.T) {
	assert.Equal(t, int64(30_000_000_000), GweiToWei(30).Int64())
	assert.InDelta(t, 1.5, WeiToGwei(big.NewInt(1_500_000_000)), 1e-9)

	_, err := ParseGasStrategy("ludicrous")
	assert.Error(t, err)
	s, err := ParseGasStrategy("")
	require.NoError(t, err)
	assert.Equal(t, GasMedium, s)
}
