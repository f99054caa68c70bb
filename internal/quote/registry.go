package quote

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Factory builds a Source for one configured exchange.
type Factory func(chainName string, ex config.ExchangeConfig, caller Caller, staleness time.Duration) (Source, error)

// factories maps an exchange kind to its constructor. New integrations are
// added here rather than by branching on exchange names.
var factories = map[string]Factory{
	"uniswap_v2": func(chainName string, ex config.ExchangeConfig, caller Caller, staleness time.Duration) (Source, error) {
		return NewUniswapV2(chainName, ex.ID, common.HexToAddress(ex.Router), caller, staleness), nil
	},
	"uniswap_v3": func(chainName string, ex config.ExchangeConfig, caller Caller, staleness time.Duration) (Source, error) {
		if ex.FeeTier == 0 {
			return nil, fmt.Errorf("quote: exchange %s: fee tier required", ex.ID)
		}
		return NewUniswapV3(chainName, ex.ID, common.HexToAddress(ex.Quoter), ex.FeeTier, caller, staleness), nil
	},
}

// Registry holds the sources of every chain, keyed by (chain, exchange id).
type Registry struct {
	mu      sync.RWMutex
	sources map[string]map[string]Source
}

// NewRegistry returns an empty registry. Call Register to add sources.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]map[string]Source)}
}

// Register adds a source for chainName under its exchange id, replacing any
// previous source with the same id.
func (r *Registry) Register(chainName string, s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.sources[chainName]
	if !ok {
		m = make(map[string]Source)
		r.sources[chainName] = m
	}
	m[s.Exchange()] = s
}

// Get returns the source for (chainName, exchange).
func (r *Registry) Get(chainName, exchange string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[chainName][exchange]
	if !ok {
		return nil, fmt.Errorf("quote: %s/%s: %w", chainName, exchange, domain.ErrUnknownExchange)
	}
	return s, nil
}

// Exchanges returns the registered exchange ids of chainName, sorted.
func (r *Registry) Exchanges(chainName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sources[chainName]))
	for id := range r.sources[chainName] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RegisterChain builds and registers a source for every exchange configured
// on ch.
func (r *Registry) RegisterChain(ch config.ChainConfig, caller Caller, staleness time.Duration) error {
	for _, ex := range ch.Exchanges {
		f, ok := factories[ex.Kind]
		if !ok {
			return fmt.Errorf("quote: exchange %s: unknown kind %q", ex.ID, ex.Kind)
		}
		s, err := f(ch.Name, ex, caller, staleness)
		if err != nil {
			return err
		}
		r.Register(ch.Name, s)
	}
	return nil
}
