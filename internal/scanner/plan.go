// Package scanner runs the per-chain scan cycle: gas price, quote
// collection, detection and gating, plus the health-check and daily reset
// loops that surround it.
package scanner

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dexarb/internal/arbitrage"
	"github.com/alanyoungcy/dexarb/internal/chain"
	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Collection is one pair quoted every cycle.
type Collection struct {
	Pair      domain.TokenPair
	AmountIn  *big.Int
	Exchanges []string
	// NativePrice is the native coin priced in the pair's quote token.
	NativePrice float64
}

// Plan is the resolved scan configuration of one chain.
type Plan struct {
	Chain           string
	GasStrategy     chain.GasStrategy
	DefaultGasPrice *big.Int
	Collections     []Collection
	Triangles       []arbitrage.Triangle
}

// BuildPlan resolves token symbols and exchange lists of ch. It assumes ch
// passed config validation and fails only on references it cannot resolve.
func BuildPlan(ch config.ChainConfig) (Plan, error) {
	strategy, err := chain.ParseGasStrategy(ch.GasStrategy)
	if err != nil {
		return Plan{}, fmt.Errorf("scanner: plan %s: %w", ch.Name, err)
	}
	p := Plan{
		Chain:           ch.Name,
		GasStrategy:     strategy,
		DefaultGasPrice: chain.GweiToWei(ch.DefaultGasPriceGwei),
	}

	tok := func(symbol string) (domain.Token, error) {
		t, ok := ch.Token(symbol)
		if !ok {
			return domain.Token{}, fmt.Errorf("scanner: plan %s: unknown token %s", ch.Name, symbol)
		}
		return domain.Token{Symbol: t.Symbol, Address: common.HexToAddress(t.Address), Decimals: t.Decimals}, nil
	}

	all := ch.ExchangeIDs()
	for _, pc := range ch.Pairs {
		base, err := tok(pc.Base)
		if err != nil {
			return Plan{}, err
		}
		quote, err := tok(pc.Quote)
		if err != nil {
			return Plan{}, err
		}
		exchanges := pc.Exchanges
		if len(exchanges) == 0 {
			exchanges = all
		}
		p.Collections = append(p.Collections, Collection{
			Pair:        domain.TokenPair{Base: base, Quote: quote},
			AmountIn:    domain.FromFloat(pc.AmountIn, base.Decimals),
			Exchanges:   append([]string(nil), exchanges...),
			NativePrice: pc.NativePrice,
		})
	}

	for _, tc := range ch.Triangles {
		if len(tc.Tokens) != 3 {
			return Plan{}, fmt.Errorf("scanner: plan %s: triangle %v needs three tokens", ch.Name, tc.Tokens)
		}
		var tri arbitrage.Triangle
		for i, sym := range tc.Tokens {
			t, err := tok(sym)
			if err != nil {
				return Plan{}, err
			}
			tri.Tokens[i] = t
		}
		tri.AmountIn = tc.AmountIn
		tri.NativePrice = tc.NativePrice
		p.Triangles = append(p.Triangles, tri)
	}
	return p, nil
}

// NativePrices maps each collected pair key to its native price.
func (p Plan) NativePrices() map[string]float64 {
	out := make(map[string]float64, len(p.Collections))
	for _, c := range p.Collections {
		out[c.Pair.Key()] = c.NativePrice
	}
	return out
}
