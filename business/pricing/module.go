// Package pricing implements the pricing bounded context: multi-source
// quotes with caching, a sanity gate and a streaming cache warmer.
package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"

	chainDI "github.com/jm31-art/ultraflashbot/business/chain/di"
	pricingapp "github.com/jm31-art/ultraflashbot/business/pricing/app"
	pricingDI "github.com/jm31-art/ultraflashbot/business/pricing/di"
	"github.com/jm31-art/ultraflashbot/business/pricing/domain"
	binanceinfra "github.com/jm31-art/ultraflashbot/business/pricing/infra/binance"
	"github.com/jm31-art/ultraflashbot/business/pricing/infra/quoter"
	"github.com/jm31-art/ultraflashbot/business/pricing/infra/rest"
	"github.com/jm31-art/ultraflashbot/business/pricing/infra/stream"
	"github.com/jm31-art/ultraflashbot/internal/asset"
	"github.com/jm31-art/ultraflashbot/internal/config"
	"github.com/jm31-art/ultraflashbot/internal/di"
	"github.com/jm31-art/ultraflashbot/internal/logger"
	"github.com/jm31-art/ultraflashbot/internal/monolith"
)

// Module implements the pricing bounded context.
type Module struct{}

// RegisterServices registers all pricing services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register pool quoter source - private dependency, highest priority
	di.RegisterToken(c, pricingDI.PoolSource, func(sr di.ServiceRegistry) pricingapp.Source {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		nodes := chainDI.GetManager(sr)

		src, err := quoter.NewSource(cfg.Pricing.Uniswap, nodes, log)
		if err != nil {
			panic("failed to create pool quoter source: " + err.Error())
		}
		return src
	})

	// Register market data source - private dependency
	di.RegisterToken(c, pricingDI.MarketSource, func(sr di.ServiceRegistry) pricingapp.Source {
		log := sr.Get("logger").(logger.LoggerInterface)

		src, err := binanceinfra.NewSource(log)
		if err != nil {
			panic("failed to create market data source: " + err.Error())
		}
		return src
	})

	// Register REST ticker source - private dependency, last resort
	di.RegisterToken(c, pricingDI.TickerSource, func(sr di.ServiceRegistry) pricingapp.Source {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		src, err := rest.NewSource(cfg.Pricing.RestURL, log)
		if err != nil {
			panic("failed to create ticker source: " + err.Error())
		}
		return src
	})

	// Register Aggregator (public - every consumer prices through it)
	di.RegisterToken(c, pricingDI.Aggregator, func(sr di.ServiceRegistry) *pricingapp.Aggregator {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		aggCfg := pricingapp.AggregatorConfig{
			PriceTTL:      cfg.Pricing.PriceTTL,
			RouteTTL:      cfg.Pricing.RouteTTL,
			CacheCapacity: cfg.Pricing.CacheCapacity,
			SourceTimeout: cfg.Pricing.SourceTimeout,
		}
		gate := domain.NewGate(
			cfg.Pricing.PriceTTL,
			cfg.Pricing.MinLiquidityUSD,
			cfg.Pricing.MaxDeviationPct,
			cfg.Pricing.PeggedSymbols,
			cfg.Pricing.MaxPegDeviationPct,
		)
		sources := []pricingapp.Source{
			pricingDI.GetPoolSource(sr),
			pricingDI.GetMarketSource(sr),
			pricingDI.GetTickerSource(sr),
		}

		native, err := nativePair(cfg.Chain.ChainID)
		if err != nil {
			panic("failed to resolve native pair: " + err.Error())
		}

		agg, err := pricingapp.NewAggregator(aggCfg, gate, sources, native, log)
		if err != nil {
			panic("failed to create price aggregator: " + err.Error())
		}
		return agg
	})

	// Register stream warmer - private dependency
	di.RegisterToken(c, pricingDI.Warmer, func(sr di.ServiceRegistry) pricingapp.Warmer {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		agg := pricingDI.GetAggregator(sr)

		pairs, err := hotPairs(cfg.Scanner.Pairs, cfg.Chain.ChainID)
		if err != nil {
			panic("failed to resolve hot pairs: " + err.Error())
		}

		w, err := stream.NewWarmer(
			stream.DefaultWarmerConfig(cfg.Pricing.Binance.WebSocketURL),
			pairs, agg, log,
		)
		if err != nil {
			panic("failed to create stream warmer: " + err.Error())
		}
		return w
	})

	return nil
}

// Startup connects the stream warmer. A dead stream never blocks startup;
// quotes fall back to the source chain until it comes up.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()

	w := pricingDI.GetWarmer(mono.Services())

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := w.Connect(connectCtx); err != nil {
		log.Warn(ctx, "price stream connect failed, will retry in background", "error", err)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
					if err := w.Connect(ctx); err != nil {
						log.Warn(ctx, "price stream retry failed", "error", err)
					} else {
						log.Info(ctx, "price stream connected")
						return
					}
				}
			}
		}()
	}

	log.Info(ctx, "pricing module started")
	return nil
}

// nativePair is the gas asset priced in a USD stable, used for cost
// conversion. Wrapped form on the pool side; the market sources map it back.
func nativePair(chainID uint64) (domain.Pair, error) {
	reg := asset.DefaultRegistry()

	wrapped := "WETH"
	stable := "USDC"
	if chainID == asset.ChainIDBSC {
		wrapped = "WBNB"
		stable = "USDT"
	}

	base, ok := reg.GetBySymbolAndChain(wrapped, chainID)
	if !ok {
		return domain.Pair{}, fmt.Errorf("no %s registered for chain %d", wrapped, chainID)
	}
	quote, ok := reg.GetBySymbolAndChain(stable, chainID)
	if !ok {
		return domain.Pair{}, fmt.Errorf("no %s registered for chain %d", stable, chainID)
	}

	return domain.NewPair(base, quote), nil
}

// hotPairs resolves BASE-QUOTE symbol strings to pairs keyed by their
// exchange symbol for the stream warmer.
func hotPairs(specs []string, chainID uint64) (map[string]domain.Pair, error) {
	reg := asset.DefaultRegistry()
	pairs := make(map[string]domain.Pair, len(specs))

	for _, spec := range specs {
		parts := strings.SplitN(spec, "-", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed pair %q, want BASE-QUOTE", spec)
		}
		base, ok := reg.GetBySymbolAndChain(parts[0], chainID)
		if !ok {
			return nil, fmt.Errorf("unknown asset %s on chain %d", parts[0], chainID)
		}
		quote, ok := reg.GetBySymbolAndChain(parts[1], chainID)
		if !ok {
			return nil, fmt.Errorf("unknown asset %s on chain %d", parts[1], chainID)
		}
		pair := domain.NewPair(base, quote)
		pairs[binanceinfra.SymbolFor(pair)] = pair
	}

	return pairs, nil
}
