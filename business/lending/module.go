// Package lending implements the lending bounded context: discovery of
// at-risk borrow positions across configured protocols, hybrid indexed and
// event-log sourcing, and liquidation planning.
package lending

import (
	"context"

	"github.com/shopspring/decimal"

	chainDI "github.com/jm31-art/ultraflashbot/business/chain/di"
	lendingapp "github.com/jm31-art/ultraflashbot/business/lending/app"
	lendingDI "github.com/jm31-art/ultraflashbot/business/lending/di"
	"github.com/jm31-art/ultraflashbot/business/lending/infra/chainlog"
	"github.com/jm31-art/ultraflashbot/business/lending/infra/indexed"
	"github.com/jm31-art/ultraflashbot/business/lending/infra/protocol"
	pricingapp "github.com/jm31-art/ultraflashbot/business/pricing/app"
	pricingDI "github.com/jm31-art/ultraflashbot/business/pricing/di"
	pricingdomain "github.com/jm31-art/ultraflashbot/business/pricing/domain"
	"github.com/jm31-art/ultraflashbot/internal/asset"
	"github.com/jm31-art/ultraflashbot/internal/config"
	"github.com/jm31-art/ultraflashbot/internal/di"
	"github.com/jm31-art/ultraflashbot/internal/logger"
	"github.com/jm31-art/ultraflashbot/internal/monolith"
)

// Module implements the lending bounded context.
type Module struct{}

// RegisterServices registers all lending services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register Discovery (public - the scanner feeds on it). Adapters and
	// sources are per-protocol internals, built here rather than exposed
	// as tokens.
	di.RegisterToken(c, lendingDI.Discovery, func(sr di.ServiceRegistry) *lendingapp.Discovery {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		reg := sr.Get("assetRegistry").(*asset.Registry)
		nodes := chainDI.GetManager(sr)

		pricer := &aggregatorPricer{
			agg:     pricingDI.GetAggregator(sr),
			chainID: cfg.Chain.ChainID,
			reg:     reg,
		}
		threshold := decimal.NewFromFloat(cfg.Lending.HealthThreshold)

		sets := make(map[string]lendingapp.ProtocolSet, len(cfg.Lending.Protocols))
		for _, pc := range cfg.Lending.Protocols {
			adapter, err := protocol.New(pc, nodes, pricer, log)
			if err != nil {
				panic("failed to create protocol adapter: " + err.Error())
			}

			var sources []lendingapp.PositionSource
			if pc.SubgraphURL != "" {
				src, err := indexed.NewSource(pc.Name, pc.SubgraphURL,
					cfg.Chain.ChainID, threshold, cfg.Lending.MaxPositions, reg, log)
				if err != nil {
					panic("failed to create indexed source: " + err.Error())
				}
				sources = append(sources, src)
			}
			if pc.PoolAddress != "" {
				src, err := chainlog.New(chainlog.Config{
					Protocol:      pc.Name,
					Pool:          pc.PoolAddressHex(),
					ChainID:       cfg.Chain.ChainID,
					WindowBlocks:  cfg.Lending.ScanWindowBlocks,
					MaxCandidates: cfg.Lending.MaxPositions,
				}, nodes, reg, log)
				if err != nil {
					panic("failed to create chainlog source: " + err.Error())
				}
				sources = append(sources, src)
			}
			if len(sources) == 0 {
				panic("lending protocol " + pc.Name + " has neither subgraph nor pool configured")
			}

			sets[pc.Name] = lendingapp.ProtocolSet{Adapter: adapter, Sources: sources}
		}

		disc, err := lendingapp.NewDiscovery(lendingapp.DiscoveryConfig{
			HealthThreshold:  threshold,
			Cooldown:         cfg.Lending.Cooldown,
			MinCollateralUSD: decimal.NewFromFloat(cfg.Lending.MinCollateralUSD),
			MaxPositions:     cfg.Lending.MaxPositions,
		}, sets, log)
		if err != nil {
			panic("failed to create position discovery: " + err.Error())
		}
		return disc
	})

	return nil
}

// Startup probes each event source for log push support. Probes that fail
// leave the source polling; nothing here blocks the engine.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()

	disc := lendingDI.GetDiscovery(mono.Services())
	disc.Start(ctx)

	log.Info(ctx, "lending module started", "protocols", len(disc.Protocols()))
	return nil
}

// aggregatorPricer adapts the price aggregator to the lending pricer port:
// one asset quoted against the chain's reference stable.
type aggregatorPricer struct {
	agg     *pricingapp.Aggregator
	chainID uint64
	reg     *asset.Registry
}

// Stables sized at par; the pricing gate polices depegs separately.
var parStables = map[string]bool{
	"USDC": true,
	"USDT": true,
	"DAI":  true,
	"BUSD": true,
}

func (p *aggregatorPricer) AssetUSD(ctx context.Context, a *asset.Asset) (decimal.Decimal, bool) {
	if a == nil {
		return decimal.Zero, false
	}
	if parStables[a.Symbol()] {
		return decimal.NewFromInt(1), true
	}

	stable := "USDC"
	if p.chainID == asset.ChainIDBSC {
		stable = "USDT"
	}
	quote, ok := p.reg.GetBySymbolAndChain(stable, p.chainID)
	if !ok {
		return decimal.Zero, false
	}

	q := p.agg.Quote(ctx, pricingdomain.NewPair(a, quote))
	if q == nil {
		return decimal.Zero, false
	}
	return q.Price, true
}
