// Package opportunity implements the opportunity bounded context: the
// periodic scan loop that detects cross-venue arbitrage and lending
// liquidations, costs them, and hands profitable survivors to execution.
package opportunity

import (
	"context"

	"github.com/shopspring/decimal"

	chainDI "github.com/jm31-art/ultraflashbot/business/chain/di"
	lendingDI "github.com/jm31-art/ultraflashbot/business/lending/di"
	oppapp "github.com/jm31-art/ultraflashbot/business/opportunity/app"
	oppDI "github.com/jm31-art/ultraflashbot/business/opportunity/di"
	pricingDI "github.com/jm31-art/ultraflashbot/business/pricing/di"
	"github.com/jm31-art/ultraflashbot/internal/asset"
	"github.com/jm31-art/ultraflashbot/internal/config"
	"github.com/jm31-art/ultraflashbot/internal/di"
	"github.com/jm31-art/ultraflashbot/internal/journal"
	"github.com/jm31-art/ultraflashbot/internal/logger"
	"github.com/jm31-art/ultraflashbot/internal/monolith"
	"github.com/jm31-art/ultraflashbot/internal/notify"
	"github.com/jm31-art/ultraflashbot/internal/safety"
)

// Module implements the opportunity bounded context.
type Module struct{}

// RegisterServices registers all opportunity services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, oppDI.Scanner, func(sr di.ServiceRegistry) *oppapp.Scanner {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		reg := sr.Get("assetRegistry").(*asset.Registry)
		jnl := sr.Get("journal").(*journal.Journal)

		agg := pricingDI.GetAggregator(sr)
		cost := oppapp.NewCostModel(cfg.Cost, chainDI.GetGasOracle(sr), agg, log)

		scanner, err := oppapp.NewScanner(oppapp.ScannerConfig{
			Pairs:            cfg.Scanner.Pairs,
			MaxConcurrent:    cfg.Scanner.MaxConcurrent,
			MinNetProfitUSD:  cfg.Scanner.MinNetProfitUSDDecimal(),
			MaxNotionalUSD:   cfg.Execution.MaxNotionalUSDDecimal(),
			FlashloanMinUSD:  decimal.NewFromFloat(cfg.Execution.Flashloan.MinSizeUSD),
			FlashloanEnabled: cfg.Execution.Flashloan.Enabled,
			Router:           cfg.Pricing.Uniswap.RouterAddressHex(),
			ChainID:          cfg.Chain.ChainID,
		}, reg, agg, cost, lendingDI.GetDiscovery(sr), jnl, log)
		if err != nil {
			panic("failed to create opportunity scanner: " + err.Error())
		}
		return scanner
	})

	di.RegisterToken(c, oppDI.Engine, func(sr di.ServiceRegistry) *oppapp.Engine {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		stop := sr.Get("emergencyStop").(*safety.Switch)
		notifier := sr.Get("notifier").(notify.Notifier)
		jnl := sr.Get("journal").(*journal.Journal)

		return oppapp.NewEngine(oppapp.EngineConfig{
			Interval:        cfg.Scanner.Interval,
			SummarySchedule: cfg.Scanner.SummarySchedule,
		}, oppDI.GetScanner(sr), oppDI.GetDispatcher(sr), stop, notifier, jnl, log)
	})

	return nil
}

// Startup launches the scan loop. The dispatcher token resolved here is
// registered by the execution module, so this module must start after it.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	cfg := mono.Config()

	engine := oppDI.GetEngine(mono.Services())
	engine.Start(ctx)

	log.Info(ctx, "opportunity module started",
		"pairs", len(cfg.Scanner.Pairs), "interval", cfg.Scanner.Interval.String())
	return nil
}
