// Package execution implements the execution bounded context: pre-flight
// guards and profit revalidation, settlement contract transaction signing,
// relay failover submission, and confirmation tracking with realized
// profit and loss.
package execution

import (
	"context"

	"github.com/shopspring/decimal"

	chainDI "github.com/jm31-art/ultraflashbot/business/chain/di"
	execapp "github.com/jm31-art/ultraflashbot/business/execution/app"
	execDI "github.com/jm31-art/ultraflashbot/business/execution/di"
	"github.com/jm31-art/ultraflashbot/business/execution/infra/contract"
	"github.com/jm31-art/ultraflashbot/business/execution/infra/relay"
	oppapp "github.com/jm31-art/ultraflashbot/business/opportunity/app"
	oppDI "github.com/jm31-art/ultraflashbot/business/opportunity/di"
	oppdomain "github.com/jm31-art/ultraflashbot/business/opportunity/domain"
	pricingapp "github.com/jm31-art/ultraflashbot/business/pricing/app"
	pricingDI "github.com/jm31-art/ultraflashbot/business/pricing/di"
	pricingdomain "github.com/jm31-art/ultraflashbot/business/pricing/domain"
	"github.com/jm31-art/ultraflashbot/internal/asset"
	"github.com/jm31-art/ultraflashbot/internal/config"
	"github.com/jm31-art/ultraflashbot/internal/di"
	"github.com/jm31-art/ultraflashbot/internal/journal"
	"github.com/jm31-art/ultraflashbot/internal/logger"
	"github.com/jm31-art/ultraflashbot/internal/monolith"
	"github.com/jm31-art/ultraflashbot/internal/notify"
	"github.com/jm31-art/ultraflashbot/internal/retry"
	"github.com/jm31-art/ultraflashbot/internal/safety"
)

// Module-private tokens: the executor and relay manager are shared by the
// coordinator and tracker factories but are not part of the context's
// public surface. Both resolve to nil in scan-only mode.
var (
	executorToken = di.NewToken[*contract.Executor]("execution.contractExecutor")
	relayToken    = di.NewToken[*relay.Manager]("execution.relayManager")
)

// Module implements the execution bounded context.
type Module struct{}

// RegisterServices registers all execution services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, executorToken, func(sr di.ServiceRegistry) *contract.Executor {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		if !cfg.Execution.Enabled {
			return nil
		}

		node, err := chainDI.GetManager(sr).ExecutionClient()
		if err != nil {
			panic("execution client unavailable: " + err.Error())
		}
		executor, err := contract.New(cfg.Execution, cfg.Chain.ChainID, node,
			chainDI.GetGasOracle(sr), log)
		if err != nil {
			panic("failed to create contract executor: " + err.Error())
		}
		return executor
	})

	di.RegisterToken(c, relayToken, func(sr di.ServiceRegistry) *relay.Manager {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		if !cfg.Execution.Enabled {
			return nil
		}

		relays, err := relay.New(context.Background(), cfg.Execution.Relays,
			cfg.Execution.SubmissionTimeout, log)
		if err != nil {
			panic("failed to create relay manager: " + err.Error())
		}
		return relays
	})

	// Register Tracker (public - main drains it on shutdown)
	di.RegisterToken(c, execDI.Tracker, func(sr di.ServiceRegistry) *execapp.Tracker {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		reg := sr.Get("assetRegistry").(*asset.Registry)
		jnl := sr.Get("journal").(*journal.Journal)
		stop := sr.Get("emergencyStop").(*safety.Switch)
		notifier := sr.Get("notifier").(notify.Notifier)

		node, err := chainDI.GetManager(sr).ReadClient()
		if err != nil {
			panic("read client unavailable: " + err.Error())
		}

		var resyncer execapp.NonceResyncer
		if ex := di.GetToken(sr, executorToken); ex != nil {
			resyncer = ex
		}

		tracker, err := execapp.NewTracker(execapp.TrackerConfig{
			MinConfirmations: cfg.Settlement.MinConfirmations,
			PollInterval:     cfg.Settlement.PollInterval,
			MaxResubmits:     cfg.Settlement.MaxResubmits,
			Backoff: retry.Policy{
				Initial:    cfg.Settlement.InitialBackoff,
				Max:        cfg.Settlement.MaxBackoff,
				Multiplier: 2.0,
				Jitter:     0.1,
			},
			Timeout:  cfg.Settlement.Timeout,
			ChainID:  cfg.Chain.ChainID,
			Contract: cfg.Execution.ContractAddressHex(),
		}, node, chainDI.GetHeadFeed(sr), newFreshPricer(sr), reg, resyncer,
			safety.NewFailurePolicy(stop, cfg.Safety.MaxConsecutiveFailures),
			jnl, notifier, log)
		if err != nil {
			panic("failed to create settlement tracker: " + err.Error())
		}
		return tracker
	})

	// Register Coordinator (public - the scan engine dispatches into it)
	di.RegisterToken(c, execDI.Coordinator, func(sr di.ServiceRegistry) *execapp.Coordinator {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		reg := sr.Get("assetRegistry").(*asset.Registry)
		jnl := sr.Get("journal").(*journal.Journal)
		stop := sr.Get("emergencyStop").(*safety.Switch)
		notifier := sr.Get("notifier").(notify.Notifier)

		// Scan-only mode runs without a signer or relays; the coordinator
		// journals instead of submitting.
		var builder execapp.TxBuilder
		var submitter execapp.TxSubmitter
		if ex := di.GetToken(sr, executorToken); ex != nil {
			builder = ex
		}
		if relays := di.GetToken(sr, relayToken); relays != nil {
			submitter = relays
		}

		coord, err := execapp.NewCoordinator(execapp.CoordinatorConfig{
			Enabled:          cfg.Execution.Enabled,
			MaxConcurrent:    cfg.Execution.MaxConcurrent,
			MaxNotionalUSD:   cfg.Execution.MaxNotionalUSDDecimal(),
			ProfitDriftPct:   cfg.Execution.ProfitDriftPct,
			FlashloanEnabled: cfg.Execution.Flashloan.Enabled,
			FlashloanMinUSD:  decimal.NewFromFloat(cfg.Execution.Flashloan.MinSizeUSD),
			SimulateFirst:    cfg.Execution.SimulateFirst,
			GasUnits:         cfg.Cost.GasUnits,
			ChainID:          cfg.Chain.ChainID,
		}, reg, builder, submitter, newFreshPricer(sr), chainDI.GetHeadFeed(sr),
			execDI.GetTracker(sr), stop, jnl, notifier, log)
		if err != nil {
			panic("failed to create execution coordinator: " + err.Error())
		}
		return coord
	})

	// Register the opportunity-side dispatch port. The scan engine resolves
	// this token at its own startup.
	di.RegisterToken(c, oppDI.Dispatcher, func(sr di.ServiceRegistry) oppapp.Dispatcher {
		return &coordinatorDispatcher{coord: execDI.GetCoordinator(sr)}
	})

	return nil
}

// Startup resolves the pipeline so wiring failures surface here rather
// than on the first dispatch.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	cfg := mono.Config()

	execDI.GetTracker(mono.Services())
	execDI.GetCoordinator(mono.Services())

	if !cfg.Execution.Enabled {
		log.Info(ctx, "execution module started in scan-only mode")
		return nil
	}

	ex := di.GetToken(mono.Services(), executorToken)
	log.Info(ctx, "execution module started",
		"operator", ex.From().Hex(),
		"contract", cfg.Execution.ContractAddress,
		"relays", len(cfg.Execution.Relays),
		"max_concurrent", cfg.Execution.MaxConcurrent,
		"max_notional_usd", cfg.Execution.MaxNotionalUSD)
	return nil
}

// coordinatorDispatcher adapts the coordinator to the scan engine's
// dispatch port.
type coordinatorDispatcher struct {
	coord *execapp.Coordinator
}

func (d *coordinatorDispatcher) Dispatch(ctx context.Context, opp oppdomain.Opportunity) error {
	_, err := d.coord.Execute(ctx, opp)
	return err
}

func newFreshPricer(sr di.ServiceRegistry) *freshPricer {
	cfg := sr.Get("config").(*config.Config)
	return &freshPricer{
		agg:     pricingDI.GetAggregator(sr),
		chainID: cfg.Chain.ChainID,
		reg:     sr.Get("assetRegistry").(*asset.Registry),
	}
}

// freshPricer adapts the price aggregator to the execution pricer port:
// venue quotes pass through, single assets are quoted against the chain's
// reference stable, the native coin through the aggregator's direct feed.
type freshPricer struct {
	agg     *pricingapp.Aggregator
	chainID uint64
	reg     *asset.Registry
}

func (p *freshPricer) VenueQuotes(ctx context.Context, pair pricingdomain.Pair) []*pricingdomain.PriceQuote {
	return p.agg.VenueQuotes(ctx, pair)
}

// Stables sized at par; the pricing gate polices depegs separately.
var parStables = map[string]bool{
	"USDC": true,
	"USDT": true,
	"DAI":  true,
	"BUSD": true,
}

func (p *freshPricer) AssetUSD(ctx context.Context, a *asset.Asset) (decimal.Decimal, bool) {
	if a == nil {
		return decimal.Zero, false
	}
	if parStables[a.Symbol()] {
		return decimal.NewFromInt(1), true
	}
	if a.IsNative() {
		if usd := p.agg.NativeUSD(ctx); usd.IsPositive() {
			return usd, true
		}
		return decimal.Zero, false
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
