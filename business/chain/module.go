// Package chain implements the chain bounded context: the frozen connection
// group, the block head feed and gas pricing.
package chain

import (
	"context"

	"github.com/jm31-art/ultraflashbot/business/chain/app"
	chainDI "github.com/jm31-art/ultraflashbot/business/chain/di"
	"github.com/jm31-art/ultraflashbot/business/chain/infra/ethereum"
	"github.com/jm31-art/ultraflashbot/internal/config"
	"github.com/jm31-art/ultraflashbot/internal/di"
	"github.com/jm31-art/ultraflashbot/internal/logger"
	"github.com/jm31-art/ultraflashbot/internal/monolith"
)

// Module implements the chain bounded context.
type Module struct{}

// RegisterServices registers all chain services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register Manager (public - every other context reads through it)
	di.RegisterToken(c, chainDI.Manager, func(sr di.ServiceRegistry) *app.Manager {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		mgrCfg := app.ManagerConfig{
			ReadURL:           cfg.Chain.ReadURL,
			ExecutionURL:      cfg.Chain.ExecutionURL,
			BackupURLs:        cfg.Chain.BackupURLs,
			ChainID:           cfg.Chain.ChainID,
			AllowedChainIDs:   cfg.Chain.AllowedChainIDs,
			ExecutionRequired: cfg.Execution.Enabled,
			DialTimeout:       cfg.Chain.DialTimeout,
		}
		mgr, err := app.NewManager(mgrCfg, ethereum.NewDialer(), log)
		if err != nil {
			panic("failed to create connectivity manager: " + err.Error())
		}
		return mgr
	})

	// Register HeadFeed (public - settlement depth checks ride on it)
	di.RegisterToken(c, chainDI.HeadFeed, func(sr di.ServiceRegistry) app.HeadSource {
		log := sr.Get("logger").(logger.LoggerInterface)
		mgr := chainDI.GetManager(sr)

		feed, err := ethereum.NewHeadFeed(ethereum.DefaultHeadFeedConfig(), mgr, log)
		if err != nil {
			panic("failed to create head feed: " + err.Error())
		}
		return feed
	})

	// Register GasOracle (public - cost model and executor price gas with it)
	di.RegisterToken(c, chainDI.GasOracle, func(sr di.ServiceRegistry) app.GasPricer {
		log := sr.Get("logger").(logger.LoggerInterface)
		mgr := chainDI.GetManager(sr)

		oracle, err := ethereum.NewGasOracle(ethereum.DefaultGasOracleConfig(), mgr, log)
		if err != nil {
			panic("failed to create gas oracle: " + err.Error())
		}
		return oracle
	})

	return nil
}

// Startup establishes the connection group. The set is frozen once this
// returns; later failures fail over inside the manager, never redial new
// endpoints.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()

	mgr := chainDI.GetManager(mono.Services())
	if err := mgr.Initialize(ctx); err != nil {
		return err
	}

	// Start the head feed now so downstream modules find a live stream.
	feed := chainDI.GetHeadFeed(mono.Services())
	if _, err := feed.Subscribe(ctx); err != nil {
		log.Error(ctx, "head feed subscribe failed", "error", err)
		return err
	}

	log.Info(ctx, "chain module started", "connections", len(mgr.Status()))
	return nil
}
