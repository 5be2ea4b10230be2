// Package di contains dependency injection tokens for the chain context.
package di

import (
	"github.com/jm31-art/ultraflashbot/business/chain/app"
	"github.com/jm31-art/ultraflashbot/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Manager   = di.NewToken[*app.Manager]("chain.ConnectivityManager")
	HeadFeed  = di.NewToken[app.HeadSource]("chain.HeadFeed")
	GasOracle = di.NewToken[app.GasPricer]("chain.GasOracle")
)

// Helper functions for type-safe access
func GetManager(c di.ServiceRegistry) *app.Manager {
	return di.GetToken(c, Manager)
}

func GetHeadFeed(c di.ServiceRegistry) app.HeadSource {
	return di.GetToken(c, HeadFeed)
}

func GetGasOracle(c di.ServiceRegistry) app.GasPricer {
	return di.GetToken(c, GasOracle)
}
