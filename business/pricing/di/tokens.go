// Package di contains dependency injection tokens for the pricing context.
package di

import (
	"github.com/jm31-art/ultraflashbot/business/pricing/app"
	"github.com/jm31-art/ultraflashbot/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Aggregator = di.NewToken[*app.Aggregator]("pricing.Aggregator")
)

// Private dependency tokens - internal to pricing module
var (
	PoolSource   = di.NewToken[app.Source]("pricing:poolSource")
	MarketSource = di.NewToken[app.Source]("pricing:marketSource")
	TickerSource = di.NewToken[app.Source]("pricing:tickerSource")
	Warmer       = di.NewToken[app.Warmer]("pricing:streamWarmer")
)

// Helper functions for type-safe access
func GetAggregator(c di.ServiceRegistry) *app.Aggregator {
	return di.GetToken(c, Aggregator)
}

func GetPoolSource(c di.ServiceRegistry) app.Source {
	return di.GetToken(c, PoolSource)
}

func GetMarketSource(c di.ServiceRegistry) app.Source {
	return di.GetToken(c, MarketSource)
}

func GetTickerSource(c di.ServiceRegistry) app.Source {
	return di.GetToken(c, TickerSource)
}

func GetWarmer(c di.ServiceRegistry) app.Warmer {
	return di.GetToken(c, Warmer)
}
