// Package di contains dependency injection tokens for the opportunity context.
package di

import (
	"github.com/jm31-art/ultraflashbot/business/opportunity/app"
	"github.com/jm31-art/ultraflashbot/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Scanner = di.NewToken[*app.Scanner]("opportunity.Scanner")
	Engine  = di.NewToken[*app.Engine]("opportunity.Engine")

	// Dispatcher is registered by the execution module; the engine
	// resolves it at startup.
	Dispatcher = di.NewToken[app.Dispatcher]("opportunity.Dispatcher")
)

// Helper functions for type-safe access
func GetScanner(c di.ServiceRegistry) *app.Scanner {
	return di.GetToken(c, Scanner)
}

func GetEngine(c di.ServiceRegistry) *app.Engine {
	return di.GetToken(c, Engine)
}

func GetDispatcher(c di.ServiceRegistry) app.Dispatcher {
	return di.GetToken(c, Dispatcher)
}
