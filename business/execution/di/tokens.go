// Package di contains dependency injection tokens for the execution context.
package di

import (
	"github.com/jm31-art/ultraflashbot/business/execution/app"
	"github.com/jm31-art/ultraflashbot/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Coordinator = di.NewToken[*app.Coordinator]("execution.Coordinator")
	Tracker     = di.NewToken[*app.Tracker]("execution.Tracker")
)

// Helper functions for type-safe access
func GetCoordinator(c di.ServiceRegistry) *app.Coordinator {
	return di.GetToken(c, Coordinator)
}

func GetTracker(c di.ServiceRegistry) *app.Tracker {
	return di.GetToken(c, Tracker)
}
