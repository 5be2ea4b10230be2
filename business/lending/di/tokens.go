// Package di contains dependency injection tokens for the lending context.
package di

import (
	"github.com/jm31-art/ultraflashbot/business/lending/app"
	"github.com/jm31-art/ultraflashbot/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Discovery = di.NewToken[*app.Discovery]("lending.Discovery")
)

// Helper functions for type-safe access
func GetDiscovery(c di.ServiceRegistry) *app.Discovery {
	return di.GetToken(c, Discovery)
}
