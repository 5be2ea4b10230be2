// Package app contains application services and port definitions for the pricing context.
package app

import (
	"context"

	"github.com/jm31-art/ultraflashbot/business/pricing/domain"
)

// Source is one price venue. Sources are consulted in fixed priority order;
// hint carries a cached route when the caller has one (only on-chain quoters
// care). A source that cannot price the pair returns an error; the
// aggregator converts that to "try the next source".
type Source interface {
	Name() string
	Quote(ctx context.Context, pair domain.Pair, hint *domain.Route) (*domain.PriceQuote, error)
}

// RouteSource is implemented by sources that can also discover swap routes.
type RouteSource interface {
	RouteFor(ctx context.Context, pair domain.Pair) (*domain.Route, error)
}

// Warmer is a push feed that keeps hot pairs warm in the pair cache.
type Warmer interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Close() error
}
