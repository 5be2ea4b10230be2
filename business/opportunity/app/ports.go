package app

import (
	"context"

	"github.com/shopspring/decimal"

	chaindomain "github.com/jm31-art/ultraflashbot/business/chain/domain"
	lendingdomain "github.com/jm31-art/ultraflashbot/business/lending/domain"
	"github.com/jm31-art/ultraflashbot/business/opportunity/domain"
	pricingdomain "github.com/jm31-art/ultraflashbot/business/pricing/domain"
)

// NativePricer quotes the chain's gas asset in USD. Zero means
// unavailable.
type NativePricer interface {
	NativeUSD(ctx context.Context) decimal.Decimal
}

// VenuePricer supplies per-venue quotes and the native asset price. The
// pricing aggregator satisfies it.
type VenuePricer interface {
	NativePricer
	VenueQuotes(ctx context.Context, pair pricingdomain.Pair) []*pricingdomain.PriceQuote
}

// GasPricer supplies the current network fee estimate.
type GasPricer interface {
	GetGasPrice(ctx context.Context) (*chaindomain.GasPrice, error)
}

// LiquidationFinder surfaces at-risk positions and builds their close
// calls. Lending discovery satisfies it.
type LiquidationFinder interface {
	Protocols() []string
	FindAtRisk(ctx context.Context, protocol string) []lendingdomain.Position
	Plan(ctx context.Context, p *lendingdomain.Position) (*lendingdomain.LiquidationPlan, error)
}

// Dispatcher hands a ranked opportunity to the execution side. The
// execution module registers the live implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, opp domain.Opportunity) error
}
