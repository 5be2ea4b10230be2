package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/jm31-art/ultraflashbot/business/lending/domain"
	"github.com/jm31-art/ultraflashbot/internal/asset"
)

// PositionSource yields candidate borrow positions for one protocol.
// Sources are partial by nature: the index reports full snapshots, the
// event scan reports little more than touched owners. Discovery merges
// and completes them.
type PositionSource interface {
	Name() string
	Positions(ctx context.Context) ([]domain.Position, error)
}

// ProtocolAdapter is the uniform surface over one lending protocol's
// account machinery. Variants exist for Aave-style pools, Compound-style
// comptrollers and Venus forks; configuration picks one per deployment.
type ProtocolAdapter interface {
	Protocol() string

	// Bonus is the protocol's liquidation bonus fraction.
	Bonus() decimal.Decimal

	// HealthFactor reads the account's current standing on chain.
	HealthFactor(ctx context.Context, owner common.Address) (domain.AccountHealth, error)

	// LiquidationPlan sizes and shapes the liquidation call for a
	// discovered position.
	LiquidationPlan(ctx context.Context, p *domain.Position) (*domain.LiquidationPlan, error)
}

// AssetPricer quotes one asset in USD. Backed by the price aggregator; a
// false return means no price is available right now.
type AssetPricer interface {
	AssetUSD(ctx context.Context, a *asset.Asset) (decimal.Decimal, bool)
}
