// Package domain holds the lending entities: monitored borrow positions and
// the liquidation plans built against them.
package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/jm31-art/ultraflashbot/internal/asset"
)

// Position source labels.
const (
	SourceIndexed  = "indexed"
	SourceChainLog = "chainlog"
)

var one = decimal.NewFromInt(1)

// Position is one monitored borrow account on a lending protocol. A
// position is a snapshot: discovery rebuilds it every scan rather than
// mutating a shared record.
//
// CollateralUSD, DebtUSD and the asset legs are zero/nil when the source
// cannot report them (event logs carry far less than the index does); a
// zero figure means unknown, not empty, and downstream sizing must treat
// it that way.
type Position struct {
	Protocol        string
	Owner           common.Address
	CollateralAsset *asset.Asset
	DebtAsset       *asset.Asset
	HealthFactor    decimal.Decimal
	CollateralUSD   decimal.Decimal
	DebtUSD         decimal.Decimal
	Bonus           decimal.Decimal // liquidation bonus fraction, e.g. 0.05
	Source          string
	ObservedAt      time.Time
}

// Key identifies the position for cooldown and merge purposes.
func (p *Position) Key() string {
	return p.Protocol + ":" + p.Owner.Hex()
}

// IsLiquidatable reports whether the protocol would accept a liquidation
// call right now. Monitoring thresholds sit above 1.0; this does not.
func (p *Position) IsLiquidatable() bool {
	return p.HealthFactor.IsPositive() && p.HealthFactor.LessThan(one)
}

// HasSizing reports whether the snapshot carries the USD figures needed to
// size a liquidation.
func (p *Position) HasSizing() bool {
	return p.DebtUSD.IsPositive() && p.DebtAsset != nil
}

func (p *Position) String() string {
	return fmt.Sprintf("%s %s hf=%s", p.Protocol, p.Owner.Hex(), p.HealthFactor.StringFixed(4))
}

// AccountHealth is a protocol adapter's on-chain read of one account.
// Factor crosses 1.0 exactly at liquidation eligibility on every protocol;
// CollateralUSD and DebtUSD are zero when the protocol's account surface
// does not expose them.
type AccountHealth struct {
	Factor        decimal.Decimal
	CollateralUSD decimal.Decimal
	DebtUSD       decimal.Decimal
}

// LiquidationPlan is everything the settlement contract needs to close a
// position, plus the USD expectations the cost model prices it with.
type LiquidationPlan struct {
	Protocol        string
	Pool            common.Address
	Borrower        common.Address
	DebtAsset       *asset.Asset
	CollateralAsset *asset.Asset

	// DebtToCover is in raw debt-asset units, already capped by the
	// protocol's close factor.
	DebtToCover    *big.Int
	DebtToCoverUSD decimal.Decimal

	// BonusUSD is the collateral discount captured at current prices,
	// before gas and swap costs.
	BonusUSD decimal.Decimal

	// AuxData rides through to the settlement contract untouched.
	AuxData []byte
}
