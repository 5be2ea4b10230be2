// Package domain defines the opportunity model: candidates for arbitrage
// and liquidation action, costed into an executable verdict.
package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	lendingdomain "github.com/jm31-art/ultraflashbot/business/lending/domain"
	"github.com/jm31-art/ultraflashbot/internal/asset"
)

// Kind of action an opportunity proposes.
type Kind string

const (
	KindArbitrage   Kind = "arbitrage"
	KindLiquidation Kind = "liquidation"
)

// TradePlan carries the swap call shape for an arbitrage opportunity.
// AmountIn is sized in AssetIn's raw units.
type TradePlan struct {
	AssetIn   *asset.Asset
	AmountIn  *big.Int
	Path      []common.Address
	Router    common.Address
	BuyVenue  string
	SellVenue string
}

// RawOpportunity is a detected candidate before costing. A zero
// LiquidityUSD means no venue reported depth, which the cost model treats
// as unsizeable rather than infinite.
type RawOpportunity struct {
	Kind      Kind
	Reference string // stable identity for journaling
	Venue     string

	// FeeKey selects the protocol fee schedule entry; empty when no
	// venue fee applies. GasAction selects the gas unit schedule entry.
	FeeKey    string
	GasAction string

	AmountUSD    decimal.Decimal
	GrossUSD     decimal.Decimal
	LiquidityUSD decimal.Decimal

	Trade       *TradePlan
	Liquidation *lendingdomain.LiquidationPlan

	ObservedAt time.Time
}

// CostBreakdown itemizes the USD costs charged against gross profit.
type CostBreakdown struct {
	ProtocolFeeUSD decimal.Decimal
	GasUSD         decimal.Decimal
	SlippageUSD    decimal.Decimal
	OracleLagUSD   decimal.Decimal
}

// Total sums all cost components.
func (c CostBreakdown) Total() decimal.Decimal {
	return c.ProtocolFeeUSD.Add(c.GasUSD).Add(c.SlippageUSD).Add(c.OracleLagUSD)
}

// Evaluation reasons for unprofitable verdicts.
const (
	ReasonNoEdge        = "no price edge"
	ReasonNoDepth       = "no reported depth"
	ReasonNoGasSchedule = "no gas schedule"
	ReasonGasPrice      = "gas price unavailable"
	ReasonNativePrice   = "native price unavailable"
	ReasonCostsExceed   = "costs exceed gross"
)

// Evaluation is the cost model's verdict on one candidate. Reason is set
// exactly when IsProfitable is false.
type Evaluation struct {
	Gross        decimal.Decimal
	Costs        CostBreakdown
	Net          decimal.Decimal
	IsProfitable bool
	Reason       string
}

// Opportunity is a costed candidate ready for ranking and execution. It
// crosses component boundaries as an immutable snapshot.
type Opportunity struct {
	Kind      Kind
	Reference string
	Venue     string

	AmountUSD decimal.Decimal
	Gross     decimal.Decimal
	Costs     CostBreakdown
	Net       decimal.Decimal

	Trade       *TradePlan
	Liquidation *lendingdomain.LiquidationPlan

	ObservedAt time.Time
}

func (o *Opportunity) IsLiquidation() bool {
	return o.Kind == KindLiquidation
}

func (o *Opportunity) String() string {
	return fmt.Sprintf("%s %s via %s: net $%s on $%s",
		o.Kind, o.Reference, o.Venue, o.Net.StringFixed(2), o.AmountUSD.StringFixed(0))
}
