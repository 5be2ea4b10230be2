package app

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/jm31-art/ultraflashbot/business/opportunity/domain"
	"github.com/jm31-art/ultraflashbot/internal/config"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

var (
	bpsScale = decimal.NewFromInt(10_000)
	two      = decimal.NewFromInt(2)
)

// CostModel turns a raw candidate into a profit verdict. Evaluate is a
// deterministic function of its inputs and never errors: a candidate the
// model cannot cost is unprofitable with a reason, because a scan cycle
// has no use for an exception where "skip this one" will do.
type CostModel struct {
	fees         map[string]decimal.Decimal
	gasUnits     map[string]uint64
	slippageBps  decimal.Decimal
	impactCapBps decimal.Decimal
	oracleLagBps decimal.Decimal

	gas    GasPricer
	native NativePricer
	logger logger.LoggerInterface
}

// NewCostModel builds the model from the fee schedule configuration.
func NewCostModel(cfg config.CostConfig, gas GasPricer, native NativePricer, log logger.LoggerInterface) *CostModel {
	fees := make(map[string]decimal.Decimal, len(cfg.ProtocolFeeBps))
	for key, bps := range cfg.ProtocolFeeBps {
		fees[key] = decimal.NewFromFloat(bps)
	}

	return &CostModel{
		fees:         fees,
		gasUnits:     cfg.GasUnits,
		slippageBps:  decimal.NewFromFloat(cfg.SlippageBps),
		impactCapBps: decimal.NewFromFloat(cfg.ImpactCapBps),
		oracleLagBps: decimal.NewFromFloat(cfg.OracleLagBufferBps),
		gas:          gas,
		native:       native,
		logger:       log,
	}
}

// Evaluate costs one candidate. Cost components:
//   - protocol fee: AmountUSD at the schedule's bps for FeeKey
//   - gas: network fee estimate x the action's gas units, in USD via the
//     native asset quote
//   - slippage: base tolerance plus price impact; impact follows the
//     constant-product small-trade approximation size/(2*depth) and is
//     capped at the configured ceiling
//   - oracle lag buffer: fixed bps of gross, covering price movement
//     between observation and inclusion
func (m *CostModel) Evaluate(ctx context.Context, raw domain.RawOpportunity) domain.Evaluation {
	eval := domain.Evaluation{Gross: raw.GrossUSD}

	if !raw.GrossUSD.IsPositive() {
		return unprofitable(eval, domain.ReasonNoEdge)
	}

	if raw.FeeKey != "" {
		eval.Costs.ProtocolFeeUSD = raw.AmountUSD.Mul(m.fees[raw.FeeKey]).Div(bpsScale)
	}

	units, ok := m.gasUnits[raw.GasAction]
	if !ok || units == 0 {
		return unprofitable(eval, domain.ReasonNoGasSchedule)
	}
	gp, err := m.gas.GetGasPrice(ctx)
	if err != nil || gp == nil || gp.Wei == nil {
		return unprofitable(eval, domain.ReasonGasPrice)
	}
	nativeUSD := m.native.NativeUSD(ctx)
	if !nativeUSD.IsPositive() {
		return unprofitable(eval, domain.ReasonNativePrice)
	}
	feeWei := new(big.Int).Mul(gp.Wei, new(big.Int).SetUint64(units))
	eval.Costs.GasUSD = decimal.NewFromBigInt(feeWei, -18).Mul(nativeUSD)

	if !raw.LiquidityUSD.IsPositive() {
		return unprofitable(eval, domain.ReasonNoDepth)
	}
	impactBps := raw.AmountUSD.Div(raw.LiquidityUSD).Mul(bpsScale).Div(two)
	if impactBps.GreaterThan(m.impactCapBps) {
		impactBps = m.impactCapBps
	}
	eval.Costs.SlippageUSD = raw.AmountUSD.Mul(m.slippageBps.Add(impactBps)).Div(bpsScale)

	eval.Costs.OracleLagUSD = raw.GrossUSD.Mul(m.oracleLagBps).Div(bpsScale)

	eval.Net = eval.Gross.Sub(eval.Costs.Total())
	if !eval.Net.IsPositive() {
		return unprofitable(eval, domain.ReasonCostsExceed)
	}

	eval.IsProfitable = true
	return eval
}

func unprofitable(eval domain.Evaluation, reason string) domain.Evaluation {
	eval.IsProfitable = false
	eval.Reason = reason
	eval.Net = eval.Gross.Sub(eval.Costs.Total())
	return eval
}
