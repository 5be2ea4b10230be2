package app_test

import (
	"context"
	"errors"
	"io"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	chaindomain "github.com/jm31-art/ultraflashbot/business/chain/domain"
	"github.com/jm31-art/ultraflashbot/business/opportunity/app"
	"github.com/jm31-art/ultraflashbot/business/opportunity/domain"
	"github.com/jm31-art/ultraflashbot/internal/config"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

type fakeGas struct {
	wei int64
	err error
}

func (f *fakeGas) GetGasPrice(ctx context.Context) (*chaindomain.GasPrice, error) {
	if f.err != nil {
		return nil, f.err
	}
	return chaindomain.NewGasPrice(big.NewInt(f.wei)), nil
}

type fakeNative struct {
	usd decimal.Decimal
}

func (f *fakeNative) NativeUSD(ctx context.Context) decimal.Decimal {
	return f.usd
}

func testLog() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelError, "test", nil)
}

func costConfig() config.CostConfig {
	return config.CostConfig{
		ProtocolFeeBps:     map[string]float64{"uniswap_v3": 30, "aave": 5},
		SlippageBps:        10,
		ImpactCapBps:       200,
		OracleLagBufferBps: 15,
		GasUnits: map[string]uint64{
			"swap":        200_000,
			"flashloan":   450_000,
			"liquidation": 600_000,
		},
	}
}

// thirtyGwei keeps the gas leg easy to verify: 600k units cost 0.018
// native, $36 at a $2000 native price.
const thirtyGwei = 30_000_000_000

func newCostModel(gas *fakeGas, nativeUSD int64) *app.CostModel {
	return app.NewCostModel(costConfig(), gas, &fakeNative{usd: decimal.NewFromInt(nativeUSD)}, testLog())
}

func liquidationRaw(amount, gross, depth int64) domain.RawOpportunity {
	return domain.RawOpportunity{
		Kind:         domain.KindLiquidation,
		Reference:    "aave:0x1",
		Venue:        "aave",
		FeeKey:       "aave",
		GasAction:    "liquidation",
		AmountUSD:    decimal.NewFromInt(amount),
		GrossUSD:     decimal.NewFromInt(gross),
		LiquidityUSD: decimal.NewFromInt(depth),
	}
}

func TestEvaluateLiquidationCostsOut(t *testing.T) {
	m := newCostModel(&fakeGas{wei: thirtyGwei}, 2000)

	// $2000 of debt against $30k collateral: impact hits the 200 bps cap,
	// so slippage is 210 bps of size.
	eval := m.Evaluate(context.Background(), liquidationRaw(2000, 200, 30_000))

	if !eval.IsProfitable {
		t.Fatalf("not profitable: %s", eval.Reason)
	}
	if !eval.Costs.ProtocolFeeUSD.Equal(decimal.NewFromInt(1)) {
		t.Errorf("protocol fee = %s, want 1 (5 bps of 2000)", eval.Costs.ProtocolFeeUSD)
	}
	if !eval.Costs.GasUSD.Equal(decimal.NewFromInt(36)) {
		t.Errorf("gas = %s, want 36", eval.Costs.GasUSD)
	}
	if !eval.Costs.SlippageUSD.Equal(decimal.NewFromInt(42)) {
		t.Errorf("slippage = %s, want 42 (210 bps of 2000)", eval.Costs.SlippageUSD)
	}
	if !eval.Costs.OracleLagUSD.Equal(decimal.RequireFromString("0.3")) {
		t.Errorf("oracle lag = %s, want 0.3 (15 bps of 200)", eval.Costs.OracleLagUSD)
	}
	if !eval.Net.Equal(decimal.RequireFromString("120.7")) {
		t.Errorf("net = %s, want 120.7", eval.Net)
	}
	if eval.Reason != "" {
		t.Errorf("profitable verdict carries reason %q", eval.Reason)
	}
}

func TestEvaluateImpactScalesWithDepth(t *testing.T) {
	m := newCostModel(&fakeGas{wei: thirtyGwei}, 2000)

	thin := m.Evaluate(context.Background(), liquidationRaw(2000, 200, 30_000))
	deep := m.Evaluate(context.Background(), liquidationRaw(2000, 200, 1_000_000))

	// Deep books: impact 10 bps, slippage 20 bps of 2000 = $4.
	if !deep.Costs.SlippageUSD.Equal(decimal.NewFromInt(4)) {
		t.Errorf("deep slippage = %s, want 4", deep.Costs.SlippageUSD)
	}
	if !deep.Net.GreaterThan(thin.Net) {
		t.Errorf("deeper book must net more: %s vs %s", deep.Net, thin.Net)
	}
}

func TestEvaluateImpactNeverExceedsCap(t *testing.T) {
	m := newCostModel(&fakeGas{wei: thirtyGwei}, 2000)

	// Size most of the book: uncapped impact would be 4167 bps.
	eval := m.Evaluate(context.Background(), liquidationRaw(50_000, 5000, 60_000))
	if !eval.Costs.SlippageUSD.Equal(decimal.NewFromInt(1050)) {
		t.Errorf("slippage = %s, want 1050 (capped 210 bps of 50k)", eval.Costs.SlippageUSD)
	}
}

func TestEvaluateMissingInputsNeverError(t *testing.T) {
	cases := []struct {
		name   string
		model  *app.CostModel
		raw    domain.RawOpportunity
		reason string
	}{
		{
			name:   "zero gross",
			model:  newCostModel(&fakeGas{wei: thirtyGwei}, 2000),
			raw:    liquidationRaw(2000, 0, 30_000),
			reason: domain.ReasonNoEdge,
		},
		{
			name:  "unknown gas action",
			model: newCostModel(&fakeGas{wei: thirtyGwei}, 2000),
			raw: func() domain.RawOpportunity {
				r := liquidationRaw(2000, 200, 30_000)
				r.GasAction = "teleport"
				return r
			}(),
			reason: domain.ReasonNoGasSchedule,
		},
		{
			name:   "gas price unavailable",
			model:  newCostModel(&fakeGas{err: errors.New("node down")}, 2000),
			raw:    liquidationRaw(2000, 200, 30_000),
			reason: domain.ReasonGasPrice,
		},
		{
			name:   "native price unavailable",
			model:  newCostModel(&fakeGas{wei: thirtyGwei}, 0),
			raw:    liquidationRaw(2000, 200, 30_000),
			reason: domain.ReasonNativePrice,
		},
		{
			name:   "no reported depth",
			model:  newCostModel(&fakeGas{wei: thirtyGwei}, 2000),
			raw:    liquidationRaw(2000, 200, 0),
			reason: domain.ReasonNoDepth,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eval := tc.model.Evaluate(context.Background(), tc.raw)
			if eval.IsProfitable {
				t.Fatal("missing input evaluated profitable")
			}
			if eval.Reason != tc.reason {
				t.Fatalf("reason = %q, want %q", eval.Reason, tc.reason)
			}
		})
	}
}

func TestEvaluateCostsExceedGross(t *testing.T) {
	m := newCostModel(&fakeGas{wei: thirtyGwei}, 2000)

	eval := m.Evaluate(context.Background(), liquidationRaw(2000, 10, 30_000))
	if eval.IsProfitable {
		t.Fatal("gross below costs evaluated profitable")
	}
	if eval.Reason != domain.ReasonCostsExceed {
		t.Fatalf("reason = %q, want %q", eval.Reason, domain.ReasonCostsExceed)
	}
	if !eval.Net.IsNegative() {
		t.Errorf("net = %s, want negative", eval.Net)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	m := newCostModel(&fakeGas{wei: thirtyGwei}, 2000)
	raw := liquidationRaw(2000, 200, 30_000)

	a := m.Evaluate(context.Background(), raw)
	b := m.Evaluate(context.Background(), raw)
	if !a.Net.Equal(b.Net) || !a.Costs.Total().Equal(b.Costs.Total()) {
		t.Fatalf("same inputs evaluated differently: %s vs %s", a.Net, b.Net)
	}
}

func TestEvaluateFeeSchedule(t *testing.T) {
	m := newCostModel(&fakeGas{wei: thirtyGwei}, 2000)

	raw := liquidationRaw(10_000, 500, 1_000_000)
	raw.FeeKey = "uniswap_v3"
	raw.GasAction = "swap"
	eval := m.Evaluate(context.Background(), raw)
	if !eval.Costs.ProtocolFeeUSD.Equal(decimal.NewFromInt(30)) {
		t.Errorf("fee = %s, want 30 (30 bps of 10k)", eval.Costs.ProtocolFeeUSD)
	}

	raw.FeeKey = ""
	eval = m.Evaluate(context.Background(), raw)
	if !eval.Costs.ProtocolFeeUSD.IsZero() {
		t.Errorf("feeless candidate charged %s", eval.Costs.ProtocolFeeUSD)
	}
}
