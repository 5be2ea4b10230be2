package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jm31-art/ultraflashbot/internal/asset"
)

func testGate() Gate {
	return NewGate(2*time.Second, 100_000, 5.0, []string{"USDC", "USDT", "DAI"}, 1.0)
}

func freshQuote(price string, liquidityUSD int64) *PriceQuote {
	return &PriceQuote{
		Pair:         NewPair(asset.WETH, asset.USDC),
		Price:        decimal.RequireFromString(price),
		Source:       "test",
		LiquidityUSD: decimal.NewFromInt(liquidityUSD),
		ObservedAt:   time.Now(),
	}
}

func TestGateAcceptsValidQuote(t *testing.T) {
	g := testGate()

	if err := g.Check(freshQuote("3400.50", 500_000), decimal.Zero); err != nil {
		t.Fatalf("valid quote rejected: %v", err)
	}
}

func TestGateRejectsNonPositivePrice(t *testing.T) {
	g := testGate()

	q := freshQuote("0", 500_000)
	if err := g.Check(q, decimal.Zero); !errors.Is(err, ErrNonPositive) {
		t.Errorf("zero price: got %v, want ErrNonPositive", err)
	}

	q = freshQuote("-12.5", 500_000)
	if err := g.Check(q, decimal.Zero); !errors.Is(err, ErrNonPositive) {
		t.Errorf("negative price: got %v, want ErrNonPositive", err)
	}
}

func TestGateRejectsStaleQuote(t *testing.T) {
	g := testGate()

	q := freshQuote("3400", 500_000)
	q.ObservedAt = time.Now().Add(-10 * time.Second)

	if err := g.Check(q, decimal.Zero); !errors.Is(err, ErrStaleQuote) {
		t.Errorf("got %v, want ErrStaleQuote", err)
	}
}

func TestGateRejectsThinReportedLiquidity(t *testing.T) {
	g := testGate()

	// Source reports $40k depth against a $100k floor.
	q := freshQuote("3400", 40_000)
	if err := g.Check(q, decimal.Zero); !errors.Is(err, ErrLiquidityLow) {
		t.Errorf("got %v, want ErrLiquidityLow", err)
	}
}

func TestGatePassesUnknownLiquidity(t *testing.T) {
	g := testGate()

	// Zero means the source cannot report depth, not that depth is zero.
	// The floor only applies to reported figures.
	q := freshQuote("3400", 0)
	if err := g.Check(q, decimal.Zero); err != nil {
		t.Errorf("unknown liquidity should pass the floor, got %v", err)
	}
}

func TestGateRejectsDepeggedStablePair(t *testing.T) {
	g := testGate()

	q := &PriceQuote{
		Pair:         NewPair(asset.USDT, asset.USDC),
		Price:        decimal.RequireFromString("0.97"), // 3% off par, bound is 1%
		Source:       "test",
		LiquidityUSD: decimal.NewFromInt(500_000),
		ObservedAt:   time.Now(),
	}
	if err := g.Check(q, decimal.Zero); !errors.Is(err, ErrPegDeviation) {
		t.Errorf("got %v, want ErrPegDeviation", err)
	}

	q.Price = decimal.RequireFromString("0.999")
	if err := g.Check(q, decimal.Zero); err != nil {
		t.Errorf("near-par stable pair rejected: %v", err)
	}
}

func TestGateRejectsPriceJump(t *testing.T) {
	g := testGate()

	last := decimal.RequireFromString("3400")

	// 10% move against a 5% bound.
	q := freshQuote("3740", 500_000)
	if err := g.Check(q, last); !errors.Is(err, ErrPriceJump) {
		t.Errorf("got %v, want ErrPriceJump", err)
	}

	// 1% move passes.
	q = freshQuote("3434", 500_000)
	if err := g.Check(q, last); err != nil {
		t.Errorf("small move rejected: %v", err)
	}
}

func TestGateJumpCheckSkippedWithoutReference(t *testing.T) {
	g := testGate()

	// First quote for a pair has no reference price.
	q := freshQuote("99999", 500_000)
	if err := g.Check(q, decimal.Zero); err != nil {
		t.Errorf("first quote rejected: %v", err)
	}
}

func TestGateZeroDeviationDisablesJumpCheck(t *testing.T) {
	g := NewGate(2*time.Second, 0, 0, nil, 0)

	q := freshQuote("9999999", 0)
	if err := g.Check(q, decimal.NewFromInt(1)); err != nil {
		t.Errorf("jump check should be disabled, got %v", err)
	}
}

func TestGateRejectsMissingFields(t *testing.T) {
	g := testGate()

	if err := g.Check(nil, decimal.Zero); !errors.Is(err, ErrMissingFields) {
		t.Errorf("nil quote: got %v, want ErrMissingFields", err)
	}

	q := &PriceQuote{Price: decimal.NewFromInt(1), ObservedAt: time.Now()}
	if err := g.Check(q, decimal.Zero); !errors.Is(err, ErrMissingFields) {
		t.Errorf("pairless quote: got %v, want ErrMissingFields", err)
	}
}
