package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Gate rejection reasons.
var (
	ErrNonPositive   = errors.New("price is zero or negative")
	ErrStaleQuote    = errors.New("quote older than TTL")
	ErrLiquidityLow  = errors.New("reported liquidity below floor")
	ErrPegDeviation  = errors.New("pegged pair deviates from par")
	ErrPriceJump     = errors.New("price jumped implausibly versus last accepted")
	ErrMissingFields = errors.New("quote missing pair or timestamp")
)

// Gate is the sanity check every quote passes before the aggregator hands
// it out. A rejected quote is unavailable, never an error to callers.
type Gate struct {
	TTL             time.Duration
	MinLiquidityUSD decimal.Decimal
	// MaxDeviationPct bounds the jump against the last accepted price for
	// the same pair. Zero disables the check.
	MaxDeviationPct decimal.Decimal
	// Pegged holds symbols expected to trade at par against each other
	// (USD stables). A pair with both sides pegged must price inside
	// MaxPegDeviationPct of 1.0.
	Pegged             map[string]bool
	MaxPegDeviationPct decimal.Decimal
}

// NewGate builds a gate from raw config values.
func NewGate(ttl time.Duration, minLiquidityUSD, maxDeviationPct float64, pegged []string, maxPegDeviationPct float64) Gate {
	set := make(map[string]bool, len(pegged))
	for _, s := range pegged {
		set[s] = true
	}
	return Gate{
		TTL:                ttl,
		MinLiquidityUSD:    decimal.NewFromFloat(minLiquidityUSD),
		MaxDeviationPct:    decimal.NewFromFloat(maxDeviationPct),
		Pegged:             set,
		MaxPegDeviationPct: decimal.NewFromFloat(maxPegDeviationPct),
	}
}

// Check validates a quote. lastAccepted is the most recent price the
// aggregator accepted for the same pair; pass zero when there is none.
func (g Gate) Check(q *PriceQuote, lastAccepted decimal.Decimal) error {
	if q == nil || q.Pair.Base == nil || q.Pair.Quote == nil || q.ObservedAt.IsZero() {
		return ErrMissingFields
	}
	if !q.Price.IsPositive() {
		return ErrNonPositive
	}
	if g.TTL > 0 && q.IsStale(g.TTL) {
		return ErrStaleQuote
	}
	if g.MinLiquidityUSD.IsPositive() && q.HasLiquidity() && q.LiquidityUSD.LessThan(g.MinLiquidityUSD) {
		return ErrLiquidityLow
	}
	if g.pegged(q.Pair) {
		if deviationPct(q.Price, decimal.New(1, 0)).GreaterThan(g.MaxPegDeviationPct) {
			return ErrPegDeviation
		}
	}
	if g.MaxDeviationPct.IsPositive() && lastAccepted.IsPositive() {
		if deviationPct(q.Price, lastAccepted).GreaterThan(g.MaxDeviationPct) {
			return ErrPriceJump
		}
	}
	return nil
}

// pegged reports whether both sides of the pair are par-pegged stables.
func (g Gate) pegged(p Pair) bool {
	return g.Pegged[p.Base.Symbol()] && g.Pegged[p.Quote.Symbol()]
}

// deviationPct returns |price-ref|/ref as a percentage.
func deviationPct(price, ref decimal.Decimal) decimal.Decimal {
	if !ref.IsPositive() {
		return decimal.Zero
	}
	return price.Sub(ref).Abs().Div(ref).Mul(decimal.New(100, 0))
}
