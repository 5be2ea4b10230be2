// Package domain contains the core domain types for the pricing context.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/jm31-art/ultraflashbot/internal/asset"
)

// Pair represents a trading pair using typed assets.
type Pair struct {
	Base  *asset.Asset // e.g., WETH
	Quote *asset.Asset // e.g., USDC
}

// NewPair creates a new trading pair.
func NewPair(base, quote *asset.Asset) Pair {
	if base == nil || quote == nil {
		panic("pricing: nil asset in pair")
	}
	return Pair{Base: base, Quote: quote}
}

// String returns the pair symbol (e.g., "WETH-USDC").
func (p Pair) String() string {
	return p.Base.Symbol() + "-" + p.Quote.Symbol()
}

// Invert returns the inverted pair.
func (p Pair) Invert() Pair {
	return Pair{Base: p.Quote, Quote: p.Base}
}

// PriceQuote is one validated price observation. LiquidityUSD is zero when
// the source cannot report depth; consumers that need liquidity must treat
// zero as unknown, not as empty.
type PriceQuote struct {
	Pair         Pair
	Price        decimal.Decimal // quote units per base unit
	Source       string          // "uniswap", "binance", "rest", "stream"
	LiquidityUSD decimal.Decimal
	ObservedAt   time.Time
}

// Age returns how old the quote is.
func (q *PriceQuote) Age() time.Duration {
	return time.Since(q.ObservedAt)
}

// IsStale reports whether the quote is older than maxAge.
func (q *PriceQuote) IsStale(maxAge time.Duration) bool {
	return q.Age() > maxAge
}

// HasLiquidity reports whether the source provided a depth figure.
func (q *PriceQuote) HasLiquidity() bool {
	return q.LiquidityUSD.IsPositive()
}

// Route is a cached swap path hint for a pair: which venue, through which
// hops, at which fee tiers. Routes age much slower than prices.
type Route struct {
	Venue      string
	Path       []common.Address
	FeeTiers   []int // per hop, hundredths of a bip (3000 = 0.30%)
	ObservedAt time.Time
}

// IsStale reports whether the route is older than maxAge.
func (r *Route) IsStale(maxAge time.Duration) bool {
	return time.Since(r.ObservedAt) > maxAge
}

// Direct reports whether the route is a single-hop swap.
func (r *Route) Direct() bool {
	return len(r.Path) == 2
}
