package app_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jm31-art/ultraflashbot/business/pricing/app"
	"github.com/jm31-art/ultraflashbot/business/pricing/domain"
	"github.com/jm31-art/ultraflashbot/internal/asset"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

// fakeSource returns a scripted quote or error, optionally after a delay.
type fakeSource struct {
	name  string
	quote *domain.PriceQuote
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Quote(ctx context.Context, pair domain.Pair, hint *domain.Route) (*domain.PriceQuote, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.quote, nil
}

// fakeRouteSource scripts RouteFor on top of fakeSource.
type fakeRouteSource struct {
	fakeSource
	route      *domain.Route
	routeCalls atomic.Int32
}

func (f *fakeRouteSource) RouteFor(ctx context.Context, pair domain.Pair) (*domain.Route, error) {
	f.routeCalls.Add(1)
	if f.route == nil {
		return nil, errors.New("no route")
	}
	return f.route, nil
}

func testLog() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelError, "test", nil)
}

func wethUSDC() domain.Pair {
	return domain.NewPair(asset.WETH, asset.USDC)
}

func goodQuote(source string, price string, liquidityUSD int64) *domain.PriceQuote {
	return &domain.PriceQuote{
		Pair:         wethUSDC(),
		Price:        decimal.RequireFromString(price),
		Source:       source,
		LiquidityUSD: decimal.NewFromInt(liquidityUSD),
		ObservedAt:   time.Now(),
	}
}

func newAggregator(t *testing.T, gate domain.Gate, sources ...app.Source) *app.Aggregator {
	t.Helper()
	cfg := app.AggregatorConfig{
		PriceTTL:      time.Second,
		RouteTTL:      30 * time.Second,
		CacheCapacity: 64,
		SourceTimeout: 50 * time.Millisecond,
	}
	agg, err := app.NewAggregator(cfg, gate, sources, wethUSDC(), testLog())
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}
	t.Cleanup(func() { agg.Close() })
	return agg
}

func permissiveGate() domain.Gate {
	return domain.NewGate(2*time.Second, 0, 0, nil, 0)
}

func TestAggregatorFirstSourceWins(t *testing.T) {
	first := &fakeSource{name: "first", quote: goodQuote("first", "3400", 500_000)}
	second := &fakeSource{name: "second", quote: goodQuote("second", "3390", 500_000)}

	agg := newAggregator(t, permissiveGate(), first, second)

	q := agg.Quote(context.Background(), wethUSDC())
	if q == nil {
		t.Fatal("expected a quote")
	}
	if q.Source != "first" {
		t.Errorf("got source %q, want first", q.Source)
	}
	if second.calls.Load() != 0 {
		t.Errorf("second source consulted %d times, want 0", second.calls.Load())
	}
}

func TestAggregatorFallsThroughOnError(t *testing.T) {
	first := &fakeSource{name: "first", err: errors.New("no pool")}
	second := &fakeSource{name: "second", quote: goodQuote("second", "3390", 500_000)}

	agg := newAggregator(t, permissiveGate(), first, second)

	q := agg.Quote(context.Background(), wethUSDC())
	if q == nil {
		t.Fatal("expected fallback quote")
	}
	if q.Source != "second" {
		t.Errorf("got source %q, want second", q.Source)
	}
}

func TestAggregatorFallsThroughOnGateReject(t *testing.T) {
	stale := goodQuote("first", "3400", 500_000)
	stale.ObservedAt = time.Now().Add(-time.Minute)

	first := &fakeSource{name: "first", quote: stale}
	second := &fakeSource{name: "second", quote: goodQuote("second", "3390", 500_000)}

	agg := newAggregator(t, domain.NewGate(2*time.Second, 0, 0, nil, 0), first, second)

	q := agg.Quote(context.Background(), wethUSDC())
	if q == nil {
		t.Fatal("expected fallback quote")
	}
	if q.Source != "second" {
		t.Errorf("got source %q, want second", q.Source)
	}
}

func TestAggregatorUnavailableIsNilNotError(t *testing.T) {
	first := &fakeSource{name: "first", err: errors.New("down")}
	second := &fakeSource{name: "second", err: errors.New("down")}

	agg := newAggregator(t, permissiveGate(), first, second)

	if q := agg.Quote(context.Background(), wethUSDC()); q != nil {
		t.Errorf("expected nil for an unpriceable pair, got %+v", q)
	}
}

func TestAggregatorTimeoutsThenThinLiquidity(t *testing.T) {
	// First two sources hang past the per-source budget; the third answers
	// with depth far under the floor. No source yields a usable quote, so
	// the pair is unavailable this cycle.
	slow1 := &fakeSource{name: "slow1", delay: time.Second, quote: goodQuote("slow1", "3400", 500_000)}
	slow2 := &fakeSource{name: "slow2", delay: time.Second, quote: goodQuote("slow2", "3400", 500_000)}
	thin := &fakeSource{name: "thin", quote: goodQuote("thin", "3400", 40_000)}

	gate := domain.NewGate(2*time.Second, 100_000, 0, nil, 0)
	agg := newAggregator(t, gate, slow1, slow2, thin)

	start := time.Now()
	q := agg.Quote(context.Background(), wethUSDC())
	elapsed := time.Since(start)

	if q != nil {
		t.Errorf("expected nil, got quote from %q", q.Source)
	}
	if thin.calls.Load() != 1 {
		t.Errorf("third source consulted %d times, want 1", thin.calls.Load())
	}
	// Each slow source is cut off at its own budget, not waited out.
	if elapsed > 500*time.Millisecond {
		t.Errorf("quote took %v, pipeline did not enforce per-source timeouts", elapsed)
	}
}

func TestAggregatorCachesQuotes(t *testing.T) {
	src := &fakeSource{name: "src", quote: goodQuote("src", "3400", 500_000)}

	agg := newAggregator(t, permissiveGate(), src)

	ctx := context.Background()
	q1 := agg.Quote(ctx, wethUSDC())
	q2 := agg.Quote(ctx, wethUSDC())

	if q1 == nil || q2 == nil {
		t.Fatal("expected quotes")
	}
	if src.calls.Load() != 1 {
		t.Errorf("source consulted %d times for two quotes, want 1 (cache)", src.calls.Load())
	}
	if !q1.Price.Equal(q2.Price) {
		t.Errorf("cached price %s differs from original %s", q2.Price, q1.Price)
	}
}

func TestAggregatorFreshBypassesCache(t *testing.T) {
	src := &fakeSource{name: "src", quote: goodQuote("src", "3400", 500_000)}

	agg := newAggregator(t, permissiveGate(), src)

	ctx := context.Background()
	agg.Quote(ctx, wethUSDC())
	agg.Quote(ctx, wethUSDC(), app.WithFresh())

	if src.calls.Load() != 2 {
		t.Errorf("source consulted %d times, want 2 (fresh bypasses cache)", src.calls.Load())
	}
}

func TestAggregatorJumpRejectionAgainstLastAccepted(t *testing.T) {
	src := &fakeSource{name: "src", quote: goodQuote("src", "3400", 500_000)}

	gate := domain.NewGate(2*time.Second, 0, 5.0, nil, 0)
	agg := newAggregator(t, gate, src)

	ctx := context.Background()
	if q := agg.Quote(ctx, wethUSDC()); q == nil {
		t.Fatal("expected first quote to pass")
	}

	// The source now reports a 47% move. Even with a fresh read the gate
	// holds it against the last accepted price.
	src.quote = goodQuote("src", "5000", 500_000)
	if q := agg.Quote(ctx, wethUSDC(), app.WithFresh()); q != nil {
		t.Errorf("expected jump to be rejected, got %s", q.Price)
	}
}

func TestAggregatorPrime(t *testing.T) {
	src := &fakeSource{name: "src", quote: goodQuote("src", "3400", 500_000)}

	agg := newAggregator(t, permissiveGate(), src)

	ctx := context.Background()
	if !agg.Prime(ctx, goodQuote("stream", "3405", 500_000)) {
		t.Fatal("expected prime to be accepted")
	}

	q := agg.Quote(ctx, wethUSDC())
	if q == nil {
		t.Fatal("expected primed quote")
	}
	if q.Source != "stream" {
		t.Errorf("got source %q, want stream (primed)", q.Source)
	}
	if src.calls.Load() != 0 {
		t.Errorf("source consulted %d times, want 0 (cache primed)", src.calls.Load())
	}
}

func TestAggregatorPrimeRejectsBadTick(t *testing.T) {
	agg := newAggregator(t, permissiveGate(), &fakeSource{name: "src"})

	bad := goodQuote("stream", "3405", 0)
	bad.Price = decimal.Zero
	if agg.Prime(context.Background(), bad) {
		t.Error("expected gate to reject a zero-price tick")
	}
	if agg.Prime(context.Background(), nil) {
		t.Error("expected nil tick to be rejected")
	}
}

func TestAggregatorNativeUSD(t *testing.T) {
	src := &fakeSource{name: "src", quote: goodQuote("src", "3400", 500_000)}

	agg := newAggregator(t, permissiveGate(), src)

	usd := agg.NativeUSD(context.Background())
	if !usd.Equal(decimal.RequireFromString("3400")) {
		t.Errorf("got %s, want 3400", usd)
	}
}

func TestAggregatorNativeUSDUnavailableIsZero(t *testing.T) {
	agg := newAggregator(t, permissiveGate(), &fakeSource{name: "src", err: errors.New("down")})

	if usd := agg.NativeUSD(context.Background()); !usd.IsZero() {
		t.Errorf("got %s, want zero when unavailable", usd)
	}
}

func TestAggregatorRouteForCaches(t *testing.T) {
	src := &fakeRouteSource{
		fakeSource: fakeSource{name: "pool", quote: goodQuote("pool", "3400", 500_000)},
		route: &domain.Route{
			Venue:      "uniswap_v3",
			FeeTiers:   []int{500},
			ObservedAt: time.Now(),
		},
	}

	agg := newAggregator(t, permissiveGate(), src)

	ctx := context.Background()
	r1 := agg.RouteFor(ctx, wethUSDC())
	r2 := agg.RouteFor(ctx, wethUSDC())

	if r1 == nil || r2 == nil {
		t.Fatal("expected routes")
	}
	if src.routeCalls.Load() != 1 {
		t.Errorf("route source consulted %d times, want 1 (cache)", src.routeCalls.Load())
	}
	if r1.Venue != "uniswap_v3" || len(r1.FeeTiers) != 1 || r1.FeeTiers[0] != 500 {
		t.Errorf("unexpected route: %+v", r1)
	}
}

func TestAggregatorRouteForSkipsPriceOnlySources(t *testing.T) {
	priceOnly := &fakeSource{name: "rest", quote: goodQuote("rest", "3400", 0)}

	agg := newAggregator(t, permissiveGate(), priceOnly)

	if r := agg.RouteFor(context.Background(), wethUSDC()); r != nil {
		t.Errorf("expected nil route from a price-only source, got %+v", r)
	}
}

func TestAggregatorVenueQuotesReturnsEachSourceView(t *testing.T) {
	pool := &fakeSource{name: "pool", quote: goodQuote("pool", "3400", 500_000)}
	market := &fakeSource{name: "market", quote: goodQuote("market", "3410", 800_000)}
	dead := &fakeSource{name: "dead", err: errors.New("down")}

	agg := newAggregator(t, permissiveGate(), pool, market, dead)

	quotes := agg.VenueQuotes(context.Background(), wethUSDC())
	if len(quotes) != 2 {
		t.Fatalf("got %d venue quotes, want 2", len(quotes))
	}
	if quotes[0].Source != "pool" || quotes[1].Source != "market" {
		t.Fatalf("venue quotes out of priority order: %s then %s", quotes[0].Source, quotes[1].Source)
	}
	if pool.calls.Load() != 1 || market.calls.Load() != 1 {
		t.Error("every source must be consulted exactly once")
	}
}

func TestAggregatorVenueQuotesBypassesCache(t *testing.T) {
	pool := &fakeSource{name: "pool", quote: goodQuote("pool", "3400", 500_000)}
	agg := newAggregator(t, permissiveGate(), pool)

	agg.VenueQuotes(context.Background(), wethUSDC())
	agg.VenueQuotes(context.Background(), wethUSDC())
	if pool.calls.Load() != 2 {
		t.Errorf("source consulted %d times, want 2 (no cache serving)", pool.calls.Load())
	}

	// The priority view still lands in the cache for plain Quote calls.
	agg.Quote(context.Background(), wethUSDC())
	if pool.calls.Load() != 2 {
		t.Errorf("source consulted %d times after cached Quote, want still 2", pool.calls.Load())
	}
}
