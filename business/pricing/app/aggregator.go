package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jm31-art/ultraflashbot/business/pricing/domain"
	"github.com/jm31-art/ultraflashbot/internal/cache"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

const (
	tracerName = "pricing"
	meterName  = "pricing"
)

// AggregatorConfig holds aggregator tuning.
type AggregatorConfig struct {
	PriceTTL      time.Duration // pair cache TTL, ~1s
	RouteTTL      time.Duration // route cache TTL, tens of seconds
	CacheCapacity int           // max entries per cache; oldest evicted beyond it
	SourceTimeout time.Duration // per-source budget for one quote attempt
}

// aggregatorMetrics holds OTEL metric instruments.
type aggregatorMetrics struct {
	quotesTotal    metric.Int64Counter
	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
	gateRejects    metric.Int64Counter
	quoteLatency   metric.Float64Histogram
	sourceFailures metric.Int64Counter
}

// QuoteOption tweaks one Quote call.
type QuoteOption func(*quoteOpts)

type quoteOpts struct {
	fresh bool
	hint  *domain.Route
}

// WithFresh bypasses the pair cache for this call. Used by the execution
// coordinator's profit re-validation, where a cached price defeats the point.
func WithFresh() QuoteOption {
	return func(o *quoteOpts) { o.fresh = true }
}

// WithRouteHint passes a known swap route to on-chain quoters.
func WithRouteHint(r *domain.Route) QuoteOption {
	return func(o *quoteOpts) { o.hint = r }
}

// Aggregator serves prices from an ordered chain of sources with a short
// pair cache and a longer route cache. A pair nobody can price validly is
// unavailable (nil), never an error: missing prices are the normal state of
// the world, not a fault.
type Aggregator struct {
	config  AggregatorConfig
	sources []Source
	gate    domain.Gate
	logger  logger.LoggerInterface

	prices *cache.Cache[string, *domain.PriceQuote]
	routes *cache.Cache[string, *domain.Route]

	// last accepted price per pair, kept past cache expiry so the jump
	// check has a reference even after a TTL lapse
	lastMu sync.Mutex
	last   map[string]decimal.Decimal

	nativePair domain.Pair

	tracer  trace.Tracer
	metrics *aggregatorMetrics
}

// NewAggregator creates an aggregator over sources in priority order.
// nativePair prices the gas asset in USD terms for cost conversion.
func NewAggregator(cfg AggregatorConfig, gate domain.Gate, sources []Source, nativePair domain.Pair, log logger.LoggerInterface) (*Aggregator, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("pricing: no sources configured")
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 800 * time.Millisecond
	}

	a := &Aggregator{
		config:     cfg,
		sources:    sources,
		gate:       gate,
		logger:     log,
		prices:     cache.New[string, *domain.PriceQuote](30*time.Second, cache.WithCapacity(cfg.CacheCapacity)),
		routes:     cache.New[string, *domain.Route](time.Minute, cache.WithCapacity(cfg.CacheCapacity)),
		last:       make(map[string]decimal.Decimal),
		nativePair: nativePair,
		tracer:     otel.Tracer(tracerName),
	}

	if err := a.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return a, nil
}

func (a *Aggregator) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	a.metrics = &aggregatorMetrics{}

	a.metrics.quotesTotal, err = meter.Int64Counter(
		"pricing_quotes_total",
		metric.WithDescription("Quote requests by outcome"),
	)
	if err != nil {
		return err
	}

	a.metrics.cacheHits, err = meter.Int64Counter(
		"pricing_cache_hits_total",
		metric.WithDescription("Pair cache hits"),
	)
	if err != nil {
		return err
	}

	a.metrics.cacheMisses, err = meter.Int64Counter(
		"pricing_cache_misses_total",
		metric.WithDescription("Pair cache misses"),
	)
	if err != nil {
		return err
	}

	a.metrics.gateRejects, err = meter.Int64Counter(
		"pricing_gate_rejects_total",
		metric.WithDescription("Quotes rejected by the sanity gate, by reason"),
	)
	if err != nil {
		return err
	}

	a.metrics.quoteLatency, err = meter.Float64Histogram(
		"pricing_quote_latency_ms",
		metric.WithDescription("End-to-end quote latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	a.metrics.sourceFailures, err = meter.Int64Counter(
		"pricing_source_failures_total",
		metric.WithDescription("Source errors and timeouts, by source"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Quote returns the best available quote for the pair, or nil when no source
// can produce a valid one.
func (a *Aggregator) Quote(ctx context.Context, pair domain.Pair, opts ...QuoteOption) *domain.PriceQuote {
	ctx, span := a.tracer.Start(ctx, "pricing.quote",
		trace.WithAttributes(attribute.String("pair", pair.String())),
	)
	defer span.End()

	var o quoteOpts
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	key := pair.String()

	if !o.fresh {
		if q, ok := a.prices.Get(ctx, key); ok && !q.IsStale(a.config.PriceTTL) {
			a.metrics.cacheHits.Add(ctx, 1)
			span.AddEvent("cache_hit")
			return q
		}
		a.metrics.cacheMisses.Add(ctx, 1)
	}

	hint := o.hint
	if hint == nil {
		if r, ok := a.routes.Get(ctx, key); ok && !r.IsStale(a.config.RouteTTL) {
			hint = r
		}
	}

	for _, src := range a.sources {
		q := a.tryOne(ctx, src, pair, hint)
		if q == nil {
			continue
		}

		a.accept(ctx, key, q)
		a.metrics.quotesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", src.Name()),
			attribute.String("outcome", "ok"),
		))
		a.metrics.quoteLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
		span.SetAttributes(
			attribute.String("source", src.Name()),
			attribute.String("price", q.Price.String()),
		)
		return q
	}

	a.metrics.quotesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", "none"),
		attribute.String("outcome", "unavailable"),
	))
	a.metrics.quoteLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	span.AddEvent("unavailable")
	a.logger.Debug(ctx, "no valid quote from any source", "pair", pair.String())
	return nil
}

// VenueQuotes returns every source's own gated view of the pair, in source
// priority order. Cross-venue spread detection needs simultaneous per-venue
// observations, so this path bypasses the pair cache and runs the sources
// concurrently under their individual timeouts.
func (a *Aggregator) VenueQuotes(ctx context.Context, pair domain.Pair) []*domain.PriceQuote {
	ctx, span := a.tracer.Start(ctx, "pricing.venue_quotes",
		trace.WithAttributes(attribute.String("pair", pair.String())),
	)
	defer span.End()

	key := pair.String()
	var hint *domain.Route
	if r, ok := a.routes.Get(ctx, key); ok && !r.IsStale(a.config.RouteTTL) {
		hint = r
	}

	quotes := make([]*domain.PriceQuote, len(a.sources))
	var wg sync.WaitGroup
	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			quotes[i] = a.tryOne(ctx, src, pair, hint)
		}(i, src)
	}
	wg.Wait()

	out := make([]*domain.PriceQuote, 0, len(a.sources))
	for _, q := range quotes {
		if q != nil {
			out = append(out, q)
		}
	}
	if len(out) > 0 {
		// The best-priority view refreshes the cache so a Quote call
		// right after sees a warm pair.
		a.accept(ctx, key, out[0])
	}

	span.SetAttributes(attribute.Int("venues", len(out)))
	return out
}

// tryOne runs one source under its timeout and gates the result.
func (a *Aggregator) tryOne(ctx context.Context, src Source, pair domain.Pair, hint *domain.Route) *domain.PriceQuote {
	sctx, cancel := context.WithTimeout(ctx, a.config.SourceTimeout)
	defer cancel()

	q, err := src.Quote(sctx, pair, hint)
	if err != nil {
		a.metrics.sourceFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", src.Name()),
		))
		a.logger.Debug(ctx, "price source failed",
			"source", src.Name(), "pair", pair.String(), "error", err.Error())
		return nil
	}
	if q == nil {
		return nil
	}

	if gerr := a.gate.Check(q, a.lastAccepted(pair.String())); gerr != nil {
		a.metrics.gateRejects.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", src.Name()),
			attribute.String("reason", gerr.Error()),
		))
		a.logger.Debug(ctx, "quote rejected by sanity gate",
			"source", src.Name(), "pair", pair.String(), "reason", gerr.Error())
		return nil
	}

	return q
}

// accept caches a gated quote and records it as the jump-check reference.
func (a *Aggregator) accept(ctx context.Context, key string, q *domain.PriceQuote) {
	a.prices.Set(ctx, key, q, a.config.PriceTTL)

	a.lastMu.Lock()
	a.last[key] = q.Price
	a.lastMu.Unlock()
}

func (a *Aggregator) lastAccepted(key string) decimal.Decimal {
	a.lastMu.Lock()
	defer a.lastMu.Unlock()
	return a.last[key]
}

// Prime feeds an externally observed quote (stream ticker) through the gate
// into the pair cache. Returns false when the gate rejects it.
func (a *Aggregator) Prime(ctx context.Context, q *domain.PriceQuote) bool {
	if q == nil {
		return false
	}
	key := q.Pair.String()
	if err := a.gate.Check(q, a.lastAccepted(key)); err != nil {
		a.metrics.gateRejects.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", q.Source),
			attribute.String("reason", err.Error()),
		))
		return false
	}
	a.accept(ctx, key, q)
	return true
}

// NativeUSD quotes the chain's gas asset in USD. Zero means unavailable.
func (a *Aggregator) NativeUSD(ctx context.Context) decimal.Decimal {
	q := a.Quote(ctx, a.nativePair)
	if q == nil {
		return decimal.Zero
	}
	return q.Price
}

// RouteFor returns a swap route for the pair, consulting route-capable
// sources on a cache miss. Nil means no route is known.
func (a *Aggregator) RouteFor(ctx context.Context, pair domain.Pair) *domain.Route {
	ctx, span := a.tracer.Start(ctx, "pricing.route_for",
		trace.WithAttributes(attribute.String("pair", pair.String())),
	)
	defer span.End()

	key := pair.String()
	if r, ok := a.routes.Get(ctx, key); ok && !r.IsStale(a.config.RouteTTL) {
		span.AddEvent("cache_hit")
		return r
	}

	for _, src := range a.sources {
		rs, ok := src.(RouteSource)
		if !ok {
			continue
		}

		sctx, cancel := context.WithTimeout(ctx, a.config.SourceTimeout)
		r, err := rs.RouteFor(sctx, pair)
		cancel()
		if err != nil || r == nil {
			if err != nil {
				a.logger.Debug(ctx, "route discovery failed",
					"source", src.Name(), "pair", pair.String(), "error", err.Error())
			}
			continue
		}

		a.routes.Set(ctx, key, r, a.config.RouteTTL)
		span.SetAttributes(attribute.String("venue", r.Venue))
		return r
	}

	return nil
}

// Close releases both caches.
func (a *Aggregator) Close() error {
	a.prices.Close()
	a.routes.Close()
	return nil
}
