// Package binance cross-checks pool prices against Binance market data.
// Wrapped chain assets map to their CEX listings (WETH quotes as ETH).
package binance

import (
	"context"
	"fmt"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jm31-art/ultraflashbot/business/pricing/app"
	"github.com/jm31-art/ultraflashbot/business/pricing/domain"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/circuitbreaker"
	"github.com/jm31-art/ultraflashbot/internal/logger"
	"github.com/jm31-art/ultraflashbot/internal/ratelimit"
)

const (
	tracerName = "pricing.binance"
	meterName  = "pricing.binance"

	depthLevels = 20
)

// Ensure Source implements the pricing port.
var _ app.Source = (*Source)(nil)

// symbolOverrides maps wrapped chain assets to their CEX listings.
var symbolOverrides = map[string]string{
	"WETH": "ETH",
	"WBTC": "BTC",
	"WBNB": "BNB",
}

// usdStables are quote legs whose depth notional reads directly as USD.
var usdStables = map[string]bool{
	"USDC": true,
	"USDT": true,
	"BUSD": true,
}

// bookTop is the top of book for the breaker to carry.
type bookTop struct {
	bid decimal.Decimal
	ask decimal.Decimal
}

// sourceMetrics holds OTEL metric instruments.
type sourceMetrics struct {
	quotesTotal  metric.Int64Counter
	quoteLatency metric.Float64Histogram
	quoteErrors  metric.Int64Counter
}

// Source serves second-priority quotes from the Binance spot REST API.
// Market data endpoints need no credentials.
type Source struct {
	client  *binance.Client
	limiter *ratelimit.Limiter
	logger  logger.LoggerInterface
	cb      *circuitbreaker.CircuitBreaker[*bookTop]

	tracer  trace.Tracer
	metrics *sourceMetrics
}

// NewSource creates a Binance market data source. The request budget stays
// well under the exchange's request weight limit.
func NewSource(log logger.LoggerInterface) (*Source, error) {
	s := &Source{
		client:  binance.NewClient("", ""),
		limiter: ratelimit.PerMinute(600),
		logger:  log,
		tracer:  otel.Tracer(tracerName),
	}

	cbCfg := circuitbreaker.DefaultConfig("binance-rest")
	s.cb = circuitbreaker.New[*bookTop](cbCfg)

	if err := s.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return s, nil
}

func (s *Source) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	s.metrics = &sourceMetrics{}

	s.metrics.quotesTotal, err = meter.Int64Counter(
		"binance_quotes_total",
		metric.WithDescription("Total market data quote requests"),
	)
	if err != nil {
		return err
	}

	s.metrics.quoteLatency, err = meter.Float64Histogram(
		"binance_quote_latency_ms",
		metric.WithDescription("Market data quote latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	s.metrics.quoteErrors, err = meter.Int64Counter(
		"binance_quote_errors_total",
		metric.WithDescription("Total market data quote errors"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Name identifies the source in logs and metrics.
func (s *Source) Name() string { return "binance" }

// Quote returns the book mid price for the pair's CEX listing. The route
// hint is pool-specific and ignored here.
func (s *Source) Quote(ctx context.Context, pair domain.Pair, _ *domain.Route) (*domain.PriceQuote, error) {
	ctx, span := s.tracer.Start(ctx, "binance.quote",
		trace.WithAttributes(attribute.String("pair", pair.String())),
	)
	defer span.End()

	start := time.Now()
	s.metrics.quotesTotal.Add(ctx, 1)

	symbol := SymbolFor(pair)
	span.SetAttributes(attribute.String("symbol", symbol))

	if err := s.limiter.Wait(ctx); err != nil {
		s.metrics.quoteErrors.Add(ctx, 1)
		return nil, apperror.New(apperror.CodeRateLimitExceeded,
			apperror.WithCause(err),
			apperror.WithContext("symbol", symbol))
	}

	top, err := s.cb.Execute(func() (*bookTop, error) {
		return s.fetchBookTop(ctx, symbol)
	})
	if err != nil {
		s.metrics.quoteErrors.Add(ctx, 1)
		s.metrics.quoteLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
		span.SetStatus(codes.Error, err.Error())
		return nil, apperror.Wrap(err, apperror.CodePriceUnavailable,
			fmt.Sprintf("book ticker failed for %s", symbol))
	}

	mid := top.bid.Add(top.ask).Div(decimal.NewFromInt(2))

	liq := decimal.Zero
	if usdStables[pair.Quote.Symbol()] {
		// Depth is advisory. A missing read leaves liquidity unknown
		// rather than failing the quote.
		liq = s.bidDepthUSD(ctx, symbol)
	}

	s.metrics.quoteLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	span.SetAttributes(attribute.String("price", mid.String()))
	span.SetStatus(codes.Ok, "quote received")

	s.logger.Debug(ctx, "market data quote",
		"pair", pair.String(),
		"symbol", symbol,
		"price", mid.String(),
		"liquidity_usd", liq.StringFixed(0),
	)

	return &domain.PriceQuote{
		Pair:         pair,
		Price:        mid,
		Source:       s.Name(),
		LiquidityUSD: liq,
		ObservedAt:   time.Now(),
	}, nil
}

// fetchBookTop reads the best bid/ask for a symbol.
func (s *Source) fetchBookTop(ctx context.Context, symbol string) (*bookTop, error) {
	tickers, err := s.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("symbol %s not listed", symbol)
	}

	bid, err := decimal.NewFromString(tickers[0].BidPrice)
	if err != nil {
		return nil, fmt.Errorf("parse bid %q: %w", tickers[0].BidPrice, err)
	}
	ask, err := decimal.NewFromString(tickers[0].AskPrice)
	if err != nil {
		return nil, fmt.Errorf("parse ask %q: %w", tickers[0].AskPrice, err)
	}
	if bid.Sign() <= 0 || ask.Sign() <= 0 {
		return nil, fmt.Errorf("empty book for %s", symbol)
	}

	return &bookTop{bid: bid, ask: ask}, nil
}

// bidDepthUSD sums the bid-side notional over the top depth levels.
func (s *Source) bidDepthUSD(ctx context.Context, symbol string) decimal.Decimal {
	depth, err := s.client.NewDepthService().Symbol(symbol).Limit(depthLevels).Do(ctx)
	if err != nil {
		s.logger.Debug(ctx, "depth read failed", "symbol", symbol, "error", err.Error())
		return decimal.Zero
	}

	total := decimal.Zero
	for _, bid := range depth.Bids {
		price, perr := decimal.NewFromString(bid.Price)
		qty, qerr := decimal.NewFromString(bid.Quantity)
		if perr != nil || qerr != nil {
			continue
		}
		total = total.Add(price.Mul(qty))
	}
	return total
}

// SymbolFor builds the exchange symbol for a pair, mapping wrapped assets
// to their listings. WETH-USDC becomes ETHUSDC.
func SymbolFor(pair domain.Pair) string {
	return mappedSymbol(pair.Base.Symbol()) + mappedSymbol(pair.Quote.Symbol())
}

func mappedSymbol(sym string) string {
	if mapped, ok := symbolOverrides[sym]; ok {
		return mapped
	}
	return sym
}
