// Package rest is the last-resort price source: a public exchange ticker
// endpoint speaking the Coinbase Exchange product API shape. It reports a
// price only; depth is unknown at this tier.
package rest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jm31-art/ultraflashbot/business/pricing/app"
	"github.com/jm31-art/ultraflashbot/business/pricing/domain"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/httpclient"
	"github.com/jm31-art/ultraflashbot/internal/logger"
	"github.com/jm31-art/ultraflashbot/internal/ratelimit"
)

const tracerName = "pricing.rest"

// Ensure Source implements the pricing port.
var _ app.Source = (*Source)(nil)

// symbolOverrides maps wrapped chain assets to their exchange listings.
var symbolOverrides = map[string]string{
	"WETH": "ETH",
	"WBTC": "BTC",
}

// tickerResponse is the product ticker payload.
type tickerResponse struct {
	Ask    string `json:"ask"`
	Bid    string `json:"bid"`
	Price  string `json:"price"`
	Volume string `json:"volume"`
}

// Source quotes pairs off a public ticker REST endpoint.
type Source struct {
	client  *httpclient.Client
	limiter *ratelimit.Limiter
	logger  logger.LoggerInterface
	tracer  trace.Tracer
}

// NewSource creates a ticker source against baseURL.
func NewSource(baseURL string, log logger.LoggerInterface) (*Source, error) {
	client, err := httpclient.New(
		httpclient.WithProviderName("ticker-rest"),
		httpclient.WithBaseURL(baseURL),
		httpclient.WithRequestTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}

	return &Source{
		client:  client,
		limiter: ratelimit.PerSecond(5, 5),
		logger:  log,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Name identifies the source in logs and metrics.
func (s *Source) Name() string { return "rest" }

// Quote returns the last trade price for the pair's listing. Liquidity is
// always unknown from this source.
func (s *Source) Quote(ctx context.Context, pair domain.Pair, _ *domain.Route) (*domain.PriceQuote, error) {
	ctx, span := s.tracer.Start(ctx, "rest.quote",
		trace.WithAttributes(attribute.String("pair", pair.String())),
	)
	defer span.End()

	product := ProductFor(pair)
	span.SetAttributes(attribute.String("product", product))

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, apperror.New(apperror.CodeRateLimitExceeded,
			apperror.WithCause(err),
			apperror.WithContext("product", product))
	}

	var ticker tickerResponse
	if err := s.client.GetJSON(ctx, fmt.Sprintf("/products/%s/ticker", product), nil, &ticker); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, apperror.Wrap(err, apperror.CodePriceUnavailable,
			fmt.Sprintf("ticker failed for %s", product))
	}

	price, err := parseTickerPrice(ticker)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, apperror.New(apperror.CodePriceUnavailable,
			apperror.WithCause(err),
			apperror.WithContext("product", product))
	}

	span.SetAttributes(attribute.String("price", price.String()))
	span.SetStatus(codes.Ok, "quote received")

	s.logger.Debug(ctx, "rest ticker quote",
		"pair", pair.String(), "product", product, "price", price.String())

	return &domain.PriceQuote{
		Pair:       pair,
		Price:      price,
		Source:     s.Name(),
		ObservedAt: time.Now(),
	}, nil
}

// parseTickerPrice prefers the book mid and falls back to the last trade.
func parseTickerPrice(t tickerResponse) (decimal.Decimal, error) {
	bid, bidErr := decimal.NewFromString(t.Bid)
	ask, askErr := decimal.NewFromString(t.Ask)
	if bidErr == nil && askErr == nil && bid.Sign() > 0 && ask.Sign() > 0 {
		return bid.Add(ask).Div(decimal.NewFromInt(2)), nil
	}

	last, err := decimal.NewFromString(t.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable ticker: bid=%q ask=%q price=%q", t.Bid, t.Ask, t.Price)
	}
	return last, nil
}

// ProductFor builds the product id for a pair. WETH-USDC becomes ETH-USDC.
func ProductFor(pair domain.Pair) string {
	return mappedSymbol(pair.Base.Symbol()) + "-" + mappedSymbol(pair.Quote.Symbol())
}

func mappedSymbol(sym string) string {
	if mapped, ok := symbolOverrides[sym]; ok {
		return mapped
	}
	return sym
}
