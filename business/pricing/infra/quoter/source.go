// Package quoter prices pairs against on-chain pools through the Uniswap V3
// QuoterV2, with a V2 router fallback for pairs that only trade there.
package quoter

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	chainapp "github.com/jm31-art/ultraflashbot/business/chain/app"
	"github.com/jm31-art/ultraflashbot/business/pricing/app"
	"github.com/jm31-art/ultraflashbot/business/pricing/domain"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/cache"
	"github.com/jm31-art/ultraflashbot/internal/circuitbreaker"
	"github.com/jm31-art/ultraflashbot/internal/config"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

const (
	tracerName = "pricing.quoter"
	meterName  = "pricing.quoter"

	// VenueV3 and VenueV2 name the pools a route goes through.
	VenueV3 = "uniswap_v3"
	VenueV2 = "uniswap_v2"

	liquidityTTL = 30 * time.Second
)

// Ensure Source implements both pricing ports.
var (
	_ app.Source      = (*Source)(nil)
	_ app.RouteSource = (*Source)(nil)
)

// usdStables are quote assets whose pool balance reads directly as USD depth.
var usdStables = map[string]bool{
	"USDC": true,
	"USDT": true,
	"DAI":  true,
	"BUSD": true,
}

// sourceMetrics holds OTEL metric instruments.
type sourceMetrics struct {
	quotesTotal  metric.Int64Counter
	quoteLatency metric.Float64Histogram
	quoteErrors  metric.Int64Counter
	v2Fallbacks  metric.Int64Counter
}

// Source quotes pairs against the chain's own pools. It is the highest
// priority source: the pool is where an opportunity would actually trade.
type Source struct {
	nodes   *chainapp.Manager
	quoter  common.Address
	router  common.Address
	factory common.Address

	quoterABI  abi.ABI
	routerABI  abi.ABI
	factoryABI abi.ABI
	erc20ABI   abi.ABI

	feeTiers []int

	liquidity *cache.Cache[string, decimal.Decimal]
	logger    logger.LoggerInterface
	cb        *circuitbreaker.CircuitBreaker[[]byte]

	tracer  trace.Tracer
	metrics *sourceMetrics
}

// NewSource creates an on-chain quoter source over the frozen connection set.
func NewSource(cfg config.UniswapConfig, nodes *chainapp.Manager, log logger.LoggerInterface) (*Source, error) {
	quoterABI, err := abi.JSON(strings.NewReader(QuoterV2ABI))
	if err != nil {
		return nil, fmt.Errorf("parse quoter ABI: %w", err)
	}
	routerABI, err := abi.JSON(strings.NewReader(RouterV2ABI))
	if err != nil {
		return nil, fmt.Errorf("parse router ABI: %w", err)
	}
	factoryABI, err := abi.JSON(strings.NewReader(FactoryV3ABI))
	if err != nil {
		return nil, fmt.Errorf("parse factory ABI: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 ABI: %w", err)
	}

	s := &Source{
		nodes:      nodes,
		quoter:     cfg.QuoterAddressHex(),
		router:     cfg.RouterAddressHex(),
		factory:    cfg.FactoryAddressHex(),
		quoterABI:  quoterABI,
		routerABI:  routerABI,
		factoryABI: factoryABI,
		erc20ABI:   erc20ABI,
		feeTiers:   []int{cfg.DefaultFeeTier, FeeTier005, FeeTier030, FeeTier100},
		liquidity:  cache.New[string, decimal.Decimal](time.Minute, cache.WithCapacity(256)),
		logger:     log,
		tracer:     otel.Tracer(tracerName),
	}

	cbCfg := circuitbreaker.DefaultConfig("uniswap-quoter")
	s.cb = circuitbreaker.New[[]byte](cbCfg)

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
		"quoter_quotes_total",
		metric.WithDescription("Total pool quote requests"),
	)
	if err != nil {
		return err
	}

	s.metrics.quoteLatency, err = meter.Float64Histogram(
		"quoter_quote_latency_ms",
		metric.WithDescription("Pool quote latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	s.metrics.quoteErrors, err = meter.Int64Counter(
		"quoter_quote_errors_total",
		metric.WithDescription("Total pool quote errors"),
	)
	if err != nil {
		return err
	}

	s.metrics.v2Fallbacks, err = meter.Int64Counter(
		"quoter_v2_fallbacks_total",
		metric.WithDescription("Quotes served by the V2 router after V3 found no pool"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Name identifies the source in logs and metrics.
func (s *Source) Name() string { return "uniswap" }

// Quote prices one base unit of the pair against the pools. The hint's fee
// tier is tried first when present; otherwise all tiers are swept and the
// best output wins.
func (s *Source) Quote(ctx context.Context, pair domain.Pair, hint *domain.Route) (*domain.PriceQuote, error) {
	ctx, span := s.tracer.Start(ctx, "quoter.quote",
		trace.WithAttributes(attribute.String("pair", pair.String())),
	)
	defer span.End()

	start := time.Now()
	s.metrics.quotesTotal.Add(ctx, 1)

	tokenIn, tokenOut, err := pairAddresses(pair)
	if err != nil {
		s.metrics.quoteErrors.Add(ctx, 1)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	amountIn := oneUnit(pair.Base.Decimals())

	tiers := s.feeTiers
	if hint != nil && hint.Venue == VenueV3 && len(hint.FeeTiers) > 0 {
		tiers = append(hint.FeeTiers, s.feeTiers...)
	}

	var best *QuoteResult
	var bestTier int
	for _, tier := range tiers {
		q, qerr := s.quoteTier(ctx, tokenIn, tokenOut, amountIn, tier)
		if qerr != nil {
			span.AddEvent("fee_tier_failed",
				trace.WithAttributes(
					attribute.Int("fee_tier", tier),
					attribute.String("error", qerr.Error()),
				),
			)
			continue
		}
		if best == nil || q.AmountOut.Cmp(best.AmountOut) > 0 {
			best = q
			bestTier = tier
		}
	}

	venue := VenueV3
	var amountOut *big.Int
	if best != nil {
		amountOut = best.AmountOut
	} else {
		// No V3 pool holds the pair. The V2 router prices it if a pair
		// contract exists there.
		amountOut, err = s.quoteV2(ctx, tokenIn, tokenOut, amountIn)
		if err != nil {
			s.metrics.quoteErrors.Add(ctx, 1)
			s.metrics.quoteLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
			span.SetStatus(codes.Error, "no pool quote")
			return nil, apperror.New(apperror.CodeQuoteFailed,
				apperror.WithMessage("no pool found for pair"),
				apperror.WithCause(err),
				apperror.WithContext("pair", pair.String()))
		}
		venue = VenueV2
		s.metrics.v2Fallbacks.Add(ctx, 1)
	}

	if amountOut.Sign() <= 0 {
		s.metrics.quoteErrors.Add(ctx, 1)
		span.SetStatus(codes.Error, "zero output")
		return nil, apperror.New(apperror.CodeQuoteFailed,
			apperror.WithMessage("pool returned zero output"),
			apperror.WithContext("pair", pair.String()))
	}

	price := unitPrice(amountIn, pair.Base.Decimals(), amountOut, pair.Quote.Decimals())

	liq := decimal.Zero
	if venue == VenueV3 {
		liq = s.poolDepthUSD(ctx, pair, tokenIn, tokenOut, bestTier)
	}

	s.metrics.quoteLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	span.SetAttributes(
		attribute.String("venue", venue),
		attribute.String("price", price.String()),
		attribute.Int("fee_tier", bestTier),
	)
	span.SetStatus(codes.Ok, "quote received")

	s.logger.Debug(ctx, "pool quote",
		"pair", pair.String(),
		"venue", venue,
		"price", price.String(),
		"fee_tier", bestTier,
		"liquidity_usd", liq.StringFixed(0),
	)

	return &domain.PriceQuote{
		Pair:         pair,
		Price:        price,
		Source:       s.Name(),
		LiquidityUSD: liq,
		ObservedAt:   time.Now(),
	}, nil
}

// RouteFor finds which pool the pair trades best through right now.
func (s *Source) RouteFor(ctx context.Context, pair domain.Pair) (*domain.Route, error) {
	ctx, span := s.tracer.Start(ctx, "quoter.route_for",
		trace.WithAttributes(attribute.String("pair", pair.String())),
	)
	defer span.End()

	tokenIn, tokenOut, err := pairAddresses(pair)
	if err != nil {
		return nil, err
	}

	amountIn := oneUnit(pair.Base.Decimals())

	var best *QuoteResult
	var bestTier int
	for _, tier := range s.feeTiers {
		q, qerr := s.quoteTier(ctx, tokenIn, tokenOut, amountIn, tier)
		if qerr != nil {
			continue
		}
		if best == nil || q.AmountOut.Cmp(best.AmountOut) > 0 {
			best = q
			bestTier = tier
		}
	}

	if best != nil {
		span.SetAttributes(attribute.Int("fee_tier", bestTier))
		return &domain.Route{
			Venue:      VenueV3,
			Path:       []common.Address{tokenIn, tokenOut},
			FeeTiers:   []int{bestTier},
			ObservedAt: time.Now(),
		}, nil
	}

	if _, err := s.quoteV2(ctx, tokenIn, tokenOut, amountIn); err == nil {
		return &domain.Route{
			Venue:      VenueV2,
			Path:       []common.Address{tokenIn, tokenOut},
			ObservedAt: time.Now(),
		}, nil
	}

	return nil, apperror.New(apperror.CodeQuoteFailed,
		apperror.WithMessage("no route for pair"),
		apperror.WithContext("pair", pair.String()))
}

// quoteTier calls QuoterV2.quoteExactInputSingle for a specific fee tier.
func (s *Source) quoteTier(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, feeTier int) (*QuoteResult, error) {
	callData, err := s.quoterABI.Pack("quoteExactInputSingle", QuoteExactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		Fee:               big.NewInt(int64(feeTier)),
		SqrtPriceLimitX96: big.NewInt(0), // No price limit
	})
	if err != nil {
		return nil, fmt.Errorf("encode call: %w", err)
	}

	result, err := s.call(ctx, s.quoter, callData)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeContractError,
			fmt.Sprintf("quoter call failed for fee tier %d", feeTier))
	}

	outputs, err := s.quoterABI.Unpack("quoteExactInputSingle", result)
	if err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if len(outputs) < 4 {
		return nil, fmt.Errorf("unexpected output length: %d", len(outputs))
	}

	return &QuoteResult{
		AmountOut:               outputs[0].(*big.Int),
		SqrtPriceX96After:       outputs[1].(*big.Int),
		InitializedTicksCrossed: outputs[2].(uint32),
		GasEstimate:             outputs[3].(*big.Int),
	}, nil
}

// quoteV2 asks the V2 router for the output along the direct path.
func (s *Source) quoteV2(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	callData, err := s.routerABI.Pack("getAmountsOut", amountIn, []common.Address{tokenIn, tokenOut})
	if err != nil {
		return nil, fmt.Errorf("encode call: %w", err)
	}

	result, err := s.call(ctx, s.router, callData)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeContractError, "router call failed")
	}

	outputs, err := s.routerABI.Unpack("getAmountsOut", result)
	if err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if len(outputs) < 1 {
		return nil, fmt.Errorf("empty router output")
	}

	amounts, ok := outputs[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, fmt.Errorf("unexpected router output shape")
	}

	return amounts[len(amounts)-1], nil
}

// poolDepthUSD reads the quote-token balance of the pool behind the quote.
// Only USD-stable quote tokens translate to a USD figure; anything else
// reports zero, which consumers treat as unknown depth.
func (s *Source) poolDepthUSD(ctx context.Context, pair domain.Pair, tokenIn, tokenOut common.Address, feeTier int) decimal.Decimal {
	if !usdStables[pair.Quote.Symbol()] {
		return decimal.Zero
	}

	key := fmt.Sprintf("%s:%d", pair.String(), feeTier)
	if liq, ok := s.liquidity.Get(ctx, key); ok {
		return liq
	}

	poolData, err := s.factoryABI.Pack("getPool", tokenIn, tokenOut, big.NewInt(int64(feeTier)))
	if err != nil {
		return decimal.Zero
	}
	raw, err := s.call(ctx, s.factory, poolData)
	if err != nil || len(raw) < 32 {
		return decimal.Zero
	}
	pool := common.BytesToAddress(raw[12:32])
	if pool == (common.Address{}) {
		return decimal.Zero
	}

	balData, err := s.erc20ABI.Pack("balanceOf", pool)
	if err != nil {
		return decimal.Zero
	}
	raw, err = s.call(ctx, tokenOut, balData)
	if err != nil || len(raw) < 32 {
		return decimal.Zero
	}
	balance := new(big.Int).SetBytes(raw)

	liq := decimal.NewFromBigInt(balance, -int32(pair.Quote.Decimals()))
	s.liquidity.Set(ctx, key, liq, liquidityTTL)
	return liq
}

// call runs one eth_call through the breaker and the read failover chain.
func (s *Source) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return s.cb.Execute(func() ([]byte, error) {
		var out []byte
		err := s.nodes.WithRead(ctx, "call_contract", func(c chainapp.NodeClient) error {
			b, cerr := c.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
			if cerr != nil {
				return cerr
			}
			out = b
			return nil
		})
		return out, err
	})
}

// Close releases the depth cache.
func (s *Source) Close() error {
	s.liquidity.Close()
	return nil
}

// pairAddresses resolves both legs to token addresses.
func pairAddresses(pair domain.Pair) (common.Address, common.Address, error) {
	if !pair.Base.IsToken() || !pair.Quote.IsToken() {
		return common.Address{}, common.Address{}, apperror.New(apperror.CodeQuoteFailed,
			apperror.WithMessage("pair has a leg with no on-chain address"),
			apperror.WithContext("pair", pair.String()))
	}
	return pair.Base.Address(), pair.Quote.Address(), nil
}

// oneUnit is 10^decimals, one whole token of the base asset.
func oneUnit(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// unitPrice converts raw in/out amounts to a quote-per-base price.
func unitPrice(amountIn *big.Int, inDecimals uint8, amountOut *big.Int, outDecimals uint8) decimal.Decimal {
	in := decimal.NewFromBigInt(amountIn, -int32(inDecimals))
	out := decimal.NewFromBigInt(amountOut, -int32(outDecimals))
	return out.Div(in)
}
