// Package app implements execution coordination: pre-flight guards,
// profit revalidation, transaction construction and handoff to settlement
// tracking.
package app

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/jm31-art/ultraflashbot/business/execution/domain"
	lendingdomain "github.com/jm31-art/ultraflashbot/business/lending/domain"
	oppdomain "github.com/jm31-art/ultraflashbot/business/opportunity/domain"
	pricingdomain "github.com/jm31-art/ultraflashbot/business/pricing/domain"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/asset"
	"github.com/jm31-art/ultraflashbot/internal/journal"
	"github.com/jm31-art/ultraflashbot/internal/logger"
	"github.com/jm31-art/ultraflashbot/internal/notify"
	"github.com/jm31-art/ultraflashbot/internal/safety"
)

const (
	tracerName = "execution"
	meterName  = "execution"
)

// CoordinatorConfig holds execution guard parameters.
type CoordinatorConfig struct {
	// Enabled gates live submission. Disabled, the coordinator journals
	// what it would have done and returns without an attempt.
	Enabled bool

	// MaxConcurrent bounds attempts between submission and settlement.
	MaxConcurrent int64

	// MaxNotionalUSD rejects any single attempt above this size.
	MaxNotionalUSD decimal.Decimal

	// ProfitDriftPct aborts submission when the freshly repriced gross
	// has fallen more than this percentage below the scanned gross.
	ProfitDriftPct float64

	FlashloanEnabled bool
	FlashloanMinUSD  decimal.Decimal

	// SimulateFirst runs a bundle simulation before live submission.
	SimulateFirst bool

	// GasUnits maps contract actions to gas unit schedules.
	GasUnits map[string]uint64

	ChainID uint64
}

type coordinatorMetrics struct {
	dispatches metric.Int64Counter
	inflight   metric.Int64UpDownCounter
}

// Coordinator turns ranked opportunities into signed, submitted
// settlement transactions. Every guard that refuses an opportunity
// leaves a journal trail; nothing is dropped silently.
type Coordinator struct {
	config   CoordinatorConfig
	registry *asset.Registry
	builder  TxBuilder
	relays   TxSubmitter
	fresh    FreshPricer
	heads    HeadReader
	sink     SettlementSink
	stop     *safety.Switch
	journal  *journal.Journal
	notifier notify.Notifier
	logger   logger.LoggerInterface

	inflight atomic.Int64

	tracer  trace.Tracer
	metrics *coordinatorMetrics
}

// NewCoordinator wires the execution pipeline.
func NewCoordinator(cfg CoordinatorConfig, reg *asset.Registry, builder TxBuilder, relays TxSubmitter,
	fresh FreshPricer, heads HeadReader, sink SettlementSink, stop *safety.Switch,
	jnl *journal.Journal, notifier notify.Notifier, log logger.LoggerInterface) (*Coordinator, error) {

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.ProfitDriftPct <= 0 {
		cfg.ProfitDriftPct = 20
	}

	c := &Coordinator{
		config:   cfg,
		registry: reg,
		builder:  builder,
		relays:   relays,
		fresh:    fresh,
		heads:    heads,
		sink:     sink,
		stop:     stop,
		journal:  jnl,
		notifier: notifier,
		logger:   log,
		tracer:   otel.Tracer(tracerName),
	}
	if err := c.initMetrics(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Coordinator) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	c.metrics = &coordinatorMetrics{}

	c.metrics.dispatches, err = meter.Int64Counter(
		"execution_dispatches_total",
		metric.WithDescription("Opportunities handed to execution, by kind and outcome"),
	)
	if err != nil {
		return err
	}

	c.metrics.inflight, err = meter.Int64UpDownCounter(
		"execution_inflight",
		metric.WithDescription("Attempts between submission and settlement"),
	)
	if err != nil {
		return err
	}

	return nil
}

// InFlight reports attempts currently holding a concurrency slot.
func (c *Coordinator) InFlight() int64 {
	return c.inflight.Load()
}

// Execute runs one opportunity through the guard chain and submits it.
// A nil attempt with a nil error means execution is disabled and the
// opportunity was journaled as scan-only. The concurrency slot is held
// until the settlement tracker reports a terminal status.
func (c *Coordinator) Execute(ctx context.Context, opp oppdomain.Opportunity) (*domain.Attempt, error) {
	ctx, span := c.tracer.Start(ctx, "execution.execute",
		trace.WithAttributes(
			attribute.String("kind", string(opp.Kind)),
			attribute.String("reference", opp.Reference),
		),
	)
	defer span.End()

	if c.stop.Engaged() {
		return nil, apperror.New(apperror.CodeEmergencyStop,
			apperror.WithContext("reason", c.stop.Reason()))
	}
	if !c.config.Enabled {
		c.journalSkip(ctx, &opp, "execution disabled")
		c.logger.Info(ctx, "scan-only mode, opportunity not executed",
			"reference", opp.Reference, "net_usd", opp.Net.StringFixed(2))
		return nil, nil
	}

	for {
		cur := c.inflight.Load()
		if cur >= c.config.MaxConcurrent {
			c.rejected(ctx, &opp, "concurrency")
			return nil, apperror.New(apperror.CodeConcurrencyLimit,
				apperror.WithContext("in_flight", cur))
		}
		if c.inflight.CompareAndSwap(cur, cur+1) {
			break
		}
	}
	c.metrics.inflight.Add(ctx, 1)

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			c.inflight.Add(-1)
			c.metrics.inflight.Add(context.Background(), -1)
		})
	}
	handedOff := false
	defer func() {
		if !handedOff {
			release()
		}
	}()

	if opp.AmountUSD.GreaterThan(c.config.MaxNotionalUSD) {
		c.journalSkip(ctx, &opp, "notional cap")
		c.rejected(ctx, &opp, "notional")
		return nil, apperror.New(apperror.CodeNotionalExceeded,
			apperror.WithContext("amount_usd", opp.AmountUSD.StringFixed(0)),
			apperror.WithContext("cap_usd", c.config.MaxNotionalUSD.StringFixed(0)))
	}

	f, err := c.revalidate(ctx, &opp)
	if err != nil {
		c.journalSkip(ctx, &opp, "profit revalidation failed")
		c.rejected(ctx, &opp, "revalidation")
		span.SetStatus(codes.Error, "revalidation failed")
		return nil, err
	}

	tx, path, relayName, err := c.buildAndSubmit(ctx, &opp, f)
	if err != nil {
		c.journalError(ctx, &opp, err)
		c.rejected(ctx, &opp, "submission")
		span.SetStatus(codes.Error, "submission failed")
		return nil, err
	}

	at := &domain.Attempt{
		ID:              uuid.NewString(),
		Reference:       opp.Reference,
		Kind:            opp.Kind,
		Path:            path,
		TxHash:          tx.Hash(),
		Nonce:           tx.Nonce(),
		GasLimit:        tx.Gas(),
		Relay:           relayName,
		EstimatedNetUSD: opp.Net,
		AmountUSD:       opp.AmountUSD,
		Status:          domain.StatusPending,
		SubmittedAt:     time.Now(),
	}

	c.journalTrade(ctx, at)
	c.notifier.Notify(ctx, notify.Event{
		Severity: notify.SeverityInfo,
		Title:    "trade submitted",
		Body:     at.String(),
		At:       time.Now(),
	})
	c.metrics.dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(opp.Kind)),
		attribute.String("outcome", "submitted"),
	))
	c.logger.Info(ctx, "attempt submitted",
		"attempt_id", at.ID, "reference", at.Reference,
		"tx_hash", at.TxHash.Hex(), "relay", at.Relay, "path", string(at.Path),
		"net_usd_est", at.EstimatedNetUSD.StringFixed(2))

	handedOff = true
	c.sink.Track(ctx, at, c.resubmitFunc(opp, path, f), release)
	return at, nil
}

// freshness carries repriced inputs from revalidation into sizing.
type freshness struct {
	debtPriceUSD decimal.Decimal
}

// revalidate reprices the opportunity against live quotes. Missing fresh
// data aborts: an opportunity that cannot be repriced is not submitted.
func (c *Coordinator) revalidate(ctx context.Context, opp *oppdomain.Opportunity) (freshness, error) {
	var f freshness

	switch opp.Kind {
	case oppdomain.KindArbitrage:
		pair, err := c.resolvePair(opp.Reference)
		if err != nil {
			return f, apperror.New(apperror.CodeProfitRevalidation,
				apperror.WithMessage("cannot reprice pair"),
				apperror.WithCause(err))
		}
		quotes := c.fresh.VenueQuotes(ctx, pair)
		if len(quotes) < 2 {
			return f, apperror.New(apperror.CodeProfitRevalidation,
				apperror.WithMessage("fresh venue quotes unavailable"),
				apperror.WithContext("pair", opp.Reference))
		}
		buy, sell := bestSpread(quotes)
		spread := sell.Price.Sub(buy.Price).Div(buy.Price)
		freshGross := opp.AmountUSD.Mul(spread)
		if c.driftedBelow(freshGross, opp.Gross) {
			return f, apperror.New(apperror.CodeProfitRevalidation,
				apperror.WithContext("gross_usd", opp.Gross.StringFixed(2)),
				apperror.WithContext("fresh_gross_usd", freshGross.StringFixed(2)))
		}

	case oppdomain.KindLiquidation:
		plan := opp.Liquidation
		if plan == nil {
			return f, apperror.New(apperror.CodeInvalidInput,
				apperror.WithMessage("liquidation opportunity without a plan"))
		}
		price, ok := c.fresh.AssetUSD(ctx, plan.DebtAsset)
		if !ok || !price.IsPositive() {
			return f, apperror.New(apperror.CodeProfitRevalidation,
				apperror.WithMessage("fresh debt asset price unavailable"),
				apperror.WithContext("reference", opp.Reference))
		}
		f.debtPriceUSD = price

		recorded := recordedDebtPrice(plan)
		if recorded.IsPositive() {
			freshGross := opp.Gross.Mul(price.Div(recorded))
			if c.driftedBelow(freshGross, opp.Gross) {
				return f, apperror.New(apperror.CodeProfitRevalidation,
					apperror.WithContext("gross_usd", opp.Gross.StringFixed(2)),
					apperror.WithContext("fresh_gross_usd", freshGross.StringFixed(2)))
			}
		}
	}

	return f, nil
}

// buildAndSubmit signs and broadcasts the attempt. A flashloan-funded
// arbitrage whose submission is rejected everywhere gets exactly one
// retry with direct capital; liquidations have a single entry point and
// no alternate funding.
func (c *Coordinator) buildAndSubmit(ctx context.Context, opp *oppdomain.Opportunity, f freshness) (*types.Transaction, domain.FundingPath, string, error) {
	paths := c.fundingPaths(opp)

	var lastErr error
	for i, path := range paths {
		tx, err := c.buildSigned(ctx, opp, path, f)
		if err != nil {
			return nil, path, "", err
		}

		if c.config.SimulateFirst {
			if err := c.relays.Simulate(ctx, tx, c.heads.BlockNumber()+1); err != nil {
				if apperror.GetCode(err) == apperror.CodeSimulationReverted {
					c.builder.ReleaseNonce(tx.Nonce())
					return nil, path, "", err
				}
				c.logger.Warn(ctx, "simulation unavailable, submitting unsimulated",
					"reference", opp.Reference, "error", err.Error())
			}
		}

		relayName, err := c.relays.Submit(ctx, tx)
		if err == nil {
			return tx, path, relayName, nil
		}
		c.builder.ReleaseNonce(tx.Nonce())
		lastErr = err
		if i < len(paths)-1 {
			c.logger.Warn(ctx, "submission rejected, retrying with direct capital",
				"reference", opp.Reference, "error", err.Error())
		}
	}

	return nil, "", "", apperror.New(apperror.CodeSubmissionFailed,
		apperror.WithContext("reference", opp.Reference),
		apperror.WithCause(lastErr))
}

func (c *Coordinator) fundingPaths(opp *oppdomain.Opportunity) []domain.FundingPath {
	flashloanFits := c.config.FlashloanEnabled &&
		opp.AmountUSD.GreaterThanOrEqual(c.config.FlashloanMinUSD)

	if opp.Kind == oppdomain.KindLiquidation {
		if flashloanFits {
			return []domain.FundingPath{domain.PathFlashloan}
		}
		return []domain.FundingPath{domain.PathDirect}
	}
	if flashloanFits {
		return []domain.FundingPath{domain.PathFlashloan, domain.PathDirect}
	}
	return []domain.FundingPath{domain.PathDirect}
}

func (c *Coordinator) buildSigned(ctx context.Context, opp *oppdomain.Opportunity, path domain.FundingPath, f freshness) (*types.Transaction, error) {
	switch opp.Kind {
	case oppdomain.KindArbitrage:
		t := opp.Trade
		if t == nil || t.AssetIn == nil {
			return nil, apperror.New(apperror.CodeInvalidInput,
				apperror.WithMessage("arbitrage opportunity without a trade plan"))
		}
		// Sized in the stable quote leg at par.
		minProfit := minProfitUnits(opp.Net, decimal.NewFromInt(1), t.AssetIn.Decimals())
		if path == domain.PathFlashloan {
			return c.builder.FlashloanArbitrage(ctx, t.AssetIn.Address(), t.AmountIn,
				t.Path, t.Router, minProfit, c.gasLimit("flashloan"))
		}
		return c.builder.Arbitrage(ctx, t.AssetIn.Address(), t.AmountIn,
			t.Path, t.Router, minProfit, c.gasLimit("swap"))

	case oppdomain.KindLiquidation:
		plan := opp.Liquidation
		minProfit := minProfitUnits(opp.Net, f.debtPriceUSD, plan.DebtAsset.Decimals())
		return c.builder.AtomicLiquidation(ctx, plan.Pool, plan.Borrower,
			plan.DebtAsset.Address(), plan.CollateralAsset.Address(),
			plan.DebtToCover, minProfit, plan.AuxData, c.gasLimit("liquidation"))
	}

	return nil, apperror.New(apperror.CodeInvalidInput,
		apperror.WithContext("kind", string(opp.Kind)))
}

// resubmitFunc rebuilds and rebroadcasts the attempt. The settlement
// tracker invokes it after an on-chain revert; the rebuild takes a fresh
// nonce because the reverted transaction consumed the old one.
func (c *Coordinator) resubmitFunc(opp oppdomain.Opportunity, path domain.FundingPath, f freshness) ResubmitFunc {
	return func(ctx context.Context) (*types.Transaction, string, error) {
		tx, err := c.buildSigned(ctx, &opp, path, f)
		if err != nil {
			return nil, "", err
		}
		name, err := c.relays.Submit(ctx, tx)
		if err != nil {
			c.builder.ReleaseNonce(tx.Nonce())
			return nil, "", err
		}
		return tx, name, nil
	}
}

func (c *Coordinator) gasLimit(action string) uint64 {
	units := c.config.GasUnits[action]
	if units == 0 {
		units = 500_000
	}
	return units + units/4
}

// driftedBelow reports whether fresh has fallen below recorded by more
// than the configured tolerance.
func (c *Coordinator) driftedBelow(fresh, recorded decimal.Decimal) bool {
	tolerance := decimal.NewFromFloat(1 - c.config.ProfitDriftPct/100)
	return fresh.LessThan(recorded.Mul(tolerance))
}

func (c *Coordinator) resolvePair(name string) (pricingdomain.Pair, error) {
	parts := strings.SplitN(name, "-", 2)
	if len(parts) != 2 {
		return pricingdomain.Pair{}, apperror.New(apperror.CodeInvalidInput,
			apperror.WithContext("pair", name))
	}
	base, ok := c.registry.GetBySymbolAndChain(parts[0], c.config.ChainID)
	if !ok {
		return pricingdomain.Pair{}, apperror.New(apperror.CodeNotFound,
			apperror.WithContext("symbol", parts[0]))
	}
	quote, ok := c.registry.GetBySymbolAndChain(parts[1], c.config.ChainID)
	if !ok {
		return pricingdomain.Pair{}, apperror.New(apperror.CodeNotFound,
			apperror.WithContext("symbol", parts[1]))
	}
	return pricingdomain.NewPair(base, quote), nil
}

func bestSpread(quotes []*pricingdomain.PriceQuote) (buy, sell *pricingdomain.PriceQuote) {
	buy, sell = quotes[0], quotes[0]
	for _, q := range quotes[1:] {
		if q.Price.LessThan(buy.Price) {
			buy = q
		}
		if q.Price.GreaterThan(sell.Price) {
			sell = q
		}
	}
	return buy, sell
}

// recordedDebtPrice reconstructs the per-unit debt price the plan was
// sized at.
func recordedDebtPrice(plan *lendingdomain.LiquidationPlan) decimal.Decimal {
	units := decimal.NewFromBigInt(plan.DebtToCover, -int32(plan.DebtAsset.Decimals()))
	if !units.IsPositive() {
		return decimal.Zero
	}
	return plan.DebtToCoverUSD.Div(units)
}

// minProfitUnits converts half the estimated net into raw asset units.
// The settlement contract reverts below this floor, so the margin leaves
// room for on-chain price movement without giving the trade away.
func minProfitUnits(netUSD, priceUSD decimal.Decimal, decimals uint8) *big.Int {
	if !netUSD.IsPositive() || !priceUSD.IsPositive() {
		return big.NewInt(0)
	}
	return netUSD.Div(decimal.NewFromInt(2)).Div(priceUSD).Shift(int32(decimals)).BigInt()
}

func (c *Coordinator) rejected(ctx context.Context, opp *oppdomain.Opportunity, reason string) {
	c.metrics.dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(opp.Kind)),
		attribute.String("outcome", "rejected_"+reason),
	))
}

func (c *Coordinator) journalSkip(ctx context.Context, opp *oppdomain.Opportunity, reason string) {
	amount, _ := opp.AmountUSD.Float64()
	err := c.journal.Append(ctx, journal.Entry{
		Category:  journal.CategorySkip,
		Kind:      string(opp.Kind),
		Reference: opp.Reference,
		AmountUSD: amount,
		Fields:    map[string]any{"reason": reason, "stage": "execution"},
	})
	if err != nil {
		c.logger.Debug(ctx, "skip journal write failed", "error", err.Error())
	}
}

func (c *Coordinator) journalError(ctx context.Context, opp *oppdomain.Opportunity, cause error) {
	amount, _ := opp.AmountUSD.Float64()
	err := c.journal.Append(ctx, journal.Entry{
		Category:  journal.CategoryError,
		Kind:      string(opp.Kind),
		Reference: opp.Reference,
		AmountUSD: amount,
		Fields:    map[string]any{"error": cause.Error(), "stage": "submission"},
	})
	if err != nil {
		c.logger.Debug(ctx, "error journal write failed", "error", err.Error())
	}
}

func (c *Coordinator) journalTrade(ctx context.Context, at *domain.Attempt) {
	amount, _ := at.AmountUSD.Float64()
	err := c.journal.Append(ctx, journal.Entry{
		Category:  journal.CategoryTrade,
		Kind:      string(at.Kind),
		Reference: at.Reference,
		AmountUSD: amount,
		Fields: map[string]any{
			"attempt_id":  at.ID,
			"tx_hash":     at.TxHash.Hex(),
			"relay":       at.Relay,
			"path":        string(at.Path),
			"net_usd_est": at.EstimatedNetUSD.StringFixed(2),
		},
	})
	if err != nil {
		c.logger.Warn(ctx, "trade journal write failed", "error", err.Error())
	}
}
