// Package app implements opportunity scanning: cross-venue arbitrage and
// lending liquidations detected per cycle, costed and ranked by net profit.
package app

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jm31-art/ultraflashbot/business/opportunity/domain"
	pricingdomain "github.com/jm31-art/ultraflashbot/business/pricing/domain"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/asset"
	"github.com/jm31-art/ultraflashbot/internal/journal"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

const (
	tracerName = "opportunity"
	meterName  = "opportunity"

	// planBudget bounds liquidation plan calls per protocol per cycle.
	// Positions arrive ascending by health factor, so the budget goes to
	// the most liquidatable accounts.
	planBudget = 5

	// depthFraction of the thinnest venue's reported depth an arbitrage
	// trade may consume.
	depthFraction = 4

	statsWindow = 32
)

// ScannerConfig holds sizing and ranking parameters.
type ScannerConfig struct {
	// Pairs are arbitrage targets as BASE-QUOTE symbol names.
	Pairs []string

	// MaxConcurrent bounds target scan goroutines in flight.
	MaxConcurrent int

	// MinNetProfitUSD drops survivors at or below this net.
	MinNetProfitUSD decimal.Decimal

	// MaxNotionalUSD caps the size an arbitrage trade is planned at.
	MaxNotionalUSD decimal.Decimal

	// FlashloanMinUSD and FlashloanEnabled pick the gas schedule the
	// cost model charges an arbitrage with.
	FlashloanMinUSD  decimal.Decimal
	FlashloanEnabled bool

	// Router receives arbitrage swap paths.
	Router common.Address

	ChainID uint64
}

type scannerMetrics struct {
	scanLatency    metric.Float64Histogram
	opportunities  metric.Int64Counter
	targetFailures metric.Int64Counter
	skips          metric.Int64Counter
}

// Stats is a point-in-time view of scanner activity.
type Stats struct {
	Cycles        uint64
	Opportunities uint64
	LastFound     int
	LastDuration  time.Duration
	AvgDuration   time.Duration
	LastScan      time.Time
}

// Scanner fans one scan goroutine out per configured target and merges
// costed survivors into a descending net-profit ranking. A target failing
// never aborts the cycle: failures become skip journal entries and the
// rest of the targets still report.
type Scanner struct {
	config   ScannerConfig
	registry *asset.Registry
	prices   VenuePricer
	cost     *CostModel
	lending  LiquidationFinder
	journal  *journal.Journal
	logger   logger.LoggerInterface

	mu        sync.Mutex
	cycles    uint64
	found     uint64
	lastFound int
	lastScan  time.Time
	durations [statsWindow]time.Duration
	durIdx    int
	durCount  int

	tracer  trace.Tracer
	metrics *scannerMetrics
}

// NewScanner creates a scanner over the configured arbitrage pairs and
// every protocol the liquidation finder knows.
func NewScanner(cfg ScannerConfig, reg *asset.Registry, prices VenuePricer, cost *CostModel,
	lending LiquidationFinder, jnl *journal.Journal, log logger.LoggerInterface) (*Scanner, error) {

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}

	s := &Scanner{
		config:   cfg,
		registry: reg,
		prices:   prices,
		cost:     cost,
		lending:  lending,
		journal:  jnl,
		logger:   log,
		tracer:   otel.Tracer(tracerName),
	}
	if err := s.initMetrics(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scanner) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	s.metrics = &scannerMetrics{}

	s.metrics.scanLatency, err = meter.Float64Histogram(
		"scan_cycle_latency_ms",
		metric.WithDescription("Full scan cycle latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	s.metrics.opportunities, err = meter.Int64Counter(
		"opportunities_found_total",
		metric.WithDescription("Profitable opportunities surfaced, by kind"),
	)
	if err != nil {
		return err
	}

	s.metrics.targetFailures, err = meter.Int64Counter(
		"scan_target_failures_total",
		metric.WithDescription("Targets whose scan errored this cycle"),
	)
	if err != nil {
		return err
	}

	s.metrics.skips, err = meter.Int64Counter(
		"scan_skips_total",
		metric.WithDescription("Candidates dropped after costing, by reason"),
	)
	if err != nil {
		return err
	}

	return nil
}

type scanTarget struct {
	kind domain.Kind
	name string
}

func (s *Scanner) targets() []scanTarget {
	out := make([]scanTarget, 0, len(s.config.Pairs))
	for _, p := range s.config.Pairs {
		out = append(out, scanTarget{kind: domain.KindArbitrage, name: p})
	}
	if s.lending != nil {
		for _, proto := range s.lending.Protocols() {
			out = append(out, scanTarget{kind: domain.KindLiquidation, name: proto})
		}
	}
	return out
}

// ScanOnce runs one full cycle and returns survivors ranked by descending
// net profit.
func (s *Scanner) ScanOnce(ctx context.Context) []domain.Opportunity {
	ctx, span := s.tracer.Start(ctx, "opportunity.scan_once")
	defer span.End()

	start := time.Now()
	targets := s.targets()

	type result struct {
		target scanTarget
		opps   []domain.Opportunity
		err    error
	}

	sem := make(chan struct{}, s.config.MaxConcurrent)
	results := make(chan result, len(targets))
	for _, t := range targets {
		go func(t scanTarget) {
			sem <- struct{}{}
			defer func() { <-sem }()
			opps, err := s.scanTarget(ctx, t)
			results <- result{target: t, opps: opps, err: err}
		}(t)
	}

	var found []domain.Opportunity
	for range targets {
		r := <-results
		if r.err != nil {
			s.metrics.targetFailures.Add(ctx, 1,
				metric.WithAttributes(attribute.String("target", r.target.name)))
			s.logger.Warn(ctx, "target scan failed",
				"target", r.target.name, "error", r.err.Error())
			s.journalSkip(ctx, r.target.name, "scan_failure", r.err.Error(), 0)
			continue
		}
		found = append(found, r.opps...)
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].Net.GreaterThan(found[j].Net)
	})

	elapsed := time.Since(start)
	s.recordCycle(len(found), elapsed)
	for i := range found {
		s.metrics.opportunities.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", string(found[i].Kind))))
	}
	s.metrics.scanLatency.Record(ctx, float64(elapsed.Milliseconds()))
	span.SetAttributes(attribute.Int("found", len(found)))

	if len(found) > 0 {
		s.logger.Info(ctx, "scan cycle complete",
			"targets", len(targets), "found", len(found),
			"best", found[0].String(), "elapsed_ms", elapsed.Milliseconds())
	} else {
		s.logger.Debug(ctx, "scan cycle complete",
			"targets", len(targets), "found", 0, "elapsed_ms", elapsed.Milliseconds())
	}
	return found
}

func (s *Scanner) scanTarget(ctx context.Context, t scanTarget) ([]domain.Opportunity, error) {
	if t.kind == domain.KindLiquidation {
		return s.scanProtocol(ctx, t.name)
	}
	return s.scanPair(ctx, t.name)
}

// scanPair looks for a cross-venue spread on one configured pair.
func (s *Scanner) scanPair(ctx context.Context, name string) ([]domain.Opportunity, error) {
	pair, err := s.resolvePair(name)
	if err != nil {
		return nil, err
	}

	quotes := s.prices.VenueQuotes(ctx, pair)
	if len(quotes) < 2 {
		return nil, nil
	}

	buy, sell := quotes[0], quotes[0]
	for _, q := range quotes[1:] {
		if q.Price.LessThan(buy.Price) {
			buy = q
		}
		if q.Price.GreaterThan(sell.Price) {
			sell = q
		}
	}

	spread := sell.Price.Sub(buy.Price).Div(buy.Price)
	if !spread.IsPositive() {
		return nil, nil
	}

	depth := reportedDepth(buy, sell)
	size := s.tradeSize(depth)
	if !size.IsPositive() {
		return nil, nil
	}

	gasAction := "swap"
	feeKey := "uniswap_v3"
	if s.config.FlashloanEnabled && size.GreaterThanOrEqual(s.config.FlashloanMinUSD) {
		gasAction = "flashloan"
	}

	quoteAsset := pair.Quote
	baseAsset := pair.Base
	raw := domain.RawOpportunity{
		Kind:         domain.KindArbitrage,
		Reference:    name,
		Venue:        buy.Source + "->" + sell.Source,
		FeeKey:       feeKey,
		GasAction:    gasAction,
		AmountUSD:    size,
		GrossUSD:     size.Mul(spread),
		LiquidityUSD: depth,
		Trade: &domain.TradePlan{
			AssetIn: quoteAsset,
			// Sized in the stable quote leg at par.
			AmountIn:  size.Shift(int32(quoteAsset.Decimals())).BigInt(),
			Path:      []common.Address{quoteAsset.Address(), baseAsset.Address(), quoteAsset.Address()},
			Router:    s.config.Router,
			BuyVenue:  buy.Source,
			SellVenue: sell.Source,
		},
		ObservedAt: time.Now(),
	}

	return s.keepProfitable(ctx, raw), nil
}

// scanProtocol turns the protocol's most at-risk positions into costed
// liquidation candidates.
func (s *Scanner) scanProtocol(ctx context.Context, protocol string) ([]domain.Opportunity, error) {
	positions := s.lending.FindAtRisk(ctx, protocol)

	var out []domain.Opportunity
	planned := 0
	for i := range positions {
		if planned >= planBudget {
			break
		}
		p := positions[i]

		plan, err := s.lending.Plan(ctx, &p)
		if err != nil {
			// Event-only sightings carry no sizing until the index
			// answers; that is routine, not a target failure.
			s.logger.Debug(ctx, "position not plannable",
				"protocol", protocol, "owner", p.Owner.Hex(), "error", err.Error())
			continue
		}
		planned++

		feeKey := ""
		if s.config.FlashloanEnabled && plan.DebtToCoverUSD.GreaterThanOrEqual(s.config.FlashloanMinUSD) {
			// Borrowed capital pays the flashloan premium.
			feeKey = "aave"
		}

		raw := domain.RawOpportunity{
			Kind:         domain.KindLiquidation,
			Reference:    p.Key(),
			Venue:        protocol,
			FeeKey:       feeKey,
			GasAction:    "liquidation",
			AmountUSD:    plan.DebtToCoverUSD,
			GrossUSD:     plan.BonusUSD,
			LiquidityUSD: p.CollateralUSD,
			Liquidation:  plan,
			ObservedAt:   time.Now(),
		}
		out = append(out, s.keepProfitable(ctx, raw)...)
	}
	return out, nil
}

// keepProfitable costs one candidate. Candidates that existed but costed
// out are journaled as skipped paths.
func (s *Scanner) keepProfitable(ctx context.Context, raw domain.RawOpportunity) []domain.Opportunity {
	eval := s.cost.Evaluate(ctx, raw)

	amount, _ := raw.AmountUSD.Float64()
	if !eval.IsProfitable {
		s.metrics.skips.Add(ctx, 1,
			metric.WithAttributes(attribute.String("reason", eval.Reason)))
		s.journalSkip(ctx, raw.Reference, string(raw.Kind), eval.Reason, amount)
		return nil
	}
	if eval.Net.LessThanOrEqual(s.config.MinNetProfitUSD) {
		s.metrics.skips.Add(ctx, 1,
			metric.WithAttributes(attribute.String("reason", "below_profit_floor")))
		s.journalSkip(ctx, raw.Reference, string(raw.Kind), "below profit floor", amount)
		return nil
	}

	return []domain.Opportunity{{
		Kind:        raw.Kind,
		Reference:   raw.Reference,
		Venue:       raw.Venue,
		AmountUSD:   raw.AmountUSD,
		Gross:       eval.Gross,
		Costs:       eval.Costs,
		Net:         eval.Net,
		Trade:       raw.Trade,
		Liquidation: raw.Liquidation,
		ObservedAt:  raw.ObservedAt,
	}}
}

func (s *Scanner) resolvePair(name string) (pricingdomain.Pair, error) {
	parts := strings.SplitN(name, "-", 2)
	if len(parts) != 2 {
		return pricingdomain.Pair{}, apperror.New(apperror.CodeInvalidInput,
			apperror.WithMessage("pair must be BASE-QUOTE"),
			apperror.WithContext("pair", name))
	}

	base, ok := s.registry.GetBySymbolAndChain(parts[0], s.config.ChainID)
	if !ok {
		return pricingdomain.Pair{}, apperror.New(apperror.CodeNotFound,
			apperror.WithMessage("unknown base symbol"),
			apperror.WithContext("symbol", parts[0]))
	}
	quote, ok := s.registry.GetBySymbolAndChain(parts[1], s.config.ChainID)
	if !ok {
		return pricingdomain.Pair{}, apperror.New(apperror.CodeNotFound,
			apperror.WithMessage("unknown quote symbol"),
			apperror.WithContext("symbol", parts[1]))
	}
	return pricingdomain.NewPair(base, quote), nil
}

// reportedDepth is the thinnest depth any participating venue reported,
// zero when none did.
func reportedDepth(quotes ...*pricingdomain.PriceQuote) decimal.Decimal {
	depth := decimal.Zero
	for _, q := range quotes {
		if !q.HasLiquidity() {
			continue
		}
		if depth.IsZero() || q.LiquidityUSD.LessThan(depth) {
			depth = q.LiquidityUSD
		}
	}
	return depth
}

// tradeSize plans the notional: a fraction of the thinnest reported depth,
// never above the configured ceiling. Unknown depth sizes at the ceiling
// and lets the cost model refuse it.
func (s *Scanner) tradeSize(depth decimal.Decimal) decimal.Decimal {
	size := s.config.MaxNotionalUSD
	if depth.IsPositive() {
		byDepth := depth.Div(decimal.NewFromInt(depthFraction))
		if byDepth.LessThan(size) {
			size = byDepth
		}
	}
	return size
}

func (s *Scanner) journalSkip(ctx context.Context, ref, kind, reason string, amountUSD float64) {
	err := s.journal.Append(ctx, journal.Entry{
		Category:  journal.CategorySkip,
		Kind:      kind,
		Reference: ref,
		AmountUSD: amountUSD,
		Fields:    map[string]any{"reason": reason},
	})
	if err != nil {
		s.logger.Debug(ctx, "skip journal write failed", "error", err.Error())
	}
}

func (s *Scanner) recordCycle(found int, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
	s.found += uint64(found)
	s.lastFound = found
	s.lastScan = time.Now()
	s.durations[s.durIdx] = elapsed
	s.durIdx = (s.durIdx + 1) % statsWindow
	if s.durCount < statsWindow {
		s.durCount++
	}
}

// Stats reports rolling scan activity.
func (s *Scanner) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum time.Duration
	for i := 0; i < s.durCount; i++ {
		sum += s.durations[i]
	}
	st := Stats{
		Cycles:        s.cycles,
		Opportunities: s.found,
		LastFound:     s.lastFound,
		LastScan:      s.lastScan,
	}
	if s.durCount > 0 {
		st.LastDuration = s.durations[(s.durIdx-1+statsWindow)%statsWindow]
		st.AvgDuration = sum / time.Duration(s.durCount)
	}
	return st
}
