// Package app implements position discovery over per-protocol source pairs.
package app

import (
	"context"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jm31-art/ultraflashbot/business/lending/domain"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/cache"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

const (
	tracerName = "lending"
	meterName  = "lending"
)

// DiscoveryConfig holds discovery thresholds and the cooldown window.
type DiscoveryConfig struct {
	// HealthThreshold is the monitoring cut: positions at or above it are
	// healthy and never surfaced. Liquidation eligibility is stricter and
	// decided per position.
	HealthThreshold decimal.Decimal

	// Cooldown suppresses re-surfacing an owner after it was reported.
	Cooldown time.Duration

	// MinCollateralUSD drops dust positions. Binds reported figures only;
	// candidates whose collateral is unknown pass through.
	MinCollateralUSD decimal.Decimal

	// MaxPositions caps one FindAtRisk result.
	MaxPositions int
}

// ProtocolSet bundles one protocol's adapter with its position sources.
type ProtocolSet struct {
	Adapter ProtocolAdapter
	Sources []PositionSource
}

// discoveryMetrics holds OTEL metric instruments.
type discoveryMetrics struct {
	candidates     metric.Int64Counter
	atRisk         metric.Int64Counter
	sourceFailures metric.Int64Counter
	cooldownSkips  metric.Int64Counter
	scanLatency    metric.Float64Histogram
}

// Discovery finds at-risk positions per protocol. Sources run concurrently
// and merge by owner; the index wins conflicts because it carries the full
// snapshot while the event scan carries little more than the owner. Every
// read error is fail-safe: an account is never surfaced at-risk because a
// source or the adapter misbehaved.
type Discovery struct {
	config    DiscoveryConfig
	protocols map[string]ProtocolSet
	order     []string
	cooldown  *cache.Cache[string, time.Time]
	logger    logger.LoggerInterface

	tracer  trace.Tracer
	metrics *discoveryMetrics
}

// NewDiscovery creates a discovery service over the configured protocols.
// An empty set is legal: the engine then runs arbitrage-only.
func NewDiscovery(cfg DiscoveryConfig, sets map[string]ProtocolSet, log logger.LoggerInterface) (*Discovery, error) {
	order := make([]string, 0, len(sets))
	for name := range sets {
		order = append(order, name)
	}
	sort.Strings(order)

	d := &Discovery{
		config:    cfg,
		protocols: sets,
		order:     order,
		cooldown:  cache.New[string, time.Time](time.Minute),
		logger:    log,
		tracer:    otel.Tracer(tracerName),
	}

	if err := d.initMetrics(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Discovery) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	d.metrics = &discoveryMetrics{}

	d.metrics.candidates, err = meter.Int64Counter(
		"lending_candidates_total",
		metric.WithDescription("Candidate positions reported, by source"),
	)
	if err != nil {
		return err
	}

	d.metrics.atRisk, err = meter.Int64Counter(
		"lending_at_risk_total",
		metric.WithDescription("At-risk positions surfaced, by protocol"),
	)
	if err != nil {
		return err
	}

	d.metrics.sourceFailures, err = meter.Int64Counter(
		"lending_source_failures_total",
		metric.WithDescription("Position source read failures"),
	)
	if err != nil {
		return err
	}

	d.metrics.cooldownSkips, err = meter.Int64Counter(
		"lending_cooldown_skips_total",
		metric.WithDescription("Positions suppressed by the owner cooldown"),
	)
	if err != nil {
		return err
	}

	d.metrics.scanLatency, err = meter.Float64Histogram(
		"lending_scan_latency_ms",
		metric.WithDescription("FindAtRisk latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Protocols lists the configured protocol names in stable order.
func (d *Discovery) Protocols() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Start brings up sources with background machinery (push accumulators).
// A source that cannot start is logged and skipped; its sibling still
// feeds the protocol.
func (d *Discovery) Start(ctx context.Context) {
	for name, set := range d.protocols {
		for _, src := range set.Sources {
			starter, ok := src.(interface{ Start(context.Context) error })
			if !ok {
				continue
			}
			if err := starter.Start(ctx); err != nil {
				d.logger.Warn(ctx, "position source failed to start",
					"protocol", name, "source", src.Name(), "error", err.Error())
			}
		}
	}
}

// FindAtRisk returns the protocol's at-risk positions, ascending by health
// factor. Source failures degrade the result instead of erroring: the scan
// cycle must survive a dead subgraph or a flaky node.
func (d *Discovery) FindAtRisk(ctx context.Context, protocol string) []domain.Position {
	ctx, span := d.tracer.Start(ctx, "lending.find_at_risk",
		trace.WithAttributes(attribute.String("protocol", protocol)),
	)
	defer span.End()

	set, ok := d.protocols[protocol]
	if !ok {
		d.logger.Warn(ctx, "unknown lending protocol", "protocol", protocol)
		span.SetStatus(codes.Error, "unknown protocol")
		return nil
	}

	start := time.Now()
	merged := d.collect(ctx, protocol, set)

	out := make([]domain.Position, 0, len(merged))
	for _, p := range merged {
		if _, held := d.cooldown.Get(ctx, p.Key()); held {
			d.metrics.cooldownSkips.Add(ctx, 1)
			continue
		}
		if p.HealthFactor.IsZero() {
			// Event-sourced candidates carry no health read.
			health, err := set.Adapter.HealthFactor(ctx, p.Owner)
			if err != nil {
				// Fail safe: a read error never flags an account.
				d.logger.Debug(ctx, "health read failed, treating as healthy",
					"protocol", protocol, "owner", p.Owner.Hex(), "error", err.Error())
				continue
			}
			p.HealthFactor = health.Factor
			if p.CollateralUSD.IsZero() {
				p.CollateralUSD = health.CollateralUSD
			}
			if p.DebtUSD.IsZero() {
				p.DebtUSD = health.DebtUSD
			}
		}
		if !p.HealthFactor.IsPositive() || p.HealthFactor.GreaterThanOrEqual(d.config.HealthThreshold) {
			continue
		}
		if d.config.MinCollateralUSD.IsPositive() && p.CollateralUSD.IsPositive() &&
			p.CollateralUSD.LessThan(d.config.MinCollateralUSD) {
			continue
		}
		p.Bonus = set.Adapter.Bonus()
		if p.ObservedAt.IsZero() {
			p.ObservedAt = time.Now()
		}
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].HealthFactor.LessThan(out[j].HealthFactor)
	})
	if d.config.MaxPositions > 0 && len(out) > d.config.MaxPositions {
		out = out[:d.config.MaxPositions]
	}

	now := time.Now()
	for i := range out {
		d.cooldown.Set(ctx, out[i].Key(), now, d.config.Cooldown)
	}

	d.metrics.atRisk.Add(ctx, int64(len(out)),
		metric.WithAttributes(attribute.String("protocol", protocol)))
	d.metrics.scanLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	span.SetAttributes(attribute.Int("at_risk", len(out)))

	d.logger.Debug(ctx, "position scan complete",
		"protocol", protocol, "candidates", len(merged), "at_risk", len(out))
	return out
}

// collect fans the protocol's sources out concurrently and merges their
// candidates by owner.
func (d *Discovery) collect(ctx context.Context, protocol string, set ProtocolSet) map[common.Address]domain.Position {
	type result struct {
		name      string
		positions []domain.Position
		err       error
	}

	results := make(chan result, len(set.Sources))
	for _, src := range set.Sources {
		go func(s PositionSource) {
			ps, err := s.Positions(ctx)
			results <- result{name: s.Name(), positions: ps, err: err}
		}(src)
	}

	merged := make(map[common.Address]domain.Position)
	for range set.Sources {
		r := <-results
		if r.err != nil {
			d.metrics.sourceFailures.Add(ctx, 1,
				metric.WithAttributes(attribute.String("source", r.name)))
			d.logger.Warn(ctx, "position source failed",
				"protocol", protocol, "source", r.name, "error", r.err.Error())
			continue
		}
		d.metrics.candidates.Add(ctx, int64(len(r.positions)),
			metric.WithAttributes(attribute.String("source", r.name)))
		for _, p := range r.positions {
			existing, seen := merged[p.Owner]
			if seen && existing.Source == domain.SourceIndexed && p.Source != domain.SourceIndexed {
				continue
			}
			merged[p.Owner] = p
		}
	}
	return merged
}

// Plan builds the liquidation call for a discovered position through its
// protocol's adapter.
func (d *Discovery) Plan(ctx context.Context, p *domain.Position) (*domain.LiquidationPlan, error) {
	set, ok := d.protocols[p.Protocol]
	if !ok {
		return nil, apperror.New(apperror.CodeNotFound,
			apperror.WithMessage("no adapter for protocol"),
			apperror.WithContext("protocol", p.Protocol))
	}
	return set.Adapter.LiquidationPlan(ctx, p)
}

// Close stops sources and releases the cooldown cache.
func (d *Discovery) Close() error {
	for _, set := range d.protocols {
		for _, src := range set.Sources {
			if closer, ok := src.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
		}
	}
	d.cooldown.Close()
	return nil
}
