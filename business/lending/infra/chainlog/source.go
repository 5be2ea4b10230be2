// Package chainlog discovers borrower candidates from recent lending
// protocol events. The transport decides the mechanics: at Start the
// source probes the read pool once, and nodes that stream logs get a push
// accumulator while the rest keep a bounded window poller. Both tasks
// serve the same position source surface, so discovery never sees the
// difference.
package chainlog

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	chainapp "github.com/jm31-art/ultraflashbot/business/chain/app"
	"github.com/jm31-art/ultraflashbot/business/lending/domain"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/asset"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

const (
	tracerName = "lending.chainlog"
	meterName  = "lending.chainlog"

	subscribeBuffer  = 64
	resubscribeDelay = 5 * time.Second

	// blockCadence converts the block window into the wall-time the push
	// accumulator ages sightings out over, so push and poll report
	// comparable candidate sets.
	blockCadence = 12 * time.Second
)

// Config holds the scan shape for one protocol deployment.
type Config struct {
	Protocol      string
	Pool          common.Address
	ChainID       uint64
	WindowBlocks  uint64
	MaxCandidates int
}

// sourceMetrics holds OTEL metric instruments.
type sourceMetrics struct {
	logsSeen metric.Int64Counter
	windows  metric.Int64Counter
	dropped  metric.Int64Counter
	pushMode metric.Int64Gauge
}

// positionTask is the per-transport implementation behind Source.
type positionTask interface {
	Name() string
	Positions(ctx context.Context) ([]domain.Position, error)
}

// Source is the stable handle discovery holds; the probe swaps the task
// underneath it.
type Source struct {
	config   Config
	nodes    *chainapp.Manager
	registry *asset.Registry
	logger   logger.LoggerInterface

	mu   sync.Mutex
	task positionTask

	tracer  trace.Tracer
	metrics *sourceMetrics
}

// New creates an event-scan source. The window poller works on every
// transport; Start upgrades to push when the probe succeeds.
func New(cfg Config, nodes *chainapp.Manager, reg *asset.Registry, log logger.LoggerInterface) (*Source, error) {
	if cfg.WindowBlocks == 0 {
		cfg.WindowBlocks = 2048
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 256
	}

	s := &Source{
		config:   cfg,
		nodes:    nodes,
		registry: reg,
		logger:   log,
		tracer:   otel.Tracer(tracerName),
	}
	if err := s.initMetrics(); err != nil {
		return nil, err
	}
	s.task = &windowPoller{src: s}
	return s, nil
}

func (s *Source) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	s.metrics = &sourceMetrics{}

	s.metrics.logsSeen, err = meter.Int64Counter(
		"chainlog_logs_total",
		metric.WithDescription("Protocol event logs inspected"),
	)
	if err != nil {
		return err
	}

	s.metrics.windows, err = meter.Int64Counter(
		"chainlog_windows_scanned_total",
		metric.WithDescription("Bounded window scans executed"),
	)
	if err != nil {
		return err
	}

	s.metrics.dropped, err = meter.Int64Counter(
		"chainlog_candidates_dropped_total",
		metric.WithDescription("Sightings dropped at the candidate cap"),
	)
	if err != nil {
		return err
	}

	s.metrics.pushMode, err = meter.Int64Gauge(
		"chainlog_push_mode",
		metric.WithDescription("1 when the push accumulator is active"),
	)
	if err != nil {
		return err
	}

	return nil
}

func (s *Source) Name() string { return domain.SourceChainLog }

// Positions delegates to whichever task the probe installed.
func (s *Source) Positions(ctx context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	task := s.task
	s.mu.Unlock()
	return task.Positions(ctx)
}

// Start probes the read transport for log streaming once. A refused probe
// is not an error: the poller is the sanctioned fallback.
func (s *Source) Start(ctx context.Context) error {
	acc, err := s.tryPush(ctx)
	if err != nil {
		s.logger.Info(ctx, "log push unsupported, scanning bounded windows",
			"protocol", s.config.Protocol,
			"window_blocks", s.config.WindowBlocks,
			"error", err.Error())
		s.metrics.pushMode.Record(ctx, 0)
		return nil
	}

	s.mu.Lock()
	s.task = acc
	s.mu.Unlock()
	s.metrics.pushMode.Record(ctx, 1)
	s.logger.Info(ctx, "log push engaged", "protocol", s.config.Protocol)
	return nil
}

func (s *Source) tryPush(ctx context.Context) (*pushAccumulator, error) {
	client, err := s.nodes.ReadClient()
	if err != nil {
		return nil, err
	}

	ch := make(chan types.Log, subscribeBuffer)
	sub, err := client.SubscribeFilterLogs(ctx, s.query(), ch)
	if err != nil {
		// HTTP transports reject eth_subscribe outright.
		return nil, apperror.New(apperror.CodeSubscriptionUnsupported,
			apperror.WithCause(err))
	}

	acc := newPushAccumulator(s)
	go acc.run(ctx, sub, ch)
	return acc, nil
}

func (s *Source) query() ethereum.FilterQuery {
	fam := familyFor(s.config.Protocol)
	q := ethereum.FilterQuery{Topics: [][]common.Hash{fam.topics}}
	if fam.matchPool {
		q.Addresses = []common.Address{s.config.Pool}
	}
	return q
}

// candidates dedupes log touches by owner. Logs arrive oldest first, so
// the walk runs backwards: the newest sightings win the candidate budget.
func (s *Source) candidates(logs []types.Log, now time.Time) []domain.Position {
	seen := make(map[common.Address]domain.Position)
	for i := len(logs) - 1; i >= 0; i-- {
		t, ok := touchFrom(logs[i])
		if !ok {
			continue
		}
		if _, dup := seen[t.owner]; dup {
			continue
		}
		if len(seen) >= s.config.MaxCandidates {
			break
		}
		seen[t.owner] = s.position(t, now)
	}

	out := make([]domain.Position, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	return out
}

func (s *Source) position(t touch, now time.Time) domain.Position {
	p := domain.Position{
		Protocol:   s.config.Protocol,
		Owner:      t.owner,
		Source:     domain.SourceChainLog,
		ObservedAt: now,
	}
	if t.reserve != (common.Address{}) {
		if a, ok := s.registry.GetToken(s.config.ChainID, t.reserve); ok {
			p.DebtAsset = a
		}
	}
	return p
}

// Close stops the push accumulator when one is running.
func (s *Source) Close() error {
	s.mu.Lock()
	task := s.task
	s.mu.Unlock()
	if acc, ok := task.(*pushAccumulator); ok {
		acc.stop()
	}
	return nil
}

// windowPoller rescans the last WindowBlocks of events on every call.
type windowPoller struct {
	src *Source
}

func (w *windowPoller) Name() string { return domain.SourceChainLog }

func (w *windowPoller) Positions(ctx context.Context) ([]domain.Position, error) {
	ctx, span := w.src.tracer.Start(ctx, "lending.chainlog.window",
		trace.WithAttributes(attribute.String("protocol", w.src.config.Protocol)),
	)
	defer span.End()

	var head uint64
	err := w.src.nodes.WithRead(ctx, "block_number", func(c chainapp.NodeClient) error {
		n, herr := c.BlockNumber(ctx)
		if herr != nil {
			return herr
		}
		head = n
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	q := w.src.query()
	from := uint64(0)
	if head > w.src.config.WindowBlocks {
		from = head - w.src.config.WindowBlocks
	}
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(head)

	var logs []types.Log
	err = w.src.nodes.WithRead(ctx, "filter_logs", func(c chainapp.NodeClient) error {
		ls, ferr := c.FilterLogs(ctx, q)
		if ferr != nil {
			return ferr
		}
		logs = ls
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	w.src.metrics.windows.Add(ctx, 1)
	w.src.metrics.logsSeen.Add(ctx, int64(len(logs)))

	positions := w.src.candidates(logs, time.Now())
	span.SetAttributes(
		attribute.Int("logs", len(logs)),
		attribute.Int("candidates", len(positions)),
	)
	return positions, nil
}

// pushAccumulator collects owner sightings from a live log subscription.
// Sightings age out after roughly the window's wall time and survive
// reconnects.
type pushAccumulator struct {
	src *Source
	ttl time.Duration

	mu      sync.Mutex
	touches map[common.Address]accEntry

	done     chan struct{}
	stopOnce sync.Once
}

type accEntry struct {
	position domain.Position
	deadline time.Time
}

func newPushAccumulator(src *Source) *pushAccumulator {
	return &pushAccumulator{
		src:     src,
		ttl:     time.Duration(src.config.WindowBlocks) * blockCadence,
		touches: make(map[common.Address]accEntry),
		done:    make(chan struct{}),
	}
}

func (a *pushAccumulator) Name() string { return domain.SourceChainLog }

// Positions snapshots live sightings, evicting aged ones on the way.
func (a *pushAccumulator) Positions(ctx context.Context) ([]domain.Position, error) {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.Position, 0, len(a.touches))
	for owner, e := range a.touches {
		if now.After(e.deadline) {
			delete(a.touches, owner)
			continue
		}
		out = append(out, e.position)
	}
	return out, nil
}

func (a *pushAccumulator) add(ctx context.Context, lg types.Log, now time.Time) {
	t, ok := touchFrom(lg)
	if !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, seen := a.touches[t.owner]; !seen && len(a.touches) >= a.src.config.MaxCandidates {
		a.src.metrics.dropped.Add(ctx, 1)
		return
	}
	a.touches[t.owner] = accEntry{position: a.src.position(t, now), deadline: now.Add(a.ttl)}
}

// run consumes the subscription, resubscribing when it dies.
func (a *pushAccumulator) run(ctx context.Context, sub ethereum.Subscription, ch chan types.Log) {
	for {
		select {
		case <-a.done:
			sub.Unsubscribe()
			return
		case <-ctx.Done():
			sub.Unsubscribe()
			return
		case err := <-sub.Err():
			if err != nil {
				a.src.logger.Warn(ctx, "log subscription dropped",
					"protocol", a.src.config.Protocol, "error", err.Error())
			}
			sub.Unsubscribe()
			var ok bool
			sub, ch, ok = a.reconnect(ctx)
			if !ok {
				return
			}
		case lg := <-ch:
			a.src.metrics.logsSeen.Add(ctx, 1)
			a.add(ctx, lg, time.Now())
		}
	}
}

// reconnect retries the subscription until it comes back or the
// accumulator stops.
func (a *pushAccumulator) reconnect(ctx context.Context) (ethereum.Subscription, chan types.Log, bool) {
	for {
		if !a.sleep(ctx, resubscribeDelay) {
			return nil, nil, false
		}

		client, err := a.src.nodes.ReadClient()
		if err == nil {
			ch := make(chan types.Log, subscribeBuffer)
			sub, serr := client.SubscribeFilterLogs(ctx, a.src.query(), ch)
			if serr == nil {
				a.src.logger.Info(ctx, "log subscription restored",
					"protocol", a.src.config.Protocol)
				return sub, ch, true
			}
			err = serr
		}
		a.src.logger.Warn(ctx, "log resubscribe failed",
			"protocol", a.src.config.Protocol, "error", err.Error())
	}
}

func (a *pushAccumulator) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-a.done:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (a *pushAccumulator) stop() {
	a.stopOnce.Do(func() { close(a.done) })
}
