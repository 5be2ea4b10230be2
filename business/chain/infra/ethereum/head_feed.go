package ethereum

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jm31-art/ultraflashbot/business/chain/app"
	"github.com/jm31-art/ultraflashbot/business/chain/domain"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/circuitbreaker"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

// HeadFeedConfig holds configuration for the block head feed.
type HeadFeedConfig struct {
	PollInterval     time.Duration // Polling interval for the fallback
	ResubscribeDelay time.Duration // Delay before retrying a dead push subscription
	BufferSize       int           // Block channel buffer size
}

// DefaultHeadFeedConfig returns sensible defaults.
func DefaultHeadFeedConfig() HeadFeedConfig {
	return HeadFeedConfig{
		PollInterval:     12 * time.Second, // ~1 block time
		ResubscribeDelay: 5 * time.Second,
		BufferSize:       16,
	}
}

// headFeedMetrics holds OTEL metric instruments.
type headFeedMetrics struct {
	blocksReceived  metric.Int64Counter
	subscribeErrors metric.Int64Counter
	connectionState metric.Int64Gauge
	blockLatency    metric.Float64Histogram
	pollFallback    metric.Int64Counter
}

// HeadFeed streams new block headers from the connectivity manager's read
// pool. It probes for push subscriptions (eth_subscribe newHeads) and falls
// back to polling when the transport cannot push.
type HeadFeed struct {
	config HeadFeedConfig
	nodes  *app.Manager
	logger logger.LoggerInterface

	// State
	state      domain.ConnectionState
	stateMu    sync.RWMutex
	polling    atomic.Bool
	lastBlock  atomic.Uint64
	lastUpdate atomic.Int64 // unix nanos of the last processed header
	reconnects atomic.Int32

	// Channels
	blocks  chan *domain.Block
	done    chan struct{}
	closeMu sync.Mutex
	closed  atomic.Bool
	started atomic.Bool

	pollCB *circuitbreaker.CircuitBreaker[*types.Header]

	// Observability
	tracer  trace.Tracer
	metrics *headFeedMetrics
}

// NewHeadFeed creates a new block head feed.
func NewHeadFeed(cfg HeadFeedConfig, nodes *app.Manager, log logger.LoggerInterface) (*HeadFeed, error) {
	f := &HeadFeed{
		config: cfg,
		nodes:  nodes,
		logger: log,
		state:  domain.StateDisconnected,
		blocks: make(chan *domain.Block, cfg.BufferSize),
		done:   make(chan struct{}),
		tracer: otel.Tracer(tracerName),
	}

	if err := f.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	cbCfg := circuitbreaker.DefaultConfig("head-poll")
	cbCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		f.logger.Info(context.Background(), "circuit breaker state change",
			"breaker", name, "from", from.String(), "to", to.String())
	}
	f.pollCB = circuitbreaker.New[*types.Header](cbCfg)

	return f, nil
}

// initMetrics initializes OTEL metric instruments.
func (f *HeadFeed) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	f.metrics = &headFeedMetrics{}

	f.metrics.blocksReceived, err = meter.Int64Counter(
		"chain_blocks_received_total",
		metric.WithDescription("Total block headers received"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return err
	}

	f.metrics.subscribeErrors, err = meter.Int64Counter(
		"chain_subscribe_errors_total",
		metric.WithDescription("Total head subscription errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	f.metrics.connectionState, err = meter.Int64Gauge(
		"chain_head_feed_state",
		metric.WithDescription("Head feed state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return err
	}

	f.metrics.blockLatency, err = meter.Float64Histogram(
		"chain_block_latency_ms",
		metric.WithDescription("Latency from block timestamp to receipt"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	f.metrics.pollFallback, err = meter.Int64Counter(
		"chain_poll_fallback_total",
		metric.WithDescription("Times the poll fallback was engaged"),
		metric.WithUnit("{fallback}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Subscribe starts the feed and returns the block channel. The manager must
// be initialized first. Repeat calls return the same channel.
func (f *HeadFeed) Subscribe(ctx context.Context) (<-chan *domain.Block, error) {
	ctx, span := f.tracer.Start(ctx, "chain.head_feed.subscribe")
	defer span.End()

	if f.closed.Load() {
		err := errors.New("head feed is closed")
		span.RecordError(err)
		return nil, err
	}

	if _, err := f.nodes.ReadClient(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if f.started.CompareAndSwap(false, true) {
		f.setState(domain.StateConnecting)
		go f.run(ctx)
	}

	span.SetStatus(codes.Ok, "subscribed")
	return f.blocks, nil
}

// run drives the push subscription, degrading to polling when the node
// cannot push heads.
func (f *HeadFeed) run(ctx context.Context) {
	pushFailures := 0

	for {
		select {
		case <-f.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		client, err := f.nodes.ReadClient()
		if err != nil {
			f.logger.Error(ctx, "head feed lost read client", "error", err)
			f.setState(domain.StateDisconnected)
			return
		}

		headers := make(chan *types.Header, f.config.BufferSize)
		sub, err := client.SubscribeNewHead(ctx, headers)
		if err != nil {
			// HTTP transports reject eth_subscribe outright. One retry
			// covers a flaky WS endpoint; after that we poll.
			pushFailures++
			f.metrics.subscribeErrors.Add(ctx, 1)
			if pushFailures > 1 {
				f.logger.Info(ctx, "push subscription unavailable, polling for heads",
					"error", err, "interval", f.config.PollInterval)
				f.startPolling(ctx)
				return
			}
			f.logger.Warn(ctx, "subscribe new heads failed, retrying", "error", err)
			f.setState(domain.StateReconnecting)
			f.reconnects.Add(1)
			if !f.sleep(ctx, f.config.ResubscribeDelay) {
				return
			}
			continue
		}

		pushFailures = 0
		f.polling.Store(false)
		f.setState(domain.StateConnected)
		f.logger.Info(ctx, "subscribed to new heads")

		f.consume(ctx, headers, sub)
		sub.Unsubscribe()

		if f.closed.Load() || ctx.Err() != nil {
			return
		}

		f.setState(domain.StateReconnecting)
		f.reconnects.Add(1)
		if !f.sleep(ctx, f.config.ResubscribeDelay) {
			return
		}
	}
}

// consume drains headers until the subscription dies.
func (f *HeadFeed) consume(ctx context.Context, headers <-chan *types.Header, sub interface{ Err() <-chan error }) {
	for {
		select {
		case <-f.done:
			return
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				f.logger.Error(ctx, "head subscription error", "error", err)
				f.metrics.subscribeErrors.Add(ctx, 1)
			}
			return
		case header := <-headers:
			if header == nil {
				continue
			}
			f.emit(ctx, header, false)
		}
	}
}

// startPolling switches the feed to the poll fallback permanently.
func (f *HeadFeed) startPolling(ctx context.Context) {
	f.polling.Store(true)
	f.metrics.pollFallback.Add(ctx, 1)
	f.setState(domain.StateConnected)

	ticker := time.NewTicker(f.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.poll(ctx)
		}
	}
}

// poll fetches the latest header, failing over across read nodes.
func (f *HeadFeed) poll(ctx context.Context) {
	ctx, span := f.tracer.Start(ctx, "chain.head_feed.poll")
	defer span.End()

	header, err := f.pollCB.Execute(func() (*types.Header, error) {
		var h *types.Header
		rerr := f.nodes.WithRead(ctx, "header_by_number", func(c app.NodeClient) error {
			hdr, herr := c.HeaderByNumber(ctx, nil) // nil = latest
			if herr != nil {
				return herr
			}
			h = hdr
			return nil
		})
		return h, rerr
	})
	if err != nil {
		span.RecordError(err)
		f.logger.Error(ctx, "head poll failed", "error", err)
		f.metrics.subscribeErrors.Add(ctx, 1)
		return
	}

	// Same or older block: nothing to emit.
	if header.Number.Uint64() <= f.lastBlock.Load() {
		span.AddEvent("duplicate_block")
		return
	}

	f.emit(ctx, header, true)
	span.SetStatus(codes.Ok, "polled")
}

// emit converts and publishes a block header.
func (f *HeadFeed) emit(ctx context.Context, header *types.Header, polled bool) {
	ctx, span := f.tracer.Start(ctx, "chain.head_feed.emit",
		trace.WithAttributes(
			attribute.Int64("block_number", int64(header.Number.Uint64())),
			attribute.Bool("polled", polled),
		),
	)
	defer span.End()

	block := headerToBlock(header)

	latency := time.Since(block.Timestamp)
	f.metrics.blockLatency.Record(ctx, float64(latency.Milliseconds()))

	f.lastBlock.Store(block.Number)
	f.lastUpdate.Store(time.Now().UnixNano())

	// Non-blocking: a stalled consumer must not wedge the feed.
	select {
	case f.blocks <- block:
		f.metrics.blocksReceived.Add(ctx, 1)
		f.logger.Debug(ctx, "block received",
			"number", block.Number,
			"hash", block.Hash.Hex()[:10],
			"latency_ms", latency.Milliseconds())
	default:
		span.AddEvent("block_dropped_buffer_full")
		f.logger.Warn(ctx, "block dropped, buffer full", "number", block.Number)
	}

	span.SetStatus(codes.Ok, "processed")
}

// headerToBlock converts an Ethereum header to a domain Block.
func headerToBlock(header *types.Header) *domain.Block {
	return &domain.Block{
		Number:     header.Number.Uint64(),
		Hash:       header.Hash(),
		ParentHash: header.ParentHash,
		Timestamp:  time.Unix(int64(header.Time), 0),
		GasLimit:   header.GasLimit,
		GasUsed:    header.GasUsed,
		BaseFee:    header.BaseFee,
	}
}

// LatestBlock fetches the most recent block on demand.
func (f *HeadFeed) LatestBlock(ctx context.Context) (*domain.Block, error) {
	ctx, span := f.tracer.Start(ctx, "chain.head_feed.latest_block")
	defer span.End()

	header, err := f.pollCB.Execute(func() (*types.Header, error) {
		var h *types.Header
		rerr := f.nodes.WithRead(ctx, "header_by_number", func(c app.NodeClient) error {
			hdr, herr := c.HeaderByNumber(ctx, nil)
			if herr != nil {
				return herr
			}
			h = hdr
			return nil
		})
		return h, rerr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, apperror.New(apperror.CodeRPCError,
			apperror.WithCause(err),
			apperror.WithContext("op", "latest_block"))
	}

	span.SetStatus(codes.Ok, "fetched")
	return headerToBlock(header), nil
}

// BlockNumber returns the number of the last seen block.
func (f *HeadFeed) BlockNumber() uint64 {
	return f.lastBlock.Load()
}

// State returns the current feed state.
func (f *HeadFeed) State() domain.ConnectionState {
	f.stateMu.RLock()
	defer f.stateMu.RUnlock()
	return f.state
}

// Status returns detailed feed status.
func (f *HeadFeed) Status() domain.ConnectionStatus {
	var lastUpdate time.Time
	if ns := f.lastUpdate.Load(); ns > 0 {
		lastUpdate = time.Unix(0, ns)
	}
	return domain.ConnectionStatus{
		State:      f.State(),
		LastBlock:  f.lastBlock.Load(),
		LastUpdate: lastUpdate,
		Reconnects: int(f.reconnects.Load()),
		Polling:    f.polling.Load(),
	}
}

// Close stops the feed. Node connections belong to the manager.
func (f *HeadFeed) Close() error {
	f.closeMu.Lock()
	defer f.closeMu.Unlock()

	if f.closed.Load() {
		return nil
	}

	f.logger.Info(context.Background(), "closing head feed")

	f.closed.Store(true)
	close(f.done)
	close(f.blocks)
	f.setState(domain.StateDisconnected)

	return nil
}

// sleep waits for d unless the feed shuts down first.
func (f *HeadFeed) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-f.done:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// setState updates the feed state and records the gauge.
func (f *HeadFeed) setState(state domain.ConnectionState) {
	f.stateMu.Lock()
	f.state = state
	f.stateMu.Unlock()

	stateValue := int64(0)
	switch state {
	case domain.StateDisconnected:
		stateValue = 0
	case domain.StateConnecting:
		stateValue = 1
	case domain.StateConnected:
		stateValue = 2
	case domain.StateReconnecting:
		stateValue = 3
	}

	f.metrics.connectionState.Record(context.Background(), stateValue)
}
