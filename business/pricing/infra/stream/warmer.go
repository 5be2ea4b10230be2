package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jm31-art/ultraflashbot/business/pricing/app"
	"github.com/jm31-art/ultraflashbot/business/pricing/domain"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/logger"
	"github.com/jm31-art/ultraflashbot/internal/wsconn"
)

const (
	tracerName = "pricing.stream"
	meterName  = "pricing.stream"

	// The exchange drops idle connections after 3 minutes.
	keepAliveInterval = 2 * time.Minute
)

// WarmerConfig holds stream warmer configuration.
type WarmerConfig struct {
	BaseURL      string
	DepthSpeedMs int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultWarmerConfig returns sensible defaults for a base WS URL.
func DefaultWarmerConfig(baseURL string) WarmerConfig {
	return WarmerConfig{
		BaseURL:      baseURL,
		DepthSpeedMs: 100,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// warmerMetrics holds OTEL metric instruments.
type warmerMetrics struct {
	messagesReceived metric.Int64Counter
	quotesPrimed     metric.Int64Counter
	primeRejects     metric.Int64Counter
	depthUpdates     metric.Int64Counter
	parseErrors      metric.Int64Counter
}

// Warmer subscribes to bookTicker and depth streams for the configured hot
// pairs and pushes each tick through the aggregator's sanity gate into its
// cache. The scan loop then hits warm prices instead of paying a source
// round trip.
type Warmer struct {
	config WarmerConfig
	pairs  map[string]domain.Pair // exchange symbol -> pair
	agg    *app.Aggregator
	logger logger.LoggerInterface

	conn   *wsconn.Client
	connMu sync.RWMutex

	// latest bid-side depth notional per symbol, attached to the next tick
	depthMu  sync.RWMutex
	depthUSD map[string]decimal.Decimal

	stopKeepAlive chan struct{}
	stopOnce      sync.Once

	tracer  trace.Tracer
	metrics *warmerMetrics
}

// NewWarmer creates a warmer for the given symbol-to-pair set.
func NewWarmer(cfg WarmerConfig, pairs map[string]domain.Pair, agg *app.Aggregator, log logger.LoggerInterface) (*Warmer, error) {
	if len(pairs) == 0 {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithMessage("no hot pairs configured for the stream warmer"))
	}

	w := &Warmer{
		config:        cfg,
		pairs:         pairs,
		agg:           agg,
		logger:        log,
		depthUSD:      make(map[string]decimal.Decimal, len(pairs)),
		stopKeepAlive: make(chan struct{}),
		tracer:        otel.Tracer(tracerName),
	}

	if err := w.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return w, nil
}

func (w *Warmer) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	w.metrics = &warmerMetrics{}

	w.metrics.messagesReceived, err = meter.Int64Counter(
		"stream_messages_total",
		metric.WithDescription("Total stream messages received"),
	)
	if err != nil {
		return err
	}

	w.metrics.quotesPrimed, err = meter.Int64Counter(
		"stream_quotes_primed_total",
		metric.WithDescription("Ticks accepted into the pair cache"),
	)
	if err != nil {
		return err
	}

	w.metrics.primeRejects, err = meter.Int64Counter(
		"stream_prime_rejects_total",
		metric.WithDescription("Ticks rejected by the sanity gate"),
	)
	if err != nil {
		return err
	}

	w.metrics.depthUpdates, err = meter.Int64Counter(
		"stream_depth_updates_total",
		metric.WithDescription("Depth snapshots received"),
	)
	if err != nil {
		return err
	}

	w.metrics.parseErrors, err = meter.Int64Counter(
		"stream_parse_errors_total",
		metric.WithDescription("Message parse errors"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Connect dials the combined streams URL and starts feeding the cache.
// The connection redials itself; Connect retries until the context ends.
func (w *Warmer) Connect(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "stream.connect")
	defer span.End()

	wsURL, err := w.buildStreamURL()
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("url", logger.MaskURL(wsURL)))

	wsCfg := wsconn.DefaultConfig(wsURL, "price-stream")
	wsCfg.ReadTimeout = w.config.ReadTimeout
	wsCfg.WriteTimeout = w.config.WriteTimeout

	conn, err := wsconn.New(wsCfg)
	if err != nil {
		return apperror.New(apperror.CodeWebSocketError,
			apperror.WithCause(err),
			apperror.WithMessage("create stream connection"))
	}

	conn.OnMessage(w.handleMessage)

	if err := conn.ConnectWithRetry(ctx); err != nil {
		return apperror.New(apperror.CodeWebSocketError,
			apperror.WithCause(err),
			apperror.WithMessage("connect price stream"))
	}

	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()

	go w.keepAlive(ctx)

	symbols := make([]string, 0, len(w.pairs))
	for sym := range w.pairs {
		symbols = append(symbols, sym)
	}
	w.logger.Info(ctx, "price stream connected", "symbols", symbols)

	return nil
}

// buildStreamURL constructs the combined streams URL:
// /stream?streams=ethusdc@bookTicker/ethusdc@depth20@100ms/...
func (w *Warmer) buildStreamURL() (string, error) {
	streams := make([]string, 0, len(w.pairs)*2)
	for sym := range w.pairs {
		streams = append(streams, BookTickerStream(sym))
		streams = append(streams, DepthStream(sym, w.config.DepthSpeedMs))
	}

	u, err := url.Parse(w.config.BaseURL)
	if err != nil {
		return "", apperror.New(apperror.CodeConfigurationError,
			apperror.WithCause(err),
			apperror.WithContext("url", logger.MaskURL(w.config.BaseURL)))
	}
	u.Path = "/stream"
	u.RawQuery = "streams=" + strings.Join(streams, "/")

	return u.String(), nil
}

// handleMessage routes one stream frame.
func (w *Warmer) handleMessage(ctx context.Context, data []byte) {
	w.metrics.messagesReceived.Add(ctx, 1)

	var event StreamEvent
	if err := json.Unmarshal(data, &event); err != nil || event.Stream == "" {
		// Subscription acks arrive outside the stream wrapper.
		var resp WSResponse
		if json.Unmarshal(data, &resp) == nil {
			return
		}
		w.metrics.parseErrors.Add(ctx, 1)
		return
	}

	switch {
	case strings.HasSuffix(event.Stream, "@bookTicker"):
		w.handleBookTicker(ctx, &event)
	case strings.Contains(event.Stream, "@depth"):
		w.handleDepth(ctx, &event)
	}
}

func (w *Warmer) handleBookTicker(ctx context.Context, event *StreamEvent) {
	var ticker BookTickerEvent
	if err := json.Unmarshal(event.Data, &ticker); err != nil {
		w.metrics.parseErrors.Add(ctx, 1)
		return
	}

	pair, ok := w.pairs[ticker.Symbol]
	if !ok {
		return
	}

	mid, err := ticker.Mid()
	if err != nil {
		w.metrics.parseErrors.Add(ctx, 1)
		return
	}

	w.depthMu.RLock()
	liq := w.depthUSD[ticker.Symbol]
	w.depthMu.RUnlock()

	quote := &domain.PriceQuote{
		Pair:         pair,
		Price:        mid,
		Source:       "stream",
		LiquidityUSD: liq,
		ObservedAt:   time.Now(),
	}

	if w.agg.Prime(ctx, quote) {
		w.metrics.quotesPrimed.Add(ctx, 1)
	} else {
		w.metrics.primeRejects.Add(ctx, 1)
	}
}

func (w *Warmer) handleDepth(ctx context.Context, event *StreamEvent) {
	var depth PartialDepthEvent
	if err := json.Unmarshal(event.Data, &depth); err != nil {
		w.metrics.parseErrors.Add(ctx, 1)
		return
	}
	depth.Symbol = symbolFromStream(event.Stream)

	pair, ok := w.pairs[depth.Symbol]
	if !ok {
		return
	}

	// Only USD-quoted books translate to a USD depth figure.
	notional := decimal.Zero
	switch pair.Quote.Symbol() {
	case "USDC", "USDT", "DAI", "BUSD":
		notional = BidNotional(depth.Bids)
	}

	w.depthMu.Lock()
	w.depthUSD[depth.Symbol] = notional
	w.depthMu.Unlock()

	w.metrics.depthUpdates.Add(ctx, 1)
}

// keepAlive sends a periodic list request so the server keeps the
// connection open.
func (w *Warmer) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	var nextID int64
	for {
		select {
		case <-w.stopKeepAlive:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.connMu.RLock()
			conn := w.conn
			w.connMu.RUnlock()
			if conn == nil {
				continue
			}

			nextID++
			data, _ := json.Marshal(WSRequest{Method: "LIST_SUBSCRIPTIONS", ID: nextID})
			if err := conn.Send(ctx, data); err != nil {
				w.logger.Warn(ctx, "stream keep-alive failed", "error", err.Error())
			}
		}
	}
}

// IsConnected reports whether the stream connection is live.
func (w *Warmer) IsConnected() bool {
	w.connMu.RLock()
	defer w.connMu.RUnlock()
	return w.conn != nil && w.conn.IsConnected()
}

// Close shuts the stream down.
func (w *Warmer) Close() error {
	w.stopOnce.Do(func() { close(w.stopKeepAlive) })

	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}
