package notify

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jm31-art/ultraflashbot/internal/logger"
)

// Dispatcher decouples the trading path from sink latency. Notify enqueues
// without blocking; a single worker drains the queue. When the queue is
// full the event is dropped and counted, never waited on.
type Dispatcher struct {
	sink    Notifier
	log     logger.LoggerInterface
	queue   chan Event
	done    chan struct{}
	once    sync.Once
	metrics *dispatchMetrics
}

type dispatchMetrics struct {
	delivered metric.Int64Counter
	dropped   metric.Int64Counter
}

func initDispatchMetrics() (*dispatchMetrics, error) {
	meter := otel.Meter("notify")

	delivered, err := meter.Int64Counter(
		"notifications_delivered_total",
		metric.WithDescription("Notifications handed to the sink, by severity"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter(
		"notifications_dropped_total",
		metric.WithDescription("Notifications dropped because the queue was full"),
	)
	if err != nil {
		return nil, err
	}

	return &dispatchMetrics{delivered: delivered, dropped: dropped}, nil
}

// NewDispatcher starts the worker. queueSize bounds how many undelivered
// events may pile up before new ones are dropped.
func NewDispatcher(sink Notifier, queueSize int, log logger.LoggerInterface) (*Dispatcher, error) {
	if queueSize <= 0 {
		queueSize = 64
	}

	m, err := initDispatchMetrics()
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		sink:    sink,
		log:     log,
		queue:   make(chan Event, queueSize),
		done:    make(chan struct{}),
		metrics: m,
	}
	go d.run()
	return d, nil
}

// Notify enqueues the event. Never blocks.
func (d *Dispatcher) Notify(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	select {
	case d.queue <- e:
	default:
		d.metrics.dropped.Add(ctx, 1)
		d.log.Warn(ctx, "notification queue full, dropping event",
			"title", e.Title, "severity", string(e.Severity))
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e Event) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error(ctx, "notification sink panicked", "panic", r)
		}
	}()

	d.sink.Notify(ctx, e)
	d.metrics.delivered.Add(ctx, 1,
		metric.WithAttributes(attribute.String("severity", string(e.Severity))))
}

// Close stops accepting events and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.queue)
		<-d.done
	})
}
