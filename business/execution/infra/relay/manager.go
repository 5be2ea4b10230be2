// Package relay submits signed transactions through an ordered list of
// private relay endpoints. Submissions try relays starting from a sticky
// cursor: a success pins the cursor to the accepting relay, a rejection
// advances it, so a dead primary is not retried first on every call.
package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/circuitbreaker"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

const (
	tracerName = "execution.relay"
	meterName  = "execution.relay"
)

const defaultTimeout = 10 * time.Second

// transport is the JSON-RPC surface the manager needs. *rpc.Client
// satisfies it.
type transport interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	Close()
}

type relay struct {
	name    string
	client  transport
	breaker *circuitbreaker.CircuitBreaker[string]
}

type managerMetrics struct {
	submissions metric.Int64Counter
	failovers   metric.Int64Counter
	simulations metric.Int64Counter
}

// Manager holds the relay set. The set and its order are fixed at
// construction; only the cursor moves.
type Manager struct {
	relays  []*relay
	timeout time.Duration
	logger  logger.LoggerInterface

	mu     sync.Mutex
	cursor int

	tracer  trace.Tracer
	metrics *managerMetrics
}

// New dials every configured relay endpoint. Endpoints are JSON-RPC over
// HTTP or WebSocket; order in the list is failover order.
func New(ctx context.Context, urls []string, timeout time.Duration, log logger.LoggerInterface) (*Manager, error) {
	if len(urls) == 0 {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithMessage("no relay endpoints configured"))
	}

	relays := make([]*relay, 0, len(urls))
	for _, raw := range urls {
		client, err := rpc.DialContext(ctx, raw)
		if err != nil {
			for _, r := range relays {
				r.client.Close()
			}
			return nil, apperror.New(apperror.CodeConnectivityFailed,
				apperror.WithMessage("relay dial failed"),
				apperror.WithCause(err),
				apperror.WithContext("relay", logger.MaskURL(raw)))
		}
		name := relayName(raw)
		relays = append(relays, &relay{
			name:    name,
			client:  client,
			breaker: circuitbreaker.New[string](circuitbreaker.DefaultConfig("relay:" + name)),
		})
	}
	return newManager(relays, timeout, log)
}

func newManager(relays []*relay, timeout time.Duration, log logger.LoggerInterface) (*Manager, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	m := &Manager{
		relays:  relays,
		timeout: timeout,
		logger:  log,
		tracer:  otel.Tracer(tracerName),
	}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	m.metrics = &managerMetrics{}

	m.metrics.submissions, err = meter.Int64Counter(
		"execution_relay_submissions_total",
		metric.WithDescription("Relay submission attempts by relay and outcome"),
	)
	if err != nil {
		return err
	}

	m.metrics.failovers, err = meter.Int64Counter(
		"execution_relay_failovers_total",
		metric.WithDescription("Submissions handed to the next relay after a rejection"),
	)
	if err != nil {
		return err
	}

	m.metrics.simulations, err = meter.Int64Counter(
		"execution_relay_simulations_total",
		metric.WithDescription("Bundle simulations by outcome"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Submit broadcasts the signed transaction, trying relays in order from
// the cursor. It returns the name of the accepting relay. When every
// relay rejects, the returned error is terminal and carries the last
// rejection as its cause.
func (m *Manager) Submit(ctx context.Context, tx *types.Transaction) (string, error) {
	ctx, span := m.tracer.Start(ctx, "relay.submit",
		trace.WithAttributes(attribute.String("tx_hash", tx.Hash().Hex())),
	)
	defer span.End()

	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", apperror.Wrap(err, apperror.CodeInternalError, "transaction encode failed")
	}
	rawHex := hexutil.Encode(raw)

	m.mu.Lock()
	start := m.cursor
	m.mu.Unlock()

	n := len(m.relays)
	var lastErr error
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		r := m.relays[idx]

		hash, err := r.breaker.Execute(func() (string, error) {
			tryCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			var h string
			if err := r.client.CallContext(tryCtx, &h, "eth_sendRawTransaction", rawHex); err != nil {
				return "", err
			}
			return h, nil
		})
		if err == nil {
			m.mu.Lock()
			m.cursor = idx
			m.mu.Unlock()
			m.metrics.submissions.Add(ctx, 1, metric.WithAttributes(
				attribute.String("relay", r.name),
				attribute.String("outcome", "accepted"),
			))
			m.logger.Info(ctx, "transaction submitted", "relay", r.name, "tx_hash", hash)
			return r.name, nil
		}

		lastErr = err
		m.mu.Lock()
		m.cursor = (idx + 1) % n
		m.mu.Unlock()
		m.metrics.submissions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("relay", r.name),
			attribute.String("outcome", "rejected"),
		))
		if i < n-1 {
			m.metrics.failovers.Add(ctx, 1)
		}
		m.logger.Warn(ctx, "relay rejected submission", "relay", r.name, "error", err.Error())
	}

	span.SetStatus(codes.Error, "relays exhausted")
	return "", apperror.New(apperror.CodeRelaysExhausted,
		apperror.WithContext("relays", n),
		apperror.WithCause(lastErr))
}

type bundleResult struct {
	Results []struct {
		Error  string `json:"error"`
		Revert string `json:"revert"`
	} `json:"results"`
}

// Simulate runs the transaction as a one-item bundle against the primary
// relay for the given target block. A relay without bundle simulation
// passes the transaction through unsimulated. Simulation never moves the
// submission cursor.
func (m *Manager) Simulate(ctx context.Context, tx *types.Transaction, blockNumber uint64) error {
	ctx, span := m.tracer.Start(ctx, "relay.simulate")
	defer span.End()

	raw, err := tx.MarshalBinary()
	if err != nil {
		return apperror.Wrap(err, apperror.CodeInternalError, "transaction encode failed")
	}

	primary := m.relays[0]
	arg := map[string]interface{}{
		"txs":              []string{hexutil.Encode(raw)},
		"blockNumber":      hexutil.EncodeUint64(blockNumber),
		"stateBlockNumber": "latest",
	}

	tryCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var res bundleResult
	if err := primary.client.CallContext(tryCtx, &res, "eth_callBundle", arg); err != nil {
		if isMethodNotFound(err) {
			m.metrics.simulations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "unsupported")))
			m.logger.Debug(ctx, "relay does not support simulation", "relay", primary.name)
			return nil
		}
		m.metrics.simulations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
		return apperror.Wrap(err, apperror.CodeRPCError, "bundle simulation call failed")
	}

	for _, r := range res.Results {
		if r.Error != "" {
			reason := r.Revert
			if reason == "" {
				reason = r.Error
			}
			m.metrics.simulations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "revert")))
			span.SetStatus(codes.Error, "simulation reverted")
			return apperror.New(apperror.CodeSimulationReverted,
				apperror.WithContext("revert", reason))
		}
	}

	m.metrics.simulations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "clean")))
	return nil
}

// Cursor returns the index the next submission will start from.
func (m *Manager) Cursor() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

// Names lists relay names in failover order.
func (m *Manager) Names() []string {
	names := make([]string, len(m.relays))
	for i, r := range m.relays {
		names[i] = r.name
	}
	return names
}

// Close releases every relay connection.
func (m *Manager) Close() {
	for _, r := range m.relays {
		r.client.Close()
	}
}

func relayName(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		rest := raw[i+3:]
		if at := strings.LastIndex(rest, "@"); at >= 0 {
			rest = rest[at+1:]
		}
		if slash := strings.Index(rest, "/"); slash >= 0 {
			rest = rest[:slash]
		}
		if rest != "" {
			return rest
		}
	}
	return logger.MaskURL(raw)
}

func isMethodNotFound(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == -32601 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "method not found") || strings.Contains(msg, "not supported")
}
