package app

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jm31-art/ultraflashbot/business/execution/domain"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/asset"
	"github.com/jm31-art/ultraflashbot/internal/journal"
	"github.com/jm31-art/ultraflashbot/internal/logger"
	"github.com/jm31-art/ultraflashbot/internal/notify"
	"github.com/jm31-art/ultraflashbot/internal/retry"
	"github.com/jm31-art/ultraflashbot/internal/safety"
)

// ResubmitFunc rebuilds and rebroadcasts an attempt, returning the new
// transaction and the accepting relay.
type ResubmitFunc func(ctx context.Context) (*types.Transaction, string, error)

// TrackerConfig holds settlement watch parameters.
type TrackerConfig struct {
	// MinConfirmations blocks must bury the receipt before an attempt
	// counts as confirmed.
	MinConfirmations uint64

	// PollInterval paces receipt and head polling.
	PollInterval time.Duration

	// MaxResubmits bounds retries after reverts and timeouts.
	MaxResubmits int

	// Backoff spaces resubmissions; delays grow per retry.
	Backoff retry.Policy

	// Timeout is how long one submission may stay unmined before it is
	// treated as dropped.
	Timeout time.Duration

	ChainID  uint64
	Contract common.Address
}

type trackerMetrics struct {
	settlements   metric.Int64Counter
	resubmits     metric.Int64Counter
	realizedUSD   metric.Float64UpDownCounter
	settleLatency metric.Float64Histogram
}

// TrackerStats is a point-in-time view of settlement activity.
type TrackerStats struct {
	Pending     int64
	Confirmed   uint64
	Failed      uint64
	Resubmits   uint64
	RealizedUSD decimal.Decimal
	SuccessRate float64
}

// Tracker watches submitted attempts to a terminal state: confirmation
// at depth, or failure after bounded resubmission. Realized profit is
// reconstructed only from confirmed receipts, never from estimates.
type Tracker struct {
	config   TrackerConfig
	receipts ReceiptReader
	heads    HeadReader
	fresh    FreshPricer
	registry *asset.Registry
	nonces   NonceResyncer
	failures *safety.FailurePolicy
	journal  *journal.Journal
	notifier notify.Notifier
	logger   logger.LoggerInterface

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	pending   int64
	confirmed uint64
	failed    uint64
	resubmits uint64
	realized  decimal.Decimal

	tracer  trace.Tracer
	metrics *trackerMetrics
}

// NewTracker creates the settlement watcher. failures may be nil when no
// trip policy applies.
func NewTracker(cfg TrackerConfig, receipts ReceiptReader, heads HeadReader, fresh FreshPricer,
	reg *asset.Registry, nonces NonceResyncer, failures *safety.FailurePolicy,
	jnl *journal.Journal, notifier notify.Notifier, log logger.LoggerInterface) (*Tracker, error) {

	if cfg.MinConfirmations == 0 {
		cfg.MinConfirmations = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff.Initial = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		config:   cfg,
		receipts: receipts,
		heads:    heads,
		fresh:    fresh,
		registry: reg,
		nonces:   nonces,
		failures: failures,
		journal:  jnl,
		notifier: notifier,
		logger:   log,
		ctx:      ctx,
		cancel:   cancel,
		realized: decimal.Zero,
		tracer:   otel.Tracer(tracerName),
	}
	if err := t.initMetrics(); err != nil {
		cancel()
		return nil, err
	}
	return t, nil
}

func (t *Tracker) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	t.metrics = &trackerMetrics{}

	t.metrics.settlements, err = meter.Int64Counter(
		"execution_settlements_total",
		metric.WithDescription("Attempts reaching a terminal state, by outcome"),
	)
	if err != nil {
		return err
	}

	t.metrics.resubmits, err = meter.Int64Counter(
		"execution_resubmits_total",
		metric.WithDescription("Resubmissions after reverts and drop timeouts"),
	)
	if err != nil {
		return err
	}

	// Up-down: losses subtract.
	t.metrics.realizedUSD, err = meter.Float64UpDownCounter(
		"execution_realized_usd",
		metric.WithDescription("Cumulative realized profit and loss from confirmed attempts"),
	)
	if err != nil {
		return err
	}

	t.metrics.settleLatency, err = meter.Float64Histogram(
		"execution_settle_latency_seconds",
		metric.WithDescription("Submission-to-terminal latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Track watches one attempt in the background. release frees the
// coordinator's concurrency slot and runs exactly once, at the attempt's
// terminal state or on shutdown.
func (t *Tracker) Track(ctx context.Context, at *domain.Attempt, resubmit ResubmitFunc, release func()) {
	t.mu.Lock()
	t.pending++
	t.mu.Unlock()

	t.wg.Add(1)
	go t.watch(at, resubmit, release)
}

// Stop cancels settlement watches after draining: it waits for in-flight
// attempts to reach a terminal state until ctx expires, then aborts the
// rest.
func (t *Tracker) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.cancel()
		return nil
	case <-ctx.Done():
		t.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats reports cumulative settlement activity.
func (t *Tracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := TrackerStats{
		Pending:     t.pending,
		Confirmed:   t.confirmed,
		Failed:      t.failed,
		Resubmits:   t.resubmits,
		RealizedUSD: t.realized,
	}
	if total := t.confirmed + t.failed; total > 0 {
		st.SuccessRate = float64(t.confirmed) / float64(total)
	}
	return st
}

func (t *Tracker) watch(at *domain.Attempt, resubmit ResubmitFunc, release func()) {
	defer t.wg.Done()
	defer release()
	defer func() {
		t.mu.Lock()
		t.pending--
		t.mu.Unlock()
	}()

	ctx, span := t.tracer.Start(t.ctx, "execution.settle",
		trace.WithAttributes(attribute.String("attempt_id", at.ID)),
	)
	defer span.End()

	deadline := time.Now().Add(t.config.Timeout)

	for {
		receipt, err := t.awaitReceipt(ctx, at.TxHash, deadline)
		if err != nil {
			if ctx.Err() != nil {
				t.logger.Warn(ctx, "settlement watch abandoned on shutdown",
					"attempt_id", at.ID, "tx_hash", at.TxHash.Hex())
				return
			}
			// Never mined inside the window: treat as dropped. The nonce
			// tracker re-reads so the replacement reuses the stuck nonce.
			if at.Retries >= t.config.MaxResubmits {
				t.fail(ctx, at, apperror.New(apperror.CodeSettlementTimeout,
					apperror.WithContext("tx_hash", at.TxHash.Hex()),
					apperror.WithContext("retries", at.Retries)))
				return
			}
			if t.nonces != nil {
				t.nonces.Resync()
			}
			if !t.retry(ctx, at, resubmit, &deadline, "timeout") {
				return
			}
			continue
		}

		if receipt.Status == types.ReceiptStatusSuccessful {
			if err := t.awaitConfirmations(ctx, receipt); err != nil {
				t.logger.Warn(ctx, "settlement watch abandoned on shutdown",
					"attempt_id", at.ID, "tx_hash", at.TxHash.Hex())
				return
			}
			t.confirm(ctx, at, receipt)
			return
		}

		// Reverted on-chain. The nonce is consumed, so a retry is a
		// fresh transaction.
		if at.Retries >= t.config.MaxResubmits {
			t.fail(ctx, at, apperror.New(apperror.CodeSettlementReverted,
				apperror.WithContext("tx_hash", at.TxHash.Hex()),
				apperror.WithContext("retries", at.Retries)))
			return
		}
		if !t.retry(ctx, at, resubmit, &deadline, "revert") {
			return
		}
	}
}

// awaitReceipt polls until the hash has a receipt. A nil error always
// carries a receipt; otherwise the error is the context's on shutdown or
// a timeout sentinel once deadline passes.
func (t *Tracker) awaitReceipt(ctx context.Context, hash common.Hash, deadline time.Time) (*types.Receipt, error) {
	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.receipts.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}

		if time.Now().After(deadline) {
			return nil, apperror.New(apperror.CodeSettlementTimeout,
				apperror.WithContext("tx_hash", hash.Hex()))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// awaitConfirmations waits until the receipt's block is buried
// MinConfirmations deep.
func (t *Tracker) awaitConfirmations(ctx context.Context, receipt *types.Receipt) error {
	if t.config.MinConfirmations <= 1 {
		return nil
	}

	mined := receipt.BlockNumber.Uint64()
	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()

	for {
		if head := t.heads.BlockNumber(); head >= mined && head-mined+1 >= t.config.MinConfirmations {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// retry resubmits after a backoff that grows with the retry count. When
// resubmission itself fails the old hash stays watched; the broadcast
// transaction is still out there and the retry budget still bounds the
// attempt. Returns false on shutdown.
func (t *Tracker) retry(ctx context.Context, at *domain.Attempt, resubmit ResubmitFunc, deadline *time.Time, cause string) bool {
	at.Retries++
	at.Status = domain.StatusRetrying

	t.mu.Lock()
	t.resubmits++
	t.mu.Unlock()
	t.metrics.resubmits.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
	t.journalSettlement(ctx, at, map[string]any{
		"status": string(domain.StatusRetrying),
		"cause":  cause,
		"retry":  at.Retries,
	})
	t.logger.Warn(ctx, "attempt retrying",
		"attempt_id", at.ID, "cause", cause, "retry", at.Retries,
		"tx_hash", at.TxHash.Hex())

	if err := retry.Sleep(ctx, t.config.Backoff.Backoff(at.Retries)); err != nil {
		return false
	}

	tx, relayName, err := resubmit(ctx)
	if err != nil {
		t.logger.Warn(ctx, "resubmission failed, continuing to watch",
			"attempt_id", at.ID, "error", err.Error())
		*deadline = time.Now().Add(t.config.Timeout)
		return ctx.Err() == nil
	}

	at.TxHash = tx.Hash()
	at.Nonce = tx.Nonce()
	at.GasLimit = tx.Gas()
	at.Relay = relayName
	at.Status = domain.StatusPending
	*deadline = time.Now().Add(t.config.Timeout)

	t.logger.Info(ctx, "attempt resubmitted",
		"attempt_id", at.ID, "tx_hash", at.TxHash.Hex(), "relay", relayName,
		"retry", at.Retries)
	return true
}

func (t *Tracker) confirm(ctx context.Context, at *domain.Attempt, receipt *types.Receipt) {
	at.Status = domain.StatusConfirmed
	at.SettledAt = time.Now()
	at.GasUsed = receipt.GasUsed
	at.EffectiveGasPriceWei = receipt.EffectiveGasPrice
	at.RealizedUSD = t.realizedFromReceipt(ctx, receipt)

	t.mu.Lock()
	t.confirmed++
	t.realized = t.realized.Add(at.RealizedUSD)
	t.mu.Unlock()

	realized, _ := at.RealizedUSD.Float64()
	t.metrics.settlements.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "confirmed")))
	t.metrics.realizedUSD.Add(ctx, realized)
	t.metrics.settleLatency.Record(ctx, at.SettledAt.Sub(at.SubmittedAt).Seconds())

	t.journalSettlement(ctx, at, map[string]any{
		"status":       string(domain.StatusConfirmed),
		"tx_hash":      at.TxHash.Hex(),
		"block":        receipt.BlockNumber.Uint64(),
		"gas_used":     receipt.GasUsed,
		"realized_usd": at.RealizedUSD.StringFixed(2),
		"estimate_usd": at.EstimatedNetUSD.StringFixed(2),
	})
	t.notifier.Notify(ctx, notify.Event{
		Severity: notify.SeverityInfo,
		Title:    "trade confirmed",
		Body:     at.String() + ", realized $" + at.RealizedUSD.StringFixed(2),
		At:       time.Now(),
	})
	if t.failures != nil {
		t.failures.Observe(nil)
	}
	t.logger.Info(ctx, "attempt confirmed",
		"attempt_id", at.ID, "reference", at.Reference,
		"realized_usd", at.RealizedUSD.StringFixed(2),
		"estimate_usd", at.EstimatedNetUSD.StringFixed(2),
		"retries", at.Retries)
}

func (t *Tracker) fail(ctx context.Context, at *domain.Attempt, cause error) {
	at.Status = domain.StatusFailed
	at.SettledAt = time.Now()
	at.FailReason = cause.Error()

	t.mu.Lock()
	t.failed++
	t.mu.Unlock()

	outcome := "failed"
	if apperror.GetCode(cause) == apperror.CodeSettlementReverted {
		outcome = "reverted"
	} else if apperror.GetCode(cause) == apperror.CodeSettlementTimeout {
		outcome = "timeout"
	}
	t.metrics.settlements.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	t.metrics.settleLatency.Record(ctx, at.SettledAt.Sub(at.SubmittedAt).Seconds())

	t.journalSettlement(ctx, at, map[string]any{
		"status":  string(domain.StatusFailed),
		"tx_hash": at.TxHash.Hex(),
		"reason":  at.FailReason,
		"retries": at.Retries,
	})
	t.notifier.Notify(ctx, notify.Event{
		Severity: notify.SeverityWarn,
		Title:    "trade failed",
		Body:     at.String() + ": " + at.FailReason,
		At:       time.Now(),
	})
	if t.failures != nil {
		t.failures.Observe(cause)
	}
	t.logger.Error(ctx, "attempt failed",
		"attempt_id", at.ID, "reference", at.Reference,
		"reason", at.FailReason, "retries", at.Retries)
}

// realizedFromReceipt reconstructs the attempt's profit and loss from
// what the chain recorded: profit events valued at current prices, minus
// the gas actually burned. Components that cannot be valued are logged
// and left out rather than estimated.
func (t *Tracker) realizedFromReceipt(ctx context.Context, receipt *types.Receipt) decimal.Decimal {
	total := decimal.Zero

	for _, lg := range receipt.Logs {
		ev, ok := domain.ParseProfitEvent(lg, t.config.Contract)
		if !ok {
			continue
		}
		a, ok := t.registry.GetToken(t.config.ChainID, ev.Asset)
		if !ok {
			t.logger.Warn(ctx, "profit event in unknown asset",
				"asset", ev.Asset.Hex(), "tx_hash", receipt.TxHash.Hex())
			continue
		}
		price, ok := t.fresh.AssetUSD(ctx, a)
		if !ok || !price.IsPositive() {
			t.logger.Warn(ctx, "profit asset has no price",
				"asset", a.Symbol(), "tx_hash", receipt.TxHash.Hex())
			continue
		}
		units := decimal.NewFromBigInt(ev.Amount, -int32(a.Decimals()))
		total = total.Add(units.Mul(price))
	}

	if receipt.EffectiveGasPrice != nil {
		gasWei := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
		if native, ok := t.registry.GetNative(t.config.ChainID); ok {
			if price, ok := t.fresh.AssetUSD(ctx, native); ok && price.IsPositive() {
				total = total.Sub(decimal.NewFromBigInt(gasWei, -18).Mul(price))
			} else {
				t.logger.Warn(ctx, "native price unavailable, gas cost not valued",
					"tx_hash", receipt.TxHash.Hex())
			}
		}
	}

	return total
}

func (t *Tracker) journalSettlement(ctx context.Context, at *domain.Attempt, fields map[string]any) {
	amount, _ := at.AmountUSD.Float64()
	fields["attempt_id"] = at.ID
	err := t.journal.Append(ctx, journal.Entry{
		Category:  journal.CategorySettlement,
		Kind:      string(at.Kind),
		Reference: at.Reference,
		AmountUSD: amount,
		Fields:    fields,
	})
	if err != nil {
		t.logger.Warn(ctx, "settlement journal write failed", "error", err.Error())
	}
}
