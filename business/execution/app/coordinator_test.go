package app_test

import (
	"context"
	"errors"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/jm31-art/ultraflashbot/business/execution/app"
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

type builtCall struct {
	method    string
	amount    *big.Int
	minProfit *big.Int
	gasLimit  uint64
}

type fakeBuilder struct {
	mu       sync.Mutex
	nonce    uint64
	buildErr error
	calls    []builtCall
	released []uint64
	resyncs  int
}

func (f *fakeBuilder) build(method string, amount, minProfit *big.Int, gasLimit uint64) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	f.calls = append(f.calls, builtCall{method: method, amount: amount, minProfit: minProfit, gasLimit: gasLimit})
	to := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	n := f.nonce
	f.nonce++
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     n,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(60_000_000_000),
		Gas:       gasLimit,
		To:        &to,
		Value:     big.NewInt(0),
	}), nil
}

func (f *fakeBuilder) FlashloanArbitrage(ctx context.Context, a common.Address, amount *big.Int,
	path []common.Address, router common.Address, minProfit *big.Int, gasLimit uint64) (*types.Transaction, error) {
	return f.build("flashloan", amount, minProfit, gasLimit)
}

func (f *fakeBuilder) Arbitrage(ctx context.Context, a common.Address, amount *big.Int,
	path []common.Address, router common.Address, minProfit *big.Int, gasLimit uint64) (*types.Transaction, error) {
	return f.build("arbitrage", amount, minProfit, gasLimit)
}

func (f *fakeBuilder) AtomicLiquidation(ctx context.Context, pool, borrower, debtAsset, collateralAsset common.Address,
	debtToCover, minProfit *big.Int, auxData []byte, gasLimit uint64) (*types.Transaction, error) {
	return f.build("liquidation", debtToCover, minProfit, gasLimit)
}

func (f *fakeBuilder) ReleaseNonce(nonce uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, nonce)
}

func (f *fakeBuilder) Resync() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncs++
}

func (f *fakeBuilder) From() common.Address {
	return common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
}

func (f *fakeBuilder) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.method
	}
	return out
}

type fakeSubmitter struct {
	mu        sync.Mutex
	errs      []error
	failAll   bool
	submitted []*types.Transaction
	simErr    error
	simCalls  int
	simBlock  uint64
}

func (f *fakeSubmitter) Submit(ctx context.Context, tx *types.Transaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return "", apperror.New(apperror.CodeRelaysExhausted)
	}
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	if err != nil {
		return "", err
	}
	f.submitted = append(f.submitted, tx)
	return "relay-0", nil
}

func (f *fakeSubmitter) Simulate(ctx context.Context, tx *types.Transaction, blockNumber uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simCalls++
	f.simBlock = blockNumber
	return f.simErr
}

func (f *fakeSubmitter) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

type fakeFresh struct {
	quotes map[string][]*pricingdomain.PriceQuote
	prices map[string]decimal.Decimal
}

func (f *fakeFresh) VenueQuotes(ctx context.Context, pair pricingdomain.Pair) []*pricingdomain.PriceQuote {
	return f.quotes[pair.String()]
}

func (f *fakeFresh) AssetUSD(ctx context.Context, a *asset.Asset) (decimal.Decimal, bool) {
	p, ok := f.prices[a.Symbol()]
	return p, ok
}

type fakeHeads struct {
	block uint64
}

func (f *fakeHeads) BlockNumber() uint64 { return f.block }

type fakeSink struct {
	mu        sync.Mutex
	attempts  []*domain.Attempt
	resubmits []app.ResubmitFunc
	releases  []func()
}

func (f *fakeSink) Track(ctx context.Context, at *domain.Attempt, resubmit app.ResubmitFunc, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, at)
	f.resubmits = append(f.resubmits, resubmit)
	f.releases = append(f.releases, release)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(ctx context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingNotifier) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Title
	}
	return out
}

func testLog() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelError, "test", nil)
}

func coordConfig() app.CoordinatorConfig {
	return app.CoordinatorConfig{
		Enabled:          true,
		MaxConcurrent:    2,
		MaxNotionalUSD:   decimal.NewFromInt(10_000),
		ProfitDriftPct:   20,
		FlashloanEnabled: true,
		FlashloanMinUSD:  decimal.NewFromInt(1000),
		GasUnits:         map[string]uint64{"swap": 200_000, "flashloan": 450_000, "liquidation": 600_000},
		ChainID:          asset.ChainIDEthereum,
	}
}

func venueQuote(source string, price, depth int64) *pricingdomain.PriceQuote {
	return &pricingdomain.PriceQuote{
		Pair:         pricingdomain.NewPair(asset.WETH, asset.USDC),
		Price:        decimal.NewFromInt(price),
		Source:       source,
		LiquidityUSD: decimal.NewFromInt(depth),
		ObservedAt:   time.Now(),
	}
}

// freshMarket reproduces the market the opportunities below were scanned
// from, so revalidation sees no drift.
func freshMarket() *fakeFresh {
	return &fakeFresh{
		quotes: map[string][]*pricingdomain.PriceQuote{
			"WETH-USDC": {venueQuote("uniswap", 2000, 1_000_000), venueQuote("binance", 2040, 900_000)},
		},
		prices: map[string]decimal.Decimal{
			"WETH": decimal.NewFromInt(2000),
			"ETH":  decimal.NewFromInt(2000),
		},
	}
}

func arbOpportunity() oppdomain.Opportunity {
	return oppdomain.Opportunity{
		Kind:      oppdomain.KindArbitrage,
		Reference: "WETH-USDC",
		Venue:     "uniswap->binance",
		AmountUSD: decimal.NewFromInt(2000),
		Gross:     decimal.NewFromInt(40),
		Net:       decimal.NewFromInt(30),
		Trade: &oppdomain.TradePlan{
			AssetIn:   asset.USDC,
			AmountIn:  big.NewInt(2_000_000_000),
			Path:      []common.Address{asset.USDC.Address(), asset.WETH.Address(), asset.USDC.Address()},
			Router:    common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564"),
			BuyVenue:  "uniswap",
			SellVenue: "binance",
		},
		ObservedAt: time.Now(),
	}
}

func liqOpportunity() oppdomain.Opportunity {
	return oppdomain.Opportunity{
		Kind:      oppdomain.KindLiquidation,
		Reference: "aave:0x01",
		Venue:     "aave",
		AmountUSD: decimal.NewFromInt(2000),
		Gross:     decimal.NewFromInt(160),
		Net:       decimal.NewFromInt(120),
		Liquidation: &lendingdomain.LiquidationPlan{
			Protocol:        "aave",
			Pool:            common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"),
			Borrower:        common.BytesToAddress([]byte{0x01}),
			DebtAsset:       asset.WETH,
			CollateralAsset: asset.WBTC,
			DebtToCover:     big.NewInt(1_000_000_000_000_000_000),
			DebtToCoverUSD:  decimal.NewFromInt(2000),
			BonusUSD:        decimal.NewFromInt(160),
		},
		ObservedAt: time.Now(),
	}
}

func newCoordinator(t *testing.T, cfg app.CoordinatorConfig, b *fakeBuilder, s *fakeSubmitter,
	fresh *fakeFresh, sink *fakeSink, stop *safety.Switch) (*app.Coordinator, *journal.Journal, *recordingNotifier) {
	t.Helper()

	jnl, err := journal.Open(":memory:", testLog())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { jnl.Close() })

	n := &recordingNotifier{}
	c, err := app.NewCoordinator(cfg, asset.DefaultRegistry(), b, s, fresh,
		&fakeHeads{block: 19_000_000}, sink, stop, jnl, n, testLog())
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return c, jnl, n
}

func journalCount(t *testing.T, jnl *journal.Journal, cat journal.Category) int64 {
	t.Helper()
	agg, err := jnl.AggregateSince(context.Background(), cat, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("AggregateSince: %v", err)
	}
	return agg.Count
}

func TestExecuteSubmitsFlashloanArbitrage(t *testing.T) {
	b := &fakeBuilder{}
	s := &fakeSubmitter{}
	sink := &fakeSink{}
	c, jnl, n := newCoordinator(t, coordConfig(), b, s, freshMarket(), sink, safety.NewSwitch())

	at, err := c.Execute(context.Background(), arbOpportunity())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if at == nil {
		t.Fatal("no attempt returned")
	}
	if at.Status != domain.StatusPending || at.Path != domain.PathFlashloan {
		t.Fatalf("attempt = %s/%s, want pending/flashloan", at.Status, at.Path)
	}
	if at.ID == "" {
		t.Fatal("attempt has no id")
	}
	if at.Relay != "relay-0" {
		t.Fatalf("relay = %s, want relay-0", at.Relay)
	}
	if at.GasLimit != 562_500 {
		t.Fatalf("gas limit = %d, want 562500 (450k schedule plus headroom)", at.GasLimit)
	}

	if got := b.methods(); len(got) != 1 || got[0] != "flashloan" {
		t.Fatalf("build calls = %v, want one flashloan", got)
	}
	// Half the $30 net, in USDC units.
	if b.calls[0].minProfit.Cmp(big.NewInt(15_000_000)) != 0 {
		t.Fatalf("min profit = %s, want 15e6", b.calls[0].minProfit)
	}

	if sink.count() != 1 {
		t.Fatalf("sink got %d attempts, want 1", sink.count())
	}
	if c.InFlight() != 1 {
		t.Fatalf("in flight = %d, want 1 until settlement", c.InFlight())
	}
	sink.releases[0]()
	if c.InFlight() != 0 {
		t.Fatalf("in flight after release = %d, want 0", c.InFlight())
	}

	if got := journalCount(t, jnl, journal.CategoryTrade); got != 1 {
		t.Fatalf("trade journal rows = %d, want 1", got)
	}
	titles := n.titles()
	if len(titles) != 1 || titles[0] != "trade submitted" {
		t.Fatalf("notifications = %v, want [trade submitted]", titles)
	}
}

func TestExecuteDisabledJournalsScanOnly(t *testing.T) {
	cfg := coordConfig()
	cfg.Enabled = false
	b := &fakeBuilder{}
	sink := &fakeSink{}
	c, jnl, _ := newCoordinator(t, cfg, b, &fakeSubmitter{}, freshMarket(), sink, safety.NewSwitch())

	at, err := c.Execute(context.Background(), arbOpportunity())
	if err != nil {
		t.Fatalf("scan-only Execute must not error, got %v", err)
	}
	if at != nil {
		t.Fatal("scan-only Execute must not produce an attempt")
	}
	if len(b.methods()) != 0 || sink.count() != 0 {
		t.Fatal("scan-only mode must not build or track")
	}
	if got := journalCount(t, jnl, journal.CategorySkip); got != 1 {
		t.Fatalf("skip journal rows = %d, want 1", got)
	}
}

func TestExecuteEmergencyStopRefuses(t *testing.T) {
	stop := safety.NewSwitch()
	stop.Trip("daily drawdown")
	b := &fakeBuilder{}
	c, _, _ := newCoordinator(t, coordConfig(), b, &fakeSubmitter{}, freshMarket(), &fakeSink{}, stop)

	_, err := c.Execute(context.Background(), arbOpportunity())
	if apperror.GetCode(err) != apperror.CodeEmergencyStop {
		t.Fatalf("tripped switch = %v, want %v", apperror.GetCode(err), apperror.CodeEmergencyStop)
	}
	if len(b.methods()) != 0 {
		t.Fatal("tripped switch must refuse before building")
	}

	stop.Reset()
	if _, err := c.Execute(context.Background(), arbOpportunity()); err != nil {
		t.Fatalf("Execute after reset: %v", err)
	}
}

func TestExecuteNotionalCap(t *testing.T) {
	b := &fakeBuilder{}
	c, jnl, _ := newCoordinator(t, coordConfig(), b, &fakeSubmitter{}, freshMarket(), &fakeSink{}, safety.NewSwitch())

	opp := arbOpportunity()
	opp.AmountUSD = decimal.NewFromInt(20_000)

	_, err := c.Execute(context.Background(), opp)
	if apperror.GetCode(err) != apperror.CodeNotionalExceeded {
		t.Fatalf("oversized = %v, want %v", apperror.GetCode(err), apperror.CodeNotionalExceeded)
	}
	if len(b.methods()) != 0 {
		t.Fatal("oversized attempt must not build")
	}
	if c.InFlight() != 0 {
		t.Fatalf("in flight = %d, want slot returned", c.InFlight())
	}
	if got := journalCount(t, jnl, journal.CategorySkip); got != 1 {
		t.Fatalf("skip journal rows = %d, want 1", got)
	}
}

func TestExecuteAbortsOnProfitDrift(t *testing.T) {
	fresh := freshMarket()
	// The spread has collapsed since the scan: $40 gross repriced to $10.
	fresh.quotes["WETH-USDC"] = []*pricingdomain.PriceQuote{
		venueQuote("uniswap", 2000, 1_000_000),
		venueQuote("binance", 2010, 900_000),
	}
	b := &fakeBuilder{}
	c, jnl, _ := newCoordinator(t, coordConfig(), b, &fakeSubmitter{}, fresh, &fakeSink{}, safety.NewSwitch())

	_, err := c.Execute(context.Background(), arbOpportunity())
	if apperror.GetCode(err) != apperror.CodeProfitRevalidation {
		t.Fatalf("drifted = %v, want %v", apperror.GetCode(err), apperror.CodeProfitRevalidation)
	}
	if len(b.methods()) != 0 {
		t.Fatal("drifted opportunity must not build")
	}
	if c.InFlight() != 0 {
		t.Fatalf("in flight = %d, want slot returned", c.InFlight())
	}
	if got := journalCount(t, jnl, journal.CategorySkip); got != 1 {
		t.Fatalf("skip journal rows = %d, want 1", got)
	}
}

func TestExecuteAbortsWithoutFreshData(t *testing.T) {
	cases := []struct {
		name  string
		fresh *fakeFresh
		opp   oppdomain.Opportunity
	}{
		{
			name:  "arbitrage without quotes",
			fresh: &fakeFresh{},
			opp:   arbOpportunity(),
		},
		{
			name:  "liquidation without debt price",
			fresh: &fakeFresh{prices: map[string]decimal.Decimal{}},
			opp:   liqOpportunity(),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &fakeBuilder{}
			c, _, _ := newCoordinator(t, coordConfig(), b, &fakeSubmitter{}, tc.fresh, &fakeSink{}, safety.NewSwitch())

			_, err := c.Execute(context.Background(), tc.opp)
			if apperror.GetCode(err) != apperror.CodeProfitRevalidation {
				t.Fatalf("unpriceable = %v, want %v", apperror.GetCode(err), apperror.CodeProfitRevalidation)
			}
			if len(b.methods()) != 0 {
				t.Fatal("unpriceable opportunity must not build")
			}
		})
	}
}

func TestExecuteFlashloanFallsBackToDirect(t *testing.T) {
	b := &fakeBuilder{}
	s := &fakeSubmitter{errs: []error{errors.New("bundle rejected")}}
	sink := &fakeSink{}
	c, _, _ := newCoordinator(t, coordConfig(), b, s, freshMarket(), sink, safety.NewSwitch())

	at, err := c.Execute(context.Background(), arbOpportunity())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if at.Path != domain.PathDirect {
		t.Fatalf("path = %s, want direct after flashloan rejection", at.Path)
	}
	if got := b.methods(); len(got) != 2 || got[0] != "flashloan" || got[1] != "arbitrage" {
		t.Fatalf("build calls = %v, want flashloan then arbitrage", got)
	}
	if len(b.released) != 1 || b.released[0] != 0 {
		t.Fatalf("released nonces = %v, want the rejected flashloan nonce", b.released)
	}
	if at.Nonce != 1 {
		t.Fatalf("final nonce = %d, want the rebuilt transaction's", at.Nonce)
	}
	if at.GasLimit != 250_000 {
		t.Fatalf("gas limit = %d, want the direct swap schedule", at.GasLimit)
	}
}

func TestExecuteLiquidationHasNoFallback(t *testing.T) {
	b := &fakeBuilder{}
	s := &fakeSubmitter{failAll: true}
	c, jnl, _ := newCoordinator(t, coordConfig(), b, s, freshMarket(), &fakeSink{}, safety.NewSwitch())

	_, err := c.Execute(context.Background(), liqOpportunity())
	if apperror.GetCode(err) != apperror.CodeSubmissionFailed {
		t.Fatalf("exhausted = %v, want %v", apperror.GetCode(err), apperror.CodeSubmissionFailed)
	}
	if got := b.methods(); len(got) != 1 || got[0] != "liquidation" {
		t.Fatalf("build calls = %v, want a single liquidation", got)
	}
	if len(b.released) != 1 {
		t.Fatalf("released nonces = %v, want the failed nonce back", b.released)
	}
	if c.InFlight() != 0 {
		t.Fatalf("in flight = %d, want slot returned", c.InFlight())
	}
	if got := journalCount(t, jnl, journal.CategoryError); got != 1 {
		t.Fatalf("error journal rows = %d, want 1", got)
	}
}

func TestExecuteLiquidationMinProfitInDebtUnits(t *testing.T) {
	b := &fakeBuilder{}
	sink := &fakeSink{}
	c, _, _ := newCoordinator(t, coordConfig(), b, &fakeSubmitter{}, freshMarket(), sink, safety.NewSwitch())

	at, err := c.Execute(context.Background(), liqOpportunity())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if at.Path != domain.PathFlashloan {
		t.Fatalf("path = %s, want flashloan for a $2000 close", at.Path)
	}
	// Half the $120 net at $2000/WETH: 0.03 WETH.
	if b.calls[0].minProfit.Cmp(big.NewInt(30_000_000_000_000_000)) != 0 {
		t.Fatalf("min profit = %s, want 3e16", b.calls[0].minProfit)
	}
	if at.GasLimit != 750_000 {
		t.Fatalf("gas limit = %d, want the liquidation schedule", at.GasLimit)
	}
}

func TestExecuteConcurrencyCeiling(t *testing.T) {
	cfg := coordConfig()
	cfg.MaxConcurrent = 1
	sink := &fakeSink{}
	c, _, _ := newCoordinator(t, cfg, &fakeBuilder{}, &fakeSubmitter{}, freshMarket(), sink, safety.NewSwitch())

	if _, err := c.Execute(context.Background(), arbOpportunity()); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	_, err := c.Execute(context.Background(), arbOpportunity())
	if apperror.GetCode(err) != apperror.CodeConcurrencyLimit {
		t.Fatalf("at ceiling = %v, want %v", apperror.GetCode(err), apperror.CodeConcurrencyLimit)
	}

	sink.releases[0]()
	if _, err := c.Execute(context.Background(), arbOpportunity()); err != nil {
		t.Fatalf("Execute after release: %v", err)
	}
}

func TestExecuteSimulationRevertAborts(t *testing.T) {
	cfg := coordConfig()
	cfg.SimulateFirst = true
	b := &fakeBuilder{}
	s := &fakeSubmitter{simErr: apperror.New(apperror.CodeSimulationReverted)}
	c, _, _ := newCoordinator(t, cfg, b, s, freshMarket(), &fakeSink{}, safety.NewSwitch())

	_, err := c.Execute(context.Background(), arbOpportunity())
	if apperror.GetCode(err) != apperror.CodeSimulationReverted {
		t.Fatalf("revert = %v, want %v", apperror.GetCode(err), apperror.CodeSimulationReverted)
	}
	if s.submitCount() != 0 {
		t.Fatal("reverted simulation must not submit")
	}
	if len(b.released) != 1 {
		t.Fatalf("released nonces = %v, want the aborted nonce back", b.released)
	}
	if s.simBlock != 19_000_001 {
		t.Fatalf("simulated against block %d, want head+1", s.simBlock)
	}
}

func TestExecuteSimulationOutageProceeds(t *testing.T) {
	cfg := coordConfig()
	cfg.SimulateFirst = true
	s := &fakeSubmitter{simErr: apperror.New(apperror.CodeRPCError)}
	sink := &fakeSink{}
	c, _, _ := newCoordinator(t, cfg, &fakeBuilder{}, s, freshMarket(), sink, safety.NewSwitch())

	at, err := c.Execute(context.Background(), arbOpportunity())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if at == nil || s.submitCount() != 1 {
		t.Fatal("simulation outage must not block submission")
	}
}

func TestResubmitRebuildsWithFreshNonce(t *testing.T) {
	b := &fakeBuilder{}
	s := &fakeSubmitter{}
	sink := &fakeSink{}
	c, _, _ := newCoordinator(t, coordConfig(), b, s, freshMarket(), sink, safety.NewSwitch())

	at, err := c.Execute(context.Background(), arbOpportunity())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if at.Nonce != 0 {
		t.Fatalf("first nonce = %d, want 0", at.Nonce)
	}

	tx, relay, err := sink.resubmits[0](context.Background())
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if tx.Nonce() != 1 {
		t.Fatalf("resubmitted nonce = %d, want a fresh one", tx.Nonce())
	}
	if relay != "relay-0" {
		t.Fatalf("resubmit relay = %s, want relay-0", relay)
	}
	if s.submitCount() != 2 {
		t.Fatalf("submissions = %d, want 2", s.submitCount())
	}
}
