package app_test

import (
	"context"
	"errors"
	"io"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/jm31-art/ultraflashbot/business/chain/app"
	"github.com/jm31-art/ultraflashbot/business/chain/domain"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

// stubNode satisfies app.NodeClient with canned answers.
type stubNode struct {
	chainID uint64
	readErr error
	closed  bool
}

func (s *stubNode) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(s.chainID), nil
}

func (s *stubNode) BlockNumber(context.Context) (uint64, error) {
	if s.readErr != nil {
		return 0, s.readErr
	}
	return 100, nil
}

func (s *stubNode) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return nil, errors.New("not implemented")
}

func (s *stubNode) SubscribeNewHead(context.Context, chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, errors.New("notifications not supported")
}

func (s *stubNode) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (s *stubNode) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("notifications not supported")
}

func (s *stubNode) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}

func (s *stubNode) SuggestGasPrice(context.Context) (*big.Int, error)  { return big.NewInt(1), nil }
func (s *stubNode) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (s *stubNode) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}
func (s *stubNode) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }
func (s *stubNode) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (s *stubNode) SendTransaction(context.Context, *types.Transaction) error { return nil }
func (s *stubNode) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}
func (s *stubNode) Close() { s.closed = true }

// fakeDialer returns stub nodes keyed by URL.
type fakeDialer struct {
	chainIDs map[string]uint64 // url -> reported chain id (default 1)
	refuse   map[string]bool
	dialed   []string
	nodes    map[string]*stubNode
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		chainIDs: make(map[string]uint64),
		refuse:   make(map[string]bool),
		nodes:    make(map[string]*stubNode),
	}
}

func (d *fakeDialer) Dial(_ context.Context, rawURL string) (app.NodeClient, error) {
	d.dialed = append(d.dialed, rawURL)
	if d.refuse[rawURL] {
		return nil, errors.New("dial refused")
	}
	id := d.chainIDs[rawURL]
	if id == 0 {
		id = 1
	}
	node := &stubNode{chainID: id}
	d.nodes[rawURL] = node
	return node, nil
}

func testLog() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelError, "test", nil)
}

func baseConfig() app.ManagerConfig {
	return app.ManagerConfig{
		ReadURL:         "https://eth.read.internal/v2/abcdefsecret123",
		ExecutionURL:    "https://eth.exec.internal/tx",
		BackupURLs:      []string{"https://eth.backup.internal/rpc"},
		ChainID:         1,
		AllowedChainIDs: []uint64{1, 137},
	}
}

func newManager(t *testing.T, cfg app.ManagerConfig, d app.Dialer) *app.Manager {
	t.Helper()
	m, err := app.NewManager(cfg, d, testLog())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestManager_Initialize(t *testing.T) {
	d := newFakeDialer()
	m := newManager(t, baseConfig(), d)

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if !m.Initialized() {
		t.Error("manager should report initialized")
	}
	if _, err := m.ReadClient(); err != nil {
		t.Errorf("read client: %v", err)
	}
	if _, err := m.ExecutionClient(); err != nil {
		t.Errorf("execution client: %v", err)
	}

	infos := m.Status()
	if len(infos) != 3 {
		t.Fatalf("expected 3 connections, got %d", len(infos))
	}
	for _, info := range infos {
		if strings.Contains(info.Endpoint, "abcdefsecret123") {
			t.Errorf("status leaks raw endpoint: %s", info.Endpoint)
		}
		if info.ChainID != 1 {
			t.Errorf("unexpected chain id: %d", info.ChainID)
		}
	}
}

func TestManager_DoubleInitializeFails(t *testing.T) {
	d := newFakeDialer()
	m := newManager(t, baseConfig(), d)

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("first initialize: %v", err)
	}

	err := m.Initialize(context.Background())
	if err == nil {
		t.Fatal("second initialize should fail")
	}
	if apperror.GetCode(err) != apperror.CodeAlreadyInitialized {
		t.Errorf("expected CodeAlreadyInitialized, got %s", apperror.GetCode(err))
	}
}

func TestManager_ChainIDMismatch(t *testing.T) {
	d := newFakeDialer()
	cfg := baseConfig()
	d.chainIDs[cfg.ReadURL] = 137 // node reports Polygon, config says mainnet

	m := newManager(t, cfg, d)
	err := m.Initialize(context.Background())
	if err == nil {
		t.Fatal("expected chain id mismatch")
	}
	if apperror.GetCode(err) != apperror.CodeChainIDMismatch {
		t.Errorf("expected CodeChainIDMismatch, got %s", apperror.GetCode(err))
	}
	if strings.Contains(err.Error(), "abcdefsecret123") {
		t.Errorf("error leaks raw endpoint: %v", err)
	}
	if node := d.nodes[cfg.ReadURL]; node != nil && !node.closed {
		t.Error("mismatched connection should be closed")
	}
}

func TestManager_RejectsPublicExecutionEndpoint(t *testing.T) {
	d := newFakeDialer()
	cfg := baseConfig()
	cfg.ExecutionURL = "https://eth.llamarpc.com"

	m := newManager(t, cfg, d)
	err := m.Initialize(context.Background())
	if err == nil {
		t.Fatal("public execution endpoint should be rejected")
	}
	if apperror.GetCode(err) != apperror.CodeExecutionEndpointOpen {
		t.Errorf("expected CodeExecutionEndpointOpen, got %s", apperror.GetCode(err))
	}
	for _, u := range d.dialed {
		if u == cfg.ExecutionURL {
			t.Error("public execution endpoint must not even be dialed")
		}
	}
}

func TestManager_RejectsPlaintextRemoteExecution(t *testing.T) {
	d := newFakeDialer()
	cfg := baseConfig()
	cfg.ExecutionURL = "http://eth.exec.internal/tx"

	m := newManager(t, cfg, d)
	err := m.Initialize(context.Background())
	if err == nil {
		t.Fatal("plaintext remote execution endpoint should be rejected")
	}
	if apperror.GetCode(err) != apperror.CodeExecutionEndpointOpen {
		t.Errorf("expected CodeExecutionEndpointOpen, got %s", apperror.GetCode(err))
	}
}

func TestManager_LocalhostExecutionAllowed(t *testing.T) {
	d := newFakeDialer()
	cfg := baseConfig()
	cfg.ExecutionURL = "http://localhost:8545"

	m := newManager(t, cfg, d)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("localhost execution endpoint should be allowed: %v", err)
	}
}

func TestManager_BackupFailureTolerated(t *testing.T) {
	d := newFakeDialer()
	cfg := baseConfig()
	d.refuse[cfg.BackupURLs[0]] = true

	m := newManager(t, cfg, d)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("backup failure must not fail init: %v", err)
	}

	infos := m.Status()
	for _, info := range infos {
		if info.Role == domain.RoleBackup {
			t.Error("failed backup should not appear in status")
		}
	}
}

func TestManager_ScanOnlyWithoutExecution(t *testing.T) {
	d := newFakeDialer()
	cfg := baseConfig()
	cfg.ExecutionURL = ""
	cfg.ExecutionRequired = false

	m := newManager(t, cfg, d)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("scan-only init: %v", err)
	}

	if _, err := m.ExecutionClient(); err == nil {
		t.Error("execution client should error in scan-only mode")
	}
}

func TestManager_ExecutionRequiredButMissing(t *testing.T) {
	d := newFakeDialer()
	cfg := baseConfig()
	cfg.ExecutionURL = ""
	cfg.ExecutionRequired = true

	m := newManager(t, cfg, d)
	err := m.Initialize(context.Background())
	if err == nil {
		t.Fatal("expected error when execution required but endpoint missing")
	}
	if apperror.GetCode(err) != apperror.CodeConfigurationError {
		t.Errorf("expected CodeConfigurationError, got %s", apperror.GetCode(err))
	}
	if m.Initialized() {
		t.Error("failed init must leave manager uninitialized")
	}
}

func TestManager_AccessBeforeInitialize(t *testing.T) {
	m := newManager(t, baseConfig(), newFakeDialer())

	if _, err := m.ReadClient(); err == nil {
		t.Error("read client before init should error")
	}
	if err := m.WithRead(context.Background(), "probe", func(app.NodeClient) error { return nil }); err == nil {
		t.Error("WithRead before init should error")
	}
}

func TestManager_WithReadFailsOver(t *testing.T) {
	d := newFakeDialer()
	cfg := baseConfig()
	m := newManager(t, cfg, d)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	calls := 0
	err := m.WithRead(context.Background(), "block_number", func(c app.NodeClient) error {
		calls++
		if calls == 1 {
			return errors.New("primary down")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failover should succeed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestManager_WithReadExhausted(t *testing.T) {
	d := newFakeDialer()
	m := newManager(t, baseConfig(), d)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	err := m.WithRead(context.Background(), "block_number", func(app.NodeClient) error {
		return errors.New("all down")
	})
	if err == nil {
		t.Fatal("expected error when every endpoint fails")
	}
	if apperror.GetCode(err) != apperror.CodeConnectivityFailed {
		t.Errorf("expected CodeConnectivityFailed, got %s", apperror.GetCode(err))
	}
}
