package domain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testAsset    = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	testBorrower = common.HexToAddress("0x00000000000000000000000000000000000000B0")
)

func amountWord(amount int64) []byte {
	data := make([]byte, 32)
	big.NewInt(amount).FillBytes(data)
	return data
}

func TestParseArbitrageProfitEvent(t *testing.T) {
	lg := &types.Log{
		Address: testContract,
		Topics:  []common.Hash{ArbitrageExecutedTopic, common.BytesToHash(testAsset.Bytes())},
		Data:    amountWord(45_000_000),
	}

	ev, ok := ParseProfitEvent(lg, testContract)
	if !ok {
		t.Fatal("arbitrage event not parsed")
	}
	if ev.Asset != testAsset {
		t.Errorf("asset = %s, want %s", ev.Asset, testAsset)
	}
	if ev.Amount.Cmp(big.NewInt(45_000_000)) != 0 {
		t.Errorf("amount = %s, want 45e6", ev.Amount)
	}
}

func TestParseLiquidationProfitEvent(t *testing.T) {
	// The profit asset is the second indexed argument, after the borrower.
	lg := &types.Log{
		Address: testContract,
		Topics: []common.Hash{
			LiquidationExecutedTopic,
			common.BytesToHash(testBorrower.Bytes()),
			common.BytesToHash(testAsset.Bytes()),
		},
		Data: amountWord(1_000_000_000),
	}

	ev, ok := ParseProfitEvent(lg, testContract)
	if !ok {
		t.Fatal("liquidation event not parsed")
	}
	if ev.Asset != testAsset {
		t.Errorf("asset = %s, want the profit asset, not the borrower", ev.Asset)
	}
	if ev.Amount.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Errorf("amount = %s, want 1e9", ev.Amount)
	}
}

func TestParseProfitEventRejectsForeignAndMalformed(t *testing.T) {
	good := func() *types.Log {
		return &types.Log{
			Address: testContract,
			Topics:  []common.Hash{ArbitrageExecutedTopic, common.BytesToHash(testAsset.Bytes())},
			Data:    amountWord(1),
		}
	}

	if _, ok := ParseProfitEvent(nil, testContract); ok {
		t.Error("nil log parsed")
	}

	lg := good()
	lg.Address = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	if _, ok := ParseProfitEvent(lg, testContract); ok {
		t.Error("foreign contract log parsed")
	}

	lg = good()
	lg.Topics = []common.Hash{common.HexToHash("0x01")}
	if _, ok := ParseProfitEvent(lg, testContract); ok {
		t.Error("unknown topic parsed")
	}

	lg = good()
	lg.Topics = lg.Topics[:1]
	if _, ok := ParseProfitEvent(lg, testContract); ok {
		t.Error("arbitrage log without an asset topic parsed")
	}

	lg = good()
	lg.Topics[0] = LiquidationExecutedTopic
	if _, ok := ParseProfitEvent(lg, testContract); ok {
		t.Error("liquidation log without a profit asset topic parsed")
	}

	lg = good()
	lg.Data = lg.Data[:16]
	if _, ok := ParseProfitEvent(lg, testContract); ok {
		t.Error("short data word parsed")
	}
}

func TestAttemptTerminal(t *testing.T) {
	at := &Attempt{Status: StatusPending}
	for _, s := range []Status{StatusPending, StatusRetrying, StatusReverted} {
		at.Status = s
		if at.Terminal() {
			t.Errorf("%s reported terminal", s)
		}
	}
	for _, s := range []Status{StatusConfirmed, StatusFailed} {
		at.Status = s
		if !at.Terminal() {
			t.Errorf("%s not reported terminal", s)
		}
	}
}
