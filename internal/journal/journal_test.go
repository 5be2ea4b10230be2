package journal

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/jm31-art/ultraflashbot/internal/logger"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	log := logger.New(io.Discard, logger.LevelError, "test", nil)
	j, err := Open(":memory:", log)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_AppendAndAggregate(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	entries := []Entry{
		{Category: CategoryTrade, Kind: "arbitrage", Reference: "0xaaa", AmountUSD: 12.50},
		{Category: CategoryTrade, Kind: "liquidation", Reference: "0xbbb", AmountUSD: 40.00},
		{Category: CategorySkip, Kind: "below_min_profit", AmountUSD: 0},
	}
	for _, e := range entries {
		if err := j.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	agg, err := j.AggregateSince(ctx, CategoryTrade, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Count != 2 {
		t.Errorf("expected 2 trades, got %d", agg.Count)
	}
	if agg.TotalUSD != 52.50 {
		t.Errorf("expected 52.50 USD, got %v", agg.TotalUSD)
	}
}

func TestJournal_EmptyCategory(t *testing.T) {
	j := openTestJournal(t)

	agg, err := j.AggregateSince(context.Background(), CategoryError, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Count != 0 || agg.TotalUSD != 0 {
		t.Errorf("expected empty aggregate, got %+v", agg)
	}
}

func TestJournal_CutoffExcludesOldEntries(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return old }
	if err := j.Append(ctx, Entry{Category: CategoryError, Kind: "rpc_timeout"}); err != nil {
		t.Fatalf("append old: %v", err)
	}

	j.now = time.Now
	if err := j.Append(ctx, Entry{Category: CategoryError, Kind: "rpc_timeout"}); err != nil {
		t.Fatalf("append new: %v", err)
	}

	agg, err := j.AggregateSince(ctx, CategoryError, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Count != 1 {
		t.Errorf("expected only the recent entry, got %d", agg.Count)
	}
}

func TestJournal_TotalsGroupsByCategory(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	seed := []Entry{
		{Category: CategoryTrade, Kind: "arbitrage", AmountUSD: 10},
		{Category: CategorySettlement, Kind: "confirmed", AmountUSD: 8.25},
		{Category: CategorySettlement, Kind: "reverted", AmountUSD: -3.10},
		{Category: CategorySkip, Kind: "cooldown"},
	}
	for _, e := range seed {
		if err := j.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	totals, err := j.TotalsSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("totals: %v", err)
	}

	if totals[CategorySettlement].Count != 2 {
		t.Errorf("expected 2 settlements, got %d", totals[CategorySettlement].Count)
	}
	got := totals[CategorySettlement].TotalUSD
	if got < 5.14 || got > 5.16 {
		t.Errorf("expected settlement sum ~5.15, got %v", got)
	}
	if _, ok := totals[CategoryError]; ok {
		t.Error("category with no rows should be absent")
	}
}

func TestJournal_FieldsStoredAsJSON(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	err := j.Append(ctx, Entry{
		Category:  CategoryTrade,
		Kind:      "arbitrage",
		Reference: "0xccc",
		Fields: map[string]any{
			"pair":   "WETH/USDC",
			"profit": 18.75,
		},
	})
	if err != nil {
		t.Fatalf("append with fields: %v", err)
	}

	var detail string
	row := j.db.QueryRow(`SELECT detail FROM entries WHERE reference = ?`, "0xccc")
	if err := row.Scan(&detail); err != nil {
		t.Fatalf("scan detail: %v", err)
	}
	if detail == "{}" || detail == "" {
		t.Errorf("expected serialized fields, got %q", detail)
	}
}
