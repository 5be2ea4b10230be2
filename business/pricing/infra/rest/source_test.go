package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/jm31-art/ultraflashbot/business/pricing/domain"
	"github.com/jm31-art/ultraflashbot/internal/asset"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

func testLog() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelError, "test", nil)
}

func TestProductForMapsWrappedAssets(t *testing.T) {
	pair := domain.NewPair(asset.WETH, asset.USDC)
	if got := ProductFor(pair); got != "ETH-USDC" {
		t.Errorf("ProductFor(%s) = %q, want ETH-USDC", pair, got)
	}

	pair = domain.NewPair(asset.WBTC, asset.USDT)
	if got := ProductFor(pair); got != "BTC-USDT" {
		t.Errorf("ProductFor(%s) = %q, want BTC-USDT", pair, got)
	}
}

func TestParseTickerPricePrefersMid(t *testing.T) {
	price, err := parseTickerPrice(tickerResponse{Bid: "3400", Ask: "3402", Price: "9999"})
	if err != nil {
		t.Fatalf("parseTickerPrice: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("3401")) {
		t.Errorf("got %s, want 3401 (book mid)", price)
	}
}

func TestParseTickerPriceFallsBackToLast(t *testing.T) {
	price, err := parseTickerPrice(tickerResponse{Bid: "", Ask: "", Price: "3400.5"})
	if err != nil {
		t.Fatalf("parseTickerPrice: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("3400.5")) {
		t.Errorf("got %s, want 3400.5", price)
	}
}

func TestParseTickerPriceRejectsGarbage(t *testing.T) {
	if _, err := parseTickerPrice(tickerResponse{Bid: "x", Ask: "y", Price: "z"}); err == nil {
		t.Error("expected error for unparseable ticker")
	}
}

func TestQuoteHitsProductEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products/ETH-USDC/ticker" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tickerResponse{
			Bid:    "3400.00",
			Ask:    "3402.00",
			Price:  "3401.10",
			Volume: "12345.6",
		})
	}))
	defer server.Close()

	src, err := NewSource(server.URL, testLog())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	pair := domain.NewPair(asset.WETH, asset.USDC)
	q, err := src.Quote(context.Background(), pair, nil)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	if !q.Price.Equal(decimal.RequireFromString("3401")) {
		t.Errorf("got price %s, want 3401", q.Price)
	}
	if q.Source != "rest" {
		t.Errorf("got source %q, want rest", q.Source)
	}
	if q.HasLiquidity() {
		t.Error("ticker source must report unknown liquidity")
	}
}

func TestQuoteErrorsOnServerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	src, err := NewSource(server.URL, testLog())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	pair := domain.NewPair(asset.WETH, asset.USDC)
	if _, err := src.Quote(context.Background(), pair, nil); err == nil {
		t.Error("expected error from a failing endpoint")
	}
}
