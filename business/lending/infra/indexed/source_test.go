package indexed

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/jm31-art/ultraflashbot/business/lending/domain"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/asset"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

func testLog() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelError, "test", nil)
}

func newTestSource(t *testing.T, endpoint string) *Source {
	t.Helper()
	s, err := NewSource("aave", endpoint, asset.ChainIDEthereum,
		decimal.NewFromInt(1), 25, asset.DefaultRegistry(), testLog())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	return s
}

func wethReserve() *gqlReserve {
	return &gqlReserve{
		UnderlyingAsset: asset.WETH.Address().Hex(),
		Symbol:          "WETH",
		Decimals:        18,
	}
}

func TestPositionsParsesRows(t *testing.T) {
	var captured gqlRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		var resp gqlResponse
		resp.Data.Users = []gqlUser{{
			ID:                 "0x1111111111111111111111111111111111111111",
			HealthFactor:       "0.92",
			TotalCollateralUSD: "12000.5",
			TotalDebtUSD:       "9000",
			CollateralReserve: &gqlReserve{
				UnderlyingAsset: asset.USDC.Address().Hex(),
				Symbol:          "USDC",
				Decimals:        6,
			},
			DebtReserve: wethReserve(),
		}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	src := newTestSource(t, server.URL)
	got, err := src.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d positions, want 1", len(got))
	}

	p := got[0]
	if p.Owner != common.HexToAddress("0x1111111111111111111111111111111111111111") {
		t.Errorf("owner = %s", p.Owner.Hex())
	}
	if !p.HealthFactor.Equal(decimal.RequireFromString("0.92")) {
		t.Errorf("health factor = %s, want 0.92", p.HealthFactor)
	}
	if !p.CollateralUSD.Equal(decimal.RequireFromString("12000.5")) {
		t.Errorf("collateral = %s, want 12000.5", p.CollateralUSD)
	}
	if p.DebtAsset == nil || p.DebtAsset.Symbol() != "WETH" {
		t.Errorf("debt asset = %v, want WETH", p.DebtAsset)
	}
	if p.Source != domain.SourceIndexed {
		t.Errorf("source = %s", p.Source)
	}
	if p.ObservedAt.IsZero() {
		t.Error("missing observation time")
	}

	if !strings.Contains(captured.Query, "healthFactor_lt") {
		t.Error("query must filter on health factor")
	}
	if captured.Variables["threshold"] != "1" {
		t.Errorf("threshold variable = %v, want \"1\"", captured.Variables["threshold"])
	}
	if captured.Variables["first"] != float64(25) {
		t.Errorf("first variable = %v, want 25", captured.Variables["first"])
	}
}

func TestPositionsRejectsGraphQLErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(gqlResponse{Errors: []gqlError{{Message: "field missing"}}})
	}))
	defer server.Close()

	src := newTestSource(t, server.URL)
	_, err := src.Positions(context.Background())
	if apperror.GetCode(err) != apperror.CodeRPCError {
		t.Fatalf("error code = %v, want %v", apperror.GetCode(err), apperror.CodeRPCError)
	}
}

func TestPositionsDropsMalformedRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var resp gqlResponse
		resp.Data.Users = []gqlUser{
			{ID: "not-an-address", HealthFactor: "0.9", TotalDebtUSD: "100"},
			{ID: "0x2222222222222222222222222222222222222222", HealthFactor: "0", TotalDebtUSD: "100"},
			{ID: "0x3333333333333333333333333333333333333333", HealthFactor: "0.95", TotalCollateralUSD: "bogus", TotalDebtUSD: "200"},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	src := newTestSource(t, server.URL)
	got, err := src.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	// Only the third row survives; its bad collateral figure degrades to
	// zero rather than sinking the row.
	if len(got) != 1 {
		t.Fatalf("got %d positions, want 1", len(got))
	}
	if !got[0].CollateralUSD.IsZero() {
		t.Errorf("unparseable collateral = %s, want 0", got[0].CollateralUSD)
	}
	if !got[0].DebtUSD.Equal(decimal.NewFromInt(200)) {
		t.Errorf("debt = %s, want 200", got[0].DebtUSD)
	}
}

func TestPositionsErrorsOnServerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	src := newTestSource(t, server.URL)
	if _, err := src.Positions(context.Background()); err == nil {
		t.Fatal("expected error from a failing subgraph")
	}
}

func TestResolveFallsBackToSymbol(t *testing.T) {
	src := newTestSource(t, "http://unused.invalid")

	bySymbol := src.resolve(&gqlReserve{UnderlyingAsset: "0x00000000000000000000000000000000000000aa", Symbol: "WETH"})
	if bySymbol == nil || bySymbol.Symbol() != "WETH" {
		t.Fatalf("symbol fallback = %v, want WETH", bySymbol)
	}

	if unknown := src.resolve(&gqlReserve{UnderlyingAsset: "0x00000000000000000000000000000000000000aa", Symbol: "XYZ"}); unknown != nil {
		t.Fatalf("unknown reserve = %v, want nil", unknown)
	}
	if src.resolve(nil) != nil {
		t.Fatal("nil reserve must resolve to nil")
	}
}

func TestNewSourceRequiresEndpoint(t *testing.T) {
	_, err := NewSource("aave", "", asset.ChainIDEthereum,
		decimal.NewFromInt(1), 25, asset.DefaultRegistry(), testLog())
	if apperror.GetCode(err) != apperror.CodeConfigurationError {
		t.Fatalf("error code = %v, want %v", apperror.GetCode(err), apperror.CodeConfigurationError)
	}
}
