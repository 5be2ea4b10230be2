package protocol

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	chainapp "github.com/jm31-art/ultraflashbot/business/chain/app"
	"github.com/jm31-art/ultraflashbot/business/lending/app"
	"github.com/jm31-art/ultraflashbot/business/lending/domain"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/config"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

const (
	aaveBaseDecimals = 8  // oracle base currency decimals
	wadDecimals      = 18 // healthFactor scale
)

var (
	// Below this health factor the protocol permits closing the whole
	// debt; above it the close factor caps the call.
	aaveFullCloseBelow = decimal.RequireFromString("0.95")

	// Debt-free accounts report max-uint health; clamp to something a
	// ranking can hold.
	maxHealthFactor = decimal.NewFromInt(1_000_000)
)

// AaveAdapter reads Aave v3 style pools. One getUserAccountData call
// carries the whole account: USD totals and the health factor.
type AaveAdapter struct {
	protocol    string
	pool        common.Address
	abi         abi.ABI
	caller      *caller
	pricer      app.AssetPricer
	closeFactor decimal.Decimal
	bonus       decimal.Decimal
	logger      logger.LoggerInterface
	tracer      trace.Tracer
}

func newAave(cfg config.ProtocolConfig, nodes *chainapp.Manager, pricer app.AssetPricer, log logger.LoggerInterface) (*AaveAdapter, error) {
	parsed, err := abi.JSON(strings.NewReader(AavePoolABI))
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeConfigurationError, "parse aave pool abi")
	}
	return &AaveAdapter{
		protocol:    cfg.Name,
		pool:        cfg.PoolAddressHex(),
		abi:         parsed,
		caller:      newCaller("aave-pool", nodes),
		pricer:      pricer,
		closeFactor: scheduleFraction(cfg.CloseFactorPct, 50),
		bonus:       scheduleFraction(cfg.BonusPct, 5),
		logger:      log,
		tracer:      otel.Tracer(tracerName),
	}, nil
}

func (a *AaveAdapter) Protocol() string { return a.protocol }

func (a *AaveAdapter) Bonus() decimal.Decimal { return a.bonus }

// HealthFactor reads getUserAccountData for the owner.
func (a *AaveAdapter) HealthFactor(ctx context.Context, owner common.Address) (domain.AccountHealth, error) {
	ctx, span := a.tracer.Start(ctx, "lending.aave.health_factor",
		trace.WithAttributes(attribute.String("owner", owner.Hex())),
	)
	defer span.End()

	data, err := a.abi.Pack("getUserAccountData", owner)
	if err != nil {
		return domain.AccountHealth{}, apperror.Wrap(err, apperror.CodeContractError, "pack account data call")
	}

	raw, err := a.caller.call(ctx, a.pool, data)
	if err != nil {
		span.RecordError(err)
		return domain.AccountHealth{}, apperror.Wrap(err, apperror.CodeRPCError, "account data call failed")
	}

	vals, err := a.abi.Unpack("getUserAccountData", raw)
	if err != nil || len(vals) != 6 {
		return domain.AccountHealth{}, apperror.New(apperror.CodeContractError,
			apperror.WithMessage("unexpected account data shape"),
			apperror.WithCause(err))
	}

	collateral, _ := vals[0].(*big.Int)
	debt, _ := vals[1].(*big.Int)
	hf, _ := vals[5].(*big.Int)
	if collateral == nil || debt == nil || hf == nil {
		return domain.AccountHealth{}, apperror.New(apperror.CodeContractError,
			apperror.WithMessage("unexpected account data types"))
	}

	factor := decimal.NewFromBigInt(hf, -wadDecimals)
	if factor.GreaterThan(maxHealthFactor) {
		factor = maxHealthFactor
	}

	return domain.AccountHealth{
		Factor:        factor,
		CollateralUSD: decimal.NewFromBigInt(collateral, -aaveBaseDecimals),
		DebtUSD:       decimal.NewFromBigInt(debt, -aaveBaseDecimals),
	}, nil
}

// LiquidationPlan sizes the close for a discovered position. Deep underwater
// positions allow a full close; otherwise the close factor caps the debt
// covered.
func (a *AaveAdapter) LiquidationPlan(ctx context.Context, p *domain.Position) (*domain.LiquidationPlan, error) {
	if !p.HasSizing() {
		return nil, apperror.New(apperror.CodeInvalidInput,
			apperror.WithMessage("position lacks sizing data"),
			apperror.WithContext("owner", p.Owner.Hex()))
	}

	closeFactor := a.closeFactor
	if p.HealthFactor.IsPositive() && p.HealthFactor.LessThan(aaveFullCloseBelow) {
		closeFactor = one
	}
	debtUSD := p.DebtUSD.Mul(closeFactor)

	price, ok := a.pricer.AssetUSD(ctx, p.DebtAsset)
	if !ok || !price.IsPositive() {
		return nil, apperror.New(apperror.CodePriceUnavailable,
			apperror.WithMessage("no USD price for debt asset"),
			apperror.WithContext("asset", p.DebtAsset.Symbol()))
	}

	return &domain.LiquidationPlan{
		Protocol:        a.protocol,
		Pool:            a.pool,
		Borrower:        p.Owner,
		DebtAsset:       p.DebtAsset,
		CollateralAsset: p.CollateralAsset,
		DebtToCover:     usdToUnits(debtUSD, price, p.DebtAsset.Decimals()),
		DebtToCoverUSD:  debtUSD,
		BonusUSD:        debtUSD.Mul(a.bonus),
	}, nil
}
