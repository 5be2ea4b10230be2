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

// marginScaleUSD normalizes the comptroller's absolute USD margin onto the
// health factor scale. The mapping is monotonic, bounded in (0, 2) and
// crosses 1.0 exactly when shortfall appears, which is all thresholding
// and ranking need.
var marginScaleUSD = decimal.NewFromInt(1000)

// CompoundAdapter reads Compound-style comptrollers. The comptroller
// reports an absolute USD margin (liquidity or shortfall), not a ratio and
// not the account's composition; sizing data must come from the index.
type CompoundAdapter struct {
	protocol    string
	comptroller common.Address
	abi         abi.ABI
	caller      *caller
	pricer      app.AssetPricer
	closeFactor decimal.Decimal
	bonus       decimal.Decimal
	logger      logger.LoggerInterface
	tracer      trace.Tracer
}

func newCompound(cfg config.ProtocolConfig, nodes *chainapp.Manager, pricer app.AssetPricer, log logger.LoggerInterface) (*CompoundAdapter, error) {
	return newComptrollerAdapter(cfg, nodes, pricer, log, "compound-comptroller", 8)
}

func newComptrollerAdapter(cfg config.ProtocolConfig, nodes *chainapp.Manager, pricer app.AssetPricer, log logger.LoggerInterface, breakerName string, defaultBonusPct float64) (*CompoundAdapter, error) {
	parsed, err := abi.JSON(strings.NewReader(ComptrollerABI))
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeConfigurationError, "parse comptroller abi")
	}
	return &CompoundAdapter{
		protocol:    cfg.Name,
		comptroller: cfg.PoolAddressHex(),
		abi:         parsed,
		caller:      newCaller(breakerName, nodes),
		pricer:      pricer,
		closeFactor: scheduleFraction(cfg.CloseFactorPct, 50),
		bonus:       scheduleFraction(cfg.BonusPct, defaultBonusPct),
		logger:      log,
		tracer:      otel.Tracer(tracerName),
	}, nil
}

func (c *CompoundAdapter) Protocol() string { return c.protocol }

func (c *CompoundAdapter) Bonus() decimal.Decimal { return c.bonus }

// HealthFactor maps the comptroller's USD margin onto the ratio scale.
// Composition stays unknown; only the factor is reliable here.
func (c *CompoundAdapter) HealthFactor(ctx context.Context, owner common.Address) (domain.AccountHealth, error) {
	ctx, span := c.tracer.Start(ctx, "lending.compound.health_factor",
		trace.WithAttributes(attribute.String("owner", owner.Hex())),
	)
	defer span.End()

	margin, err := c.accountMargin(ctx, owner)
	if err != nil {
		span.RecordError(err)
		return domain.AccountHealth{}, err
	}

	return domain.AccountHealth{Factor: marginFactor(margin)}, nil
}

// accountMargin returns liquidity minus shortfall in USD. Exactly one of
// the two is nonzero on chain.
func (c *CompoundAdapter) accountMargin(ctx context.Context, owner common.Address) (decimal.Decimal, error) {
	data, err := c.abi.Pack("getAccountLiquidity", owner)
	if err != nil {
		return decimal.Zero, apperror.Wrap(err, apperror.CodeContractError, "pack account liquidity call")
	}

	raw, err := c.caller.call(ctx, c.comptroller, data)
	if err != nil {
		return decimal.Zero, apperror.Wrap(err, apperror.CodeRPCError, "account liquidity call failed")
	}

	vals, err := c.abi.Unpack("getAccountLiquidity", raw)
	if err != nil || len(vals) != 3 {
		return decimal.Zero, apperror.New(apperror.CodeContractError,
			apperror.WithMessage("unexpected account liquidity shape"),
			apperror.WithCause(err))
	}

	errCode, _ := vals[0].(*big.Int)
	liquidity, _ := vals[1].(*big.Int)
	shortfall, _ := vals[2].(*big.Int)
	if errCode == nil || liquidity == nil || shortfall == nil {
		return decimal.Zero, apperror.New(apperror.CodeContractError,
			apperror.WithMessage("unexpected account liquidity types"))
	}
	if errCode.Sign() != 0 {
		return decimal.Zero, apperror.New(apperror.CodeContractError,
			apperror.WithMessage("comptroller rejected account read"),
			apperror.WithContext("error_code", errCode.String()))
	}

	return decimal.NewFromBigInt(liquidity, -18).Sub(decimal.NewFromBigInt(shortfall, -18)), nil
}

// LiquidationPlan sizes the close from index-sourced figures.
func (c *CompoundAdapter) LiquidationPlan(ctx context.Context, p *domain.Position) (*domain.LiquidationPlan, error) {
	if !p.HasSizing() {
		return nil, apperror.New(apperror.CodeInvalidInput,
			apperror.WithMessage("position lacks sizing data"),
			apperror.WithContext("owner", p.Owner.Hex()))
	}

	debtUSD := p.DebtUSD.Mul(c.closeFactor)

	price, ok := c.pricer.AssetUSD(ctx, p.DebtAsset)
	if !ok || !price.IsPositive() {
		return nil, apperror.New(apperror.CodePriceUnavailable,
			apperror.WithMessage("no USD price for debt asset"),
			apperror.WithContext("asset", p.DebtAsset.Symbol()))
	}

	return &domain.LiquidationPlan{
		Protocol:        c.protocol,
		Pool:            c.comptroller,
		Borrower:        p.Owner,
		DebtAsset:       p.DebtAsset,
		CollateralAsset: p.CollateralAsset,
		DebtToCover:     usdToUnits(debtUSD, price, p.DebtAsset.Decimals()),
		DebtToCoverUSD:  debtUSD,
		BonusUSD:        debtUSD.Mul(c.bonus),
	}, nil
}

// marginFactor maps a USD margin onto the health factor scale.
func marginFactor(margin decimal.Decimal) decimal.Decimal {
	denom := margin.Abs().Add(marginScaleUSD)
	return one.Add(margin.Div(denom))
}
