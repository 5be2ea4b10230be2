package protocol

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	chainapp "github.com/jm31-art/ultraflashbot/business/chain/app"
	"github.com/jm31-art/ultraflashbot/business/lending/app"
	"github.com/jm31-art/ultraflashbot/business/lending/domain"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/config"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

// VenusAdapter is the Venus variant of the comptroller adapter: the same
// account surface on a BSC deployment, plus VAI minting as direct USD
// debt.
type VenusAdapter struct {
	*CompoundAdapter
}

func newVenus(cfg config.ProtocolConfig, nodes *chainapp.Manager, pricer app.AssetPricer, log logger.LoggerInterface) (*VenusAdapter, error) {
	base, err := newComptrollerAdapter(cfg, nodes, pricer, log, "venus-comptroller", 10)
	if err != nil {
		return nil, err
	}
	return &VenusAdapter{CompoundAdapter: base}, nil
}

// HealthFactor reads the margin like Compound and layers the minted VAI
// figure on top. VAI is minted dollar-for-dollar, so it is the one debt
// number the comptroller exposes directly; the margin already accounts for
// it, making the read best effort.
func (v *VenusAdapter) HealthFactor(ctx context.Context, owner common.Address) (domain.AccountHealth, error) {
	health, err := v.CompoundAdapter.HealthFactor(ctx, owner)
	if err != nil {
		return health, err
	}

	if vai, verr := v.mintedVAI(ctx, owner); verr == nil && vai.IsPositive() {
		health.DebtUSD = vai
	}
	return health, nil
}

func (v *VenusAdapter) mintedVAI(ctx context.Context, owner common.Address) (decimal.Decimal, error) {
	data, err := v.abi.Pack("mintedVAIs", owner)
	if err != nil {
		return decimal.Zero, apperror.Wrap(err, apperror.CodeContractError, "pack minted vai call")
	}

	raw, err := v.caller.call(ctx, v.comptroller, data)
	if err != nil {
		return decimal.Zero, err
	}

	vals, err := v.abi.Unpack("mintedVAIs", raw)
	if err != nil || len(vals) != 1 {
		return decimal.Zero, apperror.New(apperror.CodeContractError,
			apperror.WithMessage("unexpected minted vai shape"),
			apperror.WithCause(err))
	}
	minted, ok := vals[0].(*big.Int)
	if !ok {
		return decimal.Zero, apperror.New(apperror.CodeContractError,
			apperror.WithMessage("unexpected minted vai type"))
	}
	return decimal.NewFromBigInt(minted, -18), nil
}
