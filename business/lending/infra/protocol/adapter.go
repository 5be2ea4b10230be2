// Package protocol implements the lending protocol adapters. Three variants
// cover the deployments the engine liquidates on: Aave-style pools,
// Compound-style comptrollers and Venus forks of the latter.
package protocol

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	chainapp "github.com/jm31-art/ultraflashbot/business/chain/app"
	"github.com/jm31-art/ultraflashbot/business/lending/app"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/circuitbreaker"
	"github.com/jm31-art/ultraflashbot/internal/config"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

const tracerName = "lending.protocol"

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// New builds the adapter variant the deployment names. Unknown names fail
// at wiring time, not mid-scan.
func New(cfg config.ProtocolConfig, nodes *chainapp.Manager, pricer app.AssetPricer, log logger.LoggerInterface) (app.ProtocolAdapter, error) {
	switch cfg.Name {
	case "aave":
		return newAave(cfg, nodes, pricer, log)
	case "compound":
		return newCompound(cfg, nodes, pricer, log)
	case "venus":
		return newVenus(cfg, nodes, pricer, log)
	default:
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithMessage("unknown lending protocol"),
			apperror.WithContext("name", cfg.Name))
	}
}

// caller routes eth_calls through the read pool behind one breaker per
// adapter.
type caller struct {
	nodes *chainapp.Manager
	cb    *circuitbreaker.CircuitBreaker[[]byte]
}

func newCaller(name string, nodes *chainapp.Manager) *caller {
	return &caller{
		nodes: nodes,
		cb:    circuitbreaker.New[[]byte](circuitbreaker.DefaultConfig(name)),
	}
}

func (c *caller) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.cb.Execute(func() ([]byte, error) {
		var out []byte
		err := c.nodes.WithRead(ctx, "call_contract", func(cl chainapp.NodeClient) error {
			b, cerr := cl.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
			if cerr != nil {
				return cerr
			}
			out = b
			return nil
		})
		return out, err
	})
}

// scheduleFraction converts a configured percentage to a fraction, falling
// back to the adapter's published default when unset.
func scheduleFraction(pct, defaultPct float64) decimal.Decimal {
	if pct <= 0 {
		pct = defaultPct
	}
	return decimal.NewFromFloat(pct).Div(hundred)
}

// usdToUnits converts a USD amount to raw asset units at the given price.
func usdToUnits(usd, priceUSD decimal.Decimal, decimals uint8) *big.Int {
	return usd.Div(priceUSD).Shift(int32(decimals)).BigInt()
}
