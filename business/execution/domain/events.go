package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Settlement contract profit event topics.
var (
	ArbitrageExecutedTopic   = crypto.Keccak256Hash([]byte("ArbitrageExecuted(address,uint256)"))
	LiquidationExecutedTopic = crypto.Keccak256Hash([]byte("LiquidationExecuted(address,address,uint256)"))
)

// ProfitEvent is one profit report emitted by the settlement contract:
// the asset the profit was captured in and its raw amount.
type ProfitEvent struct {
	Asset  common.Address
	Amount *big.Int
}

// ParseProfitEvent decodes a settlement contract log. Foreign and
// malformed logs return ok false.
func ParseProfitEvent(lg *types.Log, contract common.Address) (ProfitEvent, bool) {
	var ev ProfitEvent
	if lg == nil || lg.Address != contract || len(lg.Topics) == 0 || len(lg.Data) < 32 {
		return ev, false
	}

	switch lg.Topics[0] {
	case ArbitrageExecutedTopic:
		if len(lg.Topics) < 2 {
			return ev, false
		}
		ev.Asset = common.BytesToAddress(lg.Topics[1].Bytes())
	case LiquidationExecutedTopic:
		if len(lg.Topics) < 3 {
			return ev, false
		}
		ev.Asset = common.BytesToAddress(lg.Topics[2].Bytes())
	default:
		return ev, false
	}

	// The profit amount is the single non-indexed word.
	ev.Amount = new(big.Int).SetBytes(lg.Data[:32])
	return ev, true
}
