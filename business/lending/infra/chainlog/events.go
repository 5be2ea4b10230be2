package chainlog

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Event signatures per protocol family. Aave pools emit account events
// from one contract with indexed owners; Compound-style markets emit from
// each cToken with owners packed in the data words.
var (
	aaveBorrowTopic      = crypto.Keccak256Hash([]byte("Borrow(address,address,address,uint256,uint8,uint256,uint16)"))
	aaveRepayTopic       = crypto.Keccak256Hash([]byte("Repay(address,address,address,uint256,bool)"))
	aaveLiquidationTopic = crypto.Keccak256Hash([]byte("LiquidationCall(address,address,address,uint256,uint256,address,bool)"))

	compoundBorrowTopic      = crypto.Keccak256Hash([]byte("Borrow(address,uint256,uint256,uint256)"))
	compoundRepayTopic       = crypto.Keccak256Hash([]byte("RepayBorrow(address,address,uint256,uint256,uint256)"))
	compoundLiquidationTopic = crypto.Keccak256Hash([]byte("LiquidateBorrow(address,address,uint256,address,uint256)"))
)

// eventFamily is the filter shape for one protocol family.
type eventFamily struct {
	topics []common.Hash

	// matchPool narrows the filter to the pool contract. Compound-style
	// markets emit from per-market contracts, so those match on topic
	// alone.
	matchPool bool
}

func familyFor(protocol string) eventFamily {
	switch protocol {
	case "aave":
		return eventFamily{
			topics:    []common.Hash{aaveBorrowTopic, aaveRepayTopic, aaveLiquidationTopic},
			matchPool: true,
		}
	default:
		// compound and its venus fork share market event shapes
		return eventFamily{
			topics: []common.Hash{compoundBorrowTopic, compoundRepayTopic, compoundLiquidationTopic},
		}
	}
}

// touch is one account sighting in the event stream.
type touch struct {
	owner common.Address

	// reserve is the debt asset the event names, zero when the event
	// does not carry one (all compound shapes: the market address is the
	// cToken, not the underlying).
	reserve common.Address
}

// touchFrom extracts the borrower a log touches. Shape mismatches return
// false rather than a bogus owner.
func touchFrom(lg types.Log) (touch, bool) {
	if len(lg.Topics) == 0 {
		return touch{}, false
	}

	switch lg.Topics[0] {
	case aaveBorrowTopic, aaveRepayTopic:
		// topics: [sig, reserve, onBehalfOf/user, ...]
		if len(lg.Topics) < 3 {
			return touch{}, false
		}
		return touch{
			owner:   common.BytesToAddress(lg.Topics[2].Bytes()),
			reserve: common.BytesToAddress(lg.Topics[1].Bytes()),
		}, true

	case aaveLiquidationTopic:
		// topics: [sig, collateralAsset, debtAsset, user]
		if len(lg.Topics) < 4 {
			return touch{}, false
		}
		return touch{
			owner:   common.BytesToAddress(lg.Topics[3].Bytes()),
			reserve: common.BytesToAddress(lg.Topics[2].Bytes()),
		}, true

	case compoundBorrowTopic:
		// data: [borrower, borrowAmount, accountBorrows, totalBorrows]
		if len(lg.Data) < 32 {
			return touch{}, false
		}
		return touch{owner: common.BytesToAddress(lg.Data[12:32])}, true

	case compoundRepayTopic, compoundLiquidationTopic:
		// data word 2 is the borrower on both shapes
		if len(lg.Data) < 64 {
			return touch{}, false
		}
		return touch{owner: common.BytesToAddress(lg.Data[44:64])}, true
	}

	return touch{}, false
}
