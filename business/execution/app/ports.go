package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/jm31-art/ultraflashbot/business/execution/domain"
	pricingdomain "github.com/jm31-art/ultraflashbot/business/pricing/domain"
	"github.com/jm31-art/ultraflashbot/internal/asset"
)

// TxBuilder assembles and signs settlement contract calls. The contract
// executor satisfies it.
type TxBuilder interface {
	FlashloanArbitrage(ctx context.Context, asset common.Address, amount *big.Int,
		path []common.Address, router common.Address, minProfit *big.Int, gasLimit uint64) (*types.Transaction, error)
	Arbitrage(ctx context.Context, asset common.Address, amount *big.Int,
		path []common.Address, router common.Address, minProfit *big.Int, gasLimit uint64) (*types.Transaction, error)
	AtomicLiquidation(ctx context.Context, pool, borrower, debtAsset, collateralAsset common.Address,
		debtToCover, minProfit *big.Int, auxData []byte, gasLimit uint64) (*types.Transaction, error)
	ReleaseNonce(nonce uint64)
	Resync()
	From() common.Address
}

// TxSubmitter broadcasts signed transactions and simulates them against
// the next block. The relay manager satisfies it.
type TxSubmitter interface {
	Submit(ctx context.Context, tx *types.Transaction) (string, error)
	Simulate(ctx context.Context, tx *types.Transaction, blockNumber uint64) error
}

// FreshPricer re-reads market prices in the moments before submission.
// The pricing aggregator satisfies it through the module adapter.
type FreshPricer interface {
	VenueQuotes(ctx context.Context, pair pricingdomain.Pair) []*pricingdomain.PriceQuote
	AssetUSD(ctx context.Context, a *asset.Asset) (decimal.Decimal, bool)
}

// HeadReader reports the latest block number already seen. The chain head
// feed satisfies it.
type HeadReader interface {
	BlockNumber() uint64
}

// ReceiptReader fetches receipts for submitted transactions. The chain
// read client satisfies it.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// NonceResyncer drops the local nonce counter so the next signing
// re-reads the chain. The contract executor satisfies it.
type NonceResyncer interface {
	Resync()
}

// SettlementSink takes ownership of a submitted attempt. The tracker
// satisfies it.
type SettlementSink interface {
	Track(ctx context.Context, at *domain.Attempt, resubmit ResubmitFunc, release func())
}
