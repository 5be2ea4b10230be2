// Package app contains application services and port definitions for the chain context.
package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/jm31-art/ultraflashbot/business/chain/domain"
)

// NodeClient is the slice of the node RPC surface the engine uses.
// *ethclient.Client satisfies it; tests substitute fakes.
type NodeClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Dialer opens node connections. Injected so the manager can be tested
// without a node.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (NodeClient, error)
}

// HeadSource streams new block headers.
type HeadSource interface {
	Subscribe(ctx context.Context) (<-chan *domain.Block, error)
	LatestBlock(ctx context.Context) (*domain.Block, error)
	BlockNumber() uint64
	Status() domain.ConnectionStatus
}

// GasPricer provides current gas pricing.
type GasPricer interface {
	GetGasPrice(ctx context.Context) (*domain.GasPrice, error)
	GetGasTipCap(ctx context.Context) (*big.Int, error)
}
