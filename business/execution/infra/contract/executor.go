// Package contract packs and signs the settlement contract's entry points
// as EIP-1559 transactions under the operator key.
package contract

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	chainapp "github.com/jm31-art/ultraflashbot/business/chain/app"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/config"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

// fallbackTipWei stands in when the oracle cannot produce a tip estimate.
var fallbackTipWei = big.NewInt(1_500_000_000)

// NonceReader provides the pending nonce for the operator account.
// The chain node client satisfies it.
type NonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// nonceTracker hands out sequential nonces for the operator key. Relays
// keep submitted transactions out of the public mempool until inclusion,
// so the pending nonce a public node reports lags our own submissions;
// after the first read the tracker counts locally.
type nonceTracker struct {
	mu      sync.Mutex
	reader  NonceReader
	account common.Address
	next    uint64
	primed  bool
}

func (n *nonceTracker) reserve(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.primed {
		pending, err := n.reader.PendingNonceAt(ctx, n.account)
		if err != nil {
			return 0, apperror.Wrap(err, apperror.CodeRPCError, "pending nonce read failed")
		}
		n.next = pending
		n.primed = true
	}

	nonce := n.next
	n.next++
	return nonce, nil
}

// release returns an unbroadcast nonce. Only the most recently reserved
// nonce can be taken back; anything older is already behind a later
// reservation.
func (n *nonceTracker) release(nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.primed && n.next == nonce+1 {
		n.next = nonce
	}
}

// resync drops the local counter so the next reservation re-reads the
// pending nonce. Called after terminal settlement failures, where the
// chain's view and ours may have diverged.
func (n *nonceTracker) resync() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.primed = false
}

// Executor builds signed settlement-contract transactions. It enforces the
// configured gas price ceiling at signing time: a transaction the network
// would charge above the ceiling is never produced.
type Executor struct {
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	chainID  *big.Int
	signer   types.Signer
	abi      abi.ABI
	maxFee   *big.Int

	gas    chainapp.GasPricer
	nonces *nonceTracker
	logger logger.LoggerInterface
}

// New creates the executor from the operator key configuration.
func New(cfg config.ExecutionConfig, chainID uint64, nonces NonceReader,
	gas chainapp.GasPricer, log logger.LoggerInterface) (*Executor, error) {

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithMessage("invalid operator private key"),
			apperror.WithCause(err))
	}

	parsed, err := abi.JSON(strings.NewReader(SettlementABI))
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternalError, "settlement ABI parse failed")
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	id := new(big.Int).SetUint64(chainID)

	return &Executor{
		key:      key,
		from:     from,
		contract: cfg.ContractAddressHex(),
		chainID:  id,
		signer:   types.LatestSignerForChainID(id),
		abi:      parsed,
		maxFee:   cfg.MaxGasPriceWei(),
		gas:      gas,
		nonces:   &nonceTracker{reader: nonces, account: from},
		logger:   log,
	}, nil
}

// From returns the operator address.
func (e *Executor) From() common.Address {
	return e.from
}

// FlashloanArbitrage signs an executeFlashloanArbitrage call.
func (e *Executor) FlashloanArbitrage(ctx context.Context, asset common.Address, amount *big.Int,
	path []common.Address, router common.Address, minProfit *big.Int, gasLimit uint64) (*types.Transaction, error) {

	data, err := e.abi.Pack("executeFlashloanArbitrage", asset, amount, path, router, minProfit)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeContractError, "pack flashloan arbitrage call")
	}
	return e.sign(ctx, data, gasLimit)
}

// Arbitrage signs a direct-capital executeArbitrage call.
func (e *Executor) Arbitrage(ctx context.Context, asset common.Address, amount *big.Int,
	path []common.Address, router common.Address, minProfit *big.Int, gasLimit uint64) (*types.Transaction, error) {

	data, err := e.abi.Pack("executeArbitrage", asset, amount, path, router, minProfit)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeContractError, "pack arbitrage call")
	}
	return e.sign(ctx, data, gasLimit)
}

// AtomicLiquidation signs an executeAtomicLiquidation call.
func (e *Executor) AtomicLiquidation(ctx context.Context, pool, borrower, debtAsset, collateralAsset common.Address,
	debtToCover, minProfit *big.Int, auxData []byte, gasLimit uint64) (*types.Transaction, error) {

	if auxData == nil {
		auxData = []byte{}
	}
	data, err := e.abi.Pack("executeAtomicLiquidation",
		pool, borrower, debtAsset, collateralAsset, debtToCover, minProfit, auxData)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeContractError, "pack liquidation call")
	}
	return e.sign(ctx, data, gasLimit)
}

// ReleaseNonce returns the nonce of a transaction that never reached a
// relay, so the replacement reuses it.
func (e *Executor) ReleaseNonce(nonce uint64) {
	e.nonces.release(nonce)
}

// Resync forces a pending-nonce re-read before the next signing.
func (e *Executor) Resync() {
	e.nonces.resync()
}

func (e *Executor) sign(ctx context.Context, calldata []byte, gasLimit uint64) (*types.Transaction, error) {
	gp, err := e.gas.GetGasPrice(ctx)
	if err != nil || gp == nil || gp.Wei == nil {
		return nil, apperror.New(apperror.CodeRPCError,
			apperror.WithMessage("gas price unavailable for signing"),
			apperror.WithCause(err))
	}
	if e.maxFee != nil && gp.Wei.Cmp(e.maxFee) > 0 {
		return nil, apperror.New(apperror.CodeGasPriceCeiling,
			apperror.WithContext("gas_price_gwei", gp.Gwei))
	}

	tip, err := e.gas.GetGasTipCap(ctx)
	if err != nil || tip == nil {
		tip = fallbackTipWei
	}

	// Base fee can double per block; leave headroom so the transaction
	// survives a spike, bounded by the configured ceiling.
	feeCap := new(big.Int).Mul(gp.Wei, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	if e.maxFee != nil && feeCap.Cmp(e.maxFee) > 0 {
		feeCap.Set(e.maxFee)
	}
	if tip.Cmp(feeCap) > 0 {
		tip = new(big.Int).Set(feeCap)
	}

	nonce, err := e.nonces.reserve(ctx)
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &e.contract,
		Value:     big.NewInt(0),
		Data:      calldata,
	})

	signed, err := types.SignTx(tx, e.signer, e.key)
	if err != nil {
		e.nonces.release(nonce)
		return nil, apperror.Wrap(err, apperror.CodeInternalError, "transaction signing failed")
	}

	e.logger.Debug(ctx, "transaction signed",
		"nonce", nonce, "gas_limit", gasLimit, "fee_cap_wei", feeCap.String())
	return signed, nil
}
