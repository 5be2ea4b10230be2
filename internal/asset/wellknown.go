package asset

import "github.com/ethereum/go-ethereum/common"

// Chain IDs
const (
	ChainIDEthereum = 1
	ChainIDSepolia  = 11155111
	ChainIDPolygon  = 137
	ChainIDArbitrum = 42161
	ChainIDOptimism = 10
	ChainIDBase     = 8453
	ChainIDBSC      = 56
	ChainIDFiat     = 0 // Off-chain / fiat
)

// Well-known token addresses on Ethereum Mainnet
var (
	// Stablecoins
	AddrUSDCEthereum = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	AddrUSDTEthereum = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	AddrDAIEthereum  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

	// Wrapped
	AddrWETHEthereum = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	AddrWBTCEthereum = common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599")

	// Lending and governance
	AddrLINKEthereum = common.HexToAddress("0x514910771AF9Ca656af840dff83E8264EcF986CA")
	AddrAAVEEthereum = common.HexToAddress("0x7Fc66500c84A76Ad7e9c93437bFc5Ac33E2DDaE9")
	AddrCOMPEthereum = common.HexToAddress("0xc00e94Cb662C3520282E6f5717214004A7f26888")
)

// Well-known token addresses on BSC (Venus markets)
var (
	AddrWBNBBSC = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	AddrUSDTBSC = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
)

// Well-known AssetIDs
var (
	// Ethereum Mainnet
	IDEthereumETH  = NewNativeAssetID(ChainIDEthereum)
	IDEthereumUSDC = NewTokenAssetID(ChainIDEthereum, AddrUSDCEthereum)
	IDEthereumUSDT = NewTokenAssetID(ChainIDEthereum, AddrUSDTEthereum)
	IDEthereumDAI  = NewTokenAssetID(ChainIDEthereum, AddrDAIEthereum)
	IDEthereumWETH = NewTokenAssetID(ChainIDEthereum, AddrWETHEthereum)
	IDEthereumWBTC = NewTokenAssetID(ChainIDEthereum, AddrWBTCEthereum)
	IDEthereumLINK = NewTokenAssetID(ChainIDEthereum, AddrLINKEthereum)
	IDEthereumAAVE = NewTokenAssetID(ChainIDEthereum, AddrAAVEEthereum)
	IDEthereumCOMP = NewTokenAssetID(ChainIDEthereum, AddrCOMPEthereum)

	// BSC
	IDBSCBNB  = NewNativeAssetID(ChainIDBSC)
	IDBSCWBNB = NewTokenAssetID(ChainIDBSC, AddrWBNBBSC)
	IDBSCUSDT = NewTokenAssetID(ChainIDBSC, AddrUSDTBSC)

	// Fiat
	IDUSD = NewFiatAssetID("USD")
)

// Well-known Assets (pre-created instances)
var (
	// Ethereum Mainnet
	ETH  = NewAssetWithName(IDEthereumETH, "ETH", "Ethereum", 18)
	USDC = NewAssetWithName(IDEthereumUSDC, "USDC", "USD Coin", 6)
	USDT = NewAssetWithName(IDEthereumUSDT, "USDT", "Tether USD", 6)
	DAI  = NewAssetWithName(IDEthereumDAI, "DAI", "Dai Stablecoin", 18)
	WETH = NewAssetWithName(IDEthereumWETH, "WETH", "Wrapped Ether", 18)
	WBTC = NewAssetWithName(IDEthereumWBTC, "WBTC", "Wrapped Bitcoin", 8)
	LINK = NewAssetWithName(IDEthereumLINK, "LINK", "Chainlink", 18)
	AAVE = NewAssetWithName(IDEthereumAAVE, "AAVE", "Aave Token", 18)
	COMP = NewAssetWithName(IDEthereumCOMP, "COMP", "Compound", 18)

	// BSC
	BNB     = NewAssetWithName(IDBSCBNB, "BNB", "BNB", 18)
	WBNB    = NewAssetWithName(IDBSCWBNB, "WBNB", "Wrapped BNB", 18)
	USDTBSC = NewAssetWithName(IDBSCUSDT, "USDT", "Tether USD (BSC)", 18)

	// Fiat
	USD = NewAssetWithName(IDUSD, "USD", "US Dollar", 2)
)

// DefaultRegistry returns a registry pre-populated with the assets the
// engine trades and liquidates against.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(ETH)
	r.Register(USDC)
	r.Register(USDT)
	r.Register(DAI)
	r.Register(WETH)
	r.Register(WBTC)
	r.Register(LINK)
	r.Register(AAVE)
	r.Register(COMP)

	r.Register(BNB)
	r.Register(WBNB)
	r.Register(USDTBSC)

	r.Register(USD)

	return r
}

// MustNewToken creates a new ERC20 token asset with the given parameters.
func MustNewToken(chainID uint64, address common.Address, symbol, name string, decimals uint8) *Asset {
	id := NewTokenAssetID(chainID, address)
	return NewAssetWithName(id, symbol, name, decimals)
}

// MustNewNative creates a new native coin asset.
func MustNewNative(chainID uint64, symbol, name string, decimals uint8) *Asset {
	id := NewNativeAssetID(chainID)
	return NewAssetWithName(id, symbol, name, decimals)
}
