package protocol

// ABI fragments for the account surfaces the adapters read.

// AavePoolABI covers the v3 pool's account data read. Figures come back in
// the oracle base currency (USD, 8 decimals); healthFactor is a wad.
const AavePoolABI = `[
	{
		"inputs": [{"internalType": "address", "name": "user", "type": "address"}],
		"name": "getUserAccountData",
		"outputs": [
			{"internalType": "uint256", "name": "totalCollateralBase", "type": "uint256"},
			{"internalType": "uint256", "name": "totalDebtBase", "type": "uint256"},
			{"internalType": "uint256", "name": "availableBorrowsBase", "type": "uint256"},
			{"internalType": "uint256", "name": "currentLiquidationThreshold", "type": "uint256"},
			{"internalType": "uint256", "name": "ltv", "type": "uint256"},
			{"internalType": "uint256", "name": "healthFactor", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// ComptrollerABI covers Compound-style account liquidity. getAccountLiquidity
// returns (errorCode, liquidity, shortfall) in 1e18 USD; mintedVAIs is the
// Venus extension and absent on plain Compound deployments.
const ComptrollerABI = `[
	{
		"constant": true,
		"inputs": [{"internalType": "address", "name": "account", "type": "address"}],
		"name": "getAccountLiquidity",
		"outputs": [
			{"internalType": "uint256", "name": "", "type": "uint256"},
			{"internalType": "uint256", "name": "", "type": "uint256"},
			{"internalType": "uint256", "name": "", "type": "uint256"}
		],
		"payable": false,
		"stateMutability": "view",
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [{"internalType": "address", "name": "owner", "type": "address"}],
		"name": "mintedVAIs",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"payable": false,
		"stateMutability": "view",
		"type": "function"
	}
]`
