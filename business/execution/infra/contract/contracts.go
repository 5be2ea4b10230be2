package contract

// SettlementABI covers the executor contract's entry points. The contract
// itself is an external collaborator; the engine only packs these calls
// and reads the success/revert outcome.
const SettlementABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "asset", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "address[]", "name": "path", "type": "address[]"},
			{"internalType": "address", "name": "router", "type": "address"},
			{"internalType": "uint256", "name": "minProfit", "type": "uint256"}
		],
		"name": "executeFlashloanArbitrage",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "asset", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "address[]", "name": "path", "type": "address[]"},
			{"internalType": "address", "name": "router", "type": "address"},
			{"internalType": "uint256", "name": "minProfit", "type": "uint256"}
		],
		"name": "executeArbitrage",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "lendingProtocol", "type": "address"},
			{"internalType": "address", "name": "borrower", "type": "address"},
			{"internalType": "address", "name": "debtAsset", "type": "address"},
			{"internalType": "address", "name": "collateralAsset", "type": "address"},
			{"internalType": "uint256", "name": "debtToCover", "type": "uint256"},
			{"internalType": "uint256", "name": "minProfit", "type": "uint256"},
			{"internalType": "bytes", "name": "auxData", "type": "bytes"}
		],
		"name": "executeAtomicLiquidation",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`
