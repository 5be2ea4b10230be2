package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	CodeRequiredField:      "Required field is missing",
	CodeInvalidInput:       "Invalid input provided",
	CodeInvalidState:       "Invalid state for this operation",
	CodeNotFound:           "Resource not found",
	CodeConfigurationError: "Configuration error",
	CodeServiceTimeout:     "Service request timeout",
	CodeRateLimitExceeded:  "Rate limit exceeded",
	CodeInternalError:      "Internal error",
	CodeUnknownError:       "An unknown error occurred",

	CodeConnectivityFailed:      "Failed to connect to RPC endpoint",
	CodeAlreadyInitialized:      "Connectivity already initialized",
	CodeChainIDMismatch:         "Endpoint chain id not in allow-list",
	CodeExecutionEndpointOpen:   "Execution requires a private endpoint",
	CodeRPCError:                "RPC call failed",
	CodeWebSocketError:          "WebSocket connection error",
	CodeSubscriptionUnsupported: "Endpoint does not support subscriptions",

	CodePriceUnavailable:      "Price unavailable",
	CodeStalePrice:            "Price data is stale",
	CodePegDeviation:          "Pegged asset deviates from par",
	CodeLiquidityInsufficient: "Insufficient liquidity for trade size",
	CodeQuoteFailed:           "Failed to obtain quote",
	CodeGasEstimationFailed:   "Gas estimation failed",

	CodeSubmissionFailed:    "Transaction submission failed",
	CodeRelaysExhausted:     "All relays failed",
	CodeSimulationReverted:  "Bundle simulation reverted",
	CodeNonceConflict:       "Nonce already used",
	CodeInsufficientBalance: "Insufficient balance for execution",
	CodeNotionalExceeded:    "Trade notional above configured maximum",
	CodeConcurrencyLimit:    "In-flight execution limit reached",
	CodeGasPriceCeiling:     "Network gas price above configured ceiling",
	CodeProfitRevalidation:  "Opportunity no longer profitable",
	CodeEmergencyStop:       "Emergency stop engaged",

	CodeSettlementTimeout:  "Settlement confirmation timed out",
	CodeSettlementReverted: "Transaction reverted on chain",
	CodeReceiptNotFound:    "Transaction receipt not found",

	CodeCircuitOpen:   "Circuit breaker is open",
	CodeJournalWrite:  "Journal append failed",
	CodeNotifyFailed:  "Notification delivery failed",
	CodeContractError: "Smart contract call failed",
}
