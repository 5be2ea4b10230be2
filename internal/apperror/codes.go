package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	CodeRequiredField      Code = "REQUIRED_FIELD"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeInvalidState       Code = "INVALID_STATE"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConfigurationError Code = "CONFIGURATION_ERROR"
	CodeServiceTimeout     Code = "SERVICE_TIMEOUT"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeUnknownError       Code = "UNKNOWN_ERROR"
)

// Connectivity error codes
const (
	CodeConnectivityFailed      Code = "CONNECTIVITY_FAILED"
	CodeAlreadyInitialized      Code = "CONNECTIVITY_ALREADY_INITIALIZED"
	CodeChainIDMismatch         Code = "CHAIN_ID_MISMATCH"
	CodeExecutionEndpointOpen   Code = "EXECUTION_ENDPOINT_PUBLIC"
	CodeRPCError                Code = "RPC_ERROR"
	CodeWebSocketError          Code = "WEBSOCKET_ERROR"
	CodeSubscriptionUnsupported Code = "SUBSCRIPTION_UNSUPPORTED"
)

// Pricing error codes
const (
	CodePriceUnavailable      Code = "PRICE_UNAVAILABLE"
	CodeStalePrice            Code = "STALE_PRICE"
	CodePegDeviation          Code = "PEG_DEVIATION"
	CodeLiquidityInsufficient Code = "LIQUIDITY_INSUFFICIENT"
	CodeQuoteFailed           Code = "QUOTE_FAILED"
	CodeGasEstimationFailed   Code = "GAS_ESTIMATION_FAILED"
)

// Execution error codes
const (
	CodeSubmissionFailed    Code = "SUBMISSION_FAILED"
	CodeRelaysExhausted     Code = "RELAYS_EXHAUSTED"
	CodeSimulationReverted  Code = "SIMULATION_REVERTED"
	CodeNonceConflict       Code = "NONCE_CONFLICT"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeNotionalExceeded    Code = "NOTIONAL_EXCEEDED"
	CodeConcurrencyLimit    Code = "CONCURRENCY_LIMIT"
	CodeGasPriceCeiling     Code = "GAS_PRICE_CEILING"
	CodeProfitRevalidation  Code = "PROFIT_REVALIDATION_FAILED"
	CodeEmergencyStop       Code = "EMERGENCY_STOP"
)

// Settlement error codes
const (
	CodeSettlementTimeout  Code = "SETTLEMENT_TIMEOUT"
	CodeSettlementReverted Code = "SETTLEMENT_REVERTED"
	CodeReceiptNotFound    Code = "RECEIPT_NOT_FOUND"
)

// Infrastructure error codes
const (
	CodeCircuitOpen   Code = "CIRCUIT_OPEN"
	CodeJournalWrite  Code = "JOURNAL_WRITE_FAILED"
	CodeNotifyFailed  Code = "NOTIFY_FAILED"
	CodeContractError Code = "CONTRACT_CALL_FAILED"
)
