// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Cost       CostConfig       `mapstructure:"cost"`
	Lending    LendingConfig    `mapstructure:"lending"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Safety     SafetyConfig     `mapstructure:"safety"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// ChainConfig holds node endpoints and chain identity. ReadURL serves
// queries, ExecutionURL carries signed transactions and must point at a
// private endpoint, BackupURLs are read fallbacks.
type ChainConfig struct {
	ReadURL         string        `mapstructure:"read_url"`
	ExecutionURL    string        `mapstructure:"execution_url"`
	BackupURLs      []string      `mapstructure:"backup_urls"`
	ChainID         uint64        `mapstructure:"chain_id"`
	AllowedChainIDs []uint64      `mapstructure:"allowed_chain_ids"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
}

// PricingConfig holds quote sources and staleness gates.
type PricingConfig struct {
	PriceTTL           time.Duration `mapstructure:"price_ttl"`
	RouteTTL           time.Duration `mapstructure:"route_ttl"`
	CacheCapacity      int           `mapstructure:"cache_capacity"`
	SourceTimeout      time.Duration `mapstructure:"source_timeout"`
	MaxDeviationPct    float64       `mapstructure:"max_deviation_pct"`
	MinLiquidityUSD    float64       `mapstructure:"min_liquidity_usd"`
	PeggedSymbols      []string      `mapstructure:"pegged_symbols"`
	MaxPegDeviationPct float64       `mapstructure:"max_peg_deviation_pct"`
	Uniswap            UniswapConfig `mapstructure:"uniswap"`
	Binance            BinanceConfig `mapstructure:"binance"`
	RestURL            string        `mapstructure:"rest_url"`
}

// UniswapConfig holds Uniswap V3 contract addresses.
type UniswapConfig struct {
	QuoterAddress  string `mapstructure:"quoter_address"`
	RouterAddress  string `mapstructure:"router_address"`
	FactoryAddress string `mapstructure:"factory_address"`
	DefaultFeeTier int    `mapstructure:"default_fee_tier"`
}

// QuoterAddressHex returns the quoter address as common.Address.
func (c *UniswapConfig) QuoterAddressHex() common.Address {
	return common.HexToAddress(c.QuoterAddress)
}

// RouterAddressHex returns the router address as common.Address.
func (c *UniswapConfig) RouterAddressHex() common.Address {
	return common.HexToAddress(c.RouterAddress)
}

// FactoryAddressHex returns the factory address as common.Address.
func (c *UniswapConfig) FactoryAddressHex() common.Address {
	return common.HexToAddress(c.FactoryAddress)
}

// BinanceConfig holds the market-data fallback configuration.
type BinanceConfig struct {
	WebSocketURL string        `mapstructure:"websocket_url"` // wss://stream.binance.com:9443 or wss://stream.binance.us:9443 for US
	Symbols      []string      `mapstructure:"symbols"`
	StaleTimeout time.Duration `mapstructure:"stale_timeout"`
}

// CostConfig holds fee schedules and cost-model parameters. Fees live in
// configuration so venue changes never require a rebuild.
type CostConfig struct {
	ProtocolFeeBps     map[string]float64 `mapstructure:"protocol_fee_bps"`
	SlippageBps        float64            `mapstructure:"slippage_bps"`
	ImpactCapBps       float64            `mapstructure:"impact_cap_bps"`
	OracleLagBufferBps float64            `mapstructure:"oracle_lag_buffer_bps"`
	GasUnits           map[string]uint64  `mapstructure:"gas_units"`
}

// LendingConfig holds position discovery settings.
type LendingConfig struct {
	Protocols        []ProtocolConfig `mapstructure:"protocols"`
	HealthThreshold  float64          `mapstructure:"health_threshold"`
	ScanWindowBlocks uint64           `mapstructure:"scan_window_blocks"`
	Cooldown         time.Duration    `mapstructure:"cooldown"`
	MinCollateralUSD float64          `mapstructure:"min_collateral_usd"`
	MaxPositions     int              `mapstructure:"max_positions"`
}

// ProtocolConfig identifies one lending protocol deployment. CloseFactorPct
// and BonusPct are the protocol's liquidation schedule; zero means "use the
// adapter's published default", and either way the values must be checked
// against the live deployment before execution is enabled.
type ProtocolConfig struct {
	Name           string  `mapstructure:"name"` // aave, compound, venus
	PoolAddress    string  `mapstructure:"pool_address"`
	SubgraphURL    string  `mapstructure:"subgraph_url"`
	CloseFactorPct float64 `mapstructure:"close_factor_pct"`
	BonusPct       float64 `mapstructure:"bonus_pct"`
}

// PoolAddressHex returns the pool address as common.Address.
func (c *ProtocolConfig) PoolAddressHex() common.Address {
	return common.HexToAddress(c.PoolAddress)
}

// ScannerConfig holds the opportunity scan loop settings.
type ScannerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Pairs           []string      `mapstructure:"pairs"` // arbitrage targets as BASE-QUOTE symbols
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	MinNetProfitUSD float64       `mapstructure:"min_net_profit_usd"`
	SummarySchedule string        `mapstructure:"summary_schedule"` // cron spec with seconds
}

// ExecutionConfig holds trade submission settings. With Enabled false the
// engine runs scan-only: it prices and ranks but never submits.
type ExecutionConfig struct {
	Enabled           bool            `mapstructure:"enabled"`
	PrivateKey        string          `mapstructure:"private_key"`
	ContractAddress   string          `mapstructure:"contract_address"`
	Relays            []string        `mapstructure:"relays"`
	MaxConcurrent     int64           `mapstructure:"max_concurrent"`
	MaxNotionalUSD    float64         `mapstructure:"max_notional_usd"`
	MaxGasPriceGwei   float64         `mapstructure:"max_gas_price_gwei"`
	ProfitDriftPct    float64         `mapstructure:"profit_drift_pct"`
	Flashloan         FlashloanConfig `mapstructure:"flashloan"`
	SimulateFirst     bool            `mapstructure:"simulate_first"`
	SubmissionTimeout time.Duration   `mapstructure:"submission_timeout"`
}

// FlashloanConfig gates the flashloan funding path.
type FlashloanConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	MinSizeUSD  float64 `mapstructure:"min_size_usd"`
	ProviderFee float64 `mapstructure:"provider_fee_bps"`
}

// ContractAddressHex returns the executor contract address as common.Address.
func (c *ExecutionConfig) ContractAddressHex() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// MaxGasPriceWei returns the submission gas ceiling in wei; nil means
// no ceiling.
func (c *ExecutionConfig) MaxGasPriceWei() *big.Int {
	if c.MaxGasPriceGwei <= 0 {
		return nil
	}
	gwei := new(big.Float).SetFloat64(c.MaxGasPriceGwei)
	wei, _ := new(big.Float).Mul(gwei, big.NewFloat(1e9)).Int(nil)
	return wei
}

// SettlementConfig holds confirmation tracking settings.
type SettlementConfig struct {
	MinConfirmations uint64        `mapstructure:"min_confirmations"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxResubmits     int           `mapstructure:"max_resubmits"`
	InitialBackoff   time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// SafetyConfig holds the emergency stop policy.
type SafetyConfig struct {
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures"`
}

// JournalConfig holds the activity log location.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// NotifyConfig holds operator notification settings.
type NotifyConfig struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID int64  `mapstructure:"telegram_chat_id"`
	QueueSize      int    `mapstructure:"queue_size"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	TraceProvider  string `mapstructure:"trace_provider"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
	HealthPort     int    `mapstructure:"health_port"`
}

// MaxNotionalUSDDecimal returns the notional ceiling as decimal.Decimal.
func (c *ExecutionConfig) MaxNotionalUSDDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MaxNotionalUSD)
}

// MinNetProfitUSDDecimal returns the profit floor as decimal.Decimal.
func (c *ScannerConfig) MinNetProfitUSDDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MinNetProfitUSD)
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("UFB")
	v.AutomaticEnv()

	// Bind env vars to config keys
	bindEnvVars(v)

	// Set defaults
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.name", "UFB_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "UFB_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "UFB_LOG_LEVEL", "LOG_LEVEL")

	// Chain
	v.BindEnv("chain.read_url", "UFB_CHAIN_READ_URL", "CHAIN_READ_URL")
	v.BindEnv("chain.execution_url", "UFB_CHAIN_EXECUTION_URL", "CHAIN_EXECUTION_URL")
	v.BindEnv("chain.backup_urls", "UFB_CHAIN_BACKUP_URLS")
	v.BindEnv("chain.chain_id", "UFB_CHAIN_ID", "CHAIN_ID")

	// Pricing
	v.BindEnv("pricing.uniswap.quoter_address", "UFB_UNISWAP_QUOTER")
	v.BindEnv("pricing.uniswap.router_address", "UFB_UNISWAP_ROUTER")
	v.BindEnv("pricing.binance.websocket_url", "UFB_BINANCE_WS_URL", "BINANCE_WS_URL")
	v.BindEnv("pricing.binance.symbols", "UFB_BINANCE_SYMBOLS", "BINANCE_SYMBOLS")
	v.BindEnv("pricing.rest_url", "UFB_PRICING_REST_URL")

	// Scanner
	v.BindEnv("scanner.interval", "UFB_SCAN_INTERVAL")
	v.BindEnv("scanner.pairs", "UFB_SCAN_PAIRS")
	v.BindEnv("scanner.min_net_profit_usd", "UFB_MIN_NET_PROFIT_USD")

	// Execution
	v.BindEnv("execution.enabled", "UFB_EXECUTION_ENABLED")
	v.BindEnv("execution.private_key", "UFB_PRIVATE_KEY", "PRIVATE_KEY")
	v.BindEnv("execution.contract_address", "UFB_EXECUTOR_CONTRACT")
	v.BindEnv("execution.relays", "UFB_RELAYS")
	v.BindEnv("execution.max_notional_usd", "UFB_MAX_NOTIONAL_USD")

	// Notify
	v.BindEnv("notify.telegram_token", "UFB_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("notify.telegram_chat_id", "UFB_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID")

	// Journal
	v.BindEnv("journal.path", "UFB_JOURNAL_PATH")

	// Telemetry
	v.BindEnv("telemetry.enabled", "UFB_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "UFB_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.trace_provider", "UFB_TRACE_PROVIDER")
	v.BindEnv("telemetry.otlp_endpoint", "UFB_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "ultraflashbot")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Chain defaults
	v.SetDefault("chain.chain_id", 1)
	v.SetDefault("chain.allowed_chain_ids", []uint64{1, 137, 42161, 8453, 56})
	v.SetDefault("chain.dial_timeout", "10s")

	// Pricing defaults
	v.SetDefault("pricing.price_ttl", "1s")
	v.SetDefault("pricing.route_ttl", "30s")
	v.SetDefault("pricing.cache_capacity", 4096)
	v.SetDefault("pricing.source_timeout", "800ms")
	v.SetDefault("pricing.max_deviation_pct", 2.0)
	v.SetDefault("pricing.min_liquidity_usd", 10_000)
	v.SetDefault("pricing.pegged_symbols", []string{"USDC", "USDT", "DAI"})
	v.SetDefault("pricing.max_peg_deviation_pct", 1.0)
	v.SetDefault("pricing.uniswap.quoter_address", "0x61fFE014bA17989E743c5F6cB21bF9697530B21e")
	v.SetDefault("pricing.uniswap.router_address", "0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45")
	v.SetDefault("pricing.uniswap.factory_address", "0x1F98431c8aD98523631AE4a59F267346ea31F984")
	v.SetDefault("pricing.uniswap.default_fee_tier", 3000) // 0.3%
	v.SetDefault("pricing.binance.websocket_url", "wss://stream.binance.com:9443")
	v.SetDefault("pricing.binance.symbols", []string{"ETHUSDC", "ETHUSDT"})
	v.SetDefault("pricing.binance.stale_timeout", "5s")
	v.SetDefault("pricing.rest_url", "https://api.exchange.coinbase.com")

	// Cost model defaults
	v.SetDefault("cost.protocol_fee_bps", map[string]float64{
		"uniswap_v3": 30,
		"aave":       5, // flashloan premium 0.05%
		"compound":   0,
	})
	v.SetDefault("cost.slippage_bps", 10)
	v.SetDefault("cost.impact_cap_bps", 200)
	v.SetDefault("cost.oracle_lag_buffer_bps", 15)
	v.SetDefault("cost.gas_units", map[string]uint64{
		"swap":        200_000,
		"flashloan":   450_000,
		"liquidation": 600_000,
	})

	// Lending defaults
	v.SetDefault("lending.health_threshold", 1.0)
	v.SetDefault("lending.scan_window_blocks", 2048)
	v.SetDefault("lending.cooldown", "5m")
	v.SetDefault("lending.min_collateral_usd", 500)
	v.SetDefault("lending.max_positions", 200)

	// Scanner defaults
	v.SetDefault("scanner.interval", "3s")
	v.SetDefault("scanner.pairs", []string{"WETH-USDC", "WETH-USDT"})
	v.SetDefault("scanner.max_concurrent", 8)
	v.SetDefault("scanner.min_net_profit_usd", 5)
	v.SetDefault("scanner.summary_schedule", "0 0 * * * *") // hourly

	// Execution defaults: scan-only until explicitly armed
	v.SetDefault("execution.enabled", false)
	v.SetDefault("execution.max_concurrent", 2)
	v.SetDefault("execution.max_notional_usd", 25_000)
	v.SetDefault("execution.max_gas_price_gwei", 150)
	v.SetDefault("execution.profit_drift_pct", 20)
	v.SetDefault("execution.simulate_first", true)
	v.SetDefault("execution.submission_timeout", "15s")
	v.SetDefault("execution.flashloan.enabled", true)
	v.SetDefault("execution.flashloan.min_size_usd", 5_000)
	v.SetDefault("execution.flashloan.provider_fee_bps", 5)

	// Settlement defaults
	v.SetDefault("settlement.min_confirmations", 2)
	v.SetDefault("settlement.poll_interval", "2s")
	v.SetDefault("settlement.max_resubmits", 3)
	v.SetDefault("settlement.initial_backoff", "1s")
	v.SetDefault("settlement.max_backoff", "30s")
	v.SetDefault("settlement.timeout", "5m")

	// Safety defaults
	v.SetDefault("safety.max_consecutive_failures", 5)

	// Journal defaults
	v.SetDefault("journal.path", "ultraflashbot.db")

	// Notify defaults
	v.SetDefault("notify.queue_size", 128)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "ultraflashbot")
	v.SetDefault("telemetry.trace_provider", "")
	v.SetDefault("telemetry.prometheus_port", 9090)
	v.SetDefault("telemetry.health_port", 8080)
}

// placeholderMarkers are fragments that betray an unfilled template value.
var placeholderMarkers = []string{
	"your_", "your-", "changeme", "change_me", "replace", "<", ">",
	"xxxx", "todo", "example.com/v2/demo", "insert_",
}

func looksLikePlaceholder(s string) bool {
	ls := strings.ToLower(s)
	for _, m := range placeholderMarkers {
		if strings.Contains(ls, m) {
			return true
		}
	}
	return false
}

// Validate validates the configuration. It fails fast: a config that
// passes here is safe to trade on, modulo the chain itself.
func (c *Config) Validate() error {
	if c.Chain.ReadURL == "" {
		return fmt.Errorf("chain.read_url is required")
	}
	if looksLikePlaceholder(c.Chain.ReadURL) {
		return fmt.Errorf("chain.read_url looks like an unfilled placeholder")
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("chain.chain_id is required")
	}
	if len(c.Chain.AllowedChainIDs) > 0 && !containsUint64(c.Chain.AllowedChainIDs, c.Chain.ChainID) {
		return fmt.Errorf("chain.chain_id %d is not in allowed_chain_ids", c.Chain.ChainID)
	}

	if !common.IsHexAddress(c.Pricing.Uniswap.QuoterAddress) {
		return fmt.Errorf("invalid pricing.uniswap.quoter_address: %s", c.Pricing.Uniswap.QuoterAddress)
	}
	if c.Pricing.PriceTTL <= 0 {
		return fmt.Errorf("pricing.price_ttl must be positive")
	}
	if c.Pricing.RouteTTL < c.Pricing.PriceTTL {
		return fmt.Errorf("pricing.route_ttl must be at least pricing.price_ttl")
	}

	if c.Lending.HealthThreshold <= 0 || c.Lending.HealthThreshold > 2 {
		return fmt.Errorf("lending.health_threshold must be in (0, 2]")
	}
	for _, p := range c.Lending.Protocols {
		switch p.Name {
		case "aave", "compound", "venus":
		default:
			return fmt.Errorf("unknown lending protocol %q", p.Name)
		}
		if !common.IsHexAddress(p.PoolAddress) {
			return fmt.Errorf("invalid pool_address for protocol %s: %s", p.Name, p.PoolAddress)
		}
	}

	if c.Scanner.Interval <= 0 {
		return fmt.Errorf("scanner.interval must be positive")
	}
	if c.Scanner.MaxConcurrent < 1 {
		return fmt.Errorf("scanner.max_concurrent must be at least 1")
	}

	if c.Execution.Enabled {
		if c.Chain.ExecutionURL == "" {
			return fmt.Errorf("chain.execution_url is required when execution is enabled")
		}
		if looksLikePlaceholder(c.Chain.ExecutionURL) {
			return fmt.Errorf("chain.execution_url looks like an unfilled placeholder")
		}
		if c.Execution.PrivateKey == "" {
			return fmt.Errorf("execution.private_key is required when execution is enabled")
		}
		if looksLikePlaceholder(c.Execution.PrivateKey) {
			return fmt.Errorf("execution.private_key looks like an unfilled placeholder")
		}
		if !common.IsHexAddress(c.Execution.ContractAddress) {
			return fmt.Errorf("invalid execution.contract_address: %s", c.Execution.ContractAddress)
		}
		if len(c.Execution.Relays) == 0 {
			return fmt.Errorf("execution.relays cannot be empty when execution is enabled")
		}
		for _, r := range c.Execution.Relays {
			if looksLikePlaceholder(r) {
				return fmt.Errorf("execution relay %q looks like an unfilled placeholder", r)
			}
		}
		if c.Execution.MaxConcurrent < 1 {
			return fmt.Errorf("execution.max_concurrent must be at least 1")
		}
		if c.Execution.MaxNotionalUSD <= 0 {
			return fmt.Errorf("execution.max_notional_usd must be positive")
		}
		if c.Execution.MaxGasPriceGwei < 0 {
			return fmt.Errorf("execution.max_gas_price_gwei cannot be negative")
		}
	}

	if c.Settlement.MinConfirmations < 1 {
		return fmt.Errorf("settlement.min_confirmations must be at least 1")
	}

	if c.Notify.TelegramToken != "" && looksLikePlaceholder(c.Notify.TelegramToken) {
		return fmt.Errorf("notify.telegram_token looks like an unfilled placeholder")
	}

	return nil
}

func containsUint64(haystack []uint64, needle uint64) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
