// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Booking      BookingConfig      `mapstructure:"booking"`
	Payment      PaymentConfig      `mapstructure:"payment"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Auction      AuctionConfig      `mapstructure:"auction"`
	Proposal     ProposalConfig     `mapstructure:"proposal"`
	Notification NotificationConfig `mapstructure:"notification"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	HealthPort  int    `mapstructure:"health_port"`
}

// StorageConfig selects the persistence driver.
type StorageConfig struct {
	Driver   string `mapstructure:"driver"` // memory | postgres
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// RedisConfig enables distributed swap locks when Addr is set.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
	LockRetry time.Duration `mapstructure:"lock_retry"`
}

// BookingConfig points at the booking lifecycle service. Empty BaseURL uses the in-memory adapter.
type BookingConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

// PaymentConfig holds escrow and fraud rules.
type PaymentConfig struct {
	GatewayURL        string        `mapstructure:"gateway_url"`
	GatewayAPIKey     string        `mapstructure:"gateway_api_key"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	PlatformFeeRate   float64       `mapstructure:"platform_fee_rate"`
	MinAmount         float64       `mapstructure:"min_amount"`
	MaxAmount         float64       `mapstructure:"max_amount"`
	Currencies        []string      `mapstructure:"currencies"`
	VelocityWindow    time.Duration `mapstructure:"velocity_window"`
	VelocityMaxCount  int           `mapstructure:"velocity_max_count"`
	VelocityMaxAmount float64       `mapstructure:"velocity_max_amount"`
}

// FeeRate returns the platform fee rate as decimal.
func (c *PaymentConfig) FeeRate() decimal.Decimal {
	return decimal.NewFromFloat(c.PlatformFeeRate)
}

// MinAmountDecimal returns the minimum cash amount as decimal.
func (c *PaymentConfig) MinAmountDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MinAmount)
}

// MaxAmountDecimal returns the maximum cash amount as decimal.
func (c *PaymentConfig) MaxAmountDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MaxAmount)
}

// VelocityMaxAmountDecimal returns the fraud amount threshold as decimal.
func (c *PaymentConfig) VelocityMaxAmountDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.VelocityMaxAmount)
}

// LedgerConfig holds recorder policy and the chain anchor settings.
type LedgerConfig struct {
	Driver              string        `mapstructure:"driver"` // memory | ethereum
	RPCURL              string        `mapstructure:"rpc_url"`
	PrivateKey          string        `mapstructure:"private_key"`
	AnchorAddress       string        `mapstructure:"anchor_address"`
	ChainID             uint64        `mapstructure:"chain_id"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	InitialBackoff      time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff          time.Duration `mapstructure:"max_backoff"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
	SubmitsPerMinute    int           `mapstructure:"submits_per_minute"`
	ReceiptCacheTTL     time.Duration `mapstructure:"receipt_cache_ttl"`
}

// RecordBudget is the longest one ledger Record call can take: every attempt
// timing out, the longest backoff between attempts and the confirmation wait.
func (c *LedgerConfig) RecordBudget() time.Duration {
	if c.MaxAttempts < 1 {
		return c.ConfirmationTimeout
	}
	attempts := time.Duration(c.MaxAttempts)
	return attempts*c.RequestTimeout + (attempts-1)*c.MaxBackoff + c.ConfirmationTimeout
}

// AnchorAddressHex returns the anchor address as common.Address.
func (c *LedgerConfig) AnchorAddressHex() common.Address {
	return common.HexToAddress(c.AnchorAddress)
}

// AuctionConfig holds auction timing rules.
type AuctionConfig struct {
	MinLeadDays       int           `mapstructure:"min_lead_days"`
	AutoSelectHours   int           `mapstructure:"auto_select_hours"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// MinLead returns the minimum gap between auction end and the event.
func (c *AuctionConfig) MinLead() time.Duration {
	return time.Duration(c.MinLeadDays) * 24 * time.Hour
}

// ProposalConfig holds proposal rules.
type ProposalConfig struct {
	DefaultExpiry time.Duration `mapstructure:"default_expiry"`
	MaxGraphDepth int           `mapstructure:"max_graph_depth"`
	LockTimeout   time.Duration `mapstructure:"lock_timeout"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
}

// NotificationConfig points at the notification push gateway. Empty URL logs only.
type NotificationConfig struct {
	WebSocketURL string `mapstructure:"websocket_url"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	TraceProvider  string `mapstructure:"trace_provider"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPHeaders    string `mapstructure:"otlp_headers"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
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
	v.SetEnvPrefix("SWAP")
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
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
	v.BindEnv("app.name", "SWAP_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "SWAP_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "SWAP_LOG_LEVEL", "LOG_LEVEL")

	// Storage
	v.BindEnv("storage.driver", "SWAP_STORAGE_DRIVER")
	v.BindEnv("storage.dsn", "SWAP_DATABASE_URL", "DATABASE_URL")

	// Redis
	v.BindEnv("redis.addr", "SWAP_REDIS_ADDR", "REDIS_URL")
	v.BindEnv("redis.password", "SWAP_REDIS_PASSWORD")

	// Collaborators
	v.BindEnv("booking.base_url", "SWAP_BOOKING_URL")
	v.BindEnv("payment.gateway_url", "SWAP_PAYMENT_GATEWAY_URL")
	v.BindEnv("payment.gateway_api_key", "SWAP_PAYMENT_GATEWAY_KEY")
	v.BindEnv("notification.websocket_url", "SWAP_NOTIFY_WS_URL")

	// Ledger
	v.BindEnv("ledger.driver", "SWAP_LEDGER_DRIVER")
	v.BindEnv("ledger.rpc_url", "SWAP_LEDGER_RPC_URL", "ETH_HTTP_URL")
	v.BindEnv("ledger.private_key", "SWAP_LEDGER_PRIVATE_KEY")
	v.BindEnv("ledger.anchor_address", "SWAP_LEDGER_ANCHOR_ADDRESS")
	v.BindEnv("ledger.chain_id", "SWAP_LEDGER_CHAIN_ID", "ETH_CHAIN_ID")

	// Telemetry
	v.BindEnv("telemetry.enabled", "SWAP_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "SWAP_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.trace_provider", "SWAP_OTEL_TRACE_PROVIDER")
	v.BindEnv("telemetry.otlp_endpoint", "SWAP_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	v.BindEnv("telemetry.otlp_headers", "SWAP_OTEL_HEADERS", "OTEL_EXPORTER_OTLP_HEADERS")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "swap-engine")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.health_port", 8081)

	// Storage defaults
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.max_conns", 10)
	v.SetDefault("storage.migrate", true)

	// Redis defaults
	v.SetDefault("redis.lock_ttl", "2m")
	v.SetDefault("redis.lock_retry", "50ms")

	// Booking defaults
	v.SetDefault("booking.request_timeout", "5s")
	v.SetDefault("booking.requests_per_minute", 600)
	v.SetDefault("booking.cache_ttl", "30s")

	// Payment defaults
	v.SetDefault("payment.request_timeout", "10s")
	v.SetDefault("payment.requests_per_minute", 600)
	v.SetDefault("payment.platform_fee_rate", 0.05)
	v.SetDefault("payment.min_amount", 1)
	v.SetDefault("payment.max_amount", 50000)
	v.SetDefault("payment.currencies", []string{"USD", "EUR", "GBP"})
	v.SetDefault("payment.velocity_window", "24h")
	v.SetDefault("payment.velocity_max_count", 10)
	v.SetDefault("payment.velocity_max_amount", 20000)

	// Ledger defaults
	v.SetDefault("ledger.driver", "memory")
	v.SetDefault("ledger.chain_id", 1)
	v.SetDefault("ledger.max_attempts", 5)
	v.SetDefault("ledger.initial_backoff", "250ms")
	v.SetDefault("ledger.max_backoff", "5s")
	v.SetDefault("ledger.request_timeout", "10s")
	v.SetDefault("ledger.confirmation_timeout", "30s")
	v.SetDefault("ledger.submits_per_minute", 600)
	v.SetDefault("ledger.receipt_cache_ttl", "1h")

	// Auction defaults
	v.SetDefault("auction.min_lead_days", 7)
	v.SetDefault("auction.auto_select_hours", 24)
	v.SetDefault("auction.reconcile_interval", "1m")

	// Proposal defaults
	v.SetDefault("proposal.default_expiry", "168h")
	v.SetDefault("proposal.max_graph_depth", 10)
	v.SetDefault("proposal.lock_timeout", "5s")
	v.SetDefault("proposal.notify_timeout", "5s")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "swap-engine")
	v.SetDefault("telemetry.trace_provider", "EMPTY_PROVIDER")
	v.SetDefault("telemetry.prometheus_port", 9090)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !slices.Contains([]string{"memory", "postgres"}, c.Storage.Driver) {
		return fmt.Errorf("invalid storage.driver: %s", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for the postgres driver")
	}
	if c.Payment.PlatformFeeRate < 0 || c.Payment.PlatformFeeRate >= 1 {
		return fmt.Errorf("payment.platform_fee_rate must be in [0, 1): %v", c.Payment.PlatformFeeRate)
	}
	if c.Payment.MinAmount <= 0 || c.Payment.MaxAmount < c.Payment.MinAmount {
		return fmt.Errorf("payment amount bounds invalid: min=%v max=%v", c.Payment.MinAmount, c.Payment.MaxAmount)
	}
	if len(c.Payment.Currencies) == 0 {
		return fmt.Errorf("payment.currencies cannot be empty")
	}
	if !slices.Contains([]string{"memory", "ethereum"}, c.Ledger.Driver) {
		return fmt.Errorf("invalid ledger.driver: %s", c.Ledger.Driver)
	}
	if c.Ledger.Driver == "ethereum" {
		if c.Ledger.RPCURL == "" {
			return fmt.Errorf("ledger.rpc_url is required for the ethereum driver")
		}
		if c.Ledger.PrivateKey == "" {
			return fmt.Errorf("ledger.private_key is required for the ethereum driver")
		}
		if !common.IsHexAddress(c.Ledger.AnchorAddress) {
			return fmt.Errorf("invalid ledger.anchor_address: %s", c.Ledger.AnchorAddress)
		}
	}
	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("ledger.max_attempts must be at least 1")
	}
	// A swap lock is held across the ledger step.
	if c.Redis.Addr != "" && c.Redis.LockTTL < c.Ledger.RecordBudget() {
		return fmt.Errorf("redis.lock_ttl %v is shorter than the ledger record budget %v", c.Redis.LockTTL, c.Ledger.RecordBudget())
	}
	if c.Auction.MinLeadDays < 0 || c.Auction.AutoSelectHours < 0 {
		return fmt.Errorf("auction timing must not be negative")
	}
	return nil
}
