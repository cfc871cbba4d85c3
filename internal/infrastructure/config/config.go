package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment    string               `mapstructure:"environment"`
	LogLevel       string               `mapstructure:"log_level"`
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Explorer       ExplorerConfig       `mapstructure:"explorer"`
	Liquidator     LiquidatorConfig     `mapstructure:"liquidator"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Notification   NotificationConfig   `mapstructure:"notification"`
	Workers        WorkerConfig         `mapstructure:"workers"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	QueryTimeout    int    `mapstructure:"query_timeout"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// ExplorerConfig configures the blockchain aggregation layer
type ExplorerConfig struct {
	CachePrefix string                 `mapstructure:"cache_prefix"`
	Chains      map[string]ChainConfig `mapstructure:"chains"`
}

// ChainConfig is the per-network provider list in failover priority order
type ChainConfig struct {
	Enabled       bool             `mapstructure:"enabled"`
	FetchInterval int              `mapstructure:"fetch_interval"` // seconds between range scans
	Providers     []ProviderConfig `mapstructure:"providers"`
	WebSocketURL  string           `mapstructure:"websocket_url"` // optional new-head stream
}

// ProviderConfig is one upstream explorer API
type ProviderConfig struct {
	Name      string  `mapstructure:"name"`
	BaseURL   string  `mapstructure:"base_url"`
	APIKey    string  `mapstructure:"api_key"`
	APIHeader string  `mapstructure:"api_header"`
	RateLimit float64 `mapstructure:"rate_limit"` // requests per second
	Timeout   int     `mapstructure:"timeout"`    // seconds
}

// LiquidatorConfig configures the liquidation pipeline
type LiquidatorConfig struct {
	BatchSize int `mapstructure:"batch_size"` // pending requests locked per pass

	// MaxInMarketOrder caps the total open external exposure per destination
	// currency; MaxOrder caps a single chunk.
	MaxInMarketOrder map[string]string `mapstructure:"max_in_market_order"`
	MaxOrder         map[string]string `mapstructure:"max_order"`

	// ExternalCurrencies lists destination currencies settled through the
	// external broker; everything else settles on the internal venue.
	ExternalCurrencies []string `mapstructure:"external_currencies"`

	// AmountPrecision is the tradable amount precision per source currency,
	// in decimal places. Unlisted currencies use 8.
	AmountPrecision map[string]int `mapstructure:"amount_precision"`

	ClientIDPrefix  string `mapstructure:"client_id_prefix"`
	RunInterval     int    `mapstructure:"run_interval"`     // seconds between creator passes
	RetryInterval   int    `mapstructure:"retry_interval"`   // seconds between failed-commit retries
	CleanupSchedule string `mapstructure:"cleanup_schedule"` // cron expression for empty-chunk sweeps
}

// BrokerConfig configures the external settlement broker client
type BrokerConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Timeout    int    `mapstructure:"timeout"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// ReconciliationConfig configures the withdraw-diff checker
type ReconciliationConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	RunInterval int  `mapstructure:"run_interval"` // seconds between passes

	// FeeSkimChains lists chains whose hot wallets skim the network fee from
	// the sent amount; a short diff equal to at most the fee is not a mismatch.
	FeeSkimChains []string `mapstructure:"fee_skim_chains"`
}

// NotificationConfig configures operator alerting
type NotificationConfig struct {
	AlertWebhookURL string `mapstructure:"alert_webhook_url"`
	Timeout         int    `mapstructure:"timeout"`
}

// WorkerConfig contains background worker configuration
type WorkerConfig struct {
	Count      int `mapstructure:"count"`
	JobTimeout int `mapstructure:"job_timeout"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Build database URL if not provided
	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.rate_limit_per_min", 100)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "chainledger")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 100)
	viper.SetDefault("database.max_idle_conns", 25)
	viper.SetDefault("database.conn_max_lifetime", 3600)
	viper.SetDefault("database.query_timeout", 30)
	viper.SetDefault("database.max_retries", 3)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)

	// Explorer defaults
	viper.SetDefault("explorer.cache_prefix", "explorer_")

	// Liquidator defaults
	viper.SetDefault("liquidator.batch_size", 50)
	viper.SetDefault("liquidator.client_id_prefix", "liq")
	viper.SetDefault("liquidator.run_interval", 10)
	viper.SetDefault("liquidator.retry_interval", 60)
	viper.SetDefault("liquidator.cleanup_schedule", "0 * * * *")
	viper.SetDefault("liquidator.external_currencies", []string{"USDT"})

	// Broker defaults
	viper.SetDefault("broker.timeout", 30)
	viper.SetDefault("broker.max_retries", 3)

	// Reconciliation defaults
	viper.SetDefault("reconciliation.enabled", true)
	viper.SetDefault("reconciliation.run_interval", 300)
	viper.SetDefault("reconciliation.fee_skim_chains", []string{"TON"})

	// Notification defaults
	viper.SetDefault("notification.timeout", 10)

	// Worker defaults
	viper.SetDefault("workers.count", 10)
	viper.SetDefault("workers.job_timeout", 300)
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}

	if brokerKey := os.Getenv("BROKER_API_KEY"); brokerKey != "" {
		viper.Set("broker.api_key", brokerKey)
	}
	if brokerURL := os.Getenv("BROKER_BASE_URL"); brokerURL != "" {
		viper.Set("broker.base_url", brokerURL)
	}

	if webhookURL := os.Getenv("ALERT_WEBHOOK_URL"); webhookURL != "" {
		viper.Set("notification.alert_webhook_url", webhookURL)
	}

	if currencies := os.Getenv("LIQUIDATOR_EXTERNAL_CURRENCIES"); currencies != "" {
		parts := strings.Split(currencies, ",")
		var list []string
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				list = append(list, strings.ToUpper(trimmed))
			}
		}
		if len(list) > 0 {
			viper.Set("liquidator.external_currencies", list)
		}
	}
}

func validate(config *Config) error {
	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}

	for chain, cfg := range config.Explorer.Chains {
		if !cfg.Enabled {
			continue
		}
		if len(cfg.Providers) == 0 {
			return fmt.Errorf("chain %s is enabled but has no providers", chain)
		}
	}

	return nil
}

// IsExternalCurrency reports whether a destination currency settles through
// the external broker
func (c *LiquidatorConfig) IsExternalCurrency(currency string) bool {
	for _, cur := range c.ExternalCurrencies {
		if strings.EqualFold(cur, currency) {
			return true
		}
	}
	return false
}
