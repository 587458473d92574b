// Package config loads the reconciler configuration from defaults, an
// optional YAML file and RECONCILER_* environment variables, in that order
// of precedence (env wins).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RECONCILER"

// Config is the service and CLI configuration.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Store    StoreConfig    `mapstructure:"store"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Provider ProviderConfig `mapstructure:"provider"`
	Merchant MerchantConfig `mapstructure:"merchant"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Totals   TotalsConfig   `mapstructure:"totals"`
	Log      LogConfig      `mapstructure:"log"`
	AuditLog AuditLogConfig `mapstructure:"audit_log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type CacheConfig struct {
	// RedisAddr empty selects the in-process cache.
	RedisAddr   string        `mapstructure:"redis_addr"`
	EstimateTTL time.Duration `mapstructure:"estimate_ttl"`
	AddressTTL  time.Duration `mapstructure:"address_ttl"`
}

type KafkaConfig struct {
	Brokers           string `mapstructure:"brokers"`
	OrderSavedTopic   string `mapstructure:"order_saved_topic"`
	NotificationTopic string `mapstructure:"notification_topic"`
}

type ProviderConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	FetchAttempts uint          `mapstructure:"fetch_attempts"`
}

type MerchantConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PaymentConfig struct {
	MethodCode string `mapstructure:"method_code"`
}

type TotalsConfig struct {
	RegionRequiredCountries []string `mapstructure:"region_required_countries"`
	CorrectionEnabled       bool     `mapstructure:"correction_enabled"`
	CorrectionDivisor       int64    `mapstructure:"correction_divisor"`
	PriceFaultTolerance     int64    `mapstructure:"price_fault_tolerance"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuditLogConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	// Endpoint empty defers to OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string `mapstructure:"endpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "reconciler.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.estimate_ttl", 10*time.Minute)
	v.SetDefault("cache.address_ttl", time.Hour)
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.order_saved_topic", "orders.saved")
	v.SetDefault("kafka.notification_topic", "orders.notifications")
	v.SetDefault("provider.base_url", "http://localhost:8090")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout", 10*time.Second)
	v.SetDefault("provider.fetch_attempts", 3)
	v.SetDefault("merchant.base_url", "http://localhost:8091")
	v.SetDefault("merchant.timeout", 15*time.Second)
	v.SetDefault("payment.method_code", "provider")
	v.SetDefault("totals.region_required_countries", []string{"US", "CA"})
	v.SetDefault("totals.correction_enabled", true)
	v.SetDefault("totals.correction_divisor", 2)
	v.SetDefault("totals.price_fault_tolerance", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("audit_log.sqlite_path", "reconciliation_log.db")
	v.SetDefault("tracing.enabled", true)
	v.SetDefault("tracing.service_name", "reconciler-service")
	v.SetDefault("tracing.endpoint", "")
}

// Load reads path when it is not empty. Environment variables override both
// the file and the defaults: store.sqlite_path is RECONCILER_STORE_SQLITE_PATH.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("config: store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("config: store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Totals.CorrectionEnabled && c.Totals.CorrectionDivisor <= 0 {
		return fmt.Errorf("config: totals.correction_divisor must be positive")
	}
	if c.Provider.FetchAttempts == 0 {
		return fmt.Errorf("config: provider.fetch_attempts must be at least 1")
	}
	return nil
}
