package config

import (
	"fmt"
	"slices"
	"time"
	_ "time/tzdata"

	pkgconfig "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/config"
)

// Storage drivers.
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Warehouse reassignment policies.
const (
	ReassignRecordOnly = "record_only"
	ReassignReallocate = "reallocate"
)

// Config holds all configuration for the fulfillment service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	HTTPPort            int           `env:"FULFILLMENT_HTTP_PORT" envDefault:"8080"`
	HTTPShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"fulfillment"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"fulfillment_secret"`
	PostgresDB   string `env:"FULFILLMENT_DB_NAME" envDefault:"fulfillment"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`
	RunMigrations         bool  `env:"RUN_MIGRATIONS" envDefault:"true"`

	// LockTimeout bounds row-lock waits in both storage drivers.
	LockTimeout time.Duration `env:"LOCK_TIMEOUT" envDefault:"3s"`

	// Redis backs the order-number sequence and the consumer idempotency
	// store. When disabled both fall back to in-process implementations.
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaEnabled       bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"fulfillment-service"`
	AuditSink          string   `env:"AUDIT_SINK" envDefault:"log"`

	// Bulk executor
	BulkMaxItems    int `env:"BULK_MAX_ITEMS" envDefault:"500"`
	BulkConcurrency int `env:"BULK_CONCURRENCY" envDefault:"8"`

	WarehouseReassignPolicy string `env:"WAREHOUSE_REASSIGN_POLICY" envDefault:"record_only"`

	// Billing
	BillingTimezone        string        `env:"BILLING_TIMEZONE" envDefault:"Africa/Lagos"`
	BillingAccrualEnabled  bool          `env:"BILLING_ACCRUAL_ENABLED" envDefault:"false"`
	BillingAccrualInterval time.Duration `env:"BILLING_ACCRUAL_INTERVAL" envDefault:"1h"`
	SubscriptionSource     string        `env:"SUBSCRIPTION_SOURCE" envDefault:"postgres"`
	SubscriptionServiceURL string        `env:"SUBSCRIPTION_SERVICE_URL" envDefault:"http://localhost:8090"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	SlowQueryThresholdMs int `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"500"`
}

// Load reads configuration from environment variables, after applying the
// given dotenv files.
func Load(dotenvFiles ...string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg, dotenvFiles...); err != nil {
		return nil, fmt.Errorf("load fulfillment config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if !slices.Contains([]string{StorageDriverPostgres, StorageDriverMemory}, c.StorageDriver) {
		return fmt.Errorf("STORAGE_DRIVER must be postgres or memory, got %q", c.StorageDriver)
	}
	if c.StorageDriver == StorageDriverPostgres && c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be > 0, got %s", c.LockTimeout)
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	switch c.AuditSink {
	case "log":
	case "kafka":
		if !c.KafkaEnabled {
			return fmt.Errorf("AUDIT_SINK=kafka requires KAFKA_ENABLED")
		}
	default:
		return fmt.Errorf("AUDIT_SINK must be kafka or log, got %q", c.AuditSink)
	}
	if c.BulkMaxItems < 1 {
		return fmt.Errorf("BULK_MAX_ITEMS must be > 0, got %d", c.BulkMaxItems)
	}
	if c.BulkConcurrency < 1 {
		return fmt.Errorf("BULK_CONCURRENCY must be > 0, got %d", c.BulkConcurrency)
	}
	if c.WarehouseReassignPolicy != ReassignRecordOnly && c.WarehouseReassignPolicy != ReassignReallocate {
		return fmt.Errorf("WAREHOUSE_REASSIGN_POLICY must be record_only or reallocate, got %q", c.WarehouseReassignPolicy)
	}
	if _, err := time.LoadLocation(c.BillingTimezone); err != nil {
		return fmt.Errorf("BILLING_TIMEZONE: %w", err)
	}
	if c.BillingAccrualEnabled && c.BillingAccrualInterval <= 0 {
		return fmt.Errorf("BILLING_ACCRUAL_INTERVAL must be > 0, got %s", c.BillingAccrualInterval)
	}
	switch c.SubscriptionSource {
	case "postgres":
		if c.StorageDriver != StorageDriverPostgres {
			return fmt.Errorf("SUBSCRIPTION_SOURCE=postgres requires STORAGE_DRIVER=postgres")
		}
	case "http":
		if c.SubscriptionServiceURL == "" {
			return fmt.Errorf("SUBSCRIPTION_SERVICE_URL is required when SUBSCRIPTION_SOURCE=http")
		}
	case "memory":
	default:
		return fmt.Errorf("SUBSCRIPTION_SOURCE must be postgres, http or memory, got %q", c.SubscriptionSource)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// BillingLocation returns the location billing dates are computed in.
// validate has already proven the name loads.
func (c *Config) BillingLocation() *time.Location {
	loc, err := time.LoadLocation(c.BillingTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}
