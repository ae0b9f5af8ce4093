package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel        string   `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string   `env:"LOG_FORMAT" envDefault:"json"`
	LogRedactFields []string `env:"LOG_REDACT_FIELDS" envDefault:"credential,password,token,authorization,access_token" envSeparator:","`

	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	AdminAddr string `env:"ADMIN_ADDR" envDefault:":9091"`

	DBDriver    string `env:"DB_DRIVER" envDefault:"postgres"` // postgres or sqlite
	DatabaseURL string `env:"DATABASE_URL,required"`

	RedisURL      string   `env:"REDIS_URL"` // optional; enables the poll lease and the payment stream
	PaymentStream string   `env:"REDIS_PAYMENT_STREAM" envDefault:"payments:approved"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic    string   `env:"KAFKA_TOPIC" envDefault:"payments.approved"`

	JWTSecret     string        `env:"JWT_SECRET,required"`
	JWTTTL        time.Duration `env:"JWT_TTL" envDefault:"24h"`
	CredentialKey string        `env:"CREDENTIAL_KEY,required"` // 32 bytes, hex encoded

	ProviderBaseURL     string        `env:"PROVIDER_BASE_URL" envDefault:"https://api.mercadopago.com"`
	ProviderTimeout     time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
	ProviderPageSize    int           `env:"PROVIDER_PAGE_SIZE" envDefault:"50"`
	ProviderRateLimit   float64       `env:"PROVIDER_RATE_LIMIT" envDefault:"5"` // requests per second, all tenants
	ProviderBurst       int           `env:"PROVIDER_BURST" envDefault:"5"`
	BreakerMaxFailures  int           `env:"BREAKER_MAX_FAILURES" envDefault:"5"`
	BreakerCooldown     time.Duration `env:"BREAKER_COOLDOWN" envDefault:"1m"`
	RefreshWindow       time.Duration `env:"REFRESH_WINDOW" envDefault:"30s"`
	TenantCacheTTL      time.Duration `env:"TENANT_CACHE_TTL" envDefault:"1m"`
	PollEnabled         bool          `env:"POLL_ENABLED" envDefault:"true"`
	PollInterval        time.Duration `env:"POLL_INTERVAL" envDefault:"20s"`
	PollConcurrency     int           `env:"POLL_CONCURRENCY" envDefault:"1"`
	PollLeaseTTL        time.Duration `env:"POLL_LEASE_TTL" envDefault:"1m"`
	Timezone            string        `env:"TIMEZONE" envDefault:"America/Argentina/Cordoba"`
	DeviceFeedLimit     int           `env:"DEVICE_FEED_LIMIT" envDefault:"10"`
	SpoolPath           string        `env:"SPOOL_PATH" envDefault:"./data/spool"`
	SpoolSegmentSize    int64         `env:"SPOOL_SEGMENT_SIZE_BYTES" envDefault:"4194304"`   // 4MB
	SpoolMaxDiskSize    int64         `env:"SPOOL_MAX_DISK_SIZE_BYTES" envDefault:"268435456"` // 256MB
	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks rules that struct tags cannot express.
func (c *Config) Validate() error {
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}
	if _, err := c.CredentialKeyBytes(); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.RefreshWindow <= 0 {
		return fmt.Errorf("REFRESH_WINDOW must be positive")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	if c.PollConcurrency < 1 {
		return fmt.Errorf("POLL_CONCURRENCY must be at least 1")
	}
	if c.DeviceFeedLimit < 5 || c.DeviceFeedLimit > 20 {
		return fmt.Errorf("DEVICE_FEED_LIMIT must be between 5 and 20")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// CredentialKeyBytes decodes the credential encryption key.
func (c *Config) CredentialKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.CredentialKey)
	if err != nil {
		return nil, fmt.Errorf("CREDENTIAL_KEY must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("CREDENTIAL_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Location returns the display timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
