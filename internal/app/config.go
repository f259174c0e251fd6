package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (DIST_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (DIST_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Database    DatabaseConfig
	Auth        AuthConfig
	Orders      OrdersConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Graceful    GracefulConfig
}

// DatabaseConfig sizes the connection pool. Zero keeps the pgxpool defaults.
type DatabaseConfig struct {
	MaxConns int32 `default:"0" usage:"Maximum pool connections" flag:"db-max-conns"`
	MinConns int32 `default:"0" usage:"Minimum idle pool connections" flag:"db-min-conns"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Secret string `usage:"HS256 signing secret for access tokens (DIST_AUTH_SECRET)" flag:"auth-secret"`
}

// OrdersConfig tunes order placement and listing.
type OrdersConfig struct {
	LockTimeout  time.Duration `default:"5s"  usage:"Maximum wait for a price row lock" flag:"lock-timeout"`
	PlaceTimeout time.Duration `default:"15s" usage:"Deadline for a whole placement transaction" flag:"place-timeout"`
	AllowEmpty   bool          `default:"false" usage:"Accept orders without details" flag:"allow-empty-orders"`
	MaxPerPage   int           `default:"100" usage:"Upper bound for per_page in order listings" flag:"max-per-page"`
}

// RedisConfig enables Idempotency-Key support when Addr is set.
type RedisConfig struct {
	Addr           string        `default:"" usage:"Redis address; empty disables idempotency keys" flag:"redis-addr"`
	Password       string        `default:"" usage:"Redis password" flag:"redis-password"`
	DB             int           `default:"0" usage:"Redis database number" flag:"redis-db"`
	IdempotencyTTL time.Duration `default:"24h" usage:"How long a placed order is replayed for its key" flag:"idempotency-ttl"`
	PendingTTL     time.Duration `default:"1m" usage:"How long an in-flight key blocks retries" flag:"idempotency-pending-ttl"`
}

// KafkaConfig enables order.placed events when Brokers is set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers; empty disables events" flag:"kafka-brokers"`
	Topic   string   `default:"orders.placed" usage:"Topic for order events" flag:"kafka-topic"`
	Buffer  int      `default:"1024" usage:"Events queued before new ones are dropped" flag:"kafka-buffer"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "DIST",
		Files:     []string{"config.yaml", "/etc/distributor/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set DIST_DATABASE_URL or DATABASE_URL")
	}
	if c.Auth.Secret == "" {
		return errors.New("auth secret is required: set DIST_AUTH_SECRET or JWT_SECRET")
	}
	if c.Orders.MaxPerPage <= 0 {
		return errors.Errorf("max per page must be positive, got %d", c.Orders.MaxPerPage)
	}
	if c.Orders.LockTimeout < 0 || c.Orders.PlaceTimeout < 0 {
		return errors.New("order timeouts must not be negative")
	}
	return nil
}

// applyPlatformDefaults maps the conventional DATABASE_URL, JWT_SECRET and
// PORT variables onto the DIST_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Auth.Secret == "" {
		c.Auth.Secret = os.Getenv("JWT_SECRET")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
