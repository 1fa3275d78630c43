package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"lumo/internal/apperr"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	BusNATS = "nats"
	BusNone = "none"
)

type Config struct {
	StoreDriver string `env:"LUMO_STORE_DRIVER" envDefault:"postgres"`

	DBUser  string `env:"LUMO_POSTGRES_USER"`
	DBPass  string `env:"LUMO_POSTGRES_PASSWORD"`
	DBHost  string `env:"LUMO_POSTGRES_HOST"`
	DBPort  string `env:"LUMO_POSTGRES_PORT" envDefault:"5432"`
	DBName  string `env:"LUMO_POSTGRES_DB"`
	SSLMode string `env:"LUMO_POSTGRES_SSLMODE" envDefault:"disable"`

	SQLitePath string `env:"LUMO_SQLITE_PATH"`

	JWTSecret string `env:"LUMO_JWT_SECRET"`
	JWTIssuer string `env:"LUMO_JWT_ISSUER"`

	RedisHost      string        `env:"LUMO_REDIS_HOST"`
	RedisPort      string        `env:"LUMO_REDIS_PORT" envDefault:"6379"`
	RewardCacheTTL time.Duration `env:"LUMO_REWARD_CACHE_TTL" envDefault:"30s"`

	BusProvider   string `env:"LUMO_BUS_PROVIDER" envDefault:"none"`
	NatsHost      string `env:"LUMO_NATS_HOST"`
	NatsPort      string `env:"LUMO_NATS_PORT" envDefault:"4222"`
	WorkerEnabled bool   `env:"LUMO_WORKER_ENABLED" envDefault:"false"`

	ApiPort        string        `env:"LUMO_API_PORT" envDefault:"8080"`
	GRPCEnabled    bool          `env:"LUMO_GRPC_ENABLED" envDefault:"true"`
	GRPCPort       string        `env:"LUMO_GRPC_PORT" envDefault:"9090"`
	RequestTimeout time.Duration `env:"LUMO_REQUEST_TIMEOUT" envDefault:"5s"`
	CORSOrigins    []string      `env:"LUMO_CORS_ORIGINS" envDefault:"*" envSeparator:","`

	LogLevel string `env:"LUMO_LOG_LEVEL" envDefault:"info"`
	Env      string `env:"LUMO_ENV" envDefault:"development"`
}

// New loads configuration from the environment (and a .env file if present)
// and validates it. Every failure is a configuration error.
func New() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, apperr.Configuration("invalid environment", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, apperr.Configuration(err.Error(), nil)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StorePostgres:
		if c.DBUser == "" || c.DBHost == "" || c.DBName == "" {
			return fmt.Errorf("missing required env for database: LUMO_POSTGRES_USER/HOST/DB")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("missing required env for sqlite store: LUMO_SQLITE_PATH")
		}
	default:
		return fmt.Errorf("invalid store driver %q, must be 'postgres' or 'sqlite'", c.StoreDriver)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("missing required env: LUMO_JWT_SECRET")
	}

	switch c.BusProvider {
	case BusNone:
	case BusNATS:
		if c.NatsHost == "" {
			return fmt.Errorf("missing required env for nats bus: LUMO_NATS_HOST")
		}
	default:
		return fmt.Errorf("invalid bus provider %q, must be 'nats' or 'none'", c.BusProvider)
	}
	if c.WorkerEnabled && c.BusProvider != BusNATS {
		return fmt.Errorf("LUMO_WORKER_ENABLED requires LUMO_BUS_PROVIDER=nats")
	}

	if c.ApiPort == "" {
		return fmt.Errorf("missing required env: LUMO_API_PORT")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("LUMO_REQUEST_TIMEOUT must be positive")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

// RedisAddr returns "" when the reward rule cache is not configured.
func (c *Config) RedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

func (c *Config) ApiAddr() string {
	return ":" + c.ApiPort
}

// GRPCAddr returns false when the gRPC health server is disabled.
func (c *Config) GRPCAddr() (string, bool) {
	if !c.GRPCEnabled || c.GRPCPort == "" {
		return "", false
	}
	return ":" + c.GRPCPort, true
}

func (c *Config) Production() bool {
	return c.Env == "production"
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid LUMO_LOG_LEVEL %q", c.LogLevel)
	}
	return level, nil
}
