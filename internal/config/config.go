// Package config loads service configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then a
// .env file, then the process environment. Later layers only override the
// fields they set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/logging"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config represents the complete application configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Store     StoreConfig     `yaml:"store"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   logging.Config  `yaml:"logging"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

// HTTPConfig holds listener settings.
type HTTPConfig struct {
	Port            string        `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT"`
	AllowedOrigin   string        `yaml:"allowed_origin" env:"HTTP_ALLOWED_ORIGIN"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is one of postgres, sqlite or memory.
	Driver     string        `yaml:"driver" env:"STORE_DRIVER"`
	SQLitePath string        `yaml:"sqlite_path" env:"SQLITE_PATH"`
	MaxRetries int           `yaml:"max_retries" env:"STORE_MAX_RETRIES"`
	RetryDelay time.Duration `yaml:"retry_delay" env:"STORE_RETRY_DELAY"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	// URL, when set, takes precedence over the individual fields.
	URL      string `yaml:"url" env:"DATABASE_URL"`
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     string `yaml:"port" env:"DB_PORT"`
	User     string `yaml:"user" env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	DBName   string `yaml:"dbname" env:"DB_NAME"`
	SSLMode  string `yaml:"sslmode" env:"DB_SSLMODE"`
	MaxConns int32  `yaml:"max_conns" env:"DB_MAX_CONNS"`
	MinConns int32  `yaml:"min_conns" env:"DB_MIN_CONNS"`
}

// DSN builds a libpq-compatible connection string.
func (c PostgresConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// AuthConfig holds identity token settings.
type AuthConfig struct {
	Secret string        `yaml:"secret" env:"JWT_SECRET"`
	Issuer string        `yaml:"issuer" env:"JWT_ISSUER"`
	TTL    time.Duration `yaml:"ttl" env:"JWT_TTL"`

	// Admin* bootstrap an administrator account at start-up when all three
	// are set.
	AdminUsername string `yaml:"admin_username" env:"ADMIN_USERNAME"`
	AdminEmail    string `yaml:"admin_email" env:"ADMIN_EMAIL"`
	AdminPassword string `yaml:"admin_password" env:"ADMIN_PASSWORD"`
}

// ReconcileConfig controls the participant counter audit job.
type ReconcileConfig struct {
	Enabled  bool   `yaml:"enabled" env:"RECONCILE_ENABLED"`
	Schedule string `yaml:"schedule" env:"RECONCILE_SCHEDULE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigin:   "*",
		},
		Store: StoreConfig{
			Driver:     DriverPostgres,
			SQLitePath: "activity-enrollment.db",
			MaxRetries: 3,
			RetryDelay: 50 * time.Millisecond,
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			DBName:   "enrollment",
			SSLMode:  "disable",
			MaxConns: 20,
			MinConns: 2,
		},
		Auth: AuthConfig{
			Issuer: "activity-enrollment",
			TTL:    24 * time.Hour,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Reconcile: ReconcileConfig{
			Enabled:  true,
			Schedule: "@every 10m",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty), the given .env files (default ".env"; missing files are
// ignored) and the environment.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate performs basic validation on the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.HTTP.Port) == "" {
		return fmt.Errorf("http port is required")
	}
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Postgres.URL == "" && c.Postgres.Host == "" {
			return fmt.Errorf("postgres host or DATABASE_URL is required")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store driver must be one of: %s, %s, %s", DriverPostgres, DriverSQLite, DriverMemory)
	}
	if c.Store.MaxRetries < 0 {
		return fmt.Errorf("store max retries cannot be negative")
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Auth.TTL <= 0 {
		return fmt.Errorf("jwt ttl must be positive")
	}
	if c.Reconcile.Enabled {
		if _, err := cron.ParseStandard(c.Reconcile.Schedule); err != nil {
			return fmt.Errorf("invalid reconcile schedule %q: %w", c.Reconcile.Schedule, err)
		}
	}
	return nil
}
