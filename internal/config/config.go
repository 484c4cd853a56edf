// Package config provides configuration management for the ledger service
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/alexbotov/betledger/internal/domain"
)

// Config holds all configuration for the ledger service
type Config struct {
	Env         string          `toml:"env"`
	ServiceName string          `toml:"service_name"`
	Server      ServerConfig    `toml:"server"`
	Metrics     MetricsConfig   `toml:"metrics"`
	Database    DatabaseConfig  `toml:"database"`
	Auth        AuthConfig      `toml:"auth"`
	Ledger      LedgerConfig    `toml:"ledger"`
	Transport   TransportConfig `toml:"transport"`
	Events      EventsConfig    `toml:"events"`
	Log         LogConfig       `toml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `toml:"port"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

type MetricsConfig struct {
	Port string `toml:"port"`
}

// DatabaseConfig holds database configuration. Driver "memory" keeps all
// state in process.
type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret   string        `toml:"jwt_secret"`
	TokenExpiry time.Duration `toml:"token_expiry"`
	// Credentials maps an address to the bcrypt hash of its API secret
	Credentials map[string]string `toml:"credentials"`
}

// LedgerConfig holds the initial roles and fee settings
type LedgerConfig struct {
	Admins         []string `toml:"admins"`
	Operators      []string `toml:"operators"`
	FeePercent     int      `toml:"fee_percent"`
	FeesAddress    string   `toml:"fees_address"`
	CustodyAddress string   `toml:"custody_address"`
}

// TransportConfig selects how value moves. Mode "memory" simulates wallets
// in process; "remote" uses the custody API.
type TransportConfig struct {
	Mode       string        `toml:"mode"`
	BaseURL    string        `toml:"base_url"`
	APIKey     string        `toml:"api_key"`
	APISecret  string        `toml:"api_secret"`
	Asset      string        `toml:"asset"`
	Decimals   int32         `toml:"decimals"`
	Timeout    time.Duration `toml:"timeout"`
	RetryCount int           `toml:"retry_count"`
}

// EventsConfig configures optional audit event publishers
type EventsConfig struct {
	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic"`
	RedisAddr    string   `toml:"redis_addr"`
	RedisChannel string   `toml:"redis_channel"`
}

// LogConfig holds logger configuration. An empty File logs to stderr only.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Load loads configuration from environment with defaults
func Load() *Config {
	cfg := defaults()
	applyEnv(cfg)
	return cfg
}

// LoadFile decodes a TOML file over the defaults. Environment variables
// still take precedence.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Env:         "local",
		ServiceName: "betledger",
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Port: "9090",
		},
		Database: DatabaseConfig{
			Driver: "memory",
			DSN:    "host=localhost dbname=betledger sslmode=disable",
		},
		Auth: AuthConfig{
			JWTSecret:   "betledger-dev-secret-change-in-production",
			TokenExpiry: 24 * time.Hour,
			Credentials: map[string]string{},
		},
		Transport: TransportConfig{
			Mode:       "memory",
			Asset:      "GAME",
			Decimals:   2,
			Timeout:    30 * time.Second,
			RetryCount: 3,
		},
		Events: EventsConfig{
			KafkaTopic:   "betledger.events",
			RedisChannel: "betledger:events",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Env = getEnv("BETLEDGER_ENV", cfg.Env)
	cfg.ServiceName = getEnv("BETLEDGER_SERVICE_NAME", cfg.ServiceName)

	cfg.Server.Port = getEnv("BETLEDGER_PORT", cfg.Server.Port)
	cfg.Metrics.Port = getEnv("BETLEDGER_METRICS_PORT", cfg.Metrics.Port)

	cfg.Database.Driver = getEnv("BETLEDGER_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getEnv("BETLEDGER_DB_DSN", cfg.Database.DSN)

	cfg.Auth.JWTSecret = getEnv("BETLEDGER_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.TokenExpiry = getEnvDuration("BETLEDGER_TOKEN_EXPIRY", cfg.Auth.TokenExpiry)
	for _, pair := range getEnvList("BETLEDGER_CREDENTIALS", nil) {
		addr, hash, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		if cfg.Auth.Credentials == nil {
			cfg.Auth.Credentials = map[string]string{}
		}
		cfg.Auth.Credentials[strings.ToLower(addr)] = hash
	}

	cfg.Ledger.Admins = getEnvList("BETLEDGER_ADMINS", cfg.Ledger.Admins)
	cfg.Ledger.Operators = getEnvList("BETLEDGER_OPERATORS", cfg.Ledger.Operators)
	cfg.Ledger.FeePercent = getEnvInt("BETLEDGER_FEE_PERCENT", cfg.Ledger.FeePercent)
	cfg.Ledger.FeesAddress = getEnv("BETLEDGER_FEES_ADDRESS", cfg.Ledger.FeesAddress)
	cfg.Ledger.CustodyAddress = getEnv("BETLEDGER_CUSTODY_ADDRESS", cfg.Ledger.CustodyAddress)

	cfg.Transport.Mode = getEnv("BETLEDGER_TRANSPORT", cfg.Transport.Mode)
	cfg.Transport.BaseURL = getEnv("BETLEDGER_CUSTODY_URL", cfg.Transport.BaseURL)
	cfg.Transport.APIKey = getEnv("BETLEDGER_CUSTODY_API_KEY", cfg.Transport.APIKey)
	cfg.Transport.APISecret = getEnv("BETLEDGER_CUSTODY_API_SECRET", cfg.Transport.APISecret)
	cfg.Transport.Asset = getEnv("BETLEDGER_ASSET", cfg.Transport.Asset)
	cfg.Transport.Decimals = int32(getEnvInt("BETLEDGER_ASSET_DECIMALS", int(cfg.Transport.Decimals)))

	cfg.Events.KafkaBrokers = getEnvList("BETLEDGER_KAFKA_BROKERS", cfg.Events.KafkaBrokers)
	cfg.Events.KafkaTopic = getEnv("BETLEDGER_KAFKA_TOPIC", cfg.Events.KafkaTopic)
	cfg.Events.RedisAddr = getEnv("BETLEDGER_REDIS_ADDR", cfg.Events.RedisAddr)
	cfg.Events.RedisChannel = getEnv("BETLEDGER_REDIS_CHANNEL", cfg.Events.RedisChannel)

	cfg.Log.Level = getEnv("BETLEDGER_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("BETLEDGER_LOG_FILE", cfg.Log.File)
}

// Validate checks the settings the service cannot start without
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Ledger.AdminAddresses(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Ledger.OperatorAddresses(); err != nil {
		errs = append(errs, err)
	}
	if _, err := domain.ParseAddress(c.Ledger.FeesAddress); err != nil {
		errs = append(errs, fmt.Errorf("fees_address: %w", err))
	}
	if _, err := domain.ParseAddress(c.Ledger.CustodyAddress); err != nil {
		errs = append(errs, fmt.Errorf("custody_address: %w", err))
	}
	if c.Ledger.FeePercent < 0 || c.Ledger.FeePercent > 100 {
		errs = append(errs, fmt.Errorf("fee_percent %d out of range", c.Ledger.FeePercent))
	}

	switch c.Transport.Mode {
	case "memory":
	case "remote":
		if c.Transport.BaseURL == "" {
			errs = append(errs, errors.New("transport.base_url is required for remote mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport mode %q", c.Transport.Mode))
	}

	switch c.Database.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}

	return errors.Join(errs...)
}

// AdminAddresses parses the configured admins; at least one is required
func (l LedgerConfig) AdminAddresses() ([]domain.Address, error) {
	if len(l.Admins) == 0 {
		return nil, errors.New("at least one admin is required")
	}
	return parseAddresses("admins", l.Admins)
}

func (l LedgerConfig) OperatorAddresses() ([]domain.Address, error) {
	return parseAddresses("operators", l.Operators)
}

func parseAddresses(field string, values []string) ([]domain.Address, error) {
	out := make([]domain.Address, 0, len(values))
	for _, v := range values {
		addr, err := domain.ParseAddress(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %q: %w", field, v, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
