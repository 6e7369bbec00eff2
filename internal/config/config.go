// Package config defines the FairStake service configuration and its
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fairstake/tickets/internal/domain"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then overridden by FAIRSTAKE_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Chain    ChainConfig    `toml:"chain"`
	Oracle   OracleConfig   `toml:"oracle"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Journal  JournalConfig  `toml:"journal"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds the event-log database connection. Disabled keeps
// the log in memory only.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the lock, fan-out and whitelist backend.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Prefix     string `toml:"prefix"`
	// LockRetry is how often a contended pool lock is retried.
	LockRetry duration `toml:"lock_retry"`
}

// S3Config holds ticket metadata and archive storage.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PublicBaseURL  string `toml:"public_base_url"`
	TicketImage    string `toml:"ticket_image"`
}

// ChainConfig names the platform's accounts.
type ChainConfig struct {
	TokenDecimals int    `toml:"token_decimals"`
	Admin         string `toml:"admin"`
	Treasury      string `toml:"treasury"`
	// Operator pays oracle fees. Empty means the treasury pays.
	Operator string `toml:"operator"`
	Resale   string `toml:"resale"`
}

// OracleConfig selects the randomness and identity providers.
type OracleConfig struct {
	// Randomness is "vrf" or "deterministic".
	Randomness  string   `toml:"randomness"`
	Seed        string   `toml:"seed"`
	Manual      bool     `toml:"manual"`
	RevealDelay duration `toml:"reveal_delay"`
	DrawFee     string   `toml:"draw_fee"`
	// FeeAccount receives draw fees. Empty uses the prover's address.
	FeeAccount string `toml:"fee_account"`

	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`

	// Identity is "static" or "redis".
	Identity  string   `toml:"identity"`
	Whitelist []string `toml:"whitelist"`
}

// KeeperConfig drives registration close and draws.
type KeeperConfig struct {
	Interval    duration `toml:"interval"`
	AutoClose   bool     `toml:"auto_close"`
	AutoRequest bool     `toml:"auto_request"`
}

// JournalConfig controls how the ledger outbox is drained.
type JournalConfig struct {
	BatchSize     int      `toml:"batch_size"`
	FlushInterval duration `toml:"flush_interval"`
}

// duration wraps time.Duration for TOML strings such as "5s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a configuration that runs fully in memory with a
// deterministic oracle.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "fairstake",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Prefix:     "fairstake",
			LockRetry:  duration{50 * time.Millisecond},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "fairstake",
			ForcePathStyle: true,
		},
		Chain: ChainConfig{
			TokenDecimals: domain.TokenDecimals,
		},
		Oracle: OracleConfig{
			Randomness:  "deterministic",
			Seed:        "0x01",
			RevealDelay: duration{30 * time.Second},
			DrawFee:     "1",
			Identity:    "static",
		},
		Keeper: KeeperConfig{
			Interval:    duration{5 * time.Second},
			AutoClose:   true,
			AutoRequest: true,
		},
		Journal: JournalConfig{
			BatchSize:     256,
			FlushInterval: duration{time.Second},
		},
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var (
	validModes      = []string{"api", "keeper", "full"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validRandomness = []string{"vrf", "deterministic"}
	validIdentities = []string{"static", "redis"}
)

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}

// Validate reports every invalid or missing value at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !oneOf(c.Mode, validModes) {
		add("unknown mode %q (valid: %s)", c.Mode, strings.Join(validModes, ", "))
	}
	if !oneOf(c.LogLevel, validLogLevels) {
		add("unknown log_level %q (valid: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Chain.TokenDecimals != domain.TokenDecimals {
		add("chain: token_decimals must be %d, got %d", domain.TokenDecimals, c.Chain.TokenDecimals)
	}
	addrs := []struct {
		name     string
		value    string
		required bool
	}{
		{"chain.admin", c.Chain.Admin, true},
		{"chain.treasury", c.Chain.Treasury, true},
		{"chain.operator", c.Chain.Operator, false},
		{"chain.resale", c.Chain.Resale, false},
		{"oracle.fee_account", c.Oracle.FeeAccount, false},
	}
	for _, a := range addrs {
		if (a.required || a.value != "") && !common.IsHexAddress(a.value) {
			add("%s must be a hex address, got %q", a.name, a.value)
		}
	}

	if !oneOf(c.Oracle.Randomness, validRandomness) {
		add("oracle: unknown randomness %q (valid: %s)", c.Oracle.Randomness, strings.Join(validRandomness, ", "))
	}
	if strings.EqualFold(c.Oracle.Randomness, "vrf") {
		if c.Oracle.PrivateKey == "" && c.Oracle.EncryptedKeyPath == "" {
			add("oracle: vrf needs private_key or encrypted_key_path")
		}
		if c.Oracle.EncryptedKeyPath != "" && c.Oracle.KeyPassword == "" {
			add("oracle: key_password is required with encrypted_key_path")
		}
	}
	if _, err := domain.ParseAmount(c.Oracle.DrawFee); err != nil {
		add("oracle: draw_fee: %v", err)
	}
	if !oneOf(c.Oracle.Identity, validIdentities) {
		add("oracle: unknown identity %q (valid: %s)", c.Oracle.Identity, strings.Join(validIdentities, ", "))
	}
	if strings.EqualFold(c.Oracle.Identity, "redis") && !c.Redis.Enabled {
		add("oracle: identity \"redis\" requires redis.enabled")
	}
	for _, u := range c.Oracle.Whitelist {
		if !common.IsHexAddress(u) {
			add("oracle: whitelist entry %q is not a hex address", u)
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
		if c.Redis.LockRetry.Duration <= 0 {
			add("redis: lock_retry must be positive")
		}
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}

	if c.Keeper.Interval.Duration <= 0 {
		add("keeper: interval must be positive")
	}
	if c.Journal.BatchSize < 1 {
		add("journal: batch_size must be >= 1")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		add("server: rate_limit must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
