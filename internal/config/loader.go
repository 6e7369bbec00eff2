package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, loads .env if present and
// applies FAIRSTAKE_* overrides. A missing file is not an error, so the
// service can run from the environment alone. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setBool(&cfg.Postgres.Enabled, "FAIRSTAKE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "FAIRSTAKE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FAIRSTAKE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FAIRSTAKE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FAIRSTAKE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FAIRSTAKE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FAIRSTAKE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FAIRSTAKE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FAIRSTAKE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FAIRSTAKE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FAIRSTAKE_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "FAIRSTAKE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FAIRSTAKE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FAIRSTAKE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FAIRSTAKE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FAIRSTAKE_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "FAIRSTAKE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, "FAIRSTAKE_REDIS_PREFIX")
	setDuration(&cfg.Redis.LockRetry, "FAIRSTAKE_REDIS_LOCK_RETRY")

	setBool(&cfg.S3.Enabled, "FAIRSTAKE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FAIRSTAKE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FAIRSTAKE_S3_REGION")
	setStr(&cfg.S3.Bucket, "FAIRSTAKE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FAIRSTAKE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FAIRSTAKE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FAIRSTAKE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FAIRSTAKE_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.PublicBaseURL, "FAIRSTAKE_S3_PUBLIC_BASE_URL")

	setInt(&cfg.Chain.TokenDecimals, "FAIRSTAKE_CHAIN_TOKEN_DECIMALS")
	setStr(&cfg.Chain.Admin, "FAIRSTAKE_CHAIN_ADMIN")
	setStr(&cfg.Chain.Treasury, "FAIRSTAKE_CHAIN_TREASURY")
	setStr(&cfg.Chain.Operator, "FAIRSTAKE_CHAIN_OPERATOR")
	setStr(&cfg.Chain.Resale, "FAIRSTAKE_CHAIN_RESALE")

	setStr(&cfg.Oracle.Randomness, "FAIRSTAKE_ORACLE_RANDOMNESS")
	setStr(&cfg.Oracle.Seed, "FAIRSTAKE_ORACLE_SEED")
	setBool(&cfg.Oracle.Manual, "FAIRSTAKE_ORACLE_MANUAL")
	setDuration(&cfg.Oracle.RevealDelay, "FAIRSTAKE_ORACLE_REVEAL_DELAY")
	setStr(&cfg.Oracle.DrawFee, "FAIRSTAKE_ORACLE_DRAW_FEE")
	setStr(&cfg.Oracle.FeeAccount, "FAIRSTAKE_ORACLE_FEE_ACCOUNT")
	setStr(&cfg.Oracle.PrivateKey, "FAIRSTAKE_ORACLE_PRIVATE_KEY")
	setStr(&cfg.Oracle.EncryptedKeyPath, "FAIRSTAKE_ORACLE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Oracle.KeyPassword, "FAIRSTAKE_ORACLE_KEY_PASSWORD")
	setStr(&cfg.Oracle.Identity, "FAIRSTAKE_ORACLE_IDENTITY")
	setStringSlice(&cfg.Oracle.Whitelist, "FAIRSTAKE_ORACLE_WHITELIST")

	setDuration(&cfg.Keeper.Interval, "FAIRSTAKE_KEEPER_INTERVAL")
	setBool(&cfg.Keeper.AutoClose, "FAIRSTAKE_KEEPER_AUTO_CLOSE")
	setBool(&cfg.Keeper.AutoRequest, "FAIRSTAKE_KEEPER_AUTO_REQUEST")

	setInt(&cfg.Journal.BatchSize, "FAIRSTAKE_JOURNAL_BATCH_SIZE")
	setDuration(&cfg.Journal.FlushInterval, "FAIRSTAKE_JOURNAL_FLUSH_INTERVAL")

	setInt(&cfg.Server.Port, "FAIRSTAKE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FAIRSTAKE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FAIRSTAKE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FAIRSTAKE_SERVER_RATE_LIMIT")

	setStr(&cfg.Notify.TelegramToken, "FAIRSTAKE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FAIRSTAKE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FAIRSTAKE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FAIRSTAKE_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "FAIRSTAKE_MODE")
	setStr(&cfg.LogLevel, "FAIRSTAKE_LOG_LEVEL")
}

// The setters only touch dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
