package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COREBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COREBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setStr(&cfg.Broker.BaseURL, "COREBOT_BROKER_BASE_URL")
	setStr(&cfg.Broker.WsURL, "COREBOT_BROKER_WS_URL")
	setStr(&cfg.Broker.ApiKey, "COREBOT_BROKER_API_KEY")
	setStr(&cfg.Broker.ApiSecret, "COREBOT_BROKER_API_SECRET")
	setStr(&cfg.Broker.EncryptedSecretPath, "COREBOT_BROKER_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Broker.SecretPassword, "COREBOT_BROKER_SECRET_PASSWORD")
	setStr(&cfg.Broker.Account, "COREBOT_BROKER_ACCOUNT")
	setDuration(&cfg.Broker.Timeout, "COREBOT_BROKER_TIMEOUT")
	setFloat64(&cfg.Broker.InitialCash, "COREBOT_BROKER_INITIAL_CASH")

	// ── Trading ──
	setStringSlice(&cfg.Trading.Symbols, "COREBOT_TRADING_SYMBOLS")
	setFloat64(&cfg.Trading.OrderSizeFraction, "COREBOT_TRADING_ORDER_SIZE_FRACTION")
	setFloat64(&cfg.Trading.RetainFraction, "COREBOT_TRADING_RETAIN_FRACTION")
	setFloat64(&cfg.Trading.MaxTotalInvested, "COREBOT_TRADING_MAX_TOTAL_INVESTED")
	setFloat64(&cfg.Trading.MinCashReserve, "COREBOT_TRADING_MIN_CASH_RESERVE")
	setFloat64(&cfg.Trading.MaxPositionBuffer, "COREBOT_TRADING_MAX_POSITION_BUFFER")
	setFloat64(&cfg.Trading.ProfitTargetFraction, "COREBOT_TRADING_PROFIT_TARGET_FRACTION")
	setFloat64(&cfg.Trading.CoreUnwindFraction, "COREBOT_TRADING_CORE_UNWIND_FRACTION")
	setFloat64(&cfg.Trading.CoreExposureFraction, "COREBOT_TRADING_CORE_EXPOSURE_FRACTION")
	setFloat64(&cfg.Trading.MaxExposureFraction, "COREBOT_TRADING_MAX_EXPOSURE_FRACTION")
	setFloat64(&cfg.Trading.GapSellOffset, "COREBOT_TRADING_GAP_SELL_OFFSET")
	setFloat64(&cfg.Trading.GapExitOffset, "COREBOT_TRADING_GAP_EXIT_OFFSET")
	setInt(&cfg.Trading.RSIPeriod, "COREBOT_TRADING_RSI_PERIOD")
	setFloat64(&cfg.Trading.RSIOversold, "COREBOT_TRADING_RSI_OVERSOLD")
	setFloat64(&cfg.Trading.RSIOverbought, "COREBOT_TRADING_RSI_OVERBOUGHT")

	// ── Sessions ──
	setStr(&cfg.Sessions.Timezone, "COREBOT_SESSIONS_TIMEZONE")
	setBool(&cfg.Sessions.ResubmitAcrossSessions, "COREBOT_SESSIONS_RESUBMIT_ACROSS_SESSIONS")
	setDuration(&cfg.Sessions.ResubmitDelay, "COREBOT_SESSIONS_RESUBMIT_DELAY")

	// ── Intervals ──
	setDuration(&cfg.Intervals.Core, "COREBOT_INTERVALS_CORE")
	setDuration(&cfg.Intervals.Signal, "COREBOT_INTERVALS_SIGNAL")
	setDuration(&cfg.Intervals.Gap, "COREBOT_INTERVALS_GAP")
	setDuration(&cfg.Intervals.Risk, "COREBOT_INTERVALS_RISK")
	setDuration(&cfg.Intervals.Performance, "COREBOT_INTERVALS_PERFORMANCE")
	setDuration(&cfg.Intervals.SessionPoll, "COREBOT_INTERVALS_SESSION_POLL")
	setDuration(&cfg.Intervals.OffHours, "COREBOT_INTERVALS_OFF_HOURS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "COREBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "COREBOT_POSTGRES_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "COREBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COREBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COREBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COREBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COREBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COREBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "COREBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "COREBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "COREBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "COREBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COREBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COREBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COREBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COREBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COREBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "COREBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COREBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "COREBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COREBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COREBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COREBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COREBOT_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.ArchiveEnabled, "COREBOT_S3_ARCHIVE_ENABLED")
	setInt(&cfg.S3.RetentionDays, "COREBOT_S3_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COREBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COREBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COREBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COREBOT_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "COREBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "COREBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "COREBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.ApiKey, "COREBOT_SERVER_API_KEY")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "COREBOT_METRICS_ENABLED")

	// ── Top-level ──
	setStr(&cfg.Mode, "COREBOT_MODE")
	setStr(&cfg.LogLevel, "COREBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
