// Package config defines the top-level configuration for the core-building
// trading engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COREBOT_* environment variables.
type Config struct {
	Broker    BrokerConfig    `toml:"broker"`
	Trading   TradingConfig   `toml:"trading"`
	Sessions  SessionsConfig  `toml:"sessions"`
	Intervals IntervalsConfig `toml:"intervals"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Server    ServerConfig    `toml:"server"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// BrokerConfig holds brokerage gateway endpoints and credentials.
type BrokerConfig struct {
	BaseURL             string   `toml:"base_url"`
	WsURL               string   `toml:"ws_url"`
	ApiKey              string   `toml:"api_key"`
	ApiSecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	Account             string   `toml:"account"`
	Timeout             duration `toml:"timeout"`
	InitialCash         float64  `toml:"initial_cash"` // paper mode starting balance
}

// TradingConfig holds strategy sizing fractions, guardrail limits, and the
// symbol universe.
type TradingConfig struct {
	Symbols              []string           `toml:"symbols"`
	CoreWeights          map[string]float64 `toml:"core_weights"`
	OrderSizeFraction    float64            `toml:"order_size_fraction"`
	RetainFraction       float64            `toml:"retain_fraction"`
	MaxTotalInvested     float64            `toml:"max_total_invested"`
	MinCashReserve       float64            `toml:"min_cash_reserve"`
	MaxPositionBuffer    float64            `toml:"max_position_buffer"`
	ProfitTargetFraction float64            `toml:"profit_target_fraction"`
	CoreUnwindFraction   float64            `toml:"core_unwind_fraction"`
	CoreExposureFraction float64            `toml:"core_exposure_fraction"`
	MaxExposureFraction  float64            `toml:"max_exposure_fraction"`
	GapSellOffset        float64            `toml:"gap_sell_offset"`
	GapExitOffset        float64            `toml:"gap_exit_offset"`
	RSIPeriod            int                `toml:"rsi_period"`
	RSIOversold          float64            `toml:"rsi_oversold"`
	RSIOverbought        float64            `toml:"rsi_overbought"`
}

// SessionWindow is one trading session's wall-clock window and its
// end-of-session cancellation policy.
type SessionWindow struct {
	Start       clock `toml:"start"`
	End         clock `toml:"end"`
	CancelAtEnd bool  `toml:"cancel_at_end"`
}

// SessionsConfig holds the trading-day session windows and the cross-session
// resubmission policy.
type SessionsConfig struct {
	Timezone               string        `toml:"timezone"`
	Premarket              SessionWindow `toml:"premarket"`
	RTH                    SessionWindow `toml:"rth"`
	AfterHours             SessionWindow `toml:"afterhours"`
	ResubmitAcrossSessions bool          `toml:"resubmit_across_sessions"`
	ResubmitDelay          duration      `toml:"resubmit_delay"`
}

// IntervalsConfig holds the polling interval for each periodic engine task.
type IntervalsConfig struct {
	Core        duration `toml:"core"`
	Signal      duration `toml:"signal"`
	Gap         duration `toml:"gap"`
	Risk        duration `toml:"risk"`
	Performance duration `toml:"performance"`
	SessionPoll duration `toml:"session_poll"`
	OffHours    duration `toml:"off_hours"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the retention
// archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	ArchiveEnabled bool   `toml:"archive_enabled"`
	RetentionDays  int    `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	ApiKey      string   `toml:"api_key"`
}

// MetricsConfig holds Prometheus exposition parameters.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// clock is a wall-clock time of day ("HH:MM") with TOML string decoding.
type clock struct {
	Hour   int
	Minute int
}

// UnmarshalText parses "04:00" style clock strings.
func (c *clock) UnmarshalText(text []byte) error {
	var h, m int
	if _, err := fmt.Sscanf(string(text), "%d:%d", &h, &m); err != nil {
		return fmt.Errorf("config: invalid clock %q: %w", string(text), err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return fmt.Errorf("config: clock %q out of range", string(text))
	}
	c.Hour, c.Minute = h, m
	return nil
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (c clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c clock) minutes() int { return c.Hour*60 + c.Minute }

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			BaseURL:     "https://gateway.levtrade.io/v1",
			WsURL:       "wss://stream.levtrade.io/v1/orders",
			Account:     "main",
			Timeout:     duration{10 * time.Second},
			InitialCash: 100_000,
		},
		Trading: TradingConfig{
			Symbols: []string{"TSLL", "CURE", "NAIL"},
			CoreWeights: map[string]float64{
				"SOXL": 0.05,
				"TQQQ": 0.03,
				"UPRO": 0.02,
				"SPXL": 0.04,
			},
			OrderSizeFraction:    0.01,
			RetainFraction:       0.25,
			MaxTotalInvested:     0.80,
			MinCashReserve:       0.20,
			MaxPositionBuffer:    0.05,
			ProfitTargetFraction: 0.01,
			CoreUnwindFraction:   0.05,
			CoreExposureFraction: 0.05,
			MaxExposureFraction:  0.10,
			GapSellOffset:        0.005,
			GapExitOffset:        0.001,
			RSIPeriod:            7,
			RSIOversold:          30,
			RSIOverbought:        70,
		},
		Sessions: SessionsConfig{
			Timezone:               "America/New_York",
			Premarket:              SessionWindow{Start: clock{4, 0}, End: clock{9, 30}, CancelAtEnd: true},
			RTH:                    SessionWindow{Start: clock{9, 30}, End: clock{16, 0}, CancelAtEnd: true},
			AfterHours:             SessionWindow{Start: clock{16, 0}, End: clock{20, 0}, CancelAtEnd: true},
			ResubmitAcrossSessions: true,
			ResubmitDelay:          duration{5 * time.Second},
		},
		Intervals: IntervalsConfig{
			Core:        duration{60 * time.Second},
			Signal:      duration{300 * time.Second},
			Gap:         duration{60 * time.Second},
			Risk:        duration{300 * time.Second},
			Performance: duration{300 * time.Second},
			SessionPoll: duration{30 * time.Second},
			OffHours:    duration{300 * time.Second},
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "corebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "corebot-data",
			UseSSL:         false,
			ForcePathStyle: true,
			ArchiveEnabled: false,
			RetentionDays:  90,
		},
		Notify: NotifyConfig{
			Events: []string{
				"risk_transition", "core_unwind", "guardrail_denied",
				"order_rejected", "engine_started", "engine_stopped",
			},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Broker: live trading needs an endpoint and a credential source.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Broker.BaseURL == "" {
			errs = append(errs, "broker: base_url must not be empty for mode trade")
		}
		if c.Broker.ApiKey == "" {
			errs = append(errs, "broker: api_key is required for mode trade")
		}
		if c.Broker.ApiSecret == "" && c.Broker.EncryptedSecretPath == "" {
			errs = append(errs, "broker: either api_secret or encrypted_secret_path must be set for mode trade")
		}
	}
	if c.Broker.EncryptedSecretPath != "" && c.Broker.SecretPassword == "" {
		errs = append(errs, "broker: secret_password is required when encrypted_secret_path is set")
	}
	if c.Broker.Timeout.Duration <= 0 {
		errs = append(errs, "broker: timeout must be > 0")
	}
	if c.Broker.Account == "" {
		errs = append(errs, "broker: account must not be empty")
	}
	if c.Broker.InitialCash <= 0 {
		errs = append(errs, "broker: initial_cash must be > 0")
	}

	// Trading
	if len(c.Trading.Symbols) == 0 && len(c.Trading.CoreWeights) == 0 {
		errs = append(errs, "trading: at least one of symbols or core_weights must be set")
	}
	if c.Trading.OrderSizeFraction <= 0 || c.Trading.OrderSizeFraction > 1 {
		errs = append(errs, "trading: order_size_fraction must be in (0, 1]")
	}
	if c.Trading.RetainFraction <= 0 || c.Trading.RetainFraction > 1 {
		errs = append(errs, "trading: retain_fraction must be in (0, 1]")
	}
	if c.Trading.MaxTotalInvested <= 0 || c.Trading.MaxTotalInvested > 1 {
		errs = append(errs, "trading: max_total_invested must be in (0, 1]")
	}
	if c.Trading.MinCashReserve < 0 || c.Trading.MinCashReserve >= 1 {
		errs = append(errs, "trading: min_cash_reserve must be in [0, 1)")
	}
	if c.Trading.MaxPositionBuffer < 0 {
		errs = append(errs, "trading: max_position_buffer must be >= 0")
	}
	if c.Trading.ProfitTargetFraction <= 0 {
		errs = append(errs, "trading: profit_target_fraction must be > 0")
	}
	if c.Trading.CoreUnwindFraction <= 0 || c.Trading.CoreUnwindFraction > 1 {
		errs = append(errs, "trading: core_unwind_fraction must be in (0, 1]")
	}
	if c.Trading.CoreExposureFraction <= 0 {
		errs = append(errs, "trading: core_exposure_fraction must be > 0")
	}
	if c.Trading.MaxExposureFraction <= 0 {
		errs = append(errs, "trading: max_exposure_fraction must be > 0")
	}
	if c.Trading.GapSellOffset <= 0 || c.Trading.GapSellOffset >= 1 {
		errs = append(errs, "trading: gap_sell_offset must be in (0, 1)")
	}
	if c.Trading.GapExitOffset <= 0 || c.Trading.GapExitOffset >= 1 {
		errs = append(errs, "trading: gap_exit_offset must be in (0, 1)")
	}
	if c.Trading.RSIPeriod < 2 {
		errs = append(errs, "trading: rsi_period must be >= 2")
	}
	if c.Trading.RSIOversold >= c.Trading.RSIOverbought {
		errs = append(errs, "trading: rsi_oversold must be below rsi_overbought")
	}
	for sym, w := range c.Trading.CoreWeights {
		if w <= 0 || w > 1 {
			errs = append(errs, fmt.Sprintf("trading: core weight for %s must be in (0, 1], got %v", sym, w))
		}
	}

	// Sessions: windows must be ordered and non-overlapping.
	if c.Sessions.Timezone == "" {
		errs = append(errs, "sessions: timezone must not be empty")
	}
	windows := []struct {
		name string
		w    SessionWindow
	}{
		{"premarket", c.Sessions.Premarket},
		{"rth", c.Sessions.RTH},
		{"afterhours", c.Sessions.AfterHours},
	}
	for _, sw := range windows {
		if sw.w.Start.minutes() >= sw.w.End.minutes() {
			errs = append(errs, fmt.Sprintf("sessions: %s start %s must be before end %s", sw.name, sw.w.Start, sw.w.End))
		}
	}
	if c.Sessions.Premarket.End.minutes() > c.Sessions.RTH.Start.minutes() {
		errs = append(errs, "sessions: premarket must end at or before rth starts")
	}
	if c.Sessions.RTH.End.minutes() > c.Sessions.AfterHours.Start.minutes() {
		errs = append(errs, "sessions: rth must end at or before afterhours starts")
	}
	if c.Sessions.ResubmitDelay.Duration < 0 {
		errs = append(errs, "sessions: resubmit_delay must be >= 0")
	}

	// Intervals
	ivals := []struct {
		name string
		d    duration
	}{
		{"core", c.Intervals.Core},
		{"signal", c.Intervals.Signal},
		{"gap", c.Intervals.Gap},
		{"risk", c.Intervals.Risk},
		{"performance", c.Intervals.Performance},
		{"session_poll", c.Intervals.SessionPoll},
		{"off_hours", c.Intervals.OffHours},
	}
	for _, iv := range ivals {
		if iv.d.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("intervals: %s must be > 0", iv.name))
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}
	if c.S3.ArchiveEnabled && c.S3.RetentionDays < 1 {
		errs = append(errs, "s3: retention_days must be >= 1 when archiving is enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
