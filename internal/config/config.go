// Package config defines the top-level configuration for the feed and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by DEXFEED_* environment
// variables.
type Config struct {
	XRPL     XRPLConfig     `toml:"xrpl"`
	Feed     FeedConfig     `toml:"feed"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// XRPLConfig holds ledger node endpoints and RPC timing.
type XRPLConfig struct {
	// Endpoints are candidate WebSocket URLs in preference order. The
	// client rotates through them on connection failure.
	Endpoints        []string `toml:"endpoints"`
	RequestTimeout   duration `toml:"request_timeout"`
	HandshakeTimeout duration `toml:"handshake_timeout"`
}

// FeedConfig tunes the per-pair polling pipeline.
type FeedConfig struct {
	// Pairs tracked at startup, as "BASE.issuer-QUOTE.issuer" strings
	// (XRP carries no issuer). More can be added over the API.
	Pairs []string `toml:"pairs"`

	PollInterval duration `toml:"poll_interval"`
	PageCap      int      `toml:"page_cap"`
	PageSize     int      `toml:"page_size"`

	DustMinQuote   float64 `toml:"dust_min_quote"`
	BidMaxBaseSize float64 `toml:"bid_max_base_size"`
	Materiality    float64 `toml:"materiality"`

	TapeCapacity int `toml:"tape_capacity"`

	// StallAfter is the consecutive-failure count that flags a pair as
	// stalled (log + notification).
	StallAfter int `toml:"stall_after"`

	// Streaming subscribes to live issuer transactions on top of polling,
	// so trades land between ticks on nodes that support it.
	Streaming bool `toml:"streaming"`
}

// RedisConfig holds Redis connection parameters for the snapshot cache and
// signal bus.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// PostgresConfig holds trade journal connection parameters.
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

// S3Config holds S3-compatible object storage parameters for the tape
// archiver. Archiving also requires the Postgres journal.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig tunes the journal-to-S3 sweep.
type ArchiveConfig struct {
	// Cutoff is how far back rows must be to get archived.
	Cutoff duration `toml:"cutoff"`

	// Interval between sweeps in feed mode. Archive mode runs one sweep
	// and exits regardless.
	Interval duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimit caps requests per client IP per RateLimitWindow. It only
	// takes effect when Redis is enabled. Zero disables it.
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

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values. These
// match the values in config.example.toml.
func Defaults() Config {
	return Config{
		XRPL: XRPLConfig{
			Endpoints: []string{
				"wss://xrplcluster.com",
				"wss://s1.ripple.com",
				"wss://s2.ripple.com",
			},
			RequestTimeout:   duration{6 * time.Second},
			HandshakeTimeout: duration{15 * time.Second},
		},
		Feed: FeedConfig{
			PollInterval:   duration{4 * time.Second},
			PageCap:        4,
			PageSize:       60,
			DustMinQuote:   0.01,
			BidMaxBaseSize: 10_000_000,
			Materiality:    1e-6,
			TapeCapacity:   100,
			StallAfter:     5,
			Streaming:      false,
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			DB:          0,
			PoolSize:    20,
			MaxRetries:  3,
			TLSEnabled:  false,
			SnapshotTTL: duration{60 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "xrpldexfeed",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dexfeed-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Cutoff:   duration{720 * time.Hour},
			Interval: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"endpoint_failover", "pair_stalled", "archive_completed"},
		},
		Mode:     "feed",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"feed":    true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: feed, archive)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// XRPL
	if len(c.XRPL.Endpoints) == 0 {
		errs = append(errs, "xrpl: endpoints must not be empty")
	}
	for _, ep := range c.XRPL.Endpoints {
		if !strings.HasPrefix(ep, "wss://") && !strings.HasPrefix(ep, "ws://") {
			errs = append(errs, fmt.Sprintf("xrpl: endpoint %q must start with ws:// or wss://", ep))
		}
	}
	if c.XRPL.RequestTimeout.Duration <= 0 {
		errs = append(errs, "xrpl: request_timeout must be > 0")
	}
	if c.XRPL.HandshakeTimeout.Duration <= 0 {
		errs = append(errs, "xrpl: handshake_timeout must be > 0")
	}

	// Feed
	if c.Feed.PollInterval.Duration < time.Second {
		errs = append(errs, "feed: poll_interval must be >= 1s")
	}
	if c.Feed.PageCap < 3 || c.Feed.PageCap > 5 {
		errs = append(errs, fmt.Sprintf("feed: page_cap must be 3-5, got %d", c.Feed.PageCap))
	}
	if c.Feed.PageSize < 1 {
		errs = append(errs, "feed: page_size must be >= 1")
	}
	if c.Feed.DustMinQuote < 0 {
		errs = append(errs, "feed: dust_min_quote must be >= 0")
	}
	if c.Feed.BidMaxBaseSize < 0 {
		errs = append(errs, "feed: bid_max_base_size must be >= 0")
	}
	if c.Feed.TapeCapacity < 1 {
		errs = append(errs, "feed: tape_capacity must be >= 1")
	}
	if c.Feed.StallAfter < 1 {
		errs = append(errs, "feed: stall_after must be >= 1")
	}
	for _, p := range c.Feed.Pairs {
		if !strings.Contains(p, "-") {
			errs = append(errs, fmt.Sprintf("feed: pair %q must be of the form base-quote", p))
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
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
	}

	// S3
	if c.S3.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archiving requires postgres.enabled (the journal is the archive source)")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Archive
	if c.Archive.Cutoff.Duration <= 0 {
		errs = append(errs, "archive: cutoff must be > 0")
	}
	if c.Archive.Interval.Duration <= 0 {
		errs = append(errs, "archive: interval must be > 0")
	}
	if strings.ToLower(c.Mode) == "archive" && (!c.Postgres.Enabled || !c.S3.Enabled) {
		errs = append(errs, "mode archive requires postgres.enabled and s3.enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
