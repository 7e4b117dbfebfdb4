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
// built-in defaults, applies DEXFEED_* environment variable overrides, and
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

// applyEnvOverrides reads well-known DEXFEED_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── XRPL ──
	setStringSlice(&cfg.XRPL.Endpoints, "DEXFEED_XRPL_ENDPOINTS")
	setDuration(&cfg.XRPL.RequestTimeout, "DEXFEED_XRPL_REQUEST_TIMEOUT")
	setDuration(&cfg.XRPL.HandshakeTimeout, "DEXFEED_XRPL_HANDSHAKE_TIMEOUT")

	// ── Feed ──
	setStringSlice(&cfg.Feed.Pairs, "DEXFEED_FEED_PAIRS")
	setDuration(&cfg.Feed.PollInterval, "DEXFEED_FEED_POLL_INTERVAL")
	setInt(&cfg.Feed.PageCap, "DEXFEED_FEED_PAGE_CAP")
	setInt(&cfg.Feed.PageSize, "DEXFEED_FEED_PAGE_SIZE")
	setFloat64(&cfg.Feed.DustMinQuote, "DEXFEED_FEED_DUST_MIN_QUOTE")
	setFloat64(&cfg.Feed.BidMaxBaseSize, "DEXFEED_FEED_BID_MAX_BASE_SIZE")
	setFloat64(&cfg.Feed.Materiality, "DEXFEED_FEED_MATERIALITY")
	setInt(&cfg.Feed.TapeCapacity, "DEXFEED_FEED_TAPE_CAPACITY")
	setInt(&cfg.Feed.StallAfter, "DEXFEED_FEED_STALL_AFTER")
	setBool(&cfg.Feed.Streaming, "DEXFEED_FEED_STREAMING")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DEXFEED_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DEXFEED_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEXFEED_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEXFEED_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEXFEED_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEXFEED_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEXFEED_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.SnapshotTTL, "DEXFEED_REDIS_SNAPSHOT_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "DEXFEED_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DEXFEED_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DEXFEED_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEXFEED_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEXFEED_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEXFEED_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEXFEED_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEXFEED_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEXFEED_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEXFEED_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEXFEED_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DEXFEED_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DEXFEED_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEXFEED_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEXFEED_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEXFEED_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEXFEED_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DEXFEED_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DEXFEED_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setDuration(&cfg.Archive.Cutoff, "DEXFEED_ARCHIVE_CUTOFF")
	setDuration(&cfg.Archive.Interval, "DEXFEED_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DEXFEED_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DEXFEED_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DEXFEED_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DEXFEED_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "DEXFEED_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "DEXFEED_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEXFEED_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEXFEED_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEXFEED_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEXFEED_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEXFEED_MODE")
	setStr(&cfg.LogLevel, "DEXFEED_LOG_LEVEL")
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
