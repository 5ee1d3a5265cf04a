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
// built-in defaults, applies BINARB_* environment variable overrides, and
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

// applyEnvOverrides reads well-known BINARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "BINARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.SafeAddress, "BINARB_WALLET_SAFE_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "BINARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "BINARB_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "BINARB_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "BINARB_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "BINARB_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "BINARB_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "BINARB_POLYMARKET_SIGNATURE_TYPE")

	// ── Builder ──
	setStr(&cfg.Builder.ApiKey, "BINARB_BUILDER_API_KEY")
	setStr(&cfg.Builder.ApiSecret, "BINARB_BUILDER_API_SECRET")
	setStr(&cfg.Builder.ApiPassphrase, "BINARB_BUILDER_API_PASSPHRASE")

	// ── Database ──
	setStr(&cfg.Database.DSN, "BINARB_DATABASE_DSN")
	setStr(&cfg.Database.Host, "BINARB_DATABASE_HOST")
	setInt(&cfg.Database.Port, "BINARB_DATABASE_PORT")
	setStr(&cfg.Database.Database, "BINARB_DATABASE_NAME")
	setStr(&cfg.Database.User, "BINARB_DATABASE_USER")
	setStr(&cfg.Database.Password, "BINARB_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "BINARB_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "BINARB_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "BINARB_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "BINARB_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BINARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BINARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BINARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BINARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BINARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BINARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BINARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BINARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "BINARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BINARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BINARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BINARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BINARB_S3_FORCE_PATH_STYLE")

	// ── Arb ──
	setFloat64(&cfg.Arb.TotalBankroll, "BINARB_ARB_TOTAL_BANKROLL")
	setFloat64(&cfg.Arb.MaxBetSize, "BINARB_ARB_MAX_BET_SIZE")
	setFloat64(&cfg.Arb.MinProfitMargin, "BINARB_ARB_MIN_PROFIT_MARGIN")
	setFloat64(&cfg.Arb.MaxBankrollFraction, "BINARB_ARB_MAX_BANKROLL_FRACTION")
	setDuration(&cfg.Arb.ScanInterval, "BINARB_ARB_SCAN_INTERVAL")
	setBool(&cfg.Arb.WSEnabled, "BINARB_ARB_WS_ENABLED")
	setStringSlice(&cfg.Arb.Assets, "BINARB_ARB_ASSETS")
	setStringSlice(&cfg.Arb.Durations, "BINARB_ARB_DURATIONS")
	setBool(&cfg.Arb.DryRun, "BINARB_ARB_DRY_RUN")
	setDuration(&cfg.Arb.FreshnessTTL, "BINARB_ARB_FRESHNESS_TTL")
	setDuration(&cfg.Arb.ReservationTTL, "BINARB_ARB_RESERVATION_TTL")
	setDuration(&cfg.Arb.MaxImbalanceMs, "BINARB_ARB_MAX_IMBALANCE_MS")
	setFloat64(&cfg.Arb.FeeReserveBps, "BINARB_ARB_FEE_RESERVE_BPS")
	setInt(&cfg.Arb.MaxLevelsWalked, "BINARB_ARB_MAX_LEVELS_WALKED")
	setDuration(&cfg.Arb.DryRunFillDelay, "BINARB_ARB_DRY_RUN_FILL_DELAY")
	setInt64(&cfg.Arb.MaxImbalanceUnits, "BINARB_ARB_MAX_IMBALANCE_UNITS")
	setFloat64(&cfg.Arb.MinNotionalUSD, "BINARB_ARB_MIN_NOTIONAL_USD")
	setFloat64(&cfg.Arb.MinOrderSizeShares, "BINARB_ARB_MIN_ORDER_SIZE_SHARES")
	setInt(&cfg.Arb.Workers, "BINARB_ARB_WORKERS")
	setInt64(&cfg.Arb.PollConcurrency, "BINARB_ARB_POLL_CONCURRENCY")
	setFloat64(&cfg.Arb.PollRatePerSecond, "BINARB_ARB_POLL_RATE_PER_SECOND")
	setDuration(&cfg.Arb.AckTimeout, "BINARB_ARB_ACK_TIMEOUT")
	setDuration(&cfg.Arb.HedgeTimeout, "BINARB_ARB_HEDGE_TIMEOUT")
	setInt64(&cfg.Arb.MaxSlippageTicks, "BINARB_ARB_MAX_SLIPPAGE_TICKS")
	setInt(&cfg.Arb.MaxEscalations, "BINARB_ARB_MAX_ESCALATIONS")
	setInt(&cfg.Arb.CircuitFailThreshold, "BINARB_ARB_CIRCUIT_FAIL_THRESHOLD")
	setDuration(&cfg.Arb.CircuitWindow, "BINARB_ARB_CIRCUIT_WINDOW")
	setDuration(&cfg.Arb.CircuitCooldown, "BINARB_ARB_CIRCUIT_COOLDOWN")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BINARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BINARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BINARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BINARB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitRequests, "BINARB_SERVER_RATE_LIMIT_REQUESTS")
	setDuration(&cfg.Server.RateLimitWindow, "BINARB_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BINARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BINARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BINARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BINARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BINARB_MODE")
	setStr(&cfg.LogLevel, "BINARB_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
