// Package config defines the root configuration for the arbitrage engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BINARB_* environment
// variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Builder    BuilderConfig    `toml:"builder"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Arb        ArbConfig        `toml:"arb"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	SafeAddress      string `toml:"safe_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
}

// BuilderConfig holds Polymarket builder-program API credentials, used for
// HMAC-authenticated order submission.
type BuilderConfig struct {
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// DatabaseConfig holds PostgreSQL connection parameters for the audit
// trail and execution record stores.
type DatabaseConfig struct {
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

// RedisConfig holds Redis connection parameters, used for the signal bus,
// cross-process book mirror, distributed lock, and rate limiter.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold-storage
// archival of orders and completed executions.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArbConfig tunes the detector, risk gate, execution engine, and feed
// ingestor. Field names follow spec §2's config block plus the additions
// named in the feed-freshness, leg-walking, and hedge-trigger sections.
type ArbConfig struct {
	// TotalBankroll is the process-wide available+reserved scalar the risk
	// gate sizes every reservation against.
	TotalBankroll float64 `toml:"total_bankroll"`
	// MaxBetSize is the per-opportunity ceiling, in USD-equivalent units.
	MaxBetSize float64 `toml:"max_bet_size"`
	// MinProfitMargin is the minimum (1 - ask_up - ask_down) required to
	// accept an opportunity, after the market's taker fee reserve.
	MinProfitMargin float64 `toml:"min_profit_margin"`
	// MaxBankrollFraction caps a single reservation as a fraction of
	// available bankroll.
	MaxBankrollFraction float64 `toml:"max_bankroll_fraction"`
	// ScanInterval is the poll-mode book refresh interval.
	ScanInterval duration `toml:"scan_interval"`
	// WSEnabled selects push (WebSocket) feed mode over REST polling.
	WSEnabled bool `toml:"ws_enabled"`
	// Assets lists underlying asset tickers (e.g. "BTC", "ETH"). It is
	// loaded but not read by any component; discovery is not filtered by it.
	Assets []string `toml:"assets"`
	// Durations lists market window durations (e.g. "1h", "1d"). It is
	// loaded but not read by any component; discovery is not filtered by it.
	Durations []string `toml:"durations"`
	// DryRun routes order submission through a simulated venue instead of
	// the live CLOB, using DryRunFillDelay to schedule synthetic fills.
	DryRun bool `toml:"dry_run"`
	// FreshnessTTL is the max book age the detector will evaluate.
	FreshnessTTL duration `toml:"freshness_ttl"`
	// ReservationTTL bounds how long a risk-gate reservation may stay open
	// before it is force-released.
	ReservationTTL duration `toml:"reservation_ttl"`
	// MaxImbalanceMs is the hedge window: how long one leg may sit filled
	// and unhedged before the executor submits a hedge order.
	MaxImbalanceMs duration `toml:"max_imbalance_ms"`
	// FeeReserveBps is loaded but not read by any component; the detector
	// computes its fee reserve from each market's FeeBpsTaker instead.
	FeeReserveBps float64 `toml:"fee_reserve_bps"`

	// MaxLevelsWalked is validated (>= 1) but not read by any component:
	// the detector sizes opportunities on the top of book only and does
	// not call arbitrage.WalkLevels.
	MaxLevelsWalked int `toml:"max_levels_walked"`
	// DryRunFillDelay is how long a simulated order takes to "fill" in
	// dry-run mode.
	DryRunFillDelay duration `toml:"dry_run_fill_delay"`
	// MaxImbalanceUnits is a secondary, size-based hedge trigger: if one
	// leg's filled size exceeds the other's by this many units, the
	// executor hedges immediately regardless of MaxImbalanceMs.
	MaxImbalanceUnits int64 `toml:"max_imbalance_units"`

	// MinNotionalUSD rejects opportunities sized below this floor once
	// capped by bankroll and depth.
	MinNotionalUSD float64 `toml:"min_notional_usd"`
	// MinOrderSizeShares is the detector's global floor on matched depth,
	// in shares. A market's own discovered minimum order size, when
	// nonzero, overrides this per market.
	MinOrderSizeShares float64 `toml:"min_order_size_shares"`
	// Workers bounds the detector's concurrent opportunity evaluations.
	Workers int `toml:"workers"`
	// PollConcurrency bounds in-flight REST requests in poll mode.
	PollConcurrency int64 `toml:"poll_concurrency"`
	// PollRatePerSecond caps REST requests/sec in poll mode.
	PollRatePerSecond float64 `toml:"poll_rate_per_second"`

	// AckTimeout bounds how long the executor waits for both legs to ack.
	AckTimeout duration `toml:"ack_timeout"`
	// HedgeTimeout bounds how long a hedge order itself is given to fill.
	HedgeTimeout duration `toml:"hedge_timeout"`
	// MaxSlippageTicks bounds repricing when escalating an unfilled leg.
	MaxSlippageTicks int64 `toml:"max_slippage_ticks"`
	// MaxEscalations bounds how many times a leg may be repriced.
	MaxEscalations int `toml:"max_escalations"`
	// CircuitFailThreshold trips the breaker after this many failures
	// within CircuitWindow.
	CircuitFailThreshold int `toml:"circuit_fail_threshold"`
	// CircuitWindow is the sliding window over which failures are counted.
	CircuitWindow duration `toml:"circuit_window"`
	// CircuitCooldown is how long the breaker stays open before a retry
	// is allowed.
	CircuitCooldown duration `toml:"circuit_cooldown"`
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

// ServerConfig holds HTTP status/API server parameters.
type ServerConfig struct {
	Enabled           bool     `toml:"enabled"`
	Port              int      `toml:"port"`
	CORSOrigins       []string `toml:"cors_origins"`
	APIKey            string   `toml:"api_key"`
	RateLimitRequests int      `toml:"rate_limit_requests"`
	RateLimitWindow   duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values,
// matching the tunables named in spec §3/§5.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:       137,
			SignatureType: 2,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
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
			Bucket:         "binarb-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Arb: ArbConfig{
			TotalBankroll:        1000.0,
			MaxBetSize:           25.0,
			MinProfitMargin:      0.01,
			MaxBankrollFraction:  0.05,
			ScanInterval:         duration{2 * time.Second},
			WSEnabled:            true,
			DryRun:               true,
			FreshnessTTL:         duration{2 * time.Second},
			ReservationTTL:       duration{10 * time.Second},
			MaxImbalanceMs:       duration{1500 * time.Millisecond},
			FeeReserveBps:        0,
			MaxLevelsWalked:      5,
			DryRunFillDelay:      duration{150 * time.Millisecond},
			MaxImbalanceUnits:    0,
			MinNotionalUSD:       1.0,
			MinOrderSizeShares:   5.0,
			Workers:              8,
			PollConcurrency:      8,
			PollRatePerSecond:    20,
			AckTimeout:           duration{2 * time.Second},
			HedgeTimeout:         duration{1 * time.Second},
			MaxSlippageTicks:     5,
			MaxEscalations:       2,
			CircuitFailThreshold: 5,
			CircuitWindow:        duration{60 * time.Second},
			CircuitCooldown:      duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled:           true,
			Port:              8000,
			CORSOrigins:       []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitRequests: 120,
			RateLimitWindow:   duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity_detected", "order_filled", "execution_completed", "error"},
		},
		Mode:     "arbitrage",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"arbitrage": true,
	"monitor":   true,
	"server":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: arbitrage, monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	needsWallet := strings.ToLower(c.Mode) == "arbitrage" && !c.Arb.DryRun
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set when dry_run is false")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Arb.WSEnabled && c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty when arb.ws_enabled is true")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 1 (EOA) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}

	bk := c.Builder.ApiKey != ""
	bs := c.Builder.ApiSecret != ""
	bp := c.Builder.ApiPassphrase != ""
	if (bk || bs || bp) && !(bk && bs && bp) {
		errs = append(errs, "builder: api_key, api_secret, and api_passphrase must all be set together")
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	if c.Arb.TotalBankroll <= 0 {
		errs = append(errs, "arb: total_bankroll must be > 0")
	}
	if c.Arb.MaxBetSize <= 0 {
		errs = append(errs, "arb: max_bet_size must be > 0")
	}
	if c.Arb.MinProfitMargin <= 0 {
		errs = append(errs, "arb: min_profit_margin must be > 0")
	}
	if c.Arb.MaxBankrollFraction <= 0 || c.Arb.MaxBankrollFraction > 1 {
		errs = append(errs, "arb: max_bankroll_fraction must be in (0, 1]")
	}
	if c.Arb.ScanInterval.Duration <= 0 {
		errs = append(errs, "arb: scan_interval must be > 0")
	}
	if c.Arb.FreshnessTTL.Duration <= 0 {
		errs = append(errs, "arb: freshness_ttl must be > 0")
	}
	if c.Arb.ReservationTTL.Duration <= 0 {
		errs = append(errs, "arb: reservation_ttl must be > 0")
	}
	if c.Arb.MaxLevelsWalked < 1 {
		errs = append(errs, "arb: max_levels_walked must be >= 1")
	}

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
