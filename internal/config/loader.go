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
// built-in defaults, applies DLMMKEEPER_* environment variable overrides, and
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

// applyEnvOverrides reads well-known DLMMKEEPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "DLMMKEEPER_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PublicKey, "DLMMKEEPER_WALLET_PUBLIC_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "DLMMKEEPER_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "DLMMKEEPER_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.DelegateExpiry, "DLMMKEEPER_WALLET_DELEGATE_EXPIRY")
	setFloat64(&cfg.Wallet.MaxTxValueUSD, "DLMMKEEPER_WALLET_MAX_TX_VALUE_USD")
	setStringSlice(&cfg.Wallet.Permissions, "DLMMKEEPER_WALLET_PERMISSIONS")

	// ── Solana ──
	setStr(&cfg.Solana.RPCEndpoint, "DLMMKEEPER_SOLANA_RPC_ENDPOINT")
	setStr(&cfg.Solana.DLMMAPIHost, "DLMMKEEPER_SOLANA_DLMM_API_HOST")
	setStr(&cfg.Solana.Commitment, "DLMMKEEPER_SOLANA_COMMITMENT")
	setUint64(&cfg.Solana.PriorityFee, "DLMMKEEPER_SOLANA_PRIORITY_FEE")
	setInt(&cfg.Solana.SubmitRetries, "DLMMKEEPER_SOLANA_SUBMIT_RETRIES")
	setDuration(&cfg.Solana.RetryBackoff, "DLMMKEEPER_SOLANA_RETRY_BACKOFF")
	setDuration(&cfg.Solana.ConfirmTimeout, "DLMMKEEPER_SOLANA_CONFIRM_TIMEOUT")

	// ── Oracle ──
	setStr(&cfg.Oracle.HTTPHost, "DLMMKEEPER_ORACLE_HTTP_HOST")
	setStr(&cfg.Oracle.WsHost, "DLMMKEEPER_ORACLE_WS_HOST")
	setFloat64(&cfg.Oracle.StableBand, "DLMMKEEPER_ORACLE_STABLE_BAND")
	setStr(&cfg.Oracle.NativeMint, "DLMMKEEPER_ORACLE_NATIVE_MINT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DLMMKEEPER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DLMMKEEPER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DLMMKEEPER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DLMMKEEPER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DLMMKEEPER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DLMMKEEPER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DLMMKEEPER_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DLMMKEEPER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DLMMKEEPER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DLMMKEEPER_POSTGRES_RUN_MIGRATIONS")
	setDuration(&cfg.Postgres.AuditRetention, "DLMMKEEPER_POSTGRES_AUDIT_RETENTION")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DLMMKEEPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DLMMKEEPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DLMMKEEPER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DLMMKEEPER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DLMMKEEPER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DLMMKEEPER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DLMMKEEPER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DLMMKEEPER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DLMMKEEPER_S3_REGION")
	setStr(&cfg.S3.Bucket, "DLMMKEEPER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DLMMKEEPER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DLMMKEEPER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DLMMKEEPER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DLMMKEEPER_S3_FORCE_PATH_STYLE")

	// ── Risk ──
	setDuration(&cfg.Risk.Interval, "DLMMKEEPER_RISK_INTERVAL")
	setDuration(&cfg.Risk.Cooldown, "DLMMKEEPER_RISK_COOLDOWN")
	setFloat64(&cfg.Risk.DrawdownThresholdPct, "DLMMKEEPER_RISK_DRAWDOWN_THRESHOLD_PCT")
	setUint16(&cfg.Risk.ReductionBps, "DLMMKEEPER_RISK_REDUCTION_BPS")
	setInt(&cfg.Risk.VolumeWindow, "DLMMKEEPER_RISK_VOLUME_WINDOW")
	setFloat64(&cfg.Risk.VolumeCollapseRatio, "DLMMKEEPER_RISK_VOLUME_COLLAPSE_RATIO")

	// ── Rebalance ──
	setDuration(&cfg.Rebalance.Interval, "DLMMKEEPER_REBALANCE_INTERVAL")
	setDuration(&cfg.Rebalance.Cooldown, "DLMMKEEPER_REBALANCE_COOLDOWN")
	setInt32(&cfg.Rebalance.RangeWidth, "DLMMKEEPER_REBALANCE_RANGE_WIDTH_BINS")
	setFloat64(&cfg.Rebalance.EdgeWarningPct, "DLMMKEEPER_REBALANCE_EDGE_WARNING_PCT")

	// ── Triggers ──
	setBool(&cfg.Triggers.Enabled, "DLMMKEEPER_TRIGGERS_ENABLED")
	setDuration(&cfg.Triggers.Interval, "DLMMKEEPER_TRIGGERS_INTERVAL")

	// ── Passive ──
	setBool(&cfg.Passive.ClaimEnabled, "DLMMKEEPER_PASSIVE_CLAIM_ENABLED")
	setDuration(&cfg.Passive.ClaimInterval, "DLMMKEEPER_PASSIVE_CLAIM_INTERVAL")
	setBool(&cfg.Passive.CompoundEnabled, "DLMMKEEPER_PASSIVE_COMPOUND_ENABLED")
	setDuration(&cfg.Passive.CompoundInterval, "DLMMKEEPER_PASSIVE_COMPOUND_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DLMMKEEPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DLMMKEEPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DLMMKEEPER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DLMMKEEPER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DLMMKEEPER_MODE")
	setStr(&cfg.LogLevel, "DLMMKEEPER_LOG_LEVEL")
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

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setUint16(dst *uint16, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			*dst = uint16(n)
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
