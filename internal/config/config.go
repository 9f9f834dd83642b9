// Package config defines the top-level configuration for the DLMM keeper and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DLMMKEEPER_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Solana    SolanaConfig    `toml:"solana"`
	Oracle    OracleConfig    `toml:"oracle"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Risk      RiskConfig      `toml:"risk"`
	Rebalance RebalanceConfig `toml:"rebalance"`
	Triggers  TriggersConfig  `toml:"triggers"`
	Passive   PassiveConfig   `toml:"passive"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the controlled wallet's credentials and delegation
// limits. The raw key never leaves this process.
type WalletConfig struct {
	PrivateKey       string   `toml:"private_key"` // base58; prefer encrypted_key_path
	PublicKey        string   `toml:"public_key"`  // read-only modes only
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	DelegateExpiry   string   `toml:"delegate_expiry"` // RFC3339; empty = no expiry
	MaxTxValueUSD    float64  `toml:"max_tx_value_usd"`
	Permissions      []string `toml:"permissions"` // rebalance, reduce, close, claim, compound
}

// SolanaConfig holds RPC and DLMM API endpoints.
type SolanaConfig struct {
	RPCEndpoint    string   `toml:"rpc_endpoint"`
	DLMMAPIHost    string   `toml:"dlmm_api_host"`
	Commitment     string   `toml:"commitment"`
	PriorityFee    uint64   `toml:"priority_fee_microlamports"`
	SubmitRetries  int      `toml:"submit_retries"`
	RetryBackoff   duration `toml:"retry_backoff"`
	ConfirmTimeout duration `toml:"confirm_timeout"`
}

// OracleConfig holds the price oracle endpoints.
type OracleConfig struct {
	HTTPHost       string   `toml:"http_host"`
	WsHost         string   `toml:"ws_host"`
	StableBand     float64  `toml:"stable_band"` // tolerance around $1.00
	NativeMint     string   `toml:"native_mint"`
	RequestTimeout duration `toml:"request_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	RunMigrations  bool     `toml:"run_migrations"`
	AuditRetention duration `toml:"audit_retention"` // zero disables pruning
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

// S3Config holds S3-compatible object storage parameters for the
// closed-position archive.
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

// RiskConfig holds the circuit-breaker parameters.
type RiskConfig struct {
	Interval             duration `toml:"interval"`
	Cooldown             duration `toml:"cooldown"`
	DrawdownThresholdPct float64  `toml:"drawdown_threshold_pct"`
	ReductionBps         uint16   `toml:"reduction_bps"`
	VolumeWindow         int      `toml:"volume_window"`
	VolumeCollapseRatio  float64  `toml:"volume_collapse_ratio"`
}

// RebalanceConfig holds the range-exit rebalancer parameters.
type RebalanceConfig struct {
	Interval       duration `toml:"interval"`
	Cooldown       duration `toml:"cooldown"`
	RangeWidth     int32    `toml:"range_width_bins"`
	EdgeWarningPct float64  `toml:"edge_warning_pct"`
}

// TriggersConfig holds the take-profit / stop-loss monitor parameters.
type TriggersConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// PassiveConfig holds the background claim / compound schedules.
type PassiveConfig struct {
	ClaimEnabled     bool     `toml:"claim_enabled"`
	ClaimInterval    duration `toml:"claim_interval"`
	CompoundEnabled  bool     `toml:"compound_enabled"`
	CompoundInterval duration `toml:"compound_interval"`
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

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Wallet: WalletConfig{
			MaxTxValueUSD: 0, // 0 = uncapped
			Permissions:   []string{"rebalance", "reduce", "close", "claim", "compound"},
		},
		Solana: SolanaConfig{
			RPCEndpoint:    "https://api.mainnet-beta.solana.com",
			DLMMAPIHost:    "https://dlmm-api.meteora.ag",
			Commitment:     "confirmed",
			PriorityFee:    10_000,
			SubmitRetries:  3,
			RetryBackoff:   duration{2 * time.Second},
			ConfirmTimeout: duration{60 * time.Second},
		},
		Oracle: OracleConfig{
			HTTPHost:       "https://lite-api.jup.ag/price/v3",
			StableBand:     0.05,
			NativeMint:     "So11111111111111111111111111111111111111112",
			RequestTimeout: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "dlmmkeeper",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			RunMigrations:  true,
			AuditRetention: duration{30 * 24 * time.Hour},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dlmmkeeper-archive",
			ForcePathStyle: true,
		},
		Risk: RiskConfig{
			Interval:             duration{1 * time.Minute},
			Cooldown:             duration{10 * time.Minute},
			DrawdownThresholdPct: 15.0,
			ReductionBps:         5000,
			VolumeWindow:         12,
			VolumeCollapseRatio:  0.5,
		},
		Rebalance: RebalanceConfig{
			Interval:       duration{30 * time.Second},
			Cooldown:       duration{5 * time.Minute},
			RangeWidth:     69,
			EdgeWarningPct: 30.0,
		},
		Triggers: TriggersConfig{
			Enabled:  true,
			Interval: duration{20 * time.Second},
		},
		Passive: PassiveConfig{
			ClaimEnabled:     true,
			ClaimInterval:    duration{3 * time.Hour},
			CompoundEnabled:  true,
			CompoundInterval: duration{1 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"breaker_tripped", "rebalanced", "trigger_fired", "error"},
		},
		Mode:     "keeper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"keeper":    true,
	"monitor":   true,
	"close-all": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validPermissions enumerates the accepted delegation permission names.
var validPermissions = map[string]bool{
	"rebalance": true,
	"reduce":    true,
	"close":     true,
	"claim":     true,
	"compound":  true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: keeper, monitor, close-all)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: every mode submits transactions except monitor, which only
	// needs an address to observe.
	if strings.ToLower(c.Mode) != "monitor" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	} else {
		if c.Wallet.PublicKey == "" && c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: public_key (or key material) is required for mode monitor")
		}
	}
	for _, p := range c.Wallet.Permissions {
		if !validPermissions[p] {
			errs = append(errs, fmt.Sprintf("wallet: unknown permission %q", p))
		}
	}
	if c.Wallet.DelegateExpiry != "" {
		if _, err := time.Parse(time.RFC3339, c.Wallet.DelegateExpiry); err != nil {
			errs = append(errs, "wallet: delegate_expiry must be RFC3339: "+err.Error())
		}
	}

	if c.Solana.RPCEndpoint == "" {
		errs = append(errs, "solana: rpc_endpoint must not be empty")
	}
	if c.Solana.DLMMAPIHost == "" {
		errs = append(errs, "solana: dlmm_api_host must not be empty")
	}
	if c.Solana.SubmitRetries < 0 {
		errs = append(errs, "solana: submit_retries must not be negative")
	}

	if c.Oracle.HTTPHost == "" {
		errs = append(errs, "oracle: http_host must not be empty")
	}
	if c.Oracle.StableBand <= 0 || c.Oracle.StableBand >= 1 {
		errs = append(errs, fmt.Sprintf("oracle: stable_band must be in (0, 1), got %v", c.Oracle.StableBand))
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port %d out of range", c.Postgres.Port))
		}
	}
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when s3 is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when s3 is enabled")
		}
	}

	if c.Risk.DrawdownThresholdPct <= 0 || c.Risk.DrawdownThresholdPct >= 100 {
		errs = append(errs, fmt.Sprintf("risk: drawdown_threshold_pct must be in (0, 100), got %v", c.Risk.DrawdownThresholdPct))
	}
	if c.Risk.ReductionBps == 0 || c.Risk.ReductionBps > 10_000 {
		errs = append(errs, fmt.Sprintf("risk: reduction_bps must be in (0, 10000], got %d", c.Risk.ReductionBps))
	}
	if c.Risk.Interval.Duration <= 0 {
		errs = append(errs, "risk: interval must be positive")
	}

	if c.Rebalance.RangeWidth <= 0 {
		errs = append(errs, fmt.Sprintf("rebalance: range_width_bins must be positive, got %d", c.Rebalance.RangeWidth))
	}
	if c.Rebalance.Interval.Duration <= 0 {
		errs = append(errs, "rebalance: interval must be positive")
	}
	if c.Rebalance.EdgeWarningPct < 0 || c.Rebalance.EdgeWarningPct > 50 {
		errs = append(errs, fmt.Sprintf("rebalance: edge_warning_pct must be in [0, 50], got %v", c.Rebalance.EdgeWarningPct))
	}

	if c.Triggers.Enabled && c.Triggers.Interval.Duration <= 0 {
		errs = append(errs, "triggers: interval must be positive when enabled")
	}
	if c.Passive.ClaimEnabled && c.Passive.ClaimInterval.Duration <= 0 {
		errs = append(errs, "passive: claim_interval must be positive when enabled")
	}
	if c.Passive.CompoundEnabled && c.Passive.CompoundInterval.Duration <= 0 {
		errs = append(errs, "passive: compound_interval must be positive when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
