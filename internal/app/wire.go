package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	s3blob "github.com/solwheel/dlmmkeeper/internal/blob/s3"
	"github.com/solwheel/dlmmkeeper/internal/cache/redis"
	"github.com/solwheel/dlmmkeeper/internal/config"
	"github.com/solwheel/dlmmkeeper/internal/domain"
	"github.com/solwheel/dlmmkeeper/internal/feed"
	"github.com/solwheel/dlmmkeeper/internal/notify"
	"github.com/solwheel/dlmmkeeper/internal/oracle"
	"github.com/solwheel/dlmmkeeper/internal/store/postgres"
	"github.com/solwheel/dlmmkeeper/internal/venue/dlmm"
	"github.com/solwheel/dlmmkeeper/internal/wallet"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	AuditStore    domain.AuditStore
	AuditLog      *postgres.AuditStore // concrete handle for retention pruning

	// Caches and coordination
	PriceCache domain.PriceCache
	PoolCache  domain.PoolCache
	SignalBus  domain.SignalBus
	Cooldowns  domain.CooldownGate

	// Blob storage; nil when the archive is disabled.
	Archiver *s3blob.Archiver

	// Chain access
	Venue     domain.VenueClient
	Submitter domain.TxSubmitter // nil in monitor mode
	Guard     *wallet.Guard      // nil in monitor mode
	Wallet    string             // base58 address the keeper operates for

	// Pricing
	Oracle *oracle.Client
	Feed   *feed.PriceFeed

	// Notifications
	Notifier *notify.Notifier
}

// needsWallet returns true for modes that sign and submit transactions.
func needsWallet(mode string) bool {
	return strings.ToLower(mode) != "monitor"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.AuditLog = postgres.NewAuditStore(pool)
	deps.AuditStore = deps.AuditLog

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.PoolCache = redis.NewPoolCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.Cooldowns = redis.NewCooldownGate(redisClient)

	// --- S3 closed-position archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), deps.AuditStore)
	}

	// --- Wallet ---
	rpcClient := rpc.New(cfg.Solana.RPCEndpoint)

	var payer solana.PublicKey
	if needsWallet(cfg.Mode) {
		key, err := wallet.LoadKey(wallet.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
		}
		signer := wallet.NewSigner(key)
		payer = signer.Address()

		deps.Submitter = dlmm.NewSubmitter(rpcClient, signer, dlmm.SubmitterConfig{
			Retries:        cfg.Solana.SubmitRetries,
			Backoff:        cfg.Solana.RetryBackoff.Duration,
			ConfirmTimeout: cfg.Solana.ConfirmTimeout.Duration,
		}, logger)

		allowed, err := wallet.ParseActions(cfg.Wallet.Permissions)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet permissions: %w", err)
		}
		var expiry time.Time
		if cfg.Wallet.DelegateExpiry != "" {
			expiry, err = time.Parse(time.RFC3339, cfg.Wallet.DelegateExpiry)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: wallet delegate_expiry: %w", err)
			}
		}
		deps.Guard = wallet.NewGuard(allowed, expiry, cfg.Wallet.MaxTxValueUSD)
	} else {
		payer, err = solana.PublicKeyFromBase58(cfg.Wallet.PublicKey)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet public_key: %w", err)
		}
	}
	deps.Wallet = payer.String()

	// --- Venue ---
	deps.Venue = dlmm.NewClient(dlmm.ClientConfig{
		APIHost:     cfg.Solana.DLMMAPIHost,
		PriorityFee: cfg.Solana.PriorityFee,
	}, rpcClient, deps.PoolCache, payer, logger)

	// --- Pricing ---
	deps.Oracle = oracle.New(cfg.Oracle.HTTPHost, cfg.Oracle.RequestTimeout.Duration, deps.PriceCache, logger)
	deps.Feed = feed.NewPriceFeed(cfg.Oracle.WsHost, deps.PriceCache, logger)
	deps.Feed.Watch(cfg.Oracle.NativeMint)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
