package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/fairstake/tickets/internal/blob/s3"
	"github.com/fairstake/tickets/internal/cache/redis"
	"github.com/fairstake/tickets/internal/config"
	"github.com/fairstake/tickets/internal/crypto"
	"github.com/fairstake/tickets/internal/domain"
	"github.com/fairstake/tickets/internal/journal"
	"github.com/fairstake/tickets/internal/lock"
	"github.com/fairstake/tickets/internal/notify"
	"github.com/fairstake/tickets/internal/oracle"
	"github.com/fairstake/tickets/internal/server/handler"
	"github.com/fairstake/tickets/internal/service"
	"github.com/fairstake/tickets/internal/store/postgres"
)

// Dependencies bundles what the run modes need. Optional backends are nil
// when disabled.
type Dependencies struct {
	Platform *service.Platform

	LedgerEvents domain.LedgerEventStore
	Audit        domain.AuditStore

	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier
	Checks   map[string]handler.Check
}

// Sinks returns the journal sinks for the configured backends, in delivery
// order.
func (d *Dependencies) Sinks() []journal.Sink {
	var sinks []journal.Sink
	if d.LedgerEvents != nil {
		sinks = append(sinks, journal.SinkFunc{SinkName: "postgres", Fn: d.LedgerEvents.AppendBatch})
	}
	if d.SignalBus != nil {
		sinks = append(sinks, redis.NewLedgerSink(d.SignalBus))
	}
	if d.Notifier != nil {
		sinks = append(sinks, d.Notifier)
	}
	return sinks
}

// Wire builds every dependency from cfg. The cleanup function releases them
// in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: map[string]handler.Check{}}
	var base uint64

	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
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
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		events := postgres.NewLedgerEventStore(pg.Pool())
		// Continue numbering after earlier runs so stored rows stay unique.
		if base, err = events.LastSeq(ctx); err != nil {
			return fail("postgres last seq", err)
		}
		deps.LedgerEvents = events
		deps.Audit = postgres.NewAuditStore(pg.Pool())
		deps.Checks["postgres"] = pg.Ping
	}

	var (
		locks    domain.LockManager
		identity service.IdentityRegistry
	)
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		locks = lock.NewRetrying(redis.NewLockManager(rc), cfg.Redis.LockRetry.Duration)
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		if strings.EqualFold(cfg.Oracle.Identity, "redis") {
			identity = redis.NewWhitelist(rc)
		}
		deps.Checks["redis"] = rc.Ping
	}
	whitelist := addresses(cfg.Oracle.Whitelist)
	if identity == nil {
		identity = oracle.NewWhitelist(whitelist...)
	} else if len(whitelist) > 0 {
		if err := identity.Add(ctx, whitelist...); err != nil {
			return fail("seed whitelist", err)
		}
	}

	var uris domain.TicketURIProvider
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			PublicBaseURL:  cfg.S3.PublicBaseURL,
		})
		if err != nil {
			return fail("s3", err)
		}
		closers = append(closers, func() { _ = sc.Close() })
		writer := s3blob.NewWriter(sc)
		deps.BlobReader = s3blob.NewReader(sc)
		uris = s3blob.NewMetadataUploader(writer, deps.BlobReader, sc, cfg.S3.TicketImage)
		if deps.LedgerEvents != nil {
			deps.Archiver = s3blob.NewArchiver(writer, deps.LedgerEvents, deps.Audit)
		}
		deps.Checks["s3"] = sc.Health
	}

	rng, oracleAccount, err := randomness(cfg.Oracle, logger)
	if err != nil {
		return fail("randomness oracle", err)
	}

	platformCfg := service.Config{
		Admin:         common.HexToAddress(cfg.Chain.Admin),
		Treasury:      common.HexToAddress(cfg.Chain.Treasury),
		OracleAccount: oracleAccount,
	}
	if cfg.Chain.Operator != "" {
		platformCfg.FeePayer = common.HexToAddress(cfg.Chain.Operator)
	}
	if cfg.Chain.Resale != "" {
		platformCfg.Resale = common.HexToAddress(cfg.Chain.Resale)
	}
	if cfg.Oracle.FeeAccount != "" {
		platformCfg.OracleAccount = common.HexToAddress(cfg.Oracle.FeeAccount)
	}
	if platformCfg.OracleAccount == (domain.Address{}) {
		platformCfg.OracleAccount = platformCfg.Treasury
	}

	clock := domain.SystemClock{}
	deps.Platform = service.NewPlatform(platformCfg, service.Deps{
		Identity:   identity,
		Randomness: rng,
		URIs:       uris,
		Locks:      locks,
		Clock:      clock,
		Outbox:     journal.NewOutbox(base, clock),
	}, logger)

	deps.Notifier = notifier(cfg.Notify, logger)
	return deps, cleanup, nil
}

// randomness builds the configured oracle and the account that collects its
// fees. The deterministic oracle has no account of its own.
func randomness(cfg config.OracleConfig, logger *slog.Logger) (domain.RandomnessOracle, domain.Address, error) {
	fee, err := domain.ParseAmount(cfg.DrawFee)
	if err != nil {
		return nil, domain.Address{}, err
	}
	if !strings.EqualFold(cfg.Randomness, "vrf") {
		return oracle.NewDeterministic(common.HexToHash(cfg.Seed), fee, cfg.Manual), domain.Address{}, nil
	}
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.PrivateKey,
		EncryptedKeyPath: cfg.EncryptedKeyPath,
		KeyPassword:      cfg.KeyPassword,
	})
	if err != nil {
		return nil, domain.Address{}, err
	}
	vrf := oracle.NewVRF(crypto.NewProver(key), fee, cfg.RevealDelay.Duration, domain.SystemClock{}, logger)
	return vrf, vrf.Address(), nil
}

func notifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return nil
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}

func addresses(hex []string) []domain.Address {
	out := make([]domain.Address, 0, len(hex))
	for _, h := range hex {
		out = append(out, common.HexToAddress(h))
	}
	return out
}
