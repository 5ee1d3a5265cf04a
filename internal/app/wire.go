package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/northbeam/binarb/internal/arbitrage"
	s3blob "github.com/northbeam/binarb/internal/blob/s3"
	"github.com/northbeam/binarb/internal/book"
	"github.com/northbeam/binarb/internal/cache/redis"
	"github.com/northbeam/binarb/internal/clockwork"
	"github.com/northbeam/binarb/internal/config"
	"github.com/northbeam/binarb/internal/crypto"
	"github.com/northbeam/binarb/internal/discovery"
	"github.com/northbeam/binarb/internal/domain"
	"github.com/northbeam/binarb/internal/eventbus"
	"github.com/northbeam/binarb/internal/executor"
	"github.com/northbeam/binarb/internal/feed"
	"github.com/northbeam/binarb/internal/notify"
	"github.com/northbeam/binarb/internal/platform/polymarket"
	"github.com/northbeam/binarb/internal/registry"
	"github.com/northbeam/binarb/internal/risk"
	"github.com/northbeam/binarb/internal/server"
	"github.com/northbeam/binarb/internal/server/handler"
	"github.com/northbeam/binarb/internal/server/ws"
	"github.com/northbeam/binarb/internal/service"
	"github.com/northbeam/binarb/internal/store/postgres"
)

// Dependencies is the fully wired set of components the app's mode runners
// drive. Nothing outside Wire constructs these; mode runners only call
// methods on them.
type Dependencies struct {
	Clock    clockwork.Clock
	Registry *registry.Registry
	Books    *book.Store
	Bus      *eventbus.Bus
	Risk     *risk.Gate
	Detector *arbitrage.Detector
	Recent   *arbitrage.RecentFeed
	Executor *executor.Engine
	Feed     domain.FeedConnector
	Discover *discovery.StaticClient

	Orders   *service.OrderService
	Notifier *notify.Notifier
	Archiver *s3blob.ArchiveImpl

	Server    *server.Server
	WSHub     *ws.Hub
	SignalBus domain.SignalBus

	Postgres *postgres.Client
	Redis    *redis.Client
	S3       *s3blob.Client
}

// Wire constructs every component named above from cfg, in dependency
// order, and returns a cleanup func that tears down external connections
// in reverse order. Callers must invoke cleanup exactly once, typically via
// App.Close.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	logger := slog.Default()

	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("app: connect postgres: %w", err)
	}
	closers = append(closers, pg.Close)
	if cfg.Database.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			return nil, cleanup, fmt.Errorf("app: run migrations: %w", err)
		}
	}

	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("app: connect redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

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
		return nil, cleanup, fmt.Errorf("app: connect s3: %w", err)
	}
	closers = append(closers, func() { _ = s3Client.Close() })

	orderStore := postgres.NewOrderStore(pg.Pool())
	auditStore := postgres.NewAuditStore(pg.Pool())
	execStore := postgres.NewArbExecutionStore(pg.Pool())

	bookMirror := redis.NewBookMirror(redisClient)
	signalBus := redis.NewSignalBus(redisClient)
	rateLimiter := redis.NewRateLimiter(redisClient)

	blobWriter := s3blob.NewWriter(s3Client)
	archiver := s3blob.NewArchiver(blobWriter, orderStore, execStore, auditStore)

	var signer *crypto.Signer
	privHex, keyErr := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if keyErr == nil && privHex != "" {
		signer, err = crypto.NewSigner(privHex, cfg.Polymarket.ChainID)
		if err != nil {
			return nil, cleanup, fmt.Errorf("app: create signer: %w", err)
		}
	} else if !cfg.Arb.DryRun {
		return nil, cleanup, fmt.Errorf("app: load wallet key: %w", keyErr)
	}

	hmacAuth := &crypto.HMACAuth{
		Key:        cfg.Builder.ApiKey,
		Secret:     cfg.Builder.ApiSecret,
		Passphrase: cfg.Builder.ApiPassphrase,
	}

	clobClient := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, hmacAuth)

	orderSvc := service.NewOrderService(orderStore, auditStore, signer, logger)
	if !cfg.Arb.DryRun {
		orderSvc = orderSvc.WithClobClient(clobClient)
	}

	clock := clockwork.NewReal()
	reg := registry.New(clock, logger)
	books := book.New(clock)
	books.SetMirror(bookMirror, logger)
	bus := eventbus.New(1024)

	totalTick := int64(cfg.Arb.TotalBankroll * float64(domain.TicksPerUnit))
	riskGate := risk.New(totalTick, risk.Config{
		MaxBetSizeTick:      int64(cfg.Arb.MaxBetSize * float64(domain.TicksPerUnit)),
		MaxBankrollFraction: cfg.Arb.MaxBankrollFraction,
		MinNotionalTick:     int64(cfg.Arb.MinNotionalUSD * float64(domain.TicksPerUnit)),
		ReservationTTL:      cfg.Arb.ReservationTTL.Duration,
	}, clock, bus, logger)

	var fillSub domain.FillSubscriber
	if !cfg.Arb.DryRun {
		fillSub = polymarket.NewUserChannelClient(cfg.Polymarket.WsHost, hmacAuth)
	}

	execEngine := executor.New(orderSvc, fillSub, riskGate, execStore, bus, clock, executor.Config{
		AckTimeout:           cfg.Arb.AckTimeout.Duration,
		HedgeTimeout:         cfg.Arb.HedgeTimeout.Duration,
		MaxImbalanceMs:       cfg.Arb.MaxImbalanceMs.Duration,
		MaxImbalanceUnits:    cfg.Arb.MaxImbalanceUnits,
		MaxSlippageTicks:     cfg.Arb.MaxSlippageTicks,
		MaxEscalations:       cfg.Arb.MaxEscalations,
		CircuitFailThreshold: cfg.Arb.CircuitFailThreshold,
		CircuitWindow:        cfg.Arb.CircuitWindow.Duration,
		CircuitCooldown:      cfg.Arb.CircuitCooldown.Duration,
		DryRun:               cfg.Arb.DryRun,
		DryRunFillDelay:      cfg.Arb.DryRunFillDelay.Duration,
	}, logger)

	recent := arbitrage.NewRecentFeed(200)
	detector := arbitrage.New(books, reg, bus, clock, arbitrage.Config{
		MinProfitMarginTick: int64(cfg.Arb.MinProfitMargin * float64(domain.TicksPerUnit)),
		MinSizeTick:         int64(cfg.Arb.MinOrderSizeShares * float64(domain.TicksPerUnit)),
		FreshnessTTL:        cfg.Arb.FreshnessTTL.Duration,
		Workers:             cfg.Arb.Workers,
	}, logger)
	detector.SetInFlightChecker(riskGate.InFlight)
	detector.SetHandler(func(ctx context.Context, opp domain.Opportunity) {
		recent.Record(opp)
		market, ok := reg.Get(opp.MarketID)
		if !ok {
			return
		}
		res, err := riskGate.Evaluate(opp)
		if err != nil {
			return
		}
		go execEngine.Execute(ctx, market, opp, res)
	})

	discoveryClient := discovery.NewStaticClient(nil)

	var feedConnector domain.FeedConnector
	if cfg.Arb.WSEnabled {
		push := feed.NewPushConnector(cfg.Polymarket.WsHost, books, logger)
		push.SetOnApply(func(token string) {
			if m, ok := reg.MarketForToken(token); ok {
				detector.Notify(m.MarketID)
			}
		})
		feedConnector = push
	} else {
		poll := feed.NewPollConnector(clobClient, books, feed.PollConfig{
			Interval:      cfg.Arb.ScanInterval.Duration,
			Concurrency:   cfg.Arb.PollConcurrency,
			RatePerSecond: cfg.Arb.PollRatePerSecond,
		}, logger)
		poll.SetOnApply(func(token string) {
			if m, ok := reg.MarketForToken(token); ok {
				detector.Notify(m.MarketID)
			}
		})
		feedConnector = poll
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)

	deps := &Dependencies{
		Clock:    clock,
		Registry: reg,
		Books:    books,
		Bus:      bus,
		Risk:     riskGate,
		Detector: detector,
		Recent:   recent,
		Executor: execEngine,
		Feed:     feedConnector,
		Discover: discoveryClient,
		Orders:   orderSvc,
		Notifier: notifier,
		Archiver: archiver,
		Postgres:  pg,
		Redis:     redisClient,
		S3:        s3Client,
		SignalBus: signalBus,
	}

	if cfg.Server.Enabled {
		wsHub := ws.NewHub(signalBus, logger, ws.Config{Mode: cfg.Mode, StrategyName: "binary-arbitrage"})
		handlers := server.Handlers{
			Health:   handler.NewHealthHandler(logger),
			Status:   handler.NewStatusHandler(cfg.Mode, "binary-arbitrage"),
			Markets:  handler.NewMarketHandler(reg, logger),
			Orders:   handler.NewOrderHandler(orderSvc, logger),
			Arb:      handler.NewArbHandler(recent, logger).WithArbExecutionStore(execStore),
			Pipeline: handler.NewPipelineHandler(logger),
		}
		srv := server.NewServer(server.Config{
			Port:              cfg.Server.Port,
			CORSOrigins:       cfg.Server.CORSOrigins,
			APIKey:            cfg.Server.APIKey,
			RateLimiter:       rateLimiter,
			RateLimitRequests: cfg.Server.RateLimitRequests,
			RateLimitWindow:   cfg.Server.RateLimitWindow.Duration,
		}, handlers, wsHub, logger)
		deps.Server = srv
		deps.WSHub = wsHub
	}

	return deps, cleanup, nil
}
