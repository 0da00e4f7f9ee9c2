package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/auth"
	"github.com/md-rashed-zaman/schoolsync/libs/config"
	"github.com/md-rashed-zaman/schoolsync/libs/contracts"
	"github.com/md-rashed-zaman/schoolsync/libs/db"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/deadletter"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus/broker"
	"github.com/md-rashed-zaman/schoolsync/libs/grpcx"
	"github.com/md-rashed-zaman/schoolsync/libs/httpx"
	"github.com/md-rashed-zaman/schoolsync/libs/inbox"
	otelx "github.com/md-rashed-zaman/schoolsync/libs/otel"
	"github.com/md-rashed-zaman/schoolsync/libs/outbox"
	"github.com/md-rashed-zaman/schoolsync/libs/runtime"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/chat-service/internal/chat"
	"github.com/md-rashed-zaman/schoolsync/services/chat-service/internal/handlers"
	"github.com/md-rashed-zaman/schoolsync/services/chat-service/internal/live"
	"github.com/md-rashed-zaman/schoolsync/services/chat-service/internal/storage"
	"github.com/md-rashed-zaman/schoolsync/services/chat-service/internal/subscribers"
	"github.com/md-rashed-zaman/schoolsync/services/chat-service/internal/translate"
	"github.com/md-rashed-zaman/schoolsync/services/chat-service/migrations"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Service        string `env:"SERVICE_NAME" envDefault:"chat-service"`
	Port           string `env:"PORT" envDefault:"8084"`
	GRPCAddr       string `env:"GRPC_ADDR" envDefault:":9084"`
	DatabaseURL    string `env:"DATABASE_URL,required"`
	DBMaxConns     int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	RedisURL       string `env:"REDIS_URL"`
	LivePrefix     string `env:"LIVE_CHANNEL_PREFIX" envDefault:"schoolsync:chat"`
	JWTSecret      string `env:"JWT_SECRET" envDefault:"dev-secret"`
	JWKSURL        string `env:"JWKS_URL"`
	AllowTenantHdr bool   `env:"ALLOW_TENANT_HEADER" envDefault:"false"`

	Broker   config.Broker
	Outbox   config.Outbox
	Consumer config.Consumer
	Archive  config.DeadLetterArchive
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.Service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{AppName: cfg.Service, MaxConns: cfg.DBMaxConns})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool, logger, migrations.FS); err != nil {
		logger.Error("db migration failed", "err", err)
		os.Exit(1)
	}

	registry, err := contracts.NewRegistry()
	if err != nil {
		panic(err)
	}
	bus, err := broker.Open(ctx, cfg.Broker, logger)
	if err != nil {
		logger.Error("broker connection failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = bus.Close() }()
	if err := bus.EnsureTopics(ctx, contracts.TopicTenantLifecycle, contracts.TopicPeopleLifecycle, contracts.TopicChatMessaging); err != nil {
		logger.Warn("kafka topic setup failed", "err", err)
	}

	txManager := db.NewTxManager(pool)
	outboxRepo := outbox.NewRepository(pool)
	delivery, err := broker.NewDelivery(cfg.Outbox, registry, bus, outboxRepo, txManager, logger)
	if err != nil {
		panic(err)
	}

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		bus.ReadyCheck(),
	}

	dispatcher := ddd.NewDispatcher()
	translate.Register(dispatcher, delivery.Phase, delivery.Publisher, logger)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			panic(err)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		live.NewFanout(rdb, cfg.LivePrefix, logger).Register(dispatcher)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	dispatcher.Freeze()
	uow := ddd.NewUnitOfWork(txManager, dispatcher, logger)

	store := storage.NewPostgres(pool)
	svc := chat.NewService(uow, store)

	deadLetters := deadletter.NewRepository(pool)
	sink, err := deadletter.NewSink(ctx, deadLetters, cfg.Archive, logger)
	if err != nil {
		logger.Error("dead letter archive setup failed", "err", err)
		os.Exit(1)
	}
	router := eventbus.NewRouter(cfg.Service, registry, sink, logger)
	if err := subscribers.Register(router, subscribers.NewDirectory(store, logger), uow, inbox.NewRepository(pool), broker.Policy(cfg.Consumer)); err != nil {
		panic(err)
	}
	subscriber := bus.Subscriber(router)

	var jwks *auth.JWKSClient
	if cfg.JWKSURL != "" {
		jwks = auth.NewJWKSClient(cfg.JWKSURL, 5*time.Minute)
	}
	resolver := tenant.Resolver{Verifier: auth.NewVerifier(cfg.JWTSecret, jwks), AllowHeader: cfg.AllowTenantHdr}

	h := handlers.NewChatHandler(svc, logger)
	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/api/v1/chat/members", httpx.TenantScoped(resolver, http.HandlerFunc(h.Members)))
	mux.Handle("/api/v1/chat/announcements", httpx.TenantScoped(resolver, http.HandlerFunc(h.Announcements)))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(64<<10),
		httpx.WithTimeout(15*time.Second),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(handler, "chat"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpcx.NewServer(logger)
	deadletter.RegisterAdmin(grpcServer, deadletter.NewAdminServer(deadLetters, bus.Transport(), logger).WithOutbox(outboxRepo))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runtime.ServeHTTP(gctx, logger, srv, 10*time.Second) })
	g.Go(func() error { return grpcx.Serve(gctx, logger, grpcServer, cfg.GRPCAddr) })
	g.Go(func() error { return subscriber.Run(gctx) })
	if delivery.Relay != nil {
		g.Go(func() error { return delivery.Relay.Run(gctx) })
	}
	if err := g.Wait(); err != nil {
		logger.Error("service stopped with error", "err", err)
		os.Exit(1)
	}
}
