package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/config"
	"github.com/md-rashed-zaman/schoolsync/libs/contracts"
	"github.com/md-rashed-zaman/schoolsync/libs/db"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/deadletter"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus/broker"
	"github.com/md-rashed-zaman/schoolsync/libs/grpcx"
	"github.com/md-rashed-zaman/schoolsync/libs/httpx"
	otelx "github.com/md-rashed-zaman/schoolsync/libs/otel"
	"github.com/md-rashed-zaman/schoolsync/libs/outbox"
	"github.com/md-rashed-zaman/schoolsync/libs/runtime"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/internal/handlers"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/internal/storage"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/internal/tenants"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/internal/tokens"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/internal/translate"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/migrations"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Service     string        `env:"SERVICE_NAME" envDefault:"identity-service"`
	Port        string        `env:"PORT" envDefault:"8081"`
	GRPCAddr    string        `env:"GRPC_ADDR" envDefault:":9081"`
	DatabaseURL string        `env:"DATABASE_URL,required"`
	DBMaxConns  int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	RedisURL    string        `env:"REDIS_URL"`
	SignupLimit int           `env:"SIGNUP_RATE_LIMIT" envDefault:"10"`
	JWTSecret   string        `env:"JWT_SECRET" envDefault:"dev-secret"`
	JWTKeyPEM   string        `env:"JWT_PRIVATE_KEY_PEM"`
	JWTKid      string        `env:"JWT_KID"`
	TokenTTL    time.Duration `env:"TOKEN_TTL" envDefault:"1h"`

	Broker config.Broker
	Outbox config.Outbox
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
	if err := bus.EnsureTopics(ctx, contracts.TopicTenantLifecycle); err != nil {
		logger.Warn("kafka topic setup failed", "err", err)
	}

	txManager := db.NewTxManager(pool)
	outboxRepo := outbox.NewRepository(pool)
	delivery, err := broker.NewDelivery(cfg.Outbox, registry, bus, outboxRepo, txManager, logger)
	if err != nil {
		panic(err)
	}

	dispatcher := ddd.NewDispatcher()
	translate.Register(dispatcher, delivery.Phase, delivery.Publisher, logger)
	dispatcher.Freeze()
	uow := ddd.NewUnitOfWork(txManager, dispatcher, logger)

	users := storage.NewUserRepository(pool)
	svc := tenants.NewService(uow, storage.NewTenantRepository(pool), users)

	signer, err := buildSigner(cfg)
	if err != nil {
		logger.Error("failed to init jwt signer", "err", err)
		os.Exit(1)
	}
	h := handlers.NewTenantHandler(svc, users, signer, cfg.TokenTTL, logger)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		bus.ReadyCheck(),
	}
	signupLimit := httpx.NewRateLimiter(cfg.SignupLimit, time.Minute).Middleware()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			panic(err)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		limiter := httpx.NewRedisRateLimiter(rdb, cfg.SignupLimit, time.Minute, "schoolsync:signup")
		signupLimit = limiter.Middleware(logger, true)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: limiter.ReadyCheck()})
	}

	// Tokens minted here are verified here with the same signer.
	resolver := tenant.Resolver{Verifier: tokens.AsVerifier(signer)}

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/api/v1/tenants", signupLimit(http.HandlerFunc(h.Register)))
	mux.HandleFunc("/api/v1/auth/login", h.Login)
	mux.HandleFunc("/.well-known/jwks.json", h.JWKS)
	mux.Handle("/api/v1/tenants/plan", httpx.TenantScoped(resolver, http.HandlerFunc(h.ChangePlan)))
	mux.Handle("/api/v1/tenants/deactivate", httpx.TenantScoped(resolver, http.HandlerFunc(h.Deactivate)))
	mux.Handle("/api/v1/tenants/me", httpx.TenantScoped(resolver, http.HandlerFunc(h.Me)))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(handler, "identity"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// identity consumes nothing, so its dead-letter table stays empty; the
	// admin API is here for the parked outbox rows.
	grpcServer := grpcx.NewServer(logger)
	deadletter.RegisterAdmin(grpcServer, deadletter.NewAdminServer(deadletter.NewRepository(pool), bus.Transport(), logger).WithOutbox(outboxRepo))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runtime.ServeHTTP(gctx, logger, srv, 10*time.Second) })
	g.Go(func() error { return grpcx.Serve(gctx, logger, grpcServer, cfg.GRPCAddr) })
	if delivery.Relay != nil {
		g.Go(func() error { return delivery.Relay.Run(gctx) })
	}
	if err := g.Wait(); err != nil {
		logger.Error("service stopped with error", "err", err)
		os.Exit(1)
	}
}

func buildSigner(cfg Config) (tokens.Signer, error) {
	if cfg.JWTKeyPEM != "" {
		return tokens.NewRS256Signer([]byte(cfg.JWTKeyPEM), cfg.JWTKid)
	}
	return tokens.NewHS256Signer(cfg.JWTSecret), nil
}
