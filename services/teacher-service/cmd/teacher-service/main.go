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
	"github.com/md-rashed-zaman/schoolsync/services/teacher-service/internal/handlers"
	"github.com/md-rashed-zaman/schoolsync/services/teacher-service/internal/storage"
	"github.com/md-rashed-zaman/schoolsync/services/teacher-service/internal/subscribers"
	"github.com/md-rashed-zaman/schoolsync/services/teacher-service/internal/teachers"
	"github.com/md-rashed-zaman/schoolsync/services/teacher-service/internal/translate"
	"github.com/md-rashed-zaman/schoolsync/services/teacher-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Service     string `env:"SERVICE_NAME" envDefault:"teacher-service"`
	Port        string `env:"PORT" envDefault:"8083"`
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":9083"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	JWTSecret   string `env:"JWT_SECRET" envDefault:"dev-secret"`
	JWKSURL     string `env:"JWKS_URL"`
	HireLimit   int    `env:"HIRE_RATE_LIMIT" envDefault:"60"`

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

	if shutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service)); err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(c)
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
	if err := bus.EnsureTopics(ctx, contracts.TopicTenantLifecycle, contracts.TopicPeopleLifecycle); err != nil {
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

	store := storage.NewPostgres(pool)
	svc := teachers.NewService(uow, store, store)

	deadLetters := deadletter.NewRepository(pool)
	sink, err := deadletter.NewSink(ctx, deadLetters, cfg.Archive, logger)
	if err != nil {
		logger.Error("dead letter archive setup failed", "err", err)
		os.Exit(1)
	}
	router := eventbus.NewRouter(cfg.Service, registry, sink, logger)
	if err := subscribers.Register(router, store, uow, inbox.NewRepository(pool), broker.Policy(cfg.Consumer), logger); err != nil {
		panic(err)
	}
	subscriber := bus.Subscriber(router)

	var jwks *auth.JWKSClient
	if cfg.JWKSURL != "" {
		jwks = auth.NewJWKSClient(cfg.JWKSURL, 5*time.Minute)
	}
	resolver := tenant.Resolver{Verifier: auth.NewVerifier(cfg.JWTSecret, jwks)}

	h := handlers.NewTeacherHandler(svc, logger)
	hireLimit := httpx.NewRateLimiter(cfg.HireLimit, time.Minute).Middleware()
	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		bus.ReadyCheck(),
	)
	mux.Handle("/api/v1/teachers", hireLimit(httpx.TenantScoped(resolver, http.HandlerFunc(h.Teachers))))

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(httpx.Chain(mux,
			httpx.WithRequestID,
			httpx.WithAccessLog(logger),
			httpx.WithRecover(logger),
			httpx.WithBodyLimit(1<<20),
		), "teachers"),
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
