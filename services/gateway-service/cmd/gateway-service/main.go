package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/config"
	"github.com/md-rashed-zaman/schoolsync/libs/httpx"
	otelx "github.com/md-rashed-zaman/schoolsync/libs/otel"
	"github.com/md-rashed-zaman/schoolsync/libs/runtime"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	Service        string        `env:"SERVICE_NAME" envDefault:"gateway-service"`
	Port           string        `env:"PORT" envDefault:"8080"`
	IdentityURL    string        `env:"IDENTITY_URL" envDefault:"http://identity-service:8081"`
	StudentURL     string        `env:"STUDENT_URL" envDefault:"http://student-service:8082"`
	TeacherURL     string        `env:"TEACHER_URL" envDefault:"http://teacher-service:8083"`
	ChatURL        string        `env:"CHAT_URL" envDefault:"http://chat-service:8084"`
	JWTSecret      string        `env:"JWT_SECRET" envDefault:"dev-secret"`
	JWKSURL        string        `env:"JWKS_URL"`
	JWKSCacheTTL   time.Duration `env:"JWKS_CACHE_TTL" envDefault:"5m"`
	BodyLimit      int64         `env:"REQUEST_BODY_LIMIT_BYTES" envDefault:"1048576"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	RatePerMinute  int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	RedisURL       string        `env:"REDIS_URL"`
	RateFailOpen   bool          `env:"RATE_LIMIT_FAIL_OPEN" envDefault:"true"`
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

	var checks []runtime.ReadyCheck
	rateLimit := httpx.NewRateLimiter(cfg.RatePerMinute, time.Minute).Middleware()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			panic(err)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		rl := httpx.NewRedisRateLimiter(rdb, cfg.RatePerMinute, time.Minute, "schoolsync:gw")
		rateLimit = rl.Middleware(logger, cfg.RateFailOpen)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: rl.ReadyCheck()})
		logger.Info("rate limiting enabled (redis)", "per_minute", cfg.RatePerMinute)
	} else {
		logger.Info("rate limiting enabled (in-memory)", "per_minute", cfg.RatePerMinute)
	}

	upstreams, err := parseUpstreams(cfg)
	if err != nil {
		logger.Error("invalid upstream url", "err", err)
		os.Exit(1)
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	registerRoutes(mux, upstreams, newVerifier(cfg), otelhttp.NewTransport(http.DefaultTransport))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(cfg.BodyLimit),
		httpx.WithTimeout(cfg.RequestTimeout),
		rateLimit,
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(handler, "gateway"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := runtime.ServeHTTP(ctx, logger, srv, 10*time.Second); err != nil {
		logger.Error("gateway stopped with error", "err", err)
		os.Exit(1)
	}
}
