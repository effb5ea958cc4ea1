// Command go2fa-server serves the go2fa HTTP API.
//
// Engine settings come from GO2FA_* variables (see go2fa.LoadConfigFromEnv).
// Without GO2FA_DATABASE_URL accounts are kept in memory; without
// GO2FA_REDIS_URL so are temporary tokens and refresh sessions.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	go2fa "github.com/MrEthical07/go2fa"
	"github.com/MrEthical07/go2fa/httpapi"
	"github.com/MrEthical07/go2fa/metrics/export/prometheus"
	"github.com/MrEthical07/go2fa/store/memory"
	"github.com/MrEthical07/go2fa/store/postgres"
	"github.com/MrEthical07/go2fa/store/redisstore"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type serverConfig struct {
	Addr            string        `env:"GO2FA_HTTP_ADDR" envDefault:":8080"`
	DatabaseURL     string        `env:"GO2FA_DATABASE_URL"`
	RedisURL        string        `env:"GO2FA_REDIS_URL"`
	RedisPrefix     string        `env:"GO2FA_REDIS_PREFIX"`
	DebugEndpoint   bool          `env:"GO2FA_DEBUG_ENDPOINT"`
	ShutdownTimeout time.Duration `env:"GO2FA_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	Development     bool          `env:"GO2FA_DEV_LOGGING"`
}

func main() {
	cfg, err := go2fa.LoadConfigFromEnv()
	if err != nil {
		// Logger config depends on env, so this one failure goes to stderr.
		_, _ = os.Stderr.WriteString("go2fa config: " + err.Error() + "\n")
		os.Exit(2)
	}

	var sc serverConfig
	if err := env.Parse(&sc); err != nil {
		_, _ = os.Stderr.WriteString("server config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger := newLogger(sc.Development)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", sc.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mem := memory.New()
	builder := go2fa.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithAuditSink(go2fa.NewZapSink(logger.Named("audit"))).
		WithCredentialStore(mem).
		WithTokenStore(mem)

	if sc.DatabaseURL != "" {
		if err := postgres.Migrate(ctx, sc.DatabaseURL); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		db, err := postgres.Open(ctx, sc.DatabaseURL)
		if err != nil {
			logger.Fatal("open postgres", zap.Error(err))
		}
		defer db.Close()
		builder.WithCredentialStore(postgres.New(db))
		logger.Info("credential store: postgres")
	} else {
		logger.Warn("credential store: memory; accounts are lost on restart")
	}

	if sc.RedisURL != "" {
		opts, err := redis.ParseURL(sc.RedisURL)
		if err != nil {
			logger.Fatal("parse redis url", zap.Error(err))
		}
		client := redis.NewClient(opts)
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		builder.
			WithTokenStore(redisstore.New(client, sc.RedisPrefix)).
			WithRateLimitRedis(client)
		logger.Info("token store: redis")
	} else {
		logger.Warn("token store: memory; sessions are lost on restart")
	}

	engine, err := builder.Build()
	if err != nil {
		logger.Fatal("build engine", zap.Error(err))
	}
	defer engine.Close()

	if sc.DebugEndpoint {
		logger.Warn("debug endpoint enabled; it discloses currently valid codes")
	}

	router := chi.NewRouter()
	router.Mount("/", httpapi.New(engine, httpapi.Options{
		Logger:      logger,
		EnableDebug: sc.DebugEndpoint,
	}).Routes())
	if cfg.Metrics.Enabled {
		router.Handle("/metrics", prometheus.NewPrometheusExporter(engine).Handler())
	}
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:              sc.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", sc.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

func newLogger(development bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
