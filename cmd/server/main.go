package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/cronkeep/config"
	"github.com/ErlanBelekov/cronkeep/internal/clock"
	"github.com/ErlanBelekov/cronkeep/internal/cronx"
	"github.com/ErlanBelekov/cronkeep/internal/dispatcher"
	"github.com/ErlanBelekov/cronkeep/internal/email"
	"github.com/ErlanBelekov/cronkeep/internal/health"
	"github.com/ErlanBelekov/cronkeep/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/cronkeep/internal/lockservice"
	ctxlog "github.com/ErlanBelekov/cronkeep/internal/log"
	"github.com/ErlanBelekov/cronkeep/internal/metrics"
	"github.com/ErlanBelekov/cronkeep/internal/recovery"
	"github.com/ErlanBelekov/cronkeep/internal/runner"
	httptransport "github.com/ErlanBelekov/cronkeep/internal/transport/http"
	"github.com/ErlanBelekov/cronkeep/internal/transport/http/handler"
	"github.com/ErlanBelekov/cronkeep/internal/usecase"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		stop()
		log.Fatalf("schema: %v", err)
	}
	logger.Info("db connected")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		stop()
		log.Fatalf("redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	metrics.Register()
	checker := health.NewChecker(pool, health.PingerFunc(func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}), logger, prometheus.DefaultRegisterer)

	// Core scheduling stack.
	clk := clock.Real{}
	cronEval := cronx.New()
	locks := lockservice.New(redisClient)
	taskStore := postgres.NewTaskStore(pool)

	leaseTTL := time.Duration(cfg.LockLeaseTTLSec) * time.Second
	waitBudget := time.Duration(cfg.LockWaitBudgetSec) * time.Second

	var disp *dispatcher.Dispatcher
	var run *runner.Runner
	disp = dispatcher.New(cronEval, clk, logger, func(slug string) {
		run.Fire(context.Background(), slug)
	})
	run = runner.New(taskStore, locks, cronEval, clk, disp, runner.StubWork{}, logger, leaseTTL, waitBudget)

	rec := recovery.New(taskStore, cronEval, clk, disp, logger, recovery.Policy(cfg.RecoverPastTasks))
	if err := rec.Run(ctx); err != nil {
		stop()
		log.Fatalf("recovery: %v", err)
	}
	logger.Info("boot recovery complete")

	// Admin API.
	taskUsecase := usecase.NewTaskUsecase(taskStore, cronEval, clk, disp)
	taskHandler := handler.NewTaskHandler(taskUsecase, logger)

	userRepo := postgres.NewUserRepository(pool)
	emailSender := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
	authUsecase := usecase.NewAuthUsecase(userRepo, emailSender, []byte(cfg.JWTSecret), cfg.MagicLinkBase)
	authHandler := handler.NewAuthHandler(authUsecase, logger)

	healthHandler := handler.NewHealthHandler(checker)

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, taskHandler, authHandler, healthHandler, []byte(cfg.JWTSecret)),
	}

	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	disp.Stop(context.Background())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("scheduler shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
