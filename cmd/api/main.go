// Package main is the entry point for the session coordinator API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/waypoint/internal/api"
	"github.com/onnwee/waypoint/internal/auth"
	"github.com/onnwee/waypoint/internal/config"
	"github.com/onnwee/waypoint/internal/db"
	"github.com/onnwee/waypoint/internal/health"
	"github.com/onnwee/waypoint/internal/livestate"
	"github.com/onnwee/waypoint/internal/middleware"
	"github.com/onnwee/waypoint/internal/session"
	"github.com/onnwee/waypoint/internal/supervisor"
	"github.com/onnwee/waypoint/internal/tracing"
	"github.com/onnwee/waypoint/internal/ws"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Waypoint API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summaryArgs := make([]any, 0, 16)
	for k, v := range cfg.LogSummary() {
		summaryArgs = append(summaryArgs, k, v)
	}
	logger.Info("loaded configuration", summaryArgs...)

	tracer, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "waypoint-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("invalid redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	store := livestate.NewStoreWithClient(redisClient, logger)
	repo := session.NewPostgresRepository(pool, logger)
	tokens := auth.NewTokenService(cfg.JWTSecret)
	notifier := ws.NewNotifier(store)
	coordinator := session.NewCoordinator(repo, tokens, notifier, cfg.BaseURL, cfg.BaseWSURL, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}

	supMetrics := supervisor.NewMetrics()
	if err := supMetrics.Register(registry); err != nil {
		logger.Error("failed to register supervisor metrics", "error", err)
		os.Exit(1)
	}

	// The sweeps are idempotent, so running the supervisor on every API
	// replica is safe.
	sup := supervisor.New(repo, notifier, supMetrics, logger)
	go sup.Run(ctx)

	tracingService := ""
	if cfg.TracingEnabled {
		tracingService = "waypoint-api"
	}

	handler := api.NewRouter(api.RouterConfig{
		Sessions:           api.NewSessionHandlers(coordinator, tokens, logger),
		Health:             api.NewHealthHandlers(health.NewDBChecker(pool), health.NewRedisChecker(redisClient)),
		Metrics:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		HTTPMetrics:        httpMetrics,
		RateLimitStore:     middleware.NewRedisRateLimitStore(redisClient, httpMetrics, logger),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		TracingService:     tracingService,
		Logger:             logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.APIPort),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting api server", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down tracing", "error", err)
	}

	logger.Info("server stopped")
}
