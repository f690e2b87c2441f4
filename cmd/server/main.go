package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/cinesearch/internal/api"
	"github.com/shubhsaxena/cinesearch/internal/cache"
	"github.com/shubhsaxena/cinesearch/internal/catalogue"
	"github.com/shubhsaxena/cinesearch/internal/config"
	"github.com/shubhsaxena/cinesearch/internal/generative"
	"github.com/shubhsaxena/cinesearch/internal/kafka"
	"github.com/shubhsaxena/cinesearch/internal/observability"
	"github.com/shubhsaxena/cinesearch/internal/resolver"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Initialize logger
	logger, err := observability.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting movie search service",
		zap.String("service", cfg.Observability.ServiceName),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing
	tracerShutdown, err := observability.InitTracer(ctx, cfg.Observability.ServiceName, cfg.Observability.TracingEndpoint)
	if err != nil {
		logger.Warn("tracing initialization failed, continuing without tracing", zap.Error(err))
	}

	healthHandler := api.NewHealthHandler(logger)

	// Result cache
	var resultCache cache.ResultCache
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		redisCache, err := cache.NewRedisCache(cfg.Cache.Redis, cfg.Cache.TTL, logger)
		if err != nil {
			return fmt.Errorf("initializing redis: %w", err)
		}
		defer redisCache.Close()
		healthHandler.Register("redis", redisCache)
		resultCache = redisCache
		logger.Info("redis result cache initialized")
	default:
		resultCache = cache.NewMemoryCache(cfg.Cache.TTL)
		logger.Info("in-memory result cache initialized")
	}

	// Sources
	if cfg.Catalogue.APIKey == "" && cfg.Catalogue.AccessToken == "" {
		logger.Warn("no TMDB credentials configured, catalogue requests will be rejected")
	}
	tmdb := catalogue.NewClient(cfg.Catalogue, logger)
	healthHandler.Register("catalogue", tmdb)

	if cfg.Generative.APIKey == "" {
		logger.Warn("no generative API key configured, fallback requests are sent unauthenticated")
	}
	llm := generative.NewClient(cfg.Generative, cfg.Search.PageSize, logger)

	// Resolution analytics
	var eventWriter observability.EventWriter
	if len(cfg.Events.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Events, logger)
		defer producer.Close()
		eventWriter = producer
	} else {
		logger.Info("no event brokers configured, resolution analytics disabled")
	}
	recorder := observability.NewResolutionRecorder(
		cfg.Search.SlowResolution.WarningThreshold,
		cfg.Search.SlowResolution.CriticalThreshold,
		logger,
		eventWriter,
	)

	res := resolver.New(tmdb, llm, resultCache, recorder, resolver.OptionsFromConfig(cfg), logger)

	// Initialize HTTP server
	handler := api.NewHandler(res, logger)
	live := api.NewLiveHandler(ctx, res, cfg.Search.DebounceWindow, cfg.Server.AllowedOrigins, logger)
	router := api.NewRouter(handler, live, healthHandler, cfg.Server, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	// Graceful shutdown
	logger.Info("starting graceful shutdown", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new requests
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	// End live sessions and let their in-flight resolutions finish
	cancel()
	if err := live.Wait(shutdownCtx); err != nil {
		logger.Warn("live sessions did not drain before shutdown timeout", zap.Error(err))
	}

	// Flush pending analytics before the producer closes
	recorder.Close()

	// Shutdown tracing
	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
	return nil
}
