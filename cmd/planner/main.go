package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wayfarer-planner/internal/cache"
	"wayfarer-planner/internal/config"
	"wayfarer-planner/internal/handlers"
	"wayfarer-planner/internal/httpserver"
	"wayfarer-planner/internal/itinerary"
	"wayfarer-planner/internal/llm"
	"wayfarer-planner/internal/metrics"
	"wayfarer-planner/internal/store"
	"wayfarer-planner/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("planner exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.NewLogger("wayfarer-planner")
	defer func() { _ = logger.Sync() }()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}

	logger.Info("loaded config",
		zap.String("port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("llm_base_url", cfg.LLM.BaseURL),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Bool("llm_configured", cfg.LLMConfigured()),
		zap.Bool("jwt_auth", cfg.Auth.JWTSecret != ""),
		zap.Duration("generation_lock_ttl", cfg.Cache.LockTTL),
	)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	// ----- Store -----
	repo, err := store.New(startupCtx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialisation failed", zap.Error(err))
		return err
	}
	defer repo.Close()
	readiness := map[string]handlers.Pinger{"store": repo}

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.Cache.Backend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisAddr,
		})
		defer redisClient.Close()

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(startupCtx).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established", zap.String("addr", cfg.Cache.RedisAddr))

		readiness["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	// ----- Record cache + generation lock -----
	cacheCfg := cache.Config{
		Backend:         cfg.Cache.Backend,
		Prefix:          cfg.Cache.Prefix,
		CleanupInterval: cfg.Cache.CleanupInterval,
	}
	opts := itinerary.Options{
		Model:       cfg.LLM.Model,
		Temperature: llm.Float32(cfg.LLM.Temperature),
		MaxTokens:   cfg.LLM.MaxTokens,
		CacheTTL:    cfg.Cache.TTL,
		LockTTL:     cfg.Cache.LockTTL,
		LockWait:    cfg.Cache.LockWait,
	}
	if recordCache := cache.New(cacheCfg, redisClient); recordCache != nil {
		if mc, ok := recordCache.(*cache.MemoryCache); ok {
			defer mc.Close()
		}
		opts.Cache = cache.NewLoggingCache(recordCache, "cache")
	}
	if cfg.Cache.LockTTL > 0 {
		opts.Locker = cache.NewLocker(cacheCfg, redisClient)
	}

	// ----- LLM client -----
	var llmClient llm.Client
	if cfg.LLMConfigured() {
		llmClient, err = llm.NewClient(llm.Config{
			BaseURL:         cfg.LLM.BaseURL,
			APIKey:          cfg.LLM.APIKey,
			DefaultHeaders:  cfg.LLM.DefaultHeaders,
			UpstreamTimeout: cfg.LLM.Timeout,
			MaxRetries:      cfg.LLM.MaxRetries,
		}, logger)
		if err != nil {
			return err
		}
		if closer, ok := llmClient.(interface{ Close() error }); ok {
			defer closer.Close()
		}
	} else {
		logger.Warn("LLM_API_KEY is not set; cached itineraries are served but new generations fail")
	}

	// ----- Service + handlers -----
	svc := itinerary.NewService(repo, llmClient, logger, opts)
	itineraryHandler := handlers.NewItineraryHandler(svc)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, itineraryHandler, httpserver.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		JWTSecret:      cfg.Auth.JWTSecret,
		CORS:           cfg.CORS,
		Readiness:      readiness,
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	logger.Info("starting planner", zap.String("addr", srv.Addr))

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logger.Error("server error", zap.Error(err))
		return err
	case <-stop:
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
