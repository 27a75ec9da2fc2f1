package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/darkodi/shortlink/internal/cache"
	"github.com/darkodi/shortlink/internal/config"
	"github.com/darkodi/shortlink/internal/handler"
	"github.com/darkodi/shortlink/internal/logger"
	"github.com/darkodi/shortlink/internal/metrics"
	"github.com/darkodi/shortlink/internal/middleware"
	"github.com/darkodi/shortlink/internal/repository"
	"github.com/darkodi/shortlink/internal/service"
	"github.com/darkodi/shortlink/internal/validator"
)

// codes that would shadow the server's own top-level routes
var reservedCodes = []string{"api", "health", "metrics"}

func main() {
	// ============================================================
	// LOAD CONFIGURATION
	// ============================================================
	fmt.Println("📋 Loading configuration...")
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	if cfg.IsDevelopment() {
		fmt.Printf("   Environment: %s\n", cfg.App.Environment)
		fmt.Printf("   Port: %s\n", cfg.Server.Port)
		fmt.Printf("   Database: %s\n", cfg.Database.Driver)
		fmt.Printf("   Default domain: %q\n", cfg.App.DefaultDomain)
	}

	// ============================================================
	// Initialize logger
	// ============================================================
	fmt.Println("📝 Initializing logger...")
	log := logger.New(cfg.Log)
	defer log.Close()

	log.Info("starting shortlink",
		"level", cfg.Log.Level,
		"format", cfg.Log.Format,
		"environment", cfg.App.Environment)

	if err := run(cfg, log); err != nil {
		log.Error("server error", "error", err.Error())
		log.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	// ============================================================
	// INITIALIZE LAYERS
	// ============================================================
	fmt.Println("🗄️  Connecting to database...")
	store, err := repository.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close database", "error", err.Error())
		}
	}()

	v := validator.NewURLValidator().
		WithBlockedDomains(cfg.App.BlockedDomains...).
		WithReservedCodes(reservedCodes...)
	if cfg.App.BlockPrivateIP {
		v = v.WithBlockPrivateIPs()
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithValidator(v),
	}
	health := handler.HealthChecks{"database": store}

	// ============================================================
	// INITIALIZE REDIS CACHE
	// ============================================================
	if cfg.Redis.Enabled {
		log.Info("connecting to Redis...", "addr", cfg.Redis.Addr)
		redisCache, err := cache.NewRedisCache(&cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer func() {
			if err := redisCache.Close(); err != nil {
				log.Error("Failed to close Redis client", "error", err.Error())
			}
		}()
		opts = append(opts, service.WithCache(redisCache))
		health["redis"] = redisCache
		log.Info("Redis connected successfully!", "ttl", cfg.Redis.TTL)
	}

	fmt.Println("⚙️  Initializing service...")
	svc := service.NewURLService(store, service.Config{
		DefaultDomain: cfg.App.DefaultDomain,
		Secure:        cfg.IsProduction(),
		CodeLength:    cfg.App.CodeLength,
	}, opts...)
	resolver := service.NewResolver(store, opts...)

	fmt.Println("🌐 Setting up HTTP handlers...")
	m := metrics.New()
	h := handler.NewURLHandler(svc, resolver, health, m, log)

	var protect middleware.Middleware
	if cfg.Auth.JWTSecret != "" {
		protect = middleware.BearerAuth(cfg.Auth.JWTSecret, log)
		log.Info("bearer auth enabled for /api")
	}
	router := h.SetupRoutes(protect)

	// ============================================================
	// BUILD MIDDLEWARE CHAIN
	// ============================================================
	middlewares := []middleware.Middleware{
		middleware.RequestID,
		middleware.RecoveryWithLogger(log),
		middleware.LoggingWithLogger(log),
		middleware.Metrics(m),
	}
	// Add rate limiter if enabled
	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			middleware.RateLimiterConfig{
				Rate:     cfg.RateLimit.Rate,
				Burst:    cfg.RateLimit.Burst,
				Interval: cfg.RateLimit.Interval,
				Cleanup:  cfg.RateLimit.Cleanup,
				Routes: map[string]middleware.RouteLimit{
					handler.RouteShorten: {Rate: cfg.RateLimit.ShortenRate, Burst: cfg.RateLimit.ShortenBurst},
				},
			},
			log,
		)
		defer rateLimiter.Stop()
		middlewares = append(middlewares, rateLimiter.Middleware(router))
		log.Info("rate limiter enabled",
			"rate", cfg.RateLimit.Rate,
			"burst", cfg.RateLimit.Burst,
			"shorten_rate", cfg.RateLimit.ShortenRate,
			"shorten_burst", cfg.RateLimit.ShortenBurst,
		)
	}

	wrappedRouter := middleware.Chain(router, middlewares...)

	// ============================================================
	// CREATE SERVER WITH CONFIG TIMEOUTS
	// ============================================================
	addr := ":" + cfg.Server.Port
	server := &http.Server{
		Addr:         addr,
		Handler:      wrappedRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel to track server errors
	serverErr := make(chan error, 1)

	// Start server in a goroutine
	go func() {
		if cfg.IsDevelopment() {
			fmt.Printf("🚀 Server starting on http://localhost%s\n", addr)
			fmt.Println("───────────────────────────────────────")
			fmt.Println("Endpoints:")
			fmt.Println("  POST   /api/shorten           - Create short URL")
			fmt.Println("  GET    /api/urls              - List URLs (page, limit)")
			fmt.Println("  GET    /api/urls/{code}       - URL details")
			fmt.Println("  DELETE /api/urls/{code}       - Delete URL")
			fmt.Println("  GET    /api/analytics/{code}  - Click analytics")
			fmt.Println("  GET    /{code}                - Redirect to original")
			fmt.Println("  GET    /health                - Health check")
			fmt.Println("  GET    /metrics               - Prometheus metrics")
			fmt.Println("───────────────────────────────────────")
			fmt.Println("Press Ctrl+C to shutdown gracefully")
		}
		log.Info("server starting", "addr", "http://localhost"+addr)
		serverErr <- server.ListenAndServe()
	}()

	// ============================================================
	// WAIT FOR SHUTDOWN OR ERROR
	// ============================================================
	select {
	case err := <-serverErr:
		return err

	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig.String())
		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(
			context.Background(),
			cfg.Server.ShutdownTimeout,
		)
		defer cancel()

		// Attempt graceful shutdown
		if err := server.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "error", err.Error())
			// force close if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Error("forced shutdown failed", "error", err.Error())
			}
		}

		log.Info("server stopped")
		return nil
	}
}
