package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kkkkikiki/voucher/internal/cache"
	"github.com/kkkkikiki/voucher/internal/config"
	"github.com/kkkkikiki/voucher/internal/database"
	"github.com/kkkkikiki/voucher/internal/logging"
	"github.com/kkkkikiki/voucher/internal/server"
	"github.com/kkkkikiki/voucher/internal/service"
	"github.com/kkkkikiki/voucher/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "voucher service: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration from environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.App)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	logger.Info("starting voucher service",
		zap.String("environment", cfg.App.Environment),
		zap.String("storage", cfg.App.Storage),
	)

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	qrCache, closeCache := openQRCache(ctx, cfg, logger)
	defer closeCache()

	svc := server.Services{
		Issuer:    service.NewIssuer(st, service.NewCodeGenerator(st, cfg.Voucher.CodeAttempts), cfg.Voucher, logger),
		Redeemer:  service.NewRedemptionService(st, logger),
		Assigner:  service.NewAssignmentService(st, cfg.Voucher, logger),
		Campaigns: service.NewCampaignService(st, logger),
	}
	if cfg.Webhook.Secret == "" {
		insecure := logger.Warn
		if cfg.App.IsDevelopment() {
			insecure = logger.Info
		}
		insecure("WEBHOOK_SECRET is empty, subscriber webhook accepts unauthenticated deliveries")
	}

	handler, err := server.NewRouter(cfg, svc, qrCache, logger)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	// Create server with configuration optimized for high concurrency
	srv := &http.Server{
		Addr:           cfg.Server.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		// Use h2c so we can serve HTTP/2 without TLS
		Handler: h2c.NewHandler(handler, &http2.Server{
			MaxConcurrentStreams: 1000,
		}),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited gracefully")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, func(), error) {
	if cfg.App.Storage == "memory" {
		if cfg.App.IsDevelopment() {
			logger.Info("using in-memory store")
		} else {
			logger.Warn("using in-memory store outside development, state is lost on restart")
		}
		return store.NewMemoryStore(), func() {}, nil
	}

	db, err := database.NewDB(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if cfg.App.AutoMigrate {
		if err := database.Migrate(ctx, db.Postgres, logger); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}

	return store.NewPostgresStore(db.Postgres), func() {
		if err := db.Close(); err != nil {
			logger.Error("error closing database connections", zap.Error(err))
		}
	}, nil
}

// openQRCache connects the Redis QR cache. Rendering works without it, so a
// failed connection only disables caching.
func openQRCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.QRCache, func()) {
	if !cfg.Redis.Enabled() {
		return cache.Noop{}, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, QR cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		_ = client.Close()
		return cache.Noop{}, func() {}
	}

	logger.Info("QR cache enabled", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL()))
	return cache.NewRedisQRCache(client, cfg.Redis.TTL()), func() { _ = client.Close() }
}
