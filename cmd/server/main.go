package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/OlehChornii/pet-marketplace-sub000/internal"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/events"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/handler"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/middleware"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/payment"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/router"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/service"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/store"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/telemetry"
	"github.com/OlehChornii/pet-marketplace-sub000/internal/worker"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	orderStore := store.NewPostgresStore(pool)

	// Initialize Stripe payment provider
	logger.Info("Initializing Stripe payment provider...")
	provider := payment.NewStripeProvider(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Provider.Timeout)

	// Initialize event publisher
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATS.URL != "" {
		logger.Info("Connecting to NATS...", "url", cfg.NATS.URL)
		natsPublisher, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
	} else {
		logger.Warn("NATS not configured, order events will be dropped")
	}

	// Initialize metrics
	businessMetrics := telemetry.NewBusinessMetrics("petmarket")
	httpMetrics := middleware.NewMetrics("petmarket")

	// Initialize services
	checkoutService := service.NewCheckoutService(
		orderStore, provider, logger, businessMetrics,
		cfg.Currency,
		cfg.BaseURL+"/checkout/success",
		cfg.BaseURL+"/checkout/cancel",
	)
	reconcileService := service.NewReconcileService(
		orderStore, provider, publisher, logger, businessMetrics,
		cfg.Provider.MaxRetries, cfg.Provider.RetryBaseDelay,
	)
	receiptService := service.NewReceiptService(
		orderStore, provider, logger, businessMetrics,
		cfg.Receipt.MinInterval,
	)
	orderService := service.NewOrderService(orderStore, logger)

	// Start the reconciliation sweep
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if cfg.Sweep.Enabled {
		sweeper := worker.NewSweeper(orderStore, reconcileService, worker.Config{
			PollInterval: cfg.Sweep.Interval,
			MinAge:       cfg.Sweep.MinAge,
			BatchSize:    cfg.Sweep.BatchSize,
		}, logger)
		go func() {
			if err := sweeper.Start(sweepCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("sweeper exited", "error", err)
			}
		}()
	}

	// Build the HTTP application
	e := router.New(logger, httpMetrics, router.Handlers{
		Checkout: handler.NewCheckoutHandler(checkoutService),
		Webhook:  handler.NewWebhookHandler(reconcileService),
		Order:    handler.NewOrderHandler(orderService, reconcileService, receiptService),
	})

	// Start server with graceful shutdown
	addr := fmt.Sprintf(":%d", cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		logger.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
