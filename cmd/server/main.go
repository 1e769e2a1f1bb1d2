package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/knockturn/service/config"
	"github.com/brojonat/knockturn/service/db"
	"github.com/brojonat/knockturn/service/fsm"
	"github.com/brojonat/knockturn/service/metrics"
	natspkg "github.com/brojonat/knockturn/service/nats"
	"github.com/brojonat/knockturn/service/server"
	"github.com/brojonat/knockturn/service/sweeper"
	"github.com/brojonat/knockturn/service/wallet"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	// A local .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"public_url", cfg.PublicURL,
		"sweep_mode", cfg.SweepMode,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(ctx, dbPool); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool)
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	walletClient := wallet.NewClient(wallet.Config{
		URL:      cfg.WalletURL,
		Username: cfg.WalletUser,
		Password: cfg.WalletPassword,
		Timeout:  cfg.WalletTimeout,
	}, nil, metricsCollector, logger)
	logger.Info("initialized wallet client", "url", cfg.WalletURL)

	// NATS is optional: without it transitions are not announced and the
	// merchant event stream is disabled.
	var publisher fsm.Publisher
	var events server.EventSource
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, cfg.NATSStream, metricsCollector, logger)
	if err != nil {
		logger.Warn("NATS unavailable, transaction events disabled", "url", cfg.NATSURL, "error", err)
	} else {
		defer natsPublisher.Close()
		publisher = natsPublisher

		subscriber, err := natspkg.NewSubscriber(cfg.NATSURL, cfg.NATSStream, logger)
		if err != nil {
			logger.Warn("failed to create NATS subscriber, event stream disabled", "error", err)
		} else {
			defer subscriber.Close()
			events = subscriber
		}
		logger.Info("connected to NATS", "url", cfg.NATSURL, "stream", cfg.NATSStream)
	}

	payouts := fsm.NewPayoutMachine(store, walletClient, cfg.Fees, publisher, metricsCollector, logger)
	payments := fsm.NewPaymentMachine(store, walletClient, fsm.GrinOnly{}, publisher, metricsCollector, logger)

	httpServer := server.New(cfg.ServerAddr, cfg, store, payouts, payments, events, metricsCollector, logger)
	if err := httpServer.WithTemplates(); err != nil {
		logger.Error("failed to load templates", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpServer.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.SweepMode == config.SweepModeLocal {
		sw := sweeper.New(payouts, payments, sweeper.Config{
			NewPayoutTTL:      cfg.NewPayoutTTL,
			PendingPayoutTTL:  cfg.PendingPayoutTTL,
			NewPaymentTTL:     cfg.NewPaymentTTL,
			PendingPaymentTTL: cfg.PendingPaymentTTL,
			Interval:          cfg.SweepInterval,
		}, metricsCollector, logger)
		confirmer := sweeper.NewConfirmer(payouts, payments, walletClient, cfg.SweepInterval, metricsCollector, logger)
		reporter := sweeper.NewReporter(store, nil, cfg.SweepInterval, metricsCollector, logger)

		g.Go(func() error { return ignoreCanceled(sw.Run(gctx)) })
		g.Go(func() error { return ignoreCanceled(confirmer.Run(gctx)) })
		g.Go(func() error { return ignoreCanceled(reporter.Run(gctx)) })
		logger.Info("background passes running in-process", "interval", cfg.SweepInterval)
	} else {
		logger.Info("background passes delegated to the temporal worker", "task_queue", cfg.TemporalTaskQueue)
	}

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
