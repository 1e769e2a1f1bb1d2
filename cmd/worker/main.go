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
	"github.com/brojonat/knockturn/service/sweeper"
	"github.com/brojonat/knockturn/service/temporal"
	"github.com/brojonat/knockturn/service/wallet"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting sweep worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"sweep_interval", cfg.SweepInterval,
	)

	if cfg.SweepMode != config.SweepModeTemporal {
		logger.Warn("SWEEP_MODE is not temporal; the server also runs the background passes in-process",
			"sweep_mode", cfg.SweepMode,
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	store := db.NewStore(dbPool)
	metricsCollector := metrics.NewMetrics(nil)

	walletClient := wallet.NewClient(wallet.Config{
		URL:      cfg.WalletURL,
		Username: cfg.WalletUser,
		Password: cfg.WalletPassword,
		Timeout:  cfg.WalletTimeout,
	}, nil, metricsCollector, logger)

	var publisher fsm.Publisher
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, cfg.NATSStream, metricsCollector, logger)
	if err != nil {
		logger.Warn("NATS unavailable, transaction events disabled", "url", cfg.NATSURL, "error", err)
	} else {
		defer natsPublisher.Close()
		publisher = natsPublisher
	}

	payouts := fsm.NewPayoutMachine(store, walletClient, cfg.Fees, publisher, metricsCollector, logger)
	payments := fsm.NewPaymentMachine(store, walletClient, fsm.GrinOnly{}, publisher, metricsCollector, logger)

	sw := sweeper.New(payouts, payments, sweeper.Config{
		NewPayoutTTL:      cfg.NewPayoutTTL,
		PendingPayoutTTL:  cfg.PendingPayoutTTL,
		NewPaymentTTL:     cfg.NewPaymentTTL,
		PendingPaymentTTL: cfg.PendingPaymentTTL,
		Interval:          cfg.SweepInterval,
	}, metricsCollector, logger)
	confirmer := sweeper.NewConfirmer(payouts, payments, walletClient, cfg.SweepInterval, metricsCollector, logger)
	reporter := sweeper.NewReporter(store, nil, cfg.SweepInterval, metricsCollector, logger)

	temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()

	if err := temporal.EnsureSweepSchedule(ctx, temporalClient, cfg.SweepInterval, logger); err != nil {
		logger.Error("failed to ensure sweep schedule", "error", err)
		os.Exit(1)
	}

	w, err := temporal.NewWorker(temporalClient, temporal.WorkerConfig{
		Sweeper:   sw,
		Confirmer: confirmer,
		Reporter:  reporter,
		Metrics:   metricsCollector,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
