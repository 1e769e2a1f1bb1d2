package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/knockturn/service/config"
	"github.com/brojonat/knockturn/service/db"
	"github.com/brojonat/knockturn/service/fsm"
	"github.com/brojonat/knockturn/service/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the read side of the ledger the HTTP layer needs directly.
// Writes always go through the state machines.
type Store interface {
	Ping(ctx context.Context) error
	GetMerchantByToken(ctx context.Context, token string) (*db.Merchant, error)
	GetMerchantBalance(ctx context.Context, merchantID string) (int64, error)
	ListMerchantTransactions(ctx context.Context, merchantID string, limit, offset int32) ([]*db.Transaction, error)
}

// Server represents the HTTP server for the payment service.
type Server struct {
	addr     string
	cfg      *config.Config
	store    Store
	payouts  *fsm.PayoutMachine
	payments *fsm.PaymentMachine
	events   EventSource
	renderer *TemplateRenderer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The events source is optional - if nil, the merchant event stream is disabled.
// The metrics is optional - if nil, the metrics endpoint is disabled.
func New(addr string, cfg *config.Config, store Store, payouts *fsm.PayoutMachine, payments *fsm.PaymentMachine, events EventSource, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		cfg:      cfg,
		store:    store,
		payouts:  payouts,
		payments: payments,
		events:   events,
		metrics:  m,
		logger:   logger,
	}
}

// WithTemplates adds the payer-facing HTML pages using embedded templates.
func (s *Server) WithTemplates() error {
	renderer, err := NewTemplateRenderer()
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}
	s.renderer = renderer
	s.logger.Info("HTML templates loaded from embedded files")
	return nil
}

// Handler builds the routed handler. Start uses it; tests call it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}
	merchant := func(pattern, name string, h merchantHandler) {
		route(pattern, name, requireMerchant(s.store, s.logger, h))
	}

	// Merchant routes
	merchant("GET /api/v1/merchants/{merchant_id}/balance", "get_balance", handleGetBalance(s.store, s.logger))
	merchant("GET /api/v1/merchants/{merchant_id}/transactions", "list_transactions", handleListTransactions(s.store, s.logger))
	merchant("POST /api/v1/merchants/{merchant_id}/payouts", "create_payout", handleCreatePayout(s.payouts, s.cfg, s.logger))
	merchant("GET /api/v1/merchants/{merchant_id}/payouts/{id}", "get_payout", handleGetPayout(s.payouts, s.logger))
	merchant("POST /api/v1/merchants/{merchant_id}/payouts/{id}/slate", "generate_slate", handleGenerateSlate(s.payouts, s.logger))
	merchant("POST /api/v1/merchants/{merchant_id}/payouts/{id}/reject", "reject_payout", handleRejectPayout(s.payouts, s.logger))
	merchant("POST /api/v1/merchants/{merchant_id}/payments", "create_payment", handleCreatePayment(s.payments, s.logger))
	merchant("GET /api/v1/merchants/{merchant_id}/payments/{id}", "get_payment", handleGetPayment(s.payments, s.logger))

	// Wallet callbacks and payer routes
	route("POST /api/v1/payouts/{id}/accept", "accept_slate", handleAcceptSlate(s.payouts, s.logger))
	route("POST /api/v1/merchants/{merchant_id}/payments/{id}/slate", "make_payment", handleMakePayment(s.payments, s.logger))
	route("POST /merchants/{merchant_id}/payments/{id}/{wallet_path...}", "make_payment", handleMakePayment(s.payments, s.logger))
	route("GET /api/v1/merchants/{merchant_id}/payments/{id}/invoice", "get_invoice", handleGetInvoice(s.payments, s.cfg, s.logger))

	// Event stream (if an event source is configured)
	if s.events != nil {
		merchant("GET /api/v1/merchants/{merchant_id}/events", "stream_events", handleStreamEvents(s.events, s.logger))
		s.logger.Info("merchant event stream enabled")
	} else {
		s.logger.Warn("event source not configured, event stream disabled")
	}

	// HTML pages (if template renderer is configured)
	if s.renderer != nil {
		mux.Handle("GET /merchants/{merchant_id}/payments/{id}", handlePaymentPage(s.payments, s.renderer, s.cfg, s.logger))
		s.logger.Info("HTML page endpoints enabled")
	}

	// Health check endpoint
	mux.Handle("GET /health", handleHealth(s.store, s.logger))

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if s.events != nil {
		s.events.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
