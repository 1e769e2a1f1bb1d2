// Package sweeper runs the periodic background passes that move transactions
// forward without a caller: expiry rejection, confirmation polling and
// merchant callback reporting.
package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/knockturn/service/fsm"
	"github.com/brojonat/knockturn/service/metrics"
	"github.com/google/uuid"
)

// Pass names, used in logs, metrics and Temporal activity results.
const (
	PassNewPayouts         = "new_payouts"
	PassInitializedPayouts = "initialized_payouts"
	PassPendingPayouts     = "pending_payouts"
	PassNewPayments        = "new_payments"
	PassPendingPayments    = "pending_payments"
	PassConfirmPayouts     = "confirm_payouts"
	PassConfirmPayments    = "confirm_payments"
	PassRecoverPayouts     = "recover_payouts"
	PassReport             = "report"
)

// Payouts is the part of the payout machine used by background passes.
type Payouts interface {
	GetExpiredNewPayouts(ctx context.Context, ttl time.Duration) ([]fsm.NewPayout, error)
	GetExpiredInitializedPayouts(ctx context.Context, ttl time.Duration) ([]fsm.InitializedPayout, error)
	GetExpiredPendingPayouts(ctx context.Context, ttl time.Duration) ([]fsm.PendingPayout, error)
	GetInitializedPayouts(ctx context.Context) ([]fsm.InitializedPayout, error)
	GetPendingPayouts(ctx context.Context) ([]fsm.PendingPayout, error)
	RejectNewPayout(ctx context.Context, payout fsm.NewPayout) (fsm.RejectedPayout, error)
	RejectInitializedPayout(ctx context.Context, payout fsm.InitializedPayout) (fsm.RejectedPayout, error)
	RejectPendingPayout(ctx context.Context, payout fsm.PendingPayout) (fsm.RejectedPayout, error)
	ConfirmPayout(ctx context.Context, payout fsm.PendingPayout) (fsm.ConfirmedPayout, error)
	RecoverPayout(ctx context.Context, payout fsm.InitializedPayout) (bool, error)
}

// Payments is the part of the payment machine used by background passes.
type Payments interface {
	GetExpiredNewPayments(ctx context.Context, ttl time.Duration) ([]fsm.NewPayment, error)
	GetExpiredPendingPayments(ctx context.Context, ttl time.Duration) ([]fsm.PendingPayment, error)
	GetPendingPayments(ctx context.Context) ([]fsm.PendingPayment, error)
	RejectNewPayment(ctx context.Context, payment fsm.NewPayment) (fsm.RejectedPayment, error)
	RejectPendingPayment(ctx context.Context, payment fsm.PendingPayment) (fsm.RejectedPayment, error)
	ConfirmPayment(ctx context.Context, payment fsm.PendingPayment, confirmedAt time.Time) (fsm.ConfirmedPayment, error)
}

// Config holds the expiry windows and tick interval.
type Config struct {
	NewPayoutTTL      time.Duration
	PendingPayoutTTL  time.Duration
	NewPaymentTTL     time.Duration
	PendingPaymentTTL time.Duration
	Interval          time.Duration
}

// PassResult summarizes one pass over a set of transactions.
type PassResult struct {
	Pass    string `json:"pass"`
	Found   int    `json:"found"`
	Done    int    `json:"done"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

// Sweeper rejects transactions that stayed too long in a non-terminal stage.
type Sweeper struct {
	payouts  Payouts
	payments Payments
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Sweeper.
func New(payouts Payouts, payments Payments, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Sweeper{
		payouts:  payouts,
		payments: payments,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
}

// SweepNewPayouts rejects new payouts created more than NewPayoutTTL ago.
func (s *Sweeper) SweepNewPayouts(ctx context.Context) (PassResult, error) {
	return runPass(ctx, s.metrics, s.logger, PassNewPayouts,
		func(ctx context.Context) ([]fsm.NewPayout, error) {
			return s.payouts.GetExpiredNewPayouts(ctx, s.cfg.NewPayoutTTL)
		},
		func(ctx context.Context, p fsm.NewPayout) (bool, error) {
			_, err := s.payouts.RejectNewPayout(ctx, p)
			return true, err
		})
}

// SweepInitializedPayouts cancels and rejects initialized payouts created
// more than PendingPayoutTTL ago.
func (s *Sweeper) SweepInitializedPayouts(ctx context.Context) (PassResult, error) {
	return runPass(ctx, s.metrics, s.logger, PassInitializedPayouts,
		func(ctx context.Context) ([]fsm.InitializedPayout, error) {
			return s.payouts.GetExpiredInitializedPayouts(ctx, s.cfg.PendingPayoutTTL)
		},
		func(ctx context.Context, p fsm.InitializedPayout) (bool, error) {
			_, err := s.payouts.RejectInitializedPayout(ctx, p)
			return finalized(err)
		})
}

// SweepPendingPayouts cancels and rejects pending payouts whose last
// transition was more than PendingPayoutTTL ago.
func (s *Sweeper) SweepPendingPayouts(ctx context.Context) (PassResult, error) {
	return runPass(ctx, s.metrics, s.logger, PassPendingPayouts,
		func(ctx context.Context) ([]fsm.PendingPayout, error) {
			return s.payouts.GetExpiredPendingPayouts(ctx, s.cfg.PendingPayoutTTL)
		},
		func(ctx context.Context, p fsm.PendingPayout) (bool, error) {
			_, err := s.payouts.RejectPendingPayout(ctx, p)
			return finalized(err)
		})
}

// SweepNewPayments rejects new payments created more than NewPaymentTTL ago.
func (s *Sweeper) SweepNewPayments(ctx context.Context) (PassResult, error) {
	return runPass(ctx, s.metrics, s.logger, PassNewPayments,
		func(ctx context.Context) ([]fsm.NewPayment, error) {
			return s.payments.GetExpiredNewPayments(ctx, s.cfg.NewPaymentTTL)
		},
		func(ctx context.Context, p fsm.NewPayment) (bool, error) {
			_, err := s.payments.RejectNewPayment(ctx, p)
			return true, err
		})
}

// SweepPendingPayments cancels and rejects pending payments whose slate was
// received more than PendingPaymentTTL ago. A zero TTL disables the pass.
func (s *Sweeper) SweepPendingPayments(ctx context.Context) (PassResult, error) {
	return runPass(ctx, s.metrics, s.logger, PassPendingPayments,
		func(ctx context.Context) ([]fsm.PendingPayment, error) {
			if s.cfg.PendingPaymentTTL <= 0 {
				return nil, nil
			}
			return s.payments.GetExpiredPendingPayments(ctx, s.cfg.PendingPaymentTTL)
		},
		func(ctx context.Context, p fsm.PendingPayment) (bool, error) {
			_, err := s.payments.RejectPendingPayment(ctx, p)
			return finalized(err)
		})
}

// finalized turns fsm.ErrTxFinalized into a skip; the confirmer owns those.
func finalized(err error) (bool, error) {
	if errors.Is(err, fsm.ErrTxFinalized) {
		return false, nil
	}
	return true, err
}

// RunOnce runs every expiry pass. A failing pass does not prevent the
// others from running; the listing errors are joined and returned.
func (s *Sweeper) RunOnce(ctx context.Context) ([]PassResult, error) {
	passes := []func(context.Context) (PassResult, error){
		s.SweepNewPayouts,
		s.SweepInitializedPayouts,
		s.SweepPendingPayouts,
		s.SweepNewPayments,
		s.SweepPendingPayments,
	}
	return runAll(ctx, passes)
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	return every(ctx, s.logger, "sweeper", s.cfg.Interval, func(ctx context.Context) error {
		_, err := s.RunOnce(ctx)
		return err
	})
}

type staged interface {
	ID() uuid.UUID
}

// runPass lists candidates and applies act to each one. Per-item errors are
// logged and counted; a lost race (fsm.ErrNotFound) counts as skipped.
// act returns false to skip an item without error.
func runPass[T staged](
	ctx context.Context,
	m *metrics.Metrics,
	logger *slog.Logger,
	pass string,
	list func(context.Context) ([]T, error),
	act func(context.Context, T) (bool, error),
) (PassResult, error) {
	start := time.Now()
	defer func() {
		m.RecordSweepPass(pass, time.Since(start).Seconds())
	}()

	result := PassResult{Pass: pass}
	items, err := list(ctx)
	if err != nil {
		logger.Error("sweep pass failed to list transactions", "pass", pass, "error", err)
		return result, err
	}
	result.Found = len(items)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		done, err := act(ctx, item)
		switch {
		case errors.Is(err, fsm.ErrNotFound):
			result.Skipped++
			m.RecordSweepItem(pass, "lost_race")
			logger.Debug("transaction already handled", "pass", pass, "transaction_id", item.ID())
		case err != nil:
			result.Failed++
			m.RecordSweepItem(pass, "error")
			logger.Error("sweep item failed", "pass", pass, "transaction_id", item.ID(), "error", err)
		case !done:
			result.Skipped++
			m.RecordSweepItem(pass, "skipped")
		default:
			result.Done++
			m.RecordSweepItem(pass, "done")
		}
	}

	if result.Found > 0 {
		logger.Info("sweep pass completed",
			"pass", pass,
			"found", result.Found,
			"done", result.Done,
			"skipped", result.Skipped,
			"failed", result.Failed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return result, nil
}

func runAll(ctx context.Context, passes []func(context.Context) (PassResult, error)) ([]PassResult, error) {
	results := make([]PassResult, 0, len(passes))
	var errs []error
	for _, pass := range passes {
		r, err := pass(ctx)
		results = append(results, r)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

// every calls fn immediately and then on each tick until ctx is done. Errors
// from fn are logged and do not stop the loop.
func every(ctx context.Context, logger *slog.Logger, name string, interval time.Duration, fn func(context.Context) error) error {
	logger.Info("starting background loop", "loop", name, "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("background iteration had errors", "loop", name, "error", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("stopping background loop", "loop", name)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
