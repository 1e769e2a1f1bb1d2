package sweeper

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/knockturn/service/db"
	"github.com/brojonat/knockturn/service/fsm"
	"github.com/brojonat/knockturn/service/metrics"
	"github.com/brojonat/knockturn/service/wallet"
)

// TxLookup reads the wallet's log entry for a slate.
type TxLookup interface {
	GetTx(ctx context.Context, slateID string) (*wallet.TxLogEntry, error)
}

// Confirmer polls the wallet for pending transactions and confirms those the
// wallet reports as confirmed on chain. It also recovers initialized payouts
// that were broadcast without being recorded as pending.
type Confirmer struct {
	payouts  Payouts
	payments Payments
	wallet   TxLookup
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewConfirmer creates a Confirmer that polls every interval.
func NewConfirmer(payouts Payouts, payments Payments, w TxLookup, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Confirmer {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Confirmer{
		payouts:  payouts,
		payments: payments,
		wallet:   w,
		interval: interval,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// ConfirmPayouts confirms pending payouts whose wallet transaction is confirmed.
func (c *Confirmer) ConfirmPayouts(ctx context.Context) (PassResult, error) {
	return runPass(ctx, c.metrics, c.logger, PassConfirmPayouts, c.payouts.GetPendingPayouts,
		func(ctx context.Context, p fsm.PendingPayout) (bool, error) {
			if _, ok, err := c.confirmedAt(ctx, p.Transaction()); err != nil || !ok {
				return false, err
			}
			_, err := c.payouts.ConfirmPayout(ctx, p)
			return true, err
		})
}

// ConfirmPayments confirms pending payments whose wallet transaction is confirmed.
func (c *Confirmer) ConfirmPayments(ctx context.Context) (PassResult, error) {
	return runPass(ctx, c.metrics, c.logger, PassConfirmPayments, c.payments.GetPendingPayments,
		func(ctx context.Context, p fsm.PendingPayment) (bool, error) {
			at, ok, err := c.confirmedAt(ctx, p.Transaction())
			if err != nil || !ok {
				return false, err
			}
			_, err = c.payments.ConfirmPayment(ctx, p, at)
			return true, err
		})
}

// RecoverPayouts advances initialized payouts whose slate the wallet has
// already finalized or confirmed.
func (c *Confirmer) RecoverPayouts(ctx context.Context) (PassResult, error) {
	return runPass(ctx, c.metrics, c.logger, PassRecoverPayouts, c.payouts.GetInitializedPayouts,
		c.payouts.RecoverPayout)
}

// RunOnce runs the confirmation and recovery passes.
func (c *Confirmer) RunOnce(ctx context.Context) ([]PassResult, error) {
	return runAll(ctx, []func(context.Context) (PassResult, error){
		c.ConfirmPayouts,
		c.ConfirmPayments,
		c.RecoverPayouts,
	})
}

// Run polls every interval until ctx is cancelled.
func (c *Confirmer) Run(ctx context.Context) error {
	return every(ctx, c.logger, "confirmer", c.interval, func(ctx context.Context) error {
		_, err := c.RunOnce(ctx)
		return err
	})
}

func (c *Confirmer) confirmedAt(ctx context.Context, txn *db.Transaction) (time.Time, bool, error) {
	if txn.WalletTxSlateID == nil {
		c.logger.Warn("pending transaction has no wallet slate", "transaction_id", txn.ID)
		return time.Time{}, false, nil
	}
	entry, err := c.wallet.GetTx(ctx, *txn.WalletTxSlateID)
	if err != nil {
		return time.Time{}, false, err
	}
	if !entry.Confirmed {
		return time.Time{}, false, nil
	}
	if entry.ConfirmationTS != nil {
		return *entry.ConfirmationTS, true, nil
	}
	return c.now(), true, nil
}
