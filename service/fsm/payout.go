package fsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/knockturn/service/db"
	"github.com/brojonat/knockturn/service/metrics"
	"github.com/brojonat/knockturn/service/money"
	"github.com/brojonat/knockturn/service/wallet"
	"github.com/google/uuid"
)

// PayoutMachine drives payouts through
// new -> initialized -> pending -> confirmed, with rejection from any
// non-terminal stage. It holds no per-payout state and is safe for
// concurrent use.
type PayoutMachine struct {
	machine
	fees money.FeeSchedule
}

// NewPayoutMachine creates a payout state machine.
func NewPayoutMachine(store Store, w Wallet, fees money.FeeSchedule, publisher Publisher, m *metrics.Metrics, logger *slog.Logger) *PayoutMachine {
	return &PayoutMachine{
		machine: newMachine(store, w, publisher, m, logger),
		fees:    fees,
	}
}

// CreatePayoutRequest is a merchant's request to withdraw part of its balance.
type CreatePayoutRequest struct {
	MerchantID    string
	Amount        int64
	Confirmations int
}

// CreatePayout validates the amount against the fee schedule and inserts a
// new payout if the merchant balance covers it.
func (p *PayoutMachine) CreatePayout(ctx context.Context, req CreatePayoutRequest) (NewPayout, error) {
	if err := p.fees.CheckWithdraw(req.Amount); err != nil {
		return NewPayout{}, err
	}
	quote, err := p.fees.Quote(req.Amount)
	if err != nil {
		return NewPayout{}, err
	}

	id := uuid.New()
	amount := money.Grin(req.Amount)
	txn, err := p.store.CreatePayout(ctx, db.CreateTransactionParams{
		ID:            id,
		ExternalID:    id.String(),
		MerchantID:    req.MerchantID,
		Amount:        amount,
		GrinAmount:    req.Amount,
		Confirmations: req.Confirmations,
		Message:       fmt.Sprintf("Withdrawal of %s for merchant %s", amount, req.MerchantID),
		TransferFee:   ptr(quote.TransferFee),
		ServiceFee:    ptr(quote.ServiceFee),
	}, func(_ *db.Merchant, balance int64) error {
		if balance < req.Amount {
			return ErrNotEnoughFunds
		}
		return nil
	})
	if err != nil {
		return NewPayout{}, err
	}

	p.metrics.RecordCreated(string(db.TypePayout), txn.GrinAmount)
	p.logger.Info("payout created",
		"transaction_id", txn.ID, "merchant_id", txn.MerchantID, "grin_amount", txn.GrinAmount)
	p.publish(ctx, txn, "")
	return NewPayout{staged{txn}}, nil
}

// InitializePayout records the wallet transaction created for a new payout.
func (p *PayoutMachine) InitializePayout(ctx context.Context, payout NewPayout, entry *wallet.TxLogEntry, commit wallet.Commitment) (InitializedPayout, error) {
	if err := payout.valid(); err != nil {
		return InitializedPayout{}, err
	}
	txn, err := p.transition(ctx, db.TransitionParams{
		ID:              payout.ID(),
		Type:            db.TypePayout,
		From:            db.StatusNew,
		To:              db.StatusInitialized,
		WalletTxID:      ptr(int64(entry.ID)),
		WalletTxSlateID: entry.TxSlateID,
		SlateMessages:   entry.ParticipantMessages(),
		RealTransferFee: entry.FeeAmount(),
		Commit:          ptr(commit.String()),
	})
	if err != nil {
		return InitializedPayout{}, err
	}
	return InitializedPayout{staged{txn}}, nil
}

// FinalizePayout marks an initialized payout as broadcast.
func (p *PayoutMachine) FinalizePayout(ctx context.Context, payout InitializedPayout) (PendingPayout, error) {
	if err := payout.valid(); err != nil {
		return PendingPayout{}, err
	}
	txn, err := p.transition(ctx, db.TransitionParams{
		ID:   payout.ID(),
		Type: db.TypePayout,
		From: db.StatusInitialized,
		To:   db.StatusPending,
	})
	if err != nil {
		return PendingPayout{}, err
	}
	return PendingPayout{staged{txn}}, nil
}

// ConfirmPayout marks a pending payout as confirmed on chain.
func (p *PayoutMachine) ConfirmPayout(ctx context.Context, payout PendingPayout) (ConfirmedPayout, error) {
	if err := payout.valid(); err != nil {
		return ConfirmedPayout{}, err
	}
	txn, err := p.transition(ctx, db.TransitionParams{
		ID:   payout.ID(),
		Type: db.TypePayout,
		From: db.StatusPending,
		To:   db.StatusConfirmed,
	})
	if err != nil {
		return ConfirmedPayout{}, err
	}
	return ConfirmedPayout{staged{txn}}, nil
}

// RejectNewPayout rejects a payout that has no wallet transaction yet.
func (p *PayoutMachine) RejectNewPayout(ctx context.Context, payout NewPayout) (RejectedPayout, error) {
	if err := payout.valid(); err != nil {
		return RejectedPayout{}, err
	}
	return p.reject(ctx, payout.tx, db.StatusNew, false)
}

// RejectInitializedPayout cancels the wallet transaction and rejects the payout.
func (p *PayoutMachine) RejectInitializedPayout(ctx context.Context, payout InitializedPayout) (RejectedPayout, error) {
	if err := payout.valid(); err != nil {
		return RejectedPayout{}, err
	}
	return p.reject(ctx, payout.tx, db.StatusInitialized, true)
}

// RejectPendingPayout cancels the wallet transaction and rejects the payout.
func (p *PayoutMachine) RejectPendingPayout(ctx context.Context, payout PendingPayout) (RejectedPayout, error) {
	if err := payout.valid(); err != nil {
		return RejectedPayout{}, err
	}
	return p.reject(ctx, payout.tx, db.StatusPending, true)
}

// reject moves a payout to rejected. When cancel is set the wallet
// transaction is cancelled first and a wallet failure leaves the payout
// unchanged. Rejections of the same payout are serialized so the wallet
// cancellation runs at most once per successful rejection in this process.
func (p *PayoutMachine) reject(ctx context.Context, txn *db.Transaction, from db.TransactionStatus, cancel bool) (RejectedPayout, error) {
	unlock := p.locks.Lock(txn.ID.String())
	defer unlock()

	if cancel {
		current, err := p.get(ctx, db.GetTransactionParams{
			ID:     txn.ID,
			Type:   ptr(db.TypePayout),
			Status: ptr(from),
		})
		if err != nil {
			return RejectedPayout{}, err
		}
		if current.WalletTxSlateID == nil {
			p.logger.Warn("payout has no wallet slate to cancel", "transaction_id", txn.ID, "status", from)
		} else if err := p.cancelUnbroadcast(ctx, current, from); err != nil {
			return RejectedPayout{}, err
		}
	}

	rejected, err := p.transition(ctx, db.TransitionParams{
		ID:   txn.ID,
		Type: db.TypePayout,
		From: from,
		To:   db.StatusRejected,
	})
	if err != nil {
		return RejectedPayout{}, err
	}
	return RejectedPayout{staged{rejected}}, nil
}

// cancelUnbroadcast cancels the payout's wallet transaction unless the wallet
// shows it already left: confirmed on chain, or finalized while the payout is
// still initialized.
func (p *PayoutMachine) cancelUnbroadcast(ctx context.Context, txn *db.Transaction, from db.TransactionStatus) error {
	slateID := *txn.WalletTxSlateID
	entry, err := p.wallet.GetTx(ctx, slateID)
	if err != nil {
		return fmt.Errorf("failed to look up wallet transaction: %w", err)
	}
	if entry.Confirmed || (from == db.StatusInitialized && entry.StoredTx != nil) {
		p.logger.Warn("refusing to cancel finalized wallet transaction",
			"transaction_id", txn.ID, "slate_id", slateID, "status", from, "confirmed", entry.Confirmed)
		return ErrTxFinalized
	}
	if err := p.wallet.CancelTx(ctx, slateID); err != nil {
		p.logger.Error("failed to cancel wallet transaction",
			"transaction_id", txn.ID, "slate_id", slateID, "error", err)
		return fmt.Errorf("failed to cancel wallet transaction: %w", err)
	}
	return nil
}

// RecoverPayout advances an initialized payout whose slate the wallet has
// already finalized, as happens when the process stops between broadcast and
// the pending update. The payout moves to pending, and on to confirmed when
// the wallet reports the transaction confirmed. It returns false when the
// wallet has not finalized the slate.
func (p *PayoutMachine) RecoverPayout(ctx context.Context, payout InitializedPayout) (bool, error) {
	if err := payout.valid(); err != nil {
		return false, err
	}
	unlock := p.locks.Lock(payout.ID().String())
	defer unlock()

	if payout.tx.WalletTxSlateID == nil {
		return false, nil
	}
	entry, err := p.wallet.GetTx(ctx, *payout.tx.WalletTxSlateID)
	if err != nil {
		return false, err
	}
	if !entry.Confirmed && entry.StoredTx == nil {
		return false, nil
	}

	p.logger.Warn("recovering payout finalized at the wallet",
		"transaction_id", payout.ID(), "slate_id", *payout.tx.WalletTxSlateID, "confirmed", entry.Confirmed)
	pending, err := p.FinalizePayout(ctx, payout)
	if err != nil {
		return false, err
	}
	if entry.Confirmed {
		if _, err := p.ConfirmPayout(ctx, pending); err != nil {
			return false, err
		}
	}
	return true, nil
}

// GetPayout returns a merchant's payout in any stage.
func (p *PayoutMachine) GetPayout(ctx context.Context, merchantID string, id uuid.UUID) (*db.Transaction, error) {
	return p.get(ctx, db.GetTransactionParams{
		ID:         id,
		MerchantID: &merchantID,
		Type:       ptr(db.TypePayout),
	})
}

// GetNewPayout returns a merchant's payout if it is still new.
func (p *PayoutMachine) GetNewPayout(ctx context.Context, merchantID string, id uuid.UUID) (NewPayout, error) {
	txn, err := p.get(ctx, db.GetTransactionParams{
		ID:         id,
		MerchantID: &merchantID,
		Type:       ptr(db.TypePayout),
		Status:     ptr(db.StatusNew),
	})
	if err != nil {
		return NewPayout{}, err
	}
	return NewPayout{staged{txn}}, nil
}

// GetInitializedPayout returns an initialized payout by id alone. Callers
// must authorize the request by other means, such as the slate id.
func (p *PayoutMachine) GetInitializedPayout(ctx context.Context, id uuid.UUID) (InitializedPayout, error) {
	txn, err := p.get(ctx, db.GetTransactionParams{
		ID:     id,
		Type:   ptr(db.TypePayout),
		Status: ptr(db.StatusInitialized),
	})
	if err != nil {
		return InitializedPayout{}, err
	}
	return InitializedPayout{staged{txn}}, nil
}

// GetInitializedPayouts returns all initialized payouts.
func (p *PayoutMachine) GetInitializedPayouts(ctx context.Context) ([]InitializedPayout, error) {
	txns, err := p.store.ListTransactionsByStatus(ctx, db.TypePayout, db.StatusInitialized)
	if err != nil {
		return nil, err
	}
	return wrap(txns, func(t *db.Transaction) InitializedPayout { return InitializedPayout{staged{t}} }), nil
}

// GetPendingPayouts returns all pending payouts.
func (p *PayoutMachine) GetPendingPayouts(ctx context.Context) ([]PendingPayout, error) {
	txns, err := p.store.ListTransactionsByStatus(ctx, db.TypePayout, db.StatusPending)
	if err != nil {
		return nil, err
	}
	return wrap(txns, func(t *db.Transaction) PendingPayout { return PendingPayout{staged{t}} }), nil
}

// GetExpiredNewPayouts returns new payouts created more than ttl ago.
func (p *PayoutMachine) GetExpiredNewPayouts(ctx context.Context, ttl time.Duration) ([]NewPayout, error) {
	txns, err := p.store.ListTransactionsCreatedBefore(ctx, db.TypePayout, db.StatusNew, p.now().Add(-ttl))
	if err != nil {
		return nil, err
	}
	return wrap(txns, func(t *db.Transaction) NewPayout { return NewPayout{staged{t}} }), nil
}

// GetExpiredInitializedPayouts returns initialized payouts created more than ttl ago.
func (p *PayoutMachine) GetExpiredInitializedPayouts(ctx context.Context, ttl time.Duration) ([]InitializedPayout, error) {
	txns, err := p.store.ListTransactionsCreatedBefore(ctx, db.TypePayout, db.StatusInitialized, p.now().Add(-ttl))
	if err != nil {
		return nil, err
	}
	return wrap(txns, func(t *db.Transaction) InitializedPayout { return InitializedPayout{staged{t}} }), nil
}

// GetExpiredPendingPayouts returns pending payouts whose last transition was
// more than ttl ago.
func (p *PayoutMachine) GetExpiredPendingPayouts(ctx context.Context, ttl time.Duration) ([]PendingPayout, error) {
	txns, err := p.store.ListTransactionsUpdatedBefore(ctx, db.TypePayout, db.StatusPending, p.now().Add(-ttl))
	if err != nil {
		return nil, err
	}
	return wrap(txns, func(t *db.Transaction) PendingPayout { return PendingPayout{staged{t}} }), nil
}

// GenerateSlate asks the wallet to build a send slate for a new payout and
// moves the payout to initialized. The wallet transaction is cancelled if
// the payout cannot be initialized.
func (p *PayoutMachine) GenerateSlate(ctx context.Context, merchantID string, id uuid.UUID) (*wallet.Slate, error) {
	payout, err := p.GetNewPayout(ctx, merchantID, id)
	if err != nil {
		return nil, err
	}
	net, err := p.fees.Net(payout.tx.GrinAmount)
	if err != nil {
		return nil, err
	}

	slate, err := p.wallet.CreateSlate(ctx, uint64(net), payout.tx.Message)
	if err != nil {
		return nil, err
	}

	if err := p.initializeFromSlate(ctx, payout, slate); err != nil {
		if cerr := p.wallet.CancelTx(ctx, slate.ID); cerr != nil {
			p.logger.Error("failed to cancel orphaned slate",
				"transaction_id", id, "slate_id", slate.ID, "error", cerr)
		}
		return nil, err
	}
	return slate, nil
}

func (p *PayoutMachine) initializeFromSlate(ctx context.Context, payout NewPayout, slate *wallet.Slate) error {
	entry, err := p.wallet.GetTx(ctx, slate.ID)
	if err != nil {
		return err
	}
	commit, err := slate.FirstOutputCommitment()
	if err != nil {
		return err
	}
	_, err = p.InitializePayout(ctx, payout, entry, commit)
	return err
}

// AcceptSlate finalizes and broadcasts the counter-signed slate of an
// initialized payout and moves the payout to pending. It is serialized with
// rejection and recovery of the same payout.
func (p *PayoutMachine) AcceptSlate(ctx context.Context, id uuid.UUID, slate *wallet.Slate) (PendingPayout, error) {
	unlock := p.locks.Lock(id.String())
	defer unlock()

	payout, err := p.GetInitializedPayout(ctx, id)
	if err != nil {
		return PendingPayout{}, err
	}
	if payout.tx.WalletTxSlateID == nil || *payout.tx.WalletTxSlateID != slate.ID {
		return PendingPayout{}, ErrSlateMismatch
	}

	if _, err := p.wallet.Finalize(ctx, slate); err != nil {
		return PendingPayout{}, err
	}
	if err := p.wallet.PostTx(ctx); err != nil {
		return PendingPayout{}, err
	}

	pending, err := p.FinalizePayout(ctx, payout)
	if errors.Is(err, ErrNotFound) {
		p.logger.Warn("payout changed stage after broadcast", "transaction_id", id, "slate_id", slate.ID)
	}
	return pending, err
}
