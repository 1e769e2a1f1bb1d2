package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/knockturn/service/db"
	"github.com/brojonat/knockturn/service/metrics"
	"github.com/brojonat/knockturn/service/money"
	"github.com/brojonat/knockturn/service/wallet"
	"github.com/google/uuid"
)

// RateConverter converts a display amount to nano-grin.
type RateConverter interface {
	ToGrin(ctx context.Context, amount money.Money) (int64, error)
}

// GrinOnly is a RateConverter that only accepts amounts already in GRIN.
type GrinOnly struct{}

// ToGrin implements RateConverter.
func (GrinOnly) ToGrin(_ context.Context, amount money.Money) (int64, error) {
	if amount.Currency != money.GRIN {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, amount.Currency)
	}
	return amount.Amount, nil
}

// PaymentMachine drives payments through new -> pending -> confirmed, with
// rejection of expired new and pending payments.
type PaymentMachine struct {
	machine
	rates RateConverter
}

// NewPaymentMachine creates a payment state machine. A nil rates converter
// accepts GRIN amounts only.
func NewPaymentMachine(store Store, w Wallet, rates RateConverter, publisher Publisher, m *metrics.Metrics, logger *slog.Logger) *PaymentMachine {
	if rates == nil {
		rates = GrinOnly{}
	}
	return &PaymentMachine{
		machine: newMachine(store, w, publisher, m, logger),
		rates:   rates,
	}
}

// CreatePaymentRequest is a merchant's request to be paid.
type CreatePaymentRequest struct {
	MerchantID    string
	ExternalID    string
	Amount        money.Money
	Confirmations int
	Email         *string
	Message       string
	RedirectURL   *string
}

// CreatePayment converts the requested amount to grin and inserts a new payment.
func (p *PaymentMachine) CreatePayment(ctx context.Context, req CreatePaymentRequest) (NewPayment, error) {
	if req.Amount.Amount <= 0 {
		return NewPayment{}, fmt.Errorf("amount must be positive")
	}
	grin, err := p.rates.ToGrin(ctx, req.Amount)
	if err != nil {
		return NewPayment{}, err
	}

	txn, err := p.store.CreatePayment(ctx, db.CreateTransactionParams{
		ID:            uuid.New(),
		ExternalID:    req.ExternalID,
		MerchantID:    req.MerchantID,
		Email:         req.Email,
		Amount:        req.Amount,
		GrinAmount:    grin,
		Confirmations: req.Confirmations,
		Message:       req.Message,
		RedirectURL:   req.RedirectURL,
	})
	if err != nil {
		return NewPayment{}, err
	}

	p.metrics.RecordCreated(string(db.TypePayment), txn.GrinAmount)
	p.logger.Info("payment created",
		"transaction_id", txn.ID, "merchant_id", txn.MerchantID, "external_id", txn.ExternalID, "grin_amount", txn.GrinAmount)
	p.publish(ctx, txn, "")
	return NewPayment{staged{txn}}, nil
}

// GetPayment returns a merchant's payment in any stage.
func (p *PaymentMachine) GetPayment(ctx context.Context, merchantID string, id uuid.UUID) (*db.Transaction, error) {
	return p.get(ctx, db.GetTransactionParams{
		ID:         id,
		MerchantID: &merchantID,
		Type:       ptr(db.TypePayment),
	})
}

// GetNewPayment returns a merchant's payment if it is still new.
func (p *PaymentMachine) GetNewPayment(ctx context.Context, merchantID string, id uuid.UUID) (NewPayment, error) {
	txn, err := p.get(ctx, db.GetTransactionParams{
		ID:         id,
		MerchantID: &merchantID,
		Type:       ptr(db.TypePayment),
		Status:     ptr(db.StatusNew),
	})
	if err != nil {
		return NewPayment{}, err
	}
	return NewPayment{staged{txn}}, nil
}

// GetPendingPayments returns all pending payments.
func (p *PaymentMachine) GetPendingPayments(ctx context.Context) ([]PendingPayment, error) {
	txns, err := p.store.ListTransactionsByStatus(ctx, db.TypePayment, db.StatusPending)
	if err != nil {
		return nil, err
	}
	return wrap(txns, func(t *db.Transaction) PendingPayment { return PendingPayment{staged{t}} }), nil
}

// GetExpiredNewPayments returns new payments created more than ttl ago.
func (p *PaymentMachine) GetExpiredNewPayments(ctx context.Context, ttl time.Duration) ([]NewPayment, error) {
	txns, err := p.store.ListTransactionsCreatedBefore(ctx, db.TypePayment, db.StatusNew, p.now().Add(-ttl))
	if err != nil {
		return nil, err
	}
	return wrap(txns, func(t *db.Transaction) NewPayment { return NewPayment{staged{t}} }), nil
}

// GetExpiredPendingPayments returns pending payments whose slate was
// received more than ttl ago.
func (p *PaymentMachine) GetExpiredPendingPayments(ctx context.Context, ttl time.Duration) ([]PendingPayment, error) {
	txns, err := p.store.ListTransactionsUpdatedBefore(ctx, db.TypePayment, db.StatusPending, p.now().Add(-ttl))
	if err != nil {
		return nil, err
	}
	return wrap(txns, func(t *db.Transaction) PendingPayment { return PendingPayment{staged{t}} }), nil
}

// MakePayment accepts the payer's slate for a new payment. The slate amount
// must match the payment exactly. The wallet signs the slate, and the
// counter-signed slate is returned for the payer to finalize.
func (p *PaymentMachine) MakePayment(ctx context.Context, payment NewPayment, slate *wallet.Slate) (*wallet.Slate, error) {
	if err := payment.valid(); err != nil {
		return nil, err
	}
	expected := uint64(payment.tx.GrinAmount)
	if uint64(slate.Amount) != expected {
		return nil, &WrongAmountError{Expected: expected, Actual: uint64(slate.Amount)}
	}

	received, err := p.wallet.Receive(ctx, slate)
	if err != nil {
		return nil, err
	}

	if err := p.recordReceived(ctx, payment, received); err != nil {
		if cerr := p.wallet.CancelTx(ctx, received.ID); cerr != nil {
			p.logger.Error("failed to cancel received slate",
				"transaction_id", payment.ID(), "slate_id", received.ID, "error", cerr)
		}
		return nil, err
	}
	return received, nil
}

func (p *PaymentMachine) recordReceived(ctx context.Context, payment NewPayment, received *wallet.Slate) error {
	commit, err := received.FirstOutputCommitment()
	if err != nil {
		return err
	}
	entry, err := p.wallet.GetTx(ctx, received.ID)
	if err != nil {
		return err
	}

	messages := entry.ParticipantMessages()
	params := db.TransitionParams{
		ID:              payment.ID(),
		Type:            db.TypePayment,
		From:            db.StatusNew,
		To:              db.StatusPending,
		WalletTxID:      ptr(int64(entry.ID)),
		WalletTxSlateID: ptr(received.ID),
		SlateMessages:   messages,
		RealTransferFee: entry.FeeAmount(),
		Commit:          ptr(commit.String()),
	}
	txn, err := p.store.MakePayment(ctx, params, db.TxRecordParams{
		SlateID:    received.ID,
		Fee:        entry.FeeAmount(),
		Messages:   messages,
		NumInputs:  entry.NumInputs,
		NumOutputs: entry.NumOutputs,
		TxType:     string(entry.TxType),
	})
	_, err = p.transitioned(ctx, params, txn, err)
	return err
}

// ConfirmPayment marks a pending payment as confirmed on chain.
func (p *PaymentMachine) ConfirmPayment(ctx context.Context, payment PendingPayment, confirmedAt time.Time) (ConfirmedPayment, error) {
	if err := payment.valid(); err != nil {
		return ConfirmedPayment{}, err
	}
	if payment.tx.WalletTxSlateID == nil {
		return ConfirmedPayment{}, fmt.Errorf("payment %s has no wallet slate", payment.ID())
	}

	txn, err := p.store.ConfirmPayment(ctx, db.ConfirmPaymentParams{
		ID:          payment.ID(),
		SlateID:     *payment.tx.WalletTxSlateID,
		ConfirmedAt: confirmedAt,
	})
	txn, err = p.transitioned(ctx, db.TransitionParams{
		ID:   payment.ID(),
		Type: db.TypePayment,
		From: db.StatusPending,
		To:   db.StatusConfirmed,
	}, txn, err)
	if err != nil {
		return ConfirmedPayment{}, err
	}
	return ConfirmedPayment{staged{txn}}, nil
}

// RejectNewPayment rejects a payment that was never paid.
func (p *PaymentMachine) RejectNewPayment(ctx context.Context, payment NewPayment) (RejectedPayment, error) {
	if err := payment.valid(); err != nil {
		return RejectedPayment{}, err
	}
	txn, err := p.transition(ctx, db.TransitionParams{
		ID:   payment.ID(),
		Type: db.TypePayment,
		From: db.StatusNew,
		To:   db.StatusRejected,
	})
	if err != nil {
		return RejectedPayment{}, err
	}
	return RejectedPayment{staged{txn}}, nil
}

// RejectPendingPayment cancels the received slate at the wallet and rejects
// a payment the payer never broadcast. A payment the wallet already reports
// confirmed is left for the confirmer and ErrTxFinalized is returned.
func (p *PaymentMachine) RejectPendingPayment(ctx context.Context, payment PendingPayment) (RejectedPayment, error) {
	if err := payment.valid(); err != nil {
		return RejectedPayment{}, err
	}
	unlock := p.locks.Lock(payment.ID().String())
	defer unlock()

	current, err := p.get(ctx, db.GetTransactionParams{
		ID:     payment.ID(),
		Type:   ptr(db.TypePayment),
		Status: ptr(db.StatusPending),
	})
	if err != nil {
		return RejectedPayment{}, err
	}
	if current.WalletTxSlateID == nil {
		p.logger.Warn("payment has no wallet slate to cancel", "transaction_id", current.ID)
	} else {
		slateID := *current.WalletTxSlateID
		entry, err := p.wallet.GetTx(ctx, slateID)
		if err != nil {
			return RejectedPayment{}, fmt.Errorf("failed to look up wallet transaction: %w", err)
		}
		if entry.Confirmed {
			p.logger.Warn("refusing to reject confirmed payment", "transaction_id", current.ID, "slate_id", slateID)
			return RejectedPayment{}, ErrTxFinalized
		}
		if err := p.wallet.CancelTx(ctx, slateID); err != nil {
			p.logger.Error("failed to cancel wallet transaction",
				"transaction_id", current.ID, "slate_id", slateID, "error", err)
			return RejectedPayment{}, fmt.Errorf("failed to cancel wallet transaction: %w", err)
		}
	}

	txn, err := p.transition(ctx, db.TransitionParams{
		ID:   payment.ID(),
		Type: db.TypePayment,
		From: db.StatusPending,
		To:   db.StatusRejected,
	})
	if err != nil {
		return RejectedPayment{}, err
	}
	return RejectedPayment{staged{txn}}, nil
}
