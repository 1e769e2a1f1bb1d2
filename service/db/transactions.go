package db

import (
	"context"
	"fmt"
	"time"

	"github.com/brojonat/knockturn/service/db/dbgen"
	"github.com/brojonat/knockturn/service/money"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// TransactionStatus is the lifecycle status shared by payments and payouts.
type TransactionStatus string

const (
	StatusNew         TransactionStatus = "new"
	StatusInitialized TransactionStatus = "initialized"
	StatusPending     TransactionStatus = "pending"
	StatusConfirmed   TransactionStatus = "confirmed"
	StatusRejected    TransactionStatus = "rejected"
	StatusRefund      TransactionStatus = "refund"
)

// TransactionType distinguishes money in (payment) from money out (payout).
type TransactionType string

const (
	TypePayment TransactionType = "payment"
	TypePayout  TransactionType = "payout"
)

// Transaction is a single ledger row for either a payment or a payout.
type Transaction struct {
	ID                uuid.UUID         `json:"id"`
	ExternalID        string            `json:"external_id"`
	MerchantID        string            `json:"merchant_id"`
	Email             *string           `json:"email,omitempty"`
	Amount            money.Money       `json:"amount"`
	GrinAmount        int64             `json:"grin_amount"`
	Status            TransactionStatus `json:"status"`
	Confirmations     int               `json:"confirmations"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	Reported          bool              `json:"reported"`
	ReportAttempts    int               `json:"report_attempts"`
	NextReportAttempt *time.Time        `json:"next_report_attempt,omitempty"`
	WalletTxID        *int64            `json:"wallet_tx_id,omitempty"`
	WalletTxSlateID   *string           `json:"wallet_tx_slate_id,omitempty"`
	Message           string            `json:"message"`
	SlateMessages     []string          `json:"slate_messages,omitempty"`
	TransferFee       *int64            `json:"transfer_fee,omitempty"`
	ServiceFee        *int64            `json:"service_fee,omitempty"`
	RealTransferFee   *int64            `json:"real_transfer_fee,omitempty"`
	Type              TransactionType   `json:"transaction_type"`
	Height            *int64            `json:"height,omitempty"`
	Commit            *string           `json:"commit,omitempty"`
	RedirectURL       *string           `json:"redirect_url,omitempty"`
}

// CreateTransactionParams contains the parameters for inserting a transaction.
// New rows always start in StatusNew.
type CreateTransactionParams struct {
	ID            uuid.UUID
	ExternalID    string
	MerchantID    string
	Email         *string
	Amount        money.Money
	GrinAmount    int64
	Confirmations int
	Message       string
	TransferFee   *int64
	ServiceFee    *int64
	Type          TransactionType
	RedirectURL   *string
}

// BalanceCheck inspects the locked merchant and its ledger balance before a
// payout is inserted. Returning an error aborts the insert.
type BalanceCheck func(m *Merchant, balance int64) error

// TransitionParams describes a conditional status update. Optional wallet
// fields are written only when non-nil.
type TransitionParams struct {
	ID              uuid.UUID
	Type            TransactionType
	From            TransactionStatus
	To              TransactionStatus
	WalletTxID      *int64
	WalletTxSlateID *string
	SlateMessages   []string
	RealTransferFee *int64
	Commit          *string
	Height          *int64
}

// GetTransactionParams scopes a lookup. Nil filters are ignored.
type GetTransactionParams struct {
	ID         uuid.UUID
	MerchantID *string
	Type       *TransactionType
	Status     *TransactionStatus
}

// CreatePayout inserts a payout after locking the merchant row and running
// check against the current ledger balance, all in one database transaction.
// Concurrent payouts for the same merchant are serialized by the row lock.
// When params.Email is nil the merchant's email is used.
func (s *Store) CreatePayout(ctx context.Context, params CreateTransactionParams, check BalanceCheck) (*Transaction, error) {
	var created *Transaction
	err := s.inTx(ctx, func(q *dbgen.Queries) error {
		m, err := q.LockMerchant(ctx, params.MerchantID)
		if err != nil {
			return mapError(err)
		}
		balance, err := q.GetMerchantBalance(ctx, params.MerchantID)
		if err != nil {
			return fmt.Errorf("failed to compute balance: %w", err)
		}
		merchant := dbMerchantToDomain(&m)
		if check != nil {
			if err := check(merchant, balance); err != nil {
				return err
			}
		}
		if params.Email == nil {
			params.Email = &merchant.Email
		}
		params.Type = TypePayout

		row, err := q.CreateTransaction(ctx, createParamsToDB(params))
		if err != nil {
			return mapError(err)
		}
		if err := q.RefreshMerchantBalance(ctx, params.MerchantID); err != nil {
			return fmt.Errorf("failed to refresh balance: %w", err)
		}
		created = dbTransactionToDomain(&row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreatePayment inserts a new payment.
func (s *Store) CreatePayment(ctx context.Context, params CreateTransactionParams) (*Transaction, error) {
	params.Type = TypePayment
	row, err := s.q.CreateTransaction(ctx, createParamsToDB(params))
	if err != nil {
		return nil, mapError(err)
	}
	return dbTransactionToDomain(&row), nil
}

// TransitionTransaction moves a transaction from params.From to params.To.
// It returns ErrNotFound when the row does not exist or is no longer in
// params.From, so only one of several racing callers can succeed.
func (s *Store) TransitionTransaction(ctx context.Context, params TransitionParams) (*Transaction, error) {
	var updated *Transaction
	err := s.inTx(ctx, func(q *dbgen.Queries) error {
		var err error
		updated, err = transition(ctx, q, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// TxRecordParams describes the wallet-side transfer record of a payment.
type TxRecordParams struct {
	SlateID    string
	Fee        *int64
	Messages   []string
	NumInputs  int64
	NumOutputs int64
	TxType     string
}

// MakePayment records the wallet transfer and transitions the payment in one
// database transaction.
func (s *Store) MakePayment(ctx context.Context, params TransitionParams, record TxRecordParams) (*Transaction, error) {
	var updated *Transaction
	err := s.inTx(ctx, func(q *dbgen.Queries) error {
		messages := record.Messages
		if messages == nil {
			messages = []string{}
		}
		if _, err := q.CreateTx(ctx, dbgen.CreateTxParams{
			SlateID:    record.SlateID,
			Fee:        pgint8FromInt64Ptr(record.Fee),
			Messages:   messages,
			NumInputs:  record.NumInputs,
			NumOutputs: record.NumOutputs,
			TxType:     record.TxType,
			OrderID:    pgUUID(params.ID),
		}); err != nil {
			return mapError(err)
		}
		var err error
		updated, err = transition(ctx, q, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ConfirmPaymentParams identifies the wallet record and payment to confirm.
type ConfirmPaymentParams struct {
	ID          uuid.UUID
	SlateID     string
	ConfirmedAt time.Time
}

// ConfirmPayment marks the wallet transfer record confirmed and then moves the
// payment from pending to confirmed, atomically.
func (s *Store) ConfirmPayment(ctx context.Context, params ConfirmPaymentParams) (*Transaction, error) {
	var updated *Transaction
	err := s.inTx(ctx, func(q *dbgen.Queries) error {
		if _, err := q.ConfirmTx(ctx, dbgen.ConfirmTxParams{
			SlateID:     params.SlateID,
			OrderID:     pgUUID(params.ID),
			ConfirmedAt: pgTimestamptz(params.ConfirmedAt),
		}); err != nil {
			return mapError(err)
		}
		var err error
		updated, err = transition(ctx, q, TransitionParams{
			ID:   params.ID,
			Type: TypePayment,
			From: StatusPending,
			To:   StatusConfirmed,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func transition(ctx context.Context, q *dbgen.Queries, params TransitionParams) (*Transaction, error) {
	row, err := q.TransitionTransaction(ctx, dbgen.TransitionTransactionParams{
		ToStatus:        string(params.To),
		WalletTxID:      pgint8FromInt64Ptr(params.WalletTxID),
		WalletTxSlateID: pgtextFromStringPtr(params.WalletTxSlateID),
		SlateMessages:   params.SlateMessages,
		RealTransferFee: pgint8FromInt64Ptr(params.RealTransferFee),
		Commit:          pgtextFromStringPtr(params.Commit),
		Height:          pgint8FromInt64Ptr(params.Height),
		ID:              pgUUID(params.ID),
		TransactionType: string(params.Type),
		FromStatus:      string(params.From),
	})
	if err != nil {
		return nil, mapError(err)
	}
	// The refresh must start after the merchant row lock is held so its
	// snapshot includes transitions committed by other holders.
	if _, err := q.LockMerchant(ctx, row.MerchantID); err != nil {
		return nil, mapError(err)
	}
	if err := q.RefreshMerchantBalance(ctx, row.MerchantID); err != nil {
		return nil, fmt.Errorf("failed to refresh balance: %w", err)
	}
	return dbTransactionToDomain(&row), nil
}

// GetTransaction retrieves a transaction, optionally scoped by merchant, type
// and status.
func (s *Store) GetTransaction(ctx context.Context, params GetTransactionParams) (*Transaction, error) {
	arg := dbgen.GetTransactionParams{
		ID:         pgUUID(params.ID),
		MerchantID: pgtextFromStringPtr(params.MerchantID),
	}
	if params.Type != nil {
		arg.TransactionType = pgtype.Text{String: string(*params.Type), Valid: true}
	}
	if params.Status != nil {
		arg.Status = pgtype.Text{String: string(*params.Status), Valid: true}
	}
	row, err := s.q.GetTransaction(ctx, arg)
	if err != nil {
		return nil, mapError(err)
	}
	return dbTransactionToDomain(&row), nil
}

// ListTransactionsByStatus returns all transactions of a type in a status.
func (s *Store) ListTransactionsByStatus(ctx context.Context, txType TransactionType, status TransactionStatus) ([]*Transaction, error) {
	rows, err := s.q.ListTransactionsByStatus(ctx, dbgen.ListTransactionsByStatusParams{
		TransactionType: string(txType),
		Status:          string(status),
	})
	if err != nil {
		return nil, err
	}
	return dbTransactionsToDomain(rows), nil
}

// ListTransactionsCreatedBefore returns transactions of a type in a status
// created before the given time.
func (s *Store) ListTransactionsCreatedBefore(ctx context.Context, txType TransactionType, status TransactionStatus, before time.Time) ([]*Transaction, error) {
	rows, err := s.q.ListTransactionsCreatedBefore(ctx, dbgen.ListTransactionsCreatedBeforeParams{
		TransactionType: string(txType),
		Status:          string(status),
		CreatedAt:       pgTimestamptz(before),
	})
	if err != nil {
		return nil, err
	}
	return dbTransactionsToDomain(rows), nil
}

// ListTransactionsUpdatedBefore returns transactions of a type in a status
// whose last transition happened before the given time.
func (s *Store) ListTransactionsUpdatedBefore(ctx context.Context, txType TransactionType, status TransactionStatus, before time.Time) ([]*Transaction, error) {
	rows, err := s.q.ListTransactionsUpdatedBefore(ctx, dbgen.ListTransactionsUpdatedBeforeParams{
		TransactionType: string(txType),
		Status:          string(status),
		UpdatedAt:       pgTimestamptz(before),
	})
	if err != nil {
		return nil, err
	}
	return dbTransactionsToDomain(rows), nil
}

// ListMerchantTransactions returns a merchant's transactions, newest first.
func (s *Store) ListMerchantTransactions(ctx context.Context, merchantID string, limit, offset int32) ([]*Transaction, error) {
	rows, err := s.q.ListMerchantTransactions(ctx, dbgen.ListMerchantTransactionsParams{
		MerchantID: merchantID,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, err
	}
	return dbTransactionsToDomain(rows), nil
}

// ListUnreportedTransactions returns terminal transactions whose merchant
// callback is due.
func (s *Store) ListUnreportedTransactions(ctx context.Context, maxAttempts int, now time.Time, limit int32) ([]*Transaction, error) {
	rows, err := s.q.ListUnreportedTransactions(ctx, dbgen.ListUnreportedTransactionsParams{
		MaxAttempts: int32(maxAttempts),
		Now:         pgTimestamptz(now),
		Limit:       limit,
	})
	if err != nil {
		return nil, err
	}
	return dbTransactionsToDomain(rows), nil
}

// MarkReported flags a transaction as reported to its merchant.
func (s *Store) MarkReported(ctx context.Context, id uuid.UUID) error {
	return s.q.MarkTransactionReported(ctx, pgUUID(id))
}

// RecordReportAttempt increments the report attempt counter and schedules the next attempt.
func (s *Store) RecordReportAttempt(ctx context.Context, id uuid.UUID, next time.Time) error {
	return s.q.RecordReportAttempt(ctx, dbgen.RecordReportAttemptParams{
		ID:                pgUUID(id),
		NextReportAttempt: pgTimestamptz(next),
	})
}

func createParamsToDB(params CreateTransactionParams) dbgen.CreateTransactionParams {
	return dbgen.CreateTransactionParams{
		ID:              pgUUID(params.ID),
		ExternalID:      params.ExternalID,
		MerchantID:      params.MerchantID,
		Email:           pgtextFromStringPtr(params.Email),
		Amount:          params.Amount.Amount,
		Currency:        string(params.Amount.Currency),
		GrinAmount:      params.GrinAmount,
		Status:          string(StatusNew),
		Confirmations:   int32(params.Confirmations),
		Message:         params.Message,
		TransferFee:     pgint8FromInt64Ptr(params.TransferFee),
		KnockturnFee:    pgint8FromInt64Ptr(params.ServiceFee),
		TransactionType: string(params.Type),
		RedirectUrl:     pgtextFromStringPtr(params.RedirectURL),
	}
}

func dbTransactionToDomain(db *dbgen.Transaction) *Transaction {
	return &Transaction{
		ID:                uuid.UUID(db.ID.Bytes),
		ExternalID:        db.ExternalID,
		MerchantID:        db.MerchantID,
		Email:             stringPtrFromPgtext(db.Email),
		Amount:            money.Money{Amount: db.Amount, Currency: money.Currency(db.Currency)},
		GrinAmount:        db.GrinAmount,
		Status:            TransactionStatus(db.Status),
		Confirmations:     int(db.Confirmations),
		CreatedAt:         db.CreatedAt.Time,
		UpdatedAt:         db.UpdatedAt.Time,
		Reported:          db.Reported,
		ReportAttempts:    int(db.ReportAttempts),
		NextReportAttempt: timePtrFromPgTimestamptz(db.NextReportAttempt),
		WalletTxID:        int64PtrFromPgint8(db.WalletTxID),
		WalletTxSlateID:   stringPtrFromPgtext(db.WalletTxSlateID),
		Message:           db.Message,
		SlateMessages:     db.SlateMessages,
		TransferFee:       int64PtrFromPgint8(db.TransferFee),
		ServiceFee:        int64PtrFromPgint8(db.KnockturnFee),
		RealTransferFee:   int64PtrFromPgint8(db.RealTransferFee),
		Type:              TransactionType(db.TransactionType),
		Height:            int64PtrFromPgint8(db.Height),
		Commit:            stringPtrFromPgtext(db.Commit),
		RedirectURL:       stringPtrFromPgtext(db.RedirectUrl),
	}
}

func dbTransactionsToDomain(rows []dbgen.Transaction) []*Transaction {
	txns := make([]*Transaction, len(rows))
	for i := range rows {
		txns[i] = dbTransactionToDomain(&rows[i])
	}
	return txns
}

// WalletTx is the wallet-side record of a received payment slate.
type WalletTx struct {
	SlateID     string     `json:"slate_id"`
	OrderID     uuid.UUID  `json:"order_id"`
	TxType      string     `json:"tx_type"`
	Fee         *int64     `json:"fee,omitempty"`
	Messages    []string   `json:"messages"`
	NumInputs   int64      `json:"num_inputs"`
	NumOutputs  int64      `json:"num_outputs"`
	Confirmed   bool       `json:"confirmed"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// GetWalletTx retrieves the wallet record stored for a slate.
func (s *Store) GetWalletTx(ctx context.Context, slateID string) (*WalletTx, error) {
	row, err := s.q.GetTx(ctx, slateID)
	if err != nil {
		return nil, mapError(err)
	}
	return &WalletTx{
		SlateID:     row.SlateID,
		OrderID:     uuid.UUID(row.OrderID.Bytes),
		TxType:      row.TxType,
		Fee:         int64PtrFromPgint8(row.Fee),
		Messages:    row.Messages,
		NumInputs:   row.NumInputs,
		NumOutputs:  row.NumOutputs,
		Confirmed:   row.Confirmed,
		ConfirmedAt: timePtrFromPgTimestamptz(row.ConfirmedAt),
		CreatedAt:   row.CreatedAt.Time,
		UpdatedAt:   row.UpdatedAt.Time,
	}, nil
}
