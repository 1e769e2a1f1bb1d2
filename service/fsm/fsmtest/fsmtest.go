// Package fsmtest provides in-memory fakes for exercising the state machines.
package fsmtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/brojonat/knockturn/service/db"
	"github.com/brojonat/knockturn/service/wallet"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MemStore is an in-memory Store with the same conditional semantics as the
// Postgres store.
type MemStore struct {
	mu        sync.Mutex
	merchants map[string]*db.Merchant
	txns      map[uuid.UUID]*db.Transaction
	records   map[string]db.TxRecordParams
	confirmed map[string]time.Time
	Now       time.Time

	CreatePayoutCalls int
	PingErr           error
}

// NewMemStore returns an empty store whose clock is the current time.
func NewMemStore() *MemStore {
	return &MemStore{
		merchants: make(map[string]*db.Merchant),
		txns:      make(map[uuid.UUID]*db.Transaction),
		records:   make(map[string]db.TxRecordParams),
		confirmed: make(map[string]time.Time),
		Now:       time.Now().UTC(),
	}
}

// AddMerchant registers a merchant with a derived email and token.
func (s *MemStore) AddMerchant(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merchants[id] = &db.Merchant{ID: id, Email: id + "@example.com", Token: "token-" + id}
}

// Fund inserts a confirmed payment for the merchant.
func (s *MemStore) Fund(merchantID string, amount int64) {
	s.Put(&db.Transaction{
		MerchantID: merchantID,
		GrinAmount: amount,
		Status:     db.StatusConfirmed,
		Type:       db.TypePayment,
	})
}

// Put inserts a transaction as-is, filling in the id and timestamps.
func (s *MemStore) Put(txn *db.Transaction) *db.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = s.Now
	}
	if txn.UpdatedAt.IsZero() {
		txn.UpdatedAt = txn.CreatedAt
	}
	s.txns[txn.ID] = txn
	return copyTxn(txn)
}

// Status returns the current status of a transaction.
func (s *MemStore) Status(id uuid.UUID) db.TransactionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txns[id].Status
}

// Balance returns the ledger balance of a merchant.
func (s *MemStore) Balance(merchantID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(merchantID)
}

func (s *MemStore) balanceLocked(merchantID string) int64 {
	var b int64
	for _, t := range s.txns {
		if t.MerchantID != merchantID {
			continue
		}
		switch {
		case t.Type == db.TypePayment && (t.Status == db.StatusConfirmed || t.Status == db.StatusRefund):
			b += t.GrinAmount
		case t.Type == db.TypePayout && t.Status != db.StatusRejected:
			b -= t.GrinAmount
		}
	}
	return b
}

// Record returns the wallet transfer record stored for a slate.
func (s *MemStore) Record(slateID string) (db.TxRecordParams, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[slateID]
	return r, ok
}

// ConfirmedAt returns when the wallet transfer record of a slate was confirmed.
func (s *MemStore) ConfirmedAt(slateID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.confirmed[slateID]
	return t, ok
}

func copyTxn(t *db.Transaction) *db.Transaction {
	c := *t
	return &c
}

func (s *MemStore) insert(params db.CreateTransactionParams) *db.Transaction {
	txn := &db.Transaction{
		ID:            params.ID,
		ExternalID:    params.ExternalID,
		MerchantID:    params.MerchantID,
		Email:         params.Email,
		Amount:        params.Amount,
		GrinAmount:    params.GrinAmount,
		Status:        db.StatusNew,
		Confirmations: params.Confirmations,
		CreatedAt:     s.Now,
		UpdatedAt:     s.Now,
		Message:       params.Message,
		TransferFee:   params.TransferFee,
		ServiceFee:    params.ServiceFee,
		Type:          params.Type,
		RedirectURL:   params.RedirectURL,
	}
	s.txns[txn.ID] = txn
	return copyTxn(txn)
}

func (s *MemStore) CreatePayout(_ context.Context, params db.CreateTransactionParams, check db.BalanceCheck) (*db.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreatePayoutCalls++
	m, ok := s.merchants[params.MerchantID]
	if !ok {
		return nil, db.ErrNotFound
	}
	if check != nil {
		if err := check(m, s.balanceLocked(m.ID)); err != nil {
			return nil, err
		}
	}
	if params.Email == nil {
		params.Email = &m.Email
	}
	params.Type = db.TypePayout
	return s.insert(params), nil
}

func (s *MemStore) CreatePayment(_ context.Context, params db.CreateTransactionParams) (*db.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txns {
		if t.MerchantID == params.MerchantID && t.Type == db.TypePayment && t.ExternalID == params.ExternalID {
			return nil, db.ErrDuplicate
		}
	}
	params.Type = db.TypePayment
	return s.insert(params), nil
}

func (s *MemStore) transitionLocked(params db.TransitionParams) (*db.Transaction, error) {
	t, ok := s.txns[params.ID]
	if !ok || t.Type != params.Type || t.Status != params.From {
		return nil, db.ErrNotFound
	}
	t.Status = params.To
	t.UpdatedAt = s.Now
	if params.WalletTxID != nil {
		t.WalletTxID = params.WalletTxID
	}
	if params.WalletTxSlateID != nil {
		t.WalletTxSlateID = params.WalletTxSlateID
	}
	if params.SlateMessages != nil {
		t.SlateMessages = params.SlateMessages
	}
	if params.RealTransferFee != nil {
		t.RealTransferFee = params.RealTransferFee
	}
	if params.Commit != nil {
		t.Commit = params.Commit
	}
	if params.Height != nil {
		t.Height = params.Height
	}
	return copyTxn(t), nil
}

func (s *MemStore) TransitionTransaction(_ context.Context, params db.TransitionParams) (*db.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(params)
}

func (s *MemStore) MakePayment(_ context.Context, params db.TransitionParams, record db.TxRecordParams) (*db.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.SlateID]; ok {
		return nil, db.ErrDuplicate
	}
	txn, err := s.transitionLocked(params)
	if err != nil {
		return nil, err
	}
	s.records[record.SlateID] = record
	return txn, nil
}

func (s *MemStore) ConfirmPayment(_ context.Context, params db.ConfirmPaymentParams) (*db.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[params.SlateID]; !ok {
		return nil, db.ErrNotFound
	}
	if _, ok := s.confirmed[params.SlateID]; ok {
		return nil, db.ErrNotFound
	}
	txn, err := s.transitionLocked(db.TransitionParams{
		ID:   params.ID,
		Type: db.TypePayment,
		From: db.StatusPending,
		To:   db.StatusConfirmed,
	})
	if err != nil {
		return nil, err
	}
	s.confirmed[params.SlateID] = params.ConfirmedAt
	return txn, nil
}

func (s *MemStore) GetTransaction(_ context.Context, params db.GetTransactionParams) (*db.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[params.ID]
	if !ok ||
		(params.MerchantID != nil && t.MerchantID != *params.MerchantID) ||
		(params.Type != nil && t.Type != *params.Type) ||
		(params.Status != nil && t.Status != *params.Status) {
		return nil, db.ErrNotFound
	}
	return copyTxn(t), nil
}

func (s *MemStore) list(match func(*db.Transaction) bool) []*db.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.Transaction
	for _, t := range s.txns {
		if match(t) {
			out = append(out, copyTxn(t))
		}
	}
	return out
}

func (s *MemStore) ListTransactionsByStatus(_ context.Context, txType db.TransactionType, status db.TransactionStatus) ([]*db.Transaction, error) {
	return s.list(func(t *db.Transaction) bool {
		return t.Type == txType && t.Status == status
	}), nil
}

func (s *MemStore) ListTransactionsCreatedBefore(_ context.Context, txType db.TransactionType, status db.TransactionStatus, before time.Time) ([]*db.Transaction, error) {
	return s.list(func(t *db.Transaction) bool {
		return t.Type == txType && t.Status == status && t.CreatedAt.Before(before)
	}), nil
}

func (s *MemStore) ListTransactionsUpdatedBefore(_ context.Context, txType db.TransactionType, status db.TransactionStatus, before time.Time) ([]*db.Transaction, error) {
	return s.list(func(t *db.Transaction) bool {
		return t.Type == txType && t.Status == status && t.UpdatedAt.Before(before)
	}), nil
}

// MockWallet is a testify mock of the wallet API.
type MockWallet struct {
	mock.Mock
}

func (m *MockWallet) CreateSlate(ctx context.Context, amount uint64, message string) (*wallet.Slate, error) {
	args := m.Called(ctx, amount, message)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Slate), args.Error(1)
}

func (m *MockWallet) GetTx(ctx context.Context, slateID string) (*wallet.TxLogEntry, error) {
	args := m.Called(ctx, slateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.TxLogEntry), args.Error(1)
}

func (m *MockWallet) Receive(ctx context.Context, slate *wallet.Slate) (*wallet.Slate, error) {
	args := m.Called(ctx, slate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Slate), args.Error(1)
}

func (m *MockWallet) Finalize(ctx context.Context, slate *wallet.Slate) (*wallet.Slate, error) {
	args := m.Called(ctx, slate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Slate), args.Error(1)
}

func (m *MockWallet) PostTx(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockWallet) CancelTx(ctx context.Context, slateID string) error {
	args := m.Called(ctx, slateID)
	return args.Error(0)
}

// MockPublisher records published transitions.
type MockPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *MockPublisher) PublishTransition(_ context.Context, txn *db.Transaction, from db.TransactionStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, string(from)+"->"+string(txn.Status))
	return nil
}

// Events returns the published transitions as "from->to" strings.
func (p *MockPublisher) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// Slate builds a slate with a single output.
func Slate(id string, amount uint64, commit []byte) *wallet.Slate {
	return &wallet.Slate{
		ID:     id,
		Amount: wallet.Uint64String(amount),
		Tx: wallet.SlateTx{Body: wallet.TxBody{Outputs: []wallet.Output{
			{Commit: wallet.Commitment(commit)},
		}}},
	}
}

// Entry builds a sent-transaction log entry for a slate.
func Entry(id uint32, slateID string) *wallet.TxLogEntry {
	fee := wallet.Uint64String(7_000_000)
	msg := "thanks"
	return &wallet.TxLogEntry{
		ID:         id,
		TxSlateID:  &slateID,
		TxType:     wallet.TxSent,
		NumInputs:  1,
		NumOutputs: 2,
		Fee:        &fee,
		Messages: &wallet.ParticipantMessages{Messages: []wallet.ParticipantMessageData{
			{ID: 0, PublicKey: "02ab", Message: &msg},
			{ID: 1, PublicKey: "03cd"},
		}},
	}
}

// SetCallback sets the callback URL of a merchant.
func (s *MemStore) SetCallback(merchantID, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merchants[merchantID].CallbackURL = &url
}

// Get returns a copy of a transaction regardless of its stage.
func (s *MemStore) Get(id uuid.UUID) *db.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTxn(s.txns[id])
}

func (s *MemStore) Ping(context.Context) error {
	return s.PingErr
}

func (s *MemStore) GetMerchant(_ context.Context, id string) (*db.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	c := *m
	c.Balance = s.balanceLocked(id)
	return &c, nil
}

func (s *MemStore) GetMerchantByToken(_ context.Context, token string) (*db.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.merchants {
		if m.Token == token {
			c := *m
			c.Balance = s.balanceLocked(m.ID)
			return &c, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *MemStore) GetMerchantBalance(_ context.Context, merchantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.merchants[merchantID]; !ok {
		return 0, db.ErrNotFound
	}
	return s.balanceLocked(merchantID), nil
}

func (s *MemStore) ListMerchantTransactions(_ context.Context, merchantID string, limit, offset int32) ([]*db.Transaction, error) {
	txns := s.list(func(t *db.Transaction) bool { return t.MerchantID == merchantID })
	sort.Slice(txns, func(i, j int) bool { return txns[i].CreatedAt.After(txns[j].CreatedAt) })
	if int(offset) >= len(txns) {
		return []*db.Transaction{}, nil
	}
	txns = txns[offset:]
	if int(limit) < len(txns) {
		txns = txns[:limit]
	}
	return txns, nil
}

func (s *MemStore) ListUnreportedTransactions(_ context.Context, maxAttempts int, now time.Time, limit int32) ([]*db.Transaction, error) {
	txns := s.list(func(t *db.Transaction) bool {
		terminal := t.Status == db.StatusConfirmed || t.Status == db.StatusRejected
		due := t.NextReportAttempt == nil || !t.NextReportAttempt.After(now)
		return terminal && !t.Reported && t.ReportAttempts < maxAttempts && due
	})
	if int(limit) < len(txns) {
		txns = txns[:limit]
	}
	return txns, nil
}

func (s *MemStore) MarkReported(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return db.ErrNotFound
	}
	t.Reported = true
	return nil
}

func (s *MemStore) RecordReportAttempt(_ context.Context, id uuid.UUID, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return db.ErrNotFound
	}
	t.ReportAttempts++
	t.NextReportAttempt = &next
	return nil
}
