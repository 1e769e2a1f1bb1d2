package fsm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/knockturn/service/db"
	"github.com/brojonat/knockturn/service/metrics"
	"github.com/brojonat/knockturn/service/wallet"
)

// Store is the persistence used by the state machines.
type Store interface {
	CreatePayout(ctx context.Context, params db.CreateTransactionParams, check db.BalanceCheck) (*db.Transaction, error)
	CreatePayment(ctx context.Context, params db.CreateTransactionParams) (*db.Transaction, error)
	TransitionTransaction(ctx context.Context, params db.TransitionParams) (*db.Transaction, error)
	MakePayment(ctx context.Context, params db.TransitionParams, record db.TxRecordParams) (*db.Transaction, error)
	ConfirmPayment(ctx context.Context, params db.ConfirmPaymentParams) (*db.Transaction, error)
	GetTransaction(ctx context.Context, params db.GetTransactionParams) (*db.Transaction, error)
	ListTransactionsByStatus(ctx context.Context, txType db.TransactionType, status db.TransactionStatus) ([]*db.Transaction, error)
	ListTransactionsCreatedBefore(ctx context.Context, txType db.TransactionType, status db.TransactionStatus, before time.Time) ([]*db.Transaction, error)
	ListTransactionsUpdatedBefore(ctx context.Context, txType db.TransactionType, status db.TransactionStatus, before time.Time) ([]*db.Transaction, error)
}

// Wallet is the remote wallet used by the state machines.
type Wallet interface {
	CreateSlate(ctx context.Context, amount uint64, message string) (*wallet.Slate, error)
	GetTx(ctx context.Context, slateID string) (*wallet.TxLogEntry, error)
	Receive(ctx context.Context, slate *wallet.Slate) (*wallet.Slate, error)
	Finalize(ctx context.Context, slate *wallet.Slate) (*wallet.Slate, error)
	PostTx(ctx context.Context) error
	CancelTx(ctx context.Context, slateID string) error
}

// Publisher announces committed status transitions.
type Publisher interface {
	PublishTransition(ctx context.Context, txn *db.Transaction, from db.TransactionStatus) error
}

// machine holds what both state machines share.
type machine struct {
	store     Store
	wallet    Wallet
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	locks     *keyedMutex
}

func newMachine(store Store, w Wallet, publisher Publisher, m *metrics.Metrics, logger *slog.Logger) machine {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return machine{
		store:     store,
		wallet:    w,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
		locks:     newKeyedMutex(),
	}
}

// transition performs a conditional status update and records its outcome.
func (m *machine) transition(ctx context.Context, params db.TransitionParams) (*db.Transaction, error) {
	start := time.Now()
	txn, err := m.store.TransitionTransaction(ctx, params)
	m.metrics.RecordDBQuery("transition", "transactions", time.Since(start).Seconds(), err)
	return m.transitioned(ctx, params, txn, err)
}

// transitioned records and announces the result of a store transition.
func (m *machine) transitioned(ctx context.Context, params db.TransitionParams, txn *db.Transaction, err error) (*db.Transaction, error) {
	from, to, typ := string(params.From), string(params.To), string(params.Type)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			m.metrics.RecordTransition(typ, from, to, "lost_race")
			m.logger.Debug("transition matched no rows",
				"transaction_id", params.ID, "type", typ, "from", from, "to", to)
			return nil, ErrNotFound
		}
		m.metrics.RecordTransition(typ, from, to, "error")
		m.logger.Error("transition failed",
			"transaction_id", params.ID, "type", typ, "from", from, "to", to, "error", err)
		return nil, err
	}

	m.metrics.RecordTransition(typ, from, to, "success")
	m.logger.Info("transaction transitioned",
		"transaction_id", txn.ID, "merchant_id", txn.MerchantID, "type", typ, "from", from, "to", to)
	m.publish(ctx, txn, params.From)
	return txn, nil
}

func (m *machine) publish(ctx context.Context, txn *db.Transaction, from db.TransactionStatus) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishTransition(ctx, txn, from); err != nil {
		m.logger.Warn("failed to publish transition", "transaction_id", txn.ID, "error", err)
	}
}

func (m *machine) get(ctx context.Context, params db.GetTransactionParams) (*db.Transaction, error) {
	start := time.Now()
	txn, err := m.store.GetTransaction(ctx, params)
	m.metrics.RecordDBQuery("get", "transactions", time.Since(start).Seconds(), err)
	return txn, err
}

func ptr[T any](v T) *T {
	return &v
}

// keyedMutex serializes work per key within a process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
