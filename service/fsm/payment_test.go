package fsm

import (
	"context"
	"testing"
	"time"

	"github.com/brojonat/knockturn/service/db"
	"github.com/brojonat/knockturn/service/fsm/fsmtest"
	"github.com/brojonat/knockturn/service/money"
	"github.com/brojonat/knockturn/service/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestPaymentMachine(t *testing.T) (*PaymentMachine, *fsmtest.MemStore, *fsmtest.MockWallet) {
	t.Helper()
	store := fsmtest.NewMemStore()
	store.AddMerchant("m1")
	w := new(fsmtest.MockWallet)
	pm := NewPaymentMachine(store, w, nil, &fsmtest.MockPublisher{}, nil, nil)
	pm.now = func() time.Time { return store.Now }
	return pm, store, w
}

func createTestPayment(t *testing.T, pm *PaymentMachine, amount int64) NewPayment {
	t.Helper()
	payment, err := pm.CreatePayment(context.Background(), CreatePaymentRequest{
		MerchantID:    "m1",
		ExternalID:    "order-1",
		Amount:        money.Grin(amount),
		Confirmations: 10,
		Message:       "order 1",
	})
	require.NoError(t, err)
	return payment
}

func TestCreatePayment(t *testing.T) {
	pm, _, _ := newTestPaymentMachine(t)

	payment := createTestPayment(t, pm, 1_500_000_000)
	txn := payment.Transaction()
	assert.Equal(t, db.StatusNew, txn.Status)
	assert.Equal(t, db.TypePayment, txn.Type)
	assert.Equal(t, "order-1", txn.ExternalID)
	assert.Equal(t, int64(1_500_000_000), txn.GrinAmount)
	assert.Equal(t, txn.Amount.Amount, txn.GrinAmount)
}

func TestCreatePayment_UnsupportedCurrency(t *testing.T) {
	pm, _, _ := newTestPaymentMachine(t)

	_, err := pm.CreatePayment(context.Background(), CreatePaymentRequest{
		MerchantID: "m1",
		ExternalID: "order-1",
		Amount:     money.Money{Amount: 1000, Currency: money.EUR},
	})
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestCreatePayment_Duplicate(t *testing.T) {
	pm, _, _ := newTestPaymentMachine(t)
	createTestPayment(t, pm, 1_000_000_000)

	_, err := pm.CreatePayment(context.Background(), CreatePaymentRequest{
		MerchantID: "m1",
		ExternalID: "order-1",
		Amount:     money.Grin(1_000_000_000),
	})
	assert.ErrorIs(t, err, db.ErrDuplicate)
}

type fixedRate struct{ perUnit int64 }

func (r fixedRate) ToGrin(_ context.Context, amount money.Money) (int64, error) {
	return amount.Amount * r.perUnit, nil
}

func TestCreatePayment_RateConverter(t *testing.T) {
	store := fsmtest.NewMemStore()
	pm := NewPaymentMachine(store, new(fsmtest.MockWallet), fixedRate{perUnit: 10_000_000}, nil, nil, nil)

	payment, err := pm.CreatePayment(context.Background(), CreatePaymentRequest{
		MerchantID: "m1",
		ExternalID: "order-eur",
		Amount:     money.Money{Amount: 250, Currency: money.EUR},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2_500_000_000), payment.Transaction().GrinAmount)
	assert.Equal(t, money.EUR, payment.Transaction().Amount.Currency)
}

func TestMakePayment(t *testing.T) {
	pm, store, w := newTestPaymentMachine(t)
	payment := createTestPayment(t, pm, 1_500_000_000)

	incoming := fsmtest.Slate("slate-9", 1_500_000_000, []byte{0x01})
	received := fsmtest.Slate("slate-9", 1_500_000_000, []byte{0x08, 0x0c})
	w.On("Receive", mock.Anything, incoming).Return(received, nil)
	w.On("GetTx", mock.Anything, "slate-9").Return(fsmtest.Entry(3, "slate-9"), nil)

	got, err := pm.MakePayment(context.Background(), payment, incoming)
	require.NoError(t, err)
	assert.Same(t, received, got)

	txn, err := pm.GetPayment(context.Background(), "m1", payment.ID())
	require.NoError(t, err)
	assert.Equal(t, db.StatusPending, txn.Status)
	require.NotNil(t, txn.Commit)
	assert.Equal(t, "080c", *txn.Commit)
	require.NotNil(t, txn.WalletTxSlateID)
	assert.Equal(t, "slate-9", *txn.WalletTxSlateID)
	require.NotNil(t, txn.WalletTxID)
	assert.Equal(t, int64(3), *txn.WalletTxID)

	record, ok := store.Record("slate-9")
	require.True(t, ok)
	assert.Equal(t, int64(1), record.NumInputs)
	assert.Equal(t, int64(2), record.NumOutputs)
	assert.Equal(t, string(wallet.TxSent), record.TxType)
	w.AssertExpectations(t)
}

func TestMakePayment_WrongAmount(t *testing.T) {
	pm, store, w := newTestPaymentMachine(t)
	payment := createTestPayment(t, pm, 1_500_000_000)

	_, err := pm.MakePayment(context.Background(), payment, fsmtest.Slate("slate-9", 1_400_000_000, []byte{0x01}))

	var wrong *WrongAmountError
	require.ErrorAs(t, err, &wrong)
	assert.Equal(t, uint64(1_500_000_000), wrong.Expected)
	assert.Equal(t, uint64(1_400_000_000), wrong.Actual)
	assert.Equal(t, db.StatusNew, store.Status(payment.ID()))
	w.AssertNotCalled(t, "Receive", mock.Anything, mock.Anything)
}

func TestMakePayment_ReceiveFails(t *testing.T) {
	pm, store, w := newTestPaymentMachine(t)
	payment := createTestPayment(t, pm, 1_500_000_000)
	incoming := fsmtest.Slate("slate-9", 1_500_000_000, []byte{0x01})

	w.On("Receive", mock.Anything, incoming).Return(nil, wallet.ErrWalletUnavailable)

	_, err := pm.MakePayment(context.Background(), payment, incoming)
	assert.ErrorIs(t, err, wallet.ErrWalletUnavailable)
	assert.Equal(t, db.StatusNew, store.Status(payment.ID()))
}

func TestMakePayment_DuplicateGetTxCancels(t *testing.T) {
	pm, store, w := newTestPaymentMachine(t)
	payment := createTestPayment(t, pm, 1_500_000_000)
	incoming := fsmtest.Slate("slate-9", 1_500_000_000, []byte{0x01})

	w.On("Receive", mock.Anything, incoming).Return(incoming, nil)
	w.On("GetTx", mock.Anything, "slate-9").Return(nil, &wallet.APIError{Message: "more than one transaction"})
	w.On("CancelTx", mock.Anything, "slate-9").Return(nil).Once()

	_, err := pm.MakePayment(context.Background(), payment, incoming)
	var apiErr *wallet.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "more than one transaction", apiErr.Message)
	assert.Equal(t, db.StatusNew, store.Status(payment.ID()))
	w.AssertExpectations(t)
}

func TestConfirmPayment_UpdatesBalance(t *testing.T) {
	pm, store, w := newTestPaymentMachine(t)
	payment := createTestPayment(t, pm, 1_500_000_000)
	incoming := fsmtest.Slate("slate-9", 1_500_000_000, []byte{0x01})
	w.On("Receive", mock.Anything, incoming).Return(incoming, nil)
	w.On("GetTx", mock.Anything, "slate-9").Return(fsmtest.Entry(3, "slate-9"), nil)
	_, err := pm.MakePayment(context.Background(), payment, incoming)
	require.NoError(t, err)
	assert.Equal(t, int64(0), store.Balance("m1"))

	pending, err := pm.GetPendingPayments(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)

	confirmedAt := store.Now.Add(time.Minute)
	confirmed, err := pm.ConfirmPayment(context.Background(), pending[0], confirmedAt)
	require.NoError(t, err)
	assert.Equal(t, db.StatusConfirmed, confirmed.Transaction().Status)
	assert.Equal(t, int64(1_500_000_000), store.Balance("m1"))
	at, ok := store.ConfirmedAt("slate-9")
	require.True(t, ok)
	assert.Equal(t, confirmedAt, at)

	_, err = pm.ConfirmPayment(context.Background(), pending[0], confirmedAt)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectNewPayment_Expired(t *testing.T) {
	pm, store, _ := newTestPaymentMachine(t)
	old := store.Put(&db.Transaction{
		MerchantID: "m1", Type: db.TypePayment, Status: db.StatusNew,
		CreatedAt: store.Now.Add(-48 * time.Hour),
	})
	createTestPayment(t, pm, 1_000_000_000)

	expired, err := pm.GetExpiredNewPayments(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID())

	rejected, err := pm.RejectNewPayment(context.Background(), expired[0])
	require.NoError(t, err)
	assert.Equal(t, db.StatusRejected, rejected.Transaction().Status)

	_, err = pm.RejectNewPayment(context.Background(), expired[0])
	assert.ErrorIs(t, err, ErrNotFound)
}

func pendingPayment(store *fsmtest.MemStore, slateID string, updated time.Duration) *db.Transaction {
	return store.Put(&db.Transaction{
		MerchantID:      "m1",
		Type:            db.TypePayment,
		Status:          db.StatusPending,
		GrinAmount:      1_000_000_000,
		WalletTxSlateID: &slateID,
		CreatedAt:       store.Now.Add(-updated - time.Hour),
		UpdatedAt:       store.Now.Add(-updated),
	})
}

func TestRejectPendingPayment_Expired(t *testing.T) {
	pm, store, w := newTestPaymentMachine(t)
	stale := pendingPayment(store, "slate-stale", 72*time.Hour)
	pendingPayment(store, "slate-recent", time.Hour)

	expired, err := pm.GetExpiredPendingPayments(context.Background(), 48*time.Hour)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID())

	w.On("GetTx", mock.Anything, "slate-stale").Return(fsmtest.Entry(3, "slate-stale"), nil)
	w.On("CancelTx", mock.Anything, "slate-stale").Return(nil).Once()

	rejected, err := pm.RejectPendingPayment(context.Background(), expired[0])
	require.NoError(t, err)
	assert.Equal(t, db.StatusRejected, rejected.Transaction().Status)
	assert.Equal(t, int64(0), store.Balance("m1"))

	_, err = pm.RejectPendingPayment(context.Background(), expired[0])
	assert.ErrorIs(t, err, ErrNotFound)
	w.AssertExpectations(t)
}

func TestRejectPendingPayment_RefusesConfirmedTx(t *testing.T) {
	pm, store, w := newTestPaymentMachine(t)
	payment := pendingPayment(store, "slate-9", 72*time.Hour)

	entry := fsmtest.Entry(3, "slate-9")
	entry.Confirmed = true
	w.On("GetTx", mock.Anything, "slate-9").Return(entry, nil)

	_, err := pm.RejectPendingPayment(context.Background(), PendingPayment{staged{payment}})
	assert.ErrorIs(t, err, ErrTxFinalized)
	assert.Equal(t, db.StatusPending, store.Status(payment.ID))
	w.AssertNotCalled(t, "CancelTx", mock.Anything, mock.Anything)
}

func TestRejectPendingPayment_CancelFailureLeavesStage(t *testing.T) {
	pm, store, w := newTestPaymentMachine(t)
	payment := pendingPayment(store, "slate-9", 72*time.Hour)

	w.On("GetTx", mock.Anything, "slate-9").Return(fsmtest.Entry(3, "slate-9"), nil)
	w.On("CancelTx", mock.Anything, "slate-9").Return(wallet.ErrWalletUnavailable)

	_, err := pm.RejectPendingPayment(context.Background(), PendingPayment{staged{payment}})
	assert.ErrorIs(t, err, wallet.ErrWalletUnavailable)
	assert.Equal(t, db.StatusPending, store.Status(payment.ID))
}
