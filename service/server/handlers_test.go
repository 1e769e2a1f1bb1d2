package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/knockturn/service/config"
	"github.com/brojonat/knockturn/service/db"
	"github.com/brojonat/knockturn/service/fsm"
	"github.com/brojonat/knockturn/service/fsm/fsmtest"
	"github.com/brojonat/knockturn/service/money"
	"github.com/brojonat/knockturn/service/wallet"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store    *fsmtest.MemStore
	wallet   *fsmtest.MockWallet
	payouts  *fsm.PayoutMachine
	payments *fsm.PaymentMachine
	server   *Server
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := fsmtest.NewMemStore()
	store.AddMerchant("m1")
	store.AddMerchant("m2")
	w := new(fsmtest.MockWallet)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	payouts := fsm.NewPayoutMachine(store, w, money.DefaultFeeSchedule(), nil, nil, logger)
	payments := fsm.NewPaymentMachine(store, w, nil, nil, nil, logger)
	cfg := &config.Config{
		PublicURL:           "https://pay.example.com",
		NewPaymentTTL:       24 * time.Hour,
		PayoutConfirmations: 10,
	}

	srv := New(":0", cfg, store, payouts, payments, nil, nil, logger)
	require.NoError(t, srv.WithTemplates())

	return &testEnv{
		store:    store,
		wallet:   w,
		payouts:  payouts,
		payments: payments,
		server:   srv,
		handler:  srv.Handler(),
	}
}

// do sends a request. body may be a string (sent as-is) or a value to marshal.
func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, rec, &body)
	return body["error"]
}

func (e *testEnv) createPayout(t *testing.T, amount int64) transactionResponse {
	t.Helper()
	rec := e.do(t, "POST", "/api/v1/merchants/m1/payouts", "token-m1", map[string]interface{}{"amount": amount})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp transactionResponse
	decodeBody(t, rec, &resp)
	return resp
}

func (e *testEnv) createPayment(t *testing.T, orderID string, nanogrin int64) transactionResponse {
	t.Helper()
	rec := e.do(t, "POST", "/api/v1/merchants/m1/payments", "token-m1", map[string]interface{}{
		"order_id":      orderID,
		"amount":        map[string]interface{}{"amount": nanogrin, "currency": "GRIN"},
		"confirmations": 10,
		"message":       "order " + orderID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp transactionResponse
	decodeBody(t, rec, &resp)
	return resp
}

func slateWithID(id string) interface{} {
	return mock.MatchedBy(func(s *wallet.Slate) bool { return s != nil && s.ID == id })
}

func TestMerchantAuth(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name           string
		token          string
		path           string
		expectedStatus int
		expectedError  string
	}{
		{"missing token", "", "/api/v1/merchants/m1/balance", http.StatusUnauthorized, "missing bearer token"},
		{"unknown token", "token-nobody", "/api/v1/merchants/m1/balance", http.StatusUnauthorized, "invalid token"},
		{"other merchant", "token-m2", "/api/v1/merchants/m1/balance", http.StatusForbidden, "wrong merchant_id"},
		{"other merchant payouts", "token-m2", "/api/v1/merchants/m1/transactions", http.StatusForbidden, "wrong merchant_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "GET", tt.path, tt.token, nil)
			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Equal(t, tt.expectedError, errorMessage(t, rec))
		})
	}
}

func TestMerchantAuth_NonBearerScheme(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/merchants/m1/balance", nil)
	req.SetBasicAuth("m1", "token-m1")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	env.store.PingErr = errors.New("connection refused")
	rec = env.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "OPTIONS", "/api/v1/merchants/m1/payouts", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestGetBalance(t *testing.T) {
	env := newTestEnv(t)
	env.store.Fund("m1", 5_000_000_000)
	env.store.Fund("m2", 1_000_000_000)

	rec := env.do(t, "GET", "/api/v1/merchants/m1/balance", "token-m1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp balanceResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "m1", resp.MerchantID)
	assert.Equal(t, int64(5_000_000_000), resp.Balance)
	assert.Equal(t, "5.000000000 GRIN", resp.Display)
}

func TestListTransactions_PathologicalInput(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expectedError  string
	}{
		{"non-numeric limit", "?limit=abc", http.StatusBadRequest, "invalid limit parameter: must be an integer"},
		{"zero limit", "?limit=0", http.StatusBadRequest, "limit must be at least 1"},
		{"negative limit", "?limit=-5", http.StatusBadRequest, "limit must be at least 1"},
		{"limit too large", "?limit=1001", http.StatusBadRequest, "limit cannot exceed 1000"},
		{"non-numeric offset", "?offset=x", http.StatusBadRequest, "invalid offset parameter: must be an integer"},
		{"negative offset", "?offset=-1", http.StatusBadRequest, "offset cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "GET", "/api/v1/merchants/m1/transactions"+tt.query, "token-m1", nil)
			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Equal(t, tt.expectedError, errorMessage(t, rec))
		})
	}
}

func TestListTransactions(t *testing.T) {
	env := newTestEnv(t)
	env.store.Fund("m1", 5_000_000_000)
	env.store.Fund("m2", 1_000_000_000)
	env.createPayment(t, "a", 1_000_000_000)
	env.createPayment(t, "b", 2_000_000_000)

	rec := env.do(t, "GET", "/api/v1/merchants/m1/transactions?limit=2", "token-m1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Transactions []transactionResponse `json:"transactions"`
		Count        int                   `json:"count"`
		Limit        int                   `json:"limit"`
		Offset       int                   `json:"offset"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 2, resp.Limit)
	assert.Equal(t, 0, resp.Offset)
	for _, txn := range resp.Transactions {
		assert.Equal(t, "m1", txn.MerchantID)
	}

	rec = env.do(t, "GET", "/api/v1/merchants/m1/transactions?offset=10", "token-m1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	assert.Equal(t, 0, resp.Count)
}

func TestCreatePayout(t *testing.T) {
	env := newTestEnv(t)
	env.store.Fund("m1", 5_000_000_000)

	resp := env.createPayout(t, 2_000_000_000)
	assert.Equal(t, "m1", resp.MerchantID)
	assert.Equal(t, "payout", resp.Type)
	assert.Equal(t, "new", resp.Status)
	assert.Equal(t, int64(2_000_000_000), resp.GrinAmount)
	assert.Equal(t, "2.000000000 GRIN", resp.AmountDisplay)
	assert.Equal(t, 10, resp.Confirmations)
	require.NotNil(t, resp.TransferFee)
	require.NotNil(t, resp.ServiceFee)
	assert.Equal(t, int64(8_000_000), *resp.TransferFee)
	assert.Equal(t, int64(20_000_000), *resp.ServiceFee)

	assert.Equal(t, int64(3_000_000_000), env.store.Balance("m1"))
}

func TestCreatePayout_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.store.Fund("m1", 3_000_000_000)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedError  string
	}{
		{"malformed json", `{"amount":`, http.StatusBadRequest, "invalid request body"},
		{"string amount", `{"amount":"lots"}`, http.StatusBadRequest, "invalid request body"},
		{"zero amount", `{"amount":0}`, http.StatusBadRequest, "amount must be positive"},
		{"negative confirmations", `{"amount":2000000000,"confirmations":-1}`, http.StatusBadRequest, "confirmations cannot be negative"},
		{"below minimum", `{"amount":500000000}`, http.StatusBadRequest, money.ErrBelowMinimalWithdraw.Error()},
		{"not enough funds", `{"amount":4000000000}`, http.StatusBadRequest, fsm.ErrNotEnoughFunds.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "POST", "/api/v1/merchants/m1/payouts", "token-m1", tt.body)
			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, errorMessage(t, rec), tt.expectedError)
		})
	}

	assert.Equal(t, int64(3_000_000_000), env.store.Balance("m1"))
}

func TestCreatePayout_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t)
	body := `{"amount":1,"pad":"` + strings.Repeat("x", maxRequestBodySize) + `"}`

	rec := env.do(t, "POST", "/api/v1/merchants/m1/payouts", "token-m1", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPayout(t *testing.T) {
	env := newTestEnv(t)
	env.store.Fund("m1", 5_000_000_000)
	created := env.createPayout(t, 2_000_000_000)

	rec := env.do(t, "GET", "/api/v1/merchants/m1/payouts/"+created.ID, "token-m1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp transactionResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, created.ID, resp.ID)

	// Another merchant cannot see it, even through its own path.
	rec = env.do(t, "GET", "/api/v1/merchants/m2/payouts/"+created.ID, "token-m2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "GET", "/api/v1/merchants/m1/payouts/not-a-uuid", "token-m1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid transaction id", errorMessage(t, rec))
}

func TestGenerateSlate(t *testing.T) {
	env := newTestEnv(t)
	env.store.Fund("m1", 5_000_000_000)
	created := env.createPayout(t, 2_000_000_000)

	slate := fsmtest.Slate("slate-1", 1_972_000_000, []byte{0x09, 0xff})
	env.wallet.On("CreateSlate", mock.Anything, uint64(1_972_000_000), mock.Anything).Return(slate, nil)
	env.wallet.On("GetTx", mock.Anything, "slate-1").Return(fsmtest.Entry(42, "slate-1"), nil)

	rec := env.do(t, "POST", "/api/v1/merchants/m1/payouts/"+created.ID+"/slate", "token-m1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "knockturn-payout.grinslate")

	var got wallet.Slate
	decodeBody(t, rec, &got)
	assert.Equal(t, "slate-1", got.ID)
	assert.Equal(t, wallet.Uint64String(1_972_000_000), got.Amount)

	assert.Equal(t, db.StatusInitialized, env.store.Status(uuid.MustParse(created.ID)))
	env.wallet.AssertExpectations(t)
}

func TestGenerateSlate_WalletUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.store.Fund("m1", 5_000_000_000)
	created := env.createPayout(t, 2_000_000_000)

	env.wallet.On("CreateSlate", mock.Anything, mock.Anything, mock.Anything).Return(nil, wallet.ErrWalletUnavailable)

	rec := env.do(t, "POST", "/api/v1/merchants/m1/payouts/"+created.ID+"/slate", "token-m1", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "wallet error", errorMessage(t, rec))
	assert.Equal(t, db.StatusNew, env.store.Status(uuid.MustParse(created.ID)))
}

func TestRejectPayout(t *testing.T) {
	env := newTestEnv(t)
	env.store.Fund("m1", 5_000_000_000)
	created := env.createPayout(t, 2_000_000_000)
	assert.Equal(t, int64(3_000_000_000), env.store.Balance("m1"))

	rec := env.do(t, "POST", "/api/v1/merchants/m1/payouts/"+created.ID+"/reject", "token-m1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp transactionResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "rejected", resp.Status)
	assert.Equal(t, int64(5_000_000_000), env.store.Balance("m1"))

	// Already rejected: no longer a new payout.
	rec = env.do(t, "POST", "/api/v1/merchants/m1/payouts/"+created.ID+"/reject", "token-m1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	env.wallet.AssertNotCalled(t, "CancelTx", mock.Anything, mock.Anything)
}

func (e *testEnv) initializedPayout(t *testing.T, slateID string) transactionResponse {
	t.Helper()
	e.store.Fund("m1", 5_000_000_000)
	created := e.createPayout(t, 2_000_000_000)

	slate := fsmtest.Slate(slateID, 1_972_000_000, []byte{0x09})
	e.wallet.On("CreateSlate", mock.Anything, mock.Anything, mock.Anything).Return(slate, nil).Once()
	e.wallet.On("GetTx", mock.Anything, slateID).Return(fsmtest.Entry(42, slateID), nil).Once()
	rec := e.do(t, "POST", "/api/v1/merchants/m1/payouts/"+created.ID+"/slate", "token-m1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return created
}

func TestAcceptSlate(t *testing.T) {
	env := newTestEnv(t)
	created := env.initializedPayout(t, "slate-1")

	env.wallet.On("Finalize", mock.Anything, slateWithID("slate-1")).Return(fsmtest.Slate("slate-1", 1_972_000_000, nil), nil)
	env.wallet.On("PostTx", mock.Anything).Return(nil)

	signed := `{"id":"slate-1","amount":"1972000000","tx":{"body":{"outputs":[{"commit":"09"}]}},"participant_data":[{"id":"1"}]}`
	rec := env.do(t, "POST", "/api/v1/payouts/"+created.ID+"/accept", "", signed)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp transactionResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "pending", resp.Status)
	env.wallet.AssertExpectations(t)
}

func TestAcceptSlate_Mismatch(t *testing.T) {
	env := newTestEnv(t)
	created := env.initializedPayout(t, "slate-1")

	rec := env.do(t, "POST", "/api/v1/payouts/"+created.ID+"/accept", "", `{"id":"slate-other","amount":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, fsm.ErrSlateMismatch.Error(), errorMessage(t, rec))
	env.wallet.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything)
	assert.Equal(t, db.StatusInitialized, env.store.Status(uuid.MustParse(created.ID)))
}

func TestAcceptSlate_NotInitialized(t *testing.T) {
	env := newTestEnv(t)
	env.store.Fund("m1", 5_000_000_000)
	created := env.createPayout(t, 2_000_000_000)

	rec := env.do(t, "POST", "/api/v1/payouts/"+created.ID+"/accept", "", `{"id":"slate-1","amount":"1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreatePayment(t *testing.T) {
	env := newTestEnv(t)

	resp := env.createPayment(t, "order-1", 1_500_000_000)
	assert.Equal(t, "payment", resp.Type)
	assert.Equal(t, "new", resp.Status)
	assert.Equal(t, "order-1", resp.ExternalID)
	assert.Equal(t, int64(1_500_000_000), resp.GrinAmount)
	assert.Equal(t, money.Grin(1_500_000_000), resp.Amount)
	assert.Equal(t, "order order-1", resp.Message)
}

func TestCreatePayment_PathologicalInput(t *testing.T) {
	env := newTestEnv(t)
	env.createPayment(t, "taken", 1_000_000_000)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedError  string
	}{
		{"missing order id", `{"amount":{"amount":1,"currency":"GRIN"},"confirmations":1}`, http.StatusBadRequest, "order_id is required"},
		{"order id too long", `{"order_id":"` + strings.Repeat("a", 256) + `","amount":{"amount":1,"currency":"GRIN"},"confirmations":1}`, http.StatusBadRequest, "order_id too long"},
		{"zero amount", `{"order_id":"x","amount":{"amount":0,"currency":"GRIN"},"confirmations":1}`, http.StatusBadRequest, "amount must be positive"},
		{"unknown currency", `{"order_id":"x","amount":{"amount":1,"currency":"DOGE"},"confirmations":1}`, http.StatusBadRequest, "unsupported currency"},
		{"no confirmations", `{"order_id":"x","amount":{"amount":1,"currency":"GRIN"}}`, http.StatusBadRequest, "confirmations must be at least 1"},
		{"message too long", `{"order_id":"x","amount":{"amount":1,"currency":"GRIN"},"confirmations":1,"message":"` + strings.Repeat("m", 1025) + `"}`, http.StatusBadRequest, "message too long"},
		{"no rate for fiat", `{"order_id":"x","amount":{"amount":100,"currency":"eur"},"confirmations":1}`, http.StatusBadRequest, fsm.ErrUnsupportedCurrency.Error()},
		{"duplicate order", `{"order_id":"taken","amount":{"amount":1,"currency":"GRIN"},"confirmations":1}`, http.StatusConflict, "transaction already exists"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "POST", "/api/v1/merchants/m1/payments", "token-m1", tt.body)
			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, errorMessage(t, rec), tt.expectedError)
		})
	}
}

func TestGetPayment(t *testing.T) {
	env := newTestEnv(t)
	created := env.createPayment(t, "order-1", 1_500_000_000)

	rec := env.do(t, "GET", "/api/v1/merchants/m1/payments/"+created.ID, "token-m1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "GET", "/api/v1/merchants/m1/payments/"+uuid.NewString(), "token-m1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMakePayment(t *testing.T) {
	env := newTestEnv(t)
	created := env.createPayment(t, "order-1", 1_500_000_000)

	received := fsmtest.Slate("slate-9", 1_500_000_000, []byte{0x08, 0x0c})
	env.wallet.On("Receive", mock.Anything, slateWithID("slate-9")).Return(received, nil)
	env.wallet.On("GetTx", mock.Anything, "slate-9").Return(fsmtest.Entry(3, "slate-9"), nil)

	incoming := `{"id":"slate-9","amount":"1500000000","tx":{"body":{"outputs":[{"commit":"01"}]}}}`
	rec := env.do(t, "POST", "/api/v1/merchants/m1/payments/"+created.ID+"/slate", "", incoming)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got wallet.Slate
	decodeBody(t, rec, &got)
	assert.Equal(t, "slate-9", got.ID)
	commit, err := got.FirstOutputCommitment()
	require.NoError(t, err)
	assert.Equal(t, wallet.Commitment{0x08, 0x0c}, commit)

	txn := env.store.Get(uuid.MustParse(created.ID))
	assert.Equal(t, db.StatusPending, txn.Status)
	require.NotNil(t, txn.Commit)
	assert.Equal(t, "080c", *txn.Commit)
	env.wallet.AssertExpectations(t)
}

func TestMakePayment_WalletPath(t *testing.T) {
	env := newTestEnv(t)
	created := env.createPayment(t, "order-1", 1_500_000_000)

	env.wallet.On("Receive", mock.Anything, slateWithID("slate-9")).
		Return(fsmtest.Slate("slate-9", 1_500_000_000, []byte{0x08}), nil)
	env.wallet.On("GetTx", mock.Anything, "slate-9").Return(fsmtest.Entry(3, "slate-9"), nil)

	path := "/merchants/m1/payments/" + created.ID + "/v1/wallet/foreign/receive_tx"
	rec := env.do(t, "POST", path, "", `{"id":"slate-9","amount":"1500000000","tx":{"body":{"outputs":[]}}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, db.StatusPending, env.store.Status(uuid.MustParse(created.ID)))
}

func TestMakePayment_WrongAmount(t *testing.T) {
	env := newTestEnv(t)
	created := env.createPayment(t, "order-1", 1_500_000_000)

	rec := env.do(t, "POST", "/api/v1/merchants/m1/payments/"+created.ID+"/slate", "", `{"id":"slate-9","amount":"1400000000"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "wrong amount: expected 1500000000, got 1400000000", errorMessage(t, rec))
	env.wallet.AssertNotCalled(t, "Receive", mock.Anything, mock.Anything)
}

func TestMakePayment_WrongMerchant(t *testing.T) {
	env := newTestEnv(t)
	created := env.createPayment(t, "order-1", 1_500_000_000)

	rec := env.do(t, "POST", "/api/v1/merchants/m2/payments/"+created.ID+"/slate", "", `{"id":"slate-9","amount":"1500000000"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMakePayment_ReceiveRejected(t *testing.T) {
	env := newTestEnv(t)
	created := env.createPayment(t, "order-1", 1_500_000_000)

	env.wallet.On("Receive", mock.Anything, mock.Anything).Return(nil, &wallet.APIError{StatusCode: 500, Message: "invalid slate"})

	rec := env.do(t, "POST", "/api/v1/merchants/m1/payments/"+created.ID+"/slate", "", `{"id":"slate-9","amount":"1500000000"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, db.StatusNew, env.store.Status(uuid.MustParse(created.ID)))
}

func TestGetInvoice(t *testing.T) {
	env := newTestEnv(t)
	created := env.createPayment(t, "order-1", 1_500_000_000)

	rec := env.do(t, "GET", "/api/v1/merchants/m1/payments/"+created.ID+"/invoice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var inv Invoice
	decodeBody(t, rec, &inv)
	assert.Equal(t, created.ID, inv.TransactionID)
	assert.Equal(t, "https://pay.example.com/merchants/m1/payments/"+created.ID, inv.PaymentURL)
	assert.True(t, strings.HasPrefix(inv.WalletLink, "grin://send?"))
	assert.NotEmpty(t, inv.QRCodeData)
	require.NotNil(t, inv.SecondsUntilExpired)
	assert.Greater(t, *inv.SecondsUntilExpired, int64(0))
}

func TestPaymentPage(t *testing.T) {
	env := newTestEnv(t)
	created := env.createPayment(t, "order-1", 1_500_000_000)

	rec := env.do(t, "GET", "/merchants/m1/payments/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "1.500000000 GRIN")
	assert.Contains(t, body, "https://pay.example.com/merchants/m1/payments/"+created.ID)
	assert.Contains(t, body, "data:image/png;base64,")

	rec = env.do(t, "GET", "/merchants/m1/payments/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
