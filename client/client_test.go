package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalance_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/merchants/shop/balance", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"merchant_id":     "shop",
			"balance":         2_500_000_000,
			"balance_display": "2.500000000 GRIN",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "shop", "secret", nil, nil)
	balance, err := client.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2_500_000_000), balance.Balance)
	assert.Equal(t, "2.500000000 GRIN", balance.Display)
}

func TestBalance_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid token"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "shop", "wrong", nil, nil)
	_, err := client.Balance(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestListTransactions_Pagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/merchants/shop/transactions", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "20", r.URL.Query().Get("offset"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"transactions": []map[string]interface{}{
				{"id": "a", "transaction_type": "payment", "status": "confirmed"},
				{"id": "b", "transaction_type": "payout", "status": "pending"},
			},
			"count":  2,
			"limit":  10,
			"offset": 20,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "shop", "secret", nil, nil)
	txs, err := client.ListTransactions(context.Background(), 10, 20)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "payment", txs[0].Type)
	assert.Equal(t, "pending", txs[1].Status)
}

func TestListTransactions_NoQueryByDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		json.NewEncoder(w).Encode(map[string]interface{}{"transactions": []interface{}{}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "shop", "secret", nil, nil)
	txs, err := client.ListTransactions(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestCreatePayout_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/merchants/shop/payouts", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(1_000_000_000), body["amount"])
		_, hasConfirmations := body["confirmations"]
		assert.False(t, hasConfirmations)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":               "p1",
			"transaction_type": "payout",
			"status":           "new",
			"grin_amount":      1_000_000_000,
			"confirmations":    10,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "shop", "secret", nil, nil)
	txn, err := client.CreatePayout(context.Background(), 1_000_000_000, 0)
	require.NoError(t, err)
	assert.Equal(t, "p1", txn.ID)
	assert.Equal(t, "new", txn.Status)
	assert.Equal(t, 10, txn.Confirmations)
}

func TestCreatePayout_NotEnoughFunds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "not enough funds"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "shop", "secret", nil, nil)
	_, err := client.CreatePayout(context.Background(), 1, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough funds")
}

func TestPayoutSlateRoundTrip(t *testing.T) {
	slate := json.RawMessage(`{"id":"slate-1","num_participants":2}`)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/merchants/shop/payouts/p1/slate", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write(slate)
	})
	mux.HandleFunc("POST /api/v1/payouts/p1/accept", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		var got map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "slate-1", got["id"])
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "p1", "status": "pending"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, "shop", "secret", nil, nil)

	got, err := client.GeneratePayoutSlate(context.Background(), "p1")
	require.NoError(t, err)
	assert.JSONEq(t, string(slate), string(got))

	txn, err := client.AcceptPayoutSlate(context.Background(), "p1", got)
	require.NoError(t, err)
	assert.Equal(t, "pending", txn.Status)
}

func TestRejectPayout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/merchants/shop/payouts/p1/reject", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "p1", "status": "rejected"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "shop", "secret", nil, nil)
	txn, err := client.RejectPayout(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "rejected", txn.Status)
}

func TestCreatePayment_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/merchants/shop/payments", r.URL.Path)

		var body CreatePaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "order-1", body.OrderID)
		assert.Equal(t, Amount{Amount: 1250, Currency: "EUR"}, body.Amount)
		assert.Equal(t, 10, body.Confirmations)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":               "pay1",
			"external_id":      "order-1",
			"transaction_type": "payment",
			"status":           "new",
			"amount":           map[string]interface{}{"amount": 1250, "currency": "EUR"},
			"amount_display":   "12.50 EUR",
			"grin_amount":      3_500_000_000,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "shop", "secret", nil, nil)
	txn, err := client.CreatePayment(context.Background(), CreatePaymentRequest{
		OrderID:       "order-1",
		Amount:        Amount{Amount: 1250, Currency: "EUR"},
		Confirmations: 10,
		Message:       "thanks",
	})
	require.NoError(t, err)
	assert.Equal(t, "pay1", txn.ID)
	assert.Equal(t, "order-1", txn.ExternalID)
	assert.Equal(t, int64(3_500_000_000), txn.GrinAmount)
	assert.Equal(t, "12.50 EUR", txn.AmountDisplay)
}

func TestCreatePayment_Duplicate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "transaction already exists"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "shop", "secret", nil, nil)
	_, err := client.CreatePayment(context.Background(), CreatePaymentRequest{OrderID: "order-1"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "transaction already exists", apiErr.Message)
}

func TestGetInvoice_NoAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/merchants/shop/payments/pay1/invoice", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"transaction_id": "pay1",
			"status":         "new",
			"wallet_link":    "grin://send?amount=1",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "shop", "", nil, nil)
	inv, err := client.GetInvoice(context.Background(), "pay1")
	require.NoError(t, err)
	assert.Equal(t, "grin://send?amount=1", inv.WalletLink)
}

func TestSendPaymentSlate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/merchants/shop/payments/pay1/slate", r.URL.Path)
		w.Write([]byte(`{"id":"slate-2","signed":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "shop", "", nil, nil)
	signed, err := client.SendPaymentSlate(context.Background(), "pay1", json.RawMessage(`{"id":"slate-2"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"slate-2","signed":true}`, string(signed))
}

func TestParseErrorResponse_PlainText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, "shop", "secret", nil, nil)
	_, err := client.GetPayment(context.Background(), "pay1")
	require.Error(t, err)
	assert.Equal(t, "request failed (status 502): upstream exploded", err.Error())
}

func sseServer(t *testing.T, events ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/merchants/shop/events", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")

		flusher, ok := w.(http.Flusher)
		require.True(t, ok, "ResponseWriter should support flushing")

		fmt.Fprint(w, "event: connected\ndata: {\"merchant_id\":\"shop\"}\n\n")
		for _, e := range events {
			fmt.Fprint(w, e)
		}
		flusher.Flush()

		<-r.Context().Done()
	}))
}

func transactionFrame(id, status string) string {
	data, _ := json.Marshal(map[string]interface{}{
		"id":               id,
		"merchant_id":      "shop",
		"transaction_type": "payment",
		"status":           status,
	})
	return "event: transaction\ndata: " + string(data) + "\n\n"
}

func TestClient_Await_MatchingEvent(t *testing.T) {
	server := sseServer(t,
		transactionFrame("pay1", "pending"),
		transactionFrame("pay1", "confirmed"),
	)
	defer server.Close()

	client := NewClient(server.URL, "shop", "secret", nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event, err := client.Await(ctx, "", func(e *Event) bool {
		return e.ID == "pay1" && e.Status == "confirmed"
	})
	require.NoError(t, err)
	assert.Equal(t, "confirmed", event.Status)
}

func TestClient_Await_IgnoresOtherEventNames(t *testing.T) {
	// The connected frame carries data too; only transaction frames reach the matcher.
	server := sseServer(t, transactionFrame("pay2", "pending"))
	defer server.Close()

	client := NewClient(server.URL, "shop", "secret", nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []string
	event, err := client.Await(ctx, "", func(e *Event) bool {
		seen = append(seen, e.ID)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, "pay2", event.ID)
	assert.Equal(t, []string{"pay2"}, seen)
}

func TestClient_Await_TypeFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "payout", r.URL.Query().Get("type"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: transaction\ndata: {\"id\":\"p1\",\"transaction_type\":\"payout\",\"status\":\"rejected\"}\n\n")
	}))
	defer server.Close()

	client := NewClient(server.URL, "shop", "secret", nil, nil)
	event, err := client.Await(context.Background(), "payout", func(e *Event) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, "rejected", event.Status)
}

func TestClient_Await_Timeout(t *testing.T) {
	server := sseServer(t, transactionFrame("pay1", "pending"))
	defer server.Close()

	client := NewClient(server.URL, "shop", "secret", nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	startTime := time.Now()
	event, err := client.Await(ctx, "", func(e *Event) bool { return e.Status == "confirmed" })
	elapsed := time.Since(startTime)

	require.Error(t, err)
	assert.Nil(t, event)
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.Greater(t, elapsed, 400*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestClient_Await_ContextCancelled(t *testing.T) {
	server := sseServer(t)
	defer server.Close()

	client := NewClient(server.URL, "shop", "secret", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := client.Await(ctx, "", func(e *Event) bool { return true })
	assert.Equal(t, context.Canceled, err)
}

func TestClient_Await_StreamClosed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, transactionFrame("pay1", "pending"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "shop", "secret", nil, nil)
	_, err := client.Await(context.Background(), "", func(e *Event) bool { return false })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event stream closed")
}

func TestClient_Await_StreamDisabled(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := NewClient(server.URL, "shop", "secret", nil, nil)
	_, err := client.Await(context.Background(), "", func(e *Event) bool { return true })

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}
