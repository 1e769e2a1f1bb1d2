package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/brojonat/knockturn/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runClient(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()
	return runClientWithGlobals(t, serverURL, nil, args...)
}

func runClientWithGlobals(t *testing.T, serverURL string, globals []string, args ...string) (string, error) {
	t.Helper()
	argv := []string{"knockturn", "--server-url", serverURL, "--merchant", "shop", "--token", "secret"}
	argv = append(argv, globals...)
	argv = append(argv, "client")
	argv = append(argv, args...)
	stdout, _, err := captureOutput(t, func() error {
		return newApp().Run(argv)
	})
	return stdout, err
}

func TestClientCommands_RequireCredentials(t *testing.T) {
	t.Setenv("KNOCKTURN_MERCHANT", "")
	t.Setenv("KNOCKTURN_TOKEN", "")

	err := newApp().Run([]string{"knockturn", "client", "balance"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merchant and token are required")
}

func TestCreatePayoutCommand_ParsesGrinAmount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/merchants/shop/payouts", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(1_500_000_000), body["amount"])
		assert.Equal(t, float64(5), body["confirmations"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":               "p1",
			"transaction_type": "payout",
			"status":           "new",
			"grin_amount":      1_500_000_000,
		})
	}))
	defer server.Close()

	stdout, err := runClient(t, server.URL, "create-payout", "--confirmations", "5", "1.5")
	require.NoError(t, err)
	assert.Contains(t, stdout, "ID:            p1")
	assert.Contains(t, stdout, "Status:        new")
}

func TestCreatePayoutCommand_InvalidAmount(t *testing.T) {
	_, err := runClient(t, "http://127.0.0.1:1", "create-payout", "lots")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid amount")
}

func TestCreatePaymentCommand_JSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body client.CreatePaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "order-9", body.OrderID)
		assert.Equal(t, client.Amount{Amount: 1250, Currency: "EUR"}, body.Amount)
		assert.Nil(t, body.Email)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "pay9", "status": "new", "external_id": "order-9"})
	}))
	defer server.Close()

	stdout, err := runClientWithGlobals(t, server.URL, []string{"--json"}, "create-payment", "--order-id", "order-9", "--amount", "12.50", "--currency", "eur")
	require.NoError(t, err)

	var txn client.Transaction
	require.NoError(t, json.Unmarshal([]byte(stdout), &txn))
	assert.Equal(t, "pay9", txn.ID)
}

func TestPayoutSlateCommand_WritesFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/merchants/shop/payouts/p1/slate", r.URL.Path)
		w.Write([]byte(`{"id":"slate-1"}`))
	}))
	defer server.Close()

	out := filepath.Join(t.TempDir(), "payout.grinslate")
	_, err := runClient(t, server.URL, "payout-slate", "--out", out, "p1")
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"slate-1"}`, string(data))
}

func TestAcceptSlateCommand_RejectsInvalidJSON(t *testing.T) {
	file := filepath.Join(t.TempDir(), "signed.grinslate")
	require.NoError(t, os.WriteFile(file, []byte("not json"), 0o600))

	_, err := runClient(t, "http://127.0.0.1:1", "accept-slate", "p1", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestAcceptSlateCommand_SendsFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/payouts/p1/accept", r.URL.Path)
		var got map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "slate-1", got["id"])
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "p1", "status": "pending"})
	}))
	defer server.Close()

	file := filepath.Join(t.TempDir(), "signed.grinslate")
	require.NoError(t, os.WriteFile(file, []byte(`{"id":"slate-1"}`), 0o600))

	stdout, err := runClient(t, server.URL, "accept-slate", "p1", file)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Status:        pending")
}

func TestAwaitMatcher(t *testing.T) {
	filters, err := compileFilters([]string{`.grin_amount >= 100`})
	require.NoError(t, err)
	match := awaitMatcher("p1", "confirmed", filters)

	assert.True(t, match(&client.Event{ID: "p1", Status: "confirmed", GrinAmount: 100}))
	assert.False(t, match(&client.Event{ID: "p1", Status: "pending", GrinAmount: 100}))
	assert.False(t, match(&client.Event{ID: "p2", Status: "confirmed", GrinAmount: 100}))
	assert.False(t, match(&client.Event{ID: "p1", Status: "confirmed", GrinAmount: 99}))

	anyStatus := awaitMatcher("p1", "", nil)
	assert.True(t, anyStatus(&client.Event{ID: "p1", Status: "rejected"}))
}

func TestAwaitCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/merchants/shop/events", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: transaction\ndata: {\"id\":\"p1\",\"transaction_type\":\"payout\",\"status\":\"pending\"}\n\n"))
		w.Write([]byte("event: transaction\ndata: {\"id\":\"p1\",\"transaction_type\":\"payout\",\"status\":\"confirmed\"}\n\n"))
	}))
	defer server.Close()

	stdout, err := runClient(t, server.URL, "await", "--timeout", "5s", "p1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "payout p1 is confirmed")
}
