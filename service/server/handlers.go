package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/knockturn/service/config"
	"github.com/brojonat/knockturn/service/db"
	"github.com/brojonat/knockturn/service/fsm"
	"github.com/brojonat/knockturn/service/money"
	"github.com/brojonat/knockturn/service/wallet"
	"github.com/google/uuid"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - slates are a few KB
	maxExternalIDLen   = 255
	maxMessageLen      = 1024
)

// merchantHandler is a handler that runs after bearer authentication.
type merchantHandler func(w http.ResponseWriter, r *http.Request, merchant *db.Merchant)

// requireMerchant authenticates the bearer token and checks it belongs to the
// merchant named in the path.
func requireMerchant(store Store, logger *slog.Logger, next merchantHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		merchant, err := store.GetMerchantByToken(r.Context(), strings.TrimSpace(token))
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if err != nil {
			logger.Error("failed to authenticate merchant", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if merchant.ID != r.PathValue("merchant_id") {
			logger.Warn("merchant token used for another merchant",
				"merchant_id", merchant.ID, "path_merchant_id", r.PathValue("merchant_id"))
			writeError(w, "wrong merchant_id", http.StatusForbidden)
			return
		}

		next(w, r, merchant)
	})
}

// handleHealth pings the database.
// GET /health
func handleHealth(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			logger.Error("health check failed", "error", err)
			writeError(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// handleGetBalance returns the merchant ledger balance.
// GET /api/v1/merchants/{merchant_id}/balance
func handleGetBalance(store Store, logger *slog.Logger) merchantHandler {
	return func(w http.ResponseWriter, r *http.Request, merchant *db.Merchant) {
		balance, err := store.GetMerchantBalance(r.Context(), merchant.ID)
		if err != nil {
			logger.Error("failed to get balance", "merchant_id", merchant.ID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, balanceResponse{
			MerchantID: merchant.ID,
			Balance:    balance,
			Display:    money.Grin(balance).String(),
		}, http.StatusOK)
	}
}

// handleListTransactions lists the merchant's transactions, newest first.
// GET /api/v1/merchants/{merchant_id}/transactions?limit=N&offset=N
func handleListTransactions(store Store, logger *slog.Logger) merchantHandler {
	return func(w http.ResponseWriter, r *http.Request, merchant *db.Merchant) {
		query := r.URL.Query()

		// Parse limit (default 100, max 1000)
		limit := int32(100)
		if limitStr := query.Get("limit"); limitStr != "" {
			var parsedLimit int
			if _, err := fmt.Sscanf(limitStr, "%d", &parsedLimit); err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedLimit < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsedLimit > 1000 {
				writeError(w, "limit cannot exceed 1000", http.StatusBadRequest)
				return
			}
			limit = int32(parsedLimit)
		}

		// Parse offset (default 0)
		offset := int32(0)
		if offsetStr := query.Get("offset"); offsetStr != "" {
			var parsedOffset int
			if _, err := fmt.Sscanf(offsetStr, "%d", &parsedOffset); err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedOffset < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			offset = int32(parsedOffset)
		}

		transactions, err := store.ListMerchantTransactions(r.Context(), merchant.ID, limit, offset)
		if err != nil {
			logger.Error("failed to list transactions", "merchant_id", merchant.ID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("transactions listed", "merchant_id", merchant.ID, "count", len(transactions))

		resp := make([]transactionResponse, len(transactions))
		for i := range transactions {
			resp[i] = transactionToResponse(transactions[i])
		}

		writeJSON(w, map[string]interface{}{
			"transactions": resp,
			"count":        len(resp),
			"limit":        limit,
			"offset":       offset,
		}, http.StatusOK)
	}
}

type createPayoutRequest struct {
	Amount        int64 `json:"amount"`
	Confirmations int   `json:"confirmations"`
}

// handleCreatePayout creates a withdrawal of part of the merchant balance.
// POST /api/v1/merchants/{merchant_id}/payouts
func handleCreatePayout(payouts *fsm.PayoutMachine, cfg *config.Config, logger *slog.Logger) merchantHandler {
	return func(w http.ResponseWriter, r *http.Request, merchant *db.Merchant) {
		var req createPayoutRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Amount <= 0 {
			writeError(w, "amount must be positive", http.StatusBadRequest)
			return
		}
		if req.Confirmations < 0 {
			writeError(w, "confirmations cannot be negative", http.StatusBadRequest)
			return
		}
		if req.Confirmations == 0 {
			req.Confirmations = cfg.PayoutConfirmations
		}

		payout, err := payouts.CreatePayout(r.Context(), fsm.CreatePayoutRequest{
			MerchantID:    merchant.ID,
			Amount:        req.Amount,
			Confirmations: req.Confirmations,
		})
		if err != nil {
			writeMachineError(w, logger, "create payout", err)
			return
		}

		writeJSON(w, transactionToResponse(payout.Transaction()), http.StatusCreated)
	}
}

// handleGetPayout returns a payout in any stage.
// GET /api/v1/merchants/{merchant_id}/payouts/{id}
func handleGetPayout(payouts *fsm.PayoutMachine, logger *slog.Logger) merchantHandler {
	return func(w http.ResponseWriter, r *http.Request, merchant *db.Merchant) {
		id, ok := parseTransactionID(w, r)
		if !ok {
			return
		}

		txn, err := payouts.GetPayout(r.Context(), merchant.ID, id)
		if err != nil {
			writeMachineError(w, logger, "get payout", err)
			return
		}

		writeJSON(w, transactionToResponse(txn), http.StatusOK)
	}
}

// handleGenerateSlate has the wallet build the payout slate and returns it as
// a downloadable file.
// POST /api/v1/merchants/{merchant_id}/payouts/{id}/slate
func handleGenerateSlate(payouts *fsm.PayoutMachine, logger *slog.Logger) merchantHandler {
	return func(w http.ResponseWriter, r *http.Request, merchant *db.Merchant) {
		id, ok := parseTransactionID(w, r)
		if !ok {
			return
		}

		slate, err := payouts.GenerateSlate(r.Context(), merchant.ID, id)
		if err != nil {
			writeMachineError(w, logger, "generate slate", err)
			return
		}

		w.Header().Set("Content-Disposition", `attachment; filename="knockturn-payout.grinslate"`)
		writeJSON(w, slate, http.StatusOK)
	}
}

// handleRejectPayout cancels a payout that has not been initialized yet.
// POST /api/v1/merchants/{merchant_id}/payouts/{id}/reject
func handleRejectPayout(payouts *fsm.PayoutMachine, logger *slog.Logger) merchantHandler {
	return func(w http.ResponseWriter, r *http.Request, merchant *db.Merchant) {
		id, ok := parseTransactionID(w, r)
		if !ok {
			return
		}

		payout, err := payouts.GetNewPayout(r.Context(), merchant.ID, id)
		if err != nil {
			writeMachineError(w, logger, "reject payout", err)
			return
		}
		rejected, err := payouts.RejectNewPayout(r.Context(), payout)
		if err != nil {
			writeMachineError(w, logger, "reject payout", err)
			return
		}

		writeJSON(w, transactionToResponse(rejected.Transaction()), http.StatusOK)
	}
}

// handleAcceptSlate receives the slate signed by the merchant's wallet and
// finalizes the payout.
// POST /api/v1/payouts/{id}/accept
func handleAcceptSlate(payouts *fsm.PayoutMachine, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseTransactionID(w, r)
		if !ok {
			return
		}

		var slate wallet.Slate
		if !decodeJSON(w, r, &slate) {
			return
		}

		pending, err := payouts.AcceptSlate(r.Context(), id, &slate)
		if err != nil {
			writeMachineError(w, logger, "accept slate", err)
			return
		}

		writeJSON(w, transactionToResponse(pending.Transaction()), http.StatusOK)
	})
}

type createPaymentRequest struct {
	OrderID       string      `json:"order_id"`
	Amount        money.Money `json:"amount"`
	Confirmations int         `json:"confirmations"`
	Email         *string     `json:"email,omitempty"`
	Message       string      `json:"message"`
	RedirectURL   *string     `json:"redirect_url,omitempty"`
}

func (req *createPaymentRequest) validate() error {
	if req.OrderID == "" {
		return fmt.Errorf("order_id is required")
	}
	if len(req.OrderID) > maxExternalIDLen {
		return fmt.Errorf("order_id too long (max %d characters)", maxExternalIDLen)
	}
	if req.Amount.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	currency, err := money.ParseCurrency(string(req.Amount.Currency))
	if err != nil {
		return err
	}
	req.Amount.Currency = currency
	if req.Confirmations < 1 {
		return fmt.Errorf("confirmations must be at least 1")
	}
	if len(req.Message) > maxMessageLen {
		return fmt.Errorf("message too long (max %d characters)", maxMessageLen)
	}
	return nil
}

// handleCreatePayment opens a payment the payer can settle with a slate.
// POST /api/v1/merchants/{merchant_id}/payments
func handleCreatePayment(payments *fsm.PaymentMachine, logger *slog.Logger) merchantHandler {
	return func(w http.ResponseWriter, r *http.Request, merchant *db.Merchant) {
		var req createPaymentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := req.validate(); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		payment, err := payments.CreatePayment(r.Context(), fsm.CreatePaymentRequest{
			MerchantID:    merchant.ID,
			ExternalID:    req.OrderID,
			Amount:        req.Amount,
			Confirmations: req.Confirmations,
			Email:         req.Email,
			Message:       req.Message,
			RedirectURL:   req.RedirectURL,
		})
		if err != nil {
			writeMachineError(w, logger, "create payment", err)
			return
		}

		writeJSON(w, transactionToResponse(payment.Transaction()), http.StatusCreated)
	}
}

// handleGetPayment returns a payment in any stage.
// GET /api/v1/merchants/{merchant_id}/payments/{id}
func handleGetPayment(payments *fsm.PaymentMachine, logger *slog.Logger) merchantHandler {
	return func(w http.ResponseWriter, r *http.Request, merchant *db.Merchant) {
		id, ok := parseTransactionID(w, r)
		if !ok {
			return
		}

		txn, err := payments.GetPayment(r.Context(), merchant.ID, id)
		if err != nil {
			writeMachineError(w, logger, "get payment", err)
			return
		}

		writeJSON(w, transactionToResponse(txn), http.StatusOK)
	}
}

// handleMakePayment takes the payer's slate and answers with the
// counter-signed slate. Grin wallets post to the payment URL with their own
// API path appended, so the same handler also serves that form.
// POST /api/v1/merchants/{merchant_id}/payments/{id}/slate
// POST /merchants/{merchant_id}/payments/{id}/{wallet_path...}
func handleMakePayment(payments *fsm.PaymentMachine, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseTransactionID(w, r)
		if !ok {
			return
		}

		var slate wallet.Slate
		if !decodeJSON(w, r, &slate) {
			return
		}

		payment, err := payments.GetNewPayment(r.Context(), r.PathValue("merchant_id"), id)
		if err != nil {
			writeMachineError(w, logger, "make payment", err)
			return
		}
		received, err := payments.MakePayment(r.Context(), payment, &slate)
		if err != nil {
			writeMachineError(w, logger, "make payment", err)
			return
		}

		writeJSON(w, received, http.StatusOK)
	})
}

// writeMachineError maps state machine and wallet errors to HTTP statuses.
func writeMachineError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	var wrongAmount *fsm.WrongAmountError
	var apiErr *wallet.APIError

	switch {
	case errors.Is(err, fsm.ErrNotFound):
		writeError(w, "transaction not found", http.StatusNotFound)
	case errors.Is(err, db.ErrDuplicate):
		writeError(w, "transaction already exists", http.StatusConflict)
	case errors.Is(err, fsm.ErrNotEnoughFunds),
		errors.Is(err, money.ErrFeesExceedAmount),
		errors.Is(err, money.ErrBelowMinimalWithdraw),
		errors.Is(err, fsm.ErrSlateMismatch),
		errors.Is(err, fsm.ErrUnsupportedCurrency),
		errors.As(err, &wrongAmount):
		logger.Debug("request rejected", "op", op, "error", err)
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, wallet.ErrWalletUnavailable), errors.As(err, &apiErr):
		logger.Error("wallet call failed", "op", op, "error", err)
		writeError(w, "wallet error", http.StatusBadGateway)
	default:
		logger.Error("request failed", "op", op, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

func parseTransactionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, "invalid transaction id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

type balanceResponse struct {
	MerchantID string `json:"merchant_id"`
	Balance    int64  `json:"balance"`
	Display    string `json:"balance_display"`
}

// transactionResponse is the JSON response format for a transaction.
type transactionResponse struct {
	ID              string      `json:"id"`
	ExternalID      string      `json:"external_id"`
	MerchantID      string      `json:"merchant_id"`
	Type            string      `json:"transaction_type"`
	Status          string      `json:"status"`
	Amount          money.Money `json:"amount"`
	AmountDisplay   string      `json:"amount_display"`
	GrinAmount      int64       `json:"grin_amount"`
	Confirmations   int         `json:"confirmations"`
	Message         string      `json:"message"`
	Email           *string     `json:"email,omitempty"`
	RedirectURL     *string     `json:"redirect_url,omitempty"`
	TransferFee     *int64      `json:"transfer_fee,omitempty"`
	ServiceFee      *int64      `json:"service_fee,omitempty"`
	WalletTxSlateID *string     `json:"wallet_tx_slate_id,omitempty"`
	Commit          *string     `json:"commit,omitempty"`
	Reported        bool        `json:"reported"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

func transactionToResponse(t *db.Transaction) transactionResponse {
	return transactionResponse{
		ID:              t.ID.String(),
		ExternalID:      t.ExternalID,
		MerchantID:      t.MerchantID,
		Type:            string(t.Type),
		Status:          string(t.Status),
		Amount:          t.Amount,
		AmountDisplay:   t.Amount.String(),
		GrinAmount:      t.GrinAmount,
		Confirmations:   t.Confirmations,
		Message:         t.Message,
		Email:           t.Email,
		RedirectURL:     t.RedirectURL,
		TransferFee:     t.TransferFee,
		ServiceFee:      t.ServiceFee,
		WalletTxSlateID: t.WalletTxSlateID,
		Commit:          t.Commit,
		Reported:        t.Reported,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response in JSON format.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}
