package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Amount is a value in the smallest unit of its currency.
type Amount struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Transaction is a payment or payout as reported by the server.
type Transaction struct {
	ID              string    `json:"id"`
	ExternalID      string    `json:"external_id"`
	MerchantID      string    `json:"merchant_id"`
	Type            string    `json:"transaction_type"` // payment, payout
	Status          string    `json:"status"`           // new, initialized, pending, confirmed, rejected, refund
	Amount          Amount    `json:"amount"`
	AmountDisplay   string    `json:"amount_display"`
	GrinAmount      int64     `json:"grin_amount"`
	Confirmations   int       `json:"confirmations"`
	Message         string    `json:"message"`
	Email           *string   `json:"email,omitempty"`
	RedirectURL     *string   `json:"redirect_url,omitempty"`
	TransferFee     *int64    `json:"transfer_fee,omitempty"`
	ServiceFee      *int64    `json:"service_fee,omitempty"`
	WalletTxSlateID *string   `json:"wallet_tx_slate_id,omitempty"`
	Commit          *string   `json:"commit,omitempty"`
	Reported        bool      `json:"reported"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Balance is the merchant's spendable balance in nanogrin.
type Balance struct {
	MerchantID string `json:"merchant_id"`
	Balance    int64  `json:"balance"`
	Display    string `json:"balance_display"`
}

// Invoice is the payer-facing view of a payment.
type Invoice struct {
	TransactionID         string     `json:"transaction_id"`
	MerchantID            string     `json:"merchant_id"`
	OrderID               string     `json:"order_id"`
	Status                string     `json:"status"`
	Amount                string     `json:"amount"`
	GrinAmount            int64      `json:"grin_amount"`
	GrinDisplay           string     `json:"grin_display"`
	Message               string     `json:"message"`
	PaymentURL            string     `json:"payment_url"`
	WalletLink            string     `json:"wallet_link"`
	QRCodeData            string     `json:"qr_code_data"`
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
	SecondsUntilExpired   *int64     `json:"seconds_until_expired,omitempty"`
	RequiredConfirmations int        `json:"required_confirmations"`
	Reported              bool       `json:"reported"`
	RedirectURL           *string    `json:"redirect_url,omitempty"`
}

// Event is a transaction status change streamed by the server.
type Event struct {
	ID             string    `json:"id"`
	ExternalID     string    `json:"external_id"`
	MerchantID     string    `json:"merchant_id"`
	Type           string    `json:"transaction_type"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	GrinAmount     int64     `json:"grin_amount"`
	Amount         string    `json:"amount"`
	UpdatedAt      time.Time `json:"updated_at"`
	PublishedAt    time.Time `json:"published_at"`
}

// CreatePaymentRequest describes a payment to collect.
type CreatePaymentRequest struct {
	OrderID       string  `json:"order_id"`
	Amount        Amount  `json:"amount"`
	Confirmations int     `json:"confirmations"`
	Email         *string `json:"email,omitempty"`
	Message       string  `json:"message"`
	RedirectURL   *string `json:"redirect_url,omitempty"`
}

// Client is the HTTP client for the knockturn merchant API.
type Client struct {
	baseURL    string
	merchantID string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client acting as merchantID with its API token.
func NewClient(baseURL, merchantID, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		merchantID: merchantID,
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) merchantPath(format string, args ...interface{}) string {
	return fmt.Sprintf("%s/api/v1/merchants/%s", c.baseURL, url.PathEscape(c.merchantID)) + fmt.Sprintf(format, args...)
}

// Balance returns the merchant balance.
func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	var balance Balance
	if err := c.do(ctx, "GET", c.merchantPath("/balance"), true, nil, http.StatusOK, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// ListTransactions lists the merchant's transactions, newest first.
func (c *Client) ListTransactions(ctx context.Context, limit, offset int) ([]*Transaction, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	if offset > 0 {
		query.Set("offset", fmt.Sprintf("%d", offset))
	}
	u := c.merchantPath("/transactions")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var response struct {
		Transactions []*Transaction `json:"transactions"`
	}
	if err := c.do(ctx, "GET", u, true, nil, http.StatusOK, &response); err != nil {
		return nil, err
	}
	return response.Transactions, nil
}

// CreatePayout requests a withdrawal of amount nanogrin. A zero
// confirmations uses the server default.
func (c *Client) CreatePayout(ctx context.Context, amount int64, confirmations int) (*Transaction, error) {
	body := map[string]interface{}{"amount": amount}
	if confirmations > 0 {
		body["confirmations"] = confirmations
	}

	var txn Transaction
	if err := c.do(ctx, "POST", c.merchantPath("/payouts"), true, body, http.StatusCreated, &txn); err != nil {
		return nil, err
	}
	c.logger.Debug("payout created", "id", txn.ID, "amount", amount)
	return &txn, nil
}

// GetPayout returns a payout.
func (c *Client) GetPayout(ctx context.Context, id string) (*Transaction, error) {
	var txn Transaction
	if err := c.do(ctx, "GET", c.merchantPath("/payouts/%s", url.PathEscape(id)), true, nil, http.StatusOK, &txn); err != nil {
		return nil, err
	}
	return &txn, nil
}

// GeneratePayoutSlate returns the slate for a new payout. The merchant's
// wallet signs it and sends it back with AcceptPayoutSlate.
func (c *Client) GeneratePayoutSlate(ctx context.Context, id string) (json.RawMessage, error) {
	var slate json.RawMessage
	if err := c.do(ctx, "POST", c.merchantPath("/payouts/%s/slate", url.PathEscape(id)), true, nil, http.StatusOK, &slate); err != nil {
		return nil, err
	}
	return slate, nil
}

// RejectPayout cancels a payout that has no slate yet.
func (c *Client) RejectPayout(ctx context.Context, id string) (*Transaction, error) {
	var txn Transaction
	if err := c.do(ctx, "POST", c.merchantPath("/payouts/%s/reject", url.PathEscape(id)), true, nil, http.StatusOK, &txn); err != nil {
		return nil, err
	}
	return &txn, nil
}

// AcceptPayoutSlate sends the signed payout slate for broadcast.
func (c *Client) AcceptPayoutSlate(ctx context.Context, id string, slate json.RawMessage) (*Transaction, error) {
	u := fmt.Sprintf("%s/api/v1/payouts/%s/accept", c.baseURL, url.PathEscape(id))
	var txn Transaction
	if err := c.do(ctx, "POST", u, false, slate, http.StatusOK, &txn); err != nil {
		return nil, err
	}
	return &txn, nil
}

// CreatePayment opens a payment.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Transaction, error) {
	var txn Transaction
	if err := c.do(ctx, "POST", c.merchantPath("/payments"), true, req, http.StatusCreated, &txn); err != nil {
		return nil, err
	}
	c.logger.Debug("payment created", "id", txn.ID, "order_id", req.OrderID)
	return &txn, nil
}

// GetPayment returns a payment.
func (c *Client) GetPayment(ctx context.Context, id string) (*Transaction, error) {
	var txn Transaction
	if err := c.do(ctx, "GET", c.merchantPath("/payments/%s", url.PathEscape(id)), true, nil, http.StatusOK, &txn); err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetInvoice returns the payer-facing invoice of a payment.
func (c *Client) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	var inv Invoice
	if err := c.do(ctx, "GET", c.merchantPath("/payments/%s/invoice", url.PathEscape(id)), false, nil, http.StatusOK, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// SendPaymentSlate pays a payment with the payer's slate and returns the
// counter-signed slate.
func (c *Client) SendPaymentSlate(ctx context.Context, id string, slate json.RawMessage) (json.RawMessage, error) {
	var signed json.RawMessage
	if err := c.do(ctx, "POST", c.merchantPath("/payments/%s/slate", url.PathEscape(id)), false, slate, http.StatusOK, &signed); err != nil {
		return nil, err
	}
	return signed, nil
}

// Await streams the merchant's events and returns the first one matcher
// accepts. txType narrows the stream to "payment" or "payout" and may be
// empty. It returns ctx.Err() if ctx ends first.
func (c *Client) Await(ctx context.Context, txType string, matcher func(*Event) bool) (*Event, error) {
	u := c.merchantPath("/events")
	if txType != "" {
		u += "?type=" + url.QueryEscape(txType)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long-lived; only ctx bounds it.
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var eventName string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			eventName = ""
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if eventName != "transaction" {
				continue
			}
			var event Event
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
				c.logger.Warn("skipping malformed event", "error", err)
				continue
			}
			if matcher(&event) {
				return &event, nil
			}
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("event stream failed: %w", err)
	}
	return nil, fmt.Errorf("event stream closed")
}

func (c *Client) do(ctx context.Context, method, u string, auth bool, in interface{}, wantStatus int, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// APIError is returned when the server answers with an error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed (status %d): %s", e.StatusCode, e.Message)
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
