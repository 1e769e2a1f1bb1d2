package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brojonat/knockturn/service/metrics"
)

const (
	issueSendTxPath = "/v1/wallet/owner/issue_send_tx"
	retrieveTxsPath = "/v1/wallet/owner/retrieve_txs"
	receiveTxPath   = "/v1/wallet/foreign/receive_tx"
	finalizeTxPath  = "/v1/wallet/owner/finalize_tx"
	cancelTxPath    = "/v1/wallet/owner/cancel_tx"
	postTxPath      = "/v1/wallet/owner/post_tx"
)

// ErrWalletUnavailable is returned when the wallet cannot be reached or does
// not answer in time.
var ErrWalletUnavailable = errors.New("wallet unavailable")

// APIError is returned when the wallet answers with a failure.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("wallet API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("wallet API error: %s", e.Message)
}

// Config holds the wallet connection settings.
type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// Client talks to the Grin wallet owner and foreign APIs over HTTP basic auth.
// Calls are never retried.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient creates a new wallet client. If cfg.Timeout is zero a 30s timeout is used.
func NewClient(cfg Config, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: httpClient,
		metrics:    m,
		logger:     logger,
	}
}

// CreateSlate asks the wallet to build an outgoing transaction for amount.
func (c *Client) CreateSlate(ctx context.Context, amount uint64, message string) (*Slate, error) {
	args := SendTxArgs{
		Amount:               amount,
		MinimumConfirmations: 10,
		Method:               "file",
		Dest:                 "",
		MaxOutputs:           500,
		NumChangeOutputs:     1,
		Message:              message,
	}
	var slate Slate
	if err := c.do(ctx, "create_slate", http.MethodPost, issueSendTxPath, nil, args, &slate); err != nil {
		return nil, err
	}
	c.logger.Debug("slate created", "slate_id", slate.ID, "amount", amount)
	return &slate, nil
}

// GetTx returns the wallet log entry for a slate id. Zero or multiple matching
// entries are reported as an APIError.
func (c *Client) GetTx(ctx context.Context, slateID string) (*TxLogEntry, error) {
	query := url.Values{}
	query.Set("refresh", "")
	query.Set("tx_id", slateID)

	var resp txListResponse
	if err := c.do(ctx, "get_tx", http.MethodGet, retrieveTxsPath, query, nil, &resp); err != nil {
		return nil, err
	}
	switch len(resp.Txs) {
	case 0:
		return nil, &APIError{Message: "transaction not found"}
	case 1:
		return &resp.Txs[0], nil
	default:
		return nil, &APIError{Message: "more than one transaction"}
	}
}

// Receive has the wallet counter-sign an incoming slate.
func (c *Client) Receive(ctx context.Context, slate *Slate) (*Slate, error) {
	var out Slate
	if err := c.do(ctx, "receive", http.MethodPost, receiveTxPath, nil, slate, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Finalize completes a slate signed by the other party.
func (c *Client) Finalize(ctx context.Context, slate *Slate) (*Slate, error) {
	var out Slate
	if err := c.do(ctx, "finalize", http.MethodPost, finalizeTxPath, nil, slate, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostTx broadcasts the most recently finalized transaction.
func (c *Client) PostTx(ctx context.Context) error {
	query := url.Values{}
	query.Set("fluff", "")
	return c.do(ctx, "post_tx", http.MethodPost, postTxPath, query, nil, nil)
}

// CancelTx cancels a transaction and releases its locked outputs.
func (c *Client) CancelTx(ctx context.Context, slateID string) error {
	query := url.Values{}
	query.Set("tx_id", slateID)
	return c.do(ctx, "cancel_tx", http.MethodPost, cancelTxPath, query, nil, nil)
}

func (c *Client) do(ctx context.Context, method, httpMethod, path string, query url.Values, in, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordWalletCall(method, err, time.Since(start).Seconds())
	}()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + encodeQuery(query)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("wallet request failed", "method", method, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrWalletUnavailable, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseErrorResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to decode %s response: %v", method, err)}
	}
	return nil
}

// encodeQuery renders flags with empty values as bare keys, e.g. "refresh&tx_id=x".
func encodeQuery(query url.Values) string {
	parts := make([]string, 0, len(query))
	for _, key := range []string{"refresh", "fluff", "tx_id"} {
		values, ok := query[key]
		if !ok {
			continue
		}
		for _, v := range values {
			if v == "" {
				parts = append(parts, url.QueryEscape(key))
			} else {
				parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(v))
			}
		}
	}
	return strings.Join(parts, "&")
}

func parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		if errResp.Message != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Message}
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
