package sweeper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/knockturn/service/db"
	"github.com/brojonat/knockturn/service/metrics"
	"github.com/google/uuid"
)

const (
	// DefaultMaxReportAttempts bounds how often a merchant callback is retried.
	DefaultMaxReportAttempts = 10
	reportBatchSize          = 100
	reportBackoffUnit        = 10 * time.Second
)

// ReportStore is the persistence used by the Reporter.
type ReportStore interface {
	ListUnreportedTransactions(ctx context.Context, maxAttempts int, now time.Time, limit int32) ([]*db.Transaction, error)
	MarkReported(ctx context.Context, id uuid.UUID) error
	RecordReportAttempt(ctx context.Context, id uuid.UUID, next time.Time) error
	GetMerchant(ctx context.Context, id string) (*db.Merchant, error)
}

// Reporter posts finished transactions to their merchant's callback URL.
type Reporter struct {
	store       ReportStore
	httpClient  *http.Client
	interval    time.Duration
	maxAttempts int
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewReporter creates a Reporter. A nil httpClient uses a client with a 10s timeout.
func NewReporter(store ReportStore, httpClient *http.Client, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Reporter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Reporter{
		store:       store,
		httpClient:  httpClient,
		interval:    interval,
		maxAttempts: DefaultMaxReportAttempts,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// NextAttempt returns when a callback that failed attempts times is retried.
func NextAttempt(now time.Time, attempts int) time.Time {
	n := time.Duration(attempts + 1)
	return now.Add(reportBackoffUnit * n * n)
}

type reportItem struct{ txn *db.Transaction }

func (r reportItem) ID() uuid.UUID { return r.txn.ID }

// RunOnce reports every due transaction.
func (r *Reporter) RunOnce(ctx context.Context) (PassResult, error) {
	list := func(ctx context.Context) ([]reportItem, error) {
		txns, err := r.store.ListUnreportedTransactions(ctx, r.maxAttempts, r.now(), reportBatchSize)
		if err != nil {
			return nil, err
		}
		items := make([]reportItem, len(txns))
		for i, t := range txns {
			items[i] = reportItem{t}
		}
		return items, nil
	}
	return runPass(ctx, r.metrics, r.logger, PassReport, list, func(ctx context.Context, item reportItem) (bool, error) {
		return true, r.report(ctx, item.txn)
	})
}

// Run reports every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	return every(ctx, r.logger, "reporter", r.interval, func(ctx context.Context) error {
		_, err := r.RunOnce(ctx)
		return err
	})
}

func (r *Reporter) report(ctx context.Context, txn *db.Transaction) error {
	merchant, err := r.store.GetMerchant(ctx, txn.MerchantID)
	if err != nil {
		return fmt.Errorf("failed to load merchant: %w", err)
	}
	if merchant.CallbackURL == nil || *merchant.CallbackURL == "" {
		return r.store.MarkReported(ctx, txn.ID)
	}

	postErr := r.post(ctx, *merchant.CallbackURL, merchant.Token, txn)
	r.metrics.RecordReport(postErr)
	if postErr != nil {
		next := NextAttempt(r.now(), txn.ReportAttempts)
		r.logger.Warn("merchant callback failed",
			"transaction_id", txn.ID,
			"merchant_id", txn.MerchantID,
			"attempt", txn.ReportAttempts+1,
			"next_attempt", next,
			"error", postErr,
		)
		if err := r.store.RecordReportAttempt(ctx, txn.ID, next); err != nil {
			return fmt.Errorf("failed to record report attempt: %w", err)
		}
		return postErr
	}

	r.logger.Info("merchant notified", "transaction_id", txn.ID, "merchant_id", txn.MerchantID, "status", txn.Status)
	return r.store.MarkReported(ctx, txn.ID)
}

func (r *Reporter) post(ctx context.Context, url, token string, txn *db.Transaction) error {
	body, err := json.Marshal(txn)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}
