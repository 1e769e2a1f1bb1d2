package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/knockturn/service/db"
	"github.com/brojonat/knockturn/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher publishes transaction status events.
type Publisher interface {
	// PublishTransition publishes the event for a transaction that moved out
	// of from. from is empty when the transaction was just created.
	PublishTransition(ctx context.Context, txn *db.Transaction, from db.TransactionStatus) error

	// PublishEvent publishes a prepared event.
	PublishEvent(ctx context.Context, event *TransactionEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes transaction events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	stream  string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// DefaultStreamName is the JetStream stream holding transaction events.
	DefaultStreamName = "KNOCKTURN_TRANSACTIONS"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "transactions.>"

	// StreamRetention is how long messages are retained.
	StreamRetention = 30 * 24 * time.Hour
)

// NewPublisher connects to NATS and ensures the stream exists.
func NewPublisher(natsURL, stream string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	if stream == "" {
		stream = DefaultStreamName
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("knockturn-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		stream:  stream,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized", "url", natsURL, "stream", stream)
	return publisher, nil
}

func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, p.stream)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", p.stream,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", p.stream)
	_, err = p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        p.stream,
		Description: "Payment and payout status transitions",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// PublishTransition implements Publisher.
func (p *JetStreamPublisher) PublishTransition(ctx context.Context, txn *db.Transaction, from db.TransactionStatus) error {
	return p.PublishEvent(ctx, FromTransition(txn, from))
}

// PublishEvent implements Publisher.
func (p *JetStreamPublisher) PublishEvent(ctx context.Context, event *TransactionEvent) error {
	subject := event.Subject()
	start := time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction event: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data)
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("failed to publish transaction event: %w", err)
	}

	p.logger.Debug("published transaction event",
		"subject", subject,
		"transaction_id", event.ID,
		"merchant_id", event.MerchantID,
	)
	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
