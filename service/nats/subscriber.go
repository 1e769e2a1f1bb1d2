package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Subscriber reads transaction events from the stream over one shared
// connection. Each Tail call gets its own ephemeral consumer.
type Subscriber struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
	logger *slog.Logger
}

// NewSubscriber connects to NATS.
func NewSubscriber(natsURL, stream string, logger *slog.Logger) (*Subscriber, error) {
	if stream == "" {
		stream = DefaultStreamName
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("knockturn-subscriber"),
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

	logger.Info("NATS subscriber initialized", "nats_url", natsURL, "stream", stream)

	return &Subscriber{nc: nc, js: js, stream: stream, logger: logger}, nil
}

// Tail streams events matching filter (for example "transactions.payout.>")
// to handle until ctx is done or handle returns an error. Only events
// published after the call are delivered.
func (s *Subscriber) Tail(ctx context.Context, filter string, handle func(*TransactionEvent) error) error {
	if filter == "" {
		filter = StreamSubjects
	}

	cons, err := s.js.OrderedConsumer(ctx, s.stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{filter},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	errCh := make(chan error, 1)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var event TransactionEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			s.logger.Warn("skipping malformed event", "subject", msg.Subject(), "error", err)
			return
		}
		if err := handle(&event); err != nil {
			select {
			case errCh <- err:
			default:
			}
		}
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	defer cc.Stop()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Close closes the NATS connection.
func (s *Subscriber) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS subscriber closed")
	}
	return nil
}

// Tail is a one-shot helper that connects, tails and disconnects.
func Tail(ctx context.Context, natsURL, stream, filter string, logger *slog.Logger, handle func(*TransactionEvent) error) error {
	sub, err := NewSubscriber(natsURL, stream, logger)
	if err != nil {
		return err
	}
	defer sub.Close()
	return sub.Tail(ctx, filter, handle)
}
