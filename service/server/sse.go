package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/knockturn/service/db"
	natspkg "github.com/brojonat/knockturn/service/nats"
)

// EventSource delivers transaction events published after Tail is called.
// *nats.Subscriber implements it.
type EventSource interface {
	Tail(ctx context.Context, filter string, handle func(*natspkg.TransactionEvent) error) error
	Close() error
}

// handleStreamEvents streams the merchant's transaction events as Server-Sent Events.
// GET /api/v1/merchants/{merchant_id}/events?type=payment|payout
func handleStreamEvents(events EventSource, logger *slog.Logger) merchantHandler {
	return func(w http.ResponseWriter, r *http.Request, merchant *db.Merchant) {
		filter := natspkg.StreamSubjects
		switch t := r.URL.Query().Get("type"); t {
		case "":
		case string(db.TypePayment), string(db.TypePayout):
			filter = fmt.Sprintf("transactions.%s.>", t)
		default:
			writeError(w, "type must be payment or payout", http.StatusBadRequest)
			return
		}

		rc := http.NewResponseController(w)
		// Streams outlive the server write timeout.
		_ = rc.SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		ctx := r.Context()
		eventCh := make(chan *natspkg.TransactionEvent, 16)
		doneCh := make(chan error, 1)

		go func() {
			doneCh <- events.Tail(ctx, filter, func(event *natspkg.TransactionEvent) error {
				if event.MerchantID != merchant.ID {
					return nil
				}
				select {
				case eventCh <- event:
				case <-ctx.Done():
				}
				return nil
			})
		}()

		logger.DebugContext(ctx, "SSE client connected",
			"merchant_id", merchant.ID,
			"filter", filter,
			"remote_addr", r.RemoteAddr,
		)

		hello, _ := json.Marshal(map[string]string{"merchant_id": merchant.ID, "filter": filter})
		fmt.Fprintf(w, "event: connected\ndata: %s\n\n", hello)
		_ = rc.Flush()

		send := func(event *natspkg.TransactionEvent) {
			data, err := json.Marshal(event)
			if err != nil {
				logger.WarnContext(ctx, "failed to marshal event", "error", err)
				return
			}
			fmt.Fprintf(w, "event: transaction\ndata: %s\n\n", data)
			_ = rc.Flush()
		}

		keepalive := time.NewTicker(10 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				_ = rc.Flush()

			case event := <-eventCh:
				send(event)

			case err := <-doneCh:
				// Drain anything delivered before the source stopped.
				for {
					select {
					case event := <-eventCh:
						send(event)
						continue
					default:
					}
					break
				}
				if err != nil {
					logger.ErrorContext(ctx, "event stream failed", "merchant_id", merchant.ID, "error", err)
					fmt.Fprintf(w, "event: error\ndata: {\"error\": \"stream closed\"}\n\n")
					_ = rc.Flush()
				}
				return

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected",
					"merchant_id", merchant.ID,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	}
}
