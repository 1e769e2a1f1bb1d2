package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/knockturn/service/db"
	natspkg "github.com/brojonat/knockturn/service/nats"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func natsCommands() *cli.Command {
	return &cli.Command{
		Name:  "nats",
		Usage: "NATS transaction event commands",
		Subcommands: []*cli.Command{
			tailCommand(),
			inspectStreamCommand(),
		},
	}
}

// tailCommand prints transaction events as they are published.
func tailCommand() *cli.Command {
	return &cli.Command{
		Name:  "tail",
		Usage: "Stream transaction status changes from JetStream",
		Description: `Tail the transaction event stream. Events are published on
transactions.<type>.<status>, e.g. transactions.payout.confirmed.

Example:
  knockturn nats tail --type payment --status confirmed --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Only events of this transaction type (payment, payout)",
			},
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Only events entering this status",
			},
			&cli.StringFlag{
				Name:  "merchant-id",
				Usage: "Only events of this merchant",
			},
			&cli.StringSliceFlag{
				Name:  "filter",
				Usage: "jq expression every event must satisfy (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			filters, err := compileFilters(c.StringSlice("filter"))
			if err != nil {
				return err
			}

			subject := subjectFilter(c.String("type"), c.String("status"))
			jsonOutput := c.Bool("json")

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "📡 Tailing: %s\n", subject)
				fmt.Fprintf(os.Stderr, "   NATS: %s (stream %s)\n", c.String("nats-url"), c.String("nats-stream"))
				fmt.Fprintf(os.Stderr, "\nWaiting for events... (Ctrl-C to exit)\n\n")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
			count := 0
			handle := eventPrinter(c.String("merchant-id"), filters, jsonOutput, &count)

			err = natspkg.Tail(ctx, c.String("nats-url"), c.String("nats-stream"), subject, logger, handle)
			if err != nil && ctx.Err() == nil {
				return err
			}

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "\n✅ Received %d events\n", count)
			}
			return nil
		},
	}
}

// subjectFilter builds the subject for a type and status, either of which
// may be empty to match all.
func subjectFilter(txType, status string) string {
	if txType == "" && status == "" {
		return natspkg.StreamSubjects
	}
	if txType == "" {
		txType = "*"
	}
	if status == "" {
		status = "*"
	}
	return natspkg.Subject(db.TransactionType(txType), db.TransactionStatus(status))
}

func eventPrinter(merchantID string, filters []*gojq.Code, jsonOutput bool, count *int) func(*natspkg.TransactionEvent) error {
	return func(event *natspkg.TransactionEvent) error {
		if merchantID != "" && event.MerchantID != merchantID {
			return nil
		}
		if !matchesAll(filters, event) {
			return nil
		}
		*count++

		if jsonOutput {
			data, err := json.Marshal(event)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}
		printEvent(event)
		return nil
	}
}

func printEvent(event *natspkg.TransactionEvent) {
	fmt.Println(separator)
	fmt.Printf("ID:         %s\n", event.ID)
	fmt.Printf("Merchant:   %s\n", event.MerchantID)
	fmt.Printf("Type:       %s\n", event.Type)
	if event.PreviousStatus != "" {
		fmt.Printf("Status:     %s -> %s\n", event.PreviousStatus, event.Status)
	} else {
		fmt.Printf("Status:     %s\n", event.Status)
	}
	fmt.Printf("Amount:     %s\n", event.Amount)
	fmt.Printf("Grin:       %d nanogrin\n", event.GrinAmount)
	if event.WalletTxSlateID != nil {
		fmt.Printf("Slate:      %s\n", *event.WalletTxSlateID)
	}
	fmt.Printf("Updated:    %s\n", event.UpdatedAt.Format(time.RFC3339))
	fmt.Printf("Published:  %s\n", event.PublishedAt.Format(time.RFC3339))
	fmt.Println()
}

// inspectStreamCommand shows information about the JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the transaction event stream",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
			defer cancel()

			stream, err := js.Stream(ctx, c.String("nats-stream"))
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(info)
			}

			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("─────────────────────────────────────────────────────\n")
			fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
			fmt.Printf("Messages:     %d\n", info.State.Msgs)
			fmt.Printf("Bytes:        %d\n", info.State.Bytes)
			fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
			fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
			fmt.Printf("Consumers:    %d\n", info.State.Consumers)
			fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
			fmt.Printf("Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}
