package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/brojonat/knockturn/client"
	"github.com/brojonat/knockturn/service/money"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "Merchant API commands (requires --merchant and --token)",
		Subcommands: []*cli.Command{
			clientBalanceCommand(),
			clientTransactionsCommand(),
			createPayoutCommand(),
			payoutSlateCommand(),
			acceptSlateCommand(),
			rejectPayoutCommand(),
			createPaymentCommand(),
			invoiceCommand(),
			awaitCommand(),
		},
	}
}

func newAPIClient(c *cli.Context, timeout time.Duration) (*client.Client, error) {
	merchantID := c.String("merchant")
	token := c.String("token")
	if merchantID == "" || token == "" {
		return nil, fmt.Errorf("merchant and token are required (set KNOCKTURN_MERCHANT and KNOCKTURN_TOKEN or use --merchant/--token)")
	}

	// Only errors to stderr
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return client.NewClient(c.String("server-url"), merchantID, token, &http.Client{Timeout: timeout}, logger), nil
}

func clientBalanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "Show the merchant balance",
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c, 30*time.Second)
			if err != nil {
				return err
			}

			balance, err := cl.Balance(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(balance)
			}
			fmt.Printf("%s: %s\n", balance.MerchantID, balance.Display)
			return nil
		},
	}
}

func clientTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "transactions",
		Usage:   "List the merchant's transactions",
		Aliases: []string{"txs"},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   20,
			},
			&cli.IntFlag{
				Name: "offset",
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c, 30*time.Second)
			if err != nil {
				return err
			}

			txs, err := cl.ListTransactions(c.Context, c.Int("limit"), c.Int("offset"))
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(txs)
			}
			for _, txn := range txs {
				printTransactionDetailed(txn)
			}
			fmt.Fprintf(os.Stderr, "\nTotal: %d transactions\n", len(txs))
			return nil
		},
	}
}

func createPayoutCommand() *cli.Command {
	return &cli.Command{
		Name:      "create-payout",
		Usage:     "Request a withdrawal",
		ArgsUsage: "<amount-in-grin>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "confirmations",
				Usage: "Required confirmations (server default when 0)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: amount in grin, e.g. 1.5")
			}
			amount, err := money.ParseMoney(c.Args().First(), money.GRIN)
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}

			cl, err := newAPIClient(c, 30*time.Second)
			if err != nil {
				return err
			}

			txn, err := cl.CreatePayout(c.Context, amount.Amount, c.Int("confirmations"))
			if err != nil {
				return fmt.Errorf("failed to create payout: %w", err)
			}
			return printTransactionResult(c, txn)
		},
	}
}

func payoutSlateCommand() *cli.Command {
	return &cli.Command{
		Name:      "payout-slate",
		Usage:     "Generate the slate for a new payout and save it for the wallet",
		ArgsUsage: "<payout-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "File to write the slate to",
				Value:   "knockturn-payout.grinslate",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: payout id")
			}

			cl, err := newAPIClient(c, 60*time.Second)
			if err != nil {
				return err
			}

			slate, err := cl.GeneratePayoutSlate(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to generate slate: %w", err)
			}

			if err := os.WriteFile(c.String("out"), slate, 0o600); err != nil {
				return fmt.Errorf("failed to write slate: %w", err)
			}
			fmt.Printf("✓ Slate written to %s\n", c.String("out"))
			fmt.Fprintln(os.Stderr, "Sign it with your wallet, then run: knockturn client accept-slate <payout-id> <signed-file>")
			return nil
		},
	}
}

func acceptSlateCommand() *cli.Command {
	return &cli.Command{
		Name:      "accept-slate",
		Usage:     "Send a signed payout slate for broadcast",
		ArgsUsage: "<payout-id> <slate-file>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: payout id and slate file")
			}

			data, err := os.ReadFile(c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("failed to read slate: %w", err)
			}
			if !json.Valid(data) {
				return fmt.Errorf("slate file is not valid JSON")
			}

			cl, err := newAPIClient(c, 60*time.Second)
			if err != nil {
				return err
			}

			txn, err := cl.AcceptPayoutSlate(c.Context, c.Args().First(), data)
			if err != nil {
				return fmt.Errorf("failed to accept slate: %w", err)
			}
			return printTransactionResult(c, txn)
		},
	}
}

func rejectPayoutCommand() *cli.Command {
	return &cli.Command{
		Name:      "reject-payout",
		Usage:     "Cancel a payout that has no slate yet",
		ArgsUsage: "<payout-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: payout id")
			}

			cl, err := newAPIClient(c, 30*time.Second)
			if err != nil {
				return err
			}

			txn, err := cl.RejectPayout(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to reject payout: %w", err)
			}
			return printTransactionResult(c, txn)
		},
	}
}

func createPaymentCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-payment",
		Usage: "Open a payment for an order",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "order-id",
				Usage:    "Merchant order id",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "amount",
				Usage:    "Order total, e.g. 12.50",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "currency",
				Usage: "GRIN, BTC, EUR or USD",
				Value: "GRIN",
			},
			&cli.IntFlag{
				Name:  "confirmations",
				Value: 10,
			},
			&cli.StringFlag{
				Name: "message",
			},
			&cli.StringFlag{
				Name: "email",
			},
			&cli.StringFlag{
				Name: "redirect-url",
			},
		},
		Action: func(c *cli.Context) error {
			currency, err := money.ParseCurrency(c.String("currency"))
			if err != nil {
				return err
			}
			amount, err := money.ParseMoney(c.String("amount"), currency)
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}

			cl, err := newAPIClient(c, 30*time.Second)
			if err != nil {
				return err
			}

			txn, err := cl.CreatePayment(c.Context, client.CreatePaymentRequest{
				OrderID:       c.String("order-id"),
				Amount:        client.Amount{Amount: amount.Amount, Currency: string(amount.Currency)},
				Confirmations: c.Int("confirmations"),
				Message:       c.String("message"),
				Email:         optionalString(c.String("email")),
				RedirectURL:   optionalString(c.String("redirect-url")),
			})
			if err != nil {
				return fmt.Errorf("failed to create payment: %w", err)
			}
			return printTransactionResult(c, txn)
		},
	}
}

func invoiceCommand() *cli.Command {
	return &cli.Command{
		Name:      "invoice",
		Usage:     "Show the payer-facing invoice of a payment",
		ArgsUsage: "<payment-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: payment id")
			}

			cl, err := newAPIClient(c, 30*time.Second)
			if err != nil {
				return err
			}

			inv, err := cl.GetInvoice(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get invoice: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(inv)
			}

			fmt.Printf("Order:       %s\n", inv.OrderID)
			fmt.Printf("Status:      %s\n", inv.Status)
			fmt.Printf("Amount:      %s (%s)\n", inv.Amount, inv.GrinDisplay)
			fmt.Printf("Pay to:      %s\n", inv.PaymentURL)
			fmt.Printf("Wallet link: %s\n", inv.WalletLink)
			if inv.ExpiresAt != nil {
				fmt.Printf("Expires:     %s\n", inv.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a transaction reaches a status",
		ArgsUsage: "<transaction-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Status to wait for",
				Value:   "confirmed",
			},
			&cli.StringFlag{
				Name:  "type",
				Usage: "Narrow the stream to payment or payout events",
			},
			&cli.StringSliceFlag{
				Name:  "filter",
				Usage: "Additional jq expression the event must satisfy (repeatable)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction id")
			}

			filters, err := compileFilters(c.StringSlice("filter"))
			if err != nil {
				return err
			}

			cl, err := newAPIClient(c, 30*time.Second)
			if err != nil {
				return err
			}

			id := c.Args().First()
			status := c.String("status")
			jsonOutput := c.Bool("json")

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Waiting for %s to become %s...\n", id, status)
				fmt.Fprintf(os.Stderr, "  Timeout: %v\n\n", c.Duration("timeout"))
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			event, err := cl.Await(ctx, c.String("type"), awaitMatcher(id, status, filters))
			if err != nil {
				return fmt.Errorf("failed to await transaction: %w", err)
			}

			if jsonOutput {
				return outputJSON(event)
			}

			fmt.Println(separator)
			fmt.Printf("✓ %s %s is %s\n", event.Type, event.ID, event.Status)
			fmt.Printf("  Amount:  %s\n", event.Amount)
			fmt.Printf("  Updated: %s\n", event.UpdatedAt.Format(time.RFC3339))
			fmt.Println(separator)
			return nil
		},
	}
}

func awaitMatcher(id, status string, filters []*gojq.Code) func(*client.Event) bool {
	return func(e *client.Event) bool {
		if e.ID != id {
			return false
		}
		if status != "" && e.Status != status {
			return false
		}
		return matchesAll(filters, e)
	}
}

func printTransactionResult(c *cli.Context, txn *client.Transaction) error {
	if c.Bool("json") {
		return outputJSON(txn)
	}
	printTransactionDetailed(txn)
	return nil
}

func printTransactionDetailed(txn *client.Transaction) {
	fmt.Println(separator)
	fmt.Printf("ID:            %s\n", txn.ID)
	fmt.Printf("Type:          %s\n", txn.Type)
	fmt.Printf("Status:        %s\n", txn.Status)
	if txn.ExternalID != "" {
		fmt.Printf("Order:         %s\n", txn.ExternalID)
	}
	fmt.Printf("Amount:        %s\n", txn.AmountDisplay)
	fmt.Printf("Grin:          %s\n", money.Grin(txn.GrinAmount))
	if txn.TransferFee != nil {
		fmt.Printf("Transfer Fee:  %s\n", money.Grin(*txn.TransferFee))
	}
	if txn.ServiceFee != nil {
		fmt.Printf("Service Fee:   %s\n", money.Grin(*txn.ServiceFee))
	}
	fmt.Printf("Confirmations: %d\n", txn.Confirmations)
	fmt.Printf("Created:       %s\n", txn.CreatedAt.Format(time.RFC3339))
	fmt.Println(separator)
}
