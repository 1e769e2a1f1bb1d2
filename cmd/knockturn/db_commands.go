package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/knockturn/service/db"
	"github.com/brojonat/knockturn/service/money"
	"github.com/itchyny/gojq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/bcrypt"
)

func dbCommands() *cli.Command {
	return &cli.Command{
		Name:  "db",
		Usage: "Database inspection and administration commands",
		Subcommands: []*cli.Command{
			listMerchantsCommand(),
			getMerchantCommand(),
			createMerchantCommand(),
			listTransactionsCommand(),
			getWalletTxCommand(),
			balanceCommand(),
			migrateCommand(),
		},
	}
}

func listMerchantsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-merchants",
		Usage:   "List all merchants",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			merchants, err := store.ListMerchants(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list merchants: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(merchants)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tBALANCE\tCALLBACK\tCREATED")
			for _, m := range merchants {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					m.ID,
					m.Email,
					money.Grin(m.Balance),
					formatOptional(m.CallbackURL),
					m.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d merchants\n", len(merchants))
			return nil
		},
	}
}

func getMerchantCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-merchant",
		Usage:     "Get merchant details",
		Aliases:   []string{"get"},
		ArgsUsage: "<merchant-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: merchant id")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			m, err := store.GetMerchant(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get merchant: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(m)
			}

			fmt.Printf("ID:         %s\n", m.ID)
			fmt.Printf("Email:      %s\n", m.Email)
			fmt.Printf("Balance:    %s\n", money.Grin(m.Balance))
			fmt.Printf("Wallet URL: %s\n", formatOptional(m.WalletURL))
			fmt.Printf("Callback:   %s\n", formatOptional(m.CallbackURL))
			fmt.Printf("Created:    %s\n", m.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func createMerchantCommand() *cli.Command {
	return &cli.Command{
		Name:      "create-merchant",
		Usage:     "Create a merchant and print its API token",
		ArgsUsage: "<merchant-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "email",
				Usage:    "Merchant contact email",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "password",
				Usage:   "Merchant password",
				EnvVars: []string{"MERCHANT_PASSWORD"},
			},
			&cli.StringFlag{
				Name:  "callback-url",
				Usage: "URL notified when transactions finish",
			},
			&cli.StringFlag{
				Name:  "wallet-url",
				Usage: "Merchant's own wallet URL",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: merchant id")
			}
			password := c.String("password")
			if password == "" {
				return fmt.Errorf("password is required (use --password or MERCHANT_PASSWORD)")
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			token, err := newToken()
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			m, err := store.CreateMerchant(c.Context, db.CreateMerchantParams{
				ID:           c.Args().First(),
				Email:        c.String("email"),
				PasswordHash: string(hash),
				WalletURL:    optionalString(c.String("wallet-url")),
				Token:        token,
				CallbackURL:  optionalString(c.String("callback-url")),
			})
			if err != nil {
				return fmt.Errorf("failed to create merchant: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"merchant": m,
					"token":    token,
				})
			}

			fmt.Printf("✓ Merchant %s created\n", m.ID)
			fmt.Printf("  Token: %s\n", token)
			fmt.Fprintln(os.Stderr, "\nStore the token now; it is not shown again.")
			return nil
		},
	}
}

func listTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-transactions",
		Usage:     "List a merchant's transactions, newest first",
		Aliases:   []string{"txs"},
		ArgsUsage: "<merchant-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (new, initialized, pending, confirmed, rejected, refund)",
			},
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Filter by type (payment, payout)",
			},
			&cli.StringSliceFlag{
				Name:  "filter",
				Usage: "jq expression every transaction must satisfy (repeatable)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of transactions",
				Value:   50,
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format: json (default) or human",
				Value: "json",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: merchant id")
			}

			filters, err := compileFilters(c.StringSlice("filter"))
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			transactions, err := store.ListMerchantTransactions(c.Context, c.Args().First(), int32(c.Int("limit")), 0)
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}
			transactions = filterTransactions(transactions, c.String("status"), c.String("type"), filters)

			// Default to JSON output: stdout = JSON
			if c.String("format") == "json" || c.Bool("json") {
				return outputJSON(transactions)
			}

			if len(transactions) == 0 {
				fmt.Println("No transactions found")
				return nil
			}

			for i, tx := range transactions {
				if i > 0 {
					fmt.Println(separator)
				}
				printDBTransaction(tx)
			}

			fmt.Println(separator)
			fmt.Fprintf(os.Stderr, "\nTotal: %d transactions\n", len(transactions))
			return nil
		},
	}
}

func getWalletTxCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-tx",
		Usage:     "Show the wallet record of a received payment slate",
		ArgsUsage: "<slate-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: slate id")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			wtx, err := store.GetWalletTx(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get wallet tx: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(wtx)
			}

			fmt.Printf("Slate:      %s\n", wtx.SlateID)
			fmt.Printf("Payment:    %s\n", wtx.OrderID)
			fmt.Printf("Type:       %s\n", wtx.TxType)
			fmt.Printf("Fee:        %s\n", formatOptionalGrin(wtx.Fee))
			fmt.Printf("Inputs:     %d\n", wtx.NumInputs)
			fmt.Printf("Outputs:    %d\n", wtx.NumOutputs)
			fmt.Printf("Confirmed:  %t\n", wtx.Confirmed)
			if wtx.ConfirmedAt != nil {
				fmt.Printf("Confirmed at: %s\n", wtx.ConfirmedAt.Format(time.RFC3339))
			}
			for _, msg := range wtx.Messages {
				fmt.Printf("Message:    %s\n", msg)
			}
			return nil
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show a merchant's spendable balance from the ledger",
		ArgsUsage: "<merchant-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: merchant id")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			merchantID := c.Args().First()
			balance, err := store.GetMerchantBalance(c.Context, merchantID)
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"merchant_id": merchantID,
					"balance":     balance,
				})
			}

			fmt.Printf("%s: %s\n", merchantID, money.Grin(balance))
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the database schema",
		Action: func(c *cli.Context) error {
			pool, err := getPool(c)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(c.Context, pool); err != nil {
				return fmt.Errorf("failed to migrate: %w", err)
			}
			fmt.Println("✓ Schema up to date")
			return nil
		},
	}
}

// filterTransactions keeps the transactions matching status, type and every
// jq filter. Empty criteria match everything.
func filterTransactions(txs []*db.Transaction, status, txType string, filters []*gojq.Code) []*db.Transaction {
	filtered := make([]*db.Transaction, 0, len(txs))
	for _, tx := range txs {
		if status != "" && string(tx.Status) != status {
			continue
		}
		if txType != "" && string(tx.Type) != txType {
			continue
		}
		if !matchesAll(filters, tx) {
			continue
		}
		filtered = append(filtered, tx)
	}
	return filtered
}

const separator = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

func printDBTransaction(tx *db.Transaction) {
	fmt.Printf("ID:             %s\n", tx.ID)
	fmt.Printf("Type:           %s\n", tx.Type)
	fmt.Printf("Status:         %s\n", tx.Status)
	fmt.Printf("External ID:    %s\n", tx.ExternalID)
	fmt.Printf("Amount:         %s\n", tx.Amount)
	fmt.Printf("Grin Amount:    %s\n", money.Grin(tx.GrinAmount))
	if tx.TransferFee != nil || tx.ServiceFee != nil {
		fmt.Printf("Fees:           transfer %s, service %s\n", formatOptionalGrin(tx.TransferFee), formatOptionalGrin(tx.ServiceFee))
	}
	fmt.Printf("Confirmations:  %d\n", tx.Confirmations)
	fmt.Printf("Slate:          %s\n", formatOptional(tx.WalletTxSlateID))
	fmt.Printf("Reported:       %t (%d attempts)\n", tx.Reported, tx.ReportAttempts)
	fmt.Printf("Created At:     %s\n", tx.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated At:     %s\n", tx.UpdatedAt.Format(time.RFC3339))
}

// Helper function to connect to database
func getPool(c *cli.Context) (*pgxpool.Pool, error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		// Try environment variable directly if flag not found
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func getStore(c *cli.Context) (*db.Store, func(), error) {
	pool, err := getPool(c)
	if err != nil {
		return nil, nil, err
	}
	return db.NewStore(pool), pool.Close, nil
}

// newToken returns a random 32-byte hex API token.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "(none)"
}

func formatOptionalGrin(v *int64) string {
	if v == nil {
		return "-"
	}
	return money.Grin(*v).String()
}
