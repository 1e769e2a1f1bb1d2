package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/knockturn/service/db/dbgen"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a lookup or conditional update matched no rows.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned on unique constraint violations.
	ErrDuplicate = errors.New("already exists")
)

// Store provides database operations for the service.
// It wraps the generated sqlc Querier interface with a concrete implementation.
type Store struct {
	pool *pgxpool.Pool
	q    *dbgen.Queries
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		q:    dbgen.New(pool),
	}
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// inTx runs fn inside a database transaction, committing on success.
func (s *Store) inTx(ctx context.Context, fn func(q *dbgen.Queries) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(s.q.WithTx(tx))
	})
}

// Merchant is an account that receives payments and requests payouts.
type Merchant struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Password    string    `json:"-"`
	WalletURL   *string   `json:"wallet_url,omitempty"`
	Balance     int64     `json:"balance"`
	CreatedAt   time.Time `json:"created_at"`
	Token       string    `json:"-"`
	CallbackURL *string   `json:"callback_url,omitempty"`
}

// CreateMerchantParams contains the parameters for creating a merchant.
type CreateMerchantParams struct {
	ID           string
	Email        string
	PasswordHash string
	WalletURL    *string
	Token        string
	CallbackURL  *string
}

// CreateMerchant inserts a new merchant.
func (s *Store) CreateMerchant(ctx context.Context, params CreateMerchantParams) (*Merchant, error) {
	result, err := s.q.CreateMerchant(ctx, dbgen.CreateMerchantParams{
		ID:          params.ID,
		Email:       params.Email,
		Password:    params.PasswordHash,
		WalletUrl:   pgtextFromStringPtr(params.WalletURL),
		Token:       params.Token,
		CallbackUrl: pgtextFromStringPtr(params.CallbackURL),
	})
	if err != nil {
		return nil, mapError(err)
	}
	return dbMerchantToDomain(&result), nil
}

// GetMerchant retrieves a merchant by id.
func (s *Store) GetMerchant(ctx context.Context, id string) (*Merchant, error) {
	result, err := s.q.GetMerchant(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return dbMerchantToDomain(&result), nil
}

// GetMerchantByToken retrieves a merchant by API token.
func (s *Store) GetMerchantByToken(ctx context.Context, token string) (*Merchant, error) {
	result, err := s.q.GetMerchantByToken(ctx, token)
	if err != nil {
		return nil, mapError(err)
	}
	return dbMerchantToDomain(&result), nil
}

// ListMerchants returns all merchants ordered by creation time.
func (s *Store) ListMerchants(ctx context.Context) ([]*Merchant, error) {
	results, err := s.q.ListMerchants(ctx)
	if err != nil {
		return nil, err
	}
	merchants := make([]*Merchant, len(results))
	for i := range results {
		merchants[i] = dbMerchantToDomain(&results[i])
	}
	return merchants, nil
}

// GetMerchantBalance computes the merchant balance from the transaction ledger.
// The cached merchants.balance column always holds the same value.
func (s *Store) GetMerchantBalance(ctx context.Context, merchantID string) (int64, error) {
	if _, err := s.q.GetMerchant(ctx, merchantID); err != nil {
		return 0, mapError(err)
	}
	return s.q.GetMerchantBalance(ctx, merchantID)
}

// mapError converts driver errors into store errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func dbMerchantToDomain(db *dbgen.Merchant) *Merchant {
	return &Merchant{
		ID:          db.ID,
		Email:       db.Email,
		Password:    db.Password,
		WalletURL:   stringPtrFromPgtext(db.WalletUrl),
		Balance:     db.Balance,
		CreatedAt:   db.CreatedAt.Time,
		Token:       db.Token,
		CallbackURL: stringPtrFromPgtext(db.CallbackUrl),
	}
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgint8FromInt64Ptr(n *int64) pgtype.Int8 {
	if n == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: *n, Valid: true}
}

func int64PtrFromPgint8(n pgtype.Int8) *int64 {
	if !n.Valid {
		return nil
	}
	return &n.Int64
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgTimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
