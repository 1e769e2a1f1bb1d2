package fsm

import (
	"errors"
	"fmt"

	"github.com/brojonat/knockturn/service/db"
)

var (
	// ErrNotFound is returned when a transaction does not exist in the
	// expected stage, including when another caller advanced it first.
	ErrNotFound = db.ErrNotFound
	// ErrNotEnoughFunds is returned when a payout exceeds the merchant balance.
	ErrNotEnoughFunds = errors.New("not enough funds")
	// ErrSlateMismatch is returned when a slate does not belong to the transaction.
	ErrSlateMismatch = errors.New("slate does not match transaction")
	// ErrTxFinalized is returned when a rejection would cancel a wallet
	// transaction that was already finalized or confirmed.
	ErrTxFinalized = errors.New("wallet transaction already finalized")
	// ErrUnsupportedCurrency is returned when an amount cannot be converted to grin.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

// WrongAmountError is returned when a slate amount differs from the requested amount.
type WrongAmountError struct {
	Expected uint64
	Actual   uint64
}

func (e *WrongAmountError) Error() string {
	return fmt.Sprintf("wrong amount: expected %d, got %d", e.Expected, e.Actual)
}
