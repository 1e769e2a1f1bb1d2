package fsm

import (
	"github.com/brojonat/knockturn/service/db"
	"github.com/google/uuid"
)

// staged is a transaction row known to be in a specific stage. Stage types
// embed it and are only built by this package from rows whose status and
// type were filtered by the store.
type staged struct {
	tx *db.Transaction
}

// Transaction returns a copy of the underlying row.
func (s staged) Transaction() *db.Transaction {
	if s.tx == nil {
		return nil
	}
	t := *s.tx
	return &t
}

// ID returns the transaction id.
func (s staged) ID() uuid.UUID {
	if s.tx == nil {
		return uuid.Nil
	}
	return s.tx.ID
}

func (s staged) valid() error {
	if s.tx == nil {
		return ErrNotFound
	}
	return nil
}

// Payout stages.
type (
	NewPayout         struct{ staged }
	InitializedPayout struct{ staged }
	PendingPayout     struct{ staged }
	ConfirmedPayout   struct{ staged }
	RejectedPayout    struct{ staged }
)

// Payment stages.
type (
	NewPayment       struct{ staged }
	PendingPayment   struct{ staged }
	ConfirmedPayment struct{ staged }
	RejectedPayment  struct{ staged }
)

func wrap[T any](txns []*db.Transaction, build func(*db.Transaction) T) []T {
	out := make([]T, len(txns))
	for i, t := range txns {
		out[i] = build(t)
	}
	return out
}
