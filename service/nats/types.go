package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/knockturn/service/db"
	"github.com/google/uuid"
)

// TransactionEvent is published to "transactions.{type}.{status}" whenever a
// transaction is created or changes status.
type TransactionEvent struct {
	ID             uuid.UUID            `json:"id"`
	ExternalID     string               `json:"external_id"`
	MerchantID     string               `json:"merchant_id"`
	Type           db.TransactionType   `json:"transaction_type"`
	Status         db.TransactionStatus `json:"status"`
	PreviousStatus db.TransactionStatus `json:"previous_status,omitempty"`

	GrinAmount int64  `json:"grin_amount"`
	Amount     string `json:"amount"`

	WalletTxSlateID *string `json:"wallet_tx_slate_id,omitempty"`
	Commit          *string `json:"commit,omitempty"`

	UpdatedAt   time.Time `json:"updated_at"`
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject an event is published on.
func (e *TransactionEvent) Subject() string {
	return Subject(e.Type, e.Status)
}

// Subject builds the subject for a transaction type and status.
func Subject(txType db.TransactionType, status db.TransactionStatus) string {
	return fmt.Sprintf("transactions.%s.%s", txType, status)
}

// FromTransition converts a transaction that just moved out of from into an
// event. from is empty for newly created transactions.
func FromTransition(txn *db.Transaction, from db.TransactionStatus) *TransactionEvent {
	return &TransactionEvent{
		ID:              txn.ID,
		ExternalID:      txn.ExternalID,
		MerchantID:      txn.MerchantID,
		Type:            txn.Type,
		Status:          txn.Status,
		PreviousStatus:  from,
		GrinAmount:      txn.GrinAmount,
		Amount:          txn.Amount.String(),
		WalletTxSlateID: txn.WalletTxSlateID,
		Commit:          txn.Commit,
		UpdatedAt:       txn.UpdatedAt,
		PublishedAt:     time.Now().UTC(),
	}
}
