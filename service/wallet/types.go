package wallet

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Uint64String is a u64 that encodes as a JSON string and decodes from either
// a string or a number.
type Uint64String uint64

// MarshalJSON encodes the value as a numeric string.
func (u Uint64String) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(u), 10))
}

// UnmarshalJSON accepts "123" or 123.
func (u *Uint64String) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid u64 %q: %w", string(data), err)
	}
	*u = Uint64String(v)
	return nil
}

// Commitment is a Pedersen commitment, hex-encoded on the wire.
type Commitment []byte

// MarshalJSON encodes the commitment as a hex string.
func (c Commitment) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(c))
}

// UnmarshalJSON decodes a hex string.
func (c *Commitment) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid commitment: %w", err)
	}
	*c = b
	return nil
}

// String returns the hex encoding.
func (c Commitment) String() string {
	return hex.EncodeToString(c)
}

// ParseCommitment decodes a hex-encoded commitment.
func ParseCommitment(s string) (Commitment, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid commitment: %w", err)
	}
	return b, nil
}

// Output is a transaction output.
type Output struct {
	Features string     `json:"features,omitempty"`
	Commit   Commitment `json:"commit"`
	Proof    string     `json:"proof,omitempty"`
}

// TxBody holds the inputs, outputs and kernels of a transaction.
type TxBody struct {
	Outputs []Output `json:"outputs"`
}

// SlateTx is the transaction carried in a slate.
type SlateTx struct {
	Body TxBody `json:"body"`
}

// Slate is a partially signed transaction exchanged between parties.
// Only the fields this service reads are modelled. The full document is kept
// so that a decoded slate re-encodes without losing participant data.
type Slate struct {
	ID     string       `json:"id"`
	Tx     SlateTx      `json:"tx"`
	Amount Uint64String `json:"amount"`
	Fee    Uint64String `json:"fee,omitempty"`

	raw json.RawMessage
}

type slateFields Slate

// UnmarshalJSON decodes the modelled fields and retains the raw document.
func (s *Slate) UnmarshalJSON(data []byte) error {
	var f slateFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = Slate(f)
	s.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the original document when the slate was decoded from
// JSON, and the modelled fields otherwise.
func (s Slate) MarshalJSON() ([]byte, error) {
	if len(s.raw) > 0 {
		return s.raw, nil
	}
	return json.Marshal(slateFields(s))
}

// FirstOutputCommitment returns the commitment of the first output.
func (s *Slate) FirstOutputCommitment() (Commitment, error) {
	if len(s.Tx.Body.Outputs) == 0 {
		return nil, fmt.Errorf("slate %s has no outputs", s.ID)
	}
	return s.Tx.Body.Outputs[0].Commit, nil
}

// TxLogEntryType is the wallet's classification of a log entry.
type TxLogEntryType string

const (
	ConfirmedCoinbase   TxLogEntryType = "ConfirmedCoinbase"
	TxReceived          TxLogEntryType = "TxReceived"
	TxSent              TxLogEntryType = "TxSent"
	TxReceivedCancelled TxLogEntryType = "TxReceivedCancelled"
	TxSentCancelled     TxLogEntryType = "TxSentCancelled"
)

// ParticipantMessageData is one participant's message in a slate.
type ParticipantMessageData struct {
	ID         Uint64String `json:"id"`
	PublicKey  string       `json:"public_key"`
	Message    *string      `json:"message"`
	MessageSig *string      `json:"message_sig"`
}

// ParticipantMessages wraps the participant messages of a log entry.
type ParticipantMessages struct {
	Messages []ParticipantMessageData `json:"messages"`
}

// TxLogEntry is the wallet's local bookkeeping record for a transaction.
type TxLogEntry struct {
	ID             uint32               `json:"id"`
	TxSlateID      *string              `json:"tx_slate_id"`
	TxType         TxLogEntryType       `json:"tx_type"`
	CreationTS     time.Time            `json:"creation_ts"`
	ConfirmationTS *time.Time           `json:"confirmation_ts"`
	Confirmed      bool                 `json:"confirmed"`
	NumInputs      int64                `json:"num_inputs"`
	NumOutputs     int64                `json:"num_outputs"`
	AmountCredited Uint64String         `json:"amount_credited"`
	AmountDebited  Uint64String         `json:"amount_debited"`
	Fee            *Uint64String        `json:"fee"`
	Messages       *ParticipantMessages `json:"messages"`
	StoredTx       *string              `json:"stored_tx"`
}

// ParticipantMessages returns the non-empty participant messages.
func (e *TxLogEntry) ParticipantMessages() []string {
	if e.Messages == nil {
		return nil
	}
	var out []string
	for _, m := range e.Messages.Messages {
		if m.Message != nil && *m.Message != "" {
			out = append(out, *m.Message)
		}
	}
	return out
}

// FeeAmount returns the fee as an int64 pointer, nil when unknown.
func (e *TxLogEntry) FeeAmount() *int64 {
	if e.Fee == nil {
		return nil
	}
	v := int64(*e.Fee)
	return &v
}

// SendTxArgs is the request body of issue_send_tx.
type SendTxArgs struct {
	Amount                    uint64 `json:"amount"`
	MinimumConfirmations      uint64 `json:"minimum_confirmations"`
	Method                    string `json:"method"`
	Dest                      string `json:"dest"`
	MaxOutputs                int    `json:"max_outputs"`
	NumChangeOutputs          int    `json:"num_change_outputs"`
	SelectionStrategyIsUseAll bool   `json:"selection_strategy_is_use_all"`
	Message                   string `json:"message,omitempty"`
}

// txListResponse decodes retrieve_txs, which the wallet returns either as a
// [refreshed, entries] tuple or as an object.
type txListResponse struct {
	Updated bool         `json:"updated"`
	Txs     []TxLogEntry `json:"txs"`
}

func (r *txListResponse) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var tuple []json.RawMessage
		if err := json.Unmarshal(data, &tuple); err != nil {
			return err
		}
		if len(tuple) != 2 {
			return fmt.Errorf("unexpected retrieve_txs tuple of length %d", len(tuple))
		}
		if err := json.Unmarshal(tuple[0], &r.Updated); err != nil {
			return err
		}
		return json.Unmarshal(tuple[1], &r.Txs)
	}
	type plain txListResponse
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = txListResponse(p)
	return nil
}
