package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/txnorm/service/db"
	"github.com/brojonat/txnorm/service/normalizer"
)

// TransactionEvent is a normalized transaction published to NATS.
// It is published to the subject "txns.{account}" in JetStream, so each
// observed account has its own stream of events.
type TransactionEvent struct {
	ID      string `json:"id"`
	Account string `json:"account"`
	Network string `json:"network"`
	Chain   string `json:"chain"`
	Slot    uint64 `json:"slot"`

	Status normalizer.Status     `json:"status"`
	Type   normalizer.TxType     `json:"type"`
	From   []normalizer.Movement `json:"from"`
	To     []normalizer.Movement `json:"to"`
	Fees   []normalizer.Fee      `json:"fees"`

	BlockTime   *time.Time `json:"block_time,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
}

// Subject returns the subject events for account are published on.
func Subject(account string) string {
	return fmt.Sprintf("txns.%s", account)
}

// NewTransactionEvent builds an event from a normalized transaction.
func NewTransactionEvent(network string, slot uint64, txn *normalizer.NormalizedTransaction) *TransactionEvent {
	event := &TransactionEvent{
		ID:          txn.ID,
		Account:     txn.Account,
		Network:     network,
		Chain:       txn.Scope,
		Slot:        slot,
		Status:      txn.Status,
		Type:        txn.Type,
		From:        txn.From,
		To:          txn.To,
		Fees:        txn.Fees,
		PublishedAt: time.Now().UTC(),
	}
	if txn.Timestamp != nil {
		bt := txn.BlockTime()
		event.BlockTime = &bt
	}
	return event
}

// FromDBTransaction converts a stored transaction to a TransactionEvent for publishing.
func FromDBTransaction(txn *db.Transaction) *TransactionEvent {
	return NewTransactionEvent(txn.Network, txn.Slot, &txn.NormalizedTransaction)
}
