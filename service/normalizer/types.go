package normalizer

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// RawTransactionRecord is a single transaction as delivered by the RPC layer.
// It is treated as immutable once constructed.
type RawTransactionRecord struct {
	BlockTime *int64 `json:"block_time,omitempty"` // unix seconds
	Slot      uint64 `json:"slot"`
	Err       any    `json:"err,omitempty"` // non-nil if the transaction failed
	Fee       uint64 `json:"fee"`           // lamports

	AccountKeys    []string `json:"account_keys"`
	LoadedWritable []string `json:"loaded_writable,omitempty"`
	LoadedReadonly []string `json:"loaded_readonly,omitempty"`

	Instructions []Instruction `json:"instructions"`

	PreBalances       []uint64       `json:"pre_balances"`
	PostBalances      []uint64       `json:"post_balances"`
	PreTokenBalances  []TokenBalance `json:"pre_token_balances,omitempty"`
	PostTokenBalances []TokenBalance `json:"post_token_balances,omitempty"`

	Signatures []string `json:"signatures"`
}

// Instruction is a compiled instruction. Data is base58 on the wire.
type Instruction struct {
	ProgramIDIndex uint16        `json:"program_id_index"`
	Accounts       []uint16      `json:"accounts"`
	Data           solana.Base58 `json:"data"`
}

// TokenBalance is a token account snapshot taken before or after execution.
type TokenBalance struct {
	AccountIndex uint16 `json:"account_index"`
	Owner        string `json:"owner"`
	Mint         string `json:"mint"`
	Decimals     uint8  `json:"decimals"`
	Amount       string `json:"amount"` // raw integer amount
}

// Addresses returns the static account keys followed by the loaded writable
// and readonly addresses. Balance arrays are indexed against this list.
func (r *RawTransactionRecord) Addresses() []string {
	out := make([]string, 0, len(r.AccountKeys)+len(r.LoadedWritable)+len(r.LoadedReadonly))
	out = append(out, r.AccountKeys...)
	out = append(out, r.LoadedWritable...)
	out = append(out, r.LoadedReadonly...)
	return out
}

// Failed reports whether the record carries an error indicator.
func (r *RawTransactionRecord) Failed() bool {
	return r.Err != nil
}

// Movement is a single fungible asset flow into or out of an address.
type Movement struct {
	Address  string          `json:"address"`
	Asset    string          `json:"asset"`
	Amount   decimal.Decimal `json:"amount"`
	Unit     string          `json:"unit"`
	Fungible bool            `json:"fungible"`
}

// FeeKind distinguishes the base signature fee from the priority fee.
type FeeKind string

const (
	FeeBase     FeeKind = "base"
	FeePriority FeeKind = "priority"
)

// Fee is a fee paid in the native asset.
type Fee struct {
	Kind   FeeKind         `json:"type"`
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
	Unit   string          `json:"unit"`
}

// Status is the final lifecycle state of a transaction.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// TxType is the user-facing category of a transaction.
type TxType string

const (
	TypeSend    TxType = "send"
	TypeReceive TxType = "receive"
	TypeSwap    TxType = "swap"
	TypeUnknown TxType = "unknown"
)

// Event is one lifecycle transition.
type Event struct {
	Status    Status `json:"status"`
	Timestamp *int64 `json:"timestamp"`
}

// NormalizedTransaction is the account-centric view of a transaction.
type NormalizedTransaction struct {
	ID        string     `json:"id"`
	Account   string     `json:"account"`
	Timestamp *int64     `json:"timestamp"`
	Scope     string     `json:"chain"`
	Status    Status     `json:"status"`
	Type      TxType     `json:"type"`
	From      []Movement `json:"from"`
	To        []Movement `json:"to"`
	Fees      []Fee      `json:"fees"`
	Events    []Event    `json:"events"`
}

// BlockTime returns the timestamp as a time.Time, or the zero time if unknown.
func (t *NormalizedTransaction) BlockTime() time.Time {
	if t.Timestamp == nil {
		return time.Time{}
	}
	return time.Unix(*t.Timestamp, 0).UTC()
}
