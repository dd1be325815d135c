package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brojonat/txnorm/service/metrics"
	"github.com/brojonat/txnorm/service/normalizer"
)

// ErrNotFound is returned when a transaction does not exist.
var ErrNotFound = errors.New("transaction not found")

const transactionsTable = "normalized_transactions"

// Store provides database operations for normalized transactions.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// Transaction is a normalized transaction as stored for one observed account.
type Transaction struct {
	normalizer.NormalizedTransaction
	Network   string    `json:"network"`
	Slot      uint64    `json:"slot"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertTransactionParams contains the parameters for writing a transaction.
type UpsertTransactionParams struct {
	Network     string
	Slot        uint64
	Transaction *normalizer.NormalizedTransaction
}

// ListTransactionsByAccountParams contains pagination parameters.
type ListTransactionsByAccountParams struct {
	Account string
	Network string
	Limit   int32
	Offset  int32
}

const transactionColumns = `account_address, id, network, chain, slot, block_time, status, type,
	from_movements, to_movements, fees, events, created_at, updated_at`

// EnsureSchema creates the transactions table and its indexes if needed.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// UpsertTransaction writes a transaction keyed by (account, id). Writing the
// same transaction again overwrites the previous row.
func (s *Store) UpsertTransaction(ctx context.Context, params UpsertTransactionParams) (*Transaction, error) {
	txn := params.Transaction
	if txn == nil {
		return nil, fmt.Errorf("nil transaction")
	}
	row, err := encodeTransaction(params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := scanTransaction(s.pool.QueryRow(ctx, `
		INSERT INTO normalized_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		ON CONFLICT (account_address, id) DO UPDATE SET
			network = EXCLUDED.network,
			chain = EXCLUDED.chain,
			slot = EXCLUDED.slot,
			block_time = EXCLUDED.block_time,
			status = EXCLUDED.status,
			type = EXCLUDED.type,
			from_movements = EXCLUDED.from_movements,
			to_movements = EXCLUDED.to_movements,
			fees = EXCLUDED.fees,
			events = EXCLUDED.events,
			updated_at = now()
		RETURNING `+transactionColumns,
		row.args()...,
	))
	s.record("upsert", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert transaction %s: %w", txn.ID, err)
	}
	return result, nil
}

// GetTransaction retrieves a transaction by observed account and signature.
func (s *Store) GetTransaction(ctx context.Context, account, id string) (*Transaction, error) {
	start := time.Now()
	result, err := scanTransaction(s.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM normalized_transactions
		WHERE account_address = $1 AND id = $2`,
		account, id,
	))
	s.record("get", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", id, err)
	}
	return result, nil
}

// ListTransactionsByAccount lists transactions for an account, newest first.
func (s *Store) ListTransactionsByAccount(ctx context.Context, params ListTransactionsByAccountParams) ([]*Transaction, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM normalized_transactions
		WHERE account_address = $1 AND network = $2
		ORDER BY block_time DESC NULLS LAST, slot DESC
		LIMIT $3 OFFSET $4`,
		params.Account, params.Network, params.Limit, params.Offset,
	)
	if err != nil {
		s.record("list", start, err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			s.record("list", start, err)
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, txn)
	}
	err = rows.Err()
	s.record("list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return out, nil
}

// ListTransactionIDsByAccount returns the most recent transaction signatures
// stored for an account. It is used to avoid refetching known transactions.
func (s *Store) ListTransactionIDsByAccount(ctx context.Context, account, network string, limit int32) ([]string, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT id
		FROM normalized_transactions
		WHERE account_address = $1 AND network = $2
		ORDER BY block_time DESC NULLS LAST, slot DESC
		LIMIT $3`,
		account, network, limit,
	)
	if err != nil {
		s.record("list_ids", start, err)
		return nil, fmt.Errorf("failed to list transaction ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	s.record("list_ids", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list transaction ids: %w", err)
	}
	return ids, nil
}

// CountTransactionsByAccount counts stored transactions for an account.
func (s *Store) CountTransactionsByAccount(ctx context.Context, account, network string) (int64, error) {
	start := time.Now()
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM normalized_transactions
		WHERE account_address = $1 AND network = $2`,
		account, network,
	).Scan(&count)
	s.record("count", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func (s *Store) record(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	s.metrics.RecordDBQuery(operation, transactionsTable, time.Since(start).Seconds(), err)
}

// transactionRow is the column representation of a transaction.
type transactionRow struct {
	account   string
	id        string
	network   string
	chain     string
	slot      int64
	blockTime *time.Time
	status    string
	txType    string
	from      []byte
	to        []byte
	fees      []byte
	events    []byte
}

func (r transactionRow) args() []any {
	return []any{
		r.account, r.id, r.network, r.chain, r.slot, r.blockTime, r.status, r.txType,
		r.from, r.to, r.fees, r.events,
	}
}

func encodeTransaction(params UpsertTransactionParams) (transactionRow, error) {
	txn := params.Transaction
	row := transactionRow{
		account: txn.Account,
		id:      txn.ID,
		network: params.Network,
		chain:   txn.Scope,
		slot:    int64(params.Slot),
		status:  string(txn.Status),
		txType:  string(txn.Type),
	}
	if txn.Timestamp != nil {
		bt := time.Unix(*txn.Timestamp, 0).UTC()
		row.blockTime = &bt
	}

	var err error
	if row.from, err = marshalList(txn.From); err != nil {
		return row, fmt.Errorf("failed to encode from movements: %w", err)
	}
	if row.to, err = marshalList(txn.To); err != nil {
		return row, fmt.Errorf("failed to encode to movements: %w", err)
	}
	if row.fees, err = marshalList(txn.Fees); err != nil {
		return row, fmt.Errorf("failed to encode fees: %w", err)
	}
	if row.events, err = marshalList(txn.Events); err != nil {
		return row, fmt.Errorf("failed to encode events: %w", err)
	}
	return row, nil
}

// marshalList encodes a slice as a JSON array; nil encodes as [].
func marshalList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		r         transactionRow
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(
		&r.account, &r.id, &r.network, &r.chain, &r.slot, &r.blockTime, &r.status, &r.txType,
		&r.from, &r.to, &r.fees, &r.events, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	txn, err := decodeTransaction(r)
	if err != nil {
		return nil, err
	}
	txn.CreatedAt = createdAt
	txn.UpdatedAt = updatedAt
	return txn, nil
}

func decodeTransaction(r transactionRow) (*Transaction, error) {
	txn := &Transaction{
		Network: r.network,
		Slot:    uint64(r.slot),
		NormalizedTransaction: normalizer.NormalizedTransaction{
			ID:      r.id,
			Account: r.account,
			Scope:   r.chain,
			Status:  normalizer.Status(r.status),
			Type:    normalizer.TxType(r.txType),
		},
	}
	if r.blockTime != nil {
		ts := r.blockTime.Unix()
		txn.Timestamp = &ts
	}
	if err := json.Unmarshal(r.from, &txn.From); err != nil {
		return nil, fmt.Errorf("failed to decode from movements: %w", err)
	}
	if err := json.Unmarshal(r.to, &txn.To); err != nil {
		return nil, fmt.Errorf("failed to decode to movements: %w", err)
	}
	if err := json.Unmarshal(r.fees, &txn.Fees); err != nil {
		return nil, fmt.Errorf("failed to decode fees: %w", err)
	}
	if err := json.Unmarshal(r.events, &txn.Events); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	return txn, nil
}
