package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/txnorm/service/db"
	"github.com/brojonat/txnorm/service/metrics"
	natspkg "github.com/brojonat/txnorm/service/nats"
	"github.com/brojonat/txnorm/service/normalizer"
	"github.com/brojonat/txnorm/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// maxKnownIDs bounds how many stored signatures are handed to the fetcher.
const maxKnownIDs = 1000

// GetKnownTransactionIDsInput contains parameters for the GetKnownTransactionIDs activity.
type GetKnownTransactionIDsInput struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

// GetKnownTransactionIDsResult contains the signatures already stored for an address.
type GetKnownTransactionIDsResult struct {
	IDs []string `json:"ids"`
}

// FetchRecordsInput contains parameters for the FetchRecords activity.
type FetchRecordsInput struct {
	Address  string   `json:"address"`
	Network  string   `json:"network"`
	Limit    int      `json:"limit"`
	Existing []string `json:"existing"`
}

// FetchRecordsResult contains the raw records fetched from the RPC node, newest first.
type FetchRecordsResult struct {
	Records []*normalizer.RawTransactionRecord `json:"records"`
}

// NormalizeRecordsInput contains parameters for the NormalizeRecords activity.
type NormalizeRecordsInput struct {
	Address string                             `json:"address"`
	Network string                             `json:"network"`
	Records []*normalizer.RawTransactionRecord `json:"records"`
}

// NormalizedItem is an emitted transaction together with the slot it landed in.
type NormalizedItem struct {
	Slot        uint64                            `json:"slot"`
	Transaction *normalizer.NormalizedTransaction `json:"transaction"`
}

// NormalizeRecordsResult contains the emitted transactions and what was dropped.
type NormalizeRecordsResult struct {
	Transactions []NormalizedItem `json:"transactions"`
	Suppressed   int              `json:"suppressed"`
	Malformed    int              `json:"malformed"`
}

// WriteTransactionsInput contains parameters for the WriteTransactions activity.
type WriteTransactionsInput struct {
	Address      string           `json:"address"`
	Network      string           `json:"network"`
	Transactions []NormalizedItem `json:"transactions"`
}

// WriteTransactionsResult contains the result of writing transactions.
type WriteTransactionsResult struct {
	Written   int `json:"written"`
	Published int `json:"published"`
}

// RecordSyncResultInput reports the outcome of one workflow run.
type RecordSyncResultInput struct {
	Address   string    `json:"address"`
	Status    string    `json:"status"` // "success" or "error"
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	UpsertTransaction(context.Context, db.UpsertTransactionParams) (*db.Transaction, error)
	ListTransactionIDsByAccount(ctx context.Context, account, network string, limit int32) ([]string, error)
}

// SolanaClientInterface defines the Solana operations needed by activities.
// This allows for easy mocking in tests.
type SolanaClientInterface interface {
	FetchRecords(ctx context.Context, params solana.FetchParams) ([]*normalizer.RawTransactionRecord, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishTransactionBatch(ctx context.Context, events []*natspkg.TransactionEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	store      StoreInterface
	clients    map[string]SolanaClientInterface // keyed by network
	normalizer *normalizer.Normalizer
	publisher  PublisherInterface
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded. If publisher is nil,
// written transactions are not published.
func NewActivities(
	store StoreInterface,
	clients map[string]SolanaClientInterface,
	norm *normalizer.Normalizer,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	if norm == nil {
		norm = normalizer.New(normalizer.DefaultOptions(), logger)
	}
	return &Activities{
		store:      store,
		clients:    clients,
		normalizer: norm,
		publisher:  publisher,
		metrics:    m,
		logger:     logger,
	}
}

func (a *Activities) recordDuration(activity, address string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, address, time.Since(start).Seconds())
	}
}

// GetKnownTransactionIDs returns the most recent signatures already stored for an address.
func (a *Activities) GetKnownTransactionIDs(ctx context.Context, input GetKnownTransactionIDsInput) (*GetKnownTransactionIDsResult, error) {
	defer a.recordDuration("GetKnownTransactionIDs", input.Address, time.Now())

	ids, err := a.store.ListTransactionIDsByAccount(ctx, input.Address, input.Network, maxKnownIDs)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to list known transaction ids",
			"address", input.Address,
			"network", input.Network,
			"error", err,
		)
		return nil, fmt.Errorf("failed to list known transaction ids: %w", err)
	}

	a.logger.DebugContext(ctx, "listed known transaction ids",
		"address", input.Address,
		"network", input.Network,
		"count", len(ids),
	)
	return &GetKnownTransactionIDsResult{IDs: ids}, nil
}

// FetchRecords fetches raw transaction records for an address from the RPC
// node of the requested network, skipping signatures already stored.
func (a *Activities) FetchRecords(ctx context.Context, input FetchRecordsInput) (*FetchRecordsResult, error) {
	defer a.recordDuration("FetchRecords", input.Address, time.Now())

	address, err := solanago.PublicKeyFromBase58(input.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	client, ok := a.clients[input.Network]
	if !ok || client == nil {
		return nil, fmt.Errorf("invalid network: %s (no solana client configured)", input.Network)
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultSyncLimit
	}

	records, err := client.FetchRecords(ctx, solana.FetchParams{
		Address:  address,
		Limit:    limit,
		Existing: input.Existing,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to fetch records",
			"address", input.Address,
			"network", input.Network,
			"error", err,
		)
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}

	a.logger.InfoContext(ctx, "fetched raw records",
		"address", input.Address,
		"network", input.Network,
		"count", len(records),
	)
	return &FetchRecordsResult{Records: records}, nil
}

// NormalizeRecords runs the pipeline over raw records from the observed
// address's point of view.
func (a *Activities) NormalizeRecords(ctx context.Context, input NormalizeRecordsInput) (*NormalizeRecordsResult, error) {
	defer a.recordDuration("NormalizeRecords", input.Address, time.Now())

	scope, err := normalizer.ScopeForNetwork(input.Network)
	if err != nil {
		return nil, err
	}

	results := a.normalizer.NormalizeAll(ctx, input.Records, input.Address, scope)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &NormalizeRecordsResult{Transactions: []NormalizedItem{}}
	for i, res := range results {
		switch res.Outcome {
		case normalizer.OutcomeEmitted:
			out.Transactions = append(out.Transactions, NormalizedItem{
				Slot:        input.Records[i].Slot,
				Transaction: res.Transaction,
			})
			a.recordEmitted(res.Transaction)
			continue
		case normalizer.OutcomeMalformed:
			out.Malformed++
		default:
			out.Suppressed++
		}
		if a.metrics != nil {
			a.metrics.RecordSuppressed(string(res.Outcome))
		}
	}

	a.logger.InfoContext(ctx, "normalized records",
		"address", input.Address,
		"network", input.Network,
		"emitted", len(out.Transactions),
		"suppressed", out.Suppressed,
		"malformed", out.Malformed,
	)
	return out, nil
}

func (a *Activities) recordEmitted(txn *normalizer.NormalizedTransaction) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordNormalized(string(txn.Type), string(txn.Status))
	for _, fee := range txn.Fees {
		a.metrics.RecordFeeDecoded(string(fee.Kind))
	}
}

// WriteTransactions upserts normalized transactions and then publishes them
// to NATS. Upserts are idempotent so the activity is safe to retry. Publishing
// is best-effort and never fails the activity.
func (a *Activities) WriteTransactions(ctx context.Context, input WriteTransactionsInput) (*WriteTransactionsResult, error) {
	defer a.recordDuration("WriteTransactions", input.Address, time.Now())

	written := make([]*db.Transaction, 0, len(input.Transactions))
	for _, item := range input.Transactions {
		txn, err := a.store.UpsertTransaction(ctx, db.UpsertTransactionParams{
			Network:     input.Network,
			Slot:        item.Slot,
			Transaction: item.Transaction,
		})
		if err != nil {
			a.logger.ErrorContext(ctx, "failed to write transaction",
				"address", input.Address,
				"error", err,
			)
			return nil, fmt.Errorf("failed to write transaction: %w", err)
		}
		written = append(written, txn)
	}

	if a.metrics != nil {
		a.metrics.RecordTransactionsWritten(input.Address, len(written))
	}
	a.logger.InfoContext(ctx, "wrote transactions to database",
		"address", input.Address,
		"network", input.Network,
		"written", len(written),
	)

	result := &WriteTransactionsResult{Written: len(written)}
	if len(written) == 0 || a.publisher == nil {
		return result, nil
	}

	events := make([]*natspkg.TransactionEvent, 0, len(written))
	for _, txn := range written {
		events = append(events, natspkg.FromDBTransaction(txn))
	}
	if err := a.publisher.PublishTransactionBatch(ctx, events); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish transactions to NATS",
			"address", input.Address,
			"count", len(events),
			"error", err,
		)
		return result, nil
	}
	result.Published = len(events)
	return result, nil
}

// RecordSyncResult records the duration and status of a workflow run.
func (a *Activities) RecordSyncResult(ctx context.Context, input RecordSyncResultInput) error {
	if a.metrics != nil {
		a.metrics.RecordWorkflowDuration(input.Address, input.Status, input.EndedAt.Sub(input.StartedAt).Seconds())
	}
	return nil
}
