package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const defaultSyncLimit = 100

var a *Activities // for type-safe activity invocation

// SyncAddressInput contains the input parameters for syncing an address.
type SyncAddressInput struct {
	Address string `json:"address"`
	Network string `json:"network"` // "mainnet" or "devnet"
	Limit   int    `json:"limit"`
}

// SyncAddressResult summarizes one sync run.
type SyncAddressResult struct {
	Address    string    `json:"address"`
	Network    string    `json:"network"`
	Fetched    int       `json:"fetched"`
	Normalized int       `json:"normalized"`
	Suppressed int       `json:"suppressed"`
	Malformed  int       `json:"malformed"`
	Written    int       `json:"written"`
	SyncTime   time.Time `json:"sync_time"`
	Error      *string   `json:"error,omitempty"`
}

// SyncAddressWorkflow fetches new transactions for an address, normalizes
// them from that address's point of view and stores the result. It is
// triggered by a per-address Temporal schedule.
//
// Steps:
//  1. GetKnownTransactionIDs: signatures already stored
//  2. FetchRecords: raw records not yet stored
//  3. NormalizeRecords: run the pipeline
//  4. WriteTransactions: upsert and publish
func SyncAddressWorkflow(ctx workflow.Context, input SyncAddressInput) (result *SyncAddressResult, err error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SyncAddressWorkflow started", "address", input.Address, "network", input.Network)

	if input.Limit <= 0 {
		input.Limit = defaultSyncLimit
	}

	result = &SyncAddressResult{
		Address:  input.Address,
		Network:  input.Network,
		SyncTime: workflow.Now(ctx),
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			msg := err.Error()
			result.Error = &msg
		}
		report := RecordSyncResultInput{
			Address:   input.Address,
			Status:    status,
			StartedAt: result.SyncTime,
			EndedAt:   workflow.Now(ctx),
		}
		if rerr := workflow.ExecuteActivity(ctx, a.RecordSyncResult, report).Get(ctx, nil); rerr != nil {
			logger.Warn("failed to record sync result", "address", input.Address, "error", rerr)
		}
	}()

	var known *GetKnownTransactionIDsResult
	err = workflow.ExecuteActivity(ctx, a.GetKnownTransactionIDs, GetKnownTransactionIDsInput{
		Address: input.Address,
		Network: input.Network,
	}).Get(ctx, &known)
	if err != nil {
		return result, fmt.Errorf("failed to get known transaction ids: %w", err)
	}

	var fetched *FetchRecordsResult
	err = workflow.ExecuteActivity(ctx, a.FetchRecords, FetchRecordsInput{
		Address:  input.Address,
		Network:  input.Network,
		Limit:    input.Limit,
		Existing: known.IDs,
	}).Get(ctx, &fetched)
	if err != nil {
		return result, fmt.Errorf("failed to fetch records: %w", err)
	}
	result.Fetched = len(fetched.Records)

	if len(fetched.Records) == 0 {
		logger.Info("no new transactions found", "address", input.Address)
		return result, nil
	}

	var normalized *NormalizeRecordsResult
	err = workflow.ExecuteActivity(ctx, a.NormalizeRecords, NormalizeRecordsInput{
		Address: input.Address,
		Network: input.Network,
		Records: fetched.Records,
	}).Get(ctx, &normalized)
	if err != nil {
		return result, fmt.Errorf("failed to normalize records: %w", err)
	}
	result.Normalized = len(normalized.Transactions)
	result.Suppressed = normalized.Suppressed
	result.Malformed = normalized.Malformed

	if len(normalized.Transactions) == 0 {
		logger.Info("nothing to write after normalization",
			"address", input.Address,
			"suppressed", normalized.Suppressed,
			"malformed", normalized.Malformed,
		)
		return result, nil
	}

	var written *WriteTransactionsResult
	err = workflow.ExecuteActivity(ctx, a.WriteTransactions, WriteTransactionsInput{
		Address:      input.Address,
		Network:      input.Network,
		Transactions: normalized.Transactions,
	}).Get(ctx, &written)
	if err != nil {
		return result, fmt.Errorf("failed to write transactions: %w", err)
	}
	result.Written = written.Written

	logger.Info("SyncAddressWorkflow completed",
		"address", input.Address,
		"fetched", result.Fetched,
		"normalized", result.Normalized,
		"suppressed", result.Suppressed,
		"written", result.Written,
	)
	return result, nil
}
