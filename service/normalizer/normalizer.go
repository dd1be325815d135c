package normalizer

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/shopspring/decimal"
)

// Default business constants.
var (
	DefaultDustThreshold = decimal.New(1, -3) // 0.001 SOL

	// DefaultComputeUnitLimit is the per-instruction compute budget applied
	// when a transaction sets a price but no explicit limit.
	DefaultComputeUnitLimit uint64 = 200_000
)

// Options tunes the pipeline. Zero values fall back to the defaults above.
type Options struct {
	DustThreshold           decimal.Decimal
	DefaultComputeUnitLimit uint64
}

// DefaultOptions returns the options used in production.
func DefaultOptions() Options {
	return Options{
		DustThreshold:           DefaultDustThreshold,
		DefaultComputeUnitLimit: DefaultComputeUnitLimit,
	}
}

// Outcome describes what happened to a record.
type Outcome string

const (
	OutcomeEmitted    Outcome = "emitted"
	OutcomeSuppressed Outcome = "suppressed" // dust or spam
	OutcomeMalformed  Outcome = "malformed"  // e.g. no signatures
	OutcomeSkipped    Outcome = "skipped"    // not evaluated before ctx was done
)

// Result pairs a normalized transaction (nil unless emitted) with its outcome.
type Result struct {
	Transaction *NormalizedTransaction
	Outcome     Outcome
}

// Normalizer turns raw transaction records into account-centric transactions.
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Normalizer. If logger is nil, slog.Default() is used.
func New(opts Options, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DustThreshold.IsZero() {
		opts.DustThreshold = DefaultDustThreshold
	}
	if opts.DefaultComputeUnitLimit == 0 {
		opts.DefaultComputeUnitLimit = DefaultComputeUnitLimit
	}
	return &Normalizer{opts: opts, logger: logger}
}

// Normalize returns the transaction as seen by account, or nil if the record
// is malformed or filtered out as dust.
func (n *Normalizer) Normalize(rec *RawTransactionRecord, account string, scope Scope) *NormalizedTransaction {
	return n.Evaluate(rec, account, scope).Transaction
}

// Evaluate is like Normalize but also reports why nothing was emitted.
func (n *Normalizer) Evaluate(rec *RawTransactionRecord, account string, scope Scope) Result {
	if rec == nil || len(rec.Signatures) == 0 || rec.Signatures[0] == "" {
		n.logger.Debug("skipping malformed transaction record", "account", account)
		return Result{Outcome: OutcomeMalformed}
	}
	id := rec.Signatures[0]
	addrs := rec.Addresses()

	status := StatusConfirmed
	if rec.Failed() {
		status = StatusFailed
	}

	fees := n.decodeFees(rec, scope)

	var nativeFrom, nativeTo []Movement
	if status == StatusFailed {
		nativeFrom, nativeTo = nativeTransfersFromInstructions(rec, addrs, scope)
	} else {
		nativeFrom, nativeTo = nativeTransfers(rec, addrs, scope)
	}
	tokenFrom, tokenTo := tokenTransfers(rec, addrs, scope)

	from := append(tokenFrom, nativeFrom...)
	to := append(tokenTo, nativeTo...)

	txType := classify(account, status, from, to)
	switch txType {
	case TypeSwap:
		from = onlyAddress(from, account)
		to = onlyAddress(to, account)
	case TypeReceive:
		to = onlyAddress(to, account)
		fees = []Fee{}
	}

	if !n.legitimate(account, scope, status, txType, to) {
		n.logger.Debug("suppressing dust transaction",
			"signature", id,
			"account", account,
			"type", txType,
			"status", status,
		)
		return Result{Outcome: OutcomeSuppressed}
	}

	if status == StatusFailed {
		from = nil
		to = nil
	}

	return Result{
		Outcome: OutcomeEmitted,
		Transaction: &NormalizedTransaction{
			ID:        id,
			Account:   account,
			Timestamp: rec.BlockTime,
			Scope:     scope.ID,
			Status:    status,
			Type:      txType,
			From:      nonNil(from),
			To:        nonNil(to),
			Fees:      fees,
			Events:    []Event{{Status: status, Timestamp: rec.BlockTime}},
		},
	}
}

// legitimate rejects receives and failed transactions whose native receipts
// to account add up to less than the dust threshold. Transactions with no
// native receipt always pass.
func (n *Normalizer) legitimate(account string, scope Scope, status Status, txType TxType, to []Movement) bool {
	if txType != TypeReceive && status != StatusFailed {
		return true
	}
	received := decimal.Zero
	found := false
	for _, m := range to {
		if m.Address == account && m.Asset == scope.NativeAsset {
			received = received.Add(m.Amount)
			found = true
		}
	}
	return !found || received.GreaterThanOrEqual(n.opts.DustThreshold)
}

// NormalizeAll evaluates records concurrently and returns results in input
// order. It stops scheduling new work once ctx is done.
func (n *Normalizer) NormalizeAll(ctx context.Context, recs []*RawTransactionRecord, account string, scope Scope) []Result {
	results := make([]Result, len(recs))
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	var wg sync.WaitGroup

	for i, rec := range recs {
		if ctx.Err() != nil {
			for j := i; j < len(recs); j++ {
				results[j] = Result{Outcome: OutcomeSkipped}
			}
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, rec *RawTransactionRecord) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = n.Evaluate(rec, account, scope)
		}(i, rec)
	}
	wg.Wait()
	return results
}

func nonNil(m []Movement) []Movement {
	if m == nil {
		return []Movement{}
	}
	return m
}
