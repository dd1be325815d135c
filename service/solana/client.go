package solana

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/txnorm/service/metrics"
	"github.com/brojonat/txnorm/service/normalizer"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

const (
	// Public mainnet tolerates roughly 1-2 requests per second.
	defaultRequestInterval = 600 * time.Millisecond
	defaultBackoffBase     = time.Second
	maxFetchAttempts       = 3
)

// Client fetches raw transaction records from Solana.
type Client struct {
	rpc             RPCClient
	logger          *slog.Logger
	metrics         *metrics.Metrics
	endpoint        string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
	requestInterval time.Duration
	backoffBase     time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPacing overrides the delay between GetTransaction calls and the base
// of the retry backoff. Premium RPC providers can use much smaller values.
func WithPacing(requestInterval, backoffBase time.Duration) ClientOption {
	return func(c *Client) {
		c.requestInterval = requestInterval
		c.backoffBase = backoffBase
	}
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		rpc:             rpcClient,
		logger:          logger,
		metrics:         m,
		endpoint:        endpoint,
		requestInterval: defaultRequestInterval,
		backoffBase:     defaultBackoffBase,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchParams contains parameters for fetching records.
type FetchParams struct {
	Address  solana.PublicKey
	Limit    int
	Until    *solana.Signature // stop at this signature (exclusive)
	Existing []string          // signatures already stored; not fetched again
}

// FetchRecords lists recent signatures for an address and fetches the full
// transaction for each one not in params.Existing. Records are returned newest
// first. Transactions that cannot be fetched or converted are skipped.
func (c *Client) FetchRecords(ctx context.Context, params FetchParams) ([]*normalizer.RawTransactionRecord, error) {
	opts := &rpc.GetSignaturesForAddressOpts{}
	if params.Limit > 0 {
		opts.Limit = &params.Limit
	}
	if params.Until != nil {
		opts.Until = *params.Until
	}

	c.logger.DebugContext(ctx, "calling GetSignaturesForAddress",
		"address", params.Address.String(),
		"limit", params.Limit,
		"until", params.Until,
		"existing_sigs_count", len(params.Existing),
	)

	start := time.Now()
	signatures, err := c.rpc.GetSignaturesForAddress(ctx, params.Address, opts)
	c.recordCall("GetSignaturesForAddress", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"address", params.Address.String(),
			"error", err,
		)
		return nil, fmt.Errorf("failed to get signatures for %s: %w", params.Address, err)
	}
	if c.metrics != nil {
		c.metrics.RecordRPCSignaturesPerCall(c.endpoint, float64(len(signatures)))
	}

	existing := make(map[string]struct{}, len(params.Existing))
	for _, sig := range params.Existing {
		existing[sig] = struct{}{}
	}

	records := make([]*normalizer.RawTransactionRecord, 0, len(signatures))
	for i, sig := range signatures {
		if _, ok := existing[sig.Signature.String()]; ok {
			c.logger.DebugContext(ctx, "skipping already stored transaction",
				"signature", sig.Signature.String(),
			)
			c.recordSkipped(params.Address, "already_stored")
			continue
		}

		if i > 0 {
			if err := sleep(ctx, c.requestInterval); err != nil {
				return records, err
			}
		}

		result, err := c.getTransaction(ctx, sig.Signature)
		if err != nil {
			if ctx.Err() != nil {
				return records, ctx.Err()
			}
			// Possibly pruned by the node; the next sync will try again.
			c.logger.WarnContext(ctx, "failed to get transaction after retries, skipping",
				"signature", sig.Signature.String(),
				"error", err,
			)
			c.recordSkipped(params.Address, "unavailable")
			continue
		}

		rec, err := RecordFromResult(sig, result)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to convert transaction, skipping",
				"signature", sig.Signature.String(),
				"error", err,
			)
			c.recordSkipped(params.Address, "unconvertible")
			continue
		}
		records = append(records, rec)
	}

	if c.metrics != nil {
		c.metrics.RecordRecordsFetched(params.Address.String(), len(records))
	}
	c.logger.InfoContext(ctx, "fetched transaction records",
		"address", params.Address.String(),
		"signatures", len(signatures),
		"records", len(records),
	)
	return records, nil
}

// FetchRecord fetches a single transaction by signature.
func (c *Client) FetchRecord(ctx context.Context, signature solana.Signature) (*normalizer.RawTransactionRecord, error) {
	result, err := c.getTransaction(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", signature, err)
	}
	rec, err := RecordFromResult(nil, result)
	if err != nil {
		return nil, fmt.Errorf("failed to convert transaction %s: %w", signature, err)
	}
	return rec, nil
}

// getTransaction fetches a transaction with retries. Rate limit responses
// (429) back off twice as long as other errors. Nodes that cannot encode a
// legacy transaction in versioned form are retried without version support.
func (c *Client) getTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	var result *rpc.GetTransactionResult
	var err error

	for attempt := range maxFetchAttempts {
		txnOpts := &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			MaxSupportedTransactionVersion: &[]uint64{0}[0],
		}
		start := time.Now()
		result, err = c.rpc.GetTransaction(ctx, signature, txnOpts)
		c.recordCall("GetTransaction", start, err)
		if err == nil {
			if result == nil {
				return nil, fmt.Errorf("transaction %s not found", signature)
			}
			return result, nil
		}

		if strings.Contains(err.Error(), "429") {
			backoff := c.backoffBase * time.Duration(2<<uint(attempt)) // 2s, 4s, 8s
			c.logger.WarnContext(ctx, "rate limited, sleeping before retry",
				"signature", signature.String(),
				"attempt", attempt+1,
				"backoff_seconds", backoff.Seconds(),
			)
			if c.metrics != nil {
				c.metrics.RecordRateLimitHit(c.endpoint)
				c.metrics.RecordRPCRetry("GetTransaction", "rate_limit")
			}
			if serr := sleep(ctx, backoff); serr != nil {
				return nil, serr
			}
			continue
		}

		if strings.Contains(err.Error(), "expects '\"' or 'n', but found '{'") {
			c.logger.WarnContext(ctx, "could not parse as versioned tx, retrying as legacy",
				"signature", signature.String(),
			)
			if c.metrics != nil {
				c.metrics.RecordRPCRetry("GetTransaction", "parse_error")
			}
			legacyOpts := &rpc.GetTransactionOpts{Encoding: solana.EncodingBase64}
			legacyStart := time.Now()
			result, err = c.rpc.GetTransaction(ctx, signature, legacyOpts)
			c.recordCall("GetTransaction", legacyStart, err)
			if err == nil && result != nil {
				return result, nil
			}
			if err == nil {
				return nil, fmt.Errorf("transaction %s not found", signature)
			}
		}

		backoff := c.backoffBase * time.Duration(1<<uint(attempt)) // 1s, 2s, 4s
		c.logger.WarnContext(ctx, "failed to get transaction on attempt",
			"signature", signature.String(),
			"attempt", attempt+1,
			"error", err,
			"backoff_seconds", backoff.Seconds(),
		)
		if attempt == maxFetchAttempts-1 {
			break
		}
		if c.metrics != nil {
			c.metrics.RecordRPCRetry("GetTransaction", "timeout_or_error")
		}
		if serr := sleep(ctx, backoff); serr != nil {
			return nil, serr
		}
	}
	return nil, err
}

func (c *Client) recordCall(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

func (c *Client) recordSkipped(address solana.PublicKey, reason string) {
	if c.metrics != nil {
		c.metrics.RecordRecordsSkipped(address.String(), reason, 1)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
