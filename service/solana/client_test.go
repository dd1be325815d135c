package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/txnorm/service/metrics"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	mu           sync.Mutex
	signatures   []*rpc.TransactionSignature
	transactions map[string]*rpc.GetTransactionResult
	sigErr       error
	// txErrs are returned, in order, before falling back to transactions.
	txErrs   []error
	txCalls  int
	lastOpts *rpc.GetSignaturesForAddressOpts
}

func (m *mockRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOpts = opts
	if m.sigErr != nil {
		return nil, m.sigErr
	}
	return m.signatures, nil
}

func (m *mockRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCalls++
	if len(m.txErrs) > 0 {
		err := m.txErrs[0]
		m.txErrs = m.txErrs[1:]
		return nil, err
	}
	if m.transactions == nil {
		return nil, nil
	}
	return m.transactions[signature.String()], nil
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewClient(mock, "test", m, logger, WithPacing(0, time.Millisecond))
}

var (
	sig1 = solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
	sig2 = solana.MustSignatureFromBase58("2TgM4N8qCMqLvfR8dxqTQgKygPNzT5KQkN5b5sT7eZPEkdxyLTXGnNQB3j7KG4DPFg5Qez5yNJBQRQ5r7DDnFfjG")
	sig3 = solana.MustSignatureFromBase58("3LzUfBWvh7uN5sNTVPkbDGq5SNrPBKDYTJqFmH8nHq6Z9VGJ7iCxB2rLFZsKrQNuJfTnKQ5D5YqGrNqvnKQZXMQE")
)

// newMockWithTransfers returns a mock whose signatures all resolve to full
// transfer transactions.
func newMockWithTransfers(t *testing.T, sigs ...solana.Signature) *mockRPCClient {
	t.Helper()
	mock := &mockRPCClient{transactions: make(map[string]*rpc.GetTransactionResult)}
	for i, sig := range sigs {
		bt := solana.UnixTimeSeconds(time.Now().Unix() - int64(i*10))
		mock.signatures = append(mock.signatures, &rpc.TransactionSignature{
			Signature: sig,
			Slot:      uint64(100 - i),
			BlockTime: &bt,
		})
		f := newTransferFixture(sig)
		mock.transactions[sig.String()] = &rpc.GetTransactionResult{
			Slot:        uint64(100 - i),
			BlockTime:   &bt,
			Transaction: makeTransactionEnvelope(t, f.tx),
			Meta:        f.meta,
		}
	}
	return mock
}

func TestFetchRecords(t *testing.T) {
	ctx := context.Background()
	address := solana.NewWallet().PublicKey()

	t.Run("returns records newest first", func(t *testing.T) {
		mock := newMockWithTransfers(t, sig1, sig2, sig3)
		client := newTestClient(mock)

		recs, err := client.FetchRecords(ctx, FetchParams{Address: address, Limit: 10})

		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, sig1.String(), recs[0].Signatures[0])
		assert.Equal(t, uint64(100), recs[0].Slot)
		assert.Equal(t, sig2.String(), recs[1].Signatures[0])
		assert.Equal(t, sig3.String(), recs[2].Signatures[0])
		require.NotNil(t, mock.lastOpts.Limit)
		assert.Equal(t, 10, *mock.lastOpts.Limit)
	})

	t.Run("passes until signature", func(t *testing.T) {
		mock := newMockWithTransfers(t, sig1)
		client := newTestClient(mock)

		_, err := client.FetchRecords(ctx, FetchParams{Address: address, Limit: 10, Until: &sig3})

		require.NoError(t, err)
		assert.Equal(t, sig3, mock.lastOpts.Until)
	})

	t.Run("skips existing signatures", func(t *testing.T) {
		mock := newMockWithTransfers(t, sig1, sig2, sig3)
		client := newTestClient(mock)

		recs, err := client.FetchRecords(ctx, FetchParams{
			Address:  address,
			Limit:    10,
			Existing: []string{sig2.String()},
		})

		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, sig1.String(), recs[0].Signatures[0])
		assert.Equal(t, sig3.String(), recs[1].Signatures[0])
		assert.Equal(t, 2, mock.txCalls)
	})

	t.Run("empty result", func(t *testing.T) {
		client := newTestClient(&mockRPCClient{signatures: []*rpc.TransactionSignature{}})

		recs, err := client.FetchRecords(ctx, FetchParams{Address: address, Limit: 10})

		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("signature listing error", func(t *testing.T) {
		client := newTestClient(&mockRPCClient{sigErr: assert.AnError})

		recs, err := client.FetchRecords(ctx, FetchParams{Address: address, Limit: 10})

		require.Error(t, err)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Nil(t, recs)
	})

	t.Run("unavailable transactions are skipped", func(t *testing.T) {
		mock := newMockWithTransfers(t, sig1, sig2)
		delete(mock.transactions, sig1.String())
		client := newTestClient(mock)

		recs, err := client.FetchRecords(ctx, FetchParams{Address: address, Limit: 10})

		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, sig2.String(), recs[0].Signatures[0])
	})

	t.Run("transactions without meta are skipped", func(t *testing.T) {
		mock := newMockWithTransfers(t, sig1, sig2)
		mock.transactions[sig2.String()].Meta = nil
		client := newTestClient(mock)

		recs, err := client.FetchRecords(ctx, FetchParams{Address: address, Limit: 10})

		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, sig1.String(), recs[0].Signatures[0])
	})

	t.Run("failed transactions are kept", func(t *testing.T) {
		mock := newMockWithTransfers(t, sig1)
		mock.transactions[sig1.String()].Meta.Err = map[string]any{"InstructionError": []any{0, "Custom error"}}
		client := newTestClient(mock)

		recs, err := client.FetchRecords(ctx, FetchParams{Address: address, Limit: 10})

		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.True(t, recs[0].Failed())
	})

	t.Run("canceled context", func(t *testing.T) {
		mock := newMockWithTransfers(t, sig1, sig2)
		client := NewClient(mock, "test", nil, nil, WithPacing(time.Hour, time.Millisecond))
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		recs, err := client.FetchRecords(cctx, FetchParams{Address: address, Limit: 10})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Len(t, recs, 1)
	})
}

func TestFetchRecord_Retries(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers from rate limit", func(t *testing.T) {
		mock := newMockWithTransfers(t, sig1)
		mock.txErrs = []error{errors.New("HTTP 429 Too Many Requests")}
		client := newTestClient(mock)

		rec, err := client.FetchRecord(ctx, sig1)

		require.NoError(t, err)
		assert.Equal(t, sig1.String(), rec.Signatures[0])
		assert.Equal(t, 2, mock.txCalls)
	})

	t.Run("falls back to legacy fetch", func(t *testing.T) {
		mock := newMockWithTransfers(t, sig1)
		mock.txErrs = []error{errors.New(`decode: expects '"' or 'n', but found '{'`)}
		client := newTestClient(mock)

		rec, err := client.FetchRecord(ctx, sig1)

		require.NoError(t, err)
		assert.NotNil(t, rec)
		assert.Equal(t, 2, mock.txCalls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		mock := newMockWithTransfers(t, sig1)
		mock.txErrs = []error{assert.AnError, assert.AnError, assert.AnError, assert.AnError}
		client := newTestClient(mock)

		_, err := client.FetchRecord(ctx, sig1)

		require.Error(t, err)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, maxFetchAttempts, mock.txCalls)
	})

	t.Run("not found", func(t *testing.T) {
		client := newTestClient(&mockRPCClient{})

		_, err := client.FetchRecord(ctx, sig1)

		assert.Error(t, err)
	})
}
