package solana

import (
	"encoding/binary"
	"encoding/json"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/txnorm/service/normalizer"
)

// makeTransactionEnvelope wraps a Transaction in a TransactionResultEnvelope.
// The envelope has unexported fields, so it is built through JSON.
func makeTransactionEnvelope(t *testing.T, tx *solana.Transaction) *rpc.TransactionResultEnvelope {
	t.Helper()
	txJSON, err := json.Marshal(tx)
	require.NoError(t, err)

	envelopeJSON, err := json.Marshal(struct {
		Transaction json.RawMessage `json:"transaction"`
	}{Transaction: txJSON})
	require.NoError(t, err)

	var result rpc.GetTransactionResult
	require.NoError(t, json.Unmarshal(envelopeJSON, &result))
	return result.Transaction
}

func systemTransferData(lamports uint64) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return data
}

// transferFixture is a confirmed 1 SOL transfer from payer to recipient.
type transferFixture struct {
	sig       solana.Signature
	payer     solana.PublicKey
	recipient solana.PublicKey
	tx        *solana.Transaction
	meta      *rpc.TransactionMeta
}

func newTransferFixture(sig solana.Signature) transferFixture {
	payer := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()
	tx := &solana.Transaction{
		Signatures: []solana.Signature{sig},
		Message: solana.Message{
			Header:      solana.MessageHeader{NumRequiredSignatures: 1, NumReadonlyUnsignedAccounts: 1},
			AccountKeys: []solana.PublicKey{payer, recipient, normalizer.SystemProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: systemTransferData(1_000_000_000)},
			},
		},
	}
	meta := &rpc.TransactionMeta{
		Fee:          5000,
		PreBalances:  []uint64{3_000_000_000, 0, 1},
		PostBalances: []uint64{1_999_995_000, 1_000_000_000, 1},
	}
	return transferFixture{sig: sig, payer: payer, recipient: recipient, tx: tx, meta: meta}
}

func TestRecordFromTransaction(t *testing.T) {
	sig := solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")

	t.Run("copies keys, balances and instructions", func(t *testing.T) {
		f := newTransferFixture(sig)
		bt := solana.UnixTimeSeconds(1_700_000_000)

		rec, err := RecordFromTransaction(f.tx, f.meta, 250_000_000, &bt)

		require.NoError(t, err)
		assert.Equal(t, []string{sig.String()}, rec.Signatures)
		assert.Equal(t, []string{f.payer.String(), f.recipient.String(), normalizer.SystemProgramID.String()}, rec.AccountKeys)
		assert.Equal(t, uint64(5000), rec.Fee)
		assert.Equal(t, uint64(250_000_000), rec.Slot)
		require.NotNil(t, rec.BlockTime)
		assert.Equal(t, int64(1_700_000_000), *rec.BlockTime)
		require.Len(t, rec.Instructions, 1)
		assert.Equal(t, uint16(2), rec.Instructions[0].ProgramIDIndex)
		assert.Equal(t, []uint16{0, 1}, rec.Instructions[0].Accounts)
		assert.Equal(t, systemTransferData(1_000_000_000), []byte(rec.Instructions[0].Data))
		assert.False(t, rec.Failed())
	})

	t.Run("loaded addresses are writable then readonly", func(t *testing.T) {
		f := newTransferFixture(sig)
		w := solana.NewWallet().PublicKey()
		r := solana.NewWallet().PublicKey()
		f.meta.LoadedAddresses = rpc.LoadedAddresses{
			Writable: solana.PublicKeySlice{w},
			ReadOnly: solana.PublicKeySlice{r},
		}

		rec, err := RecordFromTransaction(f.tx, f.meta, 1, nil)

		require.NoError(t, err)
		assert.Nil(t, rec.BlockTime)
		addrs := rec.Addresses()
		require.Len(t, addrs, 5)
		assert.Equal(t, w.String(), addrs[3])
		assert.Equal(t, r.String(), addrs[4])
	})

	t.Run("token balances", func(t *testing.T) {
		f := newTransferFixture(sig)
		owner := solana.NewWallet().PublicKey()
		mint := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
		f.meta.PreTokenBalances = []rpc.TokenBalance{
			{AccountIndex: 1, Owner: &owner, Mint: mint, UiTokenAmount: &rpc.UiTokenAmount{Amount: "100", Decimals: 6}},
			{AccountIndex: 2, Mint: mint}, // no amount
		}

		rec, err := RecordFromTransaction(f.tx, f.meta, 1, nil)

		require.NoError(t, err)
		require.Len(t, rec.PreTokenBalances, 1)
		assert.Equal(t, normalizer.TokenBalance{
			AccountIndex: 1,
			Owner:        owner.String(),
			Mint:         mint.String(),
			Decimals:     6,
			Amount:       "100",
		}, rec.PreTokenBalances[0])
		assert.Nil(t, rec.PostTokenBalances)
	})

	t.Run("failed transaction keeps the error", func(t *testing.T) {
		f := newTransferFixture(sig)
		f.meta.Err = map[string]any{"InstructionError": []any{0, "Custom"}}

		rec, err := RecordFromTransaction(f.tx, f.meta, 1, nil)

		require.NoError(t, err)
		assert.True(t, rec.Failed())
	})

	t.Run("missing meta", func(t *testing.T) {
		f := newTransferFixture(sig)
		_, err := RecordFromTransaction(f.tx, nil, 1, nil)
		assert.ErrorIs(t, err, ErrMetaUnavailable)
	})
}

func TestRecordFromResult(t *testing.T) {
	sig := solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
	f := newTransferFixture(sig)
	now := solana.UnixTimeSeconds(time.Now().Unix())

	result := &rpc.GetTransactionResult{
		Slot:        100,
		Transaction: makeTransactionEnvelope(t, f.tx),
		Meta:        f.meta,
	}

	t.Run("block time falls back to signature metadata", func(t *testing.T) {
		rec, err := RecordFromResult(&rpc.TransactionSignature{Signature: sig, BlockTime: &now}, result)

		require.NoError(t, err)
		require.NotNil(t, rec.BlockTime)
		assert.Equal(t, int64(now), *rec.BlockTime)
		assert.Equal(t, uint64(100), rec.Slot)
	})

	t.Run("normalizes end to end", func(t *testing.T) {
		rec, err := RecordFromResult(nil, result)
		require.NoError(t, err)

		txn := normalizer.New(normalizer.DefaultOptions(), nil).Normalize(rec, f.recipient.String(), normalizer.Mainnet)

		require.NotNil(t, txn)
		assert.Equal(t, normalizer.TypeReceive, txn.Type)
		require.Len(t, txn.To, 1)
		assert.Equal(t, "1", txn.To[0].Amount.String())
	})

	t.Run("nil result", func(t *testing.T) {
		_, err := RecordFromResult(nil, nil)
		assert.Error(t, err)
	})
}
