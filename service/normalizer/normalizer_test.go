package normalizer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_NativeSend(t *testing.T) {
	n := newTestNormalizer()
	p, q := newAddress(), newAddress()
	rec := nativeTransferRecord(p, q, 2*lamportsPerSOL, 5000)

	txn := n.Normalize(rec, p, Mainnet)

	require.NotNil(t, txn)
	assert.Equal(t, rec.Signatures[0], txn.ID)
	assert.Equal(t, p, txn.Account)
	assert.Equal(t, Mainnet.ID, txn.Scope)
	assert.Equal(t, StatusConfirmed, txn.Status)
	assert.Equal(t, TypeSend, txn.Type)
	require.Len(t, txn.From, 1)
	require.Len(t, txn.To, 1)
	assertMovement(t, txn.From[0], p, Mainnet.NativeAsset, "2")
	assertMovement(t, txn.To[0], q, Mainnet.NativeAsset, "2")
	require.Len(t, txn.Fees, 1)
	assertAmount(t, "0.000005", txn.Fees[0].Amount)
	require.Len(t, txn.Events, 1)
	assert.Equal(t, StatusConfirmed, txn.Events[0].Status)
	assert.Equal(t, rec.BlockTime, txn.Events[0].Timestamp)
	assert.Equal(t, int64(1_700_000_000), txn.BlockTime().Unix())
}

func TestNormalize_NativeReceive(t *testing.T) {
	n := newTestNormalizer()
	p, q := newAddress(), newAddress()
	rec := nativeTransferRecord(p, q, 2*lamportsPerSOL, 5000)

	txn := n.Normalize(rec, q, Mainnet)

	require.NotNil(t, txn)
	assert.Equal(t, TypeReceive, txn.Type)
	require.Len(t, txn.To, 1)
	assertMovement(t, txn.To[0], q, Mainnet.NativeAsset, "2")
	require.Len(t, txn.From, 1, "the sender stays visible on a receive")
	assert.Equal(t, p, txn.From[0].Address)
	assert.Empty(t, txn.Fees, "receivers did not pay the fee")
	assert.NotNil(t, txn.Fees)
}

func TestNormalize_SelfTransfer(t *testing.T) {
	n := newTestNormalizer()
	p := newAddress()
	rec := &RawTransactionRecord{
		Fee:          5000,
		AccountKeys:  []string{p, SystemProgramID.String()},
		PreBalances:  []uint64{10 * lamportsPerSOL, 1},
		PostBalances: []uint64{10*lamportsPerSOL - 5000, 1},
		Instructions: []Instruction{
			{ProgramIDIndex: 1, Accounts: []uint16{0, 0}, Data: systemTransferData(3 * lamportsPerSOL)},
		},
		Signatures: []string{"self"},
	}

	txn := n.Normalize(rec, p, Mainnet)

	require.NotNil(t, txn)
	assert.Equal(t, TypeSend, txn.Type)
	require.Len(t, txn.From, 1)
	require.Len(t, txn.To, 1)
	assertMovement(t, txn.From[0], p, Mainnet.NativeAsset, "3")
	assertMovement(t, txn.To[0], p, Mainnet.NativeAsset, "3")
	require.Len(t, txn.Fees, 1)
}

func TestNormalize_SwapPrunesCounterparties(t *testing.T) {
	n := newTestNormalizer()
	alice, pool := newAddress(), newAddress()
	aliceATA, poolATA := newAddress(), newAddress()
	mint := newAddress()

	rec := &RawTransactionRecord{
		Fee:         5000,
		AccountKeys: []string{alice, pool, aliceATA, poolATA, SystemProgramID.String(), TokenProgramID.String()},
		PreBalances: []uint64{5 * lamportsPerSOL, 100 * lamportsPerSOL, 2_039_280, 2_039_280, 1, 1},
		PostBalances: []uint64{
			4*lamportsPerSOL - 5000, 101 * lamportsPerSOL, 2_039_280, 2_039_280, 1, 1,
		},
		PreTokenBalances: []TokenBalance{
			{AccountIndex: 2, Owner: alice, Mint: mint, Decimals: 2, Amount: "0"},
			{AccountIndex: 3, Owner: pool, Mint: mint, Decimals: 2, Amount: "50000"},
		},
		PostTokenBalances: []TokenBalance{
			{AccountIndex: 2, Owner: alice, Mint: mint, Decimals: 2, Amount: "1000"},
			{AccountIndex: 3, Owner: pool, Mint: mint, Decimals: 2, Amount: "49000"},
		},
		Signatures: []string{"swap"},
	}

	txn := n.Normalize(rec, alice, Mainnet)

	require.NotNil(t, txn)
	assert.Equal(t, TypeSwap, txn.Type)
	require.Len(t, txn.From, 1)
	require.Len(t, txn.To, 1)
	assertMovement(t, txn.From[0], alice, Mainnet.NativeAsset, "1")
	assertMovement(t, txn.To[0], alice, Mainnet.TokenAsset(mint), "10")
	assert.Len(t, txn.Fees, 1)
}

func TestNormalize_TokenMovementsComeFirst(t *testing.T) {
	n := newTestNormalizer()
	alice, bob := newAddress(), newAddress()
	aliceATA, bobATA := newAddress(), newAddress()

	rec := &RawTransactionRecord{
		Fee:          5000,
		AccountKeys:  []string{alice, bob, aliceATA, bobATA},
		PreBalances:  []uint64{5 * lamportsPerSOL, 0, 1, 1},
		PostBalances: []uint64{4*lamportsPerSOL - 5000, lamportsPerSOL, 1, 1},
		PreTokenBalances: []TokenBalance{
			{AccountIndex: 2, Owner: alice, Mint: usdcMint, Decimals: 6, Amount: "1000000"},
		},
		PostTokenBalances: []TokenBalance{
			{AccountIndex: 2, Owner: alice, Mint: usdcMint, Decimals: 6, Amount: "0"},
			{AccountIndex: 3, Owner: bob, Mint: usdcMint, Decimals: 6, Amount: "1000000"},
		},
		Signatures: []string{"both"},
	}

	txn := n.Normalize(rec, alice, Mainnet)

	require.NotNil(t, txn)
	assert.Equal(t, TypeSend, txn.Type)
	require.Len(t, txn.From, 2)
	assert.Equal(t, Mainnet.TokenAsset(usdcMint), txn.From[0].Asset)
	assert.Equal(t, Mainnet.NativeAsset, txn.From[1].Asset)
	require.Len(t, txn.To, 2)
	assert.Equal(t, Mainnet.TokenAsset(usdcMint), txn.To[0].Asset)
}

func TestNormalize_DustFilter(t *testing.T) {
	n := newTestNormalizer()
	p, q := newAddress(), newAddress()

	tests := []struct {
		name       string
		amount     uint64
		observer   func() string
		suppressed bool
	}{
		{name: "receive below threshold", amount: 999_999, observer: func() string { return q }, suppressed: true},
		{name: "receive at threshold", amount: 1_000_000, observer: func() string { return q }, suppressed: false},
		{name: "receive above threshold", amount: 5_000_000, observer: func() string { return q }, suppressed: false},
		{name: "send below threshold is kept", amount: 1, observer: func() string { return p }, suppressed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := nativeTransferRecord(p, q, tt.amount, 5000)

			res := n.Evaluate(rec, tt.observer(), Mainnet)

			if tt.suppressed {
				assert.Nil(t, res.Transaction)
				assert.Equal(t, OutcomeSuppressed, res.Outcome)
			} else {
				assert.NotNil(t, res.Transaction)
				assert.Equal(t, OutcomeEmitted, res.Outcome)
			}
		})
	}

	t.Run("token only receive always passes", func(t *testing.T) {
		alice, bob := newAddress(), newAddress()
		aliceATA, bobATA := newAddress(), newAddress()
		rec := &RawTransactionRecord{
			Fee:          5000,
			AccountKeys:  []string{alice, aliceATA, bobATA},
			PreBalances:  []uint64{lamportsPerSOL, 1, 1},
			PostBalances: []uint64{lamportsPerSOL - 5000, 1, 1},
			PreTokenBalances: []TokenBalance{
				{AccountIndex: 1, Owner: alice, Mint: usdcMint, Decimals: 6, Amount: "1"},
				{AccountIndex: 2, Owner: bob, Mint: usdcMint, Decimals: 6, Amount: "0"},
			},
			PostTokenBalances: []TokenBalance{
				{AccountIndex: 1, Owner: alice, Mint: usdcMint, Decimals: 6, Amount: "0"},
				{AccountIndex: 2, Owner: bob, Mint: usdcMint, Decimals: 6, Amount: "1"},
			},
			Signatures: []string{"tiny-token"},
		}

		txn := n.Normalize(rec, bob, Mainnet)

		require.NotNil(t, txn)
		assert.Equal(t, TypeReceive, txn.Type)
		require.Len(t, txn.To, 1)
		assertMovement(t, txn.To[0], bob, Mainnet.TokenAsset(usdcMint), "0.000001")
	})

	t.Run("configured threshold", func(t *testing.T) {
		strict := New(Options{DustThreshold: DefaultDustThreshold.Mul(DefaultDustThreshold)}, nil)
		rec := nativeTransferRecord(p, q, 999_999, 5000)
		assert.NotNil(t, strict.Normalize(rec, q, Mainnet))
	})
}

func failedTransferRecord(p, q string, amount uint64) *RawTransactionRecord {
	return &RawTransactionRecord{
		BlockTime:    int64Ptr(1_700_000_100),
		Err:          map[string]any{"InstructionError": []any{0, map[string]any{"Custom": 1}}},
		Fee:          5000,
		AccountKeys:  []string{p, q, SystemProgramID.String()},
		PreBalances:  []uint64{lamportsPerSOL, 0, 1},
		PostBalances: []uint64{lamportsPerSOL - 5000, 0, 1},
		Instructions: []Instruction{
			{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: systemTransferData(amount)},
		},
		Signatures: []string{"failed"},
	}
}

func TestNormalize_FailedTransaction(t *testing.T) {
	n := newTestNormalizer()
	p, q := newAddress(), newAddress()

	t.Run("reports only fees", func(t *testing.T) {
		rec := failedTransferRecord(p, q, 500_000_000)

		txn := n.Normalize(rec, p, Mainnet)

		require.NotNil(t, txn)
		assert.Equal(t, StatusFailed, txn.Status)
		assert.Equal(t, TypeUnknown, txn.Type)
		assert.Empty(t, txn.From)
		assert.Empty(t, txn.To)
		require.Len(t, txn.Fees, 1)
		assertAmount(t, "0.000005", txn.Fees[0].Amount)
		require.Len(t, txn.Events, 1)
		assert.Equal(t, StatusFailed, txn.Events[0].Status)
	})

	t.Run("receiver side passes when attempt is not dust", func(t *testing.T) {
		rec := failedTransferRecord(p, q, 500_000_000)

		txn := n.Normalize(rec, q, Mainnet)

		require.NotNil(t, txn)
		assert.Empty(t, txn.To)
	})

	t.Run("dust attempt to observer is suppressed", func(t *testing.T) {
		rec := failedTransferRecord(p, q, 100)

		res := n.Evaluate(rec, q, Mainnet)

		assert.Equal(t, OutcomeSuppressed, res.Outcome)
		assert.Nil(t, res.Transaction)
	})
}

func TestNormalize_Malformed(t *testing.T) {
	n := newTestNormalizer()

	assert.Nil(t, n.Normalize(nil, newAddress(), Mainnet))

	rec := nativeTransferRecord(newAddress(), newAddress(), lamportsPerSOL, 5000)
	rec.Signatures = nil
	res := n.Evaluate(rec, rec.AccountKeys[0], Mainnet)
	assert.Equal(t, OutcomeMalformed, res.Outcome)
	assert.Nil(t, res.Transaction)
}

func TestNormalize_RecordFromJSON(t *testing.T) {
	raw := `{
		"block_time": 1700000000,
		"slot": 1,
		"fee": 5000,
		"account_keys": [
			"7YttLkHDoNj9wyDur5pM1ejNaAvT9X4eqaYcHQqtj2G5",
			"4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
			"11111111111111111111111111111111"
		],
		"instructions": [
			{"program_id_index": 2, "accounts": [0, 1], "data": "3Bxs3zzLZLuLQEYX"}
		],
		"pre_balances": [2000000000, 0, 1],
		"post_balances": [999995000, 1000000000, 1],
		"signatures": ["5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"]
	}`

	var rec RawTransactionRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.False(t, rec.Failed())

	txn := newTestNormalizer().Normalize(&rec, "7YttLkHDoNj9wyDur5pM1ejNaAvT9X4eqaYcHQqtj2G5", Devnet)

	require.NotNil(t, txn)
	assert.Equal(t, TypeSend, txn.Type)
	assert.Equal(t, Devnet.ID, txn.Scope)
	require.Len(t, txn.From, 1)
	assertAmount(t, "1", txn.From[0].Amount)
}

func TestNormalizeAll_PreservesOrder(t *testing.T) {
	n := newTestNormalizer()
	p, q := newAddress(), newAddress()

	recs := make([]*RawTransactionRecord, 0, 20)
	for i := 0; i < 20; i++ {
		rec := nativeTransferRecord(p, q, uint64(i+1)*lamportsPerSOL, 5000)
		rec.Signatures = []string{string(rune('a' + i))}
		recs = append(recs, rec)
	}
	recs = append(recs, nil)

	results := n.NormalizeAll(context.Background(), recs, p, Mainnet)

	require.Len(t, results, 21)
	for i := 0; i < 20; i++ {
		require.NotNil(t, results[i].Transaction)
		assert.Equal(t, string(rune('a'+i)), results[i].Transaction.ID)
	}
	assert.Equal(t, OutcomeMalformed, results[20].Outcome)

	t.Run("canceled context skips work", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		results := n.NormalizeAll(ctx, recs[:3], p, Mainnet)

		require.Len(t, results, 3)
		for _, r := range results {
			assert.Equal(t, OutcomeSkipped, r.Outcome)
		}
	})
}

func TestScopeForNetwork(t *testing.T) {
	s, err := ScopeForNetwork("mainnet")
	require.NoError(t, err)
	assert.Equal(t, Mainnet, s)
	assert.Equal(t, "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp/slip44:501", s.NativeAsset)
	assert.Equal(t, "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp/token:"+usdcMint, s.TokenAsset(usdcMint))

	_, err = ScopeForNetwork("localnet")
	assert.Error(t, err)
}
