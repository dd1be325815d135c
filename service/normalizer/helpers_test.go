package normalizer

import (
	"encoding/binary"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

const lamportsPerSOL = 1_000_000_000

func newTestNormalizer() *Normalizer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(DefaultOptions(), logger)
}

func newAddress() string {
	return solana.NewWallet().PublicKey().String()
}

func int64Ptr(v int64) *int64 {
	return &v
}

// systemTransferData builds System Transfer instruction data:
// [0..4] = instruction type (u32, 2 = Transfer), [4..12] = lamports (u64)
func systemTransferData(lamports uint64) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransferOpcode)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return data
}

// tokenTransferData builds Token Transfer instruction data:
// [0] = instruction type (u8, 3 = Transfer), [1..9] = amount (u64)
func tokenTransferData(amount uint64) []byte {
	data := make([]byte, 9)
	data[0] = tokenTransferOpcode
	binary.LittleEndian.PutUint64(data[1:9], amount)
	return data
}

// tokenTransferCheckedData builds TransferChecked instruction data:
// [0] = instruction type (u8, 12), [1..9] = amount (u64), [9] = decimals (u8)
func tokenTransferCheckedData(amount uint64, decimals uint8) []byte {
	data := make([]byte, 10)
	data[0] = tokenTransferCheckedOpcode
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals
	return data
}

func computeUnitLimitData(limit uint32) []byte {
	data := make([]byte, 5)
	data[0] = computeUnitLimitOpcode
	binary.LittleEndian.PutUint32(data[1:5], limit)
	return data
}

func computeUnitPriceData(microLamports uint64) []byte {
	data := make([]byte, 9)
	data[0] = computeUnitPriceOpcode
	binary.LittleEndian.PutUint64(data[1:9], microLamports)
	return data
}

// nativeTransferRecord builds a confirmed P -> Q transfer of amount lamports
// paid for by P.
func nativeTransferRecord(p, q string, amount, fee uint64) *RawTransactionRecord {
	startP := uint64(10 * lamportsPerSOL)
	startQ := uint64(1 * lamportsPerSOL)
	return &RawTransactionRecord{
		BlockTime:    int64Ptr(1_700_000_000),
		Slot:         250_000_000,
		Fee:          fee,
		AccountKeys:  []string{p, q, SystemProgramID.String()},
		PreBalances:  []uint64{startP, startQ, 1},
		PostBalances: []uint64{startP - amount - fee, startQ + amount, 1},
		Instructions: []Instruction{
			{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: systemTransferData(amount)},
		},
		Signatures: []string{"5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"},
	}
}

func assertAmount(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	want, err := decimal.NewFromString(expected)
	if err != nil {
		t.Fatalf("bad expected amount %q: %v", expected, err)
	}
	assert.True(t, want.Equal(actual), "expected amount %s, got %s", want, actual)
}

func assertMovement(t *testing.T, m Movement, address, asset, amount string) {
	t.Helper()
	assert.Equal(t, address, m.Address)
	assert.Equal(t, asset, m.Asset)
	assert.True(t, m.Fungible)
	assertAmount(t, amount, m.Amount)
}
