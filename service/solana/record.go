package solana

import (
	"errors"
	"fmt"

	"github.com/brojonat/txnorm/service/normalizer"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrMetaUnavailable is returned when the RPC node has no execution metadata
// for a transaction (balances, fee, status). Such transactions cannot be
// normalized.
var ErrMetaUnavailable = errors.New("transaction meta unavailable")

// RecordFromResult converts a GetTransaction result into a raw transaction
// record. sig is optional; when given, its block time and error are used as
// fallbacks for fields missing from the result.
func RecordFromResult(sig *rpc.TransactionSignature, result *rpc.GetTransactionResult) (*normalizer.RawTransactionRecord, error) {
	if result == nil || result.Transaction == nil {
		return nil, fmt.Errorf("transaction not available")
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	blockTime := result.BlockTime
	if blockTime == nil && sig != nil {
		blockTime = sig.BlockTime
	}

	rec, err := RecordFromTransaction(tx, result.Meta, result.Slot, blockTime)
	if err != nil {
		return nil, err
	}
	if rec.Err == nil && sig != nil && sig.Err != nil {
		rec.Err = sig.Err
	}
	return rec, nil
}

// RecordFromTransaction builds a raw record from a decoded transaction and its
// execution metadata. Loaded addresses are appended writable first, then
// readonly, matching the runtime's account ordering.
func RecordFromTransaction(
	tx *solana.Transaction,
	meta *rpc.TransactionMeta,
	slot uint64,
	blockTime *solana.UnixTimeSeconds,
) (*normalizer.RawTransactionRecord, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction")
	}
	if meta == nil {
		return nil, ErrMetaUnavailable
	}

	rec := &normalizer.RawTransactionRecord{
		Slot:              slot,
		Err:               meta.Err,
		Fee:               meta.Fee,
		AccountKeys:       publicKeyStrings(tx.Message.AccountKeys),
		LoadedWritable:    publicKeyStrings(meta.LoadedAddresses.Writable),
		LoadedReadonly:    publicKeyStrings(meta.LoadedAddresses.ReadOnly),
		Instructions:      make([]normalizer.Instruction, 0, len(tx.Message.Instructions)),
		PreBalances:       meta.PreBalances,
		PostBalances:      meta.PostBalances,
		PreTokenBalances:  tokenBalances(meta.PreTokenBalances),
		PostTokenBalances: tokenBalances(meta.PostTokenBalances),
		Signatures:        make([]string, 0, len(tx.Signatures)),
	}
	if blockTime != nil {
		t := int64(*blockTime)
		rec.BlockTime = &t
	}
	for _, ix := range tx.Message.Instructions {
		rec.Instructions = append(rec.Instructions, normalizer.Instruction{
			ProgramIDIndex: ix.ProgramIDIndex,
			Accounts:       ix.Accounts,
			Data:           ix.Data,
		})
	}
	for _, s := range tx.Signatures {
		rec.Signatures = append(rec.Signatures, s.String())
	}
	return rec, nil
}

func publicKeyStrings(keys []solana.PublicKey) []string {
	if len(keys) == 0 {
		return nil
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

// tokenBalances drops entries without an amount; they carry nothing to diff.
func tokenBalances(in []rpc.TokenBalance) []normalizer.TokenBalance {
	if len(in) == 0 {
		return nil
	}
	out := make([]normalizer.TokenBalance, 0, len(in))
	for _, b := range in {
		if b.UiTokenAmount == nil {
			continue
		}
		tb := normalizer.TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint.String(),
			Decimals:     b.UiTokenAmount.Decimals,
			Amount:       b.UiTokenAmount.Amount,
		}
		if b.Owner != nil {
			tb.Owner = b.Owner.String()
		}
		out = append(out, tb)
	}
	return out
}
