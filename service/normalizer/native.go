package normalizer

import (
	"github.com/shopspring/decimal"
)

// nativeTransfers derives SOL movements from the pre/post balance arrays and
// adds self-transfers found in System program instructions.
func nativeTransfers(rec *RawTransactionRecord, addrs []string, scope Scope) (from, to []Movement) {
	system := SystemProgramID.String()
	fee := lamports(rec.Fee)

	scan := transferScan[uint64]{
		pre:  indexBalances(rec.PreBalances),
		post: indexBalances(rec.PostBalances),
		delta: func(idx int, pre, post *uint64) (balanceDelta, bool) {
			if idx >= len(addrs) {
				return balanceDelta{}, false
			}
			received := decimal.Zero
			if post != nil {
				received = received.Add(lamports(*post))
			}
			if pre != nil {
				received = received.Sub(lamports(*pre))
			}
			// The fee payer's post balance already has the fee taken out.
			if idx == 0 {
				received = received.Add(fee)
			}
			return balanceDelta{
				Address: addrs[idx],
				Asset:   scope.NativeAsset,
				Unit:    scope.Symbol,
				Amount:  scope.ToNative(received),
			}, true
		},
		isProgram: func(programID string) bool { return programID == system },
		selfTransfer: func(ix Instruction) (Movement, bool) {
			if len(ix.Accounts) < 2 || ix.Accounts[0] != ix.Accounts[1] {
				return Movement{}, false
			}
			address, ok := addressAt(addrs, ix.Accounts[0])
			if !ok {
				return Movement{}, false
			}
			amount, ok := decodeSystemTransfer(Payload(ix.Data))
			if !ok {
				return Movement{}, false
			}
			return scope.nativeMovement(address, lamports(amount)), true
		},
	}
	return scan.run(rec, addrs)
}

// nativeTransfersFromInstructions walks System program transfers directly.
// It is used for failed transactions, whose balance snapshots do not reflect
// the attempted transfers.
func nativeTransfersFromInstructions(rec *RawTransactionRecord, addrs []string, scope Scope) (from, to []Movement) {
	system := SystemProgramID.String()
	for _, ix := range rec.Instructions {
		programID, ok := addressAt(addrs, ix.ProgramIDIndex)
		if !ok || programID != system || len(ix.Accounts) < 2 {
			continue
		}
		amount, ok := decodeSystemTransfer(Payload(ix.Data))
		if !ok {
			continue
		}
		src, ok1 := addressAt(addrs, ix.Accounts[0])
		dst, ok2 := addressAt(addrs, ix.Accounts[1])
		if !ok1 || !ok2 {
			continue
		}
		from = append(from, scope.nativeMovement(src, lamports(amount)))
		to = append(to, scope.nativeMovement(dst, lamports(amount)))
	}
	return aggregate(from), aggregate(to)
}

func indexBalances(balances []uint64) map[int]uint64 {
	out := make(map[int]uint64, len(balances))
	for i, b := range balances {
		out[i] = b
	}
	return out
}
