package normalizer

import (
	"github.com/shopspring/decimal"
)

// feePrecision is the number of decimal places fees are rounded to.
const feePrecision = 9

var microLamportsPerLamport = decimal.NewFromInt(1_000_000)

// computeBudget holds the decoded compute budget instructions of a transaction.
type computeBudget struct {
	limit *uint64
	price *uint64 // micro-lamports per compute unit
}

// decodeComputeBudget walks the compute budget instructions. It reports
// ok=false when the compute budget program is not referenced at all.
func decodeComputeBudget(rec *RawTransactionRecord) (cb computeBudget, other int, ok bool) {
	programIdx := -1
	target := ComputeBudgetProgramID.String()
	for i, a := range rec.AccountKeys {
		if a == target {
			programIdx = i
			break
		}
	}
	if programIdx < 0 {
		return cb, 0, false
	}

	for _, ix := range rec.Instructions {
		if int(ix.ProgramIDIndex) != programIdx {
			other++
			continue
		}
		data := Payload(ix.Data)
		op, ok := data.U8(0)
		if !ok {
			continue
		}
		switch op {
		case computeUnitLimitOpcode:
			if v, ok := data.U32(1); ok {
				limit := uint64(v)
				cb.limit = &limit
			}
		case computeUnitPriceOpcode:
			if v, ok := data.U64(1); ok {
				cb.price = &v
			}
		}
	}
	return cb, other, true
}

// decodeFees returns the base fee and, when a compute unit price was set, the
// priority fee. Both are denominated in the native asset of scope.
func (n *Normalizer) decodeFees(rec *RawTransactionRecord, scope Scope) []Fee {
	total := scope.ToNative(lamports(rec.Fee))

	var priority *decimal.Decimal
	if cb, other, ok := decodeComputeBudget(rec); ok && cb.price != nil {
		limit := n.opts.DefaultComputeUnitLimit * uint64(other)
		if cb.limit != nil {
			limit = *cb.limit
		}
		paid := lamports(*cb.price).
			Mul(lamports(limit)).
			Div(microLamportsPerLamport)
		p := scope.ToNative(paid).Round(feePrecision)
		priority = &p
	}

	base := total
	if priority != nil {
		base = total.Sub(*priority)
		if base.IsNegative() {
			base = decimal.Zero
		}
	}

	fees := []Fee{{
		Kind:   FeeBase,
		Asset:  scope.NativeAsset,
		Amount: base,
		Unit:   scope.Symbol,
	}}
	if priority != nil {
		fees = append(fees, Fee{
			Kind:   FeePriority,
			Asset:  scope.NativeAsset,
			Amount: *priority,
			Unit:   scope.Symbol,
		})
	}
	return fees
}
