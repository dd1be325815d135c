package normalizer

import (
	"math/big"
	"sort"

	"github.com/shopspring/decimal"
)

// balanceDelta is the signed change of one asset held by one address.
// A positive amount means the address received.
type balanceDelta struct {
	Address string
	Asset   string
	Unit    string
	Amount  decimal.Decimal
}

// transferScan is the two-pass extraction shared by the native and token
// extractors. The first pass diffs balance snapshots keyed by account index;
// the second looks for self-transfers in the instruction stream, which have a
// zero net diff and are invisible to the first pass. Results of the two passes
// are concatenated, never deduplicated against each other.
type transferScan[S any] struct {
	pre  map[int]S
	post map[int]S

	// delta converts the snapshots at one account index into a signed change.
	// Either side may be nil; ok=false skips the index.
	delta func(index int, pre, post *S) (balanceDelta, bool)

	// isProgram selects the instructions inspected for self-transfers.
	isProgram func(programID string) bool

	// selfTransfer decodes an instruction whose source and destination are
	// the same account.
	selfTransfer func(ix Instruction) (Movement, bool)
}

func (s transferScan[S]) run(rec *RawTransactionRecord, addrs []string) (from, to []Movement) {
	for _, idx := range unionIndices(s.pre, s.post) {
		var pre, post *S
		if v, ok := s.pre[idx]; ok {
			pre = &v
		}
		if v, ok := s.post[idx]; ok {
			post = &v
		}
		d, ok := s.delta(idx, pre, post)
		if !ok || d.Amount.IsZero() {
			continue
		}
		m := Movement{
			Address:  d.Address,
			Asset:    d.Asset,
			Amount:   d.Amount.Abs(),
			Unit:     d.Unit,
			Fungible: true,
		}
		if d.Amount.IsNegative() {
			from = append(from, m)
		} else {
			to = append(to, m)
		}
	}
	from = aggregate(from)
	to = aggregate(to)

	for _, ix := range rec.Instructions {
		programID, ok := addressAt(addrs, ix.ProgramIDIndex)
		if !ok || !s.isProgram(programID) {
			continue
		}
		if m, ok := s.selfTransfer(ix); ok {
			from = append(from, m)
			to = append(to, m)
		}
	}
	return from, to
}

// aggregate merges movements sharing an address and asset by summing their
// amounts. First-seen order is preserved.
func aggregate(movements []Movement) []Movement {
	if len(movements) < 2 {
		return movements
	}
	type key struct{ address, asset string }
	pos := make(map[key]int, len(movements))
	out := make([]Movement, 0, len(movements))
	for _, m := range movements {
		k := key{m.Address, m.Asset}
		if i, ok := pos[k]; ok {
			out[i].Amount = out[i].Amount.Add(m.Amount)
			continue
		}
		pos[k] = len(out)
		out = append(out, m)
	}
	return out
}

func unionIndices[S any](a, b map[int]S) []int {
	seen := make(map[int]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// addressAt resolves an account index, ignoring indices past the list.
func addressAt(addrs []string, idx uint16) (string, bool) {
	if int(idx) >= len(addrs) {
		return "", false
	}
	return addrs[idx], true
}

func lamports(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
