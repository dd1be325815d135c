package normalizer

import (
	"github.com/shopspring/decimal"
)

// defaultSelfTransferDecimals is used when neither the instruction nor the
// balance snapshots say how many decimals the transferred mint has.
const defaultSelfTransferDecimals = 6

// tokenTransfers derives token movements from the pre/post token balances and
// adds self-transfers found in Token and Token-2022 instructions. Movements
// are attributed to the token account owner, not the token account.
func tokenTransfers(rec *RawTransactionRecord, addrs []string, scope Scope) (from, to []Movement) {
	pre := indexTokenBalances(rec.PreTokenBalances)
	post := indexTokenBalances(rec.PostTokenBalances)

	lookup := func(idx uint16) (TokenBalance, bool) {
		if tb, ok := post[int(idx)]; ok {
			return tb, true
		}
		tb, ok := pre[int(idx)]
		return tb, ok
	}

	scan := transferScan[TokenBalance]{
		pre:  pre,
		post: post,
		delta: func(_ int, before, after *TokenBalance) (balanceDelta, bool) {
			ref := after
			if ref == nil {
				ref = before
			}
			received := decimal.Zero
			if after != nil {
				v, err := decimal.NewFromString(after.Amount)
				if err != nil {
					return balanceDelta{}, false
				}
				received = received.Add(v)
			}
			if before != nil {
				v, err := decimal.NewFromString(before.Amount)
				if err != nil {
					return balanceDelta{}, false
				}
				received = received.Sub(v)
			}
			return balanceDelta{
				Address: ref.Owner,
				Asset:   scope.TokenAsset(ref.Mint),
				Amount:  received.Shift(-int32(ref.Decimals)),
			}, true
		},
		isProgram: func(programID string) bool {
			return programID == TokenProgramID.String() || programID == Token2022ProgramID.String()
		},
		selfTransfer: func(ix Instruction) (Movement, bool) {
			shape, ok := matchTokenTransfer(ix)
			if !ok || ix.Accounts[shape.source] != ix.Accounts[shape.destination] {
				return Movement{}, false
			}
			amount, payloadDecimals, ok := decodeTokenTransfer(Payload(ix.Data), shape.opcode)
			if !ok {
				return Movement{}, false
			}

			account := ix.Accounts[shape.source]
			snapshot, hasSnapshot := lookup(account)

			mint := snapshot.Mint
			if shape.mint >= 0 {
				if m, ok := addressAt(addrs, ix.Accounts[shape.mint]); ok {
					mint = m
				}
			}
			if mint == "" {
				return Movement{}, false
			}

			owner := snapshot.Owner
			if owner == "" {
				a, ok := addressAt(addrs, ix.Accounts[shape.authority])
				if !ok {
					return Movement{}, false
				}
				owner = a
			}

			// Token amounts conventionally carry 6 decimals when nothing says otherwise.
			decimals := int32(defaultSelfTransferDecimals)
			switch {
			case payloadDecimals != nil:
				decimals = int32(*payloadDecimals)
			case hasSnapshot:
				decimals = int32(snapshot.Decimals)
			}

			return Movement{
				Address:  owner,
				Asset:    scope.TokenAsset(mint),
				Amount:   lamports(amount).Shift(-decimals),
				Fungible: true,
			}, true
		},
	}
	return scan.run(rec, addrs)
}

// tokenTransferShape locates the interesting accounts of a transfer
// instruction. A negative mint means the shape does not carry the mint.
type tokenTransferShape struct {
	opcode      uint8
	source      int
	mint        int
	destination int
	authority   int
}

var (
	// Transfer: [source, destination, authority]
	simpleTransferShape = tokenTransferShape{opcode: tokenTransferOpcode, source: 0, mint: -1, destination: 1, authority: 2}
	// TransferChecked: [source, mint, destination, authority, signers...]
	checkedTransferShape = tokenTransferShape{opcode: tokenTransferCheckedOpcode, source: 0, mint: 1, destination: 2, authority: 3}
)

// matchTokenTransfer picks the instruction shape from the account list length.
// A single-signer TransferChecked carries 4 accounts; multisig adds signers.
func matchTokenTransfer(ix Instruction) (tokenTransferShape, bool) {
	switch n := len(ix.Accounts); {
	case n == 3:
		return simpleTransferShape, true
	case n >= 4:
		return checkedTransferShape, true
	default:
		return tokenTransferShape{}, false
	}
}

func indexTokenBalances(balances []TokenBalance) map[int]TokenBalance {
	out := make(map[int]TokenBalance, len(balances))
	for _, b := range balances {
		out[int(b.AccountIndex)] = b
	}
	return out
}
