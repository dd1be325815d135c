package normalizer

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// ComputeBudgetProgramID declares compute unit limit and price
	ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
)

// Scope describes a chain (CAIP-2) and its native asset.
type Scope struct {
	ID          string // CAIP-2 chain id, e.g. solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp
	NativeAsset string // CAIP-19 asset id of the native currency
	Symbol      string
	Decimals    int32
}

// Known scopes.
var (
	Mainnet = newScope("solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp")
	Devnet  = newScope("solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1")
	Testnet = newScope("solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z")
)

func newScope(id string) Scope {
	return Scope{
		ID:          id,
		NativeAsset: id + "/slip44:501",
		Symbol:      "SOL",
		Decimals:    9,
	}
}

// networks maps the short network names used in configuration to scopes.
var networks = map[string]Scope{
	"mainnet": Mainnet,
	"devnet":  Devnet,
	"testnet": Testnet,
}

// ScopeForNetwork resolves "mainnet", "devnet" or "testnet" to its scope.
func ScopeForNetwork(network string) (Scope, error) {
	s, ok := networks[network]
	if !ok {
		return Scope{}, fmt.Errorf("invalid network: %s (must be mainnet, devnet or testnet)", network)
	}
	return s, nil
}

// TokenAsset returns the CAIP-19 asset id of a token mint on this scope.
func (s Scope) TokenAsset(mint string) string {
	return s.ID + "/token:" + mint
}

// ToNative converts lamports into a display amount of the native asset.
func (s Scope) ToNative(lamports decimal.Decimal) decimal.Decimal {
	return lamports.Shift(-s.Decimals)
}

func (s Scope) nativeMovement(address string, lamports decimal.Decimal) Movement {
	return Movement{
		Address:  address,
		Asset:    s.NativeAsset,
		Amount:   s.ToNative(lamports),
		Unit:     s.Symbol,
		Fungible: true,
	}
}
