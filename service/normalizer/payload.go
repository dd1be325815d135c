package normalizer

import "encoding/binary"

// Payload is a read-only view over instruction data. All readers are bounds
// checked and report ok=false on short input instead of panicking.
type Payload []byte

// U8 reads the byte at off.
func (p Payload) U8(off int) (uint8, bool) {
	if off < 0 || off >= len(p) {
		return 0, false
	}
	return p[off], true
}

// U32 reads a little-endian uint32 starting at off.
func (p Payload) U32(off int) (uint32, bool) {
	if off < 0 || len(p) < off+4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(p[off : off+4]), true
}

// U64 reads a little-endian uint64 starting at off.
func (p Payload) U64(off int) (uint64, bool) {
	if off < 0 || len(p) < off+8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(p[off : off+8]), true
}

// Instruction opcodes for the programs we decode.
const (
	// System program: u32 opcode followed by u64 lamports.
	systemTransferOpcode = uint32(2)

	// Token program: u8 opcode followed by u64 amount (and u8 decimals when checked).
	tokenTransferOpcode        = uint8(3)
	tokenTransferCheckedOpcode = uint8(12)

	// Compute budget program: u8 opcode followed by the value.
	computeUnitLimitOpcode = uint8(2)
	computeUnitPriceOpcode = uint8(3)
)

// decodeSystemTransfer returns the lamports of a System Transfer instruction.
// Layout: [0..4] opcode (2), [4..12] lamports.
func decodeSystemTransfer(data Payload) (uint64, bool) {
	op, ok := data.U32(0)
	if !ok || op != systemTransferOpcode {
		return 0, false
	}
	return data.U64(4)
}

// decodeTokenTransfer returns the raw amount of a Transfer or TransferChecked
// instruction along with the decimals byte when the payload carries one.
// Layout: [0] opcode, [1..9] amount, [9] decimals (checked only).
func decodeTokenTransfer(data Payload, wantOpcode uint8) (amount uint64, decimals *uint8, ok bool) {
	op, ok := data.U8(0)
	if !ok || op != wantOpcode {
		return 0, nil, false
	}
	amount, ok = data.U64(1)
	if !ok {
		return 0, nil, false
	}
	if wantOpcode == tokenTransferCheckedOpcode {
		if d, ok := data.U8(9); ok {
			decimals = &d
		}
	}
	return amount, decimals, true
}
