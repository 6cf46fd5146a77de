package isa

// EncodeR packs a FormatR/FormatV instruction: op[31:26] rd[25:21]
// rs1[20:16] rs2[15:11] 0[10:0]. Generalizes the RRR packing in
// pkg/asm/instruction.go (InstructionADD.Encode) from the RiSC-32 5-bit
// opcode to NanoCore's 6-bit opcode.
func EncodeR(op Opcode, rd, rs1, rs2 uint32) uint32 {
	return (uint32(op)&0x3F)<<26 | (rd&0x1F)<<21 | (rs1&0x1F)<<16 | (rs2&0x1F)<<11
}

// EncodeI packs a FormatI instruction: op[31:26] rd[25:21] rs1[20:16]
// imm[15:0].
func EncodeI(op Opcode, rd, rs1 uint32, imm16 uint32) uint32 {
	return (uint32(op)&0x3F)<<26 | (rd&0x1F)<<21 | (rs1&0x1F)<<16 | (imm16 & 0xFFFF)
}

// EncodeJ packs a FormatJ instruction: op[31:26] imm[25:0].
func EncodeJ(op Opcode, imm26 uint32) uint32 {
	return (uint32(op)&0x3F)<<26 | (imm26 & 0x3FFFFFF)
}

// DecodeOpcode extracts the opcode from an instruction word.
func DecodeOpcode(word uint32) Opcode {
	return Opcode((word >> 26) & 0x3F)
}

// DecodeRd extracts the rd/vd field (FormatR, FormatI, FormatV).
func DecodeRd(word uint32) uint32 {
	return (word >> 21) & 0x1F
}

// DecodeRs1 extracts the rs1/vs1 field (FormatR, FormatI, FormatV).
func DecodeRs1(word uint32) uint32 {
	return (word >> 16) & 0x1F
}

// DecodeRs2 extracts the rs2/vs2 field (FormatR, FormatV).
func DecodeRs2(word uint32) uint32 {
	return (word >> 11) & 0x1F
}

// DecodeImm16 extracts the 16-bit immediate of a FormatI instruction and
// sign-extends it to 64 bits.
func DecodeImm16(word uint32) int64 {
	v := word & 0xFFFF
	return int64(SignExtend(uint64(v), 16))
}

// DecodeImm26 extracts the 26-bit immediate of a FormatJ instruction and
// sign-extends it to 64 bits.
func DecodeImm26(word uint32) int64 {
	v := word & 0x3FFFFFF
	return int64(SignExtend(uint64(v), 26))
}

// SignExtend sign-extends the low `bits` bits of v to a full 64-bit value.
func SignExtend(v uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

// TwosComplement returns the bits-bit two's-complement bit pattern of a
// signed value n, masked to the low `bits` bits. Used by the encoder to
// turn a negative immediate into the field's bit pattern.
func TwosComplement(n int64, bits uint) uint32 {
	mask := uint64(1)<<bits - 1
	return uint32(uint64(n) & mask)
}

// FitsSigned reports whether n fits in a signed field of the given width.
func FitsSigned(n int64, bits uint) bool {
	lo := -(int64(1) << (bits - 1))
	hi := int64(1)<<(bits-1) - 1
	return n >= lo && n <= hi
}

// FitsUnsigned reports whether n fits in an unsigned field of the given width.
func FitsUnsigned(n int64, bits uint) bool {
	if n < 0 {
		return false
	}
	hi := int64(1)<<bits - 1
	return n <= hi
}
