package isa

import "testing"

func TestEncodeDecodeR(t *testing.T) {
	word := EncodeR(ADD, 3, 1, 2)
	if op := DecodeOpcode(word); op != ADD {
		t.Fatalf("opcode = %v, want ADD", op)
	}
	if rd := DecodeRd(word); rd != 3 {
		t.Fatalf("rd = %d, want 3", rd)
	}
	if rs1 := DecodeRs1(word); rs1 != 1 {
		t.Fatalf("rs1 = %d, want 1", rs1)
	}
	if rs2 := DecodeRs2(word); rs2 != 2 {
		t.Fatalf("rs2 = %d, want 2", rs2)
	}
}

func TestEncodeDecodeI(t *testing.T) {
	word := EncodeI(LD, 5, 4, TwosComplement(-1, 16))
	if imm := DecodeImm16(word); imm != -1 {
		t.Fatalf("imm16 = %d, want -1", imm)
	}
}

func TestEncodeDecodeJ(t *testing.T) {
	word := EncodeJ(JMP, TwosComplement(-2, 26))
	if imm := DecodeImm26(word); imm != -2 {
		t.Fatalf("imm26 = %d, want -2", imm)
	}
}

func TestOpcodeInHighSixBits(t *testing.T) {
	word := EncodeR(NOT, 0, 0, 0)
	if (word>>26)&0x3F != uint32(NOT) {
		t.Fatalf("opcode not found in bits [31:26] of %#08x", word)
	}
}

func TestFitsSignedBoundaries(t *testing.T) {
	if !FitsSigned(32767, 16) || FitsSigned(32768, 16) {
		t.Fatalf("16-bit signed positive boundary wrong")
	}
	if !FitsSigned(-32768, 16) || FitsSigned(-32769, 16) {
		t.Fatalf("16-bit signed negative boundary wrong")
	}
}

func TestSignExtend(t *testing.T) {
	if v := SignExtend(0xFFFE, 16); v != -2 {
		t.Fatalf("SignExtend(0xFFFE, 16) = %d, want -2", v)
	}
}

func TestMnemonicRoundTrip(t *testing.T) {
	for name, op := range Mnemonics {
		if got := Mnemonic(op); got != name {
			// Multiple mnemonics never alias the same opcode in this table,
			// so the reverse lookup must return exactly what went in.
			t.Fatalf("Mnemonic(%v) = %q, want %q", op, got, name)
		}
	}
}

func TestFormatOfCoversEveryMnemonic(t *testing.T) {
	for name, op := range Mnemonics {
		if _, ok := FormatOf(op); !ok {
			t.Fatalf("opcode for %q has no assigned format", name)
		}
	}
}
