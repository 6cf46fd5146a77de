package encoder

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nanocore-vm/nanocore/internal/isa"
)

func assemble(t *testing.T, src string) []byte {
	t.Helper()
	enc := New()
	out, errs := enc.Assemble(strings.NewReader(src))
	if len(errs) != 0 {
		t.Fatalf("unexpected assembly errors: %v", errs)
	}
	return out
}

func TestEncoderDeterminism(t *testing.T) {
	src := "start: ADD R1, R2, R3\n       BEQ R1, R0, start\n       HALT\n"
	out1 := assemble(t, src)
	out2 := assemble(t, src)
	if len(out1) != 12 {
		t.Fatalf("output length = %d, want 12", len(out1))
	}
	if !bytes.Equal(out1, out2) {
		t.Fatalf("encoder is not deterministic: %x != %x", out1, out2)
	}

	beq := out1[4:8]
	field := uint32(beq[0]) | uint32(beq[1])<<8 | uint32(beq[2])<<16 | uint32(beq[3])<<24
	if imm := field & 0xFFFF; imm != 0xFFFE {
		t.Fatalf("BEQ field = %#04x, want 0xfffe", imm)
	}
}

func TestConstantSum(t *testing.T) {
	out := assemble(t, "LOAD R1, 5\nLOAD R2, 10\nADD R3, R1, R2\nHALT\n")
	// LOAD expands to one LD; 2 LOADs + ADD + HALT = 4 words.
	if len(out) != 16 {
		t.Fatalf("output length = %d, want 16", len(out))
	}
}

func TestCollectsErrorsFromBothPasses(t *testing.T) {
	src := "start: NOTAMNEMONIC R1, R2\nADD R1, R2\nJMP undefined_label\n"
	enc := New()
	_, errs := enc.Assemble(strings.NewReader(src))
	if len(errs) < 3 {
		t.Fatalf("got %d errors, want at least 3: %v", len(errs), errs)
	}
}

func TestDuplicateLabel(t *testing.T) {
	src := "a: HALT\na: NOP\n"
	enc := New()
	_, errs := enc.Assemble(strings.NewReader(src))
	if len(errs) != 1 || errs[0].Kind != DuplicateLabel {
		t.Fatalf("errs = %v, want one DuplicateLabel", errs)
	}
}

func TestPushPopExpansion(t *testing.T) {
	out := assemble(t, "PUSH R5\nPOP R5\n")
	if len(out) != 4*isa.InstructionBytes {
		t.Fatalf("output length = %d, want %d", len(out), 4*isa.InstructionBytes)
	}
}

func TestDirectiveSizing(t *testing.T) {
	out := assemble(t, ".word 1\n.byte 1,2,3\n.string \"hi\"\n")
	// .word -> 4 bytes; .byte 3 values -> 4 bytes (padded);
	// .string "hi" -> 2 + NUL = 3 bytes -> padded to 4.
	if len(out) != 12 {
		t.Fatalf("output length = %d, want 12", len(out))
	}
}

func TestMemoryOperandSyntax(t *testing.T) {
	out := assemble(t, "LD R1, 8(R2)\n")
	word := uint32(out[0]) | uint32(out[1])<<8 | uint32(out[2])<<16 | uint32(out[3])<<24
	if rd := isa.DecodeRd(word); rd != 1 {
		t.Fatalf("rd = %d, want 1", rd)
	}
	if rs1 := isa.DecodeRs1(word); rs1 != 2 {
		t.Fatalf("rs1 = %d, want 2", rs1)
	}
	if imm := isa.DecodeImm16(word); imm != 8 {
		t.Fatalf("imm16 = %d, want 8", imm)
	}
}

func TestUnknownMnemonic(t *testing.T) {
	enc := New()
	_, errs := enc.Assemble(strings.NewReader("BOGUS R1, R2, R3\n"))
	if len(errs) != 1 || errs[0].Kind != UnknownMnemonic {
		t.Fatalf("errs = %v, want one UnknownMnemonic", errs)
	}
}
