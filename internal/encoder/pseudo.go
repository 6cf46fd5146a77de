package encoder

// realInstr is one real (non-pseudo) instruction statement produced by
// expanding a pseudo-instruction, or the instruction itself if it was
// already real.
type realInstr struct {
	mnemonic string
	operands []string
}

// pseudoWordCount returns how many 32-bit words a pseudo-instruction
// occupies, used during pass-1 layout.
var pseudoWordCount = map[string]int{
	"MOVE": 1,
	"ZERO": 1,
	"PUSH": 2,
	"POP":  2,
	"LOAD": 1,
}

// wordsizeReg is the conventional register PUSH/POP use to advance the
// stack pointer by one word (8 bytes). NanoCore has no immediate-ALU
// opcode, so the only way to add a compile-time constant to a register is
// to already hold that constant in a register; nanocore_asm.py's
// _expand_push/_expand_pop carries the identical assumption ("Assumes
// R1=8") rather than synthesizing the constant. Kept as an explicit ABI
// convention: callers using PUSH/POP must set R28 = 8 before the first
// use.
const wordsizeReg = "R28"

// expandPseudo expands a pseudo-instruction into one or more real
// instructions (the MOVE/ZERO/PUSH/POP/LOAD table).
func expandPseudo(mnemonic string, operands []string, lineno int) ([]realInstr, *Error) {
	switch mnemonic {
	case "MOVE":
		if len(operands) != 2 {
			return nil, newErr(BadOperandCount, lineno, "MOVE expects 2 operands, got %d", len(operands))
		}
		return []realInstr{{"ADD", []string{operands[0], operands[1], "R0"}}}, nil
	case "ZERO":
		if len(operands) != 1 {
			return nil, newErr(BadOperandCount, lineno, "ZERO expects 1 operand, got %d", len(operands))
		}
		rd := operands[0]
		return []realInstr{{"XOR", []string{rd, rd, rd}}}, nil
	case "PUSH":
		if len(operands) != 1 {
			return nil, newErr(BadOperandCount, lineno, "PUSH expects 1 operand, got %d", len(operands))
		}
		r := operands[0]
		return []realInstr{
			{"SUB", []string{"SP", "SP", wordsizeReg}},
			{"ST", []string{r, "0(SP)"}},
		}, nil
	case "POP":
		if len(operands) != 1 {
			return nil, newErr(BadOperandCount, lineno, "POP expects 1 operand, got %d", len(operands))
		}
		r := operands[0]
		return []realInstr{
			{"LD", []string{r, "0(SP)"}},
			{"ADD", []string{"SP", "SP", wordsizeReg}},
		}, nil
	case "LOAD":
		if len(operands) != 2 {
			return nil, newErr(BadOperandCount, lineno, "LOAD expects 2 operands, got %d", len(operands))
		}
		rd, imm := operands[0], operands[1]
		return []realInstr{{"LD", []string{rd, imm + "(R0)"}}}, nil
	default:
		return nil, nil // not a pseudo-instruction
	}
}
