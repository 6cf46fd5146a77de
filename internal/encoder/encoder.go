// Package encoder implements the NanoCore two-pass assembler: textual
// mnemonics in, a little-endian stream of 32-bit instruction and data
// words out. Generalizes pkg/asm (which assembles RiSC-32's
// 11 opcodes behind a StartAssembler channel pipeline) to NanoCore's full
// opcode table, directives, and pseudo-instructions, and switches from
// "stop at the first error" to "collect every error from both passes".
package encoder

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/nanocore-vm/nanocore/internal/isa"
	"github.com/sirupsen/logrus"
)

// statement is one non-empty, comment-stripped source line after its
// label (if any) has been peeled off, together with the address pass 1
// assigned to it.
type statement struct {
	lineno int
	addr   uint64
	text   string // directive or instruction text; empty for a pure label line
}

// Encoder assembles one translation unit. Create one per source file;
// it is not reusable across multiple Assemble calls.
type Encoder struct {
	Log *logrus.Logger
}

// New returns an Encoder with a quiet default logger, silent unless the
// owning CLI enables -v.
func New() *Encoder {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return &Encoder{Log: log}
}

// Assemble translates source text into a byte stream. It returns the
// assembled bytes and a nil error slice on success, or nil bytes and a
// non-empty error slice otherwise -- never both.
func (e *Encoder) Assemble(r io.Reader) ([]byte, []*Error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, []*Error{newErr(SyntaxError, 0, "cannot read input: %v", err)}
	}

	symbols := map[string]uint64{}
	var stmts []statement
	var errs []*Error

	// Pass 1: layout. Assigns addresses to labels and statements.
	var addr uint64
	for i, raw := range lines {
		lineno := i + 1
		text := stripComment(raw)
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		label, rest := splitLabel(text)
		if label != "" {
			if _, dup := symbols[label]; dup {
				errs = append(errs, newErr(DuplicateLabel, lineno, "label %q already defined", label))
			} else {
				symbols[label] = addr
			}
		}
		rest = strings.TrimSpace(rest)
		if rest == "" {
			continue
		}
		if strings.HasPrefix(rest, ".") {
			size, derr := directiveSize(rest, lineno)
			if derr != nil {
				errs = append(errs, derr)
				continue
			}
			stmts = append(stmts, statement{lineno, addr, rest})
			addr += size
			continue
		}
		n, ierr := instructionWordCount(rest, lineno)
		if ierr != nil {
			errs = append(errs, ierr)
			continue
		}
		stmts = append(stmts, statement{lineno, addr, rest})
		addr += uint64(n) * isa.InstructionBytes
	}

	// Pass 2: emit. The symbol table is fully populated by now, so
	// forward references resolve exactly like backward ones.
	out := make([]byte, 0, addr)
	for _, st := range stmts {
		if strings.HasPrefix(st.text, ".") {
			bytes, derr := emitDirective(st.text, symbols, st.lineno)
			if derr != nil {
				errs = append(errs, derr)
				continue
			}
			out = append(out, bytes...)
			continue
		}
		words, ierr := e.emitInstruction(st, symbols)
		if ierr != nil {
			errs = append(errs, ierr)
			continue
		}
		out = append(out, words...)
	}

	if len(errs) > 0 {
		for _, er := range errs {
			e.Log.WithField("line", er.Line).Debug(er.Reason)
		}
		return nil, errs
	}
	return out, nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// stripComment removes a trailing ';' comment.
func stripComment(line string) string {
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		return line[:idx]
	}
	return line
}

// splitLabel peels a leading "label:" off a comment-stripped, trimmed
// line, supporting both a pure label line ("loop:") and an inline label
// followed by a statement ("loop: ADD R1, R2, R3").
func splitLabel(text string) (label, rest string) {
	idx := strings.IndexByte(text, ':')
	if idx < 0 {
		return "", text
	}
	candidate := strings.TrimSpace(text[:idx])
	if !isIdentifier(candidate) {
		return "", text
	}
	return candidate, text[idx+1:]
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		isDigit := r >= '0' && r <= '9'
		if i == 0 && !isLetter {
			return false
		}
		if !isLetter && !isDigit {
			return false
		}
	}
	return true
}

// tokenize splits a statement body into mnemonic + operands, treating
// commas as field separators alongside whitespace.
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// instructionWordCount returns how many 32-bit words the statement
// contributes, validating the mnemonic exists (real or pseudo) without
// fully encoding it.
func instructionWordCount(text string, lineno int) (int, *Error) {
	fields := tokenize(text)
	if len(fields) == 0 {
		return 0, newErr(SyntaxError, lineno, "empty instruction")
	}
	mnemonic := strings.ToUpper(fields[0])
	if n, ok := pseudoWordCount[mnemonic]; ok {
		return n, nil
	}
	if _, ok := isa.Mnemonics[mnemonic]; ok {
		return 1, nil
	}
	return 0, newErr(UnknownMnemonic, lineno, "unknown mnemonic %q", fields[0])
}

// emitInstruction expands pseudo-instructions (if any) and encodes the
// resulting real instruction(s) to bytes.
func (e *Encoder) emitInstruction(st statement, symbols map[string]uint64) ([]byte, *Error) {
	fields := tokenize(st.text)
	mnemonic := strings.ToUpper(fields[0])
	operands := fields[1:]

	var reals []realInstr
	if expanded, perr := expandPseudo(mnemonic, operands, st.lineno); perr != nil {
		return nil, perr
	} else if expanded != nil {
		reals = expanded
	} else {
		reals = []realInstr{{mnemonic, operands}}
	}

	out := make([]byte, 0, len(reals)*isa.InstructionBytes)
	pc := st.addr
	for _, ri := range reals {
		word, err := encodeReal(ri.mnemonic, ri.operands, symbols, pc, st.lineno)
		if err != nil {
			return nil, err
		}
		out = append(out, leU32(word)...)
		pc += isa.InstructionBytes
	}
	return out, nil
}

// encodeReal encodes a single real instruction, given the address (pc)
// at which it will live.
func encodeReal(mnemonic string, operands []string, symbols map[string]uint64, pc uint64, lineno int) (uint32, *Error) {
	op, ok := isa.Mnemonics[mnemonic]
	if !ok {
		return 0, newErr(UnknownMnemonic, lineno, "unknown mnemonic %q", mnemonic)
	}
	format, _ := isa.FormatOf(op)
	switch format {
	case isa.FormatR:
		return encodeFormatR(op, operands, lineno)
	case isa.FormatI:
		return encodeFormatI(op, operands, symbols, pc, lineno)
	case isa.FormatJ:
		return encodeFormatJ(op, operands, symbols, pc, lineno)
	case isa.FormatV:
		return encodeFormatV(op, operands, lineno)
	default:
		return 0, newErr(UnknownMnemonic, lineno, "opcode %v has no format", op)
	}
}

func regOperand(tok string, lineno int) (uint32, *Error) {
	r, ok := parseIntReg(tok)
	if !ok {
		return 0, newErr(BadRegister, lineno, "invalid register %q", tok)
	}
	return r, nil
}

func vecOperand(tok string, lineno int) (uint32, *Error) {
	r, ok := parseVecReg(tok)
	if !ok {
		return 0, newErr(BadRegister, lineno, "invalid vector register %q", tok)
	}
	return r, nil
}

// encodeFormatR handles the three-register ALU ops, NOT (unary), and the
// LR/SC/AMO* family (addr register + value register).
func encodeFormatR(op isa.Opcode, operands []string, lineno int) (uint32, *Error) {
	switch op {
	case isa.NOT:
		if len(operands) != 2 {
			return 0, newErr(BadOperandCount, lineno, "NOT expects 2 operands, got %d", len(operands))
		}
		rd, err := regOperand(operands[0], lineno)
		if err != nil {
			return 0, err
		}
		rs1, err := regOperand(operands[1], lineno)
		if err != nil {
			return 0, err
		}
		return isa.EncodeR(op, rd, rs1, 0), nil
	case isa.LR:
		if len(operands) != 2 {
			return 0, newErr(BadOperandCount, lineno, "LR expects 2 operands, got %d", len(operands))
		}
		rd, err := regOperand(operands[0], lineno)
		if err != nil {
			return 0, err
		}
		rs1, err := regOperand(operands[1], lineno)
		if err != nil {
			return 0, err
		}
		return isa.EncodeR(op, rd, rs1, 0), nil
	case isa.SC, isa.AMOSWAP, isa.AMOADD, isa.AMOAND, isa.AMOOR, isa.AMOXOR:
		if len(operands) != 3 {
			return 0, newErr(BadOperandCount, lineno, "%v expects 3 operands, got %d", op, len(operands))
		}
		rd, err := regOperand(operands[0], lineno)
		if err != nil {
			return 0, err
		}
		rs1, err := regOperand(operands[1], lineno)
		if err != nil {
			return 0, err
		}
		rs2, err := regOperand(operands[2], lineno)
		if err != nil {
			return 0, err
		}
		return isa.EncodeR(op, rd, rs1, rs2), nil
	default:
		if len(operands) != 3 {
			return 0, newErr(BadOperandCount, lineno, "%v expects 3 operands, got %d", op, len(operands))
		}
		rd, err := regOperand(operands[0], lineno)
		if err != nil {
			return 0, err
		}
		rs1, err := regOperand(operands[1], lineno)
		if err != nil {
			return 0, err
		}
		rs2, err := regOperand(operands[2], lineno)
		if err != nil {
			return 0, err
		}
		return isa.EncodeR(op, rd, rs1, rs2), nil
	}
}

func isLoad(op isa.Opcode) bool {
	return op == isa.LD || op == isa.LW || op == isa.LH || op == isa.LB
}

func isStore(op isa.Opcode) bool {
	return op == isa.ST || op == isa.SW || op == isa.SH || op == isa.SB
}

func isBranch(op isa.Opcode) bool {
	switch op {
	case isa.BEQ, isa.BNE, isa.BLT, isa.BGE, isa.BLTU, isa.BGEU:
		return true
	}
	return false
}

// encodeFormatI handles loads, stores, branches, CPUID/RDCYCLE/RDPERF and
// PREFETCH/CLFLUSH (see isa.formats for the format-assignment rationale).
func encodeFormatI(op isa.Opcode, operands []string, symbols map[string]uint64, pc uint64, lineno int) (uint32, *Error) {
	switch {
	case isLoad(op):
		if len(operands) != 2 {
			return 0, newErr(BadOperandCount, lineno, "%v expects 2 operands, got %d", op, len(operands))
		}
		rd, err := regOperand(operands[0], lineno)
		if err != nil {
			return 0, err
		}
		offTok, baseTok, ok := parseMemOperand(operands[1])
		if !ok {
			return 0, newErr(SyntaxError, lineno, "malformed memory operand %q", operands[1])
		}
		rs1, err := regOperand(baseTok, lineno)
		if err != nil {
			return 0, err
		}
		imm, err := resolveOffset(offTok, symbols, lineno)
		if err != nil {
			return 0, err
		}
		return isa.EncodeI(op, rd, rs1, imm), nil
	case isStore(op):
		if len(operands) != 2 {
			return 0, newErr(BadOperandCount, lineno, "%v expects 2 operands, got %d", op, len(operands))
		}
		rd, err := regOperand(operands[0], lineno) // value register, stored in the rd slot
		if err != nil {
			return 0, err
		}
		offTok, baseTok, ok := parseMemOperand(operands[1])
		if !ok {
			return 0, newErr(SyntaxError, lineno, "malformed memory operand %q", operands[1])
		}
		rs1, err := regOperand(baseTok, lineno)
		if err != nil {
			return 0, err
		}
		imm, err := resolveOffset(offTok, symbols, lineno)
		if err != nil {
			return 0, err
		}
		return isa.EncodeI(op, rd, rs1, imm), nil
	case isBranch(op):
		if len(operands) != 3 {
			return 0, newErr(BadOperandCount, lineno, "%v expects 3 operands, got %d", op, len(operands))
		}
		rd, err := regOperand(operands[0], lineno)
		if err != nil {
			return 0, err
		}
		rs1, err := regOperand(operands[1], lineno)
		if err != nil {
			return 0, err
		}
		imm, err := resolvePCRelative(operands[2], symbols, pc, 16, lineno)
		if err != nil {
			return 0, err
		}
		return isa.EncodeI(op, rd, rs1, imm), nil
	case op == isa.CPUID || op == isa.RDCYCLE:
		if len(operands) != 1 {
			return 0, newErr(BadOperandCount, lineno, "%v expects 1 operand, got %d", op, len(operands))
		}
		rd, err := regOperand(operands[0], lineno)
		if err != nil {
			return 0, err
		}
		return isa.EncodeI(op, rd, 0, 0), nil
	case op == isa.RDPERF:
		if len(operands) != 2 {
			return 0, newErr(BadOperandCount, lineno, "RDPERF expects 2 operands, got %d", len(operands))
		}
		rd, err := regOperand(operands[0], lineno)
		if err != nil {
			return 0, err
		}
		n, perr := parseImmediateToken(operands[1])
		if perr != nil || !isa.FitsUnsigned(n, 16) {
			return 0, newErr(BadImmediate, lineno, "invalid counter index %q", operands[1])
		}
		return isa.EncodeI(op, rd, 0, uint32(n)), nil
	case op == isa.PREFETCH || op == isa.CLFLUSH:
		if len(operands) != 1 {
			return 0, newErr(BadOperandCount, lineno, "%v expects 1 operand, got %d", op, len(operands))
		}
		offTok, baseTok, ok := parseMemOperand(operands[0])
		if !ok {
			return 0, newErr(SyntaxError, lineno, "malformed memory operand %q", operands[0])
		}
		rs1, err := regOperand(baseTok, lineno)
		if err != nil {
			return 0, err
		}
		imm, err := resolveOffset(offTok, symbols, lineno)
		if err != nil {
			return 0, err
		}
		return isa.EncodeI(op, 0, rs1, imm), nil
	default:
		return 0, newErr(UnknownMnemonic, lineno, "opcode %v not handled in I-format", op)
	}
}

// encodeFormatJ handles JMP/CALL (PC-relative label or literal offset),
// RET/HALT/NOP/FENCE (no operands), and SYSCALL (optional immediate).
func encodeFormatJ(op isa.Opcode, operands []string, symbols map[string]uint64, pc uint64, lineno int) (uint32, *Error) {
	switch op {
	case isa.RET, isa.HALT, isa.NOP, isa.FENCE:
		if len(operands) != 0 {
			return 0, newErr(BadOperandCount, lineno, "%v expects 0 operands, got %d", op, len(operands))
		}
		return isa.EncodeJ(op, 0), nil
	case isa.SYSCALL:
		if len(operands) > 1 {
			return 0, newErr(BadOperandCount, lineno, "SYSCALL expects 0 or 1 operands, got %d", len(operands))
		}
		if len(operands) == 0 {
			return isa.EncodeJ(op, 0), nil
		}
		n, perr := parseImmediateToken(operands[0])
		if perr != nil || !isa.FitsUnsigned(n, 26) {
			return 0, newErr(BadImmediate, lineno, "invalid syscall immediate %q", operands[0])
		}
		return isa.EncodeJ(op, uint32(n)), nil
	case isa.JMP, isa.CALL:
		if len(operands) != 1 {
			return 0, newErr(BadOperandCount, lineno, "%v expects 1 operand, got %d", op, len(operands))
		}
		imm, err := resolvePCRelative(operands[0], symbols, pc, 26, lineno)
		if err != nil {
			return 0, err
		}
		return isa.EncodeJ(op, imm), nil
	default:
		return 0, newErr(UnknownMnemonic, lineno, "opcode %v not handled in J-format", op)
	}
}

// encodeFormatV handles vector ALU ops (3 vector regs), VLOAD/VSTORE
// (vector reg + GPR base address), and VBROADCAST (vector reg + GPR
// scalar source).
func encodeFormatV(op isa.Opcode, operands []string, lineno int) (uint32, *Error) {
	switch op {
	case isa.VADDF64, isa.VSUBF64, isa.VMULF64, isa.VFMAF64:
		if len(operands) != 3 {
			return 0, newErr(BadOperandCount, lineno, "%v expects 3 operands, got %d", op, len(operands))
		}
		vd, err := vecOperand(operands[0], lineno)
		if err != nil {
			return 0, err
		}
		vs1, err := vecOperand(operands[1], lineno)
		if err != nil {
			return 0, err
		}
		vs2, err := vecOperand(operands[2], lineno)
		if err != nil {
			return 0, err
		}
		return isa.EncodeR(op, vd, vs1, vs2), nil
	case isa.VLOAD, isa.VSTORE, isa.VBROADCAST:
		if len(operands) != 2 {
			return 0, newErr(BadOperandCount, lineno, "%v expects 2 operands, got %d", op, len(operands))
		}
		vd, err := vecOperand(operands[0], lineno)
		if err != nil {
			return 0, err
		}
		rs1, err := regOperand(operands[1], lineno)
		if err != nil {
			return 0, err
		}
		return isa.EncodeR(op, vd, rs1, 0), nil
	default:
		return 0, newErr(UnknownMnemonic, lineno, "opcode %v not handled in V-format", op)
	}
}

// resolveOffset resolves a load/store/PREFETCH/CLFLUSH 16-bit offset: a
// label (absolute address) or a literal signed immediate.
func resolveOffset(tok string, symbols map[string]uint64, lineno int) (uint32, *Error) {
	if addr, ok := symbols[tok]; ok {
		if !isa.FitsSigned(int64(addr), 16) {
			return 0, newErr(BadImmediate, lineno, "label %q address does not fit in 16 bits", tok)
		}
		return isa.TwosComplement(int64(addr), 16), nil
	}
	n, err := parseImmediateToken(tok)
	if err != nil {
		if !looksNumeric(tok) {
			return 0, newErr(UndefinedLabel, lineno, "label %q is not defined", tok)
		}
		return 0, newErr(BadImmediate, lineno, "malformed immediate %q", tok)
	}
	if !isa.FitsSigned(n, 16) {
		return 0, newErr(BadImmediate, lineno, "%d does not fit in 16 bits", n)
	}
	return isa.TwosComplement(n, 16), nil
}

// resolvePCRelative resolves a branch/jump/call target. A label resolves
// to (target - (pc+4)) / 4 instruction units, matching the engine's
// PC := pc_of_inst + 4 + offset*4 semantics. A literal token is taken as
// the field value directly, matching how a raw numeric branch offset
// gets encoded.
func resolvePCRelative(tok string, symbols map[string]uint64, pc uint64, bits uint, lineno int) (uint32, *Error) {
	if target, ok := symbols[tok]; ok {
		delta := int64(target) - int64(pc+isa.InstructionBytes)
		if delta%isa.InstructionBytes != 0 {
			return 0, newErr(BadImmediate, lineno, "label %q is not instruction-aligned relative to pc", tok)
		}
		off := delta / isa.InstructionBytes
		if !isa.FitsSigned(off, bits) {
			return 0, newErr(BadImmediate, lineno, "branch/jump target %q out of range", tok)
		}
		return isa.TwosComplement(off, bits), nil
	}
	n, err := parseImmediateToken(tok)
	if err != nil {
		if !looksNumeric(tok) {
			return 0, newErr(UndefinedLabel, lineno, "label %q is not defined", tok)
		}
		return 0, newErr(BadImmediate, lineno, "malformed immediate %q", tok)
	}
	if !isa.FitsSigned(n, bits) {
		return 0, newErr(BadImmediate, lineno, "%d does not fit in %d bits", n, bits)
	}
	return isa.TwosComplement(n, bits), nil
}

// Disassemble produces a reference textual form of one instruction word,
// generalizing pkg/vm's Disassemble to the full opcode table.
// Used by the `disasm` CLI subcommand and by the `run -d` trace.
func Disassemble(word uint32) string {
	op := isa.DecodeOpcode(word)
	mnemonic := isa.Mnemonic(op)
	if mnemonic == "" {
		return fmt.Sprintf("<illegal opcode 0x%02x>", uint8(op))
	}
	format, _ := isa.FormatOf(op)
	rd, rs1, rs2 := isa.DecodeRd(word), isa.DecodeRs1(word), isa.DecodeRs2(word)
	switch format {
	case isa.FormatR:
		if op == isa.NOT || op == isa.LR {
			return fmt.Sprintf("%s R%d, R%d", mnemonic, rd, rs1)
		}
		return fmt.Sprintf("%s R%d, R%d, R%d", mnemonic, rd, rs1, rs2)
	case isa.FormatI:
		imm := isa.DecodeImm16(word)
		switch {
		case isLoad(op):
			return fmt.Sprintf("%s R%d, %d(R%d)", mnemonic, rd, imm, rs1)
		case isStore(op):
			return fmt.Sprintf("%s R%d, %d(R%d)", mnemonic, rd, imm, rs1)
		case isBranch(op):
			return fmt.Sprintf("%s R%d, R%d, %d", mnemonic, rd, rs1, imm)
		default:
			return fmt.Sprintf("%s R%d, R%d, %d", mnemonic, rd, rs1, imm)
		}
	case isa.FormatJ:
		imm := isa.DecodeImm26(word)
		if imm == 0 && (op == isa.RET || op == isa.HALT || op == isa.NOP || op == isa.FENCE) {
			return mnemonic
		}
		return fmt.Sprintf("%s %d", mnemonic, imm)
	case isa.FormatV:
		return fmt.Sprintf("%s V%d, V%d, V%d", mnemonic, rd, rs1, rs2)
	default:
		return fmt.Sprintf("<unknown %08x>", word)
	}
}
