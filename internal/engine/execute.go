package engine

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/nanocore-vm/nanocore/internal/engine/events"
	"github.com/nanocore-vm/nanocore/internal/isa"
)

// cpuIdentifier is the constant CPUID returns: the ASCII bytes "NanoCore"
// read as a big-endian 64-bit word, giving a recognizable, deterministic
// identifier without inventing a vendor/model scheme.
const cpuIdentifier = 0x4E616E6F436F7265

// SyscallPayload is the Exception event payload for a SYSCALL instruction.
type SyscallPayload struct {
	Imm int64
}

// Run executes up to maxInst instructions (0 means unlimited), stopping
// early on Halted, a breakpoint hit, or a fault.
func (e *Engine) Run(maxInst uint64) Outcome {
	var steps uint64
	first := true
	for maxInst == 0 || steps < maxInst {
		if term := e.fetchExecuteOne(first); term != nil {
			return *term
		}
		first = false
		steps++
	}
	return Outcome{Kind: Completed, Steps: steps}
}

// Step executes exactly one instruction.
func (e *Engine) Step() Outcome {
	if term := e.fetchExecuteOne(true); term != nil {
		return *term
	}
	return Outcome{Kind: Completed, Steps: 1}
}

// fetchExecuteOne performs one fetch-decode-execute cycle. It returns a
// non-nil Outcome when the cycle terminates the run (breakpoint, fault,
// or HALT); nil means execution should continue.
func (e *Engine) fetchExecuteOne(firstOfRun bool) *Outcome {
	pc := e.PC
	// A breakpoint at the PC a run or step starts from is stepped over, so
	// resuming from a breakpoint makes progress.
	if !firstOfRun && e.HasBreakpoint(pc) {
		e.Events.Push(events.Event{Kind: events.Breakpoint, Payload: pc})
		return &Outcome{Kind: BreakpointHit, Addr: pc}
	}
	if pc%isa.InstructionBytes != 0 || pc+isa.InstructionBytes > e.memSize {
		return e.raiseFault(MisalignedFetch)
	}
	word := binary.LittleEndian.Uint32(e.Mem[pc : pc+isa.InstructionBytes])
	e.PC = pc + isa.InstructionBytes
	e.bump(InstCount)
	e.bump(CycleCount)

	op := isa.DecodeOpcode(word)
	return e.dispatch(op, word)
}

func (e *Engine) raiseFault(kind FaultKind) *Outcome {
	e.flagSet(FlagHalted)
	e.Events.Push(events.Event{Kind: events.Exception, Payload: kind})
	return &Outcome{Kind: FaultOutcome, FaultKind: kind}
}

func (e *Engine) execHalt() *Outcome {
	e.flagSet(FlagHalted)
	e.Events.Push(events.Event{Kind: events.Halted})
	return &Outcome{Kind: HaltedOutcome}
}

// dispatch executes the decoded instruction. A non-nil return terminates
// the current run; nil means fall through to the next instruction.
func (e *Engine) dispatch(op isa.Opcode, word uint32) *Outcome {
	switch op {
	case isa.ADD, isa.SUB, isa.MUL, isa.MULH, isa.DIV, isa.MOD,
		isa.AND, isa.OR, isa.XOR, isa.NOT,
		isa.SHL, isa.SHR, isa.SAR, isa.ROL, isa.ROR:
		return e.execALU(op, word)

	case isa.LD, isa.LW, isa.LH, isa.LB:
		return e.execLoad(op, word)
	case isa.ST, isa.SW, isa.SH, isa.SB:
		return e.execStore(op, word)

	case isa.BEQ, isa.BNE, isa.BLT, isa.BGE, isa.BLTU, isa.BGEU:
		return e.execBranch(op, word)

	case isa.JMP:
		e.branchTo(isa.DecodeImm26(word))
		return nil
	case isa.CALL:
		lr := e.PC
		e.branchTo(isa.DecodeImm26(word))
		e.SetRegister(31, lr)
		return nil
	case isa.RET:
		e.PC = e.GetRegister(31)
		return nil
	case isa.SYSCALL:
		imm := isa.DecodeImm26(word)
		e.Events.Push(events.Event{Kind: events.Exception, Payload: SyscallPayload{Imm: imm}})
		return nil
	case isa.HALT:
		return e.execHalt()
	case isa.NOP, isa.FENCE:
		return nil

	case isa.CPUID:
		e.SetRegister(isa.DecodeRd(word), cpuIdentifier)
		return nil
	case isa.RDCYCLE:
		e.SetRegister(isa.DecodeRd(word), e.Perf[CycleCount])
		return nil
	case isa.RDPERF:
		idx := uint64(isa.DecodeImm16(word)) % uint64(numPerfCounters)
		e.SetRegister(isa.DecodeRd(word), e.Perf[idx])
		return nil
	case isa.PREFETCH, isa.CLFLUSH:
		return nil // cache-hint ops: no functional effect in this model

	case isa.LR:
		return e.execLR(word)
	case isa.SC:
		return e.execSC(word)
	case isa.AMOSWAP, isa.AMOADD, isa.AMOAND, isa.AMOOR, isa.AMOXOR:
		return e.execAMO(op, word)

	case isa.VADDF64, isa.VSUBF64, isa.VMULF64, isa.VFMAF64:
		return e.execVectorALU(op, word)
	case isa.VLOAD:
		return e.execVLoad(word)
	case isa.VSTORE:
		return e.execVStore(word)
	case isa.VBROADCAST:
		return e.execVBroadcast(word)

	default:
		return e.raiseFault(IllegalOpcode)
	}
}

func (e *Engine) branchTo(offsetInstructions int64) {
	e.PC = uint64(int64(e.PC) + offsetInstructions*isa.InstructionBytes)
}

func (e *Engine) execALU(op isa.Opcode, word uint32) *Outcome {
	rd := isa.DecodeRd(word)
	rs1 := e.GetRegister(isa.DecodeRs1(word))
	rs2 := e.GetRegister(isa.DecodeRs2(word))

	var result uint64
	switch op {
	case isa.ADD:
		result = rs1 + rs2
	case isa.SUB:
		result = rs1 - rs2
	case isa.MUL:
		result = rs1 * rs2
	case isa.MULH:
		result = uint64(mulHighSigned(int64(rs1), int64(rs2)))
	case isa.DIV:
		if rs2 == 0 {
			return e.raiseFault(DivideByZero)
		}
		result = uint64(int64(rs1) / int64(rs2))
	case isa.MOD:
		if rs2 == 0 {
			return e.raiseFault(DivideByZero)
		}
		result = uint64(int64(rs1) % int64(rs2))
	case isa.AND:
		result = rs1 & rs2
	case isa.OR:
		result = rs1 | rs2
	case isa.XOR:
		result = rs1 ^ rs2
	case isa.NOT:
		result = ^rs1
	case isa.SHL:
		result = rs1 << (rs2 & 0x3F)
	case isa.SHR:
		result = rs1 >> (rs2 & 0x3F)
	case isa.SAR:
		result = uint64(int64(rs1) >> (rs2 & 0x3F))
	case isa.ROL:
		result = bits.RotateLeft64(rs1, int(rs2&0x3F))
	case isa.ROR:
		result = bits.RotateLeft64(rs1, -int(rs2&0x3F))
	}
	e.SetRegister(rd, result)
	e.setArithFlags(result)
	return nil
}

// mulHighSigned returns the high 64 bits of the signed 128-bit product
// of a and b (Hacker's Delight's signed-from-unsigned multiply-high
// correction, applied to bits.Mul64's unsigned result).
func mulHighSigned(a, b int64) int64 {
	hi, _ := bits.Mul64(uint64(a), uint64(b))
	if a < 0 {
		hi -= uint64(b)
	}
	if b < 0 {
		hi -= uint64(a)
	}
	return int64(hi)
}

func memWidth(op isa.Opcode) uint64 {
	switch op {
	case isa.LD, isa.ST:
		return 8
	case isa.LW, isa.SW:
		return 4
	case isa.LH, isa.SH:
		return 2
	case isa.LB, isa.SB:
		return 1
	default:
		return 0
	}
}

func (e *Engine) effectiveAddress(word uint32) uint64 {
	base := e.GetRegister(isa.DecodeRs1(word))
	off := isa.DecodeImm16(word)
	return uint64(int64(base) + off)
}

func (e *Engine) execLoad(op isa.Opcode, word uint32) *Outcome {
	ea := e.effectiveAddress(word)
	width := memWidth(op)
	v, fault := e.memLoad(ea, width)
	if fault != nil {
		return fault
	}
	e.SetRegister(isa.DecodeRd(word), v)
	return nil
}

func (e *Engine) execStore(op isa.Opcode, word uint32) *Outcome {
	ea := e.effectiveAddress(word)
	width := memWidth(op)
	v := e.GetRegister(isa.DecodeRd(word)) // value-to-store sits in the rd slot
	return e.memStore(ea, width, v)
}

func (e *Engine) memLoad(ea, width uint64) (uint64, *Outcome) {
	if width > 1 && ea%width != 0 {
		return 0, e.raiseFault(MisalignedAccess)
	}
	if ea+width > e.memSize {
		return 0, e.raiseFault(OutOfBounds)
	}
	buf := e.Mem[ea : ea+width]
	var v uint64
	switch width {
	case 1:
		v = uint64(buf[0])
	case 2:
		v = uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		v = uint64(binary.LittleEndian.Uint32(buf))
	case 8:
		v = binary.LittleEndian.Uint64(buf)
	}
	e.bump(MemOps)
	return v, nil
}

func (e *Engine) memStore(ea, width, v uint64) *Outcome {
	if width > 1 && ea%width != 0 {
		return e.raiseFault(MisalignedAccess)
	}
	if ea+width > e.memSize {
		return e.raiseFault(OutOfBounds)
	}
	switch width {
	case 1:
		e.Mem[ea] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(e.Mem[ea:], uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(e.Mem[ea:], uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(e.Mem[ea:], v)
	}
	e.clearReservationOn(ea, width)
	e.bump(MemOps)
	return nil
}

func (e *Engine) execBranch(op isa.Opcode, word uint32) *Outcome {
	a := e.GetRegister(isa.DecodeRd(word))  // first compared register
	b := e.GetRegister(isa.DecodeRs1(word)) // second compared register
	off := isa.DecodeImm16(word)

	var taken bool
	switch op {
	case isa.BEQ:
		taken = a == b
	case isa.BNE:
		taken = a != b
	case isa.BLT:
		taken = int64(a) < int64(b)
	case isa.BGE:
		taken = int64(a) >= int64(b)
	case isa.BLTU:
		taken = a < b
	case isa.BGEU:
		taken = a >= b
	}
	if taken {
		e.bump(BranchMiss)
		e.PC = uint64(int64(e.PC) + off*isa.InstructionBytes)
	}
	return nil
}

func (e *Engine) execLR(word uint32) *Outcome {
	ea := e.GetRegister(isa.DecodeRs1(word))
	v, fault := e.memLoad(ea, 8)
	if fault != nil {
		return fault
	}
	e.SetRegister(isa.DecodeRd(word), v)
	e.reserve = reservation{valid: true, addr: ea, value: v}
	return nil
}

func (e *Engine) execSC(word uint32) *Outcome {
	ea := e.GetRegister(isa.DecodeRs1(word))
	v := e.GetRegister(isa.DecodeRs2(word))
	if e.reserve.valid && e.reserve.addr == ea {
		if fault := e.memStore(ea, 8, v); fault != nil {
			return fault
		}
		e.reserve.valid = false
		e.SetRegister(isa.DecodeRd(word), 0)
		return nil
	}
	e.SetRegister(isa.DecodeRd(word), 1)
	return nil
}

func (e *Engine) execAMO(op isa.Opcode, word uint32) *Outcome {
	ea := e.GetRegister(isa.DecodeRs1(word))
	old, fault := e.memLoad(ea, 8)
	if fault != nil {
		return fault
	}
	operand := e.GetRegister(isa.DecodeRs2(word))
	var next uint64
	switch op {
	case isa.AMOSWAP:
		next = operand
	case isa.AMOADD:
		next = old + operand
	case isa.AMOAND:
		next = old & operand
	case isa.AMOOR:
		next = old | operand
	case isa.AMOXOR:
		next = old ^ operand
	}
	if fault := e.memStore(ea, 8, next); fault != nil {
		return fault
	}
	e.SetRegister(isa.DecodeRd(word), old)
	return nil
}

func vecIndex(raw uint32) uint32 {
	return raw & 0xF
}

func (e *Engine) execVectorALU(op isa.Opcode, word uint32) *Outcome {
	vd := vecIndex(isa.DecodeRd(word))
	vs1 := vecIndex(isa.DecodeRs1(word))
	vs2 := vecIndex(isa.DecodeRs2(word))
	for lane := 0; lane < isa.VecLanes; lane++ {
		a := math.Float64frombits(e.Vec[vs1][lane])
		b := math.Float64frombits(e.Vec[vs2][lane])
		var r float64
		switch op {
		case isa.VADDF64:
			r = a + b
		case isa.VSUBF64:
			r = a - b
		case isa.VMULF64:
			r = a * b
		case isa.VFMAF64:
			d := math.Float64frombits(e.Vec[vd][lane])
			r = d + a*b
		}
		e.Vec[vd][lane] = math.Float64bits(r)
	}
	e.bump(SimdOps)
	return nil
}

func (e *Engine) execVLoad(word uint32) *Outcome {
	vd := vecIndex(isa.DecodeRd(word))
	base := e.GetRegister(isa.DecodeRs1(word))
	for lane := 0; lane < isa.VecLanes; lane++ {
		v, fault := e.memLoad(base+uint64(lane)*8, 8)
		if fault != nil {
			return fault
		}
		e.Vec[vd][lane] = v
	}
	e.bump(SimdOps)
	return nil
}

func (e *Engine) execVStore(word uint32) *Outcome {
	vd := vecIndex(isa.DecodeRd(word))
	base := e.GetRegister(isa.DecodeRs1(word))
	for lane := 0; lane < isa.VecLanes; lane++ {
		if fault := e.memStore(base+uint64(lane)*8, 8, e.Vec[vd][lane]); fault != nil {
			return fault
		}
	}
	e.bump(SimdOps)
	return nil
}

func (e *Engine) execVBroadcast(word uint32) *Outcome {
	vd := vecIndex(isa.DecodeRd(word))
	scalar := e.GetRegister(isa.DecodeRs1(word))
	for lane := 0; lane < isa.VecLanes; lane++ {
		e.Vec[vd][lane] = scalar
	}
	e.bump(SimdOps)
	return nil
}
