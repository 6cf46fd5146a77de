package engine

import (
	"bytes"
	"math"
	"testing"

	"github.com/nanocore-vm/nanocore/internal/engine/events"
	"github.com/nanocore-vm/nanocore/internal/isa"
)

func f64bits(v float64) uint64 { return math.Float64bits(v) }
func f64val(b uint64) float64  { return math.Float64frombits(b) }

func assemble(t *testing.T, words ...uint32) []byte {
	t.Helper()
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		buf[i*4] = byte(w)
		buf[i*4+1] = byte(w >> 8)
		buf[i*4+2] = byte(w >> 16)
		buf[i*4+3] = byte(w >> 24)
	}
	return buf
}

func TestRegisterZeroAlwaysZero(t *testing.T) {
	e := New(1 << 16)
	e.SetRegister(0, 0xdeadbeef)
	if v := e.GetRegister(0); v != 0 {
		t.Fatalf("R0 = %d, want 0", v)
	}
}

func TestResetZeroesEverything(t *testing.T) {
	e := New(1 << 16)
	e.SetRegister(1, 42)
	e.Flags = 0xFF
	e.Perf[InstCount] = 10
	e.WriteMemory(0, []byte{1, 2, 3})
	e.PC = 4

	e.Reset()
	if e.GetRegister(1) != 0 || e.Flags != 0 || e.Perf[InstCount] != 0 || e.PC != 0 {
		t.Fatalf("reset left stale state: %+v", e)
	}
	for _, b := range e.Mem[:3] {
		if b != 0 {
			t.Fatalf("memory not zeroed after reset")
		}
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	e := New(1 << 16)
	payload := []byte("Hello, NanoCore!")
	if !e.WriteMemory(0x2000, payload) {
		t.Fatal("write_memory failed")
	}
	got, ok := e.ReadMemory(0x2000, uint64(len(payload)))
	if !ok || !bytes.Equal(got, payload) {
		t.Fatalf("read_memory = %q, want %q", got, payload)
	}
}

func TestBreakpointIdempotence(t *testing.T) {
	e := New(1 << 16)
	e.SetBreakpoint(0x100)
	e.ClearBreakpoint(0x100)
	e.SetBreakpoint(0x100)
	if !e.HasBreakpoint(0x100) {
		t.Fatal("breakpoint set does not contain 0x100")
	}
}

func TestConstantSumScenario(t *testing.T) {
	e := New(1 << 16)
	// LD R1, 0x1000(R0); LD R2, 0x1008(R0); ADD R3, R1, R2; HALT
	// Preload the values LD reads (8-byte aligned addresses, well clear of
	// the code at address 0), since R0 is always zero and there is no
	// immediate-ALU opcode to materialize a constant directly.
	e.WriteMemory(0x1000, []byte{5, 0, 0, 0, 0, 0, 0, 0})
	e.WriteMemory(0x1008, []byte{10, 0, 0, 0, 0, 0, 0, 0})
	program := assemble(t,
		isa.EncodeI(isa.LD, 1, 0, 0x1000),
		isa.EncodeI(isa.LD, 2, 0, 0x1008),
		isa.EncodeR(isa.ADD, 3, 1, 2),
		isa.EncodeJ(isa.HALT, 0),
	)
	e.LoadProgram(program, 0)
	outcome := e.Run(0)
	if outcome.Kind != HaltedOutcome {
		t.Fatalf("outcome = %+v, want Halted", outcome)
	}
	if e.GetRegister(1) != 5 || e.GetRegister(2) != 10 || e.GetRegister(3) != 15 {
		t.Fatalf("R1=%d R2=%d R3=%d, want 5 10 15", e.GetRegister(1), e.GetRegister(2), e.GetRegister(3))
	}
	if !e.flagTest(FlagHalted) {
		t.Fatal("Halted flag not set")
	}
}

func TestCountedLoopScenario(t *testing.T) {
	e := New(1 << 16)
	e.SetRegister(2, 5)
	e.SetRegister(3, 1)
	// loop: ADD R1,R1,R3; BNE R1,R2,loop; HALT
	program := assemble(t,
		isa.EncodeR(isa.ADD, 1, 1, 3),
		isa.EncodeI(isa.BNE, 1, 2, isa.TwosComplement(-2, 16)),
		isa.EncodeJ(isa.HALT, 0),
	)
	e.LoadProgram(program, 0)
	outcome := e.Run(0)
	if outcome.Kind != HaltedOutcome {
		t.Fatalf("outcome = %+v, want Halted", outcome)
	}
	if e.GetRegister(1) != 5 {
		t.Fatalf("R1 = %d, want 5", e.GetRegister(1))
	}
	if v, _ := e.GetPerfCounter(InstCount); v != 11 {
		t.Fatalf("InstCount = %d, want 11", v)
	}
}

func TestBreakpointInterrupt(t *testing.T) {
	e := New(1 << 20)
	program := assemble(t,
		isa.EncodeJ(isa.NOP, 0), // 0x10000
		isa.EncodeJ(isa.NOP, 0), // 0x10004
		isa.EncodeJ(isa.HALT, 0), // 0x10008
	)
	e.LoadProgram(program, 0x10000)
	e.SetBreakpoint(0x10008)

	outcome := e.Run(0)
	if outcome.Kind != BreakpointHit || outcome.Addr != 0x10008 {
		t.Fatalf("outcome = %+v, want BreakpointHit at 0x10008", outcome)
	}
	if e.PC != 0x10008 {
		t.Fatalf("PC = %#x, want 0x10008", e.PC)
	}
	if e.flagTest(FlagHalted) {
		t.Fatal("Halted flag should not be set at a breakpoint")
	}
	ev, ok := e.PollEvent()
	if !ok || ev.Kind != events.Breakpoint {
		t.Fatalf("expected a Breakpoint event, got %+v ok=%v", ev, ok)
	}

	e.ClearBreakpoint(0x10008)
	outcome = e.Run(0)
	if outcome.Kind != HaltedOutcome {
		t.Fatalf("outcome = %+v, want Halted after clearing breakpoint", outcome)
	}
}

func TestDivideByZero(t *testing.T) {
	e := New(1 << 16)
	e.WriteMemory(0x1000, []byte{1, 0, 0, 0, 0, 0, 0, 0})
	e.WriteMemory(0x1008, []byte{0, 0, 0, 0, 0, 0, 0, 0})
	program := assemble(t,
		isa.EncodeI(isa.LD, 1, 0, 0x1000),
		isa.EncodeI(isa.LD, 2, 0, 0x1008),
		isa.EncodeR(isa.DIV, 3, 1, 2),
		isa.EncodeJ(isa.HALT, 0),
	)
	e.LoadProgram(program, 0)
	outcome := e.Run(0)
	if outcome.Kind != FaultOutcome || outcome.FaultKind != DivideByZero {
		t.Fatalf("outcome = %+v, want Fault(DivideByZero)", outcome)
	}
	if e.GetRegister(3) != 0 {
		t.Fatalf("R3 = %d, want unchanged 0", e.GetRegister(3))
	}
	if !e.flagTest(FlagHalted) {
		t.Fatal("Halted flag not set after divide by zero")
	}
	ev, ok := e.PollEvent()
	if !ok || ev.Kind != events.Exception || ev.Payload.(FaultKind) != DivideByZero {
		t.Fatalf("expected Exception(DivideByZero), got %+v ok=%v", ev, ok)
	}
}

func TestLoadStoreBoundaries(t *testing.T) {
	e := New(16)
	if !e.WriteMemory(8, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatal("write at exact end of memory should succeed")
	}
	if e.WriteMemory(9, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatal("write past end of memory should fail")
	}
}

func TestShiftByWordSizeWraps(t *testing.T) {
	e := New(1 << 16)
	e.SetRegister(1, 1)
	e.SetRegister(2, 64) // low 6 bits of 64 are 0
	program := assemble(t, isa.EncodeR(isa.SHL, 3, 1, 2), isa.EncodeJ(isa.HALT, 0))
	e.LoadProgram(program, 0)
	e.Run(0)
	if e.GetRegister(3) != 1 {
		t.Fatalf("R3 = %d, want 1 (shift amount 64 behaves as shift by 0)", e.GetRegister(3))
	}
}

func TestAtomicLRSC(t *testing.T) {
	e := New(1 << 16)
	e.SetRegister(1, 0x100) // address
	e.SetRegister(3, 99)    // value to conditionally store
	program := assemble(t,
		isa.EncodeR(isa.LR, 2, 1, 0),
		isa.EncodeR(isa.SC, 4, 1, 3),
		isa.EncodeJ(isa.HALT, 0),
	)
	e.LoadProgram(program, 0)
	e.Run(0)
	if e.GetRegister(4) != 0 {
		t.Fatalf("SC result = %d, want 0 (success)", e.GetRegister(4))
	}
	v, _ := e.memLoad(0x100, 8)
	if v != 99 {
		t.Fatalf("stored value = %d, want 99", v)
	}
}

func TestVectorAdd(t *testing.T) {
	e := New(1 << 16)
	e.Vec[0] = [4]uint64{f64bits(1), f64bits(2), f64bits(3), f64bits(4)}
	e.Vec[1] = [4]uint64{f64bits(10), f64bits(20), f64bits(30), f64bits(40)}
	program := assemble(t, isa.EncodeR(isa.VADDF64, 2, 0, 1), isa.EncodeJ(isa.HALT, 0))
	e.LoadProgram(program, 0)
	e.Run(0)
	want := []float64{11, 22, 33, 44}
	for i, w := range want {
		if got := f64val(e.Vec[2][i]); got != w {
			t.Fatalf("lane %d = %v, want %v", i, got, w)
		}
	}
}
