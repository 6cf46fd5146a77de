// Package engine implements the NanoCore execution core: register file,
// linear memory, flags, performance counters, breakpoints, and the
// fetch-decode-execute loop. Generalizes pkg/vm.VM (a
// RiSC-32-flavored register machine with a single Execute dispatch) to
// NanoCore's 64-bit register file, byte-addressed memory, vector unit,
// and explicit event-queue/outcome-code public surface.
package engine

import (
	"github.com/nanocore-vm/nanocore/internal/engine/events"
)

// reservation is the engine's single LR/SC slot.
type reservation struct {
	valid bool
	addr  uint64
	value uint64
}

// Engine is one NanoCore virtual machine instance. Not safe for
// concurrent use; the caller serializes all access.
type Engine struct {
	GPR   [32]uint64
	Vec   [16][4]uint64 // IEEE-754 float64 bit patterns, lane 0 first
	Mem   []byte
	PC    uint64
	Flags uint64
	Perf  [numPerfCounters]uint64

	Events      events.Queue
	breakpoints map[uint64]struct{}
	reserve     reservation

	memSize uint64
}

// New creates a fresh engine with the given memory size. Mirrors pkg/vm's
// zero-value VM construction, generalized to a configurable, heap-
// allocated memory size instead of a compile-time array constant.
func New(memSize uint64) *Engine {
	e := &Engine{memSize: memSize}
	e.Mem = make([]byte, memSize)
	e.breakpoints = make(map[uint64]struct{})
	return e
}

// Reset is equivalent to destroy+create with the same memory size: all
// registers, vector lanes, flags, counters, and memory return to zero;
// PC returns to 0; the breakpoint set and event queue are also cleared,
// since a destroyed-and-recreated engine would start with neither.
func (e *Engine) Reset() {
	e.GPR = [32]uint64{}
	e.Vec = [16][4]uint64{}
	for i := range e.Mem {
		e.Mem[i] = 0
	}
	e.PC = 0
	e.Flags = 0
	e.Perf = [numPerfCounters]uint64{}
	e.breakpoints = make(map[uint64]struct{})
	e.Events.Reset()
	e.reserve = reservation{}
}

// Destroy releases the engine's memory. Go's garbage collector reclaims
// the backing array once the Engine is unreferenced; this method exists
// to name the lifecycle operation explicitly and to make reuse of a
// destroyed engine a visible programming error.
func (e *Engine) Destroy() {
	e.Mem = nil
	e.breakpoints = nil
}

// LoadProgram copies bytes into memory starting at addr and sets PC to
// addr. Returns false if the program does not fit.
func (e *Engine) LoadProgram(program []byte, addr uint64) bool {
	if addr+uint64(len(program)) > e.memSize {
		return false
	}
	copy(e.Mem[addr:], program)
	e.PC = addr
	return true
}

// GetRegister reads general-purpose register i. Reading register 0
// always returns 0.
func (e *Engine) GetRegister(i uint32) uint64 {
	if i == 0 || i >= 32 {
		return 0
	}
	return e.GPR[i]
}

// SetRegister writes general-purpose register i. Writing register 0 is
// a silent no-op.
func (e *Engine) SetRegister(i uint32, v uint64) {
	if i == 0 || i >= 32 {
		return
	}
	e.GPR[i] = v
}

// ReadMemory copies n bytes starting at address a. ok is false if the
// range falls outside memory.
func (e *Engine) ReadMemory(a, n uint64) ([]byte, bool) {
	if a+n > e.memSize {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, e.Mem[a:a+n])
	return out, true
}

// WriteMemory copies data into memory starting at address a. ok is
// false if the range falls outside memory; in that case memory is left
// unmodified.
func (e *Engine) WriteMemory(a uint64, data []byte) bool {
	if a+uint64(len(data)) > e.memSize {
		return false
	}
	copy(e.Mem[a:], data)
	e.clearReservationOn(a, uint64(len(data)))
	return true
}

// SetBreakpoint adds a to the breakpoint set. Idempotent.
func (e *Engine) SetBreakpoint(a uint64) {
	e.breakpoints[a] = struct{}{}
}

// ClearBreakpoint removes a from the breakpoint set. Idempotent.
func (e *Engine) ClearBreakpoint(a uint64) {
	delete(e.breakpoints, a)
}

// HasBreakpoint reports whether a is currently a breakpoint.
func (e *Engine) HasBreakpoint(a uint64) bool {
	_, ok := e.breakpoints[a]
	return ok
}

// PollEvent dequeues the oldest pending event. ok is false if the queue
// is empty.
func (e *Engine) PollEvent() (events.Event, bool) {
	return e.Events.Pop()
}

func (e *Engine) clearReservationOn(addr, n uint64) {
	if e.reserve.valid && addr <= e.reserve.addr && e.reserve.addr < addr+n {
		e.reserve.valid = false
	}
}
