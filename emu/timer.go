package emu

import (
	"sync/atomic"

	"github.com/sarchlab/esim/insts"
)

// Event timer modes selected by the CONFIG timer fields.
const (
	TimerOff          = 0
	TimerClock        = 1
	TimerIdle         = 2
	TimerIntegerInsts = 4
	TimerFloatInsts   = 5
)

// Stats holds execution statistics for a core.
type Stats struct {
	// Cycles is the number of core loop ticks.
	Cycles uint64
	// IdleCycles is the number of ticks spent waiting in IDLE.
	IdleCycles uint64
	// Instructions is the number of instructions executed.
	Instructions uint64
	// IntegerInstructions counts integer ALU instructions.
	IntegerInstructions uint64
	// FloatInstructions counts floating-point instructions.
	FloatInstructions uint64
}

// EventTimer drives CTIMER0 and CTIMER1 and keeps the core statistics.
// Each timer counts down on the events its CONFIG mode selects and raises
// its interrupt when it reaches zero.
type EventTimer struct {
	core *Core

	cycles       atomic.Uint64
	idleCycles   atomic.Uint64
	instructions atomic.Uint64
	integerInsts atomic.Uint64
	floatInsts   atomic.Uint64
}

// Stats returns a snapshot of the counters.
func (t *EventTimer) Stats() Stats {
	return Stats{
		Cycles:              t.cycles.Load(),
		IdleCycles:          t.idleCycles.Load(),
		Instructions:        t.instructions.Load(),
		IntegerInstructions: t.integerInsts.Load(),
		FloatInstructions:   t.floatInsts.Load(),
	}
}

func (t *EventTimer) tickClock() {
	t.cycles.Add(1)
	t.count(TimerClock)
}

func (t *EventTimer) tickIdle() {
	t.idleCycles.Add(1)
	t.count(TimerIdle)
}

func (t *EventTimer) tickInstruction(inst insts.Instruction, integerMode bool) {
	t.instructions.Add(1)

	switch {
	case isIntegerOp(inst.Op), inst.Op.IsFloat() && integerMode && inst.Op <= insts.OpFMSUB:
		t.integerInsts.Add(1)
		t.count(TimerIntegerInsts)
	case inst.Op.IsFloat():
		t.floatInsts.Add(1)
		t.count(TimerFloatInsts)
	}
}

func isIntegerOp(op insts.Op) bool {
	return op >= insts.OpADD && op <= insts.OpBITR
}

// count decrements every running timer in the given mode.
func (t *EventTimer) count(mode uint32) {
	var fired [2]bool

	t.core.withRegs(func(r RegFile) {
		for n := range fired {
			if r.Field(RegConfig, ConfigTimer0ModeLSB+4*n, 4) != mode {
				continue
			}

			off := RegCTimer0 + uint32(n)*4
			v := r.Get(off)
			if v == 0 {
				continue
			}

			r.Set(off, v-1)
			fired[n] = v == 1
		}
	})

	for n, f := range fired {
		if f {
			_ = t.core.interrupts.Trigger(InterruptTimer0+Interrupt(n), CauseNone)
		}
	}
}
