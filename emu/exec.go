package emu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/esim/insts"
)

// Signal tells the core loop how to move PC after an instruction.
type Signal uint8

const (
	// SignalNone means the instruction wrote PC itself.
	SignalNone Signal = iota
	// SignalNext advances PC by the instruction width.
	SignalNext
	// SignalIdle advances PC and puts the core to sleep until an
	// interrupt arrives.
	SignalIdle
)

// ErrNoExtension is returned when an extension instruction carries no
// executable payload.
var ErrNoExtension = errors.New("extension instruction has no executor")

// Extension executes instructions decoded by an extension decoder. An
// extension decoder stores a value implementing Extension in the
// instruction's Ext field.
type Extension interface {
	Execute(c *Core, inst insts.Instruction) (Signal, error)
}

// execute dispatches one decoded instruction.
func (c *Core) execute(inst insts.Instruction, pc uint32) (Signal, error) {
	lsu := LoadStoreUnit{core: c, memory: c.machine.memory}

	switch op := inst.Op; {
	case op.IsLoad():
		return SignalNext, lsu.Load(inst)
	case op.IsStore():
		return SignalNext, lsu.Store(inst)
	case op == insts.OpTESTSET:
		return SignalNext, lsu.TestSet(inst)
	case op.IsFloat():
		c.executeFloat(inst)
		return SignalNext, nil
	}

	switch inst.Op {
	case insts.OpADD, insts.OpSUB, insts.OpAND, insts.OpORR, insts.OpEOR,
		insts.OpLSL, insts.OpLSR, insts.OpASR, insts.OpADDImm, insts.OpSUBImm,
		insts.OpLSLImm, insts.OpLSRImm, insts.OpASRImm, insts.OpBITR:
		c.executeALU(inst)
		return SignalNext, nil

	case insts.OpMOV, insts.OpMOVImm, insts.OpMOVT:
		c.executeMove(inst)
		return SignalNext, nil

	case insts.OpB, insts.OpJR, insts.OpJALR, insts.OpRTI:
		return c.executeBranch(inst, pc), nil

	case insts.OpMOVTS:
		return c.executeMoveToSystem(inst)

	case insts.OpMOVFS:
		return SignalNext, c.executeMoveFromSystem(inst, pc)

	case insts.OpExtension:
		ext, ok := inst.Ext.(Extension)
		if !ok {
			return SignalNone, fmt.Errorf("%w: %s", ErrNoExtension, inst.ExtName)
		}
		return ext.Execute(c, inst)
	}

	return c.executeSystem(inst)
}
