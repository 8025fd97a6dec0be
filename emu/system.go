package emu

import (
	"fmt"

	"github.com/sarchlab/esim/insts"
)

// TRAP codes.
const (
	TrapExit    = 3
	TrapPass    = 4
	TrapFail    = 5
	TrapSyscall = 7
)

// systemRegister returns the local offset selected by MOVTS/MOVFS.
func systemRegister(inst insts.Instruction) uint32 {
	return RegConfig + uint32(inst.Group)*0x100 + uint32(inst.Rn)*4
}

// executeMoveToSystem stores rd to a system register with the same
// effects as a memory store. Writing PC is a jump.
func (c *Core) executeMoveToSystem(inst insts.Instruction) (Signal, error) {
	off := systemRegister(inst)
	if err := c.machine.memory.Write32(c, off, c.Reg(inst.Rd)); err != nil {
		return SignalNone, err
	}
	if off == RegPC {
		return SignalNone, nil
	}
	return SignalNext, nil
}

func (c *Core) executeMoveFromSystem(inst insts.Instruction, pc uint32) error {
	off := systemRegister(inst)
	v, err := c.machine.memory.Read32(c, off)
	if err != nil {
		return err
	}
	if off == RegPC {
		v = pc
	}
	c.SetReg(inst.Rd, v)
	return nil
}

// executeSystem runs the control instructions.
func (c *Core) executeSystem(inst insts.Instruction) (Signal, error) {
	switch inst.Op {
	case insts.OpNOP:
	case insts.OpIDLE:
		return SignalIdle, nil
	case insts.OpGIE:
		c.withRegs(func(r RegFile) { r.SetBit(RegStatus, StatusGID, false) })
	case insts.OpGID:
		c.withRegs(func(r RegFile) { r.SetBit(RegStatus, StatusGID, true) })
	case insts.OpSWI:
		_ = c.interrupts.Trigger(InterruptSoftwareException, CauseSoftwareInterrupt)
	case insts.OpUNIMPL:
		_ = c.interrupts.Trigger(InterruptSoftwareException, CauseUnimplemented)
	case insts.OpBKPT:
		c.debug.breakpoint(false)
		if k := c.machine.kernel; k.Capabilities()&CapDebugging != 0 {
			k.Breakpoint(c)
		}
	case insts.OpMBKPT:
		for _, core := range c.machine.cores {
			core.debug.breakpoint(true)
		}
	case insts.OpSYNC:
		c.machine.sync()
	case insts.OpWAND:
		c.machine.wiredAnd(c)
	case insts.OpTRAP:
		c.trap(inst)
	default:
		return SignalNone, fmt.Errorf("cannot execute %s", inst.Op)
	}
	return SignalNext, nil
}

func (c *Core) trap(inst insts.Instruction) {
	switch inst.Imm {
	case TrapSyscall:
		if c.machine.kernel.Capabilities()&CapSystemCalls != 0 {
			c.syscall()
			return
		}
	case TrapExit:
		c.exitCode.Store(int32(c.Reg(0)))
	case TrapPass:
		c.passed.Store(true)
	case TrapFail:
		c.failed.Store(true)
	}

	c.machine.logger.Verbose(c.id, "trap", "code", inst.Imm)
	c.halt()
}

// syscall hands r0-r3 to the kernel and writes back the result in r0 and
// the errno in r3.
func (c *Core) syscall() {
	var regs SyscallRegs
	c.withRegs(func(r RegFile) {
		regs = SyscallRegs{R0: r.Reg(0), R1: r.Reg(1), R2: r.Reg(2), R3: r.Reg(3)}
	})

	c.machine.kernel.Syscall(c, &regs)

	c.withRegs(func(r RegFile) {
		r.SetReg(0, regs.R0)
		r.SetReg(3, regs.R3)
	})
}
