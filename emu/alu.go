package emu

import (
	mathbits "math/bits"

	"github.com/sarchlab/esim/insts"
)

// ALU implements the integer arithmetic and logic operations. It works on
// a locked register file view.
type ALU struct {
	regs RegFile
}

// Add performs rd = a + b and sets AZ, AN, AC, AV and AVS.
func (a ALU) Add(rd uint8, op1, op2 uint32) {
	result := op1 + op2
	a.regs.SetReg(rd, result)
	a.setAddFlags(op1, op2, result)
}

// Sub performs rd = a - b and sets AZ, AN, AC, AV and AVS.
func (a ALU) Sub(rd uint8, op1, op2 uint32) {
	result := op1 - op2
	a.regs.SetReg(rd, result)
	a.setSubFlags(op1, op2, result)
}

// Logic writes the result of a logical or shift operation.
func (a ALU) Logic(rd uint8, result uint32) {
	a.regs.SetReg(rd, result)
	a.setLogicFlags(result)
}

func (a ALU) setFlags(result uint32, carry, overflow bool) {
	r := a.regs
	r.SetBit(RegStatus, StatusAZ, result == 0)
	r.SetBit(RegStatus, StatusAN, result>>31 == 1)
	r.SetBit(RegStatus, StatusAC, carry)
	r.SetBit(RegStatus, StatusAV, overflow)
	if overflow {
		r.SetBit(RegStatus, StatusAVS, true)
	}
}

// setAddFlags sets the integer flags for an addition.
func (a ALU) setAddFlags(op1, op2, result uint32) {
	_, carry := mathbits.Add32(op1, op2, 0)
	overflow := (op1^result)&(op2^result)>>31 == 1
	a.setFlags(result, carry == 1, overflow)
}

// setSubFlags sets the integer flags for a subtraction. AC is set when no
// borrow occurred.
func (a ALU) setSubFlags(op1, op2, result uint32) {
	overflow := (op1^op2)&(op1^result)>>31 == 1
	a.setFlags(result, op1 >= op2, overflow)
}

// setLogicFlags sets AZ and AN and clears AC and AV.
func (a ALU) setLogicFlags(result uint32) {
	a.setFlags(result, false, false)
}

func shiftAmount(v uint32) uint32 { return v & 31 }

// executeALU runs the integer data-processing instructions.
func (c *Core) executeALU(inst insts.Instruction) {
	c.withRegs(func(r RegFile) {
		a := ALU{regs: r}
		rn, rm := r.Reg(inst.Rn), r.Reg(inst.Rm)
		imm := uint32(inst.Imm)

		switch inst.Op {
		case insts.OpADD:
			a.Add(inst.Rd, rn, rm)
		case insts.OpSUB:
			a.Sub(inst.Rd, rn, rm)
		case insts.OpADDImm:
			a.Add(inst.Rd, rn, imm)
		case insts.OpSUBImm:
			a.Sub(inst.Rd, rn, imm)
		case insts.OpAND:
			a.Logic(inst.Rd, rn&rm)
		case insts.OpORR:
			a.Logic(inst.Rd, rn|rm)
		case insts.OpEOR:
			a.Logic(inst.Rd, rn^rm)
		case insts.OpLSL:
			a.Logic(inst.Rd, rn<<shiftAmount(rm))
		case insts.OpLSR:
			a.Logic(inst.Rd, rn>>shiftAmount(rm))
		case insts.OpASR:
			a.Logic(inst.Rd, uint32(int32(rn)>>shiftAmount(rm)))
		case insts.OpLSLImm:
			a.Logic(inst.Rd, rn<<shiftAmount(imm))
		case insts.OpLSRImm:
			a.Logic(inst.Rd, rn>>shiftAmount(imm))
		case insts.OpASRImm:
			a.Logic(inst.Rd, uint32(int32(rn)>>shiftAmount(imm)))
		case insts.OpBITR:
			a.Logic(inst.Rd, mathbits.Reverse32(rn))
		}
	})
}

// executeMove runs MOV, MOV immediate and MOVT. Moves leave the flags alone.
func (c *Core) executeMove(inst insts.Instruction) {
	c.withRegs(func(r RegFile) {
		switch inst.Op {
		case insts.OpMOV:
			if inst.Cond.Evaluate(r.Get(RegStatus)) {
				r.SetReg(inst.Rd, r.Reg(inst.Rn))
			}
		case insts.OpMOVImm:
			r.SetReg(inst.Rd, uint32(inst.Imm))
		case insts.OpMOVT:
			lo := r.Reg(inst.Rd) & 0xFFFF
			r.SetReg(inst.Rd, lo|uint32(inst.Imm)<<16)
		}
	})
}
