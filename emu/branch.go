package emu

import (
	"github.com/sarchlab/esim/insts"
)

// executeBranch runs B, BL, JR, JALR and RTI. A taken branch writes PC
// itself and returns SignalNone.
func (c *Core) executeBranch(inst insts.Instruction, pc uint32) Signal {
	if inst.Op == insts.OpRTI {
		c.interrupts.Return()
		return SignalNone
	}

	sig := SignalNone
	c.withRegs(func(r RegFile) {
		link := pc + inst.Width()

		switch inst.Op {
		case insts.OpB:
			if !inst.Cond.Evaluate(r.Get(RegStatus)) {
				sig = SignalNext
				return
			}
			if inst.Cond == insts.CondBL {
				r.SetReg(insts.RegLR, link)
			}
			r.Set(RegPC, pc+uint32(inst.Imm))

		case insts.OpJR:
			r.Set(RegPC, r.Reg(inst.Rn))

		case insts.OpJALR:
			// Read the target first in case rn is the link register.
			target := r.Reg(inst.Rn)
			r.SetReg(insts.RegLR, link)
			r.Set(RegPC, target)
		}
	})
	return sig
}
