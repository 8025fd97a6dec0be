package emu

import (
	"github.com/sarchlab/esim/insts"
)

// LoadStoreUnit moves data between registers and memory on behalf of a
// core. Register state is read and written through the core, never under
// its lock while memory is accessed.
type LoadStoreUnit struct {
	core   *Core
	memory *Memory
}

func (lsu LoadStoreUnit) read(addr uint32, size insts.Size) (uint64, error) {
	c, m := lsu.core, lsu.memory
	switch size {
	case insts.SizeByte:
		v, err := m.Read8(c, addr)
		return uint64(v), err
	case insts.SizeHalf:
		v, err := m.Read16(c, addr)
		return uint64(v), err
	case insts.SizeWord:
		v, err := m.Read32(c, addr)
		return uint64(v), err
	}
	return m.Read64(c, addr)
}

func (lsu LoadStoreUnit) write(addr uint32, size insts.Size, v uint64) error {
	c, m := lsu.core, lsu.memory
	switch size {
	case insts.SizeByte:
		return m.Write8(c, addr, uint8(v))
	case insts.SizeHalf:
		return m.Write16(c, addr, uint16(v))
	case insts.SizeWord:
		return m.Write32(c, addr, uint32(v))
	}
	return m.Write64(c, addr, v)
}

// operands computes the access address and, for post-modify forms, the
// new base register value.
func (lsu LoadStoreUnit) operands(inst insts.Instruction) (addr, base uint32, post bool) {
	var rn, rm uint32
	lsu.core.withRegs(func(r RegFile) {
		rn, rm = r.Reg(inst.Rn), r.Reg(inst.Rm)
	})

	var offset uint32
	switch inst.Op {
	case insts.OpLDRIndex, insts.OpSTRIndex, insts.OpTESTSET,
		insts.OpLDRPostMod, insts.OpSTRPostMod:
		offset = rm
	default:
		// Displacements count in units of the transfer size.
		offset = uint32(inst.Imm) << inst.Size
	}

	moved := rn + offset
	if inst.Subtract {
		moved = rn - offset
	}

	switch inst.Op {
	case insts.OpLDRPostMod, insts.OpSTRPostMod, insts.OpLDRDispPM, insts.OpSTRDispPM:
		return rn, moved, true
	}
	return moved, rn, false
}

// Load executes a load. Doubles fill rd and rd+1. On error no register
// changes.
func (lsu LoadStoreUnit) Load(inst insts.Instruction) error {
	addr, base, post := lsu.operands(inst)

	v, err := lsu.read(addr, inst.Size)
	if err != nil {
		return err
	}

	lsu.core.withRegs(func(r RegFile) {
		r.SetReg(inst.Rd, uint32(v))
		if inst.Size == insts.SizeDouble {
			r.SetReg(inst.Rd+1, uint32(v>>32))
		}
		if post {
			r.SetReg(inst.Rn, base)
		}
	})
	return nil
}

// Store executes a store. Doubles write rd to the low word and rd+1 to the
// high word.
func (lsu LoadStoreUnit) Store(inst insts.Instruction) error {
	addr, base, post := lsu.operands(inst)

	var v uint64
	lsu.core.withRegs(func(r RegFile) {
		v = uint64(r.Reg(inst.Rd))
		if inst.Size == insts.SizeDouble {
			v |= uint64(r.Reg(inst.Rd+1)) << 32
		}
	})

	if err := lsu.write(addr, inst.Size, v); err != nil {
		return err
	}

	if post {
		lsu.core.withRegs(func(r RegFile) { r.SetReg(inst.Rn, base) })
	}
	return nil
}

// TestSet executes TESTSET: the word at rn±rm takes rd's value if it was
// zero, and rd receives the old word.
func (lsu LoadStoreUnit) TestSet(inst insts.Instruction) error {
	addr, _, _ := lsu.operands(inst)

	value := lsu.core.Reg(inst.Rd)
	old, err := lsu.memory.TestSet(lsu.core, addr, value)
	if err != nil {
		return err
	}

	lsu.core.SetReg(inst.Rd, old)
	return nil
}
