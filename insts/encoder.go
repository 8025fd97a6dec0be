package insts

import (
	"errors"
	"fmt"
)

// ErrOperandRange is returned by Encode when an operand does not fit the
// selected encoding width.
var ErrOperandRange = errors.New("operand out of range")

// Encode assembles an instruction into its machine word. The short form is
// produced when inst.Is16Bit is set; 16-bit words occupy the low half of
// the result.
func Encode(inst Instruction) (uint32, error) {
	if err := inst.Check(); err != nil {
		return 0, err
	}

	e := encoder{inst: inst, wide: !inst.Is16Bit}
	word, err := e.encode()
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", inst.Op, err)
	}
	return word, nil
}

// EncodeShortest assembles an instruction using the 16-bit form when its
// operands allow it and the 32-bit form otherwise. It returns the word and
// its width in bytes.
func EncodeShortest(inst Instruction) (uint32, uint32, error) {
	inst.Is16Bit = true
	if word, err := Encode(inst); err == nil {
		return word, 2, nil
	}

	inst.Is16Bit = false
	word, err := Encode(inst)
	if err != nil {
		return 0, 0, err
	}
	return word, 4, nil
}

type encoder struct {
	inst Instruction
	wide bool
}

func (e encoder) rangeErr(what string, v int64) error {
	width := 16
	if e.wide {
		width = 32
	}
	return fmt.Errorf("%w: %s %d in %d-bit form", ErrOperandRange, what, v, width)
}

// regs places rd, rn and rm. The 16-bit form only reaches r0-r7.
func (e encoder) regs(rd, rn, rm uint8) (uint32, error) {
	limit := uint8(8)
	if e.wide {
		limit = NumRegisters
	}
	for _, r := range []uint8{rd, rn, rm} {
		if r >= limit {
			return 0, e.rangeErr("register", int64(r))
		}
	}

	w := uint32(rd&7)<<13 | uint32(rn&7)<<10 | uint32(rm&7)<<7
	if e.wide {
		w |= uint32(rd>>3)<<29 | uint32(rn>>3)<<26 | uint32(rm>>3)<<23
	}
	return w, nil
}

func flag(b bool, pos uint) uint32 {
	if b {
		return 1 << pos
	}
	return 0
}

// extended adds the 32-bit group selector of the 1111 opcode space.
func (e encoder) extended(w uint32, group uint32, short uint32) uint32 {
	if e.wide {
		return w | group<<16 | 0xF
	}
	return w | short
}

func (e encoder) needWide() error {
	if !e.wide {
		return fmt.Errorf("%w: no 16-bit form", ErrOperandRange)
	}
	return nil
}

func (e encoder) noSubtract() error {
	if !e.wide && e.inst.Subtract {
		return fmt.Errorf("%w: subtract needs the 32-bit form", ErrOperandRange)
	}
	return nil
}

//nolint:gocyclo // one case per instruction group
func (e encoder) encode() (uint32, error) {
	i := e.inst

	switch i.Op {
	case OpB:
		return e.branch()

	case OpLDRIndex, OpSTRIndex, OpLDRPostMod, OpSTRPostMod, OpTESTSET:
		if err := e.noSubtract(); err != nil {
			return 0, err
		}
		w, err := e.regs(i.Rd, i.Rn, i.Rm)
		if err != nil {
			return 0, err
		}
		w |= uint32(i.Size&3)<<5 | flag(i.Op.IsStore() || i.Op == OpTESTSET, 4)
		w |= flag(i.Subtract && e.wide, 20)
		switch {
		case i.Op == OpTESTSET:
			if err := e.needWide(); err != nil {
				return 0, err
			}
			return w | 1<<21 | 0x9, nil
		case i.Op == OpLDRPostMod || i.Op == OpSTRPostMod:
			return w | pick32(e.wide, 0xD, 0x5), nil
		default:
			return w | pick32(e.wide, 0x9, 0x1), nil
		}

	case OpLDRDisp, OpSTRDisp, OpLDRDispPM, OpSTRDispPM:
		return e.displacement()

	case OpMOV:
		w, err := e.regs(i.Rd, i.Rn, 0)
		if err != nil {
			return 0, err
		}
		return e.extended(w|uint32(i.Cond&0xF)<<4, 0x2, 0x2), nil

	case OpMOVTS, OpMOVFS, OpJR, OpJALR:
		return e.move()

	case OpADD, OpSUB, OpAND, OpORR, OpEOR, OpLSL, OpLSR, OpASR:
		w, err := e.regs(i.Rd, i.Rn, i.Rm)
		if err != nil {
			return 0, err
		}
		return e.extended(w|opIndex(aluOps[:], i.Op)<<4, 0xA, 0xA), nil

	case OpFADD, OpFSUB, OpFMUL, OpFMADD, OpFMSUB, OpFLOAT, OpFIX, OpFABS:
		w, err := e.regs(i.Rd, i.Rn, i.Rm)
		if err != nil {
			return 0, err
		}
		return e.extended(w|opIndex(floatOps[:], i.Op)<<4, 0x7, 0x7), nil

	case OpADDImm, OpSUBImm:
		return e.addImmediate()

	case OpMOVImm, OpMOVT:
		return e.moveImmediate()

	case OpLSLImm, OpLSRImm, OpASRImm, OpBITR:
		if i.Imm < 0 || i.Imm > 31 {
			return 0, e.rangeErr("shift", int64(i.Imm))
		}
		w, err := e.regs(i.Rd, i.Rn, 0)
		if err != nil {
			return 0, err
		}
		w |= uint32(i.Imm) << 5
		if i.Op == OpLSLImm || i.Op == OpLSRImm {
			return e.extended(w|flag(i.Op == OpLSLImm, 4), 0x6, 0x6), nil
		}
		return e.extended(w|flag(i.Op == OpBITR, 4), 0xE, 0xE), nil

	case OpTRAP:
		if i.Imm < 0 || i.Imm > 63 {
			return 0, e.rangeErr("trap code", int64(i.Imm))
		}
		if e.wide {
			return 0, fmt.Errorf("%w: no 32-bit form", ErrOperandRange)
		}
		return uint32(i.Imm)<<10 | 0x3E<<4 | 0x2, nil

	case OpUNIMPL:
		if err := e.needWide(); err != nil {
			return 0, err
		}
		return 0x000F000F, nil

	case OpExtension:
		return i.Raw, nil
	}

	for code, op := range specialOps {
		if op == i.Op {
			if e.wide {
				return 0, fmt.Errorf("%w: no 32-bit form", ErrOperandRange)
			}
			return code<<4 | 0x2, nil
		}
	}

	return 0, fmt.Errorf("%w: cannot encode %s", ErrInvalidEncoding, i.Op)
}

func pick32(cond bool, yes, no uint32) uint32 {
	if cond {
		return yes
	}
	return no
}

func opIndex(table []Op, op Op) uint32 {
	for n, o := range table {
		if o == op {
			return uint32(n)
		}
	}
	panic("insts: opcode missing from table")
}

func (e encoder) branch() (uint32, error) {
	i := e.inst
	if i.Imm%2 != 0 {
		return 0, fmt.Errorf("%w: odd branch offset %d", ErrInvalidEncoding, i.Imm)
	}

	half := int64(i.Imm / 2)
	if e.wide {
		if half < -(1<<23) || half >= 1<<23 {
			return 0, e.rangeErr("branch offset", int64(i.Imm))
		}
		return uint32(half)&0xFFFFFF<<8 | uint32(i.Cond&0xF)<<4 | 0x8, nil
	}
	if half < -128 || half > 127 {
		return 0, e.rangeErr("branch offset", int64(i.Imm))
	}
	return uint32(half)&0xFF<<8 | uint32(i.Cond&0xF)<<4, nil
}

func (e encoder) displacement() (uint32, error) {
	i := e.inst
	pm := i.Op == OpLDRDispPM || i.Op == OpSTRDispPM
	if pm {
		if err := e.needWide(); err != nil {
			return 0, err
		}
	}
	if err := e.noSubtract(); err != nil {
		return 0, err
	}

	limit := int32(8)
	if e.wide {
		limit = 1 << 11
	}
	if i.Imm < 0 || i.Imm >= limit {
		return 0, e.rangeErr("displacement", int64(i.Imm))
	}

	w, err := e.regs(i.Rd, i.Rn, 0)
	if err != nil {
		return 0, err
	}
	imm := uint32(i.Imm)
	w |= (imm&7)<<7 | uint32(i.Size&3)<<5 | flag(i.Op.IsStore(), 4)
	if !e.wide {
		return w | 0x4, nil
	}
	w |= (imm>>3)<<16 | flag(i.Subtract, 24) | flag(pm, 25)
	return w | 0xC, nil
}

func (e encoder) move() (uint32, error) {
	i := e.inst

	var sub uint32
	var w uint32
	var err error

	switch i.Op {
	case OpMOVTS, OpMOVFS:
		// The register index travels in the rn field.
		if i.Group > 3 || (!e.wide && i.Group != 0) {
			return 0, e.rangeErr("register group", int64(i.Group))
		}
		w, err = e.regs(i.Rd, i.Rn, 0)
		if i.Op == OpMOVFS {
			sub = 1
		}
		if e.wide {
			w |= uint32(i.Group) << 20
		}
	case OpJR, OpJALR:
		w, err = e.regs(0, i.Rn, 0)
		sub = 4
		if i.Op == OpJALR {
			sub = 5
		}
	}
	if err != nil {
		return 0, err
	}

	return e.extended(w|1<<8|sub<<4, 0x2, 0x2), nil
}

func (e encoder) addImmediate() (uint32, error) {
	i := e.inst

	lo, hi := int32(-4), int32(3)
	if e.wide {
		lo, hi = -1024, 1023
	}
	if i.Imm < lo || i.Imm > hi {
		return 0, e.rangeErr("immediate", int64(i.Imm))
	}

	w, err := e.regs(i.Rd, i.Rn, 0)
	if err != nil {
		return 0, err
	}
	imm := uint32(i.Imm)
	w |= (imm&7)<<7 | flag(i.Op == OpSUBImm, 5) | 1<<4
	if !e.wide {
		return w | 0x3, nil
	}
	return w | (imm>>3&0xFF)<<16 | 0xB, nil
}

func (e encoder) moveImmediate() (uint32, error) {
	i := e.inst
	if i.Op == OpMOVT {
		if err := e.needWide(); err != nil {
			return 0, err
		}
	}

	limit := int32(1 << 8)
	if e.wide {
		limit = 1 << 16
	}
	if i.Imm < 0 || i.Imm >= limit {
		return 0, e.rangeErr("immediate", int64(i.Imm))
	}

	w, err := e.regs(i.Rd, 0, 0)
	if err != nil {
		return 0, err
	}
	imm := uint32(i.Imm)
	w |= (imm & 0xFF) << 5
	if !e.wide {
		return w | 0x3, nil
	}
	return w | (imm>>8)<<20 | flag(i.Op == OpMOVT, 28) | 0xB, nil
}
