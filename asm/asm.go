// Package asm builds Epiphany machine code from Go. It is used by tests
// and tools that need small programs without an external toolchain.
package asm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sarchlab/esim/insts"
)

// ErrUndefinedLabel is returned when a branch names a label that was never
// placed.
var ErrUndefinedLabel = errors.New("undefined label")

type fixup struct {
	at    uint32 // offset of the branch within the program
	cond  insts.Cond
	label string
}

// Program accumulates encoded instructions. Methods record the first
// error and become no-ops afterwards; Bytes reports it.
type Program struct {
	origin uint32
	buf    []byte
	labels map[string]uint32
	fixups []fixup
	err    error
}

// New creates an empty program that will be placed at origin.
func New(origin uint32) *Program {
	return &Program{origin: origin, labels: map[string]uint32{}}
}

// PC returns the address of the next instruction.
func (p *Program) PC() uint32 {
	return p.origin + uint32(len(p.buf))
}

// Err returns the first error recorded.
func (p *Program) Err() error { return p.err }

// Bytes resolves label branches and returns the little-endian image.
func (p *Program) Bytes() ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}

	out := append([]byte(nil), p.buf...)
	for _, f := range p.fixups {
		target, ok := p.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUndefinedLabel, f.label)
		}

		inst := insts.Instruction{
			Op:   insts.OpB,
			Cond: f.cond,
			Imm:  int32(target - (p.origin + f.at)),
		}
		word, err := insts.Encode(inst)
		if err != nil {
			return nil, fmt.Errorf("branch to %q: %w", f.label, err)
		}
		binary.LittleEndian.PutUint32(out[f.at:], word)
	}
	return out, nil
}

func (p *Program) put(word, width uint32) {
	if width == 2 {
		p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(word))
		return
	}
	p.buf = binary.LittleEndian.AppendUint32(p.buf, word)
}

// Emit appends inst in its shortest encoding.
func (p *Program) Emit(inst insts.Instruction) {
	if p.err != nil {
		return
	}
	word, width, err := insts.EncodeShortest(inst)
	if err != nil {
		p.err = fmt.Errorf("at 0x%X: %w", p.PC(), err)
		return
	}
	p.put(word, width)
}

// EmitWide appends inst in its 32-bit encoding.
func (p *Program) EmitWide(inst insts.Instruction) {
	if p.err != nil {
		return
	}
	inst.Is16Bit = false
	word, err := insts.Encode(inst)
	if err != nil {
		p.err = fmt.Errorf("at 0x%X: %w", p.PC(), err)
		return
	}
	p.put(word, 4)
}

// Word appends a raw data word.
func (p *Program) Word(v uint32) {
	p.put(v, 4)
}

// Align pads with NOPs until the next instruction is n-byte aligned.
func (p *Program) Align(n uint32) {
	for p.PC()%n != 0 {
		p.Nop()
	}
}

// Label names the address of the next instruction.
func (p *Program) Label(name string) {
	if _, ok := p.labels[name]; ok && p.err == nil {
		p.err = fmt.Errorf("label %q placed twice", name)
		return
	}
	p.labels[name] = p.PC()
}

// B appends a conditional branch to a label. Label branches always use the
// 32-bit form.
func (p *Program) B(cond insts.Cond, label string) {
	if p.err != nil {
		return
	}
	p.fixups = append(p.fixups, fixup{at: uint32(len(p.buf)), cond: cond, label: label})
	p.put(0, 4)
}

// Bl appends a call to a label.
func (p *Program) Bl(label string) { p.B(insts.CondBL, label) }

// BOffset appends a branch by a byte offset relative to the branch.
func (p *Program) BOffset(cond insts.Cond, offset int32) {
	p.Emit(insts.Instruction{Op: insts.OpB, Cond: cond, Imm: offset})
}

func (p *Program) simple(op insts.Op) { p.Emit(insts.Instruction{Op: op}) }

// Nop appends NOP.
func (p *Program) Nop() { p.simple(insts.OpNOP) }

// Idle appends IDLE.
func (p *Program) Idle() { p.simple(insts.OpIDLE) }

// Rti appends RTI.
func (p *Program) Rti() { p.simple(insts.OpRTI) }

// Swi appends SWI.
func (p *Program) Swi() { p.simple(insts.OpSWI) }

// Sync appends SYNC.
func (p *Program) Sync() { p.simple(insts.OpSYNC) }

// Wand appends WAND.
func (p *Program) Wand() { p.simple(insts.OpWAND) }

// Gie appends GIE.
func (p *Program) Gie() { p.simple(insts.OpGIE) }

// Gid appends GID.
func (p *Program) Gid() { p.simple(insts.OpGID) }

// Bkpt appends BKPT.
func (p *Program) Bkpt() { p.simple(insts.OpBKPT) }

// Mbkpt appends MBKPT.
func (p *Program) Mbkpt() { p.simple(insts.OpMBKPT) }

// Unimpl appends UNIMPL.
func (p *Program) Unimpl() { p.simple(insts.OpUNIMPL) }

// Trap appends TRAP code.
func (p *Program) Trap(code int32) {
	p.Emit(insts.Instruction{Op: insts.OpTRAP, Imm: code})
}

// Mov appends rd = rn.
func (p *Program) Mov(rd, rn uint8) { p.MovCond(insts.CondAL, rd, rn) }

// MovCond appends a conditional move.
func (p *Program) MovCond(cond insts.Cond, rd, rn uint8) {
	p.Emit(insts.Instruction{Op: insts.OpMOV, Cond: cond, Rd: rd, Rn: rn})
}

// MovImm appends rd = imm.
func (p *Program) MovImm(rd uint8, imm uint16) {
	p.Emit(insts.Instruction{Op: insts.OpMOVImm, Rd: rd, Imm: int32(imm)})
}

// MovT appends a write of imm to the upper half of rd.
func (p *Program) MovT(rd uint8, imm uint16) {
	p.Emit(insts.Instruction{Op: insts.OpMOVT, Rd: rd, Imm: int32(imm)})
}

// Li loads a 32-bit constant into rd.
func (p *Program) Li(rd uint8, v uint32) {
	p.MovImm(rd, uint16(v))
	if v>>16 != 0 {
		p.MovT(rd, uint16(v>>16))
	}
}

func (p *Program) alu(op insts.Op, rd, rn, rm uint8) {
	p.Emit(insts.Instruction{Op: op, Rd: rd, Rn: rn, Rm: rm})
}

// Add appends rd = rn + rm.
func (p *Program) Add(rd, rn, rm uint8) { p.alu(insts.OpADD, rd, rn, rm) }

// Sub appends rd = rn - rm.
func (p *Program) Sub(rd, rn, rm uint8) { p.alu(insts.OpSUB, rd, rn, rm) }

// And appends rd = rn & rm.
func (p *Program) And(rd, rn, rm uint8) { p.alu(insts.OpAND, rd, rn, rm) }

// Orr appends rd = rn | rm.
func (p *Program) Orr(rd, rn, rm uint8) { p.alu(insts.OpORR, rd, rn, rm) }

// Eor appends rd = rn ^ rm.
func (p *Program) Eor(rd, rn, rm uint8) { p.alu(insts.OpEOR, rd, rn, rm) }

// Lsl appends rd = rn << rm.
func (p *Program) Lsl(rd, rn, rm uint8) { p.alu(insts.OpLSL, rd, rn, rm) }

// Lsr appends rd = rn >> rm.
func (p *Program) Lsr(rd, rn, rm uint8) { p.alu(insts.OpLSR, rd, rn, rm) }

// Asr appends an arithmetic right shift by rm.
func (p *Program) Asr(rd, rn, rm uint8) { p.alu(insts.OpASR, rd, rn, rm) }

// Fadd appends rd = rn + rm on the FPU.
func (p *Program) Fadd(rd, rn, rm uint8) { p.alu(insts.OpFADD, rd, rn, rm) }

// Fsub appends rd = rn - rm on the FPU.
func (p *Program) Fsub(rd, rn, rm uint8) { p.alu(insts.OpFSUB, rd, rn, rm) }

// Fmul appends rd = rn * rm on the FPU.
func (p *Program) Fmul(rd, rn, rm uint8) { p.alu(insts.OpFMUL, rd, rn, rm) }

// Fmadd appends rd += rn * rm on the FPU.
func (p *Program) Fmadd(rd, rn, rm uint8) { p.alu(insts.OpFMADD, rd, rn, rm) }

// Fmsub appends rd -= rn * rm on the FPU.
func (p *Program) Fmsub(rd, rn, rm uint8) { p.alu(insts.OpFMSUB, rd, rn, rm) }

// Float appends a signed integer to float conversion.
func (p *Program) Float(rd, rn uint8) { p.alu(insts.OpFLOAT, rd, rn, rn) }

// Fix appends a float to signed integer conversion.
func (p *Program) Fix(rd, rn uint8) { p.alu(insts.OpFIX, rd, rn, rn) }

// Fabs appends rd = |rn|.
func (p *Program) Fabs(rd, rn uint8) { p.alu(insts.OpFABS, rd, rn, rn) }

func (p *Program) immediate(op insts.Op, rd, rn uint8, imm int32) {
	p.Emit(insts.Instruction{Op: op, Rd: rd, Rn: rn, Imm: imm})
}

// AddImm appends rd = rn + imm.
func (p *Program) AddImm(rd, rn uint8, imm int32) { p.immediate(insts.OpADDImm, rd, rn, imm) }

// SubImm appends rd = rn - imm.
func (p *Program) SubImm(rd, rn uint8, imm int32) { p.immediate(insts.OpSUBImm, rd, rn, imm) }

// LslImm appends rd = rn << imm.
func (p *Program) LslImm(rd, rn uint8, imm int32) { p.immediate(insts.OpLSLImm, rd, rn, imm) }

// LsrImm appends rd = rn >> imm.
func (p *Program) LsrImm(rd, rn uint8, imm int32) { p.immediate(insts.OpLSRImm, rd, rn, imm) }

// AsrImm appends an arithmetic right shift by imm.
func (p *Program) AsrImm(rd, rn uint8, imm int32) { p.immediate(insts.OpASRImm, rd, rn, imm) }

// Bitr appends a bit reversal of rn.
func (p *Program) Bitr(rd, rn uint8) { p.immediate(insts.OpBITR, rd, rn, 0) }

func (p *Program) transfer(op insts.Op, size insts.Size, rd, rn uint8, disp int32) {
	inst := insts.Instruction{Op: op, Size: size, Rd: rd, Rn: rn, Imm: disp}
	if disp < 0 {
		inst.Imm, inst.Subtract = -disp, true
	}
	p.Emit(inst)
}

// Ldr appends a load from rn + disp, where disp counts elements of size.
func (p *Program) Ldr(size insts.Size, rd, rn uint8, disp int32) {
	p.transfer(insts.OpLDRDisp, size, rd, rn, disp)
}

// Str appends a store to rn + disp, where disp counts elements of size.
func (p *Program) Str(size insts.Size, rd, rn uint8, disp int32) {
	p.transfer(insts.OpSTRDisp, size, rd, rn, disp)
}

// LdrPM appends a load from rn followed by rn += disp elements.
func (p *Program) LdrPM(size insts.Size, rd, rn uint8, disp int32) {
	p.transfer(insts.OpLDRDispPM, size, rd, rn, disp)
}

// StrPM appends a store to rn followed by rn += disp elements.
func (p *Program) StrPM(size insts.Size, rd, rn uint8, disp int32) {
	p.transfer(insts.OpSTRDispPM, size, rd, rn, disp)
}

func (p *Program) indexed(op insts.Op, size insts.Size, rd, rn, rm uint8) {
	p.Emit(insts.Instruction{Op: op, Size: size, Rd: rd, Rn: rn, Rm: rm})
}

// LdrIndex appends a load from rn + rm.
func (p *Program) LdrIndex(size insts.Size, rd, rn, rm uint8) {
	p.indexed(insts.OpLDRIndex, size, rd, rn, rm)
}

// StrIndex appends a store to rn + rm.
func (p *Program) StrIndex(size insts.Size, rd, rn, rm uint8) {
	p.indexed(insts.OpSTRIndex, size, rd, rn, rm)
}

// LdrPostMod appends a load from rn followed by rn += rm.
func (p *Program) LdrPostMod(size insts.Size, rd, rn, rm uint8) {
	p.indexed(insts.OpLDRPostMod, size, rd, rn, rm)
}

// StrPostMod appends a store to rn followed by rn += rm.
func (p *Program) StrPostMod(size insts.Size, rd, rn, rm uint8) {
	p.indexed(insts.OpSTRPostMod, size, rd, rn, rm)
}

// TestSet appends TESTSET rd, [rn, rm].
func (p *Program) TestSet(rd, rn, rm uint8) {
	p.indexed(insts.OpTESTSET, insts.SizeWord, rd, rn, rm)
}

// Jr appends a jump to rn.
func (p *Program) Jr(rn uint8) { p.Emit(insts.Instruction{Op: insts.OpJR, Rn: rn}) }

// Jalr appends a call through rn.
func (p *Program) Jalr(rn uint8) { p.Emit(insts.Instruction{Op: insts.OpJALR, Rn: rn}) }

// Movts appends a write of rd to system register index in group.
func (p *Program) Movts(group, index, rd uint8) {
	p.Emit(insts.Instruction{Op: insts.OpMOVTS, Group: group, Rn: index, Rd: rd})
}

// Movfs appends a read of system register index in group into rd.
func (p *Program) Movfs(rd, group, index uint8) {
	p.Emit(insts.Instruction{Op: insts.OpMOVFS, Group: group, Rn: index, Rd: rd})
}
