package insts

import (
	"sync"

	"github.com/sarchlab/esim/bits"
)

// ExtensionDecoder classifies words the built-in tables do not recognize.
// It returns false when the word is not one of its instructions.
type ExtensionDecoder func(word uint32, is16Bit bool) (Instruction, bool)

type extension struct {
	name   string
	decode ExtensionDecoder
}

// Decoder decodes Epiphany machine code into instructions.
//
// The built-in tables are fixed. Host applications can add decoders for
// custom opcodes; those are consulted in registration order only after the
// tables fail to match. The registry is safe for concurrent use.
type Decoder struct {
	mu         sync.RWMutex
	extensions []extension
}

// NewDecoder creates a new Epiphany instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// AddExtension registers a named extension decoder. It returns false if the
// name is already registered.
func (d *Decoder) AddExtension(name string, dec ExtensionDecoder) bool {
	if dec == nil {
		panic("insts: nil extension decoder")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, e := range d.extensions {
		if e.name == name {
			return false
		}
	}
	d.extensions = append(d.extensions, extension{name: name, decode: dec})
	return true
}

// RemoveExtension unregisters an extension decoder by name.
func (d *Decoder) RemoveExtension(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, e := range d.extensions {
		if e.name == name {
			d.extensions = append(d.extensions[:i:i], d.extensions[i+1:]...)
			return true
		}
	}
	return false
}

// ClearExtensions removes every registered extension decoder.
func (d *Decoder) ClearExtensions() {
	d.mu.Lock()
	d.extensions = nil
	d.mu.Unlock()
}

// Extensions returns the registered extension names in consultation order.
func (d *Decoder) Extensions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, len(d.extensions))
	for i, e := range d.extensions {
		names[i] = e.name
	}
	return names
}

func (d *Decoder) decodeExtension(word uint32, is16Bit bool) (Instruction, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, e := range d.extensions {
		inst, ok := e.decode(word, is16Bit)
		if !ok {
			continue
		}
		inst.Raw = word
		inst.Is16Bit = is16Bit
		if inst.Op == OpUnknown {
			inst.Op = OpExtension
		}
		if inst.ExtName == "" {
			inst.ExtName = e.name
		}
		return inst, true
	}
	return Instruction{}, false
}

// Decode16 decodes a 16-bit instruction word.
func (d *Decoder) Decode16(half uint16) (Instruction, bool) {
	word := uint32(half)
	inst := Instruction{Raw: word, Is16Bit: true}

	// The low nibble classifies the word; further bit tests pick the
	// variant. Every constant bit of the table entry is matched.
	switch word & 0xF {
	case 0x0:
		inst.Op = OpB
	case 0x1:
		inst.Op = pick(bits.Check(word, 4), OpSTRIndex, OpLDRIndex)
	case 0x2:
		inst.Op = decodeSpecial(word)
	case 0x3:
		inst.Op = decodeImmediateALU(word)
	case 0x4:
		inst.Op = pick(bits.Check(word, 4), OpSTRDisp, OpLDRDisp)
	case 0x5:
		inst.Op = pick(bits.Check(word, 4), OpSTRPostMod, OpLDRPostMod)
	case 0x6:
		inst.Op = pick(bits.Check(word, 4), OpLSLImm, OpLSRImm)
	case 0x7:
		inst.Op = floatOps[bits.Extract(word, 4, 3)]
	case 0xA:
		inst.Op = aluOps[bits.Extract(word, 4, 3)]
	case 0xE:
		inst.Op = pick(bits.Check(word, 4), OpBITR, OpASRImm)
	}

	if inst.Op == OpUnknown {
		return d.decodeExtension(word, true)
	}

	decodeFields(&inst)
	return inst, true
}

// Decode32 decodes a 32-bit instruction word.
func (d *Decoder) Decode32(word uint32) (Instruction, bool) {
	inst := Instruction{Raw: word}

	switch word & 0xF {
	case 0x8:
		inst.Op = OpB
	case 0x9:
		if !bits.Check(word, 22) {
			switch {
			case !bits.Check(word, 4):
				inst.Op = OpLDRIndex
			case bits.Check(word, 21):
				inst.Op = OpTESTSET
			default:
				inst.Op = OpSTRIndex
			}
		}
	case 0xB:
		switch {
		case !bits.Check(word, 4):
			inst.Op = pick(bits.Check(word, 28), OpMOVT, OpMOVImm)
		default:
			inst.Op = decodeImmediateALU(word)
		}
	case 0xC:
		if bits.Check(word, 25) {
			inst.Op = pick(bits.Check(word, 4), OpSTRDispPM, OpLDRDispPM)
		} else {
			inst.Op = pick(bits.Check(word, 4), OpSTRDisp, OpLDRDisp)
		}
	case 0xD:
		if !bits.Check(word, 21) && !bits.Check(word, 22) {
			inst.Op = pick(bits.Check(word, 4), OpSTRPostMod, OpLDRPostMod)
		}
	case 0xF:
		switch bits.Extract(word, 16, 4) {
		case 0x2:
			inst.Op = decodeMove(word)
		case 0x6:
			inst.Op = pick(bits.Check(word, 4), OpLSLImm, OpLSRImm)
		case 0x7:
			inst.Op = floatOps[bits.Extract(word, 4, 3)]
		case 0xA:
			inst.Op = aluOps[bits.Extract(word, 4, 3)]
		case 0xE:
			inst.Op = pick(bits.Check(word, 4), OpBITR, OpASRImm)
		case 0xF:
			inst.Op = OpUNIMPL
		}
	}

	if inst.Op == OpUnknown {
		return d.decodeExtension(word, false)
	}

	decodeFields(&inst)
	return inst, true
}

func pick(cond bool, yes, no Op) Op {
	if cond {
		return yes
	}
	return no
}

var floatOps = [8]Op{OpFADD, OpFSUB, OpFMUL, OpFMADD, OpFMSUB, OpFLOAT, OpFIX, OpFABS}

var aluOps = [8]Op{OpEOR, OpADD, OpLSL, OpSUB, OpLSR, OpAND, OpASR, OpORR}

// specialOps maps the 6-bit field [9:4] of 16-bit group 0010 words.
var specialOps = map[uint32]Op{
	0x18: OpWAND,
	0x19: OpGIE,
	0x1A: OpNOP,
	0x1B: OpIDLE,
	0x1C: OpBKPT,
	0x1D: OpRTI,
	0x1E: OpSWI,
	0x1F: OpSYNC,
	0x39: OpGID,
	0x3C: OpMBKPT,
	0x3E: OpTRAP,
}

// decodeSpecial handles 16-bit words whose low nibble is 0010.
func decodeSpecial(word uint32) Op {
	if op, ok := specialOps[bits.Extract(word, 4, 6)]; ok {
		return op
	}
	return decodeMove(word)
}

// decodeMove handles the MOV<cond>/MOVTS/MOVFS/JR/JALR block shared by the
// 16-bit special group and the 32-bit 0010 extended group.
// Format: ... | 0 | sel | op4 | 0010
func decodeMove(word uint32) Op {
	if bits.Check(word, 9) {
		return OpUnknown
	}
	if !bits.Check(word, 8) {
		return OpMOV
	}
	switch bits.Extract(word, 4, 4) {
	case 0x0:
		return OpMOVTS
	case 0x1:
		return OpMOVFS
	case 0x4:
		return OpJR
	case 0x5:
		return OpJALR
	}
	return OpUnknown
}

// decodeImmediateALU handles MOV/ADD/SUB immediate words (low nibble 0011
// or 1011). Bit 4 clear is a move, which the callers handle.
func decodeImmediateALU(word uint32) Op {
	if !bits.Check(word, 4) {
		return OpMOVImm
	}
	if bits.Check(word, 6) {
		return OpUnknown
	}
	return pick(bits.Check(word, 5), OpSUBImm, OpADDImm)
}

// decodeFields extracts operand fields. The 32-bit encodings extend the
// 16-bit fields with extra high bits, so the 16-bit layout is a subset.
func decodeFields(inst *Instruction) {
	w := inst.Raw
	wide := !inst.Is16Bit

	reg := func(lo, hi int) uint8 {
		r := bits.Extract(w, lo, 3)
		if wide {
			r |= bits.Extract(w, hi, 3) << 3
		}
		return uint8(r)
	}

	inst.Rd = reg(13, 29)
	inst.Rn = reg(10, 26)
	inst.Rm = reg(7, 23)

	switch inst.Op {
	case OpB:
		// Format: simm8/simm24 | cond | 000 wide
		inst.Cond = Cond(bits.Extract(w, 4, 4))
		if wide {
			inst.Imm = bits.SignExtend(bits.Extract(w, 8, 24), 24) << 1
		} else {
			inst.Imm = bits.SignExtend(bits.Extract(w, 8, 8), 8) << 1
		}
		inst.Rd, inst.Rn, inst.Rm = 0, 0, 0

	case OpLDRIndex, OpSTRIndex, OpLDRPostMod, OpSTRPostMod, OpTESTSET:
		// Format: rd | rn | rm | size | s | opcode, subtract at bit 20
		inst.Size = Size(bits.Extract(w, 5, 2))
		inst.Subtract = wide && bits.Check(w, 20)

	case OpLDRDisp, OpSTRDisp, OpLDRDispPM, OpSTRDispPM:
		// Format: rd | rn | imm3 | size | s | opcode, imm8 at [23:16],
		// subtract at bit 24
		inst.Size = Size(bits.Extract(w, 5, 2))
		imm := bits.Extract(w, 7, 3)
		if wide {
			imm |= bits.Extract(w, 16, 8) << 3
			inst.Subtract = bits.Check(w, 24)
		}
		inst.Imm = int32(imm)
		inst.Rm = 0

	case OpMOV:
		inst.Cond = Cond(bits.Extract(w, 4, 4))
		inst.Rm = 0

	case OpMOVTS, OpMOVFS:
		if wide {
			inst.Group = uint8(bits.Extract(w, 20, 2))
		}
		inst.Rm = 0

	case OpJR, OpJALR:
		inst.Rd, inst.Rm = 0, 0

	case OpMOVImm, OpMOVT:
		// Format: rd | imm8 | 0 | opcode, imm8 high at [27:20]
		imm := bits.Extract(w, 5, 8)
		if wide {
			imm |= bits.Extract(w, 20, 8) << 8
		}
		inst.Imm = int32(imm)
		inst.Rn, inst.Rm = 0, 0

	case OpADDImm, OpSUBImm:
		// Format: rd | rn | simm3 | 0 | sub | 1 | opcode, imm8 at [23:16]
		if wide {
			imm := bits.Extract(w, 7, 3) | bits.Extract(w, 16, 8)<<3
			inst.Imm = bits.SignExtend(imm, 11)
		} else {
			inst.Imm = bits.SignExtend(bits.Extract(w, 7, 3), 3)
		}
		inst.Rm = 0

	case OpLSLImm, OpLSRImm, OpASRImm, OpBITR:
		// Format: rd | rn | imm5 | polarity | opcode
		inst.Imm = int32(bits.Extract(w, 5, 5))
		inst.Rm = 0

	case OpTRAP:
		inst.Imm = int32(bits.Extract(w, 10, 6))
		inst.Rd, inst.Rn, inst.Rm = 0, 0, 0

	case OpNOP, OpIDLE, OpBKPT, OpMBKPT, OpRTI, OpSWI, OpSYNC, OpWAND,
		OpGIE, OpGID, OpUNIMPL:
		inst.Rd, inst.Rn, inst.Rm = 0, 0, 0
	}
}
